package main

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

type Rabbit struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func NewRabbit(url, exchange string) (*Rabbit, error) {
	var conn *amqp.Connection
	// el broker puede tardar en levantar (docker compose)
	err := retry(5, 2*time.Second, func() error {
		var err error
		conn, err = amqp.Dial(url)
		return err
	})
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Rabbit{conn: conn, ch: ch, exchange: exchange}, nil
}

func (r *Rabbit) Close() error {
	if r.ch != nil {
		_ = r.ch.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

func (r *Rabbit) Publish(ctx context.Context, routingKey string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.ch.PublishWithContext(ctx, r.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

type ConsumerHandler func(rk string, body []byte) error

// ConsumeTopic binds queueName to the exchange and feeds deliveries to handler until ctx ends.
func (r *Rabbit) ConsumeTopic(ctx context.Context, queueName string, bindings []string, handler ConsumerHandler) error {
	q, err := r.ch.QueueDeclare(queueName, queueName != "", queueName == "", queueName == "", false, nil)
	if err != nil {
		return err
	}
	for _, rk := range bindings {
		if err := r.ch.QueueBind(q.Name, rk, r.exchange, false, nil); err != nil {
			return err
		}
	}
	msgs, err := r.ch.ConsumeWithContext(ctx, q.Name, "", true, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for d := range msgs {
			if err := handler(d.RoutingKey, d.Body); err != nil {
				log.Error().Err(err).Str("rk", d.RoutingKey).Msg("rabbit: handler error")
			}
		}
		log.Info().Str("queue", q.Name).Msg("rabbit: consumer stopped")
	}()
	return nil
}

func retry(n int, sleep time.Duration, fn func() error) error {
	var err error
	for i := 0; i < n; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < n-1 {
			time.Sleep(sleep)
		}
	}
	return err
}
