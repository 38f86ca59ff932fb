package main

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

type KafkaPublisher struct {
	w *kafkago.Writer
}

func NewKafkaPublisher(broker, topic string) *KafkaPublisher {
	return &KafkaPublisher{w: &kafkago.Writer{
		Addr:         kafkago.TCP(broker),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		BatchSize:    100,
		RequiredAcks: kafkago.RequireOne,
	}}
}

// Publish keys lending events by user so one user's events stay ordered on a partition.
func (p *KafkaPublisher) Publish(ctx context.Context, routingKey string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	msg := kafkago.Message{
		Value:   body,
		Headers: []kafkago.Header{{Key: "type", Value: []byte(routingKey)}},
	}
	if ev, ok := v.(LendingEvent); ok {
		msg.Key = []byte(ev.Lending.UserID)
	}
	return p.w.WriteMessages(ctx, msg)
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }
