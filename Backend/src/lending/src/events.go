package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Routing keys
const (
	RKLendingCreated   = "lending.created"
	RKLendingAmended   = "lending.amended"
	RKLendingCancelled = "lending.cancelled"
)

type LendingEvent struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Actor     string      `json:"actor"`
	Lending   Lending     `json:"lending"`
	Previous  *LendingKey `json:"previous,omitempty"`
	Restocked *bool       `json:"restocked,omitempty"`
}

// Publisher delivers events after the transaction that produced them has committed.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, v any) error
	Close() error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, any) error { return nil }
func (noopPublisher) Close() error                               { return nil }

func NewPublisher(cfg Config, log zerolog.Logger) (Publisher, error) {
	switch cfg.EventsBackend {
	case "", "none":
		return noopPublisher{}, nil
	case "rabbit", "rabbitmq":
		r, err := NewRabbit(cfg.RabbitURL, cfg.EventsExchange)
		if err != nil {
			return nil, fmt.Errorf("rabbit: %w", err)
		}
		log.Info().Str("exchange", cfg.EventsExchange).Msg("publishing lending events to rabbit")
		return r, nil
	case "kafka":
		log.Info().Str("broker", cfg.KafkaBroker).Str("topic", cfg.KafkaTopic).Msg("publishing lending events to kafka")
		return NewKafkaPublisher(cfg.KafkaBroker, cfg.KafkaTopic), nil
	}
	return nil, fmt.Errorf("unknown events backend %q", cfg.EventsBackend)
}
