package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// ProducerConfig holds the configuration for the Kafka audit producer
type ProducerConfig struct {
	// Broker addresses
	Brokers []string

	// Topic the audit trail is written to
	Topic string

	// Producer configuration
	MaxRetries   int           // Number of retries for producer
	RetryBackoff time.Duration // Backoff time between retries
	ClientID     string        // Client ID for the producer
}

// NewDefaultProducerConfig returns a default configuration
func NewDefaultProducerConfig(brokers []string, topic string) ProducerConfig {
	return ProducerConfig{
		Brokers:      brokers,
		Topic:        topic,
		MaxRetries:   3,
		RetryBackoff: time.Second * 2,
		ClientID:     "passkeygate-audit",
	}
}

// Producer publishes audit events to Kafka.
type Producer struct {
	writer *kafka.Writer
	config ProducerConfig
}

// NewProducer creates a new Kafka audit producer with the given configuration
func NewProducer(config ProducerConfig) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll, // Wait for all replicas to acknowledge
		MaxAttempts:  config.MaxRetries,
		Transport: &kafka.Transport{
			ClientID: config.ClientID,
		},
	}

	return &Producer{
		writer: writer,
		config: config,
	}
}

// Emit publishes an audit event with retries and backoff. The event is
// keyed by user id so one user's trail stays in partition order.
func (p *Producer) Emit(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.UserID),
		Value: value,
		Time:  event.At,
	}

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		err = p.writer.WriteMessages(ctx, msg)
		if err == nil {
			return nil
		}

		// If this was the last attempt, return the error
		if attempt == p.config.MaxRetries {
			return fmt.Errorf("failed to write audit event after %d attempts: %w", p.config.MaxRetries, err)
		}

		// Wait before retrying with exponential backoff
		backoff := p.config.RetryBackoff * time.Duration(1<<attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			// Continue to next attempt
		}
	}

	return err
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}
