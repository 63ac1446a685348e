// Package producer wraps the franz-go client for publishing registry events.
package producer

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"conubium/internal/platform/config"
)

// Message is a single record bound for a topic.
type Message struct {
	Topic string
	Key   []byte
	Value []byte
}

// Producer publishes messages synchronously. Delivery guarantees live with the
// caller: the ledger relay retries unpublished events on its next pass.
type Producer struct {
	client *kgo.Client
}

// New creates a producer from the provided configuration.
// Returns nil if no brokers are configured.
func New(cfg config.KafkaConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	if err := client.Ping(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("kafka ping failed: %w", err)
	}

	return &Producer{client: client}, nil
}

// EnsureTopic creates the topic if it does not exist. Safe to call on every
// startup.
func (p *Producer) EnsureTopic(ctx context.Context, topic string) error {
	admin := kadm.NewClient(p.client)
	resp, err := admin.CreateTopic(ctx, 1, 1, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", topic, resp.Err)
	}
	return nil
}

// Produce synchronously publishes the messages, blocking until the broker
// acknowledges every record or any one fails.
func (p *Producer) Produce(ctx context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	records := make([]*kgo.Record, len(msgs))
	for i, m := range msgs {
		records[i] = &kgo.Record{
			Topic: m.Topic,
			Key:   m.Key,
			Value: m.Value,
		}
	}
	if err := p.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce records: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying client.
func (p *Producer) Close() {
	p.client.Close()
}
