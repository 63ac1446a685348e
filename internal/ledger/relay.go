package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"conubium/internal/platform/kafka/producer"
)

// Publisher pushes ledger records to the broker.
type Publisher interface {
	Produce(ctx context.Context, msgs ...producer.Message) error
}

const (
	defaultRelayInterval = 5 * time.Second
	defaultRelayBatch    = 100
)

// Relay drains unpublished ledger events to the broker. It is fail-open: the
// append already succeeded inside the registry transaction, so broker failures
// are logged and the batch is retried on the next pass, never surfaced to the
// operation that produced the event.
type Relay struct {
	store     Store
	publisher Publisher
	topic     string
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
	metrics   *Metrics
}

// RelayOption configures the Relay.
type RelayOption func(*Relay)

// WithRelayInterval sets the pass interval.
func WithRelayInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		r.interval = d
	}
}

// WithRelayBatchSize caps how many events one pass drains.
func WithRelayBatchSize(n int) RelayOption {
	return func(r *Relay) {
		r.batchSize = n
	}
}

// WithRelayLogger sets a logger for pass reporting.
func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) {
		r.logger = logger
	}
}

// WithRelayMetrics sets the metrics collector.
func WithRelayMetrics(m *Metrics) RelayOption {
	return func(r *Relay) {
		r.metrics = m
	}
}

// NewRelay creates a relay publishing to the given topic.
func NewRelay(store Store, publisher Publisher, topic string, opts ...RelayOption) *Relay {
	r := &Relay{
		store:     store,
		publisher: publisher,
		topic:     topic,
		interval:  defaultRelayInterval,
		batchSize: defaultRelayBatch,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run drains the ledger until the context is cancelled. The first pass runs
// immediately, then one per interval.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if n, err := r.RelayOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if r.metrics != nil {
				r.metrics.IncRelayFailures()
			}
			if r.logger != nil {
				r.logger.WarnContext(ctx, "ledger relay pass failed", "error", err)
			}
		} else if n > 0 && r.logger != nil {
			r.logger.InfoContext(ctx, "ledger events relayed", "count", n)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RelayOnce publishes one batch of unpublished events and marks them
// published. Marking happens after the broker acknowledges, so a crash in
// between re-publishes the batch: consumers must tolerate duplicates.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	events, err := r.store.ListUnpublished(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list unpublished events: %w", err)
	}
	if r.metrics != nil {
		r.metrics.SetRelayBacklog(len(events))
	}
	if len(events) == 0 {
		return 0, nil
	}

	msgs := make([]producer.Message, len(events))
	ids := make([]uuid.UUID, len(events))
	for i, e := range events {
		value, err := json.Marshal(e.ToRecord())
		if err != nil {
			return 0, fmt.Errorf("marshal event %s: %w", e.ID, err)
		}
		msgs[i] = producer.Message{
			Topic: r.topic,
			Key:   []byte(e.ID.String()),
			Value: value,
		}
		ids[i] = e.ID
	}

	if err := r.publisher.Produce(ctx, msgs...); err != nil {
		return 0, fmt.Errorf("publish events: %w", err)
	}
	if err := r.store.MarkPublished(ctx, time.Now().UTC(), ids...); err != nil {
		return 0, fmt.Errorf("mark events published: %w", err)
	}
	if r.metrics != nil {
		r.metrics.AddRelayed(len(events))
	}
	return len(events), nil
}
