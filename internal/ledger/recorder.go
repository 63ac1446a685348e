package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Recorder writes civil-status events to the ledger with fail-closed
// semantics. The caller blocks until the append succeeds; if it fails, an
// error is returned and the calling operation MUST fail.
//
// Record participates in any store transaction carried by the context, so a
// registry mutation and its events commit or roll back together.
type Recorder struct {
	store   Store
	logger  *slog.Logger
	metrics *Metrics
}

// RecorderOption configures the Recorder.
type RecorderOption func(*Recorder)

// WithRecorderLogger sets a logger for error reporting.
func WithRecorderLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// WithRecorderMetrics sets the metrics collector.
func WithRecorderMetrics(m *Metrics) RecorderOption {
	return func(r *Recorder) {
		r.metrics = m
	}
}

// NewRecorder creates a fail-closed event recorder.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store: store,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record synchronously appends an event to the ledger store. Missing ID and
// OccurredAt fields are filled in. Returns an error if persistence fails;
// the caller MUST fail its operation.
func (r *Recorder) Record(ctx context.Context, e *Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	if err := r.store.Append(ctx, e); err != nil {
		if r.metrics != nil {
			r.metrics.IncAppendFailures()
		}
		if r.logger != nil {
			r.logger.ErrorContext(ctx, "ledger append failed",
				"kind", e.Kind,
				"error", err,
			)
		}
		return fmt.Errorf("ledger append failed: %w", err)
	}

	if r.metrics != nil {
		r.metrics.IncAppended()
	}
	return nil
}
