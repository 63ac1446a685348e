package ledger

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"conubium/pkg/platform/sentinel"
)

// Store persists ledger events. Append must honor a transaction carried in
// the context so event writes commit atomically with the state change that
// caused them.
type Store interface {
	Append(ctx context.Context, e *Event) error
	FindByID(ctx context.Context, eventID uuid.UUID) (*Event, error)
	// ListRecent returns up to limit events, newest first.
	ListRecent(ctx context.Context, limit int) ([]Event, error)
	// ListAll returns every event in append order. Checkpoint input.
	ListAll(ctx context.Context) ([]Event, error)
	// ListUnpublished returns up to limit unrelayed events in append order.
	ListUnpublished(ctx context.Context, limit int) ([]Event, error)
	MarkPublished(ctx context.Context, at time.Time, eventIDs ...uuid.UUID) error
}

// clone detaches the attribute map and timestamp pointer so callers and the
// store never share mutable state.
func (e Event) clone() Event {
	out := e
	out.Attributes = maps.Clone(e.Attributes)
	if e.PublishedAt != nil {
		at := *e.PublishedAt
		out.PublishedAt = &at
	}
	return out
}

// Memory is the in-process event log used by tests and dev deployments.
type Memory struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(_ context.Context, e *Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e.Seq = int64(len(m.events) + 1)
	m.events = append(m.events, e.clone())
	return nil
}

func (m *Memory) FindByID(_ context.Context, eventID uuid.UUID) (*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.events {
		if m.events[i].ID == eventID {
			e := m.events[i].clone()
			return &e, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (m *Memory) ListRecent(_ context.Context, limit int) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.events) {
		limit = len(m.events)
	}
	out := make([]Event, 0, limit)
	for i := len(m.events) - 1; i >= len(m.events)-limit; i-- {
		out = append(out, m.events[i].clone())
	}
	return out, nil
}

func (m *Memory) ListAll(_ context.Context) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Event, 0, len(m.events))
	for i := range m.events {
		out = append(out, m.events[i].clone())
	}
	return out, nil
}

func (m *Memory) ListUnpublished(_ context.Context, limit int) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Event
	for i := range m.events {
		if m.events[i].PublishedAt != nil {
			continue
		}
		out = append(out, m.events[i].clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) MarkPublished(_ context.Context, at time.Time, eventIDs ...uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, eventID := range eventIDs {
		for i := range m.events {
			if m.events[i].ID == eventID {
				if m.events[i].PublishedAt == nil {
					published := at
					m.events[i].PublishedAt = &published
				}
				break
			}
		}
	}
	return nil
}
