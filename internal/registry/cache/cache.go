// Package cache holds the derived identity-status lookaside used by the
// certificate read path. Entries are written on read-through and invalidated
// by the registry service after lifecycle writes, so a cold or broken cache
// only ever costs a store round-trip, never a stale married flag beyond the
// configured TTL.
package cache

import (
	"context"
	"sync"
	"time"

	"conubium/internal/registry/models"
	"conubium/pkg/domain"
)

// statusKeyPrefix namespaces status entries in shared Redis deployments.
const statusKeyPrefix = "conubium:status:"

func statusKey(party domain.Identity) string {
	return statusKeyPrefix + party.String()
}

type memoryEntry struct {
	status    models.IdentityStatus
	expiresAt time.Time
}

// Memory is the in-process status cache for dev wiring and tests. Expiry is
// lazy: entries are dropped when a Get observes them stale.
type Memory struct {
	mu      sync.RWMutex
	entries map[domain.Identity]memoryEntry
	ttl     time.Duration
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{entries: make(map[domain.Identity]memoryEntry), ttl: ttl}
}

// Get returns the cached status, or nil on a miss.
func (m *Memory) Get(_ context.Context, party domain.Identity) (*models.IdentityStatus, error) {
	m.mu.RLock()
	entry, ok := m.entries[party]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if !entry.expiresAt.IsZero() && !time.Now().Before(entry.expiresAt) {
		m.mu.Lock()
		delete(m.entries, party)
		m.mu.Unlock()
		return nil, nil
	}
	status := entry.status
	return &status, nil
}

func (m *Memory) Set(_ context.Context, party domain.Identity, status models.IdentityStatus) error {
	entry := memoryEntry{status: status}
	if m.ttl > 0 {
		entry.expiresAt = time.Now().Add(m.ttl)
	}
	m.mu.Lock()
	m.entries[party] = entry
	m.mu.Unlock()
	return nil
}

func (m *Memory) Invalidate(_ context.Context, identities ...domain.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, party := range identities {
		delete(m.entries, party)
	}
	return nil
}
