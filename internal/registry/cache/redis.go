package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"conubium/internal/registry/models"
	"conubium/pkg/domain"
)

// Redis is the shared status cache for multi-instance deployments. Values are
// JSON so operators can inspect entries with redis-cli.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis wraps an existing client; its lifecycle is managed externally.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// Get returns the cached status, or nil on a miss.
func (r *Redis) Get(ctx context.Context, party domain.Identity) (*models.IdentityStatus, error) {
	payload, err := r.client.Get(ctx, statusKey(party)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("status cache get: %w", err)
	}
	var status models.IdentityStatus
	if err := json.Unmarshal(payload, &status); err != nil {
		// A malformed entry is treated as a miss; the next Set repairs it.
		return nil, nil
	}
	return &status, nil
}

func (r *Redis) Set(ctx context.Context, party domain.Identity, status models.IdentityStatus) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("status cache encode: %w", err)
	}
	if err := r.client.Set(ctx, statusKey(party), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("status cache set: %w", err)
	}
	return nil
}

// Invalidate drops entries for the given identities in one round trip.
func (r *Redis) Invalidate(ctx context.Context, identities ...domain.Identity) error {
	if len(identities) == 0 {
		return nil
	}
	keys := make([]string, 0, len(identities))
	for _, party := range identities {
		keys = append(keys, statusKey(party))
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("status cache invalidate: %w", err)
	}
	return nil
}
