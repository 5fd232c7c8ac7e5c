// Package cache holds Redis-backed adapters.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smallbiznis/returnwatch/internal/repository"
)

const (
	dedupePrefix = "receipt:hash:"
	dedupeTTL    = 24 * time.Hour
)

// RedisDedupeGuard implements repository.DedupeGuard with SETNX keys. It is a
// fast path for retried ingestion events; the receipts table's unique hash
// constraint remains the authoritative dedupe mechanism.
type RedisDedupeGuard struct {
	client redis.UniversalClient
}

var _ repository.DedupeGuard = (*RedisDedupeGuard)(nil)

// NewRedisDedupeGuard constructs a Redis-backed guard.
func NewRedisDedupeGuard(client redis.UniversalClient) *RedisDedupeGuard {
	return &RedisDedupeGuard{client: client}
}

// FirstSeen claims the hash key, reporting true when this caller set it first.
func (g *RedisDedupeGuard) FirstSeen(ctx context.Context, hash string) (bool, error) {
	ok, err := g.client.SetNX(ctx, dedupePrefix+hash, 1, dedupeTTL).Result()
	if err != nil {
		return false, fmt.Errorf("claim dedupe key: %w", err)
	}
	return ok, nil
}

// Forget releases the hash key, letting a failed ingestion retry cleanly.
func (g *RedisDedupeGuard) Forget(ctx context.Context, hash string) error {
	if err := g.client.Del(ctx, dedupePrefix+hash).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release dedupe key: %w", err)
	}
	return nil
}
