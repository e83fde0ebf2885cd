// Package idempotency deduplicates event ids consumed from JetStream.
//
// Primary backend: Redis SETNX with TTL.
// Fallback: the comment database (tcc_processed_event).
// If neither is available, an in-memory store is used (development only).
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a processed id is remembered.
const DefaultTTL = 24 * time.Hour

// Store checks whether an event has already been processed and marks it.
type Store interface {
	// Check returns true if eventID was already processed.
	// If not seen, it atomically marks it as processed.
	Check(ctx context.Context, eventID string) (duplicate bool, err error)
	// Release forgets eventID so a redelivery is processed again.
	Release(ctx context.Context, eventID string) error
}

type Options struct {
	// Redis wins when set.
	Redis *redis.Client
	Pool  *pgxpool.Pool
	TTL   time.Duration
	// Production forbids the in-memory fallback.
	Production bool
}

// NewStore creates the best available idempotency store:
// Redis > Postgres > in-memory (dev fallback).
func NewStore(opts Options) (Store, error) {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if opts.Redis != nil {
		return newRedisStore(opts.Redis, ttl), nil
	}
	if opts.Pool != nil {
		return newPostgresStore(opts.Pool, ttl), nil
	}
	if opts.Production {
		return nil, errors.New("production requires REDIS_DSN or DATABASE_URL for idempotency; in-memory store is not allowed")
	}
	return newMemoryStore(ttl), nil
}

// NewRedisClient parses a redis:// URL, falling back to a bare host:port.
func NewRedisClient(dsn string) *redis.Client {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		opts = &redis.Options{Addr: dsn}
	}
	return redis.NewClient(opts)
}
