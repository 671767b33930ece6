// Package redis implements store.Backend using Redis for
// high-throughput ephemeral workloads. Jobs are stored as Hashes, the
// backlog is a List consumed with BRPOP, delayed retries live in a
// Sorted Set promoted on pop, and every state transition runs as a Lua
// script so the queued→running claim and the lease-token comparison are
// atomic on the server.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	b := redisstore.New(client)
//	if err := b.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/toolplane/jobq/job"
)

// Compile-time interface checks.
var (
	_ job.Store   = (*Backend)(nil)
	_ job.Backlog = (*Backend)(nil)
)

// Option configures the Backend.
type Option func(*Backend)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// Backend implements the composite store.Backend interface on Redis.
type Backend struct {
	client redis.UniversalClient
	logger *slog.Logger
	closed atomic.Bool
}

// New creates a Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client redis.UniversalClient, opts ...Option) *Backend {
	b := &Backend{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Client returns the underlying Redis client.
func (b *Backend) Client() redis.UniversalClient { return b.client }

// Migrate is a no-op for Redis (schemaless).
func (b *Backend) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (b *Backend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close marks the backlog closed so blocked consumers drain out. The
// caller owns the Redis client lifecycle.
func (b *Backend) Close() error {
	b.closed.Store(true)
	return nil
}
