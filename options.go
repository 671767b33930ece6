package jobq

import (
	"context"
	"log/slog"
)

// Option configures a Core.
type Option func(*Core) error

// Backender is the minimal backend interface held by the Core.
// It covers lifecycle operations only. The full composite interface
// (store.Backend) is used in subsystem layers that don't create import
// cycles. Implementations satisfy store.Backend which embeds the job
// store and backlog interfaces.
type Backender interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// runner is an internal interface for background component lifecycle
// (worker pool, lease monitor, retention sweeper).
type runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// hookEmitter is an internal interface for hook lifecycle events.
type hookEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Core is the central coordinator holding the backend, configuration,
// and background components.
//
// Create one with New() and functional options. The Core holds its
// components via internal interfaces to avoid import cycles; use
// engine.Build to wire everything together.
type Core struct {
	config  Config
	logger  *slog.Logger
	backend Backender
	hooks   hookEmitter
	runners []runner

	started bool
}

// New creates a new Core with the given options.
func New(opts ...Option) (*Core, error) {
	c := &Core{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Logger returns the core's logger.
func (c *Core) Logger() *slog.Logger { return c.logger }

// Backend returns the core's backend.
func (c *Core) Backend() Backender { return c.backend }

// Config returns a copy of the core's configuration.
func (c *Core) Config() Config { return c.config }

// AddRunner registers a background component (called by the engine package).
func (c *Core) AddRunner(r runner) { c.runners = append(c.runners, r) }

// SetHooks sets the hook emitter (called by the engine package).
func (c *Core) SetHooks(h hookEmitter) { c.hooks = h }

// Start begins job processing by starting all background components.
// A core that never went through engine.Build has none and returns
// ErrNotBuilt; a core with no backend returns ErrNoBackend.
func (c *Core) Start(ctx context.Context) error {
	if c.backend == nil {
		return ErrNoBackend
	}
	if len(c.runners) == 0 {
		return ErrNotBuilt
	}
	for _, r := range c.runners {
		if err := r.Start(ctx); err != nil {
			return err
		}
	}
	c.started = true
	return nil
}

// Stop gracefully shuts down the core. Components stop in reverse
// start order so the pool drains before the monitor goes away.
func (c *Core) Stop(ctx context.Context) error {
	if c.started {
		for i := len(c.runners) - 1; i >= 0; i-- {
			if err := c.runners[i].Stop(ctx); err != nil {
				c.logger.Error("component stop error", "error", err)
			}
		}
	}
	if c.hooks != nil {
		c.hooks.EmitShutdown(ctx)
	}
	if c.backend != nil {
		return c.backend.Close()
	}
	return nil
}

// WithConcurrency sets the number of concurrent worker goroutines.
func WithConcurrency(n int) Option {
	return func(c *Core) error {
		c.config.Concurrency = n
		return nil
	}
}

// WithConfig replaces the entire configuration.
func WithConfig(cfg Config) Option {
	return func(c *Core) error {
		c.config = cfg
		return nil
	}
}

// WithLogger sets the structured logger for the core.
func WithLogger(l *slog.Logger) Option {
	return func(c *Core) error {
		c.logger = l
		return nil
	}
}

// WithBackend sets the persistence backend for the core.
// The backend must implement Backender at minimum; typically it will
// be a store.Backend which embeds the job store and backlog interfaces.
func WithBackend(b Backender) Option {
	return func(c *Core) error {
		c.backend = b
		return nil
	}
}
