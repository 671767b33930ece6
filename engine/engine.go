package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/toolplane/jobq"
	"github.com/toolplane/jobq/backoff"
	"github.com/toolplane/jobq/cron"
	"github.com/toolplane/jobq/dlq"
	"github.com/toolplane/jobq/hook"
	"github.com/toolplane/jobq/id"
	"github.com/toolplane/jobq/job"
	mw "github.com/toolplane/jobq/middleware"
	"github.com/toolplane/jobq/monitor"
	"github.com/toolplane/jobq/observability"
	"github.com/toolplane/jobq/queue"
	"github.com/toolplane/jobq/store"
	"github.com/toolplane/jobq/task"
	"github.com/toolplane/jobq/worker"
)

// Engine wraps a Core with typed subsystem access. Use Build to create
// one.
type Engine struct {
	core     *jobq.Core
	backend  store.Backend
	registry *task.Registry
	hooks    *hook.Registry
	hub      *worker.Hub
	queue    *queue.Queue
	pool     *worker.Pool
	monitor  *monitor.Monitor
	sweeper  *monitor.Sweeper
	dlq      *dlq.Service
	cron     *cron.Scheduler

	bo        backoff.Strategy
	mws       []mw.Middleware
	limits    []queue.Limit
	schedules []schedule

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithHook registers a lifecycle hook with the engine.
func WithHook(h hook.Hook) Option {
	return func(eng *Engine) {
		eng.hooks.Register(h)
	}
}

// WithMiddleware appends middleware after the default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff strategy. If not set, an
// exponential strategy derived from the core's BackoffBase/BackoffMax
// is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithLimits registers per-task-type admission limits. Types not listed
// are unlimited.
func WithLimits(limits ...queue.Limit) Option {
	return func(eng *Engine) {
		eng.limits = append(eng.limits, limits...)
	}
}

// schedule is a cron entry captured at option time and registered with
// the scheduler during Build.
type schedule struct {
	name     string
	taskType string
	expr     string
	payload  []byte
}

// WithSchedule registers a recurring enqueue of the given task type.
// The expression uses standard 5-field cron syntax or descriptors like
// "@every 30s"; invalid expressions fail Build.
func WithSchedule(name, taskType, expr string, payload []byte) Option {
	return func(eng *Engine) {
		eng.schedules = append(eng.schedules, schedule{
			name:     name,
			taskType: taskType,
			expr:     expr,
			payload:  payload,
		})
	}
}

// WithTracerProvider sets a custom OTel TracerProvider. When set, the
// tracing middleware uses this provider instead of the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider. When set, both
// the metrics middleware and the observability hook use this provider
// instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from a Core. The Core's backend must
// implement store.Backend.
func Build(core *jobq.Core, opts ...Option) (*Engine, error) {
	logger := core.Logger()

	if core.Backend() == nil {
		return nil, jobq.ErrNoBackend
	}
	backend, ok := core.Backend().(store.Backend)
	if !ok {
		return nil, fmt.Errorf("jobq: backend does not implement store.Backend")
	}

	eng := &Engine{
		core:     core,
		backend:  backend,
		registry: task.NewRegistry(),
		hooks:    hook.NewRegistry(logger),
		hub:      worker.NewHub(),
	}

	for _, opt := range opts {
		opt(eng)
	}

	cfg := core.Config()
	if eng.bo == nil {
		eng.bo = backoff.NewExponentialWithJitter(cfg.BackoffBase, cfg.BackoffMax)
	}

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/toolplane/jobq"))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/toolplane/jobq"))
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics hook.
	var obsHook *observability.MetricsHook
	if eng.meterProvider != nil {
		obsHook = observability.NewMetricsHookWithMeter(
			eng.meterProvider.Meter("github.com/toolplane/jobq/observability"))
	} else {
		obsHook = observability.NewMetricsHook()
	}
	eng.hooks.Register(obsHook)

	// Default middleware stack: recover → tracing → metrics → logging → timeout.
	allMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(logger),
	}
	allMws = append(allMws, eng.mws...)
	chain := mw.Chain(allMws...)

	executor := worker.NewExecutor(
		eng.registry, backend, backend, eng.hooks, eng.bo, eng.hub, chain, logger)
	eng.pool = worker.NewPool(backend, backend, executor, eng.hooks, eng.hub, cfg, logger)
	eng.monitor = monitor.New(backend, backend, eng.hooks, cfg.MonitorInterval, logger)
	eng.sweeper = monitor.NewSweeper(backend, cfg.TerminalTTL, cfg.SweepInterval, logger)
	eng.queue = queue.New(
		eng.registry, backend, backend, eng.hooks, queue.NewLimiter(eng.limits...), eng.hub, logger)
	eng.dlq = dlq.NewService(backend, eng.queue, logger)

	eng.cron = cron.NewScheduler(
		func(ctx context.Context, taskType string, payload []byte) (id.JobID, error) {
			return eng.queue.Enqueue(ctx, taskType, payload)
		}, logger)
	for _, s := range eng.schedules {
		if err := eng.cron.Add(s.name, s.taskType, s.expr, s.payload); err != nil {
			return nil, err
		}
	}

	// Stop order is the reverse of registration: the cron scheduler and
	// pool drain before the monitor and sweeper go away.
	core.AddRunner(eng.monitor)
	core.AddRunner(eng.sweeper)
	core.AddRunner(eng.pool)
	core.AddRunner(eng.cron)
	core.SetHooks(eng.hooks)

	return eng, nil
}

// Register registers a typed task definition with the engine. Must be
// called before Start; registration after the registry seals panics.
func Register[T, R any](eng *Engine, def *task.Definition[T, R]) {
	task.RegisterDefinition(eng.registry, def)
}

// Enqueue marshals a typed payload and admits a job for the given task
// type.
func Enqueue[T any](ctx context.Context, eng *Engine, taskType string, payload T, opts ...queue.EnqueueOption) (id.JobID, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return id.Nil, fmt.Errorf("marshal payload for task %q: %w", taskType, err)
	}
	return eng.queue.Enqueue(ctx, taskType, data, opts...)
}

// Result fetches a succeeded job's result and unmarshals it into R.
// Non-terminal jobs return a zero R with Done=false; failed or
// cancelled jobs return the recorded job error.
func Result[R any](ctx context.Context, eng *Engine, jobID id.JobID) (result R, done bool, err error) {
	view, err := eng.queue.Status(ctx, jobID)
	if err != nil {
		return result, false, err
	}

	switch view.Status {
	case job.StatusSucceeded:
		if len(view.Result) > 0 {
			if uerr := json.Unmarshal(view.Result, &result); uerr != nil {
				return result, true, fmt.Errorf("unmarshal result for job %s: %w", jobID, uerr)
			}
		}
		return result, true, nil
	case job.StatusFailed, job.StatusCancelled:
		// Jobs cancelled before ever running carry no error record.
		if view.Error != nil {
			return result, true, view.Error
		}
		return result, true, fmt.Errorf("job %s is %s", jobID, view.Status)
	default:
		return result, false, nil
	}
}

// Start seals the task registry, runs backend migrations, and starts
// all background components. No traffic is accepted before Start.
func (eng *Engine) Start(ctx context.Context) error {
	eng.registry.Seal()

	if err := eng.backend.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate backend: %w", err)
	}
	return eng.core.Start(ctx)
}

// Stop gracefully shuts down the engine: the pool drains in-flight
// jobs, then the monitor and sweeper stop, then the backend closes.
func (eng *Engine) Stop(ctx context.Context) error {
	return eng.core.Stop(ctx)
}

// Queue returns the producer-facing queue.
func (eng *Engine) Queue() *queue.Queue { return eng.queue }

// Registry returns the task registry.
func (eng *Engine) Registry() *task.Registry { return eng.registry }

// Hooks returns the hook registry.
func (eng *Engine) Hooks() *hook.Registry { return eng.hooks }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Monitor returns the lease monitor.
func (eng *Engine) Monitor() *monitor.Monitor { return eng.monitor }

// DLQ returns the dead-letter service over failed jobs.
func (eng *Engine) DLQ() *dlq.Service { return eng.dlq }

// Cron returns the cron scheduler.
func (eng *Engine) Cron() *cron.Scheduler { return eng.cron }
