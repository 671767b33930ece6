// Package observability provides a metrics hook that records lifecycle
// counters through OpenTelemetry. Register it on the hook registry to
// track enqueue rates, completions, failures, retries, cancellations,
// and lease expiries.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/toolplane/jobq/hook"
	"github.com/toolplane/jobq/job"
)

// meterName is the instrumentation scope name for lifecycle metrics.
const meterName = "github.com/toolplane/jobq/observability"

// Compile-time interface checks.
var (
	_ hook.Hook         = (*MetricsHook)(nil)
	_ hook.JobEnqueued  = (*MetricsHook)(nil)
	_ hook.JobSucceeded = (*MetricsHook)(nil)
	_ hook.JobFailed    = (*MetricsHook)(nil)
	_ hook.JobRetrying  = (*MetricsHook)(nil)
	_ hook.JobCancelled = (*MetricsHook)(nil)
	_ hook.LeaseExpired = (*MetricsHook)(nil)
)

// MetricsHook records system-wide lifecycle metrics via an OTel meter.
// With no MeterProvider configured the instruments are noops, so the
// hook is always safe to register.
type MetricsHook struct {
	enqueued     metric.Int64Counter
	succeeded    metric.Int64Counter
	failed       metric.Int64Counter
	retried      metric.Int64Counter
	cancelled    metric.Int64Counter
	leaseExpired metric.Int64Counter
	duration     metric.Float64Histogram
}

// NewMetricsHook creates a MetricsHook using the global MeterProvider.
func NewMetricsHook() *MetricsHook {
	return NewMetricsHookWithMeter(otel.Meter(meterName))
}

// NewMetricsHookWithMeter creates a MetricsHook with the provided meter.
// Use it to inject a specific MeterProvider for testing.
func NewMetricsHookWithMeter(meter metric.Meter) *MetricsHook {
	m := &MetricsHook{}
	// On instrument-creation error the OTel API returns noops, so the
	// errors are deliberately dropped.
	m.enqueued, _ = meter.Int64Counter("jobq.job.enqueued",
		metric.WithDescription("Jobs accepted into the backlog"))
	m.succeeded, _ = meter.Int64Counter("jobq.job.succeeded",
		metric.WithDescription("Jobs that completed successfully"))
	m.failed, _ = meter.Int64Counter("jobq.job.failed",
		metric.WithDescription("Jobs that failed terminally"))
	m.retried, _ = meter.Int64Counter("jobq.job.retried",
		metric.WithDescription("Jobs requeued for retry"))
	m.cancelled, _ = meter.Int64Counter("jobq.job.cancelled",
		metric.WithDescription("Jobs cancelled before or during execution"))
	m.leaseExpired, _ = meter.Int64Counter("jobq.lease.expired",
		metric.WithDescription("Orphaned jobs reclaimed by the lease monitor"))
	m.duration, _ = meter.Float64Histogram("jobq.job.run_duration",
		metric.WithDescription("Successful job execution time in seconds"),
		metric.WithUnit("s"))
	return m
}

// Name implements hook.Hook.
func (m *MetricsHook) Name() string { return "observability-metrics" }

func typeAttr(j *job.Job) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("task_type", j.Type))
}

// OnJobEnqueued implements hook.JobEnqueued.
func (m *MetricsHook) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.enqueued.Add(ctx, 1, typeAttr(j))
	return nil
}

// OnJobSucceeded implements hook.JobSucceeded.
func (m *MetricsHook) OnJobSucceeded(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	m.succeeded.Add(ctx, 1, typeAttr(j))
	m.duration.Record(ctx, elapsed.Seconds(), typeAttr(j))
	return nil
}

// OnJobFailed implements hook.JobFailed.
func (m *MetricsHook) OnJobFailed(ctx context.Context, j *job.Job, jobErr *job.Error) error {
	m.failed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("task_type", j.Type),
		attribute.String("kind", string(jobErr.Kind)),
	))
	return nil
}

// OnJobRetrying implements hook.JobRetrying.
func (m *MetricsHook) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Duration) error {
	m.retried.Add(ctx, 1, typeAttr(j))
	return nil
}

// OnJobCancelled implements hook.JobCancelled.
func (m *MetricsHook) OnJobCancelled(ctx context.Context, j *job.Job) error {
	m.cancelled.Add(ctx, 1, typeAttr(j))
	return nil
}

// OnLeaseExpired implements hook.LeaseExpired.
func (m *MetricsHook) OnLeaseExpired(ctx context.Context, j *job.Job, requeued bool) error {
	m.leaseExpired.Add(ctx, 1, metric.WithAttributes(
		attribute.String("task_type", j.Type),
		attribute.Bool("requeued", requeued),
	))
	return nil
}
