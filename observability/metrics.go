// Package observability provides an OpenTelemetry metrics listener for the
// job-service lifecycle events: job creation, execution outcomes, retries,
// dead-letter moves, and expired-lock resets.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/flowable/jobservice/event"
	"github.com/flowable/jobservice/job"
)

const meterName = "github.com/flowable/jobservice"

// Compile-time interface checks.
var (
	_ event.Listener        = (*MetricsListener)(nil)
	_ event.EntityCreated   = (*MetricsListener)(nil)
	_ event.JobExecuted     = (*MetricsListener)(nil)
	_ event.JobRetrying     = (*MetricsListener)(nil)
	_ event.JobDeadLettered = (*MetricsListener)(nil)
	_ event.LockReset       = (*MetricsListener)(nil)
)

// MetricsListener records lifecycle metrics through an OpenTelemetry meter.
// Register it on the event registry to track creation rates, execution
// counts and latency, retry counts, dead-letter moves, and lock resets.
type MetricsListener struct {
	created      metric.Int64Counter
	executed     metric.Int64Counter
	duration     metric.Float64Histogram
	retried      metric.Int64Counter
	deadLettered metric.Int64Counter
	lockResets   metric.Int64Counter
}

// NewMetricsListener creates a MetricsListener on the global meter provider.
func NewMetricsListener() (*MetricsListener, error) {
	return NewMetricsListenerWithProvider(otel.GetMeterProvider())
}

// NewMetricsListenerWithProvider creates a MetricsListener on the given
// provider; tests pass an sdk/metric provider with a manual reader.
func NewMetricsListenerWithProvider(provider metric.MeterProvider) (*MetricsListener, error) {
	meter := provider.Meter(meterName)

	created, err := meter.Int64Counter("jobservice.job.created",
		metric.WithDescription("Jobs inserted, by kind."))
	if err != nil {
		return nil, fmt.Errorf("jobservice/observability: created counter: %w", err)
	}
	executed, err := meter.Int64Counter("jobservice.job.executed",
		metric.WithDescription("Jobs executed successfully."))
	if err != nil {
		return nil, fmt.Errorf("jobservice/observability: executed counter: %w", err)
	}
	duration, err := meter.Float64Histogram("jobservice.job.duration",
		metric.WithDescription("Job execution time."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("jobservice/observability: duration histogram: %w", err)
	}
	retried, err := meter.Int64Counter("jobservice.job.retried",
		metric.WithDescription("Failed executions with retries remaining."))
	if err != nil {
		return nil, fmt.Errorf("jobservice/observability: retried counter: %w", err)
	}
	deadLettered, err := meter.Int64Counter("jobservice.job.dead_lettered",
		metric.WithDescription("Jobs moved to the dead-letter table."))
	if err != nil {
		return nil, fmt.Errorf("jobservice/observability: dead-lettered counter: %w", err)
	}
	lockResets, err := meter.Int64Counter("jobservice.job.lock_resets",
		metric.WithDescription("Expired leases cleared by the sweep."))
	if err != nil {
		return nil, fmt.Errorf("jobservice/observability: lock-resets counter: %w", err)
	}

	return &MetricsListener{
		created:      created,
		executed:     executed,
		duration:     duration,
		retried:      retried,
		deadLettered: deadLettered,
		lockResets:   lockResets,
	}, nil
}

// Name implements event.Listener.
func (m *MetricsListener) Name() string { return "observability-metrics" }

// OnEntityCreated implements event.EntityCreated.
func (m *MetricsListener) OnEntityCreated(ctx context.Context, j *job.Job) error {
	m.created.Add(ctx, 1, metric.WithAttributes(kindAttr(j)))
	return nil
}

// OnJobExecuted implements event.JobExecuted.
func (m *MetricsListener) OnJobExecuted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	attrs := metric.WithAttributes(kindAttr(j), handlerAttr(j))
	m.executed.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
	return nil
}

// OnJobRetrying implements event.JobRetrying.
func (m *MetricsListener) OnJobRetrying(ctx context.Context, j *job.Job, _ error) error {
	m.retried.Add(ctx, 1, metric.WithAttributes(kindAttr(j), handlerAttr(j)))
	return nil
}

// OnJobDeadLettered implements event.JobDeadLettered.
func (m *MetricsListener) OnJobDeadLettered(ctx context.Context, j *job.Job, _ error) error {
	m.deadLettered.Add(ctx, 1, metric.WithAttributes(handlerAttr(j)))
	return nil
}

// OnLockReset implements event.LockReset.
func (m *MetricsListener) OnLockReset(ctx context.Context, j *job.Job) error {
	m.lockResets.Add(ctx, 1, metric.WithAttributes(kindAttr(j)))
	return nil
}

func kindAttr(j *job.Job) attribute.KeyValue {
	return attribute.String("job.kind", string(j.Kind))
}

func handlerAttr(j *job.Job) attribute.KeyValue {
	return attribute.String("job.handler_type", j.HandlerType)
}
