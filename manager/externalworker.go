package manager

import (
	"context"
	"time"

	"github.com/flowable/jobservice/job"
)

// ExternalWorkerManager serves jobs pulled by third-party worker
// processes. External workers are not an internal thread pool being
// assigned work: they claim batches themselves, so acquisition policy
// (topic, lease length, batch size, tenant) is caller-supplied through
// AcquireJobs rather than fixed configuration.
type ExternalWorkerManager struct {
	Manager
}

// ByCorrelationID finds the external-worker job carrying the idempotency
// token assigned at insert.
func (m *ExternalWorkerManager) ByCorrelationID(ctx context.Context, correlationID string) (*job.Job, error) {
	jobs, err := m.JobsByQuery(ctx, job.Query{CorrelationID: correlationID}, job.Page{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return jobs[0], nil
}

// AcquireJobs starts an acquisition builder for one topic.
func (m *ExternalWorkerManager) AcquireJobs(topic string, lockDuration time.Duration) *AcquireBuilder {
	return &AcquireBuilder{
		manager:      m,
		topic:        topic,
		lockDuration: lockDuration,
		limit:        1,
	}
}

// AcquireBuilder accumulates acquisition policy for one external-worker
// claim. Zero builders are not valid; start from AcquireJobs.
type AcquireBuilder struct {
	manager       *ExternalWorkerManager
	topic         string
	lockDuration  time.Duration
	limit         int
	tenantID      string
	withoutTenant bool
}

// MaxJobs sets the batch size. The default is one.
func (b *AcquireBuilder) MaxJobs(n int) *AcquireBuilder {
	b.limit = n
	return b
}

// Tenant restricts acquisition to one tenant.
func (b *AcquireBuilder) Tenant(tenantID string) *AcquireBuilder {
	b.tenantID = tenantID
	b.withoutTenant = false
	return b
}

// WithoutTenant restricts acquisition to jobs carrying no tenant.
func (b *AcquireBuilder) WithoutTenant() *AcquireBuilder {
	b.withoutTenant = true
	b.tenantID = ""
	return b
}

// Acquire claims up to the configured number of jobs for the worker,
// stamping the lease. Two concurrent workers never claim the same job.
func (b *AcquireBuilder) Acquire(ctx context.Context, workerID string) ([]*job.Job, error) {
	return b.manager.Acquire(ctx, job.AcquireOptions{
		Owner:         workerID,
		LockDuration:  b.lockDuration,
		Limit:         b.limit,
		Topic:         b.topic,
		TenantID:      b.tenantID,
		WithoutTenant: b.withoutTenant,
	})
}
