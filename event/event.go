// Package event defines the lifecycle-event side channel of the job
// service. Listeners are notified of entity CRUD and execution outcomes —
// metrics, logging, engine-level side effects. Dispatch is best effort:
// a failing listener is logged and never rolls back or blocks the
// operation that triggered it.
//
// Each lifecycle hook is a separate interface so listeners opt in only to
// the events they care about.
package event

import (
	"context"
	"time"

	"github.com/flowable/jobservice/job"
)

// Listener is the base interface all lifecycle listeners implement.
type Listener interface {
	// Name returns a unique human-readable name for the listener.
	Name() string
}

// EntityCreated is called after a job record is inserted.
type EntityCreated interface {
	OnEntityCreated(ctx context.Context, j *job.Job) error
}

// EntityUpdated is called after a job record is updated.
type EntityUpdated interface {
	OnEntityUpdated(ctx context.Context, j *job.Job) error
}

// EntityDeleted is called after a job record is deleted.
type EntityDeleted interface {
	OnEntityDeleted(ctx context.Context, j *job.Job) error
}

// JobExecuted is called after a job handler ran successfully.
type JobExecuted interface {
	OnJobExecuted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobRetrying is called when a job failed with retries remaining.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, jobErr error) error
}

// JobDeadLettered is called when a job exhausts its retries and is moved
// to the dead-letter table.
type JobDeadLettered interface {
	OnJobDeadLettered(ctx context.Context, j *job.Job, jobErr error) error
}

// LockReset is called when the expired-lock sweep clears a lease.
type LockReset interface {
	OnLockReset(ctx context.Context, j *job.Job) error
}
