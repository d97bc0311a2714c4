package job

import (
	"context"
	"time"

	"github.com/flowable/jobservice/id"
)

// AcquireOptions controls one acquisition pass. Acquisition selects up to
// Limit records of one kind that are due and unlocked (or whose lease has
// elapsed) and atomically stamps Owner and a lease of LockDuration on each.
// The no-double-claim guarantee is the backend's: conditional update or
// compare-and-swap, never read-then-write.
type AcquireOptions struct {
	// Owner is the lock owner stamped on acquired records.
	Owner string
	// LockDuration is the lease length.
	LockDuration time.Duration
	// Limit is the maximum number of records to claim.
	Limit int

	// Topic restricts acquisition to external-worker jobs of one topic.
	Topic string
	// TenantID restricts acquisition to one tenant when set.
	TenantID string
	// WithoutTenant restricts acquisition to records with no tenant.
	WithoutTenant bool
}

// Store is the persistence contract for the job entity family. One backend
// serves all six kinds; the kind argument selects the table or collection.
type Store interface {
	// InsertJob persists a new record of j.Kind.
	InsertJob(ctx context.Context, j *Job) error

	// GetJob retrieves one record by kind and id.
	GetJob(ctx context.Context, kind Kind, jobID id.ID) (*Job, error)

	// UpdateJob persists changes to an existing record. The update only
	// applies when the stored revision matches j.Revision; on success the
	// stored revision and j.Revision are bumped by one. A revision
	// mismatch surfaces jobservice.ErrConcurrentUpdate.
	UpdateJob(ctx context.Context, j *Job) error

	// DeleteJob removes one record by kind and id.
	DeleteJob(ctx context.Context, kind Kind, jobID id.ID) error

	// JobsToExecute returns due, unlocked records of the kind, oldest due
	// date first.
	JobsToExecute(ctx context.Context, kind Kind, page Page) ([]*Job, error)

	// ExpiredJobs returns records whose lease has elapsed.
	ExpiredJobs(ctx context.Context, kind Kind, page Page) ([]*Job, error)

	// ResetExpiredJob unconditionally clears the lease on one record,
	// making it eligible for the next acquisition pass.
	ResetExpiredJob(ctx context.Context, kind Kind, jobID id.ID) error

	// AcquireJobs atomically claims a batch per opts. Two concurrent
	// calls never claim the same record.
	AcquireJobs(ctx context.Context, kind Kind, opts AcquireOptions) ([]*Job, error)

	// JobsByExecutionID returns records bound to a process execution.
	JobsByExecutionID(ctx context.Context, kind Kind, executionID string) ([]*Job, error)

	// JobsByScopeAndSubScope returns records bound to a scope/sub-scope pair.
	JobsByScopeAndSubScope(ctx context.Context, kind Kind, scopeID, subScopeID string) ([]*Job, error)

	// JobsByQuery returns records matching the criteria.
	JobsByQuery(ctx context.Context, kind Kind, q Query, page Page) ([]*Job, error)

	// CountJobsByQuery counts records matching the criteria.
	CountJobsByQuery(ctx context.Context, kind Kind, q Query) (int64, error)
}
