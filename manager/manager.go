// Package manager provides the per-kind CRUD facades over the job store.
// Managers enforce insert/update/delete side effects — create-time
// stamping, correlation-id assignment, cascading byte-array cleanup,
// lifecycle-event notification — and implement the state transitions
// between kinds (timer fired, scope suspended, retries exhausted).
package manager

import (
	"context"
	"log/slog"

	"github.com/WatchBeam/clock"
	"github.com/google/uuid"

	"github.com/flowable/jobservice"
	"github.com/flowable/jobservice/bytearray"
	"github.com/flowable/jobservice/event"
	"github.com/flowable/jobservice/id"
	"github.com/flowable/jobservice/job"
)

// Manager is the shared per-kind implementation. The exported per-kind types
// embed it and add kind-specific operations.
type Manager struct {
	kind     job.Kind
	store    job.Store
	resolver bytearray.Resolver
	clock    clock.Clock
	events   *event.Registry
	logger   *slog.Logger
}

// New returns a zero-valued in-memory record of the manager's kind with a
// fresh id. Nothing touches the backend until Insert.
func (m *Manager) New() *job.Job {
	return &job.Job{
		ID:   m.kind.NewID(),
		Kind: m.kind,
	}
}

// Kind returns the job kind this manager serves.
func (m *Manager) Kind() job.Kind { return m.kind }

// Insert persists the record and fires the created event. The create time
// is stamped from the clock when unset — never client-supplied times for
// fresh records. External-worker records get a correlation id assigned
// when absent; it is the idempotency token for duplicate insert attempts.
func (m *Manager) Insert(ctx context.Context, j *job.Job) error {
	return m.insert(ctx, j, true)
}

// InsertSilent is Insert without the created event, used when the caller
// owns event semantics for a larger transition.
func (m *Manager) InsertSilent(ctx context.Context, j *job.Job) error {
	return m.insert(ctx, j, false)
}

func (m *Manager) insert(ctx context.Context, j *job.Job, fireEvent bool) error {
	if j.Kind == "" {
		j.Kind = m.kind
	}
	if j.ID.IsNil() {
		j.ID = j.Kind.NewID()
	}
	if j.CreateTime.IsZero() {
		j.CreateTime = m.clock.Now().UTC()
	}
	if j.Kind == job.KindExternalWorker && j.CorrelationID == "" {
		j.CorrelationID = uuid.NewString()
	}

	if err := m.store.InsertJob(ctx, j); err != nil {
		return err
	}

	// Event dispatch is best effort and outside the transactional path: a
	// failing listener never rolls back the insert.
	if fireEvent {
		m.events.EmitEntityCreated(ctx, j)
	}
	return nil
}

// Update persists changes to the record under optimistic concurrency and
// fires the updated event. A revision mismatch surfaces
// jobservice.ErrConcurrentUpdate from the backend.
func (m *Manager) Update(ctx context.Context, j *job.Job) error {
	return m.update(ctx, j, true)
}

// UpdateSilent is Update without the updated event.
func (m *Manager) UpdateSilent(ctx context.Context, j *job.Job) error {
	return m.update(ctx, j, false)
}

func (m *Manager) update(ctx context.Context, j *job.Job, fireEvent bool) error {
	if err := m.store.UpdateJob(ctx, j); err != nil {
		return err
	}
	if fireEvent {
		m.events.EmitEntityUpdated(ctx, j)
	}
	return nil
}

// Delete removes the record, then the byte arrays it owns, and fires the
// deleted event. Byte-array cleanup runs after the row delete succeeded so
// that a failed delete never orphan-deletes still-referenced blobs.
func (m *Manager) Delete(ctx context.Context, j *job.Job) error {
	return m.delete(ctx, j, true)
}

// DeleteSilent is Delete without the deleted event.
func (m *Manager) DeleteSilent(ctx context.Context, j *job.Job) error {
	return m.delete(ctx, j, false)
}

func (m *Manager) delete(ctx context.Context, j *job.Job, fireEvent bool) error {
	if err := m.store.DeleteJob(ctx, j.Kind, j.ID); err != nil {
		return err
	}

	engineType := engineTypeFor(j)
	for _, ref := range j.ByteArrayRefs() {
		if err := ref.Delete(ctx, m.resolver, engineType); err != nil {
			return err
		}
	}

	if fireEvent {
		m.events.EmitEntityDeleted(ctx, j)
	}
	return nil
}

// Get retrieves one record of the manager's kind.
func (m *Manager) Get(ctx context.Context, jobID id.ID) (*job.Job, error) {
	return m.store.GetJob(ctx, m.kind, jobID)
}

// JobsToExecute returns due, unlocked records of the manager's kind.
func (m *Manager) JobsToExecute(ctx context.Context, page job.Page) ([]*job.Job, error) {
	return m.store.JobsToExecute(ctx, m.kind, page)
}

// ExpiredJobs returns records whose lease has elapsed.
func (m *Manager) ExpiredJobs(ctx context.Context, page job.Page) ([]*job.Job, error) {
	return m.store.ExpiredJobs(ctx, m.kind, page)
}

// ResetExpiredJob unconditionally clears the lease on one record and fires
// the lock-reset event. This recovers jobs from workers that crashed
// mid-execution once their lease elapsed.
func (m *Manager) ResetExpiredJob(ctx context.Context, jobID id.ID) error {
	if err := m.store.ResetExpiredJob(ctx, m.kind, jobID); err != nil {
		return err
	}
	if j, err := m.store.GetJob(ctx, m.kind, jobID); err == nil {
		m.events.EmitLockReset(ctx, j)
	}
	return nil
}

// Acquire atomically claims a batch of due records per opts.
func (m *Manager) Acquire(ctx context.Context, opts job.AcquireOptions) ([]*job.Job, error) {
	return m.store.AcquireJobs(ctx, m.kind, opts)
}

// JobsByExecutionID returns records bound to a process execution.
func (m *Manager) JobsByExecutionID(ctx context.Context, executionID string) ([]*job.Job, error) {
	return m.store.JobsByExecutionID(ctx, m.kind, executionID)
}

// JobsByScopeAndSubScope returns records bound to a scope/sub-scope pair.
func (m *Manager) JobsByScopeAndSubScope(ctx context.Context, scopeID, subScopeID string) ([]*job.Job, error) {
	return m.store.JobsByScopeAndSubScope(ctx, m.kind, scopeID, subScopeID)
}

// JobsByQuery returns records matching the criteria.
func (m *Manager) JobsByQuery(ctx context.Context, q job.Query, page job.Page) ([]*job.Job, error) {
	return m.store.JobsByQuery(ctx, m.kind, q, page)
}

// CountByQuery counts records matching the criteria.
func (m *Manager) CountByQuery(ctx context.Context, q job.Query) (int64, error) {
	return m.store.CountJobsByQuery(ctx, m.kind, q)
}

// engineTypeFor picks the byte-array engine for a job: its scope type when
// that names a registered engine family, the search-all sentinel otherwise.
func engineTypeFor(j *job.Job) string {
	switch j.ScopeType {
	case jobservice.EngineProcess, jobservice.EngineCase:
		return j.ScopeType
	default:
		return jobservice.EngineAll
	}
}

// ──────────────────────────────────────────────────
// Per-kind managers
// ──────────────────────────────────────────────────

// ReadyManager serves jobs eligible for immediate execution.
type ReadyManager struct{ Manager }

// TimerManager serves jobs with a future due date.
type TimerManager struct{ Manager }

// SuspendedManager serves jobs parked by scope suspension.
type SuspendedManager struct{ Manager }

// DeadLetterManager serves jobs whose retries are exhausted.
type DeadLetterManager struct{ Manager }

// HistoryManager serves async history-persistence jobs.
type HistoryManager struct{ Manager }

// Set bundles the six kind managers sharing one store, clock, byte-array
// resolver, and event registry.
type Set struct {
	Ready          *ReadyManager
	Timer          *TimerManager
	Suspended      *SuspendedManager
	DeadLetter     *DeadLetterManager
	History        *HistoryManager
	ExternalWorker *ExternalWorkerManager
}

// Option configures a Set.
type Option func(*settings)

type settings struct {
	clock  clock.Clock
	events *event.Registry
	logger *slog.Logger
}

// WithClock sets the clock used for create-time stamping.
func WithClock(c clock.Clock) Option {
	return func(s *settings) { s.clock = c }
}

// WithEvents sets the lifecycle-event registry.
func WithEvents(r *event.Registry) Option {
	return func(s *settings) { s.events = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// New creates the manager set over a store and byte-array resolver.
func New(store job.Store, resolver bytearray.Resolver, opts ...Option) *Set {
	s := settings{
		clock:  clock.C,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.events == nil {
		s.events = event.NewRegistry(s.logger)
	}

	mk := func(kind job.Kind) Manager {
		return Manager{
			kind:     kind,
			store:    store,
			resolver: resolver,
			clock:    s.clock,
			events:   s.events,
			logger:   s.logger,
		}
	}

	return &Set{
		Ready:          &ReadyManager{mk(job.KindReady)},
		Timer:          &TimerManager{mk(job.KindTimer)},
		Suspended:      &SuspendedManager{mk(job.KindSuspended)},
		DeadLetter:     &DeadLetterManager{mk(job.KindDeadLetter)},
		History:        &HistoryManager{mk(job.KindHistory)},
		ExternalWorker: &ExternalWorkerManager{Manager: mk(job.KindExternalWorker)},
	}
}

// Clock returns the clock the set stamps create times from.
func (s *Set) Clock() clock.Clock { return s.Ready.clock }

// Events returns the lifecycle-event registry shared by the managers.
func (s *Set) Events() *event.Registry { return s.Ready.events }

// For returns the manager serving the given kind.
func (s *Set) For(kind job.Kind) *Manager {
	switch kind {
	case job.KindTimer:
		return &s.Timer.Manager
	case job.KindSuspended:
		return &s.Suspended.Manager
	case job.KindDeadLetter:
		return &s.DeadLetter.Manager
	case job.KindHistory:
		return &s.History.Manager
	case job.KindExternalWorker:
		return &s.ExternalWorker.Manager
	default:
		return &s.Ready.Manager
	}
}
