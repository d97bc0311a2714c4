// Package memory provides a fully in-memory Store. Safe for concurrent
// access; intended for unit testing and development. It is also the
// reference implementation of the acquisition CAS semantics: claims happen
// under one mutex, so two concurrent acquisitions can never return the
// same record.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/WatchBeam/clock"

	"github.com/flowable/jobservice"
	"github.com/flowable/jobservice/bytearray"
	"github.com/flowable/jobservice/id"
	"github.com/flowable/jobservice/job"
	"github.com/flowable/jobservice/store"
)

var (
	_ job.Store       = (*Store)(nil)
	_ bytearray.Store = (*Store)(nil)
	_ store.Store     = (*Store)(nil)
)

// Store is the in-memory backend.
type Store struct {
	mu sync.RWMutex

	clock      clock.Clock
	jobs       map[job.Kind]map[string]*job.Job
	byteArrays map[string]*bytearray.Entity

	// correlations indexes external-worker jobs by correlation id to
	// enforce uniqueness of the idempotency token.
	correlations map[string]string
}

// Option configures the Store.
type Option func(*Store)

// WithClock sets the clock used for due-date and lease arithmetic.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		clock:        clock.C,
		jobs:         make(map[job.Kind]map[string]*job.Job),
		byteArrays:   make(map[string]*bytearray.Entity),
		correlations: make(map[string]string),
	}
	for _, kind := range job.Kinds {
		s.jobs[kind] = make(map[string]*job.Job)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job store
// ──────────────────────────────────────────────────

// InsertJob persists a new record of j.Kind.
func (m *Store) InsertJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	table := m.jobs[j.Kind]
	key := j.ID.String()
	if _, exists := table[key]; exists {
		return jobservice.ErrJobAlreadyExists
	}
	if j.Kind == job.KindExternalWorker && j.CorrelationID != "" {
		if _, exists := m.correlations[j.CorrelationID]; exists {
			return jobservice.ErrDuplicateCorrelation
		}
		m.correlations[j.CorrelationID] = key
	}

	table[key] = cloneJob(j)
	return nil
}

// GetJob retrieves one record by kind and id.
func (m *Store) GetJob(_ context.Context, kind job.Kind, jobID id.ID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[kind][jobID.String()]
	if !ok {
		return nil, jobservice.ErrJobNotFound
	}
	return cloneJob(j), nil
}

// UpdateJob persists changes under optimistic concurrency: the stored
// revision must match, and both copies advance by one.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	table := m.jobs[j.Kind]
	key := j.ID.String()
	stored, ok := table[key]
	if !ok {
		return jobservice.ErrJobNotFound
	}
	if stored.Revision != j.Revision {
		return jobservice.ErrConcurrentUpdate
	}

	j.Revision++
	table[key] = cloneJob(j)
	return nil
}

// DeleteJob removes one record by kind and id.
func (m *Store) DeleteJob(_ context.Context, kind job.Kind, jobID id.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	table := m.jobs[kind]
	key := jobID.String()
	stored, ok := table[key]
	if !ok {
		return jobservice.ErrJobNotFound
	}
	if stored.CorrelationID != "" {
		delete(m.correlations, stored.CorrelationID)
	}
	delete(table, key)
	return nil
}

// JobsToExecute returns due, unlocked records, oldest due date first.
func (m *Store) JobsToExecute(_ context.Context, kind job.Kind, page job.Page) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.clock.Now()
	var out []*job.Job
	for _, j := range m.jobs[kind] {
		if j.Due(now) && !j.Locked() {
			out = append(out, j)
		}
	}
	sortJobs(out)
	return clonePage(out, page), nil
}

// ExpiredJobs returns records whose lease has elapsed.
func (m *Store) ExpiredJobs(_ context.Context, kind job.Kind, page job.Page) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.clock.Now()
	var out []*job.Job
	for _, j := range m.jobs[kind] {
		if j.LockExpired(now) {
			out = append(out, j)
		}
	}
	sortJobs(out)
	return clonePage(out, page), nil
}

// ResetExpiredJob unconditionally clears the lease on one record.
func (m *Store) ResetExpiredJob(_ context.Context, kind job.Kind, jobID id.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[kind][jobID.String()]
	if !ok {
		return jobservice.ErrJobNotFound
	}
	j.ClearLock()
	j.Revision++
	return nil
}

// AcquireJobs atomically claims a batch per opts. The store mutex makes
// the select-and-stamp a single step: concurrent calls serialize, so no
// record is ever claimed twice.
func (m *Store) AcquireJobs(_ context.Context, kind job.Kind, opts job.AcquireOptions) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var candidates []*job.Job
	for _, j := range m.jobs[kind] {
		if !j.Due(now) {
			continue
		}
		if j.Locked() && !j.LockExpired(now) {
			continue
		}
		if opts.Topic != "" && j.Topic != opts.Topic {
			continue
		}
		if opts.TenantID != "" && j.TenantID != opts.TenantID {
			continue
		}
		if opts.WithoutTenant && j.TenantID != "" {
			continue
		}
		candidates = append(candidates, j)
	}
	sortJobs(candidates)

	if opts.Limit > 0 && len(candidates) > opts.Limit {
		candidates = candidates[:opts.Limit]
	}

	expiration := now.Add(opts.LockDuration).UTC()
	out := make([]*job.Job, len(candidates))
	for i, j := range candidates {
		j.LockOwner = opts.Owner
		exp := expiration
		j.LockExpirationTime = &exp
		j.Revision++
		out[i] = cloneJob(j)
	}
	return out, nil
}

// JobsByExecutionID returns records bound to a process execution.
func (m *Store) JobsByExecutionID(_ context.Context, kind job.Kind, executionID string) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*job.Job
	for _, j := range m.jobs[kind] {
		if j.ExecutionID == executionID {
			out = append(out, j)
		}
	}
	sortJobs(out)
	return clonePage(out, job.Page{}), nil
}

// JobsByScopeAndSubScope returns records bound to a scope/sub-scope pair.
func (m *Store) JobsByScopeAndSubScope(_ context.Context, kind job.Kind, scopeID, subScopeID string) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*job.Job
	for _, j := range m.jobs[kind] {
		if j.ScopeID == scopeID && j.SubScopeID == subScopeID {
			out = append(out, j)
		}
	}
	sortJobs(out)
	return clonePage(out, job.Page{}), nil
}

// JobsByQuery returns records matching the criteria.
func (m *Store) JobsByQuery(_ context.Context, kind job.Kind, q job.Query, page job.Page) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*job.Job
	for _, j := range m.jobs[kind] {
		if matches(j, q) {
			out = append(out, j)
		}
	}
	sortJobs(out)
	return clonePage(out, page), nil
}

// CountJobsByQuery counts records matching the criteria.
func (m *Store) CountJobsByQuery(_ context.Context, kind job.Kind, q job.Query) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, j := range m.jobs[kind] {
		if matches(j, q) {
			count++
		}
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Byte-array store
// ──────────────────────────────────────────────────

// InsertByteArray persists a new blob.
func (m *Store) InsertByteArray(_ context.Context, e *bytearray.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.byteArrays[e.ID.String()] = cloneByteArray(e)
	return nil
}

// GetByteArray retrieves a blob by id.
func (m *Store) GetByteArray(_ context.Context, byteArrayID id.ID) (*bytearray.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.byteArrays[byteArrayID.String()]
	if !ok {
		return nil, jobservice.ErrByteArrayNotFound
	}
	return cloneByteArray(e), nil
}

// UpdateByteArray overwrites an existing blob.
func (m *Store) UpdateByteArray(_ context.Context, e *bytearray.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := e.ID.String()
	stored, ok := m.byteArrays[key]
	if !ok {
		return jobservice.ErrByteArrayNotFound
	}
	if stored.Revision != e.Revision {
		return jobservice.ErrConcurrentUpdate
	}
	e.Revision++
	m.byteArrays[key] = cloneByteArray(e)
	return nil
}

// DeleteByteArray removes a blob by id.
func (m *Store) DeleteByteArray(_ context.Context, byteArrayID id.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := byteArrayID.String()
	if _, ok := m.byteArrays[key]; !ok {
		return jobservice.ErrByteArrayNotFound
	}
	delete(m.byteArrays, key)
	return nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// sortJobs orders by due date (nil first), then create time, then id, so
// results are deterministic across calls.
func sortJobs(jobs []*job.Job) {
	sort.Slice(jobs, func(i, k int) bool {
		a, b := jobs[i], jobs[k]
		switch {
		case a.DueDate == nil && b.DueDate != nil:
			return true
		case a.DueDate != nil && b.DueDate == nil:
			return false
		case a.DueDate != nil && b.DueDate != nil && !a.DueDate.Equal(*b.DueDate):
			return a.DueDate.Before(*b.DueDate)
		}
		if !a.CreateTime.Equal(b.CreateTime) {
			return a.CreateTime.Before(b.CreateTime)
		}
		return a.ID.String() < b.ID.String()
	})
}

func clonePage(jobs []*job.Job, page job.Page) []*job.Job {
	if page.Offset > 0 {
		if page.Offset >= len(jobs) {
			jobs = nil
		} else {
			jobs = jobs[page.Offset:]
		}
	}
	if page.Limit > 0 && len(jobs) > page.Limit {
		jobs = jobs[:page.Limit]
	}
	out := make([]*job.Job, len(jobs))
	for i, j := range jobs {
		out[i] = cloneJob(j)
	}
	return out
}

// cloneJob copies a record so callers can mutate without racing with the
// store.
func cloneJob(j *job.Job) *job.Job {
	cp := *j
	cp.DueDate = cloneTime(j.DueDate)
	cp.EndDate = cloneTime(j.EndDate)
	cp.LockExpirationTime = cloneTime(j.LockExpirationTime)
	cp.CustomValuesRef = j.CustomValuesRef.Copy()
	cp.ExceptionStacktraceRef = j.ExceptionStacktraceRef.Copy()
	return &cp
}

func cloneByteArray(e *bytearray.Entity) *bytearray.Entity {
	cp := *e
	cp.Bytes = append([]byte(nil), e.Bytes...)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// matches evaluates the full criteria set. The memory backend supports
// every predicate.
func matches(j *job.Job, q job.Query) bool {
	if q.ID != "" && j.ID.String() != q.ID {
		return false
	}
	if q.CorrelationID != "" && j.CorrelationID != q.CorrelationID {
		return false
	}
	if q.HandlerType != "" && j.HandlerType != q.HandlerType {
		return false
	}
	if len(q.HandlerTypes) > 0 {
		found := false
		for _, ht := range q.HandlerTypes {
			if j.HandlerType == ht {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.ExecutionID != "" && j.ExecutionID != q.ExecutionID {
		return false
	}
	if q.ProcessInstanceID != "" && j.ProcessInstanceID != q.ProcessInstanceID {
		return false
	}
	if q.ProcessDefinitionID != "" && j.ProcessDefinitionID != q.ProcessDefinitionID {
		return false
	}
	if q.ScopeID != "" && j.ScopeID != q.ScopeID {
		return false
	}
	if q.SubScopeID != "" && j.SubScopeID != q.SubScopeID {
		return false
	}
	if q.ScopeType != "" && j.ScopeType != q.ScopeType {
		return false
	}
	if q.ScopeDefinitionID != "" && j.ScopeDefinitionID != q.ScopeDefinitionID {
		return false
	}
	if q.ElementID != "" && j.ElementID != q.ElementID {
		return false
	}
	if q.DueBefore != nil && (j.DueDate == nil || !j.DueDate.Before(*q.DueBefore)) {
		return false
	}
	if q.DueAfter != nil && (j.DueDate == nil || !j.DueDate.After(*q.DueAfter)) {
		return false
	}
	if q.WithException && j.ExceptionMessage == "" && refUnset(j.ExceptionStacktraceRef) {
		return false
	}
	if q.ExceptionMessage != "" && j.ExceptionMessage != q.ExceptionMessage {
		return false
	}
	if q.LockOwner != "" && j.LockOwner != q.LockOwner {
		return false
	}
	if q.OnlyLocked && !j.Locked() {
		return false
	}
	if q.OnlyUnlocked && j.Locked() {
		return false
	}
	if q.Topic != "" && j.Topic != q.Topic {
		return false
	}
	if q.TenantID != "" && j.TenantID != q.TenantID {
		return false
	}
	if q.TenantIDLike != "" && !likeMatch(j.TenantID, q.TenantIDLike) {
		return false
	}
	if q.WithoutTenantID && j.TenantID != "" {
		return false
	}
	if q.WithoutScopeID && j.ScopeID != "" {
		return false
	}
	return true
}

func refUnset(r *bytearray.Ref) bool {
	return r == nil || r.ID().IsNil()
}

// likeMatch evaluates a SQL LIKE pattern with % wildcards.
func likeMatch(s, pattern string) bool {
	parts := strings.Split(pattern, "%")
	if len(parts) == 1 {
		return s == pattern
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	for _, part := range parts[1 : len(parts)-1] {
		if part == "" {
			continue
		}
		idx := strings.Index(s, part)
		if idx < 0 {
			return false
		}
		s = s[idx+len(part):]
	}
	return strings.HasSuffix(s, parts[len(parts)-1])
}
