package event

import (
	"context"
	"log/slog"
	"time"

	"github.com/flowable/jobservice/job"
)

// Named entry types pair a hook implementation with the listener name
// captured at registration time. This avoids type-asserting back to
// Listener inside the emit methods.
type entityCreatedEntry struct {
	name string
	hook EntityCreated
}

type entityUpdatedEntry struct {
	name string
	hook EntityUpdated
}

type entityDeletedEntry struct {
	name string
	hook EntityDeleted
}

type jobExecutedEntry struct {
	name string
	hook JobExecuted
}

type jobRetryingEntry struct {
	name string
	hook JobRetrying
}

type jobDeadLetteredEntry struct {
	name string
	hook JobDeadLettered
}

type lockResetEntry struct {
	name string
	hook LockReset
}

// Registry holds registered listeners and dispatches lifecycle events to
// them. Listeners are type-cached at registration time so emit calls
// iterate only over listeners that implement the relevant hook. An empty
// registry is a valid no-op dispatcher.
type Registry struct {
	listeners []Listener
	logger    *slog.Logger

	entityCreated   []entityCreatedEntry
	entityUpdated   []entityUpdatedEntry
	entityDeleted   []entityDeletedEntry
	jobExecuted     []jobExecutedEntry
	jobRetrying     []jobRetryingEntry
	jobDeadLettered []jobDeadLetteredEntry
	lockReset       []lockResetEntry
}

// NewRegistry creates a listener registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds a listener and type-asserts it into all applicable hook
// caches. Listeners are notified in registration order.
func (r *Registry) Register(l Listener) {
	r.listeners = append(r.listeners, l)
	name := l.Name()

	if h, ok := l.(EntityCreated); ok {
		r.entityCreated = append(r.entityCreated, entityCreatedEntry{name, h})
	}
	if h, ok := l.(EntityUpdated); ok {
		r.entityUpdated = append(r.entityUpdated, entityUpdatedEntry{name, h})
	}
	if h, ok := l.(EntityDeleted); ok {
		r.entityDeleted = append(r.entityDeleted, entityDeletedEntry{name, h})
	}
	if h, ok := l.(JobExecuted); ok {
		r.jobExecuted = append(r.jobExecuted, jobExecutedEntry{name, h})
	}
	if h, ok := l.(JobRetrying); ok {
		r.jobRetrying = append(r.jobRetrying, jobRetryingEntry{name, h})
	}
	if h, ok := l.(JobDeadLettered); ok {
		r.jobDeadLettered = append(r.jobDeadLettered, jobDeadLetteredEntry{name, h})
	}
	if h, ok := l.(LockReset); ok {
		r.lockReset = append(r.lockReset, lockResetEntry{name, h})
	}
}

// Listeners returns all registered listeners.
func (r *Registry) Listeners() []Listener { return r.listeners }

// EmitEntityCreated notifies all listeners that implement EntityCreated.
func (r *Registry) EmitEntityCreated(ctx context.Context, j *job.Job) {
	for _, e := range r.entityCreated {
		r.call("OnEntityCreated", e.name, func() error {
			return e.hook.OnEntityCreated(ctx, j)
		})
	}
}

// EmitEntityUpdated notifies all listeners that implement EntityUpdated.
func (r *Registry) EmitEntityUpdated(ctx context.Context, j *job.Job) {
	for _, e := range r.entityUpdated {
		r.call("OnEntityUpdated", e.name, func() error {
			return e.hook.OnEntityUpdated(ctx, j)
		})
	}
}

// EmitEntityDeleted notifies all listeners that implement EntityDeleted.
func (r *Registry) EmitEntityDeleted(ctx context.Context, j *job.Job) {
	for _, e := range r.entityDeleted {
		r.call("OnEntityDeleted", e.name, func() error {
			return e.hook.OnEntityDeleted(ctx, j)
		})
	}
}

// EmitJobExecuted notifies all listeners that implement JobExecuted.
func (r *Registry) EmitJobExecuted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobExecuted {
		r.call("OnJobExecuted", e.name, func() error {
			return e.hook.OnJobExecuted(ctx, j, elapsed)
		})
	}
}

// EmitJobRetrying notifies all listeners that implement JobRetrying.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobRetrying {
		r.call("OnJobRetrying", e.name, func() error {
			return e.hook.OnJobRetrying(ctx, j, jobErr)
		})
	}
}

// EmitJobDeadLettered notifies all listeners that implement JobDeadLettered.
func (r *Registry) EmitJobDeadLettered(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobDeadLettered {
		r.call("OnJobDeadLettered", e.name, func() error {
			return e.hook.OnJobDeadLettered(ctx, j, jobErr)
		})
	}
}

// EmitLockReset notifies all listeners that implement LockReset.
func (r *Registry) EmitLockReset(ctx context.Context, j *job.Job) {
	for _, e := range r.lockReset {
		r.call("OnLockReset", e.name, func() error {
			return e.hook.OnLockReset(ctx, j)
		})
	}
}

// call invokes one hook, containing both returned errors and panics. A
// misbehaving listener never fails or aborts the operation that emitted
// the event.
func (r *Registry) call(hook, listener string, fn func() error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("lifecycle listener panicked",
				slog.String("hook", hook),
				slog.String("listener", listener),
				slog.Any("panic", p),
			)
		}
	}()
	if err := fn(); err != nil {
		r.logHookError(hook, listener, err)
	}
}

func (r *Registry) logHookError(hook, listener string, err error) {
	r.logger.Warn("lifecycle listener failed",
		slog.String("hook", hook),
		slog.String("listener", listener),
		slog.String("error", err.Error()),
	)
}
