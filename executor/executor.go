// Package executor runs the acquisition loops of the job engine: claiming
// due ready jobs and handing them to workers, firing due timers into the
// ready table, and sweeping expired leases back into circulation. Failure
// handling lives here too — retry countdown, exception recording, and the
// final move to the dead-letter table.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowable/jobservice"
	"github.com/flowable/jobservice/backoff"
	"github.com/flowable/jobservice/bytearray"
	"github.com/flowable/jobservice/job"
	"github.com/flowable/jobservice/manager"
	"github.com/flowable/jobservice/middleware"
	"github.com/flowable/jobservice/timer"
)

// stacktraceName is the byte-array name under which failure stacktraces
// are stored.
const stacktraceName = "stacktrace"

// Runner executes the business logic of one acquired job. The handler
// registry lives outside this module; the runner bridges to it, typically
// by dispatching on j.HandlerType.
type Runner func(ctx context.Context, j *job.Job) error

// Executor owns the background loops of one engine node.
type Executor struct {
	cfg        jobservice.Config
	managers   *manager.Set
	resolver   bytearray.Resolver
	timers     *timer.Service
	runner     Runner
	middleware []middleware.Middleware
	idle       backoff.Strategy
	logger     *slog.Logger

	concurrency int
	withHistory bool

	queue   chan *job.Job
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// Option configures an Executor.
type Option func(*Executor)

// WithConcurrency sets the number of worker goroutines executing acquired
// jobs.
func WithConcurrency(n int) Option {
	return func(e *Executor) { e.concurrency = n }
}

// WithIdleBackoff sets the strategy stretching the wait between empty
// acquisition passes.
func WithIdleBackoff(s backoff.Strategy) Option {
	return func(e *Executor) { e.idle = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithHistoryJobs enables an acquisition loop over the history-job table.
// History jobs run through the same runner as ready jobs.
func WithHistoryJobs() Option {
	return func(e *Executor) { e.withHistory = true }
}

// WithMiddleware wraps the runner with the given middleware chain. The
// first middleware is the outermost wrapper.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(e *Executor) { e.middleware = append(e.middleware, mws...) }
}

// New creates an executor over the manager set. The runner is required;
// everything else has defaults from cfg and the options.
func New(cfg jobservice.Config, managers *manager.Set, resolver bytearray.Resolver, timers *timer.Service, runner Runner, opts ...Option) *Executor {
	if cfg.LockOwner == "" {
		cfg.LockOwner = uuid.NewString()
	}

	e := &Executor{
		cfg:         cfg,
		managers:    managers,
		resolver:    resolver,
		timers:      timers,
		runner:      runner,
		idle:        backoff.DefaultStrategy(),
		logger:      slog.Default(),
		concurrency: 8,
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.queue = make(chan *job.Job, e.concurrency)
	return e
}

// LockOwner returns the lease owner identity of this executor instance.
func (e *Executor) LockOwner() string { return e.cfg.LockOwner }

// Start launches the background loops. It returns immediately.
func (e *Executor) Start(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}
	e.running = true

	e.logger.Info("job executor starting",
		slog.String("lock_owner", e.cfg.LockOwner),
		slog.Int("concurrency", e.concurrency),
		slog.Bool("history_jobs", e.withHistory),
	)

	for range e.concurrency {
		e.wg.Add(1)
		go e.workerLoop()
	}

	e.wg.Add(1)
	go e.acquireLoop(e.managers.Ready.Acquire, e.cfg.AsyncJobLockDuration)

	if e.withHistory {
		e.wg.Add(1)
		go e.acquireLoop(e.managers.History.Acquire, e.cfg.AsyncJobLockDuration)
	}

	e.wg.Add(1)
	go e.timerLoop()

	e.wg.Add(1)
	go e.sweepLoop()

	return nil
}

// Stop signals all loops to stop and waits up to cfg.ShutdownTimeout for
// in-flight jobs to finish.
func (e *Executor) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.mu.Unlock()

	e.logger.Info("job executor stopping", slog.String("lock_owner", e.cfg.LockOwner))

	close(e.stopCh)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	deadline := e.cfg.ShutdownTimeout
	if deadline <= 0 {
		deadline = 30 * time.Second
	}

	select {
	case <-done:
		e.logger.Info("job executor stopped gracefully")
		return nil
	case <-time.After(deadline):
		e.logger.Warn("job executor shutdown timed out")
		return fmt.Errorf("jobservice: executor shutdown timed out after %v", deadline)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// acquireFunc is one manager's Acquire method.
type acquireFunc func(ctx context.Context, opts job.AcquireOptions) ([]*job.Job, error)

// acquireLoop claims due jobs in batches and feeds them to the workers.
// Empty passes back off; a pass that found work resets the backoff.
func (e *Executor) acquireLoop(acquire acquireFunc, lockDuration time.Duration) {
	defer e.wg.Done()

	idle := backoff.NewIdle(e.idle)

	for {
		select {
		case <-e.stopCh:
			return
		default:
		}

		jobs, err := acquire(context.Background(), job.AcquireOptions{
			Owner:        e.cfg.LockOwner,
			LockDuration: lockDuration,
			Limit:        e.cfg.MaxJobsPerAcquisition,
		})
		if err != nil {
			e.logger.Error("job acquisition failed", slog.String("error", err.Error()))
			e.sleep(idle.Next())
			continue
		}

		if len(jobs) == 0 {
			e.sleep(idle.Next())
			continue
		}
		idle.Reset()

		for _, j := range jobs {
			select {
			case e.queue <- j:
			case <-e.stopCh:
				return
			}
		}
	}
}

// timerLoop claims due timers and moves each into the ready table, where
// the acquisition loop picks it up.
func (e *Executor) timerLoop() {
	defer e.wg.Done()

	idle := backoff.NewIdle(e.idle)

	for {
		select {
		case <-e.stopCh:
			return
		default:
		}

		timers, err := e.managers.Timer.Acquire(context.Background(), job.AcquireOptions{
			Owner:        e.cfg.LockOwner,
			LockDuration: e.cfg.TimerLockDuration,
			Limit:        e.cfg.MaxJobsPerAcquisition,
		})
		if err != nil {
			e.logger.Error("timer acquisition failed", slog.String("error", err.Error()))
			e.sleep(idle.Next())
			continue
		}

		if len(timers) == 0 {
			e.sleep(idle.Next())
			continue
		}
		idle.Reset()

		for _, t := range timers {
			if _, moveErr := e.managers.MoveTimerToReady(context.Background(), t); moveErr != nil {
				e.logger.Error("timer move failed",
					slog.String("job_id", t.ID.String()),
					slog.String("error", moveErr.Error()),
				)
			}
		}
	}
}

// sweepLoop periodically resets expired leases on every lockable kind, so
// jobs orphaned by a crashed node become acquirable again.
func (e *Executor) sweepLoop() {
	defer e.wg.Done()

	interval := e.cfg.ResetExpiredInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.sweepExpired()
		}
	}
}

func (e *Executor) sweepExpired() {
	ctx := context.Background()
	page := job.Page{Limit: e.cfg.ResetExpiredPageSize}

	for _, kind := range job.Kinds {
		if !kind.Lockable() {
			continue
		}

		m := e.managers.For(kind)
		expired, err := m.ExpiredJobs(ctx, page)
		if err != nil {
			e.logger.Error("expired-lock query failed",
				slog.String("kind", string(kind)),
				slog.String("error", err.Error()),
			)
			continue
		}

		for _, j := range expired {
			if resetErr := m.ResetExpiredJob(ctx, j.ID); resetErr != nil {
				e.logger.Error("lock reset failed",
					slog.String("job_id", j.ID.String()),
					slog.String("error", resetErr.Error()),
				)
				continue
			}
			e.logger.Info("reset expired job lock",
				slog.String("job_id", j.ID.String()),
				slog.String("kind", string(kind)),
				slog.String("previous_owner", j.LockOwner),
			)
		}
	}
}

// workerLoop executes queued jobs until stopped.
func (e *Executor) workerLoop() {
	defer e.wg.Done()

	for {
		select {
		case <-e.stopCh:
			return
		case j := <-e.queue:
			e.executeJob(context.Background(), j)
		}
	}
}

// executeJob runs one acquired job through the runner and settles its
// outcome: completion (with the next timer occurrence for repeating jobs)
// or the failure path.
func (e *Executor) executeJob(ctx context.Context, j *job.Job) {
	start := time.Now()
	err := e.runJob(ctx, j)
	elapsed := time.Since(start)

	if err != nil {
		e.handleFailure(ctx, j, err)
		return
	}

	e.handleSuccess(ctx, j, elapsed)
}

// runJob invokes the runner through the configured middleware chain.
func (e *Executor) runJob(ctx context.Context, j *job.Job) error {
	if len(e.middleware) == 0 {
		return e.runner(ctx, j)
	}
	chain := middleware.Chain(e.middleware...)
	return chain(ctx, j, func(ctx context.Context) error {
		return e.runner(ctx, j)
	})
}

// handleSuccess removes the completed job. A repeating job first enqueues
// its next timer occurrence; the successor shares the byte arrays, so only
// the row is deleted in that case.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, elapsed time.Duration) {
	m := e.managers.For(j.Kind)

	if j.Repeat != "" {
		next, err := e.timers.NextTimerJob(j)
		if err != nil {
			e.handleFailure(ctx, j, err)
			return
		}
		if next != nil {
			if insertErr := e.managers.Timer.Insert(ctx, next); insertErr != nil {
				e.logger.Error("next timer insert failed",
					slog.String("job_id", j.ID.String()),
					slog.String("error", insertErr.Error()),
				)
				return
			}
			if deleteErr := m.DeleteRowOnly(ctx, j); deleteErr != nil {
				e.logger.Error("completed job delete failed",
					slog.String("job_id", j.ID.String()),
					slog.String("error", deleteErr.Error()),
				)
				return
			}
			// The successor carries the custom values but not the failure
			// payload; an earlier attempt's stacktrace has no owner left.
			if j.ExceptionStacktraceRef != nil {
				if delErr := j.ExceptionStacktraceRef.Delete(ctx, e.resolver, engineTypeFor(j)); delErr != nil {
					e.logger.Error("stacktrace cleanup failed",
						slog.String("job_id", j.ID.String()),
						slog.String("error", delErr.Error()),
					)
				}
			}
			e.managers.Events().EmitJobExecuted(ctx, j, elapsed)
			return
		}
	}

	if err := m.Delete(ctx, j); err != nil {
		e.logger.Error("completed job delete failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	e.managers.Events().EmitJobExecuted(ctx, j, elapsed)
}

// handleFailure counts down the retries and records the failure. A job
// with retries left goes back into circulation with its lock cleared; an
// exhausted one moves to the dead-letter table.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, jobErr error) {
	j.Retries--
	j.SetExceptionMessage(jobErr.Error())

	if recordErr := e.recordStacktrace(ctx, j, jobErr); recordErr != nil {
		e.logger.Error("stacktrace record failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", recordErr.Error()),
		)
	}

	if j.Retries > 0 {
		j.ClearLock()
		if updateErr := e.managers.For(j.Kind).Update(ctx, j); updateErr != nil {
			e.logger.Error("retry update failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", updateErr.Error()),
			)
			return
		}
		e.managers.Events().EmitJobRetrying(ctx, j, jobErr)
		e.logger.Info("job failed, retrying",
			slog.String("job_id", j.ID.String()),
			slog.String("handler_type", j.HandlerType),
			slog.Int("retries_left", j.Retries),
			slog.String("error", jobErr.Error()),
		)
		return
	}

	dl, moveErr := e.managers.MoveToDeadLetter(ctx, j)
	if moveErr != nil {
		e.logger.Error("dead-letter move failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", moveErr.Error()),
		)
		return
	}
	e.managers.Events().EmitJobDeadLettered(ctx, dl, jobErr)
	e.logger.Warn("job moved to dead letter after exhausting retries",
		slog.String("job_id", j.ID.String()),
		slog.String("dead_letter_id", dl.ID.String()),
		slog.String("handler_type", j.HandlerType),
		slog.String("error", jobErr.Error()),
	)
}

// recordStacktrace externalizes the full failure text; the exception
// message column only carries the truncated head.
func (e *Executor) recordStacktrace(ctx context.Context, j *job.Job, jobErr error) error {
	if j.ExceptionStacktraceRef == nil {
		j.ExceptionStacktraceRef = bytearray.NewRef()
	}
	return j.ExceptionStacktraceRef.SetString(ctx, e.resolver, engineTypeFor(j), stacktraceName, jobErr.Error())
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

func (e *Executor) sleep(d time.Duration) {
	if d <= 0 {
		d = e.cfg.PollInterval
	}
	select {
	case <-time.After(d):
	case <-e.stopCh:
	}
}
