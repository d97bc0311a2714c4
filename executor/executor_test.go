package executor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/WatchBeam/clock"

	"github.com/flowable/jobservice"
	"github.com/flowable/jobservice/backoff"
	"github.com/flowable/jobservice/bytearray"
	"github.com/flowable/jobservice/calendar"
	"github.com/flowable/jobservice/job"
	"github.com/flowable/jobservice/manager"
	"github.com/flowable/jobservice/middleware"
	"github.com/flowable/jobservice/store/memory"
	"github.com/flowable/jobservice/timer"
)

type fixture struct {
	store    *memory.Store
	managers *manager.Set
	resolver *bytearray.Registry
	clock    *clock.MockClock
}

func newFixture(t *testing.T, runner Runner) (*fixture, *Executor) {
	t.Helper()

	mc := clock.NewMockClock()
	s := memory.New(memory.WithClock(mc))
	resolver := bytearray.NewRegistry(map[string]bytearray.Store{
		jobservice.EngineProcess: s,
		jobservice.EngineCase:    s,
	})
	managers := manager.New(s, resolver, manager.WithClock(mc))

	cfg := jobservice.DefaultConfig()
	cfg.LockOwner = "node-1"

	timers := timer.NewService(calendar.NewCycle(mc))
	e := New(cfg, managers, resolver, timers, runner)

	return &fixture{store: s, managers: managers, resolver: resolver, clock: mc}, e
}

func countJobs(t *testing.T, f *fixture, kind job.Kind) int {
	t.Helper()
	n, err := f.store.CountJobsByQuery(context.Background(), kind, job.Query{})
	if err != nil {
		t.Fatalf("CountJobsByQuery(%s): %v", kind, err)
	}
	return int(n)
}

func TestExecuteJobSuccessDeletesJob(t *testing.T) {
	t.Parallel()
	var ran atomic.Int32
	f, e := newFixture(t, func(_ context.Context, _ *job.Job) error {
		ran.Add(1)
		return nil
	})
	ctx := context.Background()

	j := f.managers.Ready.New()
	j.HandlerType = "async-continuation"
	j.Retries = 3
	if err := f.managers.Ready.Insert(ctx, j); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	acquired, err := f.managers.Ready.Acquire(ctx, job.AcquireOptions{
		Owner: "node-1", LockDuration: time.Minute, Limit: 1,
	})
	if err != nil || len(acquired) != 1 {
		t.Fatalf("Acquire: %v (%d jobs)", err, len(acquired))
	}

	e.executeJob(ctx, acquired[0])

	if ran.Load() != 1 {
		t.Errorf("runner ran %d times, want 1", ran.Load())
	}
	if n := countJobs(t, f, job.KindReady); n != 0 {
		t.Errorf("%d ready jobs remain, want 0", n)
	}
}

// Retry exhaustion: a job inserted with three retries fails three times,
// lands in the dead-letter table with a truncated exception message and a
// stored stacktrace, and disappears from the ready table.
func TestRetryExhaustionMovesToDeadLetter(t *testing.T) {
	t.Parallel()
	longMsg := strings.Repeat("handler exploded: stack frame #42; ", 200)
	f, e := newFixture(t, func(_ context.Context, _ *job.Job) error {
		return errors.New(longMsg)
	})
	ctx := context.Background()

	j := f.managers.Ready.New()
	j.HandlerType = "async-continuation"
	j.ScopeType = jobservice.EngineProcess
	j.Retries = 3
	if err := f.managers.Ready.Insert(ctx, j); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	for attempt := 1; attempt <= 3; attempt++ {
		acquired, err := f.managers.Ready.Acquire(ctx, job.AcquireOptions{
			Owner: "node-1", LockDuration: time.Minute, Limit: 1,
		})
		if err != nil {
			t.Fatalf("attempt %d acquire: %v", attempt, err)
		}
		if len(acquired) != 1 {
			t.Fatalf("attempt %d acquired %d jobs, want 1", attempt, len(acquired))
		}
		e.executeJob(ctx, acquired[0])
	}

	if n := countJobs(t, f, job.KindReady); n != 0 {
		t.Fatalf("%d ready jobs remain, want 0", n)
	}

	deadLetters, err := f.managers.DeadLetter.JobsByQuery(ctx, job.Query{}, job.Page{})
	if err != nil {
		t.Fatalf("dead-letter query: %v", err)
	}
	if len(deadLetters) != 1 {
		t.Fatalf("%d dead-letter jobs, want 1", len(deadLetters))
	}

	dl := deadLetters[0]
	if dl.Retries != 0 {
		t.Errorf("dead-letter retries = %d, want 0", dl.Retries)
	}
	if len(dl.ExceptionMessage) > job.MaxExceptionMessageLength {
		t.Errorf("exception message length = %d, exceeds %d",
			len(dl.ExceptionMessage), job.MaxExceptionMessageLength)
	}
	if !strings.HasPrefix(dl.ExceptionMessage, "handler exploded") {
		t.Errorf("exception message = %q", dl.ExceptionMessage[:40])
	}
	if dl.ExceptionStacktraceRef == nil {
		t.Fatal("dead-letter job has no stacktrace ref")
	}
	full, err := dl.ExceptionStacktraceRef.Value(ctx, f.resolver, jobservice.EngineProcess)
	if err != nil {
		t.Fatalf("stacktrace value: %v", err)
	}
	if string(full) != longMsg {
		t.Error("stored stacktrace does not carry the full failure text")
	}
}

func TestFailureWithRetriesLeftKeepsJobSchedulable(t *testing.T) {
	t.Parallel()
	f, e := newFixture(t, func(_ context.Context, _ *job.Job) error {
		return errors.New("transient: connection refused")
	})
	ctx := context.Background()

	j := f.managers.Ready.New()
	j.HandlerType = "async-continuation"
	j.Retries = 3
	if err := f.managers.Ready.Insert(ctx, j); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	acquired, err := f.managers.Ready.Acquire(ctx, job.AcquireOptions{
		Owner: "node-1", LockDuration: time.Minute, Limit: 1,
	})
	if err != nil || len(acquired) != 1 {
		t.Fatalf("Acquire: %v (%d jobs)", err, len(acquired))
	}
	e.executeJob(ctx, acquired[0])

	got, err := f.managers.Ready.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("Get after failure: %v", err)
	}
	if got.Retries != 2 {
		t.Errorf("retries = %d, want 2", got.Retries)
	}
	if got.Locked() {
		t.Error("job still locked after failure, want schedulable")
	}
	if got.ExceptionMessage != "transient: connection refused" {
		t.Errorf("exception message = %q", got.ExceptionMessage)
	}
}

func TestRepeatingJobEnqueuesNextTimer(t *testing.T) {
	t.Parallel()
	f, e := newFixture(t, func(_ context.Context, _ *job.Job) error {
		return nil
	})
	ctx := context.Background()

	start := f.clock.Now().UTC()
	j := f.managers.Ready.New()
	j.HandlerType = "trigger-timer"
	j.Retries = 3
	j.Repeat = "R3/" + start.Format("2006-01-02T15:04:05") + "/P1D"
	if err := f.managers.Ready.Insert(ctx, j); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	acquired, err := f.managers.Ready.Acquire(ctx, job.AcquireOptions{
		Owner: "node-1", LockDuration: time.Minute, Limit: 1,
	})
	if err != nil || len(acquired) != 1 {
		t.Fatalf("Acquire: %v (%d jobs)", err, len(acquired))
	}
	e.executeJob(ctx, acquired[0])

	if n := countJobs(t, f, job.KindReady); n != 0 {
		t.Errorf("%d ready jobs remain, want 0", n)
	}

	timers, err := f.managers.Timer.JobsByQuery(ctx, job.Query{}, job.Page{})
	if err != nil {
		t.Fatalf("timer query: %v", err)
	}
	if len(timers) != 1 {
		t.Fatalf("%d timer jobs, want 1", len(timers))
	}

	next := timers[0]
	if !strings.HasPrefix(next.Repeat, "R2/") {
		t.Errorf("successor repeat = %q, want R2 prefix", next.Repeat)
	}
	if next.DueDate == nil || !next.DueDate.After(f.clock.Now()) {
		t.Error("successor due date not in the future")
	}
	if next.HandlerType != "trigger-timer" {
		t.Errorf("successor handler type = %q", next.HandlerType)
	}
}

func TestRepeatingJobFailureThenSuccessCleansStacktrace(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	f, e := newFixture(t, func(_ context.Context, _ *job.Job) error {
		if calls.Add(1) == 1 {
			return errors.New("transient failure")
		}
		return nil
	})
	ctx := context.Background()

	start := f.clock.Now().UTC()
	j := f.managers.Ready.New()
	j.HandlerType = "trigger-timer"
	j.Retries = 3
	j.Repeat = "R3/" + start.Format("2006-01-02T15:04:05") + "/P1D"
	if err := f.managers.Ready.Insert(ctx, j); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	// First attempt fails: the job stays ready with its stacktrace
	// externalized.
	acquired, err := f.managers.Ready.Acquire(ctx, job.AcquireOptions{
		Owner: "node-1", LockDuration: time.Minute, Limit: 1,
	})
	if err != nil || len(acquired) != 1 {
		t.Fatalf("Acquire: %v (%d jobs)", err, len(acquired))
	}
	e.executeJob(ctx, acquired[0])

	failed, err := f.managers.Ready.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("Get after failure: %v", err)
	}
	if failed.ExceptionStacktraceRef == nil {
		t.Fatal("no stacktrace ref after failure")
	}
	barID := failed.ExceptionStacktraceRef.ID()
	if _, err := f.store.GetByteArray(ctx, barID); err != nil {
		t.Fatalf("stacktrace blob missing after failure: %v", err)
	}

	// Second attempt succeeds: the successor timer carries no failure
	// payload, so the stacktrace blob must not survive it.
	acquired, err = f.managers.Ready.Acquire(ctx, job.AcquireOptions{
		Owner: "node-1", LockDuration: time.Minute, Limit: 1,
	})
	if err != nil || len(acquired) != 1 {
		t.Fatalf("second Acquire: %v (%d jobs)", err, len(acquired))
	}
	e.executeJob(ctx, acquired[0])

	timers, err := f.managers.Timer.JobsByQuery(ctx, job.Query{}, job.Page{})
	if err != nil {
		t.Fatalf("timer query: %v", err)
	}
	if len(timers) != 1 {
		t.Fatalf("%d timer jobs, want 1", len(timers))
	}
	if timers[0].ExceptionStacktraceRef != nil {
		t.Error("successor carries the stacktrace ref")
	}

	if _, err := f.store.GetByteArray(ctx, barID); !errors.Is(err, jobservice.ErrByteArrayNotFound) {
		t.Errorf("stacktrace blob after success: err = %v, want ErrByteArrayNotFound", err)
	}
}

func TestSweepExpiredResetsLeases(t *testing.T) {
	t.Parallel()
	f, e := newFixture(t, func(_ context.Context, _ *job.Job) error {
		return nil
	})
	ctx := context.Background()

	j := f.managers.Ready.New()
	j.HandlerType = "async-continuation"
	j.Retries = 3
	if err := f.managers.Ready.Insert(ctx, j); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if _, err := f.managers.Ready.Acquire(ctx, job.AcquireOptions{
		Owner: "crashed-node", LockDuration: time.Minute, Limit: 1,
	}); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	f.clock.AddTime(2 * time.Minute)
	e.sweepExpired()

	got, err := f.managers.Ready.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("Get after sweep: %v", err)
	}
	if got.Locked() {
		t.Error("lease still present after sweep")
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	executed := make(chan string, 1)
	f, e := newFixture(t, func(_ context.Context, j *job.Job) error {
		select {
		case executed <- j.HandlerType:
		default:
		}
		return nil
	})
	e.idle = backoff.NewConstant(10 * time.Millisecond)
	ctx := context.Background()

	j := f.managers.Ready.New()
	j.HandlerType = "async-continuation"
	j.Retries = 3
	if err := f.managers.Ready.Insert(ctx, j); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case handlerType := <-executed:
		if handlerType != "async-continuation" {
			t.Errorf("executed handler = %q", handlerType)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("job was not executed before timeout")
	}

	if err := e.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestMiddlewareWrapsRunner(t *testing.T) {
	t.Parallel()
	var order []string
	f, e := newFixture(t, func(_ context.Context, _ *job.Job) error {
		order = append(order, "runner")
		return nil
	})
	e.middleware = append(e.middleware,
		func(ctx context.Context, j *job.Job, next middleware.Handler) error {
			order = append(order, "before")
			err := next(ctx)
			order = append(order, "after")
			return err
		},
	)
	ctx := context.Background()

	j := f.managers.Ready.New()
	j.HandlerType = "async-continuation"
	j.Retries = 3
	if err := f.managers.Ready.Insert(ctx, j); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	acquired, err := f.managers.Ready.Acquire(ctx, job.AcquireOptions{
		Owner: "node-1", LockDuration: time.Minute, Limit: 1,
	})
	if err != nil || len(acquired) != 1 {
		t.Fatalf("Acquire: %v (%d jobs)", err, len(acquired))
	}

	e.executeJob(ctx, acquired[0])

	want := []string{"before", "runner", "after"}
	if len(order) != len(want) {
		t.Fatalf("got order %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got order %v, want %v", order, want)
		}
	}
	if got := countJobs(t, f, job.KindReady); got != 0 {
		t.Errorf("ready jobs after success = %d, want 0", got)
	}
}

func TestMiddlewarePanicRecoveryFeedsRetryPath(t *testing.T) {
	t.Parallel()
	f, e := newFixture(t, func(_ context.Context, _ *job.Job) error {
		panic("handler blew up")
	})
	e.middleware = append(e.middleware, middleware.Recover(slog.Default()))
	ctx := context.Background()

	j := f.managers.Ready.New()
	j.HandlerType = "async-continuation"
	j.Retries = 3
	if err := f.managers.Ready.Insert(ctx, j); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	acquired, err := f.managers.Ready.Acquire(ctx, job.AcquireOptions{
		Owner: "node-1", LockDuration: time.Minute, Limit: 1,
	})
	if err != nil || len(acquired) != 1 {
		t.Fatalf("Acquire: %v (%d jobs)", err, len(acquired))
	}

	e.executeJob(ctx, acquired[0])

	got, err := f.store.GetJob(ctx, job.KindReady, j.ID)
	if err != nil {
		t.Fatalf("GetJob after panic: %v", err)
	}
	if got.Retries != 2 {
		t.Errorf("Retries = %d, want 2", got.Retries)
	}
	if !strings.Contains(got.ExceptionMessage, "handler blew up") {
		t.Errorf("ExceptionMessage = %q, want panic text", got.ExceptionMessage)
	}
}
