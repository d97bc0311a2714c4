package manager_test

import (
	"context"
	"testing"
	"time"

	"github.com/flowable/jobservice"
	"github.com/flowable/jobservice/bytearray"
	"github.com/flowable/jobservice/job"
)

func insertReadyJob(t *testing.T, f *fixture) *job.Job {
	t.Helper()
	ctx := context.Background()

	j := f.set.Ready.New()
	j.HandlerType = "async-continuation"
	j.HandlerConfiguration = `{"element":"serviceTask1"}`
	j.ProcessInstanceID = "pi-1"
	j.ExecutionID = "exec-1"
	j.ScopeType = jobservice.EngineProcess
	j.ElementID = "serviceTask1"
	j.Retries = 3
	j.Exclusive = true
	j.TenantID = "acme"
	if err := f.set.Ready.Insert(ctx, j); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return j
}

func TestMoveToDeadLetterCopiesEverythingButIdentity(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	j := insertReadyJob(t, f)
	j.SetExceptionMessage("no retries left")
	j.ExceptionStacktraceRef = bytearray.NewRef()
	if err := j.ExceptionStacktraceRef.SetString(ctx, f.resolver, jobservice.EngineProcess, "stacktrace", "full trace"); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	j.LockOwner = "node-1"
	exp := f.clock.Now().Add(time.Minute)
	j.LockExpirationTime = &exp

	dl, err := f.set.MoveToDeadLetter(ctx, j)
	if err != nil {
		t.Fatalf("MoveToDeadLetter: %v", err)
	}

	if dl.ID == j.ID {
		t.Error("dead-letter record kept the source id")
	}
	if dl.Kind != job.KindDeadLetter {
		t.Errorf("Kind = %q", dl.Kind)
	}
	if dl.Revision != 0 {
		t.Errorf("Revision = %d, want 0 for a fresh record", dl.Revision)
	}
	if dl.Locked() || dl.LockOwner != "" {
		t.Error("lock state travelled through the transition")
	}
	if dl.HandlerType != j.HandlerType || dl.HandlerConfiguration != j.HandlerConfiguration {
		t.Error("handler binding not copied")
	}
	if dl.ExceptionMessage != "no retries left" {
		t.Errorf("ExceptionMessage = %q", dl.ExceptionMessage)
	}
	if dl.ExceptionStacktraceRef == nil || dl.ExceptionStacktraceRef.ID() != j.ExceptionStacktraceRef.ID() {
		t.Error("stacktrace ref not shared across the transition")
	}
	if dl.TenantID != "acme" || !dl.Exclusive {
		t.Error("tenant or exclusivity not copied")
	}

	// The source is gone; the blob survives under the dead-letter record.
	if _, err := f.set.Ready.Get(ctx, j.ID); err == nil {
		t.Error("source row survived the transition")
	}
	got, err := dl.ExceptionStacktraceRef.Value(ctx, f.resolver, jobservice.EngineProcess)
	if err != nil || string(got) != "full trace" {
		t.Errorf("stacktrace after transition = %q, %v", got, err)
	}
}

func TestMoveTimerToReady(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	due := f.clock.Now().UTC()
	timerJob := f.set.Timer.New()
	timerJob.HandlerType = "trigger-timer"
	timerJob.DueDate = &due
	timerJob.Repeat = "R2/P1D"
	if err := f.set.Timer.Insert(ctx, timerJob); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	ready, err := f.set.MoveTimerToReady(ctx, timerJob)
	if err != nil {
		t.Fatalf("MoveTimerToReady: %v", err)
	}

	if ready.Kind != job.KindReady {
		t.Errorf("Kind = %q", ready.Kind)
	}
	if ready.Repeat != "R2/P1D" {
		t.Errorf("Repeat = %q, repeat expression must survive the move", ready.Repeat)
	}
	if _, err := f.set.Timer.Get(ctx, timerJob.ID); err == nil {
		t.Error("timer row survived the move")
	}
	if _, err := f.set.Ready.Get(ctx, ready.ID); err != nil {
		t.Errorf("ready row missing after the move: %v", err)
	}
}

func TestActivateSuspended(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		due      func(now time.Time) *time.Time
		wantKind job.Kind
	}{
		{
			name:     "no due date becomes ready",
			due:      func(time.Time) *time.Time { return nil },
			wantKind: job.KindReady,
		},
		{
			name: "past due date becomes ready",
			due: func(now time.Time) *time.Time {
				d := now.Add(-time.Hour)
				return &d
			},
			wantKind: job.KindReady,
		},
		{
			name: "future due date becomes timer",
			due: func(now time.Time) *time.Time {
				d := now.Add(time.Hour)
				return &d
			},
			wantKind: job.KindTimer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			ctx := context.Background()

			suspended := f.set.Suspended.New()
			suspended.HandlerType = "async-continuation"
			suspended.DueDate = tt.due(f.clock.Now())
			if err := f.set.Suspended.Insert(ctx, suspended); err != nil {
				t.Fatalf("Insert: %v", err)
			}

			activated, err := f.set.ActivateSuspended(ctx, suspended)
			if err != nil {
				t.Fatalf("ActivateSuspended: %v", err)
			}
			if activated.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", activated.Kind, tt.wantKind)
			}
			if _, err := f.set.Suspended.Get(ctx, suspended.ID); err == nil {
				t.Error("suspended row survived activation")
			}
		})
	}
}

func TestMoveToSuspendedAndBack(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	j := insertReadyJob(t, f)

	suspended, err := f.set.MoveToSuspended(ctx, j)
	if err != nil {
		t.Fatalf("MoveToSuspended: %v", err)
	}
	if suspended.Kind != job.KindSuspended {
		t.Errorf("Kind = %q", suspended.Kind)
	}

	activated, err := f.set.ActivateSuspended(ctx, suspended)
	if err != nil {
		t.Fatalf("ActivateSuspended: %v", err)
	}
	if activated.Kind != job.KindReady {
		t.Errorf("Kind = %q, want ready", activated.Kind)
	}
	if activated.Retries != 3 || activated.HandlerType != "async-continuation" {
		t.Error("execution state lost across suspend/activate round trip")
	}
}

func TestRequeueDeadLetter(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	j := insertReadyJob(t, f)
	j.Retries = 0
	j.SetExceptionMessage("handler exploded")
	dl, err := f.set.MoveToDeadLetter(ctx, j)
	if err != nil {
		t.Fatalf("MoveToDeadLetter: %v", err)
	}

	requeued, err := f.set.RequeueDeadLetter(ctx, dl, 5)
	if err != nil {
		t.Fatalf("RequeueDeadLetter: %v", err)
	}

	if requeued.Kind != job.KindReady {
		t.Errorf("Kind = %q, want ready", requeued.Kind)
	}
	if requeued.ID == dl.ID {
		t.Error("requeued record kept the dead-letter id")
	}
	if requeued.Retries != 5 {
		t.Errorf("Retries = %d, want 5", requeued.Retries)
	}
	if requeued.ExceptionMessage != "handler exploded" {
		t.Errorf("ExceptionMessage = %q, want previous failure preserved", requeued.ExceptionMessage)
	}

	if _, err := f.set.DeadLetter.Get(ctx, dl.ID); err == nil {
		t.Error("dead-letter row survived the requeue")
	}
	if _, err := f.set.Ready.Get(ctx, requeued.ID); err != nil {
		t.Errorf("requeued job not in ready table: %v", err)
	}
}

func TestRequeueDeadLetterDefaultsRetries(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	j := insertReadyJob(t, f)
	j.Retries = 0
	dl, err := f.set.MoveToDeadLetter(ctx, j)
	if err != nil {
		t.Fatalf("MoveToDeadLetter: %v", err)
	}

	requeued, err := f.set.RequeueDeadLetter(ctx, dl, 0)
	if err != nil {
		t.Fatalf("RequeueDeadLetter: %v", err)
	}
	if requeued.Retries != 3 {
		t.Errorf("Retries = %d, want default 3", requeued.Retries)
	}
}

func TestRequeueDeadLetterFutureDueBecomesTimer(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	j := insertReadyJob(t, f)
	j.Retries = 0
	due := f.clock.Now().Add(time.Hour)
	j.DueDate = &due
	dl, err := f.set.MoveToDeadLetter(ctx, j)
	if err != nil {
		t.Fatalf("MoveToDeadLetter: %v", err)
	}

	requeued, err := f.set.RequeueDeadLetter(ctx, dl, 3)
	if err != nil {
		t.Fatalf("RequeueDeadLetter: %v", err)
	}
	if requeued.Kind != job.KindTimer {
		t.Errorf("Kind = %q, want timer for a future due date", requeued.Kind)
	}
	if _, err := f.set.Timer.Get(ctx, requeued.ID); err != nil {
		t.Errorf("requeued job not in timer table: %v", err)
	}
}
