package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/WatchBeam/clock"

	"github.com/flowable/jobservice"
	"github.com/flowable/jobservice/bytearray"
	"github.com/flowable/jobservice/id"
	"github.com/flowable/jobservice/job"
)

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Migrate", func() error { return s.Migrate(ctx) }},
		{"Ping", func() error { return s.Ping(ctx) }},
		{"Close", func() error { return s.Close() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err != nil {
				t.Fatalf("%s returned error: %v", tt.name, err)
			}
		})
	}
}

// ──────────────────────────────────────────────────
// Job store tests
// ──────────────────────────────────────────────────

func newJob(kind job.Kind, handlerType string) *job.Job {
	return &job.Job{
		ID:                   kind.NewID(),
		Kind:                 kind,
		HandlerType:          handlerType,
		HandlerConfiguration: `{"element":"task1"}`,
		ProcessInstanceID:    "pi-1",
		ScopeType:            "bpmn",
		Retries:              3,
		CreateTime:           time.Now().UTC(),
	}
}

func TestInsertAndGet(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob(job.KindReady, "async-continuation")
	if err := s.InsertJob(ctx, j); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}

	got, err := s.GetJob(ctx, job.KindReady, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.HandlerType != "async-continuation" {
		t.Errorf("HandlerType = %q", got.HandlerType)
	}

	// Same id is absent from every other kind's table.
	if _, err := s.GetJob(ctx, job.KindTimer, j.ID); !errors.Is(err, jobservice.ErrJobNotFound) {
		t.Errorf("GetJob(timer) error = %v, want ErrJobNotFound", err)
	}

	if err := s.InsertJob(ctx, j); !errors.Is(err, jobservice.ErrJobAlreadyExists) {
		t.Errorf("duplicate insert error = %v, want ErrJobAlreadyExists", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob(job.KindReady, "async-continuation")
	if err := s.InsertJob(ctx, j); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}

	got, _ := s.GetJob(ctx, job.KindReady, j.ID)
	got.HandlerType = "mutated"

	again, _ := s.GetJob(ctx, job.KindReady, j.ID)
	if again.HandlerType != "async-continuation" {
		t.Error("caller mutation leaked into the store")
	}
}

func TestUpdateRevisionCAS(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob(job.KindReady, "async-continuation")
	if err := s.InsertJob(ctx, j); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}

	first, _ := s.GetJob(ctx, job.KindReady, j.ID)
	second, _ := s.GetJob(ctx, job.KindReady, j.ID)

	first.Retries = 2
	if err := s.UpdateJob(ctx, first); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if first.Revision != 1 {
		t.Errorf("revision after update = %d, want 1", first.Revision)
	}

	second.Retries = 1
	if err := s.UpdateJob(ctx, second); !errors.Is(err, jobservice.ErrConcurrentUpdate) {
		t.Errorf("stale update error = %v, want ErrConcurrentUpdate", err)
	}
}

func TestDuplicateCorrelationID(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	a := newJob(job.KindExternalWorker, "external")
	a.CorrelationID = "corr-1"
	a.Topic = "payments"
	if err := s.InsertJob(ctx, a); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}

	b := newJob(job.KindExternalWorker, "external")
	b.CorrelationID = "corr-1"
	b.Topic = "payments"
	if err := s.InsertJob(ctx, b); !errors.Is(err, jobservice.ErrDuplicateCorrelation) {
		t.Errorf("error = %v, want ErrDuplicateCorrelation", err)
	}
}

func TestJobsToExecuteFiltersDueAndLocked(t *testing.T) {
	t.Parallel()
	mc := clock.NewMockClock()
	s := New(WithClock(mc))
	ctx := context.Background()
	now := mc.Now()

	due := newJob(job.KindTimer, "trigger-timer")
	past := now.Add(-time.Minute)
	due.DueDate = &past

	future := newJob(job.KindTimer, "trigger-timer")
	later := now.Add(time.Hour)
	future.DueDate = &later

	locked := newJob(job.KindTimer, "trigger-timer")
	locked.DueDate = &past
	locked.LockOwner = "worker-1"
	exp := now.Add(time.Minute)
	locked.LockExpirationTime = &exp

	for _, j := range []*job.Job{due, future, locked} {
		if err := s.InsertJob(ctx, j); err != nil {
			t.Fatalf("InsertJob: %v", err)
		}
	}

	got, err := s.JobsToExecute(ctx, job.KindTimer, job.Page{})
	if err != nil {
		t.Fatalf("JobsToExecute: %v", err)
	}
	if len(got) != 1 || got[0].ID != due.ID {
		t.Fatalf("JobsToExecute returned %d jobs, want only the due unlocked one", len(got))
	}
}

func TestAcquireMutualExclusion(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob(job.KindReady, "async-continuation")
	if err := s.InsertJob(ctx, j); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	winners := make(chan string, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			acquired, err := s.AcquireJobs(ctx, job.KindReady, job.AcquireOptions{
				Owner:        owner,
				LockDuration: time.Minute,
				Limit:        10,
			})
			if err != nil {
				t.Errorf("AcquireJobs: %v", err)
				return
			}
			if len(acquired) > 0 {
				winners <- owner
			}
		}(string(rune('A' + i)))
	}
	wg.Wait()
	close(winners)

	var count int
	for range winners {
		count++
	}
	if count != 1 {
		t.Fatalf("%d workers acquired the job, want exactly 1", count)
	}
}

func TestExpiredSweepMakesJobAcquirable(t *testing.T) {
	t.Parallel()
	mc := clock.NewMockClock()
	s := New(WithClock(mc))
	ctx := context.Background()

	j := newJob(job.KindReady, "async-continuation")
	if err := s.InsertJob(ctx, j); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}

	first, err := s.AcquireJobs(ctx, job.KindReady, job.AcquireOptions{
		Owner: "workerA", LockDuration: time.Minute, Limit: 1,
	})
	if err != nil || len(first) != 1 {
		t.Fatalf("first acquire: %v (%d jobs)", err, len(first))
	}

	// Still leased: nothing to claim.
	blocked, _ := s.AcquireJobs(ctx, job.KindReady, job.AcquireOptions{
		Owner: "workerB", LockDuration: time.Minute, Limit: 1,
	})
	if len(blocked) != 0 {
		t.Fatal("second worker claimed a leased job")
	}

	mc.AddTime(2 * time.Minute)

	expired, err := s.ExpiredJobs(ctx, job.KindReady, job.Page{Limit: 10})
	if err != nil {
		t.Fatalf("ExpiredJobs: %v", err)
	}
	if len(expired) != 1 {
		t.Fatalf("expired = %d, want 1", len(expired))
	}
	if err := s.ResetExpiredJob(ctx, job.KindReady, expired[0].ID); err != nil {
		t.Fatalf("ResetExpiredJob: %v", err)
	}

	second, err := s.AcquireJobs(ctx, job.KindReady, job.AcquireOptions{
		Owner: "workerB", LockDuration: time.Minute, Limit: 1,
	})
	if err != nil || len(second) != 1 {
		t.Fatalf("reacquire after sweep: %v (%d jobs)", err, len(second))
	}
	if second[0].LockOwner != "workerB" {
		t.Errorf("lock owner = %q, want workerB", second[0].LockOwner)
	}
}

func TestAcquireTopicAndTenantFilters(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	payments := newJob(job.KindExternalWorker, "external")
	payments.Topic = "payments"
	payments.TenantID = "acme"

	shipping := newJob(job.KindExternalWorker, "external")
	shipping.Topic = "shipping"

	for _, j := range []*job.Job{payments, shipping} {
		if err := s.InsertJob(ctx, j); err != nil {
			t.Fatalf("InsertJob: %v", err)
		}
	}

	got, err := s.AcquireJobs(ctx, job.KindExternalWorker, job.AcquireOptions{
		Owner: "w1", LockDuration: time.Minute, Limit: 10,
		Topic: "payments", TenantID: "acme",
	})
	if err != nil {
		t.Fatalf("AcquireJobs: %v", err)
	}
	if len(got) != 1 || got[0].Topic != "payments" {
		t.Fatalf("acquired %d jobs, want the payments job only", len(got))
	}

	noTenant, err := s.AcquireJobs(ctx, job.KindExternalWorker, job.AcquireOptions{
		Owner: "w2", LockDuration: time.Minute, Limit: 10,
		Topic: "shipping", WithoutTenant: true,
	})
	if err != nil {
		t.Fatalf("AcquireJobs: %v", err)
	}
	if len(noTenant) != 1 || noTenant[0].Topic != "shipping" {
		t.Fatalf("acquired %d jobs, want the tenant-less shipping job", len(noTenant))
	}
}

func TestJobsByQuery(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	failed := newJob(job.KindDeadLetter, "async-continuation")
	failed.SetExceptionMessage("boom")
	failed.TenantID = "acme-west"

	clean := newJob(job.KindDeadLetter, "trigger-timer")
	clean.ScopeID = "case-9"
	clean.SubScopeID = "item-3"

	for _, j := range []*job.Job{failed, clean} {
		if err := s.InsertJob(ctx, j); err != nil {
			t.Fatalf("InsertJob: %v", err)
		}
	}

	tests := []struct {
		name string
		q    job.Query
		want int
	}{
		{"with exception", job.Query{WithException: true}, 1},
		{"by handler type", job.Query{HandlerType: "trigger-timer"}, 1},
		{"handler type list", job.Query{HandlerTypes: []string{"trigger-timer", "async-continuation"}}, 2},
		{"tenant like", job.Query{TenantIDLike: "acme-%"}, 1},
		{"without tenant", job.Query{WithoutTenantID: true}, 1},
		{"scope and sub scope", job.Query{ScopeID: "case-9", SubScopeID: "item-3"}, 1},
		{"no match", job.Query{HandlerType: "missing"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs, err := s.JobsByQuery(ctx, job.KindDeadLetter, tt.q, job.Page{})
			if err != nil {
				t.Fatalf("JobsByQuery: %v", err)
			}
			if len(jobs) != tt.want {
				t.Errorf("len = %d, want %d", len(jobs), tt.want)
			}

			count, err := s.CountJobsByQuery(ctx, job.KindDeadLetter, tt.q)
			if err != nil {
				t.Fatalf("CountJobsByQuery: %v", err)
			}
			if count != int64(tt.want) {
				t.Errorf("count = %d, want %d", count, tt.want)
			}
		})
	}
}

// ──────────────────────────────────────────────────
// Byte-array store tests
// ──────────────────────────────────────────────────

func TestByteArrayCRUD(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	e := &bytearray.Entity{
		ID:    id.NewByteArrayID(),
		Name:  "stacktrace",
		Bytes: []byte("panic: boom"),
	}
	if err := s.InsertByteArray(ctx, e); err != nil {
		t.Fatalf("InsertByteArray: %v", err)
	}

	got, err := s.GetByteArray(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetByteArray: %v", err)
	}
	if string(got.Bytes) != "panic: boom" {
		t.Errorf("Bytes = %q", got.Bytes)
	}

	got.Bytes = []byte("updated")
	if err := s.UpdateByteArray(ctx, got); err != nil {
		t.Fatalf("UpdateByteArray: %v", err)
	}

	if err := s.DeleteByteArray(ctx, e.ID); err != nil {
		t.Fatalf("DeleteByteArray: %v", err)
	}
	if _, err := s.GetByteArray(ctx, e.ID); !errors.Is(err, jobservice.ErrByteArrayNotFound) {
		t.Errorf("after delete error = %v, want ErrByteArrayNotFound", err)
	}
	if err := s.DeleteByteArray(ctx, e.ID); !errors.Is(err, jobservice.ErrByteArrayNotFound) {
		t.Errorf("double delete error = %v, want ErrByteArrayNotFound", err)
	}
}
