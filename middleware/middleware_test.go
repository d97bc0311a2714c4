package middleware

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/flowable/jobservice/job"
)

func testJob() *job.Job {
	return &job.Job{
		ID:          job.KindReady.NewID(),
		Kind:        job.KindReady,
		HandlerType: "async-continuation",
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mk := func(name string) Middleware {
		return func(ctx context.Context, j *job.Job, next Handler) error {
			order = append(order, name+":before")
			err := next(ctx)
			order = append(order, name+":after")
			return err
		}
	}

	chain := Chain(mk("outer"), mk("inner"))
	err := chain(context.Background(), testJob(), func(ctx context.Context) error {
		order = append(order, "handler")
		return nil
	})
	if err != nil {
		t.Fatalf("chain returned error: %v", err)
	}

	want := []string{"outer:before", "inner:before", "handler", "inner:after", "outer:after"}
	if len(order) != len(want) {
		t.Fatalf("got order %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got order %v, want %v", order, want)
		}
	}
}

func TestChainEmpty(t *testing.T) {
	chain := Chain()
	called := false
	err := chain(context.Background(), testJob(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("empty chain returned error: %v", err)
	}
	if !called {
		t.Fatal("handler not called through empty chain")
	}
}

func TestChainPropagatesError(t *testing.T) {
	sentinel := errors.New("boom")
	chain := Chain(Logging(slog.Default()))
	err := chain(context.Background(), testJob(), func(ctx context.Context) error {
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("got %v, want %v", err, sentinel)
	}
}

func TestRecoverConvertsPanic(t *testing.T) {
	mw := Recover(slog.Default())
	err := mw(context.Background(), testJob(), func(ctx context.Context) error {
		panic("kaboom")
	})
	if err == nil {
		t.Fatal("expected error from recovered panic")
	}
	if got := err.Error(); got != "jobservice/middleware: handler panic: kaboom" {
		t.Fatalf("unexpected error text: %q", got)
	}
}

func TestRecoverPassesThroughSuccess(t *testing.T) {
	mw := Recover(nil)
	err := mw(context.Background(), testJob(), func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
