package manager

import (
	"context"
	"log/slog"

	"github.com/flowable/jobservice/job"
)

// Transitions convert a logical job between physical kinds. Each is an
// insert of the new record plus a delete of the old one — the two steps of
// one logical transition. Atomicity across the pair is the backend
// transaction's concern, not this layer's.

// MoveToDeadLetter converts a job whose retries are exhausted into a
// dead-letter record. The source's exception payload travels with it; its
// lock state and id do not. No further execution happens until an operator
// intervenes.
func (s *Set) MoveToDeadLetter(ctx context.Context, source *job.Job) (*job.Job, error) {
	dl := job.NewForTransition(source, job.KindDeadLetter)

	if err := s.DeadLetter.Insert(ctx, dl); err != nil {
		return nil, err
	}
	if err := s.For(source.Kind).DeleteRowOnly(ctx, source); err != nil {
		return nil, err
	}

	s.Ready.logger.Debug("job moved to dead letter",
		slog.String("source_id", source.ID.String()),
		slog.String("dead_letter_id", dl.ID.String()),
		slog.String("handler_type", dl.HandlerType),
	)
	return dl, nil
}

// MoveToSuspended parks a job while its owning scope is suspended.
func (s *Set) MoveToSuspended(ctx context.Context, source *job.Job) (*job.Job, error) {
	suspended := job.NewForTransition(source, job.KindSuspended)

	if err := s.Suspended.Insert(ctx, suspended); err != nil {
		return nil, err
	}
	if err := s.For(source.Kind).DeleteRowOnly(ctx, source); err != nil {
		return nil, err
	}
	return suspended, nil
}

// ActivateSuspended returns a suspended job to the schedulable kinds: a
// job with a future due date becomes a timer, anything else becomes ready.
func (s *Set) ActivateSuspended(ctx context.Context, suspended *job.Job) (*job.Job, error) {
	target := job.KindReady
	if suspended.DueDate != nil && suspended.DueDate.After(s.Clock().Now()) {
		target = job.KindTimer
	}

	activated := job.NewForTransition(suspended, target)

	var err error
	if target == job.KindTimer {
		err = s.Timer.Insert(ctx, activated)
	} else {
		err = s.Ready.Insert(ctx, activated)
	}
	if err != nil {
		return nil, err
	}

	if err := s.Suspended.DeleteRowOnly(ctx, suspended); err != nil {
		return nil, err
	}
	return activated, nil
}

// requeueDefaultRetries is the retry budget given to a requeued
// dead-letter job when the caller passes none.
const requeueDefaultRetries = 3

// RequeueDeadLetter puts a dead-letter job back into circulation with a
// fresh retry budget. A job with a future due date becomes a timer,
// anything else becomes ready. The exception payload of the last failure
// travels with the new record for operator forensics; retries <= 0 means
// the default budget.
func (s *Set) RequeueDeadLetter(ctx context.Context, dl *job.Job, retries int) (*job.Job, error) {
	if retries <= 0 {
		retries = requeueDefaultRetries
	}

	target := job.KindReady
	if dl.DueDate != nil && dl.DueDate.After(s.Clock().Now()) {
		target = job.KindTimer
	}

	requeued := job.NewForTransition(dl, target)
	requeued.Retries = retries

	var err error
	if target == job.KindTimer {
		err = s.Timer.Insert(ctx, requeued)
	} else {
		err = s.Ready.Insert(ctx, requeued)
	}
	if err != nil {
		return nil, err
	}

	if err := s.DeadLetter.DeleteRowOnly(ctx, dl); err != nil {
		return nil, err
	}

	s.Ready.logger.Info("dead-letter job requeued",
		slog.String("dead_letter_id", dl.ID.String()),
		slog.String("requeued_id", requeued.ID.String()),
		slog.String("target_kind", string(target)),
		slog.Int("retries", retries),
	)
	return requeued, nil
}

// MoveTimerToReady converts a fired timer into a ready job for the
// executor to pick up.
func (s *Set) MoveTimerToReady(ctx context.Context, timerJob *job.Job) (*job.Job, error) {
	ready := job.NewForTransition(timerJob, job.KindReady)

	if err := s.Ready.Insert(ctx, ready); err != nil {
		return nil, err
	}
	if err := s.Timer.DeleteRowOnly(ctx, timerJob); err != nil {
		return nil, err
	}
	return ready, nil
}

// DeleteRowOnly removes the source row of a transition without touching
// its byte arrays: the new record copied the references, so the blobs stay
// owned.
func (m *Manager) DeleteRowOnly(ctx context.Context, j *job.Job) error {
	if err := m.store.DeleteJob(ctx, j.Kind, j.ID); err != nil {
		return err
	}
	m.events.EmitEntityDeleted(ctx, j)
	return nil
}
