// Package timer computes the next occurrence of repeating jobs. Given a
// repeat expression of the form R<n>/<ISO-8601 start>/<ISO-8601 duration>
// (count omitted or negative meaning unbounded), it decides whether another
// occurrence exists and constructs the timer record for it.
package timer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/flowable/jobservice/calendar"
	"github.com/flowable/jobservice/job"
)

// Unbounded is the repeat value of a cycle with no occurrence limit.
const Unbounded = -1

// RepeatValue parses the leading R token of the job's repeat expression and
// returns the occurrence budget left after consuming one: Unbounded when no
// count is given, n-1 for a count n > 0, and 0 when the budget is spent.
func RepeatValue(j *job.Job) int {
	n, bounded := parseRepeatCount(j.Repeat)
	if !bounded {
		return Unbounded
	}
	if n > 0 {
		return n - 1
	}
	return 0
}

// Service derives next timer occurrences through a business calendar.
type Service struct {
	calendar calendar.BusinessCalendar
}

// NewService creates a timer service on the given calendar.
func NewService(cal calendar.BusinessCalendar) *Service {
	return &Service{calendar: cal}
}

// NextTimerJob computes the next occurrence of a repeating job and returns
// the timer record for it, ready for insertion. It returns nil when the
// chain terminates: the occurrence budget is spent, the calendar yields no
// further date, or the candidate fails validation against the (rewritten)
// expression, max iterations, and end date. A terminated chain is a normal
// state, not an error.
func (s *Service) NextTimerJob(j *job.Job) (*job.Job, error) {
	if j.Repeat == "" {
		return nil, nil
	}

	count, bounded := parseRepeatCount(j.Repeat)
	if bounded && count <= 0 {
		return nil, nil
	}

	repeat := j.Repeat
	if bounded {
		rewritten, err := rewriteRepeat(repeat, count-1)
		if err != nil {
			return nil, err
		}
		repeat = rewritten
	}

	due, err := s.calendar.ResolveDueDate(repeat, j.MaxIterations)
	if err != nil {
		return nil, fmt.Errorf("timer: resolve due date for %q: %w", repeat, err)
	}
	if due == nil {
		return nil, nil
	}

	ok, err := s.calendar.ValidateDueDate(repeat, j.MaxIterations, j.EndDate, *due)
	if err != nil {
		return nil, fmt.Errorf("timer: validate due date for %q: %w", repeat, err)
	}
	if !ok {
		return nil, nil
	}

	next := job.NewForTransition(j, job.KindTimer)
	next.Repeat = repeat
	next.DueDate = due
	next.ExceptionMessage = ""
	next.ExceptionStacktraceRef = nil
	return next, nil
}

// parseRepeatCount extracts the count of the leading R token. The second
// result is false when the expression is unbounded (no count, a negative
// count, or no R token at all).
func parseRepeatCount(repeat string) (int, bool) {
	token, _, found := strings.Cut(repeat, "/")
	if !found || !strings.HasPrefix(token, "R") || len(token) == 1 {
		return 0, false
	}
	n, err := strconv.Atoi(token[1:])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// rewriteRepeat replaces the count of the leading R token, preserving the
// remaining slash-separated tokens verbatim.
func rewriteRepeat(repeat string, count int) (string, error) {
	_, rest, found := strings.Cut(repeat, "/")
	if !found {
		return "", fmt.Errorf("timer: malformed repeat expression %q", repeat)
	}
	return fmt.Sprintf("R%d/%s", count, rest), nil
}
