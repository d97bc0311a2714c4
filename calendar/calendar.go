// Package calendar provides the business-calendar collaborator used by the
// timer computation: given a repeat expression it resolves the next due
// date and validates candidate dates against iteration and date bounds.
package calendar

import "time"

// BusinessCalendar resolves and validates due dates for repeat expressions.
// The job-execution core consumes this as a black box; Cycle is the
// standard implementation for ISO-8601 repeating intervals.
type BusinessCalendar interface {
	// ResolveDueDate computes the next due date for the expression, or
	// nil when the expression yields no further occurrence.
	ResolveDueDate(repeat string, maxIterations int) (*time.Time, error)

	// ValidateDueDate reports whether candidate is an acceptable next due
	// date for the expression, honoring maxIterations and endDate.
	ValidateDueDate(repeat string, maxIterations int, endDate *time.Time, candidate time.Time) (bool, error)
}
