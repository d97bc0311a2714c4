package calendar

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/WatchBeam/clock"
	"github.com/sosodev/duration"
)

// hardIterationCap bounds cycle stepping when no max iterations are
// configured, so a malformed zero-length duration cannot spin forever.
const hardIterationCap = 10000

// Cycle implements BusinessCalendar for ISO-8601 repeating intervals of the
// forms R<n>/<start>/<duration>, R<n>/<duration>/<end>, and R<n>/<duration>.
// An omitted or negative count means unbounded. Plain duration expressions
// (P...) and absolute dates are accepted as degenerate single-occurrence
// cycles.
type Cycle struct {
	clock clock.Clock
}

// NewCycle creates a cycle calendar on the given clock.
func NewCycle(c clock.Clock) *Cycle {
	return &Cycle{clock: c}
}

var _ BusinessCalendar = (*Cycle)(nil)

// ResolveDueDate computes the next due date strictly after the clock's now.
func (c *Cycle) ResolveDueDate(repeat string, maxIterations int) (*time.Time, error) {
	now := c.clock.Now()

	spec, err := parseCycle(repeat)
	if err != nil {
		return nil, err
	}

	if spec.bounded && spec.count <= 0 {
		return nil, nil
	}

	// Degenerate forms.
	if spec.duration == nil {
		if spec.start == nil {
			return nil, nil
		}
		due := *spec.start
		return &due, nil
	}
	if spec.start == nil {
		due := addDuration(now, spec.duration)
		return &due, nil
	}

	// Step from the cycle start until the first occurrence after now.
	limit := hardIterationCap
	if maxIterations > 0 && maxIterations < limit {
		limit = maxIterations
	}

	due := *spec.start
	for i := 0; !due.After(now); i++ {
		if i >= limit {
			return nil, nil
		}
		next := addDuration(due, spec.duration)
		if !next.After(due) {
			return nil, fmt.Errorf("calendar: non-advancing duration in %q", repeat)
		}
		due = next
	}

	if spec.end != nil && due.After(*spec.end) {
		return nil, nil
	}
	return &due, nil
}

// ValidateDueDate accepts a candidate when the expression still has
// occurrences left and the candidate does not pass the end bounds.
func (c *Cycle) ValidateDueDate(repeat string, maxIterations int, endDate *time.Time, candidate time.Time) (bool, error) {
	spec, err := parseCycle(repeat)
	if err != nil {
		return false, err
	}

	if spec.bounded && spec.count <= 0 {
		return false, nil
	}
	if spec.end != nil && candidate.After(*spec.end) {
		return false, nil
	}
	if endDate != nil && candidate.After(*endDate) {
		return false, nil
	}

	if maxIterations > 0 && spec.start != nil && spec.duration != nil {
		steps := 0
		for t := *spec.start; t.Before(candidate); t = addDuration(t, spec.duration) {
			steps++
			if steps > maxIterations {
				return false, nil
			}
		}
	}

	return true, nil
}

// cycleSpec is a parsed repeat expression.
type cycleSpec struct {
	count    int
	bounded  bool
	start    *time.Time
	duration *duration.Duration
	end      *time.Time
}

func parseCycle(repeat string) (*cycleSpec, error) {
	repeat = strings.TrimSpace(repeat)
	if repeat == "" {
		return nil, fmt.Errorf("calendar: empty repeat expression")
	}

	spec := &cycleSpec{}
	tokens := strings.Split(repeat, "/")

	if !strings.HasPrefix(tokens[0], "R") {
		// Degenerate single occurrence: a bare duration or date.
		return parseSingle(repeat)
	}

	if counter := tokens[0][1:]; counter != "" {
		n, err := strconv.Atoi(counter)
		if err != nil {
			return nil, fmt.Errorf("calendar: invalid repeat count %q: %w", tokens[0], err)
		}
		if n >= 0 {
			spec.count = n
			spec.bounded = true
		}
	}

	rest := tokens[1:]
	switch len(rest) {
	case 1:
		d, err := duration.Parse(rest[0])
		if err != nil {
			return nil, fmt.Errorf("calendar: parse duration %q: %w", rest[0], err)
		}
		spec.duration = d
	case 2:
		if strings.HasPrefix(rest[0], "P") {
			// duration/end
			d, err := duration.Parse(rest[0])
			if err != nil {
				return nil, fmt.Errorf("calendar: parse duration %q: %w", rest[0], err)
			}
			end, err := parseDate(rest[1])
			if err != nil {
				return nil, err
			}
			spec.duration = d
			spec.end = &end
		} else {
			// start/duration
			start, err := parseDate(rest[0])
			if err != nil {
				return nil, err
			}
			d, err := duration.Parse(rest[1])
			if err != nil {
				return nil, fmt.Errorf("calendar: parse duration %q: %w", rest[1], err)
			}
			spec.start = &start
			spec.duration = d
		}
	default:
		return nil, fmt.Errorf("calendar: malformed repeat expression %q", repeat)
	}

	return spec, nil
}

func parseSingle(expr string) (*cycleSpec, error) {
	if strings.HasPrefix(expr, "P") {
		d, err := duration.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("calendar: parse duration %q: %w", expr, err)
		}
		return &cycleSpec{duration: d}, nil
	}
	t, err := parseDate(expr)
	if err != nil {
		return nil, err
	}
	return &cycleSpec{start: &t}, nil
}

// parseDate accepts RFC 3339 timestamps and the zone-less variant used in
// process definitions (interpreted as UTC).
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("calendar: parse date %q", s)
}

// addDuration applies an ISO-8601 duration to t, using calendar arithmetic
// for the year/month/week/day components and wall time for the rest.
func addDuration(t time.Time, d *duration.Duration) time.Time {
	t = t.AddDate(int(d.Years), int(d.Months), int(d.Weeks)*7+int(d.Days))
	wall := time.Duration((d.Hours*3600 + d.Minutes*60 + d.Seconds) * float64(time.Second))
	return t.Add(wall)
}
