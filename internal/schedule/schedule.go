// Package schedule parses 5-field cron expressions and computes the next
// firing instant after a given time.
//
//	minute (0-59) hour (0-23) day-of-month (1-31) month (1-12) day-of-week (0-7, 0 and 7 = Sunday)
//
// Each field accepts a wildcard, single values, ranges (1-5), lists (1,3,5)
// and steps (*/15, 1-30/5, 10/20). When both day-of-month and day-of-week
// are restricted a day matches if either field matches.
//
// Fields are evaluated in the location of the time passed to Next. When
// clocks fall back, a wall-clock minute that already fired is not fired
// again unless the hour field is "*".
package schedule

import (
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	ErrInvalidSchedule = errors.New("invalid schedule")
	// ErrManualOnly is returned for an empty expression: the task never fires on its own.
	ErrManualOnly = errors.New("schedule is empty")
	ErrNoMatch    = errors.New("schedule never matches")
)

// Descriptors (@daily) and TZ= prefixes are not part of the grammar.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

type Schedule struct {
	expr     string
	spec     *cron.SpecSchedule
	hourStar bool
}

// Parse parses expr. An empty expression fails with ErrManualOnly; any
// other malformed expression fails with ErrInvalidSchedule.
func Parse(expr string) (Schedule, error) {
	parts := strings.Fields(expr)
	if len(parts) == 0 {
		return Schedule{}, ErrManualOnly
	}
	if len(parts) != 5 {
		return Schedule{}, fmt.Errorf("%w: expected 5 fields, got %d", ErrInvalidSchedule, len(parts))
	}

	fields := append([]string(nil), parts...)
	fields[4] = sundayAsZero(fields[4])

	parsed, err := parser.Parse(strings.Join(fields, " "))
	if err != nil {
		return Schedule{}, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	spec, ok := parsed.(*cron.SpecSchedule)
	if !ok {
		return Schedule{}, fmt.Errorf("%w: unsupported expression %q", ErrInvalidSchedule, expr)
	}

	return Schedule{
		expr:     strings.Join(parts, " "),
		spec:     spec,
		hourStar: parts[1] == "*",
	}, nil
}

// Next parses expr and returns the first firing instant strictly after t.
func Next(expr string, t time.Time) (time.Time, error) {
	s, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return s.Next(t)
}

func (s Schedule) String() string { return s.expr }

// Next returns the smallest minute-aligned instant strictly after t that
// satisfies every field.
func (s Schedule) Next(t time.Time) (time.Time, error) {
	from := t
	for {
		next := s.spec.Next(from)
		if next.IsZero() {
			return time.Time{}, fmt.Errorf("%w: %q has no firing instant within 5 years of %s",
				ErrNoMatch, s.expr, t.Format(time.RFC3339))
		}
		if s.hourStar || !repeatedWallClock(next) {
			return next, nil
		}
		from = next
	}
}

// Upcoming yields the firing instants after from, in order. The sequence
// is infinite for satisfiable schedules and can be restarted by calling
// Upcoming again.
func (s Schedule) Upcoming(from time.Time) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		cursor := from
		for {
			next, err := s.Next(cursor)
			if err != nil {
				return
			}
			if !yield(next) {
				return
			}
			cursor = next
		}
	}
}

// repeatedWallClock reports whether the wall-clock minute of t already
// occurred once under an earlier, larger UTC offset.
func repeatedWallClock(t time.Time) bool {
	_, offset := t.Zone()
	_, before := t.Add(-3 * time.Hour).Zone()
	if before <= offset {
		return false
	}

	twin := t.Add(-time.Duration(before-offset) * time.Second)
	if _, twinOffset := twin.Zone(); twinOffset != before {
		return false
	}
	return twin.Hour() == t.Hour() && twin.Minute() == t.Minute() && twin.YearDay() == t.YearDay()
}

// sundayAsZero rewrites day-of-week terms that use 7 for Sunday into the
// 0-6 range the parser accepts. Terms it cannot read are left for the
// parser to reject.
func sundayAsZero(field string) string {
	var out []string
	for _, term := range strings.Split(field, ",") {
		out = append(out, sundayTerm(term)...)
	}
	return strings.Join(out, ",")
}

func sundayTerm(term string) []string {
	rangePart, stepPart, hasStep := strings.Cut(term, "/")
	step := 1
	if hasStep {
		n, err := strconv.Atoi(stepPart)
		if err != nil || n <= 0 {
			return []string{term}
		}
		step = n
	}

	lo, hi, isRange := strings.Cut(rangePart, "-")
	start, err := strconv.Atoi(lo)
	if err != nil {
		return []string{term}
	}
	end := start
	switch {
	case isRange:
		if end, err = strconv.Atoi(hi); err != nil {
			return []string{term}
		}
	case hasStep:
		// N/S runs to the top of the range.
		end = 7
	}

	if end != 7 || start < 0 || start > end {
		return []string{term}
	}
	if start == 7 {
		return []string{"0"}
	}

	rewritten := fmt.Sprintf("%d-6", start)
	if hasStep {
		rewritten += "/" + stepPart
	}
	out := []string{rewritten}
	if (7-start)%step == 0 {
		out = append(out, "0")
	}
	return out
}
