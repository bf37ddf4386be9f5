package schedule

import (
	"fmt"
	"time"
)

// Humanize describes when next falls relative to now, e.g. "in 5 minutes",
// "in 3 hours" or "in 2 days".
func Humanize(next, now time.Time) string {
	d := next.Sub(now)
	switch {
	case d < 0:
		return "overdue"
	case d < time.Minute:
		return "in less than a minute"
	case d < time.Hour:
		return plural(int(d/time.Minute), "minute")
	case d < 24*time.Hour:
		return plural(int(d/time.Hour), "hour")
	default:
		return plural(int(d/(24*time.Hour)), "day")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("in 1 %s", unit)
	}
	return fmt.Sprintf("in %d %ss", n, unit)
}
