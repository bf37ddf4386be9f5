package schedule

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func utc(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}

func mustParse(t *testing.T, expr string) Schedule {
	t.Helper()
	s, err := Parse(expr)
	require.NoError(t, err, "Parse(%q)", expr)
	return s
}

func TestParseValid(t *testing.T) {
	for _, expr := range []string{
		"* * * * *",
		"0 2 * * *",
		"*/15 0-6 1,15 * 1-5",
		"30 3 * * 0",
		"30 3 * * 7",
		"0 0 1 1 *",
		"5,10,15 * * * *",
		"0-30/5 * * * *",
		"10/20 * * * *",
		"  0   2  *  * *  ",
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := Parse(expr)
			assert.NoError(t, err)
		})
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"too few fields", "* * * *"},
		{"too many fields", "* * * * * *"},
		{"minute out of range", "60 * * * *"},
		{"hour out of range", "* 24 * * *"},
		{"day zero", "* * 0 * *"},
		{"month out of range", "* * * 13 *"},
		{"dow out of range", "* * * * 8"},
		{"zero step", "*/0 * * * *"},
		{"reversed range", "5-3 * * * *"},
		{"non numeric", "abc * * * *"},
		{"bad step", "*/x * * * *"},
		{"empty list term", "1,,2 * * * *"},
		{"keyword", "daily"},
		{"descriptor", "@daily"},
		{"timezone prefix", "TZ=UTC * * * *"},
		{"negative step", "*/-5 * * * *"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.expr)
			assert.ErrorIs(t, err, ErrInvalidSchedule)
		})
	}
}

func TestParseEmptyIsManualOnly(t *testing.T) {
	_, err := Parse("")
	assert.ErrorIs(t, err, ErrManualOnly)
	assert.False(t, errors.Is(err, ErrInvalidSchedule))

	_, err = Next("   ", utc(2024, 1, 1, 0, 0))
	assert.ErrorIs(t, err, ErrManualOnly)
}

func TestNextDailyAt2AM(t *testing.T) {
	next, err := Next("0 2 * * *", utc(2024, 1, 1, 10, 0))
	require.NoError(t, err)
	assert.Equal(t, utc(2024, 1, 2, 2, 0), next)

	next, err = Next("0 2 * * *", utc(2024, 1, 1, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, utc(2024, 1, 1, 2, 0), next)
}

func TestNextIsStrictlyAfter(t *testing.T) {
	s := mustParse(t, "30 10 * * *")

	next, err := s.Next(utc(2024, 3, 5, 10, 30))
	require.NoError(t, err)
	assert.Equal(t, utc(2024, 3, 6, 10, 30), next)

	withSeconds := time.Date(2024, 3, 5, 10, 29, 59, 999, time.UTC)
	next, err = s.Next(withSeconds)
	require.NoError(t, err)
	assert.Equal(t, utc(2024, 3, 5, 10, 30), next)
}

func TestNextMonotonic(t *testing.T) {
	exprs := []string{
		"* * * * *",
		"0 2 * * *",
		"*/7 */3 * * *",
		"0 0 29 2 *",
		"15 4 1,15 * 1",
		"0 12 * 6-8 1-5",
		"59 23 31 12 *",
	}
	rng := rand.New(rand.NewSource(42))
	base := utc(2023, 1, 1, 0, 0)

	for _, expr := range exprs {
		s := mustParse(t, expr)
		for i := 0; i < 200; i++ {
			at := base.Add(time.Duration(rng.Int63n(int64(3 * 365 * 24 * time.Hour))))
			next, err := s.Next(at)
			require.NoError(t, err, "%s from %s", expr, at)
			assert.True(t, next.After(at), "%s: Next(%s) = %s not after", expr, at, next)
		}
	}
}

func TestNextDayOfMonthOrDayOfWeek(t *testing.T) {
	// 1st of the month OR any Monday.
	s := mustParse(t, "0 9 1 * 1")

	// 2024-01-01 is a Monday; after 09:00 the next Monday is Jan 8.
	next, err := s.Next(utc(2024, 1, 1, 10, 0))
	require.NoError(t, err)
	assert.Equal(t, utc(2024, 1, 8, 9, 0), next)

	// From Jan 30 (Tuesday) the 1st of February (Thursday) comes before Monday Feb 5.
	next, err = s.Next(utc(2024, 1, 30, 10, 0))
	require.NoError(t, err)
	assert.Equal(t, utc(2024, 2, 1, 9, 0), next)
}

func TestNextDayOfWeekOnly(t *testing.T) {
	s := mustParse(t, "0 0 * * 0")

	// 2024-01-03 is a Wednesday; next Sunday is Jan 7.
	next, err := s.Next(utc(2024, 1, 3, 12, 0))
	require.NoError(t, err)
	assert.Equal(t, utc(2024, 1, 7, 0, 0), next)

	seven := mustParse(t, "0 0 * * 7")
	next7, err := seven.Next(utc(2024, 1, 3, 12, 0))
	require.NoError(t, err)
	assert.Equal(t, next, next7)
}

func TestNextSundayAsSevenInRangesAndSteps(t *testing.T) {
	// 2024-01-05 is a Friday.
	from := utc(2024, 1, 5, 12, 0)
	tests := []struct {
		expr string
		want []time.Time
	}{
		{"0 0 * * 5-7", []time.Time{utc(2024, 1, 6, 0, 0), utc(2024, 1, 7, 0, 0), utc(2024, 1, 12, 0, 0)}},
		{"0 0 * * 1/2", []time.Time{utc(2024, 1, 7, 0, 0), utc(2024, 1, 8, 0, 0), utc(2024, 1, 10, 0, 0)}},
		{"0 0 * * 6-7/2", []time.Time{utc(2024, 1, 6, 0, 0), utc(2024, 1, 13, 0, 0), utc(2024, 1, 20, 0, 0)}},
		{"0 0 * * 3,7", []time.Time{utc(2024, 1, 7, 0, 0), utc(2024, 1, 10, 0, 0), utc(2024, 1, 14, 0, 0)}},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			var got []time.Time
			for at := range mustParse(t, tt.expr).Upcoming(from) {
				got = append(got, at)
				if len(got) == len(tt.want) {
					break
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextLeapDay(t *testing.T) {
	next, err := Next("0 0 29 2 *", utc(2024, 3, 1, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, utc(2028, 2, 29, 0, 0), next)
}

func TestNextImpossible(t *testing.T) {
	_, err := Next("0 0 31 2 *", utc(2024, 1, 1, 0, 0))
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestNextStepsAndLists(t *testing.T) {
	s := mustParse(t, "*/15 9-10 * * *")
	want := []time.Time{
		utc(2024, 5, 1, 9, 0),
		utc(2024, 5, 1, 9, 15),
		utc(2024, 5, 1, 9, 30),
		utc(2024, 5, 1, 9, 45),
		utc(2024, 5, 1, 10, 0),
		utc(2024, 5, 1, 10, 15),
		utc(2024, 5, 1, 10, 30),
		utc(2024, 5, 1, 10, 45),
		utc(2024, 5, 2, 9, 0),
	}

	var got []time.Time
	for at := range s.Upcoming(utc(2024, 5, 1, 8, 0)) {
		got = append(got, at)
		if len(got) == len(want) {
			break
		}
	}
	assert.Equal(t, want, got)
}

func TestUpcomingRestartable(t *testing.T) {
	s := mustParse(t, "0 * * * *")
	from := utc(2024, 1, 1, 0, 30)

	take := func() []time.Time {
		var out []time.Time
		for at := range s.Upcoming(from) {
			out = append(out, at)
			if len(out) == 3 {
				break
			}
		}
		return out
	}

	first := take()
	second := take()
	assert.Equal(t, first, second)
	assert.Equal(t, utc(2024, 1, 1, 1, 0), first[0])
	assert.Equal(t, utc(2024, 1, 1, 3, 0), first[2])
}

func TestNextUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC-3", -3*60*60)
	next, err := Next("0 2 * * *", time.Date(2024, 1, 1, 10, 0, 0, 0, loc))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 2, 0, 0, 0, loc), next)
}

func TestNextAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata not available: %v", err)
	}

	// 2024-03-10 02:00 does not exist in New York.
	from := time.Date(2024, 3, 10, 1, 30, 0, 0, loc)
	next, err := Next("30 2 * * *", from)
	require.NoError(t, err)
	assert.True(t, next.After(from))

	// Fall back: 01:xx happens twice on 2024-11-03.
	from = time.Date(2024, 11, 3, 0, 59, 0, 0, loc)
	prev := from
	s := mustParse(t, "*/30 * * * *")
	for i := 0; i < 8; i++ {
		next, err := s.Next(prev)
		require.NoError(t, err)
		assert.True(t, next.After(prev))
		prev = next
	}
}

func TestNextFallBackFiresDailyJobOnce(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata not available: %v", err)
	}

	s := mustParse(t, "30 1 * * *")
	var got []time.Time
	for at := range s.Upcoming(time.Date(2024, 11, 3, 0, 0, 0, 0, loc)) {
		got = append(got, at)
		if len(got) == 2 {
			break
		}
	}

	first := time.Date(2024, 11, 3, 5, 30, 0, 0, time.UTC) // 01:30 EDT
	second := time.Date(2024, 11, 4, 6, 30, 0, 0, time.UTC) // 01:30 EST the next day
	require.Len(t, got, 2)
	assert.True(t, got[0].Equal(first), "first firing %s", got[0])
	assert.True(t, got[1].Equal(second), "second firing %s", got[1])
}

func TestNextFallBackKeepsHourlyWildcardJobs(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata not available: %v", err)
	}

	s := mustParse(t, "30 * * * *")
	from := time.Date(2024, 11, 3, 0, 45, 0, 0, loc)

	var got []time.Time
	for at := range s.Upcoming(from) {
		got = append(got, at)
		if len(got) == 3 {
			break
		}
	}

	// 01:30 EDT, 01:30 EST, 02:30 EST: both passes through the repeated hour fire.
	want := []time.Time{
		time.Date(2024, 11, 3, 5, 30, 0, 0, time.UTC),
		time.Date(2024, 11, 3, 6, 30, 0, 0, time.UTC),
		time.Date(2024, 11, 3, 7, 30, 0, 0, time.UTC),
	}
	require.Len(t, got, 3)
	for i := range want {
		assert.True(t, got[i].Equal(want[i]), "firing %d: want %s, got %s", i, want[i], got[i])
	}
}

func TestHumanize(t *testing.T) {
	now := utc(2024, 1, 1, 12, 0)
	tests := []struct {
		next time.Time
		want string
	}{
		{now.Add(-time.Minute), "overdue"},
		{now.Add(30 * time.Second), "in less than a minute"},
		{now.Add(time.Minute), "in 1 minute"},
		{now.Add(45 * time.Minute), "in 45 minutes"},
		{now.Add(3 * time.Hour), "in 3 hours"},
		{now.Add(49 * time.Hour), "in 2 days"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Humanize(tt.next, now))
	}
}
