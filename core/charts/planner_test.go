package charts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNormalizeWeekStart(t *testing.T) {
	// 2026-08-28 is a Friday.
	now := time.Date(2026, 8, 28, 15, 30, 0, 0, time.UTC)

	assert.Equal(t, date(2026, 8, 23), NormalizeWeekStart(now, time.Sunday))
	assert.Equal(t, date(2026, 8, 24), NormalizeWeekStart(now, time.Monday))
	assert.Equal(t, date(2026, 8, 28), NormalizeWeekStart(now, time.Friday))
	// Tracking day later in the week than now: previous week's boundary.
	assert.Equal(t, date(2026, 8, 22), NormalizeWeekStart(now, time.Saturday))
}

func TestNormalizeWeekStartIsIdempotent(t *testing.T) {
	start := NormalizeWeekStart(time.Date(2026, 8, 28, 23, 59, 0, 0, time.UTC), time.Monday)
	assert.Equal(t, start, NormalizeWeekStart(start, time.Monday))
}

func TestLatestCompletedWeek(t *testing.T) {
	// Mid-week: the current week (starting Sunday 2026-08-23) is still in
	// progress, so the latest completed one starts a week earlier.
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, date(2026, 8, 16), LatestCompletedWeek(now, time.Sunday))

	// Exactly at a boundary: the week ending right now is not yet complete.
	boundary := date(2026, 8, 30)
	assert.Equal(t, date(2026, 8, 16), LatestCompletedWeek(boundary, time.Sunday))

	// Just past the boundary the week flips over.
	assert.Equal(t, date(2026, 8, 23), LatestCompletedWeek(boundary.Add(time.Second), time.Sunday))
}

func TestWeeksToGenerateNoHistory(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	weeks := WeeksToGenerate(now, time.Sunday, nil, 3)
	require.Len(t, weeks, 3)
	assert.Equal(t, date(2026, 8, 2), weeks[0])
	assert.Equal(t, date(2026, 8, 9), weeks[1])
	assert.Equal(t, date(2026, 8, 16), weeks[2])
}

func TestWeeksToGenerateCatchUp(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	last := date(2026, 7, 26)

	weeks := WeeksToGenerate(now, time.Sunday, &last, 10)
	require.Len(t, weeks, 3)
	assert.Equal(t, date(2026, 8, 2), weeks[0])
	assert.Equal(t, date(2026, 8, 16), weeks[2])
}

func TestWeeksToGenerateUpToDate(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	last := date(2026, 8, 16)

	assert.Empty(t, WeeksToGenerate(now, time.Sunday, &last, 10))
}

func TestWeeksToGenerateCapped(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	last := date(2025, 1, 5) // over a year behind

	weeks := WeeksToGenerate(now, time.Sunday, &last, 4)
	require.Len(t, weeks, 4)
	// The cap keeps the most recent weeks, still oldest first.
	assert.Equal(t, date(2026, 7, 26), weeks[0])
	assert.Equal(t, date(2026, 8, 16), weeks[3])
	assert.True(t, weeks[0].Before(weeks[1]))
}

func TestWeeksToGenerateTrackingDayChange(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	// Last chart was generated on the old Sunday grid; the group now tracks
	// Mondays. The plan must still make progress instead of looping on an
	// equality check that never matches.
	last := date(2026, 8, 9)

	weeks := WeeksToGenerate(now, time.Monday, &last, 10)
	require.NotEmpty(t, weeks)
	for _, w := range weeks {
		assert.Equal(t, time.Monday, w.Weekday())
		assert.True(t, w.After(last))
	}
}

func TestLastNWeeks(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	weeks := LastNWeeks(now, time.Sunday, 2)
	require.Len(t, weeks, 2)
	assert.Equal(t, date(2026, 8, 9), weeks[0])
	assert.Equal(t, date(2026, 8, 16), weeks[1])

	assert.Empty(t, LastNWeeks(now, time.Sunday, 0))
}
