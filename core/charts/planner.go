package charts

import "time"

// NormalizeWeekStart returns midnight UTC of the most recent tracking day on
// or before t. Every chart week boundary in the system goes through here.
func NormalizeWeekStart(t time.Time, trackingDay time.Weekday) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) - int(trackingDay) + 7) % 7
	return day.AddDate(0, 0, -offset)
}

// LatestCompletedWeek returns the start of the most recent week whose end is
// strictly before now. The in-progress current week is never generated.
func LatestCompletedWeek(now time.Time, trackingDay time.Weekday) time.Time {
	start := NormalizeWeekStart(now, trackingDay)
	for !start.AddDate(0, 0, 7).Before(now.UTC()) {
		start = start.AddDate(0, 0, -7)
	}
	return start
}

// WeeksToGenerate plans the weeks missing charts for a group, oldest first.
// With no prior charts the plan is the last maxWeeks completed weeks. With
// prior charts it walks backward from the most recently completed week to the
// week after the last chart, capped at maxWeeks. Oldest-first order matters:
// each week's delta computation needs the preceding week persisted.
func WeeksToGenerate(now time.Time, trackingDay time.Weekday, lastChartWeek *time.Time, maxWeeks int) []time.Time {
	if maxWeeks <= 0 {
		return nil
	}

	latest := LatestCompletedWeek(now, trackingDay)

	if lastChartWeek == nil {
		return lastNWeeks(latest, maxWeeks)
	}

	// Next expected week after the last chart. Comparison, not equality,
	// because a tracking-day change can shift boundaries off the old grid.
	next := lastChartWeek.UTC().AddDate(0, 0, 7)

	var weeks []time.Time
	for w := latest; !w.Before(next) && len(weeks) < maxWeeks; w = w.AddDate(0, 0, -7) {
		weeks = append(weeks, w)
	}
	reverse(weeks)
	return weeks
}

// LastNWeeks plans exactly n completed weeks ending at the latest completed
// one, oldest first. Used for elevated week-count overrides.
func LastNWeeks(now time.Time, trackingDay time.Weekday, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	return lastNWeeks(LatestCompletedWeek(now, trackingDay), n)
}

func lastNWeeks(latest time.Time, n int) []time.Time {
	weeks := make([]time.Time, n)
	for i := 0; i < n; i++ {
		weeks[n-1-i] = latest.AddDate(0, 0, -7*i)
	}
	return weeks
}

func reverse(weeks []time.Time) {
	for i, j := 0, len(weeks)-1; i < j; i, j = i+1, j-1 {
		weeks[i], weeks[j] = weeks[j], weeks[i]
	}
}
