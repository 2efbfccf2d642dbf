package charts

import (
	"fmt"
	"time"

	"groupfm/model"
	"groupfm/repository"
)

// TrendCalculator fills the week-over-week movement fields of chart entries.
// It only ever runs for the single most recent generated week: trend data for
// earlier weeks would be superseded by the next week anyway.
type TrendCalculator struct {
	charts repository.ChartRepository
}

// NewTrendCalculator creates a TrendCalculator.
func NewTrendCalculator(charts repository.ChartRepository) *TrendCalculator {
	return &TrendCalculator{charts: charts}
}

// ComputeLatestWeek computes movement for weekStart against the week before it
// and persists the result.
func (t *TrendCalculator) ComputeLatestWeek(groupID int64, weekStart time.Time) error {
	current, err := t.charts.GetEntriesForWeek(groupID, weekStart)
	if err != nil {
		return fmt.Errorf("failed to load current week entries: %w", err)
	}
	if len(current) == 0 {
		return nil
	}

	previous, err := t.charts.GetEntriesForWeek(groupID, weekStart.AddDate(0, 0, -7))
	if err != nil {
		return fmt.Errorf("failed to load previous week entries: %w", err)
	}

	ApplyTrends(current, previous)

	if err := t.charts.UpdateEntryTrends(current); err != nil {
		return fmt.Errorf("failed to persist trends: %w", err)
	}
	return nil
}

// ApplyTrends mutates current entries with movement relative to previous.
// Positive PositionDelta means the entry moved up the chart.
func ApplyTrends(current, previous []*model.ChartEntry) {
	prevRanks := make(map[string]int, len(previous))
	for _, e := range previous {
		prevRanks[e.ChartType+"|"+e.EntryKey] = e.Rank
	}

	for _, e := range current {
		prev, ok := prevRanks[e.ChartType+"|"+e.EntryKey]
		if !ok {
			e.PreviousRank = nil
			e.PositionDelta = nil
			e.IsNewEntry = true
			continue
		}
		rank := prev
		delta := prev - e.Rank
		e.PreviousRank = &rank
		e.PositionDelta = &delta
		e.IsNewEntry = false
	}
}
