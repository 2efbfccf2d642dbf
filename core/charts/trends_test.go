package charts

import (
	"testing"

	"groupfm/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(chartType, key string, rank int) *model.ChartEntry {
	return &model.ChartEntry{ChartType: chartType, EntryKey: key, Rank: rank}
}

func TestApplyTrendsMovement(t *testing.T) {
	previous := []*model.ChartEntry{
		entry(model.ChartTypeTrack, "a", 1),
		entry(model.ChartTypeTrack, "b", 2),
		entry(model.ChartTypeTrack, "c", 3),
	}
	current := []*model.ChartEntry{
		entry(model.ChartTypeTrack, "b", 1), // up from 2
		entry(model.ChartTypeTrack, "a", 2), // down from 1
		entry(model.ChartTypeTrack, "d", 3), // new
	}

	ApplyTrends(current, previous)

	require.NotNil(t, current[0].PreviousRank)
	assert.Equal(t, 2, *current[0].PreviousRank)
	assert.Equal(t, 1, *current[0].PositionDelta) // positive = moved up
	assert.False(t, current[0].IsNewEntry)

	assert.Equal(t, 1, *current[1].PreviousRank)
	assert.Equal(t, -1, *current[1].PositionDelta)

	assert.Nil(t, current[2].PreviousRank)
	assert.Nil(t, current[2].PositionDelta)
	assert.True(t, current[2].IsNewEntry)
}

func TestApplyTrendsSeparatesChartTypes(t *testing.T) {
	// The same key under a different chart type is a different entry.
	previous := []*model.ChartEntry{entry(model.ChartTypeArtist, "radiohead", 1)}
	current := []*model.ChartEntry{entry(model.ChartTypeTrack, "radiohead", 1)}

	ApplyTrends(current, previous)

	assert.True(t, current[0].IsNewEntry)
}

func TestApplyTrendsEmptyPrevious(t *testing.T) {
	current := []*model.ChartEntry{
		entry(model.ChartTypeTrack, "a", 1),
		entry(model.ChartTypeTrack, "b", 2),
	}

	ApplyTrends(current, nil)

	for _, e := range current {
		assert.True(t, e.IsNewEntry)
		assert.Nil(t, e.PreviousRank)
	}
}

func TestApplyTrendsUnchangedPosition(t *testing.T) {
	previous := []*model.ChartEntry{entry(model.ChartTypeTrack, "a", 1)}
	current := []*model.ChartEntry{entry(model.ChartTypeTrack, "a", 1)}

	ApplyTrends(current, previous)

	assert.Equal(t, 0, *current[0].PositionDelta)
	assert.False(t, current[0].IsNewEntry)
}
