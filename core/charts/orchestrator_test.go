package charts

import (
	"context"
	"errors"
	"testing"
	"time"

	"groupfm/core/records"
	"groupfm/lastfm"
	"groupfm/model"
	"groupfm/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type savedWeek struct {
	stats   *model.WeeklyStats
	entries []*model.ChartEntry
}

// fakeChartRepo is an in-memory ChartRepository covering what the orchestrator
// and trend calculator touch.
type fakeChartRepo struct {
	lastWeek *time.Time

	saved         []savedWeek
	deletedRanges [][2]time.Time
	entriesByWeek map[time.Time][]*model.ChartEntry
	trendUpdates  [][]*model.ChartEntry

	saveErr error
}

func newFakeChartRepo() *fakeChartRepo {
	return &fakeChartRepo{entriesByWeek: make(map[time.Time][]*model.ChartEntry)}
}

func (r *fakeChartRepo) GetLastChartWeek(groupID int64) (*time.Time, error) {
	return r.lastWeek, nil
}

func (r *fakeChartRepo) DeleteWeekRange(groupID int64, from, to time.Time) error {
	r.deletedRanges = append(r.deletedRanges, [2]time.Time{from, to})
	for w := range r.entriesByWeek {
		if !w.Before(from) && w.Before(to) {
			delete(r.entriesByWeek, w)
		}
	}
	return nil
}

func (r *fakeChartRepo) SaveWeek(stats *model.WeeklyStats, entries []*model.ChartEntry) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saved = append(r.saved, savedWeek{stats: stats, entries: entries})
	r.entriesByWeek[stats.WeekStart] = entries
	return nil
}

func (r *fakeChartRepo) GetEntriesForWeek(groupID int64, weekStart time.Time) ([]*model.ChartEntry, error) {
	return r.entriesByWeek[weekStart], nil
}

func (r *fakeChartRepo) UpdateEntryTrends(entries []*model.ChartEntry) error {
	r.trendUpdates = append(r.trendUpdates, entries)
	return nil
}

func (r *fakeChartRepo) GetAllEntries(groupID int64) ([]*model.ChartEntry, error) {
	var out []*model.ChartEntry
	for _, s := range r.saved {
		out = append(out, s.entries...)
	}
	return out, nil
}

func (r *fakeChartRepo) GetAllWeeklyStats(groupID int64) ([]*model.WeeklyStats, error) {
	var out []*model.WeeklyStats
	for _, s := range r.saved {
		out = append(out, s.stats)
	}
	return out, nil
}

func (r *fakeChartRepo) GetEntryAggregates(groupID int64, chartType string, entryKeys []string) (map[string]repository.EntryAggregate, error) {
	return map[string]repository.EntryAggregate{}, nil
}

type fakeStatsRepo struct {
	recomputes int
}

func (r *fakeStatsRepo) RecomputeGroupStats(groupID int64) error {
	r.recomputes++
	return nil
}

func (r *fakeStatsRepo) GetGroupStats(groupID int64) (*model.GroupStats, error) {
	return nil, nil
}

type fakeInvalidator struct {
	invalidated      [][]*model.ChartEntry
	snapshotsCleared int
}

func (f *fakeInvalidator) InvalidateEntries(ctx context.Context, groupID int64, entries []*model.ChartEntry) error {
	f.invalidated = append(f.invalidated, entries)
	return nil
}

func (f *fakeInvalidator) ClearStatusSnapshot(ctx context.Context, groupID int64) error {
	f.snapshotsCleared++
	return nil
}

type fakeRecordsTrigger struct {
	requests []records.CalculationRequest
	err      error
}

func (f *fakeRecordsTrigger) TriggerRecords(ctx context.Context, req records.CalculationRequest) error {
	if f.err != nil {
		return f.err
	}
	f.requests = append(f.requests, req)
	return nil
}

type orchFixture struct {
	orch      *Orchestrator
	groups    *fakeGroupRepo
	charts    *fakeChartRepo
	stats     *fakeStatsRepo
	inv       *fakeInvalidator
	trigger   *fakeRecordsTrigger
	sleptWall *int
}

func newOrchFixture(t *testing.T, members []string, provider Provider) *orchFixture {
	t.Helper()

	groups := &fakeGroupRepo{
		group: &model.Group{
			ID:        7,
			Name:      "test",
			ChartSize: 25,
			ChartMode: model.ChartModePlays,
			// TrackingDayOfWeek zero value: Sunday.
		},
		members: members,
		locked:  true, // Run assumes the lock is held
	}
	charts := newFakeChartRepo()
	stats := &fakeStatsRepo{}
	inv := &fakeInvalidator{}
	trigger := &fakeRecordsTrigger{}

	orch := NewOrchestrator(OrchestratorParams{
		Groups:         groups,
		Charts:         charts,
		Stats:          stats,
		Generator:      NewGenerator(provider),
		Trends:         NewTrendCalculator(charts),
		Locks:          NewLockManager(groups, 30*time.Minute),
		Invalidator:    inv,
		Records:        trigger,
		InterWeekDelay: 2 * time.Second,
		DefaultWeeks:   3,
		MaxWeeks:       52,
	})

	slept := 0
	orch.now = func() time.Time { return time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC) }
	orch.sleep = func(ctx context.Context, d time.Duration) error {
		slept++
		return nil
	}

	return &orchFixture{
		orch:      orch,
		groups:    groups,
		charts:    charts,
		stats:     stats,
		inv:       inv,
		trigger:   trigger,
		sleptWall: &slept,
	}
}

func TestOrchestratorRunHappyPath(t *testing.T) {
	provider := &fakeProvider{
		charts: map[string][]lastfm.Track{
			"alice": {{Artist: "Radiohead", Name: "Karma Police", Album: "OK Computer", PlayCount: 10}},
			"bob":   {{Artist: "Portishead", Name: "Glory Box", Album: "Dummy", PlayCount: 6}},
			"carol": {{Artist: "Radiohead", Name: "Karma Police", Album: "OK Computer", PlayCount: 2}},
		},
	}
	f := newOrchFixture(t, []string{"alice", "bob", "carol"}, provider)

	report, err := f.orch.Run(context.Background(), 7, 0, "run-1")
	require.NoError(t, err)

	assert.Equal(t, 3, report.WeeksPlanned)
	assert.Equal(t, 3, report.WeeksGenerated)
	assert.Empty(t, report.FailedUsers)
	assert.False(t, report.Aborted)

	// Oldest week first, each delete-then-save.
	require.Len(t, f.charts.saved, 3)
	assert.True(t, f.charts.saved[0].stats.WeekStart.Before(f.charts.saved[2].stats.WeekStart))
	assert.Len(t, f.charts.deletedRanges, 3)

	// Inter-week pause between weeks, not before the first.
	assert.Equal(t, 2, *f.sleptWall)

	// Finalize: stats once, one invalidation batch, trends on the latest week
	// only, records triggered with candidates from every saved entry.
	assert.Equal(t, 1, f.stats.recomputes)
	require.Len(t, f.inv.invalidated, 1)
	require.Len(t, f.charts.trendUpdates, 1)
	assert.Equal(t, f.charts.saved[2].stats.WeekStart, f.charts.trendUpdates[0][0].WeekStart)

	require.Len(t, f.trigger.requests, 1)
	req := f.trigger.requests[0]
	assert.Equal(t, int64(7), req.GroupID)
	assert.NotEmpty(t, req.Candidates)
	assert.Len(t, req.MemberWeeks, 3)
	assert.False(t, req.ForceFull)

	// Lock released exactly once, clean snapshot.
	require.Len(t, f.groups.releases, 1)
	assert.Empty(t, f.groups.releases[0].failedUsers)
	assert.False(t, f.groups.releases[0].aborted)
	assert.False(t, f.groups.locked)
	assert.Equal(t, 1, f.inv.snapshotsCleared)
}

func TestOrchestratorRunPartialFailure(t *testing.T) {
	provider := &fakeProvider{
		charts: map[string][]lastfm.Track{
			"alice": {{Artist: "Nirvana", Name: "Lithium", PlayCount: 4}},
			"carol": {{Artist: "Nirvana", Name: "Lithium", PlayCount: 3}},
		},
		failing: map[string]error{"bob": errors.New("fetch failed")},
	}
	f := newOrchFixture(t, []string{"alice", "bob", "carol"}, provider)

	report, err := f.orch.Run(context.Background(), 7, 0, "run-2")
	require.NoError(t, err)

	assert.Equal(t, 3, report.WeeksGenerated)
	assert.Equal(t, []string{"bob"}, report.FailedUsers)
	assert.False(t, report.Aborted)

	// bob is fetched once (first week) and skipped afterwards.
	fetches := 0
	for _, u := range provider.fetched {
		if u == "bob" {
			fetches++
		}
	}
	assert.Equal(t, 1, fetches)

	// The failure snapshot rides along with the release.
	require.Len(t, f.groups.releases, 1)
	assert.Equal(t, []string{"bob"}, f.groups.releases[0].failedUsers)
	assert.False(t, f.groups.releases[0].aborted)

	// A partial run still finalizes.
	assert.Equal(t, 1, f.stats.recomputes)
	assert.Len(t, f.trigger.requests, 1)
}

func TestOrchestratorRunAborts(t *testing.T) {
	provider := &fakeProvider{
		failing: map[string]error{
			"alice": errors.New("down"),
			"bob":   errors.New("down"),
			"carol": errors.New("down"),
		},
		charts: map[string][]lastfm.Track{
			"dave": {{Artist: "Can", Name: "Vitamin C", PlayCount: 3}},
			"erin": {{Artist: "Can", Name: "Vitamin C", PlayCount: 2}},
		},
	}
	f := newOrchFixture(t, []string{"alice", "bob", "carol", "dave", "erin"}, provider)

	report, err := f.orch.Run(context.Background(), 7, 0, "run-3")
	require.ErrorIs(t, err, ErrRunAborted)

	// The threshold fired on the first week: nothing was persisted and nothing
	// downstream ran.
	assert.True(t, report.Aborted)
	assert.Equal(t, 0, report.WeeksGenerated)
	assert.Empty(t, f.charts.saved)
	assert.Empty(t, f.charts.deletedRanges)
	assert.Equal(t, 0, f.stats.recomputes)
	assert.Empty(t, f.trigger.requests)
	assert.Empty(t, f.inv.invalidated)

	// The lock is released with the abort snapshot.
	require.Len(t, f.groups.releases, 1)
	assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, f.groups.releases[0].failedUsers)
	assert.True(t, f.groups.releases[0].aborted)
	assert.False(t, f.groups.locked)
}

func TestOrchestratorRunAbortAfterPersistedWeeksInvalidatesCaches(t *testing.T) {
	// Every member succeeds for the first week; a majority goes down from the
	// second fetch onwards, so the run aborts with one week persisted.
	provider := &fakeProvider{
		charts: map[string][]lastfm.Track{
			"alice": {{Artist: "Can", Name: "Vitamin C", PlayCount: 5}},
			"bob":   {{Artist: "Can", Name: "Vitamin C", PlayCount: 4}},
			"carol": {{Artist: "Can", Name: "Vitamin C", PlayCount: 3}},
			"dave":  {{Artist: "Can", Name: "Vitamin C", PlayCount: 2}},
			"erin":  {{Artist: "Can", Name: "Vitamin C", PlayCount: 1}},
		},
		failFrom: map[string]int{"alice": 2, "bob": 2, "carol": 2},
	}
	f := newOrchFixture(t, []string{"alice", "bob", "carol", "dave", "erin"}, provider)

	report, err := f.orch.Run(context.Background(), 7, 0, "run-9")
	require.ErrorIs(t, err, ErrRunAborted)

	assert.True(t, report.Aborted)
	assert.Equal(t, 1, report.WeeksGenerated)
	require.Len(t, f.charts.saved, 1)

	// The persisted week's entries lose their cached per-entry stats even
	// though the run aborted.
	require.Len(t, f.inv.invalidated, 1)
	assert.Equal(t, f.charts.saved[0].entries, f.inv.invalidated[0])

	// Nothing else downstream runs.
	assert.Equal(t, 0, f.stats.recomputes)
	assert.Empty(t, f.charts.trendUpdates)
	assert.Empty(t, f.trigger.requests)

	require.Len(t, f.groups.releases, 1)
	assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, f.groups.releases[0].failedUsers)
	assert.True(t, f.groups.releases[0].aborted)
}

func TestOrchestratorRunReleasesLockOnSaveError(t *testing.T) {
	provider := &fakeProvider{
		charts: map[string][]lastfm.Track{
			"alice": {{Artist: "Can", Name: "Halleluhwah", PlayCount: 1}},
		},
	}
	f := newOrchFixture(t, []string{"alice"}, provider)
	f.charts.saveErr = errors.New("disk full")

	_, err := f.orch.Run(context.Background(), 7, 0, "run-4")
	require.Error(t, err)

	require.Len(t, f.groups.releases, 1)
	assert.False(t, f.groups.locked)
	assert.Empty(t, f.trigger.requests)
}

func TestOrchestratorRunReleasesLockOnUnknownGroup(t *testing.T) {
	f := newOrchFixture(t, nil, &fakeProvider{})

	_, err := f.orch.Run(context.Background(), 99, 0, "run-5")
	require.Error(t, err)

	require.Len(t, f.groups.releases, 1)
	assert.False(t, f.groups.locked)
}

func TestOrchestratorRunWeeksOverride(t *testing.T) {
	provider := &fakeProvider{
		charts: map[string][]lastfm.Track{
			"alice": {{Artist: "Can", Name: "Vitamin C", PlayCount: 1}},
		},
	}
	f := newOrchFixture(t, []string{"alice"}, provider)

	// History is fully caught up; the override regenerates anyway.
	last := time.Date(2026, 8, 16, 0, 0, 0, 0, time.UTC)
	f.charts.lastWeek = &last

	report, err := f.orch.Run(context.Background(), 7, 2, "run-6")
	require.NoError(t, err)
	assert.Equal(t, 2, report.WeeksPlanned)
	assert.Equal(t, 2, report.WeeksGenerated)
}

func TestOrchestratorRunNothingToDo(t *testing.T) {
	provider := &fakeProvider{}
	f := newOrchFixture(t, []string{"alice"}, provider)

	last := time.Date(2026, 8, 16, 0, 0, 0, 0, time.UTC)
	f.charts.lastWeek = &last

	report, err := f.orch.Run(context.Background(), 7, 0, "run-7")
	require.NoError(t, err)

	assert.Equal(t, 0, report.WeeksPlanned)
	assert.Empty(t, provider.fetched)
	assert.Equal(t, 0, f.stats.recomputes)
	// Even a no-op run releases the lock.
	require.Len(t, f.groups.releases, 1)
}

func TestOrchestratorRunRecordsTriggerFailureIsNonFatal(t *testing.T) {
	provider := &fakeProvider{
		charts: map[string][]lastfm.Track{
			"alice": {{Artist: "Can", Name: "Vitamin C", PlayCount: 1}},
		},
	}
	f := newOrchFixture(t, []string{"alice"}, provider)
	f.trigger.err = errors.New("queue down")

	report, err := f.orch.Run(context.Background(), 7, 0, "run-8")
	require.NoError(t, err)
	assert.Equal(t, 3, report.WeeksGenerated)
}
