package charts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"groupfm/core/records"
	"groupfm/logger"
	"groupfm/model"
	"groupfm/repository"
)

// ErrRunAborted is returned when the cumulative member failures crossed the
// abort threshold. The run's persisted weeks are not fed to downstream
// aggregates; the caller reports the full failed-member list.
var ErrRunAborted = errors.New("charts: generation run aborted")

// CacheInvalidator is the derived-stats cache consumed by the orchestrator.
type CacheInvalidator interface {
	InvalidateEntries(ctx context.Context, groupID int64, entries []*model.ChartEntry) error
	ClearStatusSnapshot(ctx context.Context, groupID int64) error
}

// RecordsTrigger enqueues the dependent records calculation. It is a separate
// background job with its own state machine; the orchestrator never waits for
// it.
type RecordsTrigger interface {
	TriggerRecords(ctx context.Context, req records.CalculationRequest) error
}

// RunReport summarizes a finished generation run.
type RunReport struct {
	RunID          string
	GroupID        int64
	WeeksPlanned   int
	WeeksGenerated int
	FailedUsers    []string
	Aborted        bool
}

// Orchestrator drives a whole generation run: plan weeks, generate them
// sequentially oldest first, then finalize (all-time stats, cache
// invalidation, trends, records trigger). It assumes the generation lock is
// already held and guarantees its release on every exit path.
type Orchestrator struct {
	groups      repository.GroupRepository
	charts      repository.ChartRepository
	stats       repository.StatsRepository
	generator   *Generator
	trends      *TrendCalculator
	locks       *LockManager
	invalidator CacheInvalidator
	records     RecordsTrigger

	interWeekDelay time.Duration
	defaultWeeks   int
	maxWeeks       int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// OrchestratorParams collects the orchestrator's dependencies.
type OrchestratorParams struct {
	Groups      repository.GroupRepository
	Charts      repository.ChartRepository
	Stats       repository.StatsRepository
	Generator   *Generator
	Trends      *TrendCalculator
	Locks       *LockManager
	Invalidator CacheInvalidator
	Records     RecordsTrigger

	InterWeekDelay time.Duration
	DefaultWeeks   int
	MaxWeeks       int
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(p OrchestratorParams) *Orchestrator {
	return &Orchestrator{
		groups:         p.Groups,
		charts:         p.Charts,
		stats:          p.Stats,
		generator:      p.Generator,
		trends:         p.Trends,
		locks:          p.Locks,
		invalidator:    p.Invalidator,
		records:        p.Records,
		interWeekDelay: p.InterWeekDelay,
		defaultWeeks:   p.DefaultWeeks,
		maxWeeks:       p.MaxWeeks,
		now:            time.Now,
		sleep:          sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Locks exposes the lock manager so trigger paths can acquire before
// enqueueing the run.
func (o *Orchestrator) Locks() *LockManager {
	return o.locks
}

// Run executes one generation run for a group. The caller must hold the
// generation lock; Run releases it on every path, panics included, persisting
// the failure snapshot alongside.
func (o *Orchestrator) Run(ctx context.Context, groupID int64, weeksOverride int, runID string) (report *RunReport, err error) {
	group, err := o.groups.GetGroupByID(groupID)
	if err != nil {
		// Lock state unknown-but-held; release with an empty snapshot.
		o.release(ctx, groupID, nil, false)
		return nil, err
	}
	if group == nil {
		o.release(ctx, groupID, nil, false)
		return nil, fmt.Errorf("group %d not found", groupID)
	}

	members, err := o.groups.GetMemberUsernames(groupID)
	if err != nil {
		o.release(ctx, groupID, nil, false)
		return nil, err
	}

	failures := NewFailureSet(len(members))
	aborted := false

	defer func() {
		o.release(ctx, groupID, failures.Members(), aborted)
	}()

	lastWeek, err := o.charts.GetLastChartWeek(groupID)
	if err != nil {
		return nil, err
	}

	trackingDay := time.Weekday(group.TrackingDayOfWeek)
	var weeks []time.Time
	if weeksOverride > 0 {
		if weeksOverride > o.maxWeeks {
			weeksOverride = o.maxWeeks
		}
		weeks = LastNWeeks(o.now(), trackingDay, weeksOverride)
	} else {
		weeks = WeeksToGenerate(o.now(), trackingDay, lastWeek, o.defaultWeeks)
	}

	report = &RunReport{
		RunID:        runID,
		GroupID:      groupID,
		WeeksPlanned: len(weeks),
	}

	logger.Info("generation run starting",
		logger.String("runId", runID),
		logger.Int64("groupId", groupID),
		logger.Int("weeks", len(weeks)),
		logger.Int("members", len(members)))

	if len(weeks) == 0 {
		return report, nil
	}

	var touched []*model.ChartEntry
	var candidates []records.Candidate
	var memberWeeks []records.MemberWeek

	for i, week := range weeks {
		if i > 0 {
			// Explicit pause between weeks to respect the provider's rate
			// limits, on top of the client-side limiter.
			if err := o.sleep(ctx, o.interWeekDelay); err != nil {
				return report, err
			}
		}

		result, err := o.generator.Generate(ctx, group, week, members, failures)
		if err != nil {
			return report, err
		}

		if result.ShouldAbort {
			aborted = true
			break
		}

		weekEnd := week.AddDate(0, 0, 7)
		if err := o.charts.DeleteWeekRange(groupID, week, weekEnd); err != nil {
			return report, err
		}
		if err := o.charts.SaveWeek(result.Stats, result.Entries); err != nil {
			return report, err
		}

		touched = append(touched, result.Entries...)
		for _, e := range result.Entries {
			candidates = append(candidates, records.Candidate{
				ChartType: e.ChartType,
				EntryKey:  e.EntryKey,
				Artist:    e.Artist,
				Title:     e.Title,
				Rank:      e.Rank,
				Score:     e.Score,
				WeekStart: e.WeekStart,
			})
		}
		memberWeeks = append(memberWeeks, records.MemberWeek{
			WeekStart: result.Stats.WeekStart,
			Plays:     result.Stats.MemberPlays,
		})
		report.WeeksGenerated++
	}

	report.FailedUsers = failures.Members()

	if aborted {
		// Weeks generated before the threshold fired stay persisted, but the
		// run is reported as failed and nothing downstream is built from it.
		// Their rewritten entries still drop the cached per-entry stats.
		report.Aborted = true
		if len(touched) > 0 {
			if err := o.invalidator.InvalidateEntries(ctx, groupID, touched); err != nil {
				logger.Warn("failed to invalidate entry caches after abort",
					logger.String("runId", runID),
					logger.Int64("groupId", groupID),
					logger.ErrorField(err))
			}
		}
		logger.Warn("generation run aborted",
			logger.String("runId", runID),
			logger.Int64("groupId", groupID),
			logger.Int("weeksGenerated", report.WeeksGenerated),
			logger.Strings("failedUsers", report.FailedUsers))
		return report, ErrRunAborted
	}

	if err := o.finalize(ctx, group, runID, weeks[:report.WeeksGenerated], touched, candidates, memberWeeks); err != nil {
		return report, err
	}

	logger.Info("generation run finished",
		logger.String("runId", runID),
		logger.Int64("groupId", groupID),
		logger.Int("weeksGenerated", report.WeeksGenerated),
		logger.Strings("failedUsers", report.FailedUsers))
	return report, nil
}

// finalize runs the once-per-run steps after all weeks are generated.
func (o *Orchestrator) finalize(ctx context.Context, group *model.Group, runID string, generated []time.Time, touched []*model.ChartEntry, candidates []records.Candidate, memberWeeks []records.MemberWeek) error {
	if len(generated) == 0 {
		return nil
	}

	if err := o.stats.RecomputeGroupStats(group.ID); err != nil {
		return err
	}

	// Invalidation is deferred until all weeks are in so every touched entry
	// is dropped in one batch.
	if err := o.invalidator.InvalidateEntries(ctx, group.ID, touched); err != nil {
		return err
	}

	latest := generated[len(generated)-1]
	if err := o.trends.ComputeLatestWeek(group.ID, latest); err != nil {
		return err
	}

	req := records.CalculationRequest{
		GroupID:     group.ID,
		Candidates:  candidates,
		MemberWeeks: memberWeeks,
		GeneratedAt: o.now().UTC(),
	}
	if err := o.records.TriggerRecords(ctx, req); err != nil {
		// Records is its own job; losing the trigger does not fail the run.
		logger.Error("failed to trigger records calculation",
			logger.String("runId", runID),
			logger.Int64("groupId", group.ID),
			logger.ErrorField(err))
	}
	return nil
}

// release frees the lock, persists the failure snapshot and drops the cached
// status payload. Errors are logged; there is nothing useful to do with them
// on the paths that call this.
func (o *Orchestrator) release(ctx context.Context, groupID int64, failedUsers []string, aborted bool) {
	if err := o.locks.Release(groupID, failedUsers, aborted); err != nil {
		logger.Error("failed to release generation lock",
			logger.Int64("groupId", groupID),
			logger.ErrorField(err))
	}
	if err := o.invalidator.ClearStatusSnapshot(ctx, groupID); err != nil {
		logger.Warn("failed to clear status snapshot",
			logger.Int64("groupId", groupID),
			logger.ErrorField(err))
	}
}
