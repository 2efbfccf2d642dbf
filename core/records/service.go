package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"groupfm/logger"
	"groupfm/model"
	"groupfm/repository"
)

// Retry gate errors surfaced by the forced-recalculation endpoint.
var (
	ErrCalculationRunning = errors.New("records: calculation already running")
	ErrNotRetryable       = errors.New("records: existing calculation is not failed")
	ErrCoolDownActive     = errors.New("records: retry cool-down has not elapsed")
)

// CalculationRequest drives one records calculation job.
type CalculationRequest struct {
	GroupID int64 `json:"groupId"`

	// New entries and per-member week totals from the generation run that
	// triggered this calculation. Empty for operator-forced full runs.
	Candidates  []Candidate  `json:"candidates,omitempty"`
	MemberWeeks []MemberWeek `json:"memberWeeks,omitempty"`

	GeneratedAt time.Time `json:"generatedAt"`
	ForceFull   bool      `json:"forceFull,omitempty"`
}

// Service owns the GroupRecords state machine: (none) -> calculating ->
// completed | failed. A calculation replaces the prior row instead of mutating
// it, so a concurrent reader never sees a half-updated aggregate.
type Service struct {
	records  repository.RecordsRepository
	charts   repository.ChartRepository
	coolDown time.Duration
	now      func() time.Time
}

// NewService creates a records Service.
func NewService(records repository.RecordsRepository, charts repository.ChartRepository, coolDown time.Duration) *Service {
	return &Service{
		records:  records,
		charts:   charts,
		coolDown: coolDown,
		now:      time.Now,
	}
}

// StartedCalculation identifies a calculating row created at trigger time. It
// carries the mode decision and the prior superlative map, both of which are
// gone from storage once Begin replaces the row.
type StartedCalculation struct {
	RowID       int64                `json:"rowId"`
	Incremental bool                 `json:"incremental"`
	Existing    model.SuperlativeMap `json:"existing,omitempty"`
}

// Begin creates the calculating row. It runs on the trigger path, before the
// computation is handed off, so readers observe calculating immediately and a
// second trigger is rejected by CheckRetry. Incremental mode is selected only
// when a prior completed row exists and the request carries candidates;
// otherwise the whole history is scanned.
func (s *Service) Begin(req CalculationRequest) (StartedCalculation, error) {
	prior, err := s.records.GetByGroupID(req.GroupID)
	if err != nil {
		return StartedCalculation{}, err
	}

	incremental := !req.ForceFull &&
		prior != nil &&
		prior.Status == model.RecordsStatusCompleted &&
		len(req.Candidates) > 0

	generatedAt := req.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = s.now().UTC()
	}

	row, err := s.records.Replace(req.GroupID, &generatedAt)
	if err != nil {
		return StartedCalculation{}, err
	}

	started := StartedCalculation{RowID: row.ID, Incremental: incremental}
	if incremental {
		started.Existing = prior.Records
	}
	return started, nil
}

// Complete runs the computation for a begun calculation and marks the row
// completed. Any failure flips the row to failed, best effort.
func (s *Service) Complete(ctx context.Context, started StartedCalculation, req CalculationRequest) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("records calculation panicked for group %d: %v", req.GroupID, r)
		}
		if err != nil {
			if markErr := s.records.MarkFailed(started.RowID); markErr != nil {
				// Row stays calculating; only the operator retry path after
				// the cool-down can recover it.
				logger.Error("failed to mark records calculation failed",
					logger.Int64("groupId", req.GroupID),
					logger.ErrorField(markErr))
			}
		}
	}()

	var computed model.SuperlativeMap
	if started.Incremental {
		computed, err = s.runIncremental(started.Existing, req)
	} else {
		computed, err = s.runFull(req.GroupID)
	}
	if err != nil {
		return err
	}

	if err = s.records.MarkCompleted(started.RowID, computed); err != nil {
		return err
	}

	logger.Info("records calculation completed",
		logger.Int64("groupId", req.GroupID),
		logger.Bool("incremental", started.Incremental),
		logger.Int("records", len(computed)))
	return nil
}

// Fail marks a begun calculation failed without running it. Used when the
// computation cannot be handed off after the calculating row was created.
func (s *Service) Fail(rowID int64) error {
	return s.records.MarkFailed(rowID)
}

// Run begins and completes a calculation in one call, for synchronous
// callers.
func (s *Service) Run(ctx context.Context, req CalculationRequest) error {
	started, err := s.Begin(req)
	if err != nil {
		return err
	}
	return s.Complete(ctx, started, req)
}

func (s *Service) runFull(groupID int64) (model.SuperlativeMap, error) {
	entries, err := s.charts.GetAllEntries(groupID)
	if err != nil {
		return nil, err
	}
	weeks, err := s.charts.GetAllWeeklyStats(groupID)
	if err != nil {
		return nil, err
	}
	return ComputeFull(entries, weeks), nil
}

func (s *Service) runIncremental(existing model.SuperlativeMap, req CalculationRequest) (model.SuperlativeMap, error) {
	cands := DedupeCandidates(req.Candidates)

	keysByType := make(map[string][]string)
	for _, c := range cands {
		keysByType[c.ChartType] = append(keysByType[c.ChartType], c.EntryKey)
	}

	aggs := make(map[string]repository.EntryAggregate)
	for chartType, keys := range keysByType {
		typeAggs, err := s.charts.GetEntryAggregates(req.GroupID, chartType, keys)
		if err != nil {
			return nil, err
		}
		for k, v := range typeAggs {
			aggs[k] = v
		}
	}

	updated, _ := UpdateIncremental(existing, cands, aggs, req.MemberWeeks)
	return updated, nil
}

// CheckRetry decides whether a forced recalculation may start given the
// current row. A missing row means a first calculation, always allowed. A
// failed row may be retried once the cool-down (measured from the charts
// generation the failed run was based on) has elapsed.
func (s *Service) CheckRetry(rec *model.GroupRecords) error {
	if rec == nil {
		return nil
	}
	switch rec.Status {
	case model.RecordsStatusCalculating:
		return ErrCalculationRunning
	case model.RecordsStatusCompleted:
		return ErrNotRetryable
	}

	since := rec.CalculationStartedAt
	if rec.ChartsGeneratedAt != nil {
		since = *rec.ChartsGeneratedAt
	}
	if s.now().UTC().Before(since.Add(s.coolDown)) {
		return ErrCoolDownActive
	}
	return nil
}

// RetryAfter returns when a failed calculation becomes retryable.
func (s *Service) RetryAfter(rec *model.GroupRecords) time.Time {
	since := rec.CalculationStartedAt
	if rec.ChartsGeneratedAt != nil {
		since = *rec.ChartsGeneratedAt
	}
	return since.Add(s.coolDown)
}
