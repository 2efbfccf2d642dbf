package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"groupfm/core/records"

	"github.com/hibiken/asynq"
)

// Task type constants.
const (
	TaskGenerateCharts   = "charts:generate"
	TaskCalculateRecords = "records:calculate"
)

const recordsTaskTimeout = 15 * time.Minute

// generatePayload is the charts:generate task payload. The lock is acquired
// by the trigger path before enqueueing; the task only runs the orchestrator.
type generatePayload struct {
	GroupID int64  `json:"groupId"`
	Weeks   int    `json:"weeks,omitempty"` // elevated override, 0 = planner default
	RunID   string `json:"runId"`
}

// recordsPayload is the records:calculate task payload. The calculating row
// was already created by the trigger path; the task completes it.
type recordsPayload struct {
	Started records.StartedCalculation `json:"started"`
	Request records.CalculationRequest `json:"request"`
}

// Enqueuer enqueues background jobs. It implements records.JobQueue.
type Enqueuer struct {
	client *asynq.Client

	// generationTimeout bounds the charts task. It is the lock staleness
	// window: a run the lock layer may already consider stale must not keep
	// writing past it.
	generationTimeout time.Duration
}

// NewEnqueuer creates an Enqueuer on a Redis connection. generationTimeout
// should be the generation lock staleness window.
func NewEnqueuer(opt asynq.RedisClientOpt, generationTimeout time.Duration) *Enqueuer {
	return &Enqueuer{client: asynq.NewClient(opt), generationTimeout: generationTimeout}
}

// Close closes the underlying client.
func (e *Enqueuer) Close() error {
	return e.client.Close()
}

// generationTaskOptions builds the charts:generate options. No retries: the
// caller holds the generation lock and the run releases it, so a blind re-run
// would execute unlocked.
func generationTaskOptions(timeout time.Duration) []asynq.Option {
	return []asynq.Option{
		asynq.MaxRetry(0),
		asynq.Timeout(timeout),
	}
}

// recordsTaskOptions builds the records:calculate options. No retries either:
// failed calculations are recovered through the operator retry path after the
// cool-down, not by blind re-runs.
func recordsTaskOptions() []asynq.Option {
	return []asynq.Option{
		asynq.MaxRetry(0),
		asynq.Timeout(recordsTaskTimeout),
	}
}

// EnqueueGeneration enqueues a chart generation run.
func (e *Enqueuer) EnqueueGeneration(ctx context.Context, groupID int64, weeks int, runID string) error {
	payload, err := json.Marshal(generatePayload{GroupID: groupID, Weeks: weeks, RunID: runID})
	if err != nil {
		return fmt.Errorf("failed to encode generation payload: %w", err)
	}

	task := asynq.NewTask(TaskGenerateCharts, payload, generationTaskOptions(e.generationTimeout)...)
	if _, err := e.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("failed to enqueue generation task: %w", err)
	}
	return nil
}

// EnqueueRecords enqueues the computation for an already-begun records
// calculation.
func (e *Enqueuer) EnqueueRecords(ctx context.Context, started records.StartedCalculation, req records.CalculationRequest) error {
	payload, err := json.Marshal(recordsPayload{Started: started, Request: req})
	if err != nil {
		return fmt.Errorf("failed to encode records payload: %w", err)
	}

	task := asynq.NewTask(TaskCalculateRecords, payload, recordsTaskOptions()...)
	if _, err := e.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("failed to enqueue records task: %w", err)
	}
	return nil
}
