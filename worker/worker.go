package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"groupfm/core/charts"
	"groupfm/core/records"
	"groupfm/logger"

	"github.com/hibiken/asynq"
)

// zapLoggerAdapter bridges the global zap-backed logger to asynq.Logger.
type zapLoggerAdapter struct{}

func (zapLoggerAdapter) Debug(args ...interface{}) { logger.Debug(fmt.Sprint(args...)) }
func (zapLoggerAdapter) Info(args ...interface{})  { logger.Info(fmt.Sprint(args...)) }
func (zapLoggerAdapter) Warn(args ...interface{})  { logger.Warn(fmt.Sprint(args...)) }
func (zapLoggerAdapter) Error(args ...interface{}) { logger.Error(fmt.Sprint(args...)) }
func (zapLoggerAdapter) Fatal(args ...interface{}) { logger.Fatal(fmt.Sprint(args...)) }

// Start starts the embedded background worker in non-blocking mode and
// returns a stop function for shutdown coordination.
func Start(opt asynq.RedisClientOpt, orch *charts.Orchestrator, recordsSvc *records.Service) (stop func(), err error) {
	srv := asynq.NewServer(opt, asynq.Config{
		// Jobs are per-group serialized by the generation lock; a little
		// concurrency only helps across groups.
		Concurrency: 5,
		Logger:      zapLoggerAdapter{},
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskGenerateCharts, handleGenerateCharts(orch))
	mux.HandleFunc(TaskCalculateRecords, handleCalculateRecords(recordsSvc))

	if err := srv.Start(mux); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}
	return func() { srv.Shutdown() }, nil
}

// handleGenerateCharts runs a chart generation job. The lock was acquired at
// trigger time; the orchestrator releases it on every path.
func handleGenerateCharts(orch *charts.Orchestrator) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		var payload generatePayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("invalid generation payload: %w", asynq.SkipRetry)
		}

		report, err := orch.Run(ctx, payload.GroupID, payload.Weeks, payload.RunID)
		if errors.Is(err, charts.ErrRunAborted) {
			// Aborted runs are a reported outcome, not a job failure; the
			// failure list is persisted on the group for the status endpoint.
			logger.Warn("generation job aborted",
				logger.String("runId", payload.RunID),
				logger.Int64("groupId", payload.GroupID),
				logger.Strings("failedUsers", report.FailedUsers))
			return nil
		}
		if err != nil {
			return fmt.Errorf("generation run failed for group %d: %w", payload.GroupID, err)
		}
		return nil
	}
}

// handleCalculateRecords completes a records calculation begun at trigger
// time.
func handleCalculateRecords(svc *records.Service) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		var payload recordsPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("invalid records payload: %w", asynq.SkipRetry)
		}

		if err := svc.Complete(ctx, payload.Started, payload.Request); err != nil {
			return fmt.Errorf("records calculation failed for group %d: %w", payload.Request.GroupID, err)
		}
		return nil
	}
}
