package records

import (
	"context"

	"groupfm/logger"
)

// JobQueue hands a begun calculation to the background worker.
type JobQueue interface {
	EnqueueRecords(ctx context.Context, started StartedCalculation, req CalculationRequest) error
}

// Trigger starts a records calculation: the calculating row is created here,
// on the trigger path, and only the computation runs in the background job.
type Trigger struct {
	svc   *Service
	queue JobQueue
}

// NewTrigger creates a Trigger.
func NewTrigger(svc *Service, queue JobQueue) *Trigger {
	return &Trigger{svc: svc, queue: queue}
}

// TriggerRecords replaces the records row with a fresh calculating one and
// enqueues the computation. If the hand-off fails the row is flipped to
// failed so the operator retry path applies instead of leaving it stuck.
func (t *Trigger) TriggerRecords(ctx context.Context, req CalculationRequest) error {
	started, err := t.svc.Begin(req)
	if err != nil {
		return err
	}
	if err := t.queue.EnqueueRecords(ctx, started, req); err != nil {
		if failErr := t.svc.Fail(started.RowID); failErr != nil {
			logger.Error("failed to mark records calculation failed after enqueue error",
				logger.Int64("groupId", req.GroupID),
				logger.ErrorField(failErr))
		}
		return err
	}
	return nil
}
