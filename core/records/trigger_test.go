package records

import (
	"context"
	"errors"
	"testing"

	"groupfm/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type enqueuedJob struct {
	started StartedCalculation
	req     CalculationRequest
}

type fakeJobQueue struct {
	jobs []enqueuedJob
	err  error
}

func (q *fakeJobQueue) EnqueueRecords(ctx context.Context, started StartedCalculation, req CalculationRequest) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, enqueuedJob{started: started, req: req})
	return nil
}

func TestTriggerCreatesCalculatingRowBeforeEnqueue(t *testing.T) {
	svc, recordsRepo, _ := newServiceFixture(nil, nil)
	queue := &fakeJobQueue{}
	trigger := NewTrigger(svc, queue)

	require.NoError(t, trigger.TriggerRecords(context.Background(), CalculationRequest{GroupID: 7}))

	// The row is calculating as soon as the trigger returns; the computation
	// has not run.
	require.NotNil(t, recordsRepo.row)
	assert.Equal(t, model.RecordsStatusCalculating, recordsRepo.row.Status)

	require.Len(t, queue.jobs, 1)
	assert.Equal(t, recordsRepo.row.ID, queue.jobs[0].started.RowID)
}

func TestTriggerCarriesPriorMapForIncremental(t *testing.T) {
	history := []*model.ChartEntry{
		trackEntry(0, 1, "Radiohead", "Karma Police", 30),
	}
	svc, recordsRepo, _ := newServiceFixture(history, nil)

	// Seed a completed prior row.
	require.NoError(t, svc.Run(context.Background(), CalculationRequest{GroupID: 7}))
	prior := recordsRepo.row.Records
	require.NotEmpty(t, prior)

	queue := &fakeJobQueue{}
	trigger := NewTrigger(svc, queue)
	require.NoError(t, trigger.TriggerRecords(context.Background(), CalculationRequest{
		GroupID:    7,
		Candidates: candidatesFor(history),
	}))

	// Replace dropped the completed row, so the job payload is the only
	// place the existing map survives.
	require.Len(t, queue.jobs, 1)
	assert.True(t, queue.jobs[0].started.Incremental)
	assert.Equal(t, prior, queue.jobs[0].started.Existing)
	assert.Equal(t, model.RecordsStatusCalculating, recordsRepo.row.Status)
}

func TestTriggerMarksFailedWhenEnqueueFails(t *testing.T) {
	svc, recordsRepo, _ := newServiceFixture(nil, nil)
	queue := &fakeJobQueue{err: errors.New("queue down")}
	trigger := NewTrigger(svc, queue)

	err := trigger.TriggerRecords(context.Background(), CalculationRequest{GroupID: 7})
	require.Error(t, err)

	// The row must not stay calculating with no job behind it.
	require.NotNil(t, recordsRepo.row)
	assert.Equal(t, model.RecordsStatusFailed, recordsRepo.row.Status)
}

func TestBeginThenCompleteMatchesRun(t *testing.T) {
	history := []*model.ChartEntry{trackEntry(0, 1, "Radiohead", "Karma Police", 30)}
	svc, recordsRepo, historyRepo := newServiceFixture(history, nil)

	started, err := svc.Begin(CalculationRequest{GroupID: 7})
	require.NoError(t, err)
	assert.False(t, started.Incremental)
	assert.Equal(t, model.RecordsStatusCalculating, recordsRepo.row.Status)
	assert.Equal(t, 0, historyRepo.fullScans)

	require.NoError(t, svc.Complete(context.Background(), started, CalculationRequest{GroupID: 7}))
	assert.Equal(t, 1, historyRepo.fullScans)
	assert.Equal(t, model.RecordsStatusCompleted, recordsRepo.row.Status)
}
