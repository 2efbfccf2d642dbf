package worker

import (
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
)

func optionValue(t *testing.T, opts []asynq.Option, typ asynq.OptionType) interface{} {
	t.Helper()
	for _, o := range opts {
		if o.Type() == typ {
			return o.Value()
		}
	}
	t.Fatalf("option %v not set", typ)
	return nil
}

func TestGenerationTaskTimeoutFollowsLockWindow(t *testing.T) {
	opts := generationTaskOptions(30 * time.Minute)
	assert.Equal(t, 30*time.Minute, optionValue(t, opts, asynq.TimeoutOpt))
	assert.Equal(t, 0, optionValue(t, opts, asynq.MaxRetryOpt))
}

func TestRecordsTaskOptions(t *testing.T) {
	opts := recordsTaskOptions()
	assert.Equal(t, recordsTaskTimeout, optionValue(t, opts, asynq.TimeoutOpt))
	assert.Equal(t, 0, optionValue(t, opts, asynq.MaxRetryOpt))
}
