package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 10 * time.Second}

	tests := []struct {
		retried int
		want    time.Duration
	}{
		{-1, time.Second},
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{60, 10 * time.Second},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Backoff(p, tc.retried), "retried=%d", tc.retried)
	}

	uncapped := RetryPolicy{BaseDelay: time.Millisecond}
	assert.Equal(t, 8*time.Millisecond, Backoff(uncapped, 3))
}

func TestRetryPolicyMaxRetry(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 2, RetryPolicy{MaxAttempts: 3}.MaxRetry())
	assert.Equal(t, 0, RetryPolicy{MaxAttempts: 1}.MaxRetry())
	assert.Equal(t, 0, RetryPolicy{}.MaxRetry())
}

func TestJobKeys(t *testing.T) {
	t.Parallel()

	id := uuid.MustParse("6f1c2c4e-6b4b-4d8e-9a57-1e2f3a4b5c6d")
	assert.Equal(t, "status-update-6f1c2c4e-6b4b-4d8e-9a57-1e2f3a4b5c6d-completed",
		StatusUpdateKey(id, domain.TaskStatusCompleted))
	assert.Equal(t, "overdue-6f1c2c4e-6b4b-4d8e-9a57-1e2f3a4b5c6d", OverdueTaskKey(id))

	at := time.Date(2026, 5, 4, 13, 7, 59, 0, time.UTC)
	assert.Equal(t, "overdue-sweep-202605041307", NewOverdueSweepJob(true, at).Key)
}

func TestNewStatusUpdateJobPayload(t *testing.T) {
	t.Parallel()

	task, err := domain.NewTask(uuid.New(), "title", "", "", nil)
	require.NoError(t, err)
	task.Status = domain.TaskStatusInProgress

	job := NewStatusUpdateJob(task)
	require.NoError(t, job.Validate())
	assert.Equal(t, JobTypeStatusUpdate, job.Type)

	data, err := job.encode()
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, task.ID.String(), raw["taskId"])
	assert.Equal(t, "in_progress", raw["status"])
	assert.Contains(t, raw, "changedAt")
}

func TestJobValidate(t *testing.T) {
	t.Parallel()

	assert.ErrorIs(t, Job{Type: "mystery", Key: "k"}.Validate(), ErrInvalidJob)
	assert.ErrorIs(t, Job{Type: JobTypeOverdueTask}.Validate(), ErrInvalidJob)
	assert.NoError(t, Job{Type: JobTypeOverdueTask, Key: "k"}.Validate())

	_, err := Job{Type: JobTypeOverdueTask, Key: "k", Payload: make(chan int)}.encode()
	assert.ErrorIs(t, err, ErrInvalidJob)
}
