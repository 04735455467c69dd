package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/domain"
)

// JobType identifies a job and selects its handler and payload variant.
type JobType string

// Supported job types
const (
	JobTypeStatusUpdate JobType = "task-status-update"
	JobTypeOverdueTask  JobType = "process-overdue-task"
	JobTypeOverdueSweep JobType = "overdue-tasks-notification"
)

const overdueSweepKeyPrefix = "overdue-sweep-"

// JobTypes lists every job type the worker understands.
var JobTypes = []JobType{JobTypeStatusUpdate, JobTypeOverdueTask, JobTypeOverdueSweep}

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	for _, known := range JobTypes {
		if t == known {
			return true
		}
	}
	return false
}

// StatusUpdatePayload announces that a task reached Status at ChangedAt.
type StatusUpdatePayload struct {
	TaskID    uuid.UUID         `json:"taskId"`
	Status    domain.TaskStatus `json:"status"`
	ChangedAt time.Time         `json:"changedAt"`
}

// OverdueTaskPayload asks the worker to follow up on one overdue task.
type OverdueTaskPayload struct {
	TaskID uuid.UUID `json:"taskId"`
	UserID uuid.UUID `json:"userId"`
}

// OverdueSweepPayload asks the worker to walk every overdue task,
// notifying owners when Notify is set.
type OverdueSweepPayload struct {
	Notify bool `json:"notify"`
}

// RetryPolicy bounds how often and how quickly a failed job is retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is used when no policy is configured for a job type.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   2 * time.Second,
	MaxDelay:    5 * time.Minute,
}

// MaxRetry is the number of retries after the first attempt.
func (p RetryPolicy) MaxRetry() int {
	if p.MaxAttempts <= 1 {
		return 0
	}
	return p.MaxAttempts - 1
}

// Backoff returns BaseDelay * 2^retried, capped at MaxDelay.
func Backoff(p RetryPolicy, retried int) time.Duration {
	if retried < 0 {
		retried = 0
	}
	delay := p.BaseDelay
	for i := 0; i < retried; i++ {
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			break
		}
		delay *= 2
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Job is a unit of deferred work. Key is the dedupe key: while a job with
// the same key is pending, retrying or archived, enqueueing another one is
// a no-op.
type Job struct {
	Type    JobType
	Key     string
	Payload any
}

// ErrInvalidJob is returned for jobs that can never be enqueued.
var ErrInvalidJob = errors.New("invalid job")

// Validate checks type and key.
func (j Job) Validate() error {
	if !j.Type.Valid() {
		return fmt.Errorf("%w: unknown job type %q", ErrInvalidJob, j.Type)
	}
	if j.Key == "" {
		return fmt.Errorf("%w: empty dedupe key", ErrInvalidJob)
	}
	return nil
}

func (j Job) encode() ([]byte, error) {
	data, err := json.Marshal(j.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encode payload: %v", ErrInvalidJob, err)
	}
	return data, nil
}

// StatusUpdateKey is the dedupe key of a status-update job.
func StatusUpdateKey(taskID uuid.UUID, status domain.TaskStatus) string {
	return fmt.Sprintf("status-update-%s-%s", taskID, status)
}

// OverdueTaskKey is the dedupe key of a process-overdue-task job.
func OverdueTaskKey(taskID uuid.UUID) string {
	return "overdue-" + taskID.String()
}

// NewStatusUpdateJob builds the status-update job for task's current status.
func NewStatusUpdateJob(task *domain.Task) Job {
	return NewStatusChangeJob(task.ID, task.Status, task.UpdatedAt)
}

// NewStatusChangeJob builds a status-update job announcing that taskID
// reached status at changedAt.
func NewStatusChangeJob(taskID uuid.UUID, status domain.TaskStatus, changedAt time.Time) Job {
	return Job{
		Type: JobTypeStatusUpdate,
		Key:  StatusUpdateKey(taskID, status),
		Payload: StatusUpdatePayload{
			TaskID:    taskID,
			Status:    status,
			ChangedAt: changedAt.UTC(),
		},
	}
}

// NewOverdueTaskJob builds the follow-up job for an overdue task.
func NewOverdueTaskJob(task *domain.Task) Job {
	return Job{
		Type: JobTypeOverdueTask,
		Key:  OverdueTaskKey(task.ID),
		Payload: OverdueTaskPayload{
			TaskID: task.ID,
			UserID: task.UserID,
		},
	}
}

// NewOverdueSweepJob builds a sweep job. Sweeps requested within the same
// minute coalesce.
func NewOverdueSweepJob(notify bool, at time.Time) Job {
	return Job{
		Type:    JobTypeOverdueSweep,
		Key:     overdueSweepKeyPrefix + at.UTC().Format("200601021504"),
		Payload: OverdueSweepPayload{Notify: notify},
	}
}
