package queue

import (
	"context"
	"errors"
	"time"
)

// ErrQueueUnavailable wraps every failure to reach the queue backend.
// Callers that enqueue after a committed write log it and move on.
var ErrQueueUnavailable = errors.New("job queue unavailable")

// EnqueueResult describes one enqueue attempt.
type EnqueueResult struct {
	Key       string
	Duplicate bool
}

// BulkItem is the per-job outcome of EnqueueBulk.
type BulkItem struct {
	Key       string
	Duplicate bool
	Err       error
}

// BulkResult summarizes EnqueueBulk. Items follow input order.
type BulkResult struct {
	Items      []BulkItem
	Enqueued   int
	Duplicates int
	Failed     int
}

// DeadJob is a job that exhausted its retries or was rejected permanently.
type DeadJob struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Payload      string    `json:"payload"`
	LastError    string    `json:"last_error"`
	Retried      int       `json:"retried"`
	MaxRetry     int       `json:"max_retry"`
	LastFailedAt time.Time `json:"last_failed_at"`
}

// JobQueue is a durable, at-least-once job queue keyed by dedupe key.
type JobQueue interface {
	// Enqueue adds job unless a job with the same key is already queued,
	// in which case the result reports Duplicate and err is nil.
	Enqueue(ctx context.Context, job Job) (EnqueueResult, error)

	// EnqueueBulk enqueues every job independently. It never stops at the
	// first failure; failures are counted and joined into the returned error.
	EnqueueBulk(ctx context.Context, jobs []Job) (BulkResult, error)

	// DeadJobs lists up to limit archived jobs.
	DeadJobs(ctx context.Context, limit int) ([]DeadJob, error)
}
