package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/phrazzld/tasksync/internal/platform/logger"
	"github.com/phrazzld/tasksync/internal/redact"
)

// DefaultQueueName is the asynq queue all jobs are placed on.
const DefaultQueueName = "task-processing"

// Options configures an AsynqQueue.
type Options struct {
	// Queue is the asynq queue name. Defaults to DefaultQueueName.
	Queue string
	// Policies maps job types to retry policies. Missing types use
	// DefaultRetryPolicy.
	Policies map[JobType]RetryPolicy
}

// PolicyFor returns the retry policy for t.
func (o Options) PolicyFor(t JobType) RetryPolicy {
	if p, ok := o.Policies[t]; ok {
		return p
	}
	return DefaultRetryPolicy
}

// AsynqQueue implements JobQueue on Redis through hibiken/asynq.
// The job's dedupe key becomes the asynq task ID.
type AsynqQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	opts      Options
	logger    *slog.Logger
}

var _ JobQueue = (*AsynqQueue)(nil)

// NewAsynqQueue creates a queue client for the Redis instance behind redisOpt.
func NewAsynqQueue(redisOpt asynq.RedisConnOpt, opts Options, log *slog.Logger) *AsynqQueue {
	if opts.Queue == "" {
		opts.Queue = DefaultQueueName
	}
	if log == nil {
		log = slog.Default()
	}
	return &AsynqQueue{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		opts:      opts,
		logger:    log.With(slog.String("component", "job_queue")),
	}
}

// Options returns the queue configuration.
func (q *AsynqQueue) Options() Options {
	return q.opts
}

// Enqueue implements JobQueue.Enqueue
func (q *AsynqQueue) Enqueue(ctx context.Context, job Job) (EnqueueResult, error) {
	log := logger.FromContextOrDefault(ctx, q.logger)
	result := EnqueueResult{Key: job.Key}

	if err := job.Validate(); err != nil {
		return result, err
	}
	payload, err := job.encode()
	if err != nil {
		return result, err
	}

	task := asynq.NewTask(string(job.Type), payload)
	err = q.enqueue(ctx, task, job)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		var released bool
		released, err = q.releaseArchived(ctx, job.Key)
		if err != nil {
			return result, err
		}
		if !released {
			log.Debug("job already queued",
				slog.String("job_type", string(job.Type)),
				slog.String("job_key", job.Key))
			result.Duplicate = true
			return result, nil
		}
		err = q.enqueue(ctx, task, job)
	}

	switch {
	case err == nil:
		log.Debug("job enqueued",
			slog.String("job_type", string(job.Type)),
			slog.String("job_key", job.Key))
		return result, nil
	case errors.Is(err, asynq.ErrTaskIDConflict):
		// Taken again between release and retry.
		result.Duplicate = true
		return result, nil
	default:
		return result, fmt.Errorf("%w: enqueue %s: %v", ErrQueueUnavailable, job.Key, err)
	}
}

func (q *AsynqQueue) enqueue(ctx context.Context, task *asynq.Task, job Job) error {
	policy := q.opts.PolicyFor(job.Type)
	_, err := q.client.EnqueueContext(
		ctx,
		task,
		asynq.TaskID(job.Key),
		asynq.Queue(q.opts.Queue),
		asynq.MaxRetry(policy.MaxRetry()),
	)
	return err
}

// releaseArchived deletes the job holding key if it is in the dead set and
// reports whether the key is free. asynq keeps archived task IDs reserved.
func (q *AsynqQueue) releaseArchived(ctx context.Context, key string) (bool, error) {
	log := logger.FromContextOrDefault(ctx, q.logger)

	info, err := q.inspector.GetTaskInfo(q.opts.Queue, key)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) {
			// Gone since the conflict; the retry decides.
			return true, nil
		}
		return false, fmt.Errorf("%w: inspect %s: %v", ErrQueueUnavailable, key, err)
	}
	if info.State != asynq.TaskStateArchived {
		return false, nil
	}

	log.Warn("replacing dead job",
		slog.String("job_type", info.Type),
		slog.String("job_key", key),
		slog.Int("retried", info.Retried),
		slog.String("last_error", redact.String(info.LastErr)),
		slog.Time("last_failed_at", info.LastFailedAt))

	if err := q.inspector.DeleteTask(q.opts.Queue, key); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
		return false, fmt.Errorf("%w: delete dead job %s: %v", ErrQueueUnavailable, key, err)
	}
	return true, nil
}

// EnqueueBulk implements JobQueue.EnqueueBulk
func (q *AsynqQueue) EnqueueBulk(ctx context.Context, jobs []Job) (BulkResult, error) {
	result := BulkResult{Items: make([]BulkItem, 0, len(jobs))}
	var errs []error

	for _, job := range jobs {
		r, err := q.Enqueue(ctx, job)
		item := BulkItem{Key: job.Key, Duplicate: r.Duplicate, Err: err}
		switch {
		case err != nil:
			result.Failed++
			errs = append(errs, err)
		case r.Duplicate:
			result.Duplicates++
		default:
			result.Enqueued++
		}
		result.Items = append(result.Items, item)
	}

	if result.Failed > 0 {
		logger.FromContextOrDefault(ctx, q.logger).Warn("bulk enqueue had failures",
			slog.Int("jobs", len(jobs)),
			slog.Int("failed", result.Failed))
	}
	return result, errors.Join(errs...)
}

// DeadJobs implements JobQueue.DeadJobs
func (q *AsynqQueue) DeadJobs(ctx context.Context, limit int) ([]DeadJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	infos, err := q.inspector.ListArchivedTasks(q.opts.Queue, asynq.PageSize(limit))
	if err != nil {
		if errors.Is(err, asynq.ErrQueueNotFound) {
			return []DeadJob{}, nil
		}
		return nil, fmt.Errorf("%w: list archived tasks: %v", ErrQueueUnavailable, err)
	}

	dead := make([]DeadJob, 0, len(infos))
	for _, info := range infos {
		dead = append(dead, DeadJob{
			ID:           info.ID,
			Type:         info.Type,
			Payload:      string(info.Payload),
			LastError:    info.LastErr,
			Retried:      info.Retried,
			MaxRetry:     info.MaxRetry,
			LastFailedAt: info.LastFailedAt,
		})
	}
	return dead, nil
}

// Close releases the Redis connections.
func (q *AsynqQueue) Close() error {
	return errors.Join(q.client.Close(), q.inspector.Close())
}
