package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/metrics"
	"github.com/phrazzld/tasksync/internal/notify"
	"github.com/phrazzld/tasksync/internal/platform/logger"
	"github.com/phrazzld/tasksync/internal/queue"
	"github.com/phrazzld/tasksync/internal/service"
)

// DefaultSweepBatchSize is the page size used by the overdue sweep handler.
const DefaultSweepBatchSize = 100

// ResultStatus classifies a handled job.
type ResultStatus string

// Handler result statuses
const (
	ResultSuccess  ResultStatus = "success"
	ResultSkipped  ResultStatus = "skipped"
	ResultRejected ResultStatus = "rejected"
)

// Result is what a handler reports for a job it did not fail on.
// Rejected results are permanent and are not retried.
type Result struct {
	Status    ResultStatus `json:"status"`
	Processed int          `json:"processed"`
	Reason    string       `json:"reason,omitempty"`
}

// TaskOperations is the part of service.TaskService the handlers use.
type TaskOperations interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	UpdateStatus(
		ctx context.Context,
		id uuid.UUID,
		status domain.TaskStatus,
		changedAt time.Time,
	) (service.StatusUpdateOutcome, error)
	FindOverdueTasks(ctx context.Context, limit, offset int) ([]*domain.Task, error)
}

// DispatcherConfig tunes the handlers.
type DispatcherConfig struct {
	// OverdueThreshold must match the service's threshold so a task is
	// judged overdue the same way everywhere.
	OverdueThreshold time.Duration
	SweepBatchSize   int
	Now              func() time.Time
}

// Dispatcher routes jobs to handlers by type. It implements asynq.Handler.
type Dispatcher struct {
	tasks    TaskOperations
	notifier notify.Notifier
	metrics  metrics.Sink
	cfg      DispatcherConfig
	logger   *slog.Logger
}

var _ asynq.Handler = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher. A nil notifier only logs; a nil sink
// discards metrics.
func NewDispatcher(
	tasks TaskOperations,
	notifier notify.Notifier,
	sink metrics.Sink,
	cfg DispatcherConfig,
	log *slog.Logger,
) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(log)
	}
	if sink == nil {
		sink = metrics.Noop{}
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = DefaultSweepBatchSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Dispatcher{
		tasks:    tasks,
		notifier: notifier,
		metrics:  sink,
		cfg:      cfg,
		logger:   log.With(slog.String("component", "job_dispatcher")),
	}
}

// ProcessTask implements asynq.Handler. It records one jobs-processed
// metric per attempt and stores the handler result on the task.
func (d *Dispatcher) ProcessTask(ctx context.Context, t *asynq.Task) error {
	log := d.logger.With(slog.String("job_type", t.Type()))
	if id, ok := asynq.GetTaskID(ctx); ok {
		log = log.With(slog.String("job_key", id))
	}
	ctx = logger.WithLogger(ctx, log)

	result, err := d.Dispatch(ctx, queue.JobType(t.Type()), t.Payload())
	if err != nil {
		d.metrics.JobProcessed(t.Type(), metrics.StatusError)
		log.Warn("job failed", slog.String("error", err.Error()))
		return err
	}

	if result.Status == ResultRejected {
		d.metrics.JobProcessed(t.Type(), metrics.StatusRejected)
		log.Warn("job rejected", slog.String("reason", result.Reason))
	} else {
		d.metrics.JobProcessed(t.Type(), metrics.StatusSuccess)
		log.Debug("job done",
			slog.String("status", string(result.Status)),
			slog.Int("processed", result.Processed))
	}

	if w := t.ResultWriter(); w != nil {
		if data, err := json.Marshal(result); err == nil {
			_, _ = w.Write(data)
		}
	}
	return nil
}

// Dispatch decodes payload for jobType and runs its handler.
func (d *Dispatcher) Dispatch(ctx context.Context, jobType queue.JobType, payload []byte) (Result, error) {
	switch jobType {
	case queue.JobTypeStatusUpdate:
		var p queue.StatusUpdatePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return rejected("malformed payload: %v", err), nil
		}
		return d.handleStatusUpdate(ctx, p)

	case queue.JobTypeOverdueTask:
		var p queue.OverdueTaskPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return rejected("malformed payload: %v", err), nil
		}
		return d.handleOverdueTask(ctx, p)

	case queue.JobTypeOverdueSweep:
		var p queue.OverdueSweepPayload
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &p); err != nil {
				return rejected("malformed payload: %v", err), nil
			}
		}
		return d.handleOverdueSweep(ctx, p)

	default:
		return Result{}, fmt.Errorf("unknown job type %q: %w", jobType, asynq.SkipRetry)
	}
}

func (d *Dispatcher) handleStatusUpdate(ctx context.Context, p queue.StatusUpdatePayload) (Result, error) {
	if p.TaskID == uuid.Nil || p.Status == "" {
		return rejected("taskId and status are required"), nil
	}
	if !p.Status.Valid() {
		return rejected("unknown status %q", p.Status), nil
	}

	outcome, err := d.tasks.UpdateStatus(ctx, p.TaskID, p.Status, p.ChangedAt)
	switch {
	case errors.Is(err, service.ErrTaskNotFound):
		return rejected("task %s no longer exists", p.TaskID), nil
	case err != nil:
		return Result{}, err
	case outcome == service.StatusUpdateStale:
		return Result{Status: ResultSkipped, Reason: "task changed after the event"}, nil
	case outcome == service.StatusUpdateUnchanged:
		return Result{Status: ResultSuccess}, nil
	default:
		return Result{Status: ResultSuccess, Processed: 1}, nil
	}
}

func (d *Dispatcher) handleOverdueTask(ctx context.Context, p queue.OverdueTaskPayload) (Result, error) {
	if p.TaskID == uuid.Nil {
		return rejected("taskId is required"), nil
	}

	task, err := d.tasks.Get(ctx, p.TaskID)
	switch {
	case errors.Is(err, service.ErrTaskNotFound):
		return Result{Status: ResultSkipped, Reason: "task no longer exists"}, nil
	case err != nil:
		return Result{}, err
	}

	if !task.IsOverdue(d.cutoff()) {
		return Result{Status: ResultSkipped, Reason: "task is no longer overdue"}, nil
	}

	d.notify(ctx, task.UserID, task.ID)
	return Result{Status: ResultSuccess, Processed: 1}, nil
}

func (d *Dispatcher) handleOverdueSweep(ctx context.Context, p queue.OverdueSweepPayload) (Result, error) {
	result := Result{Status: ResultSuccess}

	for offset := 0; ; offset += d.cfg.SweepBatchSize {
		tasks, err := d.tasks.FindOverdueTasks(ctx, d.cfg.SweepBatchSize, offset)
		if err != nil {
			return Result{}, fmt.Errorf("overdue sweep at offset %d: %w", offset, err)
		}

		if p.Notify {
			for _, task := range tasks {
				d.notify(ctx, task.UserID, task.ID)
			}
		}
		result.Processed += len(tasks)

		if len(tasks) < d.cfg.SweepBatchSize {
			return result, nil
		}
	}
}

// notify is fire-and-forget: delivery failures are logged and never fail
// the job.
func (d *Dispatcher) notify(ctx context.Context, userID, taskID uuid.UUID) {
	if err := d.notifier.NotifyOverdue(ctx, userID, taskID); err != nil {
		logger.FromContextOrDefault(ctx, d.logger).Warn("overdue notification failed",
			slog.String("error", err.Error()),
			slog.String("task_id", taskID.String()),
			slog.String("user_id", userID.String()))
	}
}

func (d *Dispatcher) cutoff() time.Time {
	return d.cfg.Now().UTC().Add(-d.cfg.OverdueThreshold)
}

func rejected(format string, args ...any) Result {
	return Result{Status: ResultRejected, Reason: fmt.Sprintf(format, args...)}
}
