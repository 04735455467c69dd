package service

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/platform/logger"
	"github.com/phrazzld/tasksync/internal/queue"
	"github.com/phrazzld/tasksync/internal/store"
)

// DefaultMaxBatchSize bounds the number of distinct ids in one batch request
// when Options.MaxBatchSize is not set.
const DefaultMaxBatchSize = 100

// CreateTaskInput carries the caller-supplied fields of a new task.
type CreateTaskInput struct {
	UserID      uuid.UUID
	Title       string
	Description string
	Priority    domain.TaskPriority
	DueDate     *time.Time
}

// UpdateResult describes the outcome of TaskService.Update.
type UpdateResult struct {
	Task           *domain.Task
	PreviousStatus domain.TaskStatus
	StatusChanged  bool
	// Enqueued is true when a status-update job is queued for this change,
	// including the case where an identical job was already waiting.
	Enqueued bool
}

// StatusUpdateOutcome reports what UpdateStatus did.
type StatusUpdateOutcome string

// Status update outcomes
const (
	StatusUpdateApplied   StatusUpdateOutcome = "applied"
	StatusUpdateUnchanged StatusUpdateOutcome = "unchanged"
	StatusUpdateStale     StatusUpdateOutcome = "stale"
)

// TaskService provides task-related operations.
// Every mutation runs in one transaction; jobs are enqueued only after the
// transaction commits and enqueue failures never fail the mutation.
type TaskService interface {
	// Create persists a new pending task and announces its status.
	Create(ctx context.Context, input CreateTaskInput) (*domain.Task, error)

	// Get retrieves a task by its ID
	Get(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// List returns one page of tasks matching filter, newest first.
	List(ctx context.Context, filter domain.TaskFilter, page domain.Pagination) (*domain.Page[*domain.Task], error)

	// Update applies patch and enqueues a status-update job if and only if
	// the status changed.
	Update(ctx context.Context, id uuid.UUID, patch domain.TaskPatch) (*UpdateResult, error)

	// Remove deletes a task.
	Remove(ctx context.Context, id uuid.UUID) error

	// UpdateStatus is the terminal effect of a status-update job. It never
	// enqueues. A non-zero changedAt marks the event time: if the task has
	// since moved to a different status the event is stale and nothing is
	// written.
	UpdateStatus(
		ctx context.Context,
		id uuid.UUID,
		status domain.TaskStatus,
		changedAt time.Time,
	) (StatusUpdateOutcome, error)

	// FindOverdueTasks returns one page of non-terminal tasks due before
	// now minus the configured overdue threshold.
	FindOverdueTasks(ctx context.Context, limit, offset int) ([]*domain.Task, error)

	// GetStats returns aggregate task counts.
	GetStats(ctx context.Context) (*domain.TaskStats, error)

	// BatchProcess applies one action to a set of ids and reports a
	// per-id outcome.
	BatchProcess(ctx context.Context, ids []uuid.UUID, action domain.BatchAction) (*domain.BatchResult, error)
}

// Options tunes a TaskService.
type Options struct {
	// OverdueThreshold is subtracted from now to obtain the overdue cutoff.
	OverdueThreshold time.Duration
	// MaxBatchSize caps the distinct ids of one batch; zero means DefaultMaxBatchSize.
	MaxBatchSize int
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// taskServiceImpl implements the TaskService interface
type taskServiceImpl struct {
	repo             TaskRepository
	jobs             queue.JobQueue
	overdueThreshold time.Duration
	maxBatchSize     int
	now              func() time.Time
	logger           *slog.Logger
}

var _ TaskService = (*taskServiceImpl)(nil)

// NewTaskService creates a new TaskService
// It returns an error if any of the required dependencies are nil.
func NewTaskService(
	repo TaskRepository,
	jobs queue.JobQueue,
	opts Options,
	logger *slog.Logger,
) (TaskService, error) {
	if repo == nil {
		return nil, &TaskServiceError{
			Operation: "create_service",
			Message:   "repo cannot be nil",
		}
	}
	if jobs == nil {
		return nil, &TaskServiceError{
			Operation: "create_service",
			Message:   "job queue cannot be nil",
		}
	}
	if opts.OverdueThreshold < 0 {
		return nil, &TaskServiceError{
			Operation: "create_service",
			Message:   "overdue threshold cannot be negative",
		}
	}

	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = DefaultMaxBatchSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &taskServiceImpl{
		repo:             repo,
		jobs:             jobs,
		overdueThreshold: opts.OverdueThreshold,
		maxBatchSize:     opts.MaxBatchSize,
		now:              opts.Now,
		logger:           logger.With(slog.String("component", "task_service")),
	}, nil
}

// Create implements TaskService.Create
func (s *taskServiceImpl) Create(ctx context.Context, input CreateTaskInput) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	task, err := domain.NewTask(input.UserID, input.Title, input.Description, input.Priority, input.DueDate)
	if err != nil {
		log.Warn("invalid task input",
			slog.String("error", err.Error()),
			slog.String("user_id", input.UserID.String()))
		return nil, err
	}

	err = store.RunInTransaction(ctx, s.repo.DB(), func(ctx context.Context, tx *sql.Tx) error {
		if err := s.repo.WithTx(tx).Create(ctx, task); err != nil {
			return NewTaskServiceError("create_task", "failed to save task to database", err)
		}
		return nil
	})
	if err != nil {
		log.Error("failed to create task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return nil, err
	}

	log.Info("task created",
		slog.String("task_id", task.ID.String()),
		slog.String("user_id", task.UserID.String()))

	s.enqueueStatusUpdate(ctx, log, queue.NewStatusUpdateJob(task))
	return task, nil
}

// Get implements TaskService.Get
func (s *taskServiceImpl) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	task, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, NewTaskServiceError("get_task", "failed to retrieve task", err)
	}
	return task, nil
}

// List implements TaskService.List
func (s *taskServiceImpl) List(
	ctx context.Context,
	filter domain.TaskFilter,
	page domain.Pagination,
) (*domain.Page[*domain.Task], error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, domain.ErrInvalidTaskStatus
	}
	if filter.Priority != nil && !filter.Priority.Valid() {
		return nil, domain.ErrInvalidTaskPriority
	}

	page = page.Normalize()
	tasks, total, err := s.repo.Find(ctx, filter, page)
	if err != nil {
		return nil, NewTaskServiceError("list_tasks", "failed to list tasks", err)
	}
	return domain.NewPage(tasks, total, page), nil
}

// Update implements TaskService.Update
func (s *taskServiceImpl) Update(ctx context.Context, id uuid.UUID, patch domain.TaskPatch) (*UpdateResult, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := patch.Validate(); err != nil {
		return nil, err
	}

	result := &UpdateResult{}
	err := store.RunInTransaction(ctx, s.repo.DB(), func(ctx context.Context, tx *sql.Tx) error {
		txRepo := s.repo.WithTx(tx)

		before, err := txRepo.GetForUpdate(ctx, id)
		if err != nil {
			return NewTaskServiceError("update_task", "failed to read task", err)
		}

		after, err := txRepo.UpdateAtomic(ctx, id, patch)
		if err != nil {
			return NewTaskServiceError("update_task", "failed to update task", err)
		}

		result.Task = after
		result.PreviousStatus = before.Status
		result.StatusChanged = before.Status != after.Status
		return nil
	})
	if err != nil {
		log.Warn("failed to update task",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return nil, err
	}

	log.Info("task updated",
		slog.String("task_id", id.String()),
		slog.Bool("status_changed", result.StatusChanged))

	if result.StatusChanged {
		result.Enqueued = s.enqueueStatusUpdate(ctx, log, queue.NewStatusUpdateJob(result.Task))
	}
	return result, nil
}

// Remove implements TaskService.Remove
func (s *taskServiceImpl) Remove(ctx context.Context, id uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	err := store.RunInTransaction(ctx, s.repo.DB(), func(ctx context.Context, tx *sql.Tx) error {
		if err := s.repo.WithTx(tx).Delete(ctx, id); err != nil {
			return NewTaskServiceError("remove_task", "failed to delete task", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Info("task removed", slog.String("task_id", id.String()))
	return nil
}

// UpdateStatus implements TaskService.UpdateStatus
func (s *taskServiceImpl) UpdateStatus(
	ctx context.Context,
	id uuid.UUID,
	status domain.TaskStatus,
	changedAt time.Time,
) (StatusUpdateOutcome, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if !status.Valid() {
		return "", domain.ErrInvalidTaskStatus
	}

	var outcome StatusUpdateOutcome
	err := store.RunInTransaction(ctx, s.repo.DB(), func(ctx context.Context, tx *sql.Tx) error {
		txRepo := s.repo.WithTx(tx)

		task, err := txRepo.GetForUpdate(ctx, id)
		if err != nil {
			return NewTaskServiceError("update_task_status", "failed to read task", err)
		}

		switch {
		case task.Status == status:
			outcome = StatusUpdateUnchanged
			return nil
		case !changedAt.IsZero() && task.UpdatedAt.After(changedAt):
			outcome = StatusUpdateStale
			return nil
		}

		if _, err := txRepo.UpdateAtomic(ctx, id, domain.StatusPatch(status)); err != nil {
			return NewTaskServiceError("update_task_status", "failed to save task status", err)
		}
		outcome = StatusUpdateApplied
		return nil
	})
	if err != nil {
		log.Error("failed to update task status",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()),
			slog.String("status", string(status)))
		return "", err
	}

	log.Debug("task status update handled",
		slog.String("task_id", id.String()),
		slog.String("status", string(status)),
		slog.String("outcome", string(outcome)))
	return outcome, nil
}

// FindOverdueTasks implements TaskService.FindOverdueTasks
func (s *taskServiceImpl) FindOverdueTasks(ctx context.Context, limit, offset int) ([]*domain.Task, error) {
	if limit <= 0 || offset < 0 {
		return nil, invalidArgument("limit must be positive and offset non-negative")
	}

	tasks, err := s.repo.FindOverdue(ctx, s.cutoff(), limit, offset)
	if err != nil {
		return nil, NewTaskServiceError("find_overdue_tasks", "failed to query overdue tasks", err)
	}
	return tasks, nil
}

// GetStats implements TaskService.GetStats
func (s *taskServiceImpl) GetStats(ctx context.Context) (*domain.TaskStats, error) {
	stats, err := s.repo.Stats(ctx, s.cutoff())
	if err != nil {
		return nil, NewTaskServiceError("get_stats", "failed to compute task statistics", err)
	}
	return stats, nil
}

func (s *taskServiceImpl) cutoff() time.Time {
	return s.now().UTC().Add(-s.overdueThreshold)
}

// enqueueStatusUpdate runs after commit. The job is detached from the
// request's cancellation so a client hanging up cannot drop it.
func (s *taskServiceImpl) enqueueStatusUpdate(ctx context.Context, log *slog.Logger, job queue.Job) bool {
	result, err := s.jobs.Enqueue(context.WithoutCancel(ctx), job)
	if err != nil {
		log.Warn("failed to enqueue status update job",
			slog.String("error", err.Error()),
			slog.String("job_key", job.Key))
		return false
	}

	log.Debug("status update job enqueued",
		slog.String("job_key", result.Key),
		slog.Bool("duplicate", result.Duplicate))
	return true
}
