package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/domain"
)

// TaskStore defines the interface for task data persistence.
type TaskStore interface {
	// Create saves a new task to the store.
	// Returns validation errors from the domain Task if data is invalid.
	Create(ctx context.Context, task *domain.Task) error

	// GetByID retrieves a task by its unique ID.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// GetForUpdate retrieves a task and locks its row until the surrounding
	// transaction ends. Only meaningful on a transactional store (see WithTx).
	// Returns ErrTaskNotFound if the task does not exist.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// UpdateAtomic applies patch in a single statement and returns the
	// post-update image. UpdatedAt strictly increases on every call.
	// Returns ErrTaskNotFound if the task does not exist.
	UpdateAtomic(ctx context.Context, id uuid.UUID, patch domain.TaskPatch) (*domain.Task, error)

	// Delete removes a task.
	// Returns ErrTaskNotFound if no row was deleted.
	Delete(ctx context.Context, id uuid.UUID) error

	// LockExisting returns the subset of ids that exist, locking their rows.
	LockExisting(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)

	// BulkUpdateStatus sets status on every task in ids whose current status
	// is not in exclude, and returns exactly the rows that were changed.
	BulkUpdateStatus(
		ctx context.Context,
		ids []uuid.UUID,
		exclude []domain.TaskStatus,
		status domain.TaskStatus,
	) ([]domain.StatusChange, error)

	// BulkDelete deletes every task in ids and returns the number of rows removed.
	BulkDelete(ctx context.Context, ids []uuid.UUID) (int64, error)

	// Find returns one page of tasks matching filter, newest first,
	// together with the total number of matching tasks.
	Find(ctx context.Context, filter domain.TaskFilter, page domain.Pagination) ([]*domain.Task, int, error)

	// FindOverdue returns non-terminal tasks due strictly before cutoff,
	// ordered by id.
	FindOverdue(ctx context.Context, cutoff time.Time, limit, offset int) ([]*domain.Task, error)

	// Stats computes aggregate counts in one statement. Overdue uses cutoff.
	Stats(ctx context.Context, cutoff time.Time) (*domain.TaskStats, error)

	// WithTx returns a new TaskStore instance that uses the provided transaction.
	// The transaction should be created and managed by the caller (typically a service).
	WithTx(tx *sql.Tx) TaskStore
}
