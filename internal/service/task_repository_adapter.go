package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/store"
)

// TaskRepository defines the repository interface for the service layer.
// It mirrors store.TaskStore and adds access to the database handle so the
// service can open transactions.
type TaskRepository interface {
	Create(ctx context.Context, task *domain.Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	UpdateAtomic(ctx context.Context, id uuid.UUID, patch domain.TaskPatch) (*domain.Task, error)
	Delete(ctx context.Context, id uuid.UUID) error
	LockExisting(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)
	BulkUpdateStatus(
		ctx context.Context,
		ids []uuid.UUID,
		exclude []domain.TaskStatus,
		status domain.TaskStatus,
	) ([]domain.StatusChange, error)
	BulkDelete(ctx context.Context, ids []uuid.UUID) (int64, error)
	Find(ctx context.Context, filter domain.TaskFilter, page domain.Pagination) ([]*domain.Task, int, error)
	FindOverdue(ctx context.Context, cutoff time.Time, limit, offset int) ([]*domain.Task, error)
	Stats(ctx context.Context, cutoff time.Time) (*domain.TaskStats, error)

	// WithTx returns a new repository instance that uses the provided transaction
	WithTx(tx *sql.Tx) TaskRepository

	// DB returns the underlying database connection
	DB() *sql.DB
}

// NewTaskRepositoryAdapter creates a new adapter that allows a store.TaskStore
// to be used where a TaskRepository is expected.
func NewTaskRepositoryAdapter(taskStore store.TaskStore, db *sql.DB) TaskRepository {
	return &taskRepositoryAdapter{
		TaskStore: taskStore,
		db:        db,
	}
}

// taskRepositoryAdapter adapts a store.TaskStore to the TaskRepository interface
type taskRepositoryAdapter struct {
	store.TaskStore
	db *sql.DB
}

// WithTx implements TaskRepository.WithTx
func (a *taskRepositoryAdapter) WithTx(tx *sql.Tx) TaskRepository {
	return &taskRepositoryAdapter{
		TaskStore: a.TaskStore.WithTx(tx),
		db:        a.db,
	}
}

// DB implements TaskRepository.DB
func (a *taskRepositoryAdapter) DB() *sql.DB {
	return a.db
}
