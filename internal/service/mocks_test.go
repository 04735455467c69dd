package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/queue"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// MockTaskRepository mocks the TaskRepository interface.
// WithTx returns the mock itself so expectations cover transactional calls.
type MockTaskRepository struct {
	mock.Mock
	db *sql.DB
}

func (m *MockTaskRepository) Create(ctx context.Context, task *domain.Task) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

func (m *MockTaskRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Task), args.Error(1)
}

func (m *MockTaskRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Task), args.Error(1)
}

func (m *MockTaskRepository) UpdateAtomic(
	ctx context.Context,
	id uuid.UUID,
	patch domain.TaskPatch,
) (*domain.Task, error) {
	args := m.Called(ctx, id, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Task), args.Error(1)
}

func (m *MockTaskRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockTaskRepository) LockExisting(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *MockTaskRepository) BulkUpdateStatus(
	ctx context.Context,
	ids []uuid.UUID,
	exclude []domain.TaskStatus,
	status domain.TaskStatus,
) ([]domain.StatusChange, error) {
	args := m.Called(ctx, ids, exclude, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.StatusChange), args.Error(1)
}

func (m *MockTaskRepository) BulkDelete(ctx context.Context, ids []uuid.UUID) (int64, error) {
	args := m.Called(ctx, ids)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockTaskRepository) Find(
	ctx context.Context,
	filter domain.TaskFilter,
	page domain.Pagination,
) ([]*domain.Task, int, error) {
	args := m.Called(ctx, filter, page)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]*domain.Task), args.Int(1), args.Error(2)
}

func (m *MockTaskRepository) FindOverdue(
	ctx context.Context,
	cutoff time.Time,
	limit, offset int,
) ([]*domain.Task, error) {
	args := m.Called(ctx, cutoff, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Task), args.Error(1)
}

func (m *MockTaskRepository) Stats(ctx context.Context, cutoff time.Time) (*domain.TaskStats, error) {
	args := m.Called(ctx, cutoff)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TaskStats), args.Error(1)
}

func (m *MockTaskRepository) WithTx(*sql.Tx) TaskRepository {
	return m
}

func (m *MockTaskRepository) DB() *sql.DB {
	return m.db
}

// MockJobQueue mocks the queue.JobQueue interface
type MockJobQueue struct {
	mock.Mock
}

func (m *MockJobQueue) Enqueue(ctx context.Context, job queue.Job) (queue.EnqueueResult, error) {
	args := m.Called(ctx, job)
	return args.Get(0).(queue.EnqueueResult), args.Error(1)
}

func (m *MockJobQueue) EnqueueBulk(ctx context.Context, jobs []queue.Job) (queue.BulkResult, error) {
	args := m.Called(ctx, jobs)
	return args.Get(0).(queue.BulkResult), args.Error(1)
}

func (m *MockJobQueue) DeadJobs(ctx context.Context, limit int) ([]queue.DeadJob, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]queue.DeadJob), args.Error(1)
}

// newTxDB opens an in-memory SQLite database. The mocks never issue SQL;
// it only gives store.RunInTransaction a real transaction to begin and end.
func newTxDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

var fixedNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, opts Options) (TaskService, *MockTaskRepository, *MockJobQueue) {
	t.Helper()

	repo := &MockTaskRepository{db: newTxDB(t)}
	jobs := &MockJobQueue{}
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}

	svc, err := NewTaskService(repo, jobs, opts, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		repo.AssertExpectations(t)
		jobs.AssertExpectations(t)
	})
	return svc, repo, jobs
}

func testTask(t *testing.T, status domain.TaskStatus) *domain.Task {
	t.Helper()

	task, err := domain.NewTask(uuid.New(), "Write report", "", domain.TaskPriorityMedium, nil)
	require.NoError(t, err)
	task.Status = status
	return task
}
