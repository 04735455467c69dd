package postgres_test

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/platform/postgres"
	"github.com/phrazzld/tasksync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var taskRowColumns = []string{
	"id", "user_id", "title", "description", "status", "priority", "due_date", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*postgres.PostgresTaskStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})

	return postgres.NewPostgresTaskStore(db, nil), mock
}

func taskRow(rows *sqlmock.Rows, id uuid.UUID, status domain.TaskStatus, due any) *sqlmock.Rows {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return rows.AddRow(
		id.String(),
		uuid.NewString(),
		"Write report",
		"",
		string(status),
		string(domain.TaskPriorityHigh),
		due,
		now,
		now,
	)
}

func TestPostgresTaskStore_GetByID(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()
	due := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM tasks WHERE id = $1`)).
		WithArgs(id).
		WillReturnRows(taskRow(sqlmock.NewRows(taskRowColumns), id, domain.TaskStatusPending, due))

	task, err := s.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, task.ID)
	assert.Equal(t, domain.TaskStatusPending, task.Status)
	assert.Equal(t, domain.TaskPriorityHigh, task.Priority)
	require.NotNil(t, task.DueDate)
	assert.True(t, task.DueDate.Equal(due))
}

func TestPostgresTaskStore_GetByID_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM tasks WHERE id = $1`)).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(taskRowColumns))

	task, err := s.GetByID(context.Background(), id)
	assert.Nil(t, task)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestPostgresTaskStore_GetForUpdate(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM tasks WHERE id = $1 FOR UPDATE`)).
		WithArgs(id).
		WillReturnRows(taskRow(sqlmock.NewRows(taskRowColumns), id, domain.TaskStatusInProgress, nil))

	task, err := s.GetForUpdate(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, task.DueDate)
	assert.Equal(t, domain.TaskStatusInProgress, task.Status)
}

func TestPostgresTaskStore_Create(t *testing.T) {
	t.Run("inserts a valid task", func(t *testing.T) {
		s, mock := newMockStore(t)
		task, err := domain.NewTask(uuid.New(), "title", "", domain.TaskPriorityLow, nil)
		require.NoError(t, err)

		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO tasks`)).
			WithArgs(
				task.ID,
				task.UserID,
				"title",
				"",
				"pending",
				"low",
				nil,
				sqlmock.AnyArg(),
				sqlmock.AnyArg(),
			).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, s.Create(context.Background(), task))
	})

	t.Run("rejects invalid task without a query", func(t *testing.T) {
		s, _ := newMockStore(t)
		err := s.Create(context.Background(), &domain.Task{})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("maps duplicate key", func(t *testing.T) {
		s, mock := newMockStore(t)
		task, err := domain.NewTask(uuid.New(), "title", "", "", nil)
		require.NoError(t, err)

		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO tasks`)).
			WillReturnError(&pgconn.PgError{Code: "23505"})

		err = s.Create(context.Background(), task)
		assert.ErrorIs(t, err, store.ErrDuplicate)
	})
}

func TestPostgresTaskStore_UpdateAtomic(t *testing.T) {
	t.Run("writes only patched fields", func(t *testing.T) {
		s, mock := newMockStore(t)
		id := uuid.New()
		title := "  renamed  "
		status := domain.TaskStatusCompleted

		mock.ExpectQuery(regexp.QuoteMeta(
			`UPDATE tasks SET title = $1, status = $2, updated_at = GREATEST(clock_timestamp(), updated_at + interval '1 microsecond') WHERE id = $3 RETURNING`,
		)).
			WithArgs("renamed", "completed", id).
			WillReturnRows(taskRow(sqlmock.NewRows(taskRowColumns), id, domain.TaskStatusCompleted, nil))

		task, err := s.UpdateAtomic(context.Background(), id, domain.TaskPatch{Title: &title, Status: &status})
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusCompleted, task.Status)
	})

	t.Run("clears due date", func(t *testing.T) {
		s, mock := newMockStore(t)
		id := uuid.New()

		mock.ExpectQuery(regexp.QuoteMeta(`UPDATE tasks SET due_date = NULL, updated_at =`)).
			WithArgs(id).
			WillReturnRows(taskRow(sqlmock.NewRows(taskRowColumns), id, domain.TaskStatusPending, nil))

		task, err := s.UpdateAtomic(context.Background(), id, domain.TaskPatch{ClearDueDate: true})
		require.NoError(t, err)
		assert.Nil(t, task.DueDate)
	})

	t.Run("missing row", func(t *testing.T) {
		s, mock := newMockStore(t)
		id := uuid.New()

		mock.ExpectQuery(regexp.QuoteMeta(`UPDATE tasks SET status = $1`)).
			WithArgs("cancelled", id).
			WillReturnRows(sqlmock.NewRows(taskRowColumns))

		_, err := s.UpdateAtomic(context.Background(), id, domain.StatusPatch(domain.TaskStatusCancelled))
		assert.ErrorIs(t, err, store.ErrTaskNotFound)
	})

	t.Run("invalid patch", func(t *testing.T) {
		s, _ := newMockStore(t)
		_, err := s.UpdateAtomic(context.Background(), uuid.New(), domain.TaskPatch{})
		assert.ErrorIs(t, err, domain.ErrEmptyTaskPatch)
	})
}

func TestPostgresTaskStore_BulkUpdateStatus(t *testing.T) {
	s, mock := newMockStore(t)
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	stamp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(
		`UPDATE tasks SET status = $1, updated_at = GREATEST(clock_timestamp(), updated_at + interval '1 microsecond') WHERE id IN ($2, $3, $4) AND status NOT IN ($5) RETURNING id, updated_at`,
	)).
		WithArgs("completed", a, b, c, "completed").
		WillReturnRows(sqlmock.NewRows([]string{"id", "updated_at"}).
			AddRow(a.String(), stamp).
			AddRow(c.String(), stamp))

	changed, err := s.BulkUpdateStatus(
		context.Background(),
		[]uuid.UUID{a, b, c},
		[]domain.TaskStatus{domain.TaskStatusCompleted},
		domain.TaskStatusCompleted,
	)
	require.NoError(t, err)
	assert.Equal(t, []domain.StatusChange{{ID: a, UpdatedAt: stamp}, {ID: c, UpdatedAt: stamp}}, changed)

	none, err := s.BulkUpdateStatus(context.Background(), nil, nil, domain.TaskStatusCompleted)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPostgresTaskStore_LockExisting(t *testing.T) {
	s, mock := newMockStore(t)
	a, b := uuid.New(), uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM tasks WHERE id IN ($1, $2) ORDER BY id FOR UPDATE`)).
		WithArgs(a, b).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(b.String()))

	existing, err := s.LockExisting(context.Background(), []uuid.UUID{a, b})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b}, existing)
}

func TestPostgresTaskStore_BulkDelete(t *testing.T) {
	s, mock := newMockStore(t)
	a, b := uuid.New(), uuid.New()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM tasks WHERE id IN ($1, $2)`)).
		WithArgs(a, b).
		WillReturnResult(sqlmock.NewResult(0, 2))

	deleted, err := s.BulkDelete(context.Background(), []uuid.UUID{a, b})
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}

func TestPostgresTaskStore_Delete(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM tasks WHERE id = $1`)).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, s.Delete(context.Background(), id), store.ErrTaskNotFound)
}

func TestPostgresTaskStore_Find(t *testing.T) {
	s, mock := newMockStore(t)
	status := domain.TaskStatusPending
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM tasks WHERE status = $1`)).
		WithArgs("pending").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(21)))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM tasks WHERE status = $1 ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`)).
		WithArgs("pending", 10, 20).
		WillReturnRows(taskRow(sqlmock.NewRows(taskRowColumns), id, domain.TaskStatusPending, nil))

	tasks, total, err := s.Find(
		context.Background(),
		domain.TaskFilter{Status: &status},
		domain.Pagination{Page: 3, Limit: 10},
	)
	require.NoError(t, err)
	assert.Equal(t, 21, total)
	require.Len(t, tasks, 1)
	assert.Equal(t, id, tasks[0].ID)
}

func TestPostgresTaskStore_FindOverdue(t *testing.T) {
	s, mock := newMockStore(t)
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(
		`WHERE due_date IS NOT NULL AND due_date < $1 AND status NOT IN ($2, $3) ORDER BY id LIMIT $4 OFFSET $5`,
	)).
		WithArgs(cutoff, "completed", "cancelled", 500, 1000).
		WillReturnRows(taskRow(sqlmock.NewRows(taskRowColumns), id, domain.TaskStatusPending, cutoff.Add(-time.Hour)))

	tasks, err := s.FindOverdue(context.Background(), cutoff, 500, 1000)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.True(t, tasks[0].IsOverdue(cutoff))
}

func TestPostgresTaskStore_Stats(t *testing.T) {
	s, mock := newMockStore(t)
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`COUNT(*) FILTER (WHERE status = $1)`)).
		WithArgs("pending", "in_progress", "completed", "cancelled", "high", cutoff).
		WillReturnRows(sqlmock.NewRows([]string{"a", "b", "c", "d", "e", "f", "g"}).
			AddRow(int64(10), int64(4), int64(3), int64(2), int64(1), int64(5), int64(2)))

	stats, err := s.Stats(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStats{
		Total:        10,
		Pending:      4,
		InProgress:   3,
		Completed:    2,
		Cancelled:    1,
		HighPriority: 5,
		Overdue:      2,
	}, *stats)
}

func TestPostgresTaskStore_WithTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	id := uuid.New()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM tasks WHERE id = $1`)).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	s := postgres.NewPostgresTaskStore(db, nil)
	err = store.RunInTransaction(context.Background(), db, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.WithTx(tx).Delete(ctx, id); err != nil {
			return err
		}
		return sql.ErrTxDone
	})
	assert.ErrorIs(t, err, sql.ErrTxDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}
