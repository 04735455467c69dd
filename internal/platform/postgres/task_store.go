package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/platform/logger"
	"github.com/phrazzld/tasksync/internal/store"
)

const taskColumns = `id, user_id, title, description, status, priority, due_date, created_at, updated_at`

// bumpUpdatedAt guarantees a strictly increasing updated_at even when two
// writes land within the clock's resolution.
const bumpUpdatedAt = `updated_at = GREATEST(clock_timestamp(), updated_at + interval '1 microsecond')`

// PostgresTaskStore implements the store.TaskStore interface
// using a PostgreSQL database as the storage backend.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a new PostgreSQL implementation of the TaskStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// Ensure PostgresTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*PostgresTaskStore)(nil)

// WithTx implements store.TaskStore.WithTx
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &PostgresTaskStore{
		db:     tx,
		logger: s.logger,
	}
}

// Create implements store.TaskStore.Create
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		log.Warn("task validation failed during create",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return err
	}

	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(
		ctx,
		query,
		task.ID,
		task.UserID,
		task.Title,
		task.Description,
		string(task.Status),
		string(task.Priority),
		nullTime(task.DueDate),
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to create task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return MapError(err)
	}

	log.Info("task created successfully",
		slog.String("task_id", task.ID.String()),
		slog.String("user_id", task.UserID.String()),
		slog.String("status", string(task.Status)))
	return nil
}

// GetByID implements store.TaskStore.GetByID
func (s *PostgresTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return s.get(ctx, id, false)
}

// GetForUpdate implements store.TaskStore.GetForUpdate
func (s *PostgresTaskStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return s.get(ctx, id, true)
}

func (s *PostgresTaskStore) get(ctx context.Context, id uuid.UUID, lock bool) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("task not found", slog.String("task_id", id.String()))
			return nil, store.ErrTaskNotFound
		}
		log.Error("failed to get task by ID",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()),
			slog.Bool("for_update", lock))
		return nil, err
	}

	return task, nil
}

// UpdateAtomic implements store.TaskStore.UpdateAtomic
// Only the fields present in patch are written; the returned task is the
// row image produced by the same statement.
func (s *PostgresTaskStore) UpdateAtomic(
	ctx context.Context,
	id uuid.UUID,
	patch domain.TaskPatch,
) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := patch.Validate(); err != nil {
		log.Warn("task patch validation failed",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return nil, err
	}

	var (
		sets []string
		args []any
	)
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Title != nil {
		set("title", strings.TrimSpace(*patch.Title))
	}
	if patch.Description != nil {
		set("description", *patch.Description)
	}
	if patch.Status != nil {
		set("status", string(*patch.Status))
	}
	if patch.Priority != nil {
		set("priority", string(*patch.Priority))
	}
	switch {
	case patch.ClearDueDate:
		sets = append(sets, "due_date = NULL")
	case patch.DueDate != nil:
		set("due_date", patch.DueDate.UTC())
	}
	sets = append(sets, bumpUpdatedAt)

	args = append(args, id)
	query := fmt.Sprintf(
		`UPDATE tasks SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "),
		len(args),
		taskColumns,
	)

	task, err := scanTask(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("task not found for update", slog.String("task_id", id.String()))
			return nil, store.ErrTaskNotFound
		}
		log.Error("failed to update task",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return nil, MapError(err)
	}

	log.Debug("task updated",
		slog.String("task_id", id.String()),
		slog.String("status", string(task.Status)))
	return task, nil
}

// Delete implements store.TaskStore.Delete
func (s *PostgresTaskStore) Delete(ctx context.Context, id uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		log.Error("failed to delete task",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return err
	}

	if err := CheckRowsAffected(result, store.ErrTaskNotFound); err != nil {
		return err
	}

	log.Info("task deleted", slog.String("task_id", id.String()))
	return nil
}

// LockExisting implements store.TaskStore.LockExisting
// Rows are locked in id order so concurrent batches cannot deadlock.
func (s *PostgresTaskStore) LockExisting(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return []uuid.UUID{}, nil
	}
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := fmt.Sprintf(
		`SELECT id FROM tasks WHERE id IN (%s) ORDER BY id FOR UPDATE`,
		placeholders(1, len(ids)),
	)

	existing, err := s.queryIDs(ctx, query, uuidArgs(ids)...)
	if err != nil {
		log.Error("failed to lock tasks",
			slog.String("error", err.Error()),
			slog.Int("count", len(ids)))
		return nil, err
	}
	return existing, nil
}

// BulkUpdateStatus implements store.TaskStore.BulkUpdateStatus
func (s *PostgresTaskStore) BulkUpdateStatus(
	ctx context.Context,
	ids []uuid.UUID,
	exclude []domain.TaskStatus,
	status domain.TaskStatus,
) ([]domain.StatusChange, error) {
	if len(ids) == 0 {
		return []domain.StatusChange{}, nil
	}
	log := logger.FromContextOrDefault(ctx, s.logger)

	if !status.Valid() {
		return nil, domain.ErrInvalidTaskStatus
	}

	args := []any{string(status)}
	args = append(args, uuidArgs(ids)...)
	query := fmt.Sprintf(
		`UPDATE tasks SET status = $1, %s WHERE id IN (%s)`,
		bumpUpdatedAt,
		placeholders(2, len(ids)),
	)
	if len(exclude) > 0 {
		query += fmt.Sprintf(` AND status NOT IN (%s)`, placeholders(len(args)+1, len(exclude)))
		args = append(args, statusArgs(exclude)...)
	}
	query += ` RETURNING id, updated_at`

	changed, err := s.queryChanges(ctx, query, args...)
	if err != nil {
		log.Error("failed to bulk update task status",
			slog.String("error", err.Error()),
			slog.String("status", string(status)),
			slog.Int("count", len(ids)))
		return nil, MapError(err)
	}

	log.Info("bulk status update applied",
		slog.String("status", string(status)),
		slog.Int("requested", len(ids)),
		slog.Int("changed", len(changed)))
	return changed, nil
}

// BulkDelete implements store.TaskStore.BulkDelete
func (s *PostgresTaskStore) BulkDelete(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := fmt.Sprintf(`DELETE FROM tasks WHERE id IN (%s)`, placeholders(1, len(ids)))
	result, err := s.db.ExecContext(ctx, query, uuidArgs(ids)...)
	if err != nil {
		log.Error("failed to bulk delete tasks",
			slog.String("error", err.Error()),
			slog.Int("count", len(ids)))
		return 0, err
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	log.Info("bulk delete applied",
		slog.Int("requested", len(ids)),
		slog.Int64("deleted", deleted))
	return deleted, nil
}

// Find implements store.TaskStore.Find
func (s *PostgresTaskStore) Find(
	ctx context.Context,
	filter domain.TaskFilter,
	page domain.Pagination,
) ([]*domain.Task, int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)
	page = page.Normalize()

	var (
		conds []string
		args  []any
	)
	where := func(column string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if filter.UserID != nil {
		where("user_id", *filter.UserID)
	}
	if filter.Status != nil {
		where("status", string(*filter.Status))
	}
	if filter.Priority != nil {
		where("priority", string(*filter.Priority))
	}

	whereClause := ""
	if len(conds) > 0 {
		whereClause = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`+whereClause, args...).Scan(&total); err != nil {
		log.Error("failed to count tasks", slog.String("error", err.Error()))
		return nil, 0, err
	}

	query := fmt.Sprintf(
		`SELECT %s FROM tasks%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		taskColumns,
		whereClause,
		len(args)+1,
		len(args)+2,
	)
	args = append(args, page.Limit, page.Offset())

	tasks, err := s.queryTasks(ctx, query, args...)
	if err != nil {
		log.Error("failed to find tasks",
			slog.String("error", err.Error()),
			slog.Int("page", page.Page),
			slog.Int("limit", page.Limit))
		return nil, 0, err
	}

	log.Debug("found tasks",
		slog.Int("count", len(tasks)),
		slog.Int("total", total))
	return tasks, total, nil
}

// FindOverdue implements store.TaskStore.FindOverdue
func (s *PostgresTaskStore) FindOverdue(
	ctx context.Context,
	cutoff time.Time,
	limit, offset int,
) ([]*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if limit <= 0 {
		limit = domain.DefaultPageLimit
	}
	if offset < 0 {
		offset = 0
	}

	args := []any{cutoff.UTC()}
	args = append(args, statusArgs(domain.TerminalStatuses)...)
	query := fmt.Sprintf(
		`SELECT %s FROM tasks
		WHERE due_date IS NOT NULL AND due_date < $1 AND status NOT IN (%s)
		ORDER BY id
		LIMIT $%d OFFSET $%d`,
		taskColumns,
		placeholders(2, len(domain.TerminalStatuses)),
		len(args)+1,
		len(args)+2,
	)
	args = append(args, limit, offset)

	tasks, err := s.queryTasks(ctx, query, args...)
	if err != nil {
		log.Error("failed to find overdue tasks",
			slog.String("error", err.Error()),
			slog.Time("cutoff", cutoff),
			slog.Int("offset", offset))
		return nil, err
	}
	return tasks, nil
}

// Stats implements store.TaskStore.Stats
func (s *PostgresTaskStore) Stats(ctx context.Context, cutoff time.Time) (*domain.TaskStats, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = $1),
			COUNT(*) FILTER (WHERE status = $2),
			COUNT(*) FILTER (WHERE status = $3),
			COUNT(*) FILTER (WHERE status = $4),
			COUNT(*) FILTER (WHERE priority = $5),
			COUNT(*) FILTER (WHERE due_date < $6 AND status NOT IN ($3, $4))
		FROM tasks
	`

	var stats domain.TaskStats
	err := s.db.QueryRowContext(
		ctx,
		query,
		string(domain.TaskStatusPending),
		string(domain.TaskStatusInProgress),
		string(domain.TaskStatusCompleted),
		string(domain.TaskStatusCancelled),
		string(domain.TaskPriorityHigh),
		cutoff.UTC(),
	).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.InProgress,
		&stats.Completed,
		&stats.Cancelled,
		&stats.HighPriority,
		&stats.Overdue,
	)
	if err != nil {
		log.Error("failed to compute task stats", slog.String("error", err.Error()))
		return nil, err
	}

	return &stats, nil
}

func (s *PostgresTaskStore) queryTasks(ctx context.Context, query string, args ...any) ([]*domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Error("failed to close rows", slog.String("error", err.Error()))
		}
	}()

	tasks := []*domain.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *PostgresTaskStore) queryIDs(ctx context.Context, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Error("failed to close rows", slog.String("error", err.Error()))
		}
	}()

	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *PostgresTaskStore) queryChanges(ctx context.Context, query string, args ...any) ([]domain.StatusChange, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Error("failed to close rows", slog.String("error", err.Error()))
		}
	}()

	changes := []domain.StatusChange{}
	for rows.Next() {
		var change domain.StatusChange
		if err := rows.Scan(&change.ID, &change.UpdatedAt); err != nil {
			return nil, err
		}
		change.UpdatedAt = change.UpdatedAt.UTC()
		changes = append(changes, change)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return changes, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task     domain.Task
		status   string
		priority string
		dueDate  sql.NullTime
	)

	err := row.Scan(
		&task.ID,
		&task.UserID,
		&task.Title,
		&task.Description,
		&status,
		&priority,
		&dueDate,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Status = domain.TaskStatus(status)
	task.Priority = domain.TaskPriority(priority)
	if dueDate.Valid {
		due := dueDate.Time.UTC()
		task.DueDate = &due
	}
	task.CreatedAt = task.CreatedAt.UTC()
	task.UpdatedAt = task.UpdatedAt.UTC()
	return &task, nil
}

// placeholders renders "$start, $start+1, ..." for n parameters.
func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}

func uuidArgs(ids []uuid.UUID) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func statusArgs(statuses []domain.TaskStatus) []any {
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	return args
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
