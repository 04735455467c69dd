package service

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/platform/logger"
	"github.com/phrazzld/tasksync/internal/queue"
	"github.com/phrazzld/tasksync/internal/store"
)

// BatchProcess implements TaskService.BatchProcess
//
// Ids are deduplicated keeping first-seen order and the result carries one
// entry per distinct id in that order. The store mutation is all-or-nothing;
// status-update jobs for changed ids are enqueued after commit and their
// failures are only logged.
func (s *taskServiceImpl) BatchProcess(
	ctx context.Context,
	ids []uuid.UUID,
	action domain.BatchAction,
) (*domain.BatchResult, error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With(slog.String("action", string(action)))

	if len(ids) == 0 {
		return nil, invalidArgument("ids must not be empty")
	}
	if !action.Valid() {
		return nil, invalidArgument("unknown batch action %q", action)
	}

	distinct := domain.DedupeIDs(ids)
	if len(distinct) > s.maxBatchSize {
		return nil, invalidArgument("batch of %d ids exceeds the limit of %d", len(distinct), s.maxBatchSize)
	}

	var (
		outcomes map[uuid.UUID]domain.BatchOutcome
		changes  []domain.StatusChange
	)
	err := store.RunInTransaction(ctx, s.repo.DB(), func(ctx context.Context, tx *sql.Tx) error {
		txRepo := s.repo.WithTx(tx)
		outcomes = make(map[uuid.UUID]domain.BatchOutcome, len(distinct))

		existing, err := txRepo.LockExisting(ctx, distinct)
		if err != nil {
			return NewTaskServiceError("batch_process", "failed to lock tasks", err)
		}
		if len(existing) == 0 {
			return nil
		}

		switch action {
		case domain.BatchActionComplete:
			changes, err = txRepo.BulkUpdateStatus(
				ctx,
				existing,
				[]domain.TaskStatus{domain.TaskStatusCompleted},
				domain.TaskStatusCompleted,
			)
			if err != nil {
				return NewTaskServiceError("batch_process", "failed to complete tasks", err)
			}
			for _, id := range existing {
				outcomes[id] = domain.BatchOutcomeNoop
			}
			for _, change := range changes {
				outcomes[change.ID] = domain.BatchOutcomeUpdated
			}

		case domain.BatchActionDelete:
			deleted, err := txRepo.BulkDelete(ctx, existing)
			if err != nil {
				return NewTaskServiceError("batch_process", "failed to delete tasks", err)
			}
			if deleted != int64(len(existing)) {
				log.Warn("bulk delete removed an unexpected number of rows",
					slog.Int("locked", len(existing)),
					slog.Int64("deleted", deleted))
			}
			for _, id := range existing {
				outcomes[id] = domain.BatchOutcomeDeleted
			}
		}
		return nil
	})
	if err != nil {
		log.Error("batch failed, no task was changed",
			slog.String("error", err.Error()),
			slog.Int("requested", len(distinct)))
		return nil, err
	}

	result := buildBatchResult(action, distinct, outcomes)

	log.Info("batch processed",
		slog.Int("requested", result.Requested),
		slog.Int("affected", result.Affected),
		slog.Int("not_found", result.NotFound))

	if len(changes) > 0 {
		s.enqueueBatchStatusUpdates(ctx, log, changes)
	}
	return result, nil
}

func buildBatchResult(
	action domain.BatchAction,
	distinct []uuid.UUID,
	outcomes map[uuid.UUID]domain.BatchOutcome,
) *domain.BatchResult {
	result := &domain.BatchResult{
		Action:    action,
		Requested: len(distinct),
		Results:   make([]domain.BatchItemResult, 0, len(distinct)),
	}

	for _, id := range distinct {
		item := domain.BatchItemResult{ID: id, Success: true}
		outcome, ok := outcomes[id]
		switch {
		case !ok:
			item.Outcome = domain.BatchOutcomeNotFound
			item.Success = false
			item.Reason = "task not found"
			result.NotFound++
		case outcome == domain.BatchOutcomeNoop:
			item.Outcome = outcome
			item.Reason = "task already completed"
		default:
			item.Outcome = outcome
			result.Affected++
		}
		result.Results = append(result.Results, item)
	}
	return result
}

func (s *taskServiceImpl) enqueueBatchStatusUpdates(
	ctx context.Context,
	log *slog.Logger,
	changes []domain.StatusChange,
) {
	jobs := make([]queue.Job, 0, len(changes))
	for _, change := range changes {
		jobs = append(jobs, queue.NewStatusChangeJob(change.ID, domain.TaskStatusCompleted, change.UpdatedAt))
	}

	bulk, err := s.jobs.EnqueueBulk(context.WithoutCancel(ctx), jobs)
	if err != nil {
		log.Warn("some batch status update jobs were not enqueued",
			slog.String("error", err.Error()),
			slog.Int("failed", bulk.Failed),
			slog.Int("enqueued", bulk.Enqueued))
		return
	}

	log.Debug("batch status update jobs enqueued",
		slog.Int("enqueued", bulk.Enqueued),
		slog.Int("duplicates", bulk.Duplicates))
}
