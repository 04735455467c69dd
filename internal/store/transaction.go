package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/tasksync/internal/platform/logger"
	"github.com/phrazzld/tasksync/internal/redact"
)

// TxFn is the body of a transaction. Returning an error rolls it back.
type TxFn func(ctx context.Context, tx *sql.Tx) error

// RunInTransaction runs fn inside one transaction on db and commits when fn
// returns nil. An error from fn rolls the transaction back and is returned
// unchanged; a panic rolls back and is re-raised.
//
// Transaction events are logged on the logger carried by ctx, so they share
// the caller's trace_id. Error text is redacted before logging.
func RunInTransaction(ctx context.Context, db *sql.DB, fn TxFn) error {
	log := logger.FromContext(ctx)
	started := time.Now()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		log.Error("failed to begin transaction", slog.String("error", redact.Error(err)))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		p := recover()
		if p == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error("failed to roll back transaction after panic",
				slog.String("error", redact.Error(rbErr)),
				slog.Any("panic", p))
		} else {
			log.Error("rolled back transaction after panic", slog.Any("panic", p))
		}
		panic(p)
	}()

	if err := fn(ctx, tx); err != nil {
		return rollback(log, tx, err)
	}

	if err := tx.Commit(); err != nil {
		log.Error("failed to commit transaction", slog.String("error", redact.Error(err)))
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Debug("transaction committed", slog.Duration("elapsed", time.Since(started)))
	return nil
}

func rollback(log *slog.Logger, tx *sql.Tx, cause error) error {
	if err := tx.Rollback(); err != nil {
		log.Error("failed to roll back transaction",
			slog.String("rollback_error", redact.Error(err)),
			slog.String("original_error", redact.Error(cause)))
		return fmt.Errorf("error rolling back transaction: %v (original error: %w)", err, cause)
	}
	log.Debug("rolled back transaction", slog.String("error", redact.Error(cause)))
	return cause
}
