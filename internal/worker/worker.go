package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/phrazzld/tasksync/internal/queue"
)

// DefaultConcurrency is the number of jobs handled at once when Config
// leaves Concurrency zero.
const DefaultConcurrency = 5

// Config configures a JobWorker.
type Config struct {
	Concurrency int
	// Queue supplies the queue name and per-type retry policies. It must
	// match the options the producing AsynqQueue was built with.
	Queue queue.Options
	// ShutdownTimeout bounds how long Shutdown waits for in-flight jobs.
	ShutdownTimeout time.Duration
}

// JobWorker runs a Dispatcher inside an asynq server.
type JobWorker struct {
	server  *asynq.Server
	handler asynq.Handler
	logger  *slog.Logger
}

// New creates a JobWorker consuming from the Redis instance behind redisOpt.
func New(redisOpt asynq.RedisConnOpt, handler asynq.Handler, cfg Config, log *slog.Logger) *JobWorker {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "job_worker"))

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Queue.Queue == "" {
		cfg.Queue.Queue = queue.DefaultQueueName
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     cfg.Concurrency,
		Queues:          map[string]int{cfg.Queue.Queue: 1},
		RetryDelayFunc:  RetryDelay(cfg.Queue),
		ErrorHandler:    errorHandler(log),
		Logger:          asynqLogger{logger: log},
		ShutdownTimeout: cfg.ShutdownTimeout,
	})

	return &JobWorker{
		server:  server,
		handler: handler,
		logger:  log,
	}
}

// Start begins processing in background goroutines.
func (w *JobWorker) Start() error {
	if err := w.server.Start(w.handler); err != nil {
		return fmt.Errorf("start job worker: %w", err)
	}
	w.logger.Info("job worker started")
	return nil
}

// Shutdown stops fetching new jobs and waits for in-flight handlers up to
// the configured timeout. Unfinished jobs go back to the queue.
func (w *JobWorker) Shutdown() {
	w.server.Shutdown()
	w.logger.Info("job worker stopped")
}

// RetryDelay returns an asynq.RetryDelayFunc applying the retry policy of
// each job's type.
func RetryDelay(opts queue.Options) asynq.RetryDelayFunc {
	return func(retried int, _ error, t *asynq.Task) time.Duration {
		return queue.Backoff(opts.PolicyFor(queue.JobType(t.Type())), retried)
	}
}

func errorHandler(log *slog.Logger) asynq.ErrorHandler {
	return asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		id, _ := asynq.GetTaskID(ctx)

		attrs := []any{
			slog.String("job_type", t.Type()),
			slog.String("job_key", id),
			slog.Int("retried", retried),
			slog.Int("max_retry", maxRetry),
			slog.String("error", err.Error()),
		}
		if errors.Is(err, asynq.SkipRetry) || retried >= maxRetry {
			log.Error("job moved to dead set", attrs...)
			return
		}
		log.Warn("job will be retried", attrs...)
	})
}

// asynqLogger adapts slog to asynq.Logger.
type asynqLogger struct {
	logger *slog.Logger
}

func (l asynqLogger) Debug(args ...any) { l.logger.Debug(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.logger.Info(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.logger.Warn(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.logger.Error(fmt.Sprint(args...)) }

func (l asynqLogger) Fatal(args ...any) {
	l.logger.Error(fmt.Sprint(args...), slog.Bool("fatal", true))
	os.Exit(1)
}
