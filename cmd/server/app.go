package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/nats-io/nats.go"
	"github.com/phrazzld/tasksync/internal/config"
	"github.com/phrazzld/tasksync/internal/metrics"
	"github.com/phrazzld/tasksync/internal/notify"
	"github.com/phrazzld/tasksync/internal/platform/postgres"
	"github.com/phrazzld/tasksync/internal/queue"
	"github.com/phrazzld/tasksync/internal/redact"
	"github.com/phrazzld/tasksync/internal/scanner"
	"github.com/phrazzld/tasksync/internal/service"
	"github.com/phrazzld/tasksync/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const redisPingTimeout = 5 * time.Second

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	db       *sql.DB
	redisOpt asynq.RedisClientOpt
	natsConn *nats.Conn

	registry *prometheus.Registry
	metrics  metrics.Sink

	jobs        *queue.AsynqQueue
	taskService service.TaskService
	scanner     *scanner.OverdueScanner
	worker      *worker.JobWorker
}

// newApplication connects to every backend and wires the components. On
// error everything opened so far is closed again.
func newApplication(ctx context.Context, cfg *config.Config, log *slog.Logger) (*application, error) {
	app := &application{config: cfg, logger: log}
	if err := app.wire(ctx); err != nil {
		app.cleanup()
		return nil, err
	}
	return app, nil
}

func (app *application) wire(ctx context.Context) error {
	cfg, log := app.config, app.logger

	var err error
	app.db, err = setupDatabase(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	if err = postgres.Migrate(ctx, app.db, "up", log); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	app.redisOpt, err = queue.RedisOptionsFromURL(cfg.Redis.URL)
	if err != nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	err = queue.Ping(pingCtx, app.redisOpt)
	cancel()
	if err != nil {
		return fmt.Errorf("redis check failed: %s", redact.Error(err))
	}
	log.Info("redis connection established")

	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics, err = metrics.NewPrometheus(app.registry)
	if err != nil {
		return err
	}

	queueOpts := queueOptions(cfg.Queue)
	app.jobs = queue.NewAsynqQueue(app.redisOpt, queueOpts, log)

	taskStore := postgres.NewPostgresTaskStore(app.db, log)
	app.taskService, err = service.NewTaskService(
		service.NewTaskRepositoryAdapter(taskStore, app.db),
		app.jobs,
		service.Options{
			OverdueThreshold: cfg.Scanner.OverdueThreshold,
			MaxBatchSize:     cfg.Batch.MaxSize,
		},
		log,
	)
	if err != nil {
		return fmt.Errorf("failed to create task service: %w", err)
	}

	notifier, err := app.setupNotifier()
	if err != nil {
		return err
	}

	if cfg.Worker.Enabled {
		dispatcher := worker.NewDispatcher(app.taskService, notifier, app.metrics, worker.DispatcherConfig{
			OverdueThreshold: cfg.Scanner.OverdueThreshold,
		}, log)
		app.worker = worker.New(app.redisOpt, dispatcher, worker.Config{
			Concurrency:     cfg.Worker.Concurrency,
			Queue:           queueOpts,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}, log)
	}

	if cfg.Scanner.Enabled {
		app.scanner, err = scanner.New(taskStore, app.jobs, app.metrics, scanner.Config{
			Schedule:         cfg.Scanner.Schedule,
			BatchSize:        cfg.Scanner.BatchSize,
			OverdueThreshold: cfg.Scanner.OverdueThreshold,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to create overdue scanner: %w", err)
		}
	}

	return nil
}

// setupNotifier publishes to NATS when a URL is configured and only logs otherwise.
func (app *application) setupNotifier() (notify.Notifier, error) {
	cfg := app.config.Notify
	if cfg.NATSURL == "" {
		app.logger.Info("no NATS url configured, overdue notifications are logged only")
		return notify.NewLogNotifier(app.logger), nil
	}

	nc, err := notify.Connect(cfg.NATSURL, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to set up notifier: %s", redact.Error(err))
	}
	app.natsConn = nc
	app.logger.Info("publishing overdue notifications to NATS", slog.String("subject", cfg.Subject))
	return notify.NewNATSNotifier(nc, cfg.Subject, app.logger), nil
}

// queueOptions applies the configured retry policy to every job type.
func queueOptions(cfg config.QueueConfig) queue.Options {
	policy := queue.RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
	}
	policies := make(map[queue.JobType]queue.RetryPolicy, len(queue.JobTypes))
	for _, t := range queue.JobTypes {
		policies[t] = policy
	}
	return queue.Options{Queue: cfg.Name, Policies: policies}
}

// cleanup releases connections in reverse order of acquisition. It is safe
// on a partially built application.
func (app *application) cleanup() {
	if app.jobs != nil {
		if err := app.jobs.Close(); err != nil {
			app.logger.Warn("failed to close job queue", slog.String("error", err.Error()))
		}
	}
	if app.natsConn != nil {
		if err := app.natsConn.Drain(); err != nil {
			app.logger.Warn("failed to drain nats connection", slog.String("error", err.Error()))
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Warn("failed to close database", slog.String("error", err.Error()))
		}
	}
}
