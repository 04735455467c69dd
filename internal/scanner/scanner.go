package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/metrics"
	"github.com/phrazzld/tasksync/internal/queue"
	"github.com/robfig/cron/v3"
)

// Defaults applied by New when Config leaves a field zero.
const (
	DefaultSchedule  = "@hourly"
	DefaultBatchSize = 500
)

// OverdueSource is the read side of the task store the scanner needs.
type OverdueSource interface {
	FindOverdue(ctx context.Context, cutoff time.Time, limit, offset int) ([]*domain.Task, error)
}

// Config controls the scan schedule and paging.
type Config struct {
	// Schedule is a standard cron expression or descriptor such as "@hourly".
	Schedule string
	// BatchSize is the page size of each overdue query.
	BatchSize int
	// OverdueThreshold is subtracted from now to obtain the cutoff.
	OverdueThreshold time.Duration
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// ScanReport summarizes one scan run.
type ScanReport struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Cutoff     time.Time     `json:"cutoff"`
	Pages      int           `json:"pages"`
	Detected   int           `json:"detected"`
	Queued     int           `json:"queued"`
	Duplicates int           `json:"duplicates"`
	Failed     int           `json:"failed"`
	Error      string        `json:"error,omitempty"`
}

// OverdueScanner periodically pages through overdue tasks and enqueues a
// process-overdue-task job for each of them.
type OverdueScanner struct {
	tasks   OverdueSource
	jobs    queue.JobQueue
	metrics metrics.Sink
	cfg     Config
	logger  *slog.Logger

	mu      sync.Mutex
	last    *ScanReport
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

// New creates an OverdueScanner. It fails if the schedule cannot be parsed.
func New(
	tasks OverdueSource,
	jobs queue.JobQueue,
	sink metrics.Sink,
	cfg Config,
	logger *slog.Logger,
) (*OverdueScanner, error) {
	if tasks == nil || jobs == nil {
		return nil, errors.New("scanner requires a task source and a job queue")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid scanner schedule %q: %w", cfg.Schedule, err)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.OverdueThreshold < 0 {
		return nil, errors.New("overdue threshold cannot be negative")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if sink == nil {
		sink = metrics.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &OverdueScanner{
		tasks:   tasks,
		jobs:    jobs,
		metrics: sink,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "overdue_scanner")),
	}, nil
}

// Run performs one scan. Pages are read until one comes back shorter than
// the batch size. Enqueue failures are counted and do not stop the scan; a
// failed page read aborts it. The report is recorded either way.
func (s *OverdueScanner) Run(ctx context.Context) (ScanReport, error) {
	started := s.cfg.Now().UTC()
	report := ScanReport{
		StartedAt: started,
		Cutoff:    started.Add(-s.cfg.OverdueThreshold),
	}

	err := s.scan(ctx, &report)

	report.Duration = s.cfg.Now().UTC().Sub(started)
	if err != nil {
		report.Error = err.Error()
	}
	if report.Detected > 0 {
		s.metrics.OverdueDetected(report.Detected)
	}
	s.record(report)

	attrs := []any{
		slog.Int("pages", report.Pages),
		slog.Int("detected", report.Detected),
		slog.Int("queued", report.Queued),
		slog.Int("duplicates", report.Duplicates),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", report.Duration),
	}
	if err != nil {
		s.logger.Error("overdue scan aborted", append(attrs, slog.String("error", err.Error()))...)
		return report, err
	}
	s.logger.Info("overdue scan finished", attrs...)
	return report, nil
}

func (s *OverdueScanner) scan(ctx context.Context, report *ScanReport) error {
	for offset := 0; ; offset += s.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		tasks, err := s.tasks.FindOverdue(ctx, report.Cutoff, s.cfg.BatchSize, offset)
		if err != nil {
			return fmt.Errorf("read overdue page at offset %d: %w", offset, err)
		}
		report.Pages++

		if len(tasks) > 0 {
			report.Detected += len(tasks)
			s.enqueuePage(ctx, report, tasks)
		}

		if len(tasks) < s.cfg.BatchSize {
			return nil
		}
	}
}

func (s *OverdueScanner) enqueuePage(ctx context.Context, report *ScanReport, tasks []*domain.Task) {
	jobs := make([]queue.Job, 0, len(tasks))
	for _, task := range tasks {
		jobs = append(jobs, queue.NewOverdueTaskJob(task))
	}

	bulk, err := s.jobs.EnqueueBulk(ctx, jobs)
	report.Queued += bulk.Enqueued
	report.Duplicates += bulk.Duplicates
	report.Failed += bulk.Failed
	if err != nil {
		s.logger.Warn("failed to enqueue some overdue tasks",
			slog.String("error", err.Error()),
			slog.Int("failed", bulk.Failed))
	}
}

func (s *OverdueScanner) record(report ScanReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &report
}

// LastReport returns the summary of the most recent run, if any.
func (s *OverdueScanner) LastReport() (ScanReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return ScanReport{}, false
	}
	return *s.last, true
}

// Start schedules Run on the configured cron schedule. A run still in
// progress when the next one is due causes that tick to be skipped.
func (s *OverdueScanner) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("scanner already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	log := cronLogger{logger: s.logger}
	c := cron.New(
		cron.WithLogger(log),
		cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
	)
	if _, err := c.AddFunc(s.cfg.Schedule, func() {
		// Run logs its own failures; the schedule continues.
		_, _ = s.Run(ctx)
	}); err != nil {
		cancel()
		return fmt.Errorf("schedule overdue scan: %w", err)
	}

	c.Start()
	s.cron = c
	s.cancel = cancel
	s.running = true

	s.logger.Info("overdue scanner started",
		slog.String("schedule", s.cfg.Schedule),
		slog.Int("batch_size", s.cfg.BatchSize))
	return nil
}

// Stop stops scheduling and waits for a running scan to finish. If ctx ends
// first, the running scan is cancelled and ctx's error is returned.
func (s *OverdueScanner) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c, cancel := s.cron, s.cancel
	s.running = false
	s.mu.Unlock()

	done := c.Stop()
	defer cancel()

	select {
	case <-done.Done():
		s.logger.Info("overdue scanner stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts slog to cron.Logger. Cron's chatty scheduling messages
// are demoted to debug.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{slog.Any("error", err)}, keysAndValues...)...)
}
