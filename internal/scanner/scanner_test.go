package scanner_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/queue"
	"github.com/phrazzld/tasksync/internal/scanner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scanNow = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

type pageCall struct {
	cutoff time.Time
	limit  int
	offset int
}

// fakeSource serves a fixed, id-ordered overdue set.
type fakeSource struct {
	mu     sync.Mutex
	tasks  []*domain.Task
	calls  []pageCall
	failAt int
}

func newFakeSource(n int) *fakeSource {
	src := &fakeSource{failAt: -1}
	past := scanNow.Add(-24 * time.Hour)
	for i := 0; i < n; i++ {
		src.tasks = append(src.tasks, &domain.Task{
			ID:       uuid.New(),
			UserID:   uuid.New(),
			Title:    "overdue",
			Status:   domain.TaskStatusPending,
			Priority: domain.TaskPriorityMedium,
			DueDate:  &past,
		})
	}
	return src
}

func (f *fakeSource) FindOverdue(_ context.Context, cutoff time.Time, limit, offset int) ([]*domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, pageCall{cutoff: cutoff, limit: limit, offset: offset})
	if offset == f.failAt {
		return nil, errors.New("connection refused")
	}
	if offset >= len(f.tasks) {
		return []*domain.Task{}, nil
	}
	return f.tasks[offset:min(offset+limit, len(f.tasks))], nil
}

func (f *fakeSource) pageCalls() []pageCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pageCall(nil), f.calls...)
}

type recordingSink struct {
	mu       sync.Mutex
	detected int
}

func (r *recordingSink) OverdueDetected(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detected += n
}

func (r *recordingSink) JobProcessed(string, string) {}

func (r *recordingSink) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.detected
}

type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, queue.Job) (queue.EnqueueResult, error) {
	return queue.EnqueueResult{}, queue.ErrQueueUnavailable
}

func (failingQueue) EnqueueBulk(_ context.Context, jobs []queue.Job) (queue.BulkResult, error) {
	return queue.BulkResult{Failed: len(jobs)}, queue.ErrQueueUnavailable
}

func (failingQueue) DeadJobs(context.Context, int) ([]queue.DeadJob, error) {
	return nil, queue.ErrQueueUnavailable
}

func newRedisQueue(t *testing.T) (*queue.AsynqQueue, *asynq.Inspector) {
	t.Helper()

	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	opt := asynq.RedisClientOpt{Addr: s.Addr()}
	q := queue.NewAsynqQueue(opt, queue.Options{}, nil)
	inspector := asynq.NewInspector(opt)
	t.Cleanup(func() {
		_ = inspector.Close()
		_ = q.Close()
	})
	return q, inspector
}

func pendingCount(t *testing.T, inspector *asynq.Inspector) int {
	t.Helper()
	pending, err := inspector.ListPendingTasks(queue.DefaultQueueName, asynq.PageSize(100))
	require.NoError(t, err)
	return len(pending)
}

func newScanner(t *testing.T, src scanner.OverdueSource, jobs queue.JobQueue, cfg scanner.Config) (*scanner.OverdueScanner, *recordingSink) {
	t.Helper()

	if cfg.Now == nil {
		cfg.Now = func() time.Time { return scanNow }
	}
	sink := &recordingSink{}
	s, err := scanner.New(src, jobs, sink, cfg, nil)
	require.NoError(t, err)
	return s, sink
}

func TestOverdueScanner_PagesUntilShortPage(t *testing.T) {
	src := newFakeSource(11)
	q, inspector := newRedisQueue(t)
	s, sink := newScanner(t, src, q, scanner.Config{BatchSize: 5, OverdueThreshold: time.Hour})

	report, err := s.Run(context.Background())
	require.NoError(t, err)

	calls := src.pageCalls()
	require.Len(t, calls, 3, "ceil(11/5) pages")
	for i, call := range calls {
		assert.Equal(t, i*5, call.offset)
		assert.Equal(t, 5, call.limit)
		assert.Equal(t, scanNow.Add(-time.Hour), call.cutoff)
	}

	assert.Equal(t, 3, report.Pages)
	assert.Equal(t, 11, report.Detected)
	assert.Equal(t, 11, report.Queued)
	assert.Zero(t, report.Duplicates)
	assert.Empty(t, report.Error)
	assert.Equal(t, 11, sink.total())
	assert.Equal(t, 11, pendingCount(t, inspector))

	last, ok := s.LastReport()
	require.True(t, ok)
	assert.Equal(t, report, last)
}

func TestOverdueScanner_RerunDoesNotDuplicateJobs(t *testing.T) {
	src := newFakeSource(7)
	q, inspector := newRedisQueue(t)
	s, _ := newScanner(t, src, q, scanner.Config{BatchSize: 5})

	_, err := s.Run(context.Background())
	require.NoError(t, err)

	second, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, second.Detected)
	assert.Zero(t, second.Queued)
	assert.Equal(t, 7, second.Duplicates)
	assert.Equal(t, 7, pendingCount(t, inspector))

	pending, err := inspector.ListPendingTasks(queue.DefaultQueueName, asynq.PageSize(50))
	require.NoError(t, err)
	keys := make(map[string]bool, len(pending))
	for _, info := range pending {
		keys[info.ID] = true
	}
	for _, task := range src.tasks {
		assert.True(t, keys[queue.OverdueTaskKey(task.ID)])
	}
}

func TestOverdueScanner_ExactMultipleReadsOneEmptyPage(t *testing.T) {
	src := newFakeSource(10)
	q, _ := newRedisQueue(t)
	s, _ := newScanner(t, src, q, scanner.Config{BatchSize: 5})

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Pages)
	assert.Equal(t, 10, report.Queued)
}

func TestOverdueScanner_NothingOverdue(t *testing.T) {
	src := newFakeSource(0)
	s, sink := newScanner(t, src, failingQueue{}, scanner.Config{})

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pages)
	assert.Zero(t, report.Detected)
	assert.Zero(t, sink.total())
	assert.Equal(t, scanner.DefaultBatchSize, src.pageCalls()[0].limit)
}

func TestOverdueScanner_PageFailureAbortsRun(t *testing.T) {
	src := newFakeSource(12)
	src.failAt = 5
	q, _ := newRedisQueue(t)
	s, _ := newScanner(t, src, q, scanner.Config{BatchSize: 5})

	report, err := s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offset 5")
	assert.Equal(t, 1, report.Pages)
	assert.Equal(t, 5, report.Queued)

	last, ok := s.LastReport()
	require.True(t, ok)
	assert.NotEmpty(t, last.Error)
}

func TestOverdueScanner_EnqueueFailuresAreCounted(t *testing.T) {
	src := newFakeSource(6)
	s, sink := newScanner(t, src, failingQueue{}, scanner.Config{BatchSize: 5})

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Pages)
	assert.Equal(t, 6, report.Failed)
	assert.Zero(t, report.Queued)
	assert.Equal(t, 6, sink.total())
}

func TestOverdueScanner_CancelledContext(t *testing.T) {
	src := newFakeSource(3)
	s, _ := newScanner(t, src, failingQueue{}, scanner.Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, src.pageCalls())
}

func TestNew_Validation(t *testing.T) {
	src := newFakeSource(0)

	_, err := scanner.New(src, failingQueue{}, nil, scanner.Config{Schedule: "every tuesday"}, nil)
	assert.Error(t, err)

	_, err = scanner.New(nil, failingQueue{}, nil, scanner.Config{}, nil)
	assert.Error(t, err)

	_, err = scanner.New(src, failingQueue{}, nil, scanner.Config{OverdueThreshold: -time.Minute}, nil)
	assert.Error(t, err)
}

func TestOverdueScanner_StartRunsOnSchedule(t *testing.T) {
	src := newFakeSource(2)
	s, err := scanner.New(src, failingQueue{}, nil, scanner.Config{Schedule: "@every 1s"}, nil)
	require.NoError(t, err)

	require.NoError(t, s.Start())
	assert.Error(t, s.Start(), "second start is rejected")

	require.Eventually(t, func() bool {
		_, ok := s.LastReport()
		return ok
	}, 5*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx), "stop is idempotent")
}
