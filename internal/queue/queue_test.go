package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarm-trading/swarm/internal/errs"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.BackoffBaseMs = 5
	cfg.BackoffMaxMs = 20
	cfg.PollIntervalMs = 5
	cfg.CloseTimeoutS = 2
	return cfg
}

func looseRateLimit() RateLimitConfig {
	return RateLimitConfig{Burst: 1000, RefillPerSec: 1000}
}

func newRunningQueue(t *testing.T) (*Queue, context.CancelFunc) {
	t.Helper()
	q, err := New(fastConfig(), looseRateLimit(), NewMemoryStore(), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go q.Run(ctx)
	return q, cancel
}

func mustTask(t *testing.T, taskType string) *Task {
	t.Helper()
	task, err := NewTask(taskType, map[string]string{"k": "v"})
	require.NoError(t, err)
	return task
}

func TestQueue_EnqueueAndComplete(t *testing.T) {
	q, cancel := newRunningQueue(t)
	defer cancel()

	var processed atomic.Int64
	q.RegisterProcessor("swap", func(ctx context.Context, task *Task) error {
		processed.Add(1)
		return nil
	})

	id, err := q.Enqueue(mustTask(t, "swap"))
	require.NoError(t, err)

	res, err := q.WaitForTask(context.Background(), id, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, int64(1), processed.Load())
	assert.Equal(t, int64(1), q.GetQueueStats().Completed)
}

func TestQueue_IdempotencyDedup(t *testing.T) {
	q, err := New(fastConfig(), looseRateLimit(), NewMemoryStore(), nil)
	require.NoError(t, err)

	t1 := mustTask(t, "swap")
	t1.IdempotencyKey = "key-1"
	id1, err := q.Enqueue(t1)
	require.NoError(t, err)

	t2 := mustTask(t, "swap")
	t2.IdempotencyKey = "key-1"
	id2, err := q.Enqueue(t2)
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "same idempotency key inside TTL returns original id")
	assert.Equal(t, 1, q.GetQueueStats().Waiting, "exactly one queued entry")
	assert.Equal(t, int64(1), q.GetQueueStats().Deduped)
}

func TestQueue_RateLimit(t *testing.T) {
	rl := RateLimitConfig{Burst: 2, RefillPerSec: 0.001}
	q, err := New(fastConfig(), rl, NewMemoryStore(), nil)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		task := mustTask(t, "swap")
		task.WalletID = "wallet-1"
		_, err := q.Enqueue(task)
		require.NoError(t, err)
	}

	task := mustTask(t, "swap")
	task.WalletID = "wallet-1"
	_, err = q.Enqueue(task)
	require.Error(t, err)
	assert.True(t, errs.IsRateLimited(err))

	// A different wallet is unaffected.
	other := mustTask(t, "swap")
	other.WalletID = "wallet-2"
	_, err = q.Enqueue(other)
	assert.NoError(t, err)
}

func TestQueue_RetryThenDead(t *testing.T) {
	q, cancel := newRunningQueue(t)
	defer cancel()

	var attempts atomic.Int64
	q.RegisterProcessor("flaky", func(ctx context.Context, task *Task) error {
		attempts.Add(1)
		return errors.New("simulated failure")
	})

	task := mustTask(t, "flaky")
	task.MaxRetries = 3
	id, err := q.Enqueue(task)
	require.NoError(t, err)

	res, err := q.WaitForTask(context.Background(), id, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusDead, res.Status)
	assert.Equal(t, int64(3), attempts.Load(), "dead after exactly MaxRetries attempts")
	assert.Equal(t, int64(1), q.GetQueueStats().Dead)
}

func TestQueue_RetrySucceedsSecondAttempt(t *testing.T) {
	q, cancel := newRunningQueue(t)
	defer cancel()

	var attempts atomic.Int64
	q.RegisterProcessor("flaky", func(ctx context.Context, task *Task) error {
		if attempts.Add(1) == 1 {
			return errors.New("first attempt fails")
		}
		return nil
	})

	task := mustTask(t, "flaky")
	task.MaxRetries = 3
	id, err := q.Enqueue(task)
	require.NoError(t, err)

	res, err := q.WaitForTask(context.Background(), id, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, int64(2), attempts.Load())
}

func TestQueue_UnregisteredTypeDeadLetters(t *testing.T) {
	collector := &recordingCollector{}
	q, err := New(fastConfig(), looseRateLimit(), NewMemoryStore(), collector)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	id, err := q.Enqueue(mustTask(t, "nobody-handles-this"))
	require.NoError(t, err)

	res, err := q.WaitForTask(context.Background(), id, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusDead, res.Status)
	assert.Contains(t, res.Error, "no processor registered")
	assert.Greater(t, collector.count.Load(), int64(0))
}

func TestQueue_StrictPriorityOrdering(t *testing.T) {
	cfg := fastConfig()
	cfg.Concurrency = 1
	q, err := New(cfg, looseRateLimit(), NewMemoryStore(), nil)
	require.NoError(t, err)

	var order []string
	done := make(chan struct{}, 4)
	q.RegisterProcessor("swap", func(ctx context.Context, task *Task) error {
		order = append(order, task.Priority.String())
		done <- struct{}{}
		return nil
	})

	// Enqueue low first, critical last, before dispatch starts.
	for _, p := range []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical} {
		task := mustTask(t, "swap")
		task.Priority = p
		_, err := q.Enqueue(task)
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	for i := 0; i < 4; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for dispatch")
		}
	}
	assert.Equal(t, []string{"critical", "high", "normal", "low"}, order)
}

func TestQueue_CancelTask(t *testing.T) {
	q, err := New(fastConfig(), looseRateLimit(), NewMemoryStore(), nil)
	require.NoError(t, err)

	id, err := q.Enqueue(mustTask(t, "swap"))
	require.NoError(t, err)
	require.NoError(t, q.CancelTask(id))

	status, err := q.GetTaskStatus(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, status)

	// Double cancel fails.
	assert.Error(t, q.CancelTask(id))
	// Unknown id.
	assert.True(t, errs.IsNotFound(q.CancelTask("nope")))
}

func TestQueue_PauseResume(t *testing.T) {
	q, cancel := newRunningQueue(t)
	defer cancel()

	var processed atomic.Int64
	q.RegisterProcessor("swap", func(ctx context.Context, task *Task) error {
		processed.Add(1)
		return nil
	})

	q.Pause()
	id, err := q.Enqueue(mustTask(t, "swap"))
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(0), processed.Load(), "paused queue must not dispatch")

	q.Resume()
	res, err := q.WaitForTask(context.Background(), id, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
}

func TestQueue_ScheduleTaskDelays(t *testing.T) {
	q, cancel := newRunningQueue(t)
	defer cancel()

	start := time.Now()
	completedAt := make(chan time.Time, 1)
	q.RegisterProcessor("swap", func(ctx context.Context, task *Task) error {
		completedAt <- time.Now()
		return nil
	})

	_, err := q.ScheduleTask(mustTask(t, "swap"), 100*time.Millisecond)
	require.NoError(t, err)

	select {
	case at := <-completedAt:
		assert.GreaterOrEqual(t, at.Sub(start), 90*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled task never ran")
	}
}

func TestQueue_ScheduleRecurring(t *testing.T) {
	q, cancel := newRunningQueue(t)
	defer cancel()

	var fires atomic.Int64
	q.RegisterProcessor("heartbeat", func(ctx context.Context, task *Task) error {
		fires.Add(1)
		return nil
	})

	id, err := q.ScheduleRecurring(Task{Type: "heartbeat"}, 30*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)
	assert.GreaterOrEqual(t, fires.Load(), int64(2), "recurring task fires repeatedly")

	require.NoError(t, q.CancelTask(id))
	count := fires.Load()
	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, fires.Load(), count+1, "cancelled recurring stops firing")
}

func TestQueue_WaitForTask_Timeout(t *testing.T) {
	q, err := New(fastConfig(), looseRateLimit(), NewMemoryStore(), nil)
	require.NoError(t, err)

	// Never dispatched: Run isn't started.
	id, err := q.Enqueue(mustTask(t, "swap"))
	require.NoError(t, err)

	_, err = q.WaitForTask(context.Background(), id, 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errs.IsTimeout(err))
}

func TestQueue_RetryJobRevivesDead(t *testing.T) {
	q, cancel := newRunningQueue(t)
	defer cancel()

	var fail atomic.Bool
	fail.Store(true)
	q.RegisterProcessor("flaky", func(ctx context.Context, task *Task) error {
		if fail.Load() {
			return errors.New("down")
		}
		return nil
	})

	task := mustTask(t, "flaky")
	task.MaxRetries = 1
	id, err := q.Enqueue(task)
	require.NoError(t, err)

	res, err := q.WaitForTask(context.Background(), id, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, StatusDead, res.Status)

	fail.Store(false)
	require.NoError(t, q.RetryJob(id))

	res, err = q.WaitForTask(context.Background(), id, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
}

func TestQueue_RestoreFromStore(t *testing.T) {
	store := NewMemoryStore()

	q1, err := New(fastConfig(), looseRateLimit(), store, nil)
	require.NoError(t, err)
	id, err := q1.Enqueue(mustTask(t, "swap"))
	require.NoError(t, err)

	// Second queue over the same store sees the task as waiting.
	q2, err := New(fastConfig(), looseRateLimit(), store, nil)
	require.NoError(t, err)
	status, err := q2.GetTaskStatus(id)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, status)
	assert.Equal(t, 1, q2.GetQueueStats().Waiting)
}

func TestQueue_Clean(t *testing.T) {
	q, cancel := newRunningQueue(t)
	defer cancel()

	q.RegisterProcessor("swap", func(ctx context.Context, task *Task) error { return nil })
	id, err := q.Enqueue(mustTask(t, "swap"))
	require.NoError(t, err)
	_, err = q.WaitForTask(context.Background(), id, 2*time.Second)
	require.NoError(t, err)

	removed := q.Clean(0)
	assert.Equal(t, 1, removed)
	_, err = q.GetTaskStatus(id)
	assert.True(t, errs.IsNotFound(err))
}

func TestQueue_CloseIdempotent(t *testing.T) {
	q, err := New(fastConfig(), looseRateLimit(), NewMemoryStore(), nil)
	require.NoError(t, err)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	_, err = q.Enqueue(mustTask(t, "swap"))
	assert.Error(t, err, "closed queue rejects enqueue")
}

// recordingCollector counts error records for assertions.
type recordingCollector struct {
	count atomic.Int64
}

func (c *recordingCollector) RecordError(component, detail string) {
	c.count.Add(1)
}

func TestQueue_ConcurrentIdempotentEnqueue(t *testing.T) {
	q, err := New(fastConfig(), looseRateLimit(), NewMemoryStore(), nil)
	require.NoError(t, err)

	const workers = 16
	ids := make([]string, workers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			task := mustTask(t, "swap")
			task.IdempotencyKey = "key-race"
			task.WalletID = "wallet-race"
			<-start
			id, err := q.Enqueue(task)
			require.NoError(t, err)
			ids[i] = id
		}(i)
	}
	close(start)
	wg.Wait()

	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id, "every enqueue must resolve to one task")
	}
	stats := q.GetQueueStats()
	assert.Equal(t, 1, stats.Waiting, "at most one queued entry per idempotency key")
	assert.Equal(t, int64(1), stats.Enqueued)
	assert.Equal(t, int64(workers-1), stats.Deduped)
}
