package queue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/swarm-trading/swarm/internal/errs"
)

// ---------------------------------------------------------------------------
// Task Queue
// Strict-priority dispatch (critical > high > normal > low) with retry,
// exponential backoff, idempotency-key dedup, per-wallet rate limiting and
// dead-lettering. Tasks are persisted through the Store on every transition
// so the queue can rebuild state after a restart.
// ---------------------------------------------------------------------------

// Processor handles all tasks of one registered type.
type Processor func(ctx context.Context, task *Task) error

// ErrorCollector receives failure records. Implemented by observability.
type ErrorCollector interface {
	RecordError(component, detail string)
}

// Config configures the queue.
type Config struct {
	Concurrency      int `yaml:"concurrency"`        // max tasks in flight
	BackoffBaseMs    int `yaml:"backoff_base_ms"`    // first retry delay
	BackoffMaxMs     int `yaml:"backoff_max_ms"`     // retry delay cap
	IdempotencyTTLS  int `yaml:"idempotency_ttl_s"`  // dedup retention window
	PollIntervalMs   int `yaml:"poll_interval_ms"`   // delayed-task promotion cadence
	CloseTimeoutS    int `yaml:"close_timeout_s"`    // drain budget on Close
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     8,
		BackoffBaseMs:   500,
		BackoffMaxMs:    60000,
		IdempotencyTTLS: 600,
		PollIntervalMs:  50,
		CloseTimeoutS:   10,
	}
}

type idemEntry struct {
	taskID  string
	expires time.Time
}

type delayedItem struct {
	runAt time.Time
	id    string
}

type delayedHeap []delayedItem

func (h delayedHeap) Len() int            { return len(h) }
func (h delayedHeap) Less(i, j int) bool  { return h[i].runAt.Before(h[j].runAt) }
func (h delayedHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *delayedHeap) Push(x interface{}) { *h = append(*h, x.(delayedItem)) }
func (h *delayedHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

type recurringEntry struct {
	id       string
	template Task
	every    time.Duration
	next     time.Time
}

// Queue is the durable priority task queue shared by all bots.
type Queue struct {
	config    Config
	store     Store
	collector ErrorCollector

	mu         sync.Mutex
	tasks      map[string]*Task
	ready      [4][]string // index = Priority, FIFO per level
	delayed    delayedHeap
	idem       map[string]idemEntry
	waiters    map[string][]chan TaskResult
	processors map[string]Processor
	recurring  []recurringEntry
	paused     bool
	closed     bool

	limiter *walletLimiter
	notify  chan struct{}
	sem     chan struct{}
	wg      sync.WaitGroup

	completed atomic.Int64
	failed    atomic.Int64
	dead      atomic.Int64
	cancelled atomic.Int64
	enqueued  atomic.Int64
	deduped   atomic.Int64
	throttled atomic.Int64
	retries   atomic.Int64

	now func() time.Time
}

// New creates a queue over the given store. Previously persisted tasks are
// reloaded: in-flight tasks are re-queued, scheduled tasks keep their run
// time, terminal tasks stay queryable.
func New(config Config, rlConfig RateLimitConfig, store Store, collector ErrorCollector) (*Queue, error) {
	def := DefaultConfig()
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}
	if config.BackoffBaseMs <= 0 {
		config.BackoffBaseMs = def.BackoffBaseMs
	}
	if config.BackoffMaxMs <= 0 {
		config.BackoffMaxMs = def.BackoffMaxMs
	}
	if config.IdempotencyTTLS <= 0 {
		config.IdempotencyTTLS = def.IdempotencyTTLS
	}
	if config.PollIntervalMs <= 0 {
		config.PollIntervalMs = def.PollIntervalMs
	}
	if config.CloseTimeoutS <= 0 {
		config.CloseTimeoutS = def.CloseTimeoutS
	}

	q := &Queue{
		config:     config,
		store:      store,
		collector:  collector,
		tasks:      make(map[string]*Task),
		idem:       make(map[string]idemEntry),
		waiters:    make(map[string][]chan TaskResult),
		processors: make(map[string]Processor),
		limiter:    newWalletLimiter(rlConfig),
		notify:     make(chan struct{}, 1),
		sem:        make(chan struct{}, config.Concurrency),
		now:        time.Now,
	}

	if store != nil {
		if err := q.restore(); err != nil {
			return nil, fmt.Errorf("restore queue state: %w", err)
		}
	}
	return q, nil
}

// restore rebuilds in-memory dispatch structures from the store.
func (q *Queue) restore() error {
	persisted, err := q.store.LoadTasks()
	if err != nil {
		return err
	}
	restored := 0
	for _, t := range persisted {
		task := t
		q.tasks[task.ID] = task
		switch task.Status {
		case StatusActive, StatusWaiting:
			// In-flight work from the previous run goes back to waiting.
			task.Status = StatusWaiting
			q.ready[task.Priority] = append(q.ready[task.Priority], task.ID)
			restored++
		case StatusScheduled:
			heap.Push(&q.delayed, delayedItem{runAt: task.RunAt, id: task.ID})
			restored++
		}
		if task.IdempotencyKey != "" && !task.Status.Terminal() {
			q.idem[task.IdempotencyKey] = idemEntry{
				taskID:  task.ID,
				expires: q.now().Add(time.Duration(q.config.IdempotencyTTLS) * time.Second),
			}
		}
	}
	if len(persisted) > 0 {
		log.Info().
			Int("persisted", len(persisted)).
			Int("requeued", restored).
			Msg("queue: restored tasks from store")
	}
	return nil
}

// RegisterProcessor routes tasks of taskType to fn.
func (q *Queue) RegisterProcessor(taskType string, fn Processor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processors[taskType] = fn
	log.Info().Str("task_type", taskType).Msg("queue: processor registered")
}

// Enqueue admits a task for dispatch. Duplicate idempotency keys inside the
// retention TTL return the original task id without creating a new entry.
// Wallet-keyed rate limiting rejects with RateLimitError when exhausted.
func (q *Queue) Enqueue(task *Task) (string, error) {
	if task == nil {
		return "", errs.Validation("task", "must not be nil")
	}
	if task.Type == "" {
		return "", errs.Validation("task.type", "must not be empty")
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", fmt.Errorf("queue is closed")
	}

	// Idempotency dedup.
	if task.IdempotencyKey != "" {
		if entry, ok := q.idem[task.IdempotencyKey]; ok && q.now().Before(entry.expires) {
			q.deduped.Add(1)
			q.mu.Unlock()
			log.Debug().
				Str("idempotency_key", task.IdempotencyKey).
				Str("task_id", entry.taskID).
				Msg("queue: duplicate enqueue deduped")
			return entry.taskID, nil
		}
	}
	q.mu.Unlock()

	// Rate limit outside the queue lock; the limiter has its own.
	if task.WalletID != "" {
		if ok, retryIn := q.limiter.allow(task.WalletID); !ok {
			q.throttled.Add(1)
			return "", &errs.RateLimitError{WalletID: task.WalletID, RetryIn: retryIn}
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", fmt.Errorf("queue is closed")
	}

	// The lock was dropped for the limiter; a racing enqueue with the same
	// key may have inserted in the meantime.
	if task.IdempotencyKey != "" {
		if entry, ok := q.idem[task.IdempotencyKey]; ok && q.now().Before(entry.expires) {
			q.deduped.Add(1)
			log.Debug().
				Str("idempotency_key", task.IdempotencyKey).
				Str("task_id", entry.taskID).
				Msg("queue: duplicate enqueue deduped")
			return entry.taskID, nil
		}
	}

	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.MaxRetries <= 0 {
		task.MaxRetries = 3
	}
	now := q.now()
	task.Status = StatusWaiting
	task.EnqueuedAt = now
	task.RunAt = now

	q.tasks[task.ID] = task
	q.ready[task.Priority] = append(q.ready[task.Priority], task.ID)
	if task.IdempotencyKey != "" {
		q.idem[task.IdempotencyKey] = idemEntry{
			taskID:  task.ID,
			expires: now.Add(time.Duration(q.config.IdempotencyTTLS) * time.Second),
		}
	}
	q.enqueued.Add(1)
	q.persistLocked(task)
	q.signal()

	log.Debug().
		Str("task_id", task.ID).
		Str("type", task.Type).
		Str("priority", task.Priority.String()).
		Str("wallet_id", task.WalletID).
		Msg("queue: task enqueued")
	return task.ID, nil
}

// EnqueueBatch enqueues tasks in order. A single rejection does not abort
// the rest; the first error is returned alongside the accepted ids.
func (q *Queue) EnqueueBatch(tasks []*Task) ([]string, error) {
	ids := make([]string, 0, len(tasks))
	var firstErr error
	for _, t := range tasks {
		id, err := q.Enqueue(t)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		ids = append(ids, id)
	}
	return ids, firstErr
}

// ScheduleTask enqueues a task to become dispatchable after delay.
func (q *Queue) ScheduleTask(task *Task, delay time.Duration) (string, error) {
	if task == nil {
		return "", errs.Validation("task", "must not be nil")
	}
	if task.Type == "" {
		return "", errs.Validation("task.type", "must not be empty")
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", fmt.Errorf("queue is closed")
	}

	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.MaxRetries <= 0 {
		task.MaxRetries = 3
	}
	now := q.now()
	task.Status = StatusScheduled
	task.EnqueuedAt = now
	task.RunAt = now.Add(delay)

	q.tasks[task.ID] = task
	heap.Push(&q.delayed, delayedItem{runAt: task.RunAt, id: task.ID})
	q.enqueued.Add(1)
	q.persistLocked(task)
	q.signal()
	return task.ID, nil
}

// ScheduleRecurring re-enqueues a copy of template every interval. Returns
// the recurring entry id, which CancelTask also accepts.
func (q *Queue) ScheduleRecurring(template Task, every time.Duration) (string, error) {
	if template.Type == "" {
		return "", errs.Validation("task.type", "must not be empty")
	}
	if every <= 0 {
		return "", errs.Validation("every", "must be positive, got %s", every)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", fmt.Errorf("queue is closed")
	}

	id := uuid.New().String()
	q.recurring = append(q.recurring, recurringEntry{
		id:       id,
		template: template,
		every:    every,
		next:     q.now().Add(every),
	})
	log.Info().
		Str("recurring_id", id).
		Str("type", template.Type).
		Dur("every", every).
		Msg("queue: recurring task scheduled")
	return id, nil
}

// CancelTask cancels a waiting or scheduled task, or removes a recurring
// entry. Active tasks finish their current attempt but will not retry.
func (q *Queue) CancelTask(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, entry := range q.recurring {
		if entry.id == id {
			q.recurring = append(q.recurring[:i], q.recurring[i+1:]...)
			return nil
		}
	}

	task, ok := q.tasks[id]
	if !ok {
		return errs.NotFound("task", id)
	}
	if task.Status.Terminal() {
		return fmt.Errorf("task %s already %s", id, task.Status)
	}

	task.Status = StatusCancelled
	task.CompletedAt = q.now()
	q.cancelled.Add(1)
	q.persistLocked(task)
	q.notifyWaitersLocked(task)
	log.Debug().Str("task_id", id).Msg("queue: task cancelled")
	return nil
}

// GetTaskStatus returns the task's current status.
func (q *Queue) GetTaskStatus(id string) (Status, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.tasks[id]
	if !ok {
		return "", errs.NotFound("task", id)
	}
	return task.Status, nil
}

// GetTask returns a copy of the task record.
func (q *Queue) GetTask(id string) (Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.tasks[id]
	if !ok {
		return Task{}, errs.NotFound("task", id)
	}
	return *task, nil
}

// RetryJob revives a dead or cancelled task with a fresh retry budget.
func (q *Queue) RetryJob(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[id]
	if !ok {
		return errs.NotFound("task", id)
	}
	if task.Status != StatusDead && task.Status != StatusCancelled && task.Status != StatusFailed {
		return fmt.Errorf("task %s is %s, not retryable", id, task.Status)
	}

	task.Status = StatusWaiting
	task.Retries = 0
	task.LastError = ""
	task.RunAt = q.now()
	q.ready[task.Priority] = append(q.ready[task.Priority], task.ID)
	q.persistLocked(task)
	q.signal()
	return nil
}

// RetryAllFailed revives every dead task. Returns the number revived.
func (q *Queue) RetryAllFailed() int {
	q.mu.Lock()
	var ids []string
	for id, task := range q.tasks {
		if task.Status == StatusDead || task.Status == StatusFailed {
			ids = append(ids, id)
		}
	}
	q.mu.Unlock()

	revived := 0
	for _, id := range ids {
		if err := q.RetryJob(id); err == nil {
			revived++
		}
	}
	return revived
}

// Clean drops terminal tasks that completed before now-olderThan.
func (q *Queue) Clean(olderThan time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-olderThan)
	removed := 0
	for id, task := range q.tasks {
		if task.Status.Terminal() && !task.CompletedAt.IsZero() && task.CompletedAt.Before(cutoff) {
			delete(q.tasks, id)
			if q.store != nil {
				if err := q.store.DeleteTask(id); err != nil {
					log.Warn().Err(err).Str("task_id", id).Msg("queue: failed to delete task record")
				}
			}
			removed++
		}
	}
	if removed > 0 {
		log.Debug().Int("removed", removed).Msg("queue: cleaned terminal tasks")
	}
	return removed
}

// Pause halts dispatch. Enqueues still succeed.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
	log.Info().Msg("queue: paused")
}

// Resume re-enables dispatch.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	q.signal()
	log.Info().Msg("queue: resumed")
}

// WaitForTask blocks until the task reaches a terminal state or the timeout
// elapses, whichever comes first.
func (q *Queue) WaitForTask(ctx context.Context, id string, timeout time.Duration) (TaskResult, error) {
	q.mu.Lock()
	task, ok := q.tasks[id]
	if !ok {
		q.mu.Unlock()
		return TaskResult{}, errs.NotFound("task", id)
	}
	if task.Status.Terminal() {
		res := resultOf(task)
		q.mu.Unlock()
		return res, nil
	}
	ch := make(chan TaskResult, 1)
	q.waiters[id] = append(q.waiters[id], ch)
	q.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return TaskResult{}, ctx.Err()
	case <-timer.C:
		return TaskResult{}, &errs.TimeoutError{Op: "wait for task " + id, Elapsed: timeout}
	}
}

// GetQueueStats returns a snapshot of queue counters.
func (q *Queue) GetQueueStats() Stats {
	q.mu.Lock()
	waiting := 0
	for _, level := range q.ready {
		waiting += len(level)
	}
	scheduled := q.delayed.Len()
	paused := q.paused
	q.mu.Unlock()

	return Stats{
		Waiting:   waiting,
		Scheduled: scheduled,
		Active:    len(q.sem),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
		Dead:      q.dead.Load(),
		Cancelled: q.cancelled.Load(),
		Enqueued:  q.enqueued.Load(),
		Deduped:   q.deduped.Load(),
		Throttled: q.throttled.Load(),
		Retries:   q.retries.Load(),
		Paused:    paused,
	}
}

// Run drives dispatch until ctx is cancelled. Blocks.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(q.config.PollIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	log.Info().
		Int("concurrency", q.config.Concurrency).
		Msg("queue: dispatch loop started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("queue: dispatch loop stopped")
			return
		case <-q.notify:
		case <-ticker.C:
		}
		q.promoteDue()
		q.dispatch(ctx)
	}
}

// Close rejects further enqueues and waits up to the configured timeout for
// in-flight tasks to finish. Safe to call more than once.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	timeout := time.Duration(q.config.CloseTimeoutS) * time.Second
	select {
	case <-done:
	case <-time.After(timeout):
		log.Warn().Dur("timeout", timeout).Msg("queue: close timed out with tasks in flight")
	}

	if q.store != nil {
		return q.store.Close()
	}
	return nil
}

// ---------------------------------------------------------------------------
// Dispatch internals
// ---------------------------------------------------------------------------

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// promoteDue moves due delayed tasks to the ready lists and fires due
// recurring templates.
func (q *Queue) promoteDue() {
	q.mu.Lock()
	now := q.now()
	var fire []Task
	for q.delayed.Len() > 0 && !q.delayed[0].runAt.After(now) {
		item := heap.Pop(&q.delayed).(delayedItem)
		task, ok := q.tasks[item.id]
		if !ok || task.Status != StatusScheduled {
			continue
		}
		task.Status = StatusWaiting
		q.ready[task.Priority] = append(q.ready[task.Priority], task.ID)
		q.persistLocked(task)
	}
	for i := range q.recurring {
		if !q.recurring[i].next.After(now) {
			fire = append(fire, q.recurring[i].template)
			q.recurring[i].next = now.Add(q.recurring[i].every)
		}
	}
	q.mu.Unlock()

	for i := range fire {
		cp := fire[i]
		cp.ID = "" // fresh id per firing
		cp.IdempotencyKey = ""
		if _, err := q.Enqueue(&cp); err != nil {
			log.Warn().Err(err).Str("type", cp.Type).Msg("queue: recurring enqueue failed")
		}
	}
}

// dispatch hands ready tasks to processors while capacity allows, highest
// priority first.
func (q *Queue) dispatch(ctx context.Context) {
	for {
		select {
		case q.sem <- struct{}{}:
		default:
			return // at concurrency cap
		}

		task := q.popReady()
		if task == nil {
			<-q.sem
			return
		}

		q.wg.Add(1)
		go func(t *Task) {
			defer q.wg.Done()
			defer func() { <-q.sem }()
			q.process(ctx, t)
		}(task)
	}
}

// popReady removes the next dispatchable task, strict priority order.
func (q *Queue) popReady() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.paused || q.closed {
		return nil
	}
	for p := PriorityCritical; p >= PriorityLow; p-- {
		for len(q.ready[p]) > 0 {
			id := q.ready[p][0]
			q.ready[p] = q.ready[p][1:]
			task, ok := q.tasks[id]
			if !ok || task.Status != StatusWaiting {
				continue // cancelled or revived elsewhere
			}
			task.Status = StatusActive
			q.persistLocked(task)
			return task
		}
	}
	return nil
}

// process runs one attempt of a task and applies the retry policy.
func (q *Queue) process(ctx context.Context, task *Task) {
	q.mu.Lock()
	proc, ok := q.processors[task.Type]
	q.mu.Unlock()

	if !ok {
		cfgErr := &errs.ConfigurationError{Detail: "no processor registered for task type " + task.Type}
		q.recordError("queue", cfgErr.Error())
		q.finish(task, StatusDead, cfgErr.Error())
		log.Error().Str("task_id", task.ID).Str("type", task.Type).Msg("queue: unregistered task type")
		return
	}

	attemptCtx := ctx
	var cancel context.CancelFunc
	if task.Timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	err := proc(attemptCtx, task)

	q.mu.Lock()
	task.Retries++
	attempt := task.Retries
	wasCancelled := task.Status == StatusCancelled
	q.mu.Unlock()

	if wasCancelled {
		return
	}

	if err == nil {
		q.finish(task, StatusCompleted, "")
		log.Debug().
			Str("task_id", task.ID).
			Str("type", task.Type).
			Int("attempt", attempt).
			Msg("queue: task completed")
		return
	}

	transient := &errs.TransientExecutionError{TaskID: task.ID, Attempt: attempt, Err: err}
	q.recordError(task.Type, transient.Error())
	q.failed.Add(1)

	if attempt >= task.MaxRetries {
		q.finish(task, StatusDead, transient.Error())
		log.Error().
			Str("task_id", task.ID).
			Str("type", task.Type).
			Int("attempts", attempt).
			Err(err).
			Msg("queue: task dead-lettered")
		return
	}

	// Exponential backoff: base * 2^(attempt-1), capped.
	backoff := time.Duration(q.config.BackoffBaseMs) * time.Millisecond
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= time.Duration(q.config.BackoffMaxMs)*time.Millisecond {
			break
		}
	}
	if max := time.Duration(q.config.BackoffMaxMs) * time.Millisecond; backoff > max {
		backoff = max
	}

	q.mu.Lock()
	task.Status = StatusScheduled
	task.LastError = transient.Error()
	task.RunAt = q.now().Add(backoff)
	heap.Push(&q.delayed, delayedItem{runAt: task.RunAt, id: task.ID})
	q.retries.Add(1)
	q.persistLocked(task)
	q.mu.Unlock()
	q.signal()

	log.Warn().
		Str("task_id", task.ID).
		Str("type", task.Type).
		Int("attempt", attempt).
		Dur("backoff", backoff).
		Err(err).
		Msg("queue: task failed, retry scheduled")
}

// finish moves a task into a terminal state and wakes its waiters.
func (q *Queue) finish(task *Task, status Status, lastError string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task.Status = status
	task.LastError = lastError
	task.CompletedAt = q.now()
	switch status {
	case StatusCompleted:
		q.completed.Add(1)
	case StatusDead:
		q.dead.Add(1)
	}
	q.persistLocked(task)
	q.notifyWaitersLocked(task)
}

func (q *Queue) notifyWaitersLocked(task *Task) {
	res := resultOf(task)
	for _, ch := range q.waiters[task.ID] {
		select {
		case ch <- res:
		default:
		}
	}
	delete(q.waiters, task.ID)
}

func (q *Queue) persistLocked(task *Task) {
	if q.store == nil {
		return
	}
	if err := q.store.SaveTask(task); err != nil {
		log.Warn().Err(err).Str("task_id", task.ID).Msg("queue: failed to persist task")
	}
}

func (q *Queue) recordError(component, detail string) {
	if q.collector != nil {
		q.collector.RecordError(component, detail)
	}
}

func resultOf(task *Task) TaskResult {
	return TaskResult{
		TaskID:      task.ID,
		Status:      task.Status,
		Retries:     task.Retries,
		Error:       task.LastError,
		CompletedAt: task.CompletedAt,
	}
}
