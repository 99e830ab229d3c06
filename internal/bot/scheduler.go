package bot

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Wake Scheduler
// One min-heap keyed by wake time drives every bot. A single goroutine pops
// due entries and dispatches them by id; a per-bot in-flight guard keeps a
// slow tick from overlapping the next one.
// ---------------------------------------------------------------------------

type wakeEntry struct {
	botID  string
	wakeAt time.Time
	index  int // heap position, -1 when removed
}

type wakeHeap []*wakeEntry

func (h wakeHeap) Len() int            { return len(h) }
func (h wakeHeap) Less(i, j int) bool  { return h[i].wakeAt.Before(h[j].wakeAt) }
func (h wakeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *wakeHeap) Push(x interface{}) {
	e := x.(*wakeEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *wakeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// WakeScheduler dispatches bots at their scheduled wake times.
type WakeScheduler struct {
	mu       sync.Mutex
	heap     wakeHeap
	byBot    map[string]*wakeEntry
	inflight map[string]bool

	dispatch func(botID string)
	notify   chan struct{}
	wg       sync.WaitGroup

	now func() time.Time
}

// NewWakeScheduler creates a scheduler calling dispatch for each due bot.
func NewWakeScheduler(dispatch func(botID string)) *WakeScheduler {
	return &WakeScheduler{
		byBot:    make(map[string]*wakeEntry),
		inflight: make(map[string]bool),
		dispatch: dispatch,
		notify:   make(chan struct{}, 1),
		now:      time.Now,
	}
}

// Schedule sets or replaces a bot's next wake time.
func (s *WakeScheduler) Schedule(botID string, at time.Time) {
	s.mu.Lock()
	if e, ok := s.byBot[botID]; ok && e.index >= 0 {
		e.wakeAt = at
		heap.Fix(&s.heap, e.index)
	} else {
		e := &wakeEntry{botID: botID, wakeAt: at}
		s.byBot[botID] = e
		heap.Push(&s.heap, e)
	}
	s.mu.Unlock()
	s.signal()
}

// Cancel removes a bot's pending wake, if any.
func (s *WakeScheduler) Cancel(botID string) {
	s.mu.Lock()
	if e, ok := s.byBot[botID]; ok {
		if e.index >= 0 {
			heap.Remove(&s.heap, e.index)
		}
		delete(s.byBot, botID)
	}
	s.mu.Unlock()
	s.signal()
}

// Pending returns the number of scheduled wakes.
func (s *WakeScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heap.Len()
}

func (s *WakeScheduler) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Run dispatches due bots until ctx is cancelled, then waits for in-flight
// ticks to return. Blocks.
func (s *WakeScheduler) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		wait := s.dispatchDue()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			s.wg.Wait()
			log.Debug().Msg("scheduler: stopped")
			return
		case <-s.notify:
		case <-timer.C:
		}
	}
}

// dispatchDue pops every due entry and returns how long to sleep until the
// next one.
func (s *WakeScheduler) dispatchDue() time.Duration {
	now := s.now()

	s.mu.Lock()
	var due []string
	for s.heap.Len() > 0 && !s.heap[0].wakeAt.After(now) {
		e := heap.Pop(&s.heap).(*wakeEntry)
		if s.inflight[e.botID] {
			// Previous tick still running; retry shortly.
			e.wakeAt = now.Add(25 * time.Millisecond)
			heap.Push(&s.heap, e)
			continue
		}
		delete(s.byBot, e.botID)
		s.inflight[e.botID] = true
		due = append(due, e.botID)
	}
	wait := time.Hour
	if s.heap.Len() > 0 {
		if d := s.heap[0].wakeAt.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	s.mu.Unlock()

	for _, id := range due {
		s.wg.Add(1)
		go func(botID string) {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.inflight, botID)
				s.mu.Unlock()
				s.signal()
			}()
			s.dispatch(botID)
		}(id)
	}
	return wait
}
