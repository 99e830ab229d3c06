package bot

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarm-trading/swarm/internal/behavior"
	"github.com/swarm-trading/swarm/internal/dist"
	"github.com/swarm-trading/swarm/internal/queue"
	"github.com/swarm-trading/swarm/internal/randomization"
	"github.com/swarm-trading/swarm/internal/stealth"
)

// stubQueue records enqueued tasks.
type stubQueue struct {
	mu      sync.Mutex
	tasks   []*queue.Task
	failAll bool
}

func (s *stubQueue) Enqueue(t *queue.Task) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return "", assert.AnError
	}
	s.tasks = append(s.tasks, t)
	return t.ID, nil
}

func (s *stubQueue) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *stubQueue) last() *queue.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tasks) == 0 {
		return nil
	}
	return s.tasks[len(s.tasks)-1]
}

// stubScheduler records scheduled wakes without dispatching.
type stubScheduler struct {
	mu        sync.Mutex
	scheduled map[string]time.Time
	cancelled []string
}

func newStubScheduler() *stubScheduler {
	return &stubScheduler{scheduled: make(map[string]time.Time)}
}

func (s *stubScheduler) Schedule(botID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled[botID] = at
}

func (s *stubScheduler) Cancel(botID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scheduled, botID)
	s.cancelled = append(s.cancelled, botID)
}

func (s *stubScheduler) wakeFor(botID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.scheduled[botID]
	return at, ok
}

type stubCollector struct {
	mu     sync.Mutex
	trades int
	errors int
}

func (c *stubCollector) RecordTrade(string, string, bool, decimal.Decimal) {
	c.mu.Lock()
	c.trades++
	c.mu.Unlock()
}

func (c *stubCollector) RecordError(string, string) {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

func testEngine(seed int64) *randomization.Engine {
	sampler := dist.NewSampler(seed)
	anti := stealth.NewEngine(stealth.DefaultConfig(), sampler)
	return randomization.NewEngine(randomization.Config{Seed: seed, JitterPct: 10}, anti)
}

// alwaysOpen is a profile with no window, burst, or multiplier surprises.
func alwaysOpen() behavior.Profile {
	return behavior.Profile{
		Name:               "test",
		TimingDistribution: dist.Uniform,
		SizeDistribution:   dist.Uniform,
		VarianceFactor:     0,
		ActivityMultiplier: 1.0,
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.WalletID = "wallet-1"
	cfg.TokenMint = "MINT"
	cfg.MinTradeSize = decimal.NewFromFloat(0.1)
	cfg.MaxTradeSize = decimal.NewFromFloat(0.2)
	cfg.MinInterval = 10 * time.Millisecond
	cfg.MaxInterval = 50 * time.Millisecond
	cfg.MaxDailyTrades = 100
	cfg.MaxDailyVolume = decimal.NewFromInt(100)
	return cfg
}

func newTestBot(t *testing.T, cfg Config) (*TradingBot, *stubQueue, *stubScheduler, *stubCollector) {
	t.Helper()
	q := &stubQueue{}
	sched := newStubScheduler()
	col := &stubCollector{}
	b := NewTradingBot("bot-1", cfg, alwaysOpen(), testEngine(42), q, sched, col)
	return b, q, sched, col
}

func TestBotStateMachine(t *testing.T) {
	b, _, _, _ := newTestBot(t, testConfig())

	assert.Equal(t, StateIdle, b.State())
	require.NoError(t, b.Start())
	assert.Equal(t, StateRunning, b.State())

	require.NoError(t, b.Pause())
	assert.Equal(t, StatePaused, b.State())

	// Pausing a paused bot is invalid.
	require.Error(t, b.Pause())

	require.NoError(t, b.Resume())
	assert.Equal(t, StateRunning, b.State())

	require.NoError(t, b.Stop())
	assert.Equal(t, StateStopped, b.State())

	// Stopped bots can restart.
	require.NoError(t, b.Start())
	require.NoError(t, b.Stop())
}

func TestBotDestroyIsTerminal(t *testing.T) {
	b, _, sched, _ := newTestBot(t, testConfig())
	require.NoError(t, b.Start())

	b.Destroy()
	assert.Equal(t, StateStopped, b.State())
	assert.Error(t, b.Start())
	assert.Contains(t, sched.cancelled, "bot-1")
}

func TestBotTickEmitsSwapAndReschedules(t *testing.T) {
	b, q, sched, col := newTestBot(t, testConfig())
	require.NoError(t, b.Start())

	before := b.now()
	b.Tick()

	require.Equal(t, 1, q.count())
	task := q.last()
	assert.Equal(t, "swap", task.Type)
	assert.Equal(t, "wallet-1", task.WalletID)
	assert.Equal(t, "bot-1", task.BotID)

	stats := b.Stats()
	assert.Equal(t, int64(1), stats.TotalTrades)
	assert.True(t, stats.TotalVolume.GreaterThan(decimal.Zero))

	at, ok := sched.wakeFor("bot-1")
	require.True(t, ok)
	assert.True(t, at.After(before))
	assert.Equal(t, 1, col.trades)
}

func TestBotTickSkipsWhenNotRunning(t *testing.T) {
	b, q, _, _ := newTestBot(t, testConfig())
	b.Tick()
	assert.Zero(t, q.count())
}

func TestBotTickSleepsOutsideWindow(t *testing.T) {
	cfg := testConfig()
	b, q, sched, _ := newTestBot(t, cfg)

	// Window open 02:00-04:00 UTC only; pin now to noon.
	b.profile.Window = behavior.ActiveWindow{StartHour: 2, EndHour: 4}
	noon := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return noon }

	require.NoError(t, b.Start())
	b.Tick()

	assert.Zero(t, q.count())
	at, ok := sched.wakeFor("bot-1")
	require.True(t, ok)
	// Next open is 02:00 the following day.
	assert.True(t, at.After(noon.Add(13*time.Hour)))
}

func TestBotDailyCapStallsUntilReset(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDailyTrades = 1
	b, q, sched, _ := newTestBot(t, cfg)

	day1 := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	now := day1
	b.now = func() time.Time { return now }
	b.stats = NewStats(now)

	require.NoError(t, b.Start())

	b.Tick()
	require.Equal(t, 1, q.count())

	// Cap hit: second tick trades nothing and parks until midnight.
	b.Tick()
	require.Equal(t, 1, q.count())
	at, ok := sched.wakeFor("bot-1")
	require.True(t, ok)
	assert.True(t, at.After(time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC).Add(-time.Second)))

	// The reset wake on the next UTC day zeroes counters and trades again.
	now = day1.Add(15 * time.Hour)
	b.Tick()
	require.Equal(t, 2, q.count())
	stats := b.Stats()
	assert.Equal(t, int64(1), stats.DailyTrades)
	assert.Equal(t, int64(2), stats.TotalTrades)
}

func TestBotVolumeBudgetClipsAndSkips(t *testing.T) {
	cfg := testConfig()
	cfg.MinTradeSize = decimal.NewFromInt(4)
	cfg.MaxTradeSize = decimal.NewFromInt(6)
	cfg.MaxDailyVolume = decimal.NewFromInt(9)
	b, q, _, _ := newTestBot(t, cfg)

	require.NoError(t, b.Start())

	b.Tick() // first trade: 4..6
	require.Equal(t, 1, q.count())
	first := b.Stats().DailyVolume

	b.Tick() // second: clipped to the 9 - first remainder when large enough
	stats := b.Stats()
	assert.True(t, stats.DailyVolume.LessThanOrEqual(decimal.NewFromInt(9)),
		"daily volume %s exceeded cap", stats.DailyVolume)

	if stats.TotalTrades == 2 {
		second := stats.DailyVolume.Sub(first)
		assert.True(t, second.LessThanOrEqual(decimal.NewFromInt(6)))
	}

	// Budget now below min trade size: further ticks emit nothing.
	emitted := q.count()
	b.Tick()
	b.Tick()
	assert.Equal(t, emitted, q.count())
}

func TestBotTradeErrorDoesNotHaltLoop(t *testing.T) {
	b, q, sched, col := newTestBot(t, testConfig())
	q.failAll = true
	require.NoError(t, b.Start())

	b.Tick()

	assert.NotEmpty(t, b.LastError())
	assert.Equal(t, 1, col.errors)
	assert.Equal(t, StateRunning, b.State())
	_, ok := sched.wakeFor("bot-1")
	assert.True(t, ok, "tick must reschedule after a trade error")
}

func TestBotOnTradeCompletedSuccessRate(t *testing.T) {
	b, _, _, _ := newTestBot(t, testConfig())

	b.OnTradeCompleted(true, 5000)
	b.OnTradeCompleted(true, 5000)
	b.OnTradeCompleted(false, 5000)
	b.OnTradeCompleted(true, 5000)

	stats := b.Stats()
	assert.InDelta(t, 0.75, stats.SuccessRate, 1e-9)
	assert.Equal(t, uint64(20000), stats.FeesSpentLamports)
}

func TestStatsResetDaily(t *testing.T) {
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	s := NewStats(now)
	s.RecordEmitted(true, decimal.NewFromInt(3), now)
	s.RecordEmitted(false, decimal.NewFromInt(2), now)

	trades, volume := s.ResetDaily(now.Add(24 * time.Hour))
	assert.Equal(t, int64(2), trades)
	assert.True(t, volume.Equal(decimal.NewFromInt(5)))
	assert.Zero(t, s.DailyTrades)
	assert.True(t, s.DailyVolume.IsZero())
	// Cumulative counters survive the reset.
	assert.Equal(t, int64(2), s.TotalTrades)
}

func TestAddLamportsOverflow(t *testing.T) {
	total, err := addLamports(^uint64(0)-10, 100)
	require.Error(t, err)
	assert.Equal(t, ^uint64(0), total)

	total, err = addLamports(10, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(110), total)
}

func TestBotAccumulateModeBuysHeavily(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = ModeAccumulate
	cfg.MaxDailyTrades = 10000
	cfg.MaxDailyVolume = decimal.NewFromInt(100000)
	b, q, _, _ := newTestBot(t, cfg)
	require.NoError(t, b.Start())

	for i := 0; i < 400; i++ {
		b.Tick()
	}

	buys := 0
	q.mu.Lock()
	for _, task := range q.tasks {
		var p queue.SwapPayload
		require.NoError(t, task.UnmarshalPayload(&p))
		if p.Direction == "buy" {
			buys++
		}
	}
	total := len(q.tasks)
	q.mu.Unlock()

	ratio := float64(buys) / float64(total)
	assert.Greater(t, ratio, 0.6, "accumulate mode buy ratio %f", ratio)
}

func TestBotDelaySpreadTracksVarianceFactor(t *testing.T) {
	cfg := testConfig()
	cfg.WalletID = ""
	cfg.MinInterval = time.Minute
	cfg.MaxInterval = time.Minute

	flat := alwaysOpen()
	wide := alwaysOpen()
	wide.VarianceFactor = 0.5

	maxDelay := func(profile behavior.Profile) time.Duration {
		b := NewTradingBot("bot-1", cfg, profile, testEngine(7), &stubQueue{}, newStubScheduler(), &stubCollector{})
		var longest time.Duration
		for i := 0; i < 400; i++ {
			if d := b.nextDelay(cfg, profile); d > longest {
				longest = d
			}
		}
		return longest
	}

	// A 0.5 variance factor must widen the observed delays well beyond the
	// engine's baseline jitter.
	base := maxDelay(flat)
	spread := maxDelay(wide)
	assert.Greater(t, spread, base+15*time.Second)
}
