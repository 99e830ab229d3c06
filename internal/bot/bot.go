package bot

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/swarm-trading/swarm/internal/behavior"
	"github.com/swarm-trading/swarm/internal/queue"
	"github.com/swarm-trading/swarm/internal/randomization"
)

// State is a bot's lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
	StateError   State = "error"
)

// Event triggers a lifecycle transition.
type Event string

const (
	EventStart  Event = "start"
	EventStop   Event = "stop"
	EventPause  Event = "pause"
	EventResume Event = "resume"
	EventFail   Event = "fail"
)

type transition struct {
	from  State
	event Event
}

// transitions is the authoritative lifecycle table. Stop is accepted from
// every non-terminal state.
var transitions = map[transition]State{
	{StateIdle, EventStart}:    StateRunning,
	{StateRunning, EventPause}: StatePaused,
	{StatePaused, EventResume}: StateRunning,
	{StateRunning, EventStop}:  StateStopped,
	{StatePaused, EventStop}:   StateStopped,
	{StateIdle, EventStop}:     StateStopped,
	{StateError, EventStop}:    StateStopped,
	{StateStopped, EventStart}: StateRunning,
	{StateError, EventStart}:   StateRunning,
	{StateRunning, EventFail}:  StateError,
}

// TaskEnqueuer is the queue surface a bot needs.
type TaskEnqueuer interface {
	Enqueue(t *queue.Task) (string, error)
}

// Collector receives trade and error records.
type Collector interface {
	RecordTrade(botID, wallet string, isBuy bool, size decimal.Decimal)
	RecordError(component, detail string)
}

// Scheduler is the wake surface a bot needs.
type Scheduler interface {
	Schedule(botID string, at time.Time)
	Cancel(botID string)
}

// TradingBot is one scheduled trading actor bound to a single wallet.
type TradingBot struct {
	ID string

	mu         sync.Mutex
	config     Config
	profile    behavior.Profile
	state      State
	stats      Stats
	lastErr    string
	nextWakeAt time.Time

	// cappedUntilReset is set when a daily cap stalls scheduling; the
	// midnight wake clears it.
	cappedUntilReset bool
	burstRemaining   int

	rng       *randomization.Engine
	tasks     TaskEnqueuer
	scheduler Scheduler
	collector Collector

	destroyed bool
	now       func() time.Time
}

// NewTradingBot wires a bot. The caller registers it and starts it through
// the lifecycle manager.
func NewTradingBot(id string, config Config, profile behavior.Profile,
	rng *randomization.Engine, tasks TaskEnqueuer, scheduler Scheduler, collector Collector) *TradingBot {
	b := &TradingBot{
		ID:        id,
		config:    config,
		profile:   profile,
		state:     StateIdle,
		rng:       rng,
		tasks:     tasks,
		scheduler: scheduler,
		collector: collector,
		now:       time.Now,
	}
	b.stats = NewStats(b.now())
	return b
}

// apply performs one lifecycle transition under the bot's lock.
func (b *TradingBot) apply(event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return fmt.Errorf("bot %s: destroyed", b.ID)
	}
	next, ok := transitions[transition{from: b.state, event: event}]
	if !ok {
		return fmt.Errorf("bot %s: invalid transition state=%s event=%s", b.ID, b.state, event)
	}
	prev := b.state
	b.state = next
	log.Debug().
		Str("bot", b.ID).
		Str("from", string(prev)).
		Str("to", string(next)).
		Msg("bot state transition")
	return nil
}

// Start moves the bot to running and schedules its first wake.
func (b *TradingBot) Start() error {
	if err := b.apply(EventStart); err != nil {
		return err
	}
	b.mu.Lock()
	b.lastErr = ""
	wallet := b.config.WalletID
	b.mu.Unlock()

	// First wake fires almost immediately; the interval machinery takes
	// over from there.
	at := b.now().Add(b.rng.AddJitter(50*time.Millisecond, 50))
	b.scheduleWake(at)
	log.Info().Str("bot", b.ID).Str("wallet", wallet).Msg("bot: started")
	return nil
}

// Stop halts the bot and cancels its pending wake.
func (b *TradingBot) Stop() error {
	if err := b.apply(EventStop); err != nil {
		return err
	}
	b.scheduler.Cancel(b.ID)
	log.Info().Str("bot", b.ID).Msg("bot: stopped")
	return nil
}

// Pause keeps the bot registered but suppresses ticks.
func (b *TradingBot) Pause() error {
	if err := b.apply(EventPause); err != nil {
		return err
	}
	b.scheduler.Cancel(b.ID)
	log.Info().Str("bot", b.ID).Msg("bot: paused")
	return nil
}

// Resume restarts ticking after a pause.
func (b *TradingBot) Resume() error {
	if err := b.apply(EventResume); err != nil {
		return err
	}
	b.scheduleWake(b.now().Add(b.rng.AddJitter(50*time.Millisecond, 50)))
	log.Info().Str("bot", b.ID).Msg("bot: resumed")
	return nil
}

// Destroy stops the bot and makes every further call fail. Terminal.
func (b *TradingBot) Destroy() {
	b.mu.Lock()
	b.state = StateStopped
	b.destroyed = true
	b.mu.Unlock()
	b.scheduler.Cancel(b.ID)
}

// State returns the current lifecycle state.
func (b *TradingBot) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Config returns a copy of the bot's config.
func (b *TradingBot) Config() Config {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.config
}

// UpdateConfig swaps the config after validation.
func (b *TradingBot) UpdateConfig(config Config) error {
	if err := config.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	b.config = config
	b.mu.Unlock()
	return nil
}

// Stats returns a copy of the bot's stats.
func (b *TradingBot) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// LastError returns the most recent per-trade error, if any.
func (b *TradingBot) LastError() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

// Status is the serializable {id, config, status} snapshot.
type Status struct {
	ID         string    `json:"id"`
	Config     Config    `json:"config"`
	State      State     `json:"state"`
	Stats      Stats     `json:"stats"`
	NextWakeAt time.Time `json:"next_wake_at,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// Status returns the snapshot used for introspection and persistence.
func (b *TradingBot) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		ID:         b.ID,
		Config:     b.config,
		State:      b.state,
		Stats:      b.stats,
		NextWakeAt: b.nextWakeAt,
		LastError:  b.lastErr,
	}
}

func (b *TradingBot) scheduleWake(at time.Time) {
	b.mu.Lock()
	b.nextWakeAt = at
	b.mu.Unlock()
	b.scheduler.Schedule(b.ID, at)
}

// Tick runs one scheduling cycle. Called by the wake scheduler; never
// called concurrently for the same bot. Errors inside the trade path are
// recorded and the loop always reschedules.
func (b *TradingBot) Tick() {
	b.mu.Lock()
	if b.state != StateRunning {
		b.mu.Unlock()
		return
	}
	now := b.now()

	// Daily reset fires on the first tick of a new UTC day.
	if !sameUTCDay(b.stats.LastResetAt, now) {
		b.stats.ResetDaily(now)
		b.cappedUntilReset = false
		log.Info().Str("bot", b.ID).Msg("bot: daily counters reset")
	}

	cfg := b.config
	profile := b.profile
	b.mu.Unlock()

	// Outside the profile's active window: sleep until it opens.
	if !profile.Window.Contains(now) {
		open := profile.Window.NextOpen(now)
		b.scheduleWake(open.Add(b.rng.AddJitter(time.Minute, 80)))
		log.Debug().Str("bot", b.ID).Time("open", open).Msg("bot: outside active window")
		return
	}

	// Daily caps: stall until the reset wake.
	b.mu.Lock()
	budgetLeft := b.stats.DailyBudgetLeft(cfg.MaxDailyVolume)
	capped := b.stats.DailyTrades >= int64(cfg.MaxDailyTrades) ||
		budgetLeft.LessThan(cfg.MinTradeSize)
	if capped {
		b.cappedUntilReset = true
	}
	b.mu.Unlock()
	if capped {
		b.scheduleWake(nextUTCMidnight(now).Add(b.rng.AddJitter(time.Minute, 90)))
		log.Debug().Str("bot", b.ID).Msg("bot: daily cap reached, stalling until reset")
		return
	}

	if err := b.executeTrade(now, cfg, profile, budgetLeft); err != nil {
		b.mu.Lock()
		b.lastErr = err.Error()
		b.mu.Unlock()
		if b.collector != nil {
			b.collector.RecordError("bot", fmt.Sprintf("%s: %v", b.ID, err))
		}
		log.Warn().Err(err).Str("bot", b.ID).Msg("bot: trade emission failed")
	}

	// Unconditional reschedule, trade errors included.
	b.scheduleWake(now.Add(b.nextDelay(cfg, profile)))
}

// executeTrade picks direction and size and emits one swap task.
func (b *TradingBot) executeTrade(now time.Time, cfg Config, profile behavior.Profile,
	budgetLeft decimal.Decimal) error {

	p := cfg.BuyProbability
	switch cfg.Mode {
	case ModeAccumulate:
		p = 0.8
	case ModeDistribute:
		p = 0.2
	}
	isBuy := b.rng.ShouldBuy(p, cfg.WalletID)

	size := b.rng.TradeSize(cfg.MinTradeSize, cfg.MaxTradeSize, profile.SizeDistribution, cfg.WalletID)
	if size.GreaterThan(budgetLeft) {
		size = budgetLeft
	}
	if size.LessThan(cfg.MinTradeSize) {
		// Remainder too small to trade; the cap check catches it next tick.
		return nil
	}

	direction := "sell"
	if isBuy {
		direction = "buy"
	}
	task, err := queue.NewTask("swap", queue.SwapPayload{
		Wallet:      cfg.WalletID,
		Token:       cfg.TokenMint,
		Direction:   direction,
		Amount:      size.String(),
		SlippageBps: cfg.SlippageBps,
		PriorityFee: cfg.PriorityFeeLamports,
	})
	if err != nil {
		return fmt.Errorf("build swap task: %w", err)
	}
	task.WalletID = cfg.WalletID
	task.BotID = b.ID

	if _, err := b.tasks.Enqueue(task); err != nil {
		return fmt.Errorf("enqueue swap: %w", err)
	}

	// Optimistic accounting at emission; OnTradeCompleted reconciles.
	b.mu.Lock()
	b.stats.RecordEmitted(isBuy, size, now)
	b.mu.Unlock()
	b.rng.RecordTrade(cfg.WalletID, isBuy, size)

	if b.collector != nil {
		b.collector.RecordTrade(b.ID, cfg.WalletID, isBuy, size)
	}
	log.Debug().
		Str("bot", b.ID).
		Str("direction", direction).
		Str("size", size.String()).
		Msg("bot: swap emitted")
	return nil
}

// nextDelay computes the gap to the next tick, honoring bursts and the
// profile's activity and variance settings.
func (b *TradingBot) nextDelay(cfg Config, profile behavior.Profile) time.Duration {
	b.mu.Lock()
	inBurst := b.burstRemaining > 0
	if inBurst {
		b.burstRemaining--
	}
	burstEnded := inBurst && b.burstRemaining == 0
	b.mu.Unlock()

	sampler := b.rng.Sampler()

	if inBurst && !burstEnded {
		// Back-to-back burst trades use a tight gap.
		return b.rng.AddJitter(cfg.MinInterval/4+time.Second, 30)
	}

	if profile.BurstProbability > 0 && sampler.Bernoulli(profile.BurstProbability) {
		n := profile.BurstMin
		if profile.BurstMax > profile.BurstMin {
			n += sampler.Intn(profile.BurstMax - profile.BurstMin + 1)
		}
		if n > 1 {
			b.mu.Lock()
			b.burstRemaining = n - 1
			b.mu.Unlock()
			return b.rng.AddJitter(cfg.MinInterval/4+time.Second, 30)
		}
	}

	delay := b.rng.NextInterval(cfg.MinInterval, cfg.MaxInterval, profile.TimingDistribution, cfg.WalletID)

	if profile.ActivityMultiplier > 0 {
		delay = time.Duration(float64(delay) * profile.ActivityMultiplier)
	}
	if profile.VarianceFactor > 0 {
		delay = b.rng.AddJitter(delay, profile.VarianceFactor*100)
	}

	// A burst that just drained rests for the profile cooldown.
	if burstEnded && profile.BurstCooldown > 0 {
		delay += b.rng.AddJitter(profile.BurstCooldown, 20)
	}

	if delay < cfg.MinInterval {
		delay = cfg.MinInterval
	}
	return delay
}

// OnTradeCompleted reconciles a completed trade reported by the executor.
func (b *TradingBot) OnTradeCompleted(success bool, feeLamports uint64) {
	b.mu.Lock()
	err := b.stats.RecordOutcome(success, feeLamports)
	b.mu.Unlock()
	if err != nil {
		log.Warn().Err(err).Str("bot", b.ID).Msg("bot: fee accounting saturated")
	}
}

// nextUTCMidnight returns the first instant of the next UTC day.
func nextUTCMidnight(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}
