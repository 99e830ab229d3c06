package bot

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/swarm-trading/swarm/internal/errs"
	"github.com/swarm-trading/swarm/internal/events"
	"github.com/swarm-trading/swarm/internal/queue"
	"github.com/swarm-trading/swarm/internal/randomization"
)

// ---------------------------------------------------------------------------
// Lifecycle Manager
// Owns the bot registry. All lifecycle calls route through here; the bots
// themselves only ever touch their own state.
// ---------------------------------------------------------------------------

const snapshotPrefix = "bot:"

// ManagerConfig bounds the swarm.
type ManagerConfig struct {
	MaxConcurrent    int `yaml:"max_concurrent"`
	StartStaggerMs   int `yaml:"start_stagger_ms"`
	ShutdownTimeoutS int `yaml:"shutdown_timeout_s"`
}

// DefaultManagerConfig returns production defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxConcurrent:    25,
		StartStaggerMs:   1500,
		ShutdownTimeoutS: 10,
	}
}

// Manager registers, starts, stops, and aggregates bots.
type Manager struct {
	config  ManagerConfig
	factory *Factory
	rng     *randomization.Engine
	store   queue.Store // nil disables snapshot persistence

	mu           sync.Mutex
	bots         map[string]*TradingBot
	shuttingDown bool

	reports *events.Stream[TradeReport]
}

// TradeReport is the completion record published for every finished trade.
type TradeReport struct {
	BotID       string    `json:"bot_id"`
	WalletID    string    `json:"wallet_id"`
	Success     bool      `json:"success"`
	FeeLamports uint64    `json:"fee_lamports"`
	At          time.Time `json:"at"`
}

// NewManager creates an empty registry.
func NewManager(config ManagerConfig, factory *Factory, rng *randomization.Engine, store queue.Store) *Manager {
	def := DefaultManagerConfig()
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = def.MaxConcurrent
	}
	if config.StartStaggerMs <= 0 {
		config.StartStaggerMs = def.StartStaggerMs
	}
	if config.ShutdownTimeoutS <= 0 {
		config.ShutdownTimeoutS = def.ShutdownTimeoutS
	}
	return &Manager{
		config:  config,
		factory: factory,
		rng:     rng,
		store:   store,
		bots:    make(map[string]*TradingBot),
		reports: events.NewStream[TradeReport](),
	}
}

// Reports exposes the trade completion stream.
func (m *Manager) Reports() *events.Stream[TradeReport] {
	return m.reports
}

// CreateBot validates, constructs, and registers one bot.
func (m *Manager) CreateBot(config Config) (*TradingBot, error) {
	m.mu.Lock()
	if m.shuttingDown {
		m.mu.Unlock()
		return nil, fmt.Errorf("manager: shutting down")
	}
	m.mu.Unlock()

	b, err := m.factory.Build(config)
	if err != nil {
		return nil, err
	}
	m.register(b)
	return b, nil
}

// CreateSwarm builds and registers a whole swarm.
func (m *Manager) CreateSwarm(spec SwarmSpec) ([]*TradingBot, error) {
	m.mu.Lock()
	if m.shuttingDown {
		m.mu.Unlock()
		return nil, fmt.Errorf("manager: shutting down")
	}
	m.mu.Unlock()

	bots, err := m.factory.BuildSwarm(spec)
	if err != nil {
		return nil, err
	}
	for _, b := range bots {
		m.register(b)
	}
	return bots, nil
}

// CreateForTargetVolume sizes and registers a swarm for a daily volume goal.
func (m *Manager) CreateForTargetVolume(targetVolume decimal.Decimal, wallets []string,
	mode string, base Config) ([]*TradingBot, error) {
	m.mu.Lock()
	if m.shuttingDown {
		m.mu.Unlock()
		return nil, fmt.Errorf("manager: shutting down")
	}
	m.mu.Unlock()

	bots, err := m.factory.BuildForTargetVolume(targetVolume, wallets, mode, base)
	if err != nil {
		return nil, err
	}
	for _, b := range bots {
		m.register(b)
	}
	return bots, nil
}

func (m *Manager) register(b *TradingBot) {
	m.mu.Lock()
	m.bots[b.ID] = b
	m.mu.Unlock()
	m.persistSnapshot(b)
}

func (m *Manager) get(id string) (*TradingBot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bots[id]
	if !ok {
		return nil, errs.NotFound("bot", id)
	}
	return b, nil
}

// runningCountLocked counts bots in the running state. Callers hold m.mu.
func (m *Manager) runningCountLocked() int {
	n := 0
	for _, b := range m.bots {
		if b.State() == StateRunning {
			n++
		}
	}
	return n
}

func (m *Manager) runningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runningCountLocked()
}

// admitStart checks the concurrency cap and transitions the bot under one
// lock, so concurrent starts cannot both slip under the limit.
func (m *Manager) admitStart(b *TradingBot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := m.runningCountLocked(); n >= m.config.MaxConcurrent {
		return &errs.CapacityExceededError{Limit: m.config.MaxConcurrent, Current: n}
	}
	return b.Start()
}

// StartBot starts one bot, honoring the concurrency cap.
func (m *Manager) StartBot(id string) error {
	b, err := m.get(id)
	if err != nil {
		return err
	}
	if err := m.admitStart(b); err != nil {
		return err
	}
	m.persistSnapshot(b)
	return nil
}

// StopBot stops one bot.
func (m *Manager) StopBot(id string) error {
	b, err := m.get(id)
	if err != nil {
		return err
	}
	if err := b.Stop(); err != nil {
		return err
	}
	m.persistSnapshot(b)
	return nil
}

// PauseBot pauses one bot.
func (m *Manager) PauseBot(id string) error {
	b, err := m.get(id)
	if err != nil {
		return err
	}
	if err := b.Pause(); err != nil {
		return err
	}
	m.persistSnapshot(b)
	return nil
}

// ResumeBot resumes one bot.
func (m *Manager) ResumeBot(id string) error {
	b, err := m.get(id)
	if err != nil {
		return err
	}
	if err := b.Resume(); err != nil {
		return err
	}
	m.persistSnapshot(b)
	return nil
}

// DestroyBot removes a bot permanently.
func (m *Manager) DestroyBot(id string) error {
	b, err := m.get(id)
	if err != nil {
		return err
	}
	b.Destroy()
	m.mu.Lock()
	delete(m.bots, id)
	m.mu.Unlock()
	if m.store != nil {
		if err := m.store.DeleteSnapshot(snapshotPrefix + id); err != nil {
			log.Warn().Err(err).Str("bot", id).Msg("manager: snapshot delete failed")
		}
	}
	return nil
}

// UpdateConfig swaps a bot's config after validation.
func (m *Manager) UpdateConfig(id string, config Config) error {
	b, err := m.get(id)
	if err != nil {
		return err
	}
	if err := b.UpdateConfig(config.withDefaults()); err != nil {
		return err
	}
	m.persistSnapshot(b)
	return nil
}

// GetStatus returns one bot's snapshot.
func (m *Manager) GetStatus(id string) (Status, error) {
	b, err := m.get(id)
	if err != nil {
		return Status{}, err
	}
	return b.Status(), nil
}

// GetAllStatuses returns every registered bot's snapshot.
func (m *Manager) GetAllStatuses() []Status {
	m.mu.Lock()
	bots := make([]*TradingBot, 0, len(m.bots))
	for _, b := range m.bots {
		bots = append(bots, b)
	}
	m.mu.Unlock()

	out := make([]Status, 0, len(bots))
	for _, b := range bots {
		out = append(out, b.Status())
	}
	return out
}

// StartAllBots starts every idle/stopped enabled bot in correlation-aware
// order with staggered jittered delays. Stops at the concurrency cap. One
// bot's failure never aborts the rest.
func (m *Manager) StartAllBots() int {
	m.mu.Lock()
	byWallet := make(map[string]*TradingBot)
	wallets := make([]string, 0, len(m.bots))
	for _, b := range m.bots {
		st := b.State()
		if st == StateRunning || st == StatePaused || !b.Config().Enabled {
			continue
		}
		w := b.Config().WalletID
		byWallet[w] = b
		wallets = append(wallets, w)
	}
	m.mu.Unlock()

	started := 0
	stagger := time.Duration(m.config.StartStaggerMs) * time.Millisecond
	for i, w := range m.rng.ShuffleWallets(wallets) {
		b := byWallet[w]
		if i > 0 {
			time.Sleep(m.rng.AddJitter(stagger, 50))
		}
		if err := m.admitStart(b); err != nil {
			var capErr *errs.CapacityExceededError
			if errors.As(err, &capErr) {
				log.Warn().Int("started", started).Msg("manager: concurrency cap reached, leaving rest idle")
				break
			}
			log.Warn().Err(err).Str("bot", b.ID).Msg("manager: bot start failed")
			continue
		}
		m.persistSnapshot(b)
		started++
	}
	log.Info().Int("started", started).Msg("manager: swarm start complete")
	return started
}

// TickBot runs one trading cycle for the given bot. Unknown ids are
// dropped silently, a wake can race a destroy.
func (m *Manager) TickBot(botID string) {
	m.mu.Lock()
	b, ok := m.bots[botID]
	m.mu.Unlock()
	if ok {
		b.Tick()
	}
}

// TradeCompleted routes an executor completion back to the owning bot.
// Unknown bot ids (destroyed mid-flight) are dropped silently.
func (m *Manager) TradeCompleted(botID string, success bool, feeLamports uint64) {
	m.mu.Lock()
	b, ok := m.bots[botID]
	m.mu.Unlock()
	if ok {
		b.OnTradeCompleted(success, feeLamports)
		m.reports.Publish(TradeReport{
			BotID:       botID,
			WalletID:    b.Config().WalletID,
			Success:     success,
			FeeLamports: feeLamports,
			At:          time.Now(),
		})
	}
}

// AggregateStats is the O(n) fold over all bots.
type AggregateStats struct {
	Bots           int             `json:"bots"`
	Running        int             `json:"running"`
	TotalTrades    int64           `json:"total_trades"`
	TotalVolume    decimal.Decimal `json:"total_volume"`
	DailyTrades    int64           `json:"daily_trades"`
	DailyVolume    decimal.Decimal `json:"daily_volume"`
	AvgSuccessRate float64         `json:"avg_success_rate"` // unweighted mean
	FeesLamports   uint64          `json:"fees_lamports"`
}

// GetAggregateStats totals every bot's counters.
func (m *Manager) GetAggregateStats() AggregateStats {
	statuses := m.GetAllStatuses()
	agg := AggregateStats{
		Bots:        len(statuses),
		TotalVolume: decimal.Zero,
		DailyVolume: decimal.Zero,
	}
	var rateSum float64
	for _, st := range statuses {
		if st.State == StateRunning {
			agg.Running++
		}
		agg.TotalTrades += st.Stats.TotalTrades
		agg.TotalVolume = agg.TotalVolume.Add(st.Stats.TotalVolume)
		agg.DailyTrades += st.Stats.DailyTrades
		agg.DailyVolume = agg.DailyVolume.Add(st.Stats.DailyVolume)
		rateSum += st.Stats.SuccessRate
		total, err := addLamports(agg.FeesLamports, st.Stats.FeesSpentLamports)
		if err != nil {
			log.Warn().Err(err).Msg("manager: aggregate fee total saturated")
		}
		agg.FeesLamports = total
	}
	if len(statuses) > 0 {
		agg.AvgSuccessRate = rateSum / float64(len(statuses))
	}
	return agg
}

// Shutdown stops every bot, waits for the running set to drain, then
// force-clears whatever is left. Safe to call twice.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.shuttingDown {
		m.mu.Unlock()
		log.Debug().Msg("manager: shutdown already in progress")
		return
	}
	m.shuttingDown = true
	bots := make([]*TradingBot, 0, len(m.bots))
	for _, b := range m.bots {
		bots = append(bots, b)
	}
	m.mu.Unlock()

	log.Info().Int("bots", len(bots)).Msg("manager: shutting down")
	for _, b := range bots {
		if b.State() == StateStopped {
			continue
		}
		if err := b.Stop(); err != nil {
			log.Warn().Err(err).Str("bot", b.ID).Msg("manager: stop during shutdown failed")
		}
	}

	deadline := time.Now().Add(time.Duration(m.config.ShutdownTimeoutS) * time.Second)
	for m.runningCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}

	// Force-clear stragglers.
	m.mu.Lock()
	remaining := len(m.bots)
	for id, b := range m.bots {
		b.Destroy()
		delete(m.bots, id)
	}
	m.mu.Unlock()
	log.Info().Int("cleared", remaining).Msg("manager: shutdown complete")
}

// ---------------------------------------------------------------------------
// Snapshot persistence
// ---------------------------------------------------------------------------

type botSnapshot struct {
	ID     string `json:"id"`
	Config Config `json:"config"`
	Status State  `json:"status"`
}

func (m *Manager) persistSnapshot(b *TradingBot) {
	if m.store == nil {
		return
	}
	snap := botSnapshot{ID: b.ID, Config: b.Config(), Status: b.State()}
	raw, err := json.Marshal(snap)
	if err != nil {
		log.Warn().Err(err).Str("bot", b.ID).Msg("manager: snapshot marshal failed")
		return
	}
	if err := m.store.SaveSnapshot(snapshotPrefix+b.ID, raw); err != nil {
		log.Warn().Err(err).Str("bot", b.ID).Msg("manager: snapshot save failed")
	}
}

// Restore rebuilds registered bots from persisted snapshots. Bots that were
// running when the snapshot was taken come back idle; the caller decides
// whether to start them.
func (m *Manager) Restore() (int, error) {
	if m.store == nil {
		return 0, nil
	}
	snaps, err := m.store.Snapshots(snapshotPrefix)
	if err != nil {
		return 0, fmt.Errorf("manager: load snapshots: %w", err)
	}

	restored := 0
	for key, raw := range snaps {
		var snap botSnapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("manager: snapshot unmarshal failed, skipping")
			continue
		}
		id := snap.ID
		if id == "" {
			id = strings.TrimPrefix(key, snapshotPrefix)
		}

		b, err := m.factory.Build(snap.Config)
		if err != nil {
			log.Warn().Err(err).Str("bot", id).Msg("manager: snapshot config invalid, skipping")
			continue
		}
		b.ID = id

		m.mu.Lock()
		m.bots[id] = b
		m.mu.Unlock()
		restored++
	}
	log.Info().Int("restored", restored).Msg("manager: bots restored from snapshots")
	return restored, nil
}
