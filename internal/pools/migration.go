package pools

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/swarm-trading/swarm/internal/events"
)

// ---------------------------------------------------------------------------
// Migration Detector
// Watches a token's pools for liquidity moving from its original venue to a
// newer one. A candidate migration must hold for a confirmation window
// before it is announced; transient liquidity spikes are discarded.
// ---------------------------------------------------------------------------

// DetectorConfig configures migration detection.
type DetectorConfig struct {
	CheckIntervalMs      int     `yaml:"check_interval_ms"`
	ConfirmationWindowMs int     `yaml:"confirmation_window_ms"`
	LiquidityAdvantage   float64 `yaml:"liquidity_advantage"`    // dest must hold source*advantage
	MinDestLiquidityUSD  float64 `yaml:"min_dest_liquidity_usd"`
}

// DefaultDetectorConfig returns production defaults.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		CheckIntervalMs:      5000,
		ConfirmationWindowMs: 30000,
		LiquidityAdvantage:   1.5,
		MinDestLiquidityUSD:  1000,
	}
}

// Detector detects pool-to-pool migrations for tracked tokens.
type Detector struct {
	config  DetectorConfig
	monitor *Monitor

	mu      sync.Mutex
	pending map[string]*pendingEntry // token -> candidate under confirmation
	history []MigrationEvent
	cancel  context.CancelFunc

	onMigration func(MigrationEvent)
	stream      *events.Stream[MigrationEvent]
	detections  *events.Stream[PendingMigration]

	detected  atomic.Int64
	confirmed atomic.Int64
	discarded atomic.Int64
}

type pendingEntry struct {
	migration PendingMigration
	timer     *time.Timer
}

// NewDetector creates a detector over the given monitor.
func NewDetector(config DetectorConfig, monitor *Monitor) *Detector {
	def := DefaultDetectorConfig()
	if config.CheckIntervalMs <= 0 {
		config.CheckIntervalMs = def.CheckIntervalMs
	}
	if config.ConfirmationWindowMs <= 0 {
		config.ConfirmationWindowMs = def.ConfirmationWindowMs
	}
	if config.LiquidityAdvantage <= 1 {
		config.LiquidityAdvantage = def.LiquidityAdvantage
	}
	return &Detector{
		config:  config,
		monitor: monitor,
		pending:    make(map[string]*pendingEntry),
		stream:     events.NewStream[MigrationEvent](),
		detections: events.NewStream[PendingMigration](),
	}
}

// Migrations returns the confirmed-migration event stream.
func (d *Detector) Migrations() *events.Stream[MigrationEvent] {
	return d.stream
}

// Detections returns the stream of candidates entering confirmation.
func (d *Detector) Detections() *events.Stream[PendingMigration] {
	return d.detections
}

// SetOnMigration sets the callback invoked on each confirmed migration.
// Must be called before StartMonitoring.
func (d *Detector) SetOnMigration(fn func(MigrationEvent)) {
	d.onMigration = fn
}

// AddToken starts migration tracking for a token.
func (d *Detector) AddToken(tokenMint string) {
	d.monitor.AddToken(tokenMint)
}

// RemoveToken stops tracking a token and drops any pending candidate.
func (d *Detector) RemoveToken(tokenMint string) {
	d.mu.Lock()
	if entry, ok := d.pending[tokenMint]; ok {
		entry.timer.Stop()
		delete(d.pending, tokenMint)
	}
	d.mu.Unlock()
	d.monitor.RemoveToken(tokenMint)
}

// GetPoolInfo returns the known pools for a token.
func (d *Detector) GetPoolInfo(tokenMint string) []PoolInfo {
	return d.monitor.GetPools(tokenMint)
}

// History returns confirmed migrations in detection order.
func (d *Detector) History() []MigrationEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]MigrationEvent(nil), d.history...)
}

// StartMonitoring runs the detection loop until StopMonitoring or ctx
// cancellation. Blocks.
func (d *Detector) StartMonitoring(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	ticker := time.NewTicker(time.Duration(d.config.CheckIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	log.Info().
		Int("window_ms", d.config.ConfirmationWindowMs).
		Float64("advantage", d.config.LiquidityAdvantage).
		Msg("migration: detector started")

	for {
		select {
		case <-ctx.Done():
			d.clearPending()
			log.Info().Msg("migration: detector stopped")
			return
		case <-ticker.C:
			d.CheckAll()
		}
	}
}

// StopMonitoring cancels a running detection loop.
func (d *Detector) StopMonitoring() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (d *Detector) clearPending() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for token, entry := range d.pending {
		entry.timer.Stop()
		delete(d.pending, token)
	}
}

// CheckAll evaluates every tracked token once.
func (d *Detector) CheckAll() {
	for _, token := range d.monitor.TrackedTokens() {
		d.CheckToken(token)
	}
}

// CheckToken looks for a migration candidate on one token. At most one
// candidate per token is under confirmation at a time.
func (d *Detector) CheckToken(tokenMint string) {
	d.mu.Lock()
	if _, busy := d.pending[tokenMint]; busy {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	source, dest, ok := d.findCandidate(tokenMint)
	if !ok {
		return
	}

	pm := PendingMigration{
		Token:      tokenMint,
		SourcePool: source.Address,
		DestPool:   dest.Address,
		DetectedAt: time.Now(),
	}
	window := time.Duration(d.config.ConfirmationWindowMs) * time.Millisecond

	d.mu.Lock()
	if _, busy := d.pending[tokenMint]; busy {
		d.mu.Unlock()
		return
	}
	entry := &pendingEntry{migration: pm}
	entry.timer = time.AfterFunc(window, func() { d.resolve(tokenMint) })
	d.pending[tokenMint] = entry
	d.mu.Unlock()

	d.detected.Add(1)
	d.detections.Publish(pm)
	log.Info().
		Str("token", tokenMint).
		Str("source", source.Address).
		Str("dest", dest.Address).
		Msg("migration: candidate detected, awaiting confirmation")
}

// findCandidate returns (source, dest) if the token's liquidity picture
// suggests a migration. The source pool is the earliest seen; the dest is
// the strongest other pool.
func (d *Detector) findCandidate(tokenMint string) (PoolInfo, PoolInfo, bool) {
	list := d.monitor.GetPools(tokenMint)
	if len(list) < 2 {
		return PoolInfo{}, PoolInfo{}, false
	}

	source := list[0]
	for _, p := range list[1:] {
		if p.FirstSeen.Before(source.FirstSeen) ||
			(p.FirstSeen.Equal(source.FirstSeen) && p.Address < source.Address) {
			source = p
		}
	}

	minDest := decimal.NewFromFloat(d.config.MinDestLiquidityUSD)
	var dest PoolInfo
	found := false
	for _, p := range list {
		if p.Address == source.Address || !p.Active || p.LiquidityUSD.LessThan(minDest) {
			continue
		}
		if !found || p.LiquidityUSD.GreaterThan(dest.LiquidityUSD) {
			dest = p
			found = true
		}
	}
	if !found {
		return PoolInfo{}, PoolInfo{}, false
	}

	if !source.Active {
		return source, dest, true
	}
	threshold := source.LiquidityUSD.Mul(decimal.NewFromFloat(d.config.LiquidityAdvantage))
	if dest.LiquidityUSD.GreaterThanOrEqual(threshold) {
		return source, dest, true
	}
	return PoolInfo{}, PoolInfo{}, false
}

// resolve re-reads pool state when the confirmation window expires and
// either announces or discards the candidate.
func (d *Detector) resolve(tokenMint string) {
	d.mu.Lock()
	entry, ok := d.pending[tokenMint]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.pending, tokenMint)
	d.mu.Unlock()

	source, haveSrc := d.monitor.GetPool(tokenMint, entry.migration.SourcePool)
	dest, haveDst := d.monitor.GetPool(tokenMint, entry.migration.DestPool)

	if !d.stillHolds(haveSrc, haveDst, source, dest) {
		d.discarded.Add(1)
		log.Info().
			Str("token", tokenMint).
			Str("dest", entry.migration.DestPool).
			Msg("migration: candidate discarded")
		return
	}

	evt := MigrationEvent{
		Token:       tokenMint,
		Source:      entry.migration.SourcePool,
		Destination: entry.migration.DestPool,
		DetectedAt:  entry.migration.DetectedAt,
		ConfirmedAt: time.Now(),
	}

	d.mu.Lock()
	d.history = append(d.history, evt)
	d.mu.Unlock()

	d.confirmed.Add(1)
	log.Info().
		Str("token", tokenMint).
		Str("source", evt.Source).
		Str("dest", evt.Destination).
		Msg("migration: confirmed")

	d.stream.Publish(evt)
	if d.onMigration != nil {
		d.onMigration(evt)
	}
}

// stillHolds re-applies the trigger condition at window expiry. Two dead
// pools mean the token died, not that it moved.
func (d *Detector) stillHolds(haveSrc, haveDst bool, source, dest PoolInfo) bool {
	if !haveDst || !dest.Active {
		return false
	}
	if dest.LiquidityUSD.LessThan(decimal.NewFromFloat(d.config.MinDestLiquidityUSD)) {
		return false
	}
	if !haveSrc || !source.Active {
		return dest.LiquidityUSD.GreaterThan(decimal.Zero)
	}
	threshold := source.LiquidityUSD.Mul(decimal.NewFromFloat(d.config.LiquidityAdvantage))
	return dest.LiquidityUSD.GreaterThanOrEqual(threshold)
}

// DetectorStats is a snapshot of detector counters.
type DetectorStats struct {
	Pending   int   `json:"pending"`
	Detected  int64 `json:"detected"`
	Confirmed int64 `json:"confirmed"`
	Discarded int64 `json:"discarded"`
}

func (d *Detector) Stats() DetectorStats {
	d.mu.Lock()
	pending := len(d.pending)
	d.mu.Unlock()
	return DetectorStats{
		Pending:   pending,
		Detected:  d.detected.Load(),
		Confirmed: d.confirmed.Load(),
		Discarded: d.discarded.Load(),
	}
}
