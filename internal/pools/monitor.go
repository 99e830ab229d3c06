package pools

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/swarm-trading/swarm/internal/errs"
	"github.com/swarm-trading/swarm/internal/events"
)

// ---------------------------------------------------------------------------
// Pool Monitor
// Polls the pool source for every tracked token at a fixed interval and
// publishes typed events on state deltas. The tracked-token set is mutable
// at runtime.
// ---------------------------------------------------------------------------

// MonitorConfig configures the pool monitor.
type MonitorConfig struct {
	PollIntervalMs     int     `yaml:"poll_interval_ms"`
	MinLiquidityUSD    float64 `yaml:"min_liquidity_usd"`     // floor for GetBestPool
	LiquidityDeltaPct  float64 `yaml:"liquidity_delta_pct"`   // emit liquidity-change above this %
	EventBuffer        int     `yaml:"event_buffer"`
}

// DefaultMonitorConfig returns production defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		PollIntervalMs:    5000,
		MinLiquidityUSD:   1000,
		LiquidityDeltaPct: 1.0,
		EventBuffer:       64,
	}
}

// Monitor maintains per-token pool lists.
type Monitor struct {
	config MonitorConfig
	source PoolSource

	mu     sync.RWMutex
	tokens map[string]struct{}
	pools  map[string]map[string]PoolInfo // token -> pool address -> info

	stream *events.Stream[PoolEvent]

	polls       atomic.Int64
	discoveries atomic.Int64

	now func() time.Time
}

// NewMonitor creates a pool monitor over the given source.
func NewMonitor(config MonitorConfig, source PoolSource) *Monitor {
	def := DefaultMonitorConfig()
	if config.PollIntervalMs <= 0 {
		config.PollIntervalMs = def.PollIntervalMs
	}
	if config.LiquidityDeltaPct <= 0 {
		config.LiquidityDeltaPct = def.LiquidityDeltaPct
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = def.EventBuffer
	}
	return &Monitor{
		config: config,
		source: source,
		tokens: make(map[string]struct{}),
		pools:  make(map[string]map[string]PoolInfo),
		stream: events.NewStream[PoolEvent](),
		now:    time.Now,
	}
}

// Events returns the monitor's event stream.
func (m *Monitor) Events() *events.Stream[PoolEvent] {
	return m.stream
}

// AddToken starts tracking a token.
func (m *Monitor) AddToken(tokenMint string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[tokenMint]; ok {
		return
	}
	m.tokens[tokenMint] = struct{}{}
	m.pools[tokenMint] = make(map[string]PoolInfo)
	log.Info().Str("token", tokenMint).Msg("pools: tracking token")
}

// RemoveToken stops tracking a token and discards its pool state.
func (m *Monitor) RemoveToken(tokenMint string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, tokenMint)
	delete(m.pools, tokenMint)
	log.Info().Str("token", tokenMint).Msg("pools: token removed")
}

// TrackedTokens returns the current token set.
func (m *Monitor) TrackedTokens() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.tokens))
	for t := range m.tokens {
		out = append(out, t)
	}
	return out
}

// GetPools returns the known pools for a token.
func (m *Monitor) GetPools(tokenMint string) []PoolInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byAddr := m.pools[tokenMint]
	out := make([]PoolInfo, 0, len(byAddr))
	for _, p := range byAddr {
		out = append(out, p)
	}
	return out
}

// GetPool returns one pool by token and address.
func (m *Monitor) GetPool(tokenMint, address string) (PoolInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[tokenMint][address]
	return p, ok
}

// GetBestPool returns the highest-liquidity active pool for the token that
// clears the minimum-liquidity floor.
func (m *Monitor) GetBestPool(tokenMint string) (PoolInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	floor := decimal.NewFromFloat(m.config.MinLiquidityUSD)
	var best PoolInfo
	found := false
	for _, p := range m.pools[tokenMint] {
		if !p.Active || p.LiquidityUSD.LessThan(floor) {
			continue
		}
		if !found || p.LiquidityUSD.GreaterThan(best.LiquidityUSD) {
			best = p
			found = true
		}
	}
	if !found {
		return PoolInfo{}, errs.NotFound("pool", tokenMint)
	}
	return best, nil
}

// Run polls all tracked tokens until ctx is cancelled. Blocks.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(m.config.PollIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	log.Info().
		Int("interval_ms", m.config.PollIntervalMs).
		Msg("pools: monitor started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("pools: monitor stopped")
			return
		case <-ticker.C:
			m.PollAll(ctx)
		}
	}
}

// PollAll refreshes every tracked token once.
func (m *Monitor) PollAll(ctx context.Context) {
	for _, token := range m.TrackedTokens() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := m.PollToken(ctx, token); err != nil {
			log.Warn().Err(err).Str("token", token).Msg("pools: poll failed")
		}
	}
}

// PollToken fetches the token's pools and applies deltas, emitting events.
func (m *Monitor) PollToken(ctx context.Context, tokenMint string) error {
	fetched, err := m.source.FetchPools(ctx, tokenMint)
	if err != nil {
		return err
	}
	m.polls.Add(1)

	now := m.now()
	var emit []PoolEvent

	m.mu.Lock()
	byAddr, tracked := m.pools[tokenMint]
	if !tracked {
		m.mu.Unlock()
		return nil // token was removed mid-poll
	}
	for _, p := range fetched {
		p.TokenMint = tokenMint
		p.UpdatedAt = now

		prev, known := byAddr[p.Address]
		if !known {
			p.FirstSeen = now
			byAddr[p.Address] = p
			m.discoveries.Add(1)
			emit = append(emit, PoolEvent{Type: EventPoolDiscovered, Token: tokenMint, Pool: p, At: now})
			continue
		}

		p.FirstSeen = prev.FirstSeen
		byAddr[p.Address] = p

		if prev.Active && !p.Active {
			emit = append(emit, PoolEvent{
				Type: EventPoolInactive, Token: tokenMint, Pool: p,
				PrevLiquidity: prev.LiquidityUSD, At: now,
			})
		}

		if liquidityDeltaPct(prev.LiquidityUSD, p.LiquidityUSD) >= m.config.LiquidityDeltaPct {
			emit = append(emit, PoolEvent{
				Type: EventLiquidityChange, Token: tokenMint, Pool: p,
				PrevLiquidity: prev.LiquidityUSD, At: now,
			})
		} else if !prev.LiquidityUSD.Equal(p.LiquidityUSD) || prev.Active != p.Active ||
			!prev.Volume24hUSD.Equal(p.Volume24hUSD) {
			emit = append(emit, PoolEvent{
				Type: EventPoolUpdated, Token: tokenMint, Pool: p,
				PrevLiquidity: prev.LiquidityUSD, At: now,
			})
		}
	}
	m.mu.Unlock()

	for _, evt := range emit {
		m.stream.Publish(evt)
		if evt.Type == EventPoolDiscovered {
			log.Debug().
				Str("token", tokenMint).
				Str("pool", evt.Pool.Address).
				Str("type", string(evt.Pool.Type)).
				Str("liquidity", evt.Pool.LiquidityUSD.String()).
				Msg("pools: pool discovered")
		}
	}
	return nil
}

// Stats is a snapshot of monitor counters.
type MonitorStats struct {
	TrackedTokens int   `json:"tracked_tokens"`
	KnownPools    int   `json:"known_pools"`
	Polls         int64 `json:"polls"`
	Discoveries   int64 `json:"discoveries"`
}

func (m *Monitor) Stats() MonitorStats {
	m.mu.RLock()
	total := 0
	for _, byAddr := range m.pools {
		total += len(byAddr)
	}
	tracked := len(m.tokens)
	m.mu.RUnlock()

	return MonitorStats{
		TrackedTokens: tracked,
		KnownPools:    total,
		Polls:         m.polls.Load(),
		Discoveries:   m.discoveries.Load(),
	}
}

// liquidityDeltaPct returns the absolute percent change between two values.
func liquidityDeltaPct(prev, cur decimal.Decimal) float64 {
	if prev.IsZero() {
		if cur.IsZero() {
			return 0
		}
		return 100
	}
	delta, _ := cur.Sub(prev).Abs().Div(prev).Mul(decimal.NewFromInt(100)).Float64()
	return delta
}
