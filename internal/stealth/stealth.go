package stealth

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/swarm-trading/swarm/internal/dist"
)

// ---------------------------------------------------------------------------
// Anti-Detection Engine
// Tracks a bounded rolling window of recent trades across the whole swarm
// and feeds behavioral adjustments back into scheduling: direction flips,
// density cooldowns, wallet ordering, and regularity warnings. These are
// behavioral knobs, not a security guarantee.
// ---------------------------------------------------------------------------

// FlipPolicy controls what a direction-flip signal means to the caller.
type FlipPolicy string

const (
	// FlipInvert inverts the Bernoulli draw outcome.
	FlipInvert FlipPolicy = "invert"
	// FlipRedraw asks the caller to redraw with the complementary probability.
	FlipRedraw FlipPolicy = "redraw"
)

// Config configures the anti-detection engine.
type Config struct {
	WindowSize           int        `yaml:"window_size"`             // max observations kept
	MaxConsecutiveSide   int        `yaml:"max_consecutive_side"`    // same-direction run that triggers a flip
	FlipPolicy           FlipPolicy `yaml:"flip_policy"`             // invert|redraw
	CooldownBaseMs       int        `yaml:"cooldown_base_ms"`        // cooldown unit added per excess trade
	CooldownMaxMs        int        `yaml:"cooldown_max_ms"`         // cap on recommended cooldown
	DensityWindowS       int        `yaml:"density_window_s"`        // lookback for trade density
	DensityThreshold     int        `yaml:"density_threshold"`       // trades inside the window before cooldown grows
	MinWalletGapS        int        `yaml:"min_wallet_gap_s"`        // desired spacing between reuses of one wallet
	RegularityToleranceCV float64   `yaml:"regularity_tolerance_cv"` // coefficient of variation below this is "too regular"
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		WindowSize:            500,
		MaxConsecutiveSide:    4,
		FlipPolicy:            FlipInvert,
		CooldownBaseMs:        2000,
		CooldownMaxMs:         60000,
		DensityWindowS:        300,
		DensityThreshold:      10,
		MinWalletGapS:         60,
		RegularityToleranceCV: 0.15,
	}
}

// Observation is one recorded trade.
type Observation struct {
	Wallet string
	IsBuy  bool
	Size   decimal.Decimal
	At     time.Time
}

// Engine maintains the rolling trade history. Safe for concurrent recording
// from many bots.
type Engine struct {
	config  Config
	sampler *dist.Sampler

	mu           sync.Mutex
	window       []Observation // ring, oldest first
	lastSide     bool
	sideRun      int // consecutive trades on lastSide
	lastUsed     map[string]time.Time
	flipsSignaled int64

	now func() time.Time // injectable clock for tests
}

// NewEngine creates an anti-detection engine over the given sampler.
func NewEngine(config Config, sampler *dist.Sampler) *Engine {
	if config.WindowSize <= 0 {
		config.WindowSize = DefaultConfig().WindowSize
	}
	if config.FlipPolicy == "" {
		config.FlipPolicy = FlipInvert
	}
	return &Engine{
		config:   config,
		sampler:  sampler,
		window:   make([]Observation, 0, config.WindowSize),
		lastUsed: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Policy returns the configured flip policy.
func (e *Engine) Policy() FlipPolicy {
	return e.config.FlipPolicy
}

// RecordTrade appends an observation to the rolling window.
func (e *Engine) RecordTrade(wallet string, isBuy bool, size decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()

	obs := Observation{Wallet: wallet, IsBuy: isBuy, Size: size, At: e.now()}
	e.window = append(e.window, obs)
	if len(e.window) > e.config.WindowSize {
		e.window = e.window[len(e.window)-e.config.WindowSize:]
	}

	if len(e.window) == 1 || isBuy != e.lastSide {
		e.lastSide = isBuy
		e.sideRun = 1
	} else {
		e.sideRun++
	}
	e.lastUsed[wallet] = obs.At
}

// ShouldFlipDirection reports whether the next trade should break the current
// same-direction run. Signaling a flip resets the run so a single long run
// produces one flip, not a flip per trade.
func (e *Engine) ShouldFlipDirection() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.config.MaxConsecutiveSide <= 0 {
		return false
	}
	if e.sideRun >= e.config.MaxConsecutiveSide {
		e.sideRun = 0
		e.flipsSignaled++
		log.Debug().
			Bool("last_side_buy", e.lastSide).
			Int("run_limit", e.config.MaxConsecutiveSide).
			Msg("stealth: direction flip signaled")
		return true
	}
	return false
}

// RecommendedCooldown returns extra delay to add to the next trade interval,
// growing linearly with the trade count above the density threshold.
func (e *Engine) RecommendedCooldown() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-time.Duration(e.config.DensityWindowS) * time.Second)
	recent := 0
	for i := len(e.window) - 1; i >= 0; i-- {
		if e.window[i].At.Before(cutoff) {
			break
		}
		recent++
	}

	excess := recent - e.config.DensityThreshold
	if excess <= 0 {
		return 0
	}
	cooldown := time.Duration(excess*e.config.CooldownBaseMs) * time.Millisecond
	max := time.Duration(e.config.CooldownMaxMs) * time.Millisecond
	if cooldown > max {
		cooldown = max
	}
	return cooldown
}

// AdjustSize nudges a trade size that lands too close to a recent one from
// the same window, so many bots sharing a config do not print identical
// amounts. The result stays inside [min, max].
func (e *Engine) AdjustSize(size, min, max decimal.Decimal) decimal.Decimal {
	e.mu.Lock()
	tooClose := false
	checked := 0
	for i := len(e.window) - 1; i >= 0 && checked < 10; i-- {
		checked++
		prev := e.window[i].Size
		if prev.IsZero() {
			continue
		}
		delta := size.Sub(prev).Abs().Div(prev)
		if delta.LessThan(decimal.NewFromFloat(0.01)) {
			tooClose = true
			break
		}
	}
	e.mu.Unlock()

	if !tooClose {
		return size
	}

	shifted := size.Mul(decimal.NewFromFloat(e.sampler.UniformRange(0.93, 1.07)))
	if shifted.LessThan(min) {
		return min
	}
	if shifted.GreaterThan(max) {
		return max
	}
	return shifted
}

// OptimalWalletOrder orders wallets least-recently-used first so the same
// wallet is not reused in quick succession, breaking ties randomly.
// The result is always a permutation of the input.
func (e *Engine) OptimalWalletOrder(wallets []string) []string {
	out := make([]string, len(wallets))
	copy(out, wallets)

	// Random base order so never-used wallets do not keep input ordering.
	e.sampler.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })

	e.mu.Lock()
	used := make(map[string]time.Time, len(out))
	for _, w := range out {
		if t, ok := e.lastUsed[w]; ok {
			used[w] = t
		}
	}
	e.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		ti, iOK := used[out[i]]
		tj, jOK := used[out[j]]
		if iOK != jOK {
			return !iOK // never-used first
		}
		return ti.Before(tj)
	})
	return out
}

// AnalyzeActivityPattern inspects the rolling window for detectable
// regularity and returns textual warnings. An empty slice means nothing
// stood out.
func (e *Engine) AnalyzeActivityPattern() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var warnings []string
	if len(e.window) < 10 {
		return warnings
	}

	// Timing regularity: coefficient of variation of inter-trade gaps.
	var gaps []float64
	for i := 1; i < len(e.window); i++ {
		gaps = append(gaps, e.window[i].At.Sub(e.window[i-1].At).Seconds())
	}
	if cv := coefficientOfVariation(gaps); cv >= 0 && cv < e.config.RegularityToleranceCV {
		warnings = append(warnings,
			fmt.Sprintf("trade timing too regular (cv=%.3f, want >= %.3f)", cv, e.config.RegularityToleranceCV))
	}

	// Size regularity.
	var sizes []float64
	for _, obs := range e.window {
		sizes = append(sizes, obs.Size.InexactFloat64())
	}
	if cv := coefficientOfVariation(sizes); cv >= 0 && cv < e.config.RegularityToleranceCV {
		warnings = append(warnings,
			fmt.Sprintf("trade sizes too regular (cv=%.3f, want >= %.3f)", cv, e.config.RegularityToleranceCV))
	}

	// Direction balance: all-buy or all-sell windows stand out.
	buys := 0
	for _, obs := range e.window {
		if obs.IsBuy {
			buys++
		}
	}
	ratio := float64(buys) / float64(len(e.window))
	if ratio > 0.9 || ratio < 0.1 {
		warnings = append(warnings,
			fmt.Sprintf("direction heavily one-sided (buy ratio %.2f)", ratio))
	}

	// Wallet reuse spacing.
	gapLimit := time.Duration(e.config.MinWalletGapS) * time.Second
	prevByWallet := make(map[string]time.Time)
	fastReuses := 0
	for _, obs := range e.window {
		if prev, ok := prevByWallet[obs.Wallet]; ok && obs.At.Sub(prev) < gapLimit {
			fastReuses++
		}
		prevByWallet[obs.Wallet] = obs.At
	}
	if fastReuses > len(e.window)/5 {
		warnings = append(warnings,
			fmt.Sprintf("wallets reused too quickly (%d reuses under %s)", fastReuses, gapLimit))
	}

	return warnings
}

// Stats is a snapshot of engine counters.
type Stats struct {
	WindowLen     int   `json:"window_len"`
	FlipsSignaled int64 `json:"flips_signaled"`
	SideRun       int   `json:"side_run"`
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		WindowLen:     len(e.window),
		FlipsSignaled: e.flipsSignaled,
		SideRun:       e.sideRun,
	}
}

// coefficientOfVariation returns stdev/mean, or -1 when undefined.
func coefficientOfVariation(xs []float64) float64 {
	if len(xs) < 2 {
		return -1
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	if mean == 0 {
		return -1
	}
	variance := 0.0
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	variance /= float64(len(xs) - 1)
	return math.Sqrt(variance) / mean
}
