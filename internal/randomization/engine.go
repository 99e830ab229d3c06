package randomization

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/swarm-trading/swarm/internal/dist"
	"github.com/swarm-trading/swarm/internal/stealth"
)

// ---------------------------------------------------------------------------
// Randomization Engine
// Single source of timing, sizing and direction decisions for all bots.
// Wraps the distribution samplers with time-of-day/day-of-week weighting,
// per-wallet fingerprints, and the anti-detection feedback loop.
// ---------------------------------------------------------------------------

// Config configures the randomization engine.
type Config struct {
	Seed      int64   `yaml:"seed"`       // 0 = derive from wall clock
	JitterPct float64 `yaml:"jitter_pct"` // default jitter applied to intervals and sizes
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Seed:      0,
		JitterPct: 10,
	}
}

// hourActivity weights trading activity by UTC hour of day. Low values mean
// quiet hours: intervals are lengthened, not shortened, during them.
var hourActivity = [24]float64{
	0.35, 0.30, 0.25, 0.25, 0.30, 0.40, // 00-05 overnight lull
	0.55, 0.70, 0.85, 0.95, 1.00, 1.00, // 06-11 ramp-up
	1.00, 1.00, 0.95, 0.95, 0.90, 0.85, // 12-17 peak
	0.80, 0.75, 0.65, 0.55, 0.45, 0.40, // 18-23 wind-down
}

// dayActivity weights by weekday (Sunday = 0).
var dayActivity = [7]float64{0.70, 1.00, 1.00, 1.00, 1.00, 0.95, 0.75}

// Fingerprint is a deterministic per-wallet bias triple used to desynchronize
// bots sharing a base configuration. Each bias is a multiplier near 1.0.
type Fingerprint struct {
	TimingBias float64 `json:"timing_bias"`
	SizeBias   float64 `json:"size_bias"`
	BuyBias    float64 `json:"buy_bias"`
}

// Engine implements the swarm's randomization surface.
type Engine struct {
	config  Config
	sampler *dist.Sampler
	stealth *stealth.Engine

	mu           sync.Mutex
	fingerprints map[string]Fingerprint

	now func() time.Time // injectable clock for tests
}

// NewEngine creates a randomization engine. A zero seed falls back to the
// wall clock so production runs differ while tests stay reproducible.
func NewEngine(config Config, antiDetect *stealth.Engine) *Engine {
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if config.JitterPct <= 0 {
		config.JitterPct = DefaultConfig().JitterPct
	}
	return &Engine{
		config:       config,
		sampler:      dist.NewSampler(seed),
		stealth:      antiDetect,
		fingerprints: make(map[string]Fingerprint),
		now:          time.Now,
	}
}

// Sampler exposes the underlying sampler for components that need raw draws
// with the same seed lineage (the bot factory's perturbations).
func (e *Engine) Sampler() *dist.Sampler {
	return e.sampler
}

// RecordTrade feeds an emitted trade into the anti-detection window.
func (e *Engine) RecordTrade(wallet string, isBuy bool, size decimal.Decimal) {
	if e.stealth != nil {
		e.stealth.RecordTrade(wallet, isBuy, size)
	}
}

// NextInterval draws the delay before a wallet's next trade.
//
// The base draw follows the requested distribution over [min, max]; it is
// then lengthened during low-activity hours/days, scaled by the wallet's
// timing fingerprint, extended by the anti-detection cooldown, jittered, and
// finally floored at min. Quiet-hour lengthening may exceed max on purpose.
func (e *Engine) NextInterval(min, max time.Duration, kind dist.Kind, wallet string) time.Duration {
	if max < min {
		max = min
	}
	base := e.sampler.Draw(kind, float64(min), float64(max))

	now := e.now().UTC()
	activity := hourActivity[now.Hour()] * dayActivity[int(now.Weekday())]
	if activity <= 0 {
		activity = 0.25
	}
	// activity 1.0 -> x1, activity 0.25 -> x4.
	base /= activity

	if wallet != "" {
		base *= e.WalletFingerprint(wallet).TimingBias
	}

	interval := time.Duration(e.sampler.Jitter(base, e.config.JitterPct))
	if e.stealth != nil {
		interval += e.stealth.RecommendedCooldown()
	}
	if interval < min {
		interval = min
	}
	return interval
}

// TradeSize draws a trade size in [min, max] from the requested distribution,
// applies the wallet's size fingerprint and jitter, clamps back into bounds,
// and passes the result through the anti-detection size adjustment.
func (e *Engine) TradeSize(min, max decimal.Decimal, kind dist.Kind, wallet string) decimal.Decimal {
	lo := min.InexactFloat64()
	hi := max.InexactFloat64()
	if hi < lo {
		hi = lo
	}
	v := e.sampler.Draw(kind, lo, hi)

	if wallet != "" {
		v *= e.WalletFingerprint(wallet).SizeBias
	}
	v = e.sampler.Jitter(v, e.config.JitterPct)
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}

	size := decimal.NewFromFloat(v)
	if e.stealth != nil {
		size = e.stealth.AdjustSize(size, min, max)
	}
	return size
}

// ShouldBuy draws trade direction with probability p of a buy. When the
// anti-detection engine signals that a same-direction run must break, the
// configured flip policy decides how: invert negates this draw, redraw
// samples from the complementary probability instead.
func (e *Engine) ShouldBuy(p float64, wallet string) bool {
	if wallet != "" {
		p *= e.WalletFingerprint(wallet).BuyBias
		if p > 1 {
			p = 1
		}
	}

	if e.stealth != nil && e.stealth.ShouldFlipDirection() {
		switch e.stealth.Policy() {
		case stealth.FlipRedraw:
			return e.sampler.Bernoulli(1 - p)
		default: // FlipInvert
			return !e.sampler.Bernoulli(p)
		}
	}
	return e.sampler.Bernoulli(p)
}

// ShuffleWallets returns a correlation-aware ordering of wallets: a
// permutation that avoids reusing recently active wallets first.
func (e *Engine) ShuffleWallets(wallets []string) []string {
	if e.stealth != nil {
		return e.stealth.OptimalWalletOrder(wallets)
	}
	out := make([]string, len(wallets))
	copy(out, wallets)
	e.sampler.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// AddJitter perturbs a duration by up to ±pct percent.
func (e *Engine) AddJitter(d time.Duration, pct float64) time.Duration {
	return time.Duration(e.sampler.Jitter(float64(d), pct))
}

// WalletFingerprint returns the deterministic bias triple for a wallet,
// computed once from a stable hash of the wallet id and cached.
func (e *Engine) WalletFingerprint(wallet string) Fingerprint {
	e.mu.Lock()
	defer e.mu.Unlock()

	if fp, ok := e.fingerprints[wallet]; ok {
		return fp
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(wallet))
	sum := h.Sum64()

	// Three independent bytes of the hash, each mapped into [0.85, 1.15].
	fp := Fingerprint{
		TimingBias: biasFromByte(byte(sum)),
		SizeBias:   biasFromByte(byte(sum >> 8)),
		BuyBias:    biasFromByte(byte(sum >> 16)),
	}
	e.fingerprints[wallet] = fp
	return fp
}

func biasFromByte(b byte) float64 {
	return 0.85 + float64(b)/255.0*0.30
}
