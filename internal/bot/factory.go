package bot

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/swarm-trading/swarm/internal/behavior"
	"github.com/swarm-trading/swarm/internal/errs"
	"github.com/swarm-trading/swarm/internal/randomization"
)

// ---------------------------------------------------------------------------
// Bot Factory
// Validates configs, assigns behavior profiles, and derives whole swarms
// from a base config or a volume target.
// ---------------------------------------------------------------------------

// SwarmSpec describes a swarm to build.
type SwarmSpec struct {
	Count           int     `yaml:"count" json:"count"`
	BaseConfig      Config  `yaml:"base_config" json:"base_config"`
	Mode            string  `yaml:"mode" json:"mode"` // aggressive|stealth|balanced
	VariationFactor float64 `yaml:"variation_factor" json:"variation_factor"`
}

// Factory builds bots.
type Factory struct {
	registry  *behavior.Registry
	rng       *randomization.Engine
	tasks     TaskEnqueuer
	scheduler Scheduler
	collector Collector
}

// NewFactory wires a factory with the collaborators every built bot shares.
func NewFactory(registry *behavior.Registry, rng *randomization.Engine,
	tasks TaskEnqueuer, scheduler Scheduler, collector Collector) *Factory {
	return &Factory{
		registry:  registry,
		rng:       rng,
		tasks:     tasks,
		scheduler: scheduler,
		collector: collector,
	}
}

// Build validates and merges a config and constructs one bot.
func (f *Factory) Build(config Config) (*TradingBot, error) {
	config = config.withDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	profile, err := f.registry.Get(config.Profile)
	if err != nil {
		return nil, errs.Validation("profile", "unknown behavior profile %q", config.Profile)
	}
	id := uuid.New().String()
	return NewTradingBot(id, config, profile, f.rng, f.tasks, f.scheduler, f.collector), nil
}

// BuildSwarm constructs spec.Count bots from the base config with
// heterogeneous profiles and bounded per-bot perturbation. Swarms larger
// than one always span more than one profile variance factor.
func (f *Factory) BuildSwarm(spec SwarmSpec) ([]*TradingBot, error) {
	if spec.Count <= 0 {
		return nil, errs.Validation("count", "must be positive, got %d", spec.Count)
	}
	v := spec.VariationFactor
	if v <= 0 {
		v = 0.2
	}
	if v > 0.5 {
		v = 0.5
	}

	base := spec.BaseConfig.withDefaults()
	profileNames := f.registry.ForMode(spec.Mode)
	if len(profileNames) == 0 {
		return nil, errs.Validation("mode", "no profiles for mode %q", spec.Mode)
	}

	bots := make([]*TradingBot, 0, spec.Count)
	for i := 0; i < spec.Count; i++ {
		cfg := base
		cfg.WalletID = fmt.Sprintf("%s-%02d", base.WalletID, i+1)
		cfg.Profile = profileNames[i%len(profileNames)]
		f.perturb(&cfg, v)

		b, err := f.Build(cfg)
		if err != nil {
			return nil, fmt.Errorf("swarm bot %d: %w", i+1, err)
		}
		bots = append(bots, b)
	}

	log.Info().
		Int("count", len(bots)).
		Str("mode", spec.Mode).
		Float64("variation", v).
		Msg("factory: swarm built")
	return bots, nil
}

// perturb applies independent bounded randomization to a bot's numeric
// parameters so siblings sharing a base config never move in lockstep.
func (f *Factory) perturb(cfg *Config, v float64) {
	s := f.rng.Sampler()
	scale := func() decimal.Decimal {
		return decimal.NewFromFloat(1 + (s.Float64()*2-1)*v)
	}

	cfg.MinTradeSize = cfg.MinTradeSize.Mul(scale())
	cfg.MaxTradeSize = cfg.MaxTradeSize.Mul(scale())
	if cfg.MinTradeSize.GreaterThan(cfg.MaxTradeSize) {
		cfg.MinTradeSize, cfg.MaxTradeSize = cfg.MaxTradeSize, cfg.MinTradeSize
	}

	cfg.MinInterval = time.Duration(float64(cfg.MinInterval) * (1 + (s.Float64()*2-1)*v))
	cfg.MaxInterval = time.Duration(float64(cfg.MaxInterval) * (1 + (s.Float64()*2-1)*v))
	if cfg.MinInterval > cfg.MaxInterval {
		cfg.MinInterval, cfg.MaxInterval = cfg.MaxInterval, cfg.MinInterval
	}

	cfg.BuyProbability += (s.Float64()*2 - 1) * v
	if cfg.BuyProbability < 0.1 {
		cfg.BuyProbability = 0.1
	}
	if cfg.BuyProbability > 0.9 {
		cfg.BuyProbability = 0.9
	}

	trades := int(float64(cfg.MaxDailyTrades) * (1 + (s.Float64()*2-1)*v))
	if trades < 1 {
		trades = 1
	}
	cfg.MaxDailyTrades = trades

	cfg.MaxDailyVolume = cfg.MaxDailyVolume.Mul(scale())
	if cfg.MaxDailyVolume.LessThan(cfg.MinTradeSize) {
		cfg.MaxDailyVolume = cfg.MinTradeSize
	}
}

// Throughput assumptions per campaign mode, used when sizing a swarm for a
// volume target.
var modeTradesPerDay = map[string]int{
	"aggressive": 48,
	"stealth":    8,
	"balanced":   20,
}

// Sane per-trade size band for volume-derived swarms.
var (
	minSaneTradeSize = decimal.NewFromFloat(0.05)
	maxSaneTradeSize = decimal.NewFromInt(50)
)

// BuildForTargetVolume derives a swarm sized to generate targetVolume per
// day across the available wallets. Bot count shrinks or grows until the
// implied average trade size lands inside a sane band.
func (f *Factory) BuildForTargetVolume(targetVolume decimal.Decimal, availableWallets []string,
	mode string, base Config) ([]*TradingBot, error) {

	if targetVolume.LessThanOrEqual(decimal.Zero) {
		return nil, errs.Validation("target_volume", "must be positive, got %s", targetVolume)
	}
	if len(availableWallets) == 0 {
		return nil, errs.Validation("available_wallets", "must not be empty")
	}

	tradesPerDay, ok := modeTradesPerDay[mode]
	if !ok {
		tradesPerDay = modeTradesPerDay["balanced"]
	}

	count := len(availableWallets)
	avg := impliedTradeSize(targetVolume, count, tradesPerDay)
	for count > 1 && avg.LessThan(minSaneTradeSize) {
		count--
		avg = impliedTradeSize(targetVolume, count, tradesPerDay)
	}
	for avg.GreaterThan(maxSaneTradeSize) && count < len(availableWallets) {
		count++
		avg = impliedTradeSize(targetVolume, count, tradesPerDay)
	}
	if avg.GreaterThan(maxSaneTradeSize) {
		return nil, errs.Validation("target_volume",
			"target %s needs trade size %s with %d wallets, above the %s cap",
			targetVolume, avg, count, maxSaneTradeSize)
	}

	cfg := base.withDefaults()
	cfg.Mode = ModeVolume
	cfg.MinTradeSize = avg.Mul(decimal.NewFromFloat(0.5))
	cfg.MaxTradeSize = avg.Mul(decimal.NewFromFloat(1.5))
	cfg.MaxDailyTrades = tradesPerDay * 2
	cfg.MaxDailyVolume = targetVolume.Div(decimal.NewFromInt(int64(count))).
		Mul(decimal.NewFromFloat(1.25))

	bots, err := f.BuildSwarm(SwarmSpec{
		Count:      count,
		BaseConfig: cfg,
		Mode:       mode,
	})
	if err != nil {
		return nil, err
	}
	// Replace the derived wallet suffixes with the real wallet ids.
	for i, b := range bots {
		c := b.Config()
		c.WalletID = availableWallets[i]
		if err := b.UpdateConfig(c); err != nil {
			return nil, err
		}
	}

	log.Info().
		Str("target", targetVolume.String()).
		Int("bots", count).
		Str("avg_size", avg.String()).
		Msg("factory: volume-target swarm built")
	return bots, nil
}

func impliedTradeSize(target decimal.Decimal, bots, tradesPerDay int) decimal.Decimal {
	return target.Div(decimal.NewFromInt(int64(bots * tradesPerDay)))
}
