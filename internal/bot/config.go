package bot

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/swarm-trading/swarm/internal/errs"
)

// Mode selects a bot's trading objective.
type Mode string

const (
	ModeVolume     Mode = "volume"
	ModeMarketMake Mode = "market_make"
	ModeAccumulate Mode = "accumulate"
	ModeDistribute Mode = "distribute"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeVolume, ModeMarketMake, ModeAccumulate, ModeDistribute:
		return true
	}
	return false
}

// Config is one bot's trading parameters.
type Config struct {
	WalletID  string `yaml:"wallet_id" json:"wallet_id"`
	TokenMint string `yaml:"token_mint" json:"token_mint"`
	Mode      Mode   `yaml:"mode" json:"mode"`

	MinTradeSize decimal.Decimal `yaml:"min_trade_size" json:"min_trade_size"`
	MaxTradeSize decimal.Decimal `yaml:"max_trade_size" json:"max_trade_size"`

	MinInterval time.Duration `yaml:"min_interval" json:"min_interval"`
	MaxInterval time.Duration `yaml:"max_interval" json:"max_interval"`

	BuyProbability float64 `yaml:"buy_probability" json:"buy_probability"`

	MaxDailyTrades int             `yaml:"max_daily_trades" json:"max_daily_trades"`
	MaxDailyVolume decimal.Decimal `yaml:"max_daily_volume" json:"max_daily_volume"`

	Enabled bool   `yaml:"enabled" json:"enabled"`
	Profile string `yaml:"profile" json:"profile"`

	SlippageBps         int    `yaml:"slippage_bps" json:"slippage_bps"`
	PriorityFeeLamports uint64 `yaml:"priority_fee_lamports" json:"priority_fee_lamports"`
}

// DefaultConfig returns a moderate starting point. Wallet and token must
// still be supplied by the caller.
func DefaultConfig() Config {
	return Config{
		Mode:           ModeVolume,
		MinTradeSize:   decimal.NewFromFloat(0.05),
		MaxTradeSize:   decimal.NewFromFloat(0.5),
		MinInterval:    30 * time.Second,
		MaxInterval:    5 * time.Minute,
		BuyProbability: 0.5,
		MaxDailyTrades: 100,
		MaxDailyVolume: decimal.NewFromInt(25),
		Enabled:        true,
		Profile:        "moderate",
		SlippageBps:    100,
	}
}

// withDefaults fills zero-valued fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Mode == "" {
		c.Mode = def.Mode
	}
	if c.MinTradeSize.IsZero() && c.MaxTradeSize.IsZero() {
		c.MinTradeSize = def.MinTradeSize
		c.MaxTradeSize = def.MaxTradeSize
	}
	if c.MinInterval == 0 && c.MaxInterval == 0 {
		c.MinInterval = def.MinInterval
		c.MaxInterval = def.MaxInterval
	}
	if c.BuyProbability == 0 {
		c.BuyProbability = def.BuyProbability
	}
	if c.MaxDailyTrades == 0 {
		c.MaxDailyTrades = def.MaxDailyTrades
	}
	if c.MaxDailyVolume.IsZero() {
		c.MaxDailyVolume = def.MaxDailyVolume
	}
	if c.Profile == "" {
		c.Profile = def.Profile
	}
	if c.SlippageBps == 0 {
		c.SlippageBps = def.SlippageBps
	}
	return c
}

// Validate checks the config invariants.
func (c Config) Validate() error {
	if c.WalletID == "" {
		return errs.Validation("wallet_id", "must not be empty")
	}
	if c.TokenMint == "" {
		return errs.Validation("token_mint", "must not be empty")
	}
	if !c.Mode.Valid() {
		return errs.Validation("mode", "unknown mode %q", c.Mode)
	}
	if c.MinTradeSize.LessThanOrEqual(decimal.Zero) {
		return errs.Validation("min_trade_size", "must be positive, got %s", c.MinTradeSize)
	}
	if c.MinTradeSize.GreaterThan(c.MaxTradeSize) {
		return errs.Validation("max_trade_size", "must be >= min_trade_size (%s > %s)",
			c.MinTradeSize, c.MaxTradeSize)
	}
	if c.MinInterval <= 0 {
		return errs.Validation("min_interval", "must be positive, got %s", c.MinInterval)
	}
	if c.MinInterval > c.MaxInterval {
		return errs.Validation("max_interval", "must be >= min_interval (%s > %s)",
			c.MinInterval, c.MaxInterval)
	}
	if c.BuyProbability < 0 || c.BuyProbability > 1 {
		return errs.Validation("buy_probability", "must be in [0,1], got %f", c.BuyProbability)
	}
	if c.MaxDailyTrades <= 0 {
		return errs.Validation("max_daily_trades", "must be positive, got %d", c.MaxDailyTrades)
	}
	if c.MaxDailyVolume.LessThan(c.MinTradeSize) {
		return errs.Validation("max_daily_volume", "must be >= min_trade_size (%s < %s)",
			c.MaxDailyVolume, c.MinTradeSize)
	}
	if c.SlippageBps < 0 || c.SlippageBps > 10000 {
		return errs.Validation("slippage_bps", "must be in [0,10000], got %d", c.SlippageBps)
	}
	return nil
}
