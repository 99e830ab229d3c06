package bot

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarm-trading/swarm/internal/behavior"
	"github.com/swarm-trading/swarm/internal/errs"
)

func newTestFactory(t *testing.T) *Factory {
	t.Helper()
	return NewFactory(behavior.NewRegistry(), testEngine(7), &stubQueue{}, newStubScheduler(), &stubCollector{})
}

func TestFactoryBuildValidConfig(t *testing.T) {
	f := newTestFactory(t)
	b, err := f.Build(testConfig())
	require.NoError(t, err)
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, StateIdle, b.State())
}

func TestFactoryBuildValidation(t *testing.T) {
	f := newTestFactory(t)

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing wallet", func(c *Config) { c.WalletID = "" }},
		{"missing token", func(c *Config) { c.TokenMint = "" }},
		{"inverted sizes", func(c *Config) {
			c.MinTradeSize = decimal.NewFromInt(5)
			c.MaxTradeSize = decimal.NewFromInt(1)
		}},
		{"inverted intervals", func(c *Config) { c.MinInterval, c.MaxInterval = c.MaxInterval, c.MinInterval }},
		{"probability above one", func(c *Config) { c.BuyProbability = 1.5 }},
		{"negative probability", func(c *Config) { c.BuyProbability = -0.1 }},
		{"daily volume below min size", func(c *Config) {
			c.MinTradeSize = decimal.NewFromInt(10)
			c.MaxTradeSize = decimal.NewFromInt(20)
			c.MaxDailyVolume = decimal.NewFromInt(5)
		}},
		{"unknown profile", func(c *Config) { c.Profile = "nope" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			_, err := f.Build(cfg)
			require.Error(t, err)
			var verr *errs.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestFactoryBuildAppliesDefaults(t *testing.T) {
	f := newTestFactory(t)
	b, err := f.Build(Config{WalletID: "w", TokenMint: "m", Enabled: true})
	require.NoError(t, err)

	cfg := b.Config()
	assert.Equal(t, ModeVolume, cfg.Mode)
	assert.Equal(t, "moderate", cfg.Profile)
	assert.True(t, cfg.MinTradeSize.GreaterThan(decimal.Zero))
}

func TestFactorySwarmDistinctWalletsAndVariance(t *testing.T) {
	f := newTestFactory(t)
	base := testConfig()

	bots, err := f.BuildSwarm(SwarmSpec{Count: 6, BaseConfig: base, Mode: "aggressive", VariationFactor: 0.2})
	require.NoError(t, err)
	require.Len(t, bots, 6)

	wallets := make(map[string]bool)
	variances := make(map[float64]bool)
	for _, b := range bots {
		wallets[b.Config().WalletID] = true
		variances[b.profile.VarianceFactor] = true
	}
	assert.Len(t, wallets, 6, "wallet ids must be distinct")
	assert.Greater(t, len(variances), 1, "swarm must span more than one variance factor")
}

func TestFactorySwarmPerturbationStaysValid(t *testing.T) {
	f := newTestFactory(t)
	bots, err := f.BuildSwarm(SwarmSpec{Count: 20, BaseConfig: testConfig(), Mode: "stealth", VariationFactor: 0.4})
	require.NoError(t, err)

	for _, b := range bots {
		cfg := b.Config()
		require.NoError(t, cfg.Validate())
		assert.GreaterOrEqual(t, cfg.BuyProbability, 0.1)
		assert.LessOrEqual(t, cfg.BuyProbability, 0.9)
	}
}

func TestFactorySwarmRejectsBadCount(t *testing.T) {
	f := newTestFactory(t)
	_, err := f.BuildSwarm(SwarmSpec{Count: 0, BaseConfig: testConfig()})
	require.Error(t, err)
}

func TestFactoryTargetVolume(t *testing.T) {
	f := newTestFactory(t)
	wallets := []string{"w1", "w2", "w3", "w4"}
	base := Config{TokenMint: "MINT", Enabled: true, WalletID: "seed"}

	bots, err := f.BuildForTargetVolume(decimal.NewFromInt(400), wallets, "balanced", base)
	require.NoError(t, err)
	require.NotEmpty(t, bots)
	assert.LessOrEqual(t, len(bots), len(wallets))

	seen := make(map[string]bool)
	for _, b := range bots {
		cfg := b.Config()
		require.NoError(t, cfg.Validate())
		seen[cfg.WalletID] = true
		// Implied sizes stay inside the sane band.
		assert.True(t, cfg.MaxTradeSize.LessThanOrEqual(maxSaneTradeSize.Mul(decimal.NewFromInt(2))))
	}
	assert.Len(t, seen, len(bots), "real wallet ids must be distinct")
}

func TestFactoryTargetVolumeShrinksBotCount(t *testing.T) {
	f := newTestFactory(t)
	// Tiny target across many wallets forces the count down so the average
	// trade clears the minimum sane size.
	wallets := make([]string, 20)
	for i := range wallets {
		wallets[i] = string(rune('a' + i))
	}
	base := Config{TokenMint: "MINT", Enabled: true, WalletID: "seed"}

	bots, err := f.BuildForTargetVolume(decimal.NewFromInt(2), wallets, "balanced", base)
	require.NoError(t, err)
	assert.Less(t, len(bots), len(wallets))
}

func TestFactoryTargetVolumeRejectsInvalid(t *testing.T) {
	f := newTestFactory(t)
	base := Config{TokenMint: "MINT", Enabled: true, WalletID: "seed"}

	_, err := f.BuildForTargetVolume(decimal.Zero, []string{"w"}, "balanced", base)
	require.Error(t, err)

	_, err = f.BuildForTargetVolume(decimal.NewFromInt(10), nil, "balanced", base)
	require.Error(t, err)
}
