package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/swarm-trading/swarm/internal/bot"
	"github.com/swarm-trading/swarm/internal/errs"
	"github.com/swarm-trading/swarm/internal/pools"
	"github.com/swarm-trading/swarm/internal/queue"
	"github.com/swarm-trading/swarm/internal/randomization"
	"github.com/swarm-trading/swarm/internal/stealth"
)

// Config is the root configuration for the swarm core.
type Config struct {
	General       GeneralConfig            `yaml:"general"`
	Storage       StorageConfig            `yaml:"storage"`
	Queue         queue.Config             `yaml:"queue"`
	RateLimit     queue.RateLimitConfig    `yaml:"rate_limit"`
	Randomization randomization.Config     `yaml:"randomization"`
	Stealth       stealth.Config           `yaml:"stealth"`
	Manager       bot.ManagerConfig        `yaml:"manager"`
	Swarm         bot.SwarmSpec            `yaml:"swarm"`
	Pools         PoolsConfig              `yaml:"pools"`
	Metrics       MetricsConfig            `yaml:"metrics"`
}

type GeneralConfig struct {
	InstanceID string `yaml:"instance_id"`
	DryRun     bool   `yaml:"dry_run"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"` // json|text
}

type StorageConfig struct {
	Backend string `yaml:"backend"` // badger|memory
	Path    string `yaml:"path"`
}

type PoolsConfig struct {
	Monitor  pools.MonitorConfig  `yaml:"monitor"`
	Detector pools.DetectorConfig `yaml:"detector"`
	Feed     pools.WSFeedConfig   `yaml:"feed"`
	Tokens   []string             `yaml:"tokens"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads, env-expands, parses, and defaults a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "swarm-1"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "badger"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "./data/swarm"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Pools.Monitor.PollIntervalMs == 0 {
		cfg.Pools.Monitor = pools.DefaultMonitorConfig()
	}
	if cfg.Pools.Detector.ConfirmationWindowMs == 0 {
		cfg.Pools.Detector = pools.DefaultDetectorConfig()
	}
	if cfg.RateLimit.Burst == 0 && cfg.RateLimit.RefillPerSec == 0 {
		cfg.RateLimit = queue.DefaultRateLimitConfig()
	}
	if cfg.Randomization.JitterPct == 0 {
		cfg.Randomization = randomization.DefaultConfig()
	}
	if cfg.Stealth.WindowSize == 0 {
		cfg.Stealth = stealth.DefaultConfig()
	}
	if cfg.Manager.MaxConcurrent == 0 {
		cfg.Manager = bot.DefaultManagerConfig()
	}
}

// Validate checks cross-component invariants that Load cannot default away.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "badger", "memory":
	default:
		return errs.Validation("storage.backend", "must be badger or memory, got %q", c.Storage.Backend)
	}
	switch c.General.LogFormat {
	case "json", "text":
	default:
		return errs.Validation("general.log_format", "must be json or text, got %q", c.General.LogFormat)
	}
	if c.Swarm.Count < 0 {
		return errs.Validation("swarm.count", "must not be negative, got %d", c.Swarm.Count)
	}
	if c.Swarm.Count > 0 {
		base := c.Swarm.BaseConfig
		if base.WalletID == "" {
			return errs.Validation("swarm.base_config.wallet_id", "must be set when swarm.count > 0")
		}
		if base.TokenMint == "" {
			return errs.Validation("swarm.base_config.token_mint", "must be set when swarm.count > 0")
		}
	}
	// Dry runs poll the stub source, so no feed endpoint is needed.
	if !c.General.DryRun && c.Pools.Feed.Endpoint == "" && len(c.Pools.Tokens) > 0 {
		return errs.Validation("pools.feed.endpoint", "must be set when pool tokens are tracked")
	}
	return nil
}
