package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spf13/viper"

	apisrv "github.com/compose-network/rootchain/server/api"
	"github.com/compose-network/rootchain/x/oracle"
	"github.com/compose-network/rootchain/x/rootchain"
)

// Config holds the complete application configuration
type Config struct {
	API       apisrv.Config    `mapstructure:"api"       yaml:"api"`
	Metrics   MetricsConfig    `mapstructure:"metrics"   yaml:"metrics"`
	Log       LogConfig        `mapstructure:"log"       yaml:"log"`
	Rootchain rootchain.Config `mapstructure:"rootchain" yaml:"rootchain"`
	Oracle    oracle.Config    `mapstructure:"oracle"    yaml:"oracle"`
	Assets    AssetsConfig     `mapstructure:"assets"    yaml:"assets"`
	Journal   JournalConfig    `mapstructure:"journal"   yaml:"journal"`
	Finalizer FinalizerConfig  `mapstructure:"finalizer" yaml:"finalizer"`
}

// MetricsConfig holds metrics configuration. Metrics are served by the API
// server under Path.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" env:"METRICS_ENABLED"`
	Path    string `mapstructure:"path"    yaml:"path"    env:"METRICS_PATH"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"  env:"LOG_LEVEL"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty" env:"LOG_PRETTY"`
}

// AssetsConfig lists the token contracts accepted besides the native asset
// and optional opening balances.
type AssetsConfig struct {
	Tokens   []string        `mapstructure:"tokens"   yaml:"tokens"`
	Balances []BalanceConfig `mapstructure:"balances" yaml:"balances"`
}

// BalanceConfig credits Amount wei of Asset to Account at startup. An empty
// Asset means the native asset.
type BalanceConfig struct {
	Asset   string `mapstructure:"asset"   yaml:"asset"`
	Account string `mapstructure:"account" yaml:"account"`
	Amount  string `mapstructure:"amount"  yaml:"amount"`
}

// JournalConfig selects the event journal. An empty Path keeps events in
// memory only.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// FinalizerConfig holds the finalization poller settings.
type FinalizerConfig struct {
	Enabled            bool          `mapstructure:"enabled"               yaml:"enabled"`
	Interval           time.Duration `mapstructure:"interval"              yaml:"interval"`
	MaxRequestsPerTick int           `mapstructure:"max_requests_per_tick" yaml:"max_requests_per_tick"`
}

// Load loads configuration from file and environment. An empty path uses
// defaults and environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("ROOTCHAIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	def := Default()

	v.SetDefault("api.listen_addr", def.API.ListenAddr)
	v.SetDefault("api.read_header_timeout", def.API.ReadHeaderTimeout)
	v.SetDefault("api.read_timeout", def.API.ReadTimeout)
	v.SetDefault("api.write_timeout", def.API.WriteTimeout)
	v.SetDefault("api.idle_timeout", def.API.IdleTimeout)
	v.SetDefault("api.max_header_bytes", def.API.MaxHeaderBytes)
	v.SetDefault("api.enable_cors", false)
	v.SetDefault("api.quiet_paths", def.API.QuietPaths)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("rootchain.nre_length", def.Rootchain.NRELength)
	v.SetDefault("rootchain.max_requests", def.Rootchain.MaxRequests)
	v.SetDefault("rootchain.withholding_period", def.Rootchain.WithholdingPeriod)
	v.SetDefault("rootchain.exit_period", def.Rootchain.ExitPeriod)
	v.SetDefault("rootchain.operator", "")
	v.SetDefault("rootchain.genesis_state_root", "")
	v.SetDefault("rootchain.bonds.nrb", def.Rootchain.Bonds.NRB)
	v.SetDefault("rootchain.bonds.orb", def.Rootchain.Bonds.ORB)
	v.SetDefault("rootchain.bonds.urb", def.Rootchain.Bonds.URB)
	v.SetDefault("rootchain.bonds.urb_prepare", def.Rootchain.Bonds.URBPrepare)
	v.SetDefault("rootchain.bonds.ero", def.Rootchain.Bonds.ERO)
	v.SetDefault("rootchain.bonds.eru", def.Rootchain.Bonds.ERU)

	v.SetDefault("oracle.balance_slot", def.Oracle.BalanceSlot)
	v.SetDefault("oracle.key_cache_size", def.Oracle.KeyCacheSize)

	v.SetDefault("assets.tokens", []string{})
	v.SetDefault("assets.balances", []map[string]string{})

	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.path", "")

	v.SetDefault("finalizer.enabled", true)
	v.SetDefault("finalizer.interval", def.Finalizer.Interval)
	v.SetDefault("finalizer.max_requests_per_tick", def.Finalizer.MaxRequestsPerTick)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.API.Validate(); err != nil {
		return err
	}
	if err := c.Rootchain.Validate(); err != nil {
		return fmt.Errorf("rootchain: %w", err)
	}
	if err := c.validateMetrics(); err != nil {
		return err
	}
	if err := c.validateAssets(); err != nil {
		return err
	}
	return c.validateFinalizer()
}

func (c *Config) validateMetrics() error {
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/', got %q", c.Metrics.Path)
	}
	return nil
}

func (c *Config) validateAssets() error {
	for _, t := range c.Assets.Tokens {
		if !common.IsHexAddress(t) {
			return fmt.Errorf("assets.tokens: invalid address %q", t)
		}
	}
	for i, b := range c.Assets.Balances {
		if b.Asset != "" && !common.IsHexAddress(b.Asset) {
			return fmt.Errorf("assets.balances[%d].asset: invalid address %q", i, b.Asset)
		}
		if !common.IsHexAddress(b.Account) {
			return fmt.Errorf("assets.balances[%d].account: invalid address %q", i, b.Account)
		}
		if _, err := uint256.FromDecimal(b.Amount); err != nil {
			return fmt.Errorf("assets.balances[%d].amount: %w", i, err)
		}
	}
	return nil
}

func (c *Config) validateFinalizer() error {
	if !c.Finalizer.Enabled {
		return nil
	}
	if c.Finalizer.Interval <= 0 {
		return fmt.Errorf("finalizer.interval must be positive")
	}
	if c.Finalizer.MaxRequestsPerTick < 0 {
		return fmt.Errorf("finalizer.max_requests_per_tick must not be negative")
	}
	return nil
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		API: apisrv.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level: "info",
		},
		Rootchain: rootchain.DefaultConfig(),
		Oracle:    oracle.DefaultConfig(),
		Journal: JournalConfig{
			Enabled: true,
		},
		Finalizer: FinalizerConfig{
			Enabled:            true,
			Interval:           2 * time.Second,
			MaxRequestsPerTick: 256,
		},
	}
}
