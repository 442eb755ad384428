// Package config provides configuration management for the trading console.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Storage    StorageConfig    `mapstructure:"storage"`
	MarketData MarketDataConfig `mapstructure:"market_data"`
	Candles    CandlesConfig    `mapstructure:"candles"`
	Evaluator  EvaluatorConfig  `mapstructure:"evaluator"`
	Recon      ReconConfig      `mapstructure:"recon"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// StorageConfig holds relational store configuration.
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// MarketDataConfig holds remote market-data provider configuration.
type MarketDataConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Category string        `mapstructure:"category"` // spot, linear
	Timeout  time.Duration `mapstructure:"timeout"`
}

// CandlesConfig holds candle cache configuration.
type CandlesConfig struct {
	FetchLimit        int `mapstructure:"fetch_limit"`
	GapToleranceSteps int `mapstructure:"gap_tolerance_steps"`
}

// EvaluatorConfig holds the strategy exit evaluator subprocess configuration.
type EvaluatorConfig struct {
	Command string        `mapstructure:"command"`
	Args    []string      `mapstructure:"args"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ReconConfig holds reconciliation pass configuration.
type ReconConfig struct {
	MaxParallel int            `mapstructure:"max_parallel"`
	MaxBars     []MaxBarsEntry `mapstructure:"max_bars"`
}

// MaxBarsEntry caps how long a trade may remain in a phase, in bars.
// An absent (timeframe, phase, kind) combination disables the check for
// that combination; there is no implicit default threshold.
type MaxBarsEntry struct {
	Timeframe string `mapstructure:"timeframe"`
	Phase     string `mapstructure:"phase"` // pending_fill, filled
	Kind      string `mapstructure:"kind"`  // price, spread
	Bars      int    `mapstructure:"bars"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/botdesk"
	}
	return filepath.Join(home, ".config", "botdesk")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config.toml: %w", err)
		}
		// No config file is fine, run on defaults.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("storage.db_path", filepath.Join(configDir, "botdesk.db"))
	v.SetDefault("market_data.base_url", "https://api.bybit.com")
	v.SetDefault("market_data.category", "linear")
	v.SetDefault("market_data.timeout", 5*time.Second)
	v.SetDefault("candles.fetch_limit", 200)
	v.SetDefault("candles.gap_tolerance_steps", 0)
	v.SetDefault("evaluator.timeout", 30*time.Second)
	v.SetDefault("recon.max_parallel", 4)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.file_path", filepath.Join(configDir, "logs", "botdesk.log"))
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age", 30)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BOTDESK_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("BOTDESK_MARKET_DATA_URL"); v != "" {
		cfg.MarketData.BaseURL = v
	}
	if v := os.Getenv("BOTDESK_EVALUATOR_COMMAND"); v != "" {
		cfg.Evaluator.Command = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.MarketData.Timeout <= 0 {
		return fmt.Errorf("market_data.timeout must be positive")
	}
	if c.Evaluator.Timeout <= 0 {
		return fmt.Errorf("evaluator.timeout must be positive")
	}
	if c.Candles.FetchLimit <= 0 {
		return fmt.Errorf("candles.fetch_limit must be positive")
	}
	if c.Candles.GapToleranceSteps < 0 {
		return fmt.Errorf("candles.gap_tolerance_steps must be non-negative")
	}
	if c.Recon.MaxParallel <= 0 {
		return fmt.Errorf("recon.max_parallel must be positive")
	}
	for _, e := range c.Recon.MaxBars {
		if e.Bars <= 0 {
			return fmt.Errorf("recon.max_bars entry for %s/%s/%s: bars must be positive", e.Timeframe, e.Phase, e.Kind)
		}
		if e.Phase != "pending_fill" && e.Phase != "filled" {
			return fmt.Errorf("recon.max_bars entry for %s: phase must be pending_fill or filled", e.Timeframe)
		}
		if e.Kind != "price" && e.Kind != "spread" {
			return fmt.Errorf("recon.max_bars entry for %s: kind must be price or spread", e.Timeframe)
		}
	}
	return nil
}
