package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Sources  SourcesConfig  `yaml:"sources"`
	Scoring  ScoringConfig  `yaml:"scoring"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Server   ServerConfig   `yaml:"server"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ScheduleConfig configures collection and scoring intervals.
type ScheduleConfig struct {
	CollectInterval string `yaml:"collect_interval"`
	ScoreInterval   string `yaml:"score_interval"`
}

// ParseCollectInterval returns the collect interval as time.Duration.
func (s ScheduleConfig) ParseCollectInterval() time.Duration {
	d, err := time.ParseDuration(s.CollectInterval)
	if err != nil {
		return 15 * time.Minute
	}
	return d
}

// ParseScoreInterval returns the scoring interval as time.Duration.
func (s ScheduleConfig) ParseScoreInterval() time.Duration {
	d, err := time.ParseDuration(s.ScoreInterval)
	if err != nil {
		return time.Hour
	}
	return d
}

// SourcesConfig holds configuration for all data sources.
type SourcesConfig struct {
	Mempool     SourceConfig `yaml:"mempool"`
	Bitnodes    SourceConfig `yaml:"bitnodes"`
	CoinGecko   SourceConfig `yaml:"coingecko"`
	Blockchain  SourceConfig `yaml:"blockchain"`
	ForkMonitor SourceConfig `yaml:"forkmonitor"`
}

// SourceConfig for a single collector.
type SourceConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
}

// ScoringConfig configures the percentile windows.
type ScoringConfig struct {
	WindowDays   int `yaml:"window_days"`
	FallbackDays int `yaml:"fallback_days"`
	MinSamples   int `yaml:"min_samples"`
}

// AlertsConfig configures alert destinations and thresholds.
type AlertsConfig struct {
	Slack      SlackConfig   `yaml:"slack"`
	Discord    DiscordConfig `yaml:"discord"`
	Webhook    WebhookConfig `yaml:"webhook"`
	ScoreFloor float64       `yaml:"score_floor"`
	ScoreDrop  float64       `yaml:"score_drop"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./btcpulse.db"},
		Schedule: ScheduleConfig{
			CollectInterval: "15m",
			ScoreInterval:   "1h",
		},
		Sources: SourcesConfig{
			Mempool:     SourceConfig{Enabled: true, BaseURL: "https://mempool.space/api"},
			Bitnodes:    SourceConfig{Enabled: true, BaseURL: "https://bitnodes.io/api/v1"},
			CoinGecko:   SourceConfig{Enabled: true, BaseURL: "https://api.coingecko.com/api/v3"},
			Blockchain:  SourceConfig{Enabled: true, BaseURL: "https://api.blockchain.info/charts"},
			ForkMonitor: SourceConfig{Enabled: true, BaseURL: "https://forkmonitor.info"},
		},
		Scoring: ScoringConfig{
			WindowDays:   365,
			FallbackDays: 90,
			MinSamples:   30,
		},
		Alerts: AlertsConfig{
			ScoreFloor: 40,
			ScoreDrop:  10,
		},
		Server: ServerConfig{Port: 8080},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BTCPULSE_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("MEMPOOL_API_BASE"); v != "" {
		cfg.Sources.Mempool.BaseURL = v
	}
	if v := os.Getenv("BITNODES_API_BASE"); v != "" {
		cfg.Sources.Bitnodes.BaseURL = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
}
