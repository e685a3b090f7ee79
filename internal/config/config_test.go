package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Database.Path != "./btcpulse.db" {
		t.Errorf("db path = %s", cfg.Database.Path)
	}
	if cfg.Schedule.ParseCollectInterval() != 15*time.Minute {
		t.Errorf("collect interval = %s", cfg.Schedule.ParseCollectInterval())
	}
	if cfg.Schedule.ParseScoreInterval() != time.Hour {
		t.Errorf("score interval = %s", cfg.Schedule.ParseScoreInterval())
	}
	if !cfg.Sources.Mempool.Enabled || cfg.Sources.Mempool.BaseURL == "" {
		t.Errorf("mempool source = %+v", cfg.Sources.Mempool)
	}
	if cfg.Scoring.WindowDays != 365 || cfg.Scoring.FallbackDays != 90 || cfg.Scoring.MinSamples != 30 {
		t.Errorf("scoring = %+v", cfg.Scoring)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
database:
  path: /var/lib/btcpulse/data.db
schedule:
  collect_interval: 5m
  score_interval: 30m
sources:
  bitnodes:
    enabled: false
scoring:
  min_samples: 10
server:
  port: 9090
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Path != "/var/lib/btcpulse/data.db" {
		t.Errorf("db path = %s", cfg.Database.Path)
	}
	if cfg.Schedule.ParseCollectInterval() != 5*time.Minute {
		t.Errorf("collect interval = %s", cfg.Schedule.ParseCollectInterval())
	}
	if cfg.Sources.Bitnodes.Enabled {
		t.Error("bitnodes still enabled")
	}
	// Untouched sections keep their defaults.
	if !cfg.Sources.Mempool.Enabled {
		t.Error("mempool default lost")
	}
	if cfg.Scoring.MinSamples != 10 || cfg.Scoring.WindowDays != 365 {
		t.Errorf("scoring = %+v", cfg.Scoring)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("no error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BTCPULSE_DB_PATH", "/tmp/override.db")
	t.Setenv("MEMPOOL_API_BASE", "http://localhost:4000/api")
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.slack.example/T123")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Path != "/tmp/override.db" {
		t.Errorf("db path = %s", cfg.Database.Path)
	}
	if cfg.Sources.Mempool.BaseURL != "http://localhost:4000/api" {
		t.Errorf("mempool base = %s", cfg.Sources.Mempool.BaseURL)
	}
	if !cfg.Alerts.Slack.Enabled || cfg.Alerts.Slack.WebhookURL != "https://hooks.slack.example/T123" {
		t.Errorf("slack = %+v", cfg.Alerts.Slack)
	}
}

func TestBadIntervalFallsBack(t *testing.T) {
	s := ScheduleConfig{CollectInterval: "often", ScoreInterval: ""}
	if s.ParseCollectInterval() != 15*time.Minute {
		t.Errorf("collect fallback = %s", s.ParseCollectInterval())
	}
	if s.ParseScoreInterval() != time.Hour {
		t.Errorf("score fallback = %s", s.ParseScoreInterval())
	}
}
