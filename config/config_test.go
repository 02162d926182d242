package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultSettings(t *testing.T) {
	cfg := Default()
	if cfg.Environment != EnvDev {
		t.Fatalf("expected dev environment, got %s", cfg.Environment)
	}
	if cfg.HTTP.ListenAddr != ":8080" {
		t.Fatalf("expected default listen address, got %s", cfg.HTTP.ListenAddr)
	}
	if cfg.Scheduler.Interval != time.Minute || cfg.Scheduler.BatchSize != 100 {
		t.Fatalf("unexpected scheduler defaults: %+v", cfg.Scheduler)
	}
	if cfg.Pipeline.TransitWindow != 72*time.Hour {
		t.Fatalf("expected 72h transit window, got %s", cfg.Pipeline.TransitWindow)
	}
	if cfg.Feed.Enabled {
		t.Fatalf("feed must be disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadFileOverlays(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker.yaml")
	content := []byte(`
environment: staging
http:
  listenAddr: ":9090"
scheduler:
  interval: 2m
  batchSize: 25
feed:
  enabled: true
  baseUrl: https://feed.test
  apiKey: key-123
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(Default(), path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Environment != EnvStaging {
		t.Fatalf("expected staging, got %s", cfg.Environment)
	}
	if cfg.HTTP.ListenAddr != ":9090" {
		t.Fatalf("expected overridden address, got %s", cfg.HTTP.ListenAddr)
	}
	if cfg.Scheduler.Interval != 2*time.Minute || cfg.Scheduler.BatchSize != 25 {
		t.Fatalf("unexpected scheduler overrides: %+v", cfg.Scheduler)
	}
	if !cfg.Feed.Enabled || cfg.Feed.BaseURL != "https://feed.test" {
		t.Fatalf("unexpected feed overrides: %+v", cfg.Feed)
	}
	if cfg.Notify.MaxAttempts != 3 {
		t.Fatalf("untouched sections keep defaults, got %+v", cfg.Notify)
	}
}

func TestLoadFileMissingPath(t *testing.T) {
	if _, err := LoadFile(Default(), filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("TRACKER_ENV", "prod")
	t.Setenv("TRACKER_DATABASE_URL", "postgres://db.test/tracker")
	t.Setenv("TRACKER_CACHE_ENDPOINT", "redis.env:6379")
	t.Setenv("TRACKER_CACHE_TTL_SECONDS", "15")
	t.Setenv("TRACKER_HTTP_ADDR", ":7070")
	t.Setenv("TRACKER_FEED_ENABLED", "true")
	t.Setenv("TRACKER_FEED_BASE_URL", "https://feed.env")
	t.Setenv("TRACKER_SCHEDULER_INTERVAL_MINUTES", "5")
	t.Setenv("TRACKER_SCHEDULER_BATCH_SIZE", "50")
	t.Setenv("TRACKER_HUB_QUEUE_CAPACITY", "128")
	t.Setenv("TRACKER_NOTIFY_MAX_ATTEMPTS", "5")
	t.Setenv("TRACKER_NOTIFY_RETRY_INITIAL_SECONDS", "1")
	t.Setenv("TRACKER_NOTIFY_RETRY_MAX_SECONDS", "10")

	cfg := FromEnv(Default())
	if cfg.Environment != EnvProd {
		t.Fatalf("expected prod, got %s", cfg.Environment)
	}
	if cfg.Database.DSN != "postgres://db.test/tracker" {
		t.Fatalf("unexpected dsn %s", cfg.Database.DSN)
	}
	if cfg.Cache.Endpoint != "redis.env:6379" || cfg.Cache.TTL != 15*time.Second {
		t.Fatalf("unexpected cache settings %+v", cfg.Cache)
	}
	if cfg.HTTP.ListenAddr != ":7070" {
		t.Fatalf("unexpected addr %s", cfg.HTTP.ListenAddr)
	}
	if !cfg.Feed.Enabled || cfg.Feed.BaseURL != "https://feed.env" {
		t.Fatalf("unexpected feed settings %+v", cfg.Feed)
	}
	if cfg.Scheduler.Interval != 5*time.Minute {
		t.Fatalf("unexpected interval %s", cfg.Scheduler.Interval)
	}
	if cfg.Scheduler.BatchSize != 50 {
		t.Fatalf("unexpected batch size %d", cfg.Scheduler.BatchSize)
	}
	if cfg.Hub.QueueCapacity != 128 {
		t.Fatalf("unexpected queue capacity %d", cfg.Hub.QueueCapacity)
	}
	if cfg.Notify.MaxAttempts != 5 || cfg.Notify.RetryInitial != time.Second || cfg.Notify.RetryMax != 10*time.Second {
		t.Fatalf("unexpected notify settings %+v", cfg.Notify)
	}
}

func TestValidateRejectsBrokenSettings(t *testing.T) {
	cfg := Default()
	cfg.Database.DSN = " "
	if err := cfg.Validate(); err == nil {
		t.Fatalf("blank dsn must fail validation")
	}

	cfg = Default()
	cfg.Feed.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatalf("enabled feed without base url must fail validation")
	}

	cfg = Default()
	cfg.Scheduler.BatchSize = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("zero batch size must fail validation")
	}

	cfg = Default()
	cfg.Cache.Endpoint = "localhost:6379"
	cfg.Cache.TTL = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("cache endpoint without ttl must fail validation")
	}
}
