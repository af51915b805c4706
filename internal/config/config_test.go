package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected server address %q", cfg.Server.Address)
	}
	if cfg.Signal.TargetLength != 1000 || cfg.Signal.TargetSamplingRateHz != 100 {
		t.Fatalf("unexpected signal grid: %+v", cfg.Signal)
	}
	if len(cfg.Model.Classes) != 5 || cfg.Model.Classes[0] != "NORM" {
		t.Fatalf("unexpected class set: %v", cfg.Model.Classes)
	}
	if got := cfg.Demographics.EncodedLength(); got != 14 {
		t.Fatalf("default encoding width %d, expected 14", got)
	}
	if cfg.Demographics.SexVocabulary[len(cfg.Demographics.SexVocabulary)-1] != "unknown" {
		t.Fatal("sex vocabulary must end in the reserved unknown entry")
	}
	if cfg.Demographics.RhythmVocabulary[len(cfg.Demographics.RhythmVocabulary)-1] != "unknown" {
		t.Fatal("rhythm vocabulary must end in the reserved unknown entry")
	}
	if !cfg.Cache.Enabled || cfg.Cache.AttributionTTL.Std() != 10*time.Minute {
		t.Fatalf("unexpected cache defaults: %+v", cfg.Cache)
	}
	if cfg.Server.RateLimitPerMinute != 60 {
		t.Fatalf("unexpected default rate limit %d", cfg.Server.RateLimitPerMinute)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	content := `
server:
  address: ":9999"
  gracefulTimeout: 30s
signal:
  targetLength: 500
robustness:
  maxParallel: 8
cache:
  attributionTTL: 5m
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Address != ":9999" {
		t.Fatalf("file override lost: %q", cfg.Server.Address)
	}
	if cfg.Signal.TargetLength != 500 {
		t.Fatalf("file override lost: %d", cfg.Signal.TargetLength)
	}
	if cfg.Robustness.MaxParallel != 8 {
		t.Fatalf("file override lost: %d", cfg.Robustness.MaxParallel)
	}
	if cfg.Server.GracefulTimeout.Std() != 30*time.Second {
		t.Fatalf("graceful timeout not parsed from file: %v", cfg.Server.GracefulTimeout.Std())
	}
	if cfg.Cache.AttributionTTL.Std() != 5*time.Minute {
		t.Fatalf("attribution TTL not parsed from file: %v", cfg.Cache.AttributionTTL.Std())
	}
	// Untouched sections keep their defaults.
	if cfg.Server.MetricsAddress != ":2112" {
		t.Fatalf("default metrics address lost: %q", cfg.Server.MetricsAddress)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("explicitly named missing config should fail")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ECG_ENGINE_SERVER_ADDRESS", ":7777")
	t.Setenv("ECG_ENGINE_MODEL_PATH", "/models/alt.json")
	t.Setenv("ECG_ENGINE_LOG_LEVEL", "debug")
	t.Setenv("ECG_ENGINE_LOG_FORMAT", "json")
	t.Setenv("ECG_ENGINE_CACHE_ENABLED", "false")
	t.Setenv("ECG_ENGINE_CACHE_TTL", "30s")
	t.Setenv("ECG_ENGINE_ROBUSTNESS_PARALLEL", "16")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Address != ":7777" {
		t.Fatalf("env override lost: %q", cfg.Server.Address)
	}
	if cfg.Model.Path != "/models/alt.json" {
		t.Fatalf("env override lost: %q", cfg.Model.Path)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.JSON {
		t.Fatalf("env override lost: %+v", cfg.Logging)
	}
	if cfg.Cache.Enabled {
		t.Fatal("cache should be disabled by env override")
	}
	if cfg.Cache.AttributionTTL.Std() != 30*time.Second {
		t.Fatalf("env override lost: %v", cfg.Cache.AttributionTTL.Std())
	}
	if cfg.Robustness.MaxParallel != 16 {
		t.Fatalf("env override lost: %d", cfg.Robustness.MaxParallel)
	}
}

func TestEnvOverridesIgnoreMalformedValues(t *testing.T) {
	t.Setenv("ECG_ENGINE_CACHE_TTL", "soon")
	t.Setenv("ECG_ENGINE_ROBUSTNESS_PARALLEL", "-3")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Cache.AttributionTTL.Std() != 10*time.Minute {
		t.Fatalf("malformed TTL should keep the default, got %v", cfg.Cache.AttributionTTL.Std())
	}
	if cfg.Robustness.MaxParallel != 4 {
		t.Fatalf("non-positive parallelism should keep the default, got %d", cfg.Robustness.MaxParallel)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	content := `
server:
  gracefulTimeout: soon
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("unparseable duration should fail the load")
	}
}
