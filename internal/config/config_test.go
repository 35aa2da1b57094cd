package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"cratemind/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "cratemind")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.DatabasePath() != filepath.Join(wantData, "cratemind.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
	if cfg.Consensus.DisputeMargin != 0.15 {
		t.Fatalf("unexpected dispute margin: %v", cfg.Consensus.DisputeMargin)
	}
	if cfg.Reputation.Dimensionality != config.DimensionPerDomain {
		t.Fatalf("unexpected dimensionality: %q", cfg.Reputation.Dimensionality)
	}
}

func TestLoadCustomConfigOverridesTunables(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	payload := map[string]any{
		"paths": map[string]any{
			"data_dir": filepath.Join(dir, "data"),
		},
		"storage": map[string]any{
			"backend": "Memory",
		},
		"consensus": map[string]any{
			"dispute_margin": 0.2,
		},
		"discovery": map[string]any{
			"stale_decay":         0.07,
			"contradiction_decay": 0.12,
		},
		"reputation": map[string]any{
			"dimensionality": "GLOBAL",
		},
	}
	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected config at %q, got %q (exists=%v)", path, resolved, exists)
	}
	if cfg.Storage.Backend != config.StorageMemory {
		t.Fatalf("expected memory backend, got %q", cfg.Storage.Backend)
	}
	if cfg.Consensus.DisputeMargin != 0.2 {
		t.Fatalf("expected dispute margin override, got %v", cfg.Consensus.DisputeMargin)
	}
	if cfg.Discovery.StaleDecay != 0.07 || cfg.Discovery.ContradictionDecay != 0.12 {
		t.Fatalf("expected decay overrides, got %+v", cfg.Discovery)
	}
	if cfg.Reputation.Dimensionality != config.DimensionGlobal {
		t.Fatalf("expected global dimensionality, got %q", cfg.Reputation.Dimensionality)
	}
	if cfg.Discovery.MinSamples != 10 {
		t.Fatalf("expected untouched default min_samples, got %d", cfg.Discovery.MinSamples)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[consensus]\nmystery = 1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"backend", func(c *config.Config) { c.Storage.Backend = "postgres" }, "storage.backend"},
		{"dispute margin", func(c *config.Config) { c.Consensus.DisputeMargin = 1.5 }, "consensus.dispute_margin"},
		{"threshold order", func(c *config.Config) { c.Reputation.IgnoreBelow = 0.5 }, "ignore_below"},
		{"strength order", func(c *config.Config) { c.Discovery.Strong = 0.95 }, "moderate <= strong"},
		{"boost", func(c *config.Config) { c.Discovery.CrossValidationBoost = 0.5 }, "cross_validation_boost"},
		{"floor", func(c *config.Config) { c.API.ConfidenceFloor = -0.1 }, "api.confidence_floor"},
		{"dimension", func(c *config.Config) { c.Reputation.Dimensionality = "team" }, "dimensionality"},
		{"log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"free space", func(c *config.Config) { c.Storage.MinFreeMB = -1 }, "storage.min_free_mb"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	def := config.Default()
	if cfg.Consensus != def.Consensus {
		t.Fatalf("sample consensus section drifted from defaults: %+v", cfg.Consensus)
	}
	if cfg.Discovery != def.Discovery {
		t.Fatalf("sample discovery section drifted from defaults: %+v", cfg.Discovery)
	}
	if cfg.Storage != def.Storage {
		t.Fatalf("sample storage section drifted from defaults: %+v", cfg.Storage)
	}
}
