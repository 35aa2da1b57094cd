package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
	APIBind string `toml:"api_bind"`
}

// Storage selects the repository backend.
type Storage struct {
	// Backend is "sqlite" (durable, default) or "memory".
	Backend string `toml:"backend"`
	// MinFreeMB is the free space the data directory must keep; 0 disables the check.
	MinFreeMB int `toml:"min_free_mb"`
}

// Signals contains the Signal Collector weighting knobs.
type Signals struct {
	DedupBucketHours      int     `toml:"dedup_bucket_hours"`
	UnknownCategoryFactor float64 `toml:"unknown_category_factor"`
	ExpertWeight          float64 `toml:"expert_weight"`
	TierSaturationSamples int     `toml:"tier_saturation_samples"`
}

// Consensus contains the weighted resolution parameters.
type Consensus struct {
	DisputeMargin       float64 `toml:"dispute_margin"`
	BoostPerAgreement   float64 `toml:"boost_per_agreement"`
	BoostCeiling        float64 `toml:"boost_ceiling"`
	RecencyHalfLifeDays float64 `toml:"recency_half_life_days"`
	MinRecencyFactor    float64 `toml:"min_recency_factor"`
	CeilingExact        float64 `toml:"ceiling_exact"`
	CeilingEntity       float64 `toml:"ceiling_entity"`
	CeilingCommunity    float64 `toml:"ceiling_community"`
	MaxConfidence       float64 `toml:"max_confidence"`
	EscalateAfterCycles int     `toml:"escalate_after_cycles"`
	MaxRetries          int     `toml:"max_retries"`
}

// Reputation contains contributor trust parameters.
type Reputation struct {
	Window               int     `toml:"window"`
	MinVotes             int     `toml:"min_votes"`
	MonitoredBelow       float64 `toml:"monitored_below"`
	SuspectBelow         float64 `toml:"suspect_below"`
	IgnoreBelow          float64 `toml:"ignore_below"`
	StabilityWindowHours int     `toml:"stability_window_hours"`
	// Dimensionality is "per_domain" or "global".
	Dimensionality       string `toml:"dimensionality"`
	SweepIntervalMinutes int    `toml:"sweep_interval_minutes"`
}

// Discovery contains Pattern Discovery batch parameters.
type Discovery struct {
	IntervalMinutes      int     `toml:"interval_minutes"`
	MinSamples           int     `toml:"min_samples"`
	VeryStrong           float64 `toml:"very_strong"`
	Strong               float64 `toml:"strong"`
	Moderate             float64 `toml:"moderate"`
	StaleAfterDays       int     `toml:"stale_after_days"`
	StaleDecay           float64 `toml:"stale_decay"`
	StalePeriodDays      int     `toml:"stale_period_days"`
	ContradictionDecay   float64 `toml:"contradiction_decay"`
	StableDays           int     `toml:"stable_days"`
	CrossValidationBoost float64 `toml:"cross_validation_boost"`
}

// API contains Downstream Consumer API settings.
type API struct {
	ConfidenceFloor  float64 `toml:"confidence_floor"`
	BatchLimit       int     `toml:"batch_limit"`
	BatchConcurrency int     `toml:"batch_concurrency"`
	// Token, when set, is required as a bearer token on write endpoints.
	Token string `toml:"token"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for cratemind.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and API bind address
//   - Storage: repository backend selection
//   - Signals: collector tier weights and dedup bucket
//   - Consensus: weighting, dispute and escalation parameters
//   - Reputation: rolling accuracy window and penalty thresholds
//   - Discovery: pattern mining thresholds and decay policy
//   - API: consumer confidence floor and batch limits
//   - Logging: log format and level
type Config struct {
	Paths      Paths      `toml:"paths"`
	Storage    Storage    `toml:"storage"`
	Signals    Signals    `toml:"signals"`
	Consensus  Consensus  `toml:"consensus"`
	Reputation Reputation `toml:"reputation"`
	Discovery  Discovery  `toml:"discovery"`
	API        API        `toml:"api"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("cratemind.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon and CLI operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "cratemind.db")
}

// DiscoveryLockPath returns the lock file guarding discovery runs.
func (c *Config) DiscoveryLockPath() string {
	return filepath.Join(c.Paths.DataDir, "discovery.lock")
}

// DaemonLockPath returns the lock file guarding single daemon execution.
func (c *Config) DaemonLockPath() string {
	return filepath.Join(c.Paths.DataDir, "cratemindd.lock")
}

// DedupBucket returns the signal dedup time bucket.
func (c *Config) DedupBucket() time.Duration {
	return time.Duration(c.Signals.DedupBucketHours) * time.Hour
}

// StabilityWindow returns how long a result must stay unchanged before votes are scored.
func (c *Config) StabilityWindow() time.Duration {
	return time.Duration(c.Reputation.StabilityWindowHours) * time.Hour
}

// DiscoveryInterval returns the scheduling period for discovery runs.
func (c *Config) DiscoveryInterval() time.Duration {
	return time.Duration(c.Discovery.IntervalMinutes) * time.Minute
}

// SweepInterval returns the scheduling period for reputation sweeps.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Reputation.SweepIntervalMinutes) * time.Minute
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the effective configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
