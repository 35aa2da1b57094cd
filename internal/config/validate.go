package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateSignals(); err != nil {
		return err
	}
	if err := c.validateConsensus(); err != nil {
		return err
	}
	if err := c.validateReputation(); err != nil {
		return err
	}
	if err := c.validateDiscovery(); err != nil {
		return err
	}
	if err := c.validateAPI(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageSQLite, StorageMemory:
	default:
		return fmt.Errorf("storage.backend must be %q or %q, got %q", StorageSQLite, StorageMemory, c.Storage.Backend)
	}
	if c.Storage.MinFreeMB < 0 {
		return errors.New("storage.min_free_mb must be >= 0")
	}
	return nil
}

func (c *Config) validateSignals() error {
	if c.Signals.DedupBucketHours <= 0 {
		return errors.New("signals.dedup_bucket_hours must be positive")
	}
	if err := ensureUnit("signals.unknown_category_factor", c.Signals.UnknownCategoryFactor); err != nil {
		return err
	}
	if c.Signals.ExpertWeight <= 0 {
		return errors.New("signals.expert_weight must be positive")
	}
	if c.Signals.TierSaturationSamples <= 0 {
		return errors.New("signals.tier_saturation_samples must be positive")
	}
	return nil
}

func (c *Config) validateConsensus() error {
	cfg := c.Consensus
	for name, value := range map[string]float64{
		"consensus.dispute_margin":     cfg.DisputeMargin,
		"consensus.min_recency_factor": cfg.MinRecencyFactor,
		"consensus.ceiling_exact":      cfg.CeilingExact,
		"consensus.ceiling_entity":     cfg.CeilingEntity,
		"consensus.ceiling_community":  cfg.CeilingCommunity,
		"consensus.max_confidence":     cfg.MaxConfidence,
	} {
		if err := ensureUnit(name, value); err != nil {
			return err
		}
	}
	if cfg.BoostPerAgreement < 0 {
		return errors.New("consensus.boost_per_agreement must be >= 0")
	}
	if cfg.BoostCeiling < 1 {
		return errors.New("consensus.boost_ceiling must be >= 1")
	}
	if cfg.RecencyHalfLifeDays <= 0 {
		return errors.New("consensus.recency_half_life_days must be positive")
	}
	if cfg.MaxConfidence < cfg.CeilingExact {
		return errors.New("consensus.max_confidence must be >= consensus.ceiling_exact")
	}
	if cfg.EscalateAfterCycles <= 0 {
		return errors.New("consensus.escalate_after_cycles must be positive")
	}
	if cfg.MaxRetries <= 0 {
		return errors.New("consensus.max_retries must be positive")
	}
	return nil
}

func (c *Config) validateReputation() error {
	cfg := c.Reputation
	if cfg.Window <= 0 {
		return errors.New("reputation.window must be positive")
	}
	if cfg.MinVotes <= 0 || cfg.MinVotes > cfg.Window {
		return errors.New("reputation.min_votes must be between 1 and reputation.window")
	}
	for name, value := range map[string]float64{
		"reputation.monitored_below": cfg.MonitoredBelow,
		"reputation.suspect_below":   cfg.SuspectBelow,
		"reputation.ignore_below":    cfg.IgnoreBelow,
	} {
		if err := ensureUnit(name, value); err != nil {
			return err
		}
	}
	if !(cfg.IgnoreBelow <= cfg.SuspectBelow && cfg.SuspectBelow <= cfg.MonitoredBelow) {
		return errors.New("reputation thresholds must satisfy ignore_below <= suspect_below <= monitored_below")
	}
	if cfg.StabilityWindowHours < 0 {
		return errors.New("reputation.stability_window_hours must be >= 0")
	}
	if cfg.SweepIntervalMinutes <= 0 {
		return errors.New("reputation.sweep_interval_minutes must be positive")
	}
	switch cfg.Dimensionality {
	case DimensionPerDomain, DimensionGlobal:
	default:
		return fmt.Errorf("reputation.dimensionality must be %q or %q", DimensionPerDomain, DimensionGlobal)
	}
	return nil
}

func (c *Config) validateDiscovery() error {
	cfg := c.Discovery
	if cfg.IntervalMinutes <= 0 {
		return errors.New("discovery.interval_minutes must be positive")
	}
	if cfg.MinSamples <= 0 {
		return errors.New("discovery.min_samples must be positive")
	}
	for name, value := range map[string]float64{
		"discovery.very_strong":         cfg.VeryStrong,
		"discovery.strong":              cfg.Strong,
		"discovery.moderate":            cfg.Moderate,
		"discovery.stale_decay":         cfg.StaleDecay,
		"discovery.contradiction_decay": cfg.ContradictionDecay,
	} {
		if err := ensureUnit(name, value); err != nil {
			return err
		}
	}
	if !(cfg.Moderate <= cfg.Strong && cfg.Strong <= cfg.VeryStrong) {
		return errors.New("discovery thresholds must satisfy moderate <= strong <= very_strong")
	}
	if cfg.StaleAfterDays <= 0 || cfg.StalePeriodDays <= 0 {
		return errors.New("discovery.stale_after_days and discovery.stale_period_days must be positive")
	}
	if cfg.StableDays < 0 {
		return errors.New("discovery.stable_days must be >= 0")
	}
	if cfg.CrossValidationBoost < 1 {
		return errors.New("discovery.cross_validation_boost must be >= 1")
	}
	return nil
}

func (c *Config) validateAPI() error {
	if err := ensureUnit("api.confidence_floor", c.API.ConfidenceFloor); err != nil {
		return err
	}
	if c.API.BatchLimit <= 0 {
		return errors.New("api.batch_limit must be positive")
	}
	if c.API.BatchConcurrency <= 0 {
		return errors.New("api.batch_concurrency must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}

func ensureUnit(name string, value float64) error {
	if value < 0 || value > 1 {
		return fmt.Errorf("%s must be between 0 and 1", name)
	}
	return nil
}
