package config

const (
	defaultConfigPath = "~/.config/cratemind/config.toml"
	defaultDataDir    = "~/.local/share/cratemind"
	defaultLogDir     = "~/.local/share/cratemind/logs"
	defaultAPIBind    = "127.0.0.1:7590"
	defaultLogFormat  = "console"
	defaultLogLevel   = "info"

	// StorageSQLite persists everything in a single SQLite database.
	StorageSQLite = "sqlite"
	// StorageMemory keeps everything in process memory (tests, dry runs).
	StorageMemory = "memory"

	// DimensionPerDomain tracks contributor accuracy per category domain.
	DimensionPerDomain = "per_domain"
	// DimensionGlobal tracks a single accuracy figure per contributor.
	DimensionGlobal = "global"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Storage: Storage{
			Backend:   StorageSQLite,
			MinFreeMB: 256,
		},
		Signals: Signals{
			DedupBucketHours:      24,
			UnknownCategoryFactor: 0.1,
			ExpertWeight:          1000,
			TierSaturationSamples: 50,
		},
		Consensus: Consensus{
			DisputeMargin:       0.15,
			BoostPerAgreement:   0.25,
			BoostCeiling:        2.0,
			RecencyHalfLifeDays: 365,
			MinRecencyFactor:    0.01,
			CeilingExact:        0.98,
			CeilingEntity:       0.95,
			CeilingCommunity:    0.90,
			MaxConfidence:       0.99,
			EscalateAfterCycles: 3,
			MaxRetries:          5,
		},
		Reputation: Reputation{
			Window:               50,
			MinVotes:             10,
			MonitoredBelow:       0.30,
			SuspectBelow:         0.20,
			IgnoreBelow:          0.15,
			StabilityWindowHours: 72,
			Dimensionality:       DimensionPerDomain,
			SweepIntervalMinutes: 15,
		},
		Discovery: Discovery{
			IntervalMinutes:      120,
			MinSamples:           10,
			VeryStrong:           0.90,
			Strong:               0.75,
			Moderate:             0.60,
			StaleAfterDays:       90,
			StaleDecay:           0.05,
			StalePeriodDays:      30,
			ContradictionDecay:   0.10,
			StableDays:           30,
			CrossValidationBoost: 1.5,
		},
		API: API{
			ConfidenceFloor:  0.5,
			BatchLimit:       500,
			BatchConcurrency: 8,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
