package signals

import (
	"cratemind/internal/config"
	"cratemind/internal/store"
)

const (
	exactMatchWeight     = 100.0
	seedWeight           = 10.0
	communityMin         = 20.0
	communityMax         = 40.0
	communityDefault     = 30.0
	weakHeuristicMin     = 5.0
	weakHeuristicMax     = 15.0
	weakHeuristicDefault = 10.0
)

// EntityWeight is the entity_pattern tier weight for a strength. Unknown or
// missing strengths count as moderate.
func EntityWeight(strength store.PatternStrength) float64 {
	switch strength {
	case store.StrengthVeryStrong:
		return 85
	case store.StrengthStrong:
		return 80
	default:
		return 75
	}
}

// BaseWeight returns the tier weight of a signal before the unknown-category
// factor is applied.
func BaseWeight(cfg config.Signals, source store.SourceType, strength store.PatternStrength, sampleSize int) float64 {
	switch source {
	case store.SourceExactMatch:
		return exactMatchWeight
	case store.SourceEntityPattern:
		return EntityWeight(strength)
	case store.SourceCommunityPattern:
		return interpolate(communityMin, communityMax, communityDefault, sampleSize, cfg.TierSaturationSamples)
	case store.SourceWeakHeuristic:
		return interpolate(weakHeuristicMin, weakHeuristicMax, weakHeuristicDefault, sampleSize, cfg.TierSaturationSamples)
	case store.SourceSeed:
		return seedWeight
	case store.SourceExpertOverride:
		return cfg.ExpertWeight
	default:
		return 0
	}
}

func interpolate(lo, hi, fallback float64, samples, saturation int) float64 {
	if samples <= 0 || saturation <= 0 {
		return fallback
	}
	if samples >= saturation {
		return hi
	}
	return lo + (hi-lo)*float64(samples)/float64(saturation)
}
