package profiles

import (
	"math"
	"time"

	"cratemind/internal/config"
	"cratemind/internal/store"
)

const day = 24 * time.Hour

// Policy holds the consumption-time decay and trust parameters.
type Policy struct {
	StaleAfter           time.Duration
	StalePeriod          time.Duration
	StaleDecay           float64
	ContradictionDecay   float64
	StableDays           int
	CrossValidationBoost float64
}

// PolicyFromConfig reads the discovery section.
func PolicyFromConfig(cfg config.Discovery) Policy {
	return Policy{
		StaleAfter:           time.Duration(cfg.StaleAfterDays) * day,
		StalePeriod:          time.Duration(cfg.StalePeriodDays) * day,
		StaleDecay:           cfg.StaleDecay,
		ContradictionDecay:   cfg.ContradictionDecay,
		StableDays:           cfg.StableDays,
		CrossValidationBoost: cfg.CrossValidationBoost,
	}
}

// EffectiveConfidence applies contradiction and staleness decay to a
// profile's stored confidence. Age counts from the last corroboration, or
// from the last update when the profile was never corroborated.
func (p Policy) EffectiveConfidence(profile store.EntityProfile, now time.Time) float64 {
	conf := profile.Confidence
	if profile.Contradictions > 0 {
		conf *= math.Pow(1-p.ContradictionDecay, float64(profile.Contradictions))
	}
	anchor := profile.LastCorroborated
	if anchor.IsZero() {
		anchor = profile.LastUpdated
	}
	if anchor.IsZero() || p.StalePeriod <= 0 {
		return conf
	}
	age := now.Sub(anchor)
	if age > p.StaleAfter {
		periods := 1 + int((age-p.StaleAfter)/p.StalePeriod)
		conf *= math.Pow(1-p.StaleDecay, float64(periods))
	}
	return conf
}

// UsableStrength caps a profile's strength at moderate until its top
// category has been stable for StableDays.
func (p Policy) UsableStrength(profile store.EntityProfile, now time.Time) store.PatternStrength {
	if profile.Strength.Rank() > store.StrengthModerate.Rank() && profile.StabilityDays(now) < p.StableDays {
		return store.StrengthModerate
	}
	return profile.Strength
}

// Boost is the cross-validation multiplier for a profile.
func (p Policy) Boost(profile store.EntityProfile) float64 {
	if profile.CrossValidated && p.CrossValidationBoost > 0 {
		return p.CrossValidationBoost
	}
	return 1
}
