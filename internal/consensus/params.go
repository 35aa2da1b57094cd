package consensus

import (
	"time"

	"cratemind/internal/config"
	"cratemind/internal/profiles"
	"cratemind/internal/store"
)

// Params are the tunable weighting and state machine parameters.
type Params struct {
	DisputeMargin     float64
	BoostPerAgreement float64
	BoostCeiling      float64
	RecencyHalfLife   time.Duration
	MinRecencyFactor  float64
	CeilingExact      float64
	CeilingEntity     float64
	CeilingCommunity  float64
	MaxConfidence     float64
	EscalateAfter     int
	MaxRetries        int
	Profiles          profiles.Policy
}

// ParamsFromConfig maps the consensus and discovery sections.
func ParamsFromConfig(cfg *config.Config) Params {
	c := cfg.Consensus
	return Params{
		DisputeMargin:     c.DisputeMargin,
		BoostPerAgreement: c.BoostPerAgreement,
		BoostCeiling:      c.BoostCeiling,
		RecencyHalfLife:   time.Duration(c.RecencyHalfLifeDays * float64(24*time.Hour)),
		MinRecencyFactor:  c.MinRecencyFactor,
		CeilingExact:      c.CeilingExact,
		CeilingEntity:     c.CeilingEntity,
		CeilingCommunity:  c.CeilingCommunity,
		MaxConfidence:     c.MaxConfidence,
		EscalateAfter:     c.EscalateAfterCycles,
		MaxRetries:        c.MaxRetries,
		Profiles:          profiles.PolicyFromConfig(cfg.Discovery),
	}
}

// DefaultParams is ParamsFromConfig over the default configuration.
func DefaultParams() Params {
	cfg := config.Default()
	return ParamsFromConfig(&cfg)
}

func (p Params) ceiling(dominant store.SourceType) float64 {
	var c float64
	switch dominant {
	case store.SourceExpertOverride:
		c = p.MaxConfidence
	case store.SourceExactMatch:
		c = p.CeilingExact
	case store.SourceEntityPattern:
		c = p.CeilingEntity
	default:
		c = p.CeilingCommunity
	}
	return min(c, p.MaxConfidence)
}

func recencyExempt(source store.SourceType) bool {
	switch source {
	case store.SourceExactMatch, store.SourceSeed, store.SourceExpertOverride:
		return true
	}
	return false
}
