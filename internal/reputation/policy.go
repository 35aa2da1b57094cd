package reputation

import (
	"cratemind/internal/config"
	"cratemind/internal/store"
)

const (
	monitoredMultiplier = 0.5
	suspectMultiplier   = 0.1
	minTrusted          = 0.5
	maxTrusted          = 2.0
)

// Policy holds the rolling window and penalty thresholds.
type Policy struct {
	Window         int
	MinVotes       int
	MonitoredBelow float64
	SuspectBelow   float64
	IgnoreBelow    float64
	PerDomain      bool
}

// PolicyFromConfig reads the reputation section.
func PolicyFromConfig(cfg config.Reputation) Policy {
	return Policy{
		Window:         cfg.Window,
		MinVotes:       cfg.MinVotes,
		MonitoredBelow: cfg.MonitoredBelow,
		SuspectBelow:   cfg.SuspectBelow,
		IgnoreBelow:    cfg.IgnoreBelow,
		PerDomain:      cfg.Dimensionality != config.DimensionGlobal,
	}
}

// Next returns the state after one automatic step from state at accuracy,
// or state itself when no threshold is crossed.
func (p Policy) Next(state store.PenaltyState, accuracy float64) store.PenaltyState {
	switch state {
	case store.PenaltyTrusted:
		if accuracy < p.MonitoredBelow {
			return store.PenaltyMonitored
		}
	case store.PenaltyMonitored:
		if accuracy < p.SuspectBelow {
			return store.PenaltySuspect
		}
	case store.PenaltySuspect:
		if accuracy < p.IgnoreBelow {
			return store.PenaltySilentlyIgnored
		}
	}
	return state
}

// Multiplier is the weight scale for a contributor in a category domain.
// An empty domain asks for the overall multiplier.
func (p Policy) Multiplier(c store.Contributor, domain string) float64 {
	switch c.State {
	case store.PenaltyMonitored:
		return monitoredMultiplier
	case store.PenaltySuspect:
		return suspectMultiplier
	case store.PenaltySilentlyIgnored:
		return 0
	}
	if p.PerDomain && domain != "" && c.DomainVotes[domain] >= p.MinVotes {
		return trusted(c.DomainAccuracy[domain])
	}
	if c.VoteCount >= p.MinVotes {
		return trusted(c.Accuracy)
	}
	return 1
}

func trusted(accuracy float64) float64 {
	return min(max(2*accuracy, minTrusted), maxTrusted)
}
