package reputation

import "cratemind/internal/store"

// Snapshot is a point-in-time view of contributor multipliers.
type Snapshot struct {
	policy       Policy
	contributors map[string]store.Contributor
}

// Multiplier implements the consensus reputation lookup. Unknown
// contributors report ok=false.
func (s *Snapshot) Multiplier(sourceID, domain string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	c, ok := s.contributors[sourceID]
	if !ok {
		return 0, false
	}
	return s.policy.Multiplier(c, domain), true
}
