package consensus

import (
	"cmp"
	"math"
	"slices"
	"time"

	"cratemind/internal/profiles"
	"cratemind/internal/signals"
	"cratemind/internal/store"
	"cratemind/internal/taxonomy"
)

// Reputation answers trust multipliers from a fixed snapshot.
type Reputation interface {
	// Multiplier returns the multiplier for a source in a category domain;
	// ok is false for sources without a reputation record.
	Multiplier(sourceID, domain string) (float64, bool)
}

// Input is everything Compute reads.
type Input struct {
	Item       store.Item
	Signals    []store.Signal
	Profiles   *profiles.Snapshot
	Reputation Reputation
	Previous   *store.Result
	Now        time.Time
}

type groupKey struct {
	category    string
	subcategory string
}

type groupAcc struct {
	groupKey
	weight    float64
	bySource  map[store.SourceType]float64
	sources   map[string]struct{}
	members   []int
	hasExpert bool
}

// Compute resolves the item's classification.
func Compute(in Input, p Params) store.Result {
	contributions := collect(in, p)

	groups := make(map[groupKey]*groupAcc)
	for i, c := range contributions {
		key := groupKey{category: c.Category, subcategory: c.Subcategory}
		g, ok := groups[key]
		if !ok {
			g = &groupAcc{
				groupKey: key,
				bySource: make(map[store.SourceType]float64),
				sources:  make(map[string]struct{}),
			}
			groups[key] = g
		}
		g.sources[string(c.SourceType)+"|"+c.SourceID] = struct{}{}
		g.members = append(g.members, i)
	}

	ordered := make([]*groupAcc, 0, len(groups))
	for _, g := range groups {
		ordered = append(ordered, g)
	}
	slices.SortFunc(ordered, func(a, b *groupAcc) int {
		if c := cmp.Compare(a.category, b.category); c != 0 {
			return c
		}
		return cmp.Compare(a.subcategory, b.subcategory)
	})

	var total float64
	for _, g := range ordered {
		boost := min(1+p.BoostPerAgreement*float64(len(g.sources)-1), p.BoostCeiling)
		boost = max(boost, 1)
		for _, i := range g.members {
			c := &contributions[i]
			c.Boost = boost
			c.EffectiveWeight = c.BaseWeight * c.ReputationMultiplier * c.RecencyFactor * c.ProfileFactor * boost
			g.weight += c.EffectiveWeight
			g.bySource[c.SourceType] += c.EffectiveWeight
			if c.SourceType == store.SourceExpertOverride {
				g.hasExpert = true
			}
		}
		total += g.weight
	}

	slices.SortStableFunc(ordered, func(a, b *groupAcc) int { return cmp.Compare(b.weight, a.weight) })
	slices.SortFunc(contributions, func(a, b store.Contribution) int {
		if c := cmp.Compare(b.EffectiveWeight, a.EffectiveWeight); c != 0 {
			return c
		}
		return cmp.Compare(a.SignalID, b.SignalID)
	})

	result := store.Result{
		ItemID:         in.Item.ID,
		Status:         store.StatusUnclassified,
		Breakdown:      contributions,
		ProfileVersion: snapshotVersion(in.Profiles),
		UpdatedAt:      in.Now,
	}
	for _, g := range ordered {
		share := 0.0
		if total > 0 {
			share = g.weight / total
		}
		result.Groups = append(result.Groups, store.GroupScore{
			Category:    g.category,
			Subcategory: g.subcategory,
			Weight:      g.weight,
			Share:       share,
			Sources:     len(g.sources),
		})
	}

	expertActive := false
	if total > 0 {
		top := ordered[0]
		expertActive = top.hasExpert
		result.PrimaryCategory = top.category
		result.Subcategory = top.subcategory
		result.DominantSource = dominant(top.bySource)
		result.Confidence = clamp01(min(result.Groups[0].Share, p.ceiling(result.DominantSource)))
		result.Status = store.StatusResolved
		if len(ordered) > 1 {
			second := ordered[1].weight
			if (top.weight-second)/top.weight < p.DisputeMargin {
				result.Status = store.StatusDisputed
			}
		}
		if top.category == taxonomy.Unclassified {
			result.Status = store.StatusUnclassified
		}
	}

	applyStateMachine(&result, in.Previous, expertActive, p)
	return result
}

func applyStateMachine(result *store.Result, prev *store.Result, expertActive bool, p Params) {
	if prev != nil && prev.Status == store.StatusUnderReview && !expertActive {
		result.Status = store.StatusUnderReview
		result.DisputeCycles = prev.DisputeCycles
	} else if result.Status == store.StatusDisputed {
		result.DisputeCycles = 1
		if prev != nil && prev.Status == store.StatusDisputed {
			result.DisputeCycles = prev.DisputeCycles + 1
		}
		if p.EscalateAfter > 0 && result.DisputeCycles >= p.EscalateAfter {
			result.Status = store.StatusUnderReview
		}
	}

	switch {
	case result.PrimaryCategory == "":
		result.StableSince = time.Time{}
	case prev != nil && prev.PrimaryCategory == result.PrimaryCategory && !prev.StableSince.IsZero():
		result.StableSince = prev.StableSince
	default:
		result.StableSince = result.UpdatedAt
	}
}

// Escalated reports whether next newly entered review.
func Escalated(prev *store.Result, next store.Result) bool {
	if next.Status != store.StatusUnderReview {
		return false
	}
	return prev == nil || prev.Status != store.StatusUnderReview
}

func collect(in Input, p Params) []store.Contribution {
	active := signals.Effective(in.Signals)
	out := make([]store.Contribution, 0, len(active)+2)
	for _, s := range active {
		recency := 1.0
		if !recencyExempt(s.SourceType) {
			recency = recencyFactor(in.Now.Sub(s.CreatedAt), p.RecencyHalfLife)
			if recency < p.MinRecencyFactor {
				continue
			}
		}
		rep := 1.0
		if in.Reputation != nil {
			if m, ok := in.Reputation.Multiplier(s.SourceID, taxonomy.Domain(s.Category)); ok {
				rep = m
			}
		}
		if rep <= 0 || s.BaseWeight <= 0 {
			continue
		}
		out = append(out, store.Contribution{
			SignalID:             s.ID,
			SourceType:           s.SourceType,
			SourceID:             s.SourceID,
			Category:             s.Category,
			Subcategory:          s.Subcategory,
			BaseWeight:           s.BaseWeight,
			ReputationMultiplier: rep,
			RecencyFactor:        recency,
			ProfileFactor:        1,
		})
	}
	return append(out, profileContributions(in, p)...)
}

// profileContributions derives entity_pattern contributions from the
// published profiles of the item's artist and label.
func profileContributions(in Input, p Params) []store.Contribution {
	if in.Profiles == nil {
		return nil
	}
	var out []store.Contribution
	for _, key := range taxonomy.EntityKeysFor(in.Item) {
		profile, ok := in.Profiles.Lookup(key)
		if !ok || profile.Strength.Rank() == 0 || profile.TopCategory == "" {
			continue
		}
		effective := p.Profiles.EffectiveConfidence(profile, in.Now)
		factor := effective * p.Profiles.Boost(profile)
		if factor <= 0 {
			continue
		}
		out = append(out, store.Contribution{
			SignalID:             "profile:" + key,
			SourceType:           store.SourceEntityPattern,
			SourceID:             key,
			EntityKey:            key,
			Category:             profile.TopCategory,
			BaseWeight:           signals.EntityWeight(p.Profiles.UsableStrength(profile, in.Now)),
			ReputationMultiplier: 1,
			RecencyFactor:        1,
			ProfileFactor:        factor,
		})
	}
	return out
}

func recencyFactor(age, halfLife time.Duration) float64 {
	if age <= 0 || halfLife <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(age)/float64(halfLife))
}

func dominant(bySource map[store.SourceType]float64) store.SourceType {
	var best store.SourceType
	bestWeight := -1.0
	for _, st := range store.SourceTypes {
		if w, ok := bySource[st]; ok && w > bestWeight {
			best, bestWeight = st, w
		}
	}
	return best
}

func snapshotVersion(s *profiles.Snapshot) int64 {
	if s == nil {
		return 0
	}
	return s.Version
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
