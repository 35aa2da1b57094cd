package consensus_test

import (
	"math"
	"reflect"
	"testing"
	"time"

	"cratemind/internal/consensus"
	"cratemind/internal/profiles"
	"cratemind/internal/store"
)

var now = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

type fixedReputation map[string]float64

func (f fixedReputation) Multiplier(id, _ string) (float64, bool) {
	m, ok := f[id]
	return m, ok
}

func sig(id string, source store.SourceType, sourceID, category string, weight float64, age time.Duration) store.Signal {
	return store.Signal{
		ID: id, ItemID: "item", SourceType: source, SourceID: sourceID,
		Category: category, BaseWeight: weight, CreatedAt: now.Add(-age),
	}
}

func input(sigs ...store.Signal) consensus.Input {
	return consensus.Input{Item: store.Item{ID: "item"}, Signals: sigs, Now: now}
}

func assertShares(t *testing.T, r store.Result) {
	t.Helper()
	if r.Confidence < 0 || r.Confidence > 1 {
		t.Fatalf("confidence out of range: %v", r.Confidence)
	}
	if len(r.Groups) == 0 {
		return
	}
	var sum float64
	for _, g := range r.Groups {
		sum += g.Share
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("shares sum to %v", sum)
	}
}

func TestExactMatchOutweighsHeuristic(t *testing.T) {
	r := consensus.Compute(input(
		sig("s1", store.SourceExactMatch, "acoustid", "House", 100, 0),
		sig("s2", store.SourceWeakHeuristic, "filename", "Techno", 10, 0),
	), consensus.DefaultParams())
	assertShares(t, r)
	if r.PrimaryCategory != "House" || r.Status != store.StatusResolved {
		t.Fatalf("unexpected result: %+v", r)
	}
	if r.Confidence <= 0.85 {
		t.Fatalf("confidence = %v, want > 0.85", r.Confidence)
	}
	if r.DominantSource != store.SourceExactMatch {
		t.Fatalf("dominant source = %s", r.DominantSource)
	}
}

func TestNearEqualWeightsAreDisputed(t *testing.T) {
	r := consensus.Compute(input(
		sig("s1", store.SourceCommunityPattern, "a", "House", 40, 0),
		sig("s2", store.SourceCommunityPattern, "b", "Techno", 36, 0),
	), consensus.DefaultParams())
	assertShares(t, r)
	if r.Status != store.StatusDisputed || r.DisputeCycles != 1 {
		t.Fatalf("expected disputed first cycle, got %+v", r)
	}
}

func TestConfidenceCeilingByDominantSource(t *testing.T) {
	tests := []struct {
		source store.SourceType
		want   float64
	}{
		{store.SourceExactMatch, 0.98},
		{store.SourceEntityPattern, 0.95},
		{store.SourceCommunityPattern, 0.90},
		{store.SourceExpertOverride, 0.99},
	}
	for _, tc := range tests {
		r := consensus.Compute(input(sig("s", tc.source, "x", "Trance", 50, 0)), consensus.DefaultParams())
		if math.Abs(r.Confidence-tc.want) > 1e-9 {
			t.Fatalf("%s: confidence = %v, want %v", tc.source, r.Confidence, tc.want)
		}
	}
}

func TestAgreementBoostIsCapped(t *testing.T) {
	var sigs []store.Signal
	for i, id := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		sigs = append(sigs, sig("s"+id, store.SourceCommunityPattern, id, "House", 30, time.Duration(i)))
	}
	r := consensus.Compute(input(sigs...), consensus.DefaultParams())
	for _, c := range r.Breakdown {
		if c.Boost != 2.0 {
			t.Fatalf("boost = %v, want ceiling 2.0", c.Boost)
		}
	}
	two := consensus.Compute(input(sigs[:2]...), consensus.DefaultParams())
	if two.Breakdown[0].Boost != 1.25 {
		t.Fatalf("two agreeing sources boost = %v, want 1.25", two.Breakdown[0].Boost)
	}
}

func TestRecencyDecay(t *testing.T) {
	params := consensus.DefaultParams()
	r := consensus.Compute(input(
		sig("old", store.SourceCommunityPattern, "a", "House", 30, 365*24*time.Hour),
	), params)
	if got := r.Breakdown[0].RecencyFactor; math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("one half-life should halve weight, got %v", got)
	}

	ancient := consensus.Compute(input(
		sig("ancient", store.SourceCommunityPattern, "a", "House", 30, 10*365*24*time.Hour),
		sig("exact", store.SourceExactMatch, "db", "Techno", 100, 10*365*24*time.Hour),
	), params)
	if len(ancient.Breakdown) != 1 || ancient.Breakdown[0].SignalID != "exact" {
		t.Fatalf("expected only the recency-exempt signal, got %+v", ancient.Breakdown)
	}
}

func TestReputationMultiplierApplies(t *testing.T) {
	in := input(
		sig("s1", store.SourceCommunityPattern, "troll", "Techno", 40, 0),
		sig("s2", store.SourceCommunityPattern, "fan", "House", 30, 0),
	)
	in.Reputation = fixedReputation{"troll": 0}
	r := consensus.Compute(in, consensus.DefaultParams())
	if r.PrimaryCategory != "House" || len(r.Groups) != 1 {
		t.Fatalf("ignored contributor should not count: %+v", r)
	}
	in.Reputation = fixedReputation{"troll": 0.1}
	r = consensus.Compute(in, consensus.DefaultParams())
	if r.PrimaryCategory != "House" || r.Status != store.StatusResolved {
		t.Fatalf("suspect contributor should be outweighed: %+v", r)
	}
}

func TestSupersededSignalsAreIgnored(t *testing.T) {
	r := consensus.Compute(input(
		sig("s1", store.SourceCommunityPattern, "a", "Techno", 30, time.Hour),
		sig("s2", store.SourceCommunityPattern, "a", "House", 30, 0),
	), consensus.DefaultParams())
	if r.PrimaryCategory != "House" || len(r.Breakdown) != 1 {
		t.Fatalf("only the latest opinion should count: %+v", r)
	}
}

func TestSubcategoriesFormSeparateGroups(t *testing.T) {
	s1 := sig("s1", store.SourceExactMatch, "db", "House", 100, 0)
	s1.Subcategory = "Deep House"
	s2 := sig("s2", store.SourceCommunityPattern, "a", "House", 30, 0)
	s2.Subcategory = "Tech House"
	r := consensus.Compute(input(s1, s2), consensus.DefaultParams())
	assertShares(t, r)
	if r.Status != store.StatusResolved || r.Subcategory != "Deep House" || len(r.Groups) != 2 {
		t.Fatalf("unexpected result: %+v", r)
	}

	v1 := sig("v1", store.SourceCommunityPattern, "alice", "House", 30, 0)
	v1.Subcategory = "Deep House"
	v2 := sig("v2", store.SourceCommunityPattern, "bob", "House", 30, 0)
	v2.Subcategory = "Tech House"
	tie := consensus.Compute(input(v1, v2), consensus.DefaultParams())
	assertShares(t, tie)
	if tie.Status != store.StatusDisputed || len(tie.Groups) != 2 {
		t.Fatalf("equal votes for two subcategories should dispute: %+v", tie)
	}
	for _, c := range tie.Breakdown {
		if c.Boost != 1 {
			t.Fatalf("votes in different subcategories must not boost each other: %+v", c)
		}
	}
	if math.Abs(tie.Confidence-0.5) > 1e-9 {
		t.Fatalf("confidence = %v, want 0.5", tie.Confidence)
	}
}

func TestUnclassifiedBucketNeverResolves(t *testing.T) {
	r := consensus.Compute(input(sig("s1", store.SourceExactMatch, "tagger", "unclassified", 10, 0)), consensus.DefaultParams())
	if r.Status != store.StatusUnclassified || r.PrimaryCategory != "unclassified" {
		t.Fatalf("unexpected result: %+v", r)
	}
	empty := consensus.Compute(input(), consensus.DefaultParams())
	if empty.Status != store.StatusUnclassified || empty.Confidence != 0 || len(empty.Groups) != 0 {
		t.Fatalf("no signals should stay unclassified: %+v", empty)
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	sigs := []store.Signal{
		sig("s1", store.SourceCommunityPattern, "a", "House", 30, time.Hour),
		sig("s2", store.SourceCommunityPattern, "b", "Techno", 29, 2*time.Hour),
		sig("s3", store.SourceWeakHeuristic, "c", "Trance", 7, 3*time.Hour),
		sig("s4", store.SourceSeed, "label:x", "House", 10, 0),
	}
	first := consensus.Compute(input(sigs...), consensus.DefaultParams())
	for range 20 {
		again := consensus.Compute(input(sigs...), consensus.DefaultParams())
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("Compute is not deterministic:\n%+v\n%+v", first, again)
		}
	}
}

func TestDisputeEscalatesAndExpertResolves(t *testing.T) {
	params := consensus.DefaultParams()
	sigs := []store.Signal{
		sig("s1", store.SourceCommunityPattern, "a", "House", 30, 0),
		sig("s2", store.SourceCommunityPattern, "b", "Techno", 30, 0),
	}
	var prev *store.Result
	for cycle := 1; cycle <= 3; cycle++ {
		in := input(sigs...)
		in.Previous = prev
		r := consensus.Compute(in, params)
		if r.DisputeCycles != cycle {
			t.Fatalf("cycle %d: dispute cycles = %d", cycle, r.DisputeCycles)
		}
		if cycle < 3 && r.Status != store.StatusDisputed {
			t.Fatalf("cycle %d: status = %s", cycle, r.Status)
		}
		if cycle == 3 {
			if r.Status != store.StatusUnderReview || !consensus.Escalated(prev, r) {
				t.Fatalf("third disputed cycle should escalate: %+v", r)
			}
		}
		prev = &r
	}

	// More community agreement does not leave review.
	in := input(append(sigs, sig("s3", store.SourceCommunityPattern, "c", "House", 40, 0))...)
	in.Previous = prev
	r := consensus.Compute(in, params)
	if r.Status != store.StatusUnderReview || consensus.Escalated(prev, r) {
		t.Fatalf("only an expert override leaves review: %+v", r)
	}

	in = input(append(sigs, sig("s4", store.SourceExpertOverride, "curator", "Techno", 1000, 0))...)
	in.Previous = &r
	r = consensus.Compute(in, params)
	if r.Status != store.StatusResolved || r.PrimaryCategory != "Techno" || r.Confidence < 0.95 || r.DominantSource != store.SourceExpertOverride {
		t.Fatalf("expert override should resolve: %+v", r)
	}
}

func TestStableSinceCarriesForward(t *testing.T) {
	params := consensus.DefaultParams()
	in := input(sig("s1", store.SourceExactMatch, "db", "House", 100, 0))
	first := consensus.Compute(in, params)
	in.Previous = &first
	in.Now = now.Add(48 * time.Hour)
	second := consensus.Compute(in, params)
	if !second.StableSince.Equal(first.StableSince) {
		t.Fatalf("StableSince moved: %v -> %v", first.StableSince, second.StableSince)
	}
}

func TestEntityProfileContribution(t *testing.T) {
	params := consensus.DefaultParams()
	profile := store.EntityProfile{
		EntityKey:    "label:anjunabeats",
		Kind:         store.EntityLabel,
		TopCategory:  "Trance",
		Confidence:   0.8,
		SampleSize:   40,
		Strength:     store.StrengthVeryStrong,
		StableSince:  now.Add(-10 * 24 * time.Hour),
		LastUpdated:  now.Add(-91 * 24 * time.Hour),
		Distribution: map[string]float64{"Trance": 0.8, "House": 0.2},
	}
	in := consensus.Input{
		Item:     store.Item{ID: "item", Label: "Anjunabeats"},
		Profiles: profiles.NewSnapshot(3, now, []store.EntityProfile{profile}),
		Now:      now,
	}
	r := consensus.Compute(in, params)
	if len(r.Breakdown) != 1 {
		t.Fatalf("expected one derived contribution, got %+v", r.Breakdown)
	}
	c := r.Breakdown[0]
	if c.SourceType != store.SourceEntityPattern || c.EntityKey != "label:anjunabeats" {
		t.Fatalf("unexpected contribution: %+v", c)
	}
	// Not yet stable for 30 days: capped at moderate.
	if c.BaseWeight != 75 {
		t.Fatalf("base weight = %v, want moderate 75", c.BaseWeight)
	}
	// Untouched for 91 days: one 5% decay step.
	if math.Abs(c.ProfileFactor-0.8*0.95) > 1e-9 {
		t.Fatalf("profile factor = %v, want %v", c.ProfileFactor, 0.8*0.95)
	}
	if r.ProfileVersion != 3 || r.Confidence != 0.95 {
		t.Fatalf("unexpected result: %+v", r)
	}

	profile.CrossValidated = true
	profile.StableSince = now.Add(-40 * 24 * time.Hour)
	in.Profiles = profiles.NewSnapshot(4, now, []store.EntityProfile{profile})
	c = consensus.Compute(in, params).Breakdown[0]
	if c.BaseWeight != 85 || math.Abs(c.ProfileFactor-0.8*0.95*1.5) > 1e-9 {
		t.Fatalf("stable cross-validated profile: %+v", c)
	}
}
