package discovery

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"cratemind/internal/dedup"
	"cratemind/internal/logging"
	"cratemind/internal/profiles"
	"cratemind/internal/services"
	"cratemind/internal/store"
	"cratemind/internal/testsupport"
)

var t0 = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

type harness struct {
	engine   *Engine
	repo     store.Repository
	dedup    *dedup.Service
	profiles *profiles.Store
	clock    *testsupport.Clock
	lockPath string
	seq      int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithMemoryStorage())
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	repo := testsupport.NewMemStore(t)
	clock := testsupport.NewClock(t0)
	snaps := profiles.NewStore(logging.NewNop(), nil)
	return &harness{
		engine:   NewEngine(cfg, repo, snaps, cfg.DiscoveryLockPath(), logging.NewNop(), nil, clock.Now),
		repo:     repo,
		dedup:    dedup.NewService(repo, logging.NewNop(), nil, clock.Now),
		profiles: snaps,
		clock:    clock,
		lockPath: cfg.DiscoveryLockPath(),
	}
}

// track ingests a new item and stores a resolved result for it.
func (h *harness) track(t *testing.T, artist, label, category string, source store.SourceType, at time.Time) string {
	t.Helper()
	h.seq++
	res, err := h.dedup.Ingest(context.Background(), dedup.IngestRequest{
		ContentHash:  fmt.Sprintf("%08x", h.seq),
		Path:         fmt.Sprintf("/music/%d.flac", h.seq),
		SizeBytes:    1000,
		DiscoveredAt: at,
		Artist:       artist,
		Label:        label,
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	h.result(t, res.ItemID, category, source, store.StatusResolved, at)
	return res.ItemID
}

func (h *harness) result(t *testing.T, itemID, category string, source store.SourceType, status store.Status, at time.Time) {
	t.Helper()
	var expected int64
	if prev, err := h.repo.GetResult(context.Background(), itemID); err == nil {
		expected = prev.Version
	}
	if _, err := h.repo.SaveResult(context.Background(), store.Result{
		ItemID:          itemID,
		PrimaryCategory: category,
		Confidence:      0.9,
		Status:          status,
		DominantSource:  source,
		StableSince:     at,
		UpdatedAt:       at,
	}, expected); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
}

// resave stores the current result of itemID again, as a recompute with no
// new data does.
func (h *harness) resave(t *testing.T, itemID string, at time.Time) {
	t.Helper()
	prev, err := h.repo.GetResult(context.Background(), itemID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	next := prev.Clone()
	next.UpdatedAt = at
	if _, err := h.repo.SaveResult(context.Background(), next, prev.Version); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
}

func (h *harness) run(t *testing.T) Report {
	t.Helper()
	report, err := h.engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return report
}

func TestStrengthThresholds(t *testing.T) {
	th := Thresholds{MinSamples: 10, VeryStrong: 0.90, Strong: 0.75, Moderate: 0.60}
	tests := []struct {
		ratio float64
		want  store.PatternStrength
	}{
		{0.95, store.StrengthVeryStrong},
		{0.90, store.StrengthVeryStrong},
		{43.0 / 47.0, store.StrengthVeryStrong},
		{0.80, store.StrengthStrong},
		{0.60, store.StrengthModerate},
		{0.59, store.StrengthNone},
	}
	for _, tc := range tests {
		if got := th.Strength(tc.ratio); got != tc.want {
			t.Fatalf("Strength(%v) = %s, want %s", tc.ratio, got, tc.want)
		}
	}
}

func TestEntityProfileFromResolvedLog(t *testing.T) {
	h := newHarness(t)
	for i := range 47 {
		category := "Breaks"
		if i%12 == 5 {
			category = "House"
		}
		h.track(t, "X", "", category, store.SourceExactMatch, t0.Add(-time.Duration(i+1)*time.Hour))
	}

	report := h.run(t)
	if report.Version != 1 || report.Profiled != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	snap := h.profiles.Current()
	profile, ok := snap.Lookup("artist:x")
	if !ok {
		t.Fatal("profile for artist:x not published")
	}
	if profile.SampleSize != 47 || profile.TopCategory != "Breaks" {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if math.Abs(profile.Confidence-43.0/47.0) > 1e-9 {
		t.Fatalf("confidence = %v, want %v", profile.Confidence, 43.0/47.0)
	}
	// 0.914 is at or above the 0.90 very_strong threshold.
	if profile.Strength != store.StrengthVeryStrong {
		t.Fatalf("strength = %s, want %s", profile.Strength, store.StrengthVeryStrong)
	}
	if profile.PublishedVersion != 1 || len(profile.History) != 1 {
		t.Fatalf("unexpected versioning: %+v", profile)
	}

	version, stored, err := h.repo.CurrentProfiles(context.Background())
	if err != nil || version != 1 || len(stored) != 1 {
		t.Fatalf("repository generation = %d (%d profiles), %v", version, len(stored), err)
	}
}

func TestRerunIsDeterministic(t *testing.T) {
	h := newHarness(t)
	for i := range 12 {
		h.track(t, "Eric Prydz", "Pryda Recordings", "House", store.SourceExactMatch, t0.Add(-time.Duration(i+1)*time.Hour))
	}
	h.run(t)
	first, _ := h.profiles.Current().Lookup("artist:ericprydz")

	h.clock.Advance(2 * time.Hour)
	h.run(t)
	second, _ := h.profiles.Current().Lookup("artist:ericprydz")

	if first.Confidence != second.Confidence || first.SampleSize != second.SampleSize {
		t.Fatalf("rerun changed the profile: %+v vs %+v", first, second)
	}
	if !first.StableSince.Equal(second.StableSince) || first.Contradictions != second.Contradictions {
		t.Fatalf("rerun changed stability: %+v vs %+v", first, second)
	}
	if second.PublishedVersion != 2 || len(second.History) != 2 {
		t.Fatalf("history should grow by one point per generation: %+v", second)
	}
}

func TestThinAndMixedEntitiesAreNotPublished(t *testing.T) {
	h := newHarness(t)
	for i := range 9 {
		h.track(t, "Few Tracks", "", "Techno", store.SourceExactMatch, t0.Add(-time.Duration(i+1)*time.Minute))
	}
	categories := []string{"House", "Techno", "Trance"}
	for i := range 15 {
		h.track(t, "Eclectic", "", categories[i%3], store.SourceExactMatch, t0.Add(-time.Duration(i+1)*time.Minute))
	}
	report := h.run(t)
	if report.Insufficient != 1 || report.Discarded != 1 || report.Profiled != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if h.profiles.Current().Len() != 0 {
		t.Fatal("no profile should be published")
	}
}

func TestSnapshotExcludesUnresolvedDuplicatesAndLateResults(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	var first string
	for i := range 10 {
		id := h.track(t, "Solid", "", "Trance", store.SourceExactMatch, t0.Add(-time.Duration(i+1)*time.Minute))
		if i == 0 {
			first = id
		}
	}
	// A later-discovered copy of the first track is not canonical.
	firstItem, err := h.repo.GetItem(ctx, first)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	dup, err := h.dedup.Ingest(ctx, dedup.IngestRequest{ContentHash: firstItem.ContentHash, Path: "/copy.flac", Artist: "Solid", DiscoveredAt: t0})
	if err != nil {
		t.Fatalf("ingest duplicate: %v", err)
	}
	h.result(t, dup.ItemID, "Trance", store.SourceExactMatch, store.StatusResolved, t0.Add(-time.Second))
	// Disputed and future results are ignored.
	disputed := h.track(t, "Solid", "", "House", store.SourceCommunityPattern, t0.Add(-time.Hour))
	h.result(t, disputed, "House", store.SourceCommunityPattern, store.StatusDisputed, t0.Add(-time.Minute))
	h.track(t, "Solid", "", "House", store.SourceExactMatch, t0.Add(time.Hour))
	// A result whose item vanished is malformed.
	if _, err := h.repo.SaveResult(ctx, store.Result{ItemID: "ghost", PrimaryCategory: "House", Status: store.StatusResolved, UpdatedAt: t0.Add(-time.Hour)}, 0); err != nil {
		t.Fatalf("SaveResult ghost: %v", err)
	}

	report := h.run(t)
	profile, ok := h.profiles.Current().Lookup("artist:solid")
	if !ok {
		t.Fatalf("profile missing, report %+v", report)
	}
	if profile.SampleSize != 10 || profile.Confidence != 1 {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if report.SkippedRecords != 1 {
		t.Fatalf("expected one skipped record, got %d", report.SkippedRecords)
	}
}

func TestCrossValidation(t *testing.T) {
	h := newHarness(t)
	for i := range 12 {
		h.track(t, "Above & Beyond", "Anjunabeats", "Trance", store.SourceExactMatch, t0.Add(-time.Duration(i+1)*time.Minute))
	}
	for i := range 12 {
		h.track(t, "Skrillex", "Not Anjuna", "Dubstep", store.SourceExactMatch, t0.Add(-time.Duration(i+1)*time.Minute))
	}
	h.track(t, "Skrillex", "Anjunabeats", "Dubstep", store.SourceExactMatch, t0.Add(-time.Hour))
	for i := range 12 {
		h.track(t, "Solo", "", "House", store.SourceExactMatch, t0.Add(-time.Duration(i+1)*time.Minute))
	}
	h.run(t)

	snap := h.profiles.Current()
	for key, want := range map[string]bool{
		"artist:aboveandbeyond": true,
		"label:anjunabeats":     true,
		"artist:skrillex":       true,
		"label:notanjuna":       true,
		"artist:solo":           false,
	} {
		p, ok := snap.Lookup(key)
		if !ok {
			t.Fatalf("missing profile %s", key)
		}
		if p.CrossValidated != want {
			t.Fatalf("%s cross validated = %v, want %v", key, p.CrossValidated, want)
		}
	}
}

func TestContradictionsAccumulate(t *testing.T) {
	h := newHarness(t)
	for i := range 20 {
		h.track(t, "Steady", "", "Techno", store.SourceExactMatch, t0.Add(-time.Duration(i+1)*time.Hour))
	}
	h.run(t)

	h.clock.Advance(24 * time.Hour)
	dissent := h.track(t, "Steady", "", "House", store.SourceCommunityPattern, t0.Add(time.Hour))
	h.track(t, "Steady", "", "House", store.SourceCommunityPattern, t0.Add(2*time.Hour))
	h.track(t, "Steady", "", "House", store.SourceExactMatch, t0.Add(3*time.Hour))
	h.run(t)

	p, _ := h.profiles.Current().Lookup("artist:steady")
	if p.Contradictions != 2 || p.TopCategory != "Techno" || p.SampleSize != 23 {
		t.Fatalf("unexpected profile: %+v", p)
	}
	policy := profiles.Policy{ContradictionDecay: 0.1}
	if got := policy.EffectiveConfidence(p, h.clock.Now()); math.Abs(got-p.Confidence*0.81) > 1e-9 {
		t.Fatalf("effective confidence = %v, want %v", got, p.Confidence*0.81)
	}

	// Recomputing an already counted item without a category change is not
	// a new contradiction.
	for range 3 {
		h.clock.Advance(time.Hour)
		h.resave(t, dissent, h.clock.Now())
		h.run(t)
		again, _ := h.profiles.Current().Lookup("artist:steady")
		if again.Contradictions != 2 || again.SampleSize != 23 {
			t.Fatalf("recompute counted again: %+v", again)
		}
		if !again.LastCorroborated.Equal(p.LastCorroborated) {
			t.Fatalf("recompute moved corroboration from %v to %v", p.LastCorroborated, again.LastCorroborated)
		}
	}
}

func TestRecomputedCorroborationIsNotFresh(t *testing.T) {
	h := newHarness(t)
	var first string
	for i := range 10 {
		id := h.track(t, "Quiet", "", "Trance", store.SourceExactMatch, t0.Add(-time.Duration(i+1)*time.Hour))
		if i == 0 {
			first = id
		}
	}
	h.run(t)
	before, _ := h.profiles.Current().Lookup("artist:quiet")

	h.clock.Advance(100 * 24 * time.Hour)
	h.resave(t, first, h.clock.Now())
	h.run(t)
	after, _ := h.profiles.Current().Lookup("artist:quiet")
	if !after.LastCorroborated.Equal(before.LastCorroborated) {
		t.Fatalf("corroboration moved from %v to %v", before.LastCorroborated, after.LastCorroborated)
	}
	policy := profiles.Policy{StaleAfter: 90 * 24 * time.Hour, StalePeriod: 24 * time.Hour, StaleDecay: 0.05}
	if got := policy.EffectiveConfidence(after, h.clock.Now()); got >= after.Confidence {
		t.Fatalf("stale profile should decay, effective %v confidence %v", got, after.Confidence)
	}
}

func TestCancelledRunResumesFromCheckpoint(t *testing.T) {
	h := newHarness(t)
	for _, artist := range []string{"Alpha", "Bravo", "Charlie"} {
		for i := range 10 {
			h.track(t, artist, "", "House", store.SourceExactMatch, t0.Add(-time.Duration(i+1)*time.Minute))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	var seen []string
	h.engine.afterEntity = func(key string) {
		seen = append(seen, key)
		cancel()
	}
	report, err := h.engine.Run(ctx)
	if !errors.Is(err, context.Canceled) || !report.Cancelled {
		t.Fatalf("expected a cancelled run, got %+v, %v", report, err)
	}
	if len(seen) != 1 || seen[0] != "artist:alpha" {
		t.Fatalf("cancellation should stop after the current entity, processed %v", seen)
	}
	if h.profiles.Current().Version != 0 {
		t.Fatal("a cancelled run must not publish")
	}

	// Data arriving after the snapshot does not leak into the resumed run.
	h.clock.Advance(time.Hour)
	h.track(t, "Delta", "", "Techno", store.SourceExactMatch, t0.Add(30*time.Minute))
	for i := range 10 {
		h.track(t, "Echo", "", "Techno", store.SourceExactMatch, t0.Add(40*time.Minute+time.Duration(i)))
	}

	h.engine.afterEntity = func(key string) { seen = append(seen, key) }
	resumed, err := h.engine.Run(context.Background())
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !resumed.Resumed || resumed.RunID != report.RunID || !resumed.SnapshotAt.Equal(report.SnapshotAt) {
		t.Fatalf("expected the same run to resume: %+v vs %+v", resumed, report)
	}
	if len(seen) != 3 {
		t.Fatalf("resumed run should only process the remaining entities, processed %v", seen)
	}
	if resumed.Profiled != 3 || h.profiles.Current().Len() != 3 {
		t.Fatalf("unexpected resumed report: %+v", resumed)
	}
	if _, ok := h.profiles.Current().Lookup("artist:echo"); ok {
		t.Fatal("post-snapshot results leaked into the resumed run")
	}

	runs, err := h.engine.Runs(context.Background(), 10)
	if err != nil || len(runs) != 1 || runs[0].Status != store.RunCompleted {
		t.Fatalf("unexpected runs: %+v, %v", runs, err)
	}
}

func TestConcurrentRunIsRejected(t *testing.T) {
	h := newHarness(t)
	lock := flock.New(h.lockPath)
	ok, err := lock.TryLock()
	if err != nil || !ok {
		t.Fatalf("TryLock: %v %v", ok, err)
	}
	defer lock.Unlock()

	_, err = h.engine.Run(context.Background())
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if filepath.Base(h.lockPath) != "discovery.lock" {
		t.Fatalf("unexpected lock path %s", h.lockPath)
	}
}
