// Package storetest holds the behavioural contract every store.Repository
// variant must satisfy. Variant packages call Run from their tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"cratemind/internal/store"
)

// Factory opens a fresh, empty repository for one subtest.
type Factory func(t *testing.T) store.Repository

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Run executes the contract against repositories produced by open.
func Run(t *testing.T, open Factory) {
	t.Run("IngestIsIdempotentPerHashAndPath", func(t *testing.T) { testIngestIdempotent(t, open(t)) })
	t.Run("IngestLinksDuplicateGroup", func(t *testing.T) { testIngestGroup(t, open(t)) })
	t.Run("ConcurrentIngestConverges", func(t *testing.T) { testConcurrentIngest(t, open(t)) })
	t.Run("SignalsAreContentAddressed", func(t *testing.T) { testSignals(t, open(t)) })
	t.Run("SaveResultComparesVersions", func(t *testing.T) { testResultCAS(t, open(t)) })
	t.Run("ResultsAsOfReadsHistory", func(t *testing.T) { testResultsAsOf(t, open(t)) })
	t.Run("VotesAndContributors", func(t *testing.T) { testVotes(t, open(t)) })
	t.Run("PublishProfilesIsVersioned", func(t *testing.T) { testProfiles(t, open(t)) })
	t.Run("RunsResumeFromStagedEntities", func(t *testing.T) { testRuns(t, open(t)) })
}

// SimpleGroup picks the lexically smallest member as canonical; the real
// rule lives in the dedup package.
func SimpleGroup(hash string, existing *store.DuplicateGroup, members []store.Item) store.DuplicateGroup {
	g := store.DuplicateGroup{ID: "group-" + hash, ContentHash: hash, UpdatedAt: base}
	if existing != nil {
		g.ID = existing.ID
	}
	var canonical store.Item
	for i, m := range members {
		g.MemberIDs = append(g.MemberIDs, m.ID)
		g.TotalBytes += m.SizeBytes
		if i == 0 || m.ID < canonical.ID {
			canonical = m
		}
	}
	g.CanonicalItemID = canonical.ID
	g.WasteBytes = g.TotalBytes - canonical.SizeBytes
	return g
}

func item(id, hash, path string, size int64) store.Item {
	return store.Item{ID: id, ContentHash: hash, Path: path, SizeBytes: size, DiscoveredAt: base, CreatedAt: base}
}

func mustIngest(t *testing.T, repo store.Repository, it store.Item) store.IngestOutcome {
	t.Helper()
	out, err := repo.IngestItem(context.Background(), it, SimpleGroup)
	if err != nil {
		t.Fatalf("IngestItem(%s): %v", it.ID, err)
	}
	return out
}

func testIngestIdempotent(t *testing.T, repo store.Repository) {
	first := mustIngest(t, repo, item("a", "abc123", "/music/a.flac", 100))
	if !first.IsNew || first.Group != nil {
		t.Fatalf("first ingest: %+v", first)
	}
	again := mustIngest(t, repo, item("a2", "abc123", "/music/a.flac", 100))
	if again.IsNew || again.Item.ID != "a" {
		t.Fatalf("re-ingest should return existing item, got %+v", again)
	}
	stats, err := repo.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Items != 1 || stats.UniqueHashes != 1 || stats.Groups != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func testIngestGroup(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	mustIngest(t, repo, item("a", "abc123", "/music/a.flac", 100))
	out := mustIngest(t, repo, item("b", "abc123", "/backup/a.flac", 80))
	if out.Group == nil || out.Group.DuplicateCount() != 2 {
		t.Fatalf("expected group of two, got %+v", out.Group)
	}
	if out.Item.GroupID != out.Group.ID {
		t.Fatalf("new item not linked: %+v", out.Item)
	}
	first, err := repo.GetItem(ctx, "a")
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if first.GroupID != out.Group.ID {
		t.Fatalf("existing member not linked: %+v", first)
	}
	g, err := repo.GroupByHash(ctx, "abc123")
	if err != nil {
		t.Fatalf("GroupByHash: %v", err)
	}
	if g.WasteBytes != 100 || g.TotalBytes != 180 {
		t.Fatalf("unexpected group bytes: %+v", g)
	}
	byPath, err := repo.ItemByPath(ctx, "/backup/a.flac")
	if err != nil || byPath.ID != "b" {
		t.Fatalf("ItemByPath = %+v, %v", byPath, err)
	}
	if _, err := repo.ItemByPath(ctx, "/nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	found, err := repo.ItemsByID(ctx, []string{"a", "b", "missing"})
	if err != nil || len(found) != 2 {
		t.Fatalf("ItemsByID = %v, %v", found, err)
	}
}

func testConcurrentIngest(t *testing.T, repo store.Repository) {
	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.IngestItem(context.Background(),
				item(fmt.Sprintf("item-%02d", i), "feedbeef", fmt.Sprintf("/p/%d.mp3", i), int64(10+i)), SimpleGroup)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent ingest: %v", err)
		}
	}
	g, err := repo.GroupByHash(context.Background(), "feedbeef")
	if err != nil {
		t.Fatalf("GroupByHash: %v", err)
	}
	if g.DuplicateCount() != writers || g.CanonicalItemID != "item-00" {
		t.Fatalf("group did not converge: %+v", g)
	}
	members, err := repo.ItemsByHash(context.Background(), "feedbeef")
	if err != nil {
		t.Fatalf("ItemsByHash: %v", err)
	}
	for _, m := range members {
		if m.GroupID != g.ID {
			t.Fatalf("member %s has group %q, want %q", m.ID, m.GroupID, g.ID)
		}
	}
}

func testSignals(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	mustIngest(t, repo, item("a", "abc123", "/a", 1))
	sig := store.Signal{ID: "sig-1", ItemID: "a", SourceType: store.SourceExactMatch, Category: "House", BaseWeight: 100, CreatedAt: base}
	stored, created, err := repo.InsertSignal(ctx, sig)
	if err != nil || !created || stored.ID != "sig-1" {
		t.Fatalf("InsertSignal = %+v, %v, %v", stored, created, err)
	}
	dup := sig
	dup.BaseWeight = 1
	stored, created, err = repo.InsertSignal(ctx, dup)
	if err != nil || created || stored.BaseWeight != 100 {
		t.Fatalf("resubmission = %+v, %v, %v", stored, created, err)
	}
	later := store.Signal{ID: "sig-0", ItemID: "a", SourceType: store.SourceWeakHeuristic, Category: "Techno", BaseWeight: 10, CreatedAt: base.Add(time.Minute)}
	if _, _, err := repo.InsertSignal(ctx, later); err != nil {
		t.Fatalf("InsertSignal: %v", err)
	}
	list, err := repo.ListSignals(ctx, "a")
	if err != nil || len(list) != 2 || list[0].ID != "sig-1" {
		t.Fatalf("ListSignals = %+v, %v", list, err)
	}
	if _, _, err := repo.InsertSignal(ctx, store.Signal{ID: "x", ItemID: "missing", SourceType: store.SourceSeed, Category: "House", CreatedAt: base}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown item, got %v", err)
	}
}

func testResultCAS(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	mustIngest(t, repo, item("a", "abc123", "/a", 1))
	r := store.Result{ItemID: "a", PrimaryCategory: "House", Confidence: 0.9, Status: store.StatusResolved, UpdatedAt: base,
		Breakdown: []store.Contribution{{SignalID: "s", SourceType: store.SourceExactMatch, EffectiveWeight: 100}}}
	saved, err := repo.SaveResult(ctx, r, 0)
	if err != nil || saved.Version != 1 {
		t.Fatalf("SaveResult = %+v, %v", saved, err)
	}
	if _, err := repo.SaveResult(ctx, r, 0); !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	r.Status = store.StatusDisputed
	saved, err = repo.SaveResult(ctx, r, 1)
	if err != nil || saved.Version != 2 {
		t.Fatalf("second SaveResult = %+v, %v", saved, err)
	}
	got, err := repo.GetResult(ctx, "a")
	if err != nil || got.Version != 2 || got.Status != store.StatusDisputed || len(got.Breakdown) != 1 {
		t.Fatalf("GetResult = %+v, %v", got, err)
	}
	disputed, err := repo.ListResultsByStatus(ctx, store.StatusDisputed, store.StatusUnderReview)
	if err != nil || len(disputed) != 1 {
		t.Fatalf("ListResultsByStatus = %+v, %v", disputed, err)
	}
	if _, err := repo.GetResult(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testResultsAsOf(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	mustIngest(t, repo, item("a", "abc123", "/a", 1))
	mustIngest(t, repo, item("b", "def456", "/b", 1))
	save := func(id, category string, version int64, at time.Time) {
		t.Helper()
		_, err := repo.SaveResult(ctx, store.Result{ItemID: id, PrimaryCategory: category, Status: store.StatusResolved, UpdatedAt: at}, version)
		if err != nil {
			t.Fatalf("SaveResult: %v", err)
		}
	}
	save("a", "House", 0, base)
	save("b", "Techno", 0, base.Add(2*time.Hour))
	save("a", "Trance", 1, base.Add(3*time.Hour))

	snapshot, err := repo.ResultsAsOf(ctx, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("ResultsAsOf: %v", err)
	}
	if len(snapshot) != 1 || snapshot[0].PrimaryCategory != "House" {
		t.Fatalf("snapshot at +1h = %+v", snapshot)
	}
	snapshot, err = repo.ResultsAsOf(ctx, base.Add(4*time.Hour))
	if err != nil {
		t.Fatalf("ResultsAsOf: %v", err)
	}
	if len(snapshot) != 2 || snapshot[0].PrimaryCategory != "Trance" || snapshot[1].PrimaryCategory != "Techno" {
		t.Fatalf("snapshot at +4h = %+v", snapshot)
	}
}

func testVotes(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		v := store.Vote{ID: fmt.Sprintf("v%d", i), ContributorID: "c1", ItemID: "item-a", Category: "House", CastAt: base.Add(time.Duration(i) * time.Minute)}
		if err := repo.InsertVote(ctx, v); err != nil {
			t.Fatalf("InsertVote: %v", err)
		}
	}
	pending, err := repo.PendingVotes(ctx, "item-a")
	if err != nil || len(pending) != 3 {
		t.Fatalf("PendingVotes = %+v, %v", pending, err)
	}
	items, err := repo.ItemsWithPendingVotes(ctx)
	if err != nil || !slices.Equal(items, []string{"item-a"}) {
		t.Fatalf("ItemsWithPendingVotes = %v, %v", items, err)
	}
	for i := range pending {
		pending[i].Correct = i == 0
		pending[i].ScoredAt = base.Add(time.Hour + time.Duration(i)*time.Second)
	}
	if err := repo.MarkVotesScored(ctx, pending); err != nil {
		t.Fatalf("MarkVotesScored: %v", err)
	}
	if pending, _ := repo.PendingVotes(ctx, "item-a"); len(pending) != 0 {
		t.Fatalf("votes still pending: %+v", pending)
	}
	recent, err := repo.RecentScoredVotes(ctx, "c1", time.Time{}, 2)
	if err != nil || len(recent) != 2 || recent[0].ID != "v2" {
		t.Fatalf("RecentScoredVotes = %+v, %v", recent, err)
	}
	recent, err = repo.RecentScoredVotes(ctx, "c1", base.Add(time.Hour), 0)
	if err != nil || len(recent) != 2 {
		t.Fatalf("RecentScoredVotes since = %+v, %v", recent, err)
	}

	c := store.Contributor{ID: "c1", State: store.PenaltyMonitored, Multiplier: 0.5,
		DomainAccuracy: map[string]float64{"House": 0.25}, DomainVotes: map[string]int{"House": 12}, CreatedAt: base}
	ev := store.ReputationEvent{ID: "e1", ContributorID: "c1", Kind: store.EventTransition, From: store.PenaltyTrusted, To: store.PenaltyMonitored, At: base}
	if err := repo.SaveContributor(ctx, c, []store.ReputationEvent{ev}); err != nil {
		t.Fatalf("SaveContributor: %v", err)
	}
	got, err := repo.GetContributor(ctx, "c1")
	if err != nil || got.State != store.PenaltyMonitored || got.DomainVotes["House"] != 12 {
		t.Fatalf("GetContributor = %+v, %v", got, err)
	}
	events, err := repo.ListReputationEvents(ctx, "c1")
	if err != nil || len(events) != 1 || events[0].To != store.PenaltyMonitored {
		t.Fatalf("ListReputationEvents = %+v, %v", events, err)
	}
	if _, err := repo.GetContributor(ctx, "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testProfiles(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	version, profiles, err := repo.CurrentProfiles(ctx)
	if err != nil || version != 0 || len(profiles) != 0 {
		t.Fatalf("initial CurrentProfiles = %d, %v, %v", version, profiles, err)
	}
	run := store.DiscoveryRun{ID: "run-1", SnapshotAt: base, StartedAt: base, Status: store.RunRunning}
	if err := repo.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	p := store.EntityProfile{EntityKey: "artist:x", Kind: store.EntityArtist, TopCategory: "Breaks",
		Distribution: map[string]float64{"Breaks": 0.9}, SampleSize: 47, Strength: store.StrengthStrong, LastUpdated: base}
	run.Status = store.RunCompleted
	run.PublishedVersion = 1
	if err := repo.PublishProfiles(ctx, run, 1, []store.EntityProfile{p}); err != nil {
		t.Fatalf("PublishProfiles: %v", err)
	}
	if err := repo.PublishProfiles(ctx, run, 1, nil); !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("expected version conflict on stale publish, got %v", err)
	}
	version, profiles, err = repo.CurrentProfiles(ctx)
	if err != nil || version != 1 || len(profiles) != 1 || profiles[0].SampleSize != 47 {
		t.Fatalf("CurrentProfiles = %d, %+v, %v", version, profiles, err)
	}
	if _, err := repo.LatestIncompleteRun(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("completed run should not be resumable, got %v", err)
	}
}

func testRuns(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	run := store.DiscoveryRun{ID: "run-1", SnapshotAt: base, StartedAt: base, Status: store.RunRunning}
	if err := repo.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	p := store.EntityProfile{EntityKey: "label:y", Kind: store.EntityLabel, TopCategory: "House"}
	if err := repo.StageEntity(ctx, store.StagedEntity{RunID: "run-1", EntityKey: "label:y", Outcome: store.StageProfiled, Profile: &p, ItemIDs: []string{"a", "b"}}); err != nil {
		t.Fatalf("StageEntity: %v", err)
	}
	if err := repo.StageEntity(ctx, store.StagedEntity{RunID: "run-1", EntityKey: "artist:z", Outcome: store.StageInsufficient}); err != nil {
		t.Fatalf("StageEntity: %v", err)
	}
	run.Status = store.RunCancelled
	run.Processed = 2
	if err := repo.UpdateRun(ctx, run); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	resumable, err := repo.LatestIncompleteRun(ctx)
	if err != nil || resumable.ID != "run-1" || !resumable.SnapshotAt.Equal(base) || resumable.Processed != 2 {
		t.Fatalf("LatestIncompleteRun = %+v, %v", resumable, err)
	}
	staged, err := repo.StagedEntities(ctx, "run-1")
	if err != nil || len(staged) != 2 {
		t.Fatalf("StagedEntities = %+v, %v", staged, err)
	}
	if st := staged["label:y"]; st.Profile == nil || st.Profile.TopCategory != "House" || len(st.ItemIDs) != 2 {
		t.Fatalf("staged profile = %+v", st)
	}
	runs, err := repo.ListRuns(ctx, 5)
	if err != nil || len(runs) != 1 {
		t.Fatalf("ListRuns = %+v, %v", runs, err)
	}
}
