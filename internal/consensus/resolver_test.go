package consensus_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"cratemind/internal/consensus"
	"cratemind/internal/dedup"
	"cratemind/internal/logging"
	"cratemind/internal/profiles"
	"cratemind/internal/services"
	"cratemind/internal/signals"
	"cratemind/internal/store"
	"cratemind/internal/testsupport"
)

type recordingEscalator struct {
	mu    sync.Mutex
	items []string
}

func (r *recordingEscalator) Escalate(_ context.Context, result store.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, result.ItemID)
	return nil
}

type conflictingRepo struct {
	consensus.Repository
	saves int
}

func (c *conflictingRepo) SaveResult(context.Context, store.Result, int64) (store.Result, error) {
	c.saves++
	return store.Result{}, store.ErrVersionConflict
}

type env struct {
	repo      store.Repository
	dedup     *dedup.Service
	collector *signals.Collector
	clock     *testsupport.Clock
	escalator *recordingEscalator
	resolver  *consensus.Resolver
}

func newEnv(t *testing.T) env {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithMemoryStorage())
	repo := testsupport.NewMemStore(t)
	clock := testsupport.NewClock(now)
	dd := dedup.NewService(repo, logging.NewNop(), nil, clock.Now)
	esc := &recordingEscalator{}
	return env{
		repo:      repo,
		dedup:     dd,
		collector: signals.NewCollector(cfg, repo, dd, logging.NewNop(), nil, clock.Now),
		clock:     clock,
		escalator: esc,
		resolver: consensus.NewResolver(consensus.ResolverOptions{
			Repo:      repo,
			Canon:     dd,
			Profiles:  profiles.NewStore(logging.NewNop(), nil),
			Escalator: esc,
			Params:    consensus.ParamsFromConfig(cfg),
			Logger:    logging.NewNop(),
			Now:       clock.Now,
		}),
	}
}

func (e env) ingest(t *testing.T, hash, path string) string {
	t.Helper()
	res, err := e.dedup.Ingest(context.Background(), dedup.IngestRequest{ContentHash: hash, Path: path, SizeBytes: 10})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	return res.ItemID
}

func (e env) submit(t *testing.T, itemID string, source store.SourceType, sourceID, category string) {
	t.Helper()
	if _, _, err := e.collector.Submit(context.Background(), signals.SubmitRequest{
		ItemID: itemID, SourceType: source, SourceID: sourceID, Category: category,
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
}

func TestResolverPersistsVersions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	item := e.ingest(t, "abc123", "/a.mp3")
	e.submit(t, item, store.SourceExactMatch, "acoustid", "House")
	e.submit(t, item, store.SourceWeakHeuristic, "folder", "Techno")

	first, err := e.resolver.Resolve(ctx, item)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if first.Version != 1 || first.PrimaryCategory != "House" || first.Status != store.StatusResolved {
		t.Fatalf("unexpected first result: %+v", first)
	}
	second, err := e.resolver.Resolve(ctx, item)
	if err != nil {
		t.Fatalf("Resolve again: %v", err)
	}
	if second.Version != 2 {
		t.Fatalf("expected version 2, got %d", second.Version)
	}
}

func TestResolverSharesClassificationAcrossDuplicates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	canonical := e.ingest(t, "abc123", "/a.mp3")
	dup := e.ingest(t, "abc123", "/b.mp3")
	e.submit(t, dup, store.SourceExactMatch, "acoustid", "Trance")

	res, err := e.resolver.Resolve(ctx, dup)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.ItemID != canonical || res.PrimaryCategory != "Trance" {
		t.Fatalf("result should belong to the canonical item: %+v", res)
	}
}

func TestConcurrentResolvesSerialize(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	item := e.ingest(t, "abc123", "/a.mp3")

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := range writers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, _, err := e.collector.Submit(ctx, signals.SubmitRequest{
				ItemID: item, SourceType: store.SourceCommunityPattern,
				SourceID: fmt.Sprintf("voter-%d", i), Category: "House",
			}); err != nil {
				errs <- err
				return
			}
			_, err := e.resolver.Resolve(ctx, item)
			if err != nil && !errors.Is(err, services.ErrTransient) {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent resolve: %v", err)
	}

	final, err := e.resolver.Resolve(ctx, item)
	if err != nil {
		t.Fatalf("final resolve: %v", err)
	}
	if len(final.Breakdown) != writers {
		t.Fatalf("final result should see all %d signals, got %d", writers, len(final.Breakdown))
	}
}

func TestResolverSurfacesTransientAfterRetries(t *testing.T) {
	e := newEnv(t)
	item := e.ingest(t, "abc123", "/a.mp3")
	e.submit(t, item, store.SourceExactMatch, "acoustid", "House")

	repo := &conflictingRepo{Repository: e.repo}
	params := consensus.DefaultParams()
	resolver := consensus.NewResolver(consensus.ResolverOptions{
		Repo: repo, Canon: e.dedup, Params: params, Logger: logging.NewNop(),
	})
	_, err := resolver.Resolve(context.Background(), item)
	if !errors.Is(err, services.ErrTransient) || !services.IsRetriable(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if repo.saves != params.MaxRetries+1 {
		t.Fatalf("expected %d save attempts, got %d", params.MaxRetries+1, repo.saves)
	}
}

func TestResolverEscalatesPersistentDispute(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	item := e.ingest(t, "abc123", "/a.mp3")
	e.submit(t, item, store.SourceCommunityPattern, "a", "House")
	e.submit(t, item, store.SourceCommunityPattern, "b", "Techno")

	var last store.Result
	for range 4 {
		e.clock.Advance(time.Minute)
		res, err := e.resolver.Resolve(ctx, item)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		last = res
	}
	if last.Status != store.StatusUnderReview {
		t.Fatalf("expected under_review, got %s", last.Status)
	}
	if len(e.escalator.items) != 1 || e.escalator.items[0] != item {
		t.Fatalf("expected exactly one escalation, got %v", e.escalator.items)
	}

	e.submit(t, item, store.SourceExpertOverride, "curator", "Techno")
	res, err := e.resolver.Resolve(ctx, item)
	if err != nil {
		t.Fatalf("Resolve after override: %v", err)
	}
	if res.Status != store.StatusResolved || res.PrimaryCategory != "Techno" {
		t.Fatalf("expert override should resolve review: %+v", res)
	}
}

func TestResolveUnknownItem(t *testing.T) {
	e := newEnv(t)
	if _, err := e.resolver.Resolve(context.Background(), "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
