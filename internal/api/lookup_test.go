package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"cratemind/internal/classifier"
	"cratemind/internal/config"
	"cratemind/internal/dedup"
	"cratemind/internal/logging"
	"cratemind/internal/metrics"
	"cratemind/internal/services"
	"cratemind/internal/signals"
	"cratemind/internal/store"
	"cratemind/internal/testsupport"
)

type fixture struct {
	classifier *classifier.Classifier
	lookup     *LookupService
	metrics    *metrics.Metrics
	repo       store.Repository
}

func newFixture(t *testing.T, mutate ...func(*config.Config)) *fixture {
	t.Helper()
	opts := []testsupport.ConfigOption{testsupport.WithMemoryStorage()}
	for _, m := range mutate {
		opts = append(opts, testsupport.WithConfig(m))
	}
	cfg := testsupport.NewConfig(t, opts...)
	m, err := metrics.New(nil)
	if err != nil {
		t.Fatalf("metrics.New: %v", err)
	}
	repo := testsupport.NewMemStore(t)
	c := classifier.New(classifier.Options{
		Config:  cfg,
		Repo:    repo,
		Logger:  logging.NewNop(),
		Metrics: m,
		Now:     testsupport.NewClock(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)).Now,
	})
	return &fixture{
		classifier: c,
		lookup:     NewLookupService(cfg.API, c.Dedup(), repo, logging.NewNop(), m),
		metrics:    m,
		repo:       repo,
	}
}

func (f *fixture) item(t *testing.T, hash, path string) string {
	t.Helper()
	res, err := f.classifier.Ingest(context.Background(), dedup.IngestRequest{ContentHash: hash, Path: path, SizeBytes: 10})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	return res.ItemID
}

func (f *fixture) signal(t *testing.T, itemID string, source store.SourceType, sourceID, category string) {
	t.Helper()
	if _, err := f.classifier.Submit(context.Background(), signals.SubmitRequest{
		ItemID: itemID, SourceType: source, SourceID: sourceID, Category: category, SampleSize: 50,
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
}

func TestLookupAnswers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resolved := f.item(t, "aaaaaa01", "/lib/resolved.flac")
	f.signal(t, resolved, store.SourceExactMatch, "beatport", "Techno")
	disputed := f.item(t, "aaaaaa02", "/lib/disputed.flac")
	f.signal(t, disputed, store.SourceExactMatch, "beatport", "Techno")
	f.signal(t, disputed, store.SourceExactMatch, "discogs", "House")
	f.item(t, "aaaaaa03", "/lib/pending.flac")

	tests := []struct {
		name     string
		lookup   func() (Answer, error)
		resolved bool
		category string
		reason   string
	}{
		{"resolved by hash", func() (Answer, error) { return f.lookup.ByHash(ctx, "AAAAAA01") }, true, "Techno", ""},
		{"resolved by path", func() (Answer, error) { return f.lookup.ByPath(ctx, " /lib/resolved.flac ") }, true, "Techno", ""},
		{"disputed", func() (Answer, error) { return f.lookup.ByHash(ctx, "aaaaaa02") }, false, "", ReasonDisputed},
		{"no result yet", func() (Answer, error) { return f.lookup.ByHash(ctx, "aaaaaa03") }, false, "", ReasonNotClassified},
		{"unknown hash", func() (Answer, error) { return f.lookup.ByHash(ctx, "ffffffff") }, false, "", ReasonNotFound},
		{"unknown path", func() (Answer, error) { return f.lookup.ByPath(ctx, "/nowhere.flac") }, false, "", ReasonNotFound},
		{"malformed hash", func() (Answer, error) { return f.lookup.ByHash(ctx, "not-a-hash") }, false, "", ReasonInvalid},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			answer, err := tc.lookup()
			if err != nil {
				t.Fatalf("lookup: %v", err)
			}
			if answer.Resolved != tc.resolved || answer.Category != tc.category || answer.Reason != tc.reason {
				t.Fatalf("unexpected answer: %+v", answer)
			}
		})
	}
}

func TestLookupBelowFloorIsUnresolved(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.API.ConfidenceFloor = 0.95 })
	id := f.item(t, "bbbbbb01", "/lib/community.flac")
	// Community signals alone are capped at 0.90.
	f.signal(t, id, store.SourceCommunityPattern, "crowd", "Trance")

	answer, err := f.lookup.ByHash(context.Background(), "bbbbbb01")
	if err != nil {
		t.Fatalf("ByHash: %v", err)
	}
	if answer.Resolved || answer.Reason != ReasonInsufficientConfidence {
		t.Fatalf("expected insufficient confidence, got %+v", answer)
	}
	if answer.Category != "" || answer.Subcategory != "" {
		t.Fatalf("category must not leak below the floor: %+v", answer)
	}
	if answer.Confidence <= 0 || answer.Confidence >= 0.95 {
		t.Fatalf("unexpected confidence %v", answer.Confidence)
	}
	if n, err := testutil.GatherAndCount(f.metrics.Registry(), "cratemind_lookups_total"); err != nil || n != 1 {
		t.Fatalf("expected one lookup series, got %d (%v)", n, err)
	}
}

func TestBatchPreservesOrder(t *testing.T) {
	f := newFixture(t)
	var queries []Query
	for i := range 30 {
		hash := fmt.Sprintf("cccc%04d", i)
		id := f.item(t, hash, fmt.Sprintf("/lib/%d.flac", i))
		category := "House"
		if i%2 == 1 {
			category = "Techno"
		}
		f.signal(t, id, store.SourceExactMatch, "beatport", category)
		queries = append(queries, Query{Hash: hash})
	}
	queries = append(queries, Query{Path: "/lib/3.flac"}, Query{}, Query{Hash: "dddddddd"})

	answers, err := f.lookup.Batch(context.Background(), queries)
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if len(answers) != len(queries) {
		t.Fatalf("expected %d answers, got %d", len(queries), len(answers))
	}
	for i := range 30 {
		want := "House"
		if i%2 == 1 {
			want = "Techno"
		}
		if !answers[i].Resolved || answers[i].Category != want {
			t.Fatalf("answer %d = %+v, want %s", i, answers[i], want)
		}
	}
	if answers[30].Category != "Techno" || answers[31].Reason != ReasonInvalid || answers[32].Reason != ReasonNotFound {
		t.Fatalf("unexpected tail answers: %+v", answers[30:])
	}
}

func TestBatchLimitAndStorageFailure(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.API.BatchLimit = 2 })
	_, err := f.lookup.Batch(context.Background(), make([]Query, 3))
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	_ = f.repo.Close()
	_, err = f.lookup.Batch(context.Background(), []Query{{Hash: "eeeeeeee"}})
	if !errors.Is(err, services.ErrUnavailable) || !services.IsRetriable(err) {
		t.Fatalf("expected retriable unavailable error, got %v", err)
	}
}

type blockingFinder struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (b *blockingFinder) CanonicalByHash(context.Context, string) (store.Item, error) {
	if b.calls.Add(1) == 1 {
		close(b.entered)
	}
	<-b.release
	return store.Item{ID: "item-1", ContentHash: "abcabc"}, nil
}

func (b *blockingFinder) CanonicalByPath(context.Context, string) (store.Item, error) {
	return store.Item{}, services.Wrap(services.ErrNotFound, "test", "path", "none", nil)
}

type fixedResults struct{}

func (fixedResults) GetResult(context.Context, string) (store.Result, error) {
	return store.Result{ItemID: "item-1", PrimaryCategory: "Ambient", Confidence: 0.9, Status: store.StatusResolved}, nil
}

func TestConcurrentLookupsAreCoalesced(t *testing.T) {
	finder := &blockingFinder{entered: make(chan struct{}), release: make(chan struct{})}
	svc := NewLookupService(config.Default().API, finder, fixedResults{}, logging.NewNop(), nil)

	var wg sync.WaitGroup
	answers := make([]Answer, 4)
	for i := range answers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			answers[i], _ = svc.ByHash(context.Background(), "abcabc")
		}()
	}
	<-finder.entered
	time.Sleep(100 * time.Millisecond)
	close(finder.release)
	wg.Wait()

	if got := finder.calls.Load(); got >= int32(len(answers)) {
		t.Fatalf("expected concurrent lookups to share a call, got %d calls", got)
	}
	for _, a := range answers {
		if !a.Resolved || a.Category != "Ambient" {
			t.Fatalf("unexpected shared answer %+v", a)
		}
	}
}

type cancelAwareFinder struct {
	blockingFinder
}

func (c *cancelAwareFinder) CanonicalByHash(ctx context.Context, hash string) (store.Item, error) {
	if c.calls.Add(1) == 1 {
		close(c.entered)
	}
	select {
	case <-c.release:
		return store.Item{ID: "item-1", ContentHash: hash}, nil
	case <-ctx.Done():
		return store.Item{}, ctx.Err()
	}
}

func TestCancelledCallerDoesNotFailSharedLookup(t *testing.T) {
	finder := &cancelAwareFinder{blockingFinder{entered: make(chan struct{}), release: make(chan struct{})}}
	svc := NewLookupService(config.Default().API, finder, fixedResults{}, logging.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.ByHash(ctx, "abcabc")
		firstErr <- err
	}()
	<-finder.entered

	second := make(chan Answer, 1)
	go func() {
		answer, err := svc.ByHash(context.Background(), "abcabc")
		if err != nil {
			t.Errorf("second caller: %v", err)
		}
		second <- answer
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("cancelled caller got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller kept waiting for the shared lookup")
	}

	close(finder.release)
	select {
	case answer := <-second:
		if !answer.Resolved || answer.Category != "Ambient" {
			t.Fatalf("second caller answer = %+v", answer)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second caller never answered")
	}
}
