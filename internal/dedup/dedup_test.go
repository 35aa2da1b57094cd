package dedup_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"cratemind/internal/dedup"
	"cratemind/internal/logging"
	"cratemind/internal/services"
	"cratemind/internal/store"
	"cratemind/internal/testsupport"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*dedup.Service, store.Repository) {
	t.Helper()
	repo := testsupport.NewMemStore(t)
	clock := testsupport.NewClock(t0)
	return dedup.NewService(repo, logging.NewNop(), nil, clock.Now), repo
}

func TestNormalizeHash(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "abc123", want: "abc123"},
		{in: "  ABC123DEF  ", want: "abc123def"},
		{in: "abc12", wantErr: true},
		{in: "xyz123", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range tests {
		got, err := dedup.NormalizeHash(tc.in)
		if tc.wantErr {
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("NormalizeHash(%q) error = %v, want validation", tc.in, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("NormalizeHash(%q) = %q, %v", tc.in, got, err)
		}
	}
}

// Two files with one hash: the earlier discovery is canonical and the waste
// is the size of the copy.
func TestDuplicateGroupScenario(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	first, err := svc.Ingest(ctx, dedup.IngestRequest{ContentHash: "abc123", Path: "/a.mp3", SizeBytes: 5_000_000, DiscoveredAt: t0})
	if err != nil {
		t.Fatalf("ingest first: %v", err)
	}
	if !first.IsNew || first.GroupID != "" {
		t.Fatalf("first ingest should be new and ungrouped: %+v", first)
	}
	second, err := svc.Ingest(ctx, dedup.IngestRequest{ContentHash: "abc123", Path: "/b.mp3", SizeBytes: 5_000_000, DiscoveredAt: t0.Add(time.Hour)})
	if err != nil {
		t.Fatalf("ingest second: %v", err)
	}
	if !second.IsNew || second.GroupID == "" || second.CanonicalItemID != first.ItemID {
		t.Fatalf("second ingest should join a group led by the first item: %+v", second)
	}

	group, err := svc.Group(ctx, "ABC123")
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if group.DuplicateCount() != 2 || group.WasteBytes != 5_000_000 || group.CanonicalItemID != first.ItemID {
		t.Fatalf("unexpected group: %+v", group)
	}

	canonical, err := svc.Canonical(ctx, second.ItemID)
	if err != nil || canonical.ID != first.ItemID {
		t.Fatalf("Canonical(second) = %+v, %v", canonical, err)
	}
	byPath, err := svc.CanonicalByPath(ctx, "/b.mp3")
	if err != nil || byPath.ID != first.ItemID {
		t.Fatalf("CanonicalByPath = %+v, %v", byPath, err)
	}

	again, err := svc.Ingest(ctx, dedup.IngestRequest{ContentHash: "abc123", Path: "/a.mp3", SizeBytes: 5_000_000})
	if err != nil {
		t.Fatalf("re-ingest: %v", err)
	}
	if again.IsNew || again.ItemID != first.ItemID {
		t.Fatalf("re-ingest should be a no-op: %+v", again)
	}

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Items != 2 || stats.UniqueHashes != 1 || stats.Groups != 1 || stats.WasteBytes != 5_000_000 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestSelectCanonicalTieBreaks(t *testing.T) {
	tests := []struct {
		name    string
		members []store.Item
		want    string
	}{
		{
			name: "earliest discovery",
			members: []store.Item{
				{ID: "a", SizeBytes: 10, DiscoveredAt: t0.Add(time.Minute)},
				{ID: "b", SizeBytes: 5, DiscoveredAt: t0},
			},
			want: "b",
		},
		{
			name: "larger size on equal discovery",
			members: []store.Item{
				{ID: "a", SizeBytes: 10, DiscoveredAt: t0},
				{ID: "b", SizeBytes: 20, DiscoveredAt: t0},
			},
			want: "b",
		},
		{
			name: "smaller id on full tie",
			members: []store.Item{
				{ID: "b", SizeBytes: 10, DiscoveredAt: t0},
				{ID: "a", SizeBytes: 10, DiscoveredAt: t0},
			},
			want: "a",
		},
		{
			name: "creation time when discovery unknown",
			members: []store.Item{
				{ID: "a", SizeBytes: 10, CreatedAt: t0.Add(time.Hour)},
				{ID: "b", SizeBytes: 10, CreatedAt: t0},
			},
			want: "b",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := dedup.SelectCanonical(tc.members); got.ID != tc.want {
				t.Fatalf("SelectCanonical = %s, want %s", got.ID, tc.want)
			}
		})
	}
}

func TestConcurrentIngestConvergesOnOneCanonical(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Ingest(ctx, dedup.IngestRequest{
				ContentHash:  "deadbeef",
				Path:         fmt.Sprintf("/copies/%02d.flac", i),
				SizeBytes:    1000,
				DiscoveredAt: t0.Add(time.Duration(i) * time.Second),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}

	group, err := svc.Group(ctx, "deadbeef")
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if group.DuplicateCount() != workers {
		t.Fatalf("expected %d members, got %d", workers, group.DuplicateCount())
	}
	canonical, err := repo.GetItem(ctx, group.CanonicalItemID)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if canonical.Path != "/copies/00.flac" {
		t.Fatalf("canonical should be the earliest discovery, got %s", canonical.Path)
	}
	if group.WasteBytes != int64(workers-1)*1000 {
		t.Fatalf("unexpected waste: %d", group.WasteBytes)
	}
	items, err := repo.ItemsByHash(ctx, "deadbeef")
	if err != nil {
		t.Fatalf("ItemsByHash: %v", err)
	}
	for _, it := range items {
		if it.GroupID != group.ID {
			t.Fatalf("item %s not linked to group: %q", it.ID, it.GroupID)
		}
	}
}

func TestIngestValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	for _, req := range []dedup.IngestRequest{
		{ContentHash: "nothex", Path: "/x"},
		{ContentHash: "abc123", Path: "  "},
		{ContentHash: "abc123", Path: "/x", SizeBytes: -1},
	} {
		if _, err := svc.Ingest(ctx, req); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("Ingest(%+v) error = %v, want validation", req, err)
		}
	}
}

func TestUnknownHashIsNotFound(t *testing.T) {
	svc, _ := newService(t)
	if _, err := svc.CanonicalByHash(context.Background(), "abcdef"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStorageFailureIsRetriable(t *testing.T) {
	repo := testsupport.NewMemStore(t)
	svc := dedup.NewService(repo, logging.NewNop(), nil, nil)
	_ = repo.Close()
	_, err := svc.Ingest(context.Background(), dedup.IngestRequest{ContentHash: "abc123", Path: "/a"})
	if !errors.Is(err, services.ErrUnavailable) || !services.IsRetriable(err) {
		t.Fatalf("expected retriable unavailable error, got %v", err)
	}
}
