// Package memstore is the in-memory store.Repository variant.
package memstore

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"cratemind/internal/store"
)

type itemKey struct {
	hash string
	path string
}

// Store keeps every record in process memory behind one mutex.
type Store struct {
	mu sync.RWMutex

	items     map[string]store.Item
	itemIndex map[itemKey]string
	groups    map[string]store.DuplicateGroup // keyed by content hash

	signals     map[string]store.Signal
	itemSignals map[string][]string

	results map[string]store.Result
	history []store.Result

	contributors map[string]store.Contributor
	events       []store.ReputationEvent
	votes        map[string]store.Vote
	voteOrder    []string

	profileVersion int64
	profiles       []store.EntityProfile
	runs           map[string]store.DiscoveryRun
	runOrder       []string
	staged         map[string]map[string]store.StagedEntity

	closed bool
}

var _ store.Repository = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		items:        make(map[string]store.Item),
		itemIndex:    make(map[itemKey]string),
		groups:       make(map[string]store.DuplicateGroup),
		signals:      make(map[string]store.Signal),
		itemSignals:  make(map[string][]string),
		results:      make(map[string]store.Result),
		contributors: make(map[string]store.Contributor),
		votes:        make(map[string]store.Vote),
		runs:         make(map[string]store.DiscoveryRun),
		staged:       make(map[string]map[string]store.StagedEntity),
	}
}

// Close marks the store unavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) check(ctx context.Context) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if s.closed {
		return fmt.Errorf("%w: store closed", store.ErrUnavailable)
	}
	return nil
}

func (s *Store) IngestItem(ctx context.Context, item store.Item, group store.GroupFunc) (store.IngestOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return store.IngestOutcome{}, err
	}

	key := itemKey{hash: item.ContentHash, path: item.Path}
	if id, ok := s.itemIndex[key]; ok {
		existing := s.items[id]
		out := store.IngestOutcome{Item: existing}
		if g, ok := s.groups[item.ContentHash]; ok {
			g.MemberIDs = slices.Clone(g.MemberIDs)
			out.Group = &g
		}
		return out, nil
	}

	s.items[item.ID] = item
	s.itemIndex[key] = item.ID

	members := s.membersLocked(item.ContentHash)
	out := store.IngestOutcome{IsNew: true}
	if len(members) >= 2 && group != nil {
		var existing *store.DuplicateGroup
		if g, ok := s.groups[item.ContentHash]; ok {
			existing = &g
		}
		g := group(item.ContentHash, existing, members)
		s.groups[item.ContentHash] = g
		for _, m := range members {
			m.GroupID = g.ID
			s.items[m.ID] = m
		}
		copyGroup := g
		copyGroup.MemberIDs = slices.Clone(g.MemberIDs)
		out.Group = &copyGroup
	}
	out.Item = s.items[item.ID]
	return out, nil
}

func (s *Store) membersLocked(hash string) []store.Item {
	var members []store.Item
	for _, it := range s.items {
		if it.ContentHash == hash {
			members = append(members, it)
		}
	}
	slices.SortFunc(members, func(a, b store.Item) int { return cmp.Compare(a.ID, b.ID) })
	return members
}

func (s *Store) GetItem(ctx context.Context, id string) (store.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return store.Item{}, err
	}
	item, ok := s.items[id]
	if !ok {
		return store.Item{}, store.ErrNotFound
	}
	return item, nil
}

func (s *Store) ItemsByHash(ctx context.Context, hash string) ([]store.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	return s.membersLocked(hash), nil
}

func (s *Store) ItemByPath(ctx context.Context, path string) (store.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return store.Item{}, err
	}
	var found []store.Item
	for _, it := range s.items {
		if it.Path == path {
			found = append(found, it)
		}
	}
	if len(found) == 0 {
		return store.Item{}, store.ErrNotFound
	}
	// Most recently discovered content at a path wins.
	slices.SortFunc(found, func(a, b store.Item) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return found[0], nil
}

func (s *Store) ItemsByID(ctx context.Context, ids []string) (map[string]store.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	out := make(map[string]store.Item, len(ids))
	for _, id := range ids {
		if it, ok := s.items[id]; ok {
			out[id] = it
		}
	}
	return out, nil
}

func (s *Store) GroupByHash(ctx context.Context, hash string) (store.DuplicateGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return store.DuplicateGroup{}, err
	}
	g, ok := s.groups[hash]
	if !ok {
		return store.DuplicateGroup{}, store.ErrNotFound
	}
	g.MemberIDs = slices.Clone(g.MemberIDs)
	return g, nil
}

func (s *Store) Stats(ctx context.Context) (store.ItemStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return store.ItemStats{}, err
	}
	hashes := make(map[string]struct{})
	for _, it := range s.items {
		hashes[it.ContentHash] = struct{}{}
	}
	stats := store.ItemStats{
		Items:        len(s.items),
		UniqueHashes: len(hashes),
		Groups:       len(s.groups),
		Signals:      len(s.signals),
	}
	for _, g := range s.groups {
		stats.WasteBytes += g.WasteBytes
	}
	return stats, nil
}

func (s *Store) InsertSignal(ctx context.Context, sig store.Signal) (store.Signal, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return store.Signal{}, false, err
	}
	if existing, ok := s.signals[sig.ID]; ok {
		return existing, false, nil
	}
	if _, ok := s.items[sig.ItemID]; !ok {
		return store.Signal{}, false, fmt.Errorf("signal item %s: %w", sig.ItemID, store.ErrNotFound)
	}
	s.signals[sig.ID] = sig
	s.itemSignals[sig.ItemID] = append(s.itemSignals[sig.ItemID], sig.ID)
	return sig, true, nil
}

func (s *Store) ListSignals(ctx context.Context, itemID string) ([]store.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	ids := s.itemSignals[itemID]
	out := make([]store.Signal, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.signals[id])
	}
	slices.SortStableFunc(out, func(a, b store.Signal) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) GetResult(ctx context.Context, itemID string) (store.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return store.Result{}, err
	}
	r, ok := s.results[itemID]
	if !ok {
		return store.Result{}, store.ErrNotFound
	}
	return r.Clone(), nil
}

func (s *Store) SaveResult(ctx context.Context, result store.Result, expectedVersion int64) (store.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return store.Result{}, err
	}
	current, ok := s.results[result.ItemID]
	var currentVersion int64
	if ok {
		currentVersion = current.Version
	}
	if currentVersion != expectedVersion {
		return store.Result{}, fmt.Errorf("%w: item %s at version %d, expected %d",
			store.ErrVersionConflict, result.ItemID, currentVersion, expectedVersion)
	}
	saved := result.Clone()
	saved.Version = expectedVersion + 1
	s.results[result.ItemID] = saved
	s.history = append(s.history, saved.Clone())
	return saved.Clone(), nil
}

func (s *Store) ResultsAsOf(ctx context.Context, at time.Time) ([]store.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	latest := make(map[string]store.Result)
	for _, r := range s.history {
		if r.UpdatedAt.After(at) {
			continue
		}
		if prev, ok := latest[r.ItemID]; !ok || r.Version > prev.Version {
			latest[r.ItemID] = r
		}
	}
	out := make([]store.Result, 0, len(latest))
	for _, key := range slices.Sorted(maps.Keys(latest)) {
		out = append(out, latest[key].Clone())
	}
	return out, nil
}

func (s *Store) ListResultsByStatus(ctx context.Context, statuses ...store.Status) ([]store.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var out []store.Result
	for _, key := range slices.Sorted(maps.Keys(s.results)) {
		r := s.results[key]
		if len(statuses) == 0 || slices.Contains(statuses, r.Status) {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}
