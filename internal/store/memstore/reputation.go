package memstore

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"time"

	"cratemind/internal/store"
)

func (s *Store) GetContributor(ctx context.Context, id string) (store.Contributor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return store.Contributor{}, err
	}
	c, ok := s.contributors[id]
	if !ok {
		return store.Contributor{}, store.ErrNotFound
	}
	return c.Clone(), nil
}

func (s *Store) ListContributors(ctx context.Context) ([]store.Contributor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	out := make([]store.Contributor, 0, len(s.contributors))
	for _, id := range slices.Sorted(maps.Keys(s.contributors)) {
		out = append(out, s.contributors[id].Clone())
	}
	return out, nil
}

func (s *Store) SaveContributor(ctx context.Context, c store.Contributor, events []store.ReputationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	s.contributors[c.ID] = c.Clone()
	s.events = append(s.events, events...)
	return nil
}

func (s *Store) ListReputationEvents(ctx context.Context, contributorID string) ([]store.ReputationEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var out []store.ReputationEvent
	for _, ev := range s.events {
		if ev.ContributorID == contributorID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *Store) InsertVote(ctx context.Context, v store.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	if _, ok := s.votes[v.ID]; ok {
		return nil
	}
	s.votes[v.ID] = v
	s.voteOrder = append(s.voteOrder, v.ID)
	return nil
}

func (s *Store) PendingVotes(ctx context.Context, itemID string) ([]store.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var out []store.Vote
	for _, id := range s.voteOrder {
		v := s.votes[id]
		if v.ItemID == itemID && !v.Scored {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *Store) ItemsWithPendingVotes(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, v := range s.votes {
		if !v.Scored {
			seen[v.ItemID] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(seen)), nil
}

func (s *Store) MarkVotesScored(ctx context.Context, votes []store.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	for _, v := range votes {
		if _, ok := s.votes[v.ID]; !ok {
			return store.ErrNotFound
		}
	}
	for _, v := range votes {
		v.Scored = true
		s.votes[v.ID] = v
	}
	return nil
}

func (s *Store) RecentScoredVotes(ctx context.Context, contributorID string, since time.Time, limit int) ([]store.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var out []store.Vote
	for _, id := range s.voteOrder {
		v := s.votes[id]
		if v.ContributorID != contributorID || !v.Scored || !v.ScoredAt.After(since) {
			continue
		}
		out = append(out, v)
	}
	slices.SortStableFunc(out, func(a, b store.Vote) int {
		if c := b.ScoredAt.Compare(a.ScoredAt); c != 0 {
			return c
		}
		if c := b.CastAt.Compare(a.CastAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
