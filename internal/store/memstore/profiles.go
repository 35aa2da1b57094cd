package memstore

import (
	"context"
	"fmt"
	"slices"

	"cratemind/internal/store"
)

func (s *Store) CurrentProfiles(ctx context.Context) (int64, []store.EntityProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return 0, nil, err
	}
	out := make([]store.EntityProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p.Clone())
	}
	return s.profileVersion, out, nil
}

func (s *Store) PublishProfiles(ctx context.Context, run store.DiscoveryRun, version int64, profiles []store.EntityProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	if s.profileVersion != version-1 {
		return fmt.Errorf("%w: profiles at version %d, publishing %d", store.ErrVersionConflict, s.profileVersion, version)
	}
	next := make([]store.EntityProfile, 0, len(profiles))
	for _, p := range profiles {
		next = append(next, p.Clone())
	}
	s.profiles = next
	s.profileVersion = version
	s.putRunLocked(run)
	delete(s.staged, run.ID)
	return nil
}

func (s *Store) CreateRun(ctx context.Context, run store.DiscoveryRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	if _, ok := s.runs[run.ID]; ok {
		return fmt.Errorf("run %s exists", run.ID)
	}
	s.putRunLocked(run)
	return nil
}

func (s *Store) UpdateRun(ctx context.Context, run store.DiscoveryRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	if _, ok := s.runs[run.ID]; !ok {
		return store.ErrNotFound
	}
	s.putRunLocked(run)
	return nil
}

func (s *Store) putRunLocked(run store.DiscoveryRun) {
	if _, ok := s.runs[run.ID]; !ok {
		s.runOrder = append(s.runOrder, run.ID)
	}
	s.runs[run.ID] = run
}

func (s *Store) LatestIncompleteRun(ctx context.Context) (store.DiscoveryRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return store.DiscoveryRun{}, err
	}
	for i := len(s.runOrder) - 1; i >= 0; i-- {
		run := s.runs[s.runOrder[i]]
		if run.Status.Incomplete() {
			return run, nil
		}
		if run.Status == store.RunCompleted {
			break
		}
	}
	return store.DiscoveryRun{}, store.ErrNotFound
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]store.DiscoveryRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var out []store.DiscoveryRun
	for i := len(s.runOrder) - 1; i >= 0; i-- {
		out = append(out, s.runs[s.runOrder[i]])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) StageEntity(ctx context.Context, staged store.StagedEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	if _, ok := s.runs[staged.RunID]; !ok {
		return fmt.Errorf("stage entity for run %s: %w", staged.RunID, store.ErrNotFound)
	}
	byKey, ok := s.staged[staged.RunID]
	if !ok {
		byKey = make(map[string]store.StagedEntity)
		s.staged[staged.RunID] = byKey
	}
	staged.ItemIDs = slices.Clone(staged.ItemIDs)
	if staged.Profile != nil {
		p := staged.Profile.Clone()
		staged.Profile = &p
	}
	byKey[staged.EntityKey] = staged
	return nil
}

func (s *Store) StagedEntities(ctx context.Context, runID string) (map[string]store.StagedEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	out := make(map[string]store.StagedEntity, len(s.staged[runID]))
	for key, st := range s.staged[runID] {
		if st.Profile != nil {
			p := st.Profile.Clone()
			st.Profile = &p
		}
		st.ItemIDs = slices.Clone(st.ItemIDs)
		out[key] = st
	}
	return out, nil
}
