package profiles

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync/atomic"
	"time"

	"cratemind/internal/logging"
	"cratemind/internal/metrics"
	"cratemind/internal/services"
	"cratemind/internal/store"
)

// Snapshot is one immutable generation of entity profiles.
type Snapshot struct {
	Version     int64
	PublishedAt time.Time
	profiles    map[string]store.EntityProfile
}

// Lookup returns a copy of the profile for key.
func (s *Snapshot) Lookup(key string) (store.EntityProfile, bool) {
	if s == nil {
		return store.EntityProfile{}, false
	}
	p, ok := s.profiles[key]
	if !ok {
		return store.EntityProfile{}, false
	}
	return p.Clone(), true
}

// Len is the number of profiles in the generation.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.profiles)
}

// Profiles returns copies of every profile sorted by entity key.
func (s *Snapshot) Profiles() []store.EntityProfile {
	if s == nil {
		return nil
	}
	keys := slices.Sorted(maps.Keys(s.profiles))
	out := make([]store.EntityProfile, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.profiles[k].Clone())
	}
	return out
}

// NewSnapshot builds an immutable generation from profiles.
func NewSnapshot(version int64, publishedAt time.Time, profiles []store.EntityProfile) *Snapshot {
	m := make(map[string]store.EntityProfile, len(profiles))
	for _, p := range profiles {
		m[p.EntityKey] = p.Clone()
	}
	return &Snapshot{Version: version, PublishedAt: publishedAt, profiles: m}
}

// Store serves the current generation to concurrent readers.
type Store struct {
	current atomic.Pointer[Snapshot]
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewStore returns a store holding the empty version-zero generation.
func NewStore(logger *slog.Logger, m *metrics.Metrics) *Store {
	s := &Store{logger: logging.NewComponentLogger(logger, "profiles"), metrics: m}
	s.current.Store(NewSnapshot(0, time.Time{}, nil))
	return s
}

// Current returns the published generation. It never returns nil.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Publish swaps in a new generation. Older versions are ignored so a slow
// publisher cannot roll readers back.
func (s *Store) Publish(snap *Snapshot) bool {
	for {
		cur := s.current.Load()
		if cur != nil && snap.Version <= cur.Version {
			return false
		}
		if s.current.CompareAndSwap(cur, snap) {
			s.metrics.SetProfileVersion(snap.Version)
			s.logger.Info("profile generation published",
				logging.Int64("version", snap.Version),
				logging.Int("profiles", snap.Len()),
			)
			return true
		}
	}
}

// Load reads the published generation from the repository, typically at
// startup.
func (s *Store) Load(ctx context.Context, repo store.ProfileRepository) error {
	version, profiles, err := repo.CurrentProfiles(ctx)
	if err != nil {
		return services.WrapStore("profiles", "load", err)
	}
	var published time.Time
	for _, p := range profiles {
		if p.LastUpdated.After(published) {
			published = p.LastUpdated
		}
	}
	if version > 0 {
		s.Publish(NewSnapshot(version, published, profiles))
	}
	return nil
}
