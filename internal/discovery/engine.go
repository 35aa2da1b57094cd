package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"cratemind/internal/config"
	"cratemind/internal/logging"
	"cratemind/internal/metrics"
	"cratemind/internal/profiles"
	"cratemind/internal/services"
	"cratemind/internal/store"
	"cratemind/internal/taxonomy"
)

// Repository is the persistence surface discovery needs.
type Repository interface {
	store.ItemRepository
	store.ResultRepository
	store.ProfileRepository
}

// Report summarises one Run.
type Report struct {
	RunID        string
	SnapshotAt   time.Time
	Resumed      bool
	Cancelled    bool
	Version      int64
	Entities     int
	Profiled     int
	Discarded    int
	Insufficient int
	Skipped      int
	// SkippedRecords counts malformed results left out of the snapshot.
	SkippedRecords int
}

// Engine runs discovery batches.
type Engine struct {
	repo       Repository
	profiles   *profiles.Store
	thresholds Thresholds
	lockPath   string
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	// afterEntity is a test hook called after each checkpoint.
	afterEntity func(key string)
}

// NewEngine constructs an engine. An empty lockPath disables the file lock.
func NewEngine(cfg *config.Config, repo Repository, snapshots *profiles.Store, lockPath string, logger *slog.Logger, m *metrics.Metrics, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{
		repo:       repo,
		profiles:   snapshots,
		thresholds: ThresholdsFromConfig(cfg.Discovery),
		lockPath:   lockPath,
		logger:     logging.NewComponentLogger(logger, "discovery"),
		metrics:    m,
		now:        now,
	}
}

// Run executes or resumes one discovery batch and publishes a new profile
// generation. When ctx is cancelled the current entity is finished, the run
// is left resumable and ctx.Err() is returned with a partial report.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	started := time.Now()
	unlock, err := e.acquire()
	if err != nil {
		return Report{}, err
	}
	defer unlock()

	run, resumed, err := e.prepareRun(ctx)
	if err != nil {
		e.metrics.RecordDiscoveryRun("failed", time.Since(started))
		return Report{}, err
	}
	ctx = services.WithRunID(ctx, run.ID)
	logger := logging.WithContext(ctx, e.logger)
	logger.Info("discovery run started",
		logging.Time("snapshot_at", run.SnapshotAt),
		logging.Bool("resumed", resumed),
		logging.Int64("base_version", run.BaseVersion),
	)

	report, err := e.execute(ctx, logger, run)
	report.Resumed = resumed
	switch {
	case err == nil:
		e.metrics.RecordDiscoveryRun("completed", time.Since(started))
		logger.Info("discovery run completed",
			logging.Int64("version", report.Version),
			logging.Int("entities", report.Entities),
			logging.Int("profiled", report.Profiled),
			logging.Int("discarded", report.Discarded),
			logging.Int("insufficient", report.Insufficient),
			logging.Int("skipped", report.Skipped),
		)
	case report.Cancelled:
		e.metrics.RecordDiscoveryRun("cancelled", time.Since(started))
		logger.Info("discovery run paused", logging.Int("entities_done", report.Entities))
	default:
		e.metrics.RecordDiscoveryRun("failed", time.Since(started))
		logging.ErrorWithContext(logger, "discovery run failed", "discovery_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the next run resumes from the last checkpoint"),
		)
	}
	return report, err
}

func (e *Engine) acquire() (func(), error) {
	if e.lockPath == "" {
		return func() {}, nil
	}
	lock := flock.New(e.lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrUnavailable, "discovery", "lock", "acquire run lock", err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrConflict, "discovery", "lock", "another discovery run is in progress", nil)
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			e.logger.Warn("failed to release discovery lock", logging.Error(err))
		}
	}, nil
}

// prepareRun resumes the latest incomplete run when it still builds on the
// published generation, or starts a new one.
func (e *Engine) prepareRun(ctx context.Context) (store.DiscoveryRun, bool, error) {
	version, _, err := e.repo.CurrentProfiles(ctx)
	if err != nil {
		return store.DiscoveryRun{}, false, services.WrapStore("discovery", "current profiles", err)
	}

	run, err := e.repo.LatestIncompleteRun(ctx)
	switch {
	case err == nil && run.BaseVersion == version:
		run.Status = store.RunRunning
		run.Error = ""
		if err := e.repo.UpdateRun(ctx, run); err != nil {
			return store.DiscoveryRun{}, false, services.WrapStore("discovery", "resume run", err)
		}
		return run, true, nil
	case err == nil:
		run.Status = store.RunFailed
		run.Error = fmt.Sprintf("superseded: built on version %d, current is %d", run.BaseVersion, version)
		run.FinishedAt = e.now().UTC()
		if err := e.repo.UpdateRun(ctx, run); err != nil {
			return store.DiscoveryRun{}, false, services.WrapStore("discovery", "retire run", err)
		}
	case !errors.Is(err, store.ErrNotFound):
		return store.DiscoveryRun{}, false, services.WrapStore("discovery", "find incomplete run", err)
	}

	now := e.now().UTC()
	run = store.DiscoveryRun{
		ID:          uuid.NewString(),
		SnapshotAt:  now,
		StartedAt:   now,
		Status:      store.RunRunning,
		BaseVersion: version,
	}
	if err := e.repo.CreateRun(ctx, run); err != nil {
		return store.DiscoveryRun{}, false, services.WrapStore("discovery", "create run", err)
	}
	return run, false, nil
}

type entitySamples struct {
	displayName string
	samples     []Sample
}

func (e *Engine) execute(ctx context.Context, logger *slog.Logger, run store.DiscoveryRun) (Report, error) {
	report := Report{RunID: run.ID, SnapshotAt: run.SnapshotAt}

	entities, skippedRecords, err := e.snapshot(ctx, logger, run.SnapshotAt)
	if err != nil {
		return report, e.fail(ctx, run, err)
	}
	report.SkippedRecords = skippedRecords

	version, current, err := e.repo.CurrentProfiles(ctx)
	if err != nil {
		return report, e.fail(ctx, run, services.WrapStore("discovery", "current profiles", err))
	}
	previous := make(map[string]store.EntityProfile, len(current))
	for _, p := range current {
		previous[p.EntityKey] = p
	}

	staged, err := e.repo.StagedEntities(ctx, run.ID)
	if err != nil {
		return report, e.fail(ctx, run, services.WrapStore("discovery", "load checkpoints", err))
	}

	for _, key := range slices.Sorted(maps.Keys(entities)) {
		if _, done := staged[key]; done {
			continue
		}
		if err := ctx.Err(); err != nil {
			report = tally(report, staged)
			report.Cancelled = true
			run.Status = store.RunCancelled
			run.Processed, run.Profiled, run.Skipped = report.Entities, report.Profiled, report.Skipped
			if uerr := e.repo.UpdateRun(context.WithoutCancel(ctx), run); uerr != nil {
				logger.Warn("failed to record paused run", logging.Error(uerr))
			}
			return report, err
		}

		entry := e.stage(logger, run, key, entities[key], previous)
		// The entity is finished even if ctx was cancelled meanwhile.
		if err := e.repo.StageEntity(context.WithoutCancel(ctx), entry); err != nil {
			return report, e.fail(ctx, run, services.WrapStore("discovery", "checkpoint entity", err))
		}
		staged[key] = entry
		if e.afterEntity != nil {
			e.afterEntity(key)
		}
	}

	crossValidate(staged)

	next := version + 1
	published := make([]store.EntityProfile, 0, len(staged))
	for _, key := range slices.Sorted(maps.Keys(staged)) {
		st := staged[key]
		if st.Outcome != store.StageProfiled || st.Profile == nil {
			continue
		}
		p := st.Profile.Clone()
		p.PublishedVersion = next
		p.History = append(p.History, store.ConfidencePoint{
			Version:    next,
			Confidence: p.Confidence,
			SampleSize: p.SampleSize,
			RecordedAt: run.SnapshotAt,
		})
		published = append(published, p)
	}
	// Profiles of entities absent from this snapshot are carried unchanged.
	for _, key := range slices.Sorted(maps.Keys(previous)) {
		if _, seen := entities[key]; !seen {
			published = append(published, previous[key])
		}
	}

	report = tally(report, staged)
	report.Version = next
	finished := e.now().UTC()
	run.Status = store.RunCompleted
	run.FinishedAt = finished
	run.PublishedVersion = next
	run.Processed, run.Profiled, run.Skipped = report.Entities, report.Profiled, report.Skipped
	if err := e.repo.PublishProfiles(context.WithoutCancel(ctx), run, next, published); err != nil {
		return report, e.fail(ctx, run, services.WrapStore("discovery", "publish", err))
	}
	if e.profiles != nil {
		e.profiles.Publish(profiles.NewSnapshot(next, finished, published))
	}
	return report, nil
}

func (e *Engine) stage(logger *slog.Logger, run store.DiscoveryRun, key string, entity entitySamples, previous map[string]store.EntityProfile) store.StagedEntity {
	var prev *store.EntityProfile
	if p, ok := previous[key]; ok {
		prev = &p
	}
	sortSamples(entity.samples)
	outcome, profile, err := Aggregate(key, entity.displayName, entity.samples, prev, run.SnapshotAt, e.thresholds)
	if err != nil {
		logging.WarnWithContext(logger, "entity skipped", "discovery_entity_skipped",
			logging.String(logging.FieldEntityKey, key),
			logging.Error(err),
			logging.String(logging.FieldImpact, "entity keeps its previous profile state out of this generation"),
		)
	}
	e.metrics.RecordDiscoveryEntity(string(outcome))
	ids := make([]string, 0, len(entity.samples))
	for _, s := range entity.samples {
		ids = append(ids, s.ItemID)
	}
	if outcome == store.StageProfiled {
		logger.Debug("entity profiled",
			logging.String(logging.FieldEntityKey, key),
			logging.String("category", profile.TopCategory),
			logging.String("strength", string(profile.Strength)),
			logging.Float64("confidence", profile.Confidence),
			logging.Int("samples", profile.SampleSize),
		)
	}
	return store.StagedEntity{RunID: run.ID, EntityKey: key, Outcome: outcome, Profile: profile, ItemIDs: ids}
}

// snapshot reads resolved canonical results as of at and groups them by
// entity key.
func (e *Engine) snapshot(ctx context.Context, logger *slog.Logger, at time.Time) (map[string]entitySamples, int, error) {
	results, err := e.repo.ResultsAsOf(ctx, at)
	if err != nil {
		return nil, 0, services.WrapStore("discovery", "read result log", err)
	}
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.ItemID)
	}
	items, err := e.repo.ItemsByID(ctx, ids)
	if err != nil {
		return nil, 0, services.WrapStore("discovery", "load items", err)
	}

	canonical := make(map[string]string)
	entities := make(map[string]entitySamples)
	skipped := 0
	for _, r := range results {
		if r.Status != store.StatusResolved || r.PrimaryCategory == taxonomy.Unclassified {
			continue
		}
		item, ok := items[r.ItemID]
		if !ok || r.PrimaryCategory == "" {
			skipped++
			logging.WarnWithContext(logger, "malformed result skipped", "discovery_record_skipped",
				logging.String(logging.FieldItemID, r.ItemID),
				logging.Bool("item_found", ok),
				logging.String(logging.FieldImpact, "record excluded from this run"),
			)
			continue
		}
		if item.GroupID != "" {
			id, seen := canonical[item.ContentHash]
			if !seen {
				group, err := e.repo.GroupByHash(ctx, item.ContentHash)
				if err != nil && !errors.Is(err, store.ErrNotFound) {
					return nil, 0, services.WrapStore("discovery", "load group", err)
				}
				id = group.CanonicalItemID
				canonical[item.ContentHash] = id
			}
			if id != "" && id != item.ID {
				continue
			}
		}
		names := map[string]string{
			taxonomy.EntityKey(store.EntityArtist, item.Artist): item.Artist,
			taxonomy.EntityKey(store.EntityLabel, item.Label):   item.Label,
		}
		for key, name := range names {
			if key == "" {
				continue
			}
			entry := entities[key]
			if entry.displayName == "" || name < entry.displayName {
				entry.displayName = name
			}
			entry.samples = append(entry.samples, Sample{
				ItemID:         item.ID,
				Category:       r.PrimaryCategory,
				DominantSource: r.DominantSource,
				ClassifiedAt:   classifiedAt(r),
			})
			entities[key] = entry
		}
	}
	if skipped > 0 {
		logger.Info("snapshot contained malformed records", logging.Int("skipped", skipped))
	}
	return entities, skipped, nil
}

func (e *Engine) fail(ctx context.Context, run store.DiscoveryRun, cause error) error {
	run.Status = store.RunFailed
	run.Error = cause.Error()
	run.FinishedAt = e.now().UTC()
	if err := e.repo.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
		e.logger.Warn("failed to record run failure", logging.Error(err))
	}
	return cause
}

func tally(r Report, staged map[string]store.StagedEntity) Report {
	r.Entities, r.Profiled, r.Discarded, r.Insufficient, r.Skipped = len(staged), 0, 0, 0, 0
	for _, st := range staged {
		switch st.Outcome {
		case store.StageProfiled:
			r.Profiled++
		case store.StageDiscarded:
			r.Discarded++
		case store.StageInsufficient:
			r.Insufficient++
		case store.StageSkipped:
			r.Skipped++
		}
	}
	return r
}

// Runs lists recent discovery runs, newest first.
func (e *Engine) Runs(ctx context.Context, limit int) ([]store.DiscoveryRun, error) {
	runs, err := e.repo.ListRuns(ctx, limit)
	if err != nil {
		return nil, services.WrapStore("discovery", "list runs", err)
	}
	return runs, nil
}

func classifiedAt(r store.Result) time.Time {
	if r.StableSince.IsZero() {
		return r.UpdatedAt
	}
	return r.StableSince
}
