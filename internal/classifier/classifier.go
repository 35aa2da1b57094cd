package classifier

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"cratemind/internal/config"
	"cratemind/internal/consensus"
	"cratemind/internal/dedup"
	"cratemind/internal/discovery"
	"cratemind/internal/logging"
	"cratemind/internal/metrics"
	"cratemind/internal/profiles"
	"cratemind/internal/reputation"
	"cratemind/internal/services"
	"cratemind/internal/signals"
	"cratemind/internal/store"
	"cratemind/internal/taxonomy"
)

// Options configures a Classifier.
type Options struct {
	Config  *config.Config
	Repo    store.Repository
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Now overrides the clock for every component.
	Now func() time.Time
	// Escalator receives items entering review; nil logs them.
	Escalator consensus.Escalator
	// LockPath guards discovery runs; empty uses the configured path.
	LockPath string
}

// Classifier is the entry point for every classification operation.
type Classifier struct {
	cfg        *config.Config
	repo       store.Repository
	dedup      *dedup.Service
	signals    *signals.Collector
	resolver   *consensus.Resolver
	reputation *reputation.Service
	profiles   *profiles.Store
	discovery  *discovery.Engine
	logger     *slog.Logger
}

// New wires the components around repo.
func New(opts Options) *Classifier {
	cfg := opts.Config
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	lockPath := opts.LockPath
	if lockPath == "" {
		lockPath = cfg.DiscoveryLockPath()
	}

	index := dedup.NewService(opts.Repo, opts.Logger, opts.Metrics, now)
	snapshots := profiles.NewStore(opts.Logger, opts.Metrics)
	rep := reputation.NewService(cfg, opts.Repo, opts.Logger, opts.Metrics, now)
	return &Classifier{
		cfg:     cfg,
		repo:    opts.Repo,
		dedup:   index,
		signals: signals.NewCollector(cfg, opts.Repo, index, opts.Logger, opts.Metrics, now),
		resolver: consensus.NewResolver(consensus.ResolverOptions{
			Repo:       opts.Repo,
			Canon:      index,
			Profiles:   snapshots,
			Reputation: reputationSource{svc: rep},
			Escalator:  opts.Escalator,
			Params:     consensus.ParamsFromConfig(cfg),
			Logger:     opts.Logger,
			Metrics:    opts.Metrics,
			Now:        now,
		}),
		reputation: rep,
		profiles:   snapshots,
		discovery:  discovery.NewEngine(cfg, opts.Repo, snapshots, lockPath, opts.Logger, opts.Metrics, now),
		logger:     logging.NewComponentLogger(opts.Logger, "classifier"),
	}
}

// Start loads the published profile generation.
func (c *Classifier) Start(ctx context.Context) error {
	if err := c.profiles.Load(ctx, c.repo); err != nil {
		return err
	}
	c.logger.Debug("profile generation loaded", logging.Int64("version", c.profiles.Current().Version))
	return nil
}

// Close releases the repository.
func (c *Classifier) Close() error {
	return c.repo.Close()
}

// Dedup exposes the fingerprint index.
func (c *Classifier) Dedup() *dedup.Service { return c.dedup }

// Reputation exposes the reputation tracker.
func (c *Classifier) Reputation() *reputation.Service { return c.reputation }

// Discovery exposes the pattern discovery engine.
func (c *Classifier) Discovery() *discovery.Engine { return c.discovery }

// Profiles exposes the published profile generation.
func (c *Classifier) Profiles() *profiles.Store { return c.profiles }

// Repository exposes the underlying repository.
func (c *Classifier) Repository() store.Repository { return c.repo }

// Ingest records a discovered file. When the file is a duplicate discovered
// before the group's canonical member it becomes canonical and inherits the
// group's classification before Ingest returns.
func (c *Classifier) Ingest(ctx context.Context, req dedup.IngestRequest) (dedup.IngestResult, error) {
	res, err := c.dedup.Ingest(ctx, req)
	if err != nil {
		return res, err
	}
	if res.IsNew && res.GroupID != "" && res.CanonicalItemID == res.ItemID {
		if _, _, err := c.resolver.Adopt(ctx, res.ItemID); err != nil {
			return res, err
		}
	}
	return res, nil
}

// Submission is the outcome of accepting one signal.
type Submission struct {
	Signal store.Signal
	// Created is false when the signal was a resubmission.
	Created bool
	Result  store.Result
}

// Submit stores a signal and resolves its item before returning.
func (c *Classifier) Submit(ctx context.Context, req signals.SubmitRequest) (Submission, error) {
	sig, created, err := c.signals.Submit(ctx, req)
	if err != nil {
		return Submission{}, err
	}
	result, err := c.resolver.Resolve(ctx, sig.ItemID)
	if err != nil {
		return Submission{Signal: sig, Created: created}, err
	}
	return Submission{Signal: sig, Created: created, Result: result}, nil
}

// Resolve recomputes an item's classification.
func (c *Classifier) Resolve(ctx context.Context, itemID string) (store.Result, error) {
	return c.resolver.Resolve(ctx, itemID)
}

// Result returns the stored classification of an item's canonical member.
func (c *Classifier) Result(ctx context.Context, itemID string) (store.Result, error) {
	item, err := c.dedup.Canonical(ctx, itemID)
	if err != nil {
		return store.Result{}, err
	}
	result, err := c.repo.GetResult(ctx, item.ID)
	if err != nil {
		return store.Result{}, services.WrapStore("classifier", "result", err)
	}
	return result, nil
}

// Vote is one community vote.
type Vote struct {
	// Contributor is the raw contributor handle; only its anonymized id is
	// stored.
	Contributor string
	ItemID      string
	Category    string
	Subcategory string
}

// CastVote records a vote for later scoring and submits it as a
// community_pattern signal from the anonymized contributor.
func (c *Classifier) CastVote(ctx context.Context, v Vote) (Submission, error) {
	handle := strings.TrimSpace(v.Contributor)
	if handle == "" {
		return Submission{}, services.Wrap(services.ErrValidation, "classifier", "vote", "contributor is required", nil)
	}
	if strings.TrimSpace(v.ItemID) == "" {
		return Submission{}, services.Wrap(services.ErrValidation, "classifier", "vote", "item id is required", nil)
	}
	item, err := c.dedup.Canonical(ctx, strings.TrimSpace(v.ItemID))
	if err != nil {
		return Submission{}, err
	}
	contributor := reputation.AnonymizeID(handle)
	if _, err := c.reputation.RecordVote(ctx, contributor, item.ID, v.Category, v.Subcategory); err != nil {
		return Submission{}, err
	}
	return c.Submit(ctx, signals.SubmitRequest{
		ItemID:      item.ID,
		SourceType:  store.SourceCommunityPattern,
		SourceID:    contributor,
		Category:    v.Category,
		Subcategory: v.Subcategory,
		SampleSize:  1,
	})
}

// Override submits an expert classification, which outweighs every other
// source.
func (c *Classifier) Override(ctx context.Context, reviewer, itemID, category, subcategory string) (Submission, error) {
	return c.Submit(ctx, signals.SubmitRequest{
		ItemID:      itemID,
		SourceType:  store.SourceExpertOverride,
		SourceID:    reviewer,
		Category:    category,
		Subcategory: subcategory,
	})
}

// Seed submits seed signals for every known label or artist of the item and
// resolves it once. Items without known entities are left untouched.
func (c *Classifier) Seed(ctx context.Context, itemID string) ([]store.Signal, store.Result, error) {
	item, err := c.dedup.Canonical(ctx, itemID)
	if err != nil {
		return nil, store.Result{}, err
	}
	entries := taxonomy.SeedsFor(item)
	if len(entries) == 0 {
		return nil, store.Result{}, nil
	}
	out := make([]store.Signal, 0, len(entries))
	for _, entry := range entries {
		sig, _, err := c.signals.Submit(ctx, signals.SubmitRequest{
			ItemID:      item.ID,
			SourceType:  store.SourceSeed,
			SourceID:    entry.Key(),
			Category:    entry.Category,
			Subcategory: entry.Subcategory,
		})
		if err != nil {
			return out, store.Result{}, err
		}
		out = append(out, sig)
	}
	result, err := c.resolver.Resolve(ctx, item.ID)
	if err != nil {
		return out, store.Result{}, err
	}
	logging.WithContext(services.WithItemID(ctx, item.ID), c.logger).Debug("seed knowledge applied",
		logging.Int("signals", len(out)),
		logging.String("category", result.PrimaryCategory),
	)
	return out, result, nil
}

// Appeal restores a contributor after human review.
func (c *Classifier) Appeal(ctx context.Context, contributorID, reviewer, note string) (store.Contributor, error) {
	return c.reputation.Appeal(ctx, contributorID, reviewer, note)
}

// ReviewQueue lists items that are disputed or awaiting expert review.
func (c *Classifier) ReviewQueue(ctx context.Context) ([]store.Result, error) {
	results, err := c.repo.ListResultsByStatus(ctx, store.StatusUnderReview, store.StatusDisputed)
	if err != nil {
		return nil, services.WrapStore("classifier", "review queue", err)
	}
	// Results left behind by a former canonical member are superseded.
	current := results[:0]
	for _, r := range results {
		item, err := c.dedup.Canonical(ctx, r.ItemID)
		if err != nil {
			return nil, err
		}
		if item.ID == r.ItemID {
			current = append(current, r)
		}
	}
	return current, nil
}

// Signals lists every signal recorded for an item.
func (c *Classifier) Signals(ctx context.Context, itemID string) ([]store.Signal, error) {
	return c.signals.List(ctx, itemID)
}

// Stats summarises the fingerprint index.
func (c *Classifier) Stats(ctx context.Context) (store.ItemStats, error) {
	return c.dedup.Stats(ctx)
}

// reputationSource adapts the reputation tracker to the resolver.
type reputationSource struct {
	svc *reputation.Service
}

func (r reputationSource) Snapshot(ctx context.Context, ids []string) (consensus.Reputation, error) {
	snap, err := r.svc.Snapshot(ctx, ids)
	if err != nil {
		return nil, err
	}
	return snap, nil
}
