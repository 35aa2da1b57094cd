package consensus

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"cratemind/internal/logging"
	"cratemind/internal/metrics"
	"cratemind/internal/profiles"
	"cratemind/internal/services"
	"cratemind/internal/store"
)

// Repository is the persistence surface the resolver needs.
type Repository interface {
	store.ItemRepository
	store.SignalRepository
	store.ResultRepository
}

// Canonicalizer resolves any item to the canonical member of its group.
type Canonicalizer interface {
	Canonical(ctx context.Context, itemID string) (store.Item, error)
}

// ReputationSource produces a reputation snapshot covering the given
// source ids.
type ReputationSource interface {
	Snapshot(ctx context.Context, sourceIDs []string) (Reputation, error)
}

// Escalator is notified when an item enters review.
type Escalator interface {
	Escalate(ctx context.Context, result store.Result) error
}

// Resolver recomputes and persists results with optimistic concurrency.
type Resolver struct {
	repo       Repository
	canon      Canonicalizer
	profiles   *profiles.Store
	reputation ReputationSource
	escalator  Escalator
	params     Params
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// ResolverOptions bundles the resolver collaborators.
type ResolverOptions struct {
	Repo       Repository
	Canon      Canonicalizer
	Profiles   *profiles.Store
	Reputation ReputationSource
	Escalator  Escalator
	Params     Params
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

// NewResolver constructs a Resolver. Nil profiles, reputation and escalator
// are allowed; a nil clock uses time.Now.
func NewResolver(opts ResolverOptions) *Resolver {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := logging.NewComponentLogger(opts.Logger, "consensus")
	escalator := opts.Escalator
	if escalator == nil {
		escalator = LogEscalator{Logger: logger}
	}
	return &Resolver{
		repo:       opts.Repo,
		canon:      opts.Canon,
		profiles:   opts.Profiles,
		reputation: opts.Reputation,
		escalator:  escalator,
		params:     opts.Params,
		logger:     logger,
		metrics:    opts.Metrics,
		now:        now,
	}
}

// Resolve recomputes the classification of the item's canonical member.
// Conflicting writers are retried with fresh inputs; once MaxRetries is
// exhausted the error is ErrTransient.
func (r *Resolver) Resolve(ctx context.Context, itemID string) (store.Result, error) {
	started := time.Now()
	item, err := r.canon.Canonical(ctx, itemID)
	if err != nil {
		return store.Result{}, err
	}
	ctx = services.WithItemID(ctx, item.ID)
	logger := logging.WithContext(ctx, r.logger)

	attempts := max(r.params.MaxRetries, 0) + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return store.Result{}, err
		}
		prev, input, err := r.load(ctx, item)
		if err != nil {
			return store.Result{}, err
		}
		next := Compute(input, r.params)

		var expected int64
		if prev != nil {
			expected = prev.Version
		}
		saved, err := r.repo.SaveResult(ctx, next, expected)
		if errors.Is(err, store.ErrVersionConflict) {
			r.metrics.RecordResolveConflict()
			logger.Debug("result version conflict, retrying", logging.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return store.Result{}, services.WrapStore("consensus", "save result", err)
		}

		r.metrics.RecordResolution(string(saved.Status), time.Since(started))
		r.logTransition(logger, input.Previous, saved)
		if Escalated(input.Previous, saved) {
			r.metrics.RecordEscalation()
			if err := r.escalator.Escalate(ctx, saved.Clone()); err != nil {
				logging.WarnWithContext(logger, "review escalation failed", "escalation_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "item stays under review without a reviewer notification"),
				)
			}
		}
		return saved, nil
	}

	r.metrics.RecordResolveExhausted()
	return store.Result{}, services.Wrap(services.ErrTransient, "consensus", "resolve",
		"result kept changing under concurrent writers", store.ErrVersionConflict)
}

// Adopt moves a duplicate group's classification onto a newly elected
// canonical member by resolving it with the group's latest result as its
// previous state. ok is false when no other member has a result.
func (r *Resolver) Adopt(ctx context.Context, itemID string) (store.Result, bool, error) {
	item, err := r.canon.Canonical(ctx, itemID)
	if err != nil {
		return store.Result{}, false, err
	}
	members, err := r.repo.ItemsByHash(ctx, item.ContentHash)
	if err != nil {
		return store.Result{}, false, services.WrapStore("consensus", "load members", err)
	}
	carried, err := r.latestMemberResult(ctx, item, members)
	if err != nil || carried == nil {
		return store.Result{}, false, err
	}
	logging.WithContext(services.WithItemID(ctx, item.ID), r.logger).Info("classification moved to new canonical",
		logging.String("from_item_id", carried.ItemID),
		logging.String("status", string(carried.Status)),
	)
	result, err := r.Resolve(ctx, item.ID)
	if err != nil {
		return store.Result{}, false, err
	}
	return result, true, nil
}

// load returns the stored result of item, used for the version check, and
// the compute input. Without a stored result the input carries the latest
// result of another group member so dispute cycles and review state survive
// a change of canonical.
func (r *Resolver) load(ctx context.Context, item store.Item) (*store.Result, Input, error) {
	var prev *store.Result
	current, err := r.repo.GetResult(ctx, item.ID)
	switch {
	case err == nil:
		prev = &current
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, Input{}, services.WrapStore("consensus", "load result", err)
	}

	// Duplicates share one classification: gather every member's signals.
	members, err := r.repo.ItemsByHash(ctx, item.ContentHash)
	if err != nil {
		return nil, Input{}, services.WrapStore("consensus", "load members", err)
	}
	if len(members) == 0 {
		members = []store.Item{item}
	}
	previous := prev
	if previous == nil {
		if previous, err = r.latestMemberResult(ctx, item, members); err != nil {
			return nil, Input{}, err
		}
	}
	var sigs []store.Signal
	for _, m := range members {
		batch, err := r.repo.ListSignals(ctx, m.ID)
		if err != nil {
			return nil, Input{}, services.WrapStore("consensus", "load signals", err)
		}
		sigs = append(sigs, batch...)
	}

	input := Input{
		Item:     item,
		Signals:  sigs,
		Previous: previous,
		Now:      r.now().UTC(),
	}
	if r.profiles != nil {
		input.Profiles = r.profiles.Current()
	}
	if r.reputation != nil {
		ids := make([]string, 0, len(sigs))
		for _, s := range sigs {
			if s.SourceType == store.SourceCommunityPattern {
				ids = append(ids, s.SourceID)
			}
		}
		rep, err := r.reputation.Snapshot(ctx, ids)
		if err != nil {
			return nil, Input{}, err
		}
		input.Reputation = rep
	}
	return prev, input, nil
}

func (r *Resolver) latestMemberResult(ctx context.Context, item store.Item, members []store.Item) (*store.Result, error) {
	var latest *store.Result
	for _, m := range members {
		if m.ID == item.ID {
			continue
		}
		res, err := r.repo.GetResult(ctx, m.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, services.WrapStore("consensus", "load member result", err)
		}
		if latest == nil || res.UpdatedAt.After(latest.UpdatedAt) {
			latest = &res
		}
	}
	return latest, nil
}

func (r *Resolver) logTransition(logger *slog.Logger, prev *store.Result, next store.Result) {
	attrs := []logging.Attr{
		logging.String("status", string(next.Status)),
		logging.String("category", next.PrimaryCategory),
		logging.String("subcategory", next.Subcategory),
		logging.Float64("confidence", next.Confidence),
		logging.Int64("version", next.Version),
	}
	if prev == nil || prev.Status != next.Status || prev.PrimaryCategory != next.PrimaryCategory {
		from := "none"
		if prev != nil {
			from = string(prev.Status)
		}
		logger.Info("classification changed", logging.Args(append(attrs, logging.String("from_status", from))...)...)
		return
	}
	logger.Debug("classification recomputed", logging.Args(attrs...)...)
}

// LogEscalator records escalations in the log; the review queue is read from
// results under review.
type LogEscalator struct {
	Logger *slog.Logger
}

// Escalate logs the escalation.
func (e LogEscalator) Escalate(ctx context.Context, result store.Result) error {
	logger := logging.WithContext(ctx, e.Logger)
	logging.WarnWithContext(logger, "item escalated to review", "review_escalation",
		logging.String("category", result.PrimaryCategory),
		logging.Int("dispute_cycles", result.DisputeCycles),
		logging.String(logging.FieldErrorHint, "cast an expert override to resolve"),
	)
	return nil
}
