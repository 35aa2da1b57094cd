package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"cratemind/internal/config"
	"cratemind/internal/logging"
	"cratemind/internal/metrics"
	"cratemind/internal/services"
	"cratemind/internal/store"
	"cratemind/internal/taxonomy"
)

// Unresolved answer reasons.
const (
	ReasonInsufficientConfidence = "insufficient confidence"
	ReasonNotFound               = "not found"
	ReasonNotClassified          = "not classified"
	ReasonUnclassified           = "unclassified"
	ReasonDisputed               = "disputed"
	ReasonUnderReview            = "under review"
	ReasonInvalid                = "invalid query"
)

// Finder resolves hashes and paths to canonical items.
type Finder interface {
	CanonicalByHash(ctx context.Context, hash string) (store.Item, error)
	CanonicalByPath(ctx context.Context, path string) (store.Item, error)
}

// ResultReader loads stored results.
type ResultReader interface {
	GetResult(ctx context.Context, itemID string) (store.Result, error)
}

// LookupService answers consumer classification lookups.
type LookupService struct {
	finder      Finder
	results     ResultReader
	floor       float64
	limit       int
	concurrency int
	flight      singleflight.Group
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewLookupService constructs a LookupService.
func NewLookupService(cfg config.API, finder Finder, results ResultReader, logger *slog.Logger, m *metrics.Metrics) *LookupService {
	return &LookupService{
		finder:      finder,
		results:     results,
		floor:       cfg.ConfidenceFloor,
		limit:       cfg.BatchLimit,
		concurrency: max(cfg.BatchConcurrency, 1),
		logger:      logging.NewComponentLogger(logger, "lookup"),
		metrics:     m,
	}
}

// ByHash answers a lookup by content hash. Unknown or malformed hashes
// produce an unresolved answer rather than an error; only storage failures
// are returned as errors.
func (s *LookupService) ByHash(ctx context.Context, hash string) (Answer, error) {
	hash = strings.ToLower(strings.TrimSpace(hash))
	return s.lookup(ctx, "hash:"+hash, hash, func(ctx context.Context) (store.Item, error) {
		return s.finder.CanonicalByHash(ctx, hash)
	})
}

// ByPath answers a lookup by file path.
func (s *LookupService) ByPath(ctx context.Context, path string) (Answer, error) {
	path = strings.TrimSpace(path)
	return s.lookup(ctx, "path:"+path, path, func(ctx context.Context) (store.Item, error) {
		return s.finder.CanonicalByPath(ctx, path)
	})
}

// Batch answers every query in order. It fails as a whole only when the
// batch is too large or storage is unavailable.
func (s *LookupService) Batch(ctx context.Context, queries []Query) ([]Answer, error) {
	if s.limit > 0 && len(queries) > s.limit {
		return nil, services.Wrap(services.ErrValidation, "lookup", "batch",
			fmt.Sprintf("batch of %d exceeds limit %d", len(queries), s.limit), nil)
	}
	answers := make([]Answer, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, q := range queries {
		g.Go(func() error {
			var (
				answer Answer
				err    error
			)
			switch {
			case strings.TrimSpace(q.Hash) != "":
				answer, err = s.ByHash(gctx, q.Hash)
			case strings.TrimSpace(q.Path) != "":
				answer, err = s.ByPath(gctx, q.Path)
			default:
				answer = Answer{Reason: ReasonInvalid}
			}
			if err != nil {
				return err
			}
			answers[i] = answer
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return answers, nil
}

// lookup coalesces concurrent lookups of one key. The shared lookup runs
// detached from any single caller's cancellation; each caller stops waiting
// when its own context ends.
func (s *LookupService) lookup(ctx context.Context, key, query string, find func(context.Context) (store.Item, error)) (Answer, error) {
	shared := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(key, func() (any, error) {
		return s.answer(shared, query, find)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		s.metrics.RecordLookup("error")
		return Answer{}, ctx.Err()
	case res = <-ch:
	}
	v, err := res.Val, res.Err
	if err != nil {
		s.metrics.RecordLookup("error")
		return Answer{}, err
	}
	answer := v.(Answer)
	outcome := "resolved"
	if !answer.Resolved {
		outcome = strings.ReplaceAll(answer.Reason, " ", "_")
	}
	s.metrics.RecordLookup(outcome)
	return answer, nil
}

func (s *LookupService) answer(ctx context.Context, query string, find func(context.Context) (store.Item, error)) (Answer, error) {
	answer := Answer{Query: query}
	item, err := find(ctx)
	switch {
	case errors.Is(err, services.ErrValidation):
		answer.Reason = ReasonInvalid
		return answer, nil
	case errors.Is(err, services.ErrNotFound):
		answer.Reason = ReasonNotFound
		return answer, nil
	case err != nil:
		return Answer{}, err
	}
	answer.ItemID = item.ID
	answer.ContentHash = item.ContentHash

	result, err := s.results.GetResult(ctx, item.ID)
	if errors.Is(err, store.ErrNotFound) {
		answer.Reason = ReasonNotClassified
		return answer, nil
	}
	if err != nil {
		return Answer{}, services.WrapStore("lookup", "load result", err)
	}
	return s.judge(answer, result), nil
}

// Judge returns the consumer verdict on a stored result.
func (s *LookupService) Judge(result store.Result) Answer {
	return s.judge(Answer{ItemID: result.ItemID}, result)
}

// judge applies the confidence floor. Category is only disclosed on a
// resolved answer.
func (s *LookupService) judge(answer Answer, result store.Result) Answer {
	answer.Confidence = result.Confidence
	answer.Status = string(result.Status)
	answer.UpdatedAt = formatTime(result.UpdatedAt)
	switch {
	case result.Confidence < s.floor:
		answer.Reason = ReasonInsufficientConfidence
	case result.Status == store.StatusDisputed:
		answer.Reason = ReasonDisputed
	case result.Status == store.StatusUnderReview:
		answer.Reason = ReasonUnderReview
	case result.Status != store.StatusResolved || result.PrimaryCategory == taxonomy.Unclassified:
		answer.Reason = ReasonUnclassified
	default:
		answer.Resolved = true
		answer.Category = result.PrimaryCategory
		answer.Subcategory = result.Subcategory
	}
	return answer
}
