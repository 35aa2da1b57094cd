package dedup

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"cratemind/internal/logging"
	"cratemind/internal/metrics"
	"cratemind/internal/services"
	"cratemind/internal/store"
)

// IngestRequest describes one discovered file.
type IngestRequest struct {
	ContentHash  string
	Path         string
	SizeBytes    int64
	DiscoveredAt time.Time
	Artist       string
	Label        string
	Title        string
}

// IngestResult reports the item and its duplicate group after ingest.
type IngestResult struct {
	ItemID          string
	IsNew           bool
	GroupID         string
	CanonicalItemID string
	Item            store.Item
}

// Service owns the fingerprint index.
type Service struct {
	repo    store.ItemRepository
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewService constructs the dedup service. A nil clock uses time.Now.
func NewService(repo store.ItemRepository, logger *slog.Logger, m *metrics.Metrics, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:    repo,
		logger:  logging.NewComponentLogger(logger, "dedup"),
		metrics: m,
		now:     now,
	}
}

// Ingest records a file, linking it into its hash's duplicate group.
// Re-ingesting the same (hash, path) returns the existing item.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	hash, err := NormalizeHash(req.ContentHash)
	if err != nil {
		s.metrics.RecordIngest("rejected")
		return IngestResult{}, err
	}
	path := strings.TrimSpace(req.Path)
	if path == "" {
		s.metrics.RecordIngest("rejected")
		return IngestResult{}, services.Wrap(services.ErrValidation, "dedup", "ingest", "path is required", nil)
	}
	if req.SizeBytes < 0 {
		s.metrics.RecordIngest("rejected")
		return IngestResult{}, services.Wrap(services.ErrValidation, "dedup", "ingest", "size must not be negative", nil)
	}

	now := s.now().UTC()
	item := store.Item{
		ID:           uuid.NewString(),
		ContentHash:  hash,
		Path:         path,
		SizeBytes:    req.SizeBytes,
		Artist:       strings.TrimSpace(req.Artist),
		Label:        strings.TrimSpace(req.Label),
		Title:        strings.TrimSpace(req.Title),
		DiscoveredAt: req.DiscoveredAt.UTC(),
		CreatedAt:    now,
	}
	if req.DiscoveredAt.IsZero() {
		item.DiscoveredAt = now
	}

	outcome, err := s.repo.IngestItem(ctx, item, groupBuilder(now))
	if err != nil {
		s.metrics.RecordIngest("error")
		return IngestResult{}, services.WrapStore("dedup", "ingest", err)
	}

	result := IngestResult{
		ItemID:          outcome.Item.ID,
		IsNew:           outcome.IsNew,
		GroupID:         outcome.Item.GroupID,
		CanonicalItemID: outcome.Item.ID,
		Item:            outcome.Item,
	}
	if outcome.Group != nil {
		result.GroupID = outcome.Group.ID
		result.CanonicalItemID = outcome.Group.CanonicalItemID
	}

	logger := logging.WithContext(services.WithItemID(ctx, result.ItemID), s.logger)
	switch {
	case !outcome.IsNew:
		s.metrics.RecordIngest("existing")
		logger.Debug("item already indexed", logging.String(logging.FieldContentHash, hash))
	case outcome.Group != nil:
		s.metrics.RecordIngest("duplicate")
		logger.Info("duplicate linked",
			logging.String(logging.FieldContentHash, hash),
			logging.String("group_id", outcome.Group.ID),
			logging.String("canonical_item_id", outcome.Group.CanonicalItemID),
			logging.Int("members", outcome.Group.DuplicateCount()),
			logging.Int64("waste_bytes", outcome.Group.WasteBytes),
		)
	default:
		s.metrics.RecordIngest("new")
		logger.Info("item indexed", logging.String(logging.FieldContentHash, hash), logging.String("path", path))
	}
	return result, nil
}

// Group returns the duplicate group of a content hash.
func (s *Service) Group(ctx context.Context, rawHash string) (store.DuplicateGroup, error) {
	hash, err := NormalizeHash(rawHash)
	if err != nil {
		return store.DuplicateGroup{}, err
	}
	group, err := s.repo.GroupByHash(ctx, hash)
	if err != nil {
		return store.DuplicateGroup{}, services.WrapStore("dedup", "group", err)
	}
	return group, nil
}

// Stats summarises the index.
func (s *Service) Stats(ctx context.Context) (store.ItemStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return store.ItemStats{}, services.WrapStore("dedup", "stats", err)
	}
	return stats, nil
}

// Canonical resolves any item to the canonical member of its group. Items
// without duplicates are their own canonical.
func (s *Service) Canonical(ctx context.Context, itemID string) (store.Item, error) {
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return store.Item{}, services.WrapStore("dedup", "canonical", err)
	}
	return s.canonicalOf(ctx, item)
}

// CanonicalByHash resolves a content hash to its canonical item.
func (s *Service) CanonicalByHash(ctx context.Context, rawHash string) (store.Item, error) {
	hash, err := NormalizeHash(rawHash)
	if err != nil {
		return store.Item{}, err
	}
	items, err := s.repo.ItemsByHash(ctx, hash)
	if err != nil {
		return store.Item{}, services.WrapStore("dedup", "canonical by hash", err)
	}
	if len(items) == 0 {
		return store.Item{}, services.Wrap(services.ErrNotFound, "dedup", "canonical by hash", "no item with hash "+hash, nil)
	}
	return s.canonicalOf(ctx, items[0])
}

// CanonicalByPath resolves a file path to its canonical item.
func (s *Service) CanonicalByPath(ctx context.Context, path string) (store.Item, error) {
	item, err := s.repo.ItemByPath(ctx, strings.TrimSpace(path))
	if err != nil {
		return store.Item{}, services.WrapStore("dedup", "canonical by path", err)
	}
	return s.canonicalOf(ctx, item)
}

func (s *Service) canonicalOf(ctx context.Context, item store.Item) (store.Item, error) {
	if item.GroupID == "" {
		return item, nil
	}
	group, err := s.repo.GroupByHash(ctx, item.ContentHash)
	if errors.Is(err, store.ErrNotFound) {
		return item, nil
	}
	if err != nil {
		return store.Item{}, services.WrapStore("dedup", "canonical", err)
	}
	if group.CanonicalItemID == item.ID {
		return item, nil
	}
	canonical, err := s.repo.GetItem(ctx, group.CanonicalItemID)
	if err != nil {
		return store.Item{}, services.WrapStore("dedup", "canonical", err)
	}
	return canonical, nil
}
