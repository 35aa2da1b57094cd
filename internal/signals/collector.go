package signals

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"cratemind/internal/config"
	"cratemind/internal/logging"
	"cratemind/internal/metrics"
	"cratemind/internal/services"
	"cratemind/internal/store"
	"cratemind/internal/taxonomy"
)

const maxSourceIDLength = 256

// namespace seeds the name-based signal ids.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("cratemind/signals"))

// Canonicalizer resolves any item to the canonical member of its group.
type Canonicalizer interface {
	Canonical(ctx context.Context, itemID string) (store.Item, error)
}

// SubmitRequest is one raw signal as submitted by a source.
type SubmitRequest struct {
	ItemID      string
	SourceType  store.SourceType
	SourceID    string
	Category    string
	Subcategory string
	// Strength applies to entity_pattern signals.
	Strength store.PatternStrength
	// SampleSize scales community_pattern and weak_heuristic weights.
	SampleSize int
	// CreatedAt defaults to the collector clock.
	CreatedAt time.Time
}

// Collector validates and stores signals.
type Collector struct {
	repo    store.SignalRepository
	canon   Canonicalizer
	cfg     config.Signals
	bucket  time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewCollector constructs a Collector. A nil clock uses time.Now.
func NewCollector(cfg *config.Config, repo store.SignalRepository, canon Canonicalizer, logger *slog.Logger, m *metrics.Metrics, now func() time.Time) *Collector {
	if now == nil {
		now = time.Now
	}
	return &Collector{
		repo:    repo,
		canon:   canon,
		cfg:     cfg.Signals,
		bucket:  cfg.DedupBucket(),
		logger:  logging.NewComponentLogger(logger, "signals"),
		metrics: m,
		now:     now,
	}
}

// Submit validates req, attaches it to the canonical item and stores it.
// created is false when an identical signal already exists in the same
// dedup bucket; the stored signal is returned in that case.
func (c *Collector) Submit(ctx context.Context, req SubmitRequest) (store.Signal, bool, error) {
	sig, err := c.build(ctx, req)
	if err != nil {
		return store.Signal{}, false, err
	}

	stored, created, err := c.repo.InsertSignal(ctx, sig)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.metrics.RecordSignalRejected("item")
			return store.Signal{}, false, services.Wrap(services.ErrValidation, "signals", "submit", "item does not exist", err)
		}
		return store.Signal{}, false, services.WrapStore("signals", "submit", err)
	}

	logger := logging.WithContext(services.WithItemID(ctx, stored.ItemID), c.logger)
	if !created {
		c.metrics.RecordSignalDeduplicated()
		logger.Debug("duplicate signal ignored", logging.String("signal_id", stored.ID))
		return stored, false, nil
	}
	c.metrics.RecordSignalSubmitted(string(stored.SourceType))
	logger.Debug("signal recorded",
		logging.String("signal_id", stored.ID),
		logging.String(logging.FieldSourceType, string(stored.SourceType)),
		logging.String("category", stored.Category),
		logging.String("subcategory", stored.Subcategory),
		logging.Float64("base_weight", stored.BaseWeight),
	)
	return stored, true, nil
}

func (c *Collector) build(ctx context.Context, req SubmitRequest) (store.Signal, error) {
	if !req.SourceType.Valid() {
		return store.Signal{}, c.reject("source_type", fmt.Sprintf("unknown source type %q", req.SourceType), nil)
	}
	sourceID := strings.TrimSpace(req.SourceID)
	if err := validateSourceID(sourceID); err != nil {
		return store.Signal{}, c.reject("source_id", err.Error(), nil)
	}
	if req.SampleSize < 0 {
		return store.Signal{}, c.reject("sample_size", "sample size must not be negative", nil)
	}
	if req.Strength != "" && req.Strength != store.StrengthNone && req.Strength.Rank() == 0 {
		return store.Signal{}, c.reject("strength", fmt.Sprintf("unknown pattern strength %q", req.Strength), nil)
	}
	class, err := taxonomy.Resolve(req.Category, req.Subcategory)
	if err != nil {
		return store.Signal{}, c.reject("category", "malformed category", err)
	}
	if strings.TrimSpace(req.ItemID) == "" {
		return store.Signal{}, c.reject("item", "item id is required", nil)
	}
	item, err := c.canon.Canonical(ctx, strings.TrimSpace(req.ItemID))
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return store.Signal{}, c.reject("item", "item does not exist", err)
		}
		return store.Signal{}, err
	}

	created := req.CreatedAt.UTC()
	if req.CreatedAt.IsZero() {
		created = c.now().UTC()
	}
	strength := req.Strength
	if req.SourceType == store.SourceEntityPattern && strength.Rank() == 0 {
		strength = store.StrengthModerate
	}
	if req.SourceType != store.SourceEntityPattern {
		strength = ""
	}

	weight := BaseWeight(c.cfg, req.SourceType, strength, req.SampleSize)
	sig := store.Signal{
		ItemID:      item.ID,
		SourceType:  req.SourceType,
		SourceID:    sourceID,
		Category:    class.Category,
		Subcategory: class.Subcategory,
		Strength:    strength,
		BaseWeight:  weight,
		SampleSize:  req.SampleSize,
		CreatedAt:   created,
	}
	if !class.Known {
		sig.RawCategory = class.Raw
		sig.BaseWeight = weight * c.cfg.UnknownCategoryFactor
	}
	sig.ID = SignalID(sig, item.ContentHash, c.bucket)
	return sig, nil
}

func (c *Collector) reject(reason, message string, cause error) error {
	c.metrics.RecordSignalRejected(reason)
	c.logger.Debug("signal rejected", logging.String("reason", reason), logging.String("detail", message))
	return services.Wrap(services.ErrValidation, "signals", "submit", message, cause)
}

func validateSourceID(id string) error {
	if id == "" {
		return errors.New("source id is required")
	}
	if len(id) > maxSourceIDLength {
		return fmt.Errorf("source id longer than %d bytes", maxSourceIDLength)
	}
	if strings.IndexFunc(id, unicode.IsControl) >= 0 {
		return errors.New("source id contains control characters")
	}
	return nil
}

// SignalID derives the content-addressed id of a signal. The item is
// identified by its content hash so the id survives a change of canonical
// member within the duplicate group.
func SignalID(sig store.Signal, contentHash string, bucket time.Duration) string {
	at := sig.CreatedAt.UTC()
	if bucket > 0 {
		at = at.Truncate(bucket)
	}
	key := strings.Join([]string{
		string(sig.SourceType),
		sig.SourceID,
		contentHash,
		sig.Category,
		sig.Subcategory,
		strconv.FormatInt(at.Unix(), 10),
	}, "|")
	return uuid.NewSHA1(namespace, []byte(key)).String()
}

// List returns every stored signal for an item, oldest first.
func (c *Collector) List(ctx context.Context, itemID string) ([]store.Signal, error) {
	sigs, err := c.repo.ListSignals(ctx, itemID)
	if err != nil {
		return nil, services.WrapStore("signals", "list", err)
	}
	return sigs, nil
}

// Effective drops signals superseded by a newer signal from the same
// (source type, source id). The result is ordered by creation time.
func Effective(sigs []store.Signal) []store.Signal {
	type sourceKey struct {
		source store.SourceType
		id     string
	}
	latest := make(map[sourceKey]store.Signal, len(sigs))
	for _, s := range sigs {
		key := sourceKey{s.SourceType, s.SourceID}
		prev, ok := latest[key]
		if !ok || newer(s, prev) {
			latest[key] = s
		}
	}
	out := make([]store.Signal, 0, len(latest))
	for _, s := range latest {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b store.Signal) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func newer(a, b store.Signal) bool {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c > 0
	}
	return a.ID > b.ID
}
