package reputation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"cratemind/internal/config"
	"cratemind/internal/logging"
	"cratemind/internal/metrics"
	"cratemind/internal/services"
	"cratemind/internal/store"
	"cratemind/internal/taxonomy"
)

var (
	contributorNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("cratemind/contributors"))
	voteNamespace        = uuid.NewSHA1(uuid.NameSpaceURL, []byte("cratemind/votes"))
)

// AnonymizeID maps an external contributor handle to a stable opaque id.
func AnonymizeID(handle string) string {
	return uuid.NewSHA1(contributorNamespace, []byte(strings.TrimSpace(handle))).String()
}

// Repository is the persistence surface the service needs.
type Repository interface {
	store.ReputationRepository
	GetResult(ctx context.Context, itemID string) (store.Result, error)
}

// Service scores votes and maintains contributor reputation.
type Service struct {
	repo      Repository
	policy    Policy
	stability time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewService constructs the reputation service. A nil clock uses time.Now.
func NewService(cfg *config.Config, repo Repository, logger *slog.Logger, m *metrics.Metrics, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:      repo,
		policy:    PolicyFromConfig(cfg.Reputation),
		stability: cfg.StabilityWindow(),
		logger:    logging.NewComponentLogger(logger, "reputation"),
		metrics:   m,
		now:       now,
	}
}

// Policy returns the active thresholds.
func (s *Service) Policy() Policy {
	return s.policy
}

// RecordVote stores a pending vote from an anonymized contributor, creating
// the contributor record on first contribution.
func (s *Service) RecordVote(ctx context.Context, contributorID, itemID, category, subcategory string) (store.Vote, error) {
	contributorID = strings.TrimSpace(contributorID)
	if contributorID == "" {
		return store.Vote{}, services.Wrap(services.ErrValidation, "reputation", "record vote", "contributor id is required", nil)
	}
	class, err := taxonomy.Resolve(category, subcategory)
	if err != nil {
		return store.Vote{}, services.Wrap(services.ErrValidation, "reputation", "record vote", "malformed category", err)
	}
	now := s.now().UTC()
	if _, err := s.ensureContributor(ctx, contributorID, now); err != nil {
		return store.Vote{}, err
	}
	vote := store.Vote{
		ID:            uuid.NewSHA1(voteNamespace, []byte(contributorID+"|"+itemID+"|"+class.Category+"|"+class.Subcategory)).String(),
		ContributorID: contributorID,
		ItemID:        itemID,
		Category:      class.Category,
		Subcategory:   class.Subcategory,
		CastAt:        now,
	}
	if err := s.repo.InsertVote(ctx, vote); err != nil {
		return store.Vote{}, services.WrapStore("reputation", "record vote", err)
	}
	return vote, nil
}

func (s *Service) ensureContributor(ctx context.Context, id string, now time.Time) (store.Contributor, error) {
	c, err := s.repo.GetContributor(ctx, id)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Contributor{}, services.WrapStore("reputation", "load contributor", err)
	}
	c = store.Contributor{
		ID:         id,
		State:      store.PenaltyTrusted,
		Multiplier: 1,
		CreatedAt:  now,
	}
	if err := s.repo.SaveContributor(ctx, c, nil); err != nil {
		return store.Contributor{}, services.WrapStore("reputation", "create contributor", err)
	}
	return c, nil
}

// Stable reports whether result is settled enough to score votes against.
func (s *Service) Stable(result store.Result, now time.Time) bool {
	if result.Status != store.StatusResolved || result.StableSince.IsZero() {
		return false
	}
	return now.Sub(result.StableSince) >= s.stability
}

// EvaluateItem scores the pending votes on result's item when the result is
// stable, then re-evaluates every affected contributor. It returns the
// number of votes scored.
func (s *Service) EvaluateItem(ctx context.Context, result store.Result) (int, error) {
	now := s.now().UTC()
	if !s.Stable(result, now) {
		return 0, nil
	}
	pending, err := s.repo.PendingVotes(ctx, result.ItemID)
	if err != nil {
		return 0, services.WrapStore("reputation", "pending votes", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}
	affected := make(map[string]struct{})
	for i := range pending {
		pending[i].Scored = true
		pending[i].Correct = pending[i].Category == result.PrimaryCategory
		pending[i].ScoredAt = now
		affected[pending[i].ContributorID] = struct{}{}
		s.metrics.RecordVoteScored(pending[i].Correct)
	}
	if err := s.repo.MarkVotesScored(ctx, pending); err != nil {
		return 0, services.WrapStore("reputation", "score votes", err)
	}
	for _, id := range slices.Sorted(maps.Keys(affected)) {
		if _, err := s.Evaluate(ctx, id); err != nil {
			return len(pending), err
		}
	}
	return len(pending), nil
}

// Evaluate recomputes a contributor's rolling accuracy and advances the
// penalty machine. Several thresholds may be crossed at once; each step is
// recorded as its own transition event.
func (s *Service) Evaluate(ctx context.Context, contributorID string) (store.Contributor, error) {
	c, err := s.repo.GetContributor(ctx, contributorID)
	if err != nil {
		return store.Contributor{}, services.WrapStore("reputation", "load contributor", err)
	}
	votes, err := s.repo.RecentScoredVotes(ctx, contributorID, c.WindowStart, s.policy.Window)
	if err != nil {
		return store.Contributor{}, services.WrapStore("reputation", "load votes", err)
	}
	now := s.now().UTC()

	correct := 0
	domainCorrect := make(map[string]int)
	domainVotes := make(map[string]int)
	for _, v := range votes {
		domain := taxonomy.Domain(v.Category)
		domainVotes[domain]++
		if v.Correct {
			correct++
			domainCorrect[domain]++
		}
	}
	c.VoteCount = len(votes)
	c.Accuracy = 0
	if len(votes) > 0 {
		c.Accuracy = float64(correct) / float64(len(votes))
	}
	c.DomainVotes = domainVotes
	c.DomainAccuracy = make(map[string]float64, len(domainVotes))
	for d, n := range domainVotes {
		c.DomainAccuracy[d] = float64(domainCorrect[d]) / float64(n)
	}
	c.LastEvaluated = now

	var events []store.ReputationEvent
	if c.VoteCount >= s.policy.MinVotes {
		for {
			next := s.policy.Next(c.State, c.Accuracy)
			if next == c.State {
				break
			}
			events = append(events, store.ReputationEvent{
				ID:            uuid.NewString(),
				ContributorID: c.ID,
				Kind:          store.EventTransition,
				From:          c.State,
				To:            next,
				Accuracy:      c.Accuracy,
				At:            now,
			})
			c.State = next
		}
	}
	c.Multiplier = s.policy.Multiplier(c, "")

	if err := s.repo.SaveContributor(ctx, c, events); err != nil {
		return store.Contributor{}, services.WrapStore("reputation", "save contributor", err)
	}
	logger := s.logger.With(logging.String(logging.FieldContributor, c.ID))
	for _, ev := range events {
		s.metrics.RecordReputationTransition(string(ev.To))
		logger.Info("penalty state advanced",
			logging.String("from", string(ev.From)),
			logging.String("to", string(ev.To)),
			logging.Float64("accuracy", ev.Accuracy),
			logging.Int("votes", c.VoteCount),
		)
	}
	return c, nil
}

// Appeal restores a contributor to trusted after human review and restarts
// the rolling accuracy window.
func (s *Service) Appeal(ctx context.Context, contributorID, reviewer, note string) (store.Contributor, error) {
	reviewer = strings.TrimSpace(reviewer)
	if reviewer == "" {
		return store.Contributor{}, services.Wrap(services.ErrValidation, "reputation", "appeal", "reviewer is required", nil)
	}
	c, err := s.repo.GetContributor(ctx, contributorID)
	if err != nil {
		return store.Contributor{}, services.WrapStore("reputation", "appeal", err)
	}
	now := s.now().UTC()
	event := store.ReputationEvent{
		ID:            uuid.NewString(),
		ContributorID: c.ID,
		Kind:          store.EventAppeal,
		From:          c.State,
		To:            store.PenaltyTrusted,
		Accuracy:      c.Accuracy,
		Reviewer:      reviewer,
		Note:          strings.TrimSpace(note),
		At:            now,
	}
	c.State = store.PenaltyTrusted
	c.Multiplier = 1
	c.Accuracy = 0
	c.VoteCount = 0
	c.DomainAccuracy = nil
	c.DomainVotes = nil
	c.WindowStart = now
	c.LastEvaluated = now
	if err := s.repo.SaveContributor(ctx, c, []store.ReputationEvent{event}); err != nil {
		return store.Contributor{}, services.WrapStore("reputation", "appeal", err)
	}
	s.logger.Info("appeal granted",
		logging.String(logging.FieldContributor, c.ID),
		logging.String("from", string(event.From)),
		logging.String("reviewer", reviewer),
	)
	return c, nil
}

// SweepReport summarises one Sweep.
type SweepReport struct {
	Items  int
	Scored int
	Failed int
}

// Sweep evaluates every item with pending votes. A failing item is logged and
// skipped.
func (s *Service) Sweep(ctx context.Context) (SweepReport, error) {
	items, err := s.repo.ItemsWithPendingVotes(ctx)
	if err != nil {
		return SweepReport{}, services.WrapStore("reputation", "sweep", err)
	}
	var report SweepReport
	for _, itemID := range items {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Items++
		result, err := s.repo.GetResult(ctx, itemID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err == nil {
			var scored int
			scored, err = s.EvaluateItem(ctx, result)
			report.Scored += scored
		}
		if err != nil {
			report.Failed++
			logging.WarnWithContext(s.logger, "vote scoring failed", "sweep_item_failed",
				logging.String(logging.FieldItemID, itemID),
				logging.Error(err),
				logging.String(logging.FieldImpact, "votes stay pending until the next sweep"),
			)
		}
	}
	if report.Scored > 0 {
		s.logger.Info("reputation sweep complete",
			logging.Int("items", report.Items),
			logging.Int("scored", report.Scored),
			logging.Int("failed", report.Failed),
		)
	}
	return report, nil
}

// Snapshot loads the contributors among ids into an immutable lookup.
func (s *Service) Snapshot(ctx context.Context, ids []string) (*Snapshot, error) {
	snap := &Snapshot{policy: s.policy, contributors: make(map[string]store.Contributor, len(ids))}
	for _, id := range ids {
		if _, done := snap.contributors[id]; done {
			continue
		}
		c, err := s.repo.GetContributor(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, services.WrapStore("reputation", "snapshot", err)
		}
		snap.contributors[id] = c
	}
	return snap, nil
}

// Contributor returns one contributor record.
func (s *Service) Contributor(ctx context.Context, id string) (store.Contributor, error) {
	c, err := s.repo.GetContributor(ctx, id)
	if err != nil {
		return store.Contributor{}, services.WrapStore("reputation", "get contributor", err)
	}
	return c, nil
}

// Contributors lists every contributor.
func (s *Service) Contributors(ctx context.Context) ([]store.Contributor, error) {
	list, err := s.repo.ListContributors(ctx)
	if err != nil {
		return nil, services.WrapStore("reputation", "list contributors", err)
	}
	return list, nil
}

// Events returns a contributor's transition and appeal log.
func (s *Service) Events(ctx context.Context, id string) ([]store.ReputationEvent, error) {
	events, err := s.repo.ListReputationEvents(ctx, id)
	if err != nil {
		return nil, services.WrapStore("reputation", "events", err)
	}
	return events, nil
}

// Describe renders a short description of a contributor for CLI output.
func Describe(c store.Contributor) string {
	return fmt.Sprintf("%s %s x%.2f (%d votes, %.0f%% accurate)", c.ID, c.State, c.Multiplier, c.VoteCount, c.Accuracy*100)
}
