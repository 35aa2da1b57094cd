package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrVersionConflict indicates a compare-and-swap lost to a concurrent writer.
	ErrVersionConflict = errors.New("store: version conflict")
	// ErrUnavailable indicates the backing storage cannot serve requests.
	ErrUnavailable = errors.New("store: unavailable")
)

// GroupFunc derives the duplicate group for a content hash from its members.
// The repository calls it inside the same critical section as the insert so
// racing ingests converge on one canonical.
type GroupFunc func(hash string, existing *DuplicateGroup, members []Item) DuplicateGroup

// IngestOutcome reports the effect of IngestItem.
type IngestOutcome struct {
	Item  Item
	IsNew bool
	Group *DuplicateGroup
}

// ItemRepository persists items and duplicate groups.
type ItemRepository interface {
	// IngestItem inserts item unless (content hash, path) already exists and
	// relinks the hash's duplicate group atomically.
	IngestItem(ctx context.Context, item Item, group GroupFunc) (IngestOutcome, error)
	GetItem(ctx context.Context, id string) (Item, error)
	ItemsByHash(ctx context.Context, hash string) ([]Item, error)
	ItemByPath(ctx context.Context, path string) (Item, error)
	ItemsByID(ctx context.Context, ids []string) (map[string]Item, error)
	GroupByHash(ctx context.Context, hash string) (DuplicateGroup, error)
	Stats(ctx context.Context) (ItemStats, error)
}

// SignalRepository persists append-only signals.
type SignalRepository interface {
	// InsertSignal stores sig unless its ID exists; created is false for a
	// resubmission, in which case the stored signal is returned.
	InsertSignal(ctx context.Context, sig Signal) (stored Signal, created bool, err error)
	ListSignals(ctx context.Context, itemID string) ([]Signal, error)
}

// ResultRepository persists versioned classification results and their history.
type ResultRepository interface {
	GetResult(ctx context.Context, itemID string) (Result, error)
	// SaveResult stores result as version expectedVersion+1. It returns
	// ErrVersionConflict when the stored version differs from expectedVersion
	// (zero meaning no stored result). Every saved version is appended to the
	// result history log.
	SaveResult(ctx context.Context, result Result, expectedVersion int64) (Result, error)
	// ResultsAsOf returns the latest version per item with UpdatedAt <= at.
	ResultsAsOf(ctx context.Context, at time.Time) ([]Result, error)
	ListResultsByStatus(ctx context.Context, statuses ...Status) ([]Result, error)
}

// ReputationRepository persists contributors, votes and the reputation log.
type ReputationRepository interface {
	GetContributor(ctx context.Context, id string) (Contributor, error)
	ListContributors(ctx context.Context) ([]Contributor, error)
	// SaveContributor upserts c and appends events in one transaction.
	SaveContributor(ctx context.Context, c Contributor, events []ReputationEvent) error
	ListReputationEvents(ctx context.Context, contributorID string) ([]ReputationEvent, error)
	InsertVote(ctx context.Context, v Vote) error
	PendingVotes(ctx context.Context, itemID string) ([]Vote, error)
	ItemsWithPendingVotes(ctx context.Context) ([]string, error)
	MarkVotesScored(ctx context.Context, votes []Vote) error
	// RecentScoredVotes returns up to limit scored votes with ScoredAt after
	// since, newest first.
	RecentScoredVotes(ctx context.Context, contributorID string, since time.Time, limit int) ([]Vote, error)
}

// ProfileRepository persists published profile versions and discovery runs.
type ProfileRepository interface {
	// CurrentProfiles returns the published version and its profiles; version
	// zero means nothing has been published.
	CurrentProfiles(ctx context.Context) (int64, []EntityProfile, error)
	// PublishProfiles replaces the published set with version atomically and
	// completes run. It returns ErrVersionConflict when the current version is
	// not version-1.
	PublishProfiles(ctx context.Context, run DiscoveryRun, version int64, profiles []EntityProfile) error
	CreateRun(ctx context.Context, run DiscoveryRun) error
	UpdateRun(ctx context.Context, run DiscoveryRun) error
	LatestIncompleteRun(ctx context.Context) (DiscoveryRun, error)
	ListRuns(ctx context.Context, limit int) ([]DiscoveryRun, error)
	StageEntity(ctx context.Context, staged StagedEntity) error
	StagedEntities(ctx context.Context, runID string) (map[string]StagedEntity, error)
}

// Repository is the full persistence surface.
type Repository interface {
	ItemRepository
	SignalRepository
	ResultRepository
	ReputationRepository
	ProfileRepository
	Close() error
}
