package store

import (
	"maps"
	"slices"
	"time"
)

// SourceType identifies where a classification signal came from.
type SourceType string

const (
	SourceExactMatch       SourceType = "exact_match"
	SourceEntityPattern    SourceType = "entity_pattern"
	SourceCommunityPattern SourceType = "community_pattern"
	SourceWeakHeuristic    SourceType = "weak_heuristic"
	SourceSeed             SourceType = "seed"
	SourceExpertOverride   SourceType = "expert_override"
)

// SourceTypes lists every known source type in tier order.
var SourceTypes = []SourceType{
	SourceExpertOverride,
	SourceExactMatch,
	SourceEntityPattern,
	SourceCommunityPattern,
	SourceWeakHeuristic,
	SourceSeed,
}

// Valid reports whether s is a known source type.
func (s SourceType) Valid() bool {
	return slices.Contains(SourceTypes, s)
}

// Item is one ingested file identified by (content hash, path).
type Item struct {
	ID           string
	ContentHash  string
	Path         string
	SizeBytes    int64
	Artist       string
	Label        string
	Title        string
	GroupID      string
	DiscoveredAt time.Time
	CreatedAt    time.Time
}

// DuplicateGroup collects every item sharing one content hash.
type DuplicateGroup struct {
	ID              string
	ContentHash     string
	CanonicalItemID string
	MemberIDs       []string
	TotalBytes      int64
	WasteBytes      int64
	UpdatedAt       time.Time
}

// DuplicateCount is the number of members in the group.
func (g DuplicateGroup) DuplicateCount() int {
	return len(g.MemberIDs)
}

// ItemStats summarises the dedup index.
type ItemStats struct {
	Items        int
	UniqueHashes int
	Groups       int
	WasteBytes   int64
	Signals      int
}

// Signal is one immutable classification opinion about an item.
type Signal struct {
	ID          string
	ItemID      string
	SourceType  SourceType
	SourceID    string
	Category    string
	Subcategory string
	// RawCategory keeps the submitted value when Category was routed to
	// the unclassified bucket.
	RawCategory string
	Strength    PatternStrength
	BaseWeight  float64
	SampleSize  int
	CreatedAt   time.Time
}

// Status is the lifecycle state of a classification result.
type Status string

const (
	StatusUnclassified Status = "unclassified"
	StatusResolved     Status = "resolved"
	StatusDisputed     Status = "disputed"
	StatusUnderReview  Status = "under_review"
)

// Contribution is one signal's effective weight in a result.
type Contribution struct {
	SignalID             string
	SourceType           SourceType
	SourceID             string
	EntityKey            string
	Category             string
	Subcategory          string
	BaseWeight           float64
	ReputationMultiplier float64
	RecencyFactor        float64
	ProfileFactor        float64
	Boost                float64
	EffectiveWeight      float64
}

// GroupScore is the aggregate of one (category, subcategory) group.
type GroupScore struct {
	Category    string
	Subcategory string
	Weight      float64
	Share       float64
	Sources     int
}

// Result is the resolved classification of one canonical item.
type Result struct {
	ItemID          string
	PrimaryCategory string
	Subcategory     string
	Confidence      float64
	Status          Status
	DominantSource  SourceType
	Breakdown       []Contribution
	Groups          []GroupScore
	DisputeCycles   int
	StableSince     time.Time
	ProfileVersion  int64
	Version         int64
	UpdatedAt       time.Time
}

// Clone returns a deep copy of r.
func (r Result) Clone() Result {
	r.Breakdown = slices.Clone(r.Breakdown)
	r.Groups = slices.Clone(r.Groups)
	return r
}

// PatternStrength is the discrete reliability tier of an entity pattern.
type PatternStrength string

const (
	StrengthNone       PatternStrength = "none"
	StrengthModerate   PatternStrength = "moderate"
	StrengthStrong     PatternStrength = "strong"
	StrengthVeryStrong PatternStrength = "very_strong"
)

// Rank orders strengths from none (0) to very_strong (3).
func (s PatternStrength) Rank() int {
	switch s {
	case StrengthModerate:
		return 1
	case StrengthStrong:
		return 2
	case StrengthVeryStrong:
		return 3
	default:
		return 0
	}
}

// EntityKind distinguishes artist and label profiles.
type EntityKind string

const (
	EntityArtist EntityKind = "artist"
	EntityLabel  EntityKind = "label"
)

// ConfidencePoint is one append-only entry of a profile's confidence history.
type ConfidencePoint struct {
	Version    int64
	Confidence float64
	SampleSize int
	RecordedAt time.Time
}

// EntityProfile is a learned category distribution for an artist or label.
type EntityProfile struct {
	EntityKey    string
	Kind         EntityKind
	DisplayName  string
	Distribution map[string]float64
	TopCategory  string
	Confidence   float64
	SampleSize   int
	Strength     PatternStrength
	// CrossValidated is set when the artist and label patterns over shared
	// items agree on the top category.
	CrossValidated   bool
	Contradictions   int
	StableSince      time.Time
	LastCorroborated time.Time
	History          []ConfidencePoint
	PublishedVersion int64
	LastUpdated      time.Time
}

// StabilityDays is the number of whole days the top category has held.
func (p EntityProfile) StabilityDays(now time.Time) int {
	if p.StableSince.IsZero() || now.Before(p.StableSince) {
		return 0
	}
	return int(now.Sub(p.StableSince) / (24 * time.Hour))
}

// Clone returns a deep copy of p.
func (p EntityProfile) Clone() EntityProfile {
	p.Distribution = maps.Clone(p.Distribution)
	p.History = slices.Clone(p.History)
	return p
}

// PenaltyState is a contributor's position in the one-way penalty machine.
type PenaltyState string

const (
	PenaltyTrusted         PenaltyState = "trusted"
	PenaltyMonitored       PenaltyState = "monitored"
	PenaltySuspect         PenaltyState = "suspect"
	PenaltySilentlyIgnored PenaltyState = "silently_ignored"
)

// Severity orders penalty states from trusted (0) to silently_ignored (3).
func (p PenaltyState) Severity() int {
	switch p {
	case PenaltyMonitored:
		return 1
	case PenaltySuspect:
		return 2
	case PenaltySilentlyIgnored:
		return 3
	default:
		return 0
	}
}

// Contributor is the reputation record of one anonymized contributor.
type Contributor struct {
	ID             string
	State          PenaltyState
	Multiplier     float64
	Accuracy       float64
	DomainAccuracy map[string]float64
	DomainVotes    map[string]int
	VoteCount      int
	// WindowStart excludes earlier votes from the rolling window; set by appeals.
	WindowStart   time.Time
	LastEvaluated time.Time
	CreatedAt     time.Time
}

// Clone returns a deep copy of c.
func (c Contributor) Clone() Contributor {
	c.DomainAccuracy = maps.Clone(c.DomainAccuracy)
	c.DomainVotes = maps.Clone(c.DomainVotes)
	return c
}

// Vote is one community vote awaiting or having received a score.
type Vote struct {
	ID            string
	ContributorID string
	ItemID        string
	Category      string
	Subcategory   string
	CastAt        time.Time
	Scored        bool
	Correct       bool
	ScoredAt      time.Time
}

// ReputationEventKind names an audit entry in the reputation log.
type ReputationEventKind string

const (
	EventTransition ReputationEventKind = "transition"
	EventAppeal     ReputationEventKind = "appeal"
)

// ReputationEvent records one penalty transition or appeal.
type ReputationEvent struct {
	ID            string
	ContributorID string
	Kind          ReputationEventKind
	From          PenaltyState
	To            PenaltyState
	Accuracy      float64
	Reviewer      string
	Note          string
	At            time.Time
}

// RunStatus is the lifecycle of a discovery run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunCancelled RunStatus = "cancelled"
	RunFailed    RunStatus = "failed"
)

// Incomplete reports whether a run can be resumed.
func (s RunStatus) Incomplete() bool {
	return s == RunRunning || s == RunCancelled || s == RunFailed
}

// DiscoveryRun is one pattern discovery batch.
type DiscoveryRun struct {
	ID               string
	SnapshotAt       time.Time
	StartedAt        time.Time
	FinishedAt       time.Time
	Status           RunStatus
	BaseVersion      int64
	PublishedVersion int64
	Processed        int
	Profiled         int
	Skipped          int
	Error            string
}

// StageOutcome is the per-entity checkpoint result of a discovery run.
type StageOutcome string

const (
	StageProfiled     StageOutcome = "profiled"
	StageDiscarded    StageOutcome = "discarded"
	StageInsufficient StageOutcome = "insufficient"
	StageSkipped      StageOutcome = "skipped"
)

// StagedEntity is the checkpoint written after an entity is processed.
// Profile is nil unless Outcome is StageProfiled.
type StagedEntity struct {
	RunID     string
	EntityKey string
	Outcome   StageOutcome
	Profile   *EntityProfile
	// ItemIDs are the items that contributed, kept for cross-validation.
	ItemIDs []string
}
