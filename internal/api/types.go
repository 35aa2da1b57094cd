package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Answer is the consumer-facing lookup result.
type Answer struct {
	Query       string  `json:"query"`
	ItemID      string  `json:"itemId,omitempty"`
	ContentHash string  `json:"contentHash,omitempty"`
	Resolved    bool    `json:"resolved"`
	Category    string  `json:"category,omitempty"`
	Subcategory string  `json:"subcategory,omitempty"`
	Confidence  float64 `json:"confidence"`
	Status      string  `json:"status,omitempty"`
	Reason      string  `json:"reason,omitempty"`
	UpdatedAt   string  `json:"updatedAt,omitempty"`
}

// Query identifies one item by content hash or path.
type Query struct {
	Hash string `json:"hash,omitempty"`
	Path string `json:"path,omitempty"`
}

// BatchRequest is the body of a batched lookup.
type BatchRequest struct {
	Queries []Query `json:"queries"`
}

// BatchResponse returns answers in request order.
type BatchResponse struct {
	Answers []Answer `json:"answers"`
}

// Contribution is one signal's share of a classification.
type Contribution struct {
	SignalID             string  `json:"signalId"`
	SourceType           string  `json:"sourceType"`
	SourceID             string  `json:"sourceId"`
	EntityKey            string  `json:"entityKey,omitempty"`
	Category             string  `json:"category"`
	Subcategory          string  `json:"subcategory,omitempty"`
	BaseWeight           float64 `json:"baseWeight"`
	ReputationMultiplier float64 `json:"reputationMultiplier"`
	RecencyFactor        float64 `json:"recencyFactor"`
	ProfileFactor        float64 `json:"profileFactor,omitempty"`
	Boost                float64 `json:"boost"`
	EffectiveWeight      float64 `json:"effectiveWeight"`
}

// Classification is the full stored result of an item.
type Classification struct {
	ItemID string `json:"itemId"`
	// Resolved and Reason carry the lookup verdict on item detail responses.
	Resolved        bool           `json:"resolved"`
	Reason          string         `json:"reason,omitempty"`
	PrimaryCategory string         `json:"primaryCategory,omitempty"`
	Subcategory     string         `json:"subcategory,omitempty"`
	Confidence      float64        `json:"confidence"`
	Status          string         `json:"status"`
	DominantSource  string         `json:"dominantSource,omitempty"`
	DisputeCycles   int            `json:"disputeCycles,omitempty"`
	ProfileVersion  int64          `json:"profileVersion,omitempty"`
	Version         int64          `json:"version"`
	StableSince     string         `json:"stableSince,omitempty"`
	UpdatedAt       string         `json:"updatedAt,omitempty"`
	Breakdown       []Contribution `json:"breakdown,omitempty"`
}

// IngestRequest registers one discovered file.
type IngestRequest struct {
	ContentHash  string `json:"contentHash"`
	Path         string `json:"path"`
	SizeBytes    int64  `json:"sizeBytes"`
	DiscoveredAt string `json:"discoveredAt,omitempty"`
	Artist       string `json:"artist,omitempty"`
	Label        string `json:"label,omitempty"`
	Title        string `json:"title,omitempty"`
}

// IngestResponse reports the stored item and its duplicate group.
type IngestResponse struct {
	ItemID          string `json:"itemId"`
	IsNew           bool   `json:"isNew"`
	GroupID         string `json:"groupId,omitempty"`
	CanonicalItemID string `json:"canonicalItemId"`
}

// SignalRequest submits one classification signal.
type SignalRequest struct {
	ItemID      string `json:"itemId"`
	SourceType  string `json:"sourceType"`
	SourceID    string `json:"sourceId"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory,omitempty"`
	Strength    string `json:"strength,omitempty"`
	SampleSize  int    `json:"sampleSize,omitempty"`
}

// VoteRequest casts one community vote.
type VoteRequest struct {
	Contributor string `json:"contributor"`
	ItemID      string `json:"itemId"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory,omitempty"`
}

// SubmissionResponse reports an accepted signal and the recomputed result.
type SubmissionResponse struct {
	SignalID       string         `json:"signalId"`
	Created        bool           `json:"created"`
	Classification Classification `json:"classification"`
}

// ReviewResponse lists items awaiting human attention.
type ReviewResponse struct {
	Items []Classification `json:"items"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Retriable bool   `json:"retriable"`
}
