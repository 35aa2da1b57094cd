// Package api serves classifications to downstream consumers and accepts
// ingest, signal and vote submissions over HTTP.
//
// # Key Types
//
// Answer: the consumer view of one lookup. An answer is either resolved,
// carrying a category and confidence, or unresolved with a Reason. Results
// below the configured confidence floor are always unresolved.
//
// LookupService: single and batched lookups by content hash or path. Batches
// fan out with a bounded errgroup; concurrent lookups of the same key are
// coalesced.
//
// Classification: the full stored result including the weighted breakdown,
// used by review tooling rather than consumers.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Enums (status, source type) are lowercase
// strings. Timestamps use RFC3339 with milliseconds.
package api
