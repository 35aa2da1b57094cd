// Package services defines shared utilities consumed by the classification
// components and their external collaborators.
//
// Key responsibilities:
//   - Context helpers that stamp item IDs, discovery run IDs, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that translate failures
//     into consistent retriable/non-retriable outcomes at component
//     boundaries.
//
// Use these helpers when wiring new component logic so operational behaviour
// (error handling, observability, retries) stays uniform across the engine.
package services
