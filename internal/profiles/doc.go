// Package profiles holds the published generation of entity profiles.
//
// Readers take the current Snapshot with a single atomic load and never see a
// partially published generation. Snapshots are immutable after Publish.
// Decay of profile confidence is evaluated when a profile is consumed, so a
// stored profile never changes between discovery runs.
package profiles
