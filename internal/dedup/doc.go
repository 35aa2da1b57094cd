// Package dedup ingests content fingerprints and maintains duplicate groups.
//
// Items are identified by (content hash, path). When a second distinct item
// shares a content hash the hash gains a duplicate group with exactly one
// canonical member; classification signals and results always attach to that
// canonical item. Group derivation runs inside the repository's critical
// section so concurrent ingests of the same hash converge on one answer.
package dedup
