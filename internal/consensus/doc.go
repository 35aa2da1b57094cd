// Package consensus resolves an item's signals into one classification.
//
// Compute is a pure function: the same signals, profile generation,
// reputation snapshot, previous result and clock always give the same
// result. Resolver wraps it with the repository, persisting each result with
// an optimistic version check and retrying on conflict.
//
// Signals vote for a (category, subcategory) pair. "House / Deep House" and
// "House / Tech House" are separate groups and can dispute each other.
package consensus
