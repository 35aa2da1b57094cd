// Package reputation tracks contributor accuracy and the penalty state
// machine that scales community signal weight.
//
// Votes are scored only against results that have held their category for
// the stability window. Penalties only ever tighten automatically:
// trusted, monitored, suspect, silently_ignored. The single way back to
// trusted is a reviewed appeal, which also restarts the rolling window.
package reputation
