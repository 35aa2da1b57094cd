// Package main hosts the cratemind CLI entrypoint and command graph.
//
// Commands open the configured repository directly and run the same
// classifier the daemon serves, so every operation works with or without a
// daemon running. SQLite handles concurrent access and discovery runs share
// the daemon's run lock. Daemon lifecycle commands manage the background
// process through its instance lock and pid file.
package main
