// Package daemon coordinates the long-running cratemind process.
//
// It holds a flock-based single-instance lock, serves the HTTP API, runs the
// pattern discovery scheduler and periodically sweeps pending community votes
// into contributor reputation. Classification logic lives in its own
// packages; the daemon only owns startup, shutdown and the background loops.
package daemon
