// Package classifier wires the fingerprint index, signal collector,
// consensus resolver, reputation tracker and pattern discovery into the
// single entry point used by the daemon, the HTTP API and the CLI.
package classifier
