package preflight

import (
	"cratemind/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
	// Fatal marks failures that must stop the daemon from starting.
	Fatal bool
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		fatal(CheckDirectoryAccess("Data directory", cfg.Paths.DataDir)),
		fatal(CheckDirectoryAccess("Log directory", cfg.Paths.LogDir)),
	}
	if cfg.Storage.Backend != config.StorageMemory && cfg.Storage.MinFreeMB > 0 {
		results = append(results, CheckFreeSpace("Data free space", cfg.Paths.DataDir, uint64(cfg.Storage.MinFreeMB)<<20))
	}
	return results
}

// Failed returns the failed results that are fatal.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed && r.Fatal {
			out = append(out, r)
		}
	}
	return out
}

func fatal(r Result) Result {
	r.Fatal = true
	return r
}
