package daemon

import (
	"fmt"

	"cratemind/internal/logging"
	"cratemind/internal/preflight"
)

func (d *Daemon) runPreflight() error {
	results := preflight.RunAll(d.cfg)
	for _, r := range results {
		if r.Passed || r.Fatal {
			continue
		}
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_warning",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldImpact, "writes may start failing"),
			logging.String(logging.FieldErrorHint, "free space on the data volume or lower storage.min_free_mb"),
		)
	}
	if failed := preflight.Failed(results); len(failed) > 0 {
		return fmt.Errorf("preflight: %s: %s", failed[0].Name, failed[0].Detail)
	}
	return nil
}
