package daemon

import (
	"context"
	"errors"
	"time"

	"cratemind/internal/logging"
)

// sweepLoop scores pending votes every sweep interval until ctx is done.
func (d *Daemon) sweepLoop(ctx context.Context) {
	if d.sweepInterval <= 0 {
		d.logger.Warn("reputation sweeper disabled", logging.Duration("interval", d.sweepInterval))
		return
	}
	ticker := time.NewTicker(d.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweepOnce(ctx)
		}
	}
}

func (d *Daemon) sweepOnce(ctx context.Context) {
	report, err := d.classifier.Reputation().Sweep(ctx)
	switch {
	case err == nil:
		if report.Items > 0 {
			d.logger.Debug("reputation sweep tick",
				logging.Int("items", report.Items),
				logging.Int("scored", report.Scored),
			)
		}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		d.logger.Debug("reputation sweep interrupted by shutdown")
	default:
		logging.WarnWithContext(d.logger, "reputation sweep failed", "sweep_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "pending votes are scored on the next tick"),
		)
	}
}
