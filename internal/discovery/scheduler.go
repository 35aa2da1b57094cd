package discovery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"cratemind/internal/logging"
	"cratemind/internal/services"
)

// Runner executes one discovery batch.
type Runner interface {
	Run(ctx context.Context) (Report, error)
}

// Scheduler runs discovery on a fixed interval.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	logger   *slog.Logger
}

// NewScheduler constructs a scheduler.
func NewScheduler(runner Runner, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   logging.NewComponentLogger(logger, "discovery-scheduler"),
	}
}

// Run starts a batch immediately and then every interval until ctx is done.
// Failed batches are logged; the next tick resumes them.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return errors.New("discovery interval must be positive")
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	_, err := s.runner.Run(ctx)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.logger.Debug("discovery interrupted by shutdown")
	case errors.Is(err, services.ErrConflict):
		s.logger.Info("discovery already running elsewhere, skipping tick")
	default:
		logging.WarnWithContext(s.logger, "scheduled discovery failed", "discovery_tick_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "profiles stay at the previous generation"),
		)
	}
}
