package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"cratemind/internal/classifier"
	"cratemind/internal/config"
	"cratemind/internal/discovery"
	"cratemind/internal/logging"
	"cratemind/internal/metrics"
	"cratemind/internal/preflight"
	"cratemind/internal/store"
)

// Options configures a Daemon.
type Options struct {
	Classifier *classifier.Classifier
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	// DiscoveryInterval and SweepInterval override the configured periods
	// when positive.
	DiscoveryInterval time.Duration
	SweepInterval     time.Duration
}

// Daemon runs the background loops and the HTTP API, enforcing
// single-instance execution.
type Daemon struct {
	cfg        *config.Config
	classifier *classifier.Classifier
	metrics    *metrics.Metrics
	logger     *slog.Logger

	discoveryInterval time.Duration
	sweepInterval     time.Duration

	lockPath string
	lock     *flock.Flock

	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	api     *apiServer
	done    chan struct{}
}

// Status represents daemon runtime information.
type Status struct {
	Running        bool
	DatabasePath   string
	LockFilePath   string
	APIAddress     string
	ProfileVersion int64
	Items          store.ItemStats
	LastRun        *store.DiscoveryRun
	Checks         []preflight.Result
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	if cfg == nil || opts.Classifier == nil {
		return nil, errors.New("daemon requires config and classifier")
	}
	d := &Daemon{
		cfg:               cfg,
		classifier:        opts.Classifier,
		metrics:           opts.Metrics,
		logger:            logging.NewComponentLogger(opts.Logger, "daemon"),
		discoveryInterval: cfg.DiscoveryInterval(),
		sweepInterval:     cfg.SweepInterval(),
		lockPath:          cfg.DaemonLockPath(),
	}
	if opts.DiscoveryInterval > 0 {
		d.discoveryInterval = opts.DiscoveryInterval
	}
	if opts.SweepInterval > 0 {
		d.sweepInterval = opts.SweepInterval
	}
	d.lock = flock.New(d.lockPath)
	return d, nil
}

// Start acquires the daemon lock, loads the published profiles, starts the
// HTTP API and launches the discovery scheduler and reputation sweeper.
// Everything stops when ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := d.cfg.EnsureDirectories(); err != nil {
		return err
	}

	if err := d.runPreflight(); err != nil {
		return err
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another cratemind daemon instance is already running")
	}

	if err := d.classifier.Start(ctx); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("load profiles: %w", err)
	}
	server := newAPIServer(d.cfg, d)
	if err := server.start(); err != nil {
		_ = d.lock.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.api = server
	done := make(chan struct{})
	d.done = done

	scheduler := discovery.NewScheduler(d.classifier.Discovery(), d.discoveryInterval, d.logger)
	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		if err := scheduler.Run(runCtx); err != nil {
			logging.ErrorWithContext(d.logger, "discovery scheduler stopped", "discovery_scheduler_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "pattern profiles will not be refreshed"),
				logging.String(logging.FieldErrorHint, "check discovery.interval_minutes"),
			)
		}
	}()
	go func() {
		defer d.wg.Done()
		d.sweepLoop(runCtx)
	}()
	go func() {
		<-runCtx.Done()
		d.shutdown(done)
	}()

	d.running.Store(true)
	d.logger.Info("cratemind daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", server.addr()),
		logging.Duration("discovery_interval", d.discoveryInterval),
		logging.Duration("sweep_interval", d.sweepInterval),
	)
	return nil
}

// Stop halts background processing and releases the daemon lock. It is safe
// to call more than once.
func (d *Daemon) Stop() {
	d.shutdown(nil)
}

// shutdown stops the current run. A non-nil run only matches the run that
// created it, so a stale context watcher cannot stop a later restart.
func (d *Daemon) shutdown(run chan struct{}) {
	d.mu.Lock()
	if !d.running.Load() || (run != nil && run != d.done) {
		d.mu.Unlock()
		return
	}
	d.running.Store(false)
	cancel := d.cancel
	server := d.api
	done := d.done
	d.cancel = nil
	d.api = nil
	d.mu.Unlock()

	cancel()
	server.stop()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.logger.Info("cratemind daemon stopped")
	close(done)
}

// Wait blocks until a started daemon has fully stopped, either through Stop
// or cancellation of the context passed to Start.
func (d *Daemon) Wait() {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Close stops the daemon and releases the repository.
func (d *Daemon) Close() error {
	d.Stop()
	d.Wait()
	return d.classifier.Close()
}

// Addr returns the HTTP listen address, empty when the API is disabled or
// the daemon is stopped.
func (d *Daemon) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.api.addr()
}

// Status reports runtime state. Storage failures leave the corresponding
// fields zero.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:        d.running.Load(),
		LockFilePath:   d.lockPath,
		APIAddress:     d.Addr(),
		ProfileVersion: d.classifier.Profiles().Current().Version,
	}
	if d.cfg.Storage.Backend != config.StorageMemory {
		status.DatabasePath = d.cfg.DatabasePath()
	}
	if stats, err := d.classifier.Stats(ctx); err == nil {
		status.Items = stats
	} else {
		d.logger.Debug("status item stats unavailable", logging.Error(err))
	}
	if runs, err := d.classifier.Discovery().Runs(ctx, 1); err == nil && len(runs) > 0 {
		status.LastRun = &runs[0]
	}
	status.Checks = preflight.RunAll(d.cfg)
	return status
}
