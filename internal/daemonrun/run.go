package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"cratemind/internal/classifier"
	"cratemind/internal/config"
	"cratemind/internal/daemon"
	"cratemind/internal/daemonctl"
	"cratemind/internal/logging"
	"cratemind/internal/metrics"
)

// Options configures daemon process runtime behavior.
type Options struct {
	// LogLevel overrides logging.level when set.
	LogLevel string
}

// Run starts the cratemind daemon and blocks until SIGINT, SIGTERM or
// cancellation of cmdCtx.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		cfg.Logging.Level = level
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logStartupSnapshot(logger, cfg)

	m, err := metrics.NewWithRuntime()
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	repo, err := classifier.OpenRepository(cfg)
	if err != nil {
		logger.Error("open repository", logging.Error(err))
		return err
	}
	c := classifier.New(classifier.Options{
		Config:  cfg,
		Repo:    repo,
		Logger:  logger,
		Metrics: m,
	})

	d, err := daemon.New(cfg, daemon.Options{Classifier: c, Metrics: m, Logger: logger})
	if err != nil {
		_ = c.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check for another running daemon and the storage configuration"),
		)
		return err
	}

	pidPath := daemonctl.PIDPath(cfg)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	<-signalCtx.Done()
	logger.Info("cratemind daemon shutting down")
	d.Wait()
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logStartupSnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "startup_snapshot"),
		logging.String("storage_backend", cfg.Storage.Backend),
		logging.String("api_bind", cfg.Paths.APIBind),
		logging.Bool("api_token_present", strings.TrimSpace(cfg.API.Token) != ""),
		logging.Duration("discovery_interval", cfg.DiscoveryInterval()),
		logging.Duration("sweep_interval", cfg.SweepInterval()),
		logging.Float64("confidence_floor", cfg.API.ConfidenceFloor),
	}
	if cfg.Storage.Backend != config.StorageMemory {
		attrs = append(attrs, logging.String("database_path", cfg.DatabasePath()))
	}
	logger.Info("startup snapshot", logging.Args(attrs...)...)
}
