package daemonctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"cratemind/internal/config"
)

// ErrDaemonNotRunning reports that no daemon holds the instance lock.
var ErrDaemonNotRunning = errors.New("daemon is not running")

const pollInterval = 100 * time.Millisecond

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	ConfigPath string
	LogLevel   string
}

// StartState describes the outcome of EnsureStarted.
type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StopResult captures daemon stop state.
type StopResult struct {
	PID int
}

// PIDPath returns the pid file written by a running daemon.
func PIDPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LogDir, "cratemindd.pid")
}

// Running reports whether a daemon holds the instance lock. The probe takes
// and immediately releases the lock when it is free.
func Running(cfg *config.Config) (bool, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return false, err
	}
	lock := flock.New(cfg.DaemonLockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("probe daemon lock: %w", err)
	}
	if ok {
		_ = lock.Unlock()
		return false, nil
	}
	return true, nil
}

// Launch starts a detached cratemind daemon process.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	args := []string{"daemon", "run"}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}

	proc := exec.Command(executablePath, args...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// EnsureStarted launches the daemon unless one is already running and waits
// for it to take the instance lock.
func EnsureStarted(cfg *config.Config, executablePath string, opts LaunchOptions, timeout time.Duration) (StartState, error) {
	running, err := Running(cfg)
	if err != nil {
		return "", err
	}
	if running {
		return StartStateAlreadyRunning, nil
	}
	if err := Launch(executablePath, opts); err != nil {
		return "", err
	}
	if err := waitFor(timeout, func() (bool, error) { return Running(cfg) }); err != nil {
		return "", fmt.Errorf("daemon failed to start: %w", err)
	}
	return StartStateStarted, nil
}

// Stop sends SIGTERM to the running daemon and waits for it to release the
// instance lock.
func Stop(cfg *config.Config, timeout time.Duration) (StopResult, error) {
	running, err := Running(cfg)
	if err != nil {
		return StopResult{}, err
	}
	if !running {
		return StopResult{}, ErrDaemonNotRunning
	}
	pid, err := ReadPID(PIDPath(cfg))
	if err != nil {
		return StopResult{}, err
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return StopResult{PID: pid}, fmt.Errorf("signal daemon pid %d: %w", pid, err)
	}
	err = waitFor(timeout, func() (bool, error) {
		running, err := Running(cfg)
		return !running, err
	})
	if err != nil {
		return StopResult{PID: pid}, fmt.Errorf("daemon did not stop: %w", err)
	}
	return StopResult{PID: pid}, nil
}

// ReadPID parses a daemon pid file.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid file %s is malformed", path)
	}
	return pid, nil
}

// Healthy reports whether the daemon's HTTP API answers on bind.
func Healthy(ctx context.Context, bind string) (bool, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+bind+"/healthz", nil)
	if err != nil {
		return false, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("decode health response: %w", err)
	}
	return resp.StatusCode == http.StatusOK && body.Status == "ok", nil
}

func waitFor(timeout time.Duration, done func() (bool, error)) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		ok, err := done()
		if err == nil && ok {
			return nil
		}
		lastErr = err
		time.Sleep(pollInterval)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout after %s", timeout)
	}
	return lastErr
}
