package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"cratemind/internal/classifier"
	"cratemind/internal/config"
	"cratemind/internal/daemonctl"
	"cratemind/internal/daemonrun"
	"cratemind/internal/preflight"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the background daemon",
	}

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Launch the daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}
			state, err := daemonctl.EnsureStarted(cfg, exe, daemonctl.LaunchOptions{
				ConfigPath: ctx.configPath(),
				LogLevel:   ctx.logLevel(),
			}, 10*time.Second)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch state {
			case daemonctl.StartStateStarted:
				fmt.Fprintln(out, "Daemon started")
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(out, "Daemon already running")
			}
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			result, err := daemonctl.Stop(cfg, 10*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(out, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Daemon stopped (pid %d)\n", result.PID)
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and repository status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return renderDaemonStatus(cmd, ctx, cfg)
		},
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{LogLevel: ctx.logLevel()})
		},
	}

	daemonCmd.AddCommand(startCmd, stopCmd, statusCmd, runCmd)
	return daemonCmd
}

func renderDaemonStatus(cmd *cobra.Command, ctx *commandContext, cfg *config.Config) error {
	running, err := daemonctl.Running(cfg)
	if err != nil {
		return err
	}
	pairs := [][2]string{{"Daemon running", yesNo(running)}}
	if running {
		if pid, err := daemonctl.ReadPID(daemonctl.PIDPath(cfg)); err == nil {
			pairs = append(pairs, [2]string{"PID", fmt.Sprint(pid)})
		}
		healthy, _ := daemonctl.Healthy(cmd.Context(), cfg.Paths.APIBind)
		pairs = append(pairs, [2]string{"API " + cfg.Paths.APIBind, yesNo(healthy)})
	}
	pairs = append(pairs, [2]string{"Storage", cfg.Storage.Backend})
	if cfg.Storage.Backend != config.StorageMemory {
		pairs = append(pairs, [2]string{"Database", cfg.DatabasePath()})
	}

	// Memory storage belongs to the daemon process; there is nothing to read.
	if cfg.Storage.Backend == config.StorageMemory {
		fmt.Fprint(cmd.OutOrStdout(), renderKeyValues(pairs))
		renderPreflight(cmd, cfg)
		return nil
	}
	err = ctx.withClassifier(cmd, func(runCtx context.Context, cl *classifier.Classifier) error {
		stats, err := cl.Stats(runCtx)
		if err != nil {
			return err
		}
		pairs = append(pairs,
			[2]string{"Items", formatCount(stats.Items)},
			[2]string{"Signals", formatCount(stats.Signals)},
			[2]string{"Profile version", fmt.Sprint(cl.Profiles().Current().Version)},
		)
		runs, err := cl.Discovery().Runs(runCtx, 1)
		if err != nil {
			return err
		}
		if len(runs) > 0 {
			last := runs[0]
			pairs = append(pairs, [2]string{"Last discovery", fmt.Sprintf("%s (%s)", last.Status, formatTime(last.StartedAt))})
		}
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), renderKeyValues(pairs))
	renderPreflight(cmd, cfg)
	return nil
}

func renderPreflight(cmd *cobra.Command, cfg *config.Config) {
	results := preflight.RunAll(cfg)
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		state := "ok"
		switch {
		case r.Passed:
		case r.Fatal:
			state = "FAIL"
		default:
			state = "warn"
		}
		rows = append(rows, []string{r.Name, state, r.Detail})
	}
	fmt.Fprint(cmd.OutOrStdout(), renderTable(
		[]string{"Check", "State", "Detail"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft},
	))
}
