package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cratemind/internal/classifier"
	"cratemind/internal/profiles"
	"cratemind/internal/services"
)

func newDiscoverCommand(ctx *commandContext) *cobra.Command {
	var (
		asJSON   bool
		showRuns int
	)
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Run pattern discovery now, or list recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClassifier(cmd, func(runCtx context.Context, cl *classifier.Classifier) error {
				if showRuns > 0 {
					return listRuns(runCtx, cmd, cl, showRuns, asJSON)
				}
				// Ctrl-C pauses the run at the next entity boundary.
				sigCtx, stop := signal.NotifyContext(runCtx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				report, err := cl.Discovery().Run(sigCtx)
				out := cmd.OutOrStdout()
				switch {
				case errors.Is(err, services.ErrConflict):
					fmt.Fprintln(out, "Discovery is already running (daemon or another CLI); try again later")
					return nil
				case report.Cancelled:
					fmt.Fprintf(out, "Discovery paused after %d entities; the next run resumes run %s\n", report.Entities, report.RunID)
					return nil
				case err != nil:
					return err
				}
				if asJSON {
					return writeJSON(cmd, report)
				}
				resumed := ""
				if report.Resumed {
					resumed = " (resumed)"
				}
				fmt.Fprintf(out, "Run %s%s published version %d\n", report.RunID, resumed, report.Version)
				fmt.Fprint(out, renderKeyValues([][2]string{
					{"Snapshot", formatTime(report.SnapshotAt)},
					{"Entities", formatCount(report.Entities)},
					{"Profiled", formatCount(report.Profiled)},
					{"Discarded", formatCount(report.Discarded)},
					{"Insufficient", formatCount(report.Insufficient)},
					{"Skipped", formatCount(report.Skipped)},
					{"Malformed records", formatCount(report.SkippedRecords)},
				}))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	cmd.Flags().IntVar(&showRuns, "runs", 0, "List the N most recent runs instead of running")
	return cmd
}

func listRuns(ctx context.Context, cmd *cobra.Command, cl *classifier.Classifier, limit int, asJSON bool) error {
	runs, err := cl.Discovery().Runs(ctx, limit)
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(cmd, runs)
	}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.ID,
			string(r.Status),
			formatTime(r.StartedAt),
			formatTime(r.FinishedAt),
			fmt.Sprint(r.BaseVersion),
			fmt.Sprint(r.PublishedVersion),
			fmt.Sprint(r.Processed),
			orDash(r.Error),
		})
	}
	fmt.Fprint(cmd.OutOrStdout(), renderTable(
		[]string{"Run", "Status", "Started", "Finished", "Base", "Published", "Entities", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
	))
	return nil
}

func newProfilesCommand(ctx *commandContext) *cobra.Command {
	var (
		filter string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "List published artist and label profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			policy := profiles.PolicyFromConfig(cfg.Discovery)
			return ctx.withClassifier(cmd, func(runCtx context.Context, cl *classifier.Classifier) error {
				snap := cl.Profiles().Current()
				all := snap.Profiles()
				needle := strings.ToLower(strings.TrimSpace(filter))
				selected := all[:0:0]
				for _, p := range all {
					if needle == "" || strings.Contains(strings.ToLower(p.EntityKey), needle) || strings.Contains(strings.ToLower(p.DisplayName), needle) {
						selected = append(selected, p)
					}
				}
				if asJSON {
					return writeJSON(cmd, selected)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Profile version %d (%d profiles)\n", snap.Version, snap.Len())
				now := time.Now()
				rows := make([][]string, 0, len(selected))
				for _, p := range selected {
					rows = append(rows, []string{
						p.EntityKey,
						p.TopCategory,
						formatConfidence(p.Confidence),
						formatConfidence(policy.EffectiveConfidence(p, now)),
						string(policy.UsableStrength(p, now)),
						formatCount(p.SampleSize),
						yesNo(p.CrossValidated),
						fmt.Sprint(p.Contradictions),
					})
				}
				fmt.Fprint(out, renderTable(
					[]string{"Entity", "Category", "Confidence", "Effective", "Strength", "Samples", "Cross-validated", "Contradictions"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignRight, alignLeft, alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filter, "entity", "", "Only show entities whose key or name contains this text")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}
