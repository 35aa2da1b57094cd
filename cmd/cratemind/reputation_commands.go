package main

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"cratemind/internal/classifier"
	"cratemind/internal/reputation"
	"cratemind/internal/store"
)

func newReputationCommand(ctx *commandContext) *cobra.Command {
	repCmd := &cobra.Command{
		Use:   "reputation",
		Short: "Inspect and manage contributor reputation",
	}
	repCmd.AddCommand(newReputationListCommand(ctx))
	repCmd.AddCommand(newReputationShowCommand(ctx))
	repCmd.AddCommand(newReputationAppealCommand(ctx))
	repCmd.AddCommand(newReputationSweepCommand(ctx))
	repCmd.AddCommand(&cobra.Command{
		Use:         "id <handle>",
		Short:       "Print the anonymized contributor id for a handle",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), reputation.AnonymizeID(args[0]))
			return nil
		},
	})
	return repCmd
}

func newReputationListCommand(ctx *commandContext) *cobra.Command {
	var (
		state  string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List contributors and their penalty state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClassifier(cmd, func(runCtx context.Context, cl *classifier.Classifier) error {
				all, err := cl.Reputation().Contributors(runCtx)
				if err != nil {
					return err
				}
				want := store.PenaltyState(strings.TrimSpace(state))
				contributors := slices.DeleteFunc(all, func(c store.Contributor) bool {
					return want != "" && c.State != want
				})
				if asJSON {
					return writeJSON(cmd, contributors)
				}
				rows := make([][]string, 0, len(contributors))
				for _, c := range contributors {
					rows = append(rows, []string{
						c.ID,
						string(c.State),
						formatWeight(c.Multiplier),
						formatConfidence(c.Accuracy),
						formatCount(c.VoteCount),
						formatTime(c.LastEvaluated),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Contributor", "State", "Multiplier", "Accuracy", "Votes", "Evaluated"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "Only show contributors in this penalty state")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newReputationShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <contributor-id>",
		Short: "Show a contributor with per-genre accuracy and history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClassifier(cmd, func(runCtx context.Context, cl *classifier.Classifier) error {
				c, err := cl.Reputation().Contributor(runCtx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, reputation.Describe(c))

				domains := slices.Sorted(maps.Keys(c.DomainVotes))
				if len(domains) > 0 {
					rows := make([][]string, 0, len(domains))
					for _, d := range domains {
						rows = append(rows, []string{d, formatCount(c.DomainVotes[d]), formatConfidence(c.DomainAccuracy[d])})
					}
					fmt.Fprint(out, renderTable([]string{"Genre", "Votes", "Accuracy"}, rows,
						[]columnAlignment{alignLeft, alignRight, alignRight}))
				}

				events, err := cl.Reputation().Events(runCtx, c.ID)
				if err != nil {
					return err
				}
				if len(events) > 0 {
					rows := make([][]string, 0, len(events))
					for _, e := range events {
						rows = append(rows, []string{formatTime(e.At), string(e.Kind), fmt.Sprintf("%s -> %s", e.From, e.To), formatConfidence(e.Accuracy), orDash(e.Reviewer), orDash(e.Note)})
					}
					fmt.Fprint(out, renderTable([]string{"When", "Event", "Change", "Accuracy", "Reviewer", "Note"}, rows,
						[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft}))
				}
				return nil
			})
		},
	}
}

func newReputationAppealCommand(ctx *commandContext) *cobra.Command {
	var reviewer, note string
	cmd := &cobra.Command{
		Use:   "appeal <contributor-id>",
		Short: "Restore a penalized contributor after review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClassifier(cmd, func(runCtx context.Context, cl *classifier.Classifier) error {
				c, err := cl.Appeal(runCtx, args[0], reviewer, note)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Restored %s\n", reputation.Describe(c))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "Reviewer identity")
	cmd.Flags().StringVar(&note, "note", "", "Reason for the appeal decision")
	_ = cmd.MarkFlagRequired("reviewer")
	return cmd
}

func newReputationSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Score votes on items whose classification has stabilised",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClassifier(cmd, func(runCtx context.Context, cl *classifier.Classifier) error {
				report, err := cl.Reputation().Sweep(runCtx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Checked %d item(s), scored %d vote(s), %d failed\n", report.Items, report.Scored, report.Failed)
				return nil
			})
		},
	}
}
