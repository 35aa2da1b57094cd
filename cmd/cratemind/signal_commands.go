package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"cratemind/internal/classifier"
	"cratemind/internal/signals"
	"cratemind/internal/store"
)

func newSignalCommand(ctx *commandContext) *cobra.Command {
	var (
		req        signals.SubmitRequest
		sourceType string
		strength   string
	)
	cmd := &cobra.Command{
		Use:   "signal <item-id>",
		Short: "Submit a classification signal and resolve the item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.ItemID = args[0]
			req.SourceType = store.SourceType(sourceType)
			req.Strength = store.PatternStrength(strength)
			return ctx.withClassifier(cmd, func(runCtx context.Context, cl *classifier.Classifier) error {
				sub, err := cl.Submit(runCtx, req)
				return printSubmission(cmd, sub, err)
			})
		},
	}
	cmd.Flags().StringVar(&sourceType, "source-type", "", "exact_match, entity_pattern, community_pattern, weak_heuristic, seed or expert_override")
	cmd.Flags().StringVar(&req.SourceID, "source-id", "", "Identifier of the submitting source")
	cmd.Flags().StringVar(&req.Category, "category", "", "Proposed category")
	cmd.Flags().StringVar(&req.Subcategory, "subcategory", "", "Proposed subcategory")
	cmd.Flags().StringVar(&strength, "strength", "", "Pattern strength for entity_pattern signals")
	cmd.Flags().IntVar(&req.SampleSize, "samples", 0, "Sample size behind a community or heuristic signal")
	_ = cmd.MarkFlagRequired("source-type")
	_ = cmd.MarkFlagRequired("source-id")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func newVoteCommand(ctx *commandContext) *cobra.Command {
	var v classifier.Vote
	cmd := &cobra.Command{
		Use:   "vote <item-id>",
		Short: "Cast a community vote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v.ItemID = args[0]
			return ctx.withClassifier(cmd, func(runCtx context.Context, cl *classifier.Classifier) error {
				sub, err := cl.CastVote(runCtx, v)
				return printSubmission(cmd, sub, err)
			})
		},
	}
	cmd.Flags().StringVar(&v.Contributor, "contributor", "", "Contributor handle (stored anonymized)")
	cmd.Flags().StringVar(&v.Category, "category", "", "Voted category")
	cmd.Flags().StringVar(&v.Subcategory, "subcategory", "", "Voted subcategory")
	_ = cmd.MarkFlagRequired("contributor")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func newOverrideCommand(ctx *commandContext) *cobra.Command {
	var reviewer, category, subcategory string
	cmd := &cobra.Command{
		Use:   "override <item-id>",
		Short: "Apply an expert classification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClassifier(cmd, func(runCtx context.Context, cl *classifier.Classifier) error {
				sub, err := cl.Override(runCtx, reviewer, args[0], category, subcategory)
				return printSubmission(cmd, sub, err)
			})
		},
	}
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "Reviewer identity")
	cmd.Flags().StringVar(&category, "category", "", "Category")
	cmd.Flags().StringVar(&subcategory, "subcategory", "", "Subcategory")
	_ = cmd.MarkFlagRequired("reviewer")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func newSeedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <item-id>",
		Short: "Apply built-in label and artist knowledge to an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClassifier(cmd, func(runCtx context.Context, cl *classifier.Classifier) error {
				sigs, result, err := cl.Seed(runCtx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(sigs) == 0 {
					fmt.Fprintln(out, "No seed knowledge for this artist or label")
					return nil
				}
				for _, sig := range sigs {
					fmt.Fprintf(out, "Seed %s: %s\n", sig.SourceID, sig.Category)
				}
				renderResult(cmd, result)
				return nil
			})
		},
	}
}

func newResolveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <item-id>",
		Short: "Recompute an item's classification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClassifier(cmd, func(runCtx context.Context, cl *classifier.Classifier) error {
				result, err := cl.Resolve(runCtx, args[0])
				if err != nil {
					return err
				}
				renderResult(cmd, result)
				return nil
			})
		},
	}
}

func printSubmission(cmd *cobra.Command, sub classifier.Submission, err error) error {
	if err != nil {
		if sub.Signal.ID != "" {
			return fmt.Errorf("signal %s stored, resolve failed: %w", sub.Signal.ID, err)
		}
		return err
	}
	out := cmd.OutOrStdout()
	if sub.Created {
		fmt.Fprintf(out, "Signal %s recorded\n", sub.Signal.ID)
	} else {
		fmt.Fprintf(out, "Signal %s already recorded in this window\n", sub.Signal.ID)
	}
	renderResult(cmd, sub.Result)
	return nil
}
