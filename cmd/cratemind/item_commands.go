package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cratemind/internal/api"
	"cratemind/internal/classifier"
	"cratemind/internal/dedup"
	"cratemind/internal/store"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	var (
		req        dedup.IngestRequest
		discovered string
		seed       bool
	)
	cmd := &cobra.Command{
		Use:   "ingest <content-hash> <path>",
		Short: "Record a discovered file in the fingerprint index",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.ContentHash = args[0]
			req.Path = args[1]
			if strings.TrimSpace(discovered) != "" {
				at, err := time.Parse(time.RFC3339, strings.TrimSpace(discovered))
				if err != nil {
					return fmt.Errorf("--discovered must be RFC3339: %w", err)
				}
				req.DiscoveredAt = at
			}
			return ctx.withClassifier(cmd, func(runCtx context.Context, cl *classifier.Classifier) error {
				res, err := cl.Ingest(runCtx, req)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				state := "existing"
				if res.IsNew {
					state = "new"
				}
				fmt.Fprintf(out, "Item %s (%s)\n", res.ItemID, state)
				if res.CanonicalItemID != res.ItemID {
					fmt.Fprintf(out, "Duplicate of %s in group %s\n", res.CanonicalItemID, res.GroupID)
				}
				if !seed {
					return nil
				}
				sigs, result, err := cl.Seed(runCtx, res.ItemID)
				if err != nil {
					return err
				}
				if len(sigs) == 0 {
					fmt.Fprintln(out, "No seed knowledge for this artist or label")
					return nil
				}
				fmt.Fprintf(out, "Seeded %d signal(s): %s %s\n", len(sigs), result.PrimaryCategory, formatConfidence(result.Confidence))
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&req.SizeBytes, "size", 0, "File size in bytes")
	cmd.Flags().StringVar(&req.Artist, "artist", "", "Artist tag")
	cmd.Flags().StringVar(&req.Label, "label", "", "Record label tag")
	cmd.Flags().StringVar(&req.Title, "title", "", "Track title")
	cmd.Flags().StringVar(&discovered, "discovered", "", "Discovery time (RFC3339, default now)")
	cmd.Flags().BoolVar(&seed, "seed", false, "Apply built-in label and artist knowledge")
	return cmd
}

func newLookupCommand(ctx *commandContext) *cobra.Command {
	var (
		paths  []string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "lookup [content-hash...]",
		Short: "Answer classification lookups the way the HTTP API does",
		RunE: func(cmd *cobra.Command, args []string) error {
			queries := make([]api.Query, 0, len(args)+len(paths))
			for _, h := range args {
				queries = append(queries, api.Query{Hash: h})
			}
			for _, p := range paths {
				queries = append(queries, api.Query{Path: p})
			}
			if len(queries) == 0 {
				return errors.New("provide at least one content hash or --path")
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return ctx.withClassifier(cmd, func(runCtx context.Context, cl *classifier.Classifier) error {
				lookup := api.NewLookupService(cfg.API, cl.Dedup(), cl.Repository(), ctx.cliLogger(), nil)
				answers, err := lookup.Batch(runCtx, queries)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.BatchResponse{Answers: answers})
				}
				rows := make([][]string, 0, len(answers))
				for _, a := range answers {
					category := a.Category
					if a.Subcategory != "" {
						category += " / " + a.Subcategory
					}
					verdict := "resolved"
					if !a.Resolved {
						verdict = a.Reason
					}
					rows = append(rows, []string{a.Query, orDash(a.ItemID), orDash(category), formatConfidence(a.Confidence), verdict})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Query", "Item", "Category", "Confidence", "Answer"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&paths, "path", nil, "Look up by file path (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON, withSignals bool
	cmd := &cobra.Command{
		Use:   "show <item-id>",
		Short: "Show an item's full classification with its signal breakdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClassifier(cmd, func(runCtx context.Context, cl *classifier.Classifier) error {
				result, err := cl.Result(runCtx, args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.FromResult(result))
				}
				renderResult(cmd, result)
				if !withSignals {
					return nil
				}
				sigs, err := cl.Signals(runCtx, result.ItemID)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(sigs))
				for _, sig := range sigs {
					category := sig.Category
					if sig.RawCategory != "" && sig.RawCategory != sig.Category {
						category = fmt.Sprintf("%s (%s)", sig.Category, sig.RawCategory)
					}
					rows = append(rows, []string{sig.ID, string(sig.SourceType), sig.SourceID, category, formatWeight(sig.BaseWeight), formatTime(sig.CreatedAt)})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Signal", "Source", "Source ID", "Category", "Weight", "Recorded"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	cmd.Flags().BoolVar(&withSignals, "signals", false, "Also list every recorded signal")
	return cmd
}

func renderResult(cmd *cobra.Command, result store.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprint(out, renderKeyValues([][2]string{
		{"Item", result.ItemID},
		{"Category", orDash(result.PrimaryCategory)},
		{"Subcategory", orDash(result.Subcategory)},
		{"Confidence", formatConfidence(result.Confidence)},
		{"Status", string(result.Status)},
		{"Dominant source", orDash(string(result.DominantSource))},
		{"Dispute cycles", fmt.Sprint(result.DisputeCycles)},
		{"Profile version", fmt.Sprint(result.ProfileVersion)},
		{"Updated", formatTime(result.UpdatedAt)},
	}))

	if len(result.Groups) > 0 {
		rows := make([][]string, 0, len(result.Groups))
		for _, g := range result.Groups {
			rows = append(rows, []string{g.Category, orDash(g.Subcategory), formatWeight(g.Weight), formatConfidence(g.Share), fmt.Sprint(g.Sources)})
		}
		fmt.Fprint(out, renderTable(
			[]string{"Group", "Subcategory", "Weight", "Share", "Sources"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight},
		))
	}

	if len(result.Breakdown) > 0 {
		rows := make([][]string, 0, len(result.Breakdown))
		for _, c := range result.Breakdown {
			rows = append(rows, []string{
				string(c.SourceType),
				c.SourceID,
				c.Category,
				formatWeight(c.BaseWeight),
				formatWeight(c.ReputationMultiplier),
				formatWeight(c.RecencyFactor),
				formatWeight(c.ProfileFactor * c.Boost),
				formatWeight(c.EffectiveWeight),
			})
		}
		fmt.Fprint(out, renderTable(
			[]string{"Source", "Source ID", "Category", "Base", "Reputation", "Recency", "Profile", "Effective"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
		))
	}
}
