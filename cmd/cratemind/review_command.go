package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"cratemind/internal/api"
	"cratemind/internal/classifier"
)

func newReviewCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "review",
		Short: "List disputed items and items awaiting expert review",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClassifier(cmd, func(runCtx context.Context, cl *classifier.Classifier) error {
				results, err := cl.ReviewQueue(runCtx)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.ReviewResponse{Items: api.FromResults(results)})
				}
				out := cmd.OutOrStdout()
				if len(results) == 0 {
					fmt.Fprintln(out, "Review queue is empty")
					return nil
				}
				rows := make([][]string, 0, len(results))
				for _, r := range results {
					contenders := "-"
					if len(r.Groups) > 1 {
						contenders = fmt.Sprintf("%s vs %s", r.Groups[0].Category, r.Groups[1].Category)
					}
					rows = append(rows, []string{r.ItemID, string(r.Status), contenders, fmt.Sprint(r.DisputeCycles), formatTime(r.UpdatedAt)})
				}
				fmt.Fprint(out, renderTable(
					[]string{"Item", "Status", "Contenders", "Cycles", "Updated"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}
