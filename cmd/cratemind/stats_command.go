package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"cratemind/internal/classifier"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var hash string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarise the fingerprint index, or one duplicate group with --hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClassifier(cmd, func(runCtx context.Context, cl *classifier.Classifier) error {
				out := cmd.OutOrStdout()
				if hash != "" {
					group, err := cl.Dedup().Group(runCtx, hash)
					if err != nil {
						return err
					}
					fmt.Fprint(out, renderKeyValues([][2]string{
						{"Group", group.ID},
						{"Content hash", group.ContentHash},
						{"Canonical item", group.CanonicalItemID},
						{"Members", formatCount(len(group.MemberIDs))},
						{"Total size", formatBytes(group.TotalBytes)},
						{"Wasted", formatBytes(group.WasteBytes)},
					}))
					return nil
				}
				stats, err := cl.Stats(runCtx)
				if err != nil {
					return err
				}
				fmt.Fprint(out, renderKeyValues([][2]string{
					{"Items", formatCount(stats.Items)},
					{"Unique hashes", formatCount(stats.UniqueHashes)},
					{"Duplicate groups", formatCount(stats.Groups)},
					{"Wasted by duplicates", formatBytes(stats.WasteBytes)},
					{"Signals", formatCount(stats.Signals)},
					{"Profile version", fmt.Sprint(cl.Profiles().Current().Version)},
				}))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&hash, "hash", "", "Show the duplicate group for this content hash")
	return cmd
}
