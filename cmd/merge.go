package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wkalt/ept/config"
	"github.com/wkalt/ept/merger"
)

var mergeThreads int // nolint:gochecknoglobals
var mergeOutput string // nolint:gochecknoglobals

var mergeCmd = &cobra.Command{ // nolint:gochecknoglobals
	Use:   "merge --output OUTPUT [shard-prefix...]",
	Short: "Fold completed subset builds into a single unified index",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		dst, dstPrefix, err := config.OpenEndpoint(ctx, mergeOutput)
		if err != nil {
			return fmt.Errorf("open output: %w", err)
		}

		shards := make([]merger.Shard, len(args))
		for i, target := range args {
			ep, prefix, err := config.OpenEndpoint(ctx, target)
			if err != nil {
				return fmt.Errorf("open shard %q: %w", target, err)
			}
			shards[i] = merger.Shard{Endpoint: ep, Prefix: prefix}
		}

		m := config.Merge{Output: mergeOutput, Threads: mergeThreads}
		result, err := merger.Merge(ctx, dst, dstPrefix, shards, m.MergerOptions()...)
		if err != nil {
			return fmt.Errorf("merge: %w", err)
		}
		fmt.Printf("merge complete: %d points across %d shards\n", result.Manifest.Points, len(shards))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mergeCmd)
	mergeCmd.Flags().StringVar(&mergeOutput, "output", "", "destination endpoint for the unified index")
	mergeCmd.Flags().IntVar(&mergeThreads, "threads", 0, "shards merged concurrently (0 = GOMAXPROCS)")
	_ = mergeCmd.MarkFlagRequired("output")
}
