package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wkalt/ept/builder"
	"github.com/wkalt/ept/config"
	"github.com/wkalt/ept/schema"
	"github.com/wkalt/ept/source"
	"github.com/wkalt/ept/spatial"
)

var buildFlags config.Build // nolint:gochecknoglobals
var buildBounds string      // nolint:gochecknoglobals

var buildCmd = &cobra.Command{ // nolint:gochecknoglobals
	Use:   "build --output OUTPUT [file...]",
	Short: "Ingest point sources into a new octree index",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		buildFlags.Inputs = args

		if buildBounds != "" {
			b, err := parseBounds(buildBounds)
			if err != nil {
				return fmt.Errorf("parse --bounds: %w", err)
			}
			buildFlags.GlobalBounds = b
			buildFlags.HaveGlobalBounds = true
		}

		ep, prefix, err := config.OpenEndpoint(ctx, buildFlags.Output)
		if err != nil {
			return fmt.Errorf("open output: %w", err)
		}

		reader := source.NewFixedReader(schema.DefaultSchema())
		b, err := builder.New(ctx, ep, prefix, reader, buildFlags.Inputs, buildFlags.BuilderOptions()...)
		if err != nil {
			return fmt.Errorf("create builder: %w", err)
		}
		result, err := b.Run(ctx, buildFlags.Inputs)
		if err != nil {
			return fmt.Errorf("run build: %w", err)
		}
		fmt.Printf("build complete: %d points, %d sources\n", result.Manifest.Points, len(result.Manifest.Sources))
		return nil
	},
}

// parseBounds parses "minX,minY,minZ,maxX,maxY,maxZ".
func parseBounds(s string) (spatial.Bounds, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 6 {
		return spatial.Bounds{}, fmt.Errorf("expected 6 comma-separated values, got %d", len(parts))
	}
	var v [6]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return spatial.Bounds{}, fmt.Errorf("value %d (%q): %w", i, p, err)
		}
		v[i] = f
	}
	return spatial.NewBounds(
		spatial.Point3{X: v[0], Y: v[1], Z: v[2]},
		spatial.Point3{X: v[3], Y: v[4], Z: v[5]},
	), nil
}

func init() {
	rootCmd.AddCommand(buildCmd)
	buildCmd.Flags().StringVar(&buildFlags.Output, "output", "", "output endpoint (directory path, mem://name, or s3://bucket/prefix)")
	buildCmd.Flags().IntVar(&buildFlags.Threads, "threads", 0, "worker count (0 = GOMAXPROCS)")
	buildCmd.Flags().Float64Var(&buildFlags.Span, "span", 0, "root cube side length (0 = builder default)")
	buildCmd.Flags().IntVar(&buildFlags.ChunkCapacity, "chunk-capacity", 0, "max points per overflow cell (0 = builder default)")
	buildCmd.Flags().Uint32Var(&buildFlags.HierarchyStep, "hierarchy-step", 0, "hierarchy block depth interval (0 = builder default)")
	buildCmd.Flags().Uint32Var(&buildFlags.MaxDepth, "max-depth", 0, "absolute descent cap (0 = builder default)")
	buildCmd.Flags().BoolVar(&buildFlags.Compress, "compress", true, "zstandard-compress written chunks")
	buildCmd.Flags().BoolVar(&buildFlags.ResetFiles, "reset", false, "ignore any existing manifest or build log and re-ingest everything")
	buildCmd.Flags().Uint64Var(&buildFlags.SubsetID, "subset-id", 0, "this shard's 1-based id, for a sharded build")
	buildCmd.Flags().Uint64Var(&buildFlags.SubsetOf, "subset-of", 0, "total shard count, for a sharded build")
	buildCmd.Flags().StringVar(&buildFlags.BuildLogDir, "build-log-dir", "", "local directory for the resumable build log")
	buildCmd.Flags().StringVar(&buildBounds, "bounds", "", "minX,minY,minZ,maxX,maxY,maxZ (required for a sharded build)")
	_ = buildCmd.MarkFlagRequired("output")
	_ = buildCmd.MarkFlagRequired("build-log-dir")
}
