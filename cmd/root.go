// Package cmd implements the ept CLI: build and merge subcommands over
// the builder and merger packages, following the teacher's cli/cmd
// wiring style (a package-level rootCmd, Execute(), and a bailf fatal
// helper in place of panics).
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/wkalt/ept/util/log"
)

var rootCmd = &cobra.Command{ // nolint:gochecknoglobals
	Use:           "ept",
	Short:         "ept builds and merges point-cloud octree indexes",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		if isatty.IsTerminal(os.Stderr.Fd()) {
			slog.SetDefault(slog.New(log.NewTextHandler(os.Stderr)))
		}
	},
}

// Execute runs the CLI, exiting the process with status 1 on error. Output
// is JSON by default; an interactive terminal gets the colorized handler
// instead.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		bailf("%s", err)
	}
}

func bailf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
