package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kerfworks/kerf/internal/batch"
	"github.com/kerfworks/kerf/internal/walk"
	"github.com/spf13/cobra"
)

var forceAll bool

var recalcCmd = &cobra.Command{
	Use:   "recalc",
	Short: "Recalculate complexity scores",
}

var recalcProjectCmd = &cobra.Command{
	Use:   "project <id>",
	Short: "Recalculate the dirty nodes of one project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRecalc(cmd, walk.ProjectScope(args[0]), false)
	},
}

var recalcAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Recalculate every project",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRecalc(cmd, walk.AllScope(), forceAll)
	},
}

var recalcDirtyCmd = &cobra.Command{
	Use:   "dirty",
	Short: "Recalculate only the nodes that are dirty now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRecalc(cmd, walk.DirtyScope(), false)
	},
}

func init() {
	recalcAllCmd.Flags().BoolVarP(&forceAll, "force", "f", false, "Rescore clean nodes too (after a formula change)")
	recalcCmd.AddCommand(recalcProjectCmd, recalcAllCmd, recalcDirtyCmd)
	rootCmd.AddCommand(recalcCmd)
}

func runRecalc(cmd *cobra.Command, scope walk.Scope, force bool) error {
	stderr := cmd.ErrOrStderr()
	var progress func(batch.Progress)
	if !jsonOutput {
		progress = func(p batch.Progress) {
			fmt.Fprintf(stderr, "\rrecalc: %d nodes visited...", p.Visited)
		}
	}

	a, err := loadApp(cmd, progress)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sum, err := a.Recalculate(ctx, scope, force)
	if progress != nil {
		fmt.Fprintln(stderr)
	}
	if sum != nil {
		if rerr := printSummary(cmd.OutOrStdout(), sum); rerr != nil {
			return rerr
		}
	}
	// Failed nodes stay dirty and are listed above; only a stopped run is
	// an error.
	return err
}
