package cmd

import (
	"fmt"

	"github.com/kerfworks/kerf/internal/forest"
	"github.com/spf13/cobra"
)

var markCmd = &cobra.Command{
	Use:   "mark <kind:id>...",
	Short: "Mark nodes and their ancestors dirty",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		refs, err := parseRefs(args)
		if err != nil {
			return err
		}
		a, err := loadApp(cmd, nil)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		for _, ref := range refs {
			if err := a.Mark(cmd.Context(), ref); err != nil {
				return fmt.Errorf("mark %s: %w", ref, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "marked %s\n", ref)
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <kind:id>",
	Short: "Delete a node and its subtree, dirtying its ancestors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := forest.ParseRef(args[0])
		if err != nil {
			return err
		}
		a, err := loadApp(cmd, nil)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		if err := a.Delete(cmd.Context(), ref); err != nil {
			return fmt.Errorf("delete %s: %w", ref, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", ref)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load projects from a JSON or YAML fixture",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd, nil)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		n, err := a.Import(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d nodes from %s\n", n, args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(markCmd, deleteCmd, importCmd)
}

func parseRefs(args []string) ([]forest.Ref, error) {
	refs := make([]forest.Ref, 0, len(args))
	for _, arg := range args {
		ref, err := forest.ParseRef(arg)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
