package main

import (
	"github.com/spf13/cobra"
)

var extractCmd = &cobra.Command{
	Use:   "extract <book>",
	Short: "Consolidate the story element catalog",
	Long: `Extract folds every analyzed chapter's entity mentions into the book's
element catalog, merging duplicates and enriching descriptions with
details later chapters added. The catalog is written to Elements.md and
fed into illustration prompts.

Requires at least one analyzed chapter. When the book belongs to a
series, the consolidated catalog is exported to the shared series
memory afterwards.

Examples:
  imaginize extract watership-down.txt
  imaginize extract book.txt --force    # rebuild the catalog from shards`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		run, err := setupRun(ctx, args[0], "extracting", func(n int) int { return 0 })
		if err != nil {
			return err
		}
		defer run.Close()

		if err := run.Runner.RunExtract(ctx); err != nil {
			return err
		}
		return printBookView(run.Dir)
	},
}

func init() {
	addRunFlags(extractCmd)
	rootCmd.AddCommand(extractCmd)
}
