package main

import (
	"github.com/spf13/cobra"
)

var processCmd = &cobra.Command{
	Use:   "process <book>",
	Short: "Run the full pipeline on a book",
	Long: `Process runs all three phases on a book: analyze each chapter for
scenes and story elements, extract the consolidated element catalog,
then illustrate every scene.

State is saved in the book output directory as each chapter finishes,
so an interrupted run picks up where it left off. Re-running a
completed book is a no-op unless --force is given.

Examples:
  imaginize process watership-down.txt
  imaginize process book.txt --chapters 1-3,7     # only these chapters
  imaginize process book.txt --limit 5            # first five pending chapters
  imaginize process book.txt --force              # redo everything`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		// Chapters tick once in analyze and once in illustrate.
		run, err := setupRun(ctx, args[0], "processing", func(n int) int { return 2 * n })
		if err != nil {
			return err
		}
		defer run.Close()

		if err := run.Runner.Run(ctx); err != nil {
			return err
		}
		return printBookView(run.Dir)
	},
}

func init() {
	addRunFlags(processCmd)
	rootCmd.AddCommand(processCmd)
}
