package main

import (
	"github.com/spf13/cobra"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <book>",
	Short: "Analyze chapters for scenes and story elements",
	Long: `Analyze reads each story chapter with the configured model and
records its illustratable scenes and the characters, places, and items
it mentions. Results land in per-chapter state files under the book
output directory.

Chapters already analyzed are skipped unless --force is given. When the
book belongs to a series, elements known from earlier books are
imported first so recurring names resolve consistently.

Examples:
  imaginize analyze watership-down.txt
  imaginize analyze book.txt --chapters 7      # one chapter
  imaginize analyze book.txt --force           # reanalyze everything`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		run, err := setupRun(ctx, args[0], "analyzing", func(n int) int { return n })
		if err != nil {
			return err
		}
		defer run.Close()

		if err := run.Runner.RunAnalyze(ctx); err != nil {
			return err
		}
		return printBookView(run.Dir)
	},
}

func init() {
	addRunFlags(analyzeCmd)
	rootCmd.AddCommand(analyzeCmd)
}
