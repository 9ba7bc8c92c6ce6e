package main

import (
	"github.com/spf13/cobra"
)

var illustrateCmd = &cobra.Command{
	Use:   "illustrate <book>",
	Short: "Generate an image for every identified scene",
	Long: `Illustrate generates one image per scene identified during analysis,
using the element catalog to keep recurring characters and places
visually consistent. Images are written next to the book state and
linked from Chapters.md, which updates after every scene.

Requires the extract phase to have completed. Scenes whose image file
already exists are skipped, so a crashed or rate-limited run resumes
where it stopped.

Examples:
  imaginize illustrate watership-down.txt
  imaginize illustrate book.txt --chapters 12   # one chapter's scenes
  imaginize illustrate book.txt --force         # regenerate images`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		run, err := setupRun(ctx, args[0], "illustrating", func(n int) int { return n })
		if err != nil {
			return err
		}
		defer run.Close()

		if err := run.Runner.RunIllustrate(ctx); err != nil {
			return err
		}
		return printBookView(run.Dir)
	},
}

func init() {
	addRunFlags(illustrateCmd)
	rootCmd.AddCommand(illustrateCmd)
}
