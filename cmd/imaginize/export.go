package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/imaginize/internal/book"
	"github.com/jackzampolin/imaginize/internal/home"
	"github.com/jackzampolin/imaginize/internal/render"
	"github.com/jackzampolin/imaginize/internal/state"
)

var exportBookID string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Bundle generated illustrations into a document",
	Long: `Export bundles a book's generated illustrations into a single
document. The book must have completed the illustrate phase.

Examples:
  imaginize export pdf ./watership-down-out
  imaginize export epub --book watership-down`,
}

var exportPDFCmd = &cobra.Command{
	Use:   "pdf [output-dir]",
	Short: "Compile the illustrations into a PDF",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := resolveExistingBookDir(cmd.Context(), args, exportBookID)
		if err != nil {
			return err
		}
		bookID, _, chapters, err := loadIllustrated(dir)
		if err != nil {
			return err
		}
		out, err := render.NewRenderer(dir).ExportPDF(bookID, chapters)
		if err != nil {
			return err
		}
		fmt.Printf("Exported %s\n", out)
		return nil
	},
}

var exportEpubCmd = &cobra.Command{
	Use:   "epub [output-dir]",
	Short: "Compile the illustrations into an EPUB",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := resolveExistingBookDir(cmd.Context(), args, exportBookID)
		if err != nil {
			return err
		}
		bookID, title, chapters, err := loadIllustrated(dir)
		if err != nil {
			return err
		}
		out, err := render.NewRenderer(dir).ExportEpub(bookID, title, chapters)
		if err != nil {
			return err
		}
		fmt.Printf("Exported %s\n", out)
		return nil
	},
}

// loadIllustrated reads the illustrate shards into the export table.
func loadIllustrated(dir home.BookDir) (bookID, title string, chapters []render.ChapterScenes, err error) {
	store := state.NewStore(dir)
	st, err := store.LoadBookState()
	if err != nil {
		return "", "", nil, err
	}
	if st == nil {
		return "", "", nil, fmt.Errorf("no book state in %s", dir.Path())
	}
	if st.PhaseStatus(book.PhaseIllustrate) != book.StatusCompleted {
		return "", "", nil, fmt.Errorf("illustrate phase is %s; run illustrate to completion before exporting", st.PhaseStatus(book.PhaseIllustrate))
	}

	shards, err := store.ListChapterShards(book.PhaseIllustrate)
	if err != nil {
		return "", "", nil, err
	}
	for _, shard := range shards {
		chapters = append(chapters, render.ChapterScenes{
			Index:  shard.ChapterIndex,
			Title:  shard.Title,
			Scenes: shard.SceneConcepts,
		})
	}
	if len(chapters) == 0 {
		return "", "", nil, fmt.Errorf("no illustrated chapters in %s", dir.Path())
	}
	return st.BookID, st.BookTitle, chapters, nil
}

func init() {
	exportCmd.PersistentFlags().StringVar(&exportBookID, "book", "", "book id, resolved against the configured output location")
	exportCmd.AddCommand(exportPDFCmd)
	exportCmd.AddCommand(exportEpubCmd)
	rootCmd.AddCommand(exportCmd)
}
