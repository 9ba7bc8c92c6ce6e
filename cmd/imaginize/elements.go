package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/imaginize/internal/api"
	"github.com/jackzampolin/imaginize/internal/elements"
	"github.com/jackzampolin/imaginize/internal/state"
)

var elementsBookID string

var elementsCmd = &cobra.Command{
	Use:   "elements [output-dir]",
	Short: "Show a book's story element catalog",
	Long: `Elements prints the consolidated element catalog the extract phase
built: every character, creature, place, and item, with aliases,
descriptions, and the chapters they appear in.

Pass the output directory, or --book <id> to use the configured
location.

Examples:
  imaginize elements ./watership-down-out
  imaginize elements --book watership-down -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := resolveExistingBookDir(cmd.Context(), args, elementsBookID)
		if err != nil {
			return err
		}

		store := state.NewStore(dir)
		cat, err := store.LoadElements()
		if err != nil {
			return err
		}

		title := ""
		if st, err := store.LoadBookState(); err == nil && st != nil {
			title = st.BookTitle
		}
		return api.Output(newElementsView(title, cat))
	},
}

// elementsView is the output projection of a catalog.
type elementsView struct {
	Title    string            `json:"title,omitempty" yaml:"title,omitempty"`
	Total    int               `json:"total" yaml:"total"`
	Entities []elements.Entity `json:"entities" yaml:"entities"`
	catalog  *elements.Catalog
}

func newElementsView(title string, cat *elements.Catalog) *elementsView {
	ptrs := cat.Entities()
	ents := make([]elements.Entity, 0, len(ptrs))
	for _, e := range ptrs {
		ents = append(ents, *e)
	}
	return &elementsView{
		Title:    title,
		Total:    len(ents),
		Entities: ents,
		catalog:  cat,
	}
}

// RenderText prints the catalog's markdown listing, the same layout
// Elements.md uses.
func (v *elementsView) RenderText(w io.Writer) error {
	if v.Total == 0 {
		_, err := fmt.Fprintln(w, "No elements extracted yet.")
		return err
	}
	_, err := io.WriteString(w, v.catalog.AsMarkdown(v.Title))
	return err
}

func init() {
	elementsCmd.Flags().StringVar(&elementsBookID, "book", "", "book id, resolved against the configured output location")
	rootCmd.AddCommand(elementsCmd)
}
