package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/imaginize/internal/api"
	"github.com/jackzampolin/imaginize/internal/book"
	"github.com/jackzampolin/imaginize/internal/home"
	"github.com/jackzampolin/imaginize/internal/series"
	"github.com/jackzampolin/imaginize/internal/state"
	"github.com/jackzampolin/imaginize/internal/svcctx"
)

var statusBookID string

var statusCmd = &cobra.Command{
	Use:   "status [output-dir]",
	Short: "Show pipeline progress for a book",
	Long: `Status reads the persisted state of a book output directory and
reports each phase's progress: chapters completed, failed, and still
in flight, plus total model token usage.

Pass the output directory, or --book <id> to use the configured
location.

Examples:
  imaginize status ./watership-down-out
  imaginize status --book watership-down -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := resolveExistingBookDir(cmd.Context(), args, statusBookID)
		if err != nil {
			return err
		}
		return printBookView(dir)
	},
}

// bookView is the status projection of one book output directory.
type bookView struct {
	BookID      string      `json:"bookId" yaml:"bookId"`
	Title       string      `json:"title" yaml:"title"`
	OutputDir   string      `json:"outputDir" yaml:"outputDir"`
	TotalPages  int         `json:"totalPages" yaml:"totalPages"`
	Phases      []phaseView `json:"phases" yaml:"phases"`
	TokensUsed  int64       `json:"tokensUsed" yaml:"tokensUsed"`
	LastUpdated time.Time   `json:"lastUpdated" yaml:"lastUpdated"`
}

// phaseView is one phase row: lifecycle status plus manifest counts.
type phaseView struct {
	Phase       book.Phase  `json:"phase" yaml:"phase"`
	Status      book.Status `json:"status" yaml:"status"`
	Completed   int         `json:"completedChapters" yaml:"completedChapters"`
	InProgress  int         `json:"inProgressChapters" yaml:"inProgressChapters"`
	Failed      int         `json:"failedChapters" yaml:"failedChapters"`
	CompletedAt *time.Time  `json:"completedAt,omitempty" yaml:"completedAt,omitempty"`
}

// loadBookView assembles the status view from the state file and the
// per-phase manifests.
func loadBookView(dir home.BookDir) (*bookView, error) {
	store := state.NewStore(dir)
	st, err := store.LoadBookState()
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("no book state in %s (run analyze or process first)", dir.Path())
	}

	view := &bookView{
		BookID:      st.BookID,
		Title:       st.BookTitle,
		OutputDir:   dir.Path(),
		TotalPages:  st.TotalPages,
		TokensUsed:  st.TokenStats.TotalUsed,
		LastUpdated: st.LastUpdated,
	}
	for _, phase := range book.Phases() {
		row := phaseView{Phase: phase, Status: st.PhaseStatus(phase)}
		if ps := st.Phases[phase]; ps != nil {
			row.CompletedAt = ps.CompletedAt
		}
		manifest, err := store.ReadManifest(phase)
		if err != nil {
			return nil, fmt.Errorf("read %s manifest: %w", phase, err)
		}
		row.Completed = len(manifest.CompletedChapters)
		row.InProgress = len(manifest.InProgressChapters)
		row.Failed = len(manifest.FailedChapters)
		view.Phases = append(view.Phases, row)
	}
	return view, nil
}

// printBookView renders the status view in the selected output format.
func printBookView(dir home.BookDir) error {
	view, err := loadBookView(dir)
	if err != nil {
		return err
	}
	return api.Output(view)
}

// RenderText lays the view out for a terminal.
func (v *bookView) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "Book:    %s (%s)\n", v.Title, v.BookID)
	fmt.Fprintf(w, "Output:  %s\n", v.OutputDir)
	fmt.Fprintf(w, "Pages:   %d\n", v.TotalPages)
	fmt.Fprintf(w, "Tokens:  %d\n", v.TokensUsed)
	fmt.Fprintf(w, "Updated: %s\n\n", v.LastUpdated.Format(time.RFC3339))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PHASE\tSTATUS\tDONE\tIN FLIGHT\tFAILED")
	for _, p := range v.Phases {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\n",
			p.Phase, p.Status, p.Completed, p.InProgress, p.Failed)
	}
	return tw.Flush()
}

// resolveExistingBookDir locates a book output directory from the
// optional positional argument or a book id plus the configured
// conventions.
func resolveExistingBookDir(ctx context.Context, args []string, bookID string) (home.BookDir, error) {
	if len(args) > 0 {
		return home.NewBookDir(args[0]), nil
	}
	if bookID == "" {
		return home.BookDir{}, fmt.Errorf("pass a book output directory or --book <id>")
	}
	svcs := svcctx.ServicesFrom(ctx)
	cfg := svcs.ConfigManager.Get()
	if cfg.Series.Enabled && cfg.Series.Root != "" {
		return series.BookOutputDir(home.NewSeriesDir(cfg.Series.Root), bookID), nil
	}
	return home.NewBookDir(svcs.Home.BookPath(bookID)), nil
}

func init() {
	statusCmd.Flags().StringVar(&statusBookID, "book", "", "book id, resolved against the configured output location")
	rootCmd.AddCommand(statusCmd)
}
