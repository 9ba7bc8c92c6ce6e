package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/imaginize/internal/api"
	"github.com/jackzampolin/imaginize/internal/book"
	"github.com/jackzampolin/imaginize/internal/home"
	"github.com/jackzampolin/imaginize/internal/ingest"
	"github.com/jackzampolin/imaginize/internal/series"
	"github.com/jackzampolin/imaginize/internal/svcctx"
)

var (
	seriesRootFlag string
	seriesAddID    string
	seriesAddTitle string
	seriesAddOrder int
)

var seriesCmd = &cobra.Command{
	Use:   "series",
	Short: "Manage a multi-book series",
	Long: `Series commands manage a directory of related books that share an
element catalog. Characters, places, and items carried over from
earlier books keep their established descriptions when later books are
processed.

The series root holds one output directory per book plus the shared
element memory.

Examples:
  imaginize series init "The Rabbit Books" --root ./rabbits
  imaginize series add watership-down.txt --root ./rabbits
  imaginize series status --root ./rabbits`,
}

var seriesInitCmd = &cobra.Command{
	Use:   "init <name>",
	Short: "Create a series in the root directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := resolveSeriesDir(cmd)

		existing, err := series.LoadConfig(dir)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("series %q already initialized at %s", existing.Name, dir.ConfigPath())
		}

		cfg := series.NewConfig(args[0])
		if err := series.SaveConfig(dir, cfg); err != nil {
			return err
		}
		fmt.Printf("Initialized series %q at %s\n", cfg.Name, dir.Path())
		return nil
	},
}

var seriesAddCmd = &cobra.Command{
	Use:   "add <book>",
	Short: "Register a book with the series",
	Long: `Add registers a book source file with the series. The book keeps its
registration order; process it afterwards with series mode enabled so
its elements merge into the shared catalog.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		dir := resolveSeriesDir(cmd)

		cfg, err := series.LoadConfig(dir)
		if err != nil {
			return err
		}
		if cfg == nil {
			return fmt.Errorf("no series at %s (run series init first)", dir.Path())
		}

		sourcePath := args[0]
		id := seriesAddID
		title := seriesAddTitle
		if id == "" {
			id = book.DeriveID(sourcePath)
		}
		if title == "" {
			parsed, err := ingest.NewRegistry(svcctx.LoggerFrom(ctx)).ParseBook(ctx, sourcePath)
			if err != nil {
				return fmt.Errorf("parse book for title: %w", err)
			}
			title = parsed.Title
		}

		added := cfg.AddBook(series.BookRef{
			ID:    id,
			Title: title,
			Path:  sourcePath,
			Order: seriesAddOrder,
		})
		if err := series.SaveConfig(dir, cfg); err != nil {
			return err
		}
		if added {
			fmt.Printf("Added %q (%s) to series %q\n", title, id, cfg.Name)
		} else {
			fmt.Printf("Updated %q (%s) in series %q\n", title, id, cfg.Name)
		}
		return nil
	},
}

var seriesStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline progress for every book in the series",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		dir := resolveSeriesDir(cmd)

		cfg, err := series.LoadConfig(dir)
		if err != nil {
			return err
		}
		if cfg == nil {
			return fmt.Errorf("no series at %s (run series init first)", dir.Path())
		}

		rows, err := series.CollectStatus(ctx, dir, cfg)
		if err != nil {
			return err
		}
		return api.Output(&seriesStatusView{Name: cfg.Name, Books: rows})
	},
}

// seriesStatusView is the output projection of a series status sweep.
type seriesStatusView struct {
	Name  string              `json:"name" yaml:"name"`
	Books []series.BookStatus `json:"books" yaml:"books"`
}

// RenderText lays the sweep out as a table, one row per book.
func (v *seriesStatusView) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "Series: %s\n\n", v.Name)
	if len(v.Books) == 0 {
		_, err := fmt.Fprintln(w, "No books registered.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER\tBOOK\tTITLE\tANALYZE\tEXTRACT\tILLUSTRATE\tTOKENS")
	for _, row := range v.Books {
		if !row.Found {
			note := "not processed"
			if row.ReadError != "" {
				note = "unreadable: " + row.ReadError
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t\t\t\n", row.Order, row.ID, row.Title, note)
			continue
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%d\n",
			row.Order, row.ID, row.Title,
			row.Phases[book.PhaseAnalyze],
			row.Phases[book.PhaseExtract],
			row.Phases[book.PhaseIllustrate],
			row.TotalTokens)
	}
	return tw.Flush()
}

// resolveSeriesDir picks the series root: the --root flag, then the
// configured series root, then the working directory.
func resolveSeriesDir(cmd *cobra.Command) home.SeriesDir {
	root := seriesRootFlag
	if root == "" {
		if cm := svcctx.ConfigManagerFrom(cmd.Context()); cm != nil {
			root = cm.Get().Series.Root
		}
	}
	if root == "" {
		root = "."
	}
	return home.NewSeriesDir(root)
}

func init() {
	seriesCmd.PersistentFlags().StringVar(
		&seriesRootFlag, "root", "", "series root directory (default: series.root from config, else the working directory)",
	)
	seriesAddCmd.Flags().StringVar(&seriesAddID, "book", "", "book id (default: derived from the source file path)")
	seriesAddCmd.Flags().StringVar(&seriesAddTitle, "title", "", "book title (default: parsed from the source)")
	seriesAddCmd.Flags().IntVar(&seriesAddOrder, "order", 0, "position in the series (0 = append)")

	seriesCmd.AddCommand(seriesInitCmd)
	seriesCmd.AddCommand(seriesAddCmd)
	seriesCmd.AddCommand(seriesStatusCmd)
	rootCmd.AddCommand(seriesCmd)
}
