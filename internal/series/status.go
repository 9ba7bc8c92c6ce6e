package series

import (
	"context"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/imaginize/internal/book"
	"github.com/jackzampolin/imaginize/internal/home"
	"github.com/jackzampolin/imaginize/internal/state"
)

// BookStatus is one row of the series status report: the registered
// book plus whatever its output directory's state file says. Found is
// false for books that have never been processed.
type BookStatus struct {
	BookRef
	Found       bool                       `json:"found"`
	Phases      map[book.Phase]book.Status `json:"phases,omitempty"`
	TotalTokens int64                      `json:"totalTokens,omitempty"`
	ReadError   string                     `json:"readError,omitempty"`
}

// BookOutputDir returns the conventional output directory for a series
// book: a directory named after the book ID under the series root.
func BookOutputDir(dir home.SeriesDir, bookID string) home.BookDir {
	return home.NewBookDir(filepath.Join(dir.Path(), bookID))
}

// CollectStatus reads every registered book's state concurrently and
// returns the rows in config order. A book whose state cannot be read
// reports its error in the row rather than failing the sweep.
func CollectStatus(ctx context.Context, dir home.SeriesDir, cfg *Config) ([]BookStatus, error) {
	rows := make([]BookStatus, len(cfg.Books))

	g, ctx := errgroup.WithContext(ctx)
	for i, ref := range cfg.Books {
		i, ref := i, ref
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rows[i] = readBookStatus(dir, ref)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rows, nil
}

func readBookStatus(dir home.SeriesDir, ref BookRef) BookStatus {
	row := BookStatus{BookRef: ref}
	store := state.NewStore(BookOutputDir(dir, ref.ID))
	st, err := store.LoadBookState()
	if err != nil {
		row.ReadError = err.Error()
		return row
	}
	if st == nil {
		return row
	}
	row.Found = true
	row.TotalTokens = st.TokenStats.TotalUsed
	row.Phases = make(map[book.Phase]book.Status, 3)
	for _, p := range book.Phases() {
		row.Phases[p] = st.PhaseStatus(p)
	}
	return row
}
