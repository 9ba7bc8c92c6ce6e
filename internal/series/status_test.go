package series

import (
	"context"
	"testing"

	"github.com/jackzampolin/imaginize/internal/book"
	"github.com/jackzampolin/imaginize/internal/home"
	"github.com/jackzampolin/imaginize/internal/state"
)

func TestCollectStatus(t *testing.T) {
	dir := home.NewSeriesDir(t.TempDir())
	cfg := NewConfig("The Rabbit Books")
	cfg.AddBook(BookRef{ID: "watership-down", Title: "Watership Down"})
	cfg.AddBook(BookRef{ID: "tales", Title: "Tales from Watership Down"})

	// Only the first book has been processed.
	bookDir := BookOutputDir(dir, "watership-down")
	if err := bookDir.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists: %v", err)
	}
	st := state.NewBookState("watership-down", "Watership Down", 478)
	st.SetPhaseStatus(book.PhaseAnalyze, book.StatusCompleted)
	st.SetPhaseStatus(book.PhaseExtract, book.StatusInProgress)
	st.AddTokens(1234)
	if err := state.NewStore(bookDir).SaveBookState(st); err != nil {
		t.Fatalf("SaveBookState: %v", err)
	}

	rows, err := CollectStatus(context.Background(), dir, cfg)
	if err != nil {
		t.Fatalf("CollectStatus: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}

	wd := rows[0]
	if wd.ID != "watership-down" {
		t.Fatalf("rows out of config order: %q first", wd.ID)
	}
	if !wd.Found {
		t.Fatal("processed book not found")
	}
	if wd.Phases[book.PhaseAnalyze] != book.StatusCompleted {
		t.Fatalf("analyze = %v, want completed", wd.Phases[book.PhaseAnalyze])
	}
	if wd.Phases[book.PhaseIllustrate] != book.StatusPending {
		t.Fatalf("illustrate = %v, want pending", wd.Phases[book.PhaseIllustrate])
	}
	if wd.TotalTokens != 1234 {
		t.Fatalf("TotalTokens = %d, want 1234", wd.TotalTokens)
	}

	tales := rows[1]
	if tales.Found {
		t.Fatal("unprocessed book reported as found")
	}
	if tales.ReadError != "" {
		t.Fatalf("unprocessed book has read error %q", tales.ReadError)
	}
}

func TestCollectStatusEmptySeries(t *testing.T) {
	dir := home.NewSeriesDir(t.TempDir())
	rows, err := CollectStatus(context.Background(), dir, NewConfig("empty"))
	if err != nil {
		t.Fatalf("CollectStatus: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("rows = %d, want 0", len(rows))
	}
}
