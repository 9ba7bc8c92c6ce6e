package series

import (
	"os"
	"testing"

	"github.com/jackzampolin/imaginize/internal/elements"
	"github.com/jackzampolin/imaginize/internal/home"
)

func TestConfigRoundTrip(t *testing.T) {
	dir := home.NewSeriesDir(t.TempDir())

	cfg := NewConfig("The Rabbit Books")
	cfg.AddBook(BookRef{ID: "watership-down", Title: "Watership Down", Path: "/books/wd.pdf"})
	cfg.AddBook(BookRef{ID: "tales", Title: "Tales from Watership Down", Path: "/books/tales.pdf"})

	if err := SaveConfig(dir, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	loaded, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded == nil {
		t.Fatal("LoadConfig returned nil for existing config")
	}
	if loaded.Name != "The Rabbit Books" {
		t.Fatalf("Name = %q", loaded.Name)
	}
	if len(loaded.Books) != 2 {
		t.Fatalf("Books = %d, want 2", len(loaded.Books))
	}
	if !loaded.SharedElements.Enabled {
		t.Fatal("shared elements should default to enabled")
	}
	if loaded.Strategy() != elements.StrategyEnrich {
		t.Fatalf("Strategy = %v, want enrich", loaded.Strategy())
	}
}

func TestLoadConfigAbsent(t *testing.T) {
	dir := home.NewSeriesDir(t.TempDir())

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg != nil {
		t.Fatalf("LoadConfig = %+v, want nil for missing file", cfg)
	}
}

func TestLoadConfigMalformed(t *testing.T) {
	dir := home.NewSeriesDir(t.TempDir())
	if err := os.WriteFile(dir.ConfigPath(), []byte("{nope"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := LoadConfig(dir); err == nil {
		t.Fatal("LoadConfig with malformed JSON: expected error")
	}
}

func TestAddBookAssignsOrder(t *testing.T) {
	cfg := NewConfig("series")
	if !cfg.AddBook(BookRef{ID: "first"}) {
		t.Fatal("AddBook(first) = false, want true")
	}
	if !cfg.AddBook(BookRef{ID: "second"}) {
		t.Fatal("AddBook(second) = false, want true")
	}

	if cfg.Books[0].Order != 1 || cfg.Books[1].Order != 2 {
		t.Fatalf("orders = %d, %d, want 1, 2", cfg.Books[0].Order, cfg.Books[1].Order)
	}
}

func TestAddBookUpdatesInPlace(t *testing.T) {
	cfg := NewConfig("series")
	cfg.AddBook(BookRef{ID: "wd", Title: "Watership Down"})

	if cfg.AddBook(BookRef{ID: "wd", Title: "Watership Down (rev)", Order: 1}) {
		t.Fatal("re-adding an existing ID must report false")
	}
	if len(cfg.Books) != 1 {
		t.Fatalf("Books = %d, want 1", len(cfg.Books))
	}
	if cfg.Books[0].Title != "Watership Down (rev)" {
		t.Fatalf("Title = %q, want updated title", cfg.Books[0].Title)
	}
}

func TestAddBookSortsByOrder(t *testing.T) {
	cfg := NewConfig("series")
	cfg.AddBook(BookRef{ID: "third", Order: 3})
	cfg.AddBook(BookRef{ID: "first", Order: 1})
	cfg.AddBook(BookRef{ID: "second", Order: 2})

	got := []string{cfg.Books[0].ID, cfg.Books[1].ID, cfg.Books[2].ID}
	want := []string{"first", "second", "third"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestStrategyFallsBackToEnrich(t *testing.T) {
	cfg := NewConfig("series")
	cfg.SharedElements.MergeStrategy = "maximal"
	if cfg.Strategy() != elements.StrategyEnrich {
		t.Fatalf("Strategy = %v, want enrich fallback", cfg.Strategy())
	}

	cfg.SharedElements.MergeStrategy = "override"
	if cfg.Strategy() != elements.StrategyOverride {
		t.Fatalf("Strategy = %v, want override", cfg.Strategy())
	}
}
