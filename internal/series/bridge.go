package series

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackzampolin/imaginize/internal/atomicfile"
	"github.com/jackzampolin/imaginize/internal/elements"
	"github.com/jackzampolin/imaginize/internal/home"
	"github.com/jackzampolin/imaginize/internal/render"
)

// Bridge moves catalog entries between one book and the series memory.
// Both directions run the full read-modify-write under the memory file
// lock, so two books finishing at once cannot lose each other's
// entities.
type Bridge struct {
	Dir      home.SeriesDir
	BookID   string
	Name     string
	Strategy elements.MergeStrategy

	// Resolver settles ambiguous name matches during merges. Nil skips
	// the resolver step.
	Resolver      elements.Resolver
	MinConfidence float64

	LockTimeout time.Duration
	Logger      *slog.Logger
}

func (b *Bridge) lockTimeout() time.Duration {
	if b.LockTimeout > 0 {
		return b.LockTimeout
	}
	return DefaultLockTimeout
}

func (b *Bridge) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

func (b *Bridge) mergeOptions() elements.MergeOptions {
	return elements.MergeOptions{
		Strategy: b.Strategy,
		BookID:   b.BookID,
		// Chapter zero: series merges carry no chapter placement, so
		// appearance recording no-ops and original history survives.
		ChapterIndex:  0,
		MinConfidence: b.MinConfidence,
		Resolver:      b.Resolver,
	}
}

// ImportShared folds series memory into the book catalog. Only entities
// the book has not placed itself come over: those first seen by another
// book, or never recorded in this book's appearances. Returns the
// number of entities offered to the catalog.
func (b *Bridge) ImportShared(ctx context.Context, cat *elements.Catalog) (int, error) {
	lock, err := atomicfile.AcquireLock(b.Dir.MemoryPath(), b.lockTimeout())
	if err != nil {
		return 0, fmt.Errorf("lock series memory: %w", err)
	}
	defer lock.Release()

	memory, err := b.loadMemory()
	if err != nil {
		return 0, err
	}
	if memory.Len() == 0 {
		return 0, nil
	}

	opts := b.mergeOptions()
	imported := 0
	for _, e := range memory.Entities() {
		if e.FirstAppearance.BookID == b.BookID && e.AppearsIn(b.BookID) {
			continue
		}
		if _, err := cat.MergeEntity(ctx, *e.Clone(), opts); err != nil {
			return imported, fmt.Errorf("import entity %q: %w", e.Name, err)
		}
		imported++
	}
	b.logger().Debug("series import", "book", b.BookID, "entities", imported)
	return imported, nil
}

// ExportBook folds the book catalog into series memory and persists it,
// then refreshes the series-wide elements listing. New enrichments
// record this book as their source. Returns the number of entities
// merged.
func (b *Bridge) ExportBook(ctx context.Context, cat *elements.Catalog) (int, error) {
	if err := os.MkdirAll(b.Dir.Path(), 0o755); err != nil {
		return 0, fmt.Errorf("create series root: %w", err)
	}
	lock, err := atomicfile.AcquireLock(b.Dir.MemoryPath(), b.lockTimeout())
	if err != nil {
		return 0, fmt.Errorf("lock series memory: %w", err)
	}
	defer lock.Release()

	memory, err := b.loadMemory()
	if err != nil {
		return 0, err
	}
	n, err := memory.MergeCatalog(ctx, cat, b.mergeOptions())
	if err != nil {
		return n, fmt.Errorf("merge into series memory: %w", err)
	}
	if err := writeJSON(b.Dir.MemoryPath(), memory); err != nil {
		return n, fmt.Errorf("save series memory: %w", err)
	}
	if err := render.WriteSeriesElements(b.Dir, b.Name, memory); err != nil {
		b.logger().Warn("series elements listing not written", "error", err)
	}
	b.logger().Debug("series export", "book", b.BookID, "entities", n)
	return n, nil
}

// loadMemory reads the series catalog, empty when absent. Caller holds
// the memory lock.
func (b *Bridge) loadMemory() (*elements.Catalog, error) {
	memory := elements.NewCatalog()
	err := readJSON(b.Dir.MemoryPath(), memory)
	if errors.Is(err, os.ErrNotExist) {
		return memory, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read series memory: %w", err)
	}
	return memory, nil
}
