// Package home owns the on-disk layout: the imaginize home directory
// (config, defaults) and the per-book and per-series output directories
// with their well-known state, markdown, and image file names.
package home

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackzampolin/imaginize/internal/book"
)

const (
	// DefaultDirName is the default name for the imaginize home directory.
	DefaultDirName = ".imaginize"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// BookStateFileName is the per-book global state file.
	BookStateFileName = ".imaginize.state.json"

	// ElementsMemoryFileName is the persisted catalog snapshot.
	ElementsMemoryFileName = ".elements-memory.json"

	// ResolutionCacheFileName persists entity-resolution cache entries
	// between runs.
	ResolutionCacheFileName = ".resolution-cache.json"

	// SeriesConfigFileName and SeriesMemoryFileName live at the series root.
	SeriesConfigFileName = ".imaginize.series.json"
	SeriesMemoryFileName = ".series-elements-memory.json"

	// Human-readable outputs.
	ContentsFileName = "Contents.md"
	ChaptersFileName = "Chapters.md"
	ElementsFileName = "Elements.md"
	ProgressFileName = "progress.md"

	// MaxSlugLen caps the chapter-title portion of image file names.
	MaxSlugLen = 50
)

// Dir represents the imaginize home directory (~/.imaginize by default).
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.imaginize).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}
	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// EnsureExists creates the home directory if it doesn't exist.
func (d *Dir) EnsureExists() error {
	if err := os.MkdirAll(d.path, 0o755); err != nil {
		return fmt.Errorf("failed to create home directory: %w", err)
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// BookPath returns the default output directory for a book processed
// outside a series: ~/.imaginize/books/<bookID>.
func (d *Dir) BookPath(bookID string) string {
	return filepath.Join(d.path, "books", bookID)
}

// BookDir is the output directory for one book. All pipeline state,
// markdown, and generated images for the book live directly inside it.
type BookDir struct {
	path string
}

// NewBookDir wraps an output directory path.
func NewBookDir(path string) BookDir {
	return BookDir{path: filepath.Clean(path)}
}

// Path returns the book output directory.
func (b BookDir) Path() string {
	return b.path
}

// EnsureExists creates the book output directory if needed.
func (b BookDir) EnsureExists() error {
	if err := os.MkdirAll(b.path, 0o755); err != nil {
		return fmt.Errorf("failed to create book directory: %w", err)
	}
	return nil
}

// StatePath returns the BookState file path.
func (b BookDir) StatePath() string {
	return filepath.Join(b.path, BookStateFileName)
}

// PhaseStateDir returns the shard directory for a phase (".analyze.state").
func (b BookDir) PhaseStateDir(phase book.Phase) string {
	return filepath.Join(b.path, fmt.Sprintf(".%s.state", phase))
}

// ShardPath returns the per-chapter state file for a phase.
func (b BookDir) ShardPath(phase book.Phase, chapterIndex int) string {
	return filepath.Join(b.PhaseStateDir(phase), fmt.Sprintf("chapter_%d.json", chapterIndex))
}

// ManifestPath returns the manifest file for a phase.
func (b BookDir) ManifestPath(phase book.Phase) string {
	return filepath.Join(b.PhaseStateDir(phase), "manifest.json")
}

// ElementsMemoryPath returns the persisted catalog path.
func (b BookDir) ElementsMemoryPath() string {
	return filepath.Join(b.path, ElementsMemoryFileName)
}

// ResolutionCachePath returns the persisted resolution cache path.
func (b BookDir) ResolutionCachePath() string {
	return filepath.Join(b.path, ResolutionCacheFileName)
}

// ContentsPath returns the table-of-contents markdown path.
func (b BookDir) ContentsPath() string {
	return filepath.Join(b.path, ContentsFileName)
}

// ChaptersPath returns the scenes markdown path.
func (b BookDir) ChaptersPath() string {
	return filepath.Join(b.path, ChaptersFileName)
}

// ElementsPath returns the entity catalog markdown path.
func (b BookDir) ElementsPath() string {
	return filepath.Join(b.path, ElementsFileName)
}

// ProgressLogPath returns the append-only event log path.
func (b BookDir) ProgressLogPath() string {
	return filepath.Join(b.path, ProgressFileName)
}

// ImagePath returns the deterministic file name for a generated scene
// image: "chapter_{N}_scene_{M}.png", or with a sanitized chapter-title
// slug between the chapter and scene parts when slug is non-empty.
func (b BookDir) ImagePath(chapterIndex, sceneNum int, slug string) string {
	name := ImageFileName(chapterIndex, sceneNum, slug)
	return filepath.Join(b.path, name)
}

// ExportPDFPath returns the compiled-PDF output path.
func (b BookDir) ExportPDFPath(bookID string) string {
	return filepath.Join(b.path, bookID+".pdf")
}

// ExportEpubPath returns the illustrated-EPUB output path.
func (b BookDir) ExportEpubPath(bookID string) string {
	return filepath.Join(b.path, bookID+".epub")
}

// ImageFileName builds a scene image file name without the directory.
func ImageFileName(chapterIndex, sceneNum int, slug string) string {
	if slug = SanitizeSlug(slug); slug != "" {
		return fmt.Sprintf("chapter_%d_%s_scene_%d.png", chapterIndex, slug, sceneNum)
	}
	return fmt.Sprintf("chapter_%d_scene_%d.png", chapterIndex, sceneNum)
}

// SanitizeSlug reduces a chapter title to a file-name-safe slug: characters
// outside [A-Za-z0-9_-] are collapsed (runs of them become a single '_'),
// and the result is truncated to MaxSlugLen.
func SanitizeSlug(title string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range title {
		safe := (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') ||
			(r >= '0' && r <= '9') || r == '_' || r == '-'
		if !safe {
			if b.Len() > 0 {
				pendingSep = true
			}
			continue
		}
		if pendingSep {
			b.WriteByte('_')
			pendingSep = false
		}
		b.WriteRune(r)
		if b.Len() >= MaxSlugLen {
			break
		}
	}
	out := b.String()
	if len(out) > MaxSlugLen {
		out = out[:MaxSlugLen]
	}
	return strings.Trim(out, "_")
}

// SeriesDir is the root directory shared by the books of one series.
type SeriesDir struct {
	path string
}

// NewSeriesDir wraps a series root path.
func NewSeriesDir(path string) SeriesDir {
	return SeriesDir{path: filepath.Clean(path)}
}

// Path returns the series root.
func (s SeriesDir) Path() string {
	return s.path
}

// ConfigPath returns the series config file path.
func (s SeriesDir) ConfigPath() string {
	return filepath.Join(s.path, SeriesConfigFileName)
}

// MemoryPath returns the cross-book catalog file path.
func (s SeriesDir) MemoryPath() string {
	return filepath.Join(s.path, SeriesMemoryFileName)
}

// ElementsPath returns the series-wide catalog markdown path.
func (s SeriesDir) ElementsPath() string {
	return filepath.Join(s.path, ElementsFileName)
}
