// Package render writes the human-readable views of a book directory:
// the contents listing, the per-chapter scene gallery, the elements
// catalog, and the PDF and EPUB exports built from generated images.
// Markdown files are regenerated whole on every write, under the same
// file lock discipline the state store uses, so concurrent scenes
// cannot interleave a half-written listing.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/jackzampolin/imaginize/internal/atomicfile"
	"github.com/jackzampolin/imaginize/internal/book"
	"github.com/jackzampolin/imaginize/internal/elements"
	"github.com/jackzampolin/imaginize/internal/home"
)

// DefaultLockTimeout bounds markdown file lock acquisition. Shorter
// than the state store's: a listing write that loses the race can
// afford to fail, the next scene rewrites it.
const DefaultLockTimeout = 30 * time.Second

// Renderer writes the markdown views for one book directory.
type Renderer struct {
	Dir         home.BookDir
	LockTimeout time.Duration
}

// NewRenderer creates a Renderer for a book output directory.
func NewRenderer(dir home.BookDir) *Renderer {
	return &Renderer{Dir: dir, LockTimeout: DefaultLockTimeout}
}

// writeLocked writes content to path under its file lock.
func (r *Renderer) writeLocked(path string, content string) error {
	lock, err := atomicfile.AcquireLock(path, r.LockTimeout)
	if err != nil {
		return err
	}
	defer lock.Release()
	return atomicfile.Write(path, []byte(content))
}

// WriteContents renders Contents.md: the chapter table with page
// ranges, with non-story entries annotated so a reader can see what the
// pipeline will skip.
func (r *Renderer) WriteContents(title string, chapters []book.ChapterSpec) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n## Contents\n\n", orUntitled(title))
	b.WriteString("| # | Chapter | Pages | Notes |\n")
	b.WriteString("|---|---------|-------|-------|\n")
	for _, ch := range chapters {
		note := ""
		if !ch.IsStoryContent {
			note = "front or back matter, not illustrated"
		}
		fmt.Fprintf(&b, "| %d | %s | %s | %s |\n",
			ch.Index, escapeCell(ch.Title), ch.Pages.String(), note)
	}
	return r.writeLocked(r.Dir.ContentsPath(), b.String())
}

// ChapterScenes groups the scene concepts of one chapter for the
// chapters listing.
type ChapterScenes struct {
	Index  int
	Title  string
	Scenes []book.SceneConcept
}

// WriteChapters renders Chapters.md: every identified scene with its
// source quote, visual description, and image when one exists. Called
// after each generated image, so the file always reflects current
// progress.
func (r *Renderer) WriteChapters(title string, chapters []ChapterScenes) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s: Illustrated Scenes\n", orUntitled(title))
	for _, ch := range chapters {
		fmt.Fprintf(&b, "\n## Chapter %d: %s\n", ch.Index, orUntitled(ch.Title))
		if len(ch.Scenes) == 0 {
			b.WriteString("\nNo scenes identified.\n")
			continue
		}
		for i, sc := range ch.Scenes {
			fmt.Fprintf(&b, "\n### Scene %d", i+1)
			if sc.PageRef != "" {
				fmt.Fprintf(&b, " (pages %s)", sc.PageRef)
			}
			b.WriteString("\n\n")
			if q := strings.TrimSpace(sc.SourceQuote); q != "" {
				fmt.Fprintf(&b, "> %s\n\n", strings.ReplaceAll(q, "\n", "\n> "))
			}
			if d := strings.TrimSpace(sc.VisualDescription); d != "" {
				fmt.Fprintf(&b, "%s\n\n", d)
			}
			switch {
			case sc.GeneratedImagePath != "":
				fmt.Fprintf(&b, "![Chapter %d scene %d](%s)\n", ch.Index, i+1, sc.GeneratedImagePath)
			case sc.Failed:
				b.WriteString("*Image generation failed.*\n")
			default:
				b.WriteString("*Image pending.*\n")
			}
		}
	}
	return r.writeLocked(r.Dir.ChaptersPath(), b.String())
}

// WriteElements renders Elements.md from the catalog.
func (r *Renderer) WriteElements(title string, cat *elements.Catalog) error {
	heading := "Elements"
	if title != "" {
		heading = title + ": Elements"
	}
	return r.writeLocked(r.Dir.ElementsPath(), cat.AsMarkdown(heading))
}

// WriteSeriesElements renders the series-wide Elements.md at the series
// root. The caller holds the series memory lock; this takes the
// markdown file's own lock only.
func WriteSeriesElements(dir home.SeriesDir, name string, cat *elements.Catalog) error {
	heading := "Series Elements"
	if name != "" {
		heading = name + ": Series Elements"
	}
	lock, err := atomicfile.AcquireLock(dir.ElementsPath(), DefaultLockTimeout)
	if err != nil {
		return err
	}
	defer lock.Release()
	return atomicfile.Write(dir.ElementsPath(), []byte(cat.AsMarkdown(heading)))
}

func orUntitled(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Untitled"
	}
	return s
}

// escapeCell keeps a table cell on one row.
func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}
