package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"gopkg.in/yaml.v3"

	"github.com/jackzampolin/imaginize/internal/book"
)

// TOCSidecarSuffix names the chapter-map file that must sit next to a
// PDF source: "novel.pdf" reads "novel.toc.yaml".
const TOCSidecarSuffix = ".toc.yaml"

// PDFProbe handles .pdf sources. PDF text extraction is external
// tooling's job; the probe verifies the file, counts pages, and builds
// chapters from a TOC sidecar that maps titles to page ranges (and,
// optionally, to text files carrying each chapter's words).
type PDFProbe struct {
	logger *slog.Logger
}

// NewPDFProbe creates the PDF parser.
func NewPDFProbe(logger *slog.Logger) *PDFProbe {
	if logger == nil {
		logger = slog.Default()
	}
	return &PDFProbe{logger: logger}
}

// Extensions implements Parser.
func (p *PDFProbe) Extensions() []string {
	return []string{".pdf"}
}

// TOCSidecarPath returns the sidecar path for a PDF source.
func TOCSidecarPath(pdfPath string) string {
	return strings.TrimSuffix(pdfPath, filepath.Ext(pdfPath)) + TOCSidecarSuffix
}

// Parse implements Parser.
func (p *PDFProbe) Parse(ctx context.Context, path string) (*Parsed, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pageCount, err := probePageCount(path)
	if err != nil {
		return nil, err
	}

	sidecarPath := TOCSidecarPath(path)
	sc, err := loadSidecar(sidecarPath)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("no TOC sidecar at %s: PDF text extraction is not built in, so chapters must be declared there (title + pages per chapter, optional textFile)", sidecarPath)
	}
	if err != nil {
		return nil, err
	}

	chapters, err := sc.chapterSpecs(pageCount, filepath.Dir(sidecarPath))
	if err != nil {
		return nil, fmt.Errorf("invalid TOC sidecar %s: %w", sidecarPath, err)
	}

	title := sc.Title
	if title == "" {
		title = titleFromPath(path)
	}
	p.logger.Debug("probed pdf", "path", path, "pages", pageCount, "chapters", len(chapters))

	return &Parsed{
		Title:      title,
		TotalPages: pageCount,
		Chapters:   chapters,
	}, nil
}

// probePageCount counts pages without loading page content.
func probePageCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	count, err := api.PageCount(f, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count PDF pages: %w", err)
	}
	if count < 1 {
		return 0, fmt.Errorf("PDF reports no pages: %s", path)
	}
	return count, nil
}

// tocSidecar is the YAML chapter map accompanying a PDF.
type tocSidecar struct {
	Title    string       `yaml:"title"`
	Chapters []tocChapter `yaml:"chapters"`
}

type tocChapter struct {
	Title string `yaml:"title"`
	Pages string `yaml:"pages"`
	// Story defaults to true; front/back matter sets it false.
	Story *bool `yaml:"story"`
	// TextFile optionally points at a plaintext file (relative to the
	// sidecar) holding this chapter's words for the analyze phase.
	TextFile string `yaml:"textFile"`
}

func loadSidecar(path string) (*tocSidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc tocSidecar
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse TOC sidecar %s: %w", path, err)
	}
	return &sc, nil
}

// chapterSpecs validates the sidecar against the probed page count and
// builds the chapter list: 1-based indices, ascending non-overlapping
// page ranges, optional chapter text loaded from textFile.
func (sc *tocSidecar) chapterSpecs(pageCount int, baseDir string) ([]book.ChapterSpec, error) {
	if len(sc.Chapters) == 0 {
		return nil, fmt.Errorf("sidecar declares no chapters")
	}

	chapters := make([]book.ChapterSpec, 0, len(sc.Chapters))
	prevEnd := 0
	for i, tc := range sc.Chapters {
		if strings.TrimSpace(tc.Title) == "" {
			return nil, fmt.Errorf("chapter %d has no title", i+1)
		}
		pages, ok := book.ParsePageRef(tc.Pages)
		if !ok {
			return nil, fmt.Errorf("chapter %q has unparseable pages %q (want \"N\" or \"N-M\")", tc.Title, tc.Pages)
		}
		if pages.End > pageCount {
			return nil, fmt.Errorf("chapter %q ends at page %d but the PDF has %d pages", tc.Title, pages.End, pageCount)
		}
		if pages.Start <= prevEnd {
			return nil, fmt.Errorf("chapter %q starts at page %d, overlapping the previous chapter (ends %d)", tc.Title, pages.Start, prevEnd)
		}
		prevEnd = pages.End

		var raw string
		if tc.TextFile != "" {
			data, err := os.ReadFile(filepath.Join(baseDir, tc.TextFile))
			if err != nil {
				return nil, fmt.Errorf("chapter %q textFile: %w", tc.Title, err)
			}
			raw = strings.TrimSpace(string(data))
		}

		story := true
		if tc.Story != nil {
			story = *tc.Story
		}
		chapters = append(chapters, book.ChapterSpec{
			Index:          i + 1,
			Title:          strings.TrimSpace(tc.Title),
			Pages:          pages,
			RawText:        raw,
			IsStoryContent: story,
		})
	}
	return chapters, nil
}
