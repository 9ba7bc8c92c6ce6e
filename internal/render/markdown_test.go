package render

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/jackzampolin/imaginize/internal/book"
	"github.com/jackzampolin/imaginize/internal/elements"
	"github.com/jackzampolin/imaginize/internal/home"
)

func testRenderer(t *testing.T) *Renderer {
	t.Helper()
	dir := home.NewBookDir(t.TempDir())
	if err := dir.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists: %v", err)
	}
	return NewRenderer(dir)
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%s): %v", path, err)
	}
	return string(data)
}

func TestWriteContents(t *testing.T) {
	r := testRenderer(t)
	chapters := []book.ChapterSpec{
		{Index: 1, Title: "Foreword", Pages: book.PageRange{Start: 1, End: 2}},
		{Index: 2, Title: "The Notice Board", Pages: book.PageRange{Start: 3, End: 12}, IsStoryContent: true},
		{Index: 3, Title: "Pipes | Drains", Pages: book.PageRange{Start: 13, End: 20}, IsStoryContent: true},
	}

	if err := r.WriteContents("Watership Down", chapters); err != nil {
		t.Fatalf("WriteContents: %v", err)
	}

	got := readFile(t, r.Dir.ContentsPath())
	if !strings.HasPrefix(got, "# Watership Down\n\n## Contents\n") {
		t.Fatalf("missing heading:\n%s", got)
	}
	if !strings.Contains(got, "| 2 | The Notice Board | 3-12 |  |") {
		t.Fatalf("missing story chapter row:\n%s", got)
	}
	if !strings.Contains(got, "| 1 | Foreword | 1-2 | front or back matter, not illustrated |") {
		t.Fatalf("missing non-story annotation:\n%s", got)
	}
	if !strings.Contains(got, `Pipes \| Drains`) {
		t.Fatalf("pipe in title not escaped:\n%s", got)
	}
}

func TestWriteChapters(t *testing.T) {
	r := testRenderer(t)
	chapters := []ChapterScenes{
		{
			Index: 2, Title: "The Notice Board",
			Scenes: []book.SceneConcept{
				{
					ID: book.SceneID(2, 1), PageRef: "3-5",
					SourceQuote:        "Hazel crossed the field.",
					VisualDescription:  "A rabbit crossing a sunlit field.",
					GeneratedImagePath: "chapter_2_scene_1.png",
				},
				{
					ID:                book.SceneID(2, 2),
					SourceQuote:       "Fiver trembled.",
					VisualDescription: "A small rabbit staring at a sign.",
					Failed:            true,
				},
				{
					ID:                book.SceneID(2, 3),
					VisualDescription: "Rabbits in the long grass.",
				},
			},
		},
		{Index: 3, Title: "The Crossing"},
	}

	if err := r.WriteChapters("Watership Down", chapters); err != nil {
		t.Fatalf("WriteChapters: %v", err)
	}

	got := readFile(t, r.Dir.ChaptersPath())
	for _, want := range []string{
		"# Watership Down: Illustrated Scenes",
		"## Chapter 2: The Notice Board",
		"### Scene 1 (pages 3-5)",
		"> Hazel crossed the field.",
		"![Chapter 2 scene 1](chapter_2_scene_1.png)",
		"*Image generation failed.*",
		"*Image pending.*",
		"## Chapter 3: The Crossing",
		"No scenes identified.",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("chapters listing missing %q:\n%s", want, got)
		}
	}
}

func TestWriteElements(t *testing.T) {
	r := testRenderer(t)
	cat := elements.NewCatalog()
	_, err := cat.MergeEntity(context.Background(), elements.Entity{
		Type: elements.TypeCharacter, Name: "Hazel",
		Description:     "A steady, unassuming rabbit.",
		FirstAppearance: elements.Appearance{BookID: "wd", ChapterIndex: 1},
	}, elements.MergeOptions{Strategy: elements.StrategyEnrich, BookID: "wd", ChapterIndex: 1})
	if err != nil {
		t.Fatalf("MergeEntity: %v", err)
	}

	if err := r.WriteElements("Watership Down", cat); err != nil {
		t.Fatalf("WriteElements: %v", err)
	}

	got := readFile(t, r.Dir.ElementsPath())
	if !strings.HasPrefix(got, "# Watership Down: Elements\n") {
		t.Fatalf("missing heading:\n%s", got)
	}
	if !strings.Contains(got, "## Characters") || !strings.Contains(got, "Hazel") {
		t.Fatalf("missing character section:\n%s", got)
	}
}

func TestWriteSeriesElements(t *testing.T) {
	dir := home.NewSeriesDir(t.TempDir())
	cat := elements.NewCatalog()
	_, err := cat.MergeEntity(context.Background(), elements.Entity{
		Type: elements.TypePlace, Name: "Watership Down",
		Description:     "A high chalk hill.",
		FirstAppearance: elements.Appearance{BookID: "wd", ChapterIndex: 1},
	}, elements.MergeOptions{Strategy: elements.StrategyEnrich, BookID: "wd", ChapterIndex: 1})
	if err != nil {
		t.Fatalf("MergeEntity: %v", err)
	}

	if err := WriteSeriesElements(dir, "The Rabbit Books", cat); err != nil {
		t.Fatalf("WriteSeriesElements: %v", err)
	}

	got := readFile(t, dir.ElementsPath())
	if !strings.HasPrefix(got, "# The Rabbit Books: Series Elements\n") {
		t.Fatalf("missing heading:\n%s", got)
	}
	if !strings.Contains(got, "Watership Down") {
		t.Fatalf("missing entity:\n%s", got)
	}
}

func TestWriteContentsUntitled(t *testing.T) {
	r := testRenderer(t)
	if err := r.WriteContents("  ", nil); err != nil {
		t.Fatalf("WriteContents: %v", err)
	}
	got := readFile(t, r.Dir.ContentsPath())
	if !strings.HasPrefix(got, "# Untitled\n") {
		t.Fatalf("blank title must render as Untitled:\n%s", got)
	}
}
