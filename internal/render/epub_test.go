package render

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackzampolin/imaginize/internal/book"
)

// tinyPNG is a PNG signature, enough for archive round-trip checks.
var tinyPNG = []byte("\x89PNG\r\n\x1a\n")

func writeImage(t *testing.T, r *Renderer, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(r.Dir.Path(), name), tinyPNG, 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", name, err)
	}
}

func epubChapters() []ChapterScenes {
	return []ChapterScenes{
		{
			Index: 2, Title: "The Notice Board",
			Scenes: []book.SceneConcept{
				{
					ID:                 book.SceneID(2, 1),
					SourceQuote:        "Hazel crossed the field.",
					VisualDescription:  "A rabbit crossing a sunlit field.",
					GeneratedImagePath: "chapter_2_scene_1.png",
				},
				{
					ID:                book.SceneID(2, 2),
					SourceQuote:       "Fiver trembled.",
					VisualDescription: "A small rabbit staring at a sign.",
				},
			},
		},
		{
			Index: 3, Title: "The Crossing",
			Scenes: []book.SceneConcept{
				{
					ID:                 book.SceneID(3, 1),
					SourceQuote:        "The river lay wide & grey.",
					VisualDescription:  "Two rabbits at a riverbank.",
					GeneratedImagePath: "chapter_3_scene_1.png",
				},
			},
		},
	}
}

func readArchive(t *testing.T, path string) map[string]string {
	t.Helper()
	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer zr.Close()

	files := make(map[string]string, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read %s: %v", f.Name, err)
		}
		files[f.Name] = string(data)
	}
	return files
}

func TestExportEpub(t *testing.T) {
	r := testRenderer(t)
	writeImage(t, r, "chapter_2_scene_1.png")
	writeImage(t, r, "chapter_3_scene_1.png")

	out, err := r.ExportEpub("watership-down", "Watership Down", epubChapters())
	if err != nil {
		t.Fatalf("ExportEpub: %v", err)
	}
	if out != r.Dir.ExportEpubPath("watership-down") {
		t.Fatalf("output path = %s", out)
	}

	zr, err := zip.OpenReader(out)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	first := zr.File[0]
	if first.Name != "mimetype" {
		t.Fatalf("first entry = %s, want mimetype", first.Name)
	}
	if first.Method != zip.Store {
		t.Fatalf("mimetype must be stored uncompressed, got method %d", first.Method)
	}
	zr.Close()

	files := readArchive(t, out)
	if files["mimetype"] != "application/epub+zip" {
		t.Fatalf("mimetype content = %q", files["mimetype"])
	}
	if !strings.Contains(files["META-INF/container.xml"], "OEBPS/content.opf") {
		t.Fatal("container.xml does not point at the package document")
	}

	opf := files["OEBPS/content.opf"]
	for _, want := range []string{
		"<dc:title>Watership Down</dc:title>",
		"urn:uuid:",
		`<item id="chapter_2" href="chapters/chapter_2.xhtml"`,
		`<item id="img-ch2-s1" href="images/chapter_2_scene_1.png" media-type="image/png"/>`,
		`<itemref idref="chapter_3"/>`,
	} {
		if !strings.Contains(opf, want) {
			t.Fatalf("content.opf missing %q:\n%s", want, opf)
		}
	}

	page := files["OEBPS/chapters/chapter_2.xhtml"]
	if !strings.Contains(page, "<h1>Chapter 2: The Notice Board</h1>") {
		t.Fatalf("chapter page missing heading:\n%s", page)
	}
	if !strings.Contains(page, `<img src="../images/chapter_2_scene_1.png"`) {
		t.Fatalf("chapter page missing image:\n%s", page)
	}
	if !strings.Contains(page, "<figcaption>Hazel crossed the field.</figcaption>") {
		t.Fatalf("chapter page missing caption:\n%s", page)
	}
	if strings.Contains(page, "scene_2") {
		t.Fatal("imageless scene leaked into the chapter page")
	}

	caption := files["OEBPS/chapters/chapter_3.xhtml"]
	if !strings.Contains(caption, "wide &amp; grey") {
		t.Fatalf("caption not XML-escaped:\n%s", caption)
	}

	if files["OEBPS/images/chapter_2_scene_1.png"] != string(tinyPNG) {
		t.Fatal("image bytes did not survive the archive")
	}
	if !strings.Contains(files["OEBPS/nav.xhtml"], "chapters/chapter_2.xhtml") {
		t.Fatal("nav.xhtml missing chapter link")
	}
	if !strings.Contains(files["OEBPS/toc.ncx"], "Chapter 3: The Crossing") {
		t.Fatal("toc.ncx missing chapter label")
	}
}

func TestExportEpubNoImages(t *testing.T) {
	r := testRenderer(t)

	// Image paths recorded but files absent: nothing to package.
	_, err := r.ExportEpub("watership-down", "Watership Down", epubChapters())
	if err == nil {
		t.Fatal("ExportEpub with no image files: expected error")
	}
}

func TestExportPDFNoImages(t *testing.T) {
	r := testRenderer(t)

	_, err := r.ExportPDF("watership-down", epubChapters())
	if err == nil {
		t.Fatal("ExportPDF with no image files: expected error")
	}
}

func TestSceneAlt(t *testing.T) {
	if got := sceneAlt(epubScene{num: 3}); got != "Scene 3 illustration" {
		t.Fatalf("empty description alt = %q", got)
	}
	long := strings.Repeat("a rabbit in the grass ", 20)
	got := sceneAlt(epubScene{num: 1, description: long})
	if len(got) > 203 {
		t.Fatalf("alt text too long: %d chars", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("long alt text missing ellipsis: %q", got)
	}
}
