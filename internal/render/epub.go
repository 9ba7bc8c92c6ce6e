package render

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/imaginize/internal/atomicfile"
)

// ExportEpub assembles an EPUB 3 picture book from the generated
// images: one XHTML page per chapter, each scene rendered as its image
// with the source quote as a caption. Scenes without an image stay out;
// chapters with no images stay out entirely. Returns the output path.
func (r *Renderer) ExportEpub(bookID, title string, chapters []ChapterScenes) (string, error) {
	b := &epubBuilder{
		bookID:    bookID,
		title:     orUntitled(title),
		imagesDir: r.Dir.Path(),
	}
	for _, ch := range chapters {
		b.addChapter(ch)
	}
	if len(b.chapters) == 0 {
		return "", fmt.Errorf("no generated images to export")
	}

	var buf bytes.Buffer
	if err := b.writeTo(&buf); err != nil {
		return "", err
	}
	out := r.Dir.ExportEpubPath(bookID)
	if err := atomicfile.Write(out, buf.Bytes()); err != nil {
		return "", fmt.Errorf("write epub: %w", err)
	}
	return out, nil
}

// epubScene is one illustrated moment on a chapter page.
type epubScene struct {
	num         int
	quote       string
	description string
	imageFile   string
}

// epubChapter is one XHTML page of the picture book.
type epubChapter struct {
	id     string
	index  int
	title  string
	scenes []epubScene
}

// epubBuilder assembles the EPUB 3 container. File order matters:
// mimetype must be first and stored uncompressed.
type epubBuilder struct {
	bookID    string
	title     string
	imagesDir string
	chapters  []epubChapter
	uid       string
}

func (b *epubBuilder) addChapter(ch ChapterScenes) {
	ec := epubChapter{
		id:    fmt.Sprintf("chapter_%d", ch.Index),
		index: ch.Index,
		title: orUntitled(ch.Title),
	}
	for i, sc := range ch.Scenes {
		if sc.GeneratedImagePath == "" {
			continue
		}
		if _, err := os.Stat(filepath.Join(b.imagesDir, sc.GeneratedImagePath)); err != nil {
			continue
		}
		ec.scenes = append(ec.scenes, epubScene{
			num:         i + 1,
			quote:       sc.SourceQuote,
			description: sc.VisualDescription,
			imageFile:   sc.GeneratedImagePath,
		})
	}
	if len(ec.scenes) > 0 {
		b.chapters = append(b.chapters, ec)
	}
}

func (b *epubBuilder) writeTo(w io.Writer) error {
	zw := zip.NewWriter(w)

	if err := b.writeMimetype(zw); err != nil {
		return err
	}
	if err := writeZipFile(zw, "META-INF/container.xml", containerXML); err != nil {
		return err
	}
	if err := writeZipFile(zw, "OEBPS/content.opf", b.generatePackage()); err != nil {
		return err
	}
	if err := writeZipFile(zw, "OEBPS/nav.xhtml", b.generateNavigation()); err != nil {
		return err
	}
	if err := writeZipFile(zw, "OEBPS/toc.ncx", b.generateNCX()); err != nil {
		return err
	}
	if err := writeZipFile(zw, "OEBPS/styles/style.css", epubStylesheet); err != nil {
		return err
	}
	for _, ch := range b.chapters {
		if err := writeZipFile(zw, "OEBPS/chapters/"+ch.id+".xhtml", b.generateChapterXHTML(ch)); err != nil {
			return fmt.Errorf("write chapter %s: %w", ch.id, err)
		}
	}
	if err := b.writeImages(zw); err != nil {
		return err
	}
	return zw.Close()
}

// writeMimetype writes the mimetype entry. The EPUB container format
// requires it first in the archive and stored without compression.
func (b *epubBuilder) writeMimetype(zw *zip.Writer) error {
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:   "mimetype",
		Method: zip.Store,
	})
	if err != nil {
		return fmt.Errorf("create mimetype: %w", err)
	}
	_, err = w.Write([]byte("application/epub+zip"))
	return err
}

// writeImages copies each referenced image into OEBPS/images.
func (b *epubBuilder) writeImages(zw *zip.Writer) error {
	seen := make(map[string]bool)
	for _, ch := range b.chapters {
		for _, sc := range ch.scenes {
			if seen[sc.imageFile] {
				continue
			}
			seen[sc.imageFile] = true

			src, err := os.Open(filepath.Join(b.imagesDir, sc.imageFile))
			if err != nil {
				return fmt.Errorf("open image %s: %w", sc.imageFile, err)
			}
			w, err := zw.Create("OEBPS/images/" + sc.imageFile)
			if err != nil {
				src.Close()
				return fmt.Errorf("create image entry %s: %w", sc.imageFile, err)
			}
			_, err = io.Copy(w, src)
			src.Close()
			if err != nil {
				return fmt.Errorf("copy image %s: %w", sc.imageFile, err)
			}
		}
	}
	return nil
}

// generateUUID returns the publication identifier, stable for the life
// of the builder.
func (b *epubBuilder) generateUUID() string {
	if b.uid == "" {
		b.uid = "urn:uuid:" + uuid.New().String()
	}
	return b.uid
}

// generatePackage creates the content.opf package document.
func (b *epubBuilder) generatePackage() string {
	var sb strings.Builder

	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="pub-id">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
`)
	fmt.Fprintf(&sb, "    <dc:identifier id=\"pub-id\">%s</dc:identifier>\n", b.generateUUID())
	fmt.Fprintf(&sb, "    <dc:title>%s</dc:title>\n", escapeXML(b.title))
	sb.WriteString("    <dc:language>en</dc:language>\n")
	fmt.Fprintf(&sb, "    <meta property=\"dcterms:modified\">%s</meta>\n",
		time.Now().UTC().Format("2006-01-02T15:04:05Z"))
	sb.WriteString("  </metadata>\n\n")

	sb.WriteString("  <manifest>\n")
	sb.WriteString("    <item id=\"nav\" href=\"nav.xhtml\" media-type=\"application/xhtml+xml\" properties=\"nav\"/>\n")
	sb.WriteString("    <item id=\"ncx\" href=\"toc.ncx\" media-type=\"application/x-dtbncx+xml\"/>\n")
	sb.WriteString("    <item id=\"style\" href=\"styles/style.css\" media-type=\"text/css\"/>\n")
	for _, ch := range b.chapters {
		fmt.Fprintf(&sb, "    <item id=\"%s\" href=\"chapters/%s.xhtml\" media-type=\"application/xhtml+xml\"/>\n",
			ch.id, ch.id)
		for _, sc := range ch.scenes {
			fmt.Fprintf(&sb, "    <item id=\"%s\" href=\"images/%s\" media-type=\"image/png\"/>\n",
				imageItemID(ch.index, sc.num), escapeXML(sc.imageFile))
		}
	}
	sb.WriteString("  </manifest>\n\n")

	sb.WriteString("  <spine toc=\"ncx\">\n")
	for _, ch := range b.chapters {
		fmt.Fprintf(&sb, "    <itemref idref=\"%s\"/>\n", ch.id)
	}
	sb.WriteString("  </spine>\n")
	sb.WriteString("</package>\n")

	return sb.String()
}

// generateNavigation creates the nav.xhtml navigation document.
func (b *epubBuilder) generateNavigation() string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<head>
  <title>Table of Contents</title>
  <link rel="stylesheet" type="text/css" href="styles/style.css"/>
</head>
<body>
  <nav epub:type="toc" id="toc">
    <h1>Table of Contents</h1>
    <ol>
`)
	for _, ch := range b.chapters {
		fmt.Fprintf(&sb, "      <li><a href=\"chapters/%s.xhtml\">%s</a></li>\n",
			ch.id, escapeXML(b.chapterHeading(ch)))
	}
	sb.WriteString(`    </ol>
  </nav>
</body>
</html>
`)
	return sb.String()
}

// generateNCX creates toc.ncx for EPUB 2 reader compatibility.
func (b *epubBuilder) generateNCX() string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1">
  <head>
    <meta name="dtb:uid" content="`)
	sb.WriteString(b.generateUUID())
	sb.WriteString(`"/>
    <meta name="dtb:depth" content="1"/>
    <meta name="dtb:totalPageCount" content="0"/>
    <meta name="dtb:maxPageNumber" content="0"/>
  </head>
  <docTitle>
    <text>`)
	sb.WriteString(escapeXML(b.title))
	sb.WriteString(`</text>
  </docTitle>
  <navMap>
`)
	for i, ch := range b.chapters {
		fmt.Fprintf(&sb, "    <navPoint id=\"navpoint-%d\" playOrder=\"%d\">\n", i+1, i+1)
		fmt.Fprintf(&sb, "      <navLabel><text>%s</text></navLabel>\n", escapeXML(b.chapterHeading(ch)))
		fmt.Fprintf(&sb, "      <content src=\"chapters/%s.xhtml\"/>\n", ch.id)
		sb.WriteString("    </navPoint>\n")
	}
	sb.WriteString(`  </navMap>
</ncx>
`)
	return sb.String()
}

// generateChapterXHTML renders one chapter page: heading, then each
// scene as a figure with its source quote as the caption.
func (b *epubBuilder) generateChapterXHTML(ch epubChapter) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml">
<head>
  <title>`)
	sb.WriteString(escapeXML(b.chapterHeading(ch)))
	sb.WriteString(`</title>
  <link rel="stylesheet" type="text/css" href="../styles/style.css"/>
</head>
<body>
`)
	fmt.Fprintf(&sb, "<h1>%s</h1>\n", escapeXML(b.chapterHeading(ch)))
	for _, sc := range ch.scenes {
		sb.WriteString("<figure class=\"scene\">\n")
		fmt.Fprintf(&sb, "  <img src=\"../images/%s\" alt=\"%s\"/>\n",
			escapeXML(sc.imageFile), escapeXML(sceneAlt(sc)))
		if q := strings.TrimSpace(sc.quote); q != "" {
			fmt.Fprintf(&sb, "  <figcaption>%s</figcaption>\n", escapeXML(q))
		}
		sb.WriteString("</figure>\n")
	}
	sb.WriteString("</body>\n</html>\n")
	return sb.String()
}

func (b *epubBuilder) chapterHeading(ch epubChapter) string {
	return fmt.Sprintf("Chapter %d: %s", ch.index, ch.title)
}

// sceneAlt derives the image alt text from the visual description,
// trimmed to a sentence-ish length.
func sceneAlt(sc epubScene) string {
	alt := strings.TrimSpace(sc.description)
	if alt == "" {
		return fmt.Sprintf("Scene %d illustration", sc.num)
	}
	if len(alt) > 200 {
		cut := alt[:200]
		if idx := strings.LastIndex(cut, " "); idx > 100 {
			cut = cut[:idx]
		}
		alt = cut + "..."
	}
	return alt
}

func imageItemID(chapter, scene int) string {
	return fmt.Sprintf("img-ch%d-s%d", chapter, scene)
}

func writeZipFile(zw *zip.Writer, name, content string) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	_, err = w.Write([]byte(content))
	return err
}

// escapeXML escapes special XML characters.
func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	return s
}

const containerXML = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

const epubStylesheet = `body {
  font-family: Georgia, serif;
  line-height: 1.5;
  margin: 1em;
}

h1 {
  font-size: 1.5em;
  text-align: center;
  margin: 1em 0;
}

figure.scene {
  margin: 1.5em 0;
  text-align: center;
  page-break-inside: avoid;
}

figure.scene img {
  max-width: 100%;
  height: auto;
}

figure.scene figcaption {
  margin-top: 0.75em;
  font-style: italic;
  font-size: 0.9em;
  color: #444;
}

nav#toc ol {
  list-style-type: none;
  padding-left: 1em;
}

nav#toc li {
  margin: 0.4em 0;
}
`
