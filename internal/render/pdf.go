package render

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// ExportPDF assembles every generated image into a PDF, one page per
// image, in chapter and scene order. Scenes without an image are
// skipped; a recorded image whose file has vanished is skipped too.
// Returns the output path.
func (r *Renderer) ExportPDF(bookID string, chapters []ChapterScenes) (string, error) {
	var imgs []string
	for _, ch := range chapters {
		for _, sc := range ch.Scenes {
			if sc.GeneratedImagePath == "" {
				continue
			}
			p := filepath.Join(r.Dir.Path(), sc.GeneratedImagePath)
			if _, err := os.Stat(p); err != nil {
				continue
			}
			imgs = append(imgs, p)
		}
	}
	if len(imgs) == 0 {
		return "", fmt.Errorf("no generated images to export")
	}

	out := r.Dir.ExportPDFPath(bookID)
	if err := api.ImportImagesFile(imgs, out, nil, nil); err != nil {
		return "", fmt.Errorf("assemble pdf: %w", err)
	}
	return out, nil
}
