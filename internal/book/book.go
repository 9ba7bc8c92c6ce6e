// Package book provides shared domain types used across multiple packages.
// This package has no dependencies on other imaginize packages to avoid import cycles.
package book

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Book is the root object for one processed book. It is created on the first
// pipeline invocation for a source file and never deleted by the pipeline.
type Book struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Author      string    `json:"author,omitempty"`
	SourcePath  string    `json:"sourcePath"`
	TotalPages  int       `json:"totalPages"`
	TotalChaps  int       `json:"totalChapters"`
	TokensUsed  int64     `json:"tokensUsed"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// DeriveID computes a stable book identifier from a source path.
// The ID is the base name (sans extension) lowercased plus a short
// content-independent hash of the cleaned absolute path, so two books with
// the same filename in different directories do not collide.
func DeriveID(sourcePath string) string {
	clean := filepath.Clean(sourcePath)
	base := strings.TrimSuffix(filepath.Base(clean), filepath.Ext(clean))
	sum := sha256.Sum256([]byte(clean))
	return fmt.Sprintf("%s-%s", slugify(base), hex.EncodeToString(sum[:4]))
}

func slugify(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}

// ChapterSpec is one parsed chapter. Immutable after parse.
type ChapterSpec struct {
	Index          int       `json:"index"` // 1-based
	Title          string    `json:"title"`
	Pages          PageRange `json:"pageRange"`
	RawText        string    `json:"rawText,omitempty"`
	IsStoryContent bool      `json:"isStoryContent"`
}

// PageCount returns the number of logical pages the chapter spans.
// A chapter with an empty range counts as one page.
func (c ChapterSpec) PageCount() int {
	n := c.Pages.Count()
	if n < 1 {
		return 1
	}
	return n
}

// SceneConcept is an AI-identified illustratable moment within a chapter.
// Created by the analyze phase, annotated with an image path by the
// illustrate phase, never deleted.
type SceneConcept struct {
	ID                 string `json:"id"`
	ChapterIndex       int    `json:"chapterIndex"`
	PageRef            string `json:"pageRef,omitempty"`
	SourceQuote        string `json:"sourceQuote"`
	VisualDescription  string `json:"visualDescription"`
	GeneratedImagePath string `json:"generatedImagePath,omitempty"`
	Failed             bool   `json:"failed,omitempty"`
}

// SceneID returns the stable scene identifier for a chapter/scene pair.
func SceneID(chapterIndex, sceneNum int) string {
	return fmt.Sprintf("ch%d_scene_%d", chapterIndex, sceneNum)
}

// NumScenes computes the target scene count for a chapter:
// max(1, ceil(pageCount/pagesPerImage)). The target is advisory; callers
// accept fewer and cap overage separately.
func NumScenes(pageCount, pagesPerImage int) int {
	if pagesPerImage < 1 {
		pagesPerImage = 1
	}
	if pageCount < 1 {
		pageCount = 1
	}
	n := (pageCount + pagesPerImage - 1) / pagesPerImage
	if n < 1 {
		n = 1
	}
	return n
}
