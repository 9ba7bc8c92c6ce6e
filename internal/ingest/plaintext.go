package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/jackzampolin/imaginize/internal/book"
)

const (
	// DefaultWordsPerPage synthesizes logical pages for formats without
	// physical ones. 300 words approximates a trade paperback page.
	DefaultWordsPerPage = 300

	// DefaultMinStoryWords is the floor below which a chapter is treated
	// as front or back matter regardless of its title.
	DefaultMinStoryWords = 80

	// maxHeadingLen bounds how long a line can be and still count as a
	// chapter heading.
	maxHeadingLen = 60
)

// PlaintextParser splits a .txt (or .md) file into chapters using
// heading heuristics: explicit "Chapter N" lines, bare numerals between
// blank lines, short all-caps lines, known front/back-matter titles, and
// markdown headings. Logical pages are synthesized from word count.
type PlaintextParser struct {
	WordsPerPage  int
	MinStoryWords int
	logger        *slog.Logger
}

// NewPlaintextParser creates a splitter with default pagination.
func NewPlaintextParser(logger *slog.Logger) *PlaintextParser {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlaintextParser{
		WordsPerPage:  DefaultWordsPerPage,
		MinStoryWords: DefaultMinStoryWords,
		logger:        logger,
	}
}

// Extensions implements Parser.
func (p *PlaintextParser) Extensions() []string {
	return []string{".txt", ".text", ".md"}
}

// Parse implements Parser.
func (p *PlaintextParser) Parse(ctx context.Context, path string) (*Parsed, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source: %w", err)
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("source file is empty: %s", path)
	}

	lines := strings.Split(text, "\n")
	heads := findHeadings(lines)

	var chapters []book.ChapterSpec
	add := func(title string, body []string) {
		raw := strings.TrimSpace(strings.Join(body, "\n"))
		if title == "" && raw == "" {
			return
		}
		words := len(strings.Fields(raw))
		chapters = append(chapters, book.ChapterSpec{
			Index:          len(chapters) + 1,
			Title:          title,
			RawText:        raw,
			IsStoryContent: p.isStory(title, words),
		})
	}

	if len(heads) == 0 {
		add(titleFromPath(path), lines)
	} else {
		if strings.TrimSpace(strings.Join(lines[:heads[0].line], "\n")) != "" {
			add("Front Matter", lines[:heads[0].line])
		}
		for i, h := range heads {
			end := len(lines)
			if i+1 < len(heads) {
				end = heads[i+1].line
			}
			add(h.title, lines[h.line+1:end])
		}
	}

	p.paginate(chapters)

	total := 0
	if n := len(chapters); n > 0 {
		total = chapters[n-1].Pages.End
	}
	return &Parsed{
		Title:      titleFromPath(path),
		TotalPages: total,
		Chapters:   chapters,
	}, nil
}

// paginate assigns cumulative logical page ranges from word counts.
func (p *PlaintextParser) paginate(chapters []book.ChapterSpec) {
	wpp := p.WordsPerPage
	if wpp < 1 {
		wpp = DefaultWordsPerPage
	}
	page := 1
	for i := range chapters {
		words := len(strings.Fields(chapters[i].RawText))
		count := (words + wpp - 1) / wpp
		if count < 1 {
			count = 1
		}
		chapters[i].Pages = book.PageRange{Start: page, End: page + count - 1}
		page += count
	}
}

// nonStoryTitles are front/back-matter headings that never carry story
// content. Prologue, epilogue, and afterword are narrative and absent on
// purpose.
var nonStoryTitles = map[string]bool{
	"front matter":      true,
	"contents":          true,
	"table of contents": true,
	"copyright":         true,
	"acknowledgments":   true,
	"acknowledgements":  true,
	"dedication":        true,
	"preface":           true,
	"foreword":          true,
	"introduction":      true,
	"appendix":          true,
	"glossary":          true,
	"index":             true,
	"bibliography":      true,
	"about the author":  true,
	"author's note":     true,
	"title page":        true,
	"colophon":          true,
}

func (p *PlaintextParser) isStory(title string, words int) bool {
	folded := strings.ToLower(strings.Trim(strings.TrimSpace(title), ".:!? "))
	if nonStoryTitles[folded] {
		return false
	}
	floor := p.MinStoryWords
	if floor < 1 {
		floor = DefaultMinStoryWords
	}
	return words >= floor
}

type heading struct {
	line  int
	title string
}

var (
	chapterWordRe = regexp.MustCompile(`^(?i)(chapter|part|book)\s+([0-9]+|[a-z]+(?:-[a-z]+)?)\b[\s.:-]*(.*)$`)
	numeralOnlyRe = regexp.MustCompile(`^(?:([0-9]{1,4})|([IVXLCDM]{1,7}))\.?$`)
	markdownRe    = regexp.MustCompile(`^#{1,6}\s+(.+)$`)
	romanRe       = regexp.MustCompile(`^[ivxlcdm]+$`)
)

// findHeadings scans for chapter boundaries. Every heuristic requires a
// blank line (or file start) above the candidate so mid-paragraph lines
// never split a chapter.
func findHeadings(lines []string) []heading {
	var heads []heading
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || len(line) > maxHeadingLen {
			continue
		}
		if i > 0 && strings.TrimSpace(lines[i-1]) != "" {
			continue
		}
		blankBelow := i+1 >= len(lines) || strings.TrimSpace(lines[i+1]) == ""

		if m := markdownRe.FindStringSubmatch(line); m != nil {
			heads = append(heads, heading{line: i, title: strings.TrimSpace(m[1])})
			continue
		}
		if m := chapterWordRe.FindStringSubmatch(line); m != nil && isChapterNumber(m[2]) && titleTail(m[3]) {
			heads = append(heads, heading{line: i, title: line})
			continue
		}
		if !blankBelow {
			continue
		}
		if m := numeralOnlyRe.FindStringSubmatch(line); m != nil {
			heads = append(heads, heading{line: i, title: "Chapter " + strings.TrimSuffix(line, ".")})
			continue
		}
		if isKnownSectionTitle(line) || isAllCapsTitle(line) {
			heads = append(heads, heading{line: i, title: line})
		}
	}
	return heads
}

// numberWords covers spelled-out chapter numbers ("Chapter Twelve",
// "Chapter Twenty-One").
var numberWords = map[string]bool{
	"one": true, "two": true, "three": true, "four": true, "five": true,
	"six": true, "seven": true, "eight": true, "nine": true, "ten": true,
	"eleven": true, "twelve": true, "thirteen": true, "fourteen": true,
	"fifteen": true, "sixteen": true, "seventeen": true, "eighteen": true,
	"nineteen": true, "twenty": true, "thirty": true, "forty": true,
	"fifty": true, "sixty": true, "seventy": true, "eighty": true,
	"ninety": true, "hundred": true, "last": true, "final": true,
}

func isChapterNumber(s string) bool {
	s = strings.ToLower(s)
	if s == "" {
		return false
	}
	if s[0] >= '0' && s[0] <= '9' {
		return true
	}
	if romanRe.MatchString(s) {
		return true
	}
	for _, part := range strings.Split(s, "-") {
		if !numberWords[part] {
			return false
		}
	}
	return true
}

// titleTail accepts what may follow a chapter number: nothing, or a
// subtitle starting with an uppercase letter, digit, or quote. A
// lowercase continuation means the line was prose, not a heading.
func titleTail(rest string) bool {
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return true
	}
	r := rune(rest[0])
	return (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '"' || r == '\''
}

func isKnownSectionTitle(line string) bool {
	folded := strings.ToLower(strings.Trim(line, ".:!? "))
	if nonStoryTitles[folded] {
		return true
	}
	switch folded {
	case "prologue", "epilogue", "afterword":
		return true
	}
	return false
}

// isAllCapsTitle matches short shouted headings like "THE LOCKED DOOR".
func isAllCapsTitle(line string) bool {
	if strings.HasSuffix(line, ",") {
		return false
	}
	hasLetter := false
	for _, r := range line {
		if r >= 'a' && r <= 'z' {
			return false
		}
		if r >= 'A' && r <= 'Z' {
			hasLetter = true
		}
	}
	return hasLetter
}
