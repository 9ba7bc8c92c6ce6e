package book

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// PageRange is an inclusive logical page span within the source book.
// A zero Start means the range is unknown.
type PageRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Count returns the number of pages in the range, or 0 when unknown.
func (r PageRange) Count() int {
	if r.Start < 1 {
		return 0
	}
	if r.End < r.Start {
		return 1
	}
	return r.End - r.Start + 1
}

// String renders the range as "N" or "N-M".
func (r PageRange) String() string {
	if r.Start < 1 {
		return ""
	}
	if r.End <= r.Start {
		return strconv.Itoa(r.Start)
	}
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// ParsePageRef parses a model-supplied page reference, accepting either a
// single integer ("7") or a span ("5-10"). Anything else returns ok=false;
// callers keep the raw string and tolerate it.
func ParsePageRef(s string) (PageRange, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PageRange{}, false
	}
	if start, end, found := strings.Cut(s, "-"); found {
		a, err1 := strconv.Atoi(strings.TrimSpace(start))
		b, err2 := strconv.Atoi(strings.TrimSpace(end))
		if err1 != nil || err2 != nil || a < 1 || b < a {
			return PageRange{}, false
		}
		return PageRange{Start: a, End: b}, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return PageRange{}, false
	}
	return PageRange{Start: n, End: n}, true
}

// ParseChapterSelection parses a chapter-selection expression such as
// "1-5,10" into a sorted, deduplicated list of chapter indices.
// An empty expression returns nil (meaning: all chapters).
func ParseChapterSelection(expr string) ([]int, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}

	seen := make(map[int]bool)
	var out []int
	add := func(n int) {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}

	for _, part := range strings.Split(expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if start, end, found := strings.Cut(part, "-"); found {
			a, err := strconv.Atoi(strings.TrimSpace(start))
			if err != nil {
				return nil, fmt.Errorf("invalid chapter selection %q: %w", part, err)
			}
			b, err := strconv.Atoi(strings.TrimSpace(end))
			if err != nil {
				return nil, fmt.Errorf("invalid chapter selection %q: %w", part, err)
			}
			if a < 1 || b < a {
				return nil, fmt.Errorf("invalid chapter range %q: start must be >= 1 and end >= start", part)
			}
			for n := a; n <= b; n++ {
				add(n)
			}
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid chapter selection %q: %w", part, err)
		}
		if n < 1 {
			return nil, fmt.Errorf("invalid chapter %d: chapters are numbered from 1", n)
		}
		add(n)
	}

	sort.Ints(out)
	return out, nil
}
