package book

import (
	"strings"
	"testing"
)

func TestDeriveID(t *testing.T) {
	id1 := DeriveID("/books/A Wizard of Earthsea.epub")
	id2 := DeriveID("/books/A Wizard of Earthsea.epub")
	if id1 != id2 {
		t.Fatalf("expected stable ID, got %q and %q", id1, id2)
	}
	if !strings.HasPrefix(id1, "a_wizard_of_earthsea-") {
		t.Fatalf("unexpected ID prefix: %q", id1)
	}

	other := DeriveID("/elsewhere/A Wizard of Earthsea.epub")
	if other == id1 {
		t.Fatalf("expected distinct IDs for distinct paths, got %q twice", id1)
	}
}

func TestSceneID(t *testing.T) {
	if got := SceneID(3, 2); got != "ch3_scene_2" {
		t.Fatalf("expected ch3_scene_2, got %q", got)
	}
}

func TestNumScenes(t *testing.T) {
	cases := []struct {
		pages, perImage, want int
	}{
		{10, 10, 1},
		{11, 10, 2},
		{297, 10, 30},
		{1, 10, 1},
		{0, 10, 1},
		{5, 0, 5},
	}
	for _, tc := range cases {
		if got := NumScenes(tc.pages, tc.perImage); got != tc.want {
			t.Errorf("NumScenes(%d, %d) = %d, want %d", tc.pages, tc.perImage, got, tc.want)
		}
	}
}

func TestParsePageRef(t *testing.T) {
	t.Run("single page", func(t *testing.T) {
		r, ok := ParsePageRef("7")
		if !ok {
			t.Fatal("expected parse to succeed")
		}
		if r.Start != 7 || r.End != 7 {
			t.Fatalf("expected 7-7, got %d-%d", r.Start, r.End)
		}
	})

	t.Run("range", func(t *testing.T) {
		r, ok := ParsePageRef("5-10")
		if !ok {
			t.Fatal("expected parse to succeed")
		}
		if r.Start != 5 || r.End != 10 {
			t.Fatalf("expected 5-10, got %d-%d", r.Start, r.End)
		}
		if r.Count() != 6 {
			t.Fatalf("expected count 6, got %d", r.Count())
		}
	})

	t.Run("unparseable", func(t *testing.T) {
		for _, s := range []string{"", "abc", "10-5", "0", "-3"} {
			if _, ok := ParsePageRef(s); ok {
				t.Errorf("expected %q to fail parsing", s)
			}
		}
	})
}

func TestParseChapterSelection(t *testing.T) {
	t.Run("ranges and singles", func(t *testing.T) {
		got, err := ParseChapterSelection("1-5,10")
		if err != nil {
			t.Fatalf("ParseChapterSelection() error = %v", err)
		}
		want := []int{1, 2, 3, 4, 5, 10}
		if len(got) != len(want) {
			t.Fatalf("expected %v, got %v", want, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("expected %v, got %v", want, got)
			}
		}
	})

	t.Run("deduplicates and sorts", func(t *testing.T) {
		got, err := ParseChapterSelection("10,1-3,2")
		if err != nil {
			t.Fatalf("ParseChapterSelection() error = %v", err)
		}
		want := []int{1, 2, 3, 10}
		if len(got) != len(want) {
			t.Fatalf("expected %v, got %v", want, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("expected %v, got %v", want, got)
			}
		}
	})

	t.Run("empty means all", func(t *testing.T) {
		got, err := ParseChapterSelection("")
		if err != nil {
			t.Fatalf("ParseChapterSelection() error = %v", err)
		}
		if got != nil {
			t.Fatalf("expected nil for empty selection, got %v", got)
		}
	})

	t.Run("rejects garbage", func(t *testing.T) {
		for _, expr := range []string{"abc", "5-2", "0", "1-"} {
			if _, err := ParseChapterSelection(expr); err == nil {
				t.Errorf("expected error for %q", expr)
			}
		}
	})
}
