package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackzampolin/imaginize/internal/book"
	"github.com/jackzampolin/imaginize/internal/elements"
	"github.com/jackzampolin/imaginize/internal/providers"
	"github.com/jackzampolin/imaginize/internal/state"
)

// illustrateFixture leaves the book the way a completed extract run
// does: analyze shards with scenes, both earlier phases marked
// completed in the book state.
func illustrateFixture(t *testing.T, rig *testRig) {
	t.Helper()

	rig.completedShard(t, book.PhaseAnalyze, &state.ChapterShard{
		ChapterIndex: 2,
		Title:        "The Notice Board",
		SceneConcepts: []book.SceneConcept{
			{
				ID: book.SceneID(2, 1), ChapterIndex: 2,
				SourceQuote:       "Hazel crossed the field.",
				VisualDescription: "A rabbit crossing a sunlit field toward a notice board.",
			},
			{
				ID: book.SceneID(2, 2), ChapterIndex: 2,
				SourceQuote:       "Fiver trembled at the sight.",
				VisualDescription: "A small rabbit staring wide-eyed at a wooden sign.",
			},
		},
	})
	rig.completedShard(t, book.PhaseAnalyze, &state.ChapterShard{
		ChapterIndex: 3,
		Title:        "The Crossing",
		SceneConcepts: []book.SceneConcept{
			{
				ID: book.SceneID(3, 1), ChapterIndex: 3,
				SourceQuote:       "The river lay wide and grey.",
				VisualDescription: "Two rabbits at the bank of a wide grey river.",
			},
		},
	})

	st := state.NewBookState("book-test", "Test Book", 23)
	st.SetPhaseStatus(book.PhaseAnalyze, book.StatusCompleted)
	st.SetPhaseStatus(book.PhaseExtract, book.StatusCompleted)
	if err := rig.store.SaveBookState(st); err != nil {
		t.Fatalf("SaveBookState: %v", err)
	}
}

func TestRunIllustrateRequiresExtract(t *testing.T) {
	rig := newTestRig(t, testChapters(), nil)

	err := rig.runner.RunIllustrate(context.Background())
	if !IsMissingPrerequisite(err) {
		t.Fatalf("RunIllustrate without extract: got %v, want missing prerequisite", err)
	}
	if rig.image.RequestCount() != 0 {
		t.Fatalf("image requests = %d, want 0", rig.image.RequestCount())
	}
}

func TestRunIllustrateGeneratesImages(t *testing.T) {
	rig := newTestRig(t, testChapters(), nil)
	illustrateFixture(t, rig)

	if err := rig.runner.RunIllustrate(context.Background()); err != nil {
		t.Fatalf("RunIllustrate: %v", err)
	}
	if got := rig.image.RequestCount(); got != 3 {
		t.Fatalf("image requests = %d, want 3", got)
	}

	for _, name := range []string{
		"chapter_2_scene_1.png",
		"chapter_2_scene_2.png",
		"chapter_3_scene_1.png",
	} {
		data, err := os.ReadFile(filepath.Join(rig.dir.Path(), name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if len(data) == 0 {
			t.Fatalf("%s is empty", name)
		}
	}

	shard, err := rig.store.ReadChapterShard(book.PhaseIllustrate, 2)
	if err != nil {
		t.Fatalf("ReadChapterShard: %v", err)
	}
	if shard == nil || shard.Status != book.StatusCompleted {
		t.Fatalf("chapter 2 illustrate shard = %+v, want completed", shard)
	}
	for _, sc := range shard.SceneConcepts {
		if sc.GeneratedImagePath == "" {
			t.Fatalf("scene %s has no image path", sc.ID)
		}
	}

	manifest, err := rig.store.ReadManifest(book.PhaseIllustrate)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if !manifest.IsCompleted(2) || !manifest.IsCompleted(3) {
		t.Fatal("illustrate manifest missing completed chapters")
	}

	st := rig.bookState(t)
	if got := st.PhaseStatus(book.PhaseIllustrate); got != book.StatusCompleted {
		t.Fatalf("illustrate status = %v, want completed", got)
	}

	listing, err := os.ReadFile(rig.dir.ChaptersPath())
	if err != nil {
		t.Fatalf("read chapters listing: %v", err)
	}
	if !strings.Contains(string(listing), "chapter_2_scene_1.png") {
		t.Fatal("chapters listing does not reference the generated image")
	}
}

func TestRunIllustrateResumeSkipsExistingImages(t *testing.T) {
	rig := newTestRig(t, testChapters(), nil)
	illustrateFixture(t, rig)

	if err := rig.runner.RunIllustrate(context.Background()); err != nil {
		t.Fatalf("first RunIllustrate: %v", err)
	}
	if err := rig.runner.RunIllustrate(context.Background()); err != nil {
		t.Fatalf("second RunIllustrate: %v", err)
	}
	if got := rig.image.RequestCount(); got != 3 {
		t.Fatalf("image requests after rerun = %d, want 3", got)
	}
}

func TestRunIllustrateRegeneratesVanishedImage(t *testing.T) {
	rig := newTestRig(t, testChapters(), nil)
	illustrateFixture(t, rig)

	if err := rig.runner.RunIllustrate(context.Background()); err != nil {
		t.Fatalf("first RunIllustrate: %v", err)
	}
	victim := filepath.Join(rig.dir.Path(), "chapter_2_scene_2.png")
	if err := os.Remove(victim); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if err := rig.runner.RunIllustrate(context.Background()); err != nil {
		t.Fatalf("second RunIllustrate: %v", err)
	}
	if got := rig.image.RequestCount(); got != 4 {
		t.Fatalf("image requests = %d, want 4 (one regeneration)", got)
	}
	if _, err := os.Stat(victim); err != nil {
		t.Fatalf("regenerated image missing: %v", err)
	}
}

func TestRunIllustrateSceneFailureContinues(t *testing.T) {
	rig := newTestRig(t, testChapters(), nil)
	illustrateFixture(t, rig)
	rig.image.GenerateFn = func(ctx context.Context, req *providers.ImageRequest) (*providers.ImageResult, error) {
		if strings.Contains(req.Prompt, "grey river") {
			return nil, &providers.AuthError{StatusCode: 401, Message: "bad key"}
		}
		return &providers.ImageResult{PNG: []byte("\x89PNG\r\n\x1a\n"), Provider: "mock"}, nil
	}

	if err := rig.runner.RunIllustrate(context.Background()); err != nil {
		t.Fatalf("RunIllustrate with continue_on_failure: %v", err)
	}

	shard, err := rig.store.ReadChapterShard(book.PhaseIllustrate, 3)
	if err != nil {
		t.Fatalf("ReadChapterShard: %v", err)
	}
	if shard == nil || shard.Status != book.StatusFailed {
		t.Fatalf("chapter 3 shard = %+v, want failed", shard)
	}
	if len(shard.SceneConcepts) != 1 || !shard.SceneConcepts[0].Failed {
		t.Fatalf("scene not marked failed: %+v", shard.SceneConcepts)
	}

	manifest, err := rig.store.ReadManifest(book.PhaseIllustrate)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if !manifest.IsFailed(3) {
		t.Fatal("chapter 3 not marked failed in manifest")
	}
	if !manifest.IsCompleted(2) {
		t.Fatal("chapter 2 should still complete")
	}

	st := rig.bookState(t)
	if got := st.PhaseStatus(book.PhaseIllustrate); got != book.StatusCompleted {
		t.Fatalf("illustrate status = %v, want completed", got)
	}
}

func TestRunIllustrateSceneFailureStopsPhase(t *testing.T) {
	rig := newTestRig(t, testChapters(), func(o *Options) {
		o.Pipeline.ContinueOnFailure = false
	})
	illustrateFixture(t, rig)
	rig.image.Errors = []error{
		&providers.AuthError{StatusCode: 401, Message: "bad key"},
		&providers.AuthError{StatusCode: 401, Message: "bad key"},
		&providers.AuthError{StatusCode: 401, Message: "bad key"},
	}

	err := rig.runner.RunIllustrate(context.Background())
	if err == nil {
		t.Fatal("RunIllustrate: expected failure with continue_on_failure=false")
	}
	st := rig.bookState(t)
	if got := st.PhaseStatus(book.PhaseIllustrate); got != book.StatusFailed {
		t.Fatalf("illustrate status = %v, want failed", got)
	}
}

func TestRunIllustrateSelectionAndLimit(t *testing.T) {
	rig := newTestRig(t, testChapters(), func(o *Options) {
		o.Selection = []int{3}
	})
	illustrateFixture(t, rig)

	if err := rig.runner.RunIllustrate(context.Background()); err != nil {
		t.Fatalf("RunIllustrate: %v", err)
	}
	if got := rig.image.RequestCount(); got != 1 {
		t.Fatalf("image requests = %d, want 1 (only chapter 3 selected)", got)
	}
	if _, err := os.Stat(filepath.Join(rig.dir.Path(), "chapter_2_scene_1.png")); err == nil {
		t.Fatal("chapter 2 image generated despite selection")
	}
}

func TestBuildScenePrompt(t *testing.T) {
	catalog := seedCatalog(t,
		elements.Entity{
			Type: elements.TypeCharacter, Name: "Hazel",
			Description:     "A steady, unassuming rabbit.",
			FirstAppearance: elements.Appearance{BookID: "book-test", ChapterIndex: 1},
		},
		elements.Entity{
			Type: elements.TypePlace, Name: "Watership Down",
			Description:     "A high chalk hill with a beech hanger.",
			FirstAppearance: elements.Appearance{BookID: "book-test", ChapterIndex: 1},
		},
		elements.Entity{
			Type: elements.TypeItem, Name: "Notice Board",
			Description:     "A wooden sign on two posts.",
			FirstAppearance: elements.Appearance{BookID: "book-test", ChapterIndex: 1},
		},
	)
	scene := book.SceneConcept{
		SourceQuote:       "Hazel looked up at Watership Down and the Notice Board.",
		VisualDescription: "A rabbit on a hillside.",
	}

	prompt := buildScenePrompt(catalog, scene, "Storybook watercolor.", 200)
	if !strings.HasPrefix(prompt, "Storybook watercolor.") {
		t.Fatalf("prompt missing style preamble:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Character details:") ||
		!strings.Contains(prompt, "Hazel: A steady, unassuming rabbit.") {
		t.Fatalf("prompt missing character details:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Place details:") ||
		!strings.Contains(prompt, "Watership Down: A high chalk hill") {
		t.Fatalf("prompt missing place details:\n%s", prompt)
	}
	if strings.Contains(prompt, "wooden sign on two posts") {
		t.Fatalf("item descriptions do not belong in the prompt:\n%s", prompt)
	}
}

func TestBuildScenePromptWithoutCatalog(t *testing.T) {
	scene := book.SceneConcept{
		SourceQuote:       "The river lay wide and grey.",
		VisualDescription: "Two rabbits at a riverbank.",
	}
	prompt := buildScenePrompt(nil, scene, "", 200)
	if !strings.Contains(prompt, "Two rabbits at a riverbank.") {
		t.Fatalf("prompt missing scene description:\n%s", prompt)
	}
	if strings.Contains(prompt, "Character details:") {
		t.Fatalf("empty catalog must not add detail blocks:\n%s", prompt)
	}
}

func TestTruncateDetail(t *testing.T) {
	long := strings.Repeat("rabbit burrow ", 50)
	got := truncateDetail(long, 10)
	if len(got) > 10*4+3 {
		t.Fatalf("truncateDetail too long: %d chars", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("truncateDetail missing ellipsis: %q", got)
	}
	if short := truncateDetail("a small rabbit", 10); short != "a small rabbit" {
		t.Fatalf("short strings must pass through, got %q", short)
	}
}
