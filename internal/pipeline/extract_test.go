package pipeline

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/imaginize/internal/book"
	"github.com/jackzampolin/imaginize/internal/elements"
	"github.com/jackzampolin/imaginize/internal/providers"
	"github.com/jackzampolin/imaginize/internal/state"
)

func analyzedFixture(t *testing.T, rig *testRig) {
	t.Helper()
	rig.completedShard(t, book.PhaseAnalyze, &state.ChapterShard{
		ChapterIndex: 2,
		Title:        "The Notice Board",
		SceneConcepts: []book.SceneConcept{
			{
				ID: book.SceneID(2, 1), ChapterIndex: 2,
				SourceQuote:       "Hazel crossed the field.",
				VisualDescription: "A rabbit crossing a sunlit field.",
			},
		},
		Entities: []elements.Entity{
			{
				Type: elements.TypeCharacter, Name: "Hazel",
				Description: "A steady, unassuming rabbit.",
			},
		},
	})
}

func TestRunExtractRequiresAnalyzedChapters(t *testing.T) {
	rig := newTestRig(t, testChapters(), nil)

	err := rig.runner.RunExtract(context.Background())
	if err == nil {
		t.Fatal("RunExtract: expected missing-prerequisite error")
	}
	if !IsMissingPrerequisite(err) {
		t.Fatalf("RunExtract error = %v, want MissingPrerequisiteError", err)
	}
}

func TestRunExtractRecoversShardEntities(t *testing.T) {
	rig := newTestRig(t, testChapters(), nil)
	analyzedFixture(t, rig)

	// The shard carries Hazel but the catalog file was never written:
	// the crash window between merge and shard write.
	if err := rig.runner.RunExtract(context.Background()); err != nil {
		t.Fatalf("RunExtract: %v", err)
	}

	catalog, err := rig.store.LoadElements()
	if err != nil {
		t.Fatalf("LoadElements: %v", err)
	}
	if catalog.FindByAlias(elements.TypeCharacter, "Hazel") == nil {
		t.Fatal("catalog missing Hazel after recovery")
	}

	data, err := os.ReadFile(rig.dir.ElementsPath())
	if err != nil {
		t.Fatalf("ReadFile(Elements.md): %v", err)
	}
	if !strings.Contains(string(data), "Hazel") {
		t.Fatal("Elements.md missing Hazel")
	}

	st := rig.bookState(t)
	if got := st.PhaseStatus(book.PhaseExtract); got != book.StatusCompleted {
		t.Fatalf("extract phase status = %v, want completed", got)
	}
}

func TestRunExtractConsolidatesDescriptions(t *testing.T) {
	rig := newTestRig(t, testChapters(), func(o *Options) {
		o.Pipeline.AIDescriptionEnrichment = true
	})
	analyzedFixture(t, rig)

	// Seed a catalog entity that accumulated two enrichment fragments.
	catalog := elements.NewCatalog()
	now := time.Now().UTC()
	hazel := elements.Entity{
		Type: elements.TypeCharacter, Name: "Hazel",
		Description:     "A steady rabbit. Leads by listening. Limps after the raid.",
		FirstAppearance: elements.Appearance{BookID: "book-test", ChapterIndex: 2},
		Enrichments: []elements.Enrichment{
			{Detail: "Leads by listening.", SourceBook: "book-test", SourceChapter: 3, AddedAt: now},
			{Detail: "Limps after the raid.", SourceBook: "book-test", SourceChapter: 7, AddedAt: now},
		},
	}
	if _, err := catalog.MergeEntity(context.Background(), hazel, elements.MergeOptions{
		Strategy: elements.StrategyEnrich, BookID: "book-test", ChapterIndex: 2,
	}); err != nil {
		t.Fatalf("MergeEntity: %v", err)
	}
	if err := rig.store.SetElements(catalog); err != nil {
		t.Fatalf("SetElements: %v", err)
	}

	rig.chat.ResponseJSON = []byte(`{"description": "A steady rabbit who leads by listening and walks with a limp."}`)

	if err := rig.runner.RunExtract(context.Background()); err != nil {
		t.Fatalf("RunExtract: %v", err)
	}

	got, err := rig.store.LoadElements()
	if err != nil {
		t.Fatalf("LoadElements: %v", err)
	}
	e := got.FindByAlias(elements.TypeCharacter, "Hazel")
	if e == nil {
		t.Fatal("catalog missing Hazel")
	}
	if !strings.Contains(e.Description, "walks with a limp") {
		t.Fatalf("description not consolidated: %q", e.Description)
	}
	if got := rig.chat.RequestCount(); got != 1 {
		t.Fatalf("chat requests = %d, want 1 consolidation call", got)
	}
}

func TestRunExtractEnrichmentFailureKeepsStitchedText(t *testing.T) {
	rig := newTestRig(t, testChapters(), func(o *Options) {
		o.Pipeline.AIDescriptionEnrichment = true
	})
	analyzedFixture(t, rig)

	catalog := elements.NewCatalog()
	now := time.Now().UTC()
	stitched := "First detail. Second detail."
	if _, err := catalog.MergeEntity(context.Background(), elements.Entity{
		Type: elements.TypeCharacter, Name: "Hazel",
		Description:     stitched,
		FirstAppearance: elements.Appearance{BookID: "book-test", ChapterIndex: 2},
		Enrichments: []elements.Enrichment{
			{Detail: "First detail.", AddedAt: now},
			{Detail: "Second detail.", AddedAt: now},
		},
	}, elements.MergeOptions{Strategy: elements.StrategyEnrich, BookID: "book-test", ChapterIndex: 2}); err != nil {
		t.Fatalf("MergeEntity: %v", err)
	}
	if err := rig.store.SetElements(catalog); err != nil {
		t.Fatalf("SetElements: %v", err)
	}

	rig.chat.Errors = []error{errBadKey(), errBadKey()}

	if err := rig.runner.RunExtract(context.Background()); err != nil {
		t.Fatalf("RunExtract: consolidation failure must not fail the phase: %v", err)
	}

	got, err := rig.store.LoadElements()
	if err != nil {
		t.Fatalf("LoadElements: %v", err)
	}
	e := got.FindByAlias(elements.TypeCharacter, "Hazel")
	if e == nil || e.Description != stitched {
		t.Fatalf("description = %q, want stitched text kept", e.Description)
	}
}

func TestRunExtractExportsToSeries(t *testing.T) {
	bridge := &recordingBridge{}
	rig := newTestRig(t, testChapters(), func(o *Options) {
		o.Bridge = bridge
	})
	analyzedFixture(t, rig)

	if err := rig.runner.RunExtract(context.Background()); err != nil {
		t.Fatalf("RunExtract: %v", err)
	}
	if bridge.exports != 1 {
		t.Fatalf("bridge exports = %d, want 1", bridge.exports)
	}
	if bridge.lastExported == nil || bridge.lastExported.FindByAlias(elements.TypeCharacter, "Hazel") == nil {
		t.Fatal("bridge did not receive the consolidated catalog")
	}
}

func TestRunAnalyzeCallsImportHook(t *testing.T) {
	bridge := &recordingBridge{}
	rig := newTestRig(t, testChapters(), func(o *Options) {
		o.Bridge = bridge
	})

	if err := rig.runner.RunAnalyze(context.Background()); err != nil {
		t.Fatalf("RunAnalyze: %v", err)
	}
	if bridge.imports != 1 {
		t.Fatalf("bridge imports = %d, want 1", bridge.imports)
	}
}

func TestRunAnalyzeImportHookFailureIsNonFatal(t *testing.T) {
	bridge := &recordingBridge{importErr: errBadKey()}
	rig := newTestRig(t, testChapters(), func(o *Options) {
		o.Bridge = bridge
	})

	if err := rig.runner.RunAnalyze(context.Background()); err != nil {
		t.Fatalf("RunAnalyze: bridge failure must not abort the book: %v", err)
	}
	st := rig.bookState(t)
	if got := st.PhaseStatus(book.PhaseAnalyze); got != book.StatusCompleted {
		t.Fatalf("phase status = %v, want completed", got)
	}
}

func errBadKey() error {
	return &providers.AuthError{StatusCode: 401, Message: "bad key"}
}

// recordingBridge counts hook invocations for tests.
type recordingBridge struct {
	imports      int
	exports      int
	importErr    error
	exportErr    error
	lastExported *elements.Catalog
}

func (b *recordingBridge) ImportShared(ctx context.Context, cat *elements.Catalog) (int, error) {
	b.imports++
	return 0, b.importErr
}

func (b *recordingBridge) ExportBook(ctx context.Context, cat *elements.Catalog) (int, error) {
	b.exports++
	b.lastExported = cat
	return cat.Len(), b.exportErr
}
