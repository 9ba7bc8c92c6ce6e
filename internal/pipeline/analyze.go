package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackzampolin/imaginize/internal/book"
	"github.com/jackzampolin/imaginize/internal/elements"
	"github.com/jackzampolin/imaginize/internal/events"
	"github.com/jackzampolin/imaginize/internal/prompts/analyze"
	"github.com/jackzampolin/imaginize/internal/scheduler"
	"github.com/jackzampolin/imaginize/internal/state"
)

// RunAnalyze reads every pending story chapter through the model,
// recording scene concepts and entity mentions per chapter. Chapters
// run concurrently under the scheduler; each one merges its entities
// into the shared catalog under the catalog file lock, writes its
// shard, and marks the manifest, so a crash between chapters loses at
// most the chapter in flight.
func (r *Runner) RunAnalyze(ctx context.Context) error {
	st, err := r.loadOrInitState()
	if err != nil {
		return err
	}
	if r.opts.Force {
		if err := r.clearForced(book.PhaseAnalyze); err != nil {
			return fmt.Errorf("clear analyze state: %w", err)
		}
	}

	manifest, err := r.store.ReadManifest(book.PhaseAnalyze)
	if err != nil {
		return err
	}
	work := r.storyWorklist(func(ch book.ChapterSpec) bool {
		shard, err := r.store.ReadChapterShard(book.PhaseAnalyze, ch.Index)
		if err != nil {
			r.logger.Warn("unreadable analyze shard, chapter will rerun", "chapter", ch.Index, "error", err)
			return false
		}
		return chapterCompleted(shard, manifest, ch.Index)
	})

	catalog, err := r.store.LoadElements()
	if err != nil {
		return err
	}
	if r.opts.Bridge != nil {
		if n, err := r.opts.Bridge.ImportShared(ctx, catalog); err != nil {
			r.logger.Warn("series import failed, continuing without shared elements", "error", err)
		} else if n > 0 {
			r.logger.Info("imported series elements", "count", n)
		}
	}
	if n, err := r.ai.LoadResolutionCache(); err != nil {
		r.logger.Warn("resolution cache not loaded", "error", err)
	} else if n > 0 {
		r.logger.Debug("resolution cache loaded", "entries", n)
	}

	st.SetPhaseStatus(book.PhaseAnalyze, book.StatusInProgress)
	if err := r.store.SaveBookState(st); err != nil {
		return fmt.Errorf("save book state: %w", err)
	}
	r.bus.Publish(events.PhaseStart(r.opts.BookID, book.PhaseAnalyze, len(work)))

	tokensBefore := r.ai.Ledger().TotalTokens()

	sched := scheduler.New(r.schedulerConfig())
	chapterByTask := make(map[string]book.ChapterSpec, len(work))
	for _, ch := range work {
		ch := ch
		id := fmt.Sprintf("chapter-%d", ch.Index)
		chapterByTask[id] = ch
		err := sched.Submit(scheduler.Task{
			ID:    id,
			Label: fmt.Sprintf("analyze chapter %d", ch.Index),
			Fn: func(taskCtx context.Context) error {
				return r.analyzeChapter(taskCtx, ch, catalog)
			},
		})
		if err != nil {
			return err
		}
	}

	var outcome phaseOutcome
	for _, res := range sched.Run(ctx) {
		outcome.observe(res)
		ch, ok := chapterByTask[res.TaskID]
		if !ok {
			continue
		}
		switch res.Status {
		case scheduler.StatusFailed:
			r.recordChapterFailure(book.PhaseAnalyze, ch, res.Err)
		case scheduler.StatusCancelled:
			// Not started or abandoned between attempts. Clear the
			// in-progress mark so the next run picks it up cleanly.
			if _, err := r.store.UpdateManifest(book.PhaseAnalyze, func(m *state.Manifest) error {
				m.Forget(ch.Index)
				return nil
			}); err != nil {
				r.logger.Warn("manifest not updated for cancelled chapter", "chapter", ch.Index, "error", err)
			}
		}
	}

	r.saveResolutionCache()

	status, phaseErr := outcome.finalize(ctx, book.PhaseAnalyze, r.opts.Pipeline.ContinueOnFailure)
	errMsg := ""
	if phaseErr != nil {
		errMsg = phaseErr.Error()
	}
	delta := r.ai.Ledger().TotalTokens() - tokensBefore
	if err := r.finishPhase(st, book.PhaseAnalyze, status, delta, errMsg); err != nil {
		return err
	}
	return phaseErr
}

// analyzeChapter is the per-chapter task body: one unified model call,
// scene capping, entity merge, shard write, manifest mark.
func (r *Runner) analyzeChapter(ctx context.Context, ch book.ChapterSpec, catalog *elements.Catalog) error {
	if _, err := r.store.UpdateManifest(book.PhaseAnalyze, func(m *state.Manifest) error {
		m.MarkInProgress(ch.Index)
		return nil
	}); err != nil {
		return fmt.Errorf("mark chapter %d in progress: %w", ch.Index, err)
	}
	r.bus.Publish(events.ChapterStart(r.opts.BookID, book.PhaseAnalyze, ch.Index, ch.Title))

	elementContext := buildElementContext(
		catalog, r.opts.BookID, ch.Index,
		r.opts.Pipeline.ElementContextPerEntity, r.opts.Pipeline.ElementContextTokens,
	)
	numScenes := book.NumScenes(ch.PageCount(), r.opts.Pipeline.PagesPerImage)

	analysis, err := r.ai.AnalyzeChapterUnified(ctx, ch, elementContext, numScenes)
	if err != nil {
		return err
	}

	scenes := capScenes(analysis.Scenes, numScenes, r.opts.Pipeline.SceneOverageFactor)
	concepts := make([]book.SceneConcept, 0, len(scenes))
	for i, sc := range scenes {
		concepts = append(concepts, book.SceneConcept{
			ID:                book.SceneID(ch.Index, i+1),
			ChapterIndex:      ch.Index,
			PageRef:           sc.PageRef,
			SourceQuote:       sc.SourceQuote,
			VisualDescription: sc.VisualDescription,
		})
	}

	candidates := make([]elements.Entity, 0, len(analysis.Entities))
	for _, ae := range analysis.Entities {
		candidates = append(candidates, entityFromAnalysis(ae))
	}
	if err := r.mergeChapterEntities(ctx, ch.Index, catalog, candidates); err != nil {
		return err
	}

	now := time.Now().UTC()
	shard := &state.ChapterShard{
		ChapterIndex:  ch.Index,
		Title:         ch.Title,
		Status:        book.StatusCompleted,
		SceneConcepts: concepts,
		Entities:      candidates,
		TokensUsed:    int64(analysis.TokensUsed),
		CompletedAt:   &now,
	}
	if err := r.store.WriteChapterShard(book.PhaseAnalyze, shard); err != nil {
		return fmt.Errorf("write analyze shard %d: %w", ch.Index, err)
	}
	if _, err := r.store.UpdateManifest(book.PhaseAnalyze, func(m *state.Manifest) error {
		m.MarkCompleted(ch.Index)
		return nil
	}); err != nil {
		return fmt.Errorf("mark chapter %d completed: %w", ch.Index, err)
	}

	r.bus.Publish(events.ChapterComplete(
		r.opts.BookID, book.PhaseAnalyze, ch.Index,
		fmt.Sprintf("%d scenes, %d entities", len(concepts), len(candidates)),
	))
	return nil
}

// mergeChapterEntities folds the chapter's candidates into the shared
// catalog and persists it, all under the catalog file lock so another
// process sharing the book directory cannot interleave.
func (r *Runner) mergeChapterEntities(ctx context.Context, chapter int, catalog *elements.Catalog, candidates []elements.Entity) error {
	if len(candidates) == 0 {
		return nil
	}
	lock, err := r.store.AcquireElementsLock()
	if err != nil {
		return fmt.Errorf("lock elements: %w", err)
	}
	defer lock.Release()

	opts := elements.MergeOptions{
		Strategy:      elements.StrategyEnrich,
		BookID:        r.opts.BookID,
		ChapterIndex:  chapter,
		MinConfidence: r.opts.Pipeline.EntityMatchConfidence,
		Resolver:      r.ai,
	}
	for _, cand := range candidates {
		if _, err := catalog.MergeEntity(ctx, cand, opts); err != nil {
			return fmt.Errorf("merge entity %q: %w", cand.Name, err)
		}
	}
	if err := r.store.SetElements(catalog); err != nil {
		return fmt.Errorf("save elements: %w", err)
	}
	return nil
}

// recordChapterFailure writes the failed shard and manifest entry and
// announces the failure. Persistence errors here are logged, not
// returned: the phase outcome already carries the chapter error.
func (r *Runner) recordChapterFailure(phase book.Phase, ch book.ChapterSpec, cause error) {
	shard := &state.ChapterShard{
		ChapterIndex: ch.Index,
		Title:        ch.Title,
		Status:       book.StatusFailed,
	}
	if cause != nil {
		shard.Error = cause.Error()
	}
	if err := r.store.WriteChapterShard(phase, shard); err != nil {
		r.logger.Warn("failed shard not written", "phase", phase, "chapter", ch.Index, "error", err)
	}
	if _, err := r.store.UpdateManifest(phase, func(m *state.Manifest) error {
		m.MarkFailed(ch.Index)
		return nil
	}); err != nil {
		r.logger.Warn("manifest not updated for failed chapter", "phase", phase, "chapter", ch.Index, "error", err)
	}
	r.bus.Publish(events.ChapterFailed(r.opts.BookID, phase, ch.Index, cause))
}

// capScenes enforces the per-chapter scene budget with headroom: the
// model may return up to overage times the target before trimming, and
// the trim drops the scenes with the thinnest source quotes while
// keeping narrative order for the survivors.
func capScenes(scenes []analyze.Scene, target int, overage float64) []analyze.Scene {
	if target < 1 {
		target = 1
	}
	if overage < 1 {
		overage = 1
	}
	limit := int(float64(target) * overage)
	if limit < target {
		limit = target
	}
	if len(scenes) <= limit {
		return scenes
	}

	type ranked struct {
		pos   int
		scene analyze.Scene
	}
	order := make([]ranked, len(scenes))
	for i, sc := range scenes {
		order[i] = ranked{pos: i, scene: sc}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return len(order[i].scene.SourceQuote) > len(order[j].scene.SourceQuote)
	})
	order = order[:limit]
	sort.Slice(order, func(i, j int) bool { return order[i].pos < order[j].pos })

	out := make([]analyze.Scene, len(order))
	for i, rk := range order {
		out[i] = rk.scene
	}
	return out
}

// entityFromAnalysis converts a model-reported entity into a catalog
// candidate. Appearance bookkeeping happens in the merge.
func entityFromAnalysis(ae analyze.Entity) elements.Entity {
	e := elements.Entity{
		Type:        elements.ParseType(ae.Type),
		Name:        ae.Name,
		Description: ae.Description,
		Aliases:     append([]string(nil), ae.Aliases...),
	}
	if ae.Quote != nil && ae.Quote.Text != "" {
		e.Quotes = []elements.Quote{{Text: ae.Quote.Text, PageRef: ae.Quote.PageRef}}
	}
	return e
}
