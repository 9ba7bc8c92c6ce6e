package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackzampolin/imaginize/internal/atomicfile"
	"github.com/jackzampolin/imaginize/internal/book"
	"github.com/jackzampolin/imaginize/internal/elements"
	"github.com/jackzampolin/imaginize/internal/events"
	"github.com/jackzampolin/imaginize/internal/home"
	"github.com/jackzampolin/imaginize/internal/prompts/illustrate"
	"github.com/jackzampolin/imaginize/internal/render"
	"github.com/jackzampolin/imaginize/internal/scheduler"
	"github.com/jackzampolin/imaginize/internal/state"
)

// chapterCanvas is the in-memory illustrate progress for one chapter.
// scenes is the working copy persisted to the shard after every scene;
// pending counts scenes still needing an image.
type chapterCanvas struct {
	index   int
	title   string
	scenes  []book.SceneConcept
	pending int
	failed  bool
	started bool

	// workable marks chapters selected for this run. Canvases outside
	// the selection still feed the chapters listing.
	workable bool

	// writeStatus overrides the shard status on the final write for
	// chapters that end failed or cancelled.
	writeStatus book.Status
}

// illustrateRun owns the shared mutable state of one illustrate pass.
// The mutex serializes scene completion: canvas updates, shard writes,
// manifest marks, and the chapters listing render.
type illustrateRun struct {
	r        *Runner
	mu       sync.Mutex
	canvases map[int]*chapterCanvas
}

// RunIllustrate generates an image for every pending scene concept.
// Scenes are the scheduling unit so a wide chapter does not serialize
// behind a narrow one; chapter shards update after every scene, so a
// crash re-generates at most the images in flight. Requires a completed
// extract phase.
func (r *Runner) RunIllustrate(ctx context.Context) error {
	st, err := r.loadOrInitState()
	if err != nil {
		return err
	}
	if st.PhaseStatus(book.PhaseExtract) != book.StatusCompleted {
		return &MissingPrerequisiteError{
			Phase:  book.PhaseIllustrate,
			Reason: "extract has not completed",
			Hint:   "run extract first",
		}
	}
	if r.opts.Force {
		if err := r.clearForced(book.PhaseIllustrate); err != nil {
			return fmt.Errorf("clear illustrate state: %w", err)
		}
	}

	catalog, err := r.store.LoadElements()
	if err != nil {
		return err
	}
	run := &illustrateRun{r: r, canvases: make(map[int]*chapterCanvas)}
	if err := run.loadCanvases(); err != nil {
		return err
	}
	queued := run.prepare()

	st.SetPhaseStatus(book.PhaseIllustrate, book.StatusInProgress)
	if err := r.store.SaveBookState(st); err != nil {
		return fmt.Errorf("save book state: %w", err)
	}
	r.bus.Publish(events.PhaseStart(r.opts.BookID, book.PhaseIllustrate, queued))

	tokensBefore := r.ai.Ledger().TotalTokens()

	type sceneRef struct {
		chapter int
		scene   int // position in canvas.scenes
	}
	sched := scheduler.New(r.schedulerConfig())
	refByTask := make(map[string]sceneRef)
	for _, canvas := range run.sortedCanvases() {
		if !canvas.workable {
			continue
		}
		for i := range canvas.scenes {
			if canvas.scenes[i].GeneratedImagePath != "" {
				continue
			}
			canvas, i := canvas, i
			id := fmt.Sprintf("ch%d-scene%d", canvas.index, i+1)
			refByTask[id] = sceneRef{chapter: canvas.index, scene: i}
			err := sched.Submit(scheduler.Task{
				ID:    id,
				Label: fmt.Sprintf("illustrate chapter %d scene %d", canvas.index, i+1),
				Fn: func(taskCtx context.Context) error {
					return run.illustrateScene(taskCtx, catalog, canvas, i)
				},
			})
			if err != nil {
				return err
			}
		}
	}

	var outcome phaseOutcome
	for _, res := range sched.Run(ctx) {
		outcome.observe(res)
		ref, ok := refByTask[res.TaskID]
		if res.Status == scheduler.StatusFailed && ok {
			run.failScene(ref.chapter, ref.scene, res.Err)
		}
	}
	run.finalizeChapters(ctx.Err() != nil)

	status, phaseErr := outcome.finalize(ctx, book.PhaseIllustrate, r.opts.Pipeline.ContinueOnFailure)
	errMsg := ""
	if phaseErr != nil {
		errMsg = phaseErr.Error()
	}
	delta := r.ai.Ledger().TotalTokens() - tokensBefore
	if err := r.finishPhase(st, book.PhaseIllustrate, status, delta, errMsg); err != nil {
		return err
	}
	return phaseErr
}

// loadCanvases builds a canvas for every chapter with a completed
// analysis. Prior illustrate progress carries over per scene when the
// image file still exists; a failed mark from a previous run clears so
// the scene retries.
func (ir *illustrateRun) loadCanvases() error {
	r := ir.r
	analyzeManifest, err := r.store.ReadManifest(book.PhaseAnalyze)
	if err != nil {
		return err
	}
	shards, err := r.store.ListChapterShards(book.PhaseAnalyze)
	if err != nil {
		return err
	}

	selected := make(map[int]bool, len(r.opts.Selection))
	for _, n := range r.opts.Selection {
		selected[n] = true
	}

	for _, shard := range shards {
		if !chapterCompleted(shard, analyzeManifest, shard.ChapterIndex) {
			continue
		}
		canvas := &chapterCanvas{
			index:    shard.ChapterIndex,
			title:    shard.Title,
			scenes:   append([]book.SceneConcept(nil), shard.SceneConcepts...),
			workable: len(selected) == 0 || selected[shard.ChapterIndex],
		}

		prior, err := r.store.ReadChapterShard(book.PhaseIllustrate, shard.ChapterIndex)
		if err != nil {
			r.logger.Warn("unreadable illustrate shard, chapter restarts", "chapter", shard.ChapterIndex, "error", err)
		}
		var done map[string]string
		if prior != nil {
			done = make(map[string]string, len(prior.SceneConcepts))
			for _, sc := range prior.SceneConcepts {
				if sc.GeneratedImagePath != "" {
					done[sc.ID] = sc.GeneratedImagePath
				}
			}
		}
		for i := range canvas.scenes {
			sc := &canvas.scenes[i]
			sc.Failed = false
			if name, ok := done[sc.ID]; ok && ir.imageExists(name) {
				sc.GeneratedImagePath = name
			} else {
				sc.GeneratedImagePath = ""
				canvas.pending++
			}
		}
		ir.canvases[canvas.index] = canvas
	}
	return nil
}

// prepare applies the run limit, settles chapters that are already
// done, and returns the number of chapters with scheduled work.
func (ir *illustrateRun) prepare() int {
	r := ir.r
	workable := 0
	for _, canvas := range ir.sortedCanvases() {
		if !canvas.workable {
			continue
		}
		if canvas.pending == 0 {
			ir.settleCompleted(canvas)
			canvas.workable = false
			continue
		}
		if r.opts.Limit > 0 && workable >= r.opts.Limit {
			canvas.workable = false
			continue
		}
		workable++
	}
	return workable
}

// settleCompleted records a chapter whose every scene already has an
// image, without announcing it. Covers zero-scene chapters and reruns
// over finished work.
func (ir *illustrateRun) settleCompleted(canvas *chapterCanvas) {
	r := ir.r
	prior, err := r.store.ReadChapterShard(book.PhaseIllustrate, canvas.index)
	if err != nil || prior == nil || prior.Status != book.StatusCompleted {
		now := time.Now().UTC()
		shard := &state.ChapterShard{
			ChapterIndex:  canvas.index,
			Title:         canvas.title,
			Status:        book.StatusCompleted,
			SceneConcepts: canvas.scenes,
			CompletedAt:   &now,
		}
		if err := r.store.WriteChapterShard(book.PhaseIllustrate, shard); err != nil {
			r.logger.Warn("illustrate shard not written", "chapter", canvas.index, "error", err)
		}
	}
	if _, err := r.store.UpdateManifest(book.PhaseIllustrate, func(m *state.Manifest) error {
		m.MarkCompleted(canvas.index)
		return nil
	}); err != nil {
		r.logger.Warn("manifest not updated", "chapter", canvas.index, "error", err)
	}
}

// illustrateScene is the per-scene task body: compose the prompt from
// the scene concept and catalog context, generate the image, write it
// atomically, then record completion.
func (ir *illustrateRun) illustrateScene(ctx context.Context, catalog *elements.Catalog, canvas *chapterCanvas, sceneIdx int) error {
	r := ir.r
	ir.ensureStarted(canvas)

	scene := canvas.scenes[sceneIdx]
	prompt := buildScenePrompt(catalog, scene, r.ai.PromptText(illustrate.PromptKey), r.opts.Pipeline.ElementContextPerEntity)

	png, err := r.ai.GenerateImage(ctx, prompt, r.opts.Pipeline.ImageSize)
	if err != nil {
		return err
	}

	slug := ""
	if r.opts.Pipeline.UseChapterSlug {
		slug = canvas.title
	}
	name := home.ImageFileName(canvas.index, sceneIdx+1, slug)
	if err := atomicfile.Write(filepath.Join(r.opts.Dir.Path(), name), png); err != nil {
		return fmt.Errorf("write image %s: %w", name, err)
	}

	ir.completeScene(canvas, sceneIdx, name)
	return nil
}

// ensureStarted marks the chapter in progress on its first scene.
func (ir *illustrateRun) ensureStarted(canvas *chapterCanvas) {
	ir.mu.Lock()
	defer ir.mu.Unlock()
	if canvas.started {
		return
	}
	canvas.started = true
	r := ir.r
	if _, err := r.store.UpdateManifest(book.PhaseIllustrate, func(m *state.Manifest) error {
		m.MarkInProgress(canvas.index)
		return nil
	}); err != nil {
		r.logger.Warn("manifest not updated", "chapter", canvas.index, "error", err)
	}
	r.bus.Publish(events.ChapterStart(r.opts.BookID, book.PhaseIllustrate, canvas.index, canvas.title))
}

// completeScene records one generated image: annotates the canvas,
// persists the shard, marks the manifest when the chapter is done, and
// refreshes the chapters listing.
func (ir *illustrateRun) completeScene(canvas *chapterCanvas, sceneIdx int, fileName string) {
	r := ir.r
	ir.mu.Lock()
	canvas.scenes[sceneIdx].GeneratedImagePath = fileName
	canvas.scenes[sceneIdx].Failed = false
	canvas.pending--
	chapterDone := canvas.pending == 0 && !canvas.failed

	ir.writeCanvasShard(canvas, chapterDone)
	if chapterDone {
		if _, err := r.store.UpdateManifest(book.PhaseIllustrate, func(m *state.Manifest) error {
			m.MarkCompleted(canvas.index)
			return nil
		}); err != nil {
			r.logger.Warn("manifest not updated", "chapter", canvas.index, "error", err)
		}
	}
	ir.writeChaptersListing()
	ir.mu.Unlock()

	r.bus.Publish(events.ImageComplete(r.opts.BookID, canvas.index, sceneIdx+1, fileName))
	if chapterDone {
		images := 0
		for _, sc := range canvas.scenes {
			if sc.GeneratedImagePath != "" {
				images++
			}
		}
		r.bus.Publish(events.ChapterComplete(
			r.opts.BookID, book.PhaseIllustrate, canvas.index,
			fmt.Sprintf("%d images", images),
		))
	}
}

// failScene marks a scene as failed after its retry budget ran out.
// Chapter-level consequences land in finalizeChapters.
func (ir *illustrateRun) failScene(chapter, sceneIdx int, cause error) {
	ir.mu.Lock()
	defer ir.mu.Unlock()
	canvas, ok := ir.canvases[chapter]
	if !ok || sceneIdx >= len(canvas.scenes) {
		return
	}
	canvas.scenes[sceneIdx].Failed = true
	canvas.failed = true
	ir.r.logger.Warn("scene failed", "chapter", chapter, "scene", sceneIdx+1, "error", cause)
}

// finalizeChapters settles every worked canvas after the scheduler
// drains: failed chapters persist their partial progress and mark the
// manifest, cancelled chapters keep their annotations but drop their
// in-progress mark so the next run resumes them.
func (ir *illustrateRun) finalizeChapters(runCancelled bool) {
	r := ir.r
	ir.mu.Lock()
	defer ir.mu.Unlock()
	for _, canvas := range ir.sortedCanvases() {
		if !canvas.workable || canvas.pending == 0 {
			continue
		}
		switch {
		case canvas.failed:
			canvas.writeStatus = book.StatusFailed
			ir.writeCanvasShard(canvas, false)
			if _, err := r.store.UpdateManifest(book.PhaseIllustrate, func(m *state.Manifest) error {
				m.MarkFailed(canvas.index)
				return nil
			}); err != nil {
				r.logger.Warn("manifest not updated", "chapter", canvas.index, "error", err)
			}
			r.bus.Publish(events.ChapterFailed(
				r.opts.BookID, book.PhaseIllustrate, canvas.index,
				fmt.Errorf("%d of %d scenes failed", canvas.failedScenes(), len(canvas.scenes)),
			))
		case runCancelled:
			canvas.writeStatus = book.StatusCancelled
			ir.writeCanvasShard(canvas, false)
			if _, err := r.store.UpdateManifest(book.PhaseIllustrate, func(m *state.Manifest) error {
				m.Forget(canvas.index)
				return nil
			}); err != nil {
				r.logger.Warn("manifest not updated", "chapter", canvas.index, "error", err)
			}
		}
	}
	ir.writeChaptersListing()
}

// writeCanvasShard persists the canvas under ir.mu.
func (ir *illustrateRun) writeCanvasShard(canvas *chapterCanvas, completed bool) {
	r := ir.r
	status := book.StatusInProgress
	var completedAt *time.Time
	switch {
	case completed:
		status = book.StatusCompleted
		now := time.Now().UTC()
		completedAt = &now
	case canvas.writeStatus != "":
		status = canvas.writeStatus
	}
	shard := &state.ChapterShard{
		ChapterIndex:  canvas.index,
		Title:         canvas.title,
		Status:        status,
		SceneConcepts: canvas.scenes,
		CompletedAt:   completedAt,
	}
	if err := r.store.WriteChapterShard(book.PhaseIllustrate, shard); err != nil {
		r.logger.Warn("illustrate shard not written", "chapter", canvas.index, "error", err)
	}
}

// writeChaptersListing refreshes Chapters.md from every canvas.
// Caller holds ir.mu.
func (ir *illustrateRun) writeChaptersListing() {
	r := ir.r
	table := make([]render.ChapterScenes, 0, len(ir.canvases))
	for _, canvas := range ir.sortedCanvases() {
		table = append(table, render.ChapterScenes{
			Index:  canvas.index,
			Title:  canvas.title,
			Scenes: canvas.scenes,
		})
	}
	if err := r.render.WriteChapters(r.opts.Title, table); err != nil {
		r.logger.Warn("chapters listing not written", "error", err)
	}
}

// sortedCanvases returns the canvases in chapter order.
func (ir *illustrateRun) sortedCanvases() []*chapterCanvas {
	out := make([]*chapterCanvas, 0, len(ir.canvases))
	for _, c := range ir.canvases {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].index < out[j].index })
	return out
}

// imageExists reports whether a previously recorded image file is still
// on disk. A vanished file re-queues its scene.
func (ir *illustrateRun) imageExists(name string) bool {
	if name == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(ir.r.opts.Dir.Path(), name))
	return err == nil
}

// failedScenes counts scenes marked failed.
func (c *chapterCanvas) failedScenes() int {
	n := 0
	for _, sc := range c.scenes {
		if sc.Failed {
			n++
		}
	}
	return n
}

// buildScenePrompt composes an image prompt: the configured style, the
// scene's visual description and source quote, plus detail lines for
// catalog entities the scene mentions. Characters and creatures render
// as character details, places as place details; items stay out, the
// description carries them well enough.
func buildScenePrompt(catalog *elements.Catalog, scene book.SceneConcept, styleOverride string, perEntityTokens int) string {
	input := illustrate.Input{
		VisualDescription: scene.VisualDescription,
		SourceQuote:       scene.SourceQuote,
		StyleOverride:     styleOverride,
	}
	if catalog != nil && catalog.Len() > 0 {
		seen := make(map[string]bool)
		for _, e := range mentionedEntities(catalog, scene.VisualDescription+" "+scene.SourceQuote) {
			key := string(e.Type) + "/" + strings.ToLower(e.Name)
			if seen[key] {
				continue
			}
			seen[key] = true
			detail := e.Name + ": " + truncateDetail(e.Description, perEntityTokens)
			switch e.Type {
			case elements.TypeCharacter, elements.TypeCreature:
				input.CharacterDetails = append(input.CharacterDetails, detail)
			case elements.TypePlace:
				input.PlaceDetails = append(input.PlaceDetails, detail)
			}
		}
	}
	return illustrate.BuildPrompt(input)
}

// truncateDetail caps a description at roughly maxTokens, cutting on a
// word boundary.
func truncateDetail(s string, maxTokens int) string {
	maxChars := maxTokens * 4
	if maxTokens <= 0 || len(s) <= maxChars {
		return s
	}
	cut := s[:maxChars]
	if idx := strings.LastIndex(cut, " "); idx > maxChars/2 {
		cut = cut[:idx]
	}
	return cut + "..."
}
