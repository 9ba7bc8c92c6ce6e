// Package pipeline drives the three book phases: analyze reads chapter
// text into scene concepts and entity mentions, extract consolidates
// the entity catalog, illustrate turns scene concepts into images.
// Each phase loads durable state, builds a worklist of chapters that
// still need work, runs it through the scheduler, and records progress
// in per-chapter shards and a per-phase manifest so an interrupted run
// resumes where it stopped.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/jackzampolin/imaginize/internal/ai"
	"github.com/jackzampolin/imaginize/internal/book"
	"github.com/jackzampolin/imaginize/internal/config"
	"github.com/jackzampolin/imaginize/internal/elements"
	"github.com/jackzampolin/imaginize/internal/events"
	"github.com/jackzampolin/imaginize/internal/home"
	"github.com/jackzampolin/imaginize/internal/render"
	"github.com/jackzampolin/imaginize/internal/scheduler"
	"github.com/jackzampolin/imaginize/internal/state"
)

// Bridge shares the entity catalog with a series that spans books.
// ImportShared folds series-level entities into the book catalog before
// analysis; ExportBook folds the book catalog back into series memory
// after extraction. Both return the number of entities that changed.
// A nil Bridge disables sharing.
type Bridge interface {
	ImportShared(ctx context.Context, cat *elements.Catalog) (int, error)
	ExportBook(ctx context.Context, cat *elements.Catalog) (int, error)
}

// Options collects everything a Runner needs. Selection and Limit
// narrow the worklist; Force discards prior results for the selected
// chapters first.
type Options struct {
	BookID     string
	Title      string
	TotalPages int
	Chapters   []book.ChapterSpec

	Dir   home.BookDir
	Store *state.Store
	AI    *ai.Facade
	Bus   *events.Bus

	Logger *slog.Logger

	Pipeline  config.PipelineCfg
	Scheduler scheduler.Config

	// Bridge is nil when the book is not part of a series.
	Bridge Bridge

	// Selection limits work to these chapter indices. Nil means all.
	Selection []int

	// Limit caps the number of chapters processed this run. Zero means
	// no cap.
	Limit int

	// Force discards prior results for the selected chapters.
	Force bool
}

// Runner executes phases for one book.
type Runner struct {
	opts   Options
	store  *state.Store
	ai     *ai.Facade
	bus    *events.Bus
	render *render.Renderer
	logger *slog.Logger
}

// New builds a Runner. Store, AI, and Bus must be non-nil.
func New(opts Options) (*Runner, error) {
	if opts.Store == nil {
		return nil, errors.New("pipeline: nil store")
	}
	if opts.AI == nil {
		return nil, errors.New("pipeline: nil ai facade")
	}
	if opts.Bus == nil {
		return nil, errors.New("pipeline: nil event bus")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		opts:   opts,
		store:  opts.Store,
		ai:     opts.AI,
		bus:    opts.Bus,
		render: render.NewRenderer(opts.Dir),
		logger: logger.With("book", opts.BookID),
	}, nil
}

// Run executes analyze, extract, and illustrate in order, stopping at
// the first phase that does not finish. The contents listing is
// rendered up front so a crash mid-analyze still leaves a browsable
// output directory.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.render.WriteContents(r.opts.Title, r.opts.Chapters); err != nil {
		return fmt.Errorf("write contents: %w", err)
	}
	if err := r.RunAnalyze(ctx); err != nil {
		return err
	}
	if err := r.RunExtract(ctx); err != nil {
		return err
	}
	return r.RunIllustrate(ctx)
}

// loadOrInitState returns the persisted book state, creating a fresh
// one on first run.
func (r *Runner) loadOrInitState() (*state.BookState, error) {
	st, err := r.store.LoadBookState()
	if err != nil {
		return nil, err
	}
	if st == nil {
		st = state.NewBookState(r.opts.BookID, r.opts.Title, r.opts.TotalPages)
	}
	return st, nil
}

// chapterCompleted reports whether a chapter finished a phase. Both the
// shard and the manifest must agree; a shard without its manifest entry
// is a crash artifact and the chapter reruns.
func chapterCompleted(shard *state.ChapterShard, manifest *state.Manifest, chapter int) bool {
	return shard != nil && shard.Status == book.StatusCompleted && manifest.IsCompleted(chapter)
}

// storyWorklist returns the story chapters to process this run, in
// index order: intersected with Selection, minus chapters the skip
// predicate accepts, truncated to Limit.
func (r *Runner) storyWorklist(skip func(ch book.ChapterSpec) bool) []book.ChapterSpec {
	selected := make(map[int]bool, len(r.opts.Selection))
	for _, n := range r.opts.Selection {
		selected[n] = true
	}
	var work []book.ChapterSpec
	for _, ch := range r.opts.Chapters {
		if !ch.IsStoryContent {
			continue
		}
		if len(selected) > 0 && !selected[ch.Index] {
			continue
		}
		if skip != nil && skip(ch) {
			continue
		}
		work = append(work, ch)
	}
	sort.Slice(work, func(i, j int) bool { return work[i].Index < work[j].Index })
	if r.opts.Limit > 0 && len(work) > r.opts.Limit {
		work = work[:r.opts.Limit]
	}
	return work
}

// clearForced discards prior phase results for the selected chapters.
// With no selection the whole phase directory resets.
func (r *Runner) clearForced(phase book.Phase) error {
	if len(r.opts.Selection) == 0 {
		return r.store.ClearPhase(phase)
	}
	if err := r.store.RemoveChapterShards(phase, r.opts.Selection); err != nil {
		return err
	}
	_, err := r.store.UpdateManifest(phase, func(m *state.Manifest) error {
		for _, n := range r.opts.Selection {
			m.Forget(n)
		}
		return nil
	})
	return err
}

// schedulerConfig clones the configured scheduler settings and wires
// rate-limit events onto the bus.
func (r *Runner) schedulerConfig() scheduler.Config {
	cfg := r.opts.Scheduler
	if cfg.Logger == nil {
		cfg.Logger = r.logger
	}
	cfg.OnRateLimit = func(ev scheduler.RateLimitEvent) {
		r.bus.Publish(events.RateLimited(r.opts.BookID, ev.Label, ev.Attempt, ev.Delay))
	}
	return cfg
}

// finishPhase stamps the phase outcome and token delta into book state,
// saves it, and announces completion. The state write is the phase
// boundary; failures here are fatal because a silent miss would desync
// resume decisions.
func (r *Runner) finishPhase(st *state.BookState, phase book.Phase, status book.Status, tokens int64, errMsg string) error {
	st.SetPhaseStatus(phase, status)
	if tokens > 0 {
		st.AddTokens(tokens)
	}
	if err := r.store.SaveBookState(st); err != nil {
		return fmt.Errorf("save book state: %w", err)
	}
	r.bus.Publish(events.PhaseComplete(r.opts.BookID, phase, status, errMsg))
	return nil
}

// saveResolutionCache persists AI entity-match verdicts across runs.
// Best effort: a cache miss next run costs tokens, not correctness.
func (r *Runner) saveResolutionCache() {
	if err := r.ai.SaveResolutionCache(); err != nil {
		r.logger.Warn("resolution cache not saved", "error", err)
	}
}

// phaseOutcome folds scheduler results into the phase terminal status.
// Cancellation wins over failure; failure only fails the phase when
// ContinueOnFailure is off.
type phaseOutcome struct {
	completed int
	failed    int
	cancelled int

	// firstErr is the error surfaced to the caller on a failed phase.
	// Rate-limit exhaustion is preferred so the exit code says why.
	firstErr error
}

func (o *phaseOutcome) observe(res scheduler.Result) {
	switch res.Status {
	case scheduler.StatusCompleted:
		o.completed++
	case scheduler.StatusFailed:
		o.failed++
		o.noteErr(res.Err)
	case scheduler.StatusCancelled:
		o.cancelled++
	}
}

func (o *phaseOutcome) noteErr(err error) {
	if err == nil {
		return
	}
	var exhausted, cur *scheduler.RateLimitExhaustedError
	if errors.As(err, &exhausted) {
		if o.firstErr == nil || !errors.As(o.firstErr, &cur) {
			o.firstErr = err
		}
		return
	}
	if o.firstErr == nil {
		o.firstErr = err
	}
}

// finalize maps the tally onto a terminal phase status and the error to
// return from the phase, honoring ContinueOnFailure.
func (o *phaseOutcome) finalize(ctx context.Context, phase book.Phase, continueOnFailure bool) (book.Status, error) {
	if o.cancelled > 0 || ctx.Err() != nil {
		cause := context.Cause(ctx)
		if cause == nil {
			cause = context.Canceled
		}
		return book.StatusCancelled, fmt.Errorf("%s cancelled: %w", phase, cause)
	}
	if o.failed > 0 && !continueOnFailure {
		err := o.firstErr
		if err == nil {
			err = fmt.Errorf("%d chapters failed", o.failed)
		}
		return book.StatusFailed, fmt.Errorf("%s failed: %w", phase, err)
	}
	return book.StatusCompleted, nil
}
