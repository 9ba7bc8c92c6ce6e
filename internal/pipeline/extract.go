package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackzampolin/imaginize/internal/book"
	"github.com/jackzampolin/imaginize/internal/elements"
	"github.com/jackzampolin/imaginize/internal/events"
	"github.com/jackzampolin/imaginize/internal/scheduler"
	"github.com/jackzampolin/imaginize/internal/state"
)

// RunExtract consolidates the entity catalog from the analyze shards:
// re-merges anything a crash kept out of the catalog, optionally
// rewrites accumulated description fragments through the model, renders
// the elements listing, and shares the result with the series. Requires
// at least one analyzed chapter.
func (r *Runner) RunExtract(ctx context.Context) error {
	st, err := r.loadOrInitState()
	if err != nil {
		return err
	}

	manifest, err := r.store.ReadManifest(book.PhaseAnalyze)
	if err != nil {
		return err
	}
	shards, err := r.store.ListChapterShards(book.PhaseAnalyze)
	if err != nil {
		return err
	}
	analyzed := shards[:0]
	for _, shard := range shards {
		if chapterCompleted(shard, manifest, shard.ChapterIndex) {
			analyzed = append(analyzed, shard)
		}
	}
	if len(analyzed) == 0 {
		return &MissingPrerequisiteError{
			Phase:  book.PhaseExtract,
			Reason: "no analyzed chapters",
			Hint:   "run analyze first",
		}
	}

	st.SetPhaseStatus(book.PhaseExtract, book.StatusInProgress)
	if err := r.store.SaveBookState(st); err != nil {
		return fmt.Errorf("save book state: %w", err)
	}
	r.bus.Publish(events.PhaseStart(r.opts.BookID, book.PhaseExtract, len(analyzed)))

	tokensBefore := r.ai.Ledger().TotalTokens()
	catalog, err := r.store.LoadElements()
	if err != nil {
		return err
	}

	// Recover entities whose chapter shard survived a crash that lost
	// the catalog write. Already-merged entities no-op.
	var outcome phaseOutcome
	if err := r.recoverShardEntities(ctx, catalog, analyzed); err != nil {
		outcome.noteErr(err)
	}

	if outcome.firstErr == nil && r.opts.Pipeline.AIDescriptionEnrichment {
		r.consolidateDescriptions(ctx, catalog, &outcome)
	}

	if outcome.firstErr == nil {
		if err := r.persistCatalog(catalog); err != nil {
			outcome.noteErr(err)
		}
	}
	if outcome.firstErr == nil {
		if err := r.render.WriteElements(r.opts.Title, catalog); err != nil {
			outcome.noteErr(fmt.Errorf("write elements listing: %w", err))
		}
	}
	if outcome.firstErr == nil && r.opts.Bridge != nil {
		if n, err := r.opts.Bridge.ExportBook(ctx, catalog); err != nil {
			r.logger.Warn("series export failed, book results are unaffected", "error", err)
		} else if n > 0 {
			r.logger.Info("exported elements to series", "count", n)
		}
	}

	r.saveResolutionCache()

	status := book.StatusCompleted
	errMsg := ""
	var phaseErr error
	if ctx.Err() != nil {
		status = book.StatusCancelled
		phaseErr = fmt.Errorf("%s cancelled: %w", book.PhaseExtract, context.Cause(ctx))
		errMsg = phaseErr.Error()
	} else if outcome.firstErr != nil {
		status = book.StatusFailed
		phaseErr = fmt.Errorf("%s failed: %w", book.PhaseExtract, outcome.firstErr)
		errMsg = phaseErr.Error()
	}
	delta := r.ai.Ledger().TotalTokens() - tokensBefore
	if err := r.finishPhase(st, book.PhaseExtract, status, delta, errMsg); err != nil {
		return err
	}
	return phaseErr
}

// recoverShardEntities re-merges shard entities absent from the
// catalog. Runs under the catalog file lock.
func (r *Runner) recoverShardEntities(ctx context.Context, catalog *elements.Catalog, shards []*state.ChapterShard) error {
	lock, err := r.store.AcquireElementsLock()
	if err != nil {
		return fmt.Errorf("lock elements: %w", err)
	}
	defer lock.Release()

	recovered := 0
	for _, shard := range shards {
		for _, cand := range shard.Entities {
			if catalog.FindByAlias(cand.Type, cand.Name) != nil {
				continue
			}
			opts := elements.MergeOptions{
				Strategy:      elements.StrategyEnrich,
				BookID:        r.opts.BookID,
				ChapterIndex:  shard.ChapterIndex,
				MinConfidence: r.opts.Pipeline.EntityMatchConfidence,
				Resolver:      r.ai,
			}
			res, err := catalog.MergeEntity(ctx, cand, opts)
			if err != nil {
				return fmt.Errorf("recover entity %q: %w", cand.Name, err)
			}
			if res.WasNew {
				recovered++
			}
		}
	}
	if recovered > 0 {
		r.logger.Info("recovered entities from chapter shards", "count", recovered)
		if err := r.store.SetElements(catalog); err != nil {
			return fmt.Errorf("save elements: %w", err)
		}
	}
	return nil
}

// consolidateDescriptions rewrites entities that accumulated multiple
// enrichment fragments into one clean description. Each entity is a
// scheduler task; a failed rewrite keeps the stitched description and
// does not fail the phase.
func (r *Runner) consolidateDescriptions(ctx context.Context, catalog *elements.Catalog, outcome *phaseOutcome) {
	type job struct {
		entity  *elements.Entity
		details []string
	}
	var jobs []job
	for _, e := range catalog.Entities() {
		if len(e.Enrichments) < 2 {
			continue
		}
		details := make([]string, 0, len(e.Enrichments))
		for _, enr := range e.Enrichments {
			if enr.Detail != "" {
				details = append(details, enr.Detail)
			}
		}
		if len(details) < 2 {
			continue
		}
		jobs = append(jobs, job{entity: e, details: details})
	}
	if len(jobs) == 0 {
		return
	}
	r.logger.Info("consolidating entity descriptions", "entities", len(jobs))

	sched := scheduler.New(r.schedulerConfig())
	for i, j := range jobs {
		j := j
		err := sched.Submit(scheduler.Task{
			ID:    fmt.Sprintf("entity-%d", i),
			Label: fmt.Sprintf("consolidate %q", j.entity.Name),
			Fn: func(taskCtx context.Context) error {
				desc, err := r.ai.EnrichDescription(taskCtx, j.entity.Name, j.entity.Type, j.entity.Description, j.details)
				if err != nil {
					return err
				}
				j.entity.Description = desc
				return nil
			},
		})
		if err != nil {
			outcome.noteErr(err)
			return
		}
	}
	for _, res := range sched.Run(ctx) {
		switch res.Status {
		case scheduler.StatusFailed:
			r.logger.Warn("description consolidation failed, keeping stitched text", "task", res.Label, "error", res.Err)
			var exhausted *scheduler.RateLimitExhaustedError
			if errors.As(res.Err, &exhausted) {
				outcome.noteErr(res.Err)
			}
		case scheduler.StatusCancelled:
			outcome.cancelled++
		}
	}
}

// persistCatalog saves the catalog under the file lock.
func (r *Runner) persistCatalog(catalog *elements.Catalog) error {
	lock, err := r.store.AcquireElementsLock()
	if err != nil {
		return fmt.Errorf("lock elements: %w", err)
	}
	defer lock.Release()
	if err := r.store.SetElements(catalog); err != nil {
		return fmt.Errorf("save elements: %w", err)
	}
	return nil
}
