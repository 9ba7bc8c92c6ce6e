package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/imaginize/internal/ai"
	"github.com/jackzampolin/imaginize/internal/api"
	"github.com/jackzampolin/imaginize/internal/book"
	"github.com/jackzampolin/imaginize/internal/config"
	"github.com/jackzampolin/imaginize/internal/elements"
	"github.com/jackzampolin/imaginize/internal/events"
	"github.com/jackzampolin/imaginize/internal/home"
	"github.com/jackzampolin/imaginize/internal/ingest"
	"github.com/jackzampolin/imaginize/internal/pipeline"
	"github.com/jackzampolin/imaginize/internal/providers"
	"github.com/jackzampolin/imaginize/internal/scheduler"
	"github.com/jackzampolin/imaginize/internal/series"
	"github.com/jackzampolin/imaginize/internal/state"
	"github.com/jackzampolin/imaginize/internal/svcctx"
)

// Flags shared by the phase commands (process, analyze, extract,
// illustrate). Only one command runs per invocation.
var (
	runBookID    string
	runTitle     string
	runOutputDir string
	runChapters  string
	runLimit     int
	runForce     bool
)

// addRunFlags registers the flags every phase command accepts.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(
		&runBookID, "book", "", "book id (default: derived from the source file path)",
	)
	cmd.Flags().StringVar(
		&runTitle, "title", "", "book title override (default: parsed from the source)",
	)
	cmd.Flags().StringVar(
		&runOutputDir, "output-dir", "", "book output directory (default: <home>/books/<book-id>, or <series-root>/<book-id> when series is enabled)",
	)
	cmd.Flags().StringVar(
		&runChapters, "chapters", "", `chapter selection, e.g. "1-5,10" (default: all story chapters)`,
	)
	cmd.Flags().IntVar(
		&runLimit, "limit", 0, "process at most this many chapters this run (0 = no cap)",
	)
	cmd.Flags().BoolVar(
		&runForce, "force", false, "discard prior results for the selected chapters and redo them",
	)
}

// bookRun is one phase command's assembled pipeline: the runner plus
// the progress subscribers attached for its duration. Close detaches
// the subscribers and waits for them to drain.
type bookRun struct {
	Runner *pipeline.Runner
	BookID string
	Title  string
	Dir    home.BookDir

	cancels []func()
	wg      sync.WaitGroup
}

// Close detaches the bus subscribers and waits for their final writes.
func (r *bookRun) Close() {
	for _, cancel := range r.cancels {
		cancel()
	}
	r.wg.Wait()
}

// setupRun parses the source book, validates configuration, configures
// the provider registry, and assembles a pipeline runner with progress
// subscribers attached. barTicks sizes the terminal progress bar from
// the story chapter count; returning zero skips the bar.
func setupRun(ctx context.Context, sourcePath, barLabel string, barTicks func(storyChapters int) int) (*bookRun, error) {
	svcs := svcctx.ServicesFrom(ctx)
	cfg := svcs.ConfigManager.Get()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.RequireAPIKey(); err != nil {
		return nil, err
	}
	if err := svcs.Registry.Configure(registryConfig(cfg)); err != nil {
		return nil, err
	}

	// Config edits during a long run retune the provider for
	// subsequent calls without restarting the pipeline.
	svcs.ConfigManager.OnChange(func(c *config.Config) {
		if err := svcs.Registry.Reload(registryConfig(c)); err != nil {
			svcs.Logger.Warn("provider reload skipped", "error", err)
		}
	})
	svcs.ConfigManager.WatchConfig()

	selection, err := book.ParseChapterSelection(runChapters)
	if err != nil {
		return nil, fmt.Errorf("parse --chapters: %w", err)
	}

	parsed, err := ingest.NewRegistry(svcs.Logger).ParseBook(ctx, sourcePath)
	if err != nil {
		return nil, err
	}

	bookID := runBookID
	if bookID == "" {
		bookID = book.DeriveID(sourcePath)
	}
	title := runTitle
	if title == "" {
		title = parsed.Title
	}

	dir, err := resolveBookDir(svcs.Home, cfg, bookID)
	if err != nil {
		return nil, err
	}
	if err := dir.EnsureExists(); err != nil {
		return nil, err
	}

	store := state.NewStore(dir)
	store.CleanOrphans()

	facade, err := ai.New(ai.Options{
		Clients: svcs.Registry,
		BookID:  bookID,
		BookDir: dir.Path(),
		Logger:  svcs.Logger,
	})
	if err != nil {
		return nil, err
	}

	bridge, err := seriesBridge(cfg, bookID, facade, svcs.Logger)
	if err != nil {
		return nil, err
	}

	runner, err := pipeline.New(pipeline.Options{
		BookID:     bookID,
		Title:      title,
		TotalPages: parsed.TotalPages,
		Chapters:   parsed.Chapters,
		Dir:        dir,
		Store:      store,
		AI:         facade,
		Bus:        svcs.Bus,
		Logger:     svcs.Logger,
		Pipeline:   cfg.Pipeline,
		Scheduler:  schedulerConfig(cfg, svcs.Registry.Tier()),
		Bridge:     bridge,
		Selection:  selection,
		Limit:      runLimit,
		Force:      runForce,
	})
	if err != nil {
		return nil, err
	}

	run := &bookRun{Runner: runner, BookID: bookID, Title: title, Dir: dir}
	run.subscribeProgress(svcs, dir)
	if !api.IsStructuredOutput() {
		if total := barTicks(len(parsed.StoryChapters())); total > 0 {
			run.subscribeBar(svcs, total, barLabel)
		}
	}
	return run, nil
}

// subscribeProgress appends every event to progress.md in the book
// output directory.
func (r *bookRun) subscribeProgress(svcs *svcctx.Services, dir home.BookDir) {
	ch, cancel := svcs.Bus.Subscribe()
	pw := events.NewProgressWriter(dir.ProgressLogPath(), svcs.Logger)
	r.cancels = append(r.cancels, cancel)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		pw.Run(ch)
	}()
}

// subscribeBar renders a chapter-granularity terminal progress bar.
func (r *bookRun) subscribeBar(svcs *svcctx.Services, total int, label string) {
	ch, cancel := svcs.Bus.Subscribe()
	bar := events.NewBar(total, label, events.KindChapterComplete)
	r.cancels = append(r.cancels, cancel)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		bar.Run(ch)
	}()
}

// resolveBookDir picks the output directory: the explicit flag, the
// series root convention when series mode is on, or the home books
// directory.
func resolveBookDir(h *home.Dir, cfg *config.Config, bookID string) (home.BookDir, error) {
	if runOutputDir != "" {
		return home.NewBookDir(runOutputDir), nil
	}
	if cfg.Series.Enabled && cfg.Series.Root != "" {
		return series.BookOutputDir(home.NewSeriesDir(cfg.Series.Root), bookID), nil
	}
	if err := h.EnsureExists(); err != nil {
		return home.BookDir{}, err
	}
	return home.NewBookDir(h.BookPath(bookID)), nil
}

// registryConfig maps the provider config section onto the registry.
func registryConfig(cfg *config.Config) providers.RegistryConfig {
	p := cfg.Provider
	return providers.RegistryConfig{
		Type:              p.Type,
		Model:             p.Model,
		ImageModel:        p.ImageModel,
		APIKey:            cfg.ResolvedAPIKey(),
		BaseURL:           p.BaseURL,
		Tier:              p.Tier,
		TimeoutSeconds:    p.TimeoutSeconds,
		RequestsPerMinute: p.RequestsPerMin,
	}
}

// schedulerConfig maps provider and pipeline settings onto the task
// scheduler.
func schedulerConfig(cfg *config.Config, tier providers.Tier) scheduler.Config {
	p := cfg.Provider
	return scheduler.Config{
		MaxConcurrency: cfg.Pipeline.MaxConcurrency,
		Tier:           tier,
		MaxRetries:     p.MaxRetries,
		BaseBackoff:    time.Duration(p.BaseBackoffMs) * time.Millisecond,
		RateLimitFloor: time.Duration(p.RateLimitFloorMs) * time.Millisecond,
		CallTimeout:    time.Duration(p.TimeoutSeconds) * time.Second,
	}
}

// seriesBridge builds the cross-book catalog bridge when series mode is
// enabled. The series config file supplies the display name and merge
// strategy; absent one, the provider config's strategy applies.
func seriesBridge(cfg *config.Config, bookID string, resolver elements.Resolver, logger *slog.Logger) (pipeline.Bridge, error) {
	if !cfg.Series.Enabled || cfg.Series.Root == "" {
		return nil, nil
	}
	dir := home.NewSeriesDir(cfg.Series.Root)

	name := ""
	strategy := elements.ParseMergeStrategy(cfg.Series.MergeStrategy)
	if sc, err := series.LoadConfig(dir); err != nil {
		return nil, fmt.Errorf("read series config: %w", err)
	} else if sc != nil {
		name = sc.Name
		strategy = sc.Strategy()
		if !sc.SharedElements.Enabled {
			return nil, nil
		}
	}

	return &series.Bridge{
		Dir:           dir,
		BookID:        bookID,
		Name:          name,
		Strategy:      strategy,
		Resolver:      resolver,
		MinConfidence: cfg.Pipeline.EntityMatchConfidence,
		Logger:        logger,
	}, nil
}
