package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/imaginize/internal/atomicfile"
	"github.com/jackzampolin/imaginize/internal/book"
	"github.com/jackzampolin/imaginize/internal/elements"
	"github.com/jackzampolin/imaginize/internal/home"
)

// DefaultLockTimeout bounds manifest and catalog lock acquisition.
const DefaultLockTimeout = 60 * time.Second

// readAttempts bounds retries on transient read failures (a reader can
// race the rename window on some filesystems).
const readAttempts = 3

// Store performs all JSON persistence for one book directory.
type Store struct {
	Dir         home.BookDir
	Logger      *slog.Logger
	LockTimeout time.Duration
}

// NewStore creates a Store for a book output directory.
func NewStore(dir home.BookDir) *Store {
	return &Store{
		Dir:         dir,
		Logger:      slog.Default(),
		LockTimeout: DefaultLockTimeout,
	}
}

// readJSON loads and unmarshals a state file with bounded retries on
// transient errors. Returns os.ErrNotExist (wrapped) when the file is
// absent.
func (s *Store) readJSON(path string, v any) error {
	return retry.Do(
		func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			if err := json.Unmarshal(data, v); err != nil {
				return fmt.Errorf("failed to parse %s: %w", path, err)
			}
			return nil
		},
		retry.Attempts(readAttempts),
		retry.Delay(25*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			// Missing files and malformed JSON will not fix themselves.
			return !errors.Is(err, os.ErrNotExist) && !isParseError(err)
		}),
	)
}

func isParseError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

// writeJSON marshals v with indentation and writes it atomically.
func (s *Store) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	return atomicfile.Write(path, data)
}

// LoadBookState reads .imaginize.state.json. Returns (nil, nil) when the
// book has never been processed.
func (s *Store) LoadBookState() (*BookState, error) {
	var st BookState
	err := s.readJSON(s.Dir.StatePath(), &st)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if st.Phases == nil {
		st.Phases = make(map[book.Phase]*PhaseState)
	}
	return &st, nil
}

// SaveBookState writes the global state atomically. Called only at phase
// boundaries; per-chapter progress goes through shards.
func (s *Store) SaveBookState(st *BookState) error {
	st.LastUpdated = time.Now().UTC()
	if err := s.writeJSON(s.Dir.StatePath(), st); err != nil {
		return fmt.Errorf("failed to save book state: %w", err)
	}
	return nil
}

// WriteChapterShard persists one chapter's state for a phase. Shards are
// writer-per-key: exactly one worker writes a given shard, so the atomic
// write is the only synchronization needed.
func (s *Store) WriteChapterShard(phase book.Phase, shard *ChapterShard) error {
	path := s.Dir.ShardPath(phase, shard.ChapterIndex)
	if err := s.writeJSON(path, shard); err != nil {
		return fmt.Errorf("failed to write chapter %d shard: %w", shard.ChapterIndex, err)
	}
	return nil
}

// ReadChapterShard loads one chapter's shard. Returns (nil, nil) when the
// shard does not exist.
func (s *Store) ReadChapterShard(phase book.Phase, chapterIndex int) (*ChapterShard, error) {
	var shard ChapterShard
	err := s.readJSON(s.Dir.ShardPath(phase, chapterIndex), &shard)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &shard, nil
}

// ListChapterShards loads every shard for a phase, sorted by chapter
// index. Unreadable shards are skipped with a warning so one corrupt file
// cannot block a resume.
func (s *Store) ListChapterShards(phase book.Phase) ([]*ChapterShard, error) {
	dir := s.Dir.PhaseStateDir(phase)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s shards: %w", phase, err)
	}

	var shards []*ChapterShard
	for _, entry := range entries {
		idx, ok := shardIndexFromName(entry.Name())
		if !ok {
			continue
		}
		shard, err := s.ReadChapterShard(phase, idx)
		if err != nil {
			s.Logger.Warn("skipping unreadable chapter shard",
				"phase", phase, "chapter", idx, "error", err)
			continue
		}
		if shard != nil {
			shards = append(shards, shard)
		}
	}
	sort.Slice(shards, func(i, j int) bool {
		return shards[i].ChapterIndex < shards[j].ChapterIndex
	})
	return shards, nil
}

// shardIndexFromName parses "chapter_{N}.json" into N.
func shardIndexFromName(name string) (int, bool) {
	if !strings.HasPrefix(name, "chapter_") || !strings.HasSuffix(name, ".json") {
		return 0, false
	}
	numStr := strings.TrimSuffix(strings.TrimPrefix(name, "chapter_"), ".json")
	idx, err := strconv.Atoi(numStr)
	if err != nil || idx < 1 {
		return 0, false
	}
	return idx, true
}

// RemoveChapterShards deletes the shard files for specific chapters.
// Used by --force to requeue targeted chapters.
func (s *Store) RemoveChapterShards(phase book.Phase, chapters []int) error {
	for _, idx := range chapters {
		path := s.Dir.ShardPath(phase, idx)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove chapter %d shard: %w", idx, err)
		}
	}
	return nil
}

// ClearPhase removes a phase's entire state directory (shards and
// manifest). Used by --force without a chapter selection.
func (s *Store) ClearPhase(phase book.Phase) error {
	if err := os.RemoveAll(s.Dir.PhaseStateDir(phase)); err != nil {
		return fmt.Errorf("failed to clear %s state: %w", phase, err)
	}
	return nil
}

// ReadManifest loads a phase manifest, returning an empty manifest when
// none exists yet.
func (s *Store) ReadManifest(phase book.Phase) (*Manifest, error) {
	var m Manifest
	err := s.readJSON(s.Dir.ManifestPath(phase), &m)
	if errors.Is(err, os.ErrNotExist) {
		return &Manifest{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpdateManifest applies fn to a phase manifest under the manifest file
// lock: acquire, read, mutate, write atomically, release. The updated
// manifest is returned.
func (s *Store) UpdateManifest(phase book.Phase, fn func(*Manifest) error) (*Manifest, error) {
	path := s.Dir.ManifestPath(phase)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s state dir: %w", phase, err)
	}

	lock, err := atomicfile.AcquireLock(path, s.LockTimeout)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	m, err := s.ReadManifest(phase)
	if err != nil {
		return nil, err
	}
	if err := fn(m); err != nil {
		return nil, err
	}
	if err := s.writeJSON(path, m); err != nil {
		return nil, fmt.Errorf("failed to write %s manifest: %w", phase, err)
	}
	return m, nil
}

// SetElements persists the full catalog snapshot to .elements-memory.json.
func (s *Store) SetElements(cat *elements.Catalog) error {
	if err := s.writeJSON(s.Dir.ElementsMemoryPath(), cat); err != nil {
		return fmt.Errorf("failed to persist elements catalog: %w", err)
	}
	return nil
}

// LoadElements reads the persisted catalog, returning an empty catalog
// when none exists.
func (s *Store) LoadElements() (*elements.Catalog, error) {
	cat := elements.NewCatalog()
	err := s.readJSON(s.Dir.ElementsMemoryPath(), cat)
	if errors.Is(err, os.ErrNotExist) {
		return cat, nil
	}
	if err != nil {
		return nil, err
	}
	return cat, nil
}

// AcquireElementsLock takes the cross-process lock on the catalog file.
// Workers hold it across merge-and-persist so the catalog has a single
// writer at a time.
func (s *Store) AcquireElementsLock() (*atomicfile.Lock, error) {
	return atomicfile.AcquireLock(s.Dir.ElementsMemoryPath(), s.LockTimeout)
}

// CleanOrphans sweeps temp files abandoned by killed runs from the book
// directory and each phase state directory.
func (s *Store) CleanOrphans() {
	total := atomicfile.CleanOrphans(s.Dir.Path())
	for _, phase := range book.Phases() {
		total += atomicfile.CleanOrphans(s.Dir.PhaseStateDir(phase))
	}
	if total > 0 {
		s.Logger.Info("cleaned orphaned temp files", "count", total)
	}
}
