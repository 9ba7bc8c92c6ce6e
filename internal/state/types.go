// Package state owns every JSON file under a book output directory:
// the per-book global state, the per-chapter shards, the per-phase
// manifests, and the persisted elements catalog. Callers get typed
// operations only; all writes are atomic and manifest updates run under
// the manifest file lock.
package state

import (
	"time"

	"github.com/jackzampolin/imaginize/internal/book"
	"github.com/jackzampolin/imaginize/internal/elements"
)

// StateVersion is written into new BookState files.
const StateVersion = "1"

// PhaseState records the lifecycle of one pipeline phase.
type PhaseState struct {
	Status      book.Status `json:"status"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
}

// TokenStats accumulates model-reported token usage for a book.
type TokenStats struct {
	TotalUsed int64 `json:"totalUsed"`
}

// BookState is the global per-book state file (.imaginize.state.json).
// It is written only at phase boundaries; per-chapter progress lives in
// shards so concurrent workers never contend on this file.
type BookState struct {
	Version     string                     `json:"version"`
	BookID      string                     `json:"bookId"`
	BookTitle   string                     `json:"bookTitle"`
	TotalPages  int                        `json:"totalPages"`
	Phases      map[book.Phase]*PhaseState `json:"phases"`
	TokenStats  TokenStats                 `json:"tokenStats"`
	LastUpdated time.Time                  `json:"lastUpdated"`
}

// NewBookState builds a fresh BookState with all phases pending.
func NewBookState(bookID, title string, totalPages int) *BookState {
	phases := make(map[book.Phase]*PhaseState, 3)
	for _, p := range book.Phases() {
		phases[p] = &PhaseState{Status: book.StatusPending}
	}
	return &BookState{
		Version:     StateVersion,
		BookID:      bookID,
		BookTitle:   title,
		TotalPages:  totalPages,
		Phases:      phases,
		LastUpdated: time.Now().UTC(),
	}
}

// PhaseStatus returns the status of a phase, defaulting to pending for
// phases the file predates.
func (s *BookState) PhaseStatus(phase book.Phase) book.Status {
	if s == nil || s.Phases == nil {
		return book.StatusPending
	}
	ps, ok := s.Phases[phase]
	if !ok || ps == nil {
		return book.StatusPending
	}
	return ps.Status
}

// SetPhaseStatus updates a phase status, stamping CompletedAt on terminal
// states and refreshing LastUpdated.
func (s *BookState) SetPhaseStatus(phase book.Phase, status book.Status) {
	if s.Phases == nil {
		s.Phases = make(map[book.Phase]*PhaseState, 3)
	}
	ps, ok := s.Phases[phase]
	if !ok || ps == nil {
		ps = &PhaseState{}
		s.Phases[phase] = ps
	}
	ps.Status = status
	if status.Terminal() {
		now := time.Now().UTC()
		ps.CompletedAt = &now
	} else {
		ps.CompletedAt = nil
	}
	s.LastUpdated = time.Now().UTC()
}

// AddTokens adds model-reported token usage to the running total.
func (s *BookState) AddTokens(n int64) {
	if n <= 0 {
		return
	}
	s.TokenStats.TotalUsed += n
	s.LastUpdated = time.Now().UTC()
}

// ChapterShard is the per-chapter state file for one phase
// (.{phase}.state/chapter_{N}.json). One file per chapter keeps workers
// from contending on a shared state file: exactly one worker owns a shard.
type ChapterShard struct {
	ChapterIndex  int                 `json:"chapterIndex"`
	Title         string              `json:"title"`
	Status        book.Status         `json:"status"`
	SceneConcepts []book.SceneConcept `json:"sceneConcepts,omitempty"`
	// Entities carries the full extracted entity candidates so the extract
	// phase can re-merge them when catalog persistence was interrupted.
	Entities    []elements.Entity `json:"entitiesMentioned,omitempty"`
	TokensUsed  int64             `json:"tokensUsed"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// EntityNames returns the names of the entities recorded on the shard.
func (s *ChapterShard) EntityNames() []string {
	names := make([]string, 0, len(s.Entities))
	for _, e := range s.Entities {
		names = append(names, e.Name)
	}
	return names
}

// Manifest indexes chapter progress for one phase
// (.{phase}.state/manifest.json). Each chapter appears in exactly one of
// the three sets; their union is every chapter the phase has touched.
type Manifest struct {
	CompletedChapters  []int `json:"completedChapters"`
	InProgressChapters []int `json:"inProgressChapters"`
	FailedChapters     []int `json:"failedChapters"`
}

func contains(s []int, n int) bool {
	for _, v := range s {
		if v == n {
			return true
		}
	}
	return false
}

func remove(s []int, n int) []int {
	out := s[:0]
	for _, v := range s {
		if v != n {
			out = append(out, v)
		}
	}
	return out
}

func insertSorted(s []int, n int) []int {
	if contains(s, n) {
		return s
	}
	s = append(s, n)
	for i := len(s) - 1; i > 0 && s[i] < s[i-1]; i-- {
		s[i], s[i-1] = s[i-1], s[i]
	}
	return s
}

// IsCompleted reports whether the manifest records chapter n as completed.
func (m *Manifest) IsCompleted(n int) bool {
	return m != nil && contains(m.CompletedChapters, n)
}

// IsFailed reports whether the manifest records chapter n as failed.
func (m *Manifest) IsFailed(n int) bool {
	return m != nil && contains(m.FailedChapters, n)
}

// MarkInProgress moves chapter n into the in-progress set.
func (m *Manifest) MarkInProgress(n int) {
	m.CompletedChapters = remove(m.CompletedChapters, n)
	m.FailedChapters = remove(m.FailedChapters, n)
	m.InProgressChapters = insertSorted(m.InProgressChapters, n)
}

// MarkCompleted moves chapter n into the completed set.
func (m *Manifest) MarkCompleted(n int) {
	m.InProgressChapters = remove(m.InProgressChapters, n)
	m.FailedChapters = remove(m.FailedChapters, n)
	m.CompletedChapters = insertSorted(m.CompletedChapters, n)
}

// MarkFailed moves chapter n into the failed set.
func (m *Manifest) MarkFailed(n int) {
	m.InProgressChapters = remove(m.InProgressChapters, n)
	m.CompletedChapters = remove(m.CompletedChapters, n)
	m.FailedChapters = insertSorted(m.FailedChapters, n)
}

// Forget drops chapter n from every set (used by --force resets).
func (m *Manifest) Forget(n int) {
	m.CompletedChapters = remove(m.CompletedChapters, n)
	m.InProgressChapters = remove(m.InProgressChapters, n)
	m.FailedChapters = remove(m.FailedChapters, n)
}
