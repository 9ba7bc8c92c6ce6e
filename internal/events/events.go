// Package events is the in-process progress bus. Pipeline phases
// publish; subscribers (the progress.md appender, the terminal bar,
// log sinks) consume. Delivery never blocks a publisher: a subscriber
// that falls a full buffer behind is dropped rather than allowed to
// stall the pipeline.
package events

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackzampolin/imaginize/internal/book"
)

// Kind classifies an event.
type Kind string

const (
	KindPhaseStart      Kind = "phase-start"
	KindPhaseComplete   Kind = "phase-complete"
	KindChapterStart    Kind = "chapter-start"
	KindChapterComplete Kind = "chapter-complete"
	KindImageComplete   Kind = "image-complete"
	KindRateLimit       Kind = "rate-limit"
	KindProgressLog     Kind = "progress-log"
)

// Event is one progress notification. Timestamps are UTC.
type Event struct {
	Kind      Kind          `json:"kind"`
	Timestamp time.Time     `json:"timestamp"`
	BookID    string        `json:"bookId,omitempty"`
	Phase     book.Phase    `json:"phase,omitempty"`
	Chapter   int           `json:"chapter,omitempty"`
	Scene     int           `json:"scene,omitempty"`
	Path      string        `json:"path,omitempty"`
	Delay     time.Duration `json:"delay,omitempty"`
	Message   string        `json:"message"`
	Err       string        `json:"error,omitempty"`
}

// PhaseStart builds a phase-start event.
func PhaseStart(bookID string, phase book.Phase, queued int) Event {
	return Event{
		Kind:    KindPhaseStart,
		BookID:  bookID,
		Phase:   phase,
		Message: fmt.Sprintf("%s started, %d chapters queued", phase, queued),
	}
}

// PhaseComplete builds a phase-complete event. A non-empty errMsg marks
// the phase as ended unsuccessfully.
func PhaseComplete(bookID string, phase book.Phase, status book.Status, errMsg string) Event {
	return Event{
		Kind:    KindPhaseComplete,
		BookID:  bookID,
		Phase:   phase,
		Message: fmt.Sprintf("%s %s", phase, status),
		Err:     errMsg,
	}
}

// ChapterStart builds a chapter-start event.
func ChapterStart(bookID string, phase book.Phase, chapter int, title string) Event {
	return Event{
		Kind:    KindChapterStart,
		BookID:  bookID,
		Phase:   phase,
		Chapter: chapter,
		Message: fmt.Sprintf("chapter %d (%s) started", chapter, title),
	}
}

// ChapterComplete builds a chapter-complete event.
func ChapterComplete(bookID string, phase book.Phase, chapter int, detail string) Event {
	return Event{
		Kind:    KindChapterComplete,
		BookID:  bookID,
		Phase:   phase,
		Chapter: chapter,
		Message: fmt.Sprintf("chapter %d complete: %s", chapter, detail),
	}
}

// ChapterFailed builds a chapter-complete event carrying the failure.
func ChapterFailed(bookID string, phase book.Phase, chapter int, err error) Event {
	return Event{
		Kind:    KindChapterComplete,
		BookID:  bookID,
		Phase:   phase,
		Chapter: chapter,
		Message: fmt.Sprintf("chapter %d failed", chapter),
		Err:     fmt.Sprint(err),
	}
}

// ImageComplete builds an image-complete event.
func ImageComplete(bookID string, chapter, scene int, path string) Event {
	return Event{
		Kind:    KindImageComplete,
		BookID:  bookID,
		Phase:   book.PhaseIllustrate,
		Chapter: chapter,
		Scene:   scene,
		Path:    path,
		Message: fmt.Sprintf("chapter %d scene %d rendered to %s", chapter, scene, path),
	}
}

// RateLimited builds a rate-limit event.
func RateLimited(bookID, label string, attempt int, delay time.Duration) Event {
	return Event{
		Kind:    KindRateLimit,
		BookID:  bookID,
		Delay:   delay,
		Message: fmt.Sprintf("rate limited on %s (attempt %d), backing off %s", label, attempt, delay.Round(time.Millisecond)),
	}
}

// ProgressLog builds a free-form progress-log event.
func ProgressLog(bookID, message string) Event {
	return Event{Kind: KindProgressLog, BookID: bookID, Message: message}
}

// DefaultSubscriberBuffer is how many undelivered events a subscriber
// may accumulate before it is dropped.
const DefaultSubscriberBuffer = 1000

// Bus fans events out to subscribers without ever blocking Publish.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
	buffer int
	logger *slog.Logger

	published atomic.Int64
	dropped   atomic.Int64
}

// NewBus creates a Bus with the default subscriber buffer.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[int]chan Event),
		buffer: DefaultSubscriberBuffer,
		logger: logger,
	}
}

// SetBuffer overrides the per-subscriber buffer. Only affects
// subscriptions made afterwards.
func (b *Bus) SetBuffer(n int) {
	if n < 1 {
		return
	}
	b.mu.Lock()
	b.buffer = n
	b.mu.Unlock()
}

// Subscribe registers a consumer. The returned channel closes when the
// bus closes, when cancel is called, or when the consumer falls a full
// buffer behind and is dropped.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish stamps and delivers an event. A subscriber whose buffer is
// full is dropped on the spot; nothing here waits.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	} else {
		ev.Timestamp = ev.Timestamp.UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.published.Add(1)
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			delete(b.subs, id)
			close(ch)
			b.dropped.Add(1)
			b.logger.Warn("event subscriber too slow, dropped", "subscriber", id, "backlog", cap(ch))
		}
	}
}

// Close closes every subscriber channel. Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// Published returns how many events have been accepted.
func (b *Bus) Published() int64 {
	return b.published.Load()
}

// Dropped returns how many subscribers were dropped for falling behind.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
