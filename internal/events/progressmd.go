package events

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackzampolin/imaginize/internal/atomicfile"
)

// DefaultAppendLockTimeout bounds the wait for the progress.md lock.
const DefaultAppendLockTimeout = 10 * time.Second

// ProgressWriter appends one markdown line per event to a progress log.
// Every append takes the file's exclusive lock, so concurrent processes
// interleave whole lines, never fragments.
type ProgressWriter struct {
	path        string
	lockTimeout time.Duration
	logger      *slog.Logger
}

// NewProgressWriter creates an appender for the given progress.md path.
func NewProgressWriter(path string, logger *slog.Logger) *ProgressWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProgressWriter{
		path:        path,
		lockTimeout: DefaultAppendLockTimeout,
		logger:      logger,
	}
}

// Run consumes events until the channel closes. Append failures are
// logged and dropped; the progress log is an audit trail, not state.
func (w *ProgressWriter) Run(ch <-chan Event) {
	for ev := range ch {
		if err := w.Append(ev); err != nil {
			w.logger.Warn("progress log append failed", "path", w.path, "error", err)
		}
	}
}

// Append writes one event line under the file lock.
func (w *ProgressWriter) Append(ev Event) error {
	lock, err := atomicfile.AcquireLock(w.path, w.lockTimeout)
	if err != nil {
		return err
	}
	defer lock.Release()

	f, err := os.OpenFile(w.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open progress log: %w", err)
	}

	var line string
	if info, serr := f.Stat(); serr == nil && info.Size() == 0 {
		line = "# Progress\n\n"
	}
	line += FormatLine(ev) + "\n"

	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return fmt.Errorf("failed to append progress line: %w", err)
	}
	return f.Close()
}

// FormatLine renders one markdown bullet for an event.
func FormatLine(ev Event) string {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "- %s `%s`", ts.UTC().Format(time.RFC3339), ev.Kind)
	if ev.Phase != "" {
		fmt.Fprintf(&b, " [%s]", ev.Phase)
	}
	if ev.Message != "" {
		b.WriteString(" ")
		b.WriteString(ev.Message)
	}
	if ev.Err != "" {
		fmt.Fprintf(&b, " (error: %s)", ev.Err)
	}
	return b.String()
}
