package atomicfile

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const (
	// LockSuffix is appended to a protected path to form its lock file.
	LockSuffix = ".lock"

	// staleMultiplier scales the acquire timeout to get the age beyond
	// which an unreleased lock is considered abandoned.
	staleMultiplier = 5

	// Poll interval bounds while waiting for a contended lock.
	pollMin = 50 * time.Millisecond
	pollMax = 200 * time.Millisecond
)

// LockTimeoutError reports a failed lock acquisition with the contended path.
type LockTimeoutError struct {
	Path    string
	Timeout time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for lock on %s", e.Timeout, e.Path)
}

// IsLockTimeout reports whether err is a lock acquisition timeout.
func IsLockTimeout(err error) bool {
	var lte *LockTimeoutError
	return errors.As(err, &lte)
}

// Lock is a held file lock. Release removes the lock file.
type Lock struct {
	path     string // protected path, not the lock file
	lockPath string
	released bool
}

// Path returns the protected path this lock guards.
func (l *Lock) Path() string {
	return l.path
}

// Release removes the lock file. Safe to call more than once.
func (l *Lock) Release() error {
	if l.released {
		return nil
	}
	l.released = true
	if err := os.Remove(l.lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release lock %s: %w", l.lockPath, err)
	}
	return nil
}

// AcquireLock takes the lock protecting path, creating "{path}.lock"
// exclusively with the current pid inside. On contention it polls with
// 50-200ms jitter until the timeout, then fails with *LockTimeoutError.
//
// Locks left behind by dead processes are reclaimed: a lock older than
// 5x the timeout whose recorded pid is not alive is removed and acquisition
// retried. A lock path occupied by a directory (seen when a crashed run
// left partial state behind) is treated the same way and removed
// recursively once stale.
func AcquireLock(path string, timeout time.Duration) (*Lock, error) {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	lockPath := path + LockSuffix
	deadline := time.Now().Add(timeout)
	staleAge := timeout * staleMultiplier

	for {
		f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			if _, werr := f.WriteString(strconv.Itoa(os.Getpid())); werr != nil {
				f.Close()
				os.Remove(lockPath)
				return nil, fmt.Errorf("failed to write pid to lock %s: %w", lockPath, werr)
			}
			if cerr := f.Close(); cerr != nil {
				os.Remove(lockPath)
				return nil, fmt.Errorf("failed to close lock %s: %w", lockPath, cerr)
			}
			return &Lock{path: path, lockPath: lockPath}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock %s: %w", lockPath, err)
		}

		reclaimStale(lockPath, staleAge)

		if time.Now().After(deadline) {
			return nil, &LockTimeoutError{Path: path, Timeout: timeout}
		}
		time.Sleep(pollJitter())
	}
}

// pollJitter returns a random sleep in [pollMin, pollMax).
func pollJitter() time.Duration {
	return pollMin + time.Duration(rand.Int63n(int64(pollMax-pollMin)))
}

// reclaimStale removes an abandoned lock so the caller can retry.
// A lock is abandoned when it is older than staleAge and either its
// recorded pid is not alive, its contents are unreadable, or it is a
// directory rather than a file.
func reclaimStale(lockPath string, staleAge time.Duration) {
	info, err := os.Lstat(lockPath)
	if err != nil {
		return // already gone, caller retries
	}
	if time.Since(info.ModTime()) < staleAge {
		return
	}

	if info.IsDir() {
		os.RemoveAll(lockPath)
		return
	}

	pid, err := readLockPid(lockPath)
	if err != nil || !isProcessAlive(pid) {
		os.Remove(lockPath)
	}
}

// readLockPid reads the owning pid recorded inside a lock file.
func readLockPid(lockPath string) (int, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid lock file contents: %w", err)
	}
	return pid, nil
}

// isProcessAlive checks whether a process with the given pid is running.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 checks existence without sending a real signal.
	return proc.Signal(syscall.Signal(0)) == nil
}
