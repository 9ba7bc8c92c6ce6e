package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestWriteCreatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	if err := Write(path, []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Fatalf("unexpected content: %s", data)
	}
}

func TestWriteReplacesWholeContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	long := strings.Repeat("a", 4096)
	if err := Write(path, []byte(long)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := Write(path, []byte("short")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "short" {
		t.Fatalf("expected full replacement, got %d bytes", len(data))
	}
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	for i := 0; i < 10; i++ {
		if err := Write(path, []byte(fmt.Sprintf("rev %d", i))); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp.") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestWriteCreatesParentDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".analyze.state", "chapter_1.json")

	if err := Write(path, []byte("{}")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}
}

func TestConcurrentWritersNeverYieldPartialReads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	// Two distinct full payloads. Readers must only ever see one of them.
	payloadA := strings.Repeat("A", 8192)
	payloadB := strings.Repeat("B", 8192)
	if err := Write(path, []byte(payloadA)); err != nil {
		t.Fatalf("seed write: %v", err)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			payload := payloadA
			if i%2 == 1 {
				payload = payloadB
			}
			if err := Write(path, []byte(payload)); err != nil {
				t.Errorf("Write() error = %v", err)
				return
			}
		}
	}()

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			select {
			case <-done:
				return
			default:
			}
			data, err := os.ReadFile(path)
			if err != nil {
				t.Errorf("read: %v", err)
				return
			}
			s := string(data)
			if s != payloadA && s != payloadB {
				t.Errorf("partial read observed: %d bytes, first byte %q", len(s), s[:1])
				return
			}
		}
	}()

	wg.Wait()
	close(done)
	<-readerDone
}

func TestCleanOrphans(t *testing.T) {
	dir := t.TempDir()

	// Orphan from a pid that cannot be alive.
	orphan := filepath.Join(dir, "state.json.tmp.999999999.12345")
	if err := os.WriteFile(orphan, []byte("partial"), 0o644); err != nil {
		t.Fatalf("write orphan: %v", err)
	}
	// Temp file from this live process must survive.
	mine := filepath.Join(dir, fmt.Sprintf("state.json.tmp.%d.12345", os.Getpid()))
	if err := os.WriteFile(mine, []byte("in flight"), 0o644); err != nil {
		t.Fatalf("write own temp: %v", err)
	}
	// Regular files must survive.
	keep := filepath.Join(dir, "state.json")
	if err := os.WriteFile(keep, []byte("{}"), 0o644); err != nil {
		t.Fatalf("write state: %v", err)
	}

	removed := CleanOrphans(dir)
	if removed != 1 {
		t.Fatalf("expected 1 orphan removed, got %d", removed)
	}
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Fatal("expected orphan to be removed")
	}
	if _, err := os.Stat(mine); err != nil {
		t.Fatal("expected live-process temp file to survive")
	}
	if _, err := os.Stat(keep); err != nil {
		t.Fatal("expected state file to survive")
	}
}

func TestLockAcquireRelease(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")

	lock, err := AcquireLock(path, time.Second)
	if err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}

	lockPath := path + LockSuffix
	data, err := os.ReadFile(lockPath)
	if err != nil {
		t.Fatalf("expected lock file: %v", err)
	}
	if strings.TrimSpace(string(data)) != fmt.Sprintf("%d", os.Getpid()) {
		t.Fatalf("expected lock to contain our pid, got %q", data)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Fatal("expected lock file removed after release")
	}

	// Double release is a no-op.
	if err := lock.Release(); err != nil {
		t.Fatalf("second Release() error = %v", err)
	}
}

func TestLockContentionTimesOut(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")

	held, err := AcquireLock(path, time.Second)
	if err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}
	defer held.Release()

	start := time.Now()
	_, err = AcquireLock(path, 300*time.Millisecond)
	if err == nil {
		t.Fatal("expected second acquire to time out")
	}
	if !IsLockTimeout(err) {
		t.Fatalf("expected LockTimeoutError, got %T: %v", err, err)
	}
	if !strings.Contains(err.Error(), path) {
		t.Fatalf("expected contended path in error, got %q", err)
	}
	if elapsed := time.Since(start); elapsed < 300*time.Millisecond {
		t.Fatalf("timed out too early: %v", elapsed)
	}
}

func TestLockSequentialHandoff(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")

	first, err := AcquireLock(path, time.Second)
	if err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}

	acquired := make(chan error, 1)
	go func() {
		second, err := AcquireLock(path, 5*time.Second)
		if err == nil {
			second.Release()
		}
		acquired <- err
	}()

	time.Sleep(100 * time.Millisecond)
	if err := first.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	if err := <-acquired; err != nil {
		t.Fatalf("waiter failed to acquire after release: %v", err)
	}
}

func TestLockReclaimsStaleDeadOwner(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	lockPath := path + LockSuffix

	// Simulate a lock left by a dead process, old enough to be stale.
	if err := os.WriteFile(lockPath, []byte("999999999"), 0o644); err != nil {
		t.Fatalf("write stale lock: %v", err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(lockPath, old, old); err != nil {
		t.Fatalf("age lock: %v", err)
	}

	lock, err := AcquireLock(path, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("expected stale lock reclaim, got %v", err)
	}
	lock.Release()
}

func TestLockDoesNotReclaimLiveOwner(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	lockPath := path + LockSuffix

	// A stale-aged lock held by a live pid (ours) must not be stolen.
	if err := os.WriteFile(lockPath, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644); err != nil {
		t.Fatalf("write lock: %v", err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(lockPath, old, old); err != nil {
		t.Fatalf("age lock: %v", err)
	}

	_, err := AcquireLock(path, 300*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout while live owner holds the lock")
	}
	if !IsLockTimeout(err) {
		t.Fatalf("expected LockTimeoutError, got %v", err)
	}
}

func TestLockReclaimsDirectoryPathology(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	lockPath := path + LockSuffix

	// A directory squatting on the lock path, old enough to be stale.
	if err := os.MkdirAll(filepath.Join(lockPath, "junk"), 0o755); err != nil {
		t.Fatalf("mkdir lock dir: %v", err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(lockPath, old, old); err != nil {
		t.Fatalf("age lock dir: %v", err)
	}

	lock, err := AcquireLock(path, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("expected directory lock reclaim, got %v", err)
	}
	defer lock.Release()

	info, err := os.Stat(lockPath)
	if err != nil {
		t.Fatalf("stat lock: %v", err)
	}
	if info.IsDir() {
		t.Fatal("expected lock path to be a file after reclaim")
	}
}
