package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAcquireLockWritesOwner(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir, ":8080")
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer lock.Release()

	if lock.Path() != filepath.Join(dir, LockFileName) {
		t.Errorf("unexpected lock path %q", lock.Path())
	}
	content, err := os.ReadFile(lock.Path())
	if err != nil {
		t.Fatalf("Failed to read lock file: %v", err)
	}
	owner := ParseOwner(string(content))
	if owner.PID != os.Getpid() {
		t.Errorf("lock file pid = %d, want %d", owner.PID, os.Getpid())
	}
	if owner.Addr != ":8080" {
		t.Errorf("lock file addr = %q, want :8080", owner.Addr)
	}
	if owner.StartedAt.IsZero() {
		t.Errorf("lock file should record a start time: %q", content)
	}
}

func TestLockConflict(t *testing.T) {
	dir := t.TempDir()

	lock1, err := AcquireLock(dir, ":8080")
	if err != nil {
		t.Fatalf("Failed to acquire first lock: %v", err)
	}
	defer lock1.Release()

	lock2, err := AcquireLock(dir, ":9090")
	if err == nil {
		lock2.Release()
		t.Fatalf("Second lock acquisition should have failed")
	}

	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("Expected *LockError, got %T", err)
	}
	if lockErr.Holder.PID != os.Getpid() || lockErr.Holder.Addr != ":8080" {
		t.Errorf("holder should describe the first lock, got %+v", lockErr.Holder)
	}

	msg := err.Error()
	for _, want := range []string{"Another DengueCast instance is already running", dir, "(running)", "listening on :8080"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message missing %q:\n%s", want, msg)
		}
	}
}

func TestLockReleaseAndReacquire(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir, "")
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("Failed to release lock: %v", err)
	}
	if _, err := os.Stat(lock.Path()); !os.IsNotExist(err) {
		t.Errorf("Lock file should be removed after release")
	}
	if err := lock.Release(); err != nil {
		t.Errorf("Second release should be a no-op: %v", err)
	}

	again, err := AcquireLock(dir, "")
	if err != nil {
		t.Fatalf("Failed to reacquire lock after release: %v", err)
	}
	defer again.Release()
}

func TestAcquireLockCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")

	lock, err := AcquireLock(dir, "")
	if err != nil {
		t.Fatalf("Should create directory and acquire lock: %v", err)
	}
	defer lock.Release()

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("Directory should have been created: %v", err)
	}
}

func TestParseOwner(t *testing.T) {
	started := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	tests := []struct {
		name    string
		content string
		want    Owner
	}{
		{"full", "pid=12345\nstarted=2024-05-01T09:30:00Z\naddr=:8080\n", Owner{PID: 12345, StartedAt: started, Addr: ":8080"}},
		{"pid only", "pid=67890\n", Owner{PID: 67890}},
		{"unknown keys ignored", "pid=1\nother=info", Owner{PID: 1}},
		{"empty", "", Owner{}},
		{"invalid pid", "pid=abc", Owner{}},
		{"negative pid", "pid=-4", Owner{}},
		{"no equals", "pid12345", Owner{}},
		{"bad time", "pid=2\nstarted=yesterday", Owner{PID: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseOwner(tt.content)
			if got.PID != tt.want.PID || got.Addr != tt.want.Addr || !got.StartedAt.Equal(tt.want.StartedAt) {
				t.Errorf("ParseOwner(%q) = %+v, want %+v", tt.content, got, tt.want)
			}
		})
	}
}

func TestOwnerStringRoundTrip(t *testing.T) {
	o := Owner{PID: 42, StartedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), Addr: "127.0.0.1:8080"}
	got := ParseOwner(o.String())
	if got.PID != o.PID || got.Addr != o.Addr || !got.StartedAt.Equal(o.StartedAt) {
		t.Errorf("round trip mismatch: %+v vs %+v", got, o)
	}
}

func TestProcessAlive(t *testing.T) {
	if !processAlive(os.Getpid()) {
		t.Errorf("own process should be alive")
	}
}
