// Package lockfile keeps two DengueCast processes from sharing one state directory.
//
// The lock is an flock on a file inside the state directory, so the kernel drops it
// when the owning process exits for any reason.
package lockfile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory
const LockFileName = "denguecast.lock"

// Owner describes the process recorded in a lock file.
type Owner struct {
	PID       int
	StartedAt time.Time
	Addr      string
}

// String renders the owner as key=value lines, the lock file format.
func (o Owner) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pid=%d\n", o.PID)
	if !o.StartedAt.IsZero() {
		fmt.Fprintf(&b, "started=%s\n", o.StartedAt.UTC().Format(time.RFC3339))
	}
	if o.Addr != "" {
		fmt.Fprintf(&b, "addr=%s\n", o.Addr)
	}
	return b.String()
}

// ParseOwner reads lock file content. Unknown keys are ignored; a missing or
// malformed pid leaves PID at zero.
func ParseOwner(content string) Owner {
	var o Owner
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil && pid > 0 {
				o.PID = pid
			}
		case "started":
			if ts, err := time.Parse(time.RFC3339, value); err == nil {
				o.StartedAt = ts
			}
		case "addr":
			o.Addr = value
		}
	}
	return o
}

// Lock is a held state directory lock.
type Lock struct {
	file  *os.File
	path  string
	owner Owner
}

// AcquireLock takes an exclusive lock on stateDir, creating the directory if needed.
// addr is recorded so an operator can see which listener holds the lock. A held lock
// is reported as a *LockError describing the other process.
func AcquireLock(stateDir, addr string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("Lockfile AcquireLock: attempting", "lock_path", lockPath)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// O_TRUNC would wipe the holder's info before we know whether we won, so truncate after flock.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		lockErr := &LockError{LockPath: lockPath, Cause: err}
		if data, readErr := os.ReadFile(lockPath); readErr == nil {
			lockErr.Holder = ParseOwner(string(data))
		}
		slog.Error("Lockfile AcquireLock: state directory already locked",
			"lock_path", lockPath, "holder_pid", lockErr.Holder.PID, "error", err)
		return nil, lockErr
	}

	owner := Owner{PID: os.Getpid(), StartedAt: time.Now(), Addr: addr}
	if err := writeOwner(file, owner); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("Lockfile AcquireLock: state directory locked", "lock_path", lockPath, "pid", owner.PID)
	return &Lock{file: file, path: lockPath, owner: owner}, nil
}

func writeOwner(f *os.File, o Owner) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt([]byte(o.String()), 0); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		slog.Warn("Lockfile writeOwner: sync failed", "error", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Owner returns the information written to the lock file.
func (l *Lock) Owner() Owner { return l.owner }

// Release drops the lock and removes the lock file. Calling it more than once is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove before unlocking so a waiting process never sees our stale info.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Lockfile Release: failed to remove lock file", "lock_path", l.path, "error", err)
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Error("Lockfile Release: failed to unlock", "lock_path", l.path, "error", err)
	}
	err := l.file.Close()
	l.file = nil
	slog.Info("Lockfile Release: state directory unlocked", "lock_path", l.path)
	return err
}

// LockError is returned when another process holds the state directory lock.
type LockError struct {
	LockPath string
	Holder   Owner
	Cause    error
}

func (e *LockError) Error() string {
	var b strings.Builder
	b.WriteString("Another DengueCast instance is already running using the same state directory.\n\n")
	fmt.Fprintf(&b, "Lock file: %s", e.LockPath)
	if e.Holder.PID > 0 {
		status := "running"
		if !processAlive(e.Holder.PID) {
			status = "not running - stale lock"
		}
		fmt.Fprintf(&b, "\nHolder: PID %d (%s)", e.Holder.PID, status)
		if !e.Holder.StartedAt.IsZero() {
			fmt.Fprintf(&b, ", started %s", e.Holder.StartedAt.Format(time.RFC3339))
		}
		if e.Holder.Addr != "" {
			fmt.Fprintf(&b, ", listening on %s", e.Holder.Addr)
		}
	}
	fmt.Fprintf(&b, "\n\nIf no other DengueCast instance is running, remove the stale lock with:\n  rm %s", e.LockPath)
	return b.String()
}

func (e *LockError) Unwrap() error { return e.Cause }

// processAlive sends signal 0, which checks for existence without delivering anything.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
