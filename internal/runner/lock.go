// Package runner implements the external worker process described in the
// runner coordination protocol: a poll loop bound to one queue, guarded by a
// single-runner-per-queue lockfile.
package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/gofrs/flock"
)

// ErrAlreadyRunning is returned by AcquireLock when the lockfile's recorded
// PID belongs to a live process. The message deliberately contains "already
// running" so callers and operators can distinguish it from a transient
// acquisition failure.
type ErrAlreadyRunning struct {
	QueueName string
	PID       int
}

func (e *ErrAlreadyRunning) Error() string {
	return fmt.Sprintf("a runner is already running for queue %q (pid %d)", e.QueueName, e.PID)
}

// Lock guards one queue against more than one concurrently running runner.
// It wraps a flock.Flock over a well-known path derived from the queue name
// and writes the holding process's PID into the file body so a future runner
// can tell a live holder from a stale one.
type Lock struct {
	flock *flock.Flock
	path  string
}

// lockDir is where runner lockfiles live; callers may override via
// SPARKQ_RUNNER_LOCK_DIR for tests, defaulting to the OS temp dir otherwise.
func lockDir() string {
	if dir := os.Getenv("SPARKQ_RUNNER_LOCK_DIR"); dir != "" {
		return dir
	}
	return os.TempDir()
}

func lockPath(queueName string) string {
	safe := strings.Map(func(r rune) rune {
		if r == '/' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, queueName)
	return filepath.Join(lockDir(), fmt.Sprintf("sparkq-runner-%s.lock", safe))
}

// AcquireLock creates or reclaims the lockfile for queueName. If the file
// already exists with a PID belonging to a live process, it returns
// *ErrAlreadyRunning. If the recorded PID is dead, the stale lockfile is
// reclaimed in place.
func AcquireLock(queueName string) (*Lock, error) {
	path := lockPath(queueName)

	if pid, ok := readLivePID(path); ok {
		return nil, &ErrAlreadyRunning{QueueName: queueName, PID: pid}
	}

	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire runner lock %s: %w", path, err)
	}
	if !locked {
		// Lost a race against another process acquiring the same file
		// between our liveness check and TryLock; treat as already running.
		pid, _ := readPID(path)
		return nil, &ErrAlreadyRunning{QueueName: queueName, PID: pid}
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		_ = fl.Unlock()
		return nil, fmt.Errorf("failed to write runner lock %s: %w", path, err)
	}

	return &Lock{flock: fl, path: path}, nil
}

// Release unlocks and removes the lockfile. It is idempotent and safe to
// call from a signal handler or a deferred cleanup.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	_ = os.Remove(l.path)
	return l.flock.Unlock()
}

// LiveRunnerPID reports the PID of the runner currently holding the
// lockfile for queueName, or 0 if no live runner holds it. It is a
// read-only observation: it never acquires or reclaims the lockfile,
// unlike AcquireLock.
func LiveRunnerPID(queueName string) int {
	pid, ok := readLivePID(lockPath(queueName))
	if !ok {
		return 0
	}
	return pid
}

func readPID(path string) (int, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, false
	}
	return pid, true
}

// readLivePID reports the PID recorded in path, if any, and whether that
// process is currently alive. A missing file or an unparseable body is
// treated as "no live holder" so the caller proceeds to acquire the lock.
func readLivePID(path string) (int, bool) {
	pid, ok := readPID(path)
	if !ok {
		return 0, false
	}
	if !processAlive(pid) {
		return 0, false
	}
	return pid, true
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; signal 0 probes for existence
	// without actually sending a signal.
	return proc.Signal(syscall.Signal(0)) == nil
}
