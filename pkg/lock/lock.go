// Package lock implements a cross-process modifier lock and session
// mutex on top of github.com/nightlyone/lockfile, a PID-stamped file
// lock, standing in for a named OS primitive (Windows named mutex /
// POSIX lock on a socket file under $XDG_RUNTIME_DIR or /tmp):
// lockfile.Lockfile already encodes "who holds this" as a PID in the
// lock file and fails TryLock when the holding process is still
// alive, exactly the liveness signal a crash-aware dependent count
// needs. The API shape (a Getter returning named ReadWrite locks)
// follows the teacher's config.Lock().ReadWrite(prefixer, name) used
// in model/app/installer.go and referenced as lock.Getter in
// model/instance/service.go.
package lock

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nightlyone/lockfile"
)

// Mutex is a named, cross-process exclusive lock.
type Mutex interface {
	Lock() error
	Unlock()
	// TryLock attempts a non-blocking acquisition, returning false
	// (not an error) if another live process holds it.
	TryLock() (bool, error)
}

// Getter resolves named mutexes, mirroring the teacher's lock.Getter.
type Getter interface {
	ReadWrite(name string) Mutex
}

type fileMutex struct {
	path string
	lf   lockfile.Lockfile
	held bool
}

func socketDir() string {
	if d := os.Getenv("XDG_RUNTIME_DIR"); d != "" {
		return d
	}
	return os.TempDir()
}

// sanitizeName keeps the lock file name filesystem-safe; installIds
// and session ids are the only inputs, but a defensive pass costs
// nothing.
func sanitizeName(name string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_")
	return r.Replace(name)
}

func newFileMutex(name string) *fileMutex {
	path := filepath.Join(socketDir(), "vscd-"+sanitizeName(name)+".sock")
	lf, _ := lockfile.New(path)
	return &fileMutex{path: path, lf: lf}
}

// Lock blocks (polling) until the lock is acquired, giving up after
// two minutes. Used for both the cross-process modifier lock and the
// session mutex that NewSession holds for the process lifetime.
func (m *fileMutex) Lock() error {
	const pollInterval = 25 * time.Millisecond
	deadline := time.Now().Add(2 * time.Minute)
	for {
		err := m.lf.TryLock()
		if err == nil {
			m.held = true
			return nil
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(pollInterval)
	}
}

func (m *fileMutex) Unlock() {
	if m.held {
		_ = m.lf.Unlock()
		m.held = false
	}
}

// TryLock attempts a single non-blocking acquisition. A return of
// (false, nil) means a live process holds the lock — this backs the
// install tracker's liveness probe: attempt a non-blocking acquisition
// and release immediately if it succeeds. Any failure to acquire is
// treated as "still contended" rather than distinguishing lockfile's
// specific sentinel errors (stale PID, rogue deletion, ...): we can't
// prove the lock is free, so we must not report no-live-dependents.
func (m *fileMutex) TryLock() (bool, error) {
	err := m.lf.TryLock()
	if err == nil {
		// We were the one who just acquired it: release immediately,
		// since TryLock here is a probe, not a hold.
		_ = m.lf.Unlock()
		return true, nil
	}
	return false, nil
}

type getter struct{}

// NewGetter returns the process-wide lock Getter.
func NewGetter() Getter { return getter{} }

func (getter) ReadWrite(name string) Mutex {
	return newFileMutex(name)
}

// ModifierLockName is the single named lock serialising all mutation
// to the install registry and managed directories, as distinct from a
// per-installId session mark.
const ModifierLockName = "modifier"

// SessionLockName returns the name of the per-session liveness mutex,
// held for the lifetime of the process.
func SessionLockName(sessionID string) string {
	return "session-" + sessionID
}
