package install

import (
	"sync"

	"github.com/gofrs/uuid"

	"github.com/dotnet-acquire/acquire-core/pkg/lock"
	"github.com/dotnet-acquire/acquire-core/pkg/logger"
)

// Session is this library's notion of "a running process that may be
// depending on installs", identified by an OS-backed named lock held
// for the process lifetime.
type Session struct {
	ID string

	mu      sync.Mutex
	mutex   lock.Mutex
	inUse   map[string]bool // installId -> marked in use
	log     logger.Logger
}

// NewSession claims a process-unique session id and acquires its
// session mutex, which is held for the lifetime of the process — there
// is no explicit release path in business code. A second process
// attempting the
// same session id never happens by construction (uuid collision is
// practically impossible); the liveness signal is about *other*
// sessions' mutexes, probed through Tracker.InstallHasNoLiveDependents.
func NewSession(getter lock.Getter) (*Session, error) {
	id, err := uuid.NewV4()
	sessionID := id.String()
	if err != nil {
		sessionID = fallbackSessionID()
	}

	mutex := getter.ReadWrite(lock.SessionLockName(sessionID))
	if err := mutex.Lock(); err != nil {
		return nil, err
	}

	return &Session{
		ID:    sessionID,
		mutex: mutex,
		inUse: make(map[string]bool),
		log:   logger.WithNamespace("session").WithFields(logger.Fields{"sessionId": sessionID}),
	}, nil
}

// MarkInUse records that this session currently depends on
// installID's path.
func (s *Session) MarkInUse(installID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inUse[installID] = true
}

// Unmark releases this session's dependency on installID, e.g. after
// an uninstallAll that didn't actually delete the directory because
// other owners remain.
func (s *Session) Unmark(installID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inUse, installID)
}

// Marks returns the set of installIds this session currently depends
// on.
func (s *Session) Marks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.inUse))
	for id, v := range s.inUse {
		if v {
			out = append(out, id)
		}
	}
	return out
}
