package install

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"

	"github.com/dotnet-acquire/acquire-core/pkg/acquireerr"
	"github.com/dotnet-acquire/acquire-core/pkg/lock"
	"github.com/dotnet-acquire/acquire-core/pkg/logger"
	"github.com/dotnet-acquire/acquire-core/pkg/metrics"
	"github.com/dotnet-acquire/acquire-core/pkg/state"
)

const (
	installedKey = "installed"
	marksKey     = "marks" // installId -> []sessionId, our own addition (see DESIGN.md)
)

// DirProvider maps an installId to its on-disk directory, and reports
// whether a given directory is managed by this tracker instance.
type DirProvider interface {
	DirFor(installID string) string
	Manages(dir string) bool
}

// Validator checks that a path holds a working dotnet executable.
// Implemented by model/acquire's adapter over pkg/pathfinder's Finder;
// declared here as a narrow interface
// to avoid a model/install <-> pkg/pathfinder import cycle.
type Validator interface {
	Validate(path string) error
}

// Tracker is the Install Tracker.
type Tracker struct {
	store   state.Store
	fs      afero.Fs
	dirs    DirProvider
	getter  lock.Getter
	session *Session
	clock   clockwork.Clock
	log     logger.Logger

	sf singleflight.Group
	mu sync.Mutex // serialises registry reads/writes within this process

	cronJob *cron.Cron
	m       *metrics.Registry
}

// Options configures a new Tracker.
type Options struct {
	Store       state.Store
	Fs          afero.Fs
	Dirs        DirProvider
	LockGetter  lock.Getter
	Session     *Session
	Clock       clockwork.Clock
	SweepEvery  time.Duration     // 0 disables the periodic graveyard sweep
	Metrics     *metrics.Registry // defaults to metrics.Shared() when nil
}

// New constructs a Tracker and, if SweepEvery > 0, starts the
// background graveyard sweep.
func New(opts Options) (*Tracker, error) {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.Shared()
	}
	t := &Tracker{
		store:   opts.Store,
		fs:      opts.Fs,
		dirs:    opts.Dirs,
		getter:  opts.LockGetter,
		session: opts.Session,
		clock:   opts.Clock,
		log:     logger.WithNamespace("tracker"),
		m:       m,
	}

	if opts.SweepEvery > 0 {
		t.cronJob = cron.New(cron.WithSeconds())
		spec := "@every " + opts.SweepEvery.String()
		if _, err := t.cronJob.AddFunc(spec, func() {
			t.m.GraveyardSweepRuns.Inc()
			if err := t.DrainGraveyard(context.Background()); err != nil {
				t.log.Warnf("graveyard sweep failed: %s", err)
			}
		}); err != nil {
			return nil, err
		}
		t.cronJob.Start()
	}

	return t, nil
}

// Close stops the background sweep, if running.
func (t *Tracker) Close() {
	if t.cronJob != nil {
		t.cronJob.Stop()
	}
}

func (t *Tracker) readDoc(ctx context.Context) (registryDoc, map[string][]string, error) {
	var doc registryDoc
	if ok, err := state.GetJSON(ctx, t.store, installedKey, &installedWrapper{&doc}); err != nil {
		// Attempt legacy migration: the raw value might be a bare
		// array of strings/partial objects rather than registryDoc's
		// shape.
		raw, present, rerr := t.store.Get(ctx, installedKey)
		if rerr != nil || !present {
			return doc, nil, err
		}
		var legacy []interface{}
		if jerr := json.Unmarshal(raw, &legacy); jerr == nil {
			doc.Installed = migrateLegacyInstalled(legacy)
		} else {
			return doc, nil, err
		}
	} else if !ok {
		doc = registryDoc{}
	}

	marks := map[string][]string{}
	_, _ = state.GetJSON(ctx, t.store, marksKey, &marks)

	return doc, marks, nil
}

// installedWrapper lets registryDoc be read and written as one JSON
// object at the "installed" key: installed, graveyard and pending are
// fields of that object, and there is no separate graveyard key.
type installedWrapper struct {
	doc *registryDoc
}

func (w *installedWrapper) UnmarshalJSON(b []byte) error {
	return json.Unmarshal(b, w.doc)
}
func (w *installedWrapper) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.doc)
}

func (t *Tracker) writeDoc(ctx context.Context, doc registryDoc, marks map[string][]string) error {
	if err := state.PutJSON(ctx, t.store, installedKey, &installedWrapper{&doc}); err != nil {
		return err
	}
	return state.PutJSON(ctx, t.store, marksKey, marks)
}

// withModifierLock runs fn holding both the in-process mutex and the
// cross-process modifier lock: acquire, read, mutate, write, release.
// fn returns whether the document was mutated.
func (t *Tracker) withModifierLock(ctx context.Context, fn func(doc *registryDoc, marks map[string][]string) (bool, error)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	modifier := t.getter.ReadWrite(lock.ModifierLockName)
	if err := modifier.Lock(); err != nil {
		return err
	}
	defer modifier.Unlock()

	doc, marks, err := t.readDoc(ctx)
	if err != nil {
		return err
	}

	mutated, err := fn(&doc, marks)
	if err != nil {
		return err
	}
	if mutated {
		return t.writeDoc(ctx, doc, marks)
	}
	return nil
}

func findRecord(doc *registryDoc, installID string) (*Record, int) {
	for i := range doc.Installed {
		if doc.Installed[i].InstallID == installID {
			return &doc.Installed[i], i
		}
	}
	return nil, -1
}

// TrackInstall creates the record if absent, otherwise adds
// requesterID to its owners.
func (t *Tracker) TrackInstall(ctx context.Context, installID, path, requesterID string, validator Validator) error {
	if err := validator.Validate(path); err != nil {
		return acquireerr.InstallValidationFailed(installID, err.Error())
	}
	err := t.withModifierLock(ctx, func(doc *registryDoc, marks map[string][]string) (bool, error) {
		rec, idx := findRecord(doc, installID)
		mutated := false
		if idx == -1 {
			doc.Installed = append(doc.Installed, Record{InstallID: installID, Owners: []string{requesterID}})
			mutated = true
		} else {
			before := len(rec.Owners)
			rec.addOwner(requesterID)
			mutated = len(rec.Owners) != before
		}
		t.m.TrackedInstalls.Set(float64(len(doc.Installed)))
		return mutated, nil
	})
	return err
}

// UntrackInstall removes requesterID from installID's owners. If the
// owner set becomes empty, the record is deleted and, provided no live
// session still marks it in use, the on-disk directory is removed;
// otherwise the entry moves to the graveyard.
func (t *Tracker) UntrackInstall(ctx context.Context, installID, requesterID string) error {
	var deleteDir bool
	var toGraveyard *GraveyardEntry

	err := t.withModifierLock(ctx, func(doc *registryDoc, marks map[string][]string) (bool, error) {
		rec, idx := findRecord(doc, installID)
		if idx == -1 {
			return false, nil
		}
		rec.removeOwner(requesterID)
		if len(rec.Owners) > 0 {
			return true, nil
		}

		// Owner set now empty: remove the record, and either delete
		// the directory or move it to the graveyard.
		doc.Installed = append(doc.Installed[:idx], doc.Installed[idx+1:]...)

		noDependents, lerr := t.installHasNoLiveDependentsLocked(marks, installID)
		if lerr != nil {
			return false, lerr
		}
		if noDependents {
			deleteDir = true
			delete(marks, installID)
		} else {
			toGraveyard = &GraveyardEntry{InstallID: installID, Path: t.dirs.DirFor(installID)}
			doc.Graveyard = append(doc.Graveyard, *toGraveyard)
		}
		t.m.TrackedInstalls.Set(float64(len(doc.Installed)))
		return true, nil
	})
	if err != nil {
		return err
	}
	if deleteDir {
		return t.fs.RemoveAll(t.dirs.DirFor(installID))
	}
	return nil
}

// GraveyardPartial records a partial, never-owned install directory so
// DrainGraveyard eventually reclaims it.
func (t *Tracker) GraveyardPartial(ctx context.Context, installID, path string) error {
	return t.withModifierLock(ctx, func(doc *registryDoc, marks map[string][]string) (bool, error) {
		for _, e := range doc.Graveyard {
			if e.InstallID == installID {
				return false, nil
			}
		}
		doc.Graveyard = append(doc.Graveyard, GraveyardEntry{InstallID: installID, Path: path})
		return true, nil
	})
}

// GetInstalled returns installed records whose directory is managed
// by dirs.
func (t *Tracker) GetInstalled(ctx context.Context) ([]Record, error) {
	doc, _, err := t.readDoc(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(doc.Installed))
	for _, r := range doc.Installed {
		if t.dirs.Manages(t.dirs.DirFor(r.InstallID)) {
			out = append(out, r)
		}
	}
	return out, nil
}

// MarkInUse records, in both the in-process Session and the
// cross-process registry, that this session depends on installID.
func (t *Tracker) MarkInUse(ctx context.Context, installID string) error {
	t.session.MarkInUse(installID)
	return t.withModifierLock(ctx, func(doc *registryDoc, marks map[string][]string) (bool, error) {
		for _, sid := range marks[installID] {
			if sid == t.session.ID {
				return false, nil
			}
		}
		marks[installID] = append(marks[installID], t.session.ID)
		return true, nil
	})
}

// installHasNoLiveDependentsLocked assumes the caller already holds
// the modifier lock and the in-process mutex; it probes each recorded
// session's mutex non-blockingly and prunes dead sessions from marks
// as a side effect.
func (t *Tracker) installHasNoLiveDependentsLocked(marks map[string][]string, installID string) (bool, error) {
	sessions := marks[installID]
	if len(sessions) == 0 {
		return true, nil
	}

	var merr *multierror.Error
	live := make([]string, 0, len(sessions))
	for _, sid := range sessions {
		free, err := t.getter.ReadWrite(lock.SessionLockName(sid)).TryLock()
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		if !free {
			live = append(live, sid)
		}
	}
	marks[installID] = live
	if merr != nil {
		return false, merr.ErrorOrNil()
	}
	return len(live) == 0, nil
}

// InstallHasNoLiveDependents is the public, lock-acquiring form of
// installHasNoLiveDependentsLocked, used outside of a transaction
// already in flight (e.g. by drainGraveyard).
func (t *Tracker) InstallHasNoLiveDependents(ctx context.Context, installID string) (bool, error) {
	var result bool
	err := t.withModifierLock(ctx, func(doc *registryDoc, marks map[string][]string) (bool, error) {
		before := len(marks[installID])
		var err error
		result, err = t.installHasNoLiveDependentsLocked(marks, installID)
		return len(marks[installID]) != before, err
	})
	return result, err
}

// DrainGraveyard deletes every graveyard entry whose install has no
// live dependents, skipping those still in use. Failures for
// individual entries are combined with go-multierror so one stuck
// entry doesn't block draining the rest.
func (t *Tracker) DrainGraveyard(ctx context.Context) error {
	var merr *multierror.Error
	var toDelete []GraveyardEntry

	err := t.withModifierLock(ctx, func(doc *registryDoc, marks map[string][]string) (bool, error) {
		remaining := doc.Graveyard[:0]
		mutated := false
		for _, entry := range doc.Graveyard {
			free, lerr := t.installHasNoLiveDependentsLocked(marks, entry.InstallID)
			if lerr != nil {
				merr = multierror.Append(merr, lerr)
				remaining = append(remaining, entry)
				continue
			}
			if free {
				toDelete = append(toDelete, entry)
				delete(marks, entry.InstallID)
				mutated = true
			} else {
				remaining = append(remaining, entry)
			}
		}
		doc.Graveyard = remaining
		return mutated, nil
	})
	if err != nil {
		merr = multierror.Append(merr, err)
	}

	for _, entry := range toDelete {
		if rerr := t.fs.RemoveAll(entry.Path); rerr != nil {
			merr = multierror.Append(merr, rerr)
		} else {
			t.m.GraveyardReclaimed.Inc()
		}
	}
	return merr.ErrorOrNil()
}

// AcquireOnce ensures that, for a given installId, concurrent callers
// in this process share one in-flight computation (via
// golang.org/x/sync/singleflight) and that, across processes, only
// one holds the modifier lock at a time.
//
// checkDone is re-consulted immediately after the modifier lock is
// acquired: a caller that waited for the lock may find the winner
// already finished the work, in which case checkDone's result is
// returned without running doInstall. While doInstall actually runs, a
// PendingInstall entry is recorded so a process that crashes mid-install
// leaves a recognisable trace rather than an install directory nobody
// claims.
func (t *Tracker) AcquireOnce(ctx context.Context, installID string, checkDone func() (string, bool, error), doInstall func() (string, error)) (string, error) {
	v, err, _ := t.sf.Do(installID, func() (interface{}, error) {
		if path, done, cerr := checkDone(); cerr == nil && done {
			return path, nil
		} else if cerr != nil {
			return "", cerr
		}

		modifier := t.getter.ReadWrite(lock.ModifierLockName)
		if lerr := t.acquireWithBackoff(ctx, modifier); lerr != nil {
			return "", lerr
		}
		defer modifier.Unlock()

		if path, done, cerr := checkDone(); cerr != nil {
			return "", cerr
		} else if done {
			return path, nil
		}

		if perr := t.recordPending(ctx, installID); perr != nil {
			t.log.Warnf("failed to record pending install %s: %s", installID, perr)
		}
		path, derr := doInstall()
		if perr := t.clearPending(ctx, installID); perr != nil {
			t.log.Warnf("failed to clear pending install %s: %s", installID, perr)
		}
		return path, derr
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// recordPending adds a PendingInstall entry for installID if one isn't
// already present. Called while the modifier lock is already held by
// AcquireOnce, so it only needs the in-process mutex here.
func (t *Tracker) recordPending(ctx context.Context, installID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	doc, marks, err := t.readDoc(ctx)
	if err != nil {
		return err
	}
	for _, p := range doc.Pending {
		if p.InstallID == installID {
			return nil
		}
	}
	doc.Pending = append(doc.Pending, PendingInstall{
		InstallID:  installID,
		SessionID:  t.session.ID,
		AcquiredAt: t.clock.Now(),
	})
	return t.writeDoc(ctx, doc, marks)
}

// clearPending removes installID's PendingInstall entry, if any.
func (t *Tracker) clearPending(ctx context.Context, installID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	doc, marks, err := t.readDoc(ctx)
	if err != nil {
		return err
	}
	out := doc.Pending[:0]
	changed := false
	for _, p := range doc.Pending {
		if p.InstallID == installID {
			changed = true
			continue
		}
		out = append(out, p)
	}
	if !changed {
		return nil
	}
	doc.Pending = out
	return t.writeDoc(ctx, doc, marks)
}

// GetPending returns installs currently mid-flight across all
// sessions, for diagnostics and crash-recovery tooling.
func (t *Tracker) GetPending(ctx context.Context) ([]PendingInstall, error) {
	doc, _, err := t.readDoc(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Pending, nil
}

// acquireWithBackoff retries lock acquisition with exponential backoff
// rather than a tight poll loop, and stops promptly if ctx is
// cancelled: locks are released on every exit path.
func (t *Tracker) acquireWithBackoff(ctx context.Context, m lock.Mutex) error {
	b := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	return backoff.Retry(func() error {
		return m.Lock()
	}, b)
}
