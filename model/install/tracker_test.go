package install

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotnet-acquire/acquire-core/pkg/lock"
	"github.com/dotnet-acquire/acquire-core/pkg/state"
)

type memLockGetter struct {
	mu      map[string]*memMutex
}

type memMutex struct {
	held bool
}

func newMemLockGetter() *memLockGetter {
	return &memLockGetter{mu: make(map[string]*memMutex)}
}

func (g *memLockGetter) ReadWrite(name string) lock.Mutex {
	m, ok := g.mu[name]
	if !ok {
		m = &memMutex{}
		g.mu[name] = m
	}
	return &memMutexHandle{m: m}
}

type memMutexHandle struct{ m *memMutex }

func (h *memMutexHandle) Lock() error {
	h.m.held = true
	return nil
}
func (h *memMutexHandle) Unlock() { h.m.held = false }
func (h *memMutexHandle) TryLock() (bool, error) {
	if h.m.held {
		return false, nil
	}
	h.m.held = true
	h.m.held = false // probe only, matches fileMutex semantics
	return true, nil
}

type fixedDirs struct{ root string }

func (d fixedDirs) DirFor(installID string) string { return d.root + "/" + installID }
func (d fixedDirs) Manages(dir string) bool        { return true }

type passValidator struct{}

func (passValidator) Validate(string) error { return nil }

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	fs := afero.NewMemMapFs()
	store := state.NewFileStore(fs, "/state")
	getter := newMemLockGetter()
	sess, err := NewSession(getter)
	require.NoError(t, err)

	tr, err := New(Options{
		Store:      store,
		Fs:         fs,
		Dirs:       fixedDirs{root: "/installs"},
		LockGetter: getter,
		Session:    sess,
	})
	require.NoError(t, err)
	return tr
}

func TestTrackInstallCreatesRecord(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	err := tr.TrackInstall(ctx, "8.0.100~sdk~x64~local", "/installs/x", "extA", passValidator{})
	require.NoError(t, err)

	recs, err := tr.GetInstalled(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, []string{"extA"}, recs[0].Owners)
}

func TestTrackInstallAddsSecondOwnerWithoutDuplicating(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.TrackInstall(ctx, "id1", "/installs/x", "extA", passValidator{}))
	require.NoError(t, tr.TrackInstall(ctx, "id1", "/installs/x", "extB", passValidator{}))
	require.NoError(t, tr.TrackInstall(ctx, "id1", "/installs/x", "extA", passValidator{}))

	recs, err := tr.GetInstalled(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.ElementsMatch(t, []string{"extA", "extB"}, recs[0].Owners)
}

func TestUntrackInstallDeletesDirWhenLastOwnerAndNoDependents(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.fs.MkdirAll("/installs/id1", 0o755))
	require.NoError(t, tr.TrackInstall(ctx, "id1", "/installs/id1", "extA", passValidator{}))
	require.NoError(t, tr.UntrackInstall(ctx, "id1", "extA"))

	recs, err := tr.GetInstalled(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)

	exists, err := afero.DirExists(tr.fs, "/installs/id1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUntrackInstallGraveyardsWhenDependentLive(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.fs.MkdirAll("/installs/id1", 0o755))
	require.NoError(t, tr.TrackInstall(ctx, "id1", "/installs/id1", "extA", passValidator{}))
	require.NoError(t, tr.MarkInUse(ctx, "id1"))

	// Hold this session's own lock to simulate "still live".
	tr.getter.ReadWrite(lock.SessionLockName(tr.session.ID)).Lock()

	require.NoError(t, tr.UntrackInstall(ctx, "id1", "extA"))

	exists, err := afero.DirExists(tr.fs, "/installs/id1")
	require.NoError(t, err)
	assert.True(t, exists, "graveyarded install should not be deleted yet")

	doc, _, err := tr.readDoc(ctx)
	require.NoError(t, err)
	require.Len(t, doc.Graveyard, 1)
	assert.Equal(t, "id1", doc.Graveyard[0].InstallID)
}

func TestDrainGraveyardDeletesOnceDependentsGone(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.fs.MkdirAll("/installs/id1", 0o755))
	require.NoError(t, tr.TrackInstall(ctx, "id1", "/installs/id1", "extA", passValidator{}))
	require.NoError(t, tr.MarkInUse(ctx, "id1"))
	tr.getter.ReadWrite(lock.SessionLockName(tr.session.ID)).Lock()
	require.NoError(t, tr.UntrackInstall(ctx, "id1", "extA"))

	// Release the simulated dependent session.
	tr.getter.ReadWrite(lock.SessionLockName(tr.session.ID)).Unlock()

	require.NoError(t, tr.DrainGraveyard(ctx))

	exists, err := afero.DirExists(tr.fs, "/installs/id1")
	require.NoError(t, err)
	assert.False(t, exists)

	doc, _, err := tr.readDoc(ctx)
	require.NoError(t, err)
	assert.Empty(t, doc.Graveyard)
}

func TestAcquireOnceRunsInstallOnlyOnce(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	var calls int
	installed := false
	checkDone := func() (string, bool, error) {
		if installed {
			return "/installs/id1", true, nil
		}
		return "", false, nil
	}
	doInstall := func() (string, error) {
		calls++
		time.Sleep(5 * time.Millisecond)
		installed = true
		return "/installs/id1", nil
	}

	results := make(chan string, 4)
	for i := 0; i < 4; i++ {
		go func() {
			p, err := tr.AcquireOnce(ctx, "id1", checkDone, doInstall)
			require.NoError(t, err)
			results <- p
		}()
	}
	for i := 0; i < 4; i++ {
		assert.Equal(t, "/installs/id1", <-results)
	}
	assert.Equal(t, 1, calls)
}

func TestAcquireOnceShortCircuitsWhenAlreadyDone(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	checkDone := func() (string, bool, error) { return "/installs/cached", true, nil }
	doInstall := func() (string, error) {
		t.Fatal("doInstall should not run when checkDone reports true")
		return "", nil
	}

	p, err := tr.AcquireOnce(ctx, "id2", checkDone, doInstall)
	require.NoError(t, err)
	assert.Equal(t, "/installs/cached", p)
}

func TestAcquireOnceRecordsAndClearsPending(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	checkDone := func() (string, bool, error) { return "", false, nil }

	var sawPending []PendingInstall
	doInstall := func() (string, error) {
		pending, err := tr.GetPending(ctx)
		require.NoError(t, err)
		sawPending = pending
		return "/installs/id3", nil
	}

	p, err := tr.AcquireOnce(ctx, "id3", checkDone, doInstall)
	require.NoError(t, err)
	assert.Equal(t, "/installs/id3", p)

	require.Len(t, sawPending, 1)
	assert.Equal(t, "id3", sawPending[0].InstallID)

	after, err := tr.GetPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, after, "pending entry should be cleared once doInstall returns")
}

func TestAcquireOnceClearsPendingEvenOnInstallFailure(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	checkDone := func() (string, bool, error) { return "", false, nil }
	doInstall := func() (string, error) { return "", assert.AnError }

	_, err := tr.AcquireOnce(ctx, "id4", checkDone, doInstall)
	require.Error(t, err)

	pending, err := tr.GetPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestLegacyInstalledMigration(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := state.NewFileStore(fs, "/state")
	require.NoError(t, store.Put(context.Background(), "installed", []byte(`["id1","id2"]`)))

	getter := newMemLockGetter()
	sess, err := NewSession(getter)
	require.NoError(t, err)
	tr, err := New(Options{Store: store, Fs: fs, Dirs: fixedDirs{root: "/installs"}, LockGetter: getter, Session: sess})
	require.NoError(t, err)

	doc, _, err := tr.readDoc(context.Background())
	require.NoError(t, err)
	require.Len(t, doc.Installed, 2)
	assert.Equal(t, []string{nullOwner}, doc.Installed[0].Owners)
}
