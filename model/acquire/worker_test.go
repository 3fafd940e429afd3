package acquire

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotnet-acquire/acquire-core/model/install"
	"github.com/dotnet-acquire/acquire-core/model/version"
	"github.com/dotnet-acquire/acquire-core/pkg/acquireerr"
)

type fakeTracker struct {
	mu          sync.Mutex
	installed   []install.Record
	sf          map[string]chan struct{}
	graveyarded []string
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{sf: make(map[string]chan struct{})}
}

func (f *fakeTracker) GetInstalled(ctx context.Context) ([]install.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]install.Record, len(f.installed))
	copy(out, f.installed)
	return out, nil
}

func (f *fakeTracker) TrackInstall(ctx context.Context, installID, path, requesterID string, validator install.Validator) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.installed {
		if f.installed[i].InstallID == installID {
			f.installed[i].Owners = append(f.installed[i].Owners, requesterID)
			return nil
		}
	}
	f.installed = append(f.installed, install.Record{InstallID: installID, Owners: []string{requesterID}})
	return nil
}

func (f *fakeTracker) UntrackInstall(ctx context.Context, installID, requesterID string) error {
	return nil
}

func (f *fakeTracker) GraveyardPartial(ctx context.Context, installID, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.graveyarded = append(f.graveyarded, installID)
	return nil
}

func (f *fakeTracker) AcquireOnce(ctx context.Context, installID string, checkDone func() (string, bool, error), doInstall func() (string, error)) (string, error) {
	f.mu.Lock()
	ch, inFlight := f.sf[installID]
	if !inFlight {
		ch = make(chan struct{})
		f.sf[installID] = ch
	}
	f.mu.Unlock()

	if inFlight {
		<-ch
		if path, done, err := checkDone(); err == nil && done {
			return path, nil
		}
	}

	if path, done, err := checkDone(); err != nil {
		return "", err
	} else if done {
		return path, nil
	}

	path, err := doInstall()

	f.mu.Lock()
	delete(f.sf, installID)
	f.mu.Unlock()
	close(ch)

	return path, err
}

type fakeResolver struct{ full version.Version }

func (r fakeResolver) ResolveFull(ctx context.Context, spec string, mode install.Mode) (version.Version, error) {
	return r.full, nil
}

type acceptAllValidator struct{}

func (acceptAllValidator) Validate(path string, identity install.Identity) error { return nil }

type rejectValidator struct{}

func (rejectValidator) Validate(path string, identity install.Identity) error {
	return assert.AnError
}

type countingInstaller struct {
	calls int32
	path  string
}

func (c *countingInstaller) Install(ctx context.Context, identity install.Identity, timeoutSec int) (string, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.path, nil
}

func mustParse(t *testing.T, s string) version.Version {
	t.Helper()
	v, err := version.Parse(s)
	require.NoError(t, err)
	return v
}

func TestAcquireInstallsOnceForTwoOwners(t *testing.T) {
	tracker := newFakeTracker()
	identity := install.Identity{Version: "7.0.410", Mode: install.ModeSDK, Architecture: "x64", Scope: install.ScopeLocal}
	installer := &countingInstaller{path: "/installs/" + identity.ID()}

	w := New(Options{
		Tracker:   tracker,
		Resolver:  fakeResolver{full: mustParse(t, "7.0.410")},
		Validator: acceptAllValidator{},
		Local:     installer,
		Global:    installer,
		Distro:    installer,
		DirFor:    func(id string) string { return "/installs/" + id },
		GOOS:      "linux",
	})

	req := Request{
		Version:               "7.0.410",
		Mode:                  install.ModeSDK,
		Architecture:           "x64",
		RequestingExtensionID: "ext-A",
		Policy:                version.PolicyPatch,
		Scope:                 install.ScopeLocal,
	}

	res1, err := w.Acquire(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "/installs/"+identity.ID(), res1.Path)

	req.RequestingExtensionID = "ext-B"
	res2, err := w.Acquire(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, res1.Path, res2.Path)
	assert.Equal(t, int32(1), installer.calls)

	recs, err := tracker.GetInstalled(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.ElementsMatch(t, []string{"ext-A", "ext-B"}, recs[0].Owners)
}

func TestAcquireValidationFailureGraveyardsAndReturnsError(t *testing.T) {
	tracker := newFakeTracker()
	installer := &countingInstaller{path: "/installs/bad"}

	w := New(Options{
		Tracker:   tracker,
		Resolver:  fakeResolver{full: mustParse(t, "7.0.410")},
		Validator: rejectValidator{},
		Local:     installer,
		GOOS:      "linux",
		DirFor:    func(id string) string { return "/installs/" + id },
	})

	req := Request{
		Version:               "7.0.410",
		Mode:                  install.ModeSDK,
		Architecture:           "x64",
		RequestingExtensionID: "ext-A",
		Policy:                version.PolicyPatch,
		Scope:                 install.ScopeLocal,
	}

	_, err := w.Acquire(context.Background(), req)
	require.Error(t, err)

	var acErr *acquireerr.Error
	require.ErrorAs(t, err, &acErr)
	assert.Equal(t, acquireerr.KindInstallValidationFailed, acErr.Kind)

	identity := install.Identity{Version: "7.0.410", Mode: install.ModeSDK, Architecture: "x64", Scope: install.ScopeLocal}
	assert.Equal(t, []string{identity.ID()}, tracker.graveyarded)
}

type passInstallValidator struct{}

func (passInstallValidator) Validate(string) error { return nil }

func TestFindPathReturnsCompatibleTrackedInstall(t *testing.T) {
	tracker := newFakeTracker()
	identity := install.Identity{Version: "7.0.410", Mode: install.ModeSDK, Architecture: "x64", Scope: install.ScopeLocal}
	require.NoError(t, tracker.TrackInstall(context.Background(), identity.ID(), "/installs/"+identity.ID(), "ext-A", passInstallValidator{}))

	w := New(Options{
		Tracker:   tracker,
		Resolver:  fakeResolver{full: mustParse(t, "7.0.410")},
		Validator: acceptAllValidator{},
		DirFor:    func(id string) string { return "/installs/" + id },
		GOOS:      "linux",
	})

	res, ok, err := w.FindPath(context.Background(), FindPathRequest{
		Mode:        install.ModeSDK,
		VersionSpec: "7.0.410",
		Policy:      version.PolicyPatch,
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/installs/"+identity.ID(), res.Path)
	assert.Equal(t, "7.0.410", res.Version)
}

func TestFindPathReportsNotFoundWithoutInstalling(t *testing.T) {
	tracker := newFakeTracker()
	installer := &countingInstaller{path: "/installs/should-not-run"}

	w := New(Options{
		Tracker:   tracker,
		Resolver:  fakeResolver{full: mustParse(t, "7.0.410")},
		Validator: acceptAllValidator{},
		Local:     installer,
		Global:    installer,
		Distro:    installer,
		DirFor:    func(id string) string { return "/installs/" + id },
		GOOS:      "linux",
	})

	_, ok, err := w.FindPath(context.Background(), FindPathRequest{
		Mode:        install.ModeSDK,
		VersionSpec: "7.0.410",
		Policy:      version.PolicyPatch,
	})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int32(0), installer.calls)
}

func TestFindPathWithDisableLocalLookupAlwaysNotFound(t *testing.T) {
	tracker := newFakeTracker()
	identity := install.Identity{Version: "7.0.410", Mode: install.ModeSDK, Architecture: "x64", Scope: install.ScopeLocal}
	require.NoError(t, tracker.TrackInstall(context.Background(), identity.ID(), "/installs/7.0.410", "ext-A", passInstallValidator{}))

	w := New(Options{
		Tracker:   tracker,
		Resolver:  fakeResolver{full: mustParse(t, "7.0.410")},
		Validator: acceptAllValidator{},
		DirFor:    func(id string) string { return "/installs/" + id },
		GOOS:      "linux",
	})

	res, ok, err := w.FindPath(context.Background(), FindPathRequest{
		Mode:               install.ModeSDK,
		VersionSpec:        "7.0.410",
		Policy:             version.PolicyPatch,
		DisableLocalLookup: true,
	})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, FindPathResult{}, res)
}

func TestAcquireRejectsPreviewWhenPolicyRequests(t *testing.T) {
	tracker := newFakeTracker()
	w := New(Options{
		Tracker:   tracker,
		Resolver:  fakeResolver{},
		Validator: acceptAllValidator{},
		GOOS:      "linux",
		DirFor:    func(id string) string { return id },
	})

	req := Request{
		Version:               "7.0.100-preview.1",
		Mode:                  install.ModeSDK,
		Architecture:           "x64",
		RequestingExtensionID: "ext-A",
		Policy:                version.PolicyPatch,
		Scope:                 install.ScopeLocal,
		RejectPreviews:        true,
	}

	_, err := w.Acquire(context.Background(), req)
	require.Error(t, err)
	var acErr *acquireerr.Error
	require.ErrorAs(t, err, &acErr)
	assert.Equal(t, acquireerr.KindInvalidVersion, acErr.Kind)
}
