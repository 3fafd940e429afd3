// Package acquire implements the Acquisition Worker: the single front
// door that turns a request into a validated dotnet path. It is
// grounded on the teacher's model/app.Installer — an
// Operation-dispatching front door over a Fetcher capability — with
// Fetcher generalised to three scope/OS-specific Installer
// capabilities (Local, Global, Distro) and Operation collapsed away
// since this package only ever "installs".
package acquire

import (
	"context"
	"runtime"
	"time"

	"github.com/dotnet-acquire/acquire-core/pkg/acquireerr"
	"github.com/dotnet-acquire/acquire-core/pkg/logger"
	"github.com/dotnet-acquire/acquire-core/pkg/metrics"

	"github.com/dotnet-acquire/acquire-core/model/install"
	"github.com/dotnet-acquire/acquire-core/model/version"
)

// Request is an acquire request: a version spec plus the mode,
// architecture, and scope of the install the caller wants.
type Request struct {
	Version               string
	Mode                  install.Mode
	Architecture          string
	RequestingExtensionID string
	Policy                version.Policy
	TimeoutSec            int
	Scope                 install.Scope
	RejectPreviews        bool
}

// Result is an acquire result: the resolved dotnet path.
type Result struct {
	Path string
}

// VersionResolver is the Web Fetcher capability the Worker needs: given
// a band-only or coarser version spec, resolve it to a fully specified
// Version via release metadata.
type VersionResolver interface {
	ResolveFull(ctx context.Context, spec string, mode install.Mode) (version.Version, error)
}

// Installer is the shape of all three installer capabilities (Local,
// Global, Distro); the Worker never knows which concrete package it
// is talking to.
type Installer interface {
	Install(ctx context.Context, identity install.Identity, timeoutSec int) (string, error)
}

// Validator checks a produced path against an install's identity
// (architecture, in particular) before it's trusted.
type Validator interface {
	Validate(path string, identity install.Identity) error
}

// TrackerCapability is the narrow slice of *install.Tracker the Worker
// depends on. Keeping it an interface, rather than importing
// *install.Tracker directly everywhere, keeps the dependency one-way:
// install never imports acquire.
type TrackerCapability interface {
	GetInstalled(ctx context.Context) ([]install.Record, error)
	TrackInstall(ctx context.Context, installID, path, requesterID string, validator install.Validator) error
	UntrackInstall(ctx context.Context, installID, requesterID string) error
	GraveyardPartial(ctx context.Context, installID, path string) error
	AcquireOnce(ctx context.Context, installID string, checkDone func() (string, bool, error), doInstall func() (string, error)) (string, error)
}

// Worker is the Acquisition Worker.
type Worker struct {
	tracker   TrackerCapability
	resolver  VersionResolver
	validator Validator

	local  Installer
	global Installer
	distro Installer

	dirFor func(installID string) string

	goos string // overridable in tests; defaults to runtime.GOOS
	log  logger.Logger
	m    *metrics.Registry
}

// Options configures a new Worker.
type Options struct {
	Tracker   TrackerCapability
	Resolver  VersionResolver
	Validator Validator
	Local     Installer
	Global    Installer
	Distro    Installer
	DirFor    func(installID string) string
	GOOS      string
	Metrics   *metrics.Registry // defaults to metrics.Shared() when nil
}

// New constructs a Worker.
func New(opts Options) *Worker {
	goos := opts.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.Shared()
	}
	return &Worker{
		tracker:   opts.Tracker,
		resolver:  opts.Resolver,
		validator: opts.Validator,
		local:     opts.Local,
		global:    opts.Global,
		distro:    opts.Distro,
		dirFor:    opts.DirFor,
		goos:      goos,
		log:       logger.WithNamespace("acquire"),
		m:         m,
	}
}

// validatorAdapter lets Worker.validator (keyed by identity) satisfy
// install.Validator (keyed by path alone) at TrackInstall call sites.
type validatorAdapter struct {
	v        Validator
	identity install.Identity
}

func (a validatorAdapter) Validate(path string) error { return a.v.Validate(path, a.identity) }

// Acquire resolves req's version, reuses a compatible tracked or
// already-installed copy when one validates, and otherwise installs
// and tracks a fresh one.
func (w *Worker) Acquire(ctx context.Context, req Request) (result Result, err error) {
	start := time.Now()
	defer func() {
		w.m.AcquireDuration.WithLabelValues(string(req.Mode)).Observe(time.Since(start).Seconds())
		w.m.AcquireTotal.WithLabelValues(outcomeLabel(err)).Inc()
	}()

	v, err := w.normaliseVersion(ctx, req)
	if err != nil {
		return Result{}, err
	}
	if req.RejectPreviews && v.IsPreview() {
		return Result{}, acquireerr.InvalidVersion(req.Version)
	}

	identity := install.Identity{
		Version:      v.String(),
		Mode:         req.Mode,
		Architecture: req.Architecture,
		Scope:        req.Scope,
	}
	installID := identity.ID()

	if path, ok, ferr := w.findCompatibleInstalled(ctx, req, v, identity); ferr != nil {
		err = ferr
		return Result{}, err
	} else if ok {
		w.m.AcquireReusedExisting.Inc()
		if err = w.tracker.TrackInstall(ctx, installID, path, req.RequestingExtensionID, validatorAdapter{w.validator, identity}); err != nil {
			return Result{}, err
		}
		return Result{Path: path}, nil
	}

	path, err := w.tracker.AcquireOnce(ctx, installID,
		func() (string, bool, error) { return w.checkAlreadyInstalled(ctx, identity) },
		func() (string, error) { return w.installAndValidate(ctx, req, identity) },
	)
	if err != nil {
		return Result{}, err
	}

	if err = w.tracker.TrackInstall(ctx, installID, path, req.RequestingExtensionID, validatorAdapter{w.validator, identity}); err != nil {
		return Result{}, err
	}
	return Result{Path: path}, nil
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (w *Worker) normaliseVersion(ctx context.Context, req Request) (version.Version, error) {
	class, err := version.Classify(req.Version)
	if err != nil {
		return version.Version{}, acquireerr.InvalidVersion(req.Version)
	}
	if class == version.ClassFull {
		return version.Parse(req.Version)
	}
	v, err := w.resolver.ResolveFull(ctx, req.Version, req.Mode)
	if err != nil {
		return version.Version{}, acquireerr.VersionResolutionFailed(req.Version, err)
	}
	return v, nil
}

// findCompatibleInstalled scans already-tracked records for one
// compatible with the request under its policy, in the same
// mode/architecture/scope, that also passes path validation.
func (w *Worker) findCompatibleInstalled(ctx context.Context, req Request, requested version.Version, identity install.Identity) (string, bool, error) {
	recs, err := w.tracker.GetInstalled(ctx)
	if err != nil {
		return "", false, err
	}

	var best string
	var bestVersion version.Version
	found := false

	for _, r := range recs {
		cand, mode, arch, scope, ok := parseInstallID(r.InstallID)
		if !ok || mode != identity.Mode || arch != identity.Architecture || scope != identity.Scope {
			continue
		}
		if !version.IsCompatible(cand, requested, req.Policy) {
			continue
		}
		if found && version.Compare(cand, bestVersion) <= 0 {
			continue
		}
		path := w.dirFor(r.InstallID)
		if w.validator.Validate(path, install.Identity{Version: cand.String(), Mode: mode, Architecture: arch, Scope: scope}) != nil {
			continue
		}
		best, bestVersion, found = path, cand, true
	}
	return best, found, nil
}

// FindPathRequest is findPath's request: resolve versionSpec and
// report whether a compatible install already exists, without
// installing anything.
type FindPathRequest struct {
	Mode               install.Mode
	VersionSpec        string
	Policy             version.Policy
	RejectPreviews     bool
	DisableLocalLookup bool
}

// FindPathResult is findPath's success result.
type FindPathResult struct {
	Path    string
	Version string
}

// FindPath resolves req.VersionSpec and looks for a tracked install
// compatible with it under req.Policy, in the same mode, without
// triggering an install. The tracker's registry is this
// implementation's only lookup source, so DisableLocalLookup (meant to
// suppress checking installs this process itself tracks) always
// reports not-found rather than falling back to some other source.
func (w *Worker) FindPath(ctx context.Context, req FindPathRequest) (FindPathResult, bool, error) {
	if req.DisableLocalLookup {
		return FindPathResult{}, false, nil
	}

	v, err := w.normaliseVersion(ctx, Request{Version: req.VersionSpec, Mode: req.Mode})
	if err != nil {
		return FindPathResult{}, false, err
	}
	if req.RejectPreviews && v.IsPreview() {
		return FindPathResult{}, false, acquireerr.InvalidVersion(req.VersionSpec)
	}

	recs, err := w.tracker.GetInstalled(ctx)
	if err != nil {
		return FindPathResult{}, false, err
	}

	var best string
	var bestVersion version.Version
	found := false
	for _, r := range recs {
		cand, mode, arch, scope, ok := parseInstallID(r.InstallID)
		if !ok || mode != req.Mode {
			continue
		}
		if !version.IsCompatible(cand, v, req.Policy) {
			continue
		}
		if found && version.Compare(cand, bestVersion) <= 0 {
			continue
		}
		path := w.dirFor(r.InstallID)
		identity := install.Identity{Version: cand.String(), Mode: mode, Architecture: arch, Scope: scope}
		if w.validator.Validate(path, identity) != nil {
			continue
		}
		best, bestVersion, found = path, cand, true
	}
	if !found {
		return FindPathResult{}, false, nil
	}
	return FindPathResult{Path: best, Version: bestVersion.String()}, true, nil
}

func (w *Worker) checkAlreadyInstalled(ctx context.Context, identity install.Identity) (string, bool, error) {
	recs, err := w.tracker.GetInstalled(ctx)
	if err != nil {
		return "", false, err
	}
	installID := identity.ID()
	for _, r := range recs {
		if r.InstallID == installID {
			path := w.dirFor(installID)
			if w.validator.Validate(path, identity) == nil {
				return path, true, nil
			}
		}
	}
	return "", false, nil
}

// installAndValidate dispatches to the scope/OS-appropriate installer
// then validates the result, moving a failed partial install to the
// graveyard rather than leaving it untracked and orphaned.
func (w *Worker) installAndValidate(ctx context.Context, req Request, identity install.Identity) (string, error) {
	installer := w.selectInstaller(req.Scope)

	path, err := installer.Install(ctx, identity, req.TimeoutSec)
	if err != nil {
		return "", err
	}

	if err := w.validator.Validate(path, identity); err != nil {
		installID := identity.ID()
		if gerr := w.tracker.GraveyardPartial(ctx, installID, path); gerr != nil {
			w.log.Warnf("failed to graveyard partial install %s: %s", installID, gerr)
		}
		return "", acquireerr.InstallValidationFailed(installID, err.Error())
	}
	return path, nil
}

// selectInstaller dispatches by scope, then by host OS for global
// installs (Linux goes through the distro package manager; Windows
// and macOS go through the native installer).
func (w *Worker) selectInstaller(scope install.Scope) Installer {
	if scope == install.ScopeLocal {
		return w.local
	}
	if w.goos == "linux" {
		return w.distro
	}
	return w.global
}

// parseInstallID reverses Identity.ID()'s "~"-joined encoding.
func parseInstallID(id string) (v version.Version, mode install.Mode, arch string, scope install.Scope, ok bool) {
	parts := splitN(id, '~', 4)
	if len(parts) != 4 {
		return version.Version{}, "", "", "", false
	}
	parsed, err := version.Parse(parts[0])
	if err != nil {
		return version.Version{}, "", "", "", false
	}
	return parsed, install.Mode(parts[1]), parts[2], install.Scope(parts[3]), true
}

func splitN(s string, sep byte, n int) []string {
	out := make([]string, 0, n)
	start := 0
	for i := 0; i < len(s) && len(out) < n-1; i++ {
		if s[i] == sep {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
