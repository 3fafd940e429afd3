// Package localinstall fetches and runs the dotnet-install script into
// a managed directory keyed by installId. It is grounded on the
// teacher's worker/exec/service.go use of afero for a worker's scratch
// directory, generalised from a single temp-dir-per-job pattern into a
// persistent, installId-keyed managed directory layout, with
// cenkalti/backoff wrapping the script re-fetch so a transient CDN
// blip doesn't fail the whole acquire call.
package localinstall

import (
	"context"
	"runtime"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/afero"

	"github.com/dotnet-acquire/acquire-core/model/install"
	"github.com/dotnet-acquire/acquire-core/pkg/acquireerr"
	"github.com/dotnet-acquire/acquire-core/pkg/command"
)

// Fetcher is the narrow Web Fetcher capability Installer needs:
// downloading the install script into `{storageRoot}/install
// scripts/dotnet-install.{ps1|sh}`.
type Fetcher interface {
	Download(ctx context.Context, rawURL, dest string, timeoutSec int, proxy string) error
}

// Installer runs the dotnet-install script against a managed,
// installId-keyed directory tree.
type Installer struct {
	fs          afero.Fs
	storageRoot string
	fetcher     Fetcher
	executor    *command.Executor
	goos        string
}

// Options configures a new Installer.
type Options struct {
	Fs          afero.Fs
	StorageRoot string
	Fetcher     Fetcher
	Executor    *command.Executor
	GOOS        string // overridable in tests; defaults to runtime.GOOS
}

// New constructs an Installer.
func New(opts Options) *Installer {
	goos := opts.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	return &Installer{fs: opts.Fs, storageRoot: opts.StorageRoot, fetcher: opts.Fetcher, executor: opts.Executor, goos: goos}
}

func (ins *Installer) scriptPath() string {
	name := "dotnet-install.sh"
	if ins.goos == "windows" {
		name = "dotnet-install.ps1"
	}
	return ins.storageRoot + "/install scripts/" + name
}

func (ins *Installer) scriptURL() string {
	if ins.goos == "windows" {
		return "https://dot.net/v1/dotnet-install.ps1"
	}
	return "https://dot.net/v1/dotnet-install.sh"
}

// installDir returns `{storageRoot}/{installId}`, the on-disk layout
// every managed install lives under.
func (ins *Installer) installDir(identity install.Identity) string {
	return ins.storageRoot + "/" + identity.ID()
}

// ensureScript downloads the install script if absent, retrying
// transient failures with exponential backoff.
func (ins *Installer) ensureScript(ctx context.Context) error {
	exists, err := afero.Exists(ins.fs, ins.scriptPath())
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := ins.fs.MkdirAll(ins.storageRoot+"/install scripts", 0o755); err != nil {
		return err
	}

	b := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	return backoff.Retry(func() error {
		return ins.fetcher.Download(ctx, ins.scriptURL(), ins.scriptPath(), 30, "")
	}, b)
}

// Install implements model/acquire.Installer: ensures the install
// script is present, then runs it into a fresh installId directory
// unless one already exists.
func (ins *Installer) Install(ctx context.Context, identity install.Identity, timeoutSec int) (string, error) {
	if err := ins.ensureScript(ctx); err != nil {
		return "", err
	}

	dir := ins.installDir(identity)
	if existing, err := afero.DirExists(ins.fs, dir); err == nil && existing {
		return dir, nil
	}
	if err := ins.fs.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	cmd := ins.installCommand(identity, dir)
	result, err := ins.executor.Execute(ctx, cmd, command.Options{Timeout: secToDuration(timeoutSec)})
	if err != nil {
		return "", acquireerr.InstallScriptFailed(identity.ID(), "", err)
	}
	if result.Status != 0 && result.Status != 11188 && result.Status != 11166 {
		return "", acquireerr.NonZeroInstallerExit(identity.ID(), result.Status)
	}
	return dir, nil
}

func (ins *Installer) installCommand(identity install.Identity, dir string) command.Command {
	modeFlag := modeFlagFor(identity.Mode)
	if ins.goos == "windows" {
		args := []string{"-File", ins.scriptPath(), "-Version", identity.Version, "-InstallDir", dir}
		if modeFlag != "" {
			args = append(args, "-Runtime", modeFlag)
		}
		if identity.Architecture != "" {
			args = append(args, "-Architecture", identity.Architecture)
		}
		return command.Command{Root: "powershell", Args: args}
	}
	args := []string{ins.scriptPath(), "--version", identity.Version, "--install-dir", dir}
	if modeFlag != "" {
		args = append(args, "--runtime", modeFlag)
	}
	if identity.Architecture != "" {
		args = append(args, "--architecture", identity.Architecture)
	}
	return command.Command{Root: "bash", Args: args}
}

func modeFlagFor(mode install.Mode) string {
	switch mode {
	case install.ModeRuntime:
		return "dotnet"
	case install.ModeAspNetCore:
		return "aspnetcore"
	default:
		return ""
	}
}

func secToDuration(sec int) time.Duration {
	if sec <= 0 {
		return 0
	}
	return time.Duration(sec) * time.Second
}

// UninstallAll removes every installId directory under storageRoot,
// skipping per-entry failures rather than aborting the whole sweep.
func (ins *Installer) UninstallAll(ctx context.Context) (int, error) {
	entries, err := afero.ReadDir(ins.fs, ins.storageRoot)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if !e.IsDir() || e.Name() == "install scripts" {
			continue
		}
		if err := ins.fs.RemoveAll(ins.storageRoot + "/" + e.Name()); err == nil {
			removed++
		}
	}
	return removed, nil
}

// ListInstalled enumerates managed install directories; ownership
// metadata itself lives in the Install Tracker, not here.
func (ins *Installer) ListInstalled(ctx context.Context) ([]string, error) {
	entries, err := afero.ReadDir(ins.fs, ins.storageRoot)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && e.Name() != "install scripts" {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// LookupManagedDir reports whether a managed install directory already
// exists for this exact identity, without checking compatibility
// against other versions the way Worker.FindPath does.
func (ins *Installer) LookupManagedDir(identity install.Identity) (string, bool) {
	dir := ins.installDir(identity)
	exists, _ := afero.DirExists(ins.fs, dir)
	if !exists {
		return "", false
	}
	return dir, true
}
