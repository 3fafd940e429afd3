// Package globalinstall implements the Windows/macOS Global Installer:
// resolve a patch via release metadata, pick the installer asset
// matching OS/architecture, download it, and run it silently. It is
// grounded on the teacher's cmd/tools.go browser.Open fallback pattern
// for platform-specific external processes, generalised here into
// native-installer dispatch, with dustin/go-humanize for the size
// logged after a potentially large download and h2non/filetype to
// sniff the downloaded asset before execution.
package globalinstall

import (
	"context"
	"runtime"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/h2non/filetype"
	"github.com/spf13/afero"

	"github.com/dotnet-acquire/acquire-core/model/install"
	"github.com/dotnet-acquire/acquire-core/model/version"
	"github.com/dotnet-acquire/acquire-core/pkg/acquireerr"
	"github.com/dotnet-acquire/acquire-core/pkg/command"
	"github.com/dotnet-acquire/acquire-core/pkg/logger"
)

// ReleaseAsset is one entry of the channel index's per-release file
// list, narrowed to what the Global Installer needs to pick an asset.
type ReleaseAsset struct {
	RID string
	URL string
}

// ReleaseResolver is the Web Fetcher + release-index capability the
// Global Installer needs: resolve a (possibly band-only) version spec
// to a fully specified Version and its installer assets.
type ReleaseResolver interface {
	ResolveFull(ctx context.Context, spec string, mode install.Mode) (version.Version, error)
	InstallerAssets(ctx context.Context, v version.Version, mode install.Mode) ([]ReleaseAsset, error)
}

// Downloader is the narrow Web Fetcher capability used to fetch the
// chosen installer asset.
type Downloader interface {
	Download(ctx context.Context, rawURL, dest string, timeoutSec int, proxy string) error
}

// Installer is the Windows/macOS native-installer dispatcher.
type Installer struct {
	resolver ReleaseResolver
	fetcher  Downloader
	executor *command.Executor
	fs       afero.Fs
	tempDir  string
	goos     string
	log      logger.Logger
}

// Options configures a new Installer.
type Options struct {
	Resolver ReleaseResolver
	Fetcher  Downloader
	Executor *command.Executor
	Fs       afero.Fs
	TempDir  string
	GOOS     string // overridable in tests; defaults to runtime.GOOS
}

// New constructs an Installer.
func New(opts Options) *Installer {
	goos := opts.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	return &Installer{
		resolver: opts.Resolver,
		fetcher:  opts.Fetcher,
		executor: opts.Executor,
		fs:       opts.Fs,
		tempDir:  opts.TempDir,
		goos:     goos,
		log:      logger.WithNamespace("globalinstall"),
	}
}

// remapArch maps the legacy x32 architecture tag to x86, the tag
// actually used in installer RIDs.
func remapArch(arch string) string {
	if arch == "x32" {
		return "x86"
	}
	return arch
}

// selectAsset finds the installer asset matching the current OS and
// arch.
func (ins *Installer) selectAsset(assets []ReleaseAsset, arch string) (ReleaseAsset, bool) {
	arch = remapArch(arch)
	osTag := "win"
	if ins.goos == "darwin" {
		osTag = "osx"
	}
	for _, a := range assets {
		if ridMatches(a.RID, osTag, arch) {
			return a, true
		}
	}
	return ReleaseAsset{}, false
}

func ridMatches(rid, osTag, arch string) bool {
	return strings.Contains(rid, osTag) && (arch == "" || strings.Contains(rid, arch))
}

// Install implements model/acquire.Installer: resolve, download, run
// silently, and return the asset's temp download path. The caller's
// Path Finder locates the real installed binary afterwards.
func (ins *Installer) Install(ctx context.Context, identity install.Identity, timeoutSec int) (string, error) {
	v, err := version.Parse(identity.Version)
	if err != nil {
		return "", acquireerr.InvalidVersion(identity.Version)
	}

	assets, err := ins.resolver.InstallerAssets(ctx, v, identity.Mode)
	if err != nil {
		return "", err
	}
	asset, ok := ins.selectAsset(assets, identity.Architecture)
	if !ok {
		return "", acquireerr.Unsupported(identity.ID(), "no installer asset matches this OS/architecture")
	}

	dest := ins.tempDir + "/" + identity.Fingerprint() + installerExt(ins.goos)
	if err := ins.fetcher.Download(ctx, asset.URL, dest, timeoutSec, ""); err != nil {
		return "", err
	}
	if exists, _ := afero.Exists(ins.fs, dest); !exists {
		return "", acquireerr.DownloadFailed(dest, nil)
	}

	if kind, _ := filetype.MatchFile(dest); kind.MIME.Value != "" {
		ins.log.Debugf("downloaded installer %s (%s) sniffed as %s", dest, humanizeSize(ins.fs, dest), kind.MIME.Value)
	}

	code, err := ins.runInstaller(ctx, dest, timeoutSec)
	if err != nil {
		return "", err
	}
	if isElevationFailure(ins.goos, code) {
		return "", acquireerr.ConflictingGlobalWindowsInstall(identity.ID())
	}
	if code != 0 && code != 11188 && code != 11166 {
		return "", acquireerr.NonZeroInstallerExit(identity.ID(), code)
	}
	return dest, nil
}

func installerExt(goos string) string {
	if goos == "windows" {
		return ".exe"
	}
	return ".pkg"
}

// runInstaller executes the native installer silently: `.exe` with
// Windows' conventional silent-install flags, `installer -pkg` on
// macOS.
func (ins *Installer) runInstaller(ctx context.Context, path string, timeoutSec int) (int, error) {
	var cmd command.Command
	if ins.goos == "windows" {
		cmd = command.Command{Root: path, Args: []string{"/quiet", "/norestart"}, RunUnderSudo: true}
	} else {
		cmd = command.Command{Root: "installer", Args: []string{"-pkg", path, "-target", "/"}, RunUnderSudo: true}
	}
	r, err := ins.executor.Execute(ctx, cmd, command.Options{})
	if err != nil {
		return 0, acquireerr.InstallScriptFailed("", "", err)
	}
	return r.Status, nil
}

// isElevationFailure recognises the platform-specific "user declined
// the elevation prompt" exit code; callers map it to
// ConflictingGlobalWindowsInstall.
func isElevationFailure(goos string, code int) bool {
	return goos == "windows" && code == 1223 // ERROR_CANCELLED
}

func humanizeSize(fs afero.Fs, path string) string {
	info, err := fs.Stat(path)
	if err != nil {
		return "unknown size"
	}
	return humanize.Bytes(uint64(info.Size()))
}
