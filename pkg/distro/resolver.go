package distro

import (
	"context"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/dotnet-acquire/acquire-core/model/install"
	"github.com/dotnet-acquire/acquire-core/model/version"
	"github.com/dotnet-acquire/acquire-core/pkg/acquireerr"
	"github.com/dotnet-acquire/acquire-core/pkg/cache"
	"github.com/dotnet-acquire/acquire-core/pkg/command"
)

// Resolver is the Distro Resolver: detects the running distro and
// dispatches to its Provider.
type Resolver struct {
	cache    *cache.Cache
	executor *command.Executor
}

// NewResolver constructs a Resolver.
func NewResolver(c *cache.Cache, e *command.Executor) *Resolver {
	return &Resolver{cache: c, executor: e}
}

// ProviderFor maps a detected distro name to its Provider. Unknown
// distros fall through to the generic provider; surfacing that as a
// non-fatal notice is the caller's concern, posted through whatever
// event sink wraps this call.
func (r *Resolver) ProviderFor(info Info) Provider {
	name := strings.ToLower(info.Name)
	switch {
	case strings.Contains(name, "ubuntu"), strings.Contains(name, "debian"), strings.Contains(name, "mint"):
		return newGenericProvider("debian", r.executor)
	case strings.Contains(name, "red hat"), strings.Contains(name, "centos"), strings.Contains(name, "fedora"), strings.Contains(name, "rhel"):
		return newRedHatProvider(info.VersionID, r.executor)
	default:
		return newGenericProvider("generic", r.executor)
	}
}

// Detect resolves the running distro's Info, cached for
// SystemInfoCacheTTL.
func (r *Resolver) Detect() (Info, error) {
	return Detect(r.cache)
}

const returnOKUpdate = 1
const returnProceedToInstall = 0

// ValidateAndInstallSDK runs the distro install decision algorithm:
// check support, check for conflicting/custom installs, then either
// upgrade in place or install fresh. The caller must already hold the
// global modifier lock; this function does not acquire it itself.
func (r *Resolver) ValidateAndInstallSDK(ctx context.Context, p Provider, v version.Version, mode install.Mode) error {
	support, err := p.GetDotnetVersionSupportStatus(v, mode)
	if err != nil {
		return err
	}
	if support == SupportUnsupported {
		return acquireerr.Unsupported(v.String(), "distro does not support this version")
	}

	if err := r.verifyNoConflictingInstallType(p, support); err != nil {
		return err
	}

	existingPath, hasExisting, err := p.GetInstalledGlobalDotnetPath(ctx, mode)
	if err != nil {
		return err
	}
	if hasExisting {
		if err := r.verifyNoCustomInstall(p, support, existingPath); err != nil {
			return err
		}
	}

	decision, err := r.updateOrRejectIfNoInstallNeeded(ctx, p, v, mode, existingPath, hasExisting)
	if err != nil {
		return err
	}
	if decision != returnProceedToInstall {
		return nil // OK_UPDATE or OK_ALREADY_EXISTS: acquisition is satisfied without a fresh install
	}

	code, err := p.InstallDotnet(ctx, v, mode)
	if err != nil {
		return err
	}
	if code != 0 {
		return acquireerr.NonZeroInstallerExit(v.String(), code)
	}
	return nil
}

// verifyNoConflictingInstallType fails if a vendor-feed directory
// already exists for a version whose support classification says it
// should come from the other feed.
func (r *Resolver) verifyNoConflictingInstallType(p Provider, support SupportStatus) error {
	if support == SupportDistro && dirExists(p.GetExpectedMicrosoftFeedInstallDir()) {
		return acquireerr.ConflictingInstallTypes("", p.GetExpectedMicrosoftFeedInstallDir())
	}
	if support == SupportMicrosoft && dirExists(p.GetExpectedDistroFeedInstallDir()) {
		return acquireerr.ConflictingInstallTypes("", p.GetExpectedDistroFeedInstallDir())
	}
	return nil
}

// verifyNoCustomInstall fails if dotnet is already installed at a
// path other than the feed this support status expects.
func (r *Resolver) verifyNoCustomInstall(p Provider, support SupportStatus, existingPath string) error {
	expected := p.GetExpectedMicrosoftFeedInstallDir()
	if support == SupportDistro {
		expected = p.GetExpectedDistroFeedInstallDir()
	}
	if expected != "" && !strings.HasPrefix(existingPath, expected) {
		return acquireerr.CustomInstallExists("", existingPath)
	}
	return nil
}

// updateOrRejectIfNoInstallNeeded decides whether an existing install
// already satisfies the request. Returns returnProceedToInstall when
// the caller should go on to
// install, or a nonzero sentinel when the existing install already
// satisfies the request (whether updated in place or left as-is).
func (r *Resolver) updateOrRejectIfNoInstallNeeded(ctx context.Context, p Provider, v version.Version, mode install.Mode, existingPath string, hasExisting bool) (int, error) {
	if !hasExisting {
		return returnProceedToInstall, nil
	}

	existingVersion, hasVersion, err := p.GetInstalledGlobalDotnetVersion(ctx)
	if err != nil {
		return 0, err
	}
	if !hasVersion || existingVersion.GetMajorMinor() != v.GetMajorMinor() {
		return returnProceedToInstall, nil
	}

	existingBand, existingPatch := existingVersion.GetBandPatch()
	band, patch := v.GetBandPatch()
	if existingBand > band || (existingBand == band && existingPatch > patch) {
		return 0, acquireerr.Unsupported(v.String(), "a newer version is already installed; downgrades are not supported")
	}

	exists, err := p.DotnetPackageExistsOnSystem(ctx, v, mode)
	if err != nil {
		return 0, err
	}
	isPatchUpgrade := existingBand == band && existingPatch < patch
	if exists || isPatchUpgrade {
		code, err := p.UpgradeDotnet(ctx, v, mode)
		if err != nil {
			return 0, err
		}
		if code != 0 {
			return 0, acquireerr.NonZeroInstallerExit(v.String(), code)
		}
		return returnOKUpdate, nil
	}

	return returnOKUpdate + 1, nil // OK_ALREADY_EXISTS: ValidateAndInstallSDK treats it like OK_UPDATE
}

// dirExists is deliberately independent of the afero abstraction used
// elsewhere: distro feed directories live on the real host filesystem
// regardless of which afero.Fs a test injects for managed storage.
func dirExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// InstalledVersions gathers both SDK and runtime listings from p,
// combining any partial failures with go-multierror rather than
// discarding whichever call failed first (unlike the install-decision
// steps above, these two probes are independent of each other).
func (r *Resolver) InstalledVersions(ctx context.Context, p Provider) (sdks, runtimes []version.Version, err error) {
	var merr *multierror.Error

	sdks, sdkErr := p.GetInstalledSdkVersions(ctx)
	if sdkErr != nil {
		merr = multierror.Append(merr, sdkErr)
	}
	runtimes, runtimeErr := p.GetInstalledRuntimeVersions(ctx)
	if runtimeErr != nil {
		merr = multierror.Append(merr, runtimeErr)
	}
	return sdks, runtimes, merr.ErrorOrNil()
}
