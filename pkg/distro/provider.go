package distro

import (
	"context"

	"github.com/dotnet-acquire/acquire-core/model/install"
	"github.com/dotnet-acquire/acquire-core/model/version"
)

// SupportStatus is a per-version support classification: whether a
// distro's own package feed carries it, only Microsoft's feed does,
// both partially agree, or neither supports it at all.
type SupportStatus string

const (
	SupportDistro      SupportStatus = "distro"
	SupportMicrosoft    SupportStatus = "microsoft"
	SupportPartial      SupportStatus = "partial"
	SupportUnsupported  SupportStatus = "unsupported"
)

// Provider is the distro package-manager capability set a Resolver
// dispatches to. Deep inheritance between distro families collapses to
// this one interface plus a table of per-distro configuration records;
// genericProvider is the only implementation, with redHatProvider
// overriding a single method.
type Provider interface {
	InstallDotnet(ctx context.Context, v version.Version, mode install.Mode) (exitCode int, err error)
	UninstallDotnet(ctx context.Context, v version.Version, mode install.Mode) (exitCode int, err error)
	UpgradeDotnet(ctx context.Context, v version.Version, mode install.Mode) (exitCode int, err error)
	GetInstalledSdkVersions(ctx context.Context) ([]version.Version, error)
	GetInstalledRuntimeVersions(ctx context.Context) ([]version.Version, error)
	GetInstalledGlobalDotnetPath(ctx context.Context, mode install.Mode) (string, bool, error)
	GetInstalledGlobalDotnetVersion(ctx context.Context) (version.Version, bool, error)
	DotnetPackageExistsOnSystem(ctx context.Context, v version.Version, mode install.Mode) (bool, error)
	// GetDotnetVersionSupportStatus classifies support for v/mode. A
	// non-nil error is a hard rejection (e.g. an unsupported OS
	// release) that callers must surface verbatim rather than
	// collapsing into SupportUnsupported.
	GetDotnetVersionSupportStatus(v version.Version, mode install.Mode) (SupportStatus, error)
	GetRecommendedDotnetVersion(mode install.Mode) version.Version
	GetExpectedDistroFeedInstallDir() string
	GetExpectedMicrosoftFeedInstallDir() string
}
