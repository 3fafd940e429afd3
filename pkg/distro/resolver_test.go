package distro

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotnet-acquire/acquire-core/model/install"
	"github.com/dotnet-acquire/acquire-core/model/version"
	"github.com/dotnet-acquire/acquire-core/pkg/acquireerr"
)

type stubProvider struct {
	support          SupportStatus
	supportErr       error
	existingPath     string
	hasExisting      bool
	existingVersion  version.Version
	hasVersion       bool
	packageExists    bool
	installCalls     int
	upgradeCalls     int
	distroFeedDir    string
	microsoftFeedDir string
}

func (s *stubProvider) InstallDotnet(ctx context.Context, v version.Version, mode install.Mode) (int, error) {
	s.installCalls++
	return 0, nil
}
func (s *stubProvider) UninstallDotnet(ctx context.Context, v version.Version, mode install.Mode) (int, error) {
	return 0, nil
}
func (s *stubProvider) UpgradeDotnet(ctx context.Context, v version.Version, mode install.Mode) (int, error) {
	s.upgradeCalls++
	return 0, nil
}
func (s *stubProvider) GetInstalledSdkVersions(ctx context.Context) ([]version.Version, error) {
	return nil, nil
}
func (s *stubProvider) GetInstalledRuntimeVersions(ctx context.Context) ([]version.Version, error) {
	return nil, nil
}
func (s *stubProvider) GetInstalledGlobalDotnetPath(ctx context.Context, mode install.Mode) (string, bool, error) {
	return s.existingPath, s.hasExisting, nil
}
func (s *stubProvider) GetInstalledGlobalDotnetVersion(ctx context.Context) (version.Version, bool, error) {
	return s.existingVersion, s.hasVersion, nil
}
func (s *stubProvider) DotnetPackageExistsOnSystem(ctx context.Context, v version.Version, mode install.Mode) (bool, error) {
	return s.packageExists, nil
}
func (s *stubProvider) GetDotnetVersionSupportStatus(v version.Version, mode install.Mode) (SupportStatus, error) {
	return s.support, s.supportErr
}
func (s *stubProvider) GetRecommendedDotnetVersion(mode install.Mode) version.Version {
	return version.Version{}
}
func (s *stubProvider) GetExpectedDistroFeedInstallDir() string    { return s.distroFeedDir }
func (s *stubProvider) GetExpectedMicrosoftFeedInstallDir() string { return s.microsoftFeedDir }

func TestValidateAndInstallSDKRejectsUnsupported(t *testing.T) {
	r := NewResolver(nil, nil)
	p := &stubProvider{support: SupportUnsupported}
	v, _ := version.Parse("7.0.410")

	err := r.ValidateAndInstallSDK(context.Background(), p, v, install.ModeSDK)
	require.Error(t, err)
	var acErr *acquireerr.Error
	require.ErrorAs(t, err, &acErr)
	assert.Equal(t, acquireerr.KindUnsupported, acErr.Kind)
}

func TestValidateAndInstallSDKInstallsWhenNoneExists(t *testing.T) {
	r := NewResolver(nil, nil)
	p := &stubProvider{support: SupportDistro, microsoftFeedDir: "/usr/share/dotnet"}
	v, _ := version.Parse("7.0.410")

	err := r.ValidateAndInstallSDK(context.Background(), p, v, install.ModeSDK)
	require.NoError(t, err)
	assert.Equal(t, 1, p.installCalls)
}

func TestValidateAndInstallSDKUpgradesInPlace(t *testing.T) {
	existing, _ := version.Parse("7.0.400")
	requested, _ := version.Parse("7.0.410")
	p := &stubProvider{
		support:         SupportDistro,
		hasExisting:     true,
		existingPath:    "/usr/lib/dotnet/dotnet",
		existingVersion: existing,
		hasVersion:      true,
		distroFeedDir:   "/usr/lib/dotnet",
	}
	r := NewResolver(nil, nil)

	err := r.ValidateAndInstallSDK(context.Background(), p, requested, install.ModeSDK)
	require.NoError(t, err)
	assert.Equal(t, 1, p.upgradeCalls)
	assert.Equal(t, 0, p.installCalls)
}

func TestValidateAndInstallSDKRejectsDowngrade(t *testing.T) {
	existing, _ := version.Parse("7.0.410")
	requested, _ := version.Parse("7.0.400")
	p := &stubProvider{
		support:         SupportDistro,
		hasExisting:     true,
		existingPath:    "/usr/lib/dotnet/dotnet",
		existingVersion: existing,
		hasVersion:      true,
		distroFeedDir:   "/usr/lib/dotnet",
	}
	r := NewResolver(nil, nil)

	err := r.ValidateAndInstallSDK(context.Background(), p, requested, install.ModeSDK)
	require.Error(t, err)
}

func TestValidateAndInstallSDKNoConflictWhenVendorDirAbsent(t *testing.T) {
	r := NewResolver(nil, nil)
	p := &stubProvider{support: SupportDistro, microsoftFeedDir: "/nonexistent-vendor-dir-that-should-not-exist"}
	v, _ := version.Parse("7.0.410")

	err := r.ValidateAndInstallSDK(context.Background(), p, v, install.ModeSDK)
	require.NoError(t, err, "no conflict expected when the vendor dir doesn't actually exist on this machine")
}

func TestRedHat7IsUnsupported(t *testing.T) {
	p := newRedHatProvider("7.5", nil)
	v, _ := version.Parse("7.0.410")

	support, err := p.GetDotnetVersionSupportStatus(v, install.ModeSDK)
	assert.Equal(t, SupportUnsupported, support)
	require.Error(t, err)

	var acErr *acquireerr.Error
	require.ErrorAs(t, err, &acErr)
	assert.Equal(t, acquireerr.KindRhelUnsupported, acErr.Kind)
	assert.Contains(t, acErr.Error(), rhel7DownloadURL)
}

func TestValidateAndInstallSDKPropagatesRhel7Error(t *testing.T) {
	p := newRedHatProvider("7.5", nil)
	v, _ := version.Parse("7.0.410")
	r := NewResolver(nil, nil)

	err := r.ValidateAndInstallSDK(context.Background(), p, v, install.ModeSDK)
	require.Error(t, err)

	var acErr *acquireerr.Error
	require.ErrorAs(t, err, &acErr)
	assert.Equal(t, acquireerr.KindRhelUnsupported, acErr.Kind)
	assert.Contains(t, acErr.Error(), rhel7DownloadURL)
}
