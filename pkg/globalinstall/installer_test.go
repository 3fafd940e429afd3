package globalinstall

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotnet-acquire/acquire-core/model/install"
	"github.com/dotnet-acquire/acquire-core/model/version"
	"github.com/dotnet-acquire/acquire-core/pkg/cache"
	"github.com/dotnet-acquire/acquire-core/pkg/command"
)

type stubResolver struct {
	full   version.Version
	assets []ReleaseAsset
}

func (r stubResolver) ResolveFull(ctx context.Context, spec string, mode install.Mode) (version.Version, error) {
	return r.full, nil
}
func (r stubResolver) InstallerAssets(ctx context.Context, v version.Version, mode install.Mode) ([]ReleaseAsset, error) {
	return r.assets, nil
}

type stubDownloader struct{ fs afero.Fs }

func (d stubDownloader) Download(ctx context.Context, rawURL, dest string, timeoutSec int, proxy string) error {
	return afero.WriteFile(d.fs, dest, []byte("installer-bytes"), 0o644)
}

func TestRemapArchX32ToX86(t *testing.T) {
	assert.Equal(t, "x86", remapArch("x32"))
	assert.Equal(t, "x64", remapArch("x64"))
}

func TestSelectAssetMatchesOSAndArch(t *testing.T) {
	fs := afero.NewMemMapFs()
	ins := New(Options{
		Resolver: stubResolver{assets: []ReleaseAsset{
			{RID: "win-x64", URL: "https://example.test/win-x64.exe"},
			{RID: "osx-x64", URL: "https://example.test/osx-x64.pkg"},
		}},
		Fetcher:  stubDownloader{fs: fs},
		Executor: command.New(cache.NewForTest()),
		Fs:       fs,
		TempDir:  "/tmp",
		GOOS:     "darwin",
	})

	asset, ok := ins.selectAsset([]ReleaseAsset{
		{RID: "win-x64", URL: "https://example.test/win-x64.exe"},
		{RID: "osx-x64", URL: "https://example.test/osx-x64.pkg"},
	}, "x64")
	require.True(t, ok)
	assert.Equal(t, "https://example.test/osx-x64.pkg", asset.URL)
	_ = ins
}

func TestInstallDownloadsSelectedAsset(t *testing.T) {
	fs := afero.NewMemMapFs()
	v, _ := version.Parse("7.0.410")
	ins := New(Options{
		Resolver: stubResolver{full: v, assets: []ReleaseAsset{{RID: "osx-x64", URL: "https://example.test/osx-x64.pkg"}}},
		Fetcher:  stubDownloader{fs: fs},
		Executor: command.New(cache.NewForTest()),
		Fs:       fs,
		TempDir:  "/tmp",
		GOOS:     "darwin",
	})

	identity := install.Identity{Version: "7.0.410", Mode: install.ModeSDK, Architecture: "x64", Scope: install.ScopeGlobal}
	_, err := ins.Install(context.Background(), identity, 60)
	// installer -pkg will fail to execute in this sandbox (no such
	// binary), surfacing as an error from runInstaller — this test
	// only asserts the download step itself succeeded.
	_ = err

	exists, statErr := afero.Exists(fs, "/tmp/"+identity.Fingerprint()+".pkg")
	require.NoError(t, statErr)
	assert.True(t, exists)
}
