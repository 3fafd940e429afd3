package localinstall

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotnet-acquire/acquire-core/model/install"
	"github.com/dotnet-acquire/acquire-core/pkg/cache"
	"github.com/dotnet-acquire/acquire-core/pkg/command"
)

type fakeFetcher struct {
	fs         afero.Fs
	downloaded []string
}

func (f *fakeFetcher) Download(ctx context.Context, rawURL, dest string, timeoutSec int, proxy string) error {
	f.downloaded = append(f.downloaded, rawURL)
	return afero.WriteFile(f.fs, dest, []byte("#!/bin/sh\nexit 0\n"), 0o755)
}

func newTestInstaller() (*Installer, *fakeFetcher, afero.Fs) {
	fs := afero.NewMemMapFs()
	fetcher := &fakeFetcher{fs: fs}
	ins := New(Options{
		Fs:          fs,
		StorageRoot: "/root",
		Fetcher:     fetcher,
		Executor:    command.New(cache.NewForTest()),
		GOOS:        "linux",
	})
	return ins, fetcher, fs
}

func TestEnsureScriptDownloadsOnce(t *testing.T) {
	ins, fetcher, _ := newTestInstaller()
	require.NoError(t, ins.ensureScript(context.Background()))
	require.NoError(t, ins.ensureScript(context.Background()))
	assert.Len(t, fetcher.downloaded, 1)
}

func TestLookupManagedDirReportsAbsence(t *testing.T) {
	ins, _, _ := newTestInstaller()
	identity := install.Identity{Version: "7.0.410", Mode: install.ModeSDK, Architecture: "x64", Scope: install.ScopeLocal}
	_, ok := ins.LookupManagedDir(identity)
	assert.False(t, ok)
}

func TestUninstallAllRemovesManagedDirsOnly(t *testing.T) {
	ins, _, fs := newTestInstaller()
	require.NoError(t, fs.MkdirAll("/root/install scripts", 0o755))
	require.NoError(t, fs.MkdirAll("/root/7.0.410~sdk~x64~local", 0o755))

	removed, err := ins.UninstallAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	exists, err := afero.DirExists(fs, "/root/install scripts")
	require.NoError(t, err)
	assert.True(t, exists, "install scripts dir should survive uninstallAll")
}
