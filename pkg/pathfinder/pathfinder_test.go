package pathfinder

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotnet-acquire/acquire-core/model/install"
	"github.com/dotnet-acquire/acquire-core/pkg/cache"
	"github.com/dotnet-acquire/acquire-core/pkg/command"
)

const infoOutput = "Host:\n  Version: 8.0.1\n  Architecture: x64\n  RID:    linux-x64\n"

func TestParseArchFromInfoPrefersArchitectureField(t *testing.T) {
	assert.Equal(t, "x64", parseArchFromInfo(infoOutput))
}

func TestParseArchFromInfoFallsBackToRID(t *testing.T) {
	out := "Host:\n  RID: linux-arm64\n"
	assert.Equal(t, "arm64", parseArchFromInfo(out))
}

func TestValidateRejectsArchitectureMismatch(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := cache.NewForTest()
	exec := command.New(c)
	f := New(fs, exec)

	// Prime the cache directly via the cache key shape Execute uses,
	// bypassing a real process invocation entirely.
	c.PutCommand(cache.Command{Root: "/fake/dotnet", Args: []string{"--info"}}, cache.CommandOptions{TTLMs: DotnetInfoTTL.Milliseconds()}, []byte(infoOutput+"\x00\x000"))

	identity := install.Identity{Version: "8.0.1", Mode: install.ModeSDK, Architecture: "arm64", Scope: install.ScopeLocal}
	err := f.Validate("/fake/dotnet", identity)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected arm64")
}

func TestValidateAcceptsMatchingArchitecture(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := cache.NewForTest()
	exec := command.New(c)
	f := New(fs, exec)

	c.PutCommand(cache.Command{Root: "/fake/dotnet", Args: []string{"--info"}}, cache.CommandOptions{TTLMs: DotnetInfoTTL.Milliseconds()}, []byte(infoOutput+"\x00\x000"))

	identity := install.Identity{Version: "8.0.1", Mode: install.ModeSDK, Architecture: "x64", Scope: install.ScopeLocal}
	assert.NoError(t, f.Validate("/fake/dotnet", identity))
}
