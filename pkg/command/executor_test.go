package command

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotnet-acquire/acquire-core/pkg/cache"
)

func TestExecuteCapturesStdout(t *testing.T) {
	e := New(cache.NewForTest())
	r, err := e.Execute(context.Background(), Command{Root: "echo", Args: []string{"hello"}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", r.Stdout)
	assert.Equal(t, 0, r.Status)
}

func TestExecuteCapturesNonZeroStatus(t *testing.T) {
	e := New(cache.NewForTest())
	r, err := e.Execute(context.Background(), Command{Root: "sh", Args: []string{"-c", "exit 3"}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, r.Status)
}

func TestExecuteMemoisesWithCacheTTL(t *testing.T) {
	e := New(cache.NewForTest())
	opts := Options{CacheTTLMs: 60_000}

	r1, err := e.Execute(context.Background(), Command{Root: "echo", Args: []string{"one"}}, opts)
	require.NoError(t, err)

	r2, err := e.Execute(context.Background(), Command{Root: "echo", Args: []string{"one"}}, opts)
	require.NoError(t, err)
	assert.Equal(t, r1, r2)
}

func TestTryFindWorkingCommandReturnsFirstSuccess(t *testing.T) {
	e := New(cache.NewForTest())
	cmds := []Command{
		{Root: "false"},
		{Root: "true"},
		{Root: "false"},
	}
	found, _, ok := e.TryFindWorkingCommand(context.Background(), cmds, nil)
	require.True(t, ok)
	assert.Equal(t, "true", found.Root)
}

func TestWithHomeOverrideRestoresOriginal(t *testing.T) {
	e := New(cache.NewForTest())
	original := "/home/original"
	t.Setenv("HOME", original)

	err := e.WithHomeOverride("/home/override", func() error {
		assert.Equal(t, "/home/override", mustGetenv(t, "HOME"))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, original, mustGetenv(t, "HOME"))
}

func mustGetenv(t *testing.T, name string) string {
	t.Helper()
	v, ok := os.LookupEnv(name)
	require.True(t, ok)
	return v
}
