package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	c := NewForTest()
	c.Put("k", []byte("v"), 1000)
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", string(v))
}

func TestZeroTTLNeverCached(t *testing.T) {
	c := NewForTest()
	c.Put("k", []byte("v"), 0)
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestExpiryAfterTTL(t *testing.T) {
	c := NewForTest()
	c.Put("k", []byte("v"), 50)

	_, ok := c.Get("k")
	assert.True(t, ok)

	time.Sleep(150 * time.Millisecond)

	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestInvalidateClearsEverything(t *testing.T) {
	c := NewForTest()
	c.Put("a", []byte("1"), 1000)
	c.Put("b", []byte("2"), 1000)
	c.Invalidate()

	_, ok1 := c.Get("a")
	_, ok2 := c.Get("b")
	assert.False(t, ok1)
	assert.False(t, ok2)
}

func TestAliasCommandAsAnotherCommandRoot(t *testing.T) {
	c := NewForTest()
	c.Put("/real/dotnet --list-sdks", []byte("8.0.100"), 1000)
	c.AliasCommandAsAnotherCommandRoot("/alias/dotnet", "/real/dotnet")

	v, ok := c.Get("/alias/dotnet --list-sdks")
	require.True(t, ok)
	assert.Equal(t, "8.0.100", string(v))
}

func TestCommandKeyExcludesTTLAndMinimisesEnv(t *testing.T) {
	cmd := Command{Root: "dotnet", Args: []string{"--list-sdks"}}
	o1 := CommandOptions{TTLMs: 1000, Env: map[string]string{"HOME": "/a"}}
	o2 := CommandOptions{TTLMs: 5000, Env: map[string]string{"HOME": "/b"}}
	assert.Equal(t, commandKey(cmd, o1), commandKey(cmd, o2))
}
