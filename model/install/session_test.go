package install

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionAcquiresUniqueID(t *testing.T) {
	getter := newMemLockGetter()

	a, err := NewSession(getter)
	require.NoError(t, err)
	b, err := NewSession(getter)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
}

func TestSessionMarkInUseAndUnmark(t *testing.T) {
	s, err := NewSession(newMemLockGetter())
	require.NoError(t, err)

	s.MarkInUse("id1")
	s.MarkInUse("id2")
	assert.ElementsMatch(t, []string{"id1", "id2"}, s.Marks())

	s.Unmark("id1")
	assert.Equal(t, []string{"id2"}, s.Marks())
}
