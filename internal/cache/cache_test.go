package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotCacheEvictsOldest(t *testing.T) {
	c, err := NewSnapshotCache(2)
	require.NoError(t, err)

	c.Put(&Snapshot{ID: "a", WindowID: "w1"})
	c.Put(&Snapshot{ID: "b", WindowID: "w1"})
	c.Put(&Snapshot{ID: "c", WindowID: "w1"})

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestRecordingCachePutGetRemove(t *testing.T) {
	c, err := NewRecordingCache(5)
	require.NoError(t, err)

	c.Put(&Recording{ID: "r1", WindowID: "w1", Data: []byte("x")})
	rec, ok := c.Get("r1")
	require.True(t, ok)
	assert.Equal(t, []byte("x"), rec.Data)

	c.Remove("r1")
	_, ok = c.Get("r1")
	assert.False(t, ok)
}
