package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapCache struct {
	data map[string][]byte
	gets int
	err  error
}

func (m *mapCache) GetCache(ctx context.Context, key string) ([]byte, bool) {
	m.gets++
	v, ok := m.data[key]
	return v, ok
}

func (m *mapCache) SetCache(ctx context.Context, key string, val []byte) error {
	if m.err != nil {
		return m.err
	}
	m.data[key] = val
	return nil
}

func TestLayered_MemoryOnly(t *testing.T) {
	c, err := NewLayered(2, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, hit := c.GetCache(ctx, "a")
	assert.False(t, hit)

	require.NoError(t, c.SetCache(ctx, "a", []byte("1")))
	require.NoError(t, c.SetCache(ctx, "b", []byte("2")))
	require.NoError(t, c.SetCache(ctx, "c", []byte("3")))

	// "a" evicted
	_, hit = c.GetCache(ctx, "a")
	assert.False(t, hit)
	assert.Equal(t, 2, c.Len())
}

func TestLayered_Backing(t *testing.T) {
	back := &mapCache{data: map[string][]byte{"tile": []byte("png")}}
	c, err := NewLayered(4, back)
	require.NoError(t, err)
	ctx := context.Background()

	v, hit := c.GetCache(ctx, "tile")
	require.True(t, hit)
	assert.Equal(t, "png", string(v))

	// Second read served from memory
	_, _ = c.GetCache(ctx, "tile")
	assert.Equal(t, 1, back.gets)

	require.NoError(t, c.SetCache(ctx, "new", []byte("x")))
	assert.Equal(t, "x", string(back.data["new"]))

	back.err = errors.New("disk full")
	assert.Error(t, c.SetCache(ctx, "other", []byte("y")))
	// Still kept in memory
	_, hit = c.GetCache(ctx, "other")
	assert.True(t, hit)
}
