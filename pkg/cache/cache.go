package cache

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cacher defines the caching interface.
type Cacher interface {
	GetCache(ctx context.Context, key string) ([]byte, bool)
	SetCache(ctx context.Context, key string, val []byte) error
}

// Layered keeps recently used entries in memory in front of an optional
// persistent Cacher (normally the SQLite store).
type Layered struct {
	mem  *lru.Cache[string, []byte]
	next Cacher
}

// NewLayered creates a layered cache holding up to size entries in memory.
// next may be nil for a memory-only cache.
func NewLayered(size int, next Cacher) (*Layered, error) {
	if size <= 0 {
		size = 128
	}
	mem, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru: %w", err)
	}
	return &Layered{mem: mem, next: next}, nil
}

func (c *Layered) GetCache(ctx context.Context, key string) ([]byte, bool) {
	if v, ok := c.mem.Get(key); ok {
		return v, true
	}
	if c.next == nil {
		return nil, false
	}
	v, ok := c.next.GetCache(ctx, key)
	if ok {
		c.mem.Add(key, v)
	}
	return v, ok
}

func (c *Layered) SetCache(ctx context.Context, key string, val []byte) error {
	c.mem.Add(key, val)
	if c.next == nil {
		return nil
	}
	if err := c.next.SetCache(ctx, key, val); err != nil {
		slog.Warn("Persistent cache write failed", "key", key, "error", err)
		return err
	}
	return nil
}

// Len returns the number of in-memory entries.
func (c *Layered) Len() int { return c.mem.Len() }
