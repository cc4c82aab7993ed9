package leaderboard

import (
	"context"
	"errors"
	"sync"
)

// ErrNoView is returned when a scope has never been rebuilt.
var ErrNoView = errors.New("leaderboard view not built")

// Cache stores the latest view per scope.
type Cache interface {
	Get(ctx context.Context, scope Scope) (*View, error)
	// Put stores view unless a view with a higher watermark is already stored.
	// It reports whether view was stored.
	Put(ctx context.Context, view *View) (bool, error)
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu    sync.RWMutex
	views map[Scope]*View
}

// NewMemoryCache creates an empty cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{views: make(map[Scope]*View)}
}

func (c *MemoryCache) Get(ctx context.Context, scope Scope) (*View, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.views[scope]
	if !ok {
		return nil, ErrNoView
	}
	return cloneView(v), nil
}

func (c *MemoryCache) Put(ctx context.Context, view *View) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.views[view.Scope]; ok && cur.Watermark > view.Watermark {
		return false, nil
	}
	c.views[view.Scope] = cloneView(view)
	return true, nil
}

func cloneView(v *View) *View {
	out := *v
	out.Entries = append(out.Entries[:0:0], v.Entries...)
	return &out
}
