package catalog

import (
	"context"
	"sync"
)

// Cache memoizes schema descriptors per relation. Descriptors are built once
// and reused for every captured row and replayed statement; DDL invalidates
// them (the audit listener calls InvalidateAll when a command commits).
type Cache struct {
	inspector *Inspector

	mu     sync.RWMutex
	tables map[string]*Table
}

// NewCache returns a Cache backed by the given inspector.
func NewCache(inspector *Inspector) *Cache {
	return &Cache{
		inspector: inspector,
		tables:    make(map[string]*Table),
	}
}

// Describe returns the cached descriptor for a relation, building it on the
// first request.
func (c *Cache) Describe(ctx context.Context, name string) (*Table, error) {
	name = CanonicalName(name)

	c.mu.RLock()
	t := c.tables[name]
	c.mu.RUnlock()
	if t != nil {
		return t, nil
	}

	t, err := c.inspector.Describe(ctx, name)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.tables[name] = t
	c.mu.Unlock()
	return t, nil
}

// Invalidate drops the cached descriptor for one relation.
func (c *Cache) Invalidate(name string) {
	c.mu.Lock()
	delete(c.tables, CanonicalName(name))
	c.mu.Unlock()
}

// InvalidateAll drops every cached descriptor.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.tables = make(map[string]*Table)
	c.mu.Unlock()
}
