package statemachine

import (
	"strings"
	"sync"

	"github.com/amp-labs/workflow-core/merge"
)

// Context is the thread-safe mutable document actions operate on while a
// snapshot's actions are executed.
type Context struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewContext creates a context holding a deep copy of data.
func NewContext(data map[string]any) *Context {
	return &Context{data: merge.CloneMap(data)}
}

// wrapContext takes ownership of data without copying it.
func wrapContext(data map[string]any) *Context {
	if data == nil {
		data = map[string]any{}
	}

	return &Context{data: data}
}

// Get returns the value at a dotted path.
func (c *Context) Get(path string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var current any = c.data

	for key := range strings.SplitSeq(path, PathSeparator) {
		m, ok := merge.AsMap(current)
		if !ok {
			return nil, false
		}

		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// Set stores a top-level key.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = value
}

// Replace swaps the whole document.
func (c *Context) Replace(data map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if data == nil {
		data = map[string]any{}
	}

	c.data = data
}

// Update applies fn to the document under the write lock and stores its result.
func (c *Context) Update(fn func(data map[string]any) map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data = fn(c.data)
	if c.data == nil {
		c.data = map[string]any{}
	}
}

// Snapshot returns a deep copy of the document.
func (c *Context) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return merge.CloneMap(c.data)
}

// Keys returns the top-level keys.
func (c *Context) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return sortedKeys(c.data)
}

func (c *Context) raw() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.data
}
