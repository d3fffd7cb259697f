package catalog

import (
	"sync"
	"time"
)

// Catalog serves the static model registry through a short-lived cache with
// manual invalidation. Recomputation is a synchronous copy of the registry,
// so the catalog has no failure modes: an unknown id is a negative result,
// not an error.
type Catalog struct {
	mu sync.Mutex

	static    []ModelConfig
	ttl       time.Duration
	now       func() time.Time
	onRefresh func()

	cached      []ModelConfig
	populatedAt time.Time
}

func New(static []ModelConfig, ttl time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Catalog{
		static: static,
		ttl:    ttl,
		now:    time.Now,
	}
}

// ListAll returns the full model list, recomputing the cache if the validity
// window has expired. Callers receive a copy and may mutate it freely.
func (c *Catalog) ListAll() []ModelConfig {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached == nil || c.now().Sub(c.populatedAt) >= c.ttl {
		c.cached = make([]ModelConfig, len(c.static))
		copy(c.cached, c.static)
		c.populatedAt = c.now()
		if c.onRefresh != nil {
			c.onRefresh()
		}
	}

	out := make([]ModelConfig, len(c.cached))
	copy(out, c.cached)
	return out
}

// SetRefreshHook registers a callback invoked on every cache recomputation.
func (c *Catalog) SetRefreshHook(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRefresh = fn
}

// Lookup finds a model by id, consulting the cache if populated and the
// static registry otherwise.
func (c *Catalog) Lookup(modelID string) (ModelConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	source := c.cached
	if source == nil {
		source = c.static
	}
	for _, m := range source {
		if m.ID == modelID {
			return m, true
		}
	}
	return ModelConfig{}, false
}

// Invalidate clears the cache so the next access recomputes it.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cached = nil
	c.populatedAt = time.Time{}
}

// Count reports the size of the static registry.
func (c *Catalog) Count() int {
	return len(c.static)
}
