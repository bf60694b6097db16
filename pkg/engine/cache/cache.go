// Package cache implements the compiled-module cache Component G depends
// on, adapted from the node codebase's pkg/serverless/cache/module_cache.go
// to key on a content Digest rather than a free-form wasm CID string.
package cache

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/wavsnet/operator/pkg/digest"
)

// ModuleCache caches compiled WASM modules keyed by their content digest.
type ModuleCache struct {
	mu       sync.RWMutex
	modules  map[digest.Digest]wazero.CompiledModule
	capacity int
	logger   *zap.Logger
}

// NewModuleCache constructs a ModuleCache holding at most capacity
// compiled modules.
func NewModuleCache(capacity int, logger *zap.Logger) *ModuleCache {
	return &ModuleCache{
		modules:  make(map[digest.Digest]wazero.CompiledModule),
		capacity: capacity,
		logger:   logger,
	}
}

// Get retrieves a compiled module, if present.
func (c *ModuleCache) Get(d digest.Digest) (wazero.CompiledModule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.modules[d]
	return m, ok
}

// GetOrCompute returns the cached module for d, compiling and inserting
// it via compute if absent. compute runs without the lock held.
func (c *ModuleCache) GetOrCompute(d digest.Digest, compute func() (wazero.CompiledModule, error)) (wazero.CompiledModule, error) {
	c.mu.RLock()
	if m, ok := c.modules[d]; ok {
		c.mu.RUnlock()
		return m, nil
	}
	c.mu.RUnlock()

	m, err := compute()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.modules[d]; ok {
		_ = m.Close(context.Background())
		return existing, nil
	}
	if len(c.modules) >= c.capacity {
		c.evictOldestLocked()
	}
	c.modules[d] = m
	c.logger.Debug("component compiled and cached", zap.String("digest", d.String()), zap.Int("cache_size", len(c.modules)))
	return m, nil
}

// Delete removes and closes the module for d, if present.
func (c *ModuleCache) Delete(ctx context.Context, d digest.Digest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.modules[d]; ok {
		_ = m.Close(ctx)
		delete(c.modules, d)
	}
}

// Size returns the current number of cached modules.
func (c *ModuleCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.modules)
}

// Clear closes and removes every cached module.
func (c *ModuleCache) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for d, m := range c.modules {
		if err := m.Close(ctx); err != nil {
			c.logger.Warn("failed to close cached module on clear", zap.String("digest", d.String()), zap.Error(err))
		}
	}
	c.modules = make(map[digest.Digest]wazero.CompiledModule)
}

// evictOldestLocked removes one arbitrary entry; mu must be held. Like
// the teacher's cache, this is not a true LRU.
func (c *ModuleCache) evictOldestLocked() {
	for d, m := range c.modules {
		_ = m.Close(context.Background())
		delete(c.modules, d)
		return
	}
}
