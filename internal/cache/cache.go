package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/modelpool/modelpool/internal/registry"
	"github.com/modelpool/modelpool/pkg/errors"
	"github.com/modelpool/modelpool/pkg/types"
)

// Policy selects the eviction victim when the cache is full.
type Policy int

const (
	PolicyLRU Policy = iota
	PolicyLFU
	PolicyFIFO
)

// String returns the string representation of the policy
func (p Policy) String() string {
	switch p {
	case PolicyLFU:
		return "lfu"
	case PolicyFIFO:
		return "fifo"
	default:
		return "lru"
	}
}

// ParsePolicy parses a policy name as it appears in configuration.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "lru":
		return PolicyLRU, nil
	case "lfu":
		return PolicyLFU, nil
	case "fifo":
		return PolicyFIFO, nil
	default:
		return PolicyLRU, errors.NewError(errors.ErrCodeInvalidConfig, "unknown eviction policy").
			WithComponent("cache").
			WithDetail("policy", s)
	}
}

// entry is one resident model. lastUsed stays zero until the first
// organic use, so a preloaded entry never outranks organically used
// entries under LRU.
type entry struct {
	handle      types.EngineHandle
	insertedAt  time.Time
	lastUsed    time.Time
	accessCount int64
	preloaded   bool
	memoryBytes int64
}

// ModelCache is a capacity-bounded table of loaded model engines with a
// pluggable eviction policy. Capacity counts models, not bytes: model
// memory figures are estimates and the entry count is what the loader
// economics actually bound.
//
// One exclusive lock guards the entry table and statistics. The loader
// itself always runs outside the lock; concurrent misses for the same
// id coalesce into a single loader invocation.
type ModelCache struct {
	mu       sync.Mutex
	capacity int
	policy   Policy
	items    map[types.ModelID]*entry
	inflight map[types.ModelID]struct{}
	group    singleflight.Group
	stats    types.CacheStats

	registry *registry.Registry
	logger   *zap.Logger
	onLoad   func(duration time.Duration, preload bool)
}

// New creates a model cache with the given capacity and eviction policy.
func New(capacity int, policy Policy, reg *registry.Registry, logger *zap.Logger) *ModelCache {
	if capacity < 1 {
		capacity = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModelCache{
		capacity: capacity,
		policy:   policy,
		items:    make(map[types.ModelID]*entry),
		inflight: make(map[types.ModelID]struct{}),
		registry: reg,
		logger:   logger,
	}
}

// SetLoadObserver registers a callback invoked after every committed
// load with the loader duration and whether the load was a preload.
// Hits never fire it.
func (c *ModelCache) SetLoadObserver(fn func(duration time.Duration, preload bool)) {
	c.mu.Lock()
	c.onLoad = fn
	c.mu.Unlock()
}

// GetOrLoad returns the engine for id, loading it on a miss. A hit
// updates recency and frequency; a miss evicts a victim if the cache is
// full, invokes the loader outside the lock, and commits the result.
func (c *ModelCache) GetOrLoad(ctx context.Context, id types.ModelID, path string, loader types.Loader) (types.EngineHandle, error) {
	return c.load(ctx, id, path, loader, true)
}

// Preload loads id like GetOrLoad but does not mark the entry as used:
// the load commits with preloaded=true and leaves the recency clock and
// use count untouched, so preloads cannot crowd out organic demand.
func (c *ModelCache) Preload(ctx context.Context, id types.ModelID, path string, loader types.Loader) (types.EngineHandle, error) {
	return c.load(ctx, id, path, loader, false)
}

func (c *ModelCache) load(ctx context.Context, id types.ModelID, path string, loader types.Loader, markUse bool) (types.EngineHandle, error) {
	c.mu.Lock()
	if e, ok := c.items[id]; ok {
		c.stats.Hits++
		if markUse {
			c.touchLocked(id, e)
		}
		handle := e.handle
		c.mu.Unlock()
		return handle, nil
	}
	c.mu.Unlock()

	// The flight is shared by every coalesced waiter, so it must not run
	// under any single waiter's context: a cancelled first caller would
	// otherwise fail the load for callers whose contexts are still live.
	flightCtx := context.WithoutCancel(ctx)
	resCh := c.group.DoChan(string(id), func() (interface{}, error) {
		return c.loadMiss(flightCtx, id, path, loader, markUse)
	})

	select {
	case res := <-resCh:
		if res.Err != nil {
			return nil, res.Err
		}
		handle := res.Val.(types.EngineHandle)
		if markUse {
			// The flight commits the entry without marking it used; every
			// organic caller, coalesced or not, records its own use here.
			c.mu.Lock()
			if e, ok := c.items[id]; ok {
				c.touchLocked(id, e)
			}
			c.mu.Unlock()
		}
		return handle, nil
	case <-ctx.Done():
		// The in-flight load completes on its own; cancelling it here
		// would leak a half-constructed engine.
		return nil, ctx.Err()
	}
}

// loadMiss is the single-flight miss path: install an in-flight marker,
// run the loader unlocked, then re-acquire the lock to commit. The
// commit never marks the entry used; callers do that once the flight
// resolves.
func (c *ModelCache) loadMiss(ctx context.Context, id types.ModelID, path string, loader types.Loader, markUse bool) (interface{}, error) {
	c.mu.Lock()
	if e, ok := c.items[id]; ok {
		// Committed by an earlier flight between our fast-path check and
		// this callback.
		c.stats.Hits++
		handle := e.handle
		c.mu.Unlock()
		return handle, nil
	}
	c.inflight[id] = struct{}{}
	c.mu.Unlock()

	if c.registry != nil {
		c.registry.SetStatus(id, types.StatusLoading)
	}

	start := time.Now()
	handle, err := loader(ctx, path)

	c.mu.Lock()
	delete(c.inflight, id)

	if err != nil {
		c.mu.Unlock()
		if c.registry != nil {
			c.registry.SetStatus(id, types.StatusNotLoaded)
		}
		c.logger.Warn("model load failed",
			zap.String("model", string(id)),
			zap.String("path", path),
			zap.Error(err))
		return nil, errors.NewError(errors.ErrCodeEngineLoadFailed, "loader failed to construct engine").
			WithComponent("cache").
			WithOperation("load").
			WithDetail("model", string(id)).
			WithCause(err)
	}

	for len(c.items) >= c.capacity {
		c.evictVictimLocked()
	}

	e := &entry{
		handle:      handle,
		insertedAt:  time.Now(),
		preloaded:   !markUse,
		memoryBytes: handle.MemoryBytes(),
	}
	c.items[id] = e
	c.stats.Misses++
	if !markUse {
		c.stats.Preloads++
	}
	onLoad := c.onLoad
	c.mu.Unlock()

	if onLoad != nil {
		onLoad(time.Since(start), !markUse)
	}

	if c.registry != nil {
		if markUse {
			c.registry.SetStatus(id, types.StatusLoaded)
		} else {
			c.registry.SetStatus(id, types.StatusPreloaded)
		}
	}

	c.logger.Info("model loaded",
		zap.String("model", string(id)),
		zap.Bool("preload", !markUse),
		zap.Int64("memory_bytes", e.memoryBytes),
		zap.Duration("duration", time.Since(start)))

	return handle, nil
}

// touchLocked records an organic use of an entry. The first use of a
// preloaded entry flips it to ordinary loaded state.
func (c *ModelCache) touchLocked(id types.ModelID, e *entry) {
	e.lastUsed = time.Now()
	e.accessCount++
	if e.preloaded {
		e.preloaded = false
		if c.registry != nil {
			c.registry.SetStatus(id, types.StatusLoaded)
		}
	}
}

// evictVictimLocked removes the policy's victim and releases its handle.
func (c *ModelCache) evictVictimLocked() {
	victim, ok := c.selectVictimLocked()
	if !ok {
		return
	}
	e := c.items[victim]
	delete(c.items, victim)
	c.stats.Evictions++

	if err := e.handle.Release(); err != nil {
		c.logger.Warn("failed to release evicted engine",
			zap.String("model", string(victim)),
			zap.Error(err))
	}
	if c.registry != nil {
		c.registry.SetStatus(victim, types.StatusEvicted)
	}

	c.logger.Info("model evicted",
		zap.String("model", string(victim)),
		zap.String("policy", c.policy.String()),
		zap.Int64("memory_bytes", e.memoryBytes))
}

// selectVictimLocked picks the eviction victim under the active policy.
// Ties break toward the lexicographically smallest id so eviction order
// is deterministic. In-flight ids have no entry yet and are therefore
// never candidates.
func (c *ModelCache) selectVictimLocked() (types.ModelID, bool) {
	var victim types.ModelID
	found := false
	for id, e := range c.items {
		if !found || c.ranksBefore(e, id, c.items[victim], victim) {
			victim = id
			found = true
		}
	}
	return victim, found
}

func (c *ModelCache) ranksBefore(a *entry, aID types.ModelID, b *entry, bID types.ModelID) bool {
	switch c.policy {
	case PolicyLFU:
		if a.accessCount != b.accessCount {
			return a.accessCount < b.accessCount
		}
	case PolicyFIFO:
		if !a.insertedAt.Equal(b.insertedAt) {
			return a.insertedAt.Before(b.insertedAt)
		}
	default: // LRU; zero lastUsed (never organically used) sorts first
		if !a.lastUsed.Equal(b.lastUsed) {
			return a.lastUsed.Before(b.lastUsed)
		}
	}
	return aID < bID
}

// Contains reports whether id is resident. It does not count as a use.
func (c *ModelCache) Contains(id types.ModelID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[id]
	return ok
}

// Pinned reports whether id has a load in flight.
func (c *ModelCache) Pinned(id types.ModelID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[id]
	return ok
}

// List returns the ids of all resident models.
func (c *ModelCache) List() []types.ModelID {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]types.ModelID, 0, len(c.items))
	for id := range c.items {
		ids = append(ids, id)
	}
	return ids
}

// Remove unloads id, releasing its engine handle. Removing an id that
// is not resident is a no-op. Explicit removal does not count as an
// eviction.
func (c *ModelCache) Remove(id types.ModelID) bool {
	c.mu.Lock()
	e, ok := c.items[id]
	if !ok {
		c.mu.Unlock()
		return false
	}
	delete(c.items, id)
	c.mu.Unlock()

	if err := e.handle.Release(); err != nil {
		c.logger.Warn("failed to release engine on remove",
			zap.String("model", string(id)),
			zap.Error(err))
	}
	if c.registry != nil {
		c.registry.SetStatus(id, types.StatusNotLoaded)
	}

	c.logger.Info("model removed",
		zap.String("model", string(id)),
		zap.Int64("memory_bytes", e.memoryBytes))
	return true
}

// SetMaxSize changes the capacity. Shrinking below the current resident
// count evicts victims under the active policy until the bound holds.
func (c *ModelCache) SetMaxSize(n int) {
	if n < 1 {
		n = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.capacity
	c.capacity = n
	for len(c.items) > c.capacity {
		c.evictVictimLocked()
	}

	if old != n {
		c.logger.Info("cache capacity changed",
			zap.Int("old", old),
			zap.Int("new", n))
	}
}

// Size returns the number of resident models.
func (c *ModelCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Capacity returns the configured capacity.
func (c *ModelCache) Capacity() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capacity
}

// Utilization returns resident count over capacity.
func (c *ModelCache) Utilization() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capacity == 0 {
		return 0
	}
	return float64(len(c.items)) / float64(c.capacity)
}

// EstimatedMemoryBytes sums the estimated footprint of resident models.
func (c *ModelCache) EstimatedMemoryBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var total int64
	for _, e := range c.items {
		total += e.memoryBytes
	}
	return total
}

// EntryMemoryBytes returns the estimated footprint of a resident model.
func (c *ModelCache) EntryMemoryBytes(id types.ModelID) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[id]
	if !ok {
		return 0, false
	}
	return e.memoryBytes, true
}

// Stats returns a snapshot of cache statistics.
func (c *ModelCache) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Size = len(c.items)
	stats.Capacity = c.capacity
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}
