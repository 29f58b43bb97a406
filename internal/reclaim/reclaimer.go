// Package reclaim proactively unloads low-value resident models to
// relieve memory pressure, independently of capacity-triggered eviction.
package reclaim

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/modelpool/modelpool/internal/cache"
	"github.com/modelpool/modelpool/internal/registry"
	"github.com/modelpool/modelpool/pkg/errors"
	"github.com/modelpool/modelpool/pkg/types"
)

// Policy selects which resident models a collection cycle drops.
type Policy int

const (
	// PolicyMarkAndSweep drops the least-used resident models first.
	PolicyMarkAndSweep Policy = iota

	// PolicyGenerational favors models resident the longest, regardless
	// of a recent single access.
	PolicyGenerational

	// PolicyReferenceCount behaves like mark-and-sweep but never touches
	// a model pinned by an in-flight load.
	PolicyReferenceCount
)

// String returns the string representation of the policy
func (p Policy) String() string {
	switch p {
	case PolicyGenerational:
		return "generational"
	case PolicyReferenceCount:
		return "reference_count"
	default:
		return "mark_and_sweep"
	}
}

// ParsePolicy parses a policy name as it appears in configuration.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "mark_and_sweep":
		return PolicyMarkAndSweep, nil
	case "generational":
		return PolicyGenerational, nil
	case "reference_count":
		return PolicyReferenceCount, nil
	default:
		return PolicyMarkAndSweep, errors.NewError(errors.ErrCodeInvalidConfig, "unknown reclaim policy").
			WithComponent("reclaim").
			WithDetail("policy", s)
	}
}

// Config tunes collection triggering and batch size.
type Config struct {
	Policy             Policy
	CollectionInterval time.Duration
	PressureThreshold  float64
	MaxPerCycle        int
}

// DefaultConfig returns the defaults used when no configuration is given.
func DefaultConfig() Config {
	return Config{
		Policy:             PolicyMarkAndSweep,
		CollectionInterval: 60 * time.Second,
		PressureThreshold:  0.8,
		MaxPerCycle:        2,
	}
}

// Reclaimer frees memory by unloading low-value cache entries. At most
// one collection cycle runs at a time.
type Reclaimer struct {
	config   Config
	cache    *cache.ModelCache
	registry *registry.Registry
	logger   *zap.Logger

	collecting int32

	mu             sync.Mutex
	stats          types.ReclaimStats
	totalDuration  time.Duration
	lastCollection time.Time
	now            func() time.Time
}

// New creates a reclaimer over the given cache and registry.
func New(config Config, c *cache.ModelCache, reg *registry.Registry, logger *zap.Logger) *Reclaimer {
	if config.CollectionInterval <= 0 {
		config.CollectionInterval = 60 * time.Second
	}
	if config.PressureThreshold <= 0 {
		config.PressureThreshold = 0.8
	}
	if config.MaxPerCycle <= 0 {
		config.MaxPerCycle = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reclaimer{
		config:   config,
		cache:    c,
		registry: reg,
		logger:   logger,
		now:      time.Now,
	}
}

// ShouldCollect reports whether a collection cycle is due: the cache is
// under memory pressure, or the collection interval has elapsed since
// the last run.
func (r *Reclaimer) ShouldCollect() bool {
	if r.cache.Utilization() > r.config.PressureThreshold {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.now().Sub(r.lastCollection) >= r.config.CollectionInterval
}

// Collect runs one collection cycle: select candidates under the active
// policy, unload up to MaxPerCycle of them, and account the freed
// memory. Candidates that disappear mid-cycle are tolerated as no-ops.
// Returns the number of models reclaimed; a cycle overlapping another
// in-flight cycle returns 0 immediately.
func (r *Reclaimer) Collect() int {
	if !atomic.CompareAndSwapInt32(&r.collecting, 0, 1) {
		return 0
	}
	defer atomic.StoreInt32(&r.collecting, 0)

	start := r.now()
	var reclaimed int
	var freedBytes int64

	for _, id := range r.candidates() {
		if reclaimed >= r.config.MaxPerCycle {
			break
		}
		if r.config.Policy == PolicyReferenceCount && r.cache.Pinned(id) {
			continue
		}

		bytes, resident := r.cache.EntryMemoryBytes(id)
		if !resident {
			continue
		}
		if !r.cache.Remove(id) {
			continue
		}
		r.registry.SetStatus(id, types.StatusEvicted)
		freedBytes += bytes
		reclaimed++

		r.logger.Info("model reclaimed",
			zap.String("model", string(id)),
			zap.String("policy", r.config.Policy.String()),
			zap.Int64("freed_bytes", bytes))
	}

	duration := r.now().Sub(start)

	r.mu.Lock()
	r.stats.Collections++
	r.stats.ModelsReclaimed += uint64(reclaimed)
	r.stats.FreedMb += uint64(freedBytes / 1024 / 1024)
	r.totalDuration += duration
	r.stats.AvgDuration = r.totalDuration / time.Duration(r.stats.Collections)
	r.lastCollection = r.now()
	r.mu.Unlock()

	return reclaimed
}

// candidates returns reclamation candidates in drop order for the
// active policy.
func (r *Reclaimer) candidates() []types.ModelID {
	switch r.config.Policy {
	case PolicyGenerational:
		return r.registry.OldestCached()
	default:
		return r.registry.LeastUsedCached()
	}
}

// Stats returns a snapshot of reclamation statistics.
func (r *Reclaimer) Stats() types.ReclaimStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
