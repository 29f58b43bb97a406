// Package pattern records model access events and classifies usage so
// the preload scheduler can act on demand trends before they peak.
package pattern

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/modelpool/modelpool/pkg/types"
)

// Config tunes hot/cold classification and trend detection.
type Config struct {
	// HotThreshold is the access count at which a model counts as hot.
	HotThreshold int64

	// ShrinkFactor: a recent interval below ShrinkFactor x rolling
	// average marks the trend Increasing.
	ShrinkFactor float64

	// GrowFactor: a recent interval above GrowFactor x rolling average
	// marks the trend Decreasing.
	GrowFactor float64
}

// DefaultConfig returns the default detection thresholds.
func DefaultConfig() Config {
	return Config{
		HotThreshold: 5,
		ShrinkFactor: 0.8,
		GrowFactor:   1.2,
	}
}

// Detector tracks one UsagePattern per model ever accessed. Patterns are
// created lazily and never destroyed; the population is bounded by the
// number of distinct models requested.
type Detector struct {
	mu       sync.RWMutex
	patterns map[types.ModelID]*types.UsagePattern
	config   Config
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a detector with the given thresholds.
func New(config Config, logger *zap.Logger) *Detector {
	if config.HotThreshold <= 0 {
		config.HotThreshold = 5
	}
	if config.ShrinkFactor <= 0 {
		config.ShrinkFactor = 0.8
	}
	if config.GrowFactor <= 0 {
		config.GrowFactor = 1.2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		patterns: make(map[types.ModelID]*types.UsagePattern),
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// RecordAccess notes one access to id: count, last-access, the most
// recent inter-access interval and a rolling average of intervals.
func (d *Detector) RecordAccess(id types.ModelID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	p, ok := d.patterns[id]
	if !ok {
		p = &types.UsagePattern{ID: id}
		d.patterns[id] = p
	}

	if p.AccessCount > 0 {
		interval := now.Sub(p.LastAccess)
		p.RecentInterval = interval
		if p.AvgInterval == 0 {
			p.AvgInterval = interval
		} else {
			// Rolling average biased toward history so one burst does
			// not whipsaw the trend.
			p.AvgInterval = (p.AvgInterval*3 + interval) / 4
		}
		p.Trend = d.classify(p)
	}

	p.AccessCount++
	p.LastAccess = now
}

func (d *Detector) classify(p *types.UsagePattern) types.Trend {
	if p.AvgInterval == 0 {
		return types.TrendStable
	}
	ratio := float64(p.RecentInterval) / float64(p.AvgInterval)
	switch {
	case ratio < d.config.ShrinkFactor:
		return types.TrendIncreasing
	case ratio > d.config.GrowFactor:
		return types.TrendDecreasing
	default:
		return types.TrendStable
	}
}

// Pattern returns a snapshot of the usage pattern for id.
func (d *Detector) Pattern(id types.ModelID) (types.UsagePattern, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.patterns[id]
	if !ok {
		return types.UsagePattern{}, false
	}
	return *p, true
}

// IsHot reports whether id has crossed the hot threshold.
func (d *Detector) IsHot(id types.ModelID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.patterns[id]
	return ok && p.AccessCount >= d.config.HotThreshold
}

// Analyze emits a preload recommendation for every hot model whose
// accesses are arriving faster than its rolling average. Priority rises
// with access count and with how steeply the interval is shrinking;
// results come back highest priority first.
func (d *Detector) Analyze() []types.PatternResult {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var results []types.PatternResult
	for id, p := range d.patterns {
		if p.AccessCount < d.config.HotThreshold || p.Trend != types.TrendIncreasing {
			continue
		}

		steepness := 1.0
		if p.AvgInterval > 0 && p.RecentInterval > 0 {
			steepness = float64(p.AvgInterval) / float64(p.RecentInterval)
		}
		priority := int(float64(p.AccessCount) * steepness)

		results = append(results, types.PatternResult{
			ID:            id,
			ShouldPreload: true,
			Priority:      priority,
			Reason: fmt.Sprintf("hot model (%d accesses), interval shrinking %.1fx",
				p.AccessCount, steepness),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Priority != results[j].Priority {
			return results[i].Priority > results[j].Priority
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > 0 {
		d.logger.Debug("pattern analysis produced preload recommendations",
			zap.Int("count", len(results)))
	}
	return results
}

// Snapshot returns copies of all tracked usage patterns, for diagnostics.
func (d *Detector) Snapshot() []types.UsagePattern {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]types.UsagePattern, 0, len(d.patterns))
	for _, p := range d.patterns {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
