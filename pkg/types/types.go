package types

import (
	"time"
)

// ModelID uniquely identifies a model across all components.
type ModelID string

// CacheStatus tracks where a model is in its residency lifecycle.
type CacheStatus int

const (
	StatusNotLoaded CacheStatus = iota
	StatusLoading
	StatusLoaded
	StatusPreloaded
	StatusEvicted
)

// String returns the string representation of the cache status
func (s CacheStatus) String() string {
	switch s {
	case StatusNotLoaded:
		return "not_loaded"
	case StatusLoading:
		return "loading"
	case StatusLoaded:
		return "loaded"
	case StatusPreloaded:
		return "preloaded"
	case StatusEvicted:
		return "evicted"
	default:
		return "unknown"
	}
}

// ModelMetadata holds per-model registration and access bookkeeping.
// Records are created on first registration and live for the process
// lifetime; only the status and access fields change afterwards.
type ModelMetadata struct {
	ID          ModelID     `json:"id"`
	Path        string      `json:"path"`
	ContentHash string      `json:"content_hash"`
	SizeBytes   int64       `json:"size_bytes"`
	CreatedAt   time.Time   `json:"created_at"`
	LastAccess  time.Time   `json:"last_access"`
	AccessCount int64       `json:"access_count"`
	Status      CacheStatus `json:"status"`
}

// CacheStats represents cache performance statistics. Counters are
// monotonically increasing for the life of the cache.
type CacheStats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	Preloads  uint64  `json:"preloads"`
	Size      int     `json:"size"`
	Capacity  int     `json:"capacity"`
	HitRate   float64 `json:"hit_rate"`
}

// Trend classifies how a model's access rate is changing over time.
type Trend int

const (
	TrendStable Trend = iota
	TrendIncreasing
	TrendDecreasing
)

// String returns the string representation of the trend
func (t Trend) String() string {
	switch t {
	case TrendIncreasing:
		return "increasing"
	case TrendDecreasing:
		return "decreasing"
	default:
		return "stable"
	}
}

// UsagePattern captures the observed access behavior of one model.
type UsagePattern struct {
	ID             ModelID       `json:"id"`
	AccessCount    int64         `json:"access_count"`
	LastAccess     time.Time     `json:"last_access"`
	AvgInterval    time.Duration `json:"avg_interval"`
	RecentInterval time.Duration `json:"recent_interval"`
	Trend          Trend         `json:"trend"`
}

// PatternResult is a preload recommendation produced by pattern analysis.
type PatternResult struct {
	ID            ModelID `json:"id"`
	ShouldPreload bool    `json:"should_preload"`
	Priority      int     `json:"priority"`
	Reason        string  `json:"reason"`
}

// PreloadTask is a queued background load request.
type PreloadTask struct {
	ID         ModelID   `json:"id"`
	Path       string    `json:"path"`
	Priority   int       `json:"priority"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// PreloadStats tracks background preloading outcomes.
type PreloadStats struct {
	Total       uint64  `json:"total"`
	Successful  uint64  `json:"successful"`
	Failed      uint64  `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
}

// SystemMemory is a point-in-time snapshot of system memory, in megabytes.
// Snapshots are read fresh on every optimization tick and never cached.
type SystemMemory struct {
	TotalMb     uint64 `json:"total_mb"`
	AvailableMb uint64 `json:"available_mb"`
	UsedMb      uint64 `json:"used_mb"`
}

// ReclaimStats tracks proactive memory reclamation outcomes.
type ReclaimStats struct {
	Collections     uint64        `json:"collections"`
	FreedMb         uint64        `json:"freed_mb"`
	ModelsReclaimed uint64        `json:"models_reclaimed"`
	AvgDuration     time.Duration `json:"avg_duration"`
}

// ManagerStats aggregates the statistics of every residency component.
type ManagerStats struct {
	Cache   CacheStats   `json:"cache"`
	Preload PreloadStats `json:"preload"`
	Reclaim ReclaimStats `json:"reclaim"`
}
