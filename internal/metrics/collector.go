// Package metrics exposes residency statistics through Prometheus.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/modelpool/modelpool/pkg/types"
)

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// Collector publishes cache, preload and reclaim statistics as
// Prometheus metrics and optionally serves a /metrics endpoint.
type Collector struct {
	config   *Config
	registry *prometheus.Registry

	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheEvictions prometheus.Counter
	cachePreloads  prometheus.Counter
	residentModels prometheus.Gauge
	cacheCapacity  prometheus.Gauge
	cacheHitRate   prometheus.Gauge
	residentBytes  prometheus.Gauge

	preloadOutcomes *prometheus.CounterVec
	reclaimRuns     prometheus.Counter
	reclaimedModels prometheus.Counter
	reclaimedMb     prometheus.Counter

	loadDuration *prometheus.HistogramVec

	// last published counter values, so gauge-style stat snapshots can
	// drive monotonic counters
	mu          sync.Mutex
	lastCache   types.CacheStats
	lastPreload types.PreloadStats
	lastReclaim types.ReclaimStats

	server *http.Server
}

// NewCollector creates a metrics collector
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Port:      9090,
			Path:      "/metrics",
			Namespace: "modelpool",
		}
	}
	if config.Namespace == "" {
		config.Namespace = "modelpool"
	}

	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	registry := prometheus.NewRegistry()
	c := &Collector{config: config, registry: registry}

	ns := config.Namespace
	c.cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "cache_hits_total", Help: "Model cache hits"})
	c.cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "cache_misses_total", Help: "Model cache misses"})
	c.cacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "cache_evictions_total", Help: "Capacity-triggered evictions"})
	c.cachePreloads = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "cache_preloads_total", Help: "Preload commits"})
	c.residentModels = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Name: "resident_models", Help: "Models currently resident"})
	c.cacheCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Name: "cache_capacity", Help: "Configured model capacity"})
	c.cacheHitRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Name: "cache_hit_rate", Help: "Hits over hits plus misses"})
	c.residentBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Name: "resident_memory_bytes", Help: "Estimated bytes held by resident models"})
	c.preloadOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "preload_tasks_total", Help: "Preload task outcomes"},
		[]string{"outcome"})
	c.reclaimRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "reclaim_collections_total", Help: "Reclamation cycles run"})
	c.reclaimedModels = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "reclaimed_models_total", Help: "Models unloaded by reclamation"})
	c.reclaimedMb = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "reclaimed_megabytes_total", Help: "Estimated megabytes freed by reclamation"})
	c.loadDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Name: "load_duration_seconds", Help: "Model load durations",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10)},
		[]string{"kind"})

	collectors := []prometheus.Collector{
		c.cacheHits, c.cacheMisses, c.cacheEvictions, c.cachePreloads,
		c.residentModels, c.cacheCapacity, c.cacheHitRate, c.residentBytes,
		c.preloadOutcomes, c.reclaimRuns, c.reclaimedModels, c.reclaimedMb,
		c.loadDuration,
	}
	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	return c, nil
}

// Start serves the metrics endpoint in the background.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled || c.config.Port == 0 {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("Metrics server error: %v\n", err)
		}
	}()

	return nil
}

// Stop shuts the metrics endpoint down.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// ObserveLoad records one model load duration.
func (c *Collector) ObserveLoad(duration time.Duration, preload bool) {
	if !c.config.Enabled {
		return
	}
	kind := "load"
	if preload {
		kind = "preload"
	}
	c.loadDuration.With(prometheus.Labels{"kind": kind}).Observe(duration.Seconds())
}

// PublishCacheStats pushes a cache snapshot into the Prometheus metrics.
// Counter deltas are derived from the previous snapshot.
func (c *Collector) PublishCacheStats(stats types.CacheStats, residentBytes int64) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cacheHits.Add(float64(stats.Hits - c.lastCache.Hits))
	c.cacheMisses.Add(float64(stats.Misses - c.lastCache.Misses))
	c.cacheEvictions.Add(float64(stats.Evictions - c.lastCache.Evictions))
	c.cachePreloads.Add(float64(stats.Preloads - c.lastCache.Preloads))
	c.lastCache = stats

	c.residentModels.Set(float64(stats.Size))
	c.cacheCapacity.Set(float64(stats.Capacity))
	c.cacheHitRate.Set(stats.HitRate)
	c.residentBytes.Set(float64(residentBytes))
}

// PublishPreloadStats pushes a preload snapshot into the Prometheus metrics.
func (c *Collector) PublishPreloadStats(stats types.PreloadStats) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.preloadOutcomes.With(prometheus.Labels{"outcome": "success"}).
		Add(float64(stats.Successful - c.lastPreload.Successful))
	c.preloadOutcomes.With(prometheus.Labels{"outcome": "failure"}).
		Add(float64(stats.Failed - c.lastPreload.Failed))
	c.lastPreload = stats
}

// PublishReclaimStats pushes a reclamation snapshot into the Prometheus metrics.
func (c *Collector) PublishReclaimStats(stats types.ReclaimStats) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.reclaimRuns.Add(float64(stats.Collections - c.lastReclaim.Collections))
	c.reclaimedModels.Add(float64(stats.ModelsReclaimed - c.lastReclaim.ModelsReclaimed))
	c.reclaimedMb.Add(float64(stats.FreedMb - c.lastReclaim.FreedMb))
	c.lastReclaim = stats
}

// Registry exposes the underlying Prometheus registry, for embedding
// the metrics into an external HTTP surface.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
