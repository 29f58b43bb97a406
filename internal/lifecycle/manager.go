// Package lifecycle composes the residency components behind one
// load/preload/unload API and drives the periodic optimization,
// reclamation and pattern-analysis ticks.
package lifecycle

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/modelpool/modelpool/internal/cache"
	"github.com/modelpool/modelpool/internal/capacity"
	"github.com/modelpool/modelpool/internal/config"
	"github.com/modelpool/modelpool/internal/metrics"
	"github.com/modelpool/modelpool/internal/pattern"
	"github.com/modelpool/modelpool/internal/preload"
	"github.com/modelpool/modelpool/internal/reclaim"
	"github.com/modelpool/modelpool/internal/registry"
	"github.com/modelpool/modelpool/pkg/errors"
	"github.com/modelpool/modelpool/pkg/hash"
	"github.com/modelpool/modelpool/pkg/memprobe"
	"github.com/modelpool/modelpool/pkg/types"
)

const pressureThreshold = 0.8

// SizeEstimator reports the expected per-model memory footprint in
// megabytes, used to translate the optimizer's memory budget into a
// model capacity. Estimates stay pluggable; there is no single correct
// formula.
type SizeEstimator func() uint64

// Option configures optional manager collaborators.
type Option func(*Manager)

// WithLogger sets the logger shared by all components.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithHasher overrides the content hasher used at registration.
func WithHasher(h types.Hasher) Option {
	return func(m *Manager) { m.hasher = h }
}

// WithMemoryProbe overrides the system memory probe.
func WithMemoryProbe(p types.MemoryProbe) Option {
	return func(m *Manager) { m.probe = p }
}

// WithSizeEstimator overrides the per-model footprint estimate.
func WithSizeEstimator(e SizeEstimator) Option {
	return func(m *Manager) { m.estimator = e }
}

// Manager is the orchestrating façade for model residency.
type Manager struct {
	config *config.Configuration
	loader types.Loader
	hasher types.Hasher
	probe  types.MemoryProbe
	logger *zap.Logger

	registry  *registry.Registry
	cache     *cache.ModelCache
	detector  *pattern.Detector
	scheduler *preload.Scheduler
	optimizer *capacity.Optimizer
	reclaimer *reclaim.Reclaimer
	collector *metrics.Collector
	estimator SizeEstimator

	stopCh chan struct{}
	wg     sync.WaitGroup
	active int32
}

// New builds a manager and all its components from configuration.
func New(cfg *config.Configuration, loader types.Loader, opts ...Option) (*Manager, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, err.Error()).
			WithComponent("lifecycle")
	}

	m := &Manager{
		config: cfg,
		loader: loader,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.hasher == nil {
		m.hasher = hash.New()
	}
	if m.probe == nil {
		m.probe = memprobe.New()
	}

	policy, err := cache.ParsePolicy(cfg.Cache.EvictionPolicy)
	if err != nil {
		return nil, err
	}
	preloadStrategy, err := preload.ParseStrategy(cfg.Preload.Strategy)
	if err != nil {
		return nil, err
	}
	capacityStrategy, err := capacity.ParseStrategy(cfg.Capacity.Strategy)
	if err != nil {
		return nil, err
	}
	reclaimPolicy, err := reclaim.ParsePolicy(cfg.Reclaim.Policy)
	if err != nil {
		return nil, err
	}

	m.registry = registry.New(m.hasher, m.logger)
	m.cache = cache.New(cfg.Cache.MaxModels, policy, m.registry, m.logger)
	m.detector = pattern.New(pattern.Config{
		HotThreshold: cfg.Pattern.HotThreshold,
		ShrinkFactor: cfg.Pattern.ShrinkFactor,
		GrowFactor:   cfg.Pattern.GrowFactor,
	}, m.logger)
	m.scheduler = preload.New(preload.Config{
		Strategy:        preloadStrategy,
		BatchSize:       cfg.Preload.BatchSize,
		InterBatchDelay: cfg.Preload.InterBatchDelay,
		QueueLimit:      cfg.Preload.QueueLimit,
	}, m.cache, m.detector, m.registry, loader, m.logger)
	m.optimizer = capacity.New(capacity.Config{
		Strategy:       capacityStrategy,
		MinCacheMb:     cfg.Capacity.MinCacheMb,
		MaxCacheMb:     cfg.Capacity.MaxCacheMb,
		UpdateInterval: cfg.Capacity.UpdateInterval,
		Hysteresis:     cfg.Capacity.Hysteresis,
	}, m.logger)
	m.reclaimer = reclaim.New(reclaim.Config{
		Policy:             reclaimPolicy,
		CollectionInterval: cfg.Reclaim.CollectionInterval,
		PressureThreshold:  cfg.Reclaim.PressureThreshold,
		MaxPerCycle:        cfg.Reclaim.MaxPerCycle,
	}, m.cache, m.registry, m.logger)

	m.collector, err = metrics.NewCollector(&metrics.Config{
		Enabled: cfg.Monitoring.Enabled,
		Port:    cfg.Monitoring.MetricsPort,
		Path:    cfg.Monitoring.MetricsPath,
	})
	if err != nil {
		return nil, err
	}
	m.cache.SetLoadObserver(m.collector.ObserveLoad)

	if m.estimator == nil {
		m.estimator = m.residentMeanEstimate
	}

	return m, nil
}

// residentMeanEstimate is the default per-model footprint estimate: the
// mean estimated footprint of resident models, falling back to the
// configured constant when the cache is empty.
func (m *Manager) residentMeanEstimate() uint64 {
	size := m.cache.Size()
	if size == 0 {
		return m.config.Capacity.ModelSizeMb
	}
	meanMb := uint64(m.cache.EstimatedMemoryBytes() / int64(size) / 1024 / 1024)
	if meanMb == 0 {
		return m.config.Capacity.ModelSizeMb
	}
	return meanMb
}

// Load returns the engine for id, loading it on a miss. The model is
// registered (and its content hashed) only on first sight; use
// Revalidate to re-check the hash afterwards. The access is recorded
// with both the registry and the pattern detector. Registry and cache
// errors surface unchanged.
func (m *Manager) Load(ctx context.Context, id types.ModelID, path string) (types.EngineHandle, error) {
	if err := m.register(id, path); err != nil {
		return nil, err
	}

	handle, err := m.cache.GetOrLoad(ctx, id, path, m.loader)
	if err != nil {
		return nil, err
	}

	m.registry.RecordAccess(id)
	m.detector.RecordAccess(id)
	return handle, nil
}

// Revalidate recomputes the content hash for id and compares it against
// the hash stored at registration. A changed file surfaces as
// HASH_MISMATCH; the stored hash is left untouched.
func (m *Manager) Revalidate(id types.ModelID) error {
	return m.registry.Revalidate(id)
}

// register registers id on first sight only, so the content hash is
// computed once per model rather than on every load.
func (m *Manager) register(id types.ModelID, path string) error {
	if _, err := m.registry.Get(id); err == nil {
		return nil
	}
	_, err := m.registry.Register(id, path)
	return err
}

// Preload registers id and queues a background load. The model will be
// resident but unmarked as used once the scheduler drains the task.
func (m *Manager) Preload(id types.ModelID, path string, priority int) error {
	if err := m.register(id, path); err != nil {
		return err
	}

	m.scheduler.Enqueue(types.PreloadTask{
		ID:         id,
		Path:       path,
		Priority:   priority,
		EnqueuedAt: time.Now(),
	})
	return nil
}

// Unload removes id from the cache, releasing its engine. Returns false
// if the model was not resident.
func (m *Manager) Unload(id types.ModelID) bool {
	removed := m.cache.Remove(id)
	if removed {
		m.registry.RecordAccess(id)
		m.detector.RecordAccess(id)
	}
	return removed
}

// ListLoaded returns the resident model ids in stable order.
func (m *Manager) ListLoaded() []types.ModelID {
	ids := m.cache.List()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Stats aggregates cache, preload and reclamation statistics.
func (m *Manager) Stats() types.ManagerStats {
	return types.ManagerStats{
		Cache:   m.cache.Stats(),
		Preload: m.scheduler.Stats(),
		Reclaim: m.reclaimer.Stats(),
	}
}

// MemoryPressure reports whether resident models exceed 80% of
// capacity. The boundary itself does not count as pressure.
func (m *Manager) MemoryPressure() bool {
	return m.cache.Utilization() > pressureThreshold
}

// ClearPreloadQueue cancels all pending preload tasks. In-flight loads
// complete on their own and committed entries are untouched.
func (m *Manager) ClearPreloadQueue() int {
	return m.scheduler.Clear()
}

// Metadata returns the registry record for id.
func (m *Manager) Metadata(id types.ModelID) (*types.ModelMetadata, error) {
	return m.registry.Get(id)
}

// Patterns returns usage pattern snapshots for diagnostics.
func (m *Manager) Patterns() []types.UsagePattern {
	return m.detector.Snapshot()
}

// Start launches the preload scheduler, the metrics endpoint, and the
// periodic optimization/reclamation tick.
func (m *Manager) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&m.active, 0, 1) {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "lifecycle manager already running").
			WithComponent("lifecycle")
	}

	if err := m.scheduler.Start(ctx); err != nil {
		atomic.StoreInt32(&m.active, 0)
		return err
	}
	if err := m.collector.Start(ctx); err != nil {
		m.scheduler.Stop()
		atomic.StoreInt32(&m.active, 0)
		return err
	}

	m.logger.Info("lifecycle manager started",
		zap.Int("capacity", m.cache.Capacity()),
		zap.Duration("tick_interval", m.config.Global.TickInterval))

	m.stopCh = make(chan struct{})
	m.wg.Add(1)
	go m.tickLoop(ctx, m.stopCh)
	return nil
}

// Stop shuts the background work down and waits for it to finish.
func (m *Manager) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&m.active, 1, 0) {
		return nil
	}

	close(m.stopCh)
	m.wg.Wait()
	m.scheduler.Stop()
	return m.collector.Stop(ctx)
}

func (m *Manager) tickLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer m.wg.Done()

	interval := m.config.Global.TickInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			m.Tick()
		}
	}
}

// Tick runs one round of background maintenance: capacity optimization,
// reclamation, pattern-driven preload hints and metrics publishing. It
// is exported so callers without a running tick loop can drive
// maintenance themselves.
func (m *Manager) Tick() {
	m.optimizeCapacity()
	m.maybeReclaim()
	m.enqueueRecommendations()
	m.publishMetrics()
}

func (m *Manager) optimizeCapacity() {
	mem, err := m.probe.ReadSystemMemory()
	if err != nil {
		m.logger.Warn("memory probe failed", zap.Error(err))
		return
	}

	targetMb, ok := m.optimizer.Optimize(mem)
	if !ok {
		return
	}

	perModelMb := m.estimator()
	if perModelMb == 0 {
		perModelMb = m.config.Capacity.ModelSizeMb
	}
	entries := int(targetMb / perModelMb)
	if entries < 1 {
		entries = 1
	}

	m.logger.Info("applying capacity recommendation",
		zap.Uint64("target_mb", targetMb),
		zap.Uint64("per_model_mb", perModelMb),
		zap.Int("capacity", entries))
	m.cache.SetMaxSize(entries)
}

func (m *Manager) maybeReclaim() {
	if !m.reclaimer.ShouldCollect() {
		return
	}
	if n := m.reclaimer.Collect(); n > 0 {
		m.logger.Info("reclamation cycle finished", zap.Int("reclaimed", n))
	}
}

func (m *Manager) enqueueRecommendations() {
	for _, rec := range m.detector.Analyze() {
		if !rec.ShouldPreload || m.cache.Contains(rec.ID) {
			continue
		}
		meta, err := m.registry.Get(rec.ID)
		if err != nil {
			continue
		}
		m.scheduler.Enqueue(types.PreloadTask{
			ID:         rec.ID,
			Path:       meta.Path,
			Priority:   rec.Priority,
			EnqueuedAt: time.Now(),
		})
	}
}

func (m *Manager) publishMetrics() {
	m.collector.PublishCacheStats(m.cache.Stats(), m.cache.EstimatedMemoryBytes())
	m.collector.PublishPreloadStats(m.scheduler.Stats())
	m.collector.PublishReclaimStats(m.reclaimer.Stats())
}
