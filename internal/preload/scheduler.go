// Package preload drains a queue of background model loads on its own
// goroutine, rate-limited so warm-up work never starves live traffic.
package preload

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/modelpool/modelpool/internal/cache"
	"github.com/modelpool/modelpool/internal/pattern"
	"github.com/modelpool/modelpool/internal/registry"
	"github.com/modelpool/modelpool/pkg/errors"
	"github.com/modelpool/modelpool/pkg/types"
)

// Strategy orders the queue at dequeue time. Tasks are accepted FIFO
// regardless of strategy.
type Strategy int

const (
	StrategySequential Strategy = iota // enqueue order
	StrategyFrequency                  // usage access count, descending
	StrategyRecency                    // last access, most recent first
	StrategySize                       // file size, smallest first
)

// String returns the string representation of the strategy
func (s Strategy) String() string {
	switch s {
	case StrategyFrequency:
		return "frequency"
	case StrategyRecency:
		return "recency"
	case StrategySize:
		return "size"
	default:
		return "sequential"
	}
}

// ParseStrategy parses a strategy name as it appears in configuration.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "sequential":
		return StrategySequential, nil
	case "frequency":
		return StrategyFrequency, nil
	case "recency":
		return StrategyRecency, nil
	case "size":
		return StrategySize, nil
	default:
		return StrategySequential, errors.NewError(errors.ErrCodeInvalidConfig, "unknown preload strategy").
			WithComponent("preload").
			WithDetail("strategy", s)
	}
}

// Config tunes the drain loop.
type Config struct {
	Strategy        Strategy
	BatchSize       int
	InterBatchDelay time.Duration
	QueueLimit      int
}

// DefaultConfig returns the defaults used when no configuration is given.
func DefaultConfig() Config {
	return Config{
		Strategy:        StrategySequential,
		BatchSize:       1,
		InterBatchDelay: 100 * time.Millisecond,
		QueueLimit:      256,
	}
}

// Scheduler queues preload tasks and drains them in rate-limited batches
// through the cache's preload path. Failures are logged and counted;
// the queue always continues to the next task.
type Scheduler struct {
	mu    sync.Mutex
	queue []types.PreloadTask
	stats types.PreloadStats

	config   Config
	cache    *cache.ModelCache
	detector *pattern.Detector
	registry *registry.Registry
	loader   types.Loader
	logger   *zap.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
	active int32
}

// New creates a scheduler. The detector may be nil when the strategy
// does not consult usage patterns.
func New(config Config, c *cache.ModelCache, det *pattern.Detector, reg *registry.Registry, loader types.Loader, logger *zap.Logger) *Scheduler {
	if config.BatchSize <= 0 {
		config.BatchSize = 1
	}
	if config.InterBatchDelay <= 0 {
		config.InterBatchDelay = 100 * time.Millisecond
	}
	if config.QueueLimit <= 0 {
		config.QueueLimit = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		config:   config,
		cache:    c,
		detector: det,
		registry: reg,
		loader:   loader,
		logger:   logger,
	}
}

// Enqueue accepts a preload task. Tasks for models already resident are
// dropped, as are tasks beyond the queue limit.
func (s *Scheduler) Enqueue(task types.PreloadTask) bool {
	if s.cache.Contains(task.ID) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) >= s.config.QueueLimit {
		s.logger.Warn("preload queue full, dropping task",
			zap.String("model", string(task.ID)))
		return false
	}
	for _, queued := range s.queue {
		if queued.ID == task.ID {
			return false
		}
	}

	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now()
	}
	s.queue = append(s.queue, task)
	return true
}

// Start launches the drain loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.active, 0, 1) {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "preload scheduler already running").
			WithComponent("preload")
	}

	s.logger.Info("starting preload scheduler",
		zap.String("strategy", s.config.Strategy.String()),
		zap.Int("batch_size", s.config.BatchSize),
		zap.Duration("inter_batch_delay", s.config.InterBatchDelay))

	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.drainLoop(ctx, s.stopCh)
	return nil
}

// Stop shuts the drain loop down. Pending tasks stay queued; an
// in-flight load completes on its own.
func (s *Scheduler) Stop() {
	if !atomic.CompareAndSwapInt32(&s.active, 1, 0) {
		return
	}
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scheduler) drainLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.InterBatchDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			for _, task := range s.dequeueBatch() {
				s.process(ctx, task)
			}
		}
	}
}

// dequeueBatch orders the pending queue under the active strategy and
// takes up to one batch from the front.
func (s *Scheduler) dequeueBatch() []types.PreloadTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return nil
	}

	s.orderLocked()

	n := s.config.BatchSize
	if n > len(s.queue) {
		n = len(s.queue)
	}
	batch := make([]types.PreloadTask, n)
	copy(batch, s.queue[:n])
	s.queue = s.queue[n:]
	return batch
}

func (s *Scheduler) orderLocked() {
	switch s.config.Strategy {
	case StrategyFrequency:
		sort.SliceStable(s.queue, func(i, j int) bool {
			return s.accessCount(s.queue[i].ID) > s.accessCount(s.queue[j].ID)
		})
	case StrategyRecency:
		sort.SliceStable(s.queue, func(i, j int) bool {
			return s.lastAccess(s.queue[i].ID).After(s.lastAccess(s.queue[j].ID))
		})
	case StrategySize:
		sort.SliceStable(s.queue, func(i, j int) bool {
			return s.fileSize(s.queue[i]) < s.fileSize(s.queue[j])
		})
	default:
		// Sequential preserves enqueue order.
		sort.SliceStable(s.queue, func(i, j int) bool {
			return s.queue[i].EnqueuedAt.Before(s.queue[j].EnqueuedAt)
		})
	}
}

func (s *Scheduler) accessCount(id types.ModelID) int64 {
	if s.detector == nil {
		return 0
	}
	p, ok := s.detector.Pattern(id)
	if !ok {
		return 0
	}
	return p.AccessCount
}

func (s *Scheduler) lastAccess(id types.ModelID) time.Time {
	if s.detector == nil {
		return time.Time{}
	}
	p, ok := s.detector.Pattern(id)
	if !ok {
		return time.Time{}
	}
	return p.LastAccess
}

func (s *Scheduler) fileSize(task types.PreloadTask) int64 {
	if s.registry != nil {
		if meta, err := s.registry.Get(task.ID); err == nil {
			return meta.SizeBytes
		}
	}
	return 1<<63 - 1 // unknown sizes drain last
}

func (s *Scheduler) process(ctx context.Context, task types.PreloadTask) {
	start := time.Now()
	_, err := s.cache.Preload(ctx, task.ID, task.Path, s.loader)

	s.mu.Lock()
	s.stats.Total++
	if err != nil {
		s.stats.Failed++
	} else {
		s.stats.Successful++
	}
	s.stats.SuccessRate = float64(s.stats.Successful) / float64(s.stats.Total)
	s.mu.Unlock()

	if err != nil {
		// Preload failures are non-fatal; the queue moves on.
		s.logger.Warn("preload failed",
			zap.String("model", string(task.ID)),
			zap.Error(err))
		return
	}

	s.logger.Info("model preloaded",
		zap.String("model", string(task.ID)),
		zap.Int("priority", task.Priority),
		zap.Duration("duration", time.Since(start)))
}

// Clear drops all pending tasks. Committed cache entries and in-flight
// loads are unaffected. Returns the number of tasks dropped.
func (s *Scheduler) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.queue)
	s.queue = nil
	return n
}

// Pending returns the number of queued tasks.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Stats returns a snapshot of preload statistics.
func (s *Scheduler) Stats() types.PreloadStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
