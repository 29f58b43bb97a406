// Package capacity recommends cache memory budgets from live system
// memory telemetry.
package capacity

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/modelpool/modelpool/pkg/errors"
	"github.com/modelpool/modelpool/pkg/types"
)

// Strategy sets how much system memory the optimizer keeps free.
type Strategy int

const (
	StrategyConservative Strategy = iota // keep 60% of memory free
	StrategyBalanced                     // keep 40% free (default)
	StrategyAggressive                   // keep 20% free
)

// String returns the string representation of the strategy
func (s Strategy) String() string {
	switch s {
	case StrategyConservative:
		return "conservative"
	case StrategyAggressive:
		return "aggressive"
	default:
		return "balanced"
	}
}

// FreeFraction returns the fraction of available memory kept free.
func (s Strategy) FreeFraction() float64 {
	switch s {
	case StrategyConservative:
		return 0.6
	case StrategyAggressive:
		return 0.2
	default:
		return 0.4
	}
}

// ParseStrategy parses a strategy name as it appears in configuration.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "conservative":
		return StrategyConservative, nil
	case "balanced":
		return StrategyBalanced, nil
	case "aggressive":
		return StrategyAggressive, nil
	default:
		return StrategyBalanced, errors.NewError(errors.ErrCodeInvalidConfig, "unknown capacity strategy").
			WithComponent("capacity").
			WithDetail("strategy", s)
	}
}

// Config tunes the optimizer's bounds and damping.
type Config struct {
	Strategy   Strategy
	MinCacheMb uint64
	MaxCacheMb uint64

	// UpdateInterval is the minimum time between recommendations.
	UpdateInterval time.Duration

	// Hysteresis is the relative change the new target must exceed
	// before a recommendation is produced, damping oscillation from
	// minor memory fluctuations.
	Hysteresis float64
}

// DefaultConfig returns the defaults used when no configuration is given.
func DefaultConfig() Config {
	return Config{
		Strategy:       StrategyBalanced,
		MinCacheMb:     1000,
		MaxCacheMb:     50000,
		UpdateInterval: 5 * time.Second,
		Hysteresis:     0.1,
	}
}

// Optimizer recommends new cache memory budgets. It holds no reference
// to the cache; the lifecycle manager applies its recommendations.
type Optimizer struct {
	mu         sync.Mutex
	config     Config
	lastSizeMb uint64
	lastChange time.Time
	logger     *zap.Logger
	now        func() time.Time
}

// New creates an optimizer with the given configuration.
func New(config Config, logger *zap.Logger) *Optimizer {
	if config.MinCacheMb == 0 {
		config.MinCacheMb = 1000
	}
	if config.MaxCacheMb == 0 {
		config.MaxCacheMb = 50000
	}
	if config.UpdateInterval == 0 {
		config.UpdateInterval = 5 * time.Second
	}
	if config.Hysteresis == 0 {
		config.Hysteresis = 0.1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Optimizer{
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// CalculateOptimalSize computes the cache budget in megabytes for a
// memory snapshot: the available memory not reserved by the strategy's
// free fraction, clamped to the configured bounds.
func (o *Optimizer) CalculateOptimalSize(mem types.SystemMemory) uint64 {
	target := uint64(float64(mem.AvailableMb) * (1 - o.config.Strategy.FreeFraction()))
	if target < o.config.MinCacheMb {
		target = o.config.MinCacheMb
	}
	if target > o.config.MaxCacheMb {
		target = o.config.MaxCacheMb
	}
	return target
}

// Optimize returns a budget recommendation, or false when either the
// update interval has not elapsed or the change is within the
// hysteresis band.
func (o *Optimizer) Optimize(mem types.SystemMemory) (uint64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()
	if !o.lastChange.IsZero() && now.Sub(o.lastChange) < o.config.UpdateInterval {
		return 0, false
	}

	target := o.CalculateOptimalSize(mem)
	if o.lastSizeMb != 0 {
		delta := float64(target) - float64(o.lastSizeMb)
		if delta < 0 {
			delta = -delta
		}
		if delta/float64(o.lastSizeMb) <= o.config.Hysteresis {
			return 0, false
		}
	}

	o.logger.Info("cache budget recommendation",
		zap.Uint64("target_mb", target),
		zap.Uint64("previous_mb", o.lastSizeMb),
		zap.Uint64("available_mb", mem.AvailableMb),
		zap.String("strategy", o.config.Strategy.String()))

	o.lastSizeMb = target
	o.lastChange = now
	return target, true
}

// LastRecommendation returns the most recent accepted budget, zero if
// none has been produced yet.
func (o *Optimizer) LastRecommendation() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastSizeMb
}
