package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration represents the complete residency manager configuration
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Cache      CacheConfig      `yaml:"cache"`
	Preload    PreloadConfig    `yaml:"preload"`
	Capacity   CapacityConfig   `yaml:"capacity"`
	Pattern    PatternConfig    `yaml:"pattern"`
	Reclaim    ReclaimConfig    `yaml:"reclaim"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel     string        `yaml:"log_level"`
	TickInterval time.Duration `yaml:"tick_interval"`
}

// CacheConfig represents model cache configuration
type CacheConfig struct {
	MaxModels      int    `yaml:"max_models"`
	EvictionPolicy string `yaml:"eviction_policy"` // lru, lfu, fifo
}

// PreloadConfig represents preload scheduler configuration
type PreloadConfig struct {
	Strategy        string        `yaml:"strategy"` // sequential, frequency, recency, size
	BatchSize       int           `yaml:"batch_size"`
	InterBatchDelay time.Duration `yaml:"inter_batch_delay"`
	QueueLimit      int           `yaml:"queue_limit"`
}

// CapacityConfig represents dynamic capacity optimizer configuration
type CapacityConfig struct {
	Strategy       string        `yaml:"strategy"` // conservative, balanced, aggressive
	MinCacheMb     uint64        `yaml:"min_cache_mb"`
	MaxCacheMb     uint64        `yaml:"max_cache_mb"`
	UpdateInterval time.Duration `yaml:"update_interval"`
	Hysteresis     float64       `yaml:"hysteresis"`
	ModelSizeMb    uint64        `yaml:"model_size_mb"` // fallback per-model estimate
}

// PatternConfig represents usage pattern detection configuration
type PatternConfig struct {
	HotThreshold int64   `yaml:"hot_threshold"`
	ShrinkFactor float64 `yaml:"shrink_factor"`
	GrowFactor   float64 `yaml:"grow_factor"`
}

// ReclaimConfig represents proactive reclamation configuration
type ReclaimConfig struct {
	Policy             string        `yaml:"policy"` // mark_and_sweep, generational, reference_count
	CollectionInterval time.Duration `yaml:"collection_interval"`
	PressureThreshold  float64       `yaml:"pressure_threshold"`
	MaxPerCycle        int           `yaml:"max_per_cycle"`
}

// MonitoringConfig represents metrics settings
type MonitoringConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MetricsPort int    `yaml:"metrics_port"`
	MetricsPath string `yaml:"metrics_path"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:     "INFO",
			TickInterval: 5 * time.Second,
		},
		Cache: CacheConfig{
			MaxModels:      4,
			EvictionPolicy: "lru",
		},
		Preload: PreloadConfig{
			Strategy:        "sequential",
			BatchSize:       1,
			InterBatchDelay: 100 * time.Millisecond,
			QueueLimit:      256,
		},
		Capacity: CapacityConfig{
			Strategy:       "balanced",
			MinCacheMb:     1000,
			MaxCacheMb:     50000,
			UpdateInterval: 5 * time.Second,
			Hysteresis:     0.1,
			ModelSizeMb:    4000,
		},
		Pattern: PatternConfig{
			HotThreshold: 5,
			ShrinkFactor: 0.8,
			GrowFactor:   1.2,
		},
		Reclaim: ReclaimConfig{
			Policy:             "mark_and_sweep",
			CollectionInterval: 60 * time.Second,
			PressureThreshold:  0.8,
			MaxPerCycle:        2,
		},
		Monitoring: MonitoringConfig{
			Enabled:     true,
			MetricsPort: 9090,
			MetricsPath: "/metrics",
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("MODELPOOL_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("MODELPOOL_MAX_MODELS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Cache.MaxModels = n
		}
	}
	if val := os.Getenv("MODELPOOL_EVICTION_POLICY"); val != "" {
		c.Cache.EvictionPolicy = strings.ToLower(val)
	}
	if val := os.Getenv("MODELPOOL_PRELOAD_STRATEGY"); val != "" {
		c.Preload.Strategy = strings.ToLower(val)
	}
	if val := os.Getenv("MODELPOOL_CAPACITY_STRATEGY"); val != "" {
		c.Capacity.Strategy = strings.ToLower(val)
	}
	if val := os.Getenv("MODELPOOL_TICK_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Global.TickInterval = d
		}
	}
	if val := os.Getenv("MODELPOOL_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Monitoring.MetricsPort = port
		}
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if c.Cache.MaxModels <= 0 {
		return fmt.Errorf("max_models must be greater than 0")
	}

	validPolicies := []string{"lru", "lfu", "fifo"}
	if !contains(validPolicies, c.Cache.EvictionPolicy) {
		return fmt.Errorf("invalid eviction_policy: %s (must be one of: %s)",
			c.Cache.EvictionPolicy, strings.Join(validPolicies, ", "))
	}

	validStrategies := []string{"sequential", "frequency", "recency", "size"}
	if !contains(validStrategies, c.Preload.Strategy) {
		return fmt.Errorf("invalid preload strategy: %s (must be one of: %s)",
			c.Preload.Strategy, strings.Join(validStrategies, ", "))
	}

	validCapacity := []string{"conservative", "balanced", "aggressive"}
	if !contains(validCapacity, c.Capacity.Strategy) {
		return fmt.Errorf("invalid capacity strategy: %s (must be one of: %s)",
			c.Capacity.Strategy, strings.Join(validCapacity, ", "))
	}

	validReclaim := []string{"mark_and_sweep", "generational", "reference_count"}
	if !contains(validReclaim, c.Reclaim.Policy) {
		return fmt.Errorf("invalid reclaim policy: %s (must be one of: %s)",
			c.Reclaim.Policy, strings.Join(validReclaim, ", "))
	}

	if c.Capacity.MinCacheMb > c.Capacity.MaxCacheMb {
		return fmt.Errorf("min_cache_mb (%d) cannot exceed max_cache_mb (%d)",
			c.Capacity.MinCacheMb, c.Capacity.MaxCacheMb)
	}

	if c.Preload.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be greater than 0")
	}

	if c.Reclaim.PressureThreshold <= 0 || c.Reclaim.PressureThreshold >= 1 {
		return fmt.Errorf("pressure_threshold must be in (0, 1)")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	if !contains(validLogLevels, c.Global.LogLevel) {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	return nil
}

func contains(values []string, v string) bool {
	for _, val := range values {
		if val == v {
			return true
		}
	}
	return false
}
