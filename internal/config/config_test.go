package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestNewDefault tests that the default configuration is complete and
// valid
func TestNewDefault(t *testing.T) {
	c := NewDefault()

	if err := c.Validate(); err != nil {
		t.Fatalf("default configuration must validate: %v", err)
	}
	if c.Cache.MaxModels != 4 || c.Cache.EvictionPolicy != "lru" {
		t.Errorf("unexpected cache defaults: %+v", c.Cache)
	}
	if c.Preload.Strategy != "sequential" || c.Preload.BatchSize != 1 {
		t.Errorf("unexpected preload defaults: %+v", c.Preload)
	}
	if c.Capacity.Strategy != "balanced" || c.Capacity.MinCacheMb != 1000 || c.Capacity.MaxCacheMb != 50000 {
		t.Errorf("unexpected capacity defaults: %+v", c.Capacity)
	}
	if c.Reclaim.Policy != "mark_and_sweep" || c.Reclaim.PressureThreshold != 0.8 {
		t.Errorf("unexpected reclaim defaults: %+v", c.Reclaim)
	}
	if c.Global.TickInterval != 5*time.Second {
		t.Errorf("unexpected tick interval: %v", c.Global.TickInterval)
	}
}

// TestValidate tests rejection of invalid settings
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Configuration)
		wantErr string
	}{
		{
			name:    "zero max models",
			mutate:  func(c *Configuration) { c.Cache.MaxModels = 0 },
			wantErr: "max_models",
		},
		{
			name:    "unknown eviction policy",
			mutate:  func(c *Configuration) { c.Cache.EvictionPolicy = "mru" },
			wantErr: "eviction_policy",
		},
		{
			name:    "unknown preload strategy",
			mutate:  func(c *Configuration) { c.Preload.Strategy = "priority" },
			wantErr: "preload strategy",
		},
		{
			name:    "unknown capacity strategy",
			mutate:  func(c *Configuration) { c.Capacity.Strategy = "reckless" },
			wantErr: "capacity strategy",
		},
		{
			name:    "unknown reclaim policy",
			mutate:  func(c *Configuration) { c.Reclaim.Policy = "semispace" },
			wantErr: "reclaim policy",
		},
		{
			name:    "min above max cache",
			mutate:  func(c *Configuration) { c.Capacity.MinCacheMb = 60000 },
			wantErr: "min_cache_mb",
		},
		{
			name:    "zero batch size",
			mutate:  func(c *Configuration) { c.Preload.BatchSize = 0 },
			wantErr: "batch_size",
		},
		{
			name:    "pressure threshold out of range",
			mutate:  func(c *Configuration) { c.Reclaim.PressureThreshold = 1.5 },
			wantErr: "pressure_threshold",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Configuration) { c.Global.LogLevel = "TRACE" },
			wantErr: "log_level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewDefault()
			tt.mutate(c)
			err := c.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

// TestLoadFromFile tests YAML round-tripping through SaveToFile
func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "modelpool.yaml")

	orig := NewDefault()
	orig.Cache.MaxModels = 8
	orig.Cache.EvictionPolicy = "lfu"
	orig.Capacity.Strategy = "aggressive"
	orig.Global.TickInterval = 2 * time.Second
	if err := orig.SaveToFile(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded := NewDefault()
	if err := loaded.LoadFromFile(path); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Cache.MaxModels != 8 || loaded.Cache.EvictionPolicy != "lfu" {
		t.Errorf("unexpected cache settings: %+v", loaded.Cache)
	}
	if loaded.Capacity.Strategy != "aggressive" {
		t.Errorf("unexpected capacity strategy: %s", loaded.Capacity.Strategy)
	}
	if loaded.Global.TickInterval != 2*time.Second {
		t.Errorf("unexpected tick interval: %v", loaded.Global.TickInterval)
	}
	if err := loaded.Validate(); err != nil {
		t.Errorf("loaded configuration must validate: %v", err)
	}
}

// TestLoadFromFile_Missing tests the error for a nonexistent file
func TestLoadFromFile_Missing(t *testing.T) {
	c := NewDefault()
	if err := c.LoadFromFile("/no/such/modelpool.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

// TestLoadFromFile_Invalid tests the error for malformed YAML
func TestLoadFromFile_Invalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.yaml")
	if err := os.WriteFile(path, []byte("cache: [not a map"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	c := NewDefault()
	if err := c.LoadFromFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}

// TestLoadFromEnv tests environment variable overrides
func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MODELPOOL_LOG_LEVEL", "DEBUG")
	t.Setenv("MODELPOOL_MAX_MODELS", "16")
	t.Setenv("MODELPOOL_EVICTION_POLICY", "FIFO")
	t.Setenv("MODELPOOL_PRELOAD_STRATEGY", "frequency")
	t.Setenv("MODELPOOL_CAPACITY_STRATEGY", "conservative")
	t.Setenv("MODELPOOL_TICK_INTERVAL", "30s")
	t.Setenv("MODELPOOL_METRICS_PORT", "9191")

	c := NewDefault()
	if err := c.LoadFromEnv(); err != nil {
		t.Fatalf("env load failed: %v", err)
	}

	if c.Global.LogLevel != "DEBUG" {
		t.Errorf("unexpected log level %s", c.Global.LogLevel)
	}
	if c.Cache.MaxModels != 16 {
		t.Errorf("unexpected max models %d", c.Cache.MaxModels)
	}
	if c.Cache.EvictionPolicy != "fifo" {
		t.Errorf("policy must be lowercased, got %s", c.Cache.EvictionPolicy)
	}
	if c.Preload.Strategy != "frequency" || c.Capacity.Strategy != "conservative" {
		t.Errorf("unexpected strategies %s/%s", c.Preload.Strategy, c.Capacity.Strategy)
	}
	if c.Global.TickInterval != 30*time.Second {
		t.Errorf("unexpected tick interval %v", c.Global.TickInterval)
	}
	if c.Monitoring.MetricsPort != 9191 {
		t.Errorf("unexpected metrics port %d", c.Monitoring.MetricsPort)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("env-overridden configuration must validate: %v", err)
	}
}

// TestLoadFromEnv_Invalid tests that malformed env values are ignored
func TestLoadFromEnv_Invalid(t *testing.T) {
	t.Setenv("MODELPOOL_MAX_MODELS", "lots")
	t.Setenv("MODELPOOL_TICK_INTERVAL", "soon")

	c := NewDefault()
	if err := c.LoadFromEnv(); err != nil {
		t.Fatalf("env load failed: %v", err)
	}
	if c.Cache.MaxModels != 4 {
		t.Errorf("malformed value must not apply, got %d", c.Cache.MaxModels)
	}
	if c.Global.TickInterval != 5*time.Second {
		t.Errorf("malformed duration must not apply, got %v", c.Global.TickInterval)
	}
}
