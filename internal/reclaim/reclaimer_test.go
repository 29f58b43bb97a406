package reclaim

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelpool/modelpool/internal/cache"
	"github.com/modelpool/modelpool/internal/registry"
	"github.com/modelpool/modelpool/pkg/hash"
	"github.com/modelpool/modelpool/pkg/types"
)

type stubEngine struct{ mem int64 }

func (s *stubEngine) MemoryBytes() int64 { return s.mem }
func (s *stubEngine) Release() error     { return nil }

// fixture registers and loads models so both the registry and the cache
// see them as resident.
type fixture struct {
	reg   *registry.Registry
	cache *cache.ModelCache
}

func newFixture(t *testing.T, capacity int) *fixture {
	t.Helper()
	reg := registry.New(hash.New(), nil)
	c := cache.New(capacity, cache.PolicyLRU, reg, nil)
	return &fixture{reg: reg, cache: c}
}

func (f *fixture) load(t *testing.T, dir string, id types.ModelID, accesses int) {
	t.Helper()
	path := filepath.Join(dir, string(id)+".gguf")
	if err := os.WriteFile(path, []byte("weights "+string(id)), 0o644); err != nil {
		t.Fatalf("write model file: %v", err)
	}
	if _, err := f.reg.Register(id, path); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
	loader := func(ctx context.Context, p string) (types.EngineHandle, error) {
		return &stubEngine{mem: 512 << 20}, nil
	}
	if _, err := f.cache.GetOrLoad(context.Background(), id, path, loader); err != nil {
		t.Fatalf("load %s: %v", id, err)
	}
	for i := 0; i < accesses; i++ {
		f.reg.RecordAccess(id)
		time.Sleep(time.Millisecond)
	}
}

// TestParsePolicy tests policy name parsing
func TestParsePolicy(t *testing.T) {
	tests := []struct {
		input   string
		want    Policy
		wantErr bool
	}{
		{input: "mark_and_sweep", want: PolicyMarkAndSweep},
		{input: "generational", want: PolicyGenerational},
		{input: "reference_count", want: PolicyReferenceCount},
		{input: "semispace", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParsePolicy(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

// TestCollect_MarkAndSweep tests that the least-used resident model is
// reclaimed first
func TestCollect_MarkAndSweep(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, 4)
	f.load(t, dir, "busy", 5)
	f.load(t, dir, "idle", 0)
	f.load(t, dir, "mild", 2)

	r := New(Config{Policy: PolicyMarkAndSweep, MaxPerCycle: 1}, f.cache, f.reg, nil)
	if got := r.Collect(); got != 1 {
		t.Fatalf("expected 1 model reclaimed, got %d", got)
	}

	if f.cache.Contains("idle") {
		t.Error("expected least-used idle to be reclaimed")
	}
	if !f.cache.Contains("busy") || !f.cache.Contains("mild") {
		t.Error("expected busy and mild to survive")
	}

	meta, err := f.reg.Get("idle")
	if err != nil {
		t.Fatalf("get idle: %v", err)
	}
	if meta.Status != types.StatusEvicted {
		t.Errorf("expected Evicted status, got %v", meta.Status)
	}
}

// TestCollect_Generational tests that the longest-idle resident model
// is reclaimed first
func TestCollect_Generational(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, 4)
	f.load(t, dir, "ancient", 1)
	time.Sleep(2 * time.Millisecond)
	f.load(t, dir, "recent", 1)
	// ancient has many uses but the oldest last-access.
	for i := 0; i < 4; i++ {
		f.reg.RecordAccess("recent")
	}

	r := New(Config{Policy: PolicyGenerational, MaxPerCycle: 1}, f.cache, f.reg, nil)
	if got := r.Collect(); got != 1 {
		t.Fatalf("expected 1 model reclaimed, got %d", got)
	}
	if f.cache.Contains("ancient") {
		t.Error("expected longest-idle ancient to be reclaimed")
	}
	if !f.cache.Contains("recent") {
		t.Error("expected recently used model to survive")
	}
}

// TestCollect_MaxPerCycle tests the per-cycle reclamation bound
func TestCollect_MaxPerCycle(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, 8)
	for _, id := range []types.ModelID{"a", "b", "c", "d"} {
		f.load(t, dir, id, 0)
	}

	r := New(Config{Policy: PolicyMarkAndSweep, MaxPerCycle: 2}, f.cache, f.reg, nil)
	if got := r.Collect(); got != 2 {
		t.Fatalf("expected 2 models reclaimed, got %d", got)
	}
	if f.cache.Size() != 2 {
		t.Errorf("expected 2 resident models left, got %d", f.cache.Size())
	}
}

// TestCollect_MissingCandidate tests that a candidate gone from the
// cache is tolerated as a no-op
func TestCollect_MissingCandidate(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, 4)
	f.load(t, dir, "ghost", 0)

	// Make the registry see ghost as resident while the cache does not.
	f.cache.Remove("ghost")
	f.reg.SetStatus("ghost", types.StatusLoaded)

	r := New(Config{Policy: PolicyMarkAndSweep, MaxPerCycle: 2}, f.cache, f.reg, nil)
	if got := r.Collect(); got != 0 {
		t.Fatalf("expected 0 models reclaimed, got %d", got)
	}

	stats := r.Stats()
	if stats.Collections != 1 {
		t.Errorf("expected the empty cycle to be counted, got %d", stats.Collections)
	}
	if stats.ModelsReclaimed != 0 || stats.FreedMb != 0 {
		t.Errorf("expected nothing freed, got %d models / %d MB", stats.ModelsReclaimed, stats.FreedMb)
	}
}

// TestCollect_SingleFlight tests that overlapping cycles are rejected
func TestCollect_SingleFlight(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, 4)
	f.load(t, dir, "a", 0)

	r := New(Config{}, f.cache, f.reg, nil)
	atomic.StoreInt32(&r.collecting, 1)
	if got := r.Collect(); got != 0 {
		t.Fatalf("expected overlapping cycle to return 0, got %d", got)
	}
	if r.Stats().Collections != 0 {
		t.Error("overlapping cycle must not be counted")
	}

	atomic.StoreInt32(&r.collecting, 0)
	if got := r.Collect(); got != 1 {
		t.Errorf("expected cycle to run after flight cleared, got %d", got)
	}
}

// TestCollect_Stats tests freed-memory and duration accounting
func TestCollect_Stats(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, 4)
	f.load(t, dir, "a", 0)
	f.load(t, dir, "b", 0)

	r := New(Config{Policy: PolicyMarkAndSweep, MaxPerCycle: 2}, f.cache, f.reg, nil)
	if got := r.Collect(); got != 2 {
		t.Fatalf("expected 2 models reclaimed, got %d", got)
	}

	stats := r.Stats()
	if stats.Collections != 1 {
		t.Errorf("expected 1 collection, got %d", stats.Collections)
	}
	if stats.ModelsReclaimed != 2 {
		t.Errorf("expected 2 models reclaimed, got %d", stats.ModelsReclaimed)
	}
	// Two 512 MiB engines.
	if stats.FreedMb != 1024 {
		t.Errorf("expected 1024 MB freed, got %d", stats.FreedMb)
	}
}

// TestShouldCollect tests the pressure and interval triggers
func TestShouldCollect(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, 4)

	r := New(Config{PressureThreshold: 0.8, CollectionInterval: time.Hour}, f.cache, f.reg, nil)
	now := time.Unix(1_700_000_000, 0)
	r.now = func() time.Time { return now }
	r.lastCollection = now

	if r.ShouldCollect() {
		t.Error("no pressure and interval not elapsed: must not collect")
	}

	// 4 of 4 resident puts utilization at 1.0, over the threshold.
	for _, id := range []types.ModelID{"a", "b", "c", "d"} {
		f.load(t, dir, id, 0)
	}
	if !r.ShouldCollect() {
		t.Error("expected pressure to trigger collection")
	}

	f.cache.Remove("a")
	now = now.Add(2 * time.Hour)
	if !r.ShouldCollect() {
		t.Error("expected elapsed interval to trigger collection")
	}
}
