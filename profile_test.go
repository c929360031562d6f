package chunkwise

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeSpawner returns scripted timings and counts calls. Shared by the
// measurement and profiler tests.
type fakeSpawner struct {
	poolTimes  map[int]time.Duration
	chunkTimes map[int]time.Duration
	err        error

	poolCalls  atomic.Int64
	chunkCalls atomic.Int64
}

func (f *fakeSpawner) SpawnPool(workers int) (time.Duration, error) {
	f.poolCalls.Add(1)
	if f.err != nil {
		return 0, f.err
	}
	return f.poolTimes[workers], nil
}

func (f *fakeSpawner) DispatchChunks(chunks int) (time.Duration, error) {
	f.chunkCalls.Add(1)
	if f.err != nil {
		return 0, f.err
	}
	return f.chunkTimes[chunks], nil
}

// goodSpawner times out to a believable 30ms spawn and 100µs chunk overhead.
func goodSpawner() *fakeSpawner {
	return &fakeSpawner{
		poolTimes: map[int]time.Duration{
			1: 10 * time.Millisecond,
			2: 40 * time.Millisecond,
		},
		chunkTimes: map[int]time.Duration{
			fewChunks:  time.Millisecond,
			manyChunks: 7 * time.Millisecond,
		},
	}
}

func testProbes() probeSet {
	return fixedProbes(8, 8<<30, 0, 32<<20, 1, 20e9)
}

func TestProfiler_Profile(t *testing.T) {
	p := NewProfiler(WithProbes(testProbes()), WithSpawner(goodSpawner()))

	hp := p.Profile()

	if hp.PhysicalCores != 8 {
		t.Errorf("physical cores = %d, want 8", hp.PhysicalCores)
	}
	if hp.LogicalCores < hp.PhysicalCores {
		t.Errorf("logical cores %d below physical %d", hp.LogicalCores, hp.PhysicalCores)
	}
	if hp.AvailableMemoryBytes != 8<<30 {
		t.Errorf("available memory = %d, want 8 GiB", hp.AvailableMemoryBytes)
	}
	if hp.LLCBytes != 32<<20 {
		t.Errorf("llc = %d, want 32 MiB", hp.LLCBytes)
	}
	if hp.NUMANodes != 1 {
		t.Errorf("numa nodes = %d, want 1", hp.NUMANodes)
	}
	if hp.MemoryBandwidthBytesPerSec != 20e9 {
		t.Errorf("bandwidth = %.0f, want 20e9", hp.MemoryBandwidthBytesPerSec)
	}
	if !hp.SpawnCostMeasured || hp.MeasuredSpawnCost != 30*time.Millisecond {
		t.Errorf("spawn cost = %v measured=%v, want 30ms measured", hp.MeasuredSpawnCost, hp.SpawnCostMeasured)
	}
	if !hp.ChunkOverheadMeasured || hp.MeasuredChunkOverhead != 100*time.Microsecond {
		t.Errorf("chunk overhead = %v measured=%v, want 100µs measured", hp.MeasuredChunkOverhead, hp.ChunkOverheadMeasured)
	}

	t.Logf("✓ profile assembled: %d/%d cores, spawn %v, chunk %v",
		hp.PhysicalCores, hp.LogicalCores, hp.MeasuredSpawnCost, hp.MeasuredChunkOverhead)
}

func TestProfiler_MeasuresOnce(t *testing.T) {
	s := goodSpawner()
	p := NewProfiler(WithProbes(testProbes()), WithSpawner(s))

	first := p.SpawnCost()
	second := p.SpawnCost()

	if got := s.poolCalls.Load(); got != 2 {
		t.Errorf("expected 2 pool spawns (one measurement), got %d", got)
	}
	if first != second {
		t.Errorf("repeated reads disagree: %+v vs %+v", first, second)
	}

	p.ChunkOverhead()
	p.ChunkOverhead()
	if got := s.chunkCalls.Load(); got != 2 {
		t.Errorf("expected 2 chunk dispatches (one measurement), got %d", got)
	}

	t.Logf("✓ spawn and chunk measurements run once, then serve from cache")
}

func TestProfiler_ClearForcesRemeasure(t *testing.T) {
	s := goodSpawner()
	p := NewProfiler(WithProbes(testProbes()), WithSpawner(s))

	p.SpawnCost()
	p.Clear()
	p.SpawnCost()

	if got := s.poolCalls.Load(); got != 4 {
		t.Errorf("expected 4 pool spawns after Clear, got %d", got)
	}

	t.Logf("✓ Clear drops the cache; next access re-measures")
}

func TestProfiler_ConcurrentAccess(t *testing.T) {
	s := goodSpawner()
	p := NewProfiler(WithProbes(testProbes()), WithSpawner(s))

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Profile()
		}()
	}
	wg.Wait()

	if got := s.poolCalls.Load(); got != 2 {
		t.Errorf("concurrent profiling spawned %d pools, want 2 (single measurement)", got)
	}

	t.Logf("✓ 16 concurrent Profile calls, one measurement")
}

func TestTTLCached(t *testing.T) {
	c := ttlCached[int]{ttl: time.Second}
	now := time.Unix(1000, 0)

	calls := 0
	compute := func() int { calls++; return calls }

	if v := c.get(now, compute); v != 1 {
		t.Errorf("first read = %d, want 1", v)
	}
	if v := c.get(now.Add(500*time.Millisecond), compute); v != 1 {
		t.Errorf("read inside ttl = %d, want cached 1", v)
	}
	if v := c.get(now.Add(2*time.Second), compute); v != 2 {
		t.Errorf("read past ttl = %d, want refreshed 2", v)
	}

	t.Logf("✓ ttl cell served stale within 1s, refreshed after")
}

func TestFirstOf(t *testing.T) {
	fail := func() (int, bool) { return 0, false }
	succeed := func(v int) probe[int] {
		return func() (int, bool) { return v, true }
	}

	if got := firstOf([]probe[int]{fail, succeed(7), succeed(9)}, -1); got != 7 {
		t.Errorf("firstOf = %d, want first success 7", got)
	}
	if got := firstOf([]probe[int]{fail, fail}, -1); got != -1 {
		t.Errorf("all-fail firstOf = %d, want fallback -1", got)
	}

	t.Logf("✓ probe chains stop at the first success, degrade to the fallback")
}

func TestParseCacheSize(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
		ok   bool
	}{
		{"8192K", 8192 * 1024, true},
		{"32M", 32 << 20, true},
		{"1G", 1 << 30, true},
		{"512", 512, true},
		{"garbage", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseCacheSize(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("parseCacheSize(%q) = (%d, %v), want (%d, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestHardwareProfile_Compatible(t *testing.T) {
	base := HardwareProfile{
		PhysicalCores:        8,
		SpawnStrategy:        ForkExec,
		AvailableMemoryBytes: 8 << 30,
	}

	tests := []struct {
		name   string
		mutate func(*HardwareProfile)
		want   bool
	}{
		{"identical", func(*HardwareProfile) {}, true},
		{"memory drift within tolerance", func(h *HardwareProfile) {
			frac := 0.85
			h.AvailableMemoryBytes = uint64(float64(8<<30) * frac)
		}, true},
		{"memory drift beyond tolerance", func(h *HardwareProfile) {
			h.AvailableMemoryBytes = 4 << 30
		}, false},
		{"different core count", func(h *HardwareProfile) {
			h.PhysicalCores = 4
		}, false},
		{"different spawn strategy", func(h *HardwareProfile) {
			h.SpawnStrategy = FullReinit
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := base
			tt.mutate(&other)
			if got := base.Compatible(other, 0.25); got != tt.want {
				t.Errorf("Compatible = %v, want %v", got, tt.want)
			}
			t.Logf("✓ %s -> %v", tt.name, tt.want)
		})
	}
}
