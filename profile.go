package chunkwise

import (
	"log/slog"
	"math"
	"runtime"
	"sync"
	"time"
)

// SpawnStrategy is how the host runtime creates a worker process.
type SpawnStrategy string

const (
	// CopyOnFork forks the parent and shares pages copy-on-write. Cheap.
	// Reserved for callers embedding a runtime that forks workers directly.
	CopyOnFork SpawnStrategy = "COPY_ON_FORK"

	// ForkExec forks and replaces the image with a fresh executable.
	// The default on unix: Go process pools always fork+exec.
	ForkExec SpawnStrategy = "FORK_EXEC"

	// FullReinit boots a whole new runtime per worker. Expensive.
	// The only option on windows.
	FullReinit SpawnStrategy = "FULL_REINIT"
)

// HardwareProfile is the profiler's view of the machine at one point in time.
// Core counts, spawn strategy and the two measured overheads are immutable
// for the process lifetime; AvailableMemoryBytes and SwapUsedBytes are
// refreshed on a short TTL because they drift during long runs.
type HardwareProfile struct {
	PhysicalCores        int
	LogicalCores         int
	AvailableMemoryBytes uint64
	SwapUsedBytes        uint64
	SpawnStrategy        SpawnStrategy

	// MeasuredSpawnCost is the marginal cost of one additional worker.
	// MeasuredChunkOverhead is the marginal cost of one chunk boundary.
	// When the live measurement failed its plausibility checks these hold
	// the static per-strategy estimate and the Measured flag is false.
	MeasuredSpawnCost     time.Duration
	SpawnCostMeasured     bool
	MeasuredChunkOverhead time.Duration
	ChunkOverheadMeasured bool

	// Topology. Zero means undetected, which the cost model reads as
	// "no pressure" - never as a divisor.
	LLCBytes                   uint64
	NUMANodes                  int
	MemoryBandwidthBytesPerSec float64
}

// Compatible reports whether a Decision derived under p is still valid under
// other: same core count and spawn strategy, and available memory within
// tolerance (relative). Used by DecisionCache freshness checks.
func (p HardwareProfile) Compatible(other HardwareProfile, memTolerance float64) bool {
	if p.PhysicalCores != other.PhysicalCores || p.SpawnStrategy != other.SpawnStrategy {
		return false
	}
	if p.AvailableMemoryBytes == 0 || other.AvailableMemoryBytes == 0 {
		return p.AvailableMemoryBytes == other.AvailableMemoryBytes
	}
	drift := math.Abs(float64(p.AvailableMemoryBytes)-float64(other.AvailableMemoryBytes)) /
		float64(p.AvailableMemoryBytes)
	return drift <= memTolerance
}

// cached is a check-lock-check cell: the hit path reads under RLock and
// never contends with unrelated fields. Concurrent misses wait for the one
// computation rather than racing to re-measure.
type cached[T any] struct {
	mu   sync.RWMutex
	done bool
	v    T
}

func (c *cached[T]) get(compute func() T) T {
	c.mu.RLock()
	if c.done {
		v := c.v
		c.mu.RUnlock()
		return v
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.done {
		c.v = compute()
		c.done = true
	}
	return c.v
}

func (c *cached[T]) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	c.v = zero
	c.done = false
}

// ttlCached refreshes its value once the TTL elapses. A marginally stale
// read is acceptable: eventual, not strict, consistency.
type ttlCached[T any] struct {
	mu  sync.RWMutex
	ttl time.Duration
	at  time.Time
	v   T
}

func (c *ttlCached[T]) get(now time.Time, compute func() T) T {
	c.mu.RLock()
	if !c.at.IsZero() && now.Sub(c.at) < c.ttl {
		v := c.v
		c.mu.RUnlock()
		return v
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.at.IsZero() || now.Sub(c.at) >= c.ttl {
		c.v = compute()
		c.at = now
	}
	return c.v
}

func (c *ttlCached[T]) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	c.v = zero
	c.at = time.Time{}
}

// CoreCounts pairs the physical and logical core counts.
type CoreCounts struct {
	Physical int
	Logical  int
}

type memoryReading struct {
	available uint64
	swapUsed  uint64
}

type topology struct {
	llcBytes       uint64
	numaNodes      int
	bandwidthBytes float64
}

// Profiler detects and measures the runtime environment. Every field has its
// own cache cell so unrelated reads never serialize on one lock. Safe for
// concurrent use.
type Profiler struct {
	log     *slog.Logger
	spawner PoolSpawner
	probes  probeSet

	cores         cached[CoreCounts]
	strategy      cached[SpawnStrategy]
	spawnCost     cached[measurement]
	chunkOverhead cached[measurement]
	topo          cached[topology]
	memory        ttlCached[memoryReading]
}

// ProfilerOption configures a Profiler.
type ProfilerOption func(*Profiler)

// WithProfilerLogger routes fallback substitutions to a logger at Debug.
func WithProfilerLogger(l *slog.Logger) ProfilerOption {
	return func(p *Profiler) { p.log = l }
}

// WithSpawner replaces the pool spawner used for overhead measurement.
// Tests inject deterministic spawners here.
func WithSpawner(s PoolSpawner) ProfilerOption {
	return func(p *Profiler) { p.spawner = s }
}

// WithProbes replaces the detection probe chains. Tests inject fixed values.
func WithProbes(ps probeSet) ProfilerOption {
	return func(p *Profiler) { p.probes = ps }
}

// NewProfiler creates a profiler with the platform probe chains and the
// exec-based pool spawner.
func NewProfiler(opts ...ProfilerOption) *Profiler {
	p := &Profiler{
		log:     slog.New(slog.DiscardHandler),
		spawner: newExecSpawner(),
		probes:  platformProbes(),
		memory:  ttlCached[memoryReading]{ttl: time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// defaultProfiler is the package-level singleton used when Evaluate is not
// given one. Shared so spawn-cost measurement runs once per process.
var (
	defaultProfilerOnce sync.Once
	defaultProfiler     *Profiler
)

// DefaultProfiler returns the shared process-wide profiler.
func DefaultProfiler() *Profiler {
	defaultProfilerOnce.Do(func() {
		defaultProfiler = NewProfiler()
	})
	return defaultProfiler
}

// Clear resets every cached field. Test isolation only; the next access
// re-detects and re-measures.
func (p *Profiler) Clear() {
	p.cores.clear()
	p.strategy.clear()
	p.spawnCost.clear()
	p.chunkOverhead.clear()
	p.topo.clear()
	p.memory.clear()
}

// Profile assembles the current HardwareProfile. Immutable fields come from
// process-lifetime caches; memory is TTL-refreshed.
func (p *Profiler) Profile() HardwareProfile {
	cores := p.Cores()
	strategy := p.SpawnStrategy()
	spawn := p.SpawnCost()
	chunk := p.ChunkOverhead()
	topo := p.topo.get(p.detectTopology)
	mem := p.memory.get(time.Now(), p.readMemory)

	return HardwareProfile{
		PhysicalCores:              cores.Physical,
		LogicalCores:               cores.Logical,
		AvailableMemoryBytes:       mem.available,
		SwapUsedBytes:              mem.swapUsed,
		SpawnStrategy:              strategy,
		MeasuredSpawnCost:          spawn.Value,
		SpawnCostMeasured:          !spawn.Fallback,
		MeasuredChunkOverhead:      chunk.Value,
		ChunkOverheadMeasured:      !chunk.Fallback,
		LLCBytes:                   topo.llcBytes,
		NUMANodes:                  topo.numaNodes,
		MemoryBandwidthBytesPerSec: topo.bandwidthBytes,
	}
}

// Cores returns physical and logical core counts, detected once.
func (p *Profiler) Cores() CoreCounts {
	return p.cores.get(func() CoreCounts {
		logical := runtime.NumCPU()
		physical := firstOf(p.probes.physicalCores(logical), 1)
		if physical < 1 {
			physical = 1
		}
		if logical < physical {
			logical = physical
		}
		return CoreCounts{Physical: physical, Logical: logical}
	})
}

// SpawnStrategy reports how worker processes are created on this platform.
func (p *Profiler) SpawnStrategy() SpawnStrategy {
	return p.strategy.get(func() SpawnStrategy {
		if runtime.GOOS == "windows" {
			return FullReinit
		}
		return ForkExec
	})
}

// SpawnCost returns the marginal cost of one additional worker process,
// measured once and permanently cached. Blocks for the duration of two
// short-lived pool creations on first call; concurrent callers wait.
func (p *Profiler) SpawnCost() measurement {
	return p.spawnCost.get(func() measurement {
		strategy := p.SpawnStrategy()
		m := measureSpawnCost(p.spawner, strategy)
		if m.Fallback {
			p.log.Debug("spawn cost measurement failed checks, using static estimate",
				"strategy", strategy,
				"measured", m.Raw,
				"fallback", m.Value,
				"checks", m.Checks)
		}
		return m
	})
}

// ChunkOverhead returns the marginal cost of one chunk boundary, measured
// once and permanently cached.
func (p *Profiler) ChunkOverhead() measurement {
	return p.chunkOverhead.get(func() measurement {
		m := measureChunkOverhead(p.spawner)
		if m.Fallback {
			p.log.Debug("chunk overhead measurement failed checks, using static estimate",
				"measured", m.Raw,
				"fallback", m.Value,
				"checks", m.Checks)
		}
		return m
	})
}

func (p *Profiler) detectTopology() topology {
	cores := p.Cores()
	return topology{
		llcBytes:       firstOf(p.probes.llcBytes(), 0),
		numaNodes:      firstOf(p.probes.numaNodes(), 1),
		bandwidthBytes: firstOf(p.probes.memoryBandwidth(cores.Physical), 0),
	}
}

func (p *Profiler) readMemory() memoryReading {
	available := firstOf(p.probes.availableMemory(), 0)
	swap := firstOf(p.probes.swapUsed(), 0)
	return memoryReading{available: available, swapUsed: swap}
}
