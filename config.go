package chunkwise

import (
	"fmt"
	"log/slog"
	"time"
)

// Config holds the tunable constants of the advisor. The zero value is not
// usable; start from DefaultConfig and override fields as needed.
//
// OverlapFactor and BandwidthFloor are empirically calibrated, not physically
// derived. They are configuration precisely because of that: Validate only
// constrains them to (0,1).
type Config struct {
	// SampleSize is how many leading items the dry run measures.
	SampleSize int

	// TargetChunkDuration is the wall time one chunk should occupy a worker.
	// Chunk size = round(TargetChunkDuration / avg item time), min 1.
	TargetChunkDuration time.Duration

	// MinItemTime is the fast-fail floor: below this average per-item time
	// the scheduling overhead cannot be amortized at any chunk size.
	MinItemTime time.Duration

	// SpawnDominanceRatio triggers fast-fail when total compute is less than
	// this multiple of the cost of spawning a single worker.
	SpawnDominanceRatio float64

	// MinSpeedup is the acceptance bar for predicted speedup.
	MinSpeedup float64

	// OverlapFactor models transfer/compute pipelining: the fraction of
	// transfer cost that cannot hide behind the next chunk's compute.
	OverlapFactor float64

	// BandwidthFloor is the lower bound of the bandwidth slowdown factor.
	BandwidthFloor float64

	// HeterogeneityCV is the per-item time coefficient of variation above
	// which chunk size shrinks so one slow chunk cannot stall a worker.
	HeterogeneityCV float64

	// CoreBoost multiplies physical cores when sizing the process pool.
	CoreBoost float64

	// IOBoost multiplies logical cores when sizing a thread pool for
	// IO-bound workloads, which spend most of their time blocked.
	IOBoost float64

	// PreferThreadsForIO routes IO-bound workloads to cooperative threads,
	// which pay neither spawn nor transfer cost.
	PreferThreadsForIO bool

	// AdjustForLoad enables the blocking live-utilization sample.
	AdjustForLoad bool

	// LoadSampleInterval is how long the live load sample blocks.
	LoadSampleInterval time.Duration

	// CPULoadThreshold and MemLoadThreshold are the utilization fractions
	// above which the worker count shrinks.
	CPULoadThreshold float64
	MemLoadThreshold float64

	// LoadAdjustMode selects conservative tiers or linear interpolation.
	LoadAdjustMode LoadAdjustMode

	// MemoryTolerance is the relative drift in available memory within which
	// a cached Decision's hardware profile still counts as compatible.
	MemoryTolerance float64
}

// DefaultConfig returns the calibrated defaults.
func DefaultConfig() Config {
	return Config{
		SampleSize:          5,
		TargetChunkDuration: 200 * time.Millisecond,
		MinItemTime:         time.Millisecond,
		SpawnDominanceRatio: 4.0,
		MinSpeedup:          1.2,
		OverlapFactor:       0.5,
		BandwidthFloor:      0.5,
		HeterogeneityCV:     0.5,
		CoreBoost:           1.0,
		IOBoost:             4.0,
		PreferThreadsForIO:  true,
		AdjustForLoad:       false,
		LoadSampleInterval:  250 * time.Millisecond,
		CPULoadThreshold:    0.70,
		MemLoadThreshold:    0.75,
		LoadAdjustMode:      LoadAdjustConservative,
		MemoryTolerance:     0.25,
	}
}

// Validate rejects configurations that would make the model degenerate.
func (c Config) Validate() error {
	if c.SampleSize <= 0 {
		return fmt.Errorf("%w: sample size %d", ErrInvalidSampleSize, c.SampleSize)
	}
	if c.TargetChunkDuration <= 0 {
		return fmt.Errorf("chunkwise: target chunk duration must be positive, got %v", c.TargetChunkDuration)
	}
	if c.OverlapFactor <= 0 || c.OverlapFactor >= 1 {
		return fmt.Errorf("chunkwise: overlap factor must lie in (0,1), got %v", c.OverlapFactor)
	}
	if c.BandwidthFloor <= 0 || c.BandwidthFloor >= 1 {
		return fmt.Errorf("chunkwise: bandwidth floor must lie in (0,1), got %v", c.BandwidthFloor)
	}
	if c.MinSpeedup < 1 {
		return fmt.Errorf("chunkwise: minimum speedup below 1 accepts negative scaling, got %v", c.MinSpeedup)
	}
	if c.CoreBoost <= 0 || c.IOBoost <= 0 {
		return fmt.Errorf("chunkwise: core boost factors must be positive")
	}
	if c.CPULoadThreshold <= 0 || c.CPULoadThreshold >= 1 ||
		c.MemLoadThreshold <= 0 || c.MemLoadThreshold >= 1 {
		return fmt.Errorf("chunkwise: load thresholds must lie in (0,1)")
	}
	return nil
}

// Option configures a single Evaluate call.
type Option func(*evalOptions)

type evalOptions struct {
	cfg       Config
	profiler  *Profiler
	cache     DecisionCache
	predictor Predictor
	logger    *slog.Logger
}

// WithSampleSize overrides the dry-run sample size (default 5).
func WithSampleSize(k int) Option {
	return func(o *evalOptions) { o.cfg.SampleSize = k }
}

// WithTargetChunkDuration overrides how long one chunk should run (default 200ms).
func WithTargetChunkDuration(d time.Duration) Option {
	return func(o *evalOptions) { o.cfg.TargetChunkDuration = d }
}

// WithPreferThreadsForIO toggles routing IO-bound workloads to threads.
func WithPreferThreadsForIO(prefer bool) Option {
	return func(o *evalOptions) { o.cfg.PreferThreadsForIO = prefer }
}

// WithAdjustForLoad enables the blocking live-load sample.
func WithAdjustForLoad(adjust bool) Option {
	return func(o *evalOptions) { o.cfg.AdjustForLoad = adjust }
}

// WithConfig replaces the whole Config.
func WithConfig(cfg Config) Option {
	return func(o *evalOptions) { o.cfg = cfg }
}

// WithProfiler supplies a Profiler; the package default is shared otherwise.
func WithProfiler(p *Profiler) Option {
	return func(o *evalOptions) { o.profiler = p }
}

// WithCache attaches a DecisionCache collaborator.
func WithCache(c DecisionCache) Option {
	return func(o *evalOptions) { o.cache = c }
}

// WithPredictor attaches a Predictor collaborator.
func WithPredictor(p Predictor) Option {
	return func(o *evalOptions) { o.predictor = p }
}

// WithLogger routes verbose/explain logging. Every overhead term and every
// fallback substitution is logged at Debug.
func WithLogger(l *slog.Logger) Option {
	return func(o *evalOptions) { o.logger = l }
}
