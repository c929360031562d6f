package chunkwise

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// Decision is the advisor's terminal output: accept with parameters, or
// reject with a reason. Immutable once constructed; ownership passes to the
// caller. NJobs and Chunksize are ≥ 1 even on rejection (they are what the
// caller should actually use), and PredictedSpeedup never exceeds NJobs.
type Decision struct {
	ID        string
	Accepted  bool
	Executor  ExecutorType
	NJobs     int
	Chunksize int

	PredictedSpeedup float64
	Reason           string
	Warnings         []string // ordered, non-fatal

	Estimate *CostEstimate   // nil when fast-fail skipped modeling
	Profile  HardwareProfile // hardware the decision was derived under
	Stats    *SampleStats    // nil when fast-fail skipped sampling use
}

// Evaluate is the entry point: profile the machine, dry-run the task on the
// first items of data, model the candidates, decide.
//
// Errors are reserved for caller mistakes (nil task, empty dataset, bad
// config) and for the task's own errors, which propagate unmodified.
// Workload properties that preclude parallelization - untransferable items,
// sub-millisecond work, spawn dominance - come back as a Rejected decision.
func Evaluate[T, R any](task Task[T, R], data *Dataset[T], opts ...Option) (*Decision, error) {
	o := evalOptions{cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}

	if task == nil {
		return nil, ErrNotCallable
	}
	if data == nil || data.Len() == 0 {
		return nil, ErrNoData
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}

	profiler := o.profiler
	if profiler == nil {
		profiler = DefaultProfiler()
	}
	hp := profiler.Profile()
	fp := fingerprintFor(task, data.Len(), o.cfg.SampleSize)

	// A compatible prior decision short-circuits everything.
	if o.cache != nil {
		if prior, ok := o.cache.Lookup(fp); ok {
			if prior.Profile.Compatible(hp, o.cfg.MemoryTolerance) {
				o.logger.Debug("returning cached decision", "id", prior.ID, "fingerprint", fp)
				return prior, nil
			}
			o.logger.Debug("cached decision incompatible with current hardware", "fingerprint", fp)
		}
	}

	var st SampleStats
	predicted := false
	if o.predictor != nil {
		if ps, ok := o.predictor.Predict(fp); ok && ps != nil {
			st = *ps
			predicted = true
			o.logger.Debug("using predicted stats, skipping dry run", "fingerprint", fp)
		}
	}
	if !predicted {
		var err error
		st, err = sample(task, data, o.cfg.SampleSize, o.logger)
		if err != nil {
			var serr *SerializationError
			if errors.As(err, &serr) {
				// Not transferable is a property of the workload, not a
				// caller mistake: reject, don't raise.
				d := rejected(hp, &st, serr.Error(), 1.0)
				d.ID = decisionID(fp, hp)
				return d, nil
			}
			return nil, err
		}
	}

	var load *LoadSample
	if o.cfg.AdjustForLoad {
		if ls, err := SampleLoad(o.cfg.LoadSampleInterval); err == nil {
			load = &ls
		} else {
			o.logger.Debug("load sample failed, proceeding without load adjustment", "err", err)
		}
	}

	d := Decide(hp, st, data.Len(), load, o.cfg, o.logger)
	d.ID = decisionID(fp, hp)

	if o.cache != nil {
		o.cache.Store(fp, d)
	}
	return d, nil
}

// Decide is the pure decision core: one pass, no retries, no measurement.
// Identical inputs produce identical decisions. Evaluate wires the impure
// parts (profiling, sampling, load) around it.
func Decide(hp HardwareProfile, st SampleStats, totalItems int, load *LoadSample, cfg Config, log *slog.Logger) *Decision {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	serial := st.AvgItemTime * time.Duration(totalItems)
	spawn := hp.MeasuredSpawnCost

	// Fast-fail: no amount of tuning rescues a workload whose total compute
	// is a small multiple of one spawn, or whose items are faster than the
	// scheduling overhead itself. Skip full modeling.
	if dominance := time.Duration(float64(spawn) * cfg.SpawnDominanceRatio); serial < dominance {
		reason := fmt.Sprintf(
			"workload too small: total compute %v is under %.0fx the %v cost of spawning one worker; spawn overhead would dominate",
			serial.Round(time.Microsecond), cfg.SpawnDominanceRatio, spawn.Round(time.Microsecond))
		return rejected(hp, &st, reason, 1.0)
	}
	if st.AvgItemTime < cfg.MinItemTime {
		reason := fmt.Sprintf(
			"workload too fast: average item time %v is below %v; per-item scheduling overhead cannot be amortized",
			st.AvgItemTime, cfg.MinItemTime)
		return rejected(hp, &st, reason, 1.0)
	}

	// IO-bound work mostly waits; cooperative threads parallelize the
	// waiting without paying spawn or transfer cost.
	executor := ExecutorProcesses
	if st.Class == IOBound && cfg.PreferThreadsForIO {
		executor = ExecutorThreads
	}

	maxWorkers, warnings := workerCeiling(hp, st, executor, cfg, nil)

	if load != nil {
		adjusted, warning := adjustForLoad(maxWorkers, *load, cfg)
		if warning != "" {
			warnings = append(warnings, warning)
			log.Debug("live load reduced worker ceiling", "from", maxWorkers, "to", adjusted)
		}
		maxWorkers = adjusted
	}

	chunk := chunkSize(st, cfg, log)

	// Candidate search: the model already prices every overhead, so the
	// best worker count is simply the argmin of predicted time. Ascending
	// with strict improvement keeps ties on the smaller n - and keeps the
	// search deterministic.
	best := EstimateCost(hp, st, totalItems, 1, chunk, executor, cfg)
	for n := 2; n <= maxWorkers; n++ {
		est := EstimateCost(hp, st, totalItems, n, chunk, executor, cfg)
		log.Debug("candidate evaluated",
			"n_jobs", n,
			"predicted_parallel_s", est.PredictedParallel,
			"speedup", est.PredictedSpeedup)
		if est.PredictedParallel < best.PredictedParallel {
			best = est
		}
	}

	if best.NJobs == 1 || best.PredictedSpeedup < cfg.MinSpeedup {
		reason := fmt.Sprintf(
			"serial recommended: best candidate (%d workers) predicts %.2fx speedup, below the %.2fx acceptance bar",
			best.NJobs, best.PredictedSpeedup, cfg.MinSpeedup)
		d := rejected(hp, &st, reason, 1.0)
		d.Estimate = &best
		d.Warnings = warnings
		return d
	}

	return &Decision{
		Accepted:         true,
		Executor:         executor,
		NJobs:            best.NJobs,
		Chunksize:        best.Chunksize,
		PredictedSpeedup: best.PredictedSpeedup,
		Reason: fmt.Sprintf("predicted %.2fx speedup with %d %s workers, chunks of %d",
			best.PredictedSpeedup, best.NJobs, executorNoun(executor), best.Chunksize),
		Warnings: warnings,
		Estimate: &best,
		Profile:  hp,
		Stats:    &st,
	}
}

// workerCeiling bounds the candidate worker count by cores, memory and swap
// pressure. Every reduction appends an ordered warning.
func workerCeiling(hp HardwareProfile, st SampleStats, executor ExecutorType, cfg Config, warnings []string) (int, []string) {
	var ceiling int
	if executor == ExecutorThreads {
		ceiling = int(float64(hp.LogicalCores) * cfg.IOBoost)
	} else {
		ceiling = int(float64(hp.PhysicalCores) * cfg.CoreBoost)
	}
	if ceiling < 1 {
		ceiling = 1
	}

	perJob := estimatedJobRAM(hp.SpawnStrategy, st, executor)
	if hp.AvailableMemoryBytes > 0 && perJob > 0 {
		if byMem := int(hp.AvailableMemoryBytes / perJob); byMem < ceiling {
			warnings = append(warnings, fmt.Sprintf(
				"memory-constrained: %d workers fit in %d MiB available (est. %d MiB per worker), wanted %d",
				max(byMem, 1), hp.AvailableMemoryBytes>>20, perJob>>20, ceiling))
			ceiling = byMem
		}
	}

	// Swap in use means the machine is already short on memory; adding
	// worker processes makes paging worse.
	const swapPressureBytes = 64 << 20
	if hp.SwapUsedBytes > swapPressureBytes && executor == ExecutorProcesses {
		reduced := ceiling / 2
		warnings = append(warnings, fmt.Sprintf(
			"swap pressure: %d MiB swapped, worker ceiling halved %d -> %d",
			hp.SwapUsedBytes>>20, ceiling, max(reduced, 1)))
		ceiling = reduced
	}

	if ceiling < 1 {
		ceiling = 1
	}
	return ceiling, warnings
}

// estimatedJobRAM is what one worker costs in memory: the runtime baseline
// for its spawn strategy plus the workload's sampled peak growth.
func estimatedJobRAM(strategy SpawnStrategy, st SampleStats, executor ExecutorType) uint64 {
	if executor == ExecutorThreads {
		return st.PeakMemoryBytes + (1 << 20)
	}
	var baseline uint64
	switch strategy {
	case CopyOnFork:
		baseline = 4 << 20
	case FullReinit:
		baseline = 64 << 20
	default: // ForkExec
		baseline = 32 << 20
	}
	return baseline + st.PeakMemoryBytes
}

// chunkSize targets a fixed wall duration per chunk and shrinks it for
// heterogeneous workloads so one slow chunk cannot stall a worker at the
// tail of the batch.
func chunkSize(st SampleStats, cfg Config, log *slog.Logger) int {
	if st.AvgItemTime <= 0 {
		return 1
	}
	chunk := int(math.Round(cfg.TargetChunkDuration.Seconds() / st.AvgItemTime.Seconds()))
	if chunk < 1 {
		chunk = 1
	}
	if st.TimeCV > cfg.HeterogeneityCV {
		shrunk := int(float64(chunk) / (1 + st.TimeCV))
		if shrunk < 1 {
			shrunk = 1
		}
		log.Debug("heterogeneous items, shrinking chunk size",
			"cv", st.TimeCV, "from", chunk, "to", shrunk)
		chunk = shrunk
	}
	return chunk
}

func rejected(hp HardwareProfile, st *SampleStats, reason string, speedup float64) *Decision {
	return &Decision{
		Accepted:         false,
		Executor:         ExecutorSerial,
		NJobs:            1,
		Chunksize:        1,
		PredictedSpeedup: speedup,
		Reason:           reason,
		Profile:          hp,
		Stats:            st,
	}
}

func executorNoun(e ExecutorType) string {
	switch e {
	case ExecutorThreads:
		return "thread"
	case ExecutorProcesses:
		return "process"
	default:
		return "serial"
	}
}
