package chunkwise

import (
	"fmt"
	"iter"
	"log/slog"
	"math"
	"os"
	"runtime"
	"slices"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Task is the per-item computation under evaluation. Implementations must be
// independent per item; the advisor assumes no cross-item state.
type Task[T, R any] func(item T) (R, error)

// WorkloadClass is what the workload spends its wall time on during
// sampling, derived from the CPU-time / wall-time ratio.
type WorkloadClass string

const (
	CPUBound  WorkloadClass = "CPU_BOUND" // ratio ≥ 0.7
	IOBound   WorkloadClass = "IO_BOUND"  // ratio < 0.3
	MixedLoad WorkloadClass = "MIXED"     // in between
)

// SampleStats is the dry run's empirical view of the workload. Produced once
// per advisory call and never persisted. A Predictor collaborator may supply
// one in lieu of sampling; the cost model cannot tell the difference.
type SampleStats struct {
	Items             int
	AvgItemTime       time.Duration
	TimeCV            float64 // coefficient of variation of per-item times
	AvgInputTransfer  time.Duration
	AvgOutputTransfer time.Duration
	AvgInputBytes     int64
	AvgOutputBytes    int64
	PeakMemoryBytes   uint64 // largest per-item heap growth observed
	CPUTimeRatio      float64
	Class             WorkloadClass
}

// Dataset wraps the input sequence so sampling can consume a prefix without
// losing it: after Sample, All still yields the complete original sequence
// in order, sampled items included. The suffix of a one-shot iterator stays
// one-shot; nothing is ever materialized beyond the sampled prefix.
type Dataset[T any] struct {
	count int
	seq   iter.Seq[T]
}

// FromSlice wraps an in-memory batch.
func FromSlice[T any](items []T) *Dataset[T] {
	return &Dataset[T]{count: len(items), seq: slices.Values(items)}
}

// FromSeq wraps a (possibly single-pass) sequence. The advisor cannot price
// total work without knowing how many items are coming, so the caller
// supplies the count.
func FromSeq[T any](seq iter.Seq[T], count int) *Dataset[T] {
	return &Dataset[T]{count: count, seq: seq}
}

// Len is the total number of items, sampled or not.
func (d *Dataset[T]) Len() int { return d.count }

// All yields every item in original order. After sampling this is the lazy
// concatenation of the sampled prefix and the unconsumed remainder.
func (d *Dataset[T]) All() iter.Seq[T] { return d.seq }

// take consumes up to k leading items and reseats the dataset's sequence as
// prefix ++ remainder, preserving order with no loss or duplication. The
// pull coroutine is released as soon as the source is exhausted or the
// consumer stops iterating, even mid-prefix; stop is safe to call twice.
func (d *Dataset[T]) take(k int) []T {
	next, stop := iter.Pull(d.seq)

	prefix := make([]T, 0, k)
	for len(prefix) < k {
		v, ok := next()
		if !ok {
			stop()
			break
		}
		prefix = append(prefix, v)
	}

	d.seq = func(yield func(T) bool) {
		defer stop()
		for _, v := range prefix {
			if !yield(v) {
				return
			}
		}
		for {
			v, ok := next()
			if !ok {
				return
			}
			if !yield(v) {
				return
			}
		}
	}
	return prefix
}

// Sample dry-runs the task on the first k items (fewer if the input is
// shorter) and measures per-item wall time, both transfer directions, result
// sizes and peak memory growth. The dataset remains complete afterwards.
//
// Task errors propagate unmodified. Values that cannot cross a process
// boundary come back as a *SerializationError identifying the offending
// index - callers (the decision engine) turn that into a rejection, not a
// crash.
func Sample[T, R any](task Task[T, R], data *Dataset[T], k int) (SampleStats, error) {
	return sample(task, data, k, slog.New(slog.DiscardHandler))
}

func sample[T, R any](task Task[T, R], data *Dataset[T], k int, log *slog.Logger) (SampleStats, error) {
	if task == nil {
		return SampleStats{}, ErrNotCallable
	}
	if k <= 0 {
		return SampleStats{}, fmt.Errorf("%w: got %d", ErrInvalidSampleSize, k)
	}
	if data == nil || data.Len() == 0 {
		return SampleStats{}, ErrNoData
	}

	items := data.take(k)
	if len(items) == 0 {
		return SampleStats{}, ErrNoData
	}

	var (
		wallTimes                   = make([]time.Duration, 0, len(items))
		totalIn, totalOut           time.Duration
		totalInBytes, totalOutBytes int64
		peakMem                     uint64
		memBefore, memAfter         runtime.MemStats
	)

	cpuBefore := processCPUTime()
	sampleStart := time.Now()

	for i, item := range items {
		inTime, inBytes, err := encodeCost(item)
		if err != nil {
			return SampleStats{}, &SerializationError{Index: i, Direction: TransferInput, Err: err}
		}

		runtime.ReadMemStats(&memBefore)
		start := time.Now()
		result, err := task(item)
		wall := time.Since(start)
		if err != nil {
			// The task's own error, unmodified.
			return SampleStats{}, err
		}
		runtime.ReadMemStats(&memAfter)

		outTime, outBytes, err := encodeCost(result)
		if err != nil {
			return SampleStats{}, &SerializationError{Index: i, Direction: TransferOutput, Err: err}
		}

		wallTimes = append(wallTimes, wall)
		totalIn += inTime
		totalOut += outTime
		totalInBytes += inBytes
		totalOutBytes += outBytes
		if memAfter.HeapAlloc > memBefore.HeapAlloc {
			if growth := memAfter.HeapAlloc - memBefore.HeapAlloc; growth > peakMem {
				peakMem = growth
			}
		}

		log.Debug("sampled item",
			"index", i,
			"wall", wall,
			"input_transfer", inTime,
			"output_transfer", outTime,
			"output_bytes", outBytes)
	}

	totalWall := time.Since(sampleStart)
	cpuDelta := processCPUTime() - cpuBefore

	n := len(wallTimes)
	mean, cv := timingStats(wallTimes)
	if mean <= 0 {
		mean = time.Nanosecond // avg_item_time is strictly positive
	}

	ratio := 1.0
	if totalWall > 0 {
		ratio = cpuDelta.Seconds() / totalWall.Seconds()
		if ratio > 1 {
			ratio = 1
		}
		if ratio < 0 {
			ratio = 0
		}
	}

	return SampleStats{
		Items:             n,
		AvgItemTime:       mean,
		TimeCV:            cv,
		AvgInputTransfer:  totalIn / time.Duration(n),
		AvgOutputTransfer: totalOut / time.Duration(n),
		AvgInputBytes:     totalInBytes / int64(n),
		AvgOutputBytes:    totalOutBytes / int64(n),
		PeakMemoryBytes:   peakMem,
		CPUTimeRatio:      ratio,
		Class:             classify(ratio),
	}, nil
}

// classify maps the CPU/wall ratio to a workload class. Below 0.3 the
// workload mostly waits (IO-bound); the 0.7 upper edge makes the boundary
// region explicit instead of binary.
func classify(cpuRatio float64) WorkloadClass {
	switch {
	case cpuRatio < 0.3:
		return IOBound
	case cpuRatio >= 0.7:
		return CPUBound
	default:
		return MixedLoad
	}
}

// timingStats returns the mean and the coefficient of variation. CV feeds
// chunk-size shrinking: heterogeneous items need smaller chunks so one slow
// chunk cannot stall a worker.
func timingStats(times []time.Duration) (time.Duration, float64) {
	if len(times) == 0 {
		return 0, 0
	}

	var sum time.Duration
	for _, t := range times {
		sum += t
	}
	mean := sum / time.Duration(len(times))
	if mean <= 0 {
		return mean, 0
	}

	var variance float64
	for _, t := range times {
		diff := float64(t - mean)
		variance += diff * diff
	}
	stddev := math.Sqrt(variance / float64(len(times)))

	return mean, stddev / float64(mean)
}

// processCPUTime is user+system CPU consumed by this process so far.
func processCPUTime() time.Duration {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0
	}
	times, err := proc.Times()
	if err != nil {
		return 0
	}
	return time.Duration((times.User + times.System) * float64(time.Second))
}
