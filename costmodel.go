package chunkwise

import (
	"math"
)

// ExecutorType is the execution vehicle a Decision recommends.
type ExecutorType string

const (
	// ExecutorProcesses means a pool of worker processes: pays spawn and
	// transfer cost, buys true parallel execution of application code.
	ExecutorProcesses ExecutorType = "PROCESSES"

	// ExecutorThreads means cooperative threads in one process: no spawn or
	// transfer cost. Right for IO-bound work that mostly waits.
	ExecutorThreads ExecutorType = "THREADS"

	// ExecutorSerial is the rejection outcome: run the loop as written.
	ExecutorSerial ExecutorType = "SERIAL"
)

// OverheadKind names one term of the cost breakdown.
type OverheadKind string

const (
	OverheadSpawn    OverheadKind = "spawn"
	OverheadTransfer OverheadKind = "transfer"
	OverheadChunking OverheadKind = "chunking"
)

// transferUnitBytes is the granularity of one cross-process transfer (a pipe
// page). Results smaller than this share a unit with their neighbors.
const transferUnitBytes = 4096

// CostEstimate is the model's prediction for one (n, chunksize) candidate.
// Ephemeral; the decision engine evaluates one per candidate and keeps the
// winner. Breakdown terms are ≥ 0 and sum, together with ComputeParallel, to
// PredictedParallel.
type CostEstimate struct {
	NJobs     int
	Chunksize int
	Executor  ExecutorType

	PredictedParallel float64 // seconds
	ComputeParallel   float64 // seconds, the compute/n term after scaling
	PredictedSpeedup  float64 // min(n, serial/parallel)

	Breakdown map[OverheadKind]float64

	CoherencyFactor    float64 // ≥ 1.0
	BandwidthFactor    float64 // ∈ [floor, 1.0]
	FalseSharingFactor float64 // ≥ 1.0
	NUMAFactor         float64 // ≥ 1.0
}

// EstimateCost predicts the parallel wall time for running totalItems items
// with nJobs workers at the given chunk size:
//
//	T = [ spawn·n + compute/n + overlap·(t_in+t_out)·m + chunk·⌈m/c⌉ ] × S
//	S = coherency × falseSharing × numa / bandwidth
//
// The thread executor pays neither spawn nor transfer cost and dispatches
// chunks for the price of a channel hand-off.
func EstimateCost(hp HardwareProfile, st SampleStats, totalItems, nJobs, chunksize int, executor ExecutorType, cfg Config) CostEstimate {
	if nJobs < 1 {
		nJobs = 1
	}
	if chunksize < 1 {
		chunksize = 1
	}

	m := float64(totalItems)
	n := float64(nJobs)
	itemSec := st.AvgItemTime.Seconds()
	serial := itemSec * m

	spawnPer := hp.MeasuredSpawnCost.Seconds()
	chunkPer := hp.MeasuredChunkOverhead.Seconds()
	transferPer := (st.AvgInputTransfer + st.AvgOutputTransfer).Seconds()
	if executor == ExecutorThreads {
		spawnPer = 0
		transferPer = 0
		chunkPer = 1e-6 // channel hand-off
	}

	workingSet := st.PeakMemoryBytes + uint64(max(st.AvgInputBytes, 0)) + uint64(max(st.AvgOutputBytes, 0))
	coherency := cacheCoherencyFactor(nJobs, workingSet, hp.LLCBytes)

	var perWorkerRate float64
	if itemSec > 0 && executor == ExecutorProcesses {
		perWorkerRate = float64(st.AvgInputBytes+st.AvgOutputBytes) / itemSec
	}
	bandwidth := bandwidthSlowdownFactor(nJobs, perWorkerRate, hp.MemoryBandwidthBytesPerSec, cfg.BandwidthFloor)

	falseSharing := 1.0
	if executor == ExecutorProcesses {
		falseSharing = falseSharingFactor(st.AvgOutputBytes, transferUnitBytes)
	}

	numa := numaFactor(nJobs, hp.NUMANodes, workingSet)

	scale := coherency * falseSharing * numa / bandwidth

	chunks := math.Ceil(m / float64(chunksize))
	spawnTerm := spawnPer * n * scale
	computeTerm := serial / n * scale
	transferTerm := cfg.OverlapFactor * transferPer * m * scale
	chunkTerm := chunkPer * chunks * scale

	predicted := spawnTerm + computeTerm + transferTerm + chunkTerm
	if predicted <= 0 {
		// Degenerate all-zero input. Raising the compute term keeps the
		// prediction strictly positive without breaking the sum invariant.
		computeTerm = 1e-9
		predicted = computeTerm
	}

	speedup := serial / predicted
	if speedup > n {
		speedup = n
	}
	if speedup < 0 {
		speedup = 0
	}

	return CostEstimate{
		NJobs:             nJobs,
		Chunksize:         chunksize,
		Executor:          executor,
		PredictedParallel: predicted,
		ComputeParallel:   computeTerm,
		PredictedSpeedup:  speedup,
		Breakdown: map[OverheadKind]float64{
			OverheadSpawn:    spawnTerm,
			OverheadTransfer: transferTerm,
			OverheadChunking: chunkTerm,
		},
		CoherencyFactor:    coherency,
		BandwidthFactor:    bandwidth,
		FalseSharingFactor: falseSharing,
		NUMAFactor:         numa,
	}
}

// cacheCoherencyFactor rises once the combined working sets overflow the
// shared last-level cache divided among workers. 1.0 when everything fits -
// and 1.0 when the cache size is undetected: zero means "no pressure",
// never a divisor.
func cacheCoherencyFactor(nJobs int, workingSetBytes, llcBytes uint64) float64 {
	if llcBytes == 0 || workingSetBytes == 0 || nJobs <= 1 {
		return 1.0
	}

	share := float64(llcBytes) / float64(nJobs)
	ws := float64(workingSetBytes)
	if ws <= share {
		return 1.0
	}

	// Logarithmic growth: each doubling of overflow adds a fixed penalty.
	f := 1 + 0.15*math.Log2(ws/share)
	return clamp(f, 1.0, 2.0)
}

// bandwidthSlowdownFactor falls from 1.0 toward the configured floor as the
// aggregate transfer demand of all workers approaches the memory bandwidth
// ceiling. Unknown ceiling or zero demand means no slowdown.
func bandwidthSlowdownFactor(nJobs int, perWorkerRate, ceilingBytesPerSec, floor float64) float64 {
	if ceilingBytesPerSec <= 0 || perWorkerRate <= 0 {
		return 1.0
	}

	util := float64(nJobs) * perWorkerRate / ceilingBytesPerSec
	if util <= 0.5 {
		return 1.0
	}
	if util >= 1 {
		return floor
	}

	// Linear from 1.0 at 50% utilization down to the floor at 100%.
	f := 1 - (util-0.5)/0.5*(1-floor)
	return clamp(f, floor, 1.0)
}

// numaFactor widens the memory penalty when the pool spans more than one
// NUMA node: a worker scheduled on a remote node pays extra for every access
// to memory homed on another socket. Each additional node spanned adds a
// fixed surcharge. One node, an unknown count, or a zero working set means
// no pressure, same as the LLC handling.
func numaFactor(nJobs, numaNodes int, workingSetBytes uint64) float64 {
	if numaNodes <= 1 || nJobs <= 1 || workingSetBytes == 0 {
		return 1.0
	}
	spanned := min(nJobs, numaNodes)
	f := 1 + 0.1*float64(spanned-1)
	return clamp(f, 1.0, 1.5)
}

// falseSharingFactor penalizes results smaller than one transfer unit:
// neighboring workers' outputs then share a unit and contend for it.
func falseSharingFactor(resultBytes, unitBytes int64) float64 {
	if resultBytes <= 0 || unitBytes <= 0 || resultBytes >= unitBytes {
		return 1.0
	}
	f := 1 + 0.25*(1-float64(resultBytes)/float64(unitBytes))
	return clamp(f, 1.0, 1.25)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
