package chunkwise

import (
	"testing"
	"time"
)

func modelProfile() HardwareProfile {
	return HardwareProfile{
		PhysicalCores:              8,
		LogicalCores:               16,
		AvailableMemoryBytes:       8 << 30,
		SpawnStrategy:              ForkExec,
		MeasuredSpawnCost:          5 * time.Millisecond,
		SpawnCostMeasured:          true,
		MeasuredChunkOverhead:      100 * time.Microsecond,
		ChunkOverheadMeasured:      true,
		LLCBytes:                   32 << 20,
		NUMANodes:                  1,
		MemoryBandwidthBytesPerSec: 20e9,
	}
}

func modelStats() SampleStats {
	return SampleStats{
		Items:             5,
		AvgItemTime:       50 * time.Millisecond,
		AvgInputTransfer:  10 * time.Microsecond,
		AvgOutputTransfer: 10 * time.Microsecond,
		AvgInputBytes:     1024,
		AvgOutputBytes:    1024,
		PeakMemoryBytes:   1 << 20,
		CPUTimeRatio:      0.95,
		Class:             CPUBound,
	}
}

func TestEstimateCost_Invariants(t *testing.T) {
	hp := modelProfile()
	st := modelStats()
	cfg := DefaultConfig()

	for n := 1; n <= 16; n++ {
		for _, executor := range []ExecutorType{ExecutorProcesses, ExecutorThreads} {
			est := EstimateCost(hp, st, 10000, n, 4, executor, cfg)

			if est.PredictedParallel <= 0 {
				t.Errorf("n=%d %s: predicted parallel %.9f not strictly positive", n, executor, est.PredictedParallel)
			}
			if est.PredictedSpeedup > float64(n)+1e-9 {
				t.Errorf("n=%d %s: speedup %.4f exceeds worker count", n, executor, est.PredictedSpeedup)
			}
			AssertFactorBounds(t, est, cfg.BandwidthFloor)
			AssertBreakdownSums(t, est)
		}
	}
}

func TestEstimateCost_ThreadsPayNoSpawnOrTransfer(t *testing.T) {
	est := EstimateCost(modelProfile(), modelStats(), 10000, 8, 4, ExecutorThreads, DefaultConfig())

	if est.Breakdown[OverheadSpawn] != 0 {
		t.Errorf("thread spawn term = %.6f, want 0", est.Breakdown[OverheadSpawn])
	}
	if est.Breakdown[OverheadTransfer] != 0 {
		t.Errorf("thread transfer term = %.6f, want 0", est.Breakdown[OverheadTransfer])
	}
	if est.FalseSharingFactor != 1.0 {
		t.Errorf("thread false sharing = %.4f, want 1.0 (no cross-process units)", est.FalseSharingFactor)
	}

	t.Logf("✓ thread executor: spawn=0 transfer=0, speedup %.2fx", est.PredictedSpeedup)
}

func TestEstimateCost_SpawnScalesWithWorkers(t *testing.T) {
	hp := modelProfile()
	st := modelStats()
	cfg := DefaultConfig()

	two := EstimateCost(hp, st, 10000, 2, 4, ExecutorProcesses, cfg)
	eight := EstimateCost(hp, st, 10000, 8, 4, ExecutorProcesses, cfg)

	if eight.Breakdown[OverheadSpawn] <= two.Breakdown[OverheadSpawn] {
		t.Errorf("spawn term did not grow with workers: n=2 %.4f, n=8 %.4f",
			two.Breakdown[OverheadSpawn], eight.Breakdown[OverheadSpawn])
	}
	if eight.ComputeParallel >= two.ComputeParallel {
		t.Errorf("compute term did not shrink with workers: n=2 %.4f, n=8 %.4f",
			two.ComputeParallel, eight.ComputeParallel)
	}

	t.Logf("✓ spawn grows linearly, compute shrinks: the tension the argmin resolves")
}

func TestCacheCoherencyFactor(t *testing.T) {
	const llc = 32 << 20

	tests := []struct {
		name       string
		nJobs      int
		workingSet uint64
		llc        uint64
		wantOne    bool
	}{
		{"undetected llc means no pressure", 8, 1 << 30, 0, true},
		{"zero working set", 8, 0, llc, true},
		{"single worker", 1, 1 << 30, llc, true},
		{"fits in per-worker share", 8, 2 << 20, llc, true},
		{"overflows share", 8, 16 << 20, llc, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := cacheCoherencyFactor(tt.nJobs, tt.workingSet, tt.llc)
			if tt.wantOne && f != 1.0 {
				t.Errorf("factor = %.4f, want exactly 1.0", f)
			}
			if !tt.wantOne && (f <= 1.0 || f > 2.0) {
				t.Errorf("factor = %.4f, want in (1.0, 2.0]", f)
			}
			t.Logf("✓ %s: %.4f", tt.name, f)
		})
	}

	t.Run("saturates at 2.0", func(t *testing.T) {
		if f := cacheCoherencyFactor(64, 1<<40, llc); f != 2.0 {
			t.Errorf("huge overflow factor = %.4f, want clamped 2.0", f)
		}
	})
}

func TestBandwidthSlowdownFactor(t *testing.T) {
	const floor = 0.5
	const ceiling = 20e9

	tests := []struct {
		name  string
		nJobs int
		rate  float64
		want  float64
	}{
		{"unknown ceiling", 8, 1e9, 1.0},
		{"zero demand", 8, 0, 1.0},
		{"below half utilization", 8, 1e9, 1.0},   // 8 GB/s of 20
		{"at saturation", 8, 3e9, floor},          // 24 GB/s of 20
		{"three quarters utilization", 3, 5e9, 0.75}, // 15 GB/s of 20
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ceiling
			if tt.name == "unknown ceiling" {
				c = 0
			}
			f := bandwidthSlowdownFactor(tt.nJobs, tt.rate, c, floor)
			if diff := f - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("factor = %.4f, want %.4f", f, tt.want)
			}
			t.Logf("✓ %s: %.4f", tt.name, f)
		})
	}
}

func TestFalseSharingFactor(t *testing.T) {
	tests := []struct {
		bytes int64
		want  float64
	}{
		{0, 1.0},                 // unknown, no penalty
		{transferUnitBytes, 1.0}, // fills a unit
		{8192, 1.0},              // larger than a unit
		{2048, 1.125},            // half a unit
	}

	for _, tt := range tests {
		f := falseSharingFactor(tt.bytes, transferUnitBytes)
		if diff := f - tt.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("falseSharingFactor(%d) = %.4f, want %.4f", tt.bytes, f, tt.want)
		}
	}

	if f := falseSharingFactor(1, transferUnitBytes); f > 1.25 {
		t.Errorf("tiny result factor = %.4f, exceeds 1.25 cap", f)
	}

	t.Logf("✓ sub-unit results penalized up to 1.25, full units free")
}

func TestNUMAFactor(t *testing.T) {
	tests := []struct {
		name       string
		nJobs      int
		nodes      int
		workingSet uint64
		want       float64
	}{
		{"single node", 8, 1, 1 << 20, 1.0},
		{"undetected nodes", 8, 0, 1 << 20, 1.0},
		{"single worker", 1, 4, 1 << 20, 1.0},
		{"zero working set", 8, 4, 0, 1.0},
		{"two nodes spanned", 8, 2, 1 << 20, 1.1},
		{"four nodes spanned", 8, 4, 1 << 20, 1.3},
		{"workers below node count", 2, 4, 1 << 20, 1.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := numaFactor(tt.nJobs, tt.nodes, tt.workingSet)
			if diff := f - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("numaFactor(%d, %d, %d) = %.4f, want %.4f",
					tt.nJobs, tt.nodes, tt.workingSet, f, tt.want)
			}
			t.Logf("✓ %s: %.2f", tt.name, f)
		})
	}

	if f := numaFactor(64, 64, 1<<20); f != 1.5 {
		t.Errorf("many nodes spanned = %.4f, want clamped 1.5", f)
	}
}

// TestEstimateCost_NUMASpread verifies node count actually moves the
// prediction: the same workload on a four-node box costs more than on a
// single socket, and the surcharge shows up in the reported factor.
func TestEstimateCost_NUMASpread(t *testing.T) {
	st := modelStats()
	cfg := DefaultConfig()

	oneNode := modelProfile()
	fourNodes := modelProfile()
	fourNodes.NUMANodes = 4

	flat := EstimateCost(oneNode, st, 10000, 8, 4, ExecutorProcesses, cfg)
	spread := EstimateCost(fourNodes, st, 10000, 8, 4, ExecutorProcesses, cfg)

	if flat.NUMAFactor != 1.0 {
		t.Errorf("single-node numa factor = %.4f, want 1.0", flat.NUMAFactor)
	}
	if spread.NUMAFactor <= 1.0 {
		t.Errorf("four-node numa factor = %.4f, want above 1.0", spread.NUMAFactor)
	}
	if spread.PredictedParallel <= flat.PredictedParallel {
		t.Errorf("four-node prediction %.4fs not above single-node %.4fs",
			spread.PredictedParallel, flat.PredictedParallel)
	}
	AssertBreakdownSums(t, spread)

	t.Logf("✓ 4 nodes: factor %.2f, %.4fs vs %.4fs on one socket",
		spread.NUMAFactor, spread.PredictedParallel, flat.PredictedParallel)
}

// TestEstimateCost_DegenerateInput: an all-zero profile and sample must
// still produce a strictly positive prediction whose breakdown sums.
func TestEstimateCost_DegenerateInput(t *testing.T) {
	est := EstimateCost(HardwareProfile{}, SampleStats{}, 0, 4, 1, ExecutorProcesses, DefaultConfig())

	if est.PredictedParallel <= 0 {
		t.Errorf("predicted parallel %.12f not strictly positive", est.PredictedParallel)
	}
	AssertBreakdownSums(t, est)
	AssertFactorBounds(t, est, DefaultConfig().BandwidthFloor)

	t.Logf("✓ zero inputs: predicted %.1es, sum invariant holds", est.PredictedParallel)
}

// TestEstimateCost_TransferDominance exercises a workload whose per-item
// payload dwarfs its compute: the model must show transfer as the dominant
// overhead and the bandwidth factor biting as workers are added.
func TestEstimateCost_TransferDominance(t *testing.T) {
	hp := modelProfile()
	st := modelStats()
	st.AvgItemTime = time.Millisecond
	st.AvgInputBytes = 10 << 20
	st.AvgInputTransfer = 20 * time.Millisecond
	cfg := DefaultConfig()

	est := EstimateCost(hp, st, 10000, 8, 200, ExecutorProcesses, cfg)

	if est.Breakdown[OverheadTransfer] <= est.ComputeParallel {
		t.Errorf("transfer %.4fs should dominate compute %.4fs",
			est.Breakdown[OverheadTransfer], est.ComputeParallel)
	}
	if est.BandwidthFactor >= 1.0 {
		t.Errorf("bandwidth factor = %.4f, expected below 1.0 at 10 MiB/item demand", est.BandwidthFactor)
	}
	if est.PredictedSpeedup >= 1.2 {
		t.Errorf("speedup = %.2fx, expected the payload to sink it below 1.2x", est.PredictedSpeedup)
	}

	t.Logf("✓ 10 MiB payloads: transfer=%.2fs vs compute=%.2fs, bandwidth factor %.2f, speedup %.2fx",
		est.Breakdown[OverheadTransfer], est.ComputeParallel, est.BandwidthFactor, est.PredictedSpeedup)
}
