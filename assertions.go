package chunkwise

import (
	"testing"
)

// AssertValidDecision checks the invariants every Decision must hold,
// accepted or rejected: worker count and chunk size at least one, and a
// predicted speedup that never exceeds the worker count.
func AssertValidDecision(t *testing.T, d *Decision) {
	t.Helper()

	if d == nil {
		t.Fatal("decision is nil")
	}
	if d.NJobs < 1 {
		t.Errorf("n_jobs must be >= 1, got %d", d.NJobs)
	}
	if d.Chunksize < 1 {
		t.Errorf("chunksize must be >= 1, got %d", d.Chunksize)
	}
	if d.PredictedSpeedup < 0 {
		t.Errorf("predicted speedup must be >= 0, got %.4f", d.PredictedSpeedup)
	}
	if d.PredictedSpeedup > float64(d.NJobs)+1e-9 {
		t.Errorf("predicted speedup %.4f exceeds n_jobs %d", d.PredictedSpeedup, d.NJobs)
	}
	if d.Reason == "" {
		t.Error("decision carries no reason")
	}

	t.Logf("✓ decision valid: accepted=%v n_jobs=%d chunksize=%d speedup=%.2fx",
		d.Accepted, d.NJobs, d.Chunksize, d.PredictedSpeedup)
}

// AssertFactorBounds checks the cost model's correction factors stay inside
// their contractual ranges for one estimate.
func AssertFactorBounds(t *testing.T, est CostEstimate, floor float64) {
	t.Helper()

	if est.CoherencyFactor < 1.0 {
		t.Errorf("coherency factor must be >= 1.0, got %.4f", est.CoherencyFactor)
	}
	if est.FalseSharingFactor < 1.0 {
		t.Errorf("false sharing factor must be >= 1.0, got %.4f", est.FalseSharingFactor)
	}
	if est.NUMAFactor < 1.0 {
		t.Errorf("numa factor must be >= 1.0, got %.4f", est.NUMAFactor)
	}
	if est.BandwidthFactor < floor-1e-9 || est.BandwidthFactor > 1.0+1e-9 {
		t.Errorf("bandwidth factor must lie in [%.2f, 1.0], got %.4f", floor, est.BandwidthFactor)
	}

	t.Logf("✓ factors in bounds: coherency=%.2f false-sharing=%.2f numa=%.2f bandwidth=%.2f",
		est.CoherencyFactor, est.FalseSharingFactor, est.NUMAFactor, est.BandwidthFactor)
}

// AssertBreakdownSums checks that the overhead terms plus parallel compute
// reproduce the predicted parallel time.
func AssertBreakdownSums(t *testing.T, est CostEstimate) {
	t.Helper()

	sum := est.ComputeParallel
	for kind, v := range est.Breakdown {
		if v < 0 {
			t.Errorf("breakdown term %s is negative: %.6f", kind, v)
		}
		sum += v
	}

	diff := sum - est.PredictedParallel
	if diff < 0 {
		diff = -diff
	}
	// Relative tolerance: these are float sums of scaled terms.
	if diff > 1e-9+1e-6*est.PredictedParallel {
		t.Errorf("breakdown sums to %.9fs, predicted %.9fs", sum, est.PredictedParallel)
	}

	t.Logf("✓ breakdown sums to predicted parallel time (%.6fs)", est.PredictedParallel)
}
