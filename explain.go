package chunkwise

import (
	"fmt"
	"strings"
)

// Explain renders the full reasoning behind a decision: every overhead term,
// every correction factor, and every fallback substitution the profiler
// made. Intended for humans; hosts print it under a --explain flag.
func (d *Decision) Explain() string {
	var b strings.Builder

	verdict := "REJECTED"
	if d.Accepted {
		verdict = "ACCEPTED"
	}
	fmt.Fprintf(&b, "=== chunkwise decision %s ===\n", d.ID)
	fmt.Fprintf(&b, "%s: %s\n", verdict, d.Reason)
	fmt.Fprintf(&b, "  executor:  %s\n", d.Executor)
	fmt.Fprintf(&b, "  n_jobs:    %d\n", d.NJobs)
	fmt.Fprintf(&b, "  chunksize: %d\n", d.Chunksize)
	fmt.Fprintf(&b, "  speedup:   %.2fx predicted\n", d.PredictedSpeedup)

	fmt.Fprintf(&b, "\nHardware:\n")
	fmt.Fprintf(&b, "  cores:     %d physical / %d logical\n", d.Profile.PhysicalCores, d.Profile.LogicalCores)
	fmt.Fprintf(&b, "  memory:    %d MiB available, %d MiB swapped\n",
		d.Profile.AvailableMemoryBytes>>20, d.Profile.SwapUsedBytes>>20)
	fmt.Fprintf(&b, "  spawn:     %v per worker (%s, %s)\n",
		d.Profile.MeasuredSpawnCost, d.Profile.SpawnStrategy, provenance(d.Profile.SpawnCostMeasured))
	fmt.Fprintf(&b, "  chunk:     %v per boundary (%s)\n",
		d.Profile.MeasuredChunkOverhead, provenance(d.Profile.ChunkOverheadMeasured))
	if d.Profile.LLCBytes > 0 {
		fmt.Fprintf(&b, "  llc:       %d KiB shared\n", d.Profile.LLCBytes>>10)
	} else {
		fmt.Fprintf(&b, "  llc:       undetected (treated as no pressure)\n")
	}
	fmt.Fprintf(&b, "  numa:      %d node(s)\n", d.Profile.NUMANodes)
	if d.Profile.MemoryBandwidthBytesPerSec > 0 {
		fmt.Fprintf(&b, "  bandwidth: %.1f GB/s ceiling\n", d.Profile.MemoryBandwidthBytesPerSec/1e9)
	} else {
		fmt.Fprintf(&b, "  bandwidth: undetected (no slowdown modeled)\n")
	}

	if d.Stats != nil && d.Stats.Items > 0 {
		fmt.Fprintf(&b, "\nSample (%d items):\n", d.Stats.Items)
		fmt.Fprintf(&b, "  item time: %v avg, cv %.2f\n", d.Stats.AvgItemTime, d.Stats.TimeCV)
		fmt.Fprintf(&b, "  transfer:  %v in / %v out per item\n", d.Stats.AvgInputTransfer, d.Stats.AvgOutputTransfer)
		fmt.Fprintf(&b, "  bytes:     %d in / %d out per item\n", d.Stats.AvgInputBytes, d.Stats.AvgOutputBytes)
		fmt.Fprintf(&b, "  memory:    %d KiB peak growth\n", d.Stats.PeakMemoryBytes>>10)
		fmt.Fprintf(&b, "  class:     %s (cpu/wall %.2f)\n", d.Stats.Class, d.Stats.CPUTimeRatio)
	}

	if d.Estimate != nil {
		fmt.Fprintf(&b, "\nCost model (n=%d, chunk=%d):\n", d.Estimate.NJobs, d.Estimate.Chunksize)
		fmt.Fprintf(&b, "  predicted: %.4fs parallel\n", d.Estimate.PredictedParallel)
		fmt.Fprintf(&b, "  compute:   %.4fs\n", d.Estimate.ComputeParallel)
		for _, kind := range []OverheadKind{OverheadSpawn, OverheadTransfer, OverheadChunking} {
			fmt.Fprintf(&b, "  %-9s %.4fs\n", string(kind)+":", d.Estimate.Breakdown[kind])
		}
		fmt.Fprintf(&b, "  factors:   coherency %.2f x false-sharing %.2f x numa %.2f / bandwidth %.2f\n",
			d.Estimate.CoherencyFactor, d.Estimate.FalseSharingFactor, d.Estimate.NUMAFactor, d.Estimate.BandwidthFactor)
	}

	if len(d.Warnings) > 0 {
		fmt.Fprintf(&b, "\nWarnings:\n")
		for _, w := range d.Warnings {
			fmt.Fprintf(&b, "  - %s\n", w)
		}
	}

	return b.String()
}

func provenance(measured bool) string {
	if measured {
		return "measured"
	}
	return "static estimate substituted"
}
