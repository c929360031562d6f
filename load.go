package chunkwise

import (
	"fmt"
	"math"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// LoadAdjustMode selects how an elevated system load shrinks the worker
// count recommendation.
type LoadAdjustMode string

const (
	// LoadAdjustConservative applies staged reductions: -25% above the
	// threshold, -50% well above it. Predictable, coarse.
	LoadAdjustConservative LoadAdjustMode = "CONSERVATIVE"

	// LoadAdjustLinear interpolates the reduction between the threshold and
	// full utilization. Smooth, proportional.
	LoadAdjustLinear LoadAdjustMode = "LINEAR"
)

// LoadSample is one instantaneous utilization reading. Never cached: the
// whole point is to see the machine as it is right now.
type LoadSample struct {
	CPUUtilization    float64 // 0..1 across all cores
	MemoryUtilization float64 // 0..1 of total memory
	Interval          time.Duration
}

// SampleLoad blocks for the given interval and reads CPU and memory
// utilization. Deliberately uncached; callers opt in via AdjustForLoad.
func SampleLoad(interval time.Duration) (LoadSample, error) {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}

	percents, err := cpu.Percent(interval, false)
	if err != nil || len(percents) == 0 {
		return LoadSample{}, fmt.Errorf("chunkwise: cpu utilization sample failed: %w", err)
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return LoadSample{}, fmt.Errorf("chunkwise: memory utilization sample failed: %w", err)
	}

	return LoadSample{
		CPUUtilization:    percents[0] / 100,
		MemoryUtilization: vm.UsedPercent / 100,
		Interval:          interval,
	}, nil
}

// adjustForLoad shrinks a worker count for live system load. Pure; the
// blocking sample happens in the caller. Returns the adjusted count and a
// warning string when a reduction was applied ("" otherwise).
func adjustForLoad(n int, ls LoadSample, cfg Config) (int, string) {
	cpuOver := ls.CPUUtilization > cfg.CPULoadThreshold
	memOver := ls.MemoryUtilization > cfg.MemLoadThreshold
	if !cpuOver && !memOver {
		return n, ""
	}

	adjusted := n
	switch cfg.LoadAdjustMode {
	case LoadAdjustLinear:
		// Interpolate from 1.0 at the threshold down to 0 at full
		// utilization, driven by whichever resource is more loaded.
		frac := loadExcessFraction(ls.CPUUtilization, cfg.CPULoadThreshold)
		if m := loadExcessFraction(ls.MemoryUtilization, cfg.MemLoadThreshold); m > frac {
			frac = m
		}
		adjusted = int(math.Floor(float64(n) * (1 - frac)))

	default: // LoadAdjustConservative
		severe := ls.CPUUtilization > cfg.CPULoadThreshold+0.15 ||
			ls.MemoryUtilization > cfg.MemLoadThreshold+0.15
		if severe {
			adjusted = n / 2
		} else {
			adjusted = n - n/4
		}
	}

	if adjusted < 1 {
		adjusted = 1
	}
	if adjusted == n {
		return n, ""
	}

	return adjusted, fmt.Sprintf(
		"workers reduced %d -> %d for live load (cpu %.0f%%, mem %.0f%%)",
		n, adjusted, ls.CPUUtilization*100, ls.MemoryUtilization*100)
}

// loadExcessFraction maps utilization to [0,1): 0 at the threshold, 1 at
// full utilization.
func loadExcessFraction(util, threshold float64) float64 {
	if util <= threshold {
		return 0
	}
	if util >= 1 {
		return 1
	}
	return (util - threshold) / (1 - threshold)
}
