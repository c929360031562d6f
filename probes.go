package chunkwise

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// probe is one attempt at detecting a value. ok=false means "try the next
// one", never an error: detection chains degrade, they do not fail.
type probe[T any] func() (T, bool)

// firstOf runs probes in order and returns the first success. Reordering a
// chain is a data change, not a code change.
func firstOf[T any](probes []probe[T], fallback T) T {
	for _, p := range probes {
		if v, ok := p(); ok {
			return v
		}
	}
	return fallback
}

// probeSet bundles the detection chains the Profiler walks. Tests replace it
// wholesale with fixed values.
type probeSet struct {
	physicalCores   func(logical int) []probe[int]
	availableMemory func() []probe[uint64]
	swapUsed        func() []probe[uint64]
	llcBytes        func() []probe[uint64]
	numaNodes       func() []probe[int]
	memoryBandwidth func(physicalCores int) []probe[float64]
}

// platformProbes returns the real detection chains for this host.
func platformProbes() probeSet {
	return probeSet{
		physicalCores: func(logical int) []probe[int] {
			return []probe[int]{
				gopsutilPhysicalCores,
				sysfsPhysicalCores,
				lscpuPhysicalCores,
				halfLogical(logical),
			}
		},
		availableMemory: func() []probe[uint64] {
			return []probe[uint64]{
				cgroupAwareAvailable,
				gopsutilAvailable,
				meminfoAvailable,
			}
		},
		swapUsed: func() []probe[uint64] {
			return []probe[uint64]{gopsutilSwapUsed, meminfoSwapUsed}
		},
		llcBytes: func() []probe[uint64] {
			return []probe[uint64]{sysfsLLCBytes}
		},
		numaNodes: func() []probe[int] {
			return []probe[int]{sysfsNUMANodes}
		},
		memoryBandwidth: func(physicalCores int) []probe[float64] {
			return []probe[float64]{
				measureCopyBandwidth,
				staticBandwidthEstimate(physicalCores),
			}
		},
	}
}

// fixedProbes returns a probeSet that always detects the given profile.
// Exported via WithProbes for deterministic tests.
func fixedProbes(physical int, availableMem, swapUsed, llc uint64, numa int, bandwidth float64) probeSet {
	return probeSet{
		physicalCores: func(int) []probe[int] {
			return []probe[int]{func() (int, bool) { return physical, true }}
		},
		availableMemory: func() []probe[uint64] {
			return []probe[uint64]{func() (uint64, bool) { return availableMem, true }}
		},
		swapUsed: func() []probe[uint64] {
			return []probe[uint64]{func() (uint64, bool) { return swapUsed, true }}
		},
		llcBytes: func() []probe[uint64] {
			return []probe[uint64]{func() (uint64, bool) { return llc, true }}
		},
		numaNodes: func() []probe[int] {
			return []probe[int]{func() (int, bool) { return numa, true }}
		},
		memoryBandwidth: func(int) []probe[float64] {
			return []probe[float64]{func() (float64, bool) { return bandwidth, true }}
		},
	}
}

// --- core count ---

func gopsutilPhysicalCores() (int, bool) {
	n, err := cpu.Counts(false)
	return n, err == nil && n >= 1
}

// sysfsPhysicalCores counts unique (package, core) pairs from the cpu
// topology pseudo-files.
func sysfsPhysicalCores() (int, bool) {
	dirs, err := filepath.Glob("/sys/devices/system/cpu/cpu[0-9]*")
	if err != nil || len(dirs) == 0 {
		return 0, false
	}
	seen := make(map[string]struct{})
	for _, dir := range dirs {
		core, err1 := readTrimmed(filepath.Join(dir, "topology", "core_id"))
		pkg, err2 := readTrimmed(filepath.Join(dir, "topology", "physical_package_id"))
		if err1 != nil || err2 != nil {
			continue
		}
		seen[pkg+":"+core] = struct{}{}
	}
	return len(seen), len(seen) >= 1
}

func lscpuPhysicalCores() (int, bool) {
	out, err := exec.Command("lscpu", "-p=CORE,SOCKET").Output()
	if err != nil {
		return 0, false
	}
	seen := make(map[string]struct{})
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		seen[line] = struct{}{}
	}
	return len(seen), len(seen) >= 1
}

func halfLogical(logical int) probe[int] {
	return func() (int, bool) {
		n := logical / 2
		if n < 1 {
			n = 1
		}
		return n, true
	}
}

// --- memory ---

// cgroupAwareAvailable reads the tighter of the container memory ceiling and
// host available memory. Unset ceilings ("max") walk outward through the
// cgroup hierarchy.
func cgroupAwareAvailable() (uint64, bool) {
	host, ok := gopsutilAvailable()
	if !ok {
		return 0, false
	}
	limit, usage, haveLimit := cgroupMemoryLimit()
	if !haveLimit {
		return host, true
	}
	var headroom uint64
	if limit > usage {
		headroom = limit - usage
	}
	if headroom < host {
		return headroom, true
	}
	return host, true
}

// cgroupMemoryLimit returns the effective (limit, current usage) for this
// process's cgroup, v2 first. The hard ceiling memory.max wins over the soft
// memory.high only when both are set; the tighter value applies.
func cgroupMemoryLimit() (limit, usage uint64, ok bool) {
	if dir, found := cgroupV2Dir(); found {
		limit, ok = walkCgroupCeiling(dir)
		usage, _ = readUint(filepath.Join(dir, "memory.current"))
		return limit, usage, ok
	}
	// cgroup v1: a single flat file, absurdly large means unset.
	if v, err := readUint("/sys/fs/cgroup/memory/memory.limit_in_bytes"); err == nil && v < 1<<60 {
		usage, _ = readUint("/sys/fs/cgroup/memory/memory.usage_in_bytes")
		return v, usage, true
	}
	return 0, 0, false
}

func cgroupV2Dir() (string, bool) {
	data, err := os.ReadFile("/proc/self/cgroup")
	if err != nil {
		return "", false
	}
	for _, line := range strings.Split(string(data), "\n") {
		// v2 unified hierarchy: "0::/path"
		if rest, found := strings.CutPrefix(line, "0::"); found {
			dir := filepath.Join("/sys/fs/cgroup", strings.TrimSpace(rest))
			if _, err := os.Stat(filepath.Join(dir, "memory.max")); err == nil {
				return dir, true
			}
		}
	}
	return "", false
}

// walkCgroupCeiling reads memory.max/memory.high at dir and every ancestor
// up to the cgroup root, returning the tightest value found.
func walkCgroupCeiling(dir string) (uint64, bool) {
	const root = "/sys/fs/cgroup"
	tightest := uint64(0)
	for {
		for _, name := range []string{"memory.max", "memory.high"} {
			raw, err := readTrimmed(filepath.Join(dir, name))
			if err != nil || raw == "max" {
				continue
			}
			if v, err := strconv.ParseUint(raw, 10, 64); err == nil {
				if tightest == 0 || v < tightest {
					tightest = v
				}
			}
		}
		if dir == root || !strings.HasPrefix(dir, root) {
			break
		}
		dir = filepath.Dir(dir)
	}
	return tightest, tightest > 0
}

func gopsutilAvailable() (uint64, bool) {
	vm, err := mem.VirtualMemory()
	if err != nil || vm == nil {
		return 0, false
	}
	return vm.Available, vm.Available > 0
}

func meminfoAvailable() (uint64, bool) {
	v, ok := meminfoField("MemAvailable")
	return v, ok
}

func gopsutilSwapUsed() (uint64, bool) {
	sm, err := mem.SwapMemory()
	if err != nil || sm == nil {
		return 0, false
	}
	return sm.Used, true
}

func meminfoSwapUsed() (uint64, bool) {
	total, ok1 := meminfoField("SwapTotal")
	free, ok2 := meminfoField("SwapFree")
	if !ok1 || !ok2 || free > total {
		return 0, false
	}
	return total - free, true
}

func meminfoField(field string) (uint64, bool) {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0, false
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, field+":") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			return 0, false
		}
		kb, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return 0, false
		}
		return kb * 1024, true
	}
	return 0, false
}

// --- topology ---

// sysfsLLCBytes returns the size of the largest (last-level) cache reported
// for cpu0. Shared LLC is what worker working sets compete for.
func sysfsLLCBytes() (uint64, bool) {
	indexes, err := filepath.Glob("/sys/devices/system/cpu/cpu0/cache/index[0-9]*")
	if err != nil || len(indexes) == 0 {
		return 0, false
	}
	bestLevel, bestSize := 0, uint64(0)
	for _, idx := range indexes {
		lvlRaw, err1 := readTrimmed(filepath.Join(idx, "level"))
		sizeRaw, err2 := readTrimmed(filepath.Join(idx, "size"))
		if err1 != nil || err2 != nil {
			continue
		}
		lvl, err := strconv.Atoi(lvlRaw)
		if err != nil {
			continue
		}
		size, ok := parseCacheSize(sizeRaw)
		if !ok {
			continue
		}
		if lvl > bestLevel || (lvl == bestLevel && size > bestSize) {
			bestLevel, bestSize = lvl, size
		}
	}
	return bestSize, bestSize > 0
}

// parseCacheSize handles the sysfs "8192K" / "32M" notation.
func parseCacheSize(s string) (uint64, bool) {
	mult := uint64(1)
	switch {
	case strings.HasSuffix(s, "K"):
		mult, s = 1024, strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		mult, s = 1024*1024, strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		mult, s = 1024*1024*1024, strings.TrimSuffix(s, "G")
	}
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, false
	}
	return v * mult, true
}

func sysfsNUMANodes() (int, bool) {
	nodes, err := filepath.Glob("/sys/devices/system/node/node[0-9]*")
	if err != nil || len(nodes) == 0 {
		return 0, false
	}
	return len(nodes), true
}

// measureCopyBandwidth prices a large sequential copy, the same access
// pattern chunk transfer exercises. A handful of repetitions, best-of.
func measureCopyBandwidth() (float64, bool) {
	const size = 32 << 20
	src := make([]byte, size)
	dst := make([]byte, size)
	best := 0.0
	for range 3 {
		start := time.Now()
		copy(dst, src)
		elapsed := time.Since(start).Seconds()
		if elapsed <= 0 {
			continue
		}
		if bw := float64(size) / elapsed; bw > best {
			best = bw
		}
	}
	return best, best > 0
}

// staticBandwidthEstimate assumes ~4 GB/s per physical core, capped at a
// commodity-DDR ceiling. Only reached when the copy measurement failed.
func staticBandwidthEstimate(physicalCores int) probe[float64] {
	return func() (float64, bool) {
		const perCore, ceiling = 4e9, 50e9
		bw := float64(physicalCores) * perCore
		if bw > ceiling {
			bw = ceiling
		}
		return bw, bw > 0
	}
}

// --- file helpers ---

func readTrimmed(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func readUint(path string) (uint64, error) {
	raw, err := readTrimmed(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(raw, 10, 64)
}
