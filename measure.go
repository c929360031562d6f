package chunkwise

import (
	"encoding/gob"
	"io"
	"os/exec"
	"runtime"
	"sync"
	"time"
)

// PoolSpawner prices worker-pool mechanics. SpawnPool creates and joins a
// short-lived pool of n worker processes; DispatchChunks pushes n chunk
// boundaries through a worker feed. Both return wall time. Implementations
// must be safe to call more than once.
type PoolSpawner interface {
	SpawnPool(workers int) (time.Duration, error)
	DispatchChunks(chunks int) (time.Duration, error)
}

// measurement is the outcome of one measure-validate-select round. Value is
// what the cost model uses; Raw is what the clock said; Fallback records
// that the static estimate was substituted. A failed measurement is never an
// error, only an Explain line.
type measurement struct {
	Value    time.Duration
	Raw      time.Duration
	Fallback bool
	Checks   checkReport
}

// checkReport is the four plausibility checks applied to a marginal timing.
type checkReport struct {
	InRange      bool // within the strategy-specific plausible range
	SignalStrong bool // loaded run ≥ 1.1× base run, else Δ is noise
	NearStatic   bool // within 10× of the static estimate, either direction
	BoundedShare bool // marginal ≤ 90% of the loaded wall time
}

func (c checkReport) pass() bool {
	return c.InRange && c.SignalStrong && c.NearStatic && c.BoundedShare
}

// validateTiming applies the four checks. Pure: no clocks, independently
// testable from the timing side effects.
func validateTiming(marginal, base, loaded, static, lo, hi time.Duration) checkReport {
	return checkReport{
		InRange:      marginal >= lo && marginal <= hi,
		SignalStrong: loaded >= base+base/10,
		NearStatic:   marginal <= 10*static && 10*marginal >= static,
		BoundedShare: 10*marginal <= 9*loaded,
	}
}

// selectTiming is the validate-or-fallback selection. Pure.
func selectTiming(marginal time.Duration, checks checkReport, static time.Duration) (time.Duration, bool) {
	if checks.pass() {
		return marginal, false
	}
	return static, true
}

// staticSpawnCost is the per-strategy estimate substituted when the live
// measurement is implausible.
func staticSpawnCost(s SpawnStrategy) time.Duration {
	switch s {
	case CopyOnFork:
		return 8 * time.Millisecond
	case FullReinit:
		return 150 * time.Millisecond
	default: // ForkExec
		return 30 * time.Millisecond
	}
}

// plausibleSpawnRange bounds what a marginal spawn can credibly cost.
func plausibleSpawnRange(s SpawnStrategy) (lo, hi time.Duration) {
	switch s {
	case CopyOnFork:
		return 50 * time.Microsecond, 100 * time.Millisecond
	case FullReinit:
		return 10 * time.Millisecond, 3 * time.Second
	default: // ForkExec
		return 200 * time.Microsecond, 500 * time.Millisecond
	}
}

const (
	staticChunkOverhead = 100 * time.Microsecond
	chunkOverheadLo     = time.Microsecond
	chunkOverheadHi     = 10 * time.Millisecond

	fewChunks  = 4
	manyChunks = 64
)

// measureSpawnCost times a one-worker pool and a two-worker pool; the
// marginal difference is the cost of one additional worker. The result is
// believed only if it passes all four checks.
func measureSpawnCost(s PoolSpawner, strategy SpawnStrategy) measurement {
	static := staticSpawnCost(strategy)

	one, err1 := s.SpawnPool(1)
	two, err2 := s.SpawnPool(2)
	if err1 != nil || err2 != nil {
		return measurement{Value: static, Fallback: true}
	}

	marginal := two - one
	if marginal < 0 {
		marginal = 0
	}

	lo, hi := plausibleSpawnRange(strategy)
	checks := validateTiming(marginal, one, two, static, lo, hi)
	value, fellBack := selectTiming(marginal, checks, static)

	return measurement{Value: value, Raw: marginal, Fallback: fellBack, Checks: checks}
}

// measureChunkOverhead dispatches the same total work as few large chunks
// and as many small chunks; the timing difference per extra boundary is the
// marginal chunk overhead. Same validate-or-fallback policy as spawn cost.
func measureChunkOverhead(s PoolSpawner) measurement {
	few, err1 := s.DispatchChunks(fewChunks)
	many, err2 := s.DispatchChunks(manyChunks)
	if err1 != nil || err2 != nil {
		return measurement{Value: staticChunkOverhead, Fallback: true}
	}

	marginal := (many - few) / (manyChunks - fewChunks)
	if marginal < 0 {
		marginal = 0
	}

	checks := validateTiming(marginal, few, many, staticChunkOverhead, chunkOverheadLo, chunkOverheadHi)
	value, fellBack := selectTiming(marginal, checks, staticChunkOverhead)

	return measurement{Value: value, Raw: marginal, Fallback: fellBack, Checks: checks}
}

// execSpawner prices real process creation by launching no-op processes, and
// chunk boundaries by feeding encoded chunk headers through a worker channel.
type execSpawner struct {
	path string
	args []string
}

func newExecSpawner() *execSpawner {
	if runtime.GOOS == "windows" {
		return &execSpawner{path: "cmd", args: []string{"/c", "exit"}}
	}
	return &execSpawner{path: "/bin/true"}
}

// SpawnPool launches n no-op worker processes concurrently and waits for all
// of them, returning the wall time of create+join.
func (e *execSpawner) SpawnPool(workers int) (time.Duration, error) {
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	start := time.Now()
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := exec.Command(e.path, e.args...).Run(); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	select {
	case err := <-errs:
		return 0, err
	default:
		return elapsed, nil
	}
}

type chunkHeader struct {
	Index int
	Items int
}

// DispatchChunks hands n chunk headers to a consumer goroutine that encodes
// each one, pricing the schedule-plus-encode cost of a chunk boundary.
func (e *execSpawner) DispatchChunks(chunks int) (time.Duration, error) {
	feed := make(chan chunkHeader)
	done := make(chan error, 1)

	go func() {
		enc := gob.NewEncoder(io.Discard)
		var firstErr error
		for h := range feed {
			if err := enc.Encode(h); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		done <- firstErr
	}()

	start := time.Now()
	for i := range chunks {
		feed <- chunkHeader{Index: i, Items: 1}
	}
	close(feed)
	err := <-done
	return time.Since(start), err
}
