// Package chunkwise decides whether a batch of independent per-item
// computations is worth parallelizing across worker processes, and if so,
// with how many workers and what chunk size.
//
// # Overview
//
// Spawning worker processes and shipping data across process boundaries is
// not free. On runtimes where application code cannot run concurrently inside
// one process, parallel execution means new processes plus serialization of
// every input and every result. When per-item work is small, that overhead
// exceeds the savings and the "parallel" configuration is slower than the
// serial one (negative scaling).
//
// chunkwise is a pre-execution advisor: it measures the real overheads on the
// machine it runs on, dry-runs the workload on a handful of items, predicts
// the parallel wall-clock time from a cost model, and returns either an
// accepted configuration or a reasoned rejection. It never builds the worker
// pool itself; that is the caller's job.
//
// # Architecture
//
// Four components, strict bottom-up data flow:
//
//   - Profiler   - physical cores, container-aware memory, measured
//     worker-spawn cost and chunk-boundary cost
//     (profile.go, probes.go, measure.go, load.go)
//   - Sampler    - dry-runs the task on the first k items without consuming
//     a single-pass input (sample.go, serialize.go)
//   - Cost model - Amdahl's Law with cache-coherency, NUMA, memory-bandwidth
//     and false-sharing corrections (costmodel.go)
//   - Decision   - fast-fail rules, candidate search, accept or reject
//     (decision.go)
//
// Only the Decision is externally visible.
//
// # The Cost Model
//
// Predicted parallel time for n workers and chunk size c over m items:
//
//	T(n,c) = [ spawn·n + compute/n + overlap·(t_in+t_out)·m + chunk·⌈m/c⌉ ] × S
//	S      = coherency(n) × falseSharing × numa(n) / bandwidth(n)
//
// Where spawn and chunk are measured (not estimated) marginal costs,
// overlap ∈ (0,1) models transfer/compute pipelining, coherency ≥ 1 rises
// once per-worker working sets overflow the shared last-level cache,
// numa ≥ 1 rises as the pool spans additional NUMA nodes, bandwidth ∈
// [floor,1] falls as aggregate transfer demand nears the memory bandwidth
// ceiling, and falseSharing ≥ 1 penalizes results smaller than one transfer
// unit.
//
//	speedup(n) = min(n, compute / T(n,c))
//
// # Quick Start
//
//	task := func(img Image) (Thumb, error) { return resize(img) }
//
//	d, err := chunkwise.Evaluate(task, chunkwise.FromSlice(images))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if d.Accepted {
//	    pool := newPool(d.NJobs, d.Chunksize) // caller-owned
//	    pool.Map(task, data.All())
//	} else {
//	    // serial, as advised; d.Reason says why
//	}
//
// The dry run consumes the first items of the input; Dataset.All afterwards
// still yields the full original sequence, sampled prefix included, in order.
//
// # Measure, Validate, Fall Back
//
// Every hardware probe is an ordered chain: introspection API, OS
// pseudo-files, OS command, derived guess, constant. First success wins and
// the answer is cached for the process lifetime (memory is TTL-cached since
// it drifts during long runs). Timing measurements pass four plausibility
// checks before they are believed; a failed measurement silently substitutes
// a static per-strategy estimate and is reported only through Explain.
// Nothing in the profiler ever raises because a measurement looked wrong.
//
// # Decisions, Not Exceptions
//
// Anything that means "this workload cannot be safely parallelized" - items
// that cannot cross a process boundary, per-item time under a millisecond,
// spawn cost dominating total compute - resolves into a Rejected decision
// with a reason string. Only caller programming errors (nil task,
// non-positive sample size) return an error, synchronously, before any
// measurement runs. Errors returned by the task itself propagate unmodified.
//
// # Collaborators
//
// A DecisionCache may return a prior Decision verbatim when the hardware
// profile is still compatible, skipping sampling and modeling entirely. A
// Predictor may substitute SampleStats for the dry run. Both are optional
// interfaces; the cost model and decision engine never know whether stats
// were measured or predicted.
package chunkwise
