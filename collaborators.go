package chunkwise

import (
	"fmt"
	"reflect"
	"runtime"

	"github.com/google/uuid"
)

// Fingerprint identifies a workload for cache and predictor lookups: the
// task's fully qualified function name plus the batch shape. Two calls with
// the same fingerprint are the same advisory question.
type Fingerprint struct {
	Task       string
	Items      int
	SampleSize int
}

func (f Fingerprint) String() string {
	return fmt.Sprintf("%s/%d/%d", f.Task, f.Items, f.SampleSize)
}

// fingerprintFor resolves the task's symbol name via the runtime. Anonymous
// functions get their compiler-assigned name, which is stable within a build.
func fingerprintFor(task any, items, sampleSize int) Fingerprint {
	name := "unknown"
	if task != nil {
		if fn := runtime.FuncForPC(reflect.ValueOf(task).Pointer()); fn != nil {
			name = fn.Name()
		}
	}
	return Fingerprint{Task: name, Items: items, SampleSize: sampleSize}
}

// decisionID derives a stable ID from the fingerprint and the hardware it
// was decided on. Deterministic so identical inputs produce identical
// decisions, byte for byte.
func decisionID(fp Fingerprint, hp HardwareProfile) string {
	seed := fmt.Sprintf("%s|%d|%s", fp, hp.PhysicalCores, hp.SpawnStrategy)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
}

// DecisionCache is the optional external cache collaborator. When Lookup
// returns a prior Decision whose hardware profile is still Compatible with
// the current one, Evaluate returns it verbatim and skips sampling and
// modeling entirely. Implementations own persistence and eviction.
type DecisionCache interface {
	Lookup(fp Fingerprint) (*Decision, bool)
	Store(fp Fingerprint, d *Decision)
}

// Predictor is the optional external model collaborator. When it is
// sufficiently confident (ok=true) its stats substitute for the dry run; the
// cost model and decision engine never know the difference. ok=false means
// "run the sampler".
type Predictor interface {
	Predict(fp Fingerprint) (*SampleStats, bool)
}
