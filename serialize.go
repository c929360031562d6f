package chunkwise

import (
	"encoding/gob"
	"time"
)

// countingWriter discards bytes but remembers how many passed through.
type countingWriter struct {
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}

// encodeCost prices one value's trip across a process boundary: the wall
// time to encode it with Go's native cross-process codec and the encoded
// size. An error means the value cannot be transferred at all (functions,
// channels, unregistered interfaces) - the sampler classifies it by index
// instead of crashing mid-run.
func encodeCost(v any) (time.Duration, int64, error) {
	var w countingWriter
	start := time.Now()
	err := gob.NewEncoder(&w).Encode(v)
	elapsed := time.Since(start)
	if err != nil {
		return 0, 0, err
	}
	return elapsed, w.n, nil
}

// Transferable reports whether a value can cross a process boundary.
// Convenience for hosts that want to pre-flight their task's input type.
func Transferable(v any) error {
	_, _, err := encodeCost(v)
	return err
}
