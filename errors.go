package chunkwise

import (
	"errors"
	"fmt"
)

// Caller programming errors. These are the only conditions Evaluate returns
// as errors before doing any work; everything workload-related resolves into
// a Rejected decision instead.
var (
	// ErrNotCallable means the task was nil.
	ErrNotCallable = errors.New("chunkwise: task must be non-nil")

	// ErrNoData means the dataset was nil or empty.
	ErrNoData = errors.New("chunkwise: dataset must contain at least one item")

	// ErrInvalidSampleSize means a non-positive sample size was requested.
	ErrInvalidSampleSize = errors.New("chunkwise: sample size must be positive")
)

// TransferDirection says which side of the process boundary failed.
type TransferDirection string

const (
	TransferInput  TransferDirection = "input"
	TransferOutput TransferDirection = "output"
)

// SerializationError records that an item or a result cannot cross a process
// boundary. It is caught during sampling, classified by offending index, and
// becomes a rejection reason - it is never returned from Evaluate.
type SerializationError struct {
	Index     int               // index of the offending item in the input
	Direction TransferDirection // input item or task result
	Err       error             // underlying codec error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("chunkwise: item %d is not cross-process transferable (%s): %v",
		e.Index, e.Direction, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }
