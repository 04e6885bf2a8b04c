package vango

import (
	"errors"
	"fmt"

	"github.com/vango-db/vango/graph"
	"github.com/vango-db/vango/index"
	"github.com/vango-db/vango/ingest"
	"github.com/vango-db/vango/quantization"
)

var (
	// ErrClosed is returned for operations on a closed DB.
	ErrClosed = errors.New("vango: closed")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrBackpressure is returned by buffered inserts when the memory
	// budget is exhausted. Retryable: back off and try again.
	ErrBackpressure = errors.New("backpressure")

	// ErrDuplicateID is returned when inserting an id that already exists.
	// Duplicate ids are rejected uniformly on every insert path.
	ErrDuplicateID = errors.New("duplicate id")

	// ErrNotTrained is returned for compression operations requested
	// before the quantizer has been trained.
	ErrNotTrained = errors.New("compressor not trained")

	// ErrInsufficientTrainingData is returned when training is requested
	// with fewer samples than the configured minimum.
	ErrInsufficientTrainingData = errors.New("insufficient training data")

	// ErrCorruptGraphState indicates a broken internal invariant. Fatal;
	// valid external input can never trigger it.
	ErrCorruptGraphState = errors.New("corrupt graph state")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// translateError normalizes internal package errors into the public error
// vocabulary.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var dm *graph.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}

	switch {
	case errors.Is(err, graph.ErrDuplicateID):
		return fmt.Errorf("%w: %w", ErrDuplicateID, err)
	case errors.Is(err, graph.ErrCorruptState):
		return fmt.Errorf("%w: %w", ErrCorruptGraphState, err)
	case errors.Is(err, ingest.ErrBackpressure):
		return fmt.Errorf("%w: %w", ErrBackpressure, err)
	case errors.Is(err, quantization.ErrNotTrained):
		return fmt.Errorf("%w: %w", ErrNotTrained, err)
	case errors.Is(err, quantization.ErrInsufficientTrainingData):
		return fmt.Errorf("%w: %w", ErrInsufficientTrainingData, err)
	case errors.Is(err, index.ErrInvalidK):
		return fmt.Errorf("%w: %w", ErrInvalidK, err)
	default:
		return err
	}
}
