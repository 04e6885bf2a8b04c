// Package ingest implements the streaming ingestion front-end.
//
// Writers append records to a per-stream active slot. When the slot reaches
// the batch size or the flush interval elapses, the slot pointer is swapped
// atomically with an empty one and the full slot is handed to a background
// worker, so inserts are never blocked by flush execution. Admission is
// bounded by a memory budget; past the backpressure threshold inserts fail
// fast with a retryable error instead of growing without bound.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrBackpressure is returned by Insert when the memory budget is
	// exhausted. Retryable: callers should back off and retry.
	ErrBackpressure = errors.New("ingest: backpressure")

	// ErrStreamClosed is returned for operations on a closed stream.
	ErrStreamClosed = errors.New("ingest: stream closed")

	// ErrStreamPaused is returned by Insert while a stream is paused.
	ErrStreamPaused = errors.New("ingest: stream paused")

	// ErrBufferClosed is returned once the whole buffer has shut down.
	ErrBufferClosed = errors.New("ingest: buffer closed")
)

// State is the lifecycle state of one stream.
type State int32

const (
	StateIdle State = iota
	StateActive
	StatePaused
	StateFlushing
	StateClosed
	// StateError is terminal for ingestion but recoverable: a successful
	// Recover transitions the stream back to active.
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StatePaused:
		return "paused"
	case StateFlushing:
		return "flushing"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("Unknown(%d)", int32(s))
	}
}

// Record is one pending (id, vector, metadata) entry.
type Record struct {
	ID       string
	Vector   []float32
	Metadata map[string]string
}

// estimateBytes approximates the resident cost of a record for admission
// accounting.
func (r Record) estimateBytes() int64 {
	bytes := int64(len(r.Vector))*4 + int64(len(r.ID)) + 48
	for k, v := range r.Metadata {
		bytes += int64(len(k)) + int64(len(v)) + 32
	}
	return bytes
}

// ItemResult reports the outcome of one record in a flushed batch.
type ItemResult struct {
	ID  string
	Err error
}

// FlushTarget applies a batch of records to the index. Implementations must
// apply records in order and report per-item outcomes; a failed item must
// not corrupt already-applied items.
type FlushTarget interface {
	ApplyBatch(ctx context.Context, records []Record) []ItemResult
}

// FailedRecord is one permanently failed record, kept in a bounded
// per-stream history.
type FailedRecord struct {
	ID       string
	Reason   string
	FailedAt time.Time
}

// Metrics is a read-only snapshot of one stream's counters.
type Metrics struct {
	Stream           string
	State            State
	Received         int64
	Processed        int64
	Failed           int64
	Flushes          int64
	Pending          int
	MemoryBytes      int64
	LastFlushLatency time.Duration
	ThroughputPerSec float64
}
