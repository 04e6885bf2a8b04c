package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vango-db/vango/graph"
	"github.com/vango-db/vango/internal/pool"
	"github.com/vango-db/vango/resource"
)

const (
	// DefaultBatchSize is the slot capacity that triggers a flush.
	DefaultBatchSize = 1000
	// DefaultFlushInterval is the time-based flush trigger.
	DefaultFlushInterval = time.Second
	// DefaultRetryLimit bounds per-item retries before a record is
	// reported failed.
	DefaultRetryLimit = 3
	// DefaultCloseTimeout bounds the final synchronous flush during Close.
	DefaultCloseTimeout = 10 * time.Second
	// maxFailureHistory bounds the per-stream failed-record history.
	maxFailureHistory = 64
)

// Options configures a Buffer.
type Options struct {
	BatchSize     int
	FlushInterval time.Duration
	RetryLimit    int
	CloseTimeout  time.Duration
	FlushWorkers  int
	Logger        *slog.Logger
}

// slot is one half of the double buffer: an append-only record list owned
// either by the inserting side (active) or by exactly one flush task.
type slot struct {
	records  []Record
	bytes    int64
	flushing bool
}

func newSlot(capacity int) *slot {
	return &slot{records: make([]Record, 0, capacity)}
}

func (s *slot) reset() {
	for i := range s.records {
		s.records[i] = Record{}
	}
	s.records = s.records[:0]
	s.bytes = 0
	s.flushing = false
}

type stream struct {
	name string

	mu     sync.Mutex
	state  State
	active *slot
	spare  *slot

	inflight sync.WaitGroup

	received  atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	flushes   atomic.Int64

	lastFlushNanos atomic.Int64
	throughputBits atomic.Uint64 // float64 bits
	failures       []FailedRecord
	failuresMu     sync.Mutex
}

func (s *stream) recordFailures(results []ItemResult, now time.Time) {
	s.failuresMu.Lock()
	defer s.failuresMu.Unlock()
	for _, r := range results {
		if r.Err == nil {
			continue
		}
		if len(s.failures) >= maxFailureHistory {
			copy(s.failures, s.failures[1:])
			s.failures = s.failures[:maxFailureHistory-1]
		}
		s.failures = append(s.failures, FailedRecord{ID: r.ID, Reason: r.Err.Error(), FailedAt: now})
	}
}

// Buffer is the double-buffered streaming front-end. It owns one slot pair
// per stream plus the background flush machinery; the flush target (the
// graph index) is shared across streams and serializes its own mutation.
type Buffer struct {
	target FlushTarget
	ctrl   *resource.Controller
	pool   *pool.WorkerPool
	opts   Options
	log    *slog.Logger

	mu      sync.Mutex
	streams map[string]*stream
	closed  bool

	stopTicker chan struct{}
	tickerDone chan struct{}
}

// NewBuffer creates a Buffer flushing into target, admission-controlled by
// ctrl (which may be nil for no limit).
func NewBuffer(target FlushTarget, ctrl *resource.Controller, opts Options) *Buffer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.RetryLimit <= 0 {
		opts.RetryLimit = DefaultRetryLimit
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = DefaultCloseTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	b := &Buffer{
		target:     target,
		ctrl:       ctrl,
		pool:       pool.New(opts.FlushWorkers),
		opts:       opts,
		log:        opts.Logger,
		streams:    make(map[string]*stream),
		stopTicker: make(chan struct{}),
		tickerDone: make(chan struct{}),
	}

	go b.tickLoop()

	return b
}

// tickLoop swaps out non-empty slots whose flush interval has elapsed.
func (b *Buffer) tickLoop() {
	defer close(b.tickerDone)

	ticker := time.NewTicker(b.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopTicker:
			return
		case <-ticker.C:
			b.mu.Lock()
			streams := make([]*stream, 0, len(b.streams))
			for _, s := range b.streams {
				streams = append(streams, s)
			}
			b.mu.Unlock()

			for _, s := range streams {
				b.dispatch(context.Background(), s, false)
			}
		}
	}
}

func (b *Buffer) getOrCreateStream(name string) (*stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBufferClosed
	}

	s, ok := b.streams[name]
	if !ok {
		s = &stream{
			name:   name,
			state:  StateIdle,
			active: newSlot(b.opts.BatchSize),
		}
		b.streams[name] = s
	}
	return s, nil
}

// Insert appends a record to the named stream's active slot. It never
// blocks on index mutation; the only admission check is the memory budget,
// which fails fast with ErrBackpressure.
func (b *Buffer) Insert(streamName string, rec Record) error {
	s, err := b.getOrCreateStream(streamName)
	if err != nil {
		return err
	}

	bytes := rec.estimateBytes()
	if err := b.ctrl.AdmitMemory(bytes); err != nil {
		return fmt.Errorf("%w: %d bytes buffered", ErrBackpressure, b.ctrl.MemoryUsage())
	}

	s.mu.Lock()
	switch s.state {
	case StateClosed, StateFlushing:
		// StateFlushing means CloseStream owns the final flush. A record
		// accepted now would land in the freshly swapped slot after that
		// flush already took the old one and be dropped on close.
		s.mu.Unlock()
		b.ctrl.ReleaseMemory(bytes)
		return ErrStreamClosed
	case StatePaused:
		s.mu.Unlock()
		b.ctrl.ReleaseMemory(bytes)
		return ErrStreamPaused
	case StateIdle, StateError:
		s.state = StateActive
	}

	s.active.records = append(s.active.records, rec)
	s.active.bytes += bytes
	full := len(s.active.records) >= b.opts.BatchSize
	s.mu.Unlock()

	s.received.Add(1)

	if full {
		b.dispatch(context.Background(), s, false)
	}
	return nil
}

// dispatch swaps the active slot out and hands it to the worker pool. When
// synchronous is true the flush runs on the caller's goroutine instead.
func (b *Buffer) dispatch(ctx context.Context, s *stream, synchronous bool) {
	s.mu.Lock()
	if len(s.active.records) == 0 {
		s.mu.Unlock()
		return
	}

	full := s.active
	full.flushing = true
	if s.spare != nil {
		s.active = s.spare
		s.spare = nil
	} else {
		s.active = newSlot(b.opts.BatchSize)
	}
	s.inflight.Add(1)
	s.mu.Unlock()

	if synchronous {
		b.flushSlot(ctx, s, full)
		return
	}

	if err := b.pool.Submit(ctx, func() {
		b.flushSlot(context.Background(), s, full)
	}); err != nil {
		// Pool already closed; flush inline so nothing is dropped.
		b.flushSlot(ctx, s, full)
	}
}

// flushSlot applies one swapped-out slot to the target, retrying failed
// items up to the retry limit. The slot is owned exclusively by this task
// until it is recycled.
func (b *Buffer) flushSlot(ctx context.Context, s *stream, sl *slot) {
	defer s.inflight.Done()

	start := time.Now()

	if err := b.ctrl.PaceFlush(ctx, int(sl.bytes)); err != nil {
		b.failSlot(s, sl, err)
		return
	}

	pending := sl.records
	var permanent []ItemResult

	for attempt := 0; attempt <= b.opts.RetryLimit && len(pending) > 0; attempt++ {
		results := b.target.ApplyBatch(ctx, pending)

		var retry []Record
		byID := make(map[string]Record, len(pending))
		for _, rec := range pending {
			byID[rec.ID] = rec
		}
		for _, r := range results {
			if r.Err == nil {
				s.processed.Add(1)
				continue
			}
			if attempt == b.opts.RetryLimit || !retryable(r.Err) {
				permanent = append(permanent, r)
				continue
			}
			retry = append(retry, byID[r.ID])
		}
		pending = retry
	}

	if len(permanent) > 0 {
		s.failed.Add(int64(len(permanent)))
		s.recordFailures(permanent, time.Now())
		b.log.Warn("flush completed with failures",
			"stream", s.name,
			"failed", len(permanent),
			"batch", len(sl.records),
		)
	}

	elapsed := time.Since(start)
	s.flushes.Add(1)
	s.lastFlushNanos.Store(elapsed.Nanoseconds())
	if secs := elapsed.Seconds(); secs > 0 {
		s.throughputBits.Store(math.Float64bits(float64(len(sl.records)) / secs))
	}

	b.recycle(s, sl)
}

// failSlot reports an entire slot as failed, e.g. on close timeout. Items
// are recorded, never dropped silently, and the stream enters StateError.
func (b *Buffer) failSlot(s *stream, sl *slot, cause error) {
	results := make([]ItemResult, len(sl.records))
	for i, rec := range sl.records {
		results[i] = ItemResult{ID: rec.ID, Err: cause}
	}
	s.failed.Add(int64(len(sl.records)))
	s.recordFailures(results, time.Now())

	s.mu.Lock()
	if s.state != StateClosed {
		s.state = StateError
	}
	s.mu.Unlock()

	b.log.Error("flush failed", "stream", s.name, "records", len(sl.records), "error", cause)
	b.recycle(s, sl)
}

func (b *Buffer) recycle(s *stream, sl *slot) {
	b.ctrl.ReleaseMemory(sl.bytes)
	sl.reset()

	s.mu.Lock()
	if s.spare == nil {
		s.spare = sl
	}
	s.mu.Unlock()
}

// retryable reports whether a failed item is worth retrying. Validation
// failures will not succeed on a second attempt.
func retryable(err error) bool {
	var dm *graph.ErrDimensionMismatch
	switch {
	case errors.Is(err, graph.ErrDuplicateID),
		errors.Is(err, graph.ErrCorruptState),
		errors.As(err, &dm):
		return false
	default:
		return true
	}
}

// Flush synchronously drains the named stream: the active slot is swapped
// out and applied, and any in-flight background flushes are awaited.
func (b *Buffer) Flush(ctx context.Context, streamName string) error {
	b.mu.Lock()
	s, ok := b.streams[streamName]
	b.mu.Unlock()
	if !ok {
		return nil
	}
	return b.flushStream(ctx, s)
}

func (b *Buffer) flushStream(ctx context.Context, s *stream) error {
	b.dispatch(ctx, s, true)

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FlushAll synchronously drains every stream.
func (b *Buffer) FlushAll(ctx context.Context) error {
	b.mu.Lock()
	streams := make([]*stream, 0, len(b.streams))
	for _, s := range b.streams {
		streams = append(streams, s)
	}
	b.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range streams {
		g.Go(func() error {
			return b.flushStream(gctx, s)
		})
	}
	return g.Wait()
}

// Pause stops a stream from accepting inserts until Resume.
func (b *Buffer) Pause(streamName string) error {
	s, err := b.getOrCreateStream(streamName)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrStreamClosed
	}
	s.state = StatePaused
	return nil
}

// Resume reactivates a paused or errored stream.
func (b *Buffer) Resume(streamName string) error {
	s, err := b.getOrCreateStream(streamName)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrStreamClosed
	}
	s.state = StateActive
	return nil
}

// CloseStream forces a final synchronous flush bounded by the close
// timeout, then releases the stream. On timeout the stream transitions to
// StateError with unflushed items reported through metrics; abandoning a
// partial flush silently is a protocol violation.
func (b *Buffer) CloseStream(ctx context.Context, streamName string) error {
	b.mu.Lock()
	s, ok := b.streams[streamName]
	b.mu.Unlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateFlushing
	s.mu.Unlock()

	flushCtx, cancel := context.WithTimeout(ctx, b.opts.CloseTimeout)
	defer cancel()

	err := b.flushStream(flushCtx, s)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		pending := len(s.active.records)
		s.state = StateError
		return fmt.Errorf("ingest: close of stream %q: %d records unflushed: %w", streamName, pending, err)
	}
	s.state = StateClosed
	return nil
}

// Close flushes every stream concurrently, then shuts down the ticker and
// worker pool. The buffer accepts no inserts afterwards.
func (b *Buffer) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	names := make([]string, 0, len(b.streams))
	for name := range b.streams {
		names = append(names, name)
	}
	b.mu.Unlock()

	close(b.stopTicker)
	<-b.tickerDone

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			return b.CloseStream(gctx, name)
		})
	}
	err := g.Wait()

	b.pool.Close()
	return err
}

// Metrics returns a snapshot for one stream.
func (b *Buffer) Metrics(streamName string) (Metrics, bool) {
	b.mu.Lock()
	s, ok := b.streams[streamName]
	b.mu.Unlock()
	if !ok {
		return Metrics{}, false
	}
	return b.snapshot(s), true
}

// AllMetrics returns snapshots for every stream.
func (b *Buffer) AllMetrics() []Metrics {
	b.mu.Lock()
	streams := make([]*stream, 0, len(b.streams))
	for _, s := range b.streams {
		streams = append(streams, s)
	}
	b.mu.Unlock()

	out := make([]Metrics, 0, len(streams))
	for _, s := range streams {
		out = append(out, b.snapshot(s))
	}
	return out
}

// Failures returns the bounded failed-record history for a stream.
func (b *Buffer) Failures(streamName string) []FailedRecord {
	b.mu.Lock()
	s, ok := b.streams[streamName]
	b.mu.Unlock()
	if !ok {
		return nil
	}
	s.failuresMu.Lock()
	defer s.failuresMu.Unlock()
	out := make([]FailedRecord, len(s.failures))
	copy(out, s.failures)
	return out
}

func (b *Buffer) snapshot(s *stream) Metrics {
	s.mu.Lock()
	state := s.state
	pending := len(s.active.records)
	bytes := s.active.bytes
	s.mu.Unlock()

	return Metrics{
		Stream:           s.name,
		State:            state,
		Received:         s.received.Load(),
		Processed:        s.processed.Load(),
		Failed:           s.failed.Load(),
		Flushes:          s.flushes.Load(),
		Pending:          pending,
		MemoryBytes:      bytes,
		LastFlushLatency: time.Duration(s.lastFlushNanos.Load()),
		ThroughputPerSec: math.Float64frombits(s.throughputBits.Load()),
	}
}
