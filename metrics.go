package vango

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines hooks for collecting operational metrics.
// Implement it to integrate with external monitoring systems.
type MetricsCollector interface {
	// RecordInsert is called after each buffered insert attempt.
	RecordInsert(duration time.Duration, err error)

	// RecordBatchInsert is called after each batch insert.
	// count is the number of items attempted, failed how many failed.
	RecordBatchInsert(count, failed int, duration time.Duration)

	// RecordSearch is called after each search.
	RecordSearch(k int, duration time.Duration, err error)

	// RecordTrain is called after each compressor training run.
	RecordTrain(samples int, duration time.Duration, err error)

	// RecordFlush is called after each buffer flush batch is applied.
	RecordFlush(count, failed int, duration time.Duration)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordInsert(time.Duration, error)         {}
func (NoopMetricsCollector) RecordBatchInsert(int, int, time.Duration) {}
func (NoopMetricsCollector) RecordSearch(int, time.Duration, error)    {}
func (NoopMetricsCollector) RecordTrain(int, time.Duration, error)     {}
func (NoopMetricsCollector) RecordFlush(int, int, time.Duration)       {}

// BasicMetricsCollector provides simple in-memory metrics collection,
// useful for debugging without external dependencies.
type BasicMetricsCollector struct {
	InsertCount      atomic.Int64
	InsertErrors     atomic.Int64
	InsertTotalNanos atomic.Int64

	BatchInsertCount  atomic.Int64
	BatchInsertItems  atomic.Int64
	BatchInsertFailed atomic.Int64

	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchTotalNanos atomic.Int64

	TrainCount  atomic.Int64
	TrainErrors atomic.Int64

	FlushCount  atomic.Int64
	FlushItems  atomic.Int64
	FlushFailed atomic.Int64
}

// RecordInsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInsert(duration time.Duration, err error) {
	b.InsertCount.Add(1)
	b.InsertTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.InsertErrors.Add(1)
	}
}

// RecordBatchInsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBatchInsert(count, failed int, _ time.Duration) {
	b.BatchInsertCount.Add(1)
	b.BatchInsertItems.Add(int64(count))
	b.BatchInsertFailed.Add(int64(failed))
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(_ int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordTrain implements MetricsCollector.
func (b *BasicMetricsCollector) RecordTrain(_ int, _ time.Duration, err error) {
	b.TrainCount.Add(1)
	if err != nil {
		b.TrainErrors.Add(1)
	}
}

// RecordFlush implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFlush(count, failed int, _ time.Duration) {
	b.FlushCount.Add(1)
	b.FlushItems.Add(int64(count))
	b.FlushFailed.Add(int64(failed))
}
