package vango

import (
	"log/slog"
	"time"

	"github.com/vango-db/vango/distance"
	"github.com/vango-db/vango/persistence"
)

type options struct {
	metric distance.Metric

	// Graph construction and search.
	maxDegree       int
	buildBeamWidth  int
	searchBeamWidth int
	alpha           float32
	seed            int64

	// Compression.
	pqEnabled           bool
	pqTrainingThreshold int
	pqSubvectors        int
	pqCentroids         int

	// Ingestion.
	bufferBatchSize       int
	flushInterval         time.Duration
	flushWorkers          int
	closeTimeout          time.Duration
	retryLimit            int
	maxMemory             int64
	backpressureThreshold float64

	// Persistence.
	checkpointPath        string
	checkpointCompression persistence.Compression

	logger           *Logger
	metricsCollector MetricsCollector
}

// Option configures DB construction.
type Option func(*options)

// WithMetric selects the distance metric (default Euclidean/L2).
func WithMetric(m distance.Metric) Option {
	return func(o *options) { o.metric = m }
}

// WithMaxDegree sets R, the out-degree bound per node.
func WithMaxDegree(r int) Option {
	return func(o *options) { o.maxDegree = r }
}

// WithBuildBeamWidth sets L_build, the construction beam width.
func WithBuildBeamWidth(l int) Option {
	return func(o *options) { o.buildBeamWidth = l }
}

// WithSearchBeamWidth sets L_search, the default query beam width.
func WithSearchBeamWidth(l int) Option {
	return func(o *options) { o.searchBeamWidth = l }
}

// WithAlpha sets the RobustPrune diversity factor. Values must exceed 1.0;
// anything else falls back to the default.
func WithAlpha(alpha float32) Option {
	return func(o *options) { o.alpha = alpha }
}

// WithSeed makes medoid sampling and codebook training deterministic.
func WithSeed(seed int64) Option {
	return func(o *options) { o.seed = seed }
}

// WithProductQuantization enables compression once trainingThreshold
// vectors have been inserted. subvectors may be 0 to auto-select.
func WithProductQuantization(trainingThreshold, subvectors int) Option {
	return func(o *options) {
		o.pqEnabled = true
		o.pqTrainingThreshold = trainingThreshold
		o.pqSubvectors = subvectors
	}
}

// WithPQCentroids overrides the codebook size (default 256).
func WithPQCentroids(k int) Option {
	return func(o *options) { o.pqCentroids = k }
}

// WithBufferBatchSize sets the slot size that triggers a flush.
func WithBufferBatchSize(n int) Option {
	return func(o *options) { o.bufferBatchSize = n }
}

// WithFlushInterval sets the time-based flush trigger.
func WithFlushInterval(d time.Duration) Option {
	return func(o *options) { o.flushInterval = d }
}

// WithFlushWorkers sets the background flush pool size.
func WithFlushWorkers(n int) Option {
	return func(o *options) { o.flushWorkers = n }
}

// WithCloseTimeout bounds the final flush during Close.
func WithCloseTimeout(d time.Duration) Option {
	return func(o *options) { o.closeTimeout = d }
}

// WithRetryLimit bounds per-item retries during flush.
func WithRetryLimit(n int) Option {
	return func(o *options) { o.retryLimit = n }
}

// WithMemoryBudget caps buffered ingestion memory. Inserts fail with
// ErrBackpressure once usage passes threshold*maxMemory. threshold <= 0
// defaults to 0.8.
func WithMemoryBudget(maxMemory int64, threshold float64) Option {
	return func(o *options) {
		o.maxMemory = maxMemory
		o.backpressureThreshold = threshold
	}
}

// WithCheckpointPath enables snapshot persistence at path.
func WithCheckpointPath(path string) Option {
	return func(o *options) { o.checkpointPath = path }
}

// WithCheckpointCompression selects the snapshot block codec.
func WithCheckpointCompression(c persistence.Compression) Option {
	return func(o *options) { o.checkpointCompression = c }
}

// WithLogger configures structured logging. Pass nil to disable.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel is shorthand for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) { o.logger = NewTextLogger(level) }
}

// WithMetricsCollector configures a metrics collector.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metric:                distance.MetricL2,
		checkpointCompression: persistence.CompressionZSTD,
		logger:                NoopLogger(),
		metricsCollector:      NoopMetricsCollector{},
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
