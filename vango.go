package vango

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-db/vango/distance"
	"github.com/vango-db/vango/graph"
	"github.com/vango-db/vango/index"
	"github.com/vango-db/vango/ingest"
	"github.com/vango-db/vango/metadata"
	"github.com/vango-db/vango/persistence"
	"github.com/vango-db/vango/quantization"
	"github.com/vango-db/vango/resource"
)

// DefaultStream is the ingestion stream used by Insert.
const DefaultStream = "default"

// defaultPQTrainingThreshold is the insert count that triggers automatic
// codebook training when compression is enabled without an explicit
// threshold.
const defaultPQTrainingThreshold = 1000

// SearchResult is one query hit with its metadata attached.
type SearchResult struct {
	ID       string
	Distance float32
	Metadata metadata.Document
}

// BatchItem reports the outcome of one item in a batch insert.
type BatchItem struct {
	ID  string
	Err error
}

// BatchReport summarizes a batch insert. Items are in input order.
type BatchReport struct {
	Items  []BatchItem
	Failed int
}

// Stats is a point-in-time view of the store.
type Stats struct {
	Count               int
	AvgDegree           float64
	MemoryEstimateBytes int64
	BufferedBytes       int64
	Trained             bool
	CompressionRatio    float64
	// BytesPerVector is the per-vector footprint used for approximate
	// distance evaluation: code bytes once the compressor is trained,
	// full-precision float bytes otherwise.
	BytesPerVector int
	Backend        string
	Streams             []ingest.Metrics
}

// DB is a vector store: a bounded-degree similarity graph with optional
// product-quantized compression, buffered ingestion and snapshot
// persistence. All methods are safe for concurrent use.
type DB struct {
	opts options
	dim  int

	pq   *quantization.ProductQuantizer // nil when compression is disabled
	meta *metadata.Store
	pm   *persistence.Manager // nil when no checkpoint path is set

	// mu guards the handles below, which are swapped by Clear and Recover.
	mu   sync.RWMutex
	idx  *index.Index
	buf  *ingest.Buffer
	ctrl *resource.Controller

	closed   atomic.Bool
	training atomic.Bool

	log *Logger
	mc  MetricsCollector
}

// New creates a store for vectors of the given dimensionality. When a
// checkpoint path is configured and a snapshot exists there, the store is
// recovered from it before New returns.
func New(dim int, optFns ...Option) (*DB, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("vango: dimension must be positive, got %d", dim)
	}

	opts := applyOptions(optFns)
	if opts.pqEnabled && opts.pqTrainingThreshold <= 0 {
		opts.pqTrainingThreshold = defaultPQTrainingThreshold
	}

	db := &DB{
		opts: opts,
		dim:  dim,
		meta: metadata.NewStore(),
		log:  opts.logger,
		mc:   opts.metricsCollector,
	}

	if opts.pqEnabled {
		pq, err := quantization.New(dim, quantization.Config{
			NumSubvectors: opts.pqSubvectors,
			NumCentroids:  opts.pqCentroids,
			Seed:          opts.seed,
		})
		if err != nil {
			return nil, err
		}
		db.pq = pq
	}

	idx, err := index.New(dim, opts.metric, db.indexOptions(), db.pq, db.log.Logger)
	if err != nil {
		return nil, err
	}
	db.idx = idx

	if opts.checkpointPath != "" {
		db.pm = persistence.NewManager(opts.checkpointPath,
			persistence.WithCompression(opts.checkpointCompression),
			persistence.WithLogger(db.log.Logger),
		)
		if _, err := db.Recover(context.Background()); err != nil {
			return nil, err
		}
	}

	db.ctrl, db.buf = db.newPipeline()
	return db, nil
}

func (db *DB) indexOptions() index.Options {
	return index.Options{
		MaxDegree:       db.opts.maxDegree,
		BuildBeamWidth:  db.opts.buildBeamWidth,
		SearchBeamWidth: db.opts.searchBeamWidth,
		Alpha:           db.opts.alpha,
		Seed:            db.opts.seed,
	}
}

func (db *DB) newPipeline() (*resource.Controller, *ingest.Buffer) {
	ctrl := resource.NewController(resource.Config{
		MaxMemoryBytes:        db.opts.maxMemory,
		BackpressureThreshold: db.opts.backpressureThreshold,
		MaxBackgroundWorkers:  int64(db.opts.flushWorkers),
	})
	buf := ingest.NewBuffer(flushTarget{db}, ctrl, ingest.Options{
		BatchSize:     db.opts.bufferBatchSize,
		FlushInterval: db.opts.flushInterval,
		RetryLimit:    db.opts.retryLimit,
		CloseTimeout:  db.opts.closeTimeout,
		FlushWorkers:  db.opts.flushWorkers,
		Logger:        db.log.Logger,
	})
	return ctrl, buf
}

func (db *DB) index() *index.Index {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.idx
}

func (db *DB) buffer() *ingest.Buffer {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.buf
}

// Dim returns the vector dimensionality.
func (db *DB) Dim() int { return db.dim }

// Metric returns the configured distance metric.
func (db *DB) Metric() distance.Metric { return db.opts.metric }

// Len returns the number of indexed vectors. Buffered records that have
// not been flushed yet are not counted.
func (db *DB) Len() int { return db.index().Size() }

// flushTarget adapts the DB for the ingestion buffer without exposing
// ApplyBatch on the public API.
type flushTarget struct{ db *DB }

func (t flushTarget) ApplyBatch(ctx context.Context, records []ingest.Record) []ingest.ItemResult {
	return t.db.applyBatch(ctx, records)
}

func (db *DB) applyBatch(ctx context.Context, records []ingest.Record) []ingest.ItemResult {
	start := time.Now()

	ids := make([]string, len(records))
	vectors := make([][]float32, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
		vectors[i] = rec.Vector
	}

	idx := db.index()
	results, _ := idx.InsertBatch(ctx, ids, vectors)

	out := make([]ingest.ItemResult, len(results))
	failed := 0
	g := idx.Graph()
	idx.RLock()
	for i, r := range results {
		out[i] = ingest.ItemResult{ID: r.ID, Err: r.Err}
		if r.Err != nil {
			failed++
			continue
		}
		if len(records[i].Metadata) > 0 {
			if node, ok := g.Lookup(r.ID); ok {
				db.meta.Set(r.ID, node, records[i].Metadata)
			}
		}
	}
	idx.RUnlock()

	db.mc.RecordFlush(len(records), failed, time.Since(start))
	db.maybeAutoTrain(ctx)
	return out
}

// maybeAutoTrain trains the compressor once the index holds enough vectors.
// At most one training run is in flight at a time.
func (db *DB) maybeAutoTrain(ctx context.Context) {
	if db.pq == nil || db.pq.IsTrained() {
		return
	}
	idx := db.index()
	if idx.Size() < db.opts.pqTrainingThreshold {
		return
	}
	if !db.training.CompareAndSwap(false, true) {
		return
	}
	defer db.training.Store(false)

	start := time.Now()
	err := idx.TrainCompressor(ctx, nil)
	db.mc.RecordTrain(idx.Size(), time.Since(start), err)
	db.log.LogTrain(ctx, idx.Size(), err)
}

// Insert buffers one record on the default stream. The record becomes
// searchable after the next flush; duplicate ids are rejected at flush time
// and reported via StreamFailures. Returns ErrBackpressure when the memory
// budget is exhausted.
func (db *DB) Insert(ctx context.Context, id string, vec []float32, doc metadata.Document) error {
	return db.InsertToStream(ctx, DefaultStream, id, vec, doc)
}

// InsertToStream buffers one record on a named stream.
func (db *DB) InsertToStream(ctx context.Context, stream, id string, vec []float32, doc metadata.Document) error {
	if db.closed.Load() {
		return ErrClosed
	}
	if len(vec) != db.dim {
		return &ErrDimensionMismatch{Expected: db.dim, Actual: len(vec)}
	}

	start := time.Now()
	err := db.buffer().Insert(stream, ingest.Record{ID: id, Vector: vec, Metadata: doc})
	db.mc.RecordInsert(time.Since(start), err)
	db.log.LogInsert(ctx, id, len(vec), err)
	return translateError(err)
}

// InsertBatch applies a batch directly to the index, bypassing the
// ingestion buffer. Items are applied in order; a failed item does not
// roll back previously applied ones. docs may be nil, or must match ids
// in length.
func (db *DB) InsertBatch(ctx context.Context, ids []string, vectors [][]float32, docs []metadata.Document) (BatchReport, error) {
	if db.closed.Load() {
		return BatchReport{}, ErrClosed
	}
	if len(ids) != len(vectors) {
		return BatchReport{}, fmt.Errorf("vango: %d ids for %d vectors", len(ids), len(vectors))
	}
	if docs != nil && len(docs) != len(ids) {
		return BatchReport{}, fmt.Errorf("vango: %d ids for %d documents", len(ids), len(docs))
	}

	start := time.Now()
	idx := db.index()
	results, batchErr := idx.InsertBatch(ctx, ids, vectors)

	report := BatchReport{Items: make([]BatchItem, len(results))}
	g := idx.Graph()
	idx.RLock()
	for i, r := range results {
		report.Items[i] = BatchItem{ID: r.ID, Err: translateError(r.Err)}
		if r.Err != nil {
			report.Failed++
			continue
		}
		if docs != nil && len(docs[i]) > 0 {
			if node, ok := g.Lookup(r.ID); ok {
				db.meta.Set(r.ID, node, docs[i])
			}
		}
	}
	idx.RUnlock()

	db.mc.RecordBatchInsert(len(ids), report.Failed, time.Since(start))
	db.log.LogBatchInsert(ctx, len(ids), report.Failed)
	db.maybeAutoTrain(ctx)
	return report, translateError(batchErr)
}

type searchConfig struct {
	beamWidth int
	filter    metadata.Document
}

// SearchOption configures a single query.
type SearchOption func(*searchConfig)

// WithBeamWidth widens the query beam beyond the configured default,
// trading latency for recall.
func WithBeamWidth(w int) SearchOption {
	return func(c *searchConfig) { c.beamWidth = w }
}

// WithFilter keeps only hits whose metadata carries every field=value pair
// in filter. Filtering happens after the traversal, so fewer than k hits
// may come back.
func WithFilter(filter metadata.Document) SearchOption {
	return func(c *searchConfig) { c.filter = filter }
}

// Search returns the k nearest neighbors of query with their metadata.
func (db *DB) Search(ctx context.Context, query []float32, k int, optFns ...SearchOption) ([]SearchResult, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}

	var cfg searchConfig
	for _, fn := range optFns {
		if fn != nil {
			fn(&cfg)
		}
	}

	start := time.Now()
	hits, err := db.index().Search(ctx, query, k, cfg.beamWidth)
	db.mc.RecordSearch(k, time.Since(start), err)
	db.log.LogSearch(ctx, k, len(hits), err)
	if err != nil {
		return nil, translateError(err)
	}

	if cfg.filter != nil {
		allowed := db.meta.MatchesAll(cfg.filter)
		kept := hits[:0]
		for _, h := range hits {
			if allowed.Contains(h.Node) {
				kept = append(kept, h)
			}
		}
		hits = kept
	}

	out := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		doc, _ := db.meta.Get(h.ID)
		out = append(out, SearchResult{ID: h.ID, Distance: h.Distance, Metadata: doc})
	}
	return out, nil
}

// Get returns the stored vector and metadata for id.
func (db *DB) Get(id string) ([]float32, metadata.Document, bool) {
	idx := db.index()
	idx.RLock()
	g := idx.Graph()
	node, ok := g.Lookup(id)
	if !ok {
		idx.RUnlock()
		return nil, nil, false
	}
	vec, _ := g.Vector(node)
	out := make([]float32, len(vec))
	copy(out, vec)
	idx.RUnlock()

	doc, _ := db.meta.Get(id)
	return out, doc, true
}

// TrainCompressor trains the quantizer on sample, or on all indexed
// vectors when sample is nil. No-op when already trained.
func (db *DB) TrainCompressor(ctx context.Context, sample [][]float32) error {
	if db.closed.Load() {
		return ErrClosed
	}

	start := time.Now()
	err := db.index().TrainCompressor(ctx, sample)
	db.mc.RecordTrain(len(sample), time.Since(start), err)
	db.log.LogTrain(ctx, len(sample), err)
	return translateError(err)
}

// Flush synchronously drains every ingestion stream into the index.
func (db *DB) Flush(ctx context.Context) error {
	if db.closed.Load() {
		return ErrClosed
	}
	return translateError(db.buffer().FlushAll(ctx))
}

// FlushStream synchronously drains one stream.
func (db *DB) FlushStream(ctx context.Context, stream string) error {
	if db.closed.Load() {
		return ErrClosed
	}
	return translateError(db.buffer().Flush(ctx, stream))
}

// PauseStream stops a stream from accepting inserts until ResumeStream.
func (db *DB) PauseStream(stream string) error {
	return translateError(db.buffer().Pause(stream))
}

// ResumeStream reactivates a paused stream.
func (db *DB) ResumeStream(stream string) error {
	return translateError(db.buffer().Resume(stream))
}

// CloseStream flushes and permanently closes one stream.
func (db *DB) CloseStream(ctx context.Context, stream string) error {
	return translateError(db.buffer().CloseStream(ctx, stream))
}

// StreamMetrics returns the counters for one stream.
func (db *DB) StreamMetrics(stream string) (ingest.Metrics, bool) {
	return db.buffer().Metrics(stream)
}

// StreamFailures returns the most recent flush failures for one stream.
func (db *DB) StreamFailures(stream string) []ingest.FailedRecord {
	return db.buffer().Failures(stream)
}

// Stats returns a point-in-time view of the store.
func (db *DB) Stats() Stats {
	idx := db.index()
	idx.RLock()
	g := idx.Graph()
	st := Stats{
		Count:               g.Size(),
		AvgDegree:           g.AvgDegree(),
		MemoryEstimateBytes: g.MemoryEstimate(),
		Backend:             g.Backend().String(),
	}
	idx.RUnlock()

	st.BytesPerVector = 4 * db.dim
	if db.pq != nil && db.pq.IsTrained() {
		st.Trained = true
		st.CompressionRatio = db.pq.CompressionRatio()
		st.BytesPerVector = db.pq.BytesPerVector()
	}

	db.mu.RLock()
	st.BufferedBytes = db.ctrl.MemoryUsage()
	st.Streams = db.buf.AllMetrics()
	db.mu.RUnlock()
	return st
}

// Checkpoint atomically persists the current index, codebooks and metadata
// to the configured path and returns the number of vectors written.
func (db *DB) Checkpoint(ctx context.Context) (int, error) {
	if db.closed.Load() {
		return 0, ErrClosed
	}
	return db.checkpoint(ctx)
}

func (db *DB) checkpoint(ctx context.Context) (int, error) {
	if db.pm == nil {
		return 0, fmt.Errorf("vango: no checkpoint path configured")
	}

	snap := db.snapshot()
	count, err := db.pm.Checkpoint(ctx, snap)
	if err == nil {
		db.index().MarkClean()
	}
	db.log.LogCheckpoint(ctx, db.pm.Path(), count, err)
	return count, translateError(err)
}

func (db *DB) snapshot() *persistence.Snapshot {
	idx := db.index()

	// Read the entry point before taking the read lock: Medoid locks
	// internally, and nodes are never removed, so the value stays valid.
	medoid := idx.Medoid()

	idx.RLock()
	defer idx.RUnlock()

	g := idx.Graph()
	n := g.Size()
	snap := &persistence.Snapshot{
		Dim:       db.dim,
		Metric:    uint8(g.Metric()),
		MaxDegree: g.MaxDegree(),
		Medoid:    medoid,
		IDs:       make([]string, n),
		Vectors:   make([][]float32, n),
		Neighbors: make([][]uint32, n),
		Codes:     make([][]byte, n),
	}

	for node := uint32(0); int(node) < n; node++ {
		snap.IDs[node], _ = g.ID(node)
		snap.Vectors[node], _ = g.Vector(node)

		nbrs := g.Neighbors(node)
		owned := make([]uint32, len(nbrs))
		copy(owned, nbrs)
		snap.Neighbors[node] = owned

		snap.Codes[node] = g.Code(node)
	}

	if db.pq != nil && db.pq.IsTrained() {
		snap.Codebooks = db.pq.Codebooks()
	}

	snap.Docs = make(map[string]map[string]string)
	for id, doc := range db.meta.All() {
		snap.Docs[id] = doc
	}
	return snap
}

// Recover replaces the in-memory state with the snapshot at the configured
// path. A missing snapshot is not an error and leaves the store untouched.
// Recover must not run concurrently with inserts or searches.
func (db *DB) Recover(ctx context.Context) (int, error) {
	if db.pm == nil {
		return 0, fmt.Errorf("vango: no checkpoint path configured")
	}

	snap, count, err := db.pm.Recover(ctx)
	db.log.LogRecovery(ctx, count, err)
	if err != nil {
		return 0, translateError(err)
	}
	if snap == nil {
		return 0, nil
	}
	if snap.Dim != db.dim {
		return 0, &ErrDimensionMismatch{Expected: db.dim, Actual: snap.Dim}
	}

	g, err := graph.New(snap.Dim, snap.MaxDegree, distance.Metric(snap.Metric), graph.BackendSnapshot)
	if err != nil {
		return 0, translateError(err)
	}
	for i := range snap.IDs {
		if _, err := g.AddNode(snap.IDs[i], snap.Vectors[i]); err != nil {
			return 0, translateError(err)
		}
	}
	for i, nbrs := range snap.Neighbors {
		if err := g.PruneEdges(uint32(i), nbrs); err != nil {
			return 0, translateError(err)
		}
	}
	for i, code := range snap.Codes {
		if len(code) == 0 {
			continue
		}
		if err := g.SetCode(uint32(i), code); err != nil {
			return 0, translateError(err)
		}
	}

	if snap.Codebooks != nil && db.pq != nil {
		if err := db.pq.SetCodebooks(snap.Codebooks); err != nil {
			return 0, translateError(err)
		}
	}

	db.meta.Clear()
	for id, doc := range snap.Docs {
		if node, ok := g.Lookup(id); ok {
			db.meta.Set(id, node, doc)
		}
	}

	db.mu.Lock()
	db.idx = index.FromGraph(g, snap.Medoid, db.indexOptions(), db.pq, db.log.Logger)
	db.mu.Unlock()
	return count, nil
}

// Clear destroys all state and reinitializes the store: index, compressor
// training, metadata and ingestion buffers. Any checkpoint on disk is left
// as is until the next Checkpoint overwrites it.
func (db *DB) Clear(ctx context.Context) error {
	if db.closed.Load() {
		return ErrClosed
	}

	// Shut the old pipeline down before taking the write lock. The final
	// flush calls back into the index through db.mu.RLock, so closing the
	// buffer while holding the write lock would block forever. Pending
	// buffered records are part of the state being destroyed, so the
	// close error is irrelevant; inserts racing with Clear land on the
	// closing buffer and fail, never on the fresh index.
	closeTimeout := db.opts.closeTimeout
	if closeTimeout <= 0 {
		closeTimeout = ingest.DefaultCloseTimeout
	}
	closeCtx, cancel := context.WithTimeout(ctx, closeTimeout)
	_ = db.buffer().Close(closeCtx)
	cancel()

	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.idx.Clear(); err != nil {
		return translateError(err)
	}
	db.meta.Clear()
	db.ctrl, db.buf = db.newPipeline()

	db.log.Info("store cleared")
	return nil
}

// Close flushes buffered records, checkpoints when the index is dirty and
// a checkpoint path is configured, and releases all resources. Close is
// idempotent.
func (db *DB) Close(ctx context.Context) error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}

	flushErr := translateError(db.buffer().Close(ctx))

	var cpErr error
	if db.pm != nil && db.index().Dirty() {
		_, cpErr = db.checkpoint(ctx)
	}
	return errors.Join(flushErr, cpErr)
}
