// Package index implements construction and querying of the bounded-degree
// similarity graph.
//
// Construction follows the incremental Vamana scheme: each insert runs a
// beam search from the medoid to collect candidates, selects a diverse
// neighbor set with RobustPrune, then wires bidirectional edges while
// keeping every node within the degree bound. Queries reuse the same beam
// search and optionally rerank the final candidate set at full precision
// when compression is active.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"

	"github.com/vango-db/vango/distance"
	"github.com/vango-db/vango/graph"
	"github.com/vango-db/vango/internal/searcher"
	"github.com/vango-db/vango/quantization"
)

const (
	// DefaultMaxDegree is the default out-degree bound (R).
	DefaultMaxDegree = 32
	// DefaultBuildBeamWidth is the default construction beam width (L_build).
	DefaultBuildBeamWidth = 100
	// DefaultSearchBeamWidth is the default query beam width (L_search).
	DefaultSearchBeamWidth = 50
	// DefaultAlpha is the default diversity factor.
	DefaultAlpha = 1.2

	// medoidRecomputeInterval is the insert count between medoid refreshes.
	medoidRecomputeInterval = 100
	// medoidSampleSize bounds the number of nodes examined per refresh.
	medoidSampleSize = 64
	// cancelCheckMask gates context checks inside traversal loops.
	cancelCheckMask = 63
)

// ErrInvalidK is returned when k is not positive.
var ErrInvalidK = errors.New("index: k must be positive")

// Options configures an Index.
type Options struct {
	MaxDegree       int     // R: max out-degree (default 32)
	BuildBeamWidth  int     // L_build: construction beam width (default 100)
	SearchBeamWidth int     // L_search: query beam width (default 50)
	Alpha           float32 // diversity factor, > 1.0 (default 1.2)
	Seed            int64   // medoid sampling seed, 0 for nondeterministic
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxDegree:       DefaultMaxDegree,
		BuildBeamWidth:  DefaultBuildBeamWidth,
		SearchBeamWidth: DefaultSearchBeamWidth,
		Alpha:           DefaultAlpha,
	}
}

// SearchResult is one query hit.
type SearchResult struct {
	ID       string
	Distance float32
	Node     uint32
}

// BatchResult reports the outcome of one item in a batch insert.
type BatchResult struct {
	ID  string
	Err error
}

// Index is the graph index handle. All mutation is serialized by a single
// mutex (one batch "in the graph" at a time); searches take the read side,
// so they observe either a fully pre-batch or fully post-batch graph.
type Index struct {
	mu sync.RWMutex

	g     *graph.Graph
	opts  Options
	pq    *quantization.ProductQuantizer // nil when compression is disabled
	rng   *rand.Rand
	log   *slog.Logger
	dirty bool // mutations since last checkpoint

	medoid             uint32
	insertsSinceMedoid int
}

// New creates an index over an empty in-memory graph.
func New(dim int, metric distance.Metric, opts Options, pq *quantization.ProductQuantizer, log *slog.Logger) (*Index, error) {
	g, err := graph.New(dim, degreeOrDefault(opts.MaxDegree), metric, graph.BackendMemory)
	if err != nil {
		return nil, err
	}
	return fromGraph(g, opts, pq, log), nil
}

// FromGraph wraps an existing graph, e.g. one recovered from a snapshot.
// medoid must reference a valid node unless the graph is empty.
func FromGraph(g *graph.Graph, medoid uint32, opts Options, pq *quantization.ProductQuantizer, log *slog.Logger) *Index {
	idx := fromGraph(g, opts, pq, log)
	idx.medoid = medoid
	return idx
}

func fromGraph(g *graph.Graph, opts Options, pq *quantization.ProductQuantizer, log *slog.Logger) *Index {
	if opts.BuildBeamWidth <= 0 {
		opts.BuildBeamWidth = DefaultBuildBeamWidth
	}
	if opts.SearchBeamWidth <= 0 {
		opts.SearchBeamWidth = DefaultSearchBeamWidth
	}
	if opts.Alpha <= 1.0 {
		opts.Alpha = DefaultAlpha
	}
	opts.MaxDegree = degreeOrDefault(opts.MaxDegree)
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	var rng *rand.Rand
	if opts.Seed != 0 {
		rng = rand.New(rand.NewSource(opts.Seed))
	} else {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}

	return &Index{g: g, opts: opts, pq: pq, rng: rng, log: log}
}

func degreeOrDefault(r int) int {
	if r <= 0 {
		return DefaultMaxDegree
	}
	return r
}

// Graph exposes the underlying graph for persistence. Callers must not
// mutate it.
func (idx *Index) Graph() *graph.Graph { return idx.g }

// Medoid returns the current entry point node.
func (idx *Index) Medoid() uint32 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.medoid
}

// Size returns the number of indexed vectors.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.g.Size()
}

// Insert adds one vector to the graph.
func (idx *Index) Insert(ctx context.Context, id string, vec []float32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.insertLocked(ctx, id, vec)
}

// InsertBatch applies a batch under a single acquisition of the graph lock.
// Items are applied in order; a failed item is reported in the result and
// does not roll back previously applied items.
func (idx *Index) InsertBatch(ctx context.Context, ids []string, vectors [][]float32) ([]BatchResult, error) {
	if len(ids) != len(vectors) {
		return nil, fmt.Errorf("index: %d ids for %d vectors", len(ids), len(vectors))
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	results := make([]BatchResult, len(ids))
	for i := range ids {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(ids); j++ {
				results[j] = BatchResult{ID: ids[j], Err: err}
			}
			return results, err
		}
		results[i] = BatchResult{ID: ids[i], Err: idx.insertLocked(ctx, ids[i], vectors[i])}
	}

	return results, nil
}

func (idx *Index) insertLocked(ctx context.Context, id string, vec []float32) error {
	node, err := idx.g.AddNode(id, vec)
	if err != nil {
		return err
	}
	idx.dirty = true

	if idx.pq != nil && idx.pq.IsTrained() {
		code, err := idx.pq.Encode(vec)
		if err != nil {
			return err
		}
		if err := idx.g.SetCode(node, code); err != nil {
			return err
		}
	}

	// First node becomes the entry point with no neighbors.
	if node == 0 {
		idx.medoid = 0
		return nil
	}

	candidates := idx.beamSearchLocked(ctx, vec, idx.opts.BuildBeamWidth, nil)
	selected := idx.robustPrune(node, candidates, idx.opts.MaxDegree, idx.opts.Alpha)

	if err := idx.g.PruneEdges(node, selected); err != nil {
		return err
	}
	for _, nbr := range selected {
		if err := idx.addReverseEdgeLocked(nbr, node); err != nil {
			return err
		}
	}

	idx.insertsSinceMedoid++
	if idx.insertsSinceMedoid >= medoidRecomputeInterval {
		idx.recomputeMedoidLocked()
		idx.insertsSinceMedoid = 0
	}

	return nil
}

// addReverseEdgeLocked links target back to node, re-pruning target's
// neighbor set when it is at the degree bound so the bound is enforced
// before insertion, never by truncation after the fact.
func (idx *Index) addReverseEdgeLocked(target, node uint32) error {
	err := idx.g.AddEdge(target, node)
	if err == nil {
		return nil
	}
	if !errors.Is(err, graph.ErrDegreeFull) {
		return err
	}

	current := idx.g.Neighbors(target)
	candidates := make([]searcher.Candidate, 0, len(current)+1)
	for _, n := range current {
		d, derr := idx.g.Distance(target, n)
		if derr != nil {
			return derr
		}
		candidates = append(candidates, searcher.Candidate{Node: n, Distance: d})
	}
	d, derr := idx.g.Distance(target, node)
	if derr != nil {
		return derr
	}
	candidates = append(candidates, searcher.Candidate{Node: node, Distance: d})

	pruned := idx.robustPrune(target, candidates, idx.opts.MaxDegree, idx.opts.Alpha)
	return idx.g.PruneEdges(target, pruned)
}

// robustPrune selects up to r diverse neighbors for node from candidates.
// Candidates are considered in ascending distance order; a candidate c is
// rejected when an already-accepted neighbor p sits closer to c than
// c's own distance to node divided by alpha. When fewer than r diverse
// candidates exist, remaining slots are backfilled with the closest
// rejected candidates, which keeps the graph connected at the cost of some
// redundancy.
//
// The selection is deterministic for a given candidate set and alpha.
func (idx *Index) robustPrune(node uint32, candidates []searcher.Candidate, r int, alpha float32) []uint32 {
	if len(candidates) == 0 {
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Distance != candidates[j].Distance {
			return candidates[i].Distance < candidates[j].Distance
		}
		return candidates[i].Node < candidates[j].Node
	})

	result := make([]uint32, 0, r)
	rejected := make([]searcher.Candidate, 0, len(candidates))

	for _, c := range candidates {
		if len(result) >= r {
			break
		}
		if c.Node == node {
			continue
		}
		if containsNode(result, c.Node) {
			continue
		}

		dominated := false
		for _, p := range result {
			dcp, err := idx.g.Distance(c.Node, p)
			if err != nil {
				continue
			}
			if dcp < c.Distance/alpha {
				dominated = true
				break
			}
		}

		if dominated {
			rejected = append(rejected, c)
			continue
		}
		result = append(result, c.Node)
	}

	// Backfill with closest rejected candidates regardless of diversity.
	for _, c := range rejected {
		if len(result) >= r {
			break
		}
		if !containsNode(result, c.Node) {
			result = append(result, c.Node)
		}
	}

	return result
}

func containsNode(nodes []uint32, n uint32) bool {
	for _, v := range nodes {
		if v == n {
			return true
		}
	}
	return false
}

// Search returns the k nearest neighbors of query. beamWidth <= 0 selects
// max(k, L_search). An empty graph yields an empty result, and k larger
// than the graph returns every node.
func (idx *Index) Search(ctx context.Context, query []float32, k, beamWidth int) ([]SearchResult, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}
	if len(query) != idx.g.Dimension() {
		return nil, &graph.ErrDimensionMismatch{Expected: idx.g.Dimension(), Actual: len(query)}
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.g.Size() == 0 {
		return nil, nil
	}

	if beamWidth < k {
		beamWidth = k
	}
	if beamWidth < idx.opts.SearchBeamWidth {
		beamWidth = idx.opts.SearchBeamWidth
	}

	// Snapshot the compression state once per query: navigation either uses
	// approximate distances for the whole traversal or not at all, so a
	// training transition mid-flight never mixes precisions within one
	// search.
	var table []float32
	rerank := false
	if idx.pq != nil && idx.pq.IsTrained() && idx.g.Metric() == distance.MetricL2 {
		t, err := idx.pq.BuildDistanceTable(query)
		if err == nil {
			table = t
			rerank = true
		}
	}

	candidates := idx.beamSearchLocked(ctx, query, beamWidth, table)

	if rerank {
		// Exact rerank of the final candidate set bounds compression loss.
		distFunc := idx.g.DistFunc()
		for i := range candidates {
			vec, ok := idx.g.Vector(candidates[i].Node)
			if !ok {
				continue
			}
			candidates[i].Distance = distFunc(query, vec)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Distance != candidates[j].Distance {
			return candidates[i].Distance < candidates[j].Distance
		}
		return candidates[i].Node < candidates[j].Node
	})

	if k > len(candidates) {
		k = len(candidates)
	}
	results := make([]SearchResult, 0, k)
	for _, c := range candidates[:k] {
		id, ok := idx.g.ID(c.Node)
		if !ok {
			continue
		}
		results = append(results, SearchResult{ID: id, Distance: c.Distance, Node: c.Node})
	}

	return results, nil
}

// beamSearchLocked expands a bounded frontier from the medoid and returns
// every expanded candidate with its distance to query. When table is
// non-nil, frontier distances use ADC lookups against the compressed codes;
// nodes without a code fall back to full precision. Caller must hold at
// least the read lock.
func (idx *Index) beamSearchLocked(ctx context.Context, query []float32, beamWidth int, table []float32) []searcher.Candidate {
	frontier := searcher.NewCandidateQueue(beamWidth)
	visited := searcher.NewVisitedSet(idx.g.Size())
	collected := make([]searcher.Candidate, 0, beamWidth)

	entry := idx.medoid
	frontier.Push(entry, idx.nodeDistanceLocked(query, entry, table))
	visited.Visit(entry)

	iterations := 0
	for !frontier.IsEmpty() && len(collected) < beamWidth {
		iterations++
		if iterations&cancelCheckMask == 0 {
			select {
			case <-ctx.Done():
				return collected
			default:
			}
		}

		closest, ok := frontier.PopMin()
		if !ok {
			break
		}
		collected = append(collected, closest)

		for _, n := range idx.g.Neighbors(closest.Node) {
			if visited.Visited(n) {
				continue
			}
			visited.Visit(n)
			frontier.Push(n, idx.nodeDistanceLocked(query, n, table))
		}
	}

	return collected
}

func (idx *Index) nodeDistanceLocked(query []float32, node uint32, table []float32) float32 {
	if table != nil {
		if code := idx.g.Code(node); code != nil {
			return idx.pq.ADCLookup(table, code)
		}
	}
	d, err := idx.g.DistanceToQuery(query, node)
	if err != nil {
		return 0
	}
	return d
}

// recomputeMedoidLocked samples a bounded number of nodes and promotes the
// highest-degree one, amortizing entry-point maintenance as the graph grows.
func (idx *Index) recomputeMedoidLocked() {
	size := idx.g.Size()
	if size == 0 {
		return
	}

	sample := medoidSampleSize
	if sample > size {
		sample = size
	}

	best := idx.medoid
	bestDegree := idx.g.Degree(best)
	for i := 0; i < sample; i++ {
		node := uint32(idx.rng.Intn(size))
		if d := idx.g.Degree(node); d > bestDegree {
			best = node
			bestDegree = d
		}
	}

	if best != idx.medoid {
		idx.log.Debug("medoid updated", "medoid", best, "degree", bestDegree)
		idx.medoid = best
	}
}

// TrainCompressor trains the attached quantizer on sample, or on all stored
// vectors when sample is nil, then encodes every stored vector so no record
// is left half-compressed. No-op when already trained.
func (idx *Index) TrainCompressor(ctx context.Context, sample [][]float32) error {
	if idx.pq == nil {
		return quantization.ErrNotTrained
	}
	if idx.pq.IsTrained() {
		return nil
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if sample == nil {
		sample = make([][]float32, 0, idx.g.Size())
		for node := uint32(0); int(node) < idx.g.Size(); node++ {
			if vec, ok := idx.g.Vector(node); ok {
				sample = append(sample, vec)
			}
		}
	}

	if err := idx.pq.Train(sample); err != nil {
		return err
	}

	for node := uint32(0); int(node) < idx.g.Size(); node++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		vec, ok := idx.g.Vector(node)
		if !ok {
			continue
		}
		code, err := idx.pq.Encode(vec)
		if err != nil {
			return err
		}
		if err := idx.g.SetCode(node, code); err != nil {
			return err
		}
	}

	idx.log.Info("compressor trained",
		"vectors", idx.g.Size(),
		"bytes_per_vector", idx.pq.BytesPerVector(),
	)
	return nil
}

// Clear reinitializes the graph and resets the quantizer's trained state.
func (idx *Index) Clear() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	g, err := graph.New(idx.g.Dimension(), idx.opts.MaxDegree, idx.g.Metric(), graph.BackendMemory)
	if err != nil {
		return err
	}
	idx.g = g
	idx.medoid = 0
	idx.insertsSinceMedoid = 0
	idx.dirty = false
	if idx.pq != nil {
		idx.pq.Reset()
	}
	return nil
}

// Dirty reports whether the index was mutated since the last MarkClean.
func (idx *Index) Dirty() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dirty
}

// MarkClean clears the dirty flag, after a successful checkpoint.
func (idx *Index) MarkClean() {
	idx.mu.Lock()
	idx.dirty = false
	idx.mu.Unlock()
}

// RLock locks the index for reading. Exposed for persistence snapshots.
func (idx *Index) RLock() { idx.mu.RLock() }

// RUnlock releases the read lock.
func (idx *Index) RUnlock() { idx.mu.RUnlock() }
