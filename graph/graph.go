// Package graph implements the adjacency-list similarity graph underlying
// the index.
//
// Adjacency-list storage is a hard requirement: neighbor replacement after
// pruning must be O(degree), which flat/CSR layouts cannot provide without
// O(E) shifting.
package graph

import (
	"errors"
	"fmt"

	"github.com/vango-db/vango/distance"
)

var (
	// ErrDegreeFull is returned by AddEdge when the source node is already
	// at the degree bound. Callers must prune first.
	ErrDegreeFull = errors.New("graph: node at max degree")

	// ErrCorruptState indicates a broken invariant, such as a neighbor list
	// exceeding the degree bound. It is fatal and indicates a bug; valid
	// external input can never trigger it.
	ErrCorruptState = errors.New("graph: corrupt state")

	// ErrDuplicateID is returned when a node with the same external ID
	// already exists.
	ErrDuplicateID = errors.New("graph: duplicate id")

	// ErrNodeNotFound is returned for out-of-range node references.
	ErrNodeNotFound = errors.New("graph: node not found")
)

// ErrDimensionMismatch indicates a vector of the wrong length for this graph.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("graph: dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Backend selects the storage variant at construction time. The set is
// closed; there is no open-ended dispatch over storage implementations.
type Backend int

const (
	// BackendMemory is the default in-memory variant.
	BackendMemory Backend = iota
	// BackendSnapshot marks a graph reconstructed from a persisted
	// snapshot. Storage behavior is identical; the tag exists so callers
	// can distinguish recovered state in stats and diagnostics.
	BackendSnapshot
)

func (b Backend) String() string {
	switch b {
	case BackendMemory:
		return "memory"
	case BackendSnapshot:
		return "snapshot"
	default:
		return fmt.Sprintf("Unknown(%d)", int(b))
	}
}

// Graph owns per-node vector storage and a bounded-degree adjacency list.
//
// Graph is NOT safe for concurrent use; the index layer serializes all
// mutation and holds a read lock across traversals.
type Graph struct {
	dim       int
	maxDegree int
	metric    distance.Metric
	distFunc  distance.Func
	backend   Backend

	ids       []string
	vectors   [][]float32
	codes     [][]byte // compressed codes, nil until compression is active
	neighbors [][]uint32
	idIndex   map[string]uint32
}

// New creates an empty graph for vectors of the given dimension.
func New(dim, maxDegree int, metric distance.Metric, backend Backend) (*Graph, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("graph: invalid dimension %d", dim)
	}
	if maxDegree <= 0 {
		return nil, fmt.Errorf("graph: invalid max degree %d", maxDegree)
	}

	distFunc, err := distance.Provider(metric)
	if err != nil {
		return nil, err
	}

	return &Graph{
		dim:       dim,
		maxDegree: maxDegree,
		metric:    metric,
		distFunc:  distFunc,
		backend:   backend,
		idIndex:   make(map[string]uint32),
	}, nil
}

// AddNode appends a node owning a copy of vec and returns its stable index.
func (g *Graph) AddNode(id string, vec []float32) (uint32, error) {
	if len(vec) != g.dim {
		return 0, &ErrDimensionMismatch{Expected: g.dim, Actual: len(vec)}
	}
	if _, exists := g.idIndex[id]; exists {
		return 0, fmt.Errorf("%w: %q", ErrDuplicateID, id)
	}

	node := uint32(len(g.vectors))
	owned := make([]float32, len(vec))
	copy(owned, vec)

	g.ids = append(g.ids, id)
	g.vectors = append(g.vectors, owned)
	g.codes = append(g.codes, nil)
	g.neighbors = append(g.neighbors, make([]uint32, 0, g.maxDegree))
	g.idIndex[id] = node

	return node, nil
}

// AddEdge adds a directed edge from -> to. Fails with ErrDegreeFull when the
// source is at the degree bound; callers are expected to prune first.
// Adding an existing edge is a no-op.
func (g *Graph) AddEdge(from, to uint32) error {
	if int(from) >= len(g.neighbors) || int(to) >= len(g.vectors) {
		return ErrNodeNotFound
	}
	if from == to {
		return nil
	}

	current := g.neighbors[from]
	for _, n := range current {
		if n == to {
			return nil
		}
	}
	if len(current) >= g.maxDegree {
		return ErrDegreeFull
	}

	g.neighbors[from] = append(current, to)
	return nil
}

// PruneEdges replaces the neighbor list of node wholesale in O(degree).
func (g *Graph) PruneEdges(node uint32, keep []uint32) error {
	if int(node) >= len(g.neighbors) {
		return ErrNodeNotFound
	}
	if len(keep) > g.maxDegree {
		return fmt.Errorf("%w: prune set of %d exceeds max degree %d", ErrCorruptState, len(keep), g.maxDegree)
	}

	// Reuse the existing backing array when possible.
	next := g.neighbors[node][:0]
	if cap(next) < len(keep) {
		next = make([]uint32, 0, g.maxDegree)
	}
	g.neighbors[node] = append(next, keep...)
	return nil
}

// Distance computes the configured metric between two stored nodes.
func (g *Graph) Distance(a, b uint32) (float32, error) {
	if int(a) >= len(g.vectors) || int(b) >= len(g.vectors) {
		return 0, ErrNodeNotFound
	}
	return g.distFunc(g.vectors[a], g.vectors[b]), nil
}

// DistanceToQuery computes the configured metric between a query vector and
// a stored node.
func (g *Graph) DistanceToQuery(query []float32, node uint32) (float32, error) {
	if int(node) >= len(g.vectors) {
		return 0, ErrNodeNotFound
	}
	return g.distFunc(query, g.vectors[node]), nil
}

// DistFunc returns the configured distance function.
func (g *Graph) DistFunc() distance.Func { return g.distFunc }

// Metric returns the configured metric.
func (g *Graph) Metric() distance.Metric { return g.metric }

// Neighbors returns the ordered neighbor list of node. The returned slice
// is owned by the graph and must not be mutated or held across mutations.
func (g *Graph) Neighbors(node uint32) []uint32 {
	if int(node) >= len(g.neighbors) {
		return nil
	}
	return g.neighbors[node]
}

// Degree returns the out-degree of node.
func (g *Graph) Degree(node uint32) int {
	if int(node) >= len(g.neighbors) {
		return 0
	}
	return len(g.neighbors[node])
}

// MaxDegree returns the configured degree bound.
func (g *Graph) MaxDegree() int { return g.maxDegree }

// Size returns the number of nodes.
func (g *Graph) Size() int { return len(g.vectors) }

// Dimension returns the configured vector dimension.
func (g *Graph) Dimension() int { return g.dim }

// Backend returns the storage variant tag.
func (g *Graph) Backend() Backend { return g.backend }

// Vector returns the full-precision vector of node.
func (g *Graph) Vector(node uint32) ([]float32, bool) {
	if int(node) >= len(g.vectors) {
		return nil, false
	}
	return g.vectors[node], true
}

// ID returns the external id of node.
func (g *Graph) ID(node uint32) (string, bool) {
	if int(node) >= len(g.ids) {
		return "", false
	}
	return g.ids[node], true
}

// Lookup returns the node index for an external id.
func (g *Graph) Lookup(id string) (uint32, bool) {
	node, ok := g.idIndex[id]
	return node, ok
}

// Code returns the compressed code of node, nil if the node has none.
// A node either has no code or a complete one; there is no half-compressed
// state.
func (g *Graph) Code(node uint32) []byte {
	if int(node) >= len(g.codes) {
		return nil
	}
	return g.codes[node]
}

// SetCode attaches a complete compressed code to node.
func (g *Graph) SetCode(node uint32, code []byte) error {
	if int(node) >= len(g.codes) {
		return ErrNodeNotFound
	}
	g.codes[node] = code
	return nil
}

// Validate checks the degree-bound invariant across all nodes. It returns
// ErrCorruptState on violation and is intended for tests and recovery.
func (g *Graph) Validate() error {
	for node, nbrs := range g.neighbors {
		if len(nbrs) > g.maxDegree {
			return fmt.Errorf("%w: node %d has degree %d > %d", ErrCorruptState, node, len(nbrs), g.maxDegree)
		}
		for _, n := range nbrs {
			if int(n) >= len(g.vectors) {
				return fmt.Errorf("%w: node %d references missing node %d", ErrCorruptState, node, n)
			}
		}
	}
	return nil
}

// AvgDegree returns the mean out-degree across all nodes.
func (g *Graph) AvgDegree() float64 {
	if len(g.neighbors) == 0 {
		return 0
	}
	var total int
	for _, nbrs := range g.neighbors {
		total += len(nbrs)
	}
	return float64(total) / float64(len(g.neighbors))
}

// MemoryEstimate returns an estimate of graph memory usage in bytes.
func (g *Graph) MemoryEstimate() int64 {
	var bytes int64
	for i := range g.vectors {
		bytes += int64(len(g.vectors[i]))*4 + int64(len(g.codes[i]))
		bytes += int64(cap(g.neighbors[i])) * 4
		bytes += int64(len(g.ids[i])) + 16
	}
	return bytes
}
