// Package quantization provides lossy product-style vector compression.
//
// A ProductQuantizer splits vectors into M equal-length subvectors and
// quantizes each independently against a trained codebook, shrinking a
// D-dimensional float32 vector to a fixed M-byte code.
package quantization

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/vango-db/vango/internal/kmeans"
	"github.com/vango-db/vango/internal/math32"
)

const (
	// DefaultTrainIterations bounds the k-means iteration count per codebook.
	DefaultTrainIterations = 20
	// DefaultMinTrainingVectors is the minimum sample count required by Train.
	DefaultMinTrainingVectors = 16
)

var (
	// ErrNotTrained is returned when a compression operation is requested
	// before training has completed.
	ErrNotTrained = errors.New("quantization: not trained")

	// ErrInsufficientTrainingData is returned when Train receives fewer
	// samples than the configured minimum.
	ErrInsufficientTrainingData = errors.New("quantization: insufficient training data")
)

// Config configures a ProductQuantizer.
type Config struct {
	// NumSubvectors is M, the number of independent codebooks.
	// Must divide the vector dimension.
	NumSubvectors int
	// NumCentroids is K, the codebook size (<= 256 for one-byte codes).
	NumCentroids int
	// MinTrainingVectors overrides DefaultMinTrainingVectors when > 0.
	MinTrainingVectors int
	// TrainIterations overrides DefaultTrainIterations when > 0.
	TrainIterations int
	// Seed makes codebook training deterministic when non-zero.
	Seed int64
}

// ProductQuantizer trains and applies product quantization. It is safe for
// concurrent use; training transitions the quantizer exactly once until
// Reset. All operations fail with ErrNotTrained before training so callers
// can fall back to full precision instead of silently corrupting data.
type ProductQuantizer struct {
	mu            sync.RWMutex
	dimension     int
	numSubvectors int
	numCentroids  int
	subvectorDim  int
	minTraining   int
	iterations    int
	seed          int64
	codebooks     [][][]float32 // [M][K][subvectorDim]
	trained       bool
}

// New creates a ProductQuantizer for vectors of the given dimension.
func New(dimension int, cfg Config) (*ProductQuantizer, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("quantization: invalid dimension %d", dimension)
	}
	if cfg.NumSubvectors <= 0 {
		cfg.NumSubvectors = defaultSubvectors(dimension)
	}
	if dimension%cfg.NumSubvectors != 0 {
		return nil, fmt.Errorf("quantization: dimension %d not divisible by %d subvectors", dimension, cfg.NumSubvectors)
	}
	if cfg.NumCentroids <= 0 {
		cfg.NumCentroids = 256
	}
	if cfg.NumCentroids > 256 {
		return nil, errors.New("quantization: numCentroids must be <= 256 for uint8 codes")
	}
	if cfg.MinTrainingVectors <= 0 {
		cfg.MinTrainingVectors = DefaultMinTrainingVectors
	}
	if cfg.TrainIterations <= 0 {
		cfg.TrainIterations = DefaultTrainIterations
	}

	return &ProductQuantizer{
		dimension:     dimension,
		numSubvectors: cfg.NumSubvectors,
		numCentroids:  cfg.NumCentroids,
		subvectorDim:  dimension / cfg.NumSubvectors,
		minTraining:   cfg.MinTrainingVectors,
		iterations:    cfg.TrainIterations,
		seed:          cfg.Seed,
	}, nil
}

// defaultSubvectors picks the largest M <= 16 dividing dim, falling back to 1.
func defaultSubvectors(dim int) int {
	for m := 16; m > 1; m-- {
		if dim%m == 0 {
			return m
		}
	}
	return 1
}

// Train builds M codebooks from the sample via bounded k-means. Training is
// a one-time transition: once trained, further calls are no-ops until Reset.
func (pq *ProductQuantizer) Train(vectors [][]float32) error {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if pq.trained {
		return nil
	}

	if len(vectors) < pq.minTraining {
		return fmt.Errorf("%w: got %d vectors, need %d", ErrInsufficientTrainingData, len(vectors), pq.minTraining)
	}
	for _, vec := range vectors {
		if len(vec) != pq.dimension {
			return fmt.Errorf("quantization: training vector dimension %d, want %d", len(vec), pq.dimension)
		}
	}

	var rng *rand.Rand
	if pq.seed != 0 {
		rng = rand.New(rand.NewSource(pq.seed))
	}

	codebooks := make([][][]float32, pq.numSubvectors)
	subvectors := make([][]float32, len(vectors))
	for m := 0; m < pq.numSubvectors; m++ {
		start := m * pq.subvectorDim
		end := start + pq.subvectorDim
		for i, vec := range vectors {
			subvectors[i] = vec[start:end]
		}

		centroids, err := kmeans.Train(subvectors, pq.numCentroids, pq.iterations, rng)
		if err != nil {
			return fmt.Errorf("quantization: codebook %d: %w", m, err)
		}
		codebooks[m] = centroids
	}

	pq.codebooks = codebooks
	pq.trained = true
	return nil
}

// IsTrained reports whether training has completed.
func (pq *ProductQuantizer) IsTrained() bool {
	pq.mu.RLock()
	defer pq.mu.RUnlock()
	return pq.trained
}

// Reset discards all trained state so Train may run again.
func (pq *ProductQuantizer) Reset() {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	pq.codebooks = nil
	pq.trained = false
}

// Encode quantizes a vector into an owned M-byte code.
func (pq *ProductQuantizer) Encode(vec []float32) ([]byte, error) {
	pq.mu.RLock()
	defer pq.mu.RUnlock()

	if !pq.trained {
		return nil, ErrNotTrained
	}
	if len(vec) != pq.dimension {
		return nil, fmt.Errorf("quantization: vector dimension %d, want %d", len(vec), pq.dimension)
	}

	codes := make([]byte, pq.numSubvectors)
	for m := 0; m < pq.numSubvectors; m++ {
		start := m * pq.subvectorDim
		sub := vec[start : start+pq.subvectorDim]
		codes[m] = uint8(kmeans.NearestCentroid(sub, pq.codebooks[m]))
	}

	return codes, nil
}

// Decode reconstructs an approximate vector from a code.
func (pq *ProductQuantizer) Decode(codes []byte) ([]float32, error) {
	pq.mu.RLock()
	defer pq.mu.RUnlock()

	if !pq.trained {
		return nil, ErrNotTrained
	}
	if len(codes) != pq.numSubvectors {
		return nil, fmt.Errorf("quantization: code length %d, want %d", len(codes), pq.numSubvectors)
	}

	out := make([]float32, pq.dimension)
	for m, c := range codes {
		start := m * pq.subvectorDim
		copy(out[start:start+pq.subvectorDim], pq.codebooks[m][c])
	}

	return out, nil
}

// AsymmetricDistance computes the approximate squared distance between a
// full-precision query and a quantized vector (ADC).
func (pq *ProductQuantizer) AsymmetricDistance(query []float32, codes []byte) (float32, error) {
	pq.mu.RLock()
	defer pq.mu.RUnlock()

	if !pq.trained {
		return 0, ErrNotTrained
	}
	if len(query) != pq.dimension || len(codes) != pq.numSubvectors {
		return 0, fmt.Errorf("quantization: query/code shape mismatch")
	}

	var dist float32
	for m, c := range codes {
		start := m * pq.subvectorDim
		dist += math32.SquaredL2(query[start:start+pq.subvectorDim], pq.codebooks[m][c])
	}

	return dist, nil
}

// SymmetricDistance computes the approximate squared distance between two
// quantized vectors via codebook lookup.
func (pq *ProductQuantizer) SymmetricDistance(a, b []byte) (float32, error) {
	pq.mu.RLock()
	defer pq.mu.RUnlock()

	if !pq.trained {
		return 0, ErrNotTrained
	}
	if len(a) != pq.numSubvectors || len(b) != pq.numSubvectors {
		return 0, fmt.Errorf("quantization: code length mismatch")
	}

	var dist float32
	for m := range a {
		dist += math32.SquaredL2(pq.codebooks[m][a[m]], pq.codebooks[m][b[m]])
	}

	return dist, nil
}

// BuildDistanceTable precomputes squared distances from a query to every
// centroid. The flattened table has size M*K; use ADCLookup on the hot path.
func (pq *ProductQuantizer) BuildDistanceTable(query []float32) ([]float32, error) {
	pq.mu.RLock()
	defer pq.mu.RUnlock()

	if !pq.trained {
		return nil, ErrNotTrained
	}
	if len(query) != pq.dimension {
		return nil, fmt.Errorf("quantization: query dimension %d, want %d", len(query), pq.dimension)
	}

	table := make([]float32, pq.numSubvectors*pq.numCentroids)
	for m := 0; m < pq.numSubvectors; m++ {
		start := m * pq.subvectorDim
		sub := query[start : start+pq.subvectorDim]
		for k := 0; k < pq.numCentroids; k++ {
			table[m*pq.numCentroids+k] = math32.SquaredL2(sub, pq.codebooks[m][k])
		}
	}

	return table, nil
}

// ADCLookup sums precomputed table entries for the given codes.
func (pq *ProductQuantizer) ADCLookup(table []float32, codes []byte) float32 {
	return math32.PqAdcLookup(table, codes, pq.numCentroids)
}

// BytesPerVector returns the compressed footprint per vector.
func (pq *ProductQuantizer) BytesPerVector() int { return pq.numSubvectors }

// NumSubvectors returns M.
func (pq *ProductQuantizer) NumSubvectors() int { return pq.numSubvectors }

// NumCentroids returns K.
func (pq *ProductQuantizer) NumCentroids() int { return pq.numCentroids }

// CompressionRatio returns the theoretical float32-to-code size ratio.
func (pq *ProductQuantizer) CompressionRatio() float64 {
	return float64(pq.dimension*4) / float64(pq.numSubvectors)
}

// Codebooks returns the trained codebooks ([M][K][subvectorDim]), or nil
// before training. Intended for snapshot persistence.
func (pq *ProductQuantizer) Codebooks() [][][]float32 {
	pq.mu.RLock()
	defer pq.mu.RUnlock()
	return pq.codebooks
}

// SetCodebooks installs codebooks directly (snapshot recovery) and marks the
// quantizer trained.
func (pq *ProductQuantizer) SetCodebooks(codebooks [][][]float32) error {
	if len(codebooks) != pq.numSubvectors {
		return fmt.Errorf("quantization: got %d codebooks, want %d", len(codebooks), pq.numSubvectors)
	}
	pq.mu.Lock()
	defer pq.mu.Unlock()
	pq.codebooks = codebooks
	pq.trained = true
	return nil
}
