// Package kmeans implements bounded-iteration Lloyd's clustering with
// k-means++ seeding. It backs product-quantizer codebook training.
package kmeans

import (
	"errors"
	"math"
	"math/rand"

	"github.com/vango-db/vango/internal/math32"
)

// ErrNoVectors is returned when Train is called without data.
var ErrNoVectors = errors.New("kmeans: no vectors provided")

// Train clusters vectors into k centroids using Lloyd's algorithm with
// k-means++ seeding and at most maxIter iterations. If fewer than k vectors
// are provided, centroids are filled by cycling the inputs.
// rng may be nil, in which case the global source is used.
func Train(vectors [][]float32, k, maxIter int, rng *rand.Rand) ([][]float32, error) {
	if len(vectors) == 0 {
		return nil, ErrNoVectors
	}

	dim := len(vectors[0])

	if len(vectors) < k {
		centroids := make([][]float32, k)
		for i := range centroids {
			centroids[i] = make([]float32, dim)
			copy(centroids[i], vectors[i%len(vectors)])
		}
		return centroids, nil
	}

	centroids := seedPlusPlus(vectors, k, dim, rng)

	assignments := make([]int, len(vectors))
	counts := make([]int, k)
	sums := make([]float32, k*dim)

	for iter := 0; iter < maxIter; iter++ {
		changed := false

		// Assignment step
		for i, vec := range vectors {
			best := NearestCentroid(vec, centroids)
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}

		if !changed && iter > 0 {
			break
		}

		// Update step
		for i := range sums {
			sums[i] = 0
		}
		for i := range counts {
			counts[i] = 0
		}

		for i, vec := range vectors {
			cluster := assignments[i]
			counts[cluster]++
			sum := sums[cluster*dim : (cluster+1)*dim]
			for d, val := range vec {
				sum[d] += val
			}
		}

		for j := 0; j < k; j++ {
			if counts[j] > 0 {
				scale := 1.0 / float32(counts[j])
				for d := 0; d < dim; d++ {
					centroids[j][d] = sums[j*dim+d] * scale
				}
			} else {
				// Re-seed empty cluster with a random point.
				idx := intn(rng, len(vectors))
				copy(centroids[j], vectors[idx])
			}
		}
	}

	return centroids, nil
}

// NearestCentroid returns the index of the centroid closest to vec under
// squared L2 distance.
func NearestCentroid(vec []float32, centroids [][]float32) int {
	minDist := float32(math.MaxFloat32)
	nearest := 0

	for i, centroid := range centroids {
		dist := math32.SquaredL2(vec, centroid)
		if dist < minDist {
			minDist = dist
			nearest = i
		}
	}

	return nearest
}

// seedPlusPlus picks k initial centroids with probability proportional to
// squared distance from already-chosen centroids.
func seedPlusPlus(vectors [][]float32, k, dim int, rng *rand.Rand) [][]float32 {
	centroids := make([][]float32, k)
	for i := range centroids {
		centroids[i] = make([]float32, dim)
	}

	copy(centroids[0], vectors[intn(rng, len(vectors))])

	minDistSq := make([]float32, len(vectors))
	var sum float32
	for i, vec := range vectors {
		d := math32.SquaredL2(vec, centroids[0])
		minDistSq[i] = d
		sum += d
	}

	for c := 1; c < k; c++ {
		if sum == 0 {
			copy(centroids[c], vectors[intn(rng, len(vectors))])
			continue
		}

		target := float32n(rng) * sum
		var cumsum float32
		chosen := 0
		for i, d := range minDistSq {
			cumsum += d
			if cumsum >= target {
				chosen = i
				break
			}
		}
		copy(centroids[c], vectors[chosen])

		sum = 0
		for i, vec := range vectors {
			d := math32.SquaredL2(vec, centroids[c])
			if d < minDistSq[i] {
				minDistSq[i] = d
			}
			sum += minDistSq[i]
		}
	}

	return centroids
}

func intn(rng *rand.Rand, n int) int {
	if rng != nil {
		return rng.Intn(n)
	}
	return rand.Intn(n)
}

func float32n(rng *rand.Rand) float32 {
	if rng != nil {
		return rng.Float32()
	}
	return rand.Float32()
}
