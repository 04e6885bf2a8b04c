// Package testutil provides shared helpers for tests: seeded random
// vectors and a brute-force reference search to validate recall.
package testutil

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/vango-db/vango/distance"
)

// NewRand returns a reproducible random source.
func NewRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// RandomVector fills a fresh vector with values in [-1, 1).
func RandomVector(rng *rand.Rand, dim int) []float32 {
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = rng.Float32()*2 - 1
	}
	return vec
}

// RandomVectors generates n random vectors.
func RandomVectors(rng *rand.Rand, n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		out[i] = RandomVector(rng, dim)
	}
	return out
}

// IDs generates n ids with the given prefix: prefix-0, prefix-1, ...
func IDs(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s-%d", prefix, i)
	}
	return out
}

// Neighbor is one brute-force hit.
type Neighbor struct {
	Index    int
	Distance float32
}

// BruteForce returns the k nearest vectors to query by exhaustive scan,
// using the same distance convention as the engine (smaller is closer).
func BruteForce(query []float32, vectors [][]float32, k int, metric distance.Metric) []Neighbor {
	distFunc, err := distance.Provider(metric)
	if err != nil {
		panic(err)
	}
	out := make([]Neighbor, 0, len(vectors))
	for i, vec := range vectors {
		out = append(out, Neighbor{Index: i, Distance: distFunc(query, vec)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Index < out[j].Index
	})
	if k < len(out) {
		out = out[:k]
	}
	return out
}

// Recall computes |expected ∩ got| / |expected| over id sets.
func Recall(expected, got []string) float64 {
	if len(expected) == 0 {
		return 1
	}
	set := make(map[string]struct{}, len(expected))
	for _, id := range expected {
		set[id] = struct{}{}
	}
	hits := 0
	for _, id := range got {
		if _, ok := set[id]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(expected))
}
