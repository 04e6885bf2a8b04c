package kmeans

import (
	"errors"
	"math/rand"
	"testing"
)

func TestTrainSeparatesClusters(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	// Two tight clusters around (0,0) and (10,10).
	vectors := make([][]float32, 0, 200)
	for i := 0; i < 100; i++ {
		vectors = append(vectors, []float32{rng.Float32() * 0.1, rng.Float32() * 0.1})
		vectors = append(vectors, []float32{10 + rng.Float32()*0.1, 10 + rng.Float32()*0.1})
	}

	centroids, err := Train(vectors, 2, 25, rng)
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if len(centroids) != 2 {
		t.Fatalf("got %d centroids, want 2", len(centroids))
	}

	// One centroid near each cluster mean.
	var nearLow, nearHigh bool
	for _, c := range centroids {
		if c[0] < 1 && c[1] < 1 {
			nearLow = true
		}
		if c[0] > 9 && c[1] > 9 {
			nearHigh = true
		}
	}
	if !nearLow || !nearHigh {
		t.Errorf("centroids %v do not straddle the clusters", centroids)
	}
}

func TestTrainNoVectors(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	if _, err := Train(nil, 4, 10, rng); !errors.Is(err, ErrNoVectors) {
		t.Fatalf("got %v, want ErrNoVectors", err)
	}
}

func TestTrainFewerVectorsThanK(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	vectors := [][]float32{{1, 2}, {3, 4}}

	centroids, err := Train(vectors, 5, 10, rng)
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if len(centroids) != 5 {
		t.Fatalf("got %d centroids, want 5", len(centroids))
	}
	for i, c := range centroids {
		if len(c) != 2 {
			t.Errorf("centroid %d has dimension %d, want 2", i, len(c))
		}
	}
}

func TestNearestCentroid(t *testing.T) {
	centroids := [][]float32{{0, 0}, {10, 0}, {0, 10}}

	cases := []struct {
		vec  []float32
		want int
	}{
		{[]float32{1, 1}, 0},
		{[]float32{9, 1}, 1},
		{[]float32{1, 9}, 2},
	}
	for _, c := range cases {
		if got := NearestCentroid(c.vec, centroids); got != c.want {
			t.Errorf("NearestCentroid(%v) = %d, want %d", c.vec, got, c.want)
		}
	}
}

func TestTrainDeterministicWithSeed(t *testing.T) {
	vectors := make([][]float32, 50)
	gen := rand.New(rand.NewSource(7))
	for i := range vectors {
		vectors[i] = []float32{gen.Float32(), gen.Float32(), gen.Float32()}
	}

	a, err := Train(vectors, 4, 15, rand.New(rand.NewSource(99)))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Train(vectors, 4, 15, rand.New(rand.NewSource(99)))
	if err != nil {
		t.Fatal(err)
	}

	for i := range a {
		for d := range a[i] {
			if a[i][d] != b[i][d] {
				t.Fatalf("centroid %d differs across identical seeds", i)
			}
		}
	}
}
