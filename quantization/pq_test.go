package quantization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-db/vango/internal/math32"
	"github.com/vango-db/vango/testutil"
)

// clusteredVectors draws vectors around a handful of centers so the
// codebooks have real structure to capture.
func clusteredVectors(seed int64, n, dim int) [][]float32 {
	rng := testutil.NewRand(seed)
	centers := testutil.RandomVectors(rng, 8, dim)

	out := make([][]float32, n)
	for i := range out {
		center := centers[rng.Intn(len(centers))]
		vec := make([]float32, dim)
		for d := range vec {
			vec[d] = center[d] + (rng.Float32()-0.5)*0.1
		}
		out[i] = vec
	}
	return out
}

func newTrained(t *testing.T, dim, m, k int, vectors [][]float32) *ProductQuantizer {
	t.Helper()
	pq, err := New(dim, Config{NumSubvectors: m, NumCentroids: k, Seed: 1})
	require.NoError(t, err)
	require.NoError(t, pq.Train(vectors))
	return pq
}

func TestNewValidation(t *testing.T) {
	t.Run("InvalidDimension", func(t *testing.T) {
		_, err := New(0, Config{})
		require.Error(t, err)
	})

	t.Run("IndivisibleSubvectors", func(t *testing.T) {
		_, err := New(10, Config{NumSubvectors: 3})
		require.Error(t, err)
	})

	t.Run("TooManyCentroids", func(t *testing.T) {
		_, err := New(16, Config{NumSubvectors: 4, NumCentroids: 300})
		require.Error(t, err)
	})

	t.Run("AutoSubvectors", func(t *testing.T) {
		pq, err := New(128, Config{})
		require.NoError(t, err)
		assert.Equal(t, 16, pq.NumSubvectors())
		assert.Zero(t, 128%pq.NumSubvectors())
	})
}

func TestTrain(t *testing.T) {
	const dim = 16
	vectors := clusteredVectors(1, 200, dim)

	t.Run("InsufficientData", func(t *testing.T) {
		pq, err := New(dim, Config{NumSubvectors: 4, NumCentroids: 16})
		require.NoError(t, err)

		err = pq.Train(vectors[:4])
		assert.ErrorIs(t, err, ErrInsufficientTrainingData)
		assert.False(t, pq.IsTrained())
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		pq, err := New(dim, Config{NumSubvectors: 4, NumCentroids: 16})
		require.NoError(t, err)

		bad := make([][]float32, 32)
		for i := range bad {
			bad[i] = make([]float32, dim+1)
		}
		require.Error(t, pq.Train(bad))
	})

	t.Run("Idempotent", func(t *testing.T) {
		pq := newTrained(t, dim, 4, 16, vectors)
		before := pq.Codebooks()

		// A second Train is a no-op even with different data.
		require.NoError(t, pq.Train(clusteredVectors(2, 100, dim)))
		assert.Equal(t, before, pq.Codebooks())
	})

	t.Run("Reset", func(t *testing.T) {
		pq := newTrained(t, dim, 4, 16, vectors)
		pq.Reset()
		assert.False(t, pq.IsTrained())
		assert.Nil(t, pq.Codebooks())

		_, err := pq.Encode(vectors[0])
		assert.ErrorIs(t, err, ErrNotTrained)
	})
}

func TestOperationsBeforeTraining(t *testing.T) {
	pq, err := New(16, Config{NumSubvectors: 4, NumCentroids: 16})
	require.NoError(t, err)

	vec := make([]float32, 16)
	code := make([]byte, 4)

	_, err = pq.Encode(vec)
	assert.ErrorIs(t, err, ErrNotTrained)
	_, err = pq.Decode(code)
	assert.ErrorIs(t, err, ErrNotTrained)
	_, err = pq.AsymmetricDistance(vec, code)
	assert.ErrorIs(t, err, ErrNotTrained)
	_, err = pq.SymmetricDistance(code, code)
	assert.ErrorIs(t, err, ErrNotTrained)
	_, err = pq.BuildDistanceTable(vec)
	assert.ErrorIs(t, err, ErrNotTrained)
}

func TestEncodeDecode(t *testing.T) {
	const dim = 16
	vectors := clusteredVectors(3, 300, dim)
	pq := newTrained(t, dim, 4, 32, vectors)

	code, err := pq.Encode(vectors[0])
	require.NoError(t, err)
	assert.Len(t, code, 4)
	assert.Equal(t, 4, pq.BytesPerVector())

	reconstructed, err := pq.Decode(code)
	require.NoError(t, err)
	require.Len(t, reconstructed, dim)

	// Clustered data with tight noise reconstructs closely.
	mse := math32.SquaredL2(vectors[0], reconstructed) / float32(dim)
	assert.Less(t, mse, float32(0.05), "reconstruction MSE %f", mse)

	t.Run("WrongShapes", func(t *testing.T) {
		_, err := pq.Encode(make([]float32, dim+1))
		require.Error(t, err)
		_, err = pq.Decode(make([]byte, 3))
		require.Error(t, err)
	})
}

func TestDistanceApproximation(t *testing.T) {
	const dim = 16
	vectors := clusteredVectors(4, 400, dim)
	pq := newTrained(t, dim, 4, 32, vectors)

	query := vectors[0]

	var exactSum, errSum float64
	for _, vec := range vectors[1:51] {
		code, err := pq.Encode(vec)
		require.NoError(t, err)

		adc, err := pq.AsymmetricDistance(query, code)
		require.NoError(t, err)

		exact := math32.SquaredL2(query, vec)
		exactSum += float64(exact)
		diff := float64(adc - exact)
		if diff < 0 {
			diff = -diff
		}
		errSum += diff
	}

	// The approximation error stays well below the distances themselves.
	assert.Less(t, errSum, exactSum*0.5, "err %f vs exact %f", errSum, exactSum)
}

func TestDistanceTableMatchesADC(t *testing.T) {
	const dim = 16
	vectors := clusteredVectors(5, 200, dim)
	pq := newTrained(t, dim, 4, 16, vectors)

	query := vectors[10]
	table, err := pq.BuildDistanceTable(query)
	require.NoError(t, err)
	require.Len(t, table, 4*16)

	for i := 0; i < 20; i++ {
		code, err := pq.Encode(vectors[i])
		require.NoError(t, err)

		direct, err := pq.AsymmetricDistance(query, code)
		require.NoError(t, err)
		assert.InDelta(t, direct, pq.ADCLookup(table, code), 1e-4, "vector %d", i)
	}
}

func TestSymmetricDistance(t *testing.T) {
	const dim = 16
	vectors := clusteredVectors(6, 200, dim)
	pq := newTrained(t, dim, 4, 16, vectors)

	a, err := pq.Encode(vectors[0])
	require.NoError(t, err)
	b, err := pq.Encode(vectors[1])
	require.NoError(t, err)

	same, err := pq.SymmetricDistance(a, a)
	require.NoError(t, err)
	assert.Zero(t, same)

	d, err := pq.SymmetricDistance(a, b)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, d, float32(0))
}

func TestTrainDeterministicWithSeed(t *testing.T) {
	const dim = 16
	vectors := clusteredVectors(7, 200, dim)

	build := func() *ProductQuantizer {
		pq, err := New(dim, Config{NumSubvectors: 4, NumCentroids: 16, Seed: 42})
		require.NoError(t, err)
		require.NoError(t, pq.Train(vectors))
		return pq
	}

	assert.Equal(t, build().Codebooks(), build().Codebooks())
}

func TestSetCodebooks(t *testing.T) {
	const dim = 16
	vectors := clusteredVectors(8, 200, dim)
	trained := newTrained(t, dim, 4, 16, vectors)

	restored, err := New(dim, Config{NumSubvectors: 4, NumCentroids: 16})
	require.NoError(t, err)
	require.NoError(t, restored.SetCodebooks(trained.Codebooks()))
	require.True(t, restored.IsTrained())

	for i := 0; i < 10; i++ {
		want, err := trained.Encode(vectors[i])
		require.NoError(t, err)
		got, err := restored.Encode(vectors[i])
		require.NoError(t, err)
		assert.Equal(t, want, got, "vector %d", i)
	}

	t.Run("WrongShape", func(t *testing.T) {
		other, err := New(dim, Config{NumSubvectors: 8})
		require.NoError(t, err)
		require.Error(t, other.SetCodebooks(trained.Codebooks()))
	})
}

func TestCompressionRatio(t *testing.T) {
	pq, err := New(128, Config{NumSubvectors: 16})
	require.NoError(t, err)
	assert.InDelta(t, 32.0, pq.CompressionRatio(), 1e-9)
	assert.Equal(t, 16, pq.BytesPerVector())
}
