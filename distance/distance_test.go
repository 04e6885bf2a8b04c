package distance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSquaredL2(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 6, 3}

	assert.InDelta(t, 25.0, SquaredL2(a, b), 1e-6)
	assert.Zero(t, SquaredL2(a, a))
}

func TestDot(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 5, 6}

	assert.InDelta(t, 32.0, Dot(a, b), 1e-6)
}

func TestCosine(t *testing.T) {
	t.Run("Identical", func(t *testing.T) {
		a := []float32{1, 2, 3}
		assert.InDelta(t, 0.0, Cosine(a, a), 1e-6)
	})

	t.Run("Orthogonal", func(t *testing.T) {
		a := []float32{1, 0}
		b := []float32{0, 1}
		assert.InDelta(t, 1.0, Cosine(a, b), 1e-6)
	})

	t.Run("Opposite", func(t *testing.T) {
		a := []float32{1, 0}
		b := []float32{-1, 0}
		assert.InDelta(t, 2.0, Cosine(a, b), 1e-6)
	})

	t.Run("ZeroNorm", func(t *testing.T) {
		a := []float32{0, 0}
		b := []float32{1, 2}
		assert.EqualValues(t, 1, Cosine(a, b))
	})
}

func TestNormalize(t *testing.T) {
	t.Run("InPlace", func(t *testing.T) {
		v := []float32{3, 4}
		require.True(t, NormalizeL2InPlace(v))
		assert.InDelta(t, 0.6, v[0], 1e-6)
		assert.InDelta(t, 0.8, v[1], 1e-6)
	})

	t.Run("ZeroVector", func(t *testing.T) {
		v := []float32{0, 0, 0}
		assert.False(t, NormalizeL2InPlace(v))
	})

	t.Run("CopyLeavesSource", func(t *testing.T) {
		src := []float32{3, 4}
		dst, ok := NormalizeL2Copy(src)
		require.True(t, ok)
		assert.Equal(t, []float32{3, 4}, src)
		assert.InDelta(t, 1.0, Dot(dst, dst), 1e-6)
	})
}

func TestProvider(t *testing.T) {
	t.Run("SmallerIsCloser", func(t *testing.T) {
		query := []float32{1, 0}
		near := []float32{0.9, 0.1}
		far := []float32{-1, 0}

		for _, metric := range []Metric{MetricL2, MetricCosine, MetricDot} {
			fn, err := Provider(metric)
			require.NoError(t, err)
			assert.Less(t, fn(query, near), fn(query, far), "metric %s", metric)
		}
	})

	t.Run("Unsupported", func(t *testing.T) {
		_, err := Provider(Metric(99))
		require.Error(t, err)
	})
}

func TestMetricString(t *testing.T) {
	assert.Equal(t, "L2", MetricL2.String())
	assert.Equal(t, "Cosine", MetricCosine.String())
	assert.Equal(t, "Dot", MetricDot.String())
}
