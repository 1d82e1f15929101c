package vector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSquaredL2(t *testing.T) {
	t.Run("identical vectors", func(t *testing.T) {
		a := []float32{1.0, 2.0, 3.0}
		assert.Equal(t, 0.0, SquaredL2(a, a))
	})

	t.Run("orthogonal unit vectors", func(t *testing.T) {
		a := []float32{1.0, 0.0}
		b := []float32{0.0, 1.0}
		assert.InDelta(t, 2.0, SquaredL2(a, b), 1e-9)
	})

	t.Run("mismatched lengths are infinitely far", func(t *testing.T) {
		assert.True(t, math.IsInf(SquaredL2([]float32{1}, []float32{1, 2}), 1))
	})
}

func TestSimilarity(t *testing.T) {
	t.Run("zero distance is similarity 1", func(t *testing.T) {
		assert.Equal(t, 1.0, Similarity(0))
	})

	t.Run("monotonically decreasing", func(t *testing.T) {
		prev := Similarity(0)
		for _, d := range []float64{0.1, 0.5, 1, 2, 10, 100} {
			cur := Similarity(d)
			assert.Less(t, cur, prev)
			prev = cur
		}
	})

	t.Run("unit-vector opposite ends", func(t *testing.T) {
		// Opposite unit vectors have squared L2 distance 4.
		assert.InDelta(t, 0.2, Similarity(4), 1e-9)
	})
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float64
		delta    float64
	}{
		{
			name:     "identical vectors",
			a:        []float32{1.0, 2.0, 3.0},
			b:        []float32{1.0, 2.0, 3.0},
			expected: 1.0,
			delta:    1e-9,
		},
		{
			name:     "orthogonal vectors",
			a:        []float32{1.0, 0.0},
			b:        []float32{0.0, 1.0},
			expected: 0.0,
			delta:    1e-9,
		},
		{
			name:     "opposite vectors",
			a:        []float32{1.0, 0.0},
			b:        []float32{-1.0, 0.0},
			expected: -1.0,
			delta:    1e-9,
		},
		{
			name:     "known value",
			a:        []float32{1.0, 2.0, 3.0},
			b:        []float32{4.0, 5.0, 6.0},
			expected: 0.9746318461970762,
			delta:    1e-6,
		},
		{
			name:     "zero vector",
			a:        []float32{0.0, 0.0},
			b:        []float32{1.0, 1.0},
			expected: 0.0,
			delta:    1e-9,
		},
		{
			name:     "mismatched lengths",
			a:        []float32{1.0},
			b:        []float32{1.0, 2.0},
			expected: 0.0,
			delta:    1e-9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, CosineSimilarity(tt.a, tt.b), tt.delta)
		})
	}
}

func TestDotProduct(t *testing.T) {
	a := []float32{1.0, 2.0, 3.0}
	b := []float32{4.0, 5.0, 6.0}
	assert.InDelta(t, 32.0, DotProduct(a, b), 1e-9)

	t.Run("equals cosine for normalized inputs", func(t *testing.T) {
		na := Normalize(a)
		nb := Normalize(b)
		assert.InDelta(t, CosineSimilarity(a, b), DotProduct(na, nb), 1e-6)
	})
}

func TestNormalize(t *testing.T) {
	t.Run("produces unit length", func(t *testing.T) {
		v := Normalize([]float32{3.0, 4.0})
		assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
		assert.InDelta(t, 0.8, float64(v[1]), 1e-6)
	})

	t.Run("does not modify input", func(t *testing.T) {
		original := []float32{3.0, 4.0}
		Normalize(original)
		assert.Equal(t, []float32{3.0, 4.0}, original)
	})

	t.Run("zero vector stays zero", func(t *testing.T) {
		v := Normalize([]float32{0.0, 0.0, 0.0})
		assert.Equal(t, []float32{0.0, 0.0, 0.0}, v)
	})
}

func TestNormalizeInPlace(t *testing.T) {
	v := []float32{3.0, 4.0}
	NormalizeInPlace(v)
	assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(v[1]), 1e-6)

	zero := []float32{0, 0}
	NormalizeInPlace(zero)
	assert.Equal(t, []float32{0, 0}, zero)
}

func TestIsFinite(t *testing.T) {
	assert.True(t, IsFinite([]float32{1, 2, 3}))
	assert.False(t, IsFinite([]float32{1, float32(math.NaN())}))
	assert.False(t, IsFinite([]float32{float32(math.Inf(1))}))
	assert.True(t, IsFinite(nil))
}
