package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_UnitLength(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(v[1]), 1e-6)
}

func TestNormalize_ZeroVector(t *testing.T) {
	v := Normalize([]float32{0, 0, 0})
	assert.Equal(t, []float32{0, 0, 0}, v)
}

func TestCosineDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, 2},
		{"mismatched dims", []float32{1, 0}, []float32{1}, 2},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineDistance(tt.a, tt.b), 1e-9)
		})
	}
}

func TestCentroid_RenormalizedMean(t *testing.T) {
	got := Centroid([][]float32{{1, 0}, {0, 1}})
	require.Len(t, got, 2)

	// Mean is (0.5, 0.5); renormalized to (1/sqrt2, 1/sqrt2).
	want := float32(1 / math.Sqrt2)
	assert.InDelta(t, want, got[0], 1e-6)
	assert.InDelta(t, want, got[1], 1e-6)

	var norm float64
	for _, x := range got {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, norm, 1e-6)
}

func TestCentroid_SingleMemberEqualsOwnEmbedding(t *testing.T) {
	v := Normalize([]float32{2, 1, 2})
	got := Centroid([][]float32{v})
	for i := range v {
		assert.InDelta(t, v[i], got[i], 1e-6)
	}
}

func TestCentroid_Empty(t *testing.T) {
	assert.Nil(t, Centroid(nil))
}
