package model

import "math"

// Normalize returns v scaled to unit L2 norm. A zero vector is returned
// unchanged since it cannot be normalized.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// CosineDistance returns 1 - cos(a, b). Range [0, 2]; 0 means identical
// direction. Mismatched lengths or zero vectors yield the maximum distance
// rather than an error so callers can treat them as "no match".
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// Centroid returns the re-normalized mean of the given vectors. Returns nil
// for an empty input or mismatched dimensionalities.
func Centroid(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	dims := len(vecs[0])
	sum := make([]float64, dims)
	for _, v := range vecs {
		if len(v) != dims {
			return nil
		}
		for i, x := range v {
			sum[i] += float64(x)
		}
	}
	mean := make([]float32, dims)
	for i, s := range sum {
		mean[i] = float32(s / float64(len(vecs)))
	}
	return Normalize(mean)
}
