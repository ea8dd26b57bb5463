// Package vecmath provides the small set of vector operations the
// pipeline needs: cosine similarity for candidate matching and arithmetic
// mean for cluster centroids.
package vecmath

import "math"

// Dot returns the dot product of a and b. Mismatched lengths are treated
// as zero-padded, which yields the product over the shorter prefix.
func Dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Norm returns the Euclidean norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Cosine returns the cosine similarity of a and b in [-1, 1].
// A zero vector on either side yields 0.
func Cosine(a, b []float32) float64 {
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return Dot(a, b) / (na * nb)
}

// CosineDistance returns 1 - Cosine(a, b), a pseudo-metric in [0, 2].
func CosineDistance(a, b []float32) float64 {
	return 1 - Cosine(a, b)
}

// Normalize returns a unit-length copy of v. A zero vector is returned
// unchanged.
func Normalize(v []float32) []float32 {
	n := Norm(v)
	out := make([]float32, len(v))
	if n == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

// WeightedMean returns (wa*a + wb*b) / (wa + wb) over the length of a.
// Non-positive total weight falls back to the plain mean.
func WeightedMean(a []float32, wa float64, b []float32, wb float64) []float32 {
	if wa+wb <= 0 {
		wa, wb = 1, 1
	}
	total := wa + wb
	out := make([]float32, len(a))
	for i := range a {
		var bv float64
		if i < len(b) {
			bv = float64(b[i])
		}
		out[i] = float32((wa*float64(a[i]) + wb*bv) / total)
	}
	return out
}

// Centroid returns the arithmetic mean of the given vectors. All vectors
// must share the length of the first; shorter vectors contribute zeros in
// their missing dimensions. Returns nil for an empty input.
func Centroid(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	dim := len(vecs[0])
	sum := make([]float64, dim)
	for _, v := range vecs {
		for i := 0; i < dim && i < len(v); i++ {
			sum[i] += float64(v[i])
		}
	}
	out := make([]float32, dim)
	for i := range sum {
		out[i] = float32(sum[i] / float64(len(vecs)))
	}
	return out
}
