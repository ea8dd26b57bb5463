package cluster

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// ring returns n unit vectors spread within maxAngle radians of base.
func ring(base float64, n int, maxAngle float64) [][]float32 {
	out := make([][]float32, n)
	for i := 0; i < n; i++ {
		a := base + maxAngle*float64(i)/float64(n)
		out[i] = []float32{float32(math.Cos(a)), float32(math.Sin(a))}
	}
	return out
}

func TestDensityClusterTwoGroups(t *testing.T) {
	// Two tight angular groups far apart; eps 0.35 cosine distance is
	// roughly 49 degrees.
	vecs := append(ring(0, 5, 0.2), ring(math.Pi/2, 5, 0.2)...)

	labels := DensityCluster(vecs, 0.05, 3)

	first := labels[0]
	second := labels[5]
	assert.NotEqual(t, Noise, first)
	assert.NotEqual(t, Noise, second)
	assert.NotEqual(t, first, second)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, labels[i])
		assert.Equal(t, second, labels[i+5])
	}
}

func TestDensityClusterNoise(t *testing.T) {
	vecs := ring(0, 5, 0.1)
	// Outlier far from the group.
	vecs = append(vecs, []float32{-1, 0})

	labels := DensityCluster(vecs, 0.05, 3)
	assert.Equal(t, Noise, labels[5])
}

func TestDensityClusterBelowMinPts(t *testing.T) {
	// Four points can never satisfy minPts=5.
	vecs := ring(0, 4, 0.01)
	labels := DensityCluster(vecs, 0.1, 5)
	for _, l := range labels {
		assert.Equal(t, Noise, l)
	}
}

func TestDensityClusterDeterministic(t *testing.T) {
	vecs := append(ring(0, 6, 0.3), ring(1.2, 6, 0.3)...)
	first := DensityCluster(vecs, 0.08, 3)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, DensityCluster(vecs, 0.08, 3))
	}
}

func TestDensityClusterEmpty(t *testing.T) {
	assert.Empty(t, DensityCluster(nil, 0.35, 5))
}
