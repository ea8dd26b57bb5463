// Package cluster groups story records into topical clusters with
// density-based clustering over embedding space, classifies each new
// cluster against what is already persisted, and coordinates the
// resulting writes.
package cluster

import (
	"github.com/thebtf/newsflow/pkg/vecmath"
)

// Noise is the label for points no dense region claimed.
const Noise = -1

// DensityCluster labels vectors with a deterministic density scan over
// cosine distance. A point with at least minPts neighbors within eps
// (itself included) seeds a cluster; reachable dense points expand it;
// everything else is Noise. Scanning in input order with ordered
// neighbor expansion makes the labeling reproducible for a given input
// order.
func DensityCluster(vecs [][]float32, eps float64, minPts int) []int {
	n := len(vecs)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = Noise
	}
	if n == 0 || minPts <= 0 {
		return labels
	}

	visited := make([]bool, n)
	next := 0

	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		visited[i] = true

		neighbors := regionQuery(vecs, i, eps)
		if len(neighbors) < minPts {
			continue
		}

		label := next
		next++
		labels[i] = label

		// Ordered queue expansion; neighbors come back in index order.
		queue := neighbors
		for qi := 0; qi < len(queue); qi++ {
			j := queue[qi]
			if labels[j] == Noise {
				labels[j] = label
			}
			if visited[j] {
				continue
			}
			visited[j] = true
			jNeighbors := regionQuery(vecs, j, eps)
			if len(jNeighbors) >= minPts {
				queue = append(queue, jNeighbors...)
			}
		}
	}
	return labels
}

// regionQuery returns the indices within eps cosine distance of vecs[i],
// including i itself, in ascending index order.
func regionQuery(vecs [][]float32, i int, eps float64) []int {
	var out []int
	for j := range vecs {
		if vecmath.CosineDistance(vecs[i], vecs[j]) <= eps {
			out = append(out, j)
		}
	}
	return out
}
