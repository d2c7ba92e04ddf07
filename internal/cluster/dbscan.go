package cluster

import "math"

const noiseLabel = -1

// dbscan labels each point with a cluster id, or noiseLabel for points in no
// dense region. Clusters need at least minPts members within eps (euclidean).
// Plain quadratic neighborhood queries: the point count is window-bounded.
func dbscan(points [][]float64, eps float64, minPts int) []int {
	n := len(points)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = noiseLabel
	}
	visited := make([]bool, n)

	cluster := 0
	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		visited[i] = true

		seeds := regionQuery(points, i, eps)
		if len(seeds) < minPts {
			continue
		}

		labels[i] = cluster
		for qi := 0; qi < len(seeds); qi++ {
			q := seeds[qi]
			if labels[q] == noiseLabel {
				labels[q] = cluster
			}
			if visited[q] {
				continue
			}
			visited[q] = true
			qSeeds := regionQuery(points, q, eps)
			if len(qSeeds) >= minPts {
				seeds = append(seeds, qSeeds...)
			}
		}
		cluster++
	}
	return labels
}

func regionQuery(points [][]float64, i int, eps float64) []int {
	var out []int
	for j := range points {
		if euclidean(points[i], points[j]) <= eps {
			out = append(out, j)
		}
	}
	return out
}

func euclidean(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
