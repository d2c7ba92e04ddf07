package cluster

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"

	"github.com/sells-group/sentinel/internal/model"
)

// spectralEmbed projects the vectors into a dims-dimensional space using the
// eigenvectors of the symmetric normalized Laplacian of a k-nearest-neighbor
// affinity graph. Dense eigendecomposition is fine here: n is bounded by the
// recluster window.
func spectralEmbed(vecs [][]float32, dims, neighbors int) ([][]float64, error) {
	n := len(vecs)
	if n < 2 {
		return nil, eris.Errorf("cluster: spectral embedding needs >= 2 points, got %d", n)
	}
	if neighbors >= n {
		neighbors = n - 1
	}
	if neighbors < 1 {
		neighbors = 1
	}
	if dims > n {
		dims = n
	}
	if dims < 1 {
		dims = 1
	}

	adj := knnAdjacency(vecs, neighbors)

	// L = I - D^{-1/2} W D^{-1/2}
	lap := mat.NewSymDense(n, nil)
	invSqrtDeg := make([]float64, n)
	for i := 0; i < n; i++ {
		deg := 0.0
		for j := 0; j < n; j++ {
			deg += adj[i][j]
		}
		if deg > 0 {
			invSqrtDeg[i] = 1 / math.Sqrt(deg)
		}
	}
	for i := 0; i < n; i++ {
		lap.SetSym(i, i, 1)
		for j := i + 1; j < n; j++ {
			if adj[i][j] > 0 {
				lap.SetSym(i, j, -adj[i][j]*invSqrtDeg[i]*invSqrtDeg[j])
			}
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(lap, true) {
		return nil, eris.New("cluster: laplacian eigendecomposition failed")
	}
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	// Eigenvalues come back ascending, so the leading columns hold the
	// component/cluster indicator structure. The near-constant first column
	// adds no separation but costs density clustering nothing.
	points := make([][]float64, n)
	for i := 0; i < n; i++ {
		row := make([]float64, dims)
		for d := 0; d < dims; d++ {
			row[d] = vectors.At(i, d)
		}
		points[i] = row
	}
	return points, nil
}

// knnAdjacency builds a symmetrized connectivity graph: an edge exists when
// either endpoint counts the other among its k nearest by cosine distance.
func knnAdjacency(vecs [][]float32, k int) [][]float64 {
	n := len(vecs)
	normed := make([][]float32, n)
	for i, v := range vecs {
		normed[i] = model.Normalize(v)
	}

	adj := make([][]float64, n)
	for i := range adj {
		adj[i] = make([]float64, n)
	}

	type neighbor struct {
		idx  int
		dist float64
	}
	for i := 0; i < n; i++ {
		nbrs := make([]neighbor, 0, n-1)
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			nbrs = append(nbrs, neighbor{idx: j, dist: model.CosineDistance(normed[i], normed[j])})
		}
		sort.Slice(nbrs, func(a, b int) bool { return nbrs[a].dist < nbrs[b].dist })
		for _, nb := range nbrs[:k] {
			adj[i][nb.idx] = 1
			adj[nb.idx][i] = 1
		}
	}
	return adj
}
