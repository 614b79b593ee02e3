package facematch

import (
	"math"

	"github.com/coder/hnsw"
)

// HNSW index parameters
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	HNSWEfSearch = 64

	// HNSWCandidates is how many graph neighbours are rescored with the exact metric.
	HNSWCandidates = 8
)

// hnswIndex wraps an HNSW graph keyed by the embedding's position in gallery
// order. Candidates returned by the graph are rescored exactly and ties go to
// the lowest position, mirroring the linear scan for every candidate it sees.
type hnswIndex struct {
	graph  *hnsw.Graph[int]
	labels []string
	values []Embedding
	metric Metric
}

func newHNSWIndex(g *Gallery, metric Metric) (*hnswIndex, error) {
	graph := hnsw.NewGraph[int]()
	graph.M = HNSWMaxNeighbors
	graph.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	graph.EfSearch = HNSWEfSearch
	if metric == MetricCosine {
		graph.Distance = hnsw.CosineDistance
	} else {
		graph.Distance = hnsw.EuclideanDistance
	}

	idx := &hnswIndex{
		graph:  graph,
		labels: make([]string, 0, g.size),
		values: make([]Embedding, 0, g.size),
		metric: metric,
	}

	for _, entry := range g.entries {
		for _, e := range entry.Embeddings {
			key := len(idx.values)
			idx.labels = append(idx.labels, entry.Label)
			idx.values = append(idx.values, e)
			graph.Add(hnsw.MakeNode(key, []float32(e)))
		}
	}

	return idx, nil
}

func (h *hnswIndex) Nearest(query Embedding) (Neighbor, bool) {
	if len(h.values) == 0 {
		return Neighbor{}, false
	}

	k := min(HNSWCandidates, len(h.values))
	nodes := h.graph.Search([]float32(query), k)
	if len(nodes) == 0 {
		return Neighbor{}, false
	}

	bestKey := -1
	bestDist := math.Inf(1)
	for _, n := range nodes {
		d := h.metric.Distance(query, h.values[n.Key])
		if bestKey < 0 || d < bestDist || (d == bestDist && n.Key < bestKey) {
			bestKey, bestDist = n.Key, d
		}
	}

	return Neighbor{Label: h.labels[bestKey], Distance: bestDist}, true
}
