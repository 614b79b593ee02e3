package facematch

import (
	"fmt"
	"math"
)

// IndexKind selects the nearest-neighbour search strategy.
type IndexKind string

const (
	// IndexLinear scans every embedding. It is exact and the reference behaviour.
	IndexLinear IndexKind = "linear"
	// IndexHNSW searches an approximate HNSW graph and rescores candidates exactly.
	IndexHNSW IndexKind = "hnsw"
)

func ParseIndexKind(s string) (IndexKind, error) {
	switch IndexKind(s) {
	case "", IndexLinear:
		return IndexLinear, nil
	case IndexHNSW:
		return IndexHNSW, nil
	default:
		return "", fmt.Errorf("unknown index kind %q", s)
	}
}

// Neighbor is the closest gallery embedding to a query.
type Neighbor struct {
	Label    string
	Distance float64
}

// Index finds the nearest gallery embedding to a query.
// Nearest returns false only when the index holds no embeddings.
type Index interface {
	Nearest(query Embedding) (Neighbor, bool)
}

type linearIndex struct {
	gallery *Gallery
	metric  Metric
}

func newLinearIndex(g *Gallery, metric Metric) *linearIndex {
	return &linearIndex{gallery: g, metric: metric}
}

// Nearest keeps the first minimum it sees: a later embedding must be strictly
// closer to replace it, so equal distances resolve to the earlier label.
func (l *linearIndex) Nearest(query Embedding) (Neighbor, bool) {
	best := Neighbor{Distance: math.Inf(1)}
	found := false

	for _, entry := range l.gallery.entries {
		for _, e := range entry.Embeddings {
			d := l.metric.Distance(query, e)
			if !found || d < best.Distance {
				best = Neighbor{Label: entry.Label, Distance: d}
				found = true
			}
		}
	}

	return best, found
}
