package facematch

import "fmt"

// MatchResult is the identity resolved for one probe embedding.
// Distance is the nearest-neighbour distance even when Label is Unknown.
type MatchResult struct {
	Label    string  `json:"label"`
	Distance float64 `json:"distance"`
}

func (r MatchResult) IsUnknown() bool {
	return r.Label == Unknown
}

// Matcher resolves embeddings against a gallery using a fixed metric and
// index strategy. The acceptance threshold is supplied per call.
type Matcher struct {
	metric Metric
	kind   IndexKind
}

func NewMatcher(metric Metric, kind IndexKind) *Matcher {
	if metric == "" {
		metric = MetricEuclidean
	}
	if kind == "" {
		kind = IndexLinear
	}
	return &Matcher{metric: metric, kind: kind}
}

// Match returns the label of the nearest gallery embedding when its distance
// is strictly below threshold, otherwise Unknown.
func (m *Matcher) Match(e Embedding, g *Gallery, threshold float64) (MatchResult, error) {
	if threshold <= 0 {
		return MatchResult{}, ErrInvalidThreshold
	}
	if g.IsEmpty() {
		return MatchResult{}, ErrGalleryMissing
	}
	if len(e) != g.Dim() {
		return MatchResult{}, fmt.Errorf("%w: probe has %d, gallery has %d", ErrDimensionMismatch, len(e), g.Dim())
	}

	idx, err := g.Index(m.kind, m.metric)
	if err != nil {
		return MatchResult{}, fmt.Errorf("building %s index: %w", m.kind, err)
	}

	nearest, ok := idx.Nearest(e)
	if !ok {
		return MatchResult{}, ErrGalleryMissing
	}

	if nearest.Distance < threshold {
		return MatchResult{Label: nearest.Label, Distance: nearest.Distance}, nil
	}
	return MatchResult{Label: Unknown, Distance: nearest.Distance}, nil
}

// MatchAll resolves every embedding independently; results keep input order.
func (m *Matcher) MatchAll(es []Embedding, g *Gallery, threshold float64) ([]MatchResult, error) {
	results := make([]MatchResult, len(es))
	for i, e := range es {
		r, err := m.Match(e, g, threshold)
		if err != nil {
			return nil, fmt.Errorf("face %d: %w", i, err)
		}
		results[i] = r
	}
	return results, nil
}
