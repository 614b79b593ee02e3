// Package facematch resolves face embeddings to identity labels against a
// gallery of reference embeddings.
package facematch

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Unknown is the label returned when no gallery embedding is close enough.
const Unknown = "unknown"

var (
	ErrGalleryMissing    = errors.New("gallery is missing or empty")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrEmptyLabel        = errors.New("label must not be empty")
	ErrInvalidThreshold  = errors.New("threshold must be positive")
)

// Embedding is a fixed-length face descriptor produced by the embedding provider.
type Embedding []float32

// Entry groups every reference embedding of one label.
type Entry struct {
	Label      string
	Embeddings []Embedding
}

// Metadata describes how a gallery was produced.
type Metadata struct {
	Model   string
	BuiltAt time.Time
}

// Gallery is an immutable, ordered set of labelled reference embeddings.
// Iteration order is the order in which labels were first seen, which makes
// nearest-neighbour tie-breaks deterministic.
type Gallery struct {
	entries []Entry
	byLabel map[string]int
	dim     int
	size    int
	meta    Metadata

	indexMu sync.Mutex
	indexes map[indexKey]Index
}

type indexKey struct {
	kind   IndexKind
	metric Metric
}

// NewGallery validates and copies entries into a new gallery. Repeated labels
// accumulate their embeddings into the first occurrence; labels without any
// embedding are dropped. All embeddings must share one dimensionality.
func NewGallery(entries []Entry, meta Metadata) (*Gallery, error) {
	g := &Gallery{
		byLabel: make(map[string]int, len(entries)),
		meta:    meta,
	}

	for _, entry := range entries {
		if entry.Label == "" {
			return nil, ErrEmptyLabel
		}
		for _, e := range entry.Embeddings {
			if err := g.append(entry.Label, e); err != nil {
				return nil, err
			}
		}
	}

	return g, nil
}

func (g *Gallery) append(label string, e Embedding) error {
	if len(e) == 0 {
		return fmt.Errorf("%w: empty embedding for %q", ErrDimensionMismatch, label)
	}
	if g.dim == 0 {
		g.dim = len(e)
	} else if len(e) != g.dim {
		return fmt.Errorf("%w: %q has %d, gallery has %d", ErrDimensionMismatch, label, len(e), g.dim)
	}

	idx, ok := g.byLabel[label]
	if !ok {
		idx = len(g.entries)
		g.byLabel[label] = idx
		g.entries = append(g.entries, Entry{Label: label})
	}
	g.entries[idx].Embeddings = append(g.entries[idx].Embeddings, slices.Clone(e))
	g.size++
	return nil
}

// WithEmbedding returns a new gallery with e appended to label. The receiver
// is left untouched so readers holding it keep a consistent view.
func (g *Gallery) WithEmbedding(label string, e Embedding) (*Gallery, error) {
	if label == "" {
		return nil, ErrEmptyLabel
	}
	meta := Metadata{BuiltAt: time.Now().UTC()}
	var entries []Entry
	if g != nil {
		meta.Model = g.meta.Model
		entries = g.entries
	}
	next, err := NewGallery(entries, meta)
	if err != nil {
		return nil, err
	}
	if err := next.append(label, e); err != nil {
		return nil, err
	}
	return next, nil
}

// IsEmpty reports whether g is nil or holds no embeddings.
func (g *Gallery) IsEmpty() bool {
	return g == nil || g.size == 0
}

// Labels returns the labels in gallery order.
func (g *Gallery) Labels() []string {
	labels := make([]string, len(g.entries))
	for i, entry := range g.entries {
		labels[i] = entry.Label
	}
	return labels
}

// Entries returns the entries in gallery order. Callers must not modify them.
func (g *Gallery) Entries() []Entry {
	return slices.Clone(g.entries)
}

// Embeddings returns the reference embeddings of label.
func (g *Gallery) Embeddings(label string) ([]Embedding, bool) {
	idx, ok := g.byLabel[label]
	if !ok {
		return nil, false
	}
	return g.entries[idx].Embeddings, true
}

// Has reports whether label is enrolled. A nil gallery has no labels.
func (g *Gallery) Has(label string) bool {
	if g == nil {
		return false
	}
	_, ok := g.byLabel[label]
	return ok
}

// Len returns the number of labels.
func (g *Gallery) Len() int { return len(g.entries) }

// Size returns the total number of embeddings.
func (g *Gallery) Size() int { return g.size }

// Dim returns the embedding dimensionality, 0 for an empty gallery.
func (g *Gallery) Dim() int { return g.dim }

func (g *Gallery) Metadata() Metadata { return g.meta }

// Index returns the search index of the given kind, building it on first use.
func (g *Gallery) Index(kind IndexKind, metric Metric) (Index, error) {
	g.indexMu.Lock()
	defer g.indexMu.Unlock()

	key := indexKey{kind: kind, metric: metric}
	if idx, ok := g.indexes[key]; ok {
		return idx, nil
	}

	var (
		idx Index
		err error
	)
	switch kind {
	case IndexHNSW:
		idx, err = newHNSWIndex(g, metric)
	default:
		idx = newLinearIndex(g, metric)
	}
	if err != nil {
		return nil, err
	}

	if g.indexes == nil {
		g.indexes = make(map[indexKey]Index)
	}
	g.indexes[key] = idx
	return idx, nil
}
