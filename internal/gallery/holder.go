package gallery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/logging"
	"github.com/kozaktomas/face-attendance/internal/metrics"
)

// Holder publishes the current gallery snapshot. Readers call Current and
// never block; writers (rebuild, enroll, reload) are serialised and replace
// the snapshot only after the store accepted it.
type Holder struct {
	current atomic.Pointer[facematch.Gallery]
	store   Store
	dim     int
	writeMu sync.Mutex
}

type HolderOption func(*Holder)

// WithExpectedDim makes Load and Enroll reject embeddings of any other
// length, e.g. a gallery built with a different model. Zero disables the check.
func WithExpectedDim(n int) HolderOption {
	return func(h *Holder) { h.dim = n }
}

func NewHolder(store Store, opts ...HolderOption) *Holder {
	h := &Holder{store: store}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Holder) checkDim(got int) error {
	if h.dim > 0 && got != h.dim {
		return fmt.Errorf("%w: got %d, want %d", facematch.ErrDimensionMismatch, got, h.dim)
	}
	return nil
}

// Current returns the published gallery or facematch.ErrGalleryMissing.
func (h *Holder) Current() (*facematch.Gallery, error) {
	g := h.current.Load()
	if g.IsEmpty() {
		return nil, facematch.ErrGalleryMissing
	}
	return g, nil
}

func (h *Holder) publish(g *facematch.Gallery) {
	h.current.Store(g)
	metrics.GalleryLabels.Set(float64(g.Len()))
	metrics.GalleryEmbeddings.Set(float64(g.Size()))
}

// Load reads the stored gallery and publishes it. A missing gallery returns
// ErrNotFound and leaves the current snapshot in place.
func (h *Holder) Load(ctx context.Context) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	g, err := h.store.Load(ctx)
	if err != nil {
		return err
	}
	if !g.IsEmpty() {
		if err := h.checkDim(g.Dim()); err != nil {
			return fmt.Errorf("stored gallery: %w", err)
		}
	}
	h.publish(g)
	logging.Info().Int("labels", g.Len()).Int("embeddings", g.Size()).Msg("gallery loaded")
	return nil
}

// Replace saves g and publishes it.
func (h *Holder) Replace(ctx context.Context, g *facematch.Gallery) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return h.replaceLocked(ctx, g)
}

func (h *Holder) replaceLocked(ctx context.Context, g *facematch.Gallery) error {
	if err := h.store.Save(ctx, g); err != nil {
		return fmt.Errorf("saving gallery: %w", err)
	}
	h.publish(g)
	return nil
}

// Rebuild builds a gallery from root, saves and publishes it. Matching keeps
// using the previous snapshot until the new one is in place.
func (h *Holder) Rebuild(ctx context.Context, b *Builder, root string) (*BuildReport, error) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	g, report, err := b.Build(ctx, root)
	if err != nil {
		return nil, err
	}
	if g.IsEmpty() {
		return report, errors.New("no embeddings produced, gallery left unchanged")
	}
	if err := h.replaceLocked(ctx, g); err != nil {
		return report, err
	}
	return report, nil
}

// Enroll embeds one photo of label and appends it to the gallery.
func (h *Holder) Enroll(ctx context.Context, provider embedding.Provider, label string, image []byte) (*facematch.Gallery, error) {
	if label == "" {
		return nil, facematch.ErrEmptyLabel
	}

	e, err := provider.EmbedSingle(ctx, image)
	if err != nil {
		return nil, err
	}
	if err := h.checkDim(len(e)); err != nil {
		return nil, err
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	current := h.current.Load()
	next, err := current.WithEmbedding(label, e)
	if err != nil {
		return nil, err
	}
	if err := h.replaceLocked(ctx, next); err != nil {
		return nil, err
	}
	logging.Info().
		Str("label", label).
		Bool("new_label", !current.Has(label)).
		Int("embeddings", next.Size()).
		Msg("enrolled face")
	return next, nil
}
