// Package mock provides a scripted embedding.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// MockProvider returns canned faces keyed by the exact image bytes.
// Images that were never registered yield no faces.
type MockProvider struct {
	mu     sync.RWMutex
	faces  map[string][]embedding.Face
	errors map[string]error
	calls  int

	// Error injection for every call
	EmbedError error

	// Block, when set, is waited on before answering (or ctx is done first).
	Block chan struct{}
}

// NewMockProvider creates a new mock provider
func NewMockProvider() *MockProvider {
	return &MockProvider{
		faces:  make(map[string][]embedding.Face),
		errors: make(map[string]error),
	}
}

// SetFaces registers the faces returned for image.
func (m *MockProvider) SetFaces(image []byte, faces ...embedding.Face) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faces[string(image)] = faces
}

// SetEmbedding registers a single face with embedding e for image.
func (m *MockProvider) SetEmbedding(image []byte, e facematch.Embedding) {
	m.SetFaces(image, embedding.Face{Embedding: e, BBox: []float64{0, 0, 10, 10}, Score: 0.99})
}

// SetError makes requests for image fail with err.
func (m *MockProvider) SetError(image []byte, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[string(image)] = err
}

// Calls returns how many times Embed was invoked.
func (m *MockProvider) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

func (m *MockProvider) Embed(ctx context.Context, image []byte) ([]embedding.Face, error) {
	m.mu.Lock()
	m.calls++
	block := m.Block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if m.EmbedError != nil {
		return nil, m.EmbedError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if err, ok := m.errors[string(image)]; ok {
		return nil, err
	}
	faces := m.faces[string(image)]
	out := make([]embedding.Face, len(faces))
	copy(out, faces)
	return out, nil
}

func (m *MockProvider) EmbedSingle(ctx context.Context, image []byte) (facematch.Embedding, error) {
	faces, err := m.Embed(ctx, image)
	if err != nil {
		return nil, err
	}
	if len(faces) == 0 {
		return nil, embedding.ErrNoFaceDetected
	}
	return faces[0].Embedding, nil
}
