package gallery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/kozaktomas/face-attendance/internal/embedding/mock"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// writeTree creates root/<label>/<file> with the file content as image bytes.
func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return root
}

func TestBuilder_Build(t *testing.T) {
	root := writeTree(t, map[string]string{
		"bob/1.jpg":   "bob-1",
		"alice/2.jpg": "alice-2",
		"alice/1.jpg": "alice-1",
		"alice/3.jpg": "alice-noface",
		"carol/1.png": "carol-broken",
		"notes.txt":   "ignored, not a label directory",
		"dave/README": "no extension, ignored",
	})

	provider := mock.NewMockProvider()
	provider.SetEmbedding([]byte("alice-1"), facematch.Embedding{1, 0})
	provider.SetEmbedding([]byte("alice-2"), facematch.Embedding{1, 1})
	provider.SetEmbedding([]byte("bob-1"), facematch.Embedding{0, 1})
	provider.SetError([]byte("carol-broken"), embedding.ErrInvalidImage)

	var progressCalls int
	b := NewBuilder(provider, WithWorkers(3), WithModel("dlib"), WithProgress(func(done, total int) {
		progressCalls++
		if total != 5 {
			t.Errorf("expected 5 images in progress total, got %d", total)
		}
	}))

	g, report, err := b.Build(context.Background(), root)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if !slices.Equal(g.Labels(), []string{"alice", "bob"}) {
		t.Errorf("labels = %v, want [alice bob]", g.Labels())
	}
	alice, _ := g.Embeddings("alice")
	if len(alice) != 2 || alice[0][1] != 0 || alice[1][1] != 1 {
		t.Errorf("alice embeddings out of file order: %v", alice)
	}
	if g.Metadata().Model != "dlib" {
		t.Errorf("expected model metadata, got %q", g.Metadata().Model)
	}

	if report.Images != 5 || report.Embedded != 3 || report.Labels != 2 {
		t.Errorf("unexpected report %+v", report)
	}
	if len(report.Skipped) != 2 {
		t.Fatalf("expected 2 skipped images, got %+v", report.Skipped)
	}
	reasons := map[string]SkipReason{}
	for _, s := range report.Skipped {
		reasons[s.Label] = s.Reason
	}
	if reasons["alice"] != SkipNoFace {
		t.Errorf("alice/3.jpg reason = %q, want no_face", reasons["alice"])
	}
	if reasons["carol"] != SkipUnreadable {
		t.Errorf("carol/1.png reason = %q, want unreadable", reasons["carol"])
	}
	if progressCalls != 5 {
		t.Errorf("expected 5 progress calls, got %d", progressCalls)
	}
}

func TestBuilder_Deterministic(t *testing.T) {
	files := map[string]string{}
	provider := mock.NewMockProvider()
	for i, label := range []string{"a", "b", "c", "d"} {
		for j := range 5 {
			name := label + "/" + string(rune('0'+j)) + ".jpg"
			files[name] = name
			provider.SetEmbedding([]byte(name), facematch.Embedding{float32(i), float32(j)})
		}
	}
	root := writeTree(t, files)

	first, _, err := NewBuilder(provider, WithWorkers(8)).Build(context.Background(), root)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	second, _, err := NewBuilder(provider, WithWorkers(1)).Build(context.Background(), root)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for _, label := range first.Labels() {
		a, _ := first.Embeddings(label)
		b, _ := second.Embeddings(label)
		for i := range a {
			if !slices.Equal(a[i], b[i]) {
				t.Fatalf("label %s embedding %d differs between builds", label, i)
			}
		}
	}
}

func TestBuilder_MissingRoot(t *testing.T) {
	_, _, err := NewBuilder(mock.NewMockProvider()).Build(context.Background(), filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestBuilder_Cancelled(t *testing.T) {
	root := writeTree(t, map[string]string{"alice/1.jpg": "alice-1"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := NewBuilder(mock.NewMockProvider()).Build(ctx, root)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func sampleGallery(t *testing.T) *facematch.Gallery {
	t.Helper()
	g, err := facematch.NewGallery([]facematch.Entry{
		{Label: "alice", Embeddings: []facematch.Embedding{{0.1, 0.2, 0.3}, {0.11, 0.21, 0.31}}},
		{Label: "bob", Embeddings: []facematch.Embedding{{-1.5, 2.25, 1e-7}}},
	}, facematch.Metadata{Model: "dlib"})
	if err != nil {
		t.Fatalf("NewGallery: %v", err)
	}
	return g
}

func assertSameGallery(t *testing.T, want, got *facematch.Gallery) {
	t.Helper()
	if !slices.Equal(want.Labels(), got.Labels()) {
		t.Fatalf("labels = %v, want %v", got.Labels(), want.Labels())
	}
	for _, label := range want.Labels() {
		a, _ := want.Embeddings(label)
		b, _ := got.Embeddings(label)
		if len(a) != len(b) {
			t.Fatalf("label %s: %d embeddings, want %d", label, len(b), len(a))
		}
		for i := range a {
			if !slices.Equal(a[i], b[i]) {
				t.Errorf("label %s embedding %d = %v, want %v", label, i, b[i], a[i])
			}
		}
	}
	if got.Metadata().Model != want.Metadata().Model {
		t.Errorf("model = %q, want %q", got.Metadata().Model, want.Metadata().Model)
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "nested", "gallery.gob"))
	g := sampleGallery(t)

	if err := store.Save(context.Background(), g); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertSameGallery(t, g, loaded)

	entries, err := os.ReadDir(filepath.Join(dir, "nested"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the gallery file, found %d entries", len(entries))
	}
}

func TestFileStore_Overwrite(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "gallery.gob"))
	first := sampleGallery(t)
	if err := store.Save(context.Background(), first); err != nil {
		t.Fatalf("Save: %v", err)
	}

	second, err := first.WithEmbedding("carol", facematch.Embedding{9, 9, 9})
	if err != nil {
		t.Fatalf("WithEmbedding: %v", err)
	}
	if err := store.Save(context.Background(), second); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertSameGallery(t, second, loaded)
}

func TestFileStore_NotFound(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "gallery.gob"))
	if _, err := store.Load(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFileStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gallery.gob")
	if err := os.WriteFile(path, []byte("garbage"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := NewFileStore(path).Load(context.Background())
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("expected decode error, got %v", err)
	}
}

func TestDocument_VersionCheck(t *testing.T) {
	doc := NewDocument(sampleGallery(t))
	doc.Version = 99
	if _, err := doc.Gallery(); err == nil {
		t.Error("expected error for unknown version")
	}
}

type failingStore struct {
	Store
	saveErr error
}

func (f *failingStore) Save(ctx context.Context, g *facematch.Gallery) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.Store.Save(ctx, g)
}

func TestHolder_CurrentMissing(t *testing.T) {
	h := NewHolder(NewFileStore(filepath.Join(t.TempDir(), "g.gob")))
	if _, err := h.Current(); !errors.Is(err, facematch.ErrGalleryMissing) {
		t.Errorf("expected ErrGalleryMissing, got %v", err)
	}
	if err := h.Load(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestHolder_RebuildAndLoad(t *testing.T) {
	root := writeTree(t, map[string]string{"alice/1.jpg": "alice-1"})
	provider := mock.NewMockProvider()
	provider.SetEmbedding([]byte("alice-1"), facematch.Embedding{1, 2})

	path := filepath.Join(t.TempDir(), "g.gob")
	h := NewHolder(NewFileStore(path))
	report, err := h.Rebuild(context.Background(), NewBuilder(provider), root)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if report.Embedded != 1 {
		t.Errorf("expected 1 embedded image, got %d", report.Embedded)
	}

	g, err := h.Current()
	if err != nil || !g.Has("alice") {
		t.Fatalf("expected published gallery with alice, got %v", err)
	}

	fresh := NewHolder(NewFileStore(path))
	if err := fresh.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	loaded, _ := fresh.Current()
	assertSameGallery(t, g, loaded)
}

func TestHolder_RebuildWithoutFacesKeepsSnapshot(t *testing.T) {
	root := writeTree(t, map[string]string{"alice/1.jpg": "no-face"})
	h := NewHolder(NewFileStore(filepath.Join(t.TempDir(), "g.gob")))
	if err := h.Replace(context.Background(), sampleGallery(t)); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	if _, err := h.Rebuild(context.Background(), NewBuilder(mock.NewMockProvider()), root); err == nil {
		t.Fatal("expected error when no embeddings were produced")
	}
	g, err := h.Current()
	if err != nil || !g.Has("bob") {
		t.Error("previous snapshot should stay published")
	}
}

func TestHolder_ReplaceFailureKeepsSnapshot(t *testing.T) {
	base := NewFileStore(filepath.Join(t.TempDir(), "g.gob"))
	store := &failingStore{Store: base}
	h := NewHolder(store)
	original := sampleGallery(t)
	if err := h.Replace(context.Background(), original); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	store.saveErr = errors.New("disk full")
	next, _ := original.WithEmbedding("carol", facematch.Embedding{1, 1, 1})
	if err := h.Replace(context.Background(), next); err == nil {
		t.Fatal("expected save error")
	}
	if g, _ := h.Current(); g != original {
		t.Error("failed save must not publish the new gallery")
	}
}

func TestHolder_Enroll(t *testing.T) {
	provider := mock.NewMockProvider()
	provider.SetEmbedding([]byte("carol-photo"), facematch.Embedding{5, 5, 5})

	h := NewHolder(NewFileStore(filepath.Join(t.TempDir(), "g.gob")))
	original := sampleGallery(t)
	if err := h.Replace(context.Background(), original); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	next, err := h.Enroll(context.Background(), provider, "carol", []byte("carol-photo"))
	if err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if !next.Has("carol") || original.Has("carol") {
		t.Error("enroll must publish a new snapshot and leave the old one untouched")
	}

	if _, err := h.Enroll(context.Background(), provider, "dave", []byte("unknown")); !errors.Is(err, embedding.ErrNoFaceDetected) {
		t.Errorf("expected ErrNoFaceDetected, got %v", err)
	}
	if _, err := h.Enroll(context.Background(), provider, "", []byte("carol-photo")); !errors.Is(err, facematch.ErrEmptyLabel) {
		t.Errorf("expected ErrEmptyLabel, got %v", err)
	}
}

func TestBuilder_WithDimSkipsOtherLengths(t *testing.T) {
	root := writeTree(t, map[string]string{
		"alice/1.jpg": "alice-1",
		"bob/1.jpg":   "bob-1",
	})
	provider := mock.NewMockProvider()
	provider.SetEmbedding([]byte("alice-1"), facematch.Embedding{1, 0, 0})
	provider.SetEmbedding([]byte("bob-1"), facematch.Embedding{0, 1})

	g, report, err := NewBuilder(provider, WithDim(3)).Build(context.Background(), root)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !slices.Equal(g.Labels(), []string{"alice"}) || g.Dim() != 3 {
		t.Errorf("labels = %v dim = %d, want [alice] and 3", g.Labels(), g.Dim())
	}
	if len(report.Skipped) != 1 || report.Skipped[0].Label != "bob" || report.Skipped[0].Reason != SkipProvider {
		t.Errorf("expected bob skipped as provider_error, got %+v", report.Skipped)
	}
}

func TestHolder_ExpectedDim(t *testing.T) {
	provider := mock.NewMockProvider()
	provider.SetEmbedding([]byte("short"), facematch.Embedding{1, 2})
	provider.SetEmbedding([]byte("right"), facematch.Embedding{1, 2, 3})
	ctx := context.Background()

	h := NewHolder(NewFileStore(filepath.Join(t.TempDir(), "g.gob")), WithExpectedDim(3))
	if _, err := h.Enroll(ctx, provider, "alice", []byte("short")); !errors.Is(err, facematch.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
	if _, err := h.Current(); !errors.Is(err, facematch.ErrGalleryMissing) {
		t.Errorf("rejected enrollment must not publish a gallery, got %v", err)
	}
	if _, err := h.Enroll(ctx, provider, "alice", []byte("right")); err != nil {
		t.Fatalf("Enroll: %v", err)
	}

	path := filepath.Join(t.TempDir(), "two-dim.gob")
	two, err := facematch.NewGallery([]facematch.Entry{{Label: "bob", Embeddings: []facematch.Embedding{{0, 1}}}}, facematch.Metadata{})
	if err != nil {
		t.Fatalf("NewGallery: %v", err)
	}
	if err := NewFileStore(path).Save(ctx, two); err != nil {
		t.Fatalf("Save: %v", err)
	}
	strict := NewHolder(NewFileStore(path), WithExpectedDim(3))
	if err := strict.Load(ctx); !errors.Is(err, facematch.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch loading a 2-dim gallery, got %v", err)
	}
	if err := NewHolder(NewFileStore(path)).Load(ctx); err != nil {
		t.Errorf("Load without an expected dim: %v", err)
	}
}
