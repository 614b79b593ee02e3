package gallery

import (
	"bufio"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// ErrNotFound is returned by Load when no gallery has been saved yet.
var ErrNotFound = errors.New("gallery not found, train it first")

// Store persists galleries. Save replaces the previous gallery atomically:
// a concurrent or later Load sees either the old or the new one in full.
type Store interface {
	Save(ctx context.Context, g *facematch.Gallery) error
	Load(ctx context.Context) (*facematch.Gallery, error)
}

// DocumentVersion is bumped whenever the stored layout changes.
const DocumentVersion = 1

// Document is the serialised form of a gallery shared by the stores.
type Document struct {
	Version int             `json:"version"`
	Model   string          `json:"model"`
	BuiltAt time.Time       `json:"built_at"`
	Dim     int             `json:"dim"`
	Entries []DocumentEntry `json:"entries"`
}

type DocumentEntry struct {
	Label      string      `json:"label"`
	Embeddings [][]float32 `json:"embeddings"`
}

// NewDocument captures g in gallery order.
func NewDocument(g *facematch.Gallery) Document {
	meta := g.Metadata()
	doc := Document{
		Version: DocumentVersion,
		Model:   meta.Model,
		BuiltAt: meta.BuiltAt,
		Dim:     g.Dim(),
	}
	for _, entry := range g.Entries() {
		de := DocumentEntry{Label: entry.Label, Embeddings: make([][]float32, len(entry.Embeddings))}
		for i, e := range entry.Embeddings {
			de.Embeddings[i] = e
		}
		doc.Entries = append(doc.Entries, de)
	}
	return doc
}

// Gallery rebuilds the gallery described by d.
func (d Document) Gallery() (*facematch.Gallery, error) {
	if d.Version != DocumentVersion {
		return nil, fmt.Errorf("unsupported gallery document version %d", d.Version)
	}
	entries := make([]facematch.Entry, len(d.Entries))
	for i, de := range d.Entries {
		entries[i] = facematch.Entry{Label: de.Label, Embeddings: make([]facematch.Embedding, len(de.Embeddings))}
		for j, e := range de.Embeddings {
			entries[i].Embeddings[j] = e
		}
	}
	g, err := facematch.NewGallery(entries, facematch.Metadata{Model: d.Model, BuiltAt: d.BuiltAt})
	if err != nil {
		return nil, err
	}
	if d.Dim != 0 && g.Dim() != d.Dim {
		return nil, fmt.Errorf("%w: document says %d, embeddings have %d", facematch.ErrDimensionMismatch, d.Dim, g.Dim())
	}
	return g, nil
}

// FileStore keeps the gallery in a gob file. Saves go to a temporary file in
// the same directory which is synced and renamed over the target.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Save(ctx context.Context, g *facematch.Gallery) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating gallery directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temporary gallery file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	w := bufio.NewWriter(tmp)
	if err := gob.NewEncoder(w).Encode(NewDocument(g)); err != nil {
		return fmt.Errorf("encoding gallery: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("writing gallery: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing gallery: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing gallery: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replacing gallery: %w", err)
	}
	committed = true
	return nil
}

func (s *FileStore) Load(ctx context.Context) (*facematch.Gallery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("opening gallery: %w", err)
	}
	defer f.Close()

	var doc Document
	if err := gob.NewDecoder(bufio.NewReader(f)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding gallery %s: %w", s.path, err)
	}
	return doc.Gallery()
}
