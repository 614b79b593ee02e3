// Package gallery builds, persists and publishes face galleries.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/logging"
)

// SkipReason explains why an image did not contribute an embedding.
type SkipReason string

const (
	SkipNoFace     SkipReason = "no_face"
	SkipUnreadable SkipReason = "unreadable"
	SkipProvider   SkipReason = "provider_error"
)

// Skipped describes one image left out of the gallery.
type Skipped struct {
	Path   string     `json:"path"`
	Label  string     `json:"label"`
	Reason SkipReason `json:"reason"`
	Error  string     `json:"error,omitempty"`
}

// BuildReport summarises a directory build.
type BuildReport struct {
	Labels   int           `json:"labels"`
	Images   int           `json:"images"`
	Embedded int           `json:"embedded"`
	Skipped  []Skipped     `json:"skipped,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Progress is called after each image is processed.
type Progress func(done, total int)

// Builder constructs galleries from a <root>/<label>/<image> tree.
type Builder struct {
	provider embedding.Provider
	workers  int
	model    string
	dim      int
	progress Progress
}

type BuilderOption func(*Builder)

// WithWorkers bounds the number of concurrent provider calls.
func WithWorkers(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.workers = n
		}
	}
}

func WithProgress(p Progress) BuilderOption {
	return func(b *Builder) { b.progress = p }
}

// WithModel records the embedding model name in the gallery metadata.
func WithModel(model string) BuilderOption {
	return func(b *Builder) { b.model = model }
}

// WithDim rejects embeddings whose length differs from n. Zero accepts any
// length as long as the gallery stays consistent.
func WithDim(n int) BuilderOption {
	return func(b *Builder) { b.dim = n }
}

func NewBuilder(provider embedding.Provider, opts ...BuilderOption) *Builder {
	b := &Builder{provider: provider, workers: constants.WorkerPoolSize}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type imageJob struct {
	label string
	path  string
}

type imageResult struct {
	embedding facematch.Embedding
	skip      *Skipped
}

// listImages returns label directories and their image files, both sorted.
// Only an unreadable root is an error; unreadable label directories are skipped.
func listImages(root string) ([]imageJob, error) {
	dirs, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading gallery root: %w", err)
	}

	var jobs []imageJob
	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		matches, err := filepath.Glob(filepath.Join(root, dir.Name(), "*.*"))
		if err != nil {
			continue
		}
		sort.Strings(matches)
		for _, path := range matches {
			if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
				jobs = append(jobs, imageJob{label: dir.Name(), path: path})
			}
		}
	}
	return jobs, nil
}

// Build walks root and embeds the first face of every image. Images that
// cannot be read or contain no face are skipped and reported. Results are
// assembled in sorted order regardless of worker scheduling.
func (b *Builder) Build(ctx context.Context, root string) (*facematch.Gallery, *BuildReport, error) {
	start := time.Now()

	jobs, err := listImages(root)
	if err != nil {
		return nil, nil, err
	}

	results := make([]imageResult, len(jobs))
	sem := make(chan struct{}, b.workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	done := 0

	for i, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, job imageJob) {
			defer wg.Done()
			defer func() { <-sem }()

			results[i] = b.embedImage(ctx, job)

			mu.Lock()
			done++
			if b.progress != nil {
				b.progress(done, len(jobs))
			}
			mu.Unlock()
		}(i, job)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	report := &BuildReport{Images: len(jobs)}
	entries := make([]facematch.Entry, 0)
	index := make(map[string]int)
	for i, r := range results {
		if r.skip != nil {
			report.Skipped = append(report.Skipped, *r.skip)
			continue
		}
		label := jobs[i].label
		pos, ok := index[label]
		if !ok {
			pos = len(entries)
			index[label] = pos
			entries = append(entries, facematch.Entry{Label: label})
		}
		entries[pos].Embeddings = append(entries[pos].Embeddings, r.embedding)
		report.Embedded++
	}

	g, err := facematch.NewGallery(entries, facematch.Metadata{Model: b.model, BuiltAt: time.Now().UTC()})
	if err != nil {
		return nil, nil, fmt.Errorf("assembling gallery: %w", err)
	}

	report.Labels = g.Len()
	report.Duration = time.Since(start)
	logging.Info().
		Str("root", root).
		Int("labels", report.Labels).
		Int("images", report.Images).
		Int("embedded", report.Embedded).
		Int("skipped", len(report.Skipped)).
		Dur("duration", report.Duration).
		Msg("gallery built")

	return g, report, nil
}

func (b *Builder) embedImage(ctx context.Context, job imageJob) imageResult {
	skip := func(reason SkipReason, err error) imageResult {
		s := &Skipped{Path: job.path, Label: job.label, Reason: reason}
		if err != nil {
			s.Error = err.Error()
		}
		logging.Warn().Str("path", job.path).Str("label", job.label).Str("reason", string(reason)).Err(err).Msg("skipping image")
		return imageResult{skip: s}
	}

	data, err := os.ReadFile(job.path) //nolint:gosec // path comes from the gallery root
	if err != nil {
		return skip(SkipUnreadable, err)
	}

	e, err := b.provider.EmbedSingle(ctx, data)
	switch {
	case errors.Is(err, embedding.ErrNoFaceDetected):
		return skip(SkipNoFace, nil)
	case errors.Is(err, embedding.ErrInvalidImage):
		return skip(SkipUnreadable, err)
	case err != nil:
		return skip(SkipProvider, err)
	}
	if b.dim > 0 && len(e) != b.dim {
		return skip(SkipProvider, fmt.Errorf("%w: got %d, want %d", facematch.ErrDimensionMismatch, len(e), b.dim))
	}
	return imageResult{embedding: e}
}
