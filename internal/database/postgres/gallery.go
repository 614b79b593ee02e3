package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/gallery"
)

// GalleryRepository keeps the reference gallery in pgvector columns.
type GalleryRepository struct {
	pool *Pool
}

// NewGalleryRepository creates a new PostgreSQL gallery store
func NewGalleryRepository(pool *Pool) *GalleryRepository {
	return &GalleryRepository{pool: pool}
}

// Save replaces the stored gallery in one transaction.
func (r *GalleryRepository) Save(ctx context.Context, g *facematch.Gallery) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM gallery_embeddings"); err != nil {
		return fmt.Errorf("clear gallery: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO gallery_embeddings (label_position, label, embedding_position, embedding)
		VALUES ($1, $2, $3, $4)
	`)
	if err != nil {
		return fmt.Errorf("prepare gallery insert: %w", err)
	}
	defer stmt.Close()

	for li, entry := range g.Entries() {
		for ei, e := range entry.Embeddings {
			if _, err := stmt.ExecContext(ctx, li, entry.Label, ei, pgvector.NewVector(e)); err != nil {
				return fmt.Errorf("insert embedding for %s: %w", entry.Label, err)
			}
		}
	}

	meta := g.Metadata()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO gallery_meta (id, version, model, built_at, dim)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			version = EXCLUDED.version,
			model = EXCLUDED.model,
			built_at = EXCLUDED.built_at,
			dim = EXCLUDED.dim
	`, gallery.DocumentVersion, meta.Model, meta.BuiltAt, g.Dim())
	if err != nil {
		return fmt.Errorf("save gallery metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit gallery: %w", err)
	}
	return nil
}

// Load reads the gallery in a read-only transaction so metadata and
// embeddings come from the same snapshot.
func (r *GalleryRepository) Load(ctx context.Context) (*facematch.Gallery, error) {
	tx, err := r.pool.BeginTx(ctx, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	doc := gallery.Document{}
	err = tx.QueryRowContext(ctx, "SELECT version, model, built_at, dim FROM gallery_meta WHERE id = 1").
		Scan(&doc.Version, &doc.Model, &doc.BuiltAt, &doc.Dim)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, gallery.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load gallery metadata: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT label_position, label, embedding
		FROM gallery_embeddings
		ORDER BY label_position, embedding_position
	`)
	if err != nil {
		return nil, fmt.Errorf("query gallery embeddings: %w", err)
	}
	defer rows.Close()

	lastPosition := -1
	for rows.Next() {
		var position int
		var label string
		var vec pgvector.Vector
		if err := rows.Scan(&position, &label, &vec); err != nil {
			return nil, fmt.Errorf("scan gallery embedding: %w", err)
		}
		if position != lastPosition {
			doc.Entries = append(doc.Entries, gallery.DocumentEntry{Label: label})
			lastPosition = position
		}
		last := &doc.Entries[len(doc.Entries)-1]
		last.Embeddings = append(last.Embeddings, vec.Slice())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate gallery embeddings: %w", err)
	}

	return doc.Gallery()
}

// Nearest asks PostgreSQL for the stored embeddings closest to e by L2
// distance. It serves diagnostics; matching runs on the in-memory gallery.
func (r *GalleryRepository) Nearest(ctx context.Context, e facematch.Embedding, limit int) ([]facematch.Neighbor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT label, embedding <-> $1 AS distance
		FROM gallery_embeddings
		ORDER BY distance, label_position
		LIMIT $2
	`, pgvector.NewVector(e), limit)
	if err != nil {
		return nil, fmt.Errorf("query nearest embeddings: %w", err)
	}
	defer rows.Close()

	var out []facematch.Neighbor
	for rows.Next() {
		var n facematch.Neighbor
		if err := rows.Scan(&n.Label, &n.Distance); err != nil {
			return nil, fmt.Errorf("scan neighbor: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate neighbors: %w", err)
	}
	return out, nil
}
