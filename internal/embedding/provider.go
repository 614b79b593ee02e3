// Package embedding turns images into face embeddings by calling an external
// face-detection and embedding service.
package embedding

import (
	"context"
	"errors"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// ErrNoFaceDetected is returned by EmbedSingle when the image contains no face.
var ErrNoFaceDetected = errors.New("no face detected")

// ErrInvalidImage is returned when image bytes cannot be decoded.
var ErrInvalidImage = errors.New("invalid image")

// ErrUnavailable is returned while the circuit breaker rejects calls.
var ErrUnavailable = errors.New("embedding service unavailable")

// Face is one detected face with its embedding.
type Face struct {
	Embedding facematch.Embedding `json:"embedding"`
	BBox      []float64           `json:"bbox"` // [x1, y1, x2, y2] in source pixels
	Score     float64             `json:"det_score"`
}

// Provider detects faces in an encoded image and embeds them.
// Embed returns an empty slice, not an error, when no face is found.
type Provider interface {
	Embed(ctx context.Context, image []byte) ([]Face, error)
	EmbedSingle(ctx context.Context, image []byte) (facematch.Embedding, error)
}

// firstFace implements EmbedSingle on top of an Embed result.
func firstFace(faces []Face, err error) (facematch.Embedding, error) {
	if err != nil {
		return nil, err
	}
	if len(faces) == 0 {
		return nil, ErrNoFaceDetected
	}
	return faces[0].Embedding, nil
}
