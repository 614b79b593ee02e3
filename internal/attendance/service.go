package attendance

import (
	"context"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/logging"
	"github.com/kozaktomas/face-attendance/internal/metrics"
)

// GallerySource returns the gallery snapshot to match against.
type GallerySource interface {
	Current() (*facematch.Gallery, error)
}

// FaceResult is one face found in a submitted image.
type FaceResult struct {
	BBox     []float64 `json:"bbox"`
	Score    float64   `json:"det_score"`
	Label    string    `json:"label"`
	Distance float64   `json:"distance"`
	Outcome  Outcome   `json:"outcome,omitempty"`
}

// FrameResult is the outcome of submitting one frame to a session.
type FrameResult struct {
	SessionID string       `json:"session_id"`
	Faces     []FaceResult `json:"faces"`
	Recorded  []string     `json:"recorded"`
}

// Service runs the frame pipeline: embed, resolve identities, apply to a session.
type Service struct {
	provider  embedding.Provider
	galleries GallerySource
	matcher   *facematch.Matcher
	manager   *Manager
	pool      *WorkerPool
	threshold float64
}

func NewService(provider embedding.Provider, galleries GallerySource, matcher *facematch.Matcher, manager *Manager, pool *WorkerPool, threshold float64) *Service {
	if threshold <= 0 {
		threshold = constants.DefaultDistanceThreshold
	}
	return &Service{
		provider:  provider,
		galleries: galleries,
		matcher:   matcher,
		manager:   manager,
		pool:      pool,
		threshold: threshold,
	}
}

func (s *Service) Manager() *Manager { return s.manager }

// Threshold returns the configured acceptance threshold.
func (s *Service) Threshold() float64 { return s.threshold }

// Identify embeds every face in image and resolves it against the current
// gallery. A threshold of zero uses the configured one.
func (s *Service) Identify(ctx context.Context, image []byte, threshold float64) ([]FaceResult, error) {
	if threshold <= 0 {
		threshold = s.threshold
	}

	g, err := s.galleries.Current()
	if err != nil {
		return nil, err
	}

	var faces []embedding.Face
	err = s.pool.Do(ctx, func(ctx context.Context) error {
		var embedErr error
		faces, embedErr = s.provider.Embed(ctx, image)
		return embedErr
	})
	if err != nil {
		return nil, err
	}
	if len(faces) == 0 {
		return nil, embedding.ErrNoFaceDetected
	}

	faces = dedupFaces(faces)
	probes := make([]facematch.Embedding, len(faces))
	for i, f := range faces {
		probes[i] = f.Embedding
	}

	matches, err := s.matcher.MatchAll(probes, g, threshold)
	if err != nil {
		return nil, fmt.Errorf("matching faces: %w", err)
	}

	results := make([]FaceResult, len(faces))
	for i, f := range faces {
		results[i] = FaceResult{BBox: f.BBox, Score: f.Score, Label: matches[i].Label, Distance: matches[i].Distance}

		metrics.MatchDistance.Observe(matches[i].Distance)
		if matches[i].IsUnknown() {
			metrics.MatchesTotal.WithLabelValues("unknown").Inc()
		} else {
			metrics.MatchesTotal.WithLabelValues("matched").Inc()
		}
	}
	return results, nil
}

// SubmitFrame identifies the faces in image and records them in the session.
// Nothing is applied when any step fails or ctx is cancelled before the
// session is updated.
func (s *Service) SubmitFrame(ctx context.Context, sessionID string, image []byte, threshold float64) (*FrameResult, error) {
	info, err := s.manager.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if info.State != StateOpen {
		return nil, ErrInvalidState
	}

	faces, err := s.Identify(ctx, image, threshold)
	if err != nil {
		return nil, err
	}

	labels := make([]string, len(faces))
	for i, f := range faces {
		labels[i] = f.Label
	}

	outcomes, err := s.manager.Observe(ctx, sessionID, labels)
	if err != nil {
		return nil, err
	}

	result := &FrameResult{SessionID: sessionID, Faces: faces, Recorded: []string{}}
	for i := range faces {
		result.Faces[i].Outcome = outcomes[i]
		if outcomes[i] == OutcomeRecorded {
			result.Recorded = append(result.Recorded, faces[i].Label)
		}
	}

	logging.Ctx(ctx).Debug().Str("session", sessionID).Int("faces", len(faces)).
		Strs("recorded", result.Recorded).Msg("frame processed")
	return result, nil
}

// dedupFaces drops detections that overlap a higher scoring one.
func dedupFaces(faces []embedding.Face) []embedding.Face {
	if len(faces) < 2 {
		return faces
	}
	boxes := make([][]float64, len(faces))
	scores := make([]float64, len(faces))
	for i, f := range faces {
		boxes[i] = f.BBox
		scores[i] = f.Score
	}
	keep := facematch.SuppressOverlapping(boxes, scores, constants.OverlapIoUThreshold)
	if len(keep) == len(faces) {
		return faces
	}
	out := make([]embedding.Face, len(keep))
	for i, idx := range keep {
		out[i] = faces[idx]
	}
	return out
}
