package attendance

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/kozaktomas/face-attendance/internal/embedding/mock"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

type staticGallery struct {
	g   *facematch.Gallery
	err error
}

func (s staticGallery) Current() (*facematch.Gallery, error) {
	return s.g, s.err
}

func testGallery(t *testing.T) *facematch.Gallery {
	t.Helper()
	g, err := facematch.NewGallery([]facematch.Entry{
		{Label: "alice", Embeddings: []facematch.Embedding{{0, 0}}},
		{Label: "bob", Embeddings: []facematch.Embedding{{10, 0}}},
	}, facematch.Metadata{Model: "test"})
	if err != nil {
		t.Fatalf("NewGallery: %v", err)
	}
	return g
}

func newTestService(t *testing.T, provider embedding.Provider, galleries GallerySource) (*Service, *captureRecorder) {
	t.Helper()
	rec := &captureRecorder{}
	rosters := &rosterMap{rosters: map[string]Roster{"math": roster("alice", "bob")}}
	manager := NewManager(rosters, rec, WithClock(func() time.Time { return t0 }))
	svc := NewService(provider, galleries, facematch.NewMatcher(facematch.MetricEuclidean, facematch.IndexLinear), manager, NewWorkerPool(2), 0)
	return svc, rec
}

func TestService_SubmitFrame(t *testing.T) {
	provider := mock.NewMockProvider()
	frame := []byte("frame-1")
	provider.SetFaces(frame,
		embedding.Face{Embedding: facematch.Embedding{0.1, 0}, BBox: []float64{0, 0, 0.2, 0.2}, Score: 0.99},
		embedding.Face{Embedding: facematch.Embedding{50, 50}, BBox: []float64{0.5, 0.5, 0.7, 0.7}, Score: 0.95},
	)
	svc, rec := newTestService(t, provider, staticGallery{g: testGallery(t)})
	ctx := context.Background()

	info, err := svc.Manager().Open(ctx, "math")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	result, err := svc.SubmitFrame(ctx, info.ID, frame, 0)
	if err != nil {
		t.Fatalf("SubmitFrame: %v", err)
	}
	if len(result.Faces) != 2 {
		t.Fatalf("expected 2 faces, got %d", len(result.Faces))
	}
	if result.Faces[0].Label != "alice" || result.Faces[0].Outcome != OutcomeRecorded {
		t.Errorf("unexpected first face %+v", result.Faces[0])
	}
	if result.Faces[1].Label != facematch.Unknown || result.Faces[1].Outcome != OutcomeUnknown {
		t.Errorf("unexpected second face %+v", result.Faces[1])
	}
	if len(result.Recorded) != 1 || result.Recorded[0] != "alice" {
		t.Errorf("recorded = %v, want [alice]", result.Recorded)
	}

	again, err := svc.SubmitFrame(ctx, info.ID, frame, 0)
	if err != nil {
		t.Fatalf("second SubmitFrame: %v", err)
	}
	if again.Faces[0].Outcome != OutcomeDuplicate || len(again.Recorded) != 0 {
		t.Errorf("repeated frame should be a duplicate, got %+v", again)
	}

	records, err := svc.Manager().Close(ctx, info.ID)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	got := byStudent(records)
	if got["alice"].Status != StatusPresent || got["bob"].Status != StatusAbsent {
		t.Errorf("unexpected records %+v", records)
	}
	if rec.calls != 1 {
		t.Errorf("recorder called %d times", rec.calls)
	}

	if _, err := svc.SubmitFrame(ctx, info.ID, frame, 0); !errors.Is(err, ErrInvalidState) {
		t.Errorf("frame after close: expected ErrInvalidState, got %v", err)
	}
}

func TestService_SubmitFrameErrors(t *testing.T) {
	provider := mock.NewMockProvider()
	withFace := []byte("face")
	provider.SetEmbedding(withFace, facematch.Embedding{0, 0})
	broken := []byte("broken")
	provider.SetError(broken, errors.New("upstream 500"))

	tests := []struct {
		name      string
		galleries GallerySource
		session   string
		image     []byte
		wantErr   error
	}{
		{"no faces", staticGallery{g: testGallery(t)}, "", []byte("empty"), embedding.ErrNoFaceDetected},
		{"gallery missing", staticGallery{err: facematch.ErrGalleryMissing}, "", withFace, facematch.ErrGalleryMissing},
		{"unknown session", staticGallery{g: testGallery(t)}, "nope", withFace, ErrSessionNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t, provider, tt.galleries)
			id := tt.session
			if id == "" {
				info, err := svc.Manager().Open(context.Background(), "math")
				if err != nil {
					t.Fatalf("Open: %v", err)
				}
				id = info.ID
			}
			if _, err := svc.SubmitFrame(context.Background(), id, tt.image, 0); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	t.Run("provider error", func(t *testing.T) {
		svc, _ := newTestService(t, provider, staticGallery{g: testGallery(t)})
		info, _ := svc.Manager().Open(context.Background(), "math")
		_, err := svc.SubmitFrame(context.Background(), info.ID, broken, 0)
		if err == nil || !strings.Contains(err.Error(), "upstream 500") {
			t.Errorf("expected provider error, got %v", err)
		}
	})
}

func TestService_CancelledFrameAppliesNothing(t *testing.T) {
	provider := mock.NewMockProvider()
	frame := []byte("frame")
	provider.SetEmbedding(frame, facematch.Embedding{0, 0})
	provider.Block = make(chan struct{})

	svc, _ := newTestService(t, provider, staticGallery{g: testGallery(t)})
	info, err := svc.Manager().Open(context.Background(), "math")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := svc.SubmitFrame(ctx, info.ID, frame, 0)
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("SubmitFrame did not return after cancellation")
	}

	got, _ := svc.Manager().Get(info.ID)
	if len(got.Present) != 0 {
		t.Errorf("cancelled frame must not change the session, got %+v", got.Present)
	}
}

func TestService_OverlappingDetectionsCountOnce(t *testing.T) {
	provider := mock.NewMockProvider()
	frame := []byte("frame")
	provider.SetFaces(frame,
		embedding.Face{Embedding: facematch.Embedding{0, 0}, BBox: []float64{0.1, 0.1, 0.4, 0.4}, Score: 0.9},
		embedding.Face{Embedding: facematch.Embedding{0.05, 0}, BBox: []float64{0.11, 0.1, 0.41, 0.4}, Score: 0.8},
		embedding.Face{Embedding: facematch.Embedding{10, 0}, BBox: []float64{0.6, 0.6, 0.9, 0.9}, Score: 0.85},
	)
	svc, _ := newTestService(t, provider, staticGallery{g: testGallery(t)})

	faces, err := svc.Identify(context.Background(), frame, 0)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if len(faces) != 2 {
		t.Fatalf("expected 2 faces after suppression, got %d", len(faces))
	}
	if faces[0].Label != "alice" || faces[1].Label != "bob" {
		t.Errorf("unexpected labels %q, %q", faces[0].Label, faces[1].Label)
	}
}

func TestService_ThresholdOverride(t *testing.T) {
	provider := mock.NewMockProvider()
	frame := []byte("frame")
	provider.SetEmbedding(frame, facematch.Embedding{0.8, 0})
	svc, _ := newTestService(t, provider, staticGallery{g: testGallery(t)})

	if svc.Threshold() != 0.5 {
		t.Fatalf("default threshold = %v, want 0.5", svc.Threshold())
	}

	faces, err := svc.Identify(context.Background(), frame, 0)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if faces[0].Label != facematch.Unknown {
		t.Errorf("expected unknown at default threshold, got %q", faces[0].Label)
	}

	faces, err = svc.Identify(context.Background(), frame, 1.0)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if faces[0].Label != "alice" {
		t.Errorf("expected alice with a wider threshold, got %q", faces[0].Label)
	}
}

func TestWorkerPool_BoundsConcurrency(t *testing.T) {
	pool := NewWorkerPool(1)
	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_ = pool.Do(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Do(ctx, func(context.Context) error {
		t.Error("second job must not run while the slot is taken")
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
	close(release)

	if err := pool.Do(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Errorf("pool should be free again, got %v", err)
	}
}

func TestJSONRecorder(t *testing.T) {
	var buf bytes.Buffer
	rec := NewJSONRecorder(&buf, false)

	records := []Record{
		{SessionID: "s1", LessonID: "math", StudentID: "alice", Timestamp: t0, Status: StatusPresent},
		{SessionID: "s1", LessonID: "math", StudentID: "bob", Timestamp: t0, Status: StatusAbsent},
	}
	if err := rec.Record(context.Background(), records); err != nil {
		t.Fatalf("Record: %v", err)
	}

	var doc struct {
		Summary Summary  `json:"summary"`
		Records []Record `json:"records"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("invalid json %q: %v", buf.String(), err)
	}
	if doc.Summary.Present != 1 || doc.Summary.Absent != 1 || len(doc.Records) != 2 {
		t.Errorf("unexpected document %+v", doc)
	}
	if doc.Records[0].StudentID != "alice" || doc.Records[0].Status != StatusPresent {
		t.Errorf("unexpected first record %+v", doc.Records[0])
	}
}
