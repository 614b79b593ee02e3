package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/gallery"
)

func TestGalleryHandler_Info(t *testing.T) {
	env := newTestEnv(t)
	recorder := httptest.NewRecorder()

	env.galleryHandler().Info(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/gallery", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	var info GalleryInfo
	parseJSONResponse(t, recorder, &info)
	if len(info.Labels) != 2 || info.Labels[0].Label != "alice" || info.Labels[0].Embeddings != 2 {
		t.Errorf("unexpected labels %+v", info.Labels)
	}
	if info.Embeddings != 3 || info.Dim != 2 || info.Model != "test" {
		t.Errorf("unexpected info %+v", info)
	}
}

func TestGalleryHandler_Info_NotTrained(t *testing.T) {
	env := newTestEnv(t)
	handler := NewGalleryHandler(env.config, gallery.NewHolder(env.backend), env.provider, env.service, facematch.MetricEuclidean)
	recorder := httptest.NewRecorder()

	handler.Info(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/gallery", nil))

	assertStatusCode(t, recorder, http.StatusServiceUnavailable)
	assertJSONError(t, recorder, "gallery not available, train it first")
}

func TestGalleryHandler_Reload(t *testing.T) {
	env := newTestEnv(t)
	holder := gallery.NewHolder(env.backend)
	handler := NewGalleryHandler(env.config, holder, env.provider, env.service, facematch.MetricEuclidean)

	recorder := httptest.NewRecorder()
	handler.Reload(recorder, httptest.NewRequest(http.MethodPost, "/api/v1/gallery/reload", nil))
	assertStatusCode(t, recorder, http.StatusOK)

	if _, err := holder.Current(); err != nil {
		t.Errorf("expected gallery to be published after reload: %v", err)
	}

	env.backend.LoadError = errors.New("store down")
	recorder = httptest.NewRecorder()
	handler.Reload(recorder, httptest.NewRequest(http.MethodPost, "/api/v1/gallery/reload", nil))
	assertStatusCode(t, recorder, http.StatusInternalServerError)
}

func TestGalleryHandler_Calibrate(t *testing.T) {
	env := newTestEnv(t)
	handler := env.galleryHandler()

	recorder := httptest.NewRecorder()
	handler.Calibrate(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/gallery/calibration?threshold=1", nil))
	assertStatusCode(t, recorder, http.StatusOK)

	var body struct {
		Threshold       float64 `json:"threshold"`
		FalseAcceptRate float64 `json:"false_accept_rate"`
		FalseRejectRate float64 `json:"false_reject_rate"`
	}
	parseJSONResponse(t, recorder, &body)
	if body.Threshold != 1 {
		t.Errorf("threshold = %v, want 1", body.Threshold)
	}
	// Genuine distance is ~0.14, impostor distances are ~10.
	if body.FalseAcceptRate != 0 || body.FalseRejectRate != 0 {
		t.Errorf("expected perfect separation at 1, got far=%v frr=%v", body.FalseAcceptRate, body.FalseRejectRate)
	}

	recorder = httptest.NewRecorder()
	handler.Calibrate(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/gallery/calibration?threshold=abc", nil))
	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "invalid threshold")
}

func TestGalleryHandler_Enroll(t *testing.T) {
	env := newTestEnv(t)
	photo := []byte("carol-photo")
	env.provider.SetEmbedding(photo, facematch.Embedding{5, 5})
	handler := env.galleryHandler()

	recorder := httptest.NewRecorder()
	handler.Enroll(recorder, multipartRequest(t, "/api/v1/gallery/enroll", photo, map[string]string{"label": "carol"}))
	assertStatusCode(t, recorder, http.StatusCreated)

	g, err := env.holder.Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if !g.Has("carol") || g.Size() != 4 {
		t.Errorf("expected carol enrolled, labels=%v size=%d", g.Labels(), g.Size())
	}

	stored, err := env.backend.Load(t.Context())
	if err != nil || !stored.Has("carol") {
		t.Errorf("expected enrolled gallery to be persisted, err=%v", err)
	}
}

func TestGalleryHandler_Enroll_Errors(t *testing.T) {
	tests := []struct {
		name       string
		label      string
		image      []byte
		setup      func(env *testEnv, image []byte)
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "missing label",
			image:      []byte("x"),
			wantStatus: http.StatusBadRequest,
			wantMsg:    "label is required",
		},
		{
			name:       "no face",
			label:      "carol",
			image:      []byte("empty-room"),
			wantStatus: http.StatusUnprocessableEntity,
			wantMsg:    "no face found, retake",
		},
		{
			name:  "wrong dimension",
			label: "carol",
			image: []byte("3d"),
			setup: func(env *testEnv, image []byte) {
				env.provider.SetEmbedding(image, facematch.Embedding{1, 2, 3})
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantMsg:    "embedding does not match gallery dimension",
		},
		{
			name:  "store failure",
			label: "carol",
			image: []byte("ok"),
			setup: func(env *testEnv, image []byte) {
				env.provider.SetEmbedding(image, facematch.Embedding{1, 2})
				env.backend.SaveError = errors.New("disk full")
			},
			wantStatus: http.StatusInternalServerError,
			wantMsg:    "internal error",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tc.setup != nil {
				tc.setup(env, tc.image)
			}
			fields := map[string]string{}
			if tc.label != "" {
				fields["label"] = tc.label
			}

			recorder := httptest.NewRecorder()
			env.galleryHandler().Enroll(recorder, multipartRequest(t, "/api/v1/gallery/enroll", tc.image, fields))

			assertStatusCode(t, recorder, tc.wantStatus)
			assertJSONError(t, recorder, tc.wantMsg)

			g, _ := env.holder.Current()
			if g.Has("carol") {
				t.Error("failed enrollment must not change the published gallery")
			}
		})
	}
}

func TestGalleryHandler_Match(t *testing.T) {
	env := newTestEnv(t)
	photo := []byte("group")
	env.provider.SetFaces(photo,
		embedding.Face{Embedding: facematch.Embedding{9.8, 0}, BBox: []float64{0, 0, 10, 10}, Score: 0.9},
		embedding.Face{Embedding: facematch.Embedding{50, 50}, BBox: []float64{20, 20, 30, 30}, Score: 0.8},
	)
	handler := env.galleryHandler()

	recorder := httptest.NewRecorder()
	handler.Match(recorder, multipartRequest(t, "/api/v1/gallery/match", photo, nil))
	assertStatusCode(t, recorder, http.StatusOK)

	var body struct {
		Faces []struct {
			Label string `json:"label"`
		} `json:"faces"`
	}
	parseJSONResponse(t, recorder, &body)
	if len(body.Faces) != 2 || body.Faces[0].Label != "bob" || body.Faces[1].Label != facematch.Unknown {
		t.Errorf("unexpected faces %+v", body.Faces)
	}

	// A stricter threshold rejects bob at distance 0.2.
	recorder = httptest.NewRecorder()
	handler.Match(recorder, multipartRequest(t, "/api/v1/gallery/match", photo, map[string]string{"threshold": "0.1"}))
	assertStatusCode(t, recorder, http.StatusOK)
	parseJSONResponse(t, recorder, &body)
	if body.Faces[0].Label != facematch.Unknown {
		t.Errorf("expected unknown at threshold 0.1, got %q", body.Faces[0].Label)
	}

	recorder = httptest.NewRecorder()
	handler.Match(recorder, multipartRequest(t, "/api/v1/gallery/match", photo, map[string]string{"threshold": "-1"}))
	assertStatusCode(t, recorder, http.StatusBadRequest)
}

func writeDataset(t *testing.T, root string, files map[string][]byte) {
	t.Helper()
	for rel, data := range files {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, data, 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
}

func waitForJob(t *testing.T, job *TrainJob) TrainJobView {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if isJobTerminal(job.GetStatus()) {
			return job.View()
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish, status %s", job.ID, job.GetStatus())
	return TrainJobView{}
}

func TestGalleryHandler_Train(t *testing.T) {
	env := newTestEnv(t)
	writeDataset(t, env.config.Gallery.Root, map[string][]byte{
		"dave/1.jpg": []byte("dave-1"),
		"dave/2.jpg": []byte("dave-2"),
		"erin/1.jpg": []byte("erin-1"),
		"erin/2.jpg": []byte("blank"),
	})
	env.provider.SetEmbedding([]byte("dave-1"), facematch.Embedding{1, 1})
	env.provider.SetEmbedding([]byte("dave-2"), facematch.Embedding{1.1, 1})
	env.provider.SetEmbedding([]byte("erin-1"), facematch.Embedding{7, 7})
	handler := env.galleryHandler()

	recorder := httptest.NewRecorder()
	handler.Train(recorder, httptest.NewRequest(http.MethodPost, "/api/v1/gallery/train", nil))
	assertStatusCode(t, recorder, http.StatusAccepted)

	var started TrainJobView
	parseJSONResponse(t, recorder, &started)
	job := handler.jobManager.GetJob(started.ID)
	if job == nil {
		t.Fatalf("job %s not registered", started.ID)
	}

	view := waitForJob(t, job)
	if view.Status != JobStatusCompleted {
		t.Fatalf("expected completed job, got %+v", view)
	}
	if view.Report == nil || view.Report.Embedded != 3 || len(view.Report.Skipped) != 1 {
		t.Errorf("unexpected report %+v", view.Report)
	}
	if view.Processed != 4 || view.Total != 4 {
		t.Errorf("progress = %d/%d, want 4/4", view.Processed, view.Total)
	}

	g, err := env.holder.Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	labels := g.Labels()
	if len(labels) != 2 || labels[0] != "dave" || labels[1] != "erin" {
		t.Errorf("expected rebuilt gallery, got labels %v", labels)
	}

	recorder = httptest.NewRecorder()
	handler.TrainStatus(recorder, requestWithChiParams(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"jobId": started.ID}))
	assertStatusCode(t, recorder, http.StatusOK)

	recorder = httptest.NewRecorder()
	handler.CancelTrain(recorder, requestWithChiParams(httptest.NewRequest(http.MethodDelete, "/", nil), map[string]string{"jobId": started.ID}))
	assertStatusCode(t, recorder, http.StatusConflict)
	assertJSONError(t, recorder, "job already finished")
}

func TestGalleryHandler_Train_EmptyDatasetKeepsGallery(t *testing.T) {
	env := newTestEnv(t)
	handler := env.galleryHandler()

	recorder := httptest.NewRecorder()
	handler.Train(recorder, httptest.NewRequest(http.MethodPost, "/api/v1/gallery/train", nil))
	assertStatusCode(t, recorder, http.StatusAccepted)

	var started TrainJobView
	parseJSONResponse(t, recorder, &started)
	view := waitForJob(t, handler.jobManager.GetJob(started.ID))
	if view.Status != JobStatusFailed || view.Error == "" {
		t.Errorf("expected failed job, got %+v", view)
	}

	g, err := env.holder.Current()
	if err != nil || !g.Has("alice") {
		t.Errorf("previous gallery must stay published, err=%v", err)
	}
}

func TestGalleryHandler_CancelTrain(t *testing.T) {
	env := newTestEnv(t)
	writeDataset(t, env.config.Gallery.Root, map[string][]byte{"dave/1.jpg": []byte("dave-1")})
	env.provider.Block = make(chan struct{})
	handler := env.galleryHandler()

	recorder := httptest.NewRecorder()
	handler.Train(recorder, httptest.NewRequest(http.MethodPost, "/api/v1/gallery/train", nil))
	var started TrainJobView
	parseJSONResponse(t, recorder, &started)

	recorder = httptest.NewRecorder()
	handler.Train(recorder, httptest.NewRequest(http.MethodPost, "/api/v1/gallery/train", nil))
	assertStatusCode(t, recorder, http.StatusConflict)

	recorder = httptest.NewRecorder()
	handler.CancelTrain(recorder, requestWithChiParams(httptest.NewRequest(http.MethodDelete, "/", nil), map[string]string{"jobId": started.ID}))
	assertStatusCode(t, recorder, http.StatusOK)

	view := waitForJob(t, handler.jobManager.GetJob(started.ID))
	if view.Status != JobStatusCancelled {
		t.Errorf("expected cancelled job, got %s", view.Status)
	}
	g, _ := env.holder.Current()
	if g.Has("dave") {
		t.Error("cancelled training must not publish a gallery")
	}

	recorder = httptest.NewRecorder()
	handler.TrainStatus(recorder, requestWithChiParams(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"jobId": "missing"}))
	assertStatusCode(t, recorder, http.StatusNotFound)
}
