package handlers

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	dbmock "github.com/kozaktomas/face-attendance/internal/database/mock"
	embmock "github.com/kozaktomas/face-attendance/internal/embedding/mock"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/gallery"
)

// testConfig creates a minimal config for testing
func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Embedding: config.EmbeddingConfig{Workers: 2, Model: "test"},
		Matching:  config.MatchingConfig{Threshold: 0.5},
		Gallery:   config.GalleryConfig{Root: t.TempDir()},
	}
}

// testEnv wires the attendance pipeline to in-memory fakes.
type testEnv struct {
	config   *config.Config
	backend  *dbmock.MockBackend
	provider *embmock.MockProvider
	holder   *gallery.Holder
	service  *attendance.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	backend := dbmock.NewMockBackend()
	backend.AddLesson(database.Lesson{ID: "math-1", Name: "Math", Teacher: "novak"},
		attendance.Roster{{StudentID: "alice", Name: "Alice"}, {StudentID: "bob", Name: "Bob"}})

	g, err := facematch.NewGallery([]facematch.Entry{
		{Label: "alice", Embeddings: []facematch.Embedding{{0, 0}, {0.1, 0.1}}},
		{Label: "bob", Embeddings: []facematch.Embedding{{10, 0}}},
	}, facematch.Metadata{Model: "test"})
	if err != nil {
		t.Fatalf("NewGallery: %v", err)
	}
	if err := backend.Save(ctx, g); err != nil {
		t.Fatalf("Save: %v", err)
	}

	holder := gallery.NewHolder(backend)
	if err := holder.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	provider := embmock.NewMockProvider()
	manager := attendance.NewManager(backend, backend)
	matcher := facematch.NewMatcher(facematch.MetricEuclidean, facematch.IndexLinear)
	service := attendance.NewService(provider, holder, matcher, manager, attendance.NewWorkerPool(2), 0.5)

	return &testEnv{
		config:   testConfig(t),
		backend:  backend,
		provider: provider,
		holder:   holder,
		service:  service,
	}
}

func (e *testEnv) galleryHandler() *GalleryHandler {
	return NewGalleryHandler(e.config, e.holder, e.provider, e.service, facematch.MetricEuclidean)
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// jsonRequest creates a request with a JSON body
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// multipartRequest creates a request uploading image as "file" plus extra form fields
func multipartRequest(t *testing.T, path string, image []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	if image != nil {
		part, err := writer.CreateFormFile("file", "frame.jpg")
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		_, _ = part.Write(image)
	}
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
