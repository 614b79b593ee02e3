package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/logging"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

var (
	validate = validator.New()

	errBadBody = errors.New(errInvalidRequestBody)
)

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
// The body is encoded before the status is written so an unencodable value
// turns into a 500 instead of an empty response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	if data == nil {
		w.WriteHeader(status)
		return
	}

	body, err := json.Marshal(data)
	if err != nil {
		logging.Error().Err(err).Msg("failed to encode response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal error"}` + "\n"))
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// errorStatus maps a domain error to an HTTP status and a client message.
func errorStatus(err error) (int, string) {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return http.StatusBadRequest, validationMessage(verrs)
	case errors.Is(err, embedding.ErrNoFaceDetected):
		return http.StatusUnprocessableEntity, "no face found, retake"
	case errors.Is(err, embedding.ErrInvalidImage):
		return http.StatusBadRequest, "invalid image"
	case errors.Is(err, embedding.ErrUnavailable):
		return http.StatusServiceUnavailable, "embedding service unavailable"
	case errors.Is(err, gallery.ErrNotFound), errors.Is(err, facematch.ErrGalleryMissing):
		return http.StatusServiceUnavailable, "gallery not available, train it first"
	case errors.Is(err, facematch.ErrDimensionMismatch):
		return http.StatusUnprocessableEntity, "embedding does not match gallery dimension"
	case errors.Is(err, facematch.ErrEmptyLabel), errors.Is(err, attendance.ErrEmptyLessonID):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, facematch.ErrInvalidThreshold):
		return http.StatusBadRequest, "threshold must be positive"
	case errors.Is(err, attendance.ErrSessionNotFound):
		return http.StatusNotFound, "session not found"
	case errors.Is(err, attendance.ErrInvalidState):
		return http.StatusConflict, "session is not open"
	case errors.Is(err, attendance.ErrSessionExists):
		return http.StatusConflict, "lesson already has an open session"
	case errors.Is(err, database.ErrLessonNotFound):
		return http.StatusNotFound, "lesson not found"
	case errors.Is(err, database.ErrLessonExists):
		return http.StatusConflict, "lesson already exists"
	case errors.Is(err, attendance.ErrRosterUnavailable):
		return http.StatusServiceUnavailable, "roster unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func validationMessage(verrs validator.ValidationErrors) string {
	fields := make([]string, len(verrs))
	for i, fe := range verrs {
		fields[i] = fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag())
	}
	return "invalid " + strings.Join(fields, ", ")
}

// respondServiceError writes the mapped status for err and logs server-side failures.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	}
	respondError(w, status, msg)
}

// decodeJSON decodes the request body into v and validates it.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errBadBody
	}
	return validate.Struct(v)
}

// respondDecodeError reports a malformed or invalid JSON body.
func respondDecodeError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		respondError(w, http.StatusBadRequest, validationMessage(verrs))
		return
	}
	respondError(w, http.StatusBadRequest, errInvalidRequestBody)
}

// readImage reads the "file" part of a multipart upload.
func readImage(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return nil, false
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "file is required")
		return nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read file")
		return nil, false
	}
	if len(data) == 0 {
		respondError(w, http.StatusBadRequest, "file is empty")
		return nil, false
	}
	return data, true
}

// HealthCheck returns the health endpoint. The service reports "degraded"
// while the circuit breaker in front of the embedding service is open.
func HealthCheck(provider embedding.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]string{"status": "ok"}
		if state := embedding.BreakerState(provider); state != "" {
			body["embedding"] = state
			if state == "open" {
				body["status"] = "degraded"
			}
		}
		respondJSON(w, http.StatusOK, body)
	}
}
