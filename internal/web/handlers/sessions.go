package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/logging"
)

// SessionsHandler drives attendance sessions: open, submit frames, close.
type SessionsHandler struct {
	service *attendance.Service
}

func NewSessionsHandler(service *attendance.Service) *SessionsHandler {
	return &SessionsHandler{service: service}
}

// OpenSessionRequest starts a session for a lesson.
type OpenSessionRequest struct {
	LessonID string `json:"lesson_id" validate:"required,max=64"`
}

// CloseSessionResponse is returned when a session closes.
type CloseSessionResponse struct {
	Session attendance.Info     `json:"session"`
	Summary attendance.Summary  `json:"summary"`
	Records []attendance.Record `json:"records"`
}

// Open starts a session.
func (h *SessionsHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req OpenSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondDecodeError(w, err)
		return
	}

	info, err := h.service.Manager().Open(r.Context(), req.LessonID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, info)
}

// List returns the open sessions and the recently closed ones.
func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.service.Manager().List())
}

// Get returns one session with the students seen so far.
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	info, err := h.service.Manager().Get(chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

// SubmitFrame identifies the faces in one camera frame and records them.
func (h *SessionsHandler) SubmitFrame(w http.ResponseWriter, r *http.Request) {
	image, ok := readImage(w, r)
	if !ok {
		return
	}
	threshold, ok := formThreshold(w, r)
	if !ok {
		return
	}

	result, err := h.service.SubmitFrame(r.Context(), chi.URLParam(r, "id"), image, threshold)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Close finalises a session and emits one record per enrolled student.
func (h *SessionsHandler) Close(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	records, err := h.service.Manager().Close(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	info, err := h.service.Manager().Get(id)
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Str("session", id).Msg("closed session vanished")
	}
	if records == nil {
		records = []attendance.Record{}
	}
	respondJSON(w, http.StatusOK, CloseSessionResponse{
		Session: info,
		Summary: attendance.Summarize(records),
		Records: records,
	})
}
