package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/logging"
)

// LessonsHandler manages lessons, their rosters and stored attendance.
type LessonsHandler struct {
	lessons database.LessonWriter
	records database.RecordReader
}

func NewLessonsHandler(lessons database.LessonWriter, records database.RecordReader) *LessonsHandler {
	return &LessonsHandler{lessons: lessons, records: records}
}

// List returns all lessons, optionally filtered by ?teacher=.
func (h *LessonsHandler) List(w http.ResponseWriter, r *http.Request) {
	lessons, err := h.lessons.ListLessons(r.Context(), r.URL.Query().Get("teacher"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if lessons == nil {
		lessons = []database.Lesson{}
	}
	respondJSON(w, http.StatusOK, lessons)
}

// Create adds a lesson with an empty roster.
func (h *LessonsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var lesson database.Lesson
	if err := decodeJSON(r, &lesson); err != nil {
		respondDecodeError(w, err)
		return
	}
	lesson.CreatedAt = time.Time{}

	if err := h.lessons.CreateLesson(r.Context(), lesson); err != nil {
		respondServiceError(w, r, err)
		return
	}
	logging.Ctx(r.Context()).Info().Str("lesson", sanitizeForLog(lesson.ID)).Msg("lesson created")

	created, err := h.lessons.GetLesson(r.Context(), lesson.ID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

// Get returns one lesson.
func (h *LessonsHandler) Get(w http.ResponseWriter, r *http.Request) {
	lesson, err := h.lessons.GetLesson(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, lesson)
}

// Delete removes a lesson and its roster. Stored records are kept.
func (h *LessonsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.lessons.DeleteLesson(r.Context(), id); err != nil {
		respondServiceError(w, r, err)
		return
	}
	logging.Ctx(r.Context()).Info().Str("lesson", sanitizeForLog(id)).Msg("lesson deleted")
	w.WriteHeader(http.StatusNoContent)
}

// RosterRequest replaces the roster of a lesson.
type RosterRequest struct {
	Students []attendance.Member `json:"students" validate:"dive"`
}

// GetRoster returns the enrolled students of a lesson.
func (h *LessonsHandler) GetRoster(w http.ResponseWriter, r *http.Request) {
	roster, err := h.lessons.Roster(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if roster == nil {
		roster = attendance.Roster{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"students": roster})
}

// SetRoster replaces the roster of a lesson. Open sessions still check
// frames against the roster they opened with; absences are computed from the
// roster current at close.
func (h *LessonsHandler) SetRoster(w http.ResponseWriter, r *http.Request) {
	var req RosterRequest
	if err := decodeJSON(r, &req); err != nil {
		respondDecodeError(w, err)
		return
	}

	seen := make(map[string]struct{}, len(req.Students))
	for _, s := range req.Students {
		if _, dup := seen[s.StudentID]; dup {
			respondError(w, http.StatusBadRequest, "student "+s.StudentID+" listed twice")
			return
		}
		seen[s.StudentID] = struct{}{}
	}

	roster := attendance.Roster(req.Students)
	if roster == nil {
		roster = attendance.Roster{}
	}
	if err := h.lessons.SetRoster(r.Context(), chi.URLParam(r, "id"), roster); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"students": roster})
}

// Attendance returns the stored records of a lesson with a summary.
func (h *LessonsHandler) Attendance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.lessons.GetLesson(r.Context(), id); err != nil {
		respondServiceError(w, r, err)
		return
	}

	records, err := h.records.ListByLesson(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if records == nil {
		records = []attendance.Record{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"summary": database.SummarizeLesson(id, records),
		"records": records,
	})
}
