package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kozaktomas/face-attendance/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	galleryHandler := handlers.NewGalleryHandler(s.config, s.deps.Holder, s.deps.Provider, s.deps.Service, s.deps.Metric)
	lessonsHandler := handlers.NewLessonsHandler(s.deps.Lessons, s.deps.Records)
	sessionsHandler := handlers.NewSessionsHandler(s.deps.Service)

	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck(s.deps.Provider))

		// Gallery
		r.Get("/gallery", galleryHandler.Info)
		r.Post("/gallery/reload", galleryHandler.Reload)
		r.Get("/gallery/calibration", galleryHandler.Calibrate)
		r.Post("/gallery/enroll", galleryHandler.Enroll)
		r.Post("/gallery/match", galleryHandler.Match)

		// Training (long-running)
		r.Post("/gallery/train", galleryHandler.Train)
		r.Get("/gallery/train/{jobId}", galleryHandler.TrainStatus)
		r.Get("/gallery/train/{jobId}/events", galleryHandler.TrainEvents)
		r.Delete("/gallery/train/{jobId}", galleryHandler.CancelTrain)

		// Lessons
		r.Get("/lessons", lessonsHandler.List)
		r.Post("/lessons", lessonsHandler.Create)
		r.Get("/lessons/{id}", lessonsHandler.Get)
		r.Delete("/lessons/{id}", lessonsHandler.Delete)
		r.Get("/lessons/{id}/roster", lessonsHandler.GetRoster)
		r.Put("/lessons/{id}/roster", lessonsHandler.SetRoster)
		r.Get("/lessons/{id}/attendance", lessonsHandler.Attendance)

		// Sessions
		r.Post("/sessions", sessionsHandler.Open)
		r.Get("/sessions", sessionsHandler.List)
		r.Get("/sessions/{id}", sessionsHandler.Get)
		r.Post("/sessions/{id}/close", sessionsHandler.Close)
		r.With(s.frameLimiter()).Post("/sessions/{id}/frames", sessionsHandler.SubmitFrame)
	})
}

// frameLimiter bounds frame submissions per client IP. A non-positive limit disables it.
func (s *Server) frameLimiter() func(http.Handler) http.Handler {
	if s.config.Web.FrameRateLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.LimitByIP(s.config.Web.FrameRateLimit, time.Minute)
}
