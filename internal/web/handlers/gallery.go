package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/logging"
)

// GalleryHandler serves gallery inspection, training and enrollment.
type GalleryHandler struct {
	config     *config.Config
	holder     *gallery.Holder
	provider   embedding.Provider
	service    *attendance.Service
	metric     facematch.Metric
	jobManager *JobManager
}

func NewGalleryHandler(cfg *config.Config, holder *gallery.Holder, provider embedding.Provider, service *attendance.Service, metric facematch.Metric) *GalleryHandler {
	return &GalleryHandler{
		config:     cfg,
		holder:     holder,
		provider:   provider,
		service:    service,
		metric:     metric,
		jobManager: NewJobManager(),
	}
}

// GalleryLabel is one label of the published gallery.
type GalleryLabel struct {
	Label      string `json:"label"`
	Embeddings int    `json:"embeddings"`
}

// GalleryInfo describes the published gallery snapshot.
type GalleryInfo struct {
	Labels     []GalleryLabel `json:"labels"`
	Embeddings int            `json:"embeddings"`
	Dim        int            `json:"dim"`
	Model      string         `json:"model,omitempty"`
	BuiltAt    *time.Time     `json:"built_at,omitempty"`
}

// Info returns the labels and size of the current gallery.
func (h *GalleryHandler) Info(w http.ResponseWriter, r *http.Request) {
	g, err := h.holder.Current()
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	info := GalleryInfo{
		Labels:     make([]GalleryLabel, 0, g.Len()),
		Embeddings: g.Size(),
		Dim:        g.Dim(),
		Model:      g.Metadata().Model,
	}
	if built := g.Metadata().BuiltAt; !built.IsZero() {
		info.BuiltAt = &built
	}
	for _, e := range g.Entries() {
		info.Labels = append(info.Labels, GalleryLabel{Label: e.Label, Embeddings: len(e.Embeddings)})
	}
	respondJSON(w, http.StatusOK, info)
}

// Reload republishes the gallery from the store.
func (h *GalleryHandler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.holder.Load(r.Context()); err != nil {
		respondServiceError(w, r, err)
		return
	}
	h.Info(w, r)
}

// Calibrate reports genuine and impostor distance statistics of the gallery.
// An optional threshold query parameter adds its error rates.
func (h *GalleryHandler) Calibrate(w http.ResponseWriter, r *http.Request) {
	g, err := h.holder.Current()
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	cal, err := facematch.Calibrate(g, h.metric)
	if errors.Is(err, facematch.ErrInsufficientData) {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	threshold := h.service.Threshold()
	if v := r.URL.Query().Get("threshold"); v != "" {
		threshold, err = strconv.ParseFloat(v, 64)
		if err != nil || threshold <= 0 {
			respondError(w, http.StatusBadRequest, "invalid threshold")
			return
		}
	}
	far, frr := cal.ErrorRates(threshold)

	respondJSON(w, http.StatusOK, map[string]any{
		"calibration":          cal,
		"threshold":            threshold,
		"false_accept_rate":    far,
		"false_reject_rate":    frr,
		"configured_threshold": h.service.Threshold(),
	})
}

// Train starts an asynchronous rebuild from the configured dataset directory.
func (h *GalleryHandler) Train(w http.ResponseWriter, r *http.Request) {
	job, ok := h.jobManager.StartJob(uuid.NewString(), h.config.Gallery.Root)
	if !ok {
		respondError(w, http.StatusConflict, "training already running")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	job.setCancel(cancel)

	go h.runTrainJob(ctx, job)

	respondJSON(w, http.StatusAccepted, job.View())
}

func (h *GalleryHandler) runTrainJob(ctx context.Context, job *TrainJob) {
	defer job.cancel()

	job.mu.Lock()
	if job.Status == JobStatusPending {
		job.Status = JobStatusRunning
	}
	job.mu.Unlock()
	job.SendEvent(JobEvent{Type: "started", Data: job.View()})

	builder := gallery.NewBuilder(h.provider,
		gallery.WithWorkers(h.config.Embedding.Workers),
		gallery.WithModel(h.config.Embedding.Model),
		gallery.WithDim(h.config.Embedding.Dim),
		gallery.WithProgress(job.setProgress),
	)
	report, err := h.holder.Rebuild(ctx, builder, job.Root)
	if err != nil {
		logging.Error().Err(err).Str("job", job.ID).Msg("gallery training failed")
	}
	job.finish(report, err)
}

// TrainStatus returns a train job.
func (h *GalleryHandler) TrainStatus(w http.ResponseWriter, r *http.Request) {
	job := h.jobManager.GetJob(chi.URLParam(r, "jobId"))
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	respondJSON(w, http.StatusOK, job.View())
}

// TrainEvents streams progress of a train job as server-sent events.
func (h *GalleryHandler) TrainEvents(w http.ResponseWriter, r *http.Request) {
	streamSSEEvents(w, r,
		func(id string) SSEJob {
			if job := h.jobManager.GetJob(id); job != nil {
				return job
			}
			return nil
		},
		func(job SSEJob) any { return job.(*TrainJob).View() },
	)
}

// CancelTrain cancels a running train job.
func (h *GalleryHandler) CancelTrain(w http.ResponseWriter, r *http.Request) {
	job := h.jobManager.GetJob(chi.URLParam(r, "jobId"))
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if isJobTerminal(job.GetStatus()) {
		respondError(w, http.StatusConflict, "job already finished")
		return
	}
	job.Cancel()
	respondJSON(w, http.StatusOK, job.View())
}

// Enroll adds one photo of a label to the gallery.
func (h *GalleryHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	image, ok := readImage(w, r)
	if !ok {
		return
	}
	label := r.FormValue("label")
	if label == "" {
		respondError(w, http.StatusBadRequest, "label is required")
		return
	}

	g, err := h.holder.Enroll(r.Context(), h.provider, label, image)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	embeddings, _ := g.Embeddings(label)
	respondJSON(w, http.StatusCreated, map[string]any{
		"label":            label,
		"label_embeddings": len(embeddings),
		"embeddings":       g.Size(),
	})
}

// Match identifies the faces in an uploaded image without touching any session.
func (h *GalleryHandler) Match(w http.ResponseWriter, r *http.Request) {
	image, ok := readImage(w, r)
	if !ok {
		return
	}
	threshold, ok := formThreshold(w, r)
	if !ok {
		return
	}

	faces, err := h.service.Identify(r.Context(), image, threshold)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"faces": faces})
}

// formThreshold reads the optional threshold form value. Zero means the
// configured threshold.
func formThreshold(w http.ResponseWriter, r *http.Request) (float64, bool) {
	v := r.FormValue("threshold")
	if v == "" {
		return 0, true
	}
	threshold, err := strconv.ParseFloat(v, 64)
	if err != nil || threshold <= 0 {
		respondError(w, http.StatusBadRequest, "invalid threshold")
		return 0, false
	}
	return threshold, true
}
