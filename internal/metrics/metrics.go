// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MatchesTotal counts identity resolutions by result (matched, unknown).
	MatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "face_attendance_matches_total",
			Help: "Total number of face identity resolutions",
		},
		[]string{"result"},
	)

	// MatchDistance observes the nearest-neighbour distance of every resolution.
	MatchDistance = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "face_attendance_match_distance",
			Help:    "Distance between a probe and its nearest gallery embedding",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 1.0, 1.5},
		},
	)

	EmbeddingRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "face_attendance_embedding_request_duration_seconds",
			Help:    "Latency of embedding provider requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	// CircuitBreakerState is 0 closed, 1 half-open, 2 open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "face_attendance_circuit_breaker_state",
			Help: "Circuit breaker state per protected dependency",
		},
		[]string{"name"},
	)

	SessionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "face_attendance_sessions_open",
			Help: "Number of attendance sessions currently open",
		},
	)

	// RecordsEmitted counts attendance records handed to the recorder by status.
	RecordsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "face_attendance_records_emitted_total",
			Help: "Attendance records emitted at session close",
		},
		[]string{"status"},
	)

	GalleryEmbeddings = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "face_attendance_gallery_embeddings",
			Help: "Number of embeddings in the published gallery snapshot",
		},
	)

	GalleryLabels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "face_attendance_gallery_labels",
			Help: "Number of labels in the published gallery snapshot",
		},
	)
)
