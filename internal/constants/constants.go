// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Face matching constants
const (
	// DefaultDistanceThreshold is the default strict upper bound on the distance
	// between a probe and its nearest gallery embedding. Lower values = stricter matching
	DefaultDistanceThreshold = 0.5

	// OverlapIoUThreshold is the IoU above which two detections in the same frame
	// are treated as the same face
	OverlapIoUThreshold = 0.6

	// DefaultEmbeddingDim is the dimensionality of dlib face encodings
	DefaultEmbeddingDim = 128
)

// Processing constants
const (
	// WorkerPoolSize is the default number of parallel workers for embedding calls
	WorkerPoolSize = 8

	// DefaultFrameResize is the scale applied to camera frames before detection
	DefaultFrameResize = 0.75

	// MaxImageSize is the maximum dimension (width or height) for image processing
	MaxImageSize = 1920
)

// HTTP constants
const (
	// MaxUploadSize is the maximum accepted image upload (20 MB)
	MaxUploadSize = 20 << 20

	// EventChannelBuffer is the buffer size for event channels
	EventChannelBuffer = 100
)
