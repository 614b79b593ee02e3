package facematch

import (
	"fmt"
	"math"
)

// Metric selects the distance function used to compare embeddings.
type Metric string

const (
	MetricEuclidean Metric = "euclidean"
	MetricCosine    Metric = "cosine"
)

// ParseMetric maps a configuration value to a Metric. Empty means Euclidean.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case "", MetricEuclidean:
		return MetricEuclidean, nil
	case MetricCosine:
		return MetricCosine, nil
	default:
		return "", fmt.Errorf("unknown distance metric %q", s)
	}
}

// Distance returns the distance between a and b under the metric.
func (m Metric) Distance(a, b Embedding) float64 {
	if m == MetricCosine {
		return CosineDistance(a, b)
	}
	return EuclideanDistance(a, b)
}

// EuclideanDistance computes the L2 distance between two vectors.
// Vectors of different length are infinitely far apart.
func EuclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// CosineDistance computes the cosine distance between two vectors
// Returns a value between 0 (identical) and 2 (opposite)
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 2.0
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	similarity = max(-1, min(1, similarity))

	return 1 - similarity
}
