package index

import "math"

// Metric is a collection's distance metric. All kernels return a value where
// smaller means more similar, so candidate ranking is uniform across metrics.
type Metric string

const (
	// MetricL2 is squared Euclidean distance.
	MetricL2 Metric = "l2"
	// MetricCosine is cosine distance: 1 - normalized inner product.
	MetricCosine Metric = "cosine"
	// MetricDot is negated raw inner product.
	MetricDot Metric = "dot"
)

// Valid reports whether m is a recognized metric.
func (m Metric) Valid() bool {
	switch m {
	case MetricL2, MetricCosine, MetricDot:
		return true
	}
	return false
}

// Distance computes the metric between two same-length vectors.
func (m Metric) Distance(a, b []float32) float32 {
	switch m {
	case MetricCosine:
		return cosineDistance(a, b)
	case MetricDot:
		return -dot(a, b)
	default:
		return l2Squared(a, b)
	}
}

func l2Squared(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func cosineDistance(a, b []float32) float32 {
	var dotAB, normA, normB float32
	for i := range a {
		dotAB += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		// A zero vector has no direction; treat it as maximally distant.
		return 1
	}
	return 1 - dotAB/float32(math.Sqrt(float64(normA))*math.Sqrt(float64(normB)))
}

// CosineSimilarity returns the normalized inner product in [-1, 1].
// Shared with the semantic cache's near-match test.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return -1
	}
	return 1 - cosineDistance(a, b)
}
