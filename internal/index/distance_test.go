package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricDistance(t *testing.T) {
	tests := []struct {
		name   string
		metric Metric
		a, b   []float32
		want   float32
	}{
		{"l2 identical", MetricL2, []float32{1, 2, 3}, []float32{1, 2, 3}, 0},
		{"l2 squared", MetricL2, []float32{0, 0}, []float32{3, 4}, 25},
		{"cosine identical direction", MetricCosine, []float32{1, 0}, []float32{5, 0}, 0},
		{"cosine orthogonal", MetricCosine, []float32{1, 0}, []float32{0, 1}, 1},
		{"cosine opposite", MetricCosine, []float32{1, 0}, []float32{-1, 0}, 2},
		{"dot negated", MetricDot, []float32{1, 2}, []float32{3, 4}, -11},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.metric.Distance(tt.a, tt.b), 1e-5)
		})
	}
}

func TestCosineDistanceZeroVector(t *testing.T) {
	d := MetricCosine.Distance([]float32{0, 0}, []float32{1, 0})
	assert.Equal(t, float32(1), d, "zero vector is maximally distant, not NaN")
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-5)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-5)
	assert.Equal(t, float32(-1), CosineSimilarity([]float32{1}, []float32{1, 2}), "length mismatch")
}

func TestMetricValid(t *testing.T) {
	require.True(t, MetricL2.Valid())
	require.True(t, MetricCosine.Valid())
	require.True(t, MetricDot.Valid())
	require.False(t, Metric("hamming").Valid())
}
