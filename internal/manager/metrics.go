package manager

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rebuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vectord",
			Subsystem: "manager",
			Name:      "rebuilds_total",
			Help:      "Index rebuilds by collection and outcome",
		},
		[]string{"collection", "outcome"},
	)

	generationGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "vectord",
			Subsystem: "manager",
			Name:      "generation",
			Help:      "Currently served index generation",
		},
		[]string{"collection"},
	)

	staleGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "vectord",
			Subsystem: "manager",
			Name:      "stale",
			Help:      "1 when the served index lags the store, 0 otherwise",
		},
		[]string{"collection"},
	)

	rebuildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vectord",
			Subsystem: "manager",
			Name:      "rebuild_duration_seconds",
			Help:      "Wall time of background index rebuilds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		},
		[]string{"collection"},
	)
)
