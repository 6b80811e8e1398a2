package semcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vectord",
			Subsystem: "semcache",
			Name:      "lookups_total",
			Help:      "Cache lookups by outcome",
		},
		[]string{"outcome"},
	)

	evictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vectord",
			Subsystem: "semcache",
			Name:      "evictions_total",
			Help:      "Entries evicted, by reason (lru, generation, delete)",
		},
		[]string{"reason"},
	)

	entriesGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vectord",
			Subsystem: "semcache",
			Name:      "entries",
			Help:      "Current number of cached result sets",
		},
	)
)
