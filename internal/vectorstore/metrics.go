package vectorstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	insertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vectord",
			Subsystem: "vectorstore",
			Name:      "inserts_total",
			Help:      "Total number of acknowledged record inserts",
		},
		[]string{"collection"},
	)

	deletesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vectord",
			Subsystem: "vectorstore",
			Name:      "deletes_total",
			Help:      "Total number of tombstone deletes",
		},
		[]string{"collection"},
	)

	recordsLive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "vectord",
			Subsystem: "vectorstore",
			Name:      "records_live",
			Help:      "Current number of live (non-tombstoned) records",
		},
		[]string{"collection"},
	)

	walBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vectord",
			Subsystem: "vectorstore",
			Name:      "wal_bytes_written_total",
			Help:      "Total bytes appended to write-ahead logs",
		},
	)
)
