package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rfid_scans_total",
		Help: "Processed RFID scans by result.",
	}, []string{"result"})

	processSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rfid_scan_processing_seconds",
		Help:    "Time from tag resolution to completed store write.",
		Buckets: prometheus.DefBuckets,
	})
)
