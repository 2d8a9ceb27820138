// Package metrics registers the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExtractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framegrab_extractions_total",
		Help: "Total number of extractions, by outcome (succeeded or a failure kind)",
	}, []string{"outcome"})

	ExtractionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "framegrab_extraction_duration_seconds",
		Help:    "Wall time of one extraction, from bind to release",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	ActiveExtractions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "framegrab_active_extractions",
		Help: "Number of extractions currently holding a worker slot",
	})

	UploadBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "framegrab_upload_bytes",
		Help:    "Size of accepted uploads",
		Buckets: prometheus.ExponentialBuckets(1<<20, 4, 8),
	})

	FramesExportedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "framegrab_frames_exported_total",
		Help: "Total number of frames uploaded to S3",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framegrab_http_requests_total",
		Help: "Total number of HTTP requests, by method, route pattern and status",
	}, []string{"method", "route", "status"})
)

// Outcome label values that are not failure kinds.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeAborted   = "aborted"
)
