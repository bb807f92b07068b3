package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Request metrics
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackstack_ingest_requests_total",
			Help: "Total number of collect requests by response status",
		},
		[]string{"status"},
	)

	RequestBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trackstack_ingest_request_bytes_total",
			Help: "Total bytes of collect request bodies received",
		},
	)

	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trackstack_ingest_batch_size",
			Help:    "Number of events per collect request",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 250},
		},
	)

	// Event metrics
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackstack_ingest_events_total",
			Help: "Total number of events by outcome",
		},
		[]string{"result"},
	)

	// Log publish metrics
	PublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trackstack_ingest_publish_duration_seconds",
			Help:    "Duration of a synchronous log append in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	PublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trackstack_ingest_publish_errors_total",
			Help: "Total number of failed log appends",
		},
	)

	PublishDuplicates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trackstack_ingest_publish_duplicates_total",
			Help: "Appends dropped by the log's duplicate window",
		},
	)

	// Rate limiting metrics
	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trackstack_ingest_rate_limit_hits_total",
			Help: "Total number of requests refused by the rate limiter",
		},
	)
)

// Event outcome labels.
const (
	ResultAccepted      = "accepted"
	ResultInvalid       = "invalid"
	ResultPublishFailed = "publish_failed"
)
