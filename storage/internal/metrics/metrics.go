package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Record metrics
	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackstack_storage_records_total",
			Help: "Total number of log records handled by outcome",
		},
		[]string{"partition", "result"},
	)

	Duplicates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trackstack_storage_duplicates_total",
			Help: "Records whose event_id was already stored",
		},
	)

	// Write metrics
	InsertDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trackstack_storage_insert_duration_seconds",
			Help:    "Duration of a single event insert in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	InsertRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trackstack_storage_insert_retries_total",
			Help: "Insert attempts that were retried after a failure",
		},
	)

	// Dead letter metrics
	DLQWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackstack_storage_dlq_writes_total",
			Help: "Records written to the dead-letter queue by reason",
		},
		[]string{"reason"},
	)

	WorkersRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trackstack_storage_workers_running",
			Help: "Number of partition workers currently consuming",
		},
	)
)

// Record outcome labels.
const (
	ResultInserted  = "inserted"
	ResultDuplicate = "duplicate"
	ResultDLQ       = "dlq"
	ResultFailed    = "failed"
)
