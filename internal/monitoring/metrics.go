package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Datagram outcomes for DatagramsTotal.
const (
	DatagramAccepted        = "accepted"
	DatagramMalformed       = "malformed"
	DatagramUnknownReceiver = "unknown_receiver"
)

var (
	DatagramsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_report_datagrams_total",
		Help: "Detection datagrams received, by outcome",
	}, []string{"result"})

	DetectionsFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queue_report_detections_flushed_total",
		Help: "Detections persisted by the ingestion flusher",
	})

	FlushErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queue_report_flush_errors_total",
		Help: "Ingestion flushes that failed to persist",
	})

	CycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "queue_report_cycle_duration_seconds",
		Help:    "Duration of supervised job cycles",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})

	CycleFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_report_cycle_failures_total",
		Help: "Supervised job cycles that returned an error or panicked",
	}, []string{"job"})

	RecordsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_report_records_published_total",
		Help: "Aggregated records written, by collection",
	}, []string{"collection"})

	RecordsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_report_records_suppressed_total",
		Help: "Aggregated records dropped as duplicates of stored rows, by collection",
	}, []string{"collection"})

	DevicesTracked = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_report_devices_tracked",
		Help: "Devices with a presence series in the last cycle, by gate",
	}, []string{"gate"})

	DenylistSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "queue_report_denylist_size",
		Help: "Devices in the most recently written denylist",
	})

	RowsPruned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_report_rows_pruned_total",
		Help: "Rows removed by the retention worker, by table",
	}, []string{"table"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_report_http_requests_total",
		Help: "Records API requests, by route and status",
	}, []string{"route", "status"})
)
