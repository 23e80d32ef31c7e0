package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	encodeSessions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tson",
			Subsystem: "encode",
			Name:      "sessions_total",
			Help:      "Serialization sessions started.",
		},
	)
	decodeSessions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tson",
			Subsystem: "decode",
			Name:      "sessions_total",
			Help:      "Parse sessions with a successfully materialized head.",
		},
	)
	rowsEmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tson",
			Subsystem: "encode",
			Name:      "rows_total",
			Help:      "Tail rows written to the sink.",
		},
	)
	rowsDispatched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tson",
			Subsystem: "decode",
			Name:      "rows_total",
			Help:      "Tail rows routed to a handle.",
		},
	)
	streamFaults = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tson",
			Subsystem: "stream",
			Name:      "faults_total",
			Help:      "Producer faults and protocol-level failures.",
		},
	)
	interruptions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tson",
			Subsystem: "decode",
			Name:      "interruptions_total",
			Help:      "Parse sessions torn down before the frame closed.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tson",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"app", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tson",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"app", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			encodeSessions, decodeSessions,
			rowsEmitted, rowsDispatched,
			streamFaults, interruptions,
			httpRequests, httpDuration,
		)
	})
}

func RecordEncodeSession() {
	RegisterMetrics()
	encodeSessions.Inc()
}

func RecordDecodeSession() {
	RegisterMetrics()
	decodeSessions.Inc()
}

func RecordRowEmitted() {
	RegisterMetrics()
	rowsEmitted.Inc()
}

func RecordRowDispatched() {
	RegisterMetrics()
	rowsDispatched.Inc()
}

func RecordStreamFault() {
	RegisterMetrics()
	streamFaults.Inc()
}

func RecordInterruption() {
	RegisterMetrics()
	interruptions.Inc()
}

func RecordHTTPRequest(app, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(app, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(app, method, path, statusLabel).Observe(duration.Seconds())
}
