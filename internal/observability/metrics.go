package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total status server HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "streamctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Status server HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
	apiRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamctl",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Outbound remote API requests by operation and status.",
		},
		[]string{"op", "status"},
	)
	apiDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "streamctl",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Outbound remote API request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)
	sessionsOpened = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "streamctl",
			Subsystem: "stream",
			Name:      "sessions_opened_total",
			Help:      "Stream sessions that received a 200 response.",
		},
	)
	sessionTerminations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamctl",
			Subsystem: "stream",
			Name:      "terminations_total",
			Help:      "Stream session terminations by reason.",
		},
		[]string{"reason"},
	)
	constructionFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "streamctl",
			Subsystem: "stream",
			Name:      "construction_failures_total",
			Help:      "Stream sessions that failed before a request was sent.",
		},
	)
	records = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "streamctl",
			Subsystem: "stream",
			Name:      "records_total",
			Help:      "Records delivered to the sink.",
		},
	)
	heartbeats = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "streamctl",
			Subsystem: "stream",
			Name:      "heartbeats_total",
			Help:      "Chunks classified as heartbeats.",
		},
	)
	sinkErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "streamctl",
			Subsystem: "stream",
			Name:      "sink_errors_total",
			Help:      "Records the sink failed to accept.",
		},
	)
	oversizeLines = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "streamctl",
			Subsystem: "stream",
			Name:      "oversize_lines_total",
			Help:      "Lines longer than max_line_bytes that ended a session.",
		},
	)
	reconnectAttempt = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "streamctl",
			Subsystem: "stream",
			Name:      "reconnect_attempt",
			Help:      "Current value of the reconnect attempt counter.",
		},
	)
	backoffSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "streamctl",
			Subsystem: "stream",
			Name:      "backoff_seconds",
			Help:      "Most recent reconnect backoff delay in seconds.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			apiRequests, apiDuration,
			sessionsOpened, sessionTerminations, constructionFailures,
			records, heartbeats, sinkErrors, oversizeLines,
			reconnectAttempt, backoffSeconds,
		)
	})
}

func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, route, statusLabel).Inc()
	httpDuration.WithLabelValues(method, route, statusLabel).Observe(duration.Seconds())
}

// RecordAPIRequest counts one outbound call. status is 0 when no response arrived.
func RecordAPIRequest(op string, status int, duration time.Duration) {
	RegisterMetrics()
	apiRequests.WithLabelValues(op, strconv.Itoa(status)).Inc()
	apiDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func RecordSessionOpened() {
	RegisterMetrics()
	sessionsOpened.Inc()
}

func RecordTermination(reason string) {
	RegisterMetrics()
	sessionTerminations.WithLabelValues(reason).Inc()
}

func RecordConstructionFailure() {
	RegisterMetrics()
	constructionFailures.Inc()
}

func RecordRecord() {
	RegisterMetrics()
	records.Inc()
}

func RecordHeartbeat() {
	RegisterMetrics()
	heartbeats.Inc()
}

func RecordSinkError() {
	RegisterMetrics()
	sinkErrors.Inc()
}

func RecordOversizeLine() {
	RegisterMetrics()
	oversizeLines.Inc()
}

func RecordBackoff(attempt int, delay time.Duration) {
	RegisterMetrics()
	reconnectAttempt.Set(float64(attempt))
	backoffSeconds.Set(delay.Seconds())
}
