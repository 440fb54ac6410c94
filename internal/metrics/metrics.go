package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clofast_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clofast_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clofast_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clofast_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	dbConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clofast_db_connections_in_use",
			Help: "Number of database connections currently in use",
		},
	)

	firingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clofast_firings_total",
			Help: "Total number of trigger firings by outcome",
		},
		[]string{"status"},
	)

	firingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clofast_firing_duration_seconds",
			Help:    "Callback execution time in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 300},
		},
	)

	firingsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clofast_firings_in_flight",
			Help: "Number of callbacks currently running",
		},
	)

	pendingTriggers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clofast_pending_triggers",
			Help: "Number of triggers waiting for their next fire time",
		},
	)

	missedFirings = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clofast_missed_firings_total",
			Help: "Occurrences that fell inside downtime and were not backfilled",
		},
	)

	documentsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clofast_documents_processed_total",
			Help: "Total number of documents marked processed",
		},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func IncrementInFlight() {
	httpRequestsInFlight.Inc()
}

func DecrementInFlight() {
	httpRequestsInFlight.Dec()
}

func UpdateDBStats(open, inUse int) {
	dbConnectionsOpen.Set(float64(open))
	dbConnectionsInUse.Set(float64(inUse))
}

// RecordFiring counts a finished or skipped firing. duration is ignored
// for skipped firings.
func RecordFiring(status string, duration time.Duration) {
	firingsTotal.WithLabelValues(status).Inc()
	if status != "skipped" {
		firingDuration.Observe(duration.Seconds())
	}
}

func FiringStarted() {
	firingsInFlight.Inc()
}

func FiringFinished() {
	firingsInFlight.Dec()
}

func SetPendingTriggers(n int) {
	pendingTriggers.Set(float64(n))
}

func AddMissedFirings(n int) {
	missedFirings.Add(float64(n))
}

func AddDocumentsProcessed(n int) {
	documentsProcessed.Add(float64(n))
}

// NormalizePath collapses each {param} in a route pattern to a bare ':'.
func NormalizePath(path string) string {
	if len(path) > 100 {
		path = path[:100]
	}

	var sb strings.Builder
	inParam := false
	for i := 0; i < len(path); i++ {
		switch {
		case path[i] == '{':
			inParam = true
			sb.WriteByte(':')
		case path[i] == '}':
			inParam = false
		case !inParam:
			sb.WriteByte(path[i])
		}
	}
	return sb.String()
}
