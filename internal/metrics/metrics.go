package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dash_status"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "The total number of HTTP requests handled by the server.",
		},
		[]string{"code", "method"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "A histogram of the request latencies.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	httpRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "The number of HTTP requests currently being processed.",
		},
	)

	runstoreRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "runstore_request_duration_seconds",
			Help:      "The latency of operations against the active run store.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	runstoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runstore_errors_total",
			Help:      "The total number of errors encountered when interacting with the run store.",
		},
		[]string{"operation"},
	)

	probeRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_runs_total",
			Help:      "The total number of prober invocations by trigger and result.",
		},
		[]string{"trigger", "result"},
	)

	probeRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_run_duration_seconds",
			Help:      "Wall time of one prober invocation, browser launch included.",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"trigger"},
	)

	targetUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "target_up",
			Help:      "Whether the last visit of a target loaded with status 200 (1) or not (0).",
		},
		[]string{"url"},
	)

	targetVisitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "target_visit_duration_seconds",
			Help:      "Time to open, load until network idle and capture one target.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"url"},
	)
)

func RegisterMetrics() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		httpRequestsInFlight,
		runstoreRequestDuration,
		runstoreErrorsTotal,
		probeRunsTotal,
		probeRunDuration,
		targetUp,
		targetVisitDuration,
	)
}

func RecordRunstoreRequest(operation string, start time.Time) {
	runstoreRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func RecordRunstoreError(operation string) {
	runstoreErrorsTotal.WithLabelValues(operation).Inc()
}

// RecordProbeRun counts one invocation; result is "succeeded" or "failed".
func RecordProbeRun(trigger, result string, duration time.Duration) {
	probeRunsTotal.WithLabelValues(trigger, result).Inc()
	probeRunDuration.WithLabelValues(trigger).Observe(duration.Seconds())
}

func RecordTargetVisit(url string, up bool, duration time.Duration) {
	value := 0.0
	if up {
		value = 1
	}
	targetUp.WithLabelValues(url).Set(value)
	targetVisitDuration.WithLabelValues(url).Observe(duration.Seconds())
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func NewResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{w, http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := NewResponseWriter(w)

		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		statusCode := strconv.Itoa(rw.statusCode)

		httpRequestsTotal.WithLabelValues(statusCode, r.Method).Inc()
		httpRequestDuration.WithLabelValues(r.Method).Observe(duration.Seconds())
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}
