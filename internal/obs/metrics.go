package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics shared by every route.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Domain metrics for the contact-tracking core.
var (
	contactsTracked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "contacts_tracked_total",
			Help: "Track calls by outcome (new, existing, error).",
		},
		[]string{"outcome"},
	)

	trackBatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "contacts_track_batch_size",
		Help:    "Number of identities per batch submission.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	})

	tokenDecodeFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quote_token_decode_failures_total",
		Help: "Quote tokens rejected as malformed or tampered.",
	})

	usageResets = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "usage_resets_total",
		Help: "Audited contact resets.",
	})
)

// Init registers all metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		contactsTracked, trackBatchSize, tokenDecodeFailures, usageResets,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTrack records the outcome of a single track call.
func ObserveTrack(isNew bool, err error) {
	switch {
	case err != nil:
		contactsTracked.WithLabelValues("error").Inc()
	case isNew:
		contactsTracked.WithLabelValues("new").Inc()
	default:
		contactsTracked.WithLabelValues("existing").Inc()
	}
}

// ObserveBatch records the size of a batch submission.
func ObserveBatch(n int) {
	trackBatchSize.Observe(float64(n))
}

// ObserveTokenDecodeFailure counts a rejected quote token.
func ObserveTokenDecodeFailure() {
	tokenDecodeFailures.Inc()
}

// ObserveReset counts an audited reset.
func ObserveReset() {
	usageResets.Inc()
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses identifier segments so metric label cardinality
// stays bounded regardless of how many organizations or tokens exist.
func CanonicalPath(raw string) string {
	path := raw
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	switch {
	case strings.HasPrefix(path, "/v1/usage/"):
		return "/v1/usage/:org"
	case strings.HasPrefix(path, "/v1/quote-links/"):
		return "/v1/quote-links/:token"
	}
	return path
}

// statusWriter captures the response code for labeling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
