package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

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

	// Ballot-protocol counters. Labels never carry voter-identifying data.
	credentialsIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credentials_issued_total",
			Help: "Voting credentials issued, by outcome.",
		},
		[]string{"outcome"},
	)

	ballotsCastTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ballots_cast_total",
			Help: "Ballot redemption attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	originRejectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "origin_guard_rejections_total",
		Help: "Requests rejected for bypassing the trusted edge.",
	})
)

// Init registers all metrics in the default registry. Call once per process.
func Init() {
	prometheus.MustRegister(
		httpInFlight,
		httpRequestsTotal,
		httpRequestDuration,
		credentialsIssuedTotal,
		ballotsCastTotal,
		originRejectionsTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CountCredentialIssued records an issuance attempt outcome ("issued",
// "already_issued", "error", ...).
func CountCredentialIssued(outcome string) {
	credentialsIssuedTotal.WithLabelValues(outcome).Inc()
}

// CountBallotCast records a redemption attempt outcome ("accepted",
// "rejected", "error", ...).
func CountBallotCast(outcome string) {
	ballotsCastTotal.WithLabelValues(outcome).Inc()
}

// CountOriginRejection records a blocked direct-origin request.
func CountOriginRejection() {
	originRejectionsTotal.Inc()
}

// CanonicalPath collapses path parameters so metric labels stay bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 5 && parts[1] == "v1" && parts[2] == "elections" && parts[4] == "results":
		return "/v1/elections/:id/results"
	case len(parts) == 4 && parts[1] == "v1" && parts[2] == "tally":
		return "/v1/tally/:id"
	}
	return path
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

// statusWriter captures the response code for metrics.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
