package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-level metrics shared by every handler.
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

// Workflow metrics.
var (
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affidavit_decisions_total",
			Help: "Party decisions recorded against requests.",
		},
		[]string{"role", "decision"},
	)

	promotionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affidavit_promotions_total",
			Help: "Requests reaching a terminal resolution.",
		},
		[]string{"outcome"},
	)

	anchoringsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affidavit_anchorings_total",
			Help: "Ledger anchoring attempts.",
		},
		[]string{"result"},
	)

	verificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "affidavit_verifications_total",
			Help: "Ledger verification checks.",
		},
		[]string{"result"},
	)
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		decisionsTotal, promotionsTotal, anchoringsTotal, verificationsTotal,
	)
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DecisionRecorded counts one recorded party decision.
func DecisionRecorded(role, decision string) {
	decisionsTotal.WithLabelValues(role, decision).Inc()
}

// PromotionCompleted counts one terminal resolution (accepted/rejected).
func PromotionCompleted(outcome string) {
	promotionsTotal.WithLabelValues(outcome).Inc()
}

// AnchorAttempted counts one anchoring attempt: "ok" or "error".
func AnchorAttempted(result string) {
	anchoringsTotal.WithLabelValues(result).Inc()
}

// VerificationChecked counts one verification: "verified", "mismatch" or "error".
func VerificationChecked(result string) {
	verificationsTotal.WithLabelValues(result).Inc()
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

// CanonicalPath collapses resource identifiers so metric labels stay
// bounded: /v1/requests/<id> becomes /v1/requests/:id.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(p, "/")
	// /v1/<collection>/<id>[/<verb>]
	if len(parts) >= 4 && parts[1] == "v1" {
		switch parts[2] {
		case "requests", "affidavits", "users":
			if parts[3] != "" {
				parts[3] = ":id"
				if len(parts) <= 5 {
					return strings.Join(parts, "/")
				}
			}
		}
	}
	return p
}

// statusWriter records the response code for labeling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush passes through so streaming responses work when instrumented.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
