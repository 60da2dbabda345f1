package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wattmate_http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wattmate_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wattmate_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	authEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wattmate_auth_events_total",
			Help: "Authentication events by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	ledgerRemoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wattmate_refresh_tokens_removed_total",
			Help: "Refresh tokens removed from the ledger, by reason.",
		},
		[]string{"reason"},
	)

	registerOnce sync.Once
)

// Init registers the collectors in the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration, authEvents, ledgerRemoved)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// AuthEvent counts one outcome ("ok", "denied", "error") of an auth operation.
func AuthEvent(op, outcome string) {
	authEvents.WithLabelValues(op, outcome).Inc()
}

// TokensRemoved counts ledger deletions: "logout", "logout_all", "reset", "sweep", "cleanup".
func TokensRemoved(reason string, n int64) {
	if n > 0 {
		ledgerRemoved.WithLabelValues(reason).Add(float64(n))
	}
}

// Instrument records RPS, latency and in-flight requests. The route label is the
// mux path template so token-bearing URLs never become label values.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
		httpInFlight.Dec()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
