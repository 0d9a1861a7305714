package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
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

// Auth metrics
var (
	loginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hrms_logins_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	logoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hrms_logouts_total",
			Help: "Logout calls by outcome.",
		},
		[]string{"outcome"},
	)

	sessionsRevokedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hrms_sessions_revoked_total",
		Help: "Session tokens superseded by relogin, logout or password reset.",
	})

	authzDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hrms_authz_decisions_total",
			Help: "Authorization gate decisions.",
		},
		[]string{"check", "decision"},
	)

	passwordResetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hrms_password_reset_events_total",
			Help: "Password reset requests and completions by outcome.",
		},
		[]string{"event", "outcome"},
	)
)

var initOnce sync.Once

// Init registers the metrics in the default registry. Safe to call twice.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			loginsTotal, logoutsTotal, sessionsRevokedTotal,
			authzDecisionsTotal, passwordResetsTotal,
		)
	})
}

// Handler exposes the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordLogin counts a login attempt. outcome is "success" or an error kind.
func RecordLogin(outcome string) {
	loginsTotal.WithLabelValues(outcome).Inc()
}

// RecordLogout counts a logout call.
func RecordLogout(outcome string) {
	logoutsTotal.WithLabelValues(outcome).Inc()
}

// RecordSessionsRevoked adds n superseded session tokens.
func RecordSessionsRevoked(n int) {
	if n > 0 {
		sessionsRevokedTotal.Add(float64(n))
	}
}

// RecordAuthz counts one gate decision, e.g. ("role", "allow").
func RecordAuthz(check, decision string) {
	authzDecisionsTotal.WithLabelValues(check, decision).Inc()
}

// RecordPasswordReset counts a reset request or completion.
func RecordPasswordReset(event, outcome string) {
	passwordResetsTotal.WithLabelValues(event, outcome).Inc()
}

// Instrument measures in-flight requests, totals and latency per route.
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

// parameterized lists path prefixes whose next segment is an identifier.
var parameterized = []string{
	"/api/v1/admin/add-role-permissions/",
	"/api/v1/roles/",
}

// CanonicalPath collapses identifiers so metric label cardinality stays
// bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	for _, prefix := range parameterized {
		rest, ok := strings.CutPrefix(p, prefix)
		if !ok || rest == "" {
			continue
		}
		if strings.Contains(strings.TrimSuffix(rest, "/"), "/") {
			return p
		}
		return prefix + ":id"
	}
	return p
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
