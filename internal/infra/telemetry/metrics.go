package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pharmauth"

// Metrics bundles the Prometheus collectors the service maintains. One
// instance is built at startup and shared across transport and usecases.
type Metrics struct {
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
	LoginAttempts     *prometheus.CounterVec
	TokensIssued      prometheus.Counter
	TokenRotations    prometheus.Counter
	BlacklistChecks   *prometheus.CounterVec
	LockoutRejections prometheus.Counter
}

// NewMetrics builds and registers all collectors. Pass nil to register on the
// default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method, route, and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		LoginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Login attempts by outcome (success, invalid_credentials, locked, rate_limited).",
		}, []string{"outcome"}),
		TokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_tokens_issued_total",
			Help:      "Access tokens minted across login and refresh.",
		}),
		TokenRotations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_rotations_total",
			Help:      "Successful refresh token rotations.",
		}),
		BlacklistChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blacklist_checks_total",
			Help:      "Blacklist lookups by result (hit, miss, degraded).",
		}, []string{"result"}),
		LockoutRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lockout_rejections_total",
			Help:      "Login attempts rejected while an account lockout was active.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequests,
		m.HTTPDuration,
		m.LoginAttempts,
		m.TokensIssued,
		m.TokenRotations,
		m.BlacklistChecks,
		m.LockoutRejections,
	)

	return m
}
