package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinicops_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clinicops_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	loginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinicops_login_attempts_total",
		Help: "Login attempts by path (tenant or super_admin) and outcome",
	}, []string{"path", "result"})

	accountLockouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clinicops_account_lockouts_total",
		Help: "Number of times an account crossed the failed-login threshold",
	})

	tokenVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinicops_token_verifications_total",
		Help: "Token verifications by token type and result",
	}, []string{"type", "result"})

	tokenRevocations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clinicops_token_revocations_total",
		Help: "Number of tokens revoked by logout",
	})

	revocationsPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clinicops_revocations_purged_total",
		Help: "Expired revocation entries removed from the in-memory store",
	})

	rateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinicops_rate_limited_total",
		Help: "Requests rejected by a rate limiter",
	}, []string{"limiter"})

	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "clinicops_circuit_breaker_state",
		Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
	}, []string{"name"})
)

// ObserveHTTPRequest records an HTTP request metric
func ObserveHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// ObserveLogin records the outcome of a login attempt, e.g. ("tenant", "locked").
func ObserveLogin(path, result string) {
	loginAttempts.WithLabelValues(path, result).Inc()
}

func IncrementLockouts() {
	accountLockouts.Inc()
}

// ObserveTokenVerification records a verify result such as "ok" or "expired".
func ObserveTokenVerification(tokenType, result string) {
	tokenVerifications.WithLabelValues(tokenType, result).Inc()
}

func IncrementRevocations() {
	tokenRevocations.Inc()
}

// ObservePurged adds n purged revocation entries.
func ObservePurged(n int) {
	if n > 0 {
		revocationsPurged.Add(float64(n))
	}
}

func IncrementRateLimited(limiter string) {
	rateLimited.WithLabelValues(limiter).Inc()
}

// SetBreakerState publishes the numeric state of a circuit breaker.
func SetBreakerState(name string, state int) {
	breakerState.WithLabelValues(name).Set(float64(state))
}
