package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SignUps counts registration attempts by result (success|failure).
	SignUps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehouse_sign_ups_total",
			Help: "Total number of sign-up attempts",
		},
		[]string{"result"},
	)

	// SignIns counts authentication attempts by result (success|failure).
	SignIns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehouse_sign_ins_total",
			Help: "Total number of sign-in attempts",
		},
		[]string{"result"},
	)

	// ActiveSessions tracks sessions that have not expired or been deleted.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gatehouse_active_sessions",
			Help: "Number of active sessions",
		},
	)

	// TwoFactorChecks counts two-factor verifications by method (totp|recovery)
	// and result.
	TwoFactorChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehouse_two_factor_checks_total",
			Help: "Total number of two-factor code verifications",
		},
		[]string{"method", "result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gatehouse_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
