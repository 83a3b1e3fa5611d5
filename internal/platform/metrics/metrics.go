package metrics

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "practice"

var (
	// ContextFallbacks counts tenant id reads/writes that happened outside a
	// request scope and were served by the process-wide legacy variable.
	// Anything above zero in production is a bug to chase down.
	ContextFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reqctx",
		Name:      "fallback_total",
		Help:      "Tenant id accesses served by the legacy process-wide fallback.",
	}, []string{"op"}) // op: get, set, clear

	TenantViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tenancy",
		Name:      "scope_violations_total",
		Help:      "Data-access operations rejected by tenant enforcement.",
	}, []string{"entity", "action"})

	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "requests_total",
		Help:      "Cache lookups by result.",
	}, []string{"result"}) // result: hit, miss, error

	CacheInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "invalidated_keys_total",
		Help:      "Cache entries removed by prefix invalidation.",
	})

	ReconcileRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconcile",
		Name:      "runs_total",
		Help:      "Appointment reconciliation runs by outcome.",
	}, []string{"outcome"}) // outcome: ok, failed, skipped

	ReconcileMissed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconcile",
		Name:      "appointments_missed_total",
		Help:      "Appointments transitioned from pending to missed.",
	})

	HTTPRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the per-tenant rate limiter.",
	})
)

// Handler exposes the default registry for scraping.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}
