package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "givestake_ledger_api_build_info",
			Help: "Build information of the GiveStake ledger API",
		},
		[]string{"version", "commit", "date"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "givestake_ledger_api_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "givestake_ledger_api_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "givestake_ledger_api_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Ledger operation metrics
	LedgerOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "givestake_ledger_api_ledger_ops_total",
			Help: "Total number of ledger operations",
		},
		[]string{"op", "status"}, // op: "create", "join", "declare", "finalize", "claim", "claim_timeout", "withdraw_fees"
	)

	LedgerOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "givestake_ledger_api_ledger_op_duration_seconds",
			Help:    "Duration of ledger operations in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"op"},
	)

	// Custody service metrics
	CustodyCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "givestake_ledger_api_custody_calls_total",
			Help: "Total number of custody service calls",
		},
		[]string{"endpoint", "status"},
	)

	CustodyCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "givestake_ledger_api_custody_call_duration_seconds",
			Help:    "Duration of custody service calls in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~41s
		},
		[]string{"endpoint"},
	)

	// Fee pool gauges, refreshed on settlement and withdrawal
	CollectedFeesGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "givestake_ledger_api_collected_fees",
			Help: "Platform fee balance awaiting withdrawal, in base asset units",
		},
	)

	BackingPoolGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "givestake_ledger_api_backing_pool",
			Help: "Reward token backing pool balance, in base asset units",
		},
	)
)

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Use the route pattern if available, otherwise use the path
		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = r.URL.Path
		}

		status := strconv.Itoa(ww.Status())
		duration := time.Since(start).Seconds()

		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// RecordLedgerOp records metrics for a ledger operation.
func RecordLedgerOp(op string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	LedgerOpsTotal.WithLabelValues(op, status).Inc()
	LedgerOpDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordCustodyCall records metrics for a custody service call.
func RecordCustodyCall(endpoint string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	CustodyCallsTotal.WithLabelValues(endpoint, status).Inc()
	CustodyCallDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// SetFeePoolBalances refreshes the fee pool gauges.
func SetFeePoolBalances(collectedFees, backingPool int64) {
	CollectedFeesGauge.Set(float64(collectedFees))
	BackingPoolGauge.Set(float64(backingPool))
}
