package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scheduler metrics
	scansTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "delegated_engine_scans_total",
			Help: "Total number of opportunity scan cycles",
		},
	)

	opportunitiesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delegated_engine_opportunities_total",
			Help: "Total number of opportunities that passed filtering",
		},
		[]string{"strategy"},
	)

	tradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delegated_engine_trades_total",
			Help: "Total number of trades executed",
		},
		[]string{"strategy", "outcome"},
	)

	tradeSizeUSD = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "delegated_engine_trade_size_usd",
			Help:    "Distribution of executed trade sizes in USD",
			Buckets: prometheus.ExponentialBuckets(10, 4, 8),
		},
		[]string{"strategy"},
	)

	// Risk metrics
	riskRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delegated_engine_risk_rejections_total",
			Help: "Total number of trades blocked by risk assessment",
		},
		[]string{"level"},
	)

	circuitBreakerTripped = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "delegated_engine_circuit_breaker_tripped",
			Help: "Whether the circuit breaker is currently tripped (1) or clear (0)",
		},
	)

	// Delegation metrics
	delegationDailyUsedUSD = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "delegated_engine_delegation_daily_used_usd",
			Help: "Daily USD usage per delegation",
		},
		[]string{"delegation_id"},
	)

	// Error metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delegated_engine_errors_total",
			Help: "Total number of errors by category",
		},
		[]string{"category"},
	)
)

func init() {
	// Register metrics
	prometheus.MustRegister(scansTotal)
	prometheus.MustRegister(opportunitiesTotal)
	prometheus.MustRegister(tradesTotal)
	prometheus.MustRegister(tradeSizeUSD)
	prometheus.MustRegister(riskRejectionsTotal)
	prometheus.MustRegister(circuitBreakerTripped)
	prometheus.MustRegister(delegationDailyUsedUSD)
	prometheus.MustRegister(errorsTotal)
}

// MetricsHandler handles Prometheus metrics endpoint
type MetricsHandler struct{}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// ServeHTTP serves the Prometheus metrics endpoint
func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// RecordScan records one completed scan cycle
func RecordScan() {
	scansTotal.Inc()
}

// RecordOpportunity records one opportunity that survived filtering
func RecordOpportunity(strategy string) {
	opportunitiesTotal.WithLabelValues(strategy).Inc()
}

// RecordTrade records an executed trade
func RecordTrade(strategy string, success bool, sizeUSD float64) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	tradesTotal.WithLabelValues(strategy, outcome).Inc()
	tradeSizeUSD.WithLabelValues(strategy).Observe(sizeUSD)
}

// RecordRiskRejection records a blocked trade by risk level
func RecordRiskRejection(level string) {
	riskRejectionsTotal.WithLabelValues(level).Inc()
}

// SetCircuitBreakerTripped updates the breaker gauge
func SetCircuitBreakerTripped(tripped bool) {
	if tripped {
		circuitBreakerTripped.Set(1)
	} else {
		circuitBreakerTripped.Set(0)
	}
}

// SetDelegationDailyUsed updates the daily usage gauge for a delegation
func SetDelegationDailyUsed(delegationID string, usedUSD float64) {
	delegationDailyUsedUSD.WithLabelValues(delegationID).Set(usedUSD)
}

// RecordError records an error metric by category
func RecordError(category string) {
	errorsTotal.WithLabelValues(category).Inc()
}
