package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors.
//
// A nil *Metrics is valid and records nothing, so components can be built without
// observability in tests.
type Metrics struct {
	// Registry owns the collectors. The /metrics endpoint serves it.
	Registry *prometheus.Registry

	calculations      *prometheus.CounterVec
	calculationErrors *prometheus.CounterVec
	configConflicts   *prometheus.CounterVec
	promoOutcomes     *prometheus.CounterVec
	reconRuns         *prometheus.CounterVec
	reconDuration     prometheus.Histogram
	ledgerErrors      prometheus.Counter
}

// New creates a private registry and registers every collector in it. A private
// registry lets New run more than once in a process (tests) without duplicate panics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		calculations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fee_calculations_total",
				Help: "Fee calculations by fee type and calculation method.",
			},
			[]string{"fee_type", "method"},
		),
		calculationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fee_calculation_errors_total",
				Help: "Failed fee calculations by reason.",
			},
			[]string{"reason"},
		),
		configConflicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fee_configuration_conflicts_total",
				Help: "Resolutions that found more than one usable configuration.",
			},
			[]string{"fee_type"},
		),
		promoOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fee_promo_outcomes_total",
				Help: "Promotion evaluations by outcome (applied or rejection reason).",
			},
			[]string{"outcome"},
		),
		reconRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fee_reconciliation_runs_total",
				Help: "Reconciliation runs by resulting status.",
			},
			[]string{"status"},
		),
		reconDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fee_reconciliation_run_duration_seconds",
				Help:    "Duration of reconciliation runs.",
				Buckets: prometheus.DefBuckets,
			},
		),
		ledgerErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fee_ledger_errors_total",
				Help: "Failed reads from the external ledger.",
			},
		),
	}
}

func (m *Metrics) IncCalculation(feeType, method string) {
	if m == nil {
		return
	}
	m.calculations.WithLabelValues(feeType, method).Inc()
}

func (m *Metrics) IncCalculationError(reason string) {
	if m == nil {
		return
	}
	m.calculationErrors.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncConfigConflict(feeType string) {
	if m == nil {
		return
	}
	m.configConflicts.WithLabelValues(feeType).Inc()
}

// IncPromoOutcome records "applied", "released" or a rejection reason.
func (m *Metrics) IncPromoOutcome(outcome string) {
	if m == nil {
		return
	}
	m.promoOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveReconciliation records one finished run. status is "error" when the run failed.
func (m *Metrics) ObserveReconciliation(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.reconRuns.WithLabelValues(status).Inc()
	m.reconDuration.Observe(d.Seconds())
}

func (m *Metrics) IncLedgerError() {
	if m == nil {
		return
	}
	m.ledgerErrors.Inc()
}
