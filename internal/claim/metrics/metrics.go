package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the claim flow.
type Metrics struct {
	// Initiations by outcome: "created", "rejected"
	Initiations *prometheus.CounterVec

	// Verify outcomes by result code ("verified" or a domain error code)
	VerifyOutcome *prometheus.CounterVec

	// Profile probe latency by strategy and outcome
	ProbeLatency *prometheus.HistogramVec

	// Breaker transitions by strategy and new state
	BreakerTransitions *prometheus.CounterVec

	// Vouchers handed out, split by whether they carry a real signature
	VouchersIssued *prometheus.CounterVec

	VerifyLatency prometheus.Histogram
}

// New registers the claim metrics on reg. Tests pass a fresh prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Initiations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "moltens_claim_initiations_total",
			Help: "Total claim initiations by outcome",
		}, []string{"outcome"}),

		VerifyOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "moltens_claim_verify_outcomes_total",
			Help: "Total verify attempts by result code",
		}, []string{"code"}),

		ProbeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "moltens_oracle_probe_duration_seconds",
			Help:    "Duration of profile probes by strategy and outcome",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"strategy", "outcome"}),

		BreakerTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "moltens_oracle_breaker_transitions_total",
			Help: "Circuit breaker state changes by strategy",
		}, []string{"strategy", "state"}),

		VouchersIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "moltens_vouchers_issued_total",
			Help: "Total vouchers issued",
		}, []string{"signed"}),

		VerifyLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "moltens_claim_verify_duration_seconds",
			Help:    "Duration of verify including the profile check",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
}

func (m *Metrics) IncrementInitiation(outcome string) {
	if m != nil {
		m.Initiations.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncrementVerifyOutcome(code string) {
	if m != nil {
		m.VerifyOutcome.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) ObserveProbe(strategy, outcome string, d time.Duration) {
	if m != nil {
		m.ProbeLatency.WithLabelValues(strategy, outcome).Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementBreakerTransition(strategy, state string) {
	if m != nil {
		m.BreakerTransitions.WithLabelValues(strategy, state).Inc()
	}
}

func (m *Metrics) IncrementVoucherIssued(signed bool) {
	if m != nil {
		label := "false"
		if signed {
			label = "true"
		}
		m.VouchersIssued.WithLabelValues(label).Inc()
	}
}

func (m *Metrics) ObserveVerifyLatency(d time.Duration) {
	if m != nil {
		m.VerifyLatency.Observe(d.Seconds())
	}
}
