package sequence

import "github.com/prometheus/client_golang/prometheus"

// Metric names as constants for consistency.
const (
	MetricAllocations        = "sequence_allocations_total"
	MetricExhaustions        = "sequence_exhaustions_total"
	MetricValidationFailures = "sequence_validation_failures_total"
	MetricValidationWarnings = "sequence_validation_warnings_total"
)

// Metrics contains Prometheus metrics for sequence allocation and
// validation. A nil *Metrics is valid and records nothing.
type Metrics struct {
	allocations        prometheus.Counter
	exhaustions        prometheus.Counter
	validationFailures *prometheus.CounterVec
	validationWarnings *prometheus.CounterVec
}

// NewMetrics creates all collectors. They are not registered; call Register.
func NewMetrics() *Metrics {
	return &Metrics{
		allocations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricAllocations,
			Help: "Total number of sequence identifiers allocated",
		}),
		exhaustions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricExhaustions,
			Help: "Total number of allocation attempts against exhausted scopes",
		}),
		validationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricValidationFailures,
			Help: "Total number of fatal sequence validation findings by code",
		}, []string{"code"}),
		validationWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricValidationWarnings,
			Help: "Total number of advisory sequence validation findings by code",
		}, []string{"code"}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.allocations,
		m.exhaustions,
		m.validationFailures,
		m.validationWarnings,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveResult records the findings of one validation result.
func (m *Metrics) ObserveResult(res Result) {
	if m == nil {
		return
	}
	for _, issue := range res.Errors {
		m.validationFailures.WithLabelValues(issue.Code.String()).Inc()
	}
	for _, issue := range res.Warnings {
		m.validationWarnings.WithLabelValues(issue.Code.String()).Inc()
	}
}

func (m *Metrics) incAllocations() {
	if m != nil {
		m.allocations.Inc()
	}
}

func (m *Metrics) incExhaustions() {
	if m != nil {
		m.exhaustions.Inc()
	}
}
