package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricMessagesProcessed = "ingest_messages_processed_total"
	MetricMessagesError     = "ingest_messages_error_total"
	MetricRecordsCreated    = "ingest_records_created_total"
	MetricBacklogReplayed   = "ingest_backlog_events_replayed_total"
	MetricIngestLatency     = "ingest_event_latency_seconds"

	MetricSequenceAdvisories = "ingest_sequence_advisories_total"
	MetricSequenceRejects    = "ingest_sequence_rejects_total"
)

// Metrics contains Prometheus metrics for the ingest pipeline.
// All operations are thread-safe.
type Metrics struct {
	messagesProcessed  prometheus.Counter
	messagesError      prometheus.Counter
	recordsCreated     prometheus.Counter
	backlogReplayed    prometheus.Counter
	ingestLatency      prometheus.Histogram
	sequenceAdvisories *prometheus.CounterVec
	sequenceRejects    *prometheus.CounterVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		messagesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricMessagesProcessed,
			Help: "Total number of gateway frames processed by the ingest pipeline",
		}),
		messagesError: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricMessagesError,
			Help: "Total number of gateway frames or events that resulted in processing errors",
		}),
		recordsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRecordsCreated,
			Help: "Total number of journal records created from gateway events",
		}),
		backlogReplayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricBacklogReplayed,
			Help: "Total number of backlog events replayed after connectivity outages",
		}),
		ingestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricIngestLatency,
			Help:    "Histogram of per-event ingest latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		sequenceAdvisories: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricSequenceAdvisories,
			Help: "Total number of advisory findings from validating device-local sequence identifiers, by code",
		}, []string{"code"}),
		sequenceRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricSequenceRejects,
			Help: "Total number of events rejected for a fatal device-local sequence identifier finding, by code",
		}, []string{"code"}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncMessagesProcessed increments the frames processed counter.
func (m *Metrics) IncMessagesProcessed() {
	m.messagesProcessed.Inc()
}

// IncMessagesError increments the processing error counter.
func (m *Metrics) IncMessagesError() {
	m.messagesError.Inc()
}

// IncRecordsCreated increments the records created counter.
func (m *Metrics) IncRecordsCreated() {
	m.recordsCreated.Inc()
}

// IncBacklogReplayed increments the backlog replay counter.
func (m *Metrics) IncBacklogReplayed() {
	m.backlogReplayed.Inc()
}

// ObserveIngestLatency records a per-event ingest latency sample.
func (m *Metrics) ObserveIngestLatency(seconds float64) {
	m.ingestLatency.Observe(seconds)
}

// IncSequenceAdvisory counts one advisory finding against a device-local
// sequence identifier. code is the exchange-format issue code, e.g.
// "GAP_DETECTED".
func (m *Metrics) IncSequenceAdvisory(code string) {
	m.sequenceAdvisories.WithLabelValues(code).Inc()
}

// IncSequenceReject counts one event dropped for a fatal device-local
// sequence identifier finding.
func (m *Metrics) IncSequenceReject(code string) {
	m.sequenceRejects.WithLabelValues(code).Inc()
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.messagesProcessed,
		m.messagesError,
		m.recordsCreated,
		m.backlogReplayed,
		m.ingestLatency,
		m.sequenceAdvisories,
		m.sequenceRejects,
	}
}
