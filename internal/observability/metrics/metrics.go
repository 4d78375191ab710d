package metrics

import "github.com/prometheus/client_golang/prometheus"

// SyncMetrics exposes counters for slot reconciliation and inbound
// webhook processing.
type SyncMetrics struct {
	slotOutcomes  *prometheus.CounterVec
	webhookTotal  *prometheus.CounterVec
	batchDuration prometheus.Histogram
}

func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	m := &SyncMetrics{
		slotOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "onecbridge",
			Subsystem: "sync",
			Name:      "slot_outcomes_total",
			Help:      "Slot reconciliation outcomes per batch",
		}, []string{"outcome"}),
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "onecbridge",
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Inbound webhook events by type and handling status",
		}, []string{"event_type", "status"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "onecbridge",
			Subsystem: "sync",
			Name:      "batch_duration_seconds",
			Help:      "Duration of slot batch reconciliation",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.slotOutcomes, m.webhookTotal, m.batchDuration)
	return m
}

func (m *SyncMetrics) ObserveBatch(created, updated, blocked, skipped int) {
	if m == nil {
		return
	}
	m.slotOutcomes.WithLabelValues("created").Add(float64(created))
	m.slotOutcomes.WithLabelValues("updated").Add(float64(updated))
	m.slotOutcomes.WithLabelValues("blocked").Add(float64(blocked))
	m.slotOutcomes.WithLabelValues("skipped").Add(float64(skipped))
}

func (m *SyncMetrics) ObserveWebhook(eventType, status string) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(eventType, status).Inc()
}

func (m *SyncMetrics) ObserveBatchDuration(seconds float64) {
	if m == nil {
		return
	}
	m.batchDuration.Observe(seconds)
}

// OutboundMetrics counts calls made against 1C endpoints.
type OutboundMetrics struct {
	callsTotal *prometheus.CounterVec
}

func NewOutboundMetrics(reg prometheus.Registerer) *OutboundMetrics {
	m := &OutboundMetrics{
		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "onecbridge",
			Subsystem: "onec",
			Name:      "calls_total",
			Help:      "Outbound 1C calls by operation and outcome",
		}, []string{"operation", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.callsTotal)
	return m
}

func (m *OutboundMetrics) ObserveCall(operation, outcome string) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(operation, outcome).Inc()
}
