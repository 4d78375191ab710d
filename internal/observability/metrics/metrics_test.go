package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if matchLabels(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(m *dto.Metric, want map[string]string) bool {
	got := map[string]string{}
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestObserveBatch(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSyncMetrics(reg)

	m.ObserveBatch(2, 1, 3, 0)
	m.ObserveBatch(1, 0, 0, 1)

	if got := counterValue(t, reg, "onecbridge_sync_slot_outcomes_total", map[string]string{"outcome": "created"}); got != 3 {
		t.Fatalf("created counter = %v, want 3", got)
	}
	if got := counterValue(t, reg, "onecbridge_sync_slot_outcomes_total", map[string]string{"outcome": "blocked"}); got != 3 {
		t.Fatalf("blocked counter = %v, want 3", got)
	}
}

func TestNilReceiversAreSafe(t *testing.T) {
	var sm *SyncMetrics
	var om *OutboundMetrics
	sm.ObserveBatch(1, 1, 1, 1)
	sm.ObserveWebhook("booking_created", "ok")
	om.ObserveCall("book", "success")
}

func TestObserveCall(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboundMetrics(reg)

	m.ObserveCall("book", "rejected")
	m.ObserveCall("book", "rejected")

	got := counterValue(t, reg, "onecbridge_onec_calls_total", map[string]string{"operation": "book", "outcome": "rejected"})
	if got != 2 {
		t.Fatalf("calls counter = %v, want 2", got)
	}
	if !strings.HasPrefix("onecbridge_onec_calls_total", "onecbridge_") {
		t.Fatal("unexpected namespace")
	}
}
