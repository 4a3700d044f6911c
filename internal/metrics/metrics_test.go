package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matchLabels(m, labels) {
				return m
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
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

func TestRecordWebhookCountsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordWebhook("applied")
	c.RecordWebhook("applied")
	c.RecordWebhook("invalid_signature")

	m := findMetric(t, reg, "identitysync_webhook_requests_total", map[string]string{"result": "applied"})
	if got := m.GetCounter().GetValue(); got != 2 {
		t.Errorf("applied = %v, want 2", got)
	}
	m = findMetric(t, reg, "identitysync_webhook_requests_total", map[string]string{"result": "invalid_signature"})
	if got := m.GetCounter().GetValue(); got != 1 {
		t.Errorf("invalid_signature = %v, want 1", got)
	}
}

func TestRecordReconcile(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordReconcile("user.created", "created", 20*time.Millisecond)

	m := findMetric(t, reg, "identitysync_reconcile_total", map[string]string{"kind": "user.created", "outcome": "created"})
	if got := m.GetCounter().GetValue(); got != 1 {
		t.Errorf("reconcile_total = %v, want 1", got)
	}
	h := findMetric(t, reg, "identitysync_reconcile_duration_seconds", map[string]string{"kind": "user.created"})
	if got := h.GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("sample count = %v, want 1", got)
	}
}

func TestRecordGateDecision(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordGateDecision("redirect")

	m := findMetric(t, reg, "identitysync_gate_decisions_total", map[string]string{"decision": "redirect"})
	if got := m.GetCounter().GetValue(); got != 1 {
		t.Errorf("gate decisions = %v, want 1", got)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordWebhook("duplicate")

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `identitysync_webhook_requests_total{result="duplicate"} 1`) {
		t.Errorf("unexpected body:\n%s", body)
	}
}

func TestNopSatisfiesRecorder(t *testing.T) {
	var r Recorder = Nop{}
	r.RecordWebhook("applied")
	r.RecordReconcile("user.deleted", "noop", time.Millisecond)
	r.RecordGateDecision("allow")
}
