package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandleMetrics(t *testing.T) {
	EventsReceived.Add(3)
	AlertQueueDrops.Add(1)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	HandleMetrics(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}

	body := w.Body.String()
	for _, metric := range []string{
		"monitor_events_received_total",
		"monitor_events_stale_total",
		"monitor_alerts_emitted_total",
		"monitor_alert_queue_drops_total",
		"monitor_advisory_short_circuits_total",
	} {
		if !strings.Contains(body, metric) {
			t.Errorf("metric %s missing from output", metric)
		}
	}
}
