package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrometheusHandler_ExposesSnapshot(t *testing.T) {
	m := New()
	m.Inc(FlightsCreated)
	m.Add(RelayDelivered, 2)
	m.Inc(`quote"back\slash`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()

	PrometheusHandler(m, map[string]GaugeFunc{
		"active_flights": func() int { return 3 },
	}).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusOK)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "# TYPE flight_signaling_events_total counter") {
		t.Fatalf("missing TYPE header: %s", body)
	}
	if !strings.Contains(body, `flight_signaling_events_total{event="relay_delivered"} 2`) {
		t.Fatalf("missing relay_delivered counter: %s", body)
	}
	if !strings.Contains(body, `flight_signaling_events_total{event="flights_created"} 1`) {
		t.Fatalf("missing flights_created counter: %s", body)
	}
	if !strings.Contains(body, `flight_signaling_events_total{event="quote\"back\\slash"} 1`) {
		t.Fatalf("missing escaped counter: %s", body)
	}
	if !strings.Contains(body, "flight_signaling_active_flights 3") {
		t.Fatalf("missing gauge: %s", body)
	}
}

func TestMetrics_NilReceiverIsNoop(t *testing.T) {
	var m *Metrics
	m.Inc(FlightsCreated)
	if got := m.Get(FlightsCreated); got != 0 {
		t.Fatalf("Get=%d, want 0", got)
	}
	if snap := m.Snapshot(); snap != nil {
		t.Fatalf("Snapshot=%v, want nil", snap)
	}
}
