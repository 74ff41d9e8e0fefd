package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveFetch("exams", "success", time.Second)
	m.RetryScheduled("exams", "NETWORK")
	m.TerminalFailure("exams", "NETWORK")
	m.EventsNormalized("exam", 3)
	m.SourceFailed("exams", "fetch")
	m.PatientRebound()
	if m.Registry() != nil {
		t.Error("nil metrics should have no registry")
	}
}

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.ObserveFetch("exams", "failure", 20*time.Millisecond)
	m.ObserveFetch("exams", "failure", 20*time.Millisecond)
	m.RetryScheduled("exams", "NETWORK")
	m.EventsNormalized("consultation", 4)
	m.EventsNormalized("consultation", 0)

	if got := testutil.ToFloat64(m.fetchTotal.WithLabelValues("exams", "failure")); got != 2 {
		t.Errorf("fetch_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.retriesTotal.WithLabelValues("exams", "NETWORK")); got != 1 {
		t.Errorf("retries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.eventsTotal.WithLabelValues("consultation")); got != 4 {
		t.Errorf("events = %v, want 4", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.PatientRebound()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := m.Handler()(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "patient_history_patient_rebinds_total 1") {
		t.Errorf("rebind counter missing from exposition")
	}
}
