package section

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func newTestHandler(h *harness) *Handler {
	lookup := func(key string) (*Controller, bool) {
		if key == h.ctrl.Key() {
			return h.ctrl, true
		}
		return nil, false
	}
	return NewHandler(lookup, []string{h.ctrl.Key(), "missing"})
}

func sectionContext(method, path, body, key string, extra ...string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	names := []string{"key"}
	values := []string{key}
	for i := 0; i+1 < len(extra); i += 2 {
		names = append(names, extra[i])
		values = append(values, extra[i+1])
	}
	c.SetParamNames(names...)
	c.SetParamValues(values...)
	return c, rec
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	return he.Code
}

func TestHandler_List(t *testing.T) {
	h := newHarness(t, ConsultationsConfig())
	c, rec := sectionContext(http.MethodGet, "/sections", "", "")
	if err := newTestHandler(h).List(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out []Status
	json.Unmarshal(rec.Body.Bytes(), &out)
	if len(out) != 1 || out[0].Section != Consultations || out[0].Phase != PhaseIdle {
		t.Errorf("unexpected statuses %+v", out)
	}
}

func TestHandler_UnknownSection(t *testing.T) {
	h := newHarness(t, ConsultationsConfig())
	c, _ := sectionContext(http.MethodGet, "/sections/labs", "", "labs")
	if code := httpCode(t, newTestHandler(h).GetStatus(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_FetchWithoutPatient(t *testing.T) {
	h := newHarness(t, ConsultationsConfig())
	c, _ := sectionContext(http.MethodPost, "/sections/consultations/fetch", "", Consultations)
	if code := httpCode(t, newTestHandler(h).Fetch(c)); code != http.StatusPreconditionFailed {
		t.Errorf("expected 412, got %d", code)
	}
}

func TestHandler_FetchAndPageRecords(t *testing.T) {
	h := newHarness(t, ConsultationsConfig())
	h.fetcher.push([]Record{
		{"date": "10/01/2024", "specialty": "Cardiologia"},
		{"date": "20/02/2024", "specialty": "Ortopedia"},
	}, nil)
	h.ctrl.BindPatient(context.Background(), ana)
	handler := newTestHandler(h)

	c, rec := sectionContext(http.MethodPost, "/sections/consultations/fetch", "", Consultations)
	if err := handler.Fetch(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var st Status
	json.Unmarshal(rec.Body.Bytes(), &st)
	if st.Phase != PhaseReady || st.Total != 2 {
		t.Errorf("unexpected status %+v", st)
	}

	c, rec = sectionContext(http.MethodGet, "/sections/consultations/records?limit=1", "", Consultations)
	if err := handler.Records(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var page struct {
		Data    []Record `json:"data"`
		Total   int      `json:"total"`
		HasMore bool     `json:"has_more"`
	}
	json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 2 || len(page.Data) != 1 || !page.HasMore {
		t.Fatalf("unexpected page %+v", page)
	}
	if page.Data[0].Text("specialty") != "Ortopedia" {
		t.Errorf("expected newest first, got %v", page.Data[0])
	}
}

func TestHandler_CancelRetry(t *testing.T) {
	h := newHarness(t, ConsultationsConfig())
	h.fetcher.push(nil, errors.New("503 Service Unavailable"))
	h.ctrl.BindPatient(context.Background(), ana)
	handler := newTestHandler(h)

	c, _ := sectionContext(http.MethodPost, "/sections/consultations/fetch", "", Consultations)
	if err := handler.Fetch(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, _ = sectionContext(http.MethodPost, "/sections/consultations/fetch", "", Consultations)
	if code := httpCode(t, handler.Fetch(c)); code != http.StatusConflict {
		t.Errorf("fetch while a retry is pending: expected 409, got %d", code)
	}

	c, rec := sectionContext(http.MethodPost, "/sections/consultations/retry/cancel", "", Consultations)
	if err := handler.CancelRetry(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var st Status
	json.Unmarshal(rec.Body.Bytes(), &st)
	if st.Phase != PhaseError {
		t.Errorf("expected error phase after cancel, got %s", st.Phase)
	}

	c, _ = sectionContext(http.MethodPost, "/sections/consultations/retry/cancel", "", Consultations)
	if code := httpCode(t, handler.CancelRetry(c)); code != http.StatusConflict {
		t.Errorf("second cancel: expected 409, got %d", code)
	}
}

func TestHandler_SetFilters(t *testing.T) {
	h := newHarness(t, ConsultationsConfig())
	handler := newTestHandler(h)

	c, _ := sectionContext(http.MethodPut, "/sections/consultations/filters", `{"color":"red"}`, Consultations)
	if code := httpCode(t, handler.SetFilters(c)); code != http.StatusBadRequest {
		t.Errorf("unknown control: expected 400, got %d", code)
	}

	c, rec := sectionContext(http.MethodPut, "/sections/consultations/filters", `{"keyword":"cardio"}`, Consultations)
	if err := handler.SetFilters(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var st Status
	json.Unmarshal(rec.Body.Bytes(), &st)
	if st.Filters["keyword"] != "cardio" || st.ActiveFilters != 1 {
		t.Errorf("unexpected status %+v", st)
	}

	c, _ = sectionContext(http.MethodDelete, "/sections/consultations/filters", "", Consultations)
	if err := handler.ClearFilters(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.ctrl.Filters()["keyword"] != "" {
		t.Error("expected filters to be reset")
	}
}

func TestHandler_SetFilterIsDebounced(t *testing.T) {
	h := newHarness(t, ConsultationsConfig())
	handler := newTestHandler(h)
	before := h.renders.renderCount()

	c, rec := sectionContext(http.MethodPatch, "/sections/consultations/filters/keyword", `{"value":"orto"}`, Consultations, "id", "keyword")
	if err := handler.SetFilter(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Errorf("expected 202, got %d", rec.Code)
	}
	if h.renders.renderCount() != before {
		t.Error("render must wait for the debounce period")
	}
	h.clock.Advance(250 * time.Millisecond)
	if h.renders.renderCount() != before+1 {
		t.Error("expected one render after the debounce period")
	}
}

func TestHandler_Sort(t *testing.T) {
	h := newHarness(t, ConsultationsConfig())
	handler := newTestHandler(h)

	c, rec := sectionContext(http.MethodPost, "/sections/consultations/sort", `{"key":"date"}`, Consultations)
	if err := handler.Sort(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var s SortState
	json.Unmarshal(rec.Body.Bytes(), &s)
	if s.Key != "date" || s.Order != Asc {
		t.Errorf("expected date asc after toggling the default, got %+v", s)
	}

	c, _ = sectionContext(http.MethodPost, "/sections/consultations/sort", `{}`, Consultations)
	if code := httpCode(t, handler.Sort(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_FilterSets(t *testing.T) {
	h := newHarness(t, ConsultationsConfig())
	handler := newTestHandler(h)
	h.ctrl.SetFilters(FilterState{"keyword": "cardio"})

	c, rec := sectionContext(http.MethodPost, "/sections/consultations/filter-sets", `{"name":"Cardio"}`, Consultations)
	if err := handler.SaveFilterSet(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	c, _ = sectionContext(http.MethodPost, "/sections/consultations/filter-sets", `{"name":"  "}`, Consultations)
	if code := httpCode(t, handler.SaveFilterSet(c)); code != http.StatusBadRequest {
		t.Errorf("empty name: expected 400, got %d", code)
	}

	c, rec = sectionContext(http.MethodGet, "/sections/consultations/filter-sets", "", Consultations)
	if err := handler.ListFilterSets(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var sets []SavedFilterSet
	json.Unmarshal(rec.Body.Bytes(), &sets)
	if len(sets) != 1 || sets[0].Values["keyword"] != "cardio" {
		t.Fatalf("unexpected sets %+v", sets)
	}

	h.ctrl.ClearFilters()
	c, _ = sectionContext(http.MethodPost, "/sections/consultations/filter-sets/Cardio/load", "", Consultations, "name", "Cardio")
	if err := handler.LoadFilterSet(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.ctrl.Filters()["keyword"] != "cardio" {
		t.Error("expected the saved values to be restored")
	}

	c, _ = sectionContext(http.MethodPost, "/sections/consultations/filter-sets/Outro/load", "", Consultations, "name", "Outro")
	if code := httpCode(t, handler.LoadFilterSet(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}

	c, _ = sectionContext(http.MethodDelete, "/sections/consultations/filter-sets/Cardio", "", Consultations, "name", "Cardio")
	if code := httpCode(t, handler.DeleteFilterSet(c)); code != http.StatusBadRequest {
		t.Errorf("unconfirmed delete: expected 400, got %d", code)
	}
	c, rec = sectionContext(http.MethodDelete, "/sections/consultations/filter-sets/Cardio?confirm=true", "", Consultations, "name", "Cardio")
	if err := handler.DeleteFilterSet(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

func TestHandler_ClearAutomation(t *testing.T) {
	h := newHarness(t, RegulationsConfig())
	h.ctrl.ApplyAutomationFilters(context.Background(), AutomationSettings{Values: FilterState{"status": "PENDENTE"}}, "Oncologia")

	c, rec := sectionContext(http.MethodDelete, "/sections/regulations/automation", "", Regulations)
	if err := newTestHandler(h).ClearAutomation(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var st Status
	json.Unmarshal(rec.Body.Bytes(), &st)
	if st.AutomationRule != "" || st.ActiveFilters != 0 {
		t.Errorf("expected the rule and its filters to be cleared, got %+v", st)
	}
}
