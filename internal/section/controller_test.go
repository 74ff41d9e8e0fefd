package section

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/history/internal/patient"
	"github.com/ehr/history/internal/platform/clock"
	"github.com/ehr/history/internal/platform/errclass"
	"github.com/ehr/history/internal/platform/store"
)

// fakeFetcher answers fetches from a queue of scripted responses; once the
// queue is exhausted the last response repeats.
type fakeFetcher struct {
	mu      sync.Mutex
	calls   []FetchParams
	replies []fetchReply
	hook    func(FetchParams)
}

type fetchReply struct {
	records []Record
	err     error
}

func (f *fakeFetcher) push(records []Record, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, fetchReply{records: records, err: err})
}

func (f *fakeFetcher) fetch(_ context.Context, params FetchParams) (Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, params)
	var r fetchReply
	if len(f.replies) > 0 {
		r = f.replies[0]
		if len(f.replies) > 1 {
			f.replies = f.replies[1:]
		}
	}
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		hook(params)
	}
	return Result{Records: r.records}, r.err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeFetcher) lastCall() FetchParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type renderLog struct {
	mu      sync.Mutex
	renders [][]Record
	status  []Status
}

func (r *renderLog) render(_ string, records []Record, _ SortState, _ GlobalSettings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renders = append(r.renders, records)
}

func (r *renderLog) onStatus(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = append(r.status, s)
}

func (r *renderLog) renderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.renders)
}

func (r *renderLog) lastRender() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.renders[len(r.renders)-1]
}

type messageLog struct {
	mu   sync.Mutex
	msgs []string
	sev  []errclass.Severity
}

func (m *messageLog) ShowMessage(text string, severity errclass.Severity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, text)
	m.sev = append(m.sev, severity)
}

type harness struct {
	ctrl    *Controller
	fetcher *fakeFetcher
	clock   *clock.Fake
	renders *renderLog
	msgs    *messageLog
	store   *store.Memory
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		fetcher: &fakeFetcher{},
		clock:   clock.NewFake(time.Date(2024, time.March, 15, 10, 0, 0, 0, time.Local)),
		renders: &renderLog{},
		msgs:    &messageLog{},
		store:   store.NewMemory(),
	}
	h.ctrl = New(cfg, Deps{
		Fetch:     h.fetcher.fetch,
		Render:    h.renders.render,
		Status:    h.renders.onStatus,
		Messages:  h.msgs,
		Store:     h.store,
		Scheduler: h.clock,
		Logger:    zerolog.Nop(),
	})
	return h
}

var (
	ana   = &patient.Patient{ID: "101", FullPK: "abc", Name: "Ana"}
	bruno = &patient.Patient{ID: "202", FullPK: "def", Name: "Bruno"}
)

func TestController_FetchWithoutPatient(t *testing.T) {
	h := newHarness(t, ConsultationsConfig())
	if err := h.ctrl.FetchData(context.Background()); !errors.Is(err, ErrNoPatient) {
		t.Fatalf("expected ErrNoPatient, got %v", err)
	}
	if h.fetcher.callCount() != 0 {
		t.Error("no request should be sent without a patient")
	}
}

func TestController_FetchSuccess(t *testing.T) {
	h := newHarness(t, ConsultationsConfig())
	h.fetcher.push([]Record{
		{"date": "10/01/2024", "specialty": "Cardiologia"},
		{"date": "20/02/2024", "specialty": "Ortopedia"},
	}, nil)
	h.ctrl.BindPatient(context.Background(), ana)

	if err := h.ctrl.FetchData(context.Background()); err != nil {
		t.Fatalf("FetchData: %v", err)
	}
	if got := h.ctrl.State().Phase; got != PhaseReady {
		t.Fatalf("expected ready, got %s", got)
	}
	params := h.fetcher.lastCall()
	if params.Patient.ID != "101" || params.DateInitial != "15/09/2023" || params.DateFinal != "15/03/2024" {
		t.Errorf("unexpected params %+v", params)
	}
	rendered := h.renders.lastRender()
	if len(rendered) != 2 || rendered[0].Text("specialty") != "Ortopedia" {
		t.Errorf("expected newest first, got %v", rendered)
	}
}

func TestController_NetworkFailureExhaustsRetries(t *testing.T) {
	h := newHarness(t, ConsultationsConfig())
	h.fetcher.push([]Record{{"date": "10/01/2024"}}, nil)
	h.fetcher.push(nil, errors.New("Network request failed"))
	h.ctrl.BindPatient(context.Background(), ana)
	ctx := context.Background()

	if err := h.ctrl.FetchData(ctx); err != nil {
		t.Fatal(err)
	}
	if len(h.ctrl.AllData()) != 1 {
		t.Fatal("expected initial data")
	}

	if err := h.ctrl.FetchData(ctx); err != nil {
		t.Fatal(err)
	}
	st := h.ctrl.State()
	if st.Phase != PhaseRetrying || st.Kind != errclass.KindNetwork || st.Delay != time.Second {
		t.Fatalf("after first failure: %+v", st)
	}
	if !strings.Contains(h.msgs.msgs[len(h.msgs.msgs)-1], "Nova tentativa 2 de 3") {
		t.Errorf("retry message missing attempt info: %q", h.msgs.msgs[len(h.msgs.msgs)-1])
	}
	if err := h.ctrl.FetchData(ctx); !errors.Is(err, ErrBusy) {
		t.Errorf("fetch during retry wait should be dropped, got %v", err)
	}

	h.clock.Advance(time.Second)
	st = h.ctrl.State()
	if st.Phase != PhaseRetrying || st.Delay != 2*time.Second {
		t.Fatalf("after second failure: %+v", st)
	}

	rendersBefore := h.renders.renderCount()
	h.clock.Advance(2 * time.Second)
	st = h.ctrl.State()
	if st.Phase != PhaseError || st.Kind != errclass.KindNetwork {
		t.Fatalf("expected terminal network error, got %+v", st)
	}
	if h.renders.renderCount() <= rendersBefore {
		t.Error("clearing the data must re-render")
	}
	if got := h.renders.lastRender(); len(got) != 0 {
		t.Errorf("last render should be empty after the data was cleared, got %d records", len(got))
	}
	if n := h.fetcher.callCount(); n != 4 {
		t.Errorf("expected 1 success and 3 failed attempts, got %d calls", n)
	}
	if len(h.ctrl.AllData()) != 0 {
		t.Error("network errors must clear previously loaded data")
	}
	if h.clock.Pending() != 0 {
		t.Error("no retry should remain scheduled")
	}
	status := h.ctrl.Status()
	if status.Error == nil || !status.Error.CanRetry || status.Error.Kind != errclass.KindNetwork {
		t.Errorf("unexpected status error %+v", status.Error)
	}
	if len(h.msgs.msgs) != 3 {
		t.Errorf("expected a message per failure, got %d", len(h.msgs.msgs))
	}
}

func TestController_AuthFailureKeepsData(t *testing.T) {
	h := newHarness(t, ExamsConfig())
	h.fetcher.push([]Record{{"date": "10/01/2024"}, {"date": "11/01/2024"}}, nil)
	h.fetcher.push(nil, errors.New("401 Unauthorized"))
	h.ctrl.BindPatient(context.Background(), ana)
	ctx := context.Background()

	_ = h.ctrl.FetchData(ctx)
	_ = h.ctrl.FetchData(ctx)

	st := h.ctrl.State()
	if st.Phase != PhaseError || st.Kind != errclass.KindAuthentication {
		t.Fatalf("expected terminal auth error, got %+v", st)
	}
	if h.clock.Pending() != 0 {
		t.Error("authentication errors must not schedule a retry")
	}
	if len(h.ctrl.AllData()) != 2 {
		t.Error("authentication errors must keep loaded data")
	}
	if h.msgs.sev[len(h.msgs.sev)-1] != errclass.SeverityError {
		t.Errorf("unexpected severity %v", h.msgs.sev)
	}
}

func TestController_ManualRetryAfterError(t *testing.T) {
	h := newHarness(t, DocumentsConfig())
	h.fetcher.push(nil, errors.New("422 validation failed"))
	h.fetcher.push([]Record{{"description": "Laudo"}}, nil)
	h.ctrl.BindPatient(context.Background(), ana)

	_ = h.ctrl.FetchData(context.Background())
	if h.ctrl.State().Phase != PhaseError {
		t.Fatal("validation errors are terminal")
	}
	if err := h.ctrl.Retry(context.Background()); err != nil {
		t.Fatal(err)
	}
	if h.ctrl.State().Phase != PhaseReady || h.ctrl.Status().Error != nil {
		t.Errorf("retry should recover, got %+v", h.ctrl.Status())
	}
}

func TestController_CancelRetry(t *testing.T) {
	h := newHarness(t, RegulationsConfig())
	h.fetcher.push(nil, errors.New("503 Service Unavailable"))
	h.ctrl.BindPatient(context.Background(), ana)
	_ = h.ctrl.FetchData(context.Background())

	if !h.ctrl.CancelRetry() {
		t.Fatal("a retry should have been pending")
	}
	if h.ctrl.CancelRetry() {
		t.Error("second cancel should be a no-op")
	}
	h.clock.Advance(10 * time.Second)
	if h.fetcher.callCount() != 1 {
		t.Errorf("cancelled retry still fired: %d calls", h.fetcher.callCount())
	}
	status := h.ctrl.Status()
	if status.Phase != PhaseError || status.Error == nil || status.Error.Kind != errclass.KindServer {
		t.Errorf("unexpected status %+v", status)
	}
}

func TestController_CancelRetryRendersClearedData(t *testing.T) {
	h := newHarness(t, ConsultationsConfig())
	h.fetcher.push([]Record{{"date": "10/01/2024"}}, nil)
	h.fetcher.push(nil, errors.New("Network request failed"))
	h.ctrl.BindPatient(context.Background(), ana)
	_ = h.ctrl.FetchData(context.Background())
	_ = h.ctrl.FetchData(context.Background())

	if len(h.ctrl.AllData()) != 1 {
		t.Fatal("data must survive until the error is terminal")
	}
	rendersBefore := h.renders.renderCount()
	if !h.ctrl.CancelRetry() {
		t.Fatal("a retry should have been pending")
	}
	if len(h.ctrl.AllData()) != 0 {
		t.Error("cancelling a network retry must clear the data")
	}
	if h.renders.renderCount() <= rendersBefore || len(h.renders.lastRender()) != 0 {
		t.Error("expected an empty render after the cancel")
	}
}

func TestController_PanickingFetchIsAFailure(t *testing.T) {
	h := newHarness(t, DocumentsConfig())
	h.fetcher.hook = func(FetchParams) { panic("boom") }
	h.ctrl.BindPatient(context.Background(), ana)
	_ = h.ctrl.FetchData(context.Background())
	st := h.ctrl.State()
	if st.Phase != PhaseRetrying || st.Kind != errclass.KindUnknown {
		t.Errorf("expected a retryable unknown failure, got %+v", st)
	}
}

func TestController_RebindResetsSection(t *testing.T) {
	h := newHarness(t, ConsultationsConfig())
	h.fetcher.push([]Record{{"date": "10/01/2024"}}, nil)
	h.fetcher.push(nil, errors.New("Network request failed"))
	ctx := context.Background()
	h.ctrl.BindPatient(ctx, ana)
	_ = h.ctrl.FetchData(ctx)
	_ = h.ctrl.SetFilters(FilterState{"specialty": "cardio"})
	_ = h.ctrl.FetchData(ctx)
	if h.ctrl.State().Phase != PhaseRetrying {
		t.Fatal("expected pending retry")
	}

	h.ctrl.BindPatient(ctx, bruno)
	if st := h.ctrl.State(); st.Phase != PhaseIdle || !st.HasPatient {
		t.Errorf("expected idle with patient, got %+v", st)
	}
	if len(h.ctrl.AllData()) != 0 || h.ctrl.Filters()["specialty"] != "" {
		t.Error("rebind must clear data and filters")
	}
	calls := h.fetcher.callCount()
	h.clock.Advance(time.Minute)
	if h.fetcher.callCount() != calls {
		t.Error("retry for the previous patient fired after rebind")
	}
}

func TestController_SameIdentityIsIgnored(t *testing.T) {
	h := newHarness(t, ConsultationsConfig())
	h.fetcher.push([]Record{{"date": "10/01/2024"}}, nil)
	ctx := context.Background()
	h.ctrl.BindPatient(ctx, ana)
	_ = h.ctrl.FetchData(ctx)

	renamed := *ana
	renamed.Name = "Ana Maria"
	h.ctrl.BindPatient(ctx, &renamed)
	if len(h.ctrl.AllData()) != 1 || h.ctrl.State().Phase != PhaseReady {
		t.Error("same patient should not reset the section")
	}
	if h.ctrl.Patient().Name != "Ana Maria" {
		t.Error("display fields should be refreshed")
	}
}

func TestController_StaleResultIsDiscarded(t *testing.T) {
	h := newHarness(t, ConsultationsConfig())
	h.fetcher.push([]Record{{"date": "10/01/2024"}}, nil)
	ctx := context.Background()
	h.ctrl.BindPatient(ctx, ana)
	h.fetcher.hook = func(p FetchParams) {
		if p.Patient.ID == ana.ID {
			h.ctrl.BindPatient(ctx, bruno)
		}
	}

	_ = h.ctrl.FetchData(ctx)
	if len(h.ctrl.AllData()) != 0 {
		t.Error("records of the previous patient were kept")
	}
	if st := h.ctrl.State(); st.Phase != PhaseIdle {
		t.Errorf("expected idle for the new patient, got %s", st.Phase)
	}
	if h.ctrl.Patient().ID != bruno.ID {
		t.Error("wrong patient bound")
	}
}

func TestController_AutoLoad(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.push([]Record{{"date": "10/01/2024"}}, nil)
	ctrl := New(ConsultationsConfig(), Deps{
		Fetch:     fetcher.fetch,
		Scheduler: clock.NewFake(time.Now()),
		Logger:    zerolog.Nop(),
		AutoLoad:  func(section string) bool { return section == Consultations },
	})
	ctrl.BindPatient(context.Background(), ana)
	if fetcher.callCount() != 1 || ctrl.State().Phase != PhaseReady {
		t.Errorf("auto-load should fetch on bind, calls=%d", fetcher.callCount())
	}
	ctrl.BindPatient(context.Background(), nil)
	if fetcher.callCount() != 1 {
		t.Error("unbinding must not fetch")
	}
}

func TestController_ExamFetchTypeFlags(t *testing.T) {
	tests := []struct {
		fetchType     string
		with, without string
	}{
		{ExamFetchAll, "true", "true"},
		{ExamFetchWithResult, "true", "false"},
		{ExamFetchWithoutResult, "false", "true"},
	}
	for _, tt := range tests {
		t.Run(tt.fetchType, func(t *testing.T) {
			h := newHarness(t, ExamsConfig())
			h.ctrl.BindPatient(context.Background(), ana)
			if err := h.ctrl.SetFilters(FilterState{FieldFetchType: tt.fetchType}); err != nil {
				t.Fatal(err)
			}
			_ = h.ctrl.FetchData(context.Background())
			extra := h.fetcher.lastCall().Extra
			if extra["comResultado"] != tt.with || extra["semResultado"] != tt.without {
				t.Errorf("unexpected flags %v", extra)
			}
		})
	}
}

func TestController_SetFilterIsDebounced(t *testing.T) {
	h := newHarness(t, ConsultationsConfig())
	h.fetcher.push([]Record{
		{"date": "10/01/2024", "specialty": "Cardiologia"},
		{"date": "11/01/2024", "specialty": "Ortopedia"},
	}, nil)
	h.ctrl.BindPatient(context.Background(), ana)
	_ = h.ctrl.FetchData(context.Background())
	before := h.renders.renderCount()

	_ = h.ctrl.SetFilter("specialty", "car")
	_ = h.ctrl.SetFilter("specialty", "cardio")
	if h.renders.renderCount() != before {
		t.Fatal("render should wait for the debounce period")
	}
	h.clock.Advance(250 * time.Millisecond)
	if h.renders.renderCount() != before+1 {
		t.Fatalf("expected exactly one render, got %d", h.renders.renderCount()-before)
	}
	if got := h.renders.lastRender(); len(got) != 1 {
		t.Errorf("expected filtered result, got %v", got)
	}
	if h.ctrl.Status().ActiveFilters != 1 {
		t.Errorf("expected one active filter")
	}
}

func TestController_UnknownFilter(t *testing.T) {
	h := newHarness(t, DocumentsConfig())
	if err := h.ctrl.SetFilter("nope", "x"); !errors.Is(err, ErrUnknownField) {
		t.Errorf("expected ErrUnknownField, got %v", err)
	}
	if err := h.ctrl.SetFilters(FilterState{"description": "a", "nope": "x"}); !errors.Is(err, ErrUnknownField) {
		t.Errorf("expected ErrUnknownField, got %v", err)
	}
	if h.ctrl.Filters()["description"] != "" {
		t.Error("rejected SetFilters must not write anything")
	}
}

func TestController_ClearFiltersIsIdempotent(t *testing.T) {
	h := newHarness(t, RegulationsConfig())
	h.fetcher.push([]Record{{"status": "PENDENTE"}, {"status": "AUTORIZADO"}}, nil)
	h.ctrl.BindPatient(context.Background(), ana)
	_ = h.ctrl.FetchData(context.Background())
	_ = h.ctrl.SetFilters(FilterState{"status": "PENDENTE"})

	h.ctrl.ClearFilters()
	first := h.renders.lastRender()
	h.ctrl.ClearFilters()
	second := h.renders.lastRender()
	if len(first) != 2 || len(second) != 2 {
		t.Errorf("clear should show everything, got %d then %d", len(first), len(second))
	}
	if h.ctrl.Status().ActiveFilters != 0 {
		t.Error("no filters should be active after clear")
	}
}

func TestController_HandleSort(t *testing.T) {
	h := newHarness(t, ExamsConfig())
	h.fetcher.push([]Record{{"date": "10/01/2024"}, {"date": "11/02/2024"}}, nil)
	h.ctrl.BindPatient(context.Background(), ana)
	_ = h.ctrl.FetchData(context.Background())

	if s := h.ctrl.HandleSort("date"); s.Order != Asc {
		t.Errorf("expected asc after toggling the default column, got %v", s)
	}
	if got := h.renders.lastRender(); got[0].Text("date") != "10/01/2024" {
		t.Errorf("expected oldest first, got %v", got)
	}
}
