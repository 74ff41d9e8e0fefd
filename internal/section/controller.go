package section

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/history/internal/patient"
	"github.com/ehr/history/internal/platform/clock"
	"github.com/ehr/history/internal/platform/errclass"
	"github.com/ehr/history/internal/platform/retry"
	"github.com/ehr/history/internal/platform/store"
	"github.com/ehr/history/internal/platform/telemetry"
)

var (
	// ErrNoPatient is returned when an operation needs a bound patient.
	ErrNoPatient = errors.New("no patient selected")
	// ErrBusy is returned when a fetch is dropped because another one is
	// loading or waiting to retry. In-flight fetches cannot be cancelled.
	ErrBusy = errors.New("fetch already in progress")
	// ErrUnknownField is returned when a filter control does not exist.
	ErrUnknownField = errors.New("unknown filter field")
)

// Deps are the collaborators of a Controller. Fetch is required; every
// other field has a usable zero value.
type Deps struct {
	Fetch     FetchFunc
	Render    RenderFunc
	Status    StatusFunc
	Messages  MessageSink
	Store     store.Store
	Scheduler clock.Scheduler
	Settings  func() GlobalSettings
	Metrics   *telemetry.Metrics
	Logger    zerolog.Logger
	Policy    *retry.Policy
	// Debounce is the quiet period before filter input is applied.
	Debounce time.Duration
	// AutoLoad reports whether the section fetches as soon as a patient is bound.
	AutoLoad func(section string) bool
}

// Controller owns the lifecycle of one section for the page session.
type Controller struct {
	cfg      Config
	deps     Deps
	policy   retry.Policy
	sched    clock.Scheduler
	log      zerolog.Logger
	debounce *clock.Debouncer

	// renderMu serialises Render and Status callbacks.
	renderMu sync.Mutex
	// setsMu serialises read-modify-write of saved filter sets.
	setsMu sync.Mutex

	mu         sync.Mutex
	state      State
	patient    *patient.Patient
	generation uint64
	allData    []Record
	filters    FilterState
	sort       SortState
	rule       string
	lastErr    *errclass.Description
	pendingErr *errclass.Description
	retryTimer clock.Timer
	retryAt    time.Time
}

// New creates the controller of one section.
func New(cfg Config, deps Deps) *Controller {
	policy := retry.DefaultPolicy()
	if deps.Policy != nil {
		policy = *deps.Policy
	}
	sched := deps.Scheduler
	if sched == nil {
		sched = clock.Real()
	}
	debounce := deps.Debounce
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	c := &Controller{
		cfg:      cfg,
		deps:     deps,
		policy:   policy,
		sched:    sched,
		log:      deps.Logger.With().Str("section", cfg.Key).Logger(),
		debounce: clock.NewDebouncer(sched, debounce),
		sort:     cfg.DefaultSort,
	}
	c.filters = cfg.DefaultFilters(sched.Now())
	return c
}

// Key returns the section key.
func (c *Controller) Key() string { return c.cfg.Key }

// Config returns the section definition.
func (c *Controller) Config() Config { return c.cfg }

// BindPatient rebinds the section to p (nil unbinds). A patient with the
// same identity as the bound one is ignored. On a change, data, filters and
// automation feedback are cleared, any pending retry is dropped, and a
// fetch still in flight for the previous patient is discarded when it
// completes.
func (c *Controller) BindPatient(ctx context.Context, p *patient.Patient) {
	c.mu.Lock()
	if patient.SameIdentity(c.patient, p) {
		if p != nil {
			cp := *p
			c.patient = &cp
		}
		c.mu.Unlock()
		return
	}
	c.stopRetryLocked()
	c.debounce.Cancel()
	c.generation++
	ev := Event{Type: EventUnbind}
	c.patient = nil
	if p != nil {
		cp := *p
		c.patient = &cp
		ev = Event{Type: EventBind}
	}
	c.state, _ = NextState(c.policy, c.state, ev)
	c.allData = nil
	c.filters = c.cfg.DefaultFilters(c.sched.Now())
	c.rule = ""
	c.lastErr = nil
	c.pendingErr = nil
	c.mu.Unlock()

	c.log.Info().Bool("bound", p != nil).Msg("patient changed, section reset")
	c.ApplyFiltersAndRender()

	if p != nil && c.deps.AutoLoad != nil && c.deps.AutoLoad(c.cfg.Key) {
		if err := c.FetchData(ctx); err != nil && !errors.Is(err, ErrBusy) {
			c.log.Warn().Err(err).Msg("auto-load skipped")
		}
	}
}

// Patient returns the bound patient, or nil.
func (c *Controller) Patient() *patient.Patient {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.patient == nil {
		return nil
	}
	p := *c.patient
	return &p
}

// FetchData loads the section for the bound patient using the current
// filter values. It returns ErrNoPatient or ErrBusy when the call is
// dropped. Failures are not returned: they drive the retry lifecycle and
// end up in the status.
func (c *Controller) FetchData(ctx context.Context) error {
	c.mu.Lock()
	next, ok := NextState(c.policy, c.state, Event{Type: EventFetch})
	if !ok {
		hasPatient := c.state.HasPatient
		c.mu.Unlock()
		if !hasPatient {
			return ErrNoPatient
		}
		return ErrBusy
	}
	c.state = next
	c.lastErr = nil
	c.mu.Unlock()

	c.execute(context.WithoutCancel(ctx))
	return nil
}

// Retry is the manual retry action of the error view.
func (c *Controller) Retry(ctx context.Context) error {
	return c.FetchData(ctx)
}

// ClearFiltersAndRetry resets filters to their defaults and fetches again.
func (c *Controller) ClearFiltersAndRetry(ctx context.Context) error {
	c.ClearFilters()
	return c.FetchData(ctx)
}

func (c *Controller) buildParamsLocked() FetchParams {
	params := FetchParams{
		Section:     c.cfg.Key,
		DateInitial: c.filters[FieldDateInitial],
		DateFinal:   c.filters[FieldDateFinal],
		FetchType:   c.filters[FieldFetchType],
	}
	if c.patient != nil {
		params.Patient = *c.patient
	}
	if c.cfg.FetchExtra != nil {
		params.Extra = c.cfg.FetchExtra(params.FetchType)
	}
	return params
}

// execute runs one fetch attempt. The state must already be loading.
func (c *Controller) execute(ctx context.Context) {
	c.mu.Lock()
	params := c.buildParamsLocked()
	gen := c.generation
	attempt := c.state.Attempt
	c.mu.Unlock()

	c.publishStatus()
	c.log.Debug().Int("attempt", attempt).Str("from", params.DateInitial).Str("to", params.DateFinal).Msg("fetching section")

	start := time.Now()
	res, err := c.fetch(ctx, params)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	c.deps.Metrics.ObserveFetch(c.cfg.Key, outcome, time.Since(start))

	if err != nil {
		c.handleFetchError(ctx, gen, err)
		return
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.log.Debug().Msg("discarding result for previous patient")
		return
	}
	c.state, _ = NextState(c.policy, c.state, Event{Type: EventSuccess})
	c.allData = res.Records
	c.lastErr = nil
	c.pendingErr = nil
	c.mu.Unlock()

	c.log.Info().Int("records", len(res.Records)).Int("attempt", attempt).Msg("section loaded")
	c.ApplyFiltersAndRender()
}

// fetch calls the injected fetch function, turning a panic into an error.
func (c *Controller) fetch(ctx context.Context, params FetchParams) (res Result, err error) {
	if c.deps.Fetch == nil {
		return Result{}, fmt.Errorf("section %s has no data source", c.cfg.Key)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("section %s: panic during request: %v", c.cfg.Key, r)
		}
	}()
	return c.deps.Fetch(ctx, params)
}

// handleFetchError classifies err and either schedules the next attempt
// or moves the section to its terminal error state.
func (c *Controller) handleFetchError(ctx context.Context, gen uint64, err error) {
	kind := errclass.Classify(err)
	desc := errclass.Describe(kind, c.cfg.Name)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	failed := c.state.Attempt
	next, ok := NextState(c.policy, c.state, Event{Type: EventFailure, Kind: kind, CanRetry: desc.CanRetry})
	if !ok {
		c.mu.Unlock()
		return
	}
	c.state = next
	cleared := false
	if next.Phase == PhaseRetrying {
		c.pendingErr = &desc
		c.retryAt = c.sched.Now().Add(next.Delay)
		c.retryTimer = c.sched.AfterFunc(next.Delay, func() { c.fireRetry(ctx, gen) })
	} else {
		cleared = c.terminateLocked(desc)
	}
	c.mu.Unlock()

	logEvt := c.log.Warn()
	if next.Phase == PhaseError {
		logEvt = c.log.Error()
	}
	logEvt.Err(err).Str("kind", string(kind)).Int("attempt", failed).Str("phase", string(next.Phase)).Msg("section fetch failed")

	msg := desc.Message
	if next.Phase == PhaseRetrying {
		c.deps.Metrics.RetryScheduled(c.cfg.Key, string(kind))
		msg = fmt.Sprintf("%s Nova tentativa %d de %d em %ds.", desc.Message, next.Attempt, c.policy.MaxAttempts, int(next.Delay/time.Second))
	} else {
		c.deps.Metrics.TerminalFailure(c.cfg.Key, string(kind))
	}
	c.showMessage(msg, desc.Severity)
	if cleared {
		c.ApplyFiltersAndRender()
		return
	}
	c.publishStatus()
}

func (c *Controller) fireRetry(ctx context.Context, gen uint64) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	next, ok := NextState(c.policy, c.state, Event{Type: EventRetryFire})
	if !ok {
		c.mu.Unlock()
		return
	}
	c.state = next
	c.retryTimer = nil
	c.mu.Unlock()

	c.log.Info().Int("attempt", next.Attempt).Msg("retrying section fetch")
	c.execute(ctx)
}

// CancelRetry abandons a scheduled retry and moves straight to the
// terminal error state. It reports whether a retry was pending.
func (c *Controller) CancelRetry() bool {
	c.mu.Lock()
	next, ok := NextState(c.policy, c.state, Event{Type: EventCancelRetry})
	if !ok {
		c.mu.Unlock()
		return false
	}
	c.stopRetryLocked()
	c.state = next
	desc := errclass.Describe(next.Kind, c.cfg.Name)
	if c.pendingErr != nil {
		desc = *c.pendingErr
	}
	cleared := c.terminateLocked(desc)
	c.mu.Unlock()

	c.log.Info().Msg("retry cancelled by user")
	c.deps.Metrics.TerminalFailure(c.cfg.Key, string(desc.Kind))
	if cleared {
		c.ApplyFiltersAndRender()
	} else {
		c.publishStatus()
	}
	return true
}

func (c *Controller) stopRetryLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.retryAt = time.Time{}
}

// terminateLocked applies the data-retention policy: authentication and
// validation errors keep previously loaded data, everything else clears it.
// It reports whether loaded data was dropped.
func (c *Controller) terminateLocked(desc errclass.Description) bool {
	c.lastErr = &desc
	c.pendingErr = nil
	c.retryAt = time.Time{}
	if errclass.RetainsData(desc.Kind) || c.allData == nil {
		return false
	}
	c.allData = nil
	return true
}

func (c *Controller) showMessage(text string, severity errclass.Severity) {
	if c.deps.Messages != nil {
		c.deps.Messages.ShowMessage(text, severity)
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// AllData returns the unfiltered records of the last successful fetch.
func (c *Controller) AllData() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, len(c.allData))
	copy(out, c.allData)
	return out
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() Status {
	s := Status{
		Section:        c.cfg.Key,
		Phase:          c.state.Phase,
		HasPatient:     c.state.HasPatient,
		Attempt:        c.state.Attempt,
		MaxAttempts:    c.policy.MaxAttempts,
		Total:          len(c.allData),
		ActiveFilters:  ActiveFilterCount(c.cfg, c.filters),
		Filters:        c.filters.Clone(),
		Sort:           c.sort,
		AutomationRule: c.rule,
	}
	if c.state.Phase == PhaseRetrying {
		s.RetryDelay = c.state.Delay
		at := c.retryAt
		s.RetryAt = &at
	}
	if c.lastErr != nil {
		d := *c.lastErr
		s.Error = &d
	}
	return s
}

func (c *Controller) publishStatus() {
	if c.deps.Status == nil {
		return
	}
	c.renderMu.Lock()
	defer c.renderMu.Unlock()
	c.deps.Status(c.Status())
}

// Visible returns the records the renderer would receive right now.
func (c *Controller) Visible() []Record {
	c.mu.Lock()
	data, filters, sortState := c.allData, c.filters.Clone(), c.sort
	c.mu.Unlock()
	return SortData(c.cfg, ApplyFilters(c.cfg, data, filters), sortState)
}

// ApplyFiltersAndRender filters and sorts the fetched records with the
// current filter values and hands them to the renderer, then publishes the
// status with the refreshed active filter count.
func (c *Controller) ApplyFiltersAndRender() {
	c.renderMu.Lock()
	defer c.renderMu.Unlock()

	c.mu.Lock()
	data, filters, sortState := c.allData, c.filters.Clone(), c.sort
	c.mu.Unlock()

	sorted := SortData(c.cfg, ApplyFilters(c.cfg, data, filters), sortState)
	if c.deps.Render != nil {
		var settings GlobalSettings
		if c.deps.Settings != nil {
			settings = c.deps.Settings()
		}
		c.deps.Render(c.cfg.Key, sorted, sortState, settings)
	}
	if c.deps.Status != nil {
		c.deps.Status(c.Status())
	}
}

// HandleSort applies a click on the header of column key.
func (c *Controller) HandleSort(key string) SortState {
	c.mu.Lock()
	c.sort = c.sort.Toggle(key)
	s := c.sort
	c.mu.Unlock()
	c.ApplyFiltersAndRender()
	return s
}

// Filters returns the current filter values.
func (c *Controller) Filters() FilterState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filters.Clone()
}

// SetFilter records the value of one control, as typed by the user, and
// re-filters once input has been quiet for the debounce period.
func (c *Controller) SetFilter(id, value string) error {
	if _, ok := c.cfg.Field(id); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, id)
	}
	c.mu.Lock()
	c.filters[id] = value
	c.mu.Unlock()
	c.debounce.Trigger(c.ApplyFiltersAndRender)
	return nil
}

// SetFilters writes several control values and re-filters immediately.
// Unknown controls are rejected before anything is written.
func (c *Controller) SetFilters(values FilterState) error {
	for id := range values {
		if _, ok := c.cfg.Field(id); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownField, id)
		}
	}
	c.mu.Lock()
	for id, v := range values {
		c.filters[id] = v
	}
	c.mu.Unlock()
	c.debounce.Cancel()
	c.ApplyFiltersAndRender()
	return nil
}

// ClearFilters resets every control to its default and re-renders.
func (c *Controller) ClearFilters() {
	c.mu.Lock()
	c.filters = c.cfg.DefaultFilters(c.sched.Now())
	c.mu.Unlock()
	c.debounce.Cancel()
	c.ApplyFiltersAndRender()
}
