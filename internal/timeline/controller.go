package timeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/history/internal/patient"
	"github.com/ehr/history/internal/platform/clock"
	"github.com/ehr/history/internal/platform/dateutil"
	"github.com/ehr/history/internal/platform/errclass"
	"github.com/ehr/history/internal/platform/telemetry"
	"github.com/ehr/history/internal/platform/textnorm"
	"github.com/ehr/history/internal/section"
)

// Name is the display name used in messages.
const Name = "Linha do Tempo"

// DefaultStartDate is the first day of the full-history fetch range.
const DefaultStartDate = "01/01/1900"

var (
	ErrNoPatient = section.ErrNoPatient
	ErrBusy      = section.ErrBusy
)

// Phase of the timeline lifecycle.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseLoading Phase = "loading"
	PhaseReady   Phase = "ready"
	PhaseError   Phase = "error"
)

// Filters are the timeline display controls. Dates are dd/mm/yyyy; empty
// values do not restrict.
type Filters struct {
	DateInitial string `json:"dateInitial"`
	DateFinal   string `json:"dateFinal"`
	Keyword     string `json:"keyword"`
}

// View is what the renderer receives.
type View struct {
	Phase          Phase                 `json:"phase"`
	HasPatient     bool                  `json:"has_patient"`
	Events         []Event               `json:"events"`
	Total          int                   `json:"total"`
	Filters        Filters               `json:"filters"`
	Focused        bool                  `json:"focused"`
	AutomationRule string                `json:"automation_rule,omitempty"`
	FailedSources  []string              `json:"failed_sources,omitempty"`
	Error          *errclass.Description `json:"error,omitempty"`
}

// Deps are the collaborators of the timeline controller.
type Deps struct {
	// Sources fetch the raw records of each event type.
	Sources   map[EventType]section.FetchFunc
	Render    func(View)
	Messages  section.MessageSink
	Scheduler clock.Scheduler
	Metrics   *telemetry.Metrics
	Logger    zerolog.Logger
	// Configs define the filter controls automation rules refer to.
	Configs []section.Config
	// StartDate overrides DefaultStartDate.
	StartDate string
	// DefaultRange presets the date controls relative to today; nil shows
	// the whole history.
	DefaultRange *section.MonthRange
	// AutoLoad reports whether binding a patient fetches right away. It is
	// asked on every bind.
	AutoLoad func() bool
}

// Controller aggregates the five sources for the bound patient.
type Controller struct {
	deps       Deps
	sched      clock.Scheduler
	log        zerolog.Logger
	normalizer *Normalizer
	matcher    *Matcher

	renderMu sync.Mutex

	mu          sync.Mutex
	phase       Phase
	patient     *patient.Patient
	generation  uint64
	events      []Event
	filters     Filters
	focused     bool
	ruleName    string
	ruleFilters RuleFilters
	failed      []string
	lastErr     *errclass.Description
}

// New creates the timeline controller.
func New(deps Deps) *Controller {
	sched := deps.Scheduler
	if sched == nil {
		sched = clock.Real()
	}
	configs := deps.Configs
	if configs == nil {
		configs = section.DefaultConfigs()
	}
	logger := deps.Logger.With().Str("component", "timeline").Logger()
	c := &Controller{
		deps:       deps,
		sched:      sched,
		log:        logger,
		normalizer: NewNormalizer(logger, deps.Metrics),
		matcher:    NewMatcher(logger, configs),
		phase:      PhaseIdle,
	}
	c.filters = c.defaultFilters()
	return c
}

func (c *Controller) defaultFilters() Filters {
	if c.deps.DefaultRange == nil {
		return Filters{}
	}
	now := c.sched.Now()
	return Filters{
		DateInitial: dateutil.FormatBR(dateutil.RelativeDate(now, c.deps.DefaultRange.Start)),
		DateFinal:   dateutil.FormatBR(dateutil.RelativeDate(now, c.deps.DefaultRange.End)),
	}
}

// BindPatient rebinds the timeline to p (nil unbinds), clearing cached
// events, date controls and any armed automation rule.
func (c *Controller) BindPatient(ctx context.Context, p *patient.Patient) {
	c.mu.Lock()
	if patient.SameIdentity(c.patient, p) {
		c.mu.Unlock()
		return
	}
	c.generation++
	c.patient = nil
	if p != nil {
		cp := *p
		c.patient = &cp
	}
	c.phase = PhaseIdle
	c.events = nil
	c.failed = nil
	c.lastErr = nil
	c.filters = c.defaultFilters()
	c.focused = false
	c.ruleName = ""
	c.ruleFilters = nil
	c.mu.Unlock()

	c.Render()
	if p != nil && c.deps.AutoLoad != nil && c.deps.AutoLoad() {
		if err := c.FetchData(ctx); err != nil && !errors.Is(err, ErrBusy) {
			c.log.Warn().Err(err).Msg("timeline auto-load skipped")
		}
	}
}

type sourceResult struct {
	records []section.Record
	err     error
}

// FetchData fetches every source over the full history range, normalises
// the results and renders. A failing source is logged and reported in the
// view; the timeline only enters the error phase when every source fails.
func (c *Controller) FetchData(ctx context.Context) error {
	c.mu.Lock()
	if c.patient == nil {
		c.mu.Unlock()
		return ErrNoPatient
	}
	if c.phase == PhaseLoading {
		c.mu.Unlock()
		return ErrBusy
	}
	c.phase = PhaseLoading
	c.lastErr = nil
	c.failed = nil
	gen := c.generation
	p := *c.patient
	c.mu.Unlock()
	c.Render()

	start := c.deps.StartDate
	if start == "" {
		start = DefaultStartDate
	}
	end := dateutil.FormatBR(c.sched.Now())

	results := make([]sourceResult, len(Types))
	var g errgroup.Group
	for i, t := range Types {
		i, t := i, t
		g.Go(func() error {
			results[i] = c.fetchSource(ctx, t, section.FetchParams{
				Section:     t.SectionKey(),
				Patient:     p,
				DateInitial: start,
				DateFinal:   end,
				FetchType:   section.ExamFetchAll,
			})
			return nil
		})
	}
	_ = g.Wait()

	var src Sources
	var failed []string
	var firstErr error
	for i, t := range Types {
		if err := results[i].err; err != nil {
			failed = append(failed, t.SectionKey())
			if firstErr == nil {
				firstErr = err
			}
			c.deps.Metrics.SourceFailed(string(t), "fetch")
			c.log.Warn().Err(err).Str("source", string(t)).Msg("timeline source failed")
			continue
		}
		src.Set(t, results[i].records)
	}

	if len(failed) == len(Types) {
		kind := errclass.Classify(firstErr)
		desc := errclass.Describe(kind, Name)
		c.mu.Lock()
		if gen != c.generation {
			c.mu.Unlock()
			return nil
		}
		c.phase = PhaseError
		c.events = nil
		c.failed = failed
		c.lastErr = &desc
		c.mu.Unlock()
		c.log.Error().Err(firstErr).Str("kind", string(kind)).Msg("every timeline source failed")
		c.showMessage(desc.Message, desc.Severity)
		c.Render()
		return nil
	}

	events := c.normalizer.Normalize(src)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.log.Debug().Msg("discarding timeline for previous patient")
		return nil
	}
	c.phase = PhaseReady
	c.events = events
	c.failed = failed
	c.mu.Unlock()

	c.log.Info().Int("events", len(events)).Strs("failed_sources", failed).Msg("timeline loaded")
	if len(failed) > 0 {
		c.showMessage(fmt.Sprintf("Alguns dados não puderam ser carregados: %s.", strings.Join(failed, ", ")), errclass.SeverityWarning)
	}
	c.Render()
	return nil
}

func (c *Controller) fetchSource(ctx context.Context, t EventType, params section.FetchParams) (res sourceResult) {
	fetch := c.deps.Sources[t]
	if fetch == nil {
		return sourceResult{err: fmt.Errorf("%s: no data source", t)}
	}
	defer func() {
		if r := recover(); r != nil {
			res = sourceResult{err: fmt.Errorf("%s: panic during request: %v", t, r)}
		}
	}()
	if t == TypeExam {
		params.Extra = section.ExamsConfig().FetchExtra(section.ExamFetchAll)
	}
	start := time.Now()
	out, err := fetch(ctx, params)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	c.deps.Metrics.ObserveFetch("timeline."+t.SectionKey(), outcome, time.Since(start))
	return sourceResult{records: out.Records, err: err}
}

func (c *Controller) showMessage(text string, severity errclass.Severity) {
	if c.deps.Messages != nil {
		c.deps.Messages.ShowMessage(text, severity)
	}
}

// View returns what Render would hand to the renderer right now.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Controller) viewLocked() View {
	var rules RuleFilters
	if c.focused {
		rules = c.ruleFilters
	}
	visible := FilterEvents(c.events, c.filters, rules, c.matcher)
	v := View{
		Phase:          c.phase,
		HasPatient:     c.patient != nil,
		Events:         visible,
		Total:          len(c.events),
		Filters:        c.filters,
		Focused:        c.focused,
		AutomationRule: c.ruleName,
	}
	if len(c.failed) > 0 {
		v.FailedSources = append([]string(nil), c.failed...)
	}
	if c.lastErr != nil {
		d := *c.lastErr
		v.Error = &d
	}
	return v
}

// Render filters the cached events and hands them to the renderer. It never
// fetches.
func (c *Controller) Render() {
	c.renderMu.Lock()
	defer c.renderMu.Unlock()
	v := c.View()
	if c.deps.Render != nil {
		c.deps.Render(v)
	}
}

// Filters returns the current display controls.
func (c *Controller) Filters() Filters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filters
}

// SetFilters replaces the display controls and re-renders.
func (c *Controller) SetFilters(f Filters) {
	c.mu.Lock()
	c.filters = f
	c.mu.Unlock()
	c.Render()
}

// ApplyAutomationFilters arms rule for the focused view. The display
// controls are left untouched.
func (c *Controller) ApplyAutomationFilters(ruleName string, rules RuleFilters) {
	armed := make(RuleFilters, len(rules))
	for k, v := range rules {
		armed[k] = v.Clone()
	}
	c.mu.Lock()
	c.ruleName = ruleName
	c.ruleFilters = armed
	c.mu.Unlock()
	c.log.Info().Str("rule", ruleName).Msg("automation rule armed")
	c.Render()
}

// ClearAutomation disarms the rule and leaves the focused view.
func (c *Controller) ClearAutomation() {
	c.mu.Lock()
	c.ruleName = ""
	c.ruleFilters = nil
	c.focused = false
	c.mu.Unlock()
	c.Render()
}

// SetFocused switches between the full and the rule-matching event list.
// Focusing without an armed rule is ignored. It returns the resulting mode.
func (c *Controller) SetFocused(on bool) bool {
	c.mu.Lock()
	if on && c.ruleFilters == nil {
		on = false
	}
	c.focused = on
	c.mu.Unlock()
	c.Render()
	return on
}

// ToggleFocused flips the focused view.
func (c *Controller) ToggleFocused() bool {
	c.mu.Lock()
	on := !c.focused
	c.mu.Unlock()
	return c.SetFocused(on)
}

// Phase returns the lifecycle phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// FilterEvents applies the display pipeline: inclusive date range on the
// sortable date (the final day extends to its last millisecond), keyword
// against the search text, then the automation rule when rules is non-nil.
func FilterEvents(events []Event, f Filters, rules RuleFilters, m *Matcher) []Event {
	var from, to time.Time
	var hasFrom, hasTo bool
	if d, ok := dateutil.ParseDate(f.DateInitial); ok {
		from, hasFrom = d, true
	}
	if d, ok := dateutil.ParseDate(f.DateFinal); ok {
		to, hasTo = dateutil.EndOfDay(d), true
	}
	terms := textnorm.Terms(f.Keyword)

	out := make([]Event, 0, len(events))
	for _, e := range events {
		if hasFrom && e.SortableDate.Before(from) {
			continue
		}
		if hasTo && e.SortableDate.After(to) {
			continue
		}
		if len(terms) > 0 && !textnorm.ContainsAny(e.SearchText, terms) {
			continue
		}
		if rules != nil && m != nil && !m.Matches(e, rules) {
			continue
		}
		out = append(out, e)
	}
	return out
}
