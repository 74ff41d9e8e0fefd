// Package app assembles the per-session controllers and connects them to
// the patient state, the key-value store and the websocket hub.
package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/history/internal/automation"
	"github.com/ehr/history/internal/patient"
	"github.com/ehr/history/internal/platform/clock"
	"github.com/ehr/history/internal/platform/retry"
	"github.com/ehr/history/internal/platform/store"
	"github.com/ehr/history/internal/platform/telemetry"
	"github.com/ehr/history/internal/platform/websocket"
	"github.com/ehr/history/internal/section"
	"github.com/ehr/history/internal/timeline"
)

// SettingsKey is the store key of the user's global settings.
const SettingsKey = "userSettings"

// TimelineKey names the timeline wherever sections are listed by key.
const TimelineKey = "timeline"

// Options configure New. Fetch and Store are required.
type Options struct {
	Store   store.Store
	Fetch   func(sectionKey string) section.FetchFunc
	Configs []section.Config
	// Hub receives renders, status snapshots and messages; nil keeps
	// everything in the log.
	Hub       *websocket.Hub
	Metrics   *telemetry.Metrics
	Logger    zerolog.Logger
	Scheduler clock.Scheduler
	Policy    *retry.Policy
	Debounce  time.Duration
	// AutoLoad is the default when the user settings do not say.
	AutoLoad          func(key string) bool
	TimelineStartDate string
}

// Context owns everything one UI session works with.
type Context struct {
	Store      store.Store
	Patient    *patient.State
	Timeline   *timeline.Controller
	Automation *automation.Service
	Hub        *websocket.Hub
	Metrics    *telemetry.Metrics
	Messages   section.MessageSink

	log      zerolog.Logger
	opts     Options
	sections map[string]*section.Controller
	order    []string

	settingsMu sync.RWMutex
	settings   section.GlobalSettings

	unsubscribe []func()
}

// New builds the controllers and subscribes them to patient and store
// changes. Close releases the subscriptions.
func New(ctx context.Context, opts Options) *Context {
	if opts.Configs == nil {
		opts.Configs = section.DefaultConfigs()
	}
	logger := opts.Logger.With().Str("component", "app").Logger()

	a := &Context{
		Store:    opts.Store,
		Patient:  patient.NewState(),
		Hub:      opts.Hub,
		Metrics:  opts.Metrics,
		log:      logger,
		opts:     opts,
		sections: make(map[string]*section.Controller, len(opts.Configs)),
		settings: section.GlobalSettings{},
	}
	if opts.Hub != nil {
		a.Messages = NewHubMessages(opts.Hub, opts.Logger)
	} else {
		a.Messages = NewLogMessages(opts.Logger)
	}
	a.loadSettings(ctx)

	targets := make([]automation.SectionTarget, 0, len(opts.Configs))
	for _, cfg := range opts.Configs {
		ctl := section.New(cfg, section.Deps{
			Fetch:     opts.Fetch(cfg.Key),
			Render:    a.renderSection,
			Status:    a.publishStatus,
			Messages:  a.Messages,
			Store:     opts.Store,
			Scheduler: opts.Scheduler,
			Settings:  a.Settings,
			Metrics:   opts.Metrics,
			Logger:    opts.Logger,
			Policy:    opts.Policy,
			Debounce:  opts.Debounce,
			AutoLoad:  a.autoLoad,
		})
		a.sections[cfg.Key] = ctl
		a.order = append(a.order, cfg.Key)
		targets = append(targets, ctl)
	}

	sources := make(map[timeline.EventType]section.FetchFunc, len(timeline.Types))
	for _, t := range timeline.Types {
		sources[t] = opts.Fetch(t.SectionKey())
	}
	a.Timeline = timeline.New(timeline.Deps{
		Sources:   sources,
		Render:    a.renderTimeline,
		Messages:  a.Messages,
		Scheduler: opts.Scheduler,
		Metrics:   opts.Metrics,
		Logger:    opts.Logger,
		Configs:   opts.Configs,
		StartDate: opts.TimelineStartDate,
		AutoLoad:  func() bool { return a.autoLoad(TimelineKey) },
	})

	a.Automation = automation.NewService(automation.NewStoreRepo(opts.Store), opts.Configs, opts.Logger)
	a.Automation.SetTargets(targets, a.Timeline)

	a.unsubscribe = append(a.unsubscribe,
		a.Patient.Subscribe(a.rebind),
		opts.Store.Subscribe(a.storeChanged),
	)
	return a
}

// Close removes the patient and store subscriptions.
func (a *Context) Close() {
	for _, fn := range a.unsubscribe {
		fn()
	}
	a.unsubscribe = nil
}

// Section returns the controller of key.
func (a *Context) Section(key string) (*section.Controller, bool) {
	ctl, ok := a.sections[key]
	return ctl, ok
}

// SectionKeys lists the sections in display order.
func (a *Context) SectionKeys() []string {
	return append([]string(nil), a.order...)
}

// Sections returns the controllers in display order.
func (a *Context) Sections() []*section.Controller {
	out := make([]*section.Controller, 0, len(a.order))
	for _, k := range a.order {
		out = append(out, a.sections[k])
	}
	return out
}

// rebind fans a patient change out to every controller. Bindings run
// concurrently because auto-loading sections fetch while binding.
func (a *Context) rebind(p *patient.Patient) {
	ctx := context.Background()
	a.Metrics.PatientRebound()
	a.log.Info().Bool("bound", p != nil).Msg("patient changed")

	var g errgroup.Group
	for _, ctl := range a.Sections() {
		ctl := ctl
		g.Go(func() error {
			ctl.BindPatient(ctx, p)
			return nil
		})
	}
	g.Go(func() error {
		a.Timeline.BindPatient(ctx, p)
		return nil
	})
	_ = g.Wait()

	a.publish(websocket.TopicPatient, websocket.EventPatient, patientPayload{Patient: p})
}

// FetchAll fetches every section and the timeline for the bound patient.
// Sections already loading are skipped. Cancelling ctx does not abort the
// fetches.
func (a *Context) FetchAll(ctx context.Context) error {
	if a.Patient.Current() == nil {
		return section.ErrNoPatient
	}
	ctx = context.WithoutCancel(ctx)
	var g errgroup.Group
	for _, ctl := range a.Sections() {
		ctl := ctl
		g.Go(func() error {
			if err := ctl.FetchData(ctx); err != nil && !errors.Is(err, section.ErrBusy) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		if err := a.Timeline.FetchData(ctx); err != nil && !errors.Is(err, timeline.ErrBusy) {
			return err
		}
		return nil
	})
	return g.Wait()
}

func (a *Context) storeChanged(key string) {
	switch key {
	case SettingsKey:
		a.loadSettings(context.Background())
		for _, ctl := range a.Sections() {
			ctl.ApplyFiltersAndRender()
		}
	case automation.StoreKey:
		a.publish(websocket.TopicAutomation, websocket.EventRulesChanged, struct {
			Key string `json:"key"`
		}{key})
	}
}

type patientPayload struct {
	Patient *patient.Patient `json:"patient"`
}

type renderPayload struct {
	Section  string                 `json:"section"`
	Records  []section.Record       `json:"records"`
	Total    int                    `json:"total"`
	Sort     section.SortState      `json:"sort"`
	Settings section.GlobalSettings `json:"settings,omitempty"`
}

func (a *Context) renderSection(key string, records []section.Record, sort section.SortState, settings section.GlobalSettings) {
	if records == nil {
		records = []section.Record{}
	}
	a.publish(websocket.SectionTopic(key), websocket.EventRender, renderPayload{
		Section:  key,
		Records:  records,
		Total:    len(records),
		Sort:     sort,
		Settings: settings,
	})
}

func (a *Context) publishStatus(s section.Status) {
	a.publish(websocket.SectionTopic(s.Section), websocket.EventStatus, s)
}

func (a *Context) renderTimeline(v timeline.View) {
	a.publish(websocket.TopicTimeline, websocket.EventRender, v)
}

func (a *Context) publish(topic, eventType string, v interface{}) {
	if a.Hub == nil {
		return
	}
	if err := a.Hub.PublishJSON(topic, eventType, v); err != nil {
		a.log.Error().Err(err).Str("topic", topic).Msg("failed to publish event")
	}
}
