package timeline

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ehr/history/internal/platform/textnorm"
	"github.com/ehr/history/internal/section"
)

// RuleFilters are the filter fragments of an armed automation rule, keyed
// by section key.
type RuleFilters map[string]section.FilterState

// Matcher evaluates automation rule filters against events. The filter
// controls of each event type are those of the matching section.
type Matcher struct {
	log     zerolog.Logger
	configs map[EventType]section.Config
}

// NewMatcher builds a Matcher from the section definitions.
func NewMatcher(logger zerolog.Logger, configs []section.Config) *Matcher {
	m := &Matcher{log: logger, configs: make(map[EventType]section.Config, len(configs))}
	for _, t := range Types {
		for _, cfg := range configs {
			if cfg.Key == t.SectionKey() {
				m.configs[t] = cfg
			}
		}
	}
	return m
}

// Matches reports whether e passes the rule's filters for its section.
// Missing or empty filters pass. Evaluation errors include the event.
func (m *Matcher) Matches(e Event, rules RuleFilters) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Warn().Str("type", string(e.Type)).Str("panic", fmt.Sprint(r)).Msg("automation filter failed, keeping event")
			ok = true
		}
	}()

	cfg, found := m.configs[e.Type]
	if !found {
		return true
	}
	filters := rules[cfg.Key]
	if len(filters) == 0 {
		return true
	}

	switch e.Type {
	case TypeRegulation:
		for _, id := range []string{"status", "priority"} {
			if !exactMatch(e.Details.Text(id), filters[id]) {
				return false
			}
		}
	case TypeAppointment:
		if cfg.FetchTypeFilter != nil && !cfg.FetchTypeFilter(e.Details, filters[section.FieldFetchType]) {
			return false
		}
	}

	for id, value := range filters {
		field, known := cfg.Field(id)
		if !known || field.Server || field.Kind == section.FieldDate {
			continue
		}
		switch field.Kind {
		case section.FieldText:
			if !textnorm.TextMatches(recordText(e.Details, field.Fields), value) {
				return false
			}
		case section.FieldSelect:
			if len(field.Fields) > 0 && !exactMatch(e.Details.Text(field.Fields[0]), value) {
				return false
			}
		case section.FieldCheckbox:
			if value != "true" || len(field.Fields) == 0 {
				continue
			}
			if field.Excludes == e.Details.Truthy(field.Fields[0]) {
				return false
			}
		}
	}
	return true
}

// exactMatch is the case-insensitive equality used by select controls;
// "" and "all" pass.
func exactMatch(actual, want string) bool {
	want = strings.TrimSpace(want)
	if want == "" || strings.EqualFold(want, "all") {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(actual), want)
}

func recordText(r section.Record, keys []string) string {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, r.Text(k))
	}
	return strings.Join(parts, " ")
}
