package section

import (
	"strings"
	"time"

	"github.com/ehr/history/internal/platform/dateutil"
	"github.com/ehr/history/internal/platform/textnorm"
)

// FieldKind is the type of a filter control.
type FieldKind string

const (
	FieldText     FieldKind = "text"
	FieldSelect   FieldKind = "select"
	FieldCheckbox FieldKind = "checkbox"
	FieldDate     FieldKind = "date"
)

// FilterField describes one filter control of a section.
type FilterField struct {
	ID      string
	Kind    FieldKind
	Default string
	// Fields are the record keys the control is matched against. Text
	// controls search all of them; select and checkbox controls use the first.
	Fields []string
	// Server controls feed the fetch parameters and are not applied
	// client-side.
	Server bool
	// Excludes inverts a checkbox: when checked, records whose field is
	// truthy are hidden.
	Excludes bool
}

// Config defines a section.
type Config struct {
	Key    string
	Name   string
	Fields []FilterField
	// DateRange is the default date window relative to today. Sections
	// without one send no dates.
	DateRange   *MonthRange
	DefaultSort SortState
	// DateKeys maps sortable date columns to the record key holding a
	// precomputed sortable value ("" when the column must be parsed).
	DateKeys map[string]string
	// FetchExtra derives section specific request flags from the fetch type.
	FetchExtra func(fetchType string) map[string]string
	// FetchTypeFilter, when set, applies the fetch type client-side.
	FetchTypeFilter func(r Record, fetchType string) bool
}

// Field returns the control with the given ID.
func (c Config) Field(id string) (FilterField, bool) {
	for _, f := range c.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return FilterField{}, false
}

// DefaultFilters returns the initial value of every control, with the date
// controls set from DateRange relative to now.
func (c Config) DefaultFilters(now time.Time) FilterState {
	out := make(FilterState, len(c.Fields))
	for _, f := range c.Fields {
		out[f.ID] = f.Default
	}
	if c.DateRange != nil {
		if _, ok := c.Field(FieldDateInitial); ok {
			out[FieldDateInitial] = dateutil.FormatBR(dateutil.RelativeDate(now, c.DateRange.Start))
		}
		if _, ok := c.Field(FieldDateFinal); ok {
			out[FieldDateFinal] = dateutil.FormatBR(dateutil.RelativeDate(now, c.DateRange.End))
		}
	}
	return out
}

// ApplyFilters returns the records that pass every client-side control.
// It never mutates data.
func ApplyFilters(cfg Config, data []Record, filters FilterState) []Record {
	type textFilter struct {
		fields []string
		terms  []string
	}
	var texts []textFilter
	var rest []FilterField
	for _, f := range cfg.Fields {
		if f.Server || f.Kind == FieldDate {
			continue
		}
		if f.Kind == FieldText {
			terms := textnorm.Terms(filters[f.ID])
			if len(terms) > 0 {
				texts = append(texts, textFilter{fields: f.Fields, terms: terms})
			}
			continue
		}
		rest = append(rest, f)
	}
	fetchType := filters[FieldFetchType]

	out := make([]Record, 0, len(data))
	for _, r := range data {
		if cfg.FetchTypeFilter != nil && !cfg.FetchTypeFilter(r, fetchType) {
			continue
		}
		ok := true
		for _, tf := range texts {
			parts := make([]string, 0, len(tf.fields))
			for _, key := range tf.fields {
				parts = append(parts, r.Text(key))
			}
			if !textnorm.ContainsAny(textnorm.Join(parts...), tf.terms) {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		for _, f := range rest {
			if !matchField(f, r, filters[f.ID]) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, r)
		}
	}
	return out
}

func matchField(f FilterField, r Record, value string) bool {
	if len(f.Fields) == 0 {
		return true
	}
	switch f.Kind {
	case FieldSelect:
		value = strings.TrimSpace(value)
		if value == "" || strings.EqualFold(value, "all") {
			return true
		}
		return strings.EqualFold(strings.TrimSpace(r.Text(f.Fields[0])), value)
	case FieldCheckbox:
		if value != "true" {
			return true
		}
		if f.Excludes {
			return !r.Truthy(f.Fields[0])
		}
		return r.Truthy(f.Fields[0])
	}
	return true
}

// ActiveFilterCount counts client-side controls whose value differs from
// their default.
func ActiveFilterCount(cfg Config, filters FilterState) int {
	n := 0
	for _, f := range cfg.Fields {
		if f.Server || f.Kind == FieldDate {
			continue
		}
		if strings.TrimSpace(filters[f.ID]) != strings.TrimSpace(f.Default) {
			n++
		}
	}
	return n
}
