// Package section implements the per-section lifecycle: binding to a
// patient, fetching from the legacy server with classified retries, and
// client-side filtering and sorting of the fetched records before they are
// handed to a render callback.
package section

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ehr/history/internal/patient"
	"github.com/ehr/history/internal/platform/errclass"
)

// Section keys.
const (
	Consultations = "consultations"
	Exams         = "exams"
	Appointments  = "appointments"
	Regulations   = "regulations"
	Documents     = "documents"
)

// Filter control IDs shared by every section that has them.
const (
	FieldDateInitial = "dateInitial"
	FieldDateFinal   = "dateFinal"
	FieldFetchType   = "fetchType"
)

// Record is one row returned by the legacy server. Its shape is opaque to
// the controller beyond the fields named in the section Config.
type Record map[string]interface{}

// Text returns the value of key as a string. Slices and maps (such as the
// consultation detail list) are flattened into space separated values.
func (r Record) Text(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	return flatten(v)
}

func flatten(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := flatten(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	case map[string]interface{}:
		if val, ok := t["value"]; ok {
			return flatten(val)
		}
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := flatten(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	default:
		return fmt.Sprint(t)
	}
}

// Truthy reports whether key holds a true-ish value ("true", "S", 1, true).
func (r Record) Truthy(key string) bool {
	switch v := r[key].(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "s", "sim", "1", "yes":
			return true
		}
	}
	return false
}

// FilterState is the current value of every filter control of a section,
// keyed by control ID. Checkbox values are "true" or "false".
type FilterState map[string]string

// Clone returns an independent copy.
func (f FilterState) Clone() FilterState {
	out := make(FilterState, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Order is a sort direction.
type Order string

const (
	Asc  Order = "asc"
	Desc Order = "desc"
)

// SortState is the active sort column and direction.
type SortState struct {
	Key   string `json:"key"`
	Order Order  `json:"order"`
}

// Toggle returns the sort state after a click on the header for key: the
// same key flips direction, a new key starts descending.
func (s SortState) Toggle(key string) SortState {
	if s.Key == key {
		if s.Order == Desc {
			return SortState{Key: key, Order: Asc}
		}
		return SortState{Key: key, Order: Desc}
	}
	return SortState{Key: key, Order: Desc}
}

// SavedFilterSet is a user-named snapshot of a section's filter values.
type SavedFilterSet struct {
	Name   string      `json:"name"`
	Values FilterState `json:"values"`
}

// MonthRange is a date range relative to today, in months.
type MonthRange struct {
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`
}

// AutomationSettings is the fragment of an automation rule that targets one
// section.
type AutomationSettings struct {
	DateRange *MonthRange `json:"dateRange,omitempty" yaml:"dateRange,omitempty"`
	Values    FilterState `json:"values,omitempty" yaml:"values,omitempty"`
}

// FetchParams is the request sent to the legacy server for one section.
type FetchParams struct {
	Section     string            `json:"section"`
	Patient     patient.Patient   `json:"patient"`
	DateInitial string            `json:"dataInicial,omitempty"`
	DateFinal   string            `json:"dataFinal,omitempty"`
	FetchType   string            `json:"fetchType,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// Result is the normalised payload of a successful fetch.
type Result struct {
	Records []Record
}

// FetchFunc retrieves a section's records from the legacy server.
type FetchFunc func(ctx context.Context, params FetchParams) (Result, error)

// GlobalSettings are user preferences passed through to the renderer.
type GlobalSettings map[string]interface{}

// RenderFunc receives the filtered, sorted records. It must not call back
// into ApplyFiltersAndRender.
type RenderFunc func(section string, records []Record, sort SortState, settings GlobalSettings)

// Phase is the lifecycle phase of a section.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseLoading  Phase = "loading"
	PhaseReady    Phase = "ready"
	PhaseRetrying Phase = "retrying"
	PhaseError    Phase = "error"
)

// Status is a snapshot of the controller published after every transition.
type Status struct {
	Section        string                `json:"section"`
	Phase          Phase                 `json:"phase"`
	HasPatient     bool                  `json:"has_patient"`
	Attempt        int                   `json:"attempt,omitempty"`
	MaxAttempts    int                   `json:"max_attempts,omitempty"`
	RetryDelay     time.Duration         `json:"retry_delay,omitempty"`
	RetryAt        *time.Time            `json:"retry_at,omitempty"`
	Error          *errclass.Description `json:"error,omitempty"`
	Total          int                   `json:"total"`
	ActiveFilters  int                   `json:"active_filters"`
	Filters        FilterState           `json:"filters"`
	Sort           SortState             `json:"sort"`
	AutomationRule string                `json:"automation_rule,omitempty"`
}

// StatusFunc receives status snapshots.
type StatusFunc func(Status)

// MessageSink shows a transient, non-blocking message to the user.
type MessageSink interface {
	ShowMessage(text string, severity errclass.Severity)
}
