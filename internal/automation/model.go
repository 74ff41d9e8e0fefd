// Package automation manages keyword-triggered automation rules: named
// bundles of per-section filter presets that are applied to every section
// and armed on the timeline when their trigger keywords appear in the
// current context.
package automation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/history/internal/section"
	"github.com/ehr/history/internal/timeline"
)

// Rule is an automation rule.
type Rule struct {
	ID              uuid.UUID                             `json:"id" yaml:"id,omitempty"`
	Name            string                                `json:"name" yaml:"name"`
	IsActive        bool                                  `json:"isActive" yaml:"isActive"`
	TriggerKeywords []string                              `json:"triggerKeywords" yaml:"triggerKeywords"`
	FilterSettings  map[string]section.AutomationSettings `json:"filterSettings" yaml:"filterSettings"`
	CreatedAt       time.Time                             `json:"created_at" yaml:"-"`
	UpdatedAt       time.Time                             `json:"updated_at" yaml:"-"`
}

// Validate checks the rule against the known sections and their filter
// controls.
func (r *Rule) Validate(configs []section.Config) error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("name is required")
	}
	byKey := make(map[string]section.Config, len(configs))
	for _, cfg := range configs {
		byKey[cfg.Key] = cfg
	}
	for key, settings := range r.FilterSettings {
		cfg, ok := byKey[key]
		if !ok {
			return fmt.Errorf("rule %q: unknown section %q", r.Name, key)
		}
		if settings.DateRange != nil {
			if _, ok := cfg.Field(section.FieldDateInitial); !ok {
				return fmt.Errorf("rule %q: section %q has no date range", r.Name, key)
			}
			if settings.DateRange.Start > settings.DateRange.End {
				return fmt.Errorf("rule %q: section %q date range starts after it ends", r.Name, key)
			}
		}
		for id := range settings.Values {
			if _, ok := cfg.Field(id); !ok {
				return fmt.Errorf("rule %q: section %q has no filter %q", r.Name, key, id)
			}
		}
	}
	return nil
}

// TimelineFilters returns the per-section filter values the timeline uses
// for its focused view. Date ranges are not part of it.
func (r *Rule) TimelineFilters() timeline.RuleFilters {
	out := make(timeline.RuleFilters, len(r.FilterSettings))
	for key, settings := range r.FilterSettings {
		out[key] = settings.Values.Clone()
	}
	return out
}

// Keywords returns the normalised, non-empty trigger keywords.
func (r *Rule) Keywords() []string {
	var out []string
	for _, k := range r.TriggerKeywords {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
