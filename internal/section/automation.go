package section

import (
	"context"
	"errors"

	"github.com/ehr/history/internal/platform/dateutil"
)

// ApplyAutomationFilters applies an automation rule's settings for this
// section: the relative date range first, then every other known control,
// then a fetch. The rule name is kept for the "rule applied" banner until
// ClearAutomation is called. Without a bound patient the filters are still
// applied and rendered, and ErrNoPatient is returned.
func (c *Controller) ApplyAutomationFilters(ctx context.Context, settings AutomationSettings, ruleName string) error {
	c.mu.Lock()
	if settings.DateRange != nil {
		now := c.sched.Now()
		if _, ok := c.cfg.Field(FieldDateInitial); ok {
			c.filters[FieldDateInitial] = dateutil.FormatBR(dateutil.RelativeDate(now, settings.DateRange.Start))
		}
		if _, ok := c.cfg.Field(FieldDateFinal); ok {
			c.filters[FieldDateFinal] = dateutil.FormatBR(dateutil.RelativeDate(now, settings.DateRange.End))
		}
	}
	for id, v := range settings.Values {
		if _, ok := c.cfg.Field(id); ok {
			c.filters[id] = v
		} else {
			c.log.Debug().Str("field", id).Str("rule", ruleName).Msg("automation setting has no matching control")
		}
	}
	c.rule = ruleName
	c.mu.Unlock()
	c.debounce.Cancel()

	c.log.Info().Str("rule", ruleName).Msg("automation rule applied")
	err := c.FetchData(ctx)
	switch {
	case errors.Is(err, ErrBusy):
		err = nil
		fallthrough
	case errors.Is(err, ErrNoPatient):
		// Nothing new was fetched: render the loaded data with the new filters.
		c.ApplyFiltersAndRender()
	default:
		c.publishStatus()
	}
	return err
}

// ClearAutomation dismisses the "rule applied" banner, resets every filter
// to its default and re-renders.
func (c *Controller) ClearAutomation() {
	c.mu.Lock()
	c.rule = ""
	c.filters = c.cfg.DefaultFilters(c.sched.Now())
	c.mu.Unlock()
	c.debounce.Cancel()
	c.ApplyFiltersAndRender()
}

// AutomationRule returns the name of the applied rule, if any.
func (c *Controller) AutomationRule() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rule
}
