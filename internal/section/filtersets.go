package section

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ehr/history/internal/platform/store"
)

var (
	ErrEmptyName         = errors.New("filter set name is required")
	ErrFilterSetNotFound = errors.New("filter set not found")
	ErrNotConfirmed      = errors.New("deletion not confirmed")
	ErrNoStore           = errors.New("no store configured")
)

// FilterSetsKey is the store key holding a section's saved filter sets.
func FilterSetsKey(section string) string {
	return "savedFilterSets." + section
}

func (c *Controller) loadSets(ctx context.Context) ([]SavedFilterSet, error) {
	if c.deps.Store == nil {
		return nil, ErrNoStore
	}
	var sets []SavedFilterSet
	err := store.GetJSON(ctx, c.deps.Store, FilterSetsKey(c.cfg.Key), &sets)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load filter sets: %w", err)
	}
	return sets, nil
}

// ListFilterSets returns the section's saved filter sets in save order.
func (c *Controller) ListFilterSets(ctx context.Context) ([]SavedFilterSet, error) {
	c.setsMu.Lock()
	defer c.setsMu.Unlock()
	return c.loadSets(ctx)
}

// SaveFilterSet stores the current filter values under name, replacing a
// set with the same name.
func (c *Controller) SaveFilterSet(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	c.setsMu.Lock()
	defer c.setsMu.Unlock()

	sets, err := c.loadSets(ctx)
	if err != nil {
		return err
	}
	snapshot := SavedFilterSet{Name: name, Values: c.Filters()}
	replaced := false
	for i := range sets {
		if sets[i].Name == name {
			sets[i] = snapshot
			replaced = true
			break
		}
	}
	if !replaced {
		sets = append(sets, snapshot)
	}
	if err := store.SetJSON(ctx, c.deps.Store, FilterSetsKey(c.cfg.Key), sets); err != nil {
		return fmt.Errorf("save filter set: %w", err)
	}
	c.log.Info().Str("filter_set", name).Bool("replaced", replaced).Msg("filter set saved")
	return nil
}

// LoadFilterSet restores the values saved under name and re-filters.
// Controls the set does not mention go back to their defaults.
func (c *Controller) LoadFilterSet(ctx context.Context, name string) error {
	c.setsMu.Lock()
	sets, err := c.loadSets(ctx)
	c.setsMu.Unlock()
	if err != nil {
		return err
	}
	for _, set := range sets {
		if set.Name != name {
			continue
		}
		c.mu.Lock()
		filters := c.cfg.DefaultFilters(c.sched.Now())
		for id, v := range set.Values {
			if _, ok := c.cfg.Field(id); ok {
				filters[id] = v
			}
		}
		c.filters = filters
		c.mu.Unlock()
		c.debounce.Cancel()
		c.ApplyFiltersAndRender()
		return nil
	}
	return fmt.Errorf("%w: %s", ErrFilterSetNotFound, name)
}

// DeleteFilterSet removes the set called name. The caller must pass
// confirmed=true once the user has confirmed the deletion.
func (c *Controller) DeleteFilterSet(ctx context.Context, name string, confirmed bool) error {
	if !confirmed {
		return ErrNotConfirmed
	}
	c.setsMu.Lock()
	defer c.setsMu.Unlock()

	sets, err := c.loadSets(ctx)
	if err != nil {
		return err
	}
	kept := sets[:0]
	found := false
	for _, set := range sets {
		if set.Name == name {
			found = true
			continue
		}
		kept = append(kept, set)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrFilterSetNotFound, name)
	}
	if err := store.SetJSON(ctx, c.deps.Store, FilterSetsKey(c.cfg.Key), kept); err != nil {
		return fmt.Errorf("delete filter set: %w", err)
	}
	c.log.Info().Str("filter_set", name).Msg("filter set deleted")
	return nil
}
