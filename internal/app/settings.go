package app

import (
	"context"
	"errors"

	"github.com/ehr/history/internal/platform/store"
	"github.com/ehr/history/internal/section"
)

// Settings returns a copy of the user's global settings.
func (a *Context) Settings() section.GlobalSettings {
	a.settingsMu.RLock()
	defer a.settingsMu.RUnlock()
	out := make(section.GlobalSettings, len(a.settings))
	for k, v := range a.settings {
		out[k] = v
	}
	return out
}

// SaveSettings stores s. Controllers pick the change up through the store
// subscription.
func (a *Context) SaveSettings(ctx context.Context, s section.GlobalSettings) error {
	if s == nil {
		s = section.GlobalSettings{}
	}
	return store.SetJSON(ctx, a.Store, SettingsKey, s)
}

func (a *Context) loadSettings(ctx context.Context) {
	s := section.GlobalSettings{}
	if err := store.GetJSON(ctx, a.Store, SettingsKey, &s); err != nil && !errors.Is(err, store.ErrNotFound) {
		a.log.Error().Err(err).Msg("failed to load user settings, keeping previous values")
		return
	}
	a.settingsMu.Lock()
	a.settings = s
	a.settingsMu.Unlock()
}

// autoLoad reads {"autoLoad": {"<key>": true}} from the user settings and
// falls back to the configured default.
func (a *Context) autoLoad(key string) bool {
	a.settingsMu.RLock()
	m, _ := a.settings["autoLoad"].(map[string]interface{})
	v, ok := m[key].(bool)
	a.settingsMu.RUnlock()
	if ok {
		return v
	}
	return a.opts.AutoLoad != nil && a.opts.AutoLoad(key)
}
