// Package prefs persists the sync view preferences: whether synced entities
// are hidden, which facet values are visible and the last window size.
package prefs

import (
	"context"
	"encoding/json"
)

// Size is a window size in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Preferences is the stored document. Every field is optional; readers
// default sensibly when one is missing.
type Preferences struct {
	HideSynced *bool                      `json:"hide_synced,omitempty"`
	Facets     map[string]map[string]bool `json:"facets,omitempty"`
	WindowSize *Size                      `json:"window_size,omitempty"`
}

// HideSyncedOr returns the hide-synced flag, or def when unset.
func (p Preferences) HideSyncedOr(def bool) bool {
	if p.HideSynced == nil {
		return def
	}
	return *p.HideSynced
}

// Visible reports whether a facet value is visible. Values never toggled
// are visible.
func (p Preferences) Visible(facet, value string) bool {
	visible, ok := p.Facets[facet][value]
	return !ok || visible
}

// SetVisible records the visibility of a facet value.
func (p *Preferences) SetVisible(facet, value string, visible bool) {
	if p.Facets == nil {
		p.Facets = make(map[string]map[string]bool)
	}
	if p.Facets[facet] == nil {
		p.Facets[facet] = make(map[string]bool)
	}
	p.Facets[facet][value] = visible
}

// SetHideSynced records the hide-synced flag.
func (p *Preferences) SetHideSynced(hide bool) {
	p.HideSynced = &hide
}

// Store loads and saves Preferences.
type Store interface {
	Load(ctx context.Context) (Preferences, error)
	// Update applies fn to the stored preferences and saves the result.
	Update(ctx context.Context, fn func(*Preferences)) error
}

// decode parses a stored document. Corrupt data yields empty preferences
// and the parse error.
func decode(data []byte) (Preferences, error) {
	var p Preferences
	if len(data) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return Preferences{}, err
	}
	return p, nil
}

func encode(p Preferences) ([]byte, error) {
	return json.MarshalIndent(p, "", "    ")
}
