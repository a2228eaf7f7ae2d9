// Package filter indexes discovered sync items by facet and decides which
// of them are visible.
package filter

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/fruitsalade/depotsync/internal/logging"
	"github.com/fruitsalade/depotsync/internal/prefs"
)

// Facet names.
const (
	Step = "step"
	Type = "type"
	Ext  = "ext"
)

// Names lists the facets in display order.
var Names = []string{Step, Type, Ext}

// Tags are the facet values of one item. Empty values are not indexed.
type Tags struct {
	Step string `json:"step,omitempty"`
	Type string `json:"type,omitempty"`
	Ext  string `json:"ext,omitempty"`
}

// Get returns the value of a facet.
func (t Tags) Get(facet string) string {
	switch facet {
	case Step:
		return t.Step
	case Type:
		return t.Type
	case Ext:
		return t.Ext
	}
	return ""
}

// Facet is one value of a facet and whether items carrying it are shown.
type Facet struct {
	Name    string
	Value   string
	Visible bool
}

// Index holds the facet values seen so far. Visibility changes are saved
// to the store as they happen.
type Index struct {
	store prefs.Store

	mu         sync.RWMutex
	saved      prefs.Preferences
	values     map[string]map[string]bool
	hideSynced bool
}

// NewIndex seeds an index from the stored preferences.
func NewIndex(ctx context.Context, store prefs.Store) (*Index, error) {
	x := &Index{store: store, values: make(map[string]map[string]bool)}
	for _, name := range Names {
		x.values[name] = make(map[string]bool)
	}
	if err := x.Reload(ctx); err != nil {
		return nil, err
	}
	return x, nil
}

// Reload re-reads the stored preferences. Values already discovered take
// the stored visibility.
func (x *Index) Reload(ctx context.Context) error {
	p, err := x.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("filter: load preferences: %w", err)
	}
	x.Replace(p)
	return nil
}

// Replace swaps in preferences loaded elsewhere, e.g. by a file watch.
func (x *Index) Replace(p prefs.Preferences) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.saved = p
	x.hideSynced = p.HideSyncedOr(true)
	for facet, vals := range x.values {
		for v := range vals {
			vals[v] = p.Visible(facet, v)
		}
		for v, visible := range p.Facets[facet] {
			if v != "" {
				vals[v] = visible
			}
		}
	}
}

// Discover adds a facet value. It reports whether the value is new.
func (x *Index) Discover(facet, value string) (Facet, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	vals, ok := x.values[facet]
	if !ok || value == "" {
		return Facet{Name: facet, Value: value, Visible: true}, false
	}
	if visible, seen := vals[value]; seen {
		return Facet{Name: facet, Value: value, Visible: visible}, false
	}
	visible := x.saved.Visible(facet, value)
	vals[value] = visible
	return Facet{Name: facet, Value: value, Visible: visible}, true
}

// SetVisible shows or hides a facet value and saves the change.
func (x *Index) SetVisible(ctx context.Context, facet, value string, visible bool) error {
	x.mu.Lock()
	vals, ok := x.values[facet]
	if !ok {
		x.mu.Unlock()
		return fmt.Errorf("filter: unknown facet %q", facet)
	}
	vals[value] = visible
	x.saved.SetVisible(facet, value, visible)
	x.mu.Unlock()

	err := x.store.Update(ctx, func(p *prefs.Preferences) {
		p.SetVisible(facet, value, visible)
	})
	if err != nil {
		logging.Error("save facet visibility failed",
			zap.String("facet", facet),
			zap.String("value", value),
			zap.Error(err))
		return fmt.Errorf("filter: save: %w", err)
	}
	return nil
}

// HideSynced reports whether entities that need nothing are hidden.
func (x *Index) HideSynced() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.hideSynced
}

// SetHideSynced changes the hide-synced flag and saves it.
func (x *Index) SetHideSynced(ctx context.Context, hide bool) error {
	x.mu.Lock()
	x.hideSynced = hide
	x.saved.SetHideSynced(hide)
	x.mu.Unlock()

	if err := x.store.Update(ctx, func(p *prefs.Preferences) { p.SetHideSynced(hide) }); err != nil {
		return fmt.Errorf("filter: save: %w", err)
	}
	return nil
}

// Visible reports whether an item with tags is shown: hidden by any single
// facet means hidden.
func (x *Index) Visible(tags Tags) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	for _, facet := range Names {
		v := tags.Get(facet)
		if v == "" {
			continue
		}
		visible, ok := x.values[facet][v]
		if !ok {
			visible = x.saved.Visible(facet, v)
		}
		if !visible {
			return false
		}
	}
	return true
}

// Values lists a facet's values sorted by value.
func (x *Index) Values(facet string) []Facet {
	x.mu.RLock()
	defer x.mu.RUnlock()
	vals := x.values[facet]
	out := make([]Facet, 0, len(vals))
	for v, visible := range vals {
		out = append(out, Facet{Name: facet, Value: v, Visible: visible})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out
}

// Tagged is implemented by anything the index can filter.
type Tagged interface {
	FacetTags() Tags
}

// Apply returns the items the index shows, in order.
func Apply[T Tagged](x *Index, items []T) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if x.Visible(it.FacetTags()) {
			out = append(out, it)
		}
	}
	return out
}
