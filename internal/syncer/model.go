package syncer

import (
	"context"

	"github.com/fruitsalade/depotsync/internal/filter"
	"github.com/fruitsalade/depotsync/internal/pipeline"
	"github.com/fruitsalade/depotsync/internal/progress"
)

// EntityState is the aggregated view of one entity.
type EntityState struct {
	Entity Entity
	Status Status
	Count  int
	Err    error
	Items  []string // depot paths, in discovery order
}

// Model aggregates orchestrator events into entity and item maps. It is
// not safe for concurrent use: a single consumer applies every event.
type Model struct {
	index *filter.Index

	entities    map[string]*EntityState
	entityOrder []string
	items       map[string]*Item
	progress    map[string]progress.Event
}

// NewModel creates an empty model filtered through index.
func NewModel(index *filter.Index) *Model {
	return &Model{
		index:    index,
		entities: make(map[string]*EntityState),
		items:    make(map[string]*Item),
		progress: make(map[string]progress.Event),
	}
}

// Index returns the facet index.
func (m *Model) Index() *filter.Index {
	return m.index
}

// Apply folds one event into the model.
func (m *Model) Apply(ev Event) {
	switch e := ev.(type) {
	case StatusEvent:
		key := e.Entity.Key()
		st, ok := m.entities[key]
		if !ok {
			st = &EntityState{}
			m.entities[key] = st
			m.entityOrder = append(m.entityOrder, key)
		}
		// A new classification replaces everything known about the entity.
		for _, path := range st.Items {
			delete(m.items, path)
			delete(m.progress, path)
		}
		*st = EntityState{Entity: e.Entity, Status: e.Status, Count: e.Count, Err: e.Err}

	case FacetEvent:
		m.index.Discover(e.Facet.Name, e.Facet.Value)

	case ItemEvent:
		it := e.Item
		it.Status = Ready
		st, ok := m.entities[it.Entity]
		if !ok {
			return
		}
		prev, dup := m.items[it.DepotPath]
		if dup && prev.Entity != it.Entity {
			// overlapping roots: the latest entity owns the file
			if old, ok := m.entities[prev.Entity]; ok {
				old.Items = removePath(old.Items, it.DepotPath)
			}
			dup = false
		}
		if !dup {
			st.Items = append(st.Items, it.DepotPath)
		}
		for _, name := range filter.Names {
			m.index.Discover(name, it.Tags.Get(name))
		}
		m.items[it.DepotPath] = &it

	case TransferStarted:
		if it, ok := m.items[e.Item.DepotPath]; ok && !it.Status.Terminal() {
			it.Status = Syncing
		}

	case TransferCompleted:
		it, ok := m.items[e.Item.DepotPath]
		if !ok || it.Status.Terminal() {
			return
		}
		if e.OK {
			it.Status = Synced
			it.Err = nil
		} else {
			it.Status = Failed
			it.Err = e.Err
		}

	case ProgressEvent:
		if _, ok := m.items[e.Item.DepotPath]; ok {
			m.progress[e.Item.DepotPath] = e.Progress
		}
	}
}

// Drain applies every event from ch until it is closed, calling each
// observer after the event is applied.
func (m *Model) Drain(ch <-chan Event, observers ...func(Event)) {
	for ev := range ch {
		m.Apply(ev)
		for _, fn := range observers {
			fn(ev)
		}
	}
}

// Entities returns the entity states in first-seen order.
func (m *Model) Entities() []EntityState {
	out := make([]EntityState, 0, len(m.entityOrder))
	for _, key := range m.entityOrder {
		st := *m.entities[key]
		st.Items = append([]string(nil), st.Items...)
		out = append(out, st)
	}
	return out
}

// Items returns every item in entity then discovery order.
func (m *Model) Items() []Item {
	var out []Item
	for _, key := range m.entityOrder {
		for _, path := range m.entities[key].Items {
			out = append(out, *m.items[path])
		}
	}
	return out
}

// Item returns the item for depotPath.
func (m *Model) Item(depotPath string) (Item, bool) {
	it, ok := m.items[depotPath]
	if !ok {
		return Item{}, false
	}
	return *it, true
}

// Progress returns the last progress event of an item.
func (m *Model) Progress(depotPath string) (progress.Event, bool) {
	ev, ok := m.progress[depotPath]
	return ev, ok
}

// Pending returns the visible items still waiting for a transfer. This is
// exactly what Sync dispatches.
func (m *Model) Pending() []Item {
	var ready []Item
	for _, it := range m.Items() {
		if it.Status == Ready {
			ready = append(ready, it)
		}
	}
	return filter.Apply(m.index, ready)
}

// ToSyncCount is the number of items Sync would dispatch.
func (m *Model) ToSyncCount() int {
	return len(m.Pending())
}

// Gather runs GatherStatus and drains it into the model.
func (m *Model) Gather(ctx context.Context, o *Orchestrator, refs []pipeline.EntityRef, observers ...func(Event)) {
	m.Drain(o.GatherStatus(ctx, refs), observers...)
}

// Sync transfers the pending items and drains the results into the model.
func (m *Model) Sync(ctx context.Context, o *Orchestrator, observers ...func(Event)) {
	m.Drain(o.StartSync(ctx, m.Pending()), observers...)
}

// Counts tallies items by status.
func (m *Model) Counts() map[ItemStatus]int {
	out := make(map[ItemStatus]int)
	for _, it := range m.items {
		out[it.Status]++
	}
	return out
}

func removePath(paths []string, path string) []string {
	out := paths[:0]
	for _, p := range paths {
		if p != path {
			out = append(out, p)
		}
	}
	return out
}
