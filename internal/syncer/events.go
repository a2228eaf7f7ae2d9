package syncer

import (
	"time"

	"github.com/fruitsalade/depotsync/internal/events"
	"github.com/fruitsalade/depotsync/internal/filter"
	"github.com/fruitsalade/depotsync/internal/progress"
)

// Event is anything the orchestrator reports. The concrete types are
// StatusEvent, FacetEvent, ItemEvent, TransferStarted, TransferCompleted
// and ProgressEvent.
type Event interface {
	// Summary flattens the event for observers.
	Summary() events.Event
}

// StatusEvent is the classification of one entity.
type StatusEvent struct {
	Entity Entity
	Status Status
	// Count is the number of files to transfer when Status is NeedsSync.
	Count int
	Err   error
}

// FacetEvent announces a facet value seen for the first time in a run.
type FacetEvent struct {
	Facet filter.Facet
}

// ItemEvent announces a file that needs a transfer.
type ItemEvent struct {
	Item Item
}

// TransferStarted is sent before a transfer command runs.
type TransferStarted struct {
	Item Item
}

// TransferCompleted is sent after a transfer command ends. It always
// follows the TransferStarted of the same item.
type TransferCompleted struct {
	Item     Item
	OK       bool
	Err      error
	Duration time.Duration
}

// ProgressEvent is a throttled progress report of a running transfer.
type ProgressEvent struct {
	Item     Item
	Progress progress.Event
}

func (e StatusEvent) Summary() events.Event {
	ev := events.Event{
		Type:   events.EventStatus,
		Entity: e.Entity.Ref.String(),
		Path:   e.Entity.Root,
		Status: e.Status.String(),
		Count:  e.Count,
	}
	if e.Err != nil {
		ev.Message = e.Err.Error()
	}
	return ev
}

func (e FacetEvent) Summary() events.Event {
	ev := events.Event{Type: events.EventFacet, Facet: e.Facet.Name, Value: e.Facet.Value, Status: "visible"}
	if !e.Facet.Visible {
		ev.Status = "hidden"
	}
	return ev
}

func (e ItemEvent) Summary() events.Event {
	return events.Event{Type: events.EventItem, Entity: e.Item.Entity, Path: e.Item.DepotPath, Status: e.Item.Status.String()}
}

func (e TransferStarted) Summary() events.Event {
	return events.Event{Type: events.EventStarted, Entity: e.Item.Entity, Path: e.Item.DepotPath, Status: Syncing.String()}
}

func (e TransferCompleted) Summary() events.Event {
	ev := events.Event{Type: events.EventCompleted, Entity: e.Item.Entity, Path: e.Item.DepotPath, Status: Synced.String()}
	if !e.OK {
		ev.Status = Failed.String()
	}
	if e.Err != nil {
		ev.Message = e.Err.Error()
	}
	return ev
}

func (e ProgressEvent) Summary() events.Event {
	ev := events.Event{
		Type:    events.EventProgress,
		Entity:  e.Item.Entity,
		Path:    e.Item.DepotPath,
		Percent: e.Progress.Percent,
		Rate:    progress.HumanRate(e.Progress.Rate),
		ETA:     e.Progress.ETA.Round(time.Second).String(),
	}
	if e.Progress.Done {
		ev.Status = "done"
		if !e.Progress.Success {
			ev.Status = "failed"
		}
	}
	return ev
}
