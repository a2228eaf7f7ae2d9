package syncer

import (
	"path/filepath"
	"strings"

	"github.com/fruitsalade/depotsync/internal/depot"
	"github.com/fruitsalade/depotsync/internal/filter"
	"github.com/fruitsalade/depotsync/internal/pipeline"
)

// Entity is one thing the user asked to sync, with its resolved root.
type Entity struct {
	Ref  pipeline.EntityRef
	Root string
	Err  error
}

// Key identifies the entity within a run.
func (e Entity) Key() string {
	return e.Ref.String()
}

// Status classifies an entity after the dry run.
type Status int

const (
	Pending Status = iota
	NotInDepot
	AlreadySynced
	NeedsSync
	Error
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case NotInDepot:
		return "not_in_depot"
	case AlreadySynced:
		return "already_synced"
	case NeedsSync:
		return "needs_sync"
	case Error:
		return "error"
	}
	return "unknown"
}

// ItemStatus is the transfer state of one file. Synced and Failed are
// terminal.
type ItemStatus int

const (
	Ready ItemStatus = iota
	Syncing
	Synced
	Failed
)

func (s ItemStatus) String() string {
	switch s {
	case Ready:
		return "ready"
	case Syncing:
		return "syncing"
	case Synced:
		return "synced"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether s can no longer change.
func (s ItemStatus) Terminal() bool {
	return s == Synced || s == Failed
}

// Item is one depot file that needs a transfer.
type Item struct {
	Entity     string
	DepotPath  string
	ClientPath string
	Revision   int64
	Action     string
	Size       int64
	Tags       filter.Tags
	Status     ItemStatus
	Err        error
}

// FacetTags implements filter.Tagged.
func (it Item) FacetTags() filter.Tags {
	return it.Tags
}

// Extension returns the lower-case extension facet of a path, without
// the dot.
func Extension(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

// classify maps a dry-run result onto a status. No records means the root
// is not in the depot; only informational messages means there is nothing
// to do.
func classify(recs []depot.Record) (Status, []depot.Record) {
	if len(recs) == 0 {
		return NotInDepot, nil
	}
	files := depot.Tagged(recs)
	if len(files) == 0 {
		return AlreadySynced, nil
	}
	return NeedsSync, files
}

func itemFromRecord(entity string, r depot.Record) Item {
	ext := Extension(r["clientFile"])
	if ext == "" {
		ext = Extension(r["depotFile"])
	}
	return Item{
		Entity:     entity,
		DepotPath:  r["depotFile"],
		ClientPath: r["clientFile"],
		Revision:   r.Int("rev", 0),
		Action:     r["action"],
		Size:       r.Int("fileSize", 0),
		Tags:       filter.Tags{Ext: ext},
	}
}
