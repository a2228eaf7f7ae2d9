// Package syncer turns a list of pipeline entities into a per-file sync
// plan and runs it on a bounded worker pool.
package syncer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/depotsync/internal/depot"
	"github.com/fruitsalade/depotsync/internal/events"
	"github.com/fruitsalade/depotsync/internal/filter"
	"github.com/fruitsalade/depotsync/internal/logging"
	"github.com/fruitsalade/depotsync/internal/metrics"
	"github.com/fruitsalade/depotsync/internal/pipeline"
	"github.com/fruitsalade/depotsync/internal/progress"
)

// ClientSource hands out the command channel of the live connection.
type ClientSource interface {
	Client() (depot.Client, error)
}

// Options wires an Orchestrator.
type Options struct {
	Clients  ClientSource
	Resolver pipeline.Resolver
	Metadata pipeline.MetadataStore
	Pool     *Pool
	// Observers receives a copy of every event. Optional.
	Observers *events.Broadcaster
	// Progress wraps each transfer in a progress tracker.
	Progress bool
	// ProgressInterval throttles progress events. Zero uses the default.
	ProgressInterval time.Duration
	RunID            string
}

// Orchestrator gathers entity status and runs transfers.
type Orchestrator struct {
	opts Options
}

// New creates an Orchestrator. The pool must be started by the caller.
func New(opts Options) *Orchestrator {
	if opts.Metadata == nil {
		opts.Metadata = pipeline.NoMetadata{}
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = progress.DefaultMinInterval
	}
	return &Orchestrator{opts: opts}
}

type emitter struct {
	out       chan<- Event
	observers *events.Broadcaster
	runID     string
}

func (e emitter) emit(ev Event) {
	e.out <- ev
	if e.observers != nil {
		s := ev.Summary()
		s.RunID = e.runID
		e.observers.Publish(s)
	}
}

// GatherStatus classifies every entity on the pool. Events for an entity
// are sent as soon as its dry run returns; the channel is closed when all
// entities are done and must be drained by the caller.
func (o *Orchestrator) GatherStatus(ctx context.Context, refs []pipeline.EntityRef) <-chan Event {
	out := make(chan Event, 64)
	em := emitter{out: out, observers: o.opts.Observers, runID: o.opts.RunID}
	seen := &facetSet{seen: make(map[filter.Facet]bool)}
	log := logging.WithContext(ctx)

	var wg sync.WaitGroup
	go func() {
		defer close(out)
		for _, ref := range refs {
			ref := ref
			wg.Add(1)
			err := o.opts.Pool.Submit(ctx, func() {
				defer wg.Done()
				o.gatherOne(ctx, ref, em, seen)
			})
			if err != nil {
				wg.Done()
				log.Warn("status job not queued", zap.String("entity", ref.String()), zap.Error(err))
				metrics.RecordEntityStatus(Error.String())
				em.emit(StatusEvent{Entity: Entity{Ref: ref, Err: err}, Status: Error, Err: err})
			}
		}
		wg.Wait()
	}()
	return out
}

type facetSet struct {
	mu   sync.Mutex
	seen map[filter.Facet]bool
}

// first reports whether facet/value has not been seen in this run.
func (s *facetSet) first(name, value string) bool {
	if value == "" {
		return false
	}
	k := filter.Facet{Name: name, Value: value}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[k] {
		return false
	}
	s.seen[k] = true
	return true
}

func (o *Orchestrator) gatherOne(ctx context.Context, ref pipeline.EntityRef, em emitter, seen *facetSet) {
	entity := Entity{Ref: ref}
	fail := func(err error) {
		entity.Err = err
		metrics.RecordEntityStatus(Error.String())
		em.emit(StatusEvent{Entity: entity, Status: Error, Err: err})
	}
	if err := ctx.Err(); err != nil {
		fail(err)
		return
	}
	log := logging.WithContext(ctx).With(zap.String("entity", ref.String()))

	root, err := o.opts.Resolver.ResolveRoot(ctx, ref)
	if err != nil {
		log.Warn("resolve entity root failed", zap.Error(err))
		fail(err)
		return
	}
	entity.Root = root

	client, err := o.opts.Clients.Client()
	if err != nil {
		fail(err)
		return
	}
	recs, err := client.Run(context.WithoutCancel(ctx), "sync", "-n", RootWildcard(root)+"#head")
	if err != nil {
		log.Warn("dry-run sync failed", zap.String("root", root), zap.Error(err))
		fail(fmt.Errorf("status of %s: %w", root, err))
		return
	}

	status, files := classify(recs)
	metrics.RecordEntityStatus(status.String())
	em.emit(StatusEvent{Entity: entity, Status: status, Count: len(files)})
	log.Debug("entity status", zap.String("status", status.String()), zap.Int("files", len(files)))
	if status != NeedsSync {
		return
	}
	metrics.RecordItemsDiscovered(len(files))

	items := make([]Item, 0, len(files))
	paths := make([]string, 0, len(files))
	for _, r := range files {
		it := itemFromRecord(entity.Key(), r)
		items = append(items, it)
		paths = append(paths, it.DepotPath)
	}

	start := time.Now()
	publishes, err := o.opts.Metadata.LookupPublishes(ctx, paths)
	metrics.RecordMetadataQuery("lookup_publishes", time.Since(start))
	if err != nil {
		log.Warn("publish metadata lookup failed", zap.Int("paths", len(paths)), zap.Error(err))
	}

	for _, it := range items {
		if pub, ok := publishes[it.DepotPath]; ok {
			it.Tags.Step = pub.Step
			it.Tags.Type = pub.Type
		}
		for _, name := range filter.Names {
			if v := it.Tags.Get(name); seen.first(name, v) {
				em.emit(FacetEvent{Facet: filter.Facet{Name: name, Value: v, Visible: true}})
			}
		}
		em.emit(ItemEvent{Item: it})
	}
}

// RootWildcard turns an entity directory into the recursive path form the
// depot expects. A bare directory matches nothing.
func RootWildcard(root string) string {
	if strings.HasSuffix(root, "...") {
		return root
	}
	return filepath.Join(root, "...")
}

// StartSync runs one forced transfer per item on the pool. Each item gets
// TransferStarted then TransferCompleted. Items still queued when ctx is
// cancelled are skipped without events; running transfers finish. The
// channel must be drained by the caller.
func (o *Orchestrator) StartSync(ctx context.Context, items []Item) <-chan Event {
	out := make(chan Event, 64)
	em := emitter{out: out, observers: o.opts.Observers, runID: o.opts.RunID}
	log := logging.WithContext(ctx)

	var wg sync.WaitGroup
	go func() {
		defer close(out)
		for _, it := range items {
			it := it
			wg.Add(1)
			err := o.opts.Pool.Submit(ctx, func() {
				defer wg.Done()
				o.transfer(ctx, it, em)
			})
			if err != nil {
				wg.Done()
				log.Warn("transfer not queued", zap.String("path", it.DepotPath), zap.Error(err))
			}
		}
		wg.Wait()
	}()
	return out
}

func (o *Orchestrator) transfer(ctx context.Context, it Item, em emitter) {
	log := logging.WithContext(ctx).With(zap.String("path", it.DepotPath))
	if err := ctx.Err(); err != nil {
		log.Debug("transfer skipped", zap.Error(err))
		return
	}

	it.Status = Syncing
	em.emit(TransferStarted{Item: it})
	start := time.Now()

	err := o.runTransfer(context.WithoutCancel(ctx), it, em)
	done := TransferCompleted{Item: it, OK: err == nil, Err: err, Duration: time.Since(start)}
	if err != nil {
		done.Item.Status = Failed
		done.Item.Err = err
		log.Warn("transfer failed", zap.Error(err))
	} else {
		done.Item.Status = Synced
	}
	metrics.RecordTransfer(err == nil, done.Duration)
	em.emit(done)
}

func (o *Orchestrator) runTransfer(ctx context.Context, it Item, em emitter) error {
	client, err := o.opts.Clients.Client()
	if err != nil {
		return err
	}
	target := it.DepotPath + "#head"

	pc, ok := client.(depot.ProgressClient)
	if !o.opts.Progress || !ok {
		_, err = client.Run(ctx, "sync", "-f", target)
		return err
	}

	tracker := progress.NewTracker(func(ev progress.Event) {
		em.emit(ProgressEvent{Item: it, Progress: ev})
	}, progress.WithMinInterval(o.opts.ProgressInterval))
	_, err = pc.RunWithProgress(ctx, tracker, "sync", "-f", target)
	return err
}
