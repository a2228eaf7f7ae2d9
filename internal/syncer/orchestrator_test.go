package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fruitsalade/depotsync/internal/depot"
	"github.com/fruitsalade/depotsync/internal/depot/depottest"
	"github.com/fruitsalade/depotsync/internal/events"
	"github.com/fruitsalade/depotsync/internal/filter"
	"github.com/fruitsalade/depotsync/internal/logging"
	"github.com/fruitsalade/depotsync/internal/pipeline"
	"github.com/fruitsalade/depotsync/internal/prefs"
)

const (
	testWorkspace = "sgtk_demo_alice_ws01"
	testRoot      = "/mnt/projects/demo"
)

var (
	hero  = pipeline.EntityRef{Type: "Asset", ID: 1, Code: "hero"}
	chair = pipeline.EntityRef{Type: "Asset", ID: 2, Code: "chair"}
	tree  = pipeline.EntityRef{Type: "Asset", ID: 3, Code: "tree"}
	seq   = pipeline.EntityRef{Type: "Sequence", ID: 4, Code: "sq010"}
)

const (
	heroModel = "//demo/assets/hero/model/hero.ma"
	heroRig   = "//demo/assets/hero/rig/hero_rig.mb"
	heroCache = "//demo/assets/hero/fx/hero.abc"
	chairFile = "//demo/assets/chair/model/chair.ma"
)

func init() {
	logging.InitNop()
}

type staticSource struct {
	client depot.Client
	err    error
}

func (s staticSource) Client() (depot.Client, error) {
	return s.client, s.err
}

type mapMetadata struct {
	mu    sync.Mutex
	pubs  map[string]pipeline.Publish
	err   error
	calls int
}

func (m *mapMetadata) LookupPublishes(ctx context.Context, paths []string) (map[string]pipeline.Publish, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]pipeline.Publish)
	for _, p := range paths {
		if pub, ok := m.pubs[p]; ok {
			out[p] = pub
		}
	}
	return out, nil
}

type fixture struct {
	srv      *depottest.Server
	meta     *mapMetadata
	orch     *Orchestrator
	model    *Model
	observed *recorder
}

type recorder struct {
	events []Event
}

func (r *recorder) observe(ev Event) {
	r.events = append(r.events, ev)
}

func clientPath(depotPath string) string {
	return testRoot + strings.TrimPrefix(depotPath, "//demo")
}

func newFixture(t *testing.T, configure ...func(*Options)) *fixture {
	t.Helper()
	ctx := context.Background()

	srv := depottest.New()
	srv.AddClient(testWorkspace, "alice", testRoot, "ws01", "//demo/... //"+testWorkspace+"/...")
	srv.AddFile(heroModel, clientPath(heroModel), 3, 4000)
	srv.AddFile(heroRig, clientPath(heroRig), 2, 8000)
	srv.AddFile(heroCache, clientPath(heroCache), 1, 400)
	srv.AddFile(chairFile, clientPath(chairFile), 1, 1200)
	srv.SetHave(testWorkspace, chairFile, 1)

	client, err := srv.Connect(ctx, depot.Settings{Port: "tcp:depot:1666", User: "alice", Workspace: testWorkspace})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	meta := &mapMetadata{pubs: map[string]pipeline.Publish{
		heroModel: {DepotPath: heroModel, Step: "model", Type: "Maya Scene"},
		heroRig:   {DepotPath: heroRig, Step: "rig", Type: "Maya Scene"},
		heroCache: {DepotPath: heroCache, Step: "fx", Type: "Alembic Cache"},
	}}

	pool := NewPool(4)
	pool.Start(ctx)
	t.Cleanup(pool.Stop)

	opts := Options{
		Clients: staticSource{client: client},
		Resolver: &pipeline.TemplateResolver{
			ProjectRoot: testRoot,
			Roots:       map[string]string{"Asset": "{root}/assets/{code}"},
		},
		Metadata: meta,
		Pool:     pool,
		RunID:    "run-1",
	}
	for _, fn := range configure {
		fn(&opts)
	}

	store, err := prefs.NewFileStore(filepath.Join(t.TempDir(), prefs.FileName))
	if err != nil {
		t.Fatal(err)
	}
	index, err := filter.NewIndex(ctx, store)
	if err != nil {
		t.Fatal(err)
	}

	return &fixture{
		srv:      srv,
		meta:     meta,
		orch:     New(opts),
		model:    NewModel(index),
		observed: &recorder{},
	}
}

func (f *fixture) gather(t *testing.T, refs ...pipeline.EntityRef) {
	t.Helper()
	f.model.Gather(context.Background(), f.orch, refs, f.observed.observe)
}

func (f *fixture) forcedSyncs() int {
	n := 0
	for _, c := range f.srv.Calls() {
		if c.Command == "sync" && len(c.Args) > 0 && c.Args[0] == "-f" {
			n++
		}
	}
	return n
}

func entityStatus(t *testing.T, m *Model, ref pipeline.EntityRef) EntityState {
	t.Helper()
	for _, st := range m.Entities() {
		if st.Entity.Ref.String() == ref.String() {
			return st
		}
	}
	t.Fatalf("entity %s not in model", ref)
	return EntityState{}
}

func TestGatherClassifiesEntities(t *testing.T) {
	f := newFixture(t)
	f.gather(t, hero, chair, tree, seq)

	tests := []struct {
		ref   pipeline.EntityRef
		want  Status
		count int
	}{
		{hero, NeedsSync, 3},
		{chair, AlreadySynced, 0},
		{tree, NotInDepot, 0},
		{seq, Error, 0},
	}
	for _, tt := range tests {
		st := entityStatus(t, f.model, tt.ref)
		if st.Status != tt.want {
			t.Errorf("%s status = %s, want %s", tt.ref, st.Status, tt.want)
		}
		if st.Count != tt.count {
			t.Errorf("%s count = %d, want %d", tt.ref, st.Count, tt.count)
		}
	}

	if st := entityStatus(t, f.model, seq); st.Err == nil || !strings.Contains(st.Err.Error(), "no template") {
		t.Errorf("sequence error = %v, want missing template", st.Err)
	}
	if st := entityStatus(t, f.model, hero); st.Entity.Root != filepath.Join(testRoot, "assets", "hero") {
		t.Errorf("hero root = %q", st.Entity.Root)
	}
	if got := len(f.model.Items()); got != 3 {
		t.Errorf("items = %d, want 3", got)
	}
	if f.meta.calls != 1 {
		t.Errorf("metadata lookups = %d, want one batch for the entity that needs syncing", f.meta.calls)
	}
}

func TestGatherSyncsEntityRootRecursively(t *testing.T) {
	f := newFixture(t)
	f.gather(t, hero)

	want := filepath.Join(testRoot, "assets", "hero", "...") + "#head"
	var issued []string
	for _, c := range f.srv.Calls() {
		if c.Command == "sync" && len(c.Args) == 2 && c.Args[0] == "-n" {
			issued = append(issued, c.Args[1])
		}
	}
	if len(issued) != 1 || issued[0] != want {
		t.Errorf("dry-run args = %q, want [%q]", issued, want)
	}
	if got := RootWildcard(want[:len(want)-len("#head")]); got+"#head" != want {
		t.Errorf("RootWildcard is not idempotent: %q", got)
	}
}

func TestGatherStatusPrecedesItems(t *testing.T) {
	f := newFixture(t)
	f.gather(t, hero)

	sawStatus := false
	for _, ev := range f.observed.events {
		switch ev.(type) {
		case StatusEvent:
			sawStatus = true
		case ItemEvent:
			if !sawStatus {
				t.Fatal("item event before the entity's status event")
			}
		}
	}
}

func TestGatherIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.gather(t, hero, chair)
	f.gather(t, hero, chair)

	if got := len(f.model.Entities()); got != 2 {
		t.Errorf("entities = %d, want 2", got)
	}
	if got := len(f.model.Items()); got != 3 {
		t.Errorf("items = %d, want 3", got)
	}
	if got := f.model.ToSyncCount(); got != 3 {
		t.Errorf("ToSyncCount = %d, want 3", got)
	}
}

func TestGatherTagsItemsFromMetadata(t *testing.T) {
	f := newFixture(t)
	f.gather(t, hero)

	it, ok := f.model.Item(heroModel)
	if !ok {
		t.Fatalf("%s not gathered", heroModel)
	}
	want := filter.Tags{Step: "model", Type: "Maya Scene", Ext: "ma"}
	if it.Tags != want {
		t.Errorf("tags = %+v, want %+v", it.Tags, want)
	}
	if it.Revision != 3 || it.Size != 4000 || it.Status != Ready {
		t.Errorf("item = %+v", it)
	}

	seen := make(map[filter.Facet]int)
	for _, ev := range f.observed.events {
		if fe, ok := ev.(FacetEvent); ok {
			seen[filter.Facet{Name: fe.Facet.Name, Value: fe.Facet.Value}]++
		}
	}
	// step: model rig fx; type: Maya Scene, Alembic Cache; ext: ma mb abc
	if len(seen) != 8 {
		t.Errorf("distinct facet events = %d, want 8: %v", len(seen), seen)
	}
	for k, n := range seen {
		if n != 1 {
			t.Errorf("facet %v announced %d times", k, n)
		}
	}
	if got := f.model.Index().Values(filter.Type); len(got) != 2 {
		t.Errorf("type values = %+v", got)
	}
}

func TestGatherMetadataFailureKeepsItems(t *testing.T) {
	f := newFixture(t)
	f.meta.err = errors.New("connection refused")
	f.gather(t, hero)

	items := f.model.Items()
	if len(items) != 3 {
		t.Fatalf("items = %d, want 3", len(items))
	}
	for _, it := range items {
		if it.Tags.Step != "" || it.Tags.Ext == "" {
			t.Errorf("%s tags = %+v, want extension only", it.DepotPath, it.Tags)
		}
	}
}

func TestGatherWithoutConnection(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Clients = staticSource{err: errors.New("not connected")}
	})
	f.gather(t, hero, chair)

	for _, st := range f.model.Entities() {
		if st.Status != Error || st.Err == nil {
			t.Errorf("%s = %s (%v), want error", st.Entity.Ref, st.Status, st.Err)
		}
	}
}

func TestSyncStartedBeforeCompleted(t *testing.T) {
	f := newFixture(t)
	f.gather(t, hero, chair)
	f.observed.events = nil

	f.model.Sync(context.Background(), f.orch, f.observed.observe)

	started := make(map[string]int)
	completed := make(map[string]int)
	for i, ev := range f.observed.events {
		switch e := ev.(type) {
		case TransferStarted:
			started[e.Item.DepotPath] = i + 1
		case TransferCompleted:
			if !e.OK {
				t.Errorf("%s failed: %v", e.Item.DepotPath, e.Err)
			}
			completed[e.Item.DepotPath] = i + 1
		}
	}
	if len(started) != 3 || len(completed) != 3 {
		t.Fatalf("started %d, completed %d, want 3 each", len(started), len(completed))
	}
	for path, s := range started {
		if c := completed[path]; c == 0 || c < s {
			t.Errorf("%s: completed at %d, started at %d", path, c, s)
		}
	}

	if got := f.model.Counts()[Synced]; got != 3 {
		t.Errorf("synced = %d, want 3", got)
	}
	if got := f.srv.Have(testWorkspace, heroRig); got != 2 {
		t.Errorf("have %s = %d, want 2", heroRig, got)
	}

	f.gather(t, hero)
	if st := entityStatus(t, f.model, hero); st.Status != AlreadySynced {
		t.Errorf("hero after sync = %s, want already_synced", st.Status)
	}
}

func TestHiddenFacetSkipsDispatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gather(t, hero)

	if err := f.model.Index().SetVisible(ctx, filter.Ext, "abc", false); err != nil {
		t.Fatalf("SetVisible: %v", err)
	}
	if got := f.model.ToSyncCount(); got != 2 {
		t.Fatalf("ToSyncCount with abc hidden = %d, want 2", got)
	}

	f.model.Sync(ctx, f.orch)
	if got := f.forcedSyncs(); got != 2 {
		t.Errorf("forced syncs = %d, want 2", got)
	}
	if it, _ := f.model.Item(heroCache); it.Status != Ready {
		t.Errorf("hidden item status = %s, want ready", it.Status)
	}

	if err := f.model.Index().SetVisible(ctx, filter.Ext, "abc", true); err != nil {
		t.Fatalf("SetVisible: %v", err)
	}
	if got := f.model.ToSyncCount(); got != 1 {
		t.Errorf("ToSyncCount after unhide = %d, want 1", got)
	}
}

func TestTwoHiddenOfThreeDispatchesOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	prop := pipeline.EntityRef{Type: "Asset", ID: 5, Code: "prop"}
	propModel := "//demo/assets/prop/model/prop.ma"
	for i, p := range []string{propModel, "//demo/assets/prop/work/a.tmp", "//demo/assets/prop/work/b.tmp"} {
		f.srv.AddFile(p, clientPath(p), 1, int64(100*(i+1)))
	}
	f.gather(t, prop)
	if got := f.model.ToSyncCount(); got != 3 {
		t.Fatalf("ToSyncCount = %d, want 3", got)
	}

	if err := f.model.Index().SetVisible(ctx, filter.Ext, "tmp", false); err != nil {
		t.Fatalf("SetVisible: %v", err)
	}
	if got := f.model.ToSyncCount(); got != 1 {
		t.Fatalf("ToSyncCount with tmp hidden = %d, want 1", got)
	}

	f.model.Sync(ctx, f.orch)
	if got := f.forcedSyncs(); got != 1 {
		t.Errorf("forced syncs = %d, want 1", got)
	}
	if it, _ := f.model.Item(propModel); it.Status != Synced {
		t.Errorf("%s = %s, want synced", propModel, it.Status)
	}
	if got := f.model.Counts()[Ready]; got != 2 {
		t.Errorf("ready = %d, want the 2 hidden items", got)
	}
}

func TestFailedTransferIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gather(t, hero)

	f.srv.Fail("sync", "Librarian checkout //demo/assets/hero failed.")
	f.model.Sync(ctx, f.orch)

	for _, it := range f.model.Items() {
		if it.Status != Failed || it.Err == nil {
			t.Errorf("%s = %s (%v), want failed", it.DepotPath, it.Status, it.Err)
		}
	}
	if got := f.model.ToSyncCount(); got != 0 {
		t.Errorf("ToSyncCount = %d, want 0", got)
	}

	it, _ := f.model.Item(heroModel)
	f.model.Apply(TransferStarted{Item: it})
	f.model.Apply(TransferCompleted{Item: it, OK: true})
	if again, _ := f.model.Item(heroModel); again.Status != Failed {
		t.Errorf("status after late events = %s, want failed", again.Status)
	}

	before := f.forcedSyncs()
	f.model.Sync(ctx, f.orch)
	if got := f.forcedSyncs(); got != before {
		t.Errorf("failed items dispatched again: %d forced syncs, want %d", got, before)
	}
}

func TestTransferProgress(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Progress = true
		o.ProgressInterval = time.Nanosecond
	})
	f.gather(t, hero)
	f.model.Sync(context.Background(), f.orch)

	for _, path := range []string{heroModel, heroRig, heroCache} {
		ev, ok := f.model.Progress(path)
		if !ok {
			t.Errorf("no progress for %s", path)
			continue
		}
		if !ev.Done || !ev.Success {
			t.Errorf("%s last progress = %+v, want done and successful", path, ev)
		}
	}
}

func TestCancelledSyncSkipsQueued(t *testing.T) {
	f := newFixture(t)
	f.gather(t, hero)
	f.observed.events = nil

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.model.Sync(ctx, f.orch, f.observed.observe)

	if len(f.observed.events) != 0 {
		t.Errorf("events after cancel = %d, want 0", len(f.observed.events))
	}
	if got := f.forcedSyncs(); got != 0 {
		t.Errorf("forced syncs = %d, want 0", got)
	}
	if got := f.model.ToSyncCount(); got != 3 {
		t.Errorf("ToSyncCount = %d, want 3", got)
	}
}

func TestObserversReceiveSummaries(t *testing.T) {
	b := events.NewBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	f := newFixture(t, func(o *Options) { o.Observers = b })
	f.gather(t, hero, tree)

	statuses := make(map[string]string)
	for {
		select {
		case ev := <-ch:
			if ev.RunID != "run-1" {
				t.Errorf("event %s run id = %q", ev.Type, ev.RunID)
			}
			if ev.Type == events.EventStatus {
				statuses[ev.Entity] = ev.Status
			}
			continue
		default:
		}
		break
	}
	if statuses[hero.String()] != "needs_sync" || statuses[tree.String()] != "not_in_depot" {
		t.Errorf("statuses = %v", statuses)
	}
}

func TestExtension(t *testing.T) {
	tests := map[string]string{
		"/a/b/hero.MA":    "ma",
		"//demo/x.tar.gz": "gz",
		"//demo/README":   "",
		"/a/b.c/d":        "",
	}
	for in, want := range tests {
		if got := Extension(in); got != want {
			t.Errorf("Extension(%q) = %q, want %q", in, got, want)
		}
	}
}
