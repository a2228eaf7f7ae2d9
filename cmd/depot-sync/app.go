package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fruitsalade/depotsync/internal/config"
	"github.com/fruitsalade/depotsync/internal/connection"
	"github.com/fruitsalade/depotsync/internal/depot"
	"github.com/fruitsalade/depotsync/internal/depot/depottest"
	"github.com/fruitsalade/depotsync/internal/events"
	"github.com/fruitsalade/depotsync/internal/filter"
	"github.com/fruitsalade/depotsync/internal/logging"
	"github.com/fruitsalade/depotsync/internal/metadata/postgres"
	"github.com/fruitsalade/depotsync/internal/metrics"
	"github.com/fruitsalade/depotsync/internal/pipeline"
	"github.com/fruitsalade/depotsync/internal/prefs"
	"github.com/fruitsalade/depotsync/internal/prompt"
	"github.com/fruitsalade/depotsync/internal/syncer"
)

// app holds everything a command needs, wired from config and flags.
type app struct {
	cfg   *config.Config
	flags *globalFlags
	out   io.Writer
	runID string

	user      string
	refs      []pipeline.EntityRef
	manager   *connection.Manager
	fake      *depottest.Server
	resolver  *pipeline.TemplateResolver
	metadata  pipeline.MetadataStore
	store     prefs.Store
	index     *filter.Index
	observers *events.Broadcaster
	pool      *syncer.Pool
	orch      *syncer.Orchestrator
	model     *syncer.Model

	closers []func()
}

func newApp(ctx context.Context, g *globalFlags, out io.Writer) (*app, error) {
	if g.project != "" {
		os.Setenv("PIPELINE_PROJECT", g.project)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		OutputPath: cfg.LogFile,
		MaxBackups: 5,
		MaxAgeDays: 14,
	}); err != nil {
		return nil, fmt.Errorf("logging init: %w", err)
	}
	if cfg.ProjectRoot == "" {
		if cfg.ProjectRoot, err = os.Getwd(); err != nil {
			return nil, err
		}
	}

	a := &app{cfg: cfg, flags: g, out: out, runID: uuid.NewString()}
	a.closers = append(a.closers, func() { _ = logging.Sync() })

	if g.manifest != "" {
		if a.refs, err = loadManifest(g.manifest); err != nil {
			a.Close()
			return nil, err
		}
	}

	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	logging.Info("depot-sync starting",
		zap.String("run_id", a.runID),
		zap.String("project", cfg.Project),
		zap.String("user", a.user),
		zap.Int("entities", len(a.refs)),
		zap.Bool("fake", g.fake),
	)
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg, g := a.cfg, a.flags

	identity, err := pipeline.NewIdentity(ctx, pipeline.IdentityConfig{
		IDToken:   cfg.IDToken,
		IssuerURL: cfg.OIDCIssuerURL,
		ClientID:  cfg.OIDCClientID,
		JWTSecret: cfg.JWTSecret,
		User:      firstNonEmpty(g.user, cfg.User),
	})
	if err != nil {
		return err
	}
	if a.user, err = identity.CurrentUser(ctx); err != nil {
		return err
	}

	runtime := &pipeline.EnvRuntime{
		Project: cfg.Project,
		Root:    cfg.ProjectRoot,
		Servers: cfg.Servers,
		Users:   identity,
	}
	a.resolver = &pipeline.TemplateResolver{ProjectRoot: cfg.ProjectRoot, Roots: cfg.Templates.Roots}

	var connector depot.Connector = depot.ExecConnector{Bin: cfg.DepotBin}
	serverOverride := cfg.DepotPort
	if g.fake {
		if a.fake, err = seedFakeDepot(ctx, cfg, a.user, a.refs, a.resolver); err != nil {
			return err
		}
		connector = a.fake
		serverOverride = fakePort
	}

	var prompter connection.Prompter
	if !g.headless && prompt.IsTerminal() {
		prompter = prompt.NewTerminal()
	}
	a.manager = connection.NewManager(connection.Config{
		Runtime:           runtime,
		Connector:         connector,
		Prompter:          prompter,
		Templates:         cfg.Templates,
		Hostname:          cfg.Hostname,
		Region:            cfg.Region,
		ServerOverride:    serverOverride,
		MinTicketLifetime: cfg.MinTicketLifetime,
		MetricsPushURL:    cfg.MetricsPushURL,
	})
	a.closers = append(a.closers, a.manager.Disconnect)

	a.metadata = pipeline.NoMetadata{}
	if cfg.DatabaseURL != "" {
		store, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			// publish facets are optional; files still sync without them
			logging.Warn("publish metadata unavailable", zap.Error(err))
		} else {
			a.metadata = store
			a.closers = append(a.closers, func() { _ = store.Close() })
		}
	}

	if a.store, err = a.openPrefs(ctx); err != nil {
		return err
	}
	if a.index, err = filter.NewIndex(ctx, a.store); err != nil {
		return err
	}
	if fs, ok := a.store.(*prefs.FileStore); ok {
		watchCtx, cancel := context.WithCancel(ctx)
		a.closers = append(a.closers, cancel)
		go func() {
			err := fs.Watch(watchCtx, func(p prefs.Preferences) { a.index.Replace(p) })
			if err != nil && !errors.Is(err, context.Canceled) {
				logging.Debug("preference watch stopped", zap.Error(err))
			}
		}()
	}

	a.observers = events.NewBroadcaster()
	if g.events {
		a.streamEvents(os.Stderr)
	}
	if g.metricsAddr != "" {
		a.serveMetrics(g.metricsAddr)
	}

	workers := cfg.Workers
	if g.workers > 0 {
		workers = g.workers
	}
	a.pool = syncer.NewPool(workers)
	a.pool.Start(ctx)
	a.closers = append(a.closers, a.pool.Stop)

	a.orch = syncer.New(syncer.Options{
		Clients:   a.manager,
		Resolver:  a.resolver,
		Metadata:  a.metadata,
		Pool:      a.pool,
		Observers: a.observers,
		Progress:  true,
		RunID:     a.runID,
	})
	a.model = syncer.NewModel(a.index)
	return nil
}

func (a *app) openPrefs(ctx context.Context) (prefs.Store, error) {
	cfg := a.cfg
	if cfg.PrefsS3Bucket == "" {
		fs, err := prefs.NewFileStore(cfg.PrefsPath)
		if err != nil {
			return nil, err
		}
		return fs, nil
	}
	s3, err := prefs.NewS3Store(ctx, prefs.S3Config{
		Bucket:    cfg.PrefsS3Bucket,
		Endpoint:  cfg.PrefsS3Endpoint,
		Region:    cfg.PrefsS3Region,
		AccessKey: cfg.PrefsS3AccessKey,
		SecretKey: cfg.PrefsS3SecretKey,
		PathStyle: cfg.PrefsS3PathStyle,
		User:      a.user,
	})
	if err != nil {
		return nil, err
	}
	return s3, nil
}

// streamEvents writes every observer event to w as a JSON line until the
// app closes.
func (a *app) streamEvents(w io.Writer) {
	ch := a.observers.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			data, err := events.MarshalEvent(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "%s\n", data)
		}
	}()
	a.closers = append(a.closers, func() {
		a.observers.Unsubscribe(ch)
		<-done
	})
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	a.closers = append(a.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
}

// connect establishes the connection used by every depot command.
func (a *app) connect(ctx context.Context) (*connection.Connection, error) {
	return a.manager.Connect(logging.WithRunID(ctx, a.runID), connection.Options{
		User:             a.user,
		AllowInteractive: !a.flags.headless,
	})
}

func (a *app) entities() ([]pipeline.EntityRef, error) {
	if len(a.refs) == 0 {
		return nil, errNoManifest
	}
	return a.refs, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
