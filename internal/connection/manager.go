// Package connection owns the single logical connection to a depot server:
// server resolution, transport trust, login and workspace binding.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/depotsync/internal/config"
	"github.com/fruitsalade/depotsync/internal/depot"
	"github.com/fruitsalade/depotsync/internal/logging"
	"github.com/fruitsalade/depotsync/internal/metrics"
	"github.com/fruitsalade/depotsync/internal/pipeline"
)

// DefaultMinTicketLifetime is the shortest remaining ticket life that does
// not force a new login.
const DefaultMinTicketLifetime = 300 * time.Second

// Config wires a Manager to its collaborators.
type Config struct {
	Runtime   pipeline.Runtime
	Connector depot.Connector
	// Prompter asks the user for input. Nil means headless.
	Prompter  Prompter
	Templates *config.Templates

	Hostname string
	Region   string
	// ServerOverride skips the runtime's server lookup when set.
	ServerOverride    string
	MinTicketLifetime time.Duration
	MetricsPushURL    string
}

// Manager drives the connection state machine. Use one per process.
type Manager struct {
	cfg Config
	now func() time.Time

	// mu serializes connect, re-login and workspace binding so that only
	// one prompt sequence is ever on screen.
	mu sync.Mutex
	// digest is the session's cached P4PASSWD form for digestUser. Guarded
	// by mu.
	digest           string
	digestUser       string
	allowInteractive bool

	stateMu  sync.RWMutex
	state    State
	server   string
	client   depot.Client
	settings depot.Settings
	conn     *Connection
}

// NewManager creates a Manager in the Disconnected state.
func NewManager(cfg Config) *Manager {
	if cfg.MinTicketLifetime <= 0 {
		cfg.MinTicketLifetime = DefaultMinTicketLifetime
	}
	if cfg.Templates == nil {
		cfg.Templates = config.DefaultTemplates()
	}
	return &Manager{cfg: cfg, now: time.Now}
}

// State returns the current state.
func (m *Manager) State() State {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

// Current returns the live connection, or nil.
func (m *Manager) Current() *Connection {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	if m.conn == nil {
		return nil
	}
	c := *m.conn
	return &c
}

// Client returns the command channel of the live connection. Pool workers
// call it for every job.
func (m *Manager) Client() (depot.Client, error) {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	if m.state != WorkspaceBound || m.client == nil {
		return nil, ErrNotConnected
	}
	return m.client, nil
}

func (m *Manager) setState(s State) {
	m.stateMu.Lock()
	prev := m.state
	m.state = s
	server := m.server
	m.stateMu.Unlock()

	if prev != s {
		logging.Debug("connection state",
			zap.String("from", prev.String()),
			zap.String("to", s.String()),
			zap.String("server", server))
	}
}

func (m *Manager) bindClient(c depot.Client, s depot.Settings) {
	m.stateMu.Lock()
	m.client = c
	m.settings = s
	m.stateMu.Unlock()
}

func (m *Manager) current() (depot.Client, depot.Settings) {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.client, m.settings
}

// rebind points the current client at new settings.
func (m *Manager) rebind(ctx context.Context, s depot.Settings) (depot.Client, error) {
	c, _ := m.current()
	var next depot.Client
	if b, ok := c.(depot.Binder); ok {
		next = b.Bind(s)
	} else {
		var err error
		next, err = m.cfg.Connector.Connect(ctx, s)
		if err != nil {
			return nil, err
		}
	}
	m.bindClient(next, s)
	return next, nil
}

// ResolveServer returns the depot server for ec. A missing address is a
// ConfigError naming what is unset.
func (m *Manager) ResolveServer(ctx context.Context, ec EntityContext) (string, error) {
	if m.cfg.ServerOverride != "" {
		return m.cfg.ServerOverride, nil
	}
	server, err := m.cfg.Runtime.ServerAddress(ctx, ec.Project, ec.Region)
	if err != nil {
		return "", fmt.Errorf("connection: resolve server: %w", err)
	}
	if server == "" {
		logging.Error("no depot server configured",
			zap.String("project", ec.Project),
			zap.String("region", ec.Region))
		return "", &ConfigError{Field: fmt.Sprintf("depot server for project %q region %q", ec.Project, ec.Region)}
	}
	return server, nil
}

// Connect runs the full state machine and returns the live connection.
// Concurrent callers block until the first one finishes.
//
// When a step fails for any reason other than the transport, the user
// cancelling or missing configuration, and interaction is allowed, the
// whole sequence is re-run with every step prompting.
func (m *Manager) Connect(ctx context.Context, opts Options) (*Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.allowInteractive = opts.AllowInteractive
	conn, err := m.connect(ctx, opts, false)
	if err != nil && m.shouldFallBack(opts, err) {
		logging.Warn("connect failed, switching to interactive connection",
			zap.String("user", opts.User),
			zap.Error(err))
		conn, err = m.connect(ctx, opts, true)
	}
	if err != nil {
		m.setState(Failed)
		metrics.RecordConnectAttempt(failureKind(err))
		return nil, err
	}

	metrics.RecordConnectAttempt("success")
	metrics.Push(m.cfg.MetricsPushURL, "depot-sync")
	logging.Info("connected to depot",
		zap.String("server", conn.Server),
		zap.String("user", conn.User),
		zap.String("workspace", conn.Workspace.Name))
	c := *conn
	return &c, nil
}

func (m *Manager) shouldFallBack(opts Options, err error) bool {
	if !opts.AllowInteractive || m.cfg.Prompter == nil {
		return false
	}
	var cfgErr *ConfigError
	switch {
	case depot.IsTransport(err), IsCancelled(err), errors.As(err, &cfgErr),
		errors.Is(err, ErrInteractionRequired), errors.Is(err, context.Canceled):
		return false
	}
	return true
}

func (m *Manager) connect(ctx context.Context, opts Options, full bool) (*Connection, error) {
	interactive := opts.AllowInteractive && m.cfg.Prompter != nil

	user := opts.User
	if user == "" {
		var err error
		user, err = m.cfg.Runtime.CurrentUser(ctx)
		if err != nil {
			return nil, fmt.Errorf("connection: current user: %w", err)
		}
		if user == "" {
			return nil, &ConfigError{Field: "depot user"}
		}
	}

	ec := EntityContext{Project: m.cfg.Runtime.ProjectName(), Region: m.cfg.Region}
	server, err := m.ResolveServer(ctx, ec)
	if err != nil {
		return nil, err
	}
	m.stateMu.Lock()
	m.server = server
	m.conn = nil
	m.stateMu.Unlock()
	m.setState(ServerResolved)

	settings := depot.Settings{Port: server, Host: m.cfg.Hostname}
	client, err := m.cfg.Connector.Connect(ctx, settings)
	if err != nil {
		logging.Error("failed to reach depot server", zap.String("server", server), zap.Error(err))
		return nil, err
	}
	m.bindClient(client, settings)
	m.setState(TransportConnected)

	trust, details, err := m.ensureTrust(ctx, client, server, interactive)
	if err != nil {
		return nil, err
	}
	if details {
		return nil, &TrustError{Server: server, Fingerprint: trust.Fingerprint, Err: errShowDetails}
	}
	if !trust.Established {
		return nil, ErrCancelled
	}
	m.setState(TrustEvaluated)

	settings.User = user
	settings.PasswordDigest = m.cachedDigest(user)
	if _, err := m.rebind(ctx, settings); err != nil {
		return nil, err
	}
	m.setState(UserBound)

	ticket, err := m.login(ctx, server, user, opts.Password, interactive)
	if err != nil {
		if errors.Is(err, errShowDetails) {
			return nil, &AuthError{User: user, Server: server, Message: "connection details requested", Err: err}
		}
		return nil, err
	}

	ws, err := m.pickWorkspace(ctx, server, user, opts.Workspace, full)
	if err != nil {
		return nil, err
	}
	bound, err := m.bindWorkspace(ctx, ws.Name, user)
	if err != nil {
		return nil, err
	}
	bound.Template = ws.Template

	conn := &Connection{
		Server:    server,
		Trust:     trust,
		User:      user,
		Workspace: bound,
		Ticket:    ticket,
	}
	m.stateMu.Lock()
	m.conn = conn
	m.stateMu.Unlock()
	m.setState(WorkspaceBound)
	return conn, nil
}

// pickWorkspace settles which workspace to bind. In the full interactive
// flow the user confirms or changes the suggestion.
func (m *Manager) pickWorkspace(ctx context.Context, server, user, requested string, full bool) (Workspace, error) {
	ws := Workspace{Name: requested}
	var resolveErr error
	if ws.Name == "" {
		ws, resolveErr = m.resolveWorkspace(ctx, user)
		if resolveErr != nil && (!full || depot.IsTransport(resolveErr)) {
			return Workspace{}, resolveErr
		}
	}
	if !full {
		return ws, nil
	}

	candidates, err := m.listWorkspaces(ctx, user)
	if err != nil {
		return Workspace{}, err
	}
	name, outcome, err := m.cfg.Prompter.ChooseWorkspace(ctx, WorkspaceRequest{
		Server:     server,
		User:       user,
		Candidates: candidates,
		Suggested:  ws.Name,
	})
	if err != nil {
		if resolveErr != nil {
			return Workspace{}, resolveErr
		}
		return Workspace{}, &WorkspaceError{Workspace: ws.Name, User: user, Reason: "no workspace chosen", Err: err}
	}
	if outcome != Accepted || name == "" {
		return Workspace{}, ErrCancelled
	}
	if name != ws.Name {
		ws = Workspace{Name: name}
	}
	return ws, nil
}

func (m *Manager) bindWorkspace(ctx context.Context, name, user string) (Workspace, error) {
	ws, err := m.validateWorkspace(ctx, name, user)
	if err != nil {
		return Workspace{}, err
	}
	_, settings := m.current()
	settings.Workspace = ws.Name
	if _, err := m.rebind(ctx, settings); err != nil {
		return Workspace{}, err
	}
	return ws, nil
}

// cachedDigest returns the session's password digest if it belongs to user.
func (m *Manager) cachedDigest(user string) string {
	if m.digestUser != user {
		return ""
	}
	return m.digest
}

// Disconnect drops the live connection.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stateMu.Lock()
	m.client = nil
	m.conn = nil
	m.settings = depot.Settings{}
	m.stateMu.Unlock()
	m.setState(Disconnected)
	logging.Debug("disconnected from depot")
}

// ReLogin renews the ticket of the live connection, using the cached
// password digest first and prompting only if that fails.
func (m *Manager) ReLogin(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn := m.Current()
	if conn == nil {
		return ErrNotConnected
	}
	ticket, err := m.login(ctx, conn.Server, conn.User, "", m.allowInteractive && m.cfg.Prompter != nil)
	if err != nil {
		return err
	}

	m.stateMu.Lock()
	if m.conn != nil {
		m.conn.Ticket = ticket
	}
	m.stateMu.Unlock()
	m.setState(WorkspaceBound)
	return nil
}

func failureKind(err error) string {
	var (
		cfgErr   *ConfigError
		trustErr *TrustError
		authErr  *AuthError
		wsErr    *WorkspaceError
	)
	switch {
	case depot.IsTransport(err):
		return "transport"
	case IsCancelled(err):
		return "cancelled"
	case errors.As(err, &cfgErr):
		return "config"
	case errors.As(err, &trustErr):
		return "trust"
	case errors.As(err, &authErr):
		return "auth"
	case errors.As(err, &wsErr):
		return "workspace"
	}
	return "error"
}
