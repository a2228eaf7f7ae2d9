package connection

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/fruitsalade/depotsync/internal/depot"
	"github.com/fruitsalade/depotsync/internal/logging"
	"github.com/fruitsalade/depotsync/internal/metrics"
)

// WorkspaceName is the per-user, per-machine workspace for a project.
func WorkspaceName(project, user, host string) string {
	return fmt.Sprintf("sgtk_%s_%s_%s", project, user, host)
}

// MasterTemplate is the project's own template workspace, preferred over
// the configured server table.
func MasterTemplate(project string) string {
	return fmt.Sprintf("sgtk_%s_master", project)
}

func workspaceFromRecord(r depot.Record) Workspace {
	name := r["client"]
	if name == "" {
		name = r["Client"]
	}
	return Workspace{
		Name:  name,
		Owner: r["Owner"],
		Root:  r["Root"],
		Host:  r["Host"],
	}
}

// ResolveWorkspace returns the workspace user syncs into, creating it from
// a template when it does not exist yet.
func (m *Manager) ResolveWorkspace(ctx context.Context, user string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.commandClient(); err != nil {
		return "", err
	}
	ws, err := m.resolveWorkspace(ctx, user)
	if err != nil {
		return "", err
	}
	return ws.Name, nil
}

// ValidateWorkspace fails unless name exists and is owned by user.
func (m *Manager) ValidateWorkspace(ctx context.Context, name, user string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.commandClient(); err != nil {
		return err
	}
	_, err := m.validateWorkspace(ctx, name, user)
	return err
}

// ListWorkspaces returns user's workspaces on this host.
func (m *Manager) ListWorkspaces(ctx context.Context, user string) ([]Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.commandClient(); err != nil {
		return nil, err
	}
	return m.listWorkspaces(ctx, user)
}

// commandClient returns whatever client the manager holds, bound or not.
func (m *Manager) commandClient() (depot.Client, error) {
	c, _ := m.current()
	if c == nil {
		return nil, ErrNotConnected
	}
	return c, nil
}

func (m *Manager) resolveWorkspace(ctx context.Context, user string) (Workspace, error) {
	client, _ := m.current()
	project := m.cfg.Runtime.ProjectName()
	name := WorkspaceName(project, user, m.cfg.Hostname)

	recs, err := client.Run(ctx, "clients")
	if err != nil {
		return Workspace{}, err
	}
	existing := make(map[string]depot.Record, len(recs))
	for _, r := range depot.Tagged(recs) {
		existing[strings.ToLower(r["client"])] = r
	}
	if r, ok := existing[strings.ToLower(name)]; ok {
		return workspaceFromRecord(r), nil
	}

	server := m.serverAddress()
	candidates := append([]string{MasterTemplate(project)}, m.cfg.Templates.Candidates(server)...)
	var template string
	for _, c := range candidates {
		if r, ok := existing[strings.ToLower(c)]; ok {
			template = r["client"]
			break
		}
	}
	if template == "" {
		logging.Error("no template workspace found, contact your admin",
			zap.String("server", server),
			zap.String("project", project),
			zap.Strings("tried", candidates))
		return Workspace{}, &WorkspaceError{
			Workspace: name,
			User:      user,
			Reason:    fmt.Sprintf("no template workspace for server %s", server),
			Admin:     true,
		}
	}

	return m.cloneWorkspace(ctx, client, name, template, user)
}

func (m *Manager) cloneWorkspace(ctx context.Context, client depot.Client, name, template, user string) (Workspace, error) {
	recs, err := client.Run(ctx, "client", "-o", "-t", template, name)
	if err != nil {
		return Workspace{}, &WorkspaceError{Workspace: name, User: user, Reason: "fetch template " + template, Err: err}
	}
	tagged := depot.Tagged(recs)
	if len(tagged) == 0 {
		return Workspace{}, &WorkspaceError{Workspace: name, User: user, Reason: "empty spec from template " + template}
	}

	spec := tagged[0]
	spec["Client"] = name
	spec["Owner"] = user
	spec["Root"] = filepath.Dir(filepath.Clean(m.cfg.Runtime.ProjectRoot()))
	spec["Description"] = "Generated workspace based on " + template
	if m.cfg.Hostname != "" {
		spec["Host"] = m.cfg.Hostname
	}

	if _, err := client.RunInput(ctx, depot.FormatSpec(spec), "client", "-i"); err != nil {
		return Workspace{}, &WorkspaceError{Workspace: name, User: user, Reason: "save workspace", Err: err}
	}

	metrics.RecordWorkspaceCreated()
	logging.Info("created workspace",
		zap.String("workspace", name),
		zap.String("template", template),
		zap.String("root", spec["Root"]))

	ws := workspaceFromRecord(spec)
	ws.Template = template
	return ws, nil
}

func (m *Manager) validateWorkspace(ctx context.Context, name, user string) (Workspace, error) {
	client, _ := m.current()
	recs, err := client.Run(ctx, "clients", "-e", name)
	if err != nil {
		return Workspace{}, err
	}
	tagged := depot.Tagged(recs)
	if len(tagged) == 0 {
		return Workspace{}, &WorkspaceError{Workspace: name, User: user, Reason: "does not exist"}
	}
	for _, r := range tagged {
		if r["Owner"] == user {
			return workspaceFromRecord(r), nil
		}
	}
	return Workspace{}, &WorkspaceError{
		Workspace: name,
		User:      user,
		Reason:    fmt.Sprintf("is owned by %s, not %s", tagged[0]["Owner"], user),
	}
}

func (m *Manager) listWorkspaces(ctx context.Context, user string) ([]Workspace, error) {
	client, _ := m.current()
	recs, err := client.Run(ctx, "clients", "-u", user)
	if err != nil {
		return nil, err
	}
	var out []Workspace
	for _, r := range depot.Tagged(recs) {
		ws := workspaceFromRecord(r)
		if ws.Host != "" && !strings.EqualFold(ws.Host, m.cfg.Hostname) {
			continue
		}
		out = append(out, ws)
	}
	return out, nil
}

func (m *Manager) serverAddress() string {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.server
}
