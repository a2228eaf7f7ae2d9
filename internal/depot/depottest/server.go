// Package depottest provides an in-memory depot server for tests and for the
// CLI's --fake mode. It answers the subset of commands depot-sync issues with
// the same record shapes and message texts as a real server.
package depottest

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/fruitsalade/depotsync/internal/depot"
)

// ChangedBanner opens the error a server returns when its fingerprint no
// longer matches the trusted one.
const ChangedBanner = "******* WARNING P4PORT IDENTIFICATION HAS CHANGED! *******"

// Call is one command received by the server.
type Call struct {
	User      string
	Workspace string
	Command   string
	Args      []string
}

type user struct {
	hash   []byte
	digest string
	ticket time.Time
}

type file struct {
	depotPath  string
	clientPath string
	headRev    int
	size       int64
}

// Server is an in-memory depot. The zero value is not usable; call New.
type Server struct {
	mu sync.Mutex

	// Fingerprint is the server's SSL key fingerprint, used when the port
	// starts with "ssl:".
	Fingerprint string
	// TicketLifetime is how long a login lasts.
	TicketLifetime time.Duration
	// Latency delays every command, to exercise concurrency.
	Latency time.Duration
	// Down makes Connect fail with a transport error.
	Down bool

	trusted    map[string]string // port -> fingerprint
	users      map[string]*user
	clients    map[string]depot.Record
	files      map[string]*file           // depot path -> file
	have       map[string]map[string]int // workspace -> depot path -> rev
	opened     map[string][]depot.Record // workspace -> opened records
	reconcile  map[string][]depot.Record // workspace -> reconcile -n output
	changes    map[int]depot.Record
	nextChange int
	failures   map[string]string // command -> error text
	calls      []Call
	now        func() time.Time
}

// New returns an empty server.
func New() *Server {
	return &Server{
		Fingerprint:    "F2:77:7B:7C:A4:B4:F2:7A:ED:C4:73:04:4D:B4:68:BD:D1:52:8F:44",
		TicketLifetime: 12 * time.Hour,
		trusted:        make(map[string]string),
		users:          make(map[string]*user),
		clients:        make(map[string]depot.Record),
		files:          make(map[string]*file),
		have:           make(map[string]map[string]int),
		opened:         make(map[string][]depot.Record),
		reconcile:      make(map[string][]depot.Record),
		changes:        make(map[int]depot.Record),
		nextChange:     1,
		failures:       make(map[string]string),
		now:            time.Now,
	}
}

// AddUser registers a user. Only the bcrypt hash and the P4PASSWD digest are
// kept.
func (s *Server) AddUser(name, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[name] = &user{hash: hash, digest: depot.PasswordDigest(password)}
	return nil
}

// SetTicket gives name a ticket that expires after remaining. Zero removes it.
func (s *Server) SetTicket(name string, remaining time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[name]
	if !ok {
		return
	}
	if remaining <= 0 {
		u.ticket = time.Time{}
		return
	}
	u.ticket = s.now().Add(remaining)
}

// Trust records fingerprint as trusted for port on this "machine".
func (s *Server) Trust(port, fingerprint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trusted[port] = fingerprint
}

// AddClient registers a workspace.
func (s *Server) AddClient(name, owner, root, host string, view ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := depot.Record{
		"Client":      name,
		"Owner":       owner,
		"Root":        root,
		"Host":        host,
		"Description": "Created by " + owner + ".",
		"Options":     "noallwrite noclobber nocompress unlocked nomodtime normdir",
	}
	for i, v := range view {
		r[fmt.Sprintf("View%d", i)] = v
	}
	s.clients[name] = r
}

// Client returns a copy of the workspace spec and whether it exists.
func (s *Server) Client(name string) (depot.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.clients[name]
	if !ok {
		return nil, false
	}
	return copyRecord(r), true
}

// AddFile registers a depot file at head revision rev, mapped to clientPath.
func (s *Server) AddFile(depotPath, clientPath string, rev int, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[depotPath] = &file{depotPath: depotPath, clientPath: clientPath, headRev: rev, size: size}
}

// SetHave records that workspace has rev of depotPath.
func (s *Server) SetHave(workspace, depotPath string, rev int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.have[workspace] == nil {
		s.have[workspace] = make(map[string]int)
	}
	s.have[workspace][depotPath] = rev
}

// Have returns the revision workspace has of depotPath.
func (s *Server) Have(workspace, depotPath string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.have[workspace][depotPath]
}

// Open marks a file opened in workspace for action under change ("default"
// for the default changelist).
func (s *Server) Open(workspace, depotPath, clientFile, action, change string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened[workspace] = append(s.opened[workspace], depot.Record{
		"depotFile":  depotPath,
		"clientFile": clientFile,
		"client":     workspace,
		"action":     action,
		"change":     change,
	})
}

// SetReconcile sets the records `reconcile -n` reports for workspace.
func (s *Server) SetReconcile(workspace string, recs ...depot.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconcile[workspace] = recs
}

// Fail makes every later cmd fail with text.
func (s *Server) Fail(cmd, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[cmd] = text
}

// Calls returns the commands received so far.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many times cmd was received.
func (s *Server) CallCount(cmd string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Command == cmd {
			n++
		}
	}
	return n
}

// Change returns a changelist record.
func (s *Server) Change(id int) (depot.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.changes[id]
	if !ok {
		return nil, false
	}
	return copyRecord(r), true
}

// Connect implements depot.Connector.
func (s *Server) Connect(ctx context.Context, st depot.Settings) (depot.Client, error) {
	s.mu.Lock()
	down := s.Down
	s.mu.Unlock()
	if down {
		return nil, &depot.TransportError{
			Server: st.Port,
			Err:    fmt.Errorf("TCP connect to %s failed.\nconnect: connection refused", st.Port),
		}
	}
	return &Session{server: s, settings: st}, nil
}

// Session is a client bound to one set of settings.
type Session struct {
	server   *Server
	settings depot.Settings
}

// Bind implements depot.Binder.
func (c *Session) Bind(s depot.Settings) depot.Client {
	return &Session{server: c.server, settings: s}
}

// Settings returns the session's settings.
func (c *Session) Settings() depot.Settings {
	return c.settings
}

// Run implements depot.Client.
func (c *Session) Run(ctx context.Context, cmd string, args ...string) ([]depot.Record, error) {
	return c.server.handle(ctx, c.settings, nil, "", cmd, args)
}

// RunInput implements depot.Client.
func (c *Session) RunInput(ctx context.Context, input string, cmd string, args ...string) ([]depot.Record, error) {
	return c.server.handle(ctx, c.settings, nil, input, cmd, args)
}

// RunWithProgress implements depot.ProgressClient. Each transferred file is
// reported in four equal steps.
func (c *Session) RunWithProgress(ctx context.Context, p depot.Progress, cmd string, args ...string) ([]depot.Record, error) {
	p.Init(cmd)
	p.SetDescription(strings.Join(args, " "), "bytes")
	recs, err := c.server.handle(ctx, c.settings, p, "", cmd, args)
	p.Done(err != nil)
	return recs, err
}

func (s *Server) handle(ctx context.Context, st depot.Settings, p depot.Progress, input, cmd string, args []string) ([]depot.Record, error) {
	if s.Latency > 0 {
		select {
		case <-time.After(s.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, Call{User: st.User, Workspace: st.Workspace, Command: cmd, Args: append([]string(nil), args...)})
	if text, ok := s.failures[cmd]; ok {
		return nil, &depot.CommandError{Command: cmd, Message: text}
	}

	switch cmd {
	case "info":
		return []depot.Record{{"serverAddress": st.Port, "userName": st.User, "clientName": st.Workspace}}, nil
	case "trust":
		return s.trust(st, cmd, args)
	case "login":
		return s.login(st, cmd, args, input)
	case "clients":
		return s.listClients(args), nil
	case "client":
		return s.client(st, cmd, args, input)
	case "sync":
		return s.sync(st, p, cmd, args)
	case "opened":
		return s.openedFiles(st, args), nil
	case "reconcile":
		return s.reconcileFiles(st), nil
	case "change":
		return s.change(st, cmd, args, input)
	case "reopen":
		return s.reopen(st, cmd, args)
	case "fstat":
		return s.fstat(st, cmd, args)
	case "submit":
		return s.submit(st, cmd, args, input)
	case "describe":
		return s.describe(args), nil
	}
	return nil, &depot.CommandError{Command: cmd, Message: "Unknown command.  Try 'p4 help' for info."}
}

func (s *Server) trust(st depot.Settings, cmd string, args []string) ([]depot.Record, error) {
	if !strings.HasPrefix(st.Port, "ssl:") {
		return nil, &depot.CommandError{Command: cmd, Message: "Not an ssl connection."}
	}
	known := s.trusted[st.Port]

	var force bool
	var install string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f":
			force = true
		case "-i":
			if i+1 < len(args) {
				install = args[i+1]
				i++
			}
		}
	}

	if install != "" {
		if install != s.Fingerprint {
			return nil, &depot.CommandError{Command: cmd, Message: "Fingerprint does not match the server key."}
		}
		if known != "" && known != install && !force {
			return nil, &depot.CommandError{Command: cmd, Message: ChangedBanner + "\nUse 'p4 trust -f -i' to replace the existing fingerprint."}
		}
		s.trusted[st.Port] = install
		return []depot.Record{depot.MessageRecord("Added trust for P4PORT '" + st.Port + "'")}, nil
	}

	switch known {
	case s.Fingerprint:
		return []depot.Record{depot.MessageRecord("Trust already established.")}, nil
	case "":
		addr := strings.TrimPrefix(st.Port, "ssl:")
		return []depot.Record{depot.MessageRecord(fmt.Sprintf(
			"The fingerprint of the server of your P4PORT setting\n'%s' (%s) is not known.\nThat fingerprint is %s",
			st.Port, addr, s.Fingerprint))}, nil
	}
	return nil, &depot.CommandError{Command: cmd, Message: fmt.Sprintf(
		"%s\nIt is possible that someone is intercepting your connection\nto the Perforce P4PORT '%s'\n"+
			"If this is not a scheduled key change, then you should contact\nyour Perforce administrator.\n"+
			"The fingerprint for the mismatched key sent to your client is\n%s",
		ChangedBanner, strings.TrimPrefix(st.Port, "ssl:"), s.Fingerprint)}
}

func (s *Server) login(st depot.Settings, cmd string, args []string, input string) ([]depot.Record, error) {
	u, ok := s.users[st.User]
	if !ok {
		return nil, &depot.CommandError{Command: cmd, Message: fmt.Sprintf("User %s doesn't exist.", st.User)}
	}

	if len(args) > 0 && args[0] == "-s" {
		remaining := u.ticket.Sub(s.now())
		if u.ticket.IsZero() || remaining <= 0 {
			return nil, &depot.CommandError{Command: cmd, Message: "Perforce password (P4PASSWD) invalid or unset."}
		}
		return []depot.Record{{
			"User":             st.User,
			"TicketExpiration": fmt.Sprintf("%d", int64(remaining/time.Second)),
		}}, nil
	}

	password := strings.TrimRight(input, "\r\n")
	switch {
	case password != "":
		if bcrypt.CompareHashAndPassword(u.hash, []byte(password)) != nil {
			return nil, &depot.CommandError{Command: cmd, Message: "Password invalid."}
		}
	case st.PasswordDigest != "":
		if st.PasswordDigest != u.digest {
			return nil, &depot.CommandError{Command: cmd, Message: "Password invalid."}
		}
	default:
		return nil, &depot.CommandError{Command: cmd, Message: "Password invalid."}
	}

	u.ticket = s.now().Add(s.TicketLifetime)
	return []depot.Record{depot.MessageRecord(fmt.Sprintf("User %s logged in.", st.User))}, nil
}

func (s *Server) listClients(args []string) []depot.Record {
	var exact, owner string
	for i := 0; i+1 < len(args); i++ {
		switch args[i] {
		case "-e":
			exact = args[i+1]
		case "-u":
			owner = args[i+1]
		}
	}

	names := make([]string, 0, len(s.clients))
	for name := range s.clients {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []depot.Record
	for _, name := range names {
		c := s.clients[name]
		if exact != "" && name != exact {
			continue
		}
		if owner != "" && c["Owner"] != owner {
			continue
		}
		out = append(out, depot.Record{
			"client":      name,
			"Owner":       c["Owner"],
			"Host":        c["Host"],
			"Root":        c["Root"],
			"Description": c["Description"],
		})
	}
	return out
}

func (s *Server) client(st depot.Settings, cmd string, args []string, input string) ([]depot.Record, error) {
	if len(args) > 0 && args[0] == "-i" {
		spec := depot.ParseSpec(input)
		name := spec["Client"]
		if name == "" {
			return nil, &depot.CommandError{Command: cmd, Message: "Error in client specification.\nMissing required field 'Client'."}
		}
		if spec["Root"] == "" {
			return nil, &depot.CommandError{Command: cmd, Message: "Error in client specification.\nMissing required field 'Root'."}
		}
		s.clients[name] = spec
		return []depot.Record{depot.MessageRecord(fmt.Sprintf("Client %s saved.", name))}, nil
	}

	var template, name string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-o":
		case "-t":
			if i+1 < len(args) {
				template = args[i+1]
				i++
			}
		default:
			name = args[i]
		}
	}
	if name == "" {
		name = st.Workspace
	}

	if existing, ok := s.clients[name]; ok {
		return []depot.Record{copyRecord(existing)}, nil
	}

	out := depot.Record{
		"Client":      name,
		"Owner":       st.User,
		"Host":        st.Host,
		"Root":        "",
		"Description": "Created by " + st.User + ".",
		"Options":     "noallwrite noclobber nocompress unlocked nomodtime normdir",
	}
	if template != "" {
		tmpl, ok := s.clients[template]
		if !ok {
			return nil, &depot.CommandError{Command: cmd, Message: fmt.Sprintf("Client '%s' doesn't exist.", template)}
		}
		out["Root"] = tmpl["Root"]
		out["Options"] = tmpl["Options"]
		for i, v := range tmpl.List("View") {
			out[fmt.Sprintf("View%d", i)] = strings.ReplaceAll(v, "//"+template+"/", "//"+name+"/")
		}
	}
	return []depot.Record{out}, nil
}

// matches reports whether f falls under a sync/fstat path argument. Like
// a real server, only a trailing "..." recurses; any other argument names
// a single file.
func matches(f *file, arg string) bool {
	path, _, _ := strings.Cut(arg, "#")
	dir, recursive := strings.CutSuffix(path, "...")
	dir = strings.TrimRight(dir, `/\`)
	for _, candidate := range []string{f.depotPath, f.clientPath} {
		if !recursive {
			if candidate == path {
				return true
			}
			continue
		}
		if strings.HasPrefix(candidate, dir+"/") || strings.HasPrefix(candidate, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (s *Server) sortedFiles() []*file {
	out := make([]*file, 0, len(s.files))
	for _, f := range s.files {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].depotPath < out[j].depotPath })
	return out
}

func (s *Server) sync(st depot.Settings, p depot.Progress, cmd string, args []string) ([]depot.Record, error) {
	if st.Workspace == "" {
		return nil, &depot.CommandError{Command: cmd, Message: "Client '" + st.Host + "' unknown - use 'client' command to create it."}
	}
	var preview, force bool
	var paths []string
	for _, a := range args {
		switch a {
		case "-n":
			preview = true
		case "-f":
			force = true
		default:
			paths = append(paths, a)
		}
	}
	if len(paths) == 0 {
		paths = []string{"//..."}
	}

	have := s.have[st.Workspace]
	if have == nil {
		have = make(map[string]int)
		s.have[st.Workspace] = have
	}

	var out []depot.Record
	var total int64
	var found bool
	for _, f := range s.sortedFiles() {
		matched := false
		for _, pth := range paths {
			if pth == "//..." || matches(f, pth) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		found = true
		if have[f.depotPath] >= f.headRev && !force {
			continue
		}
		action := "updated"
		if have[f.depotPath] == 0 {
			action = "added"
		}
		if force && have[f.depotPath] >= f.headRev {
			action = "refreshed"
		}
		out = append(out, depot.Record{
			"depotFile":  f.depotPath,
			"clientFile": f.clientPath,
			"rev":        fmt.Sprintf("%d", f.headRev),
			"action":     action,
			"fileSize":   fmt.Sprintf("%d", f.size),
		})
		total += f.size
	}

	if !found {
		return nil, nil
	}
	if len(out) == 0 {
		return []depot.Record{depot.MessageRecord(strings.Join(paths, " ") + " - file(s) up-to-date.")}, nil
	}

	out[0]["totalFileSize"] = fmt.Sprintf("%d", total)
	out[0]["totalFileCount"] = fmt.Sprintf("%d", len(out))
	if preview {
		return out, nil
	}

	if p != nil {
		p.SetTotal(total)
	}
	var sent int64
	for _, r := range out {
		f := s.files[r["depotFile"]]
		have[f.depotPath] = f.headRev
		if p != nil {
			step := f.size / 4
			for i := 0; i < 3; i++ {
				p.Update(sent + step*int64(i+1))
			}
			p.Update(sent + f.size)
		}
		sent += f.size
	}
	return out, nil
}

func (s *Server) openedFiles(st depot.Settings, args []string) []depot.Record {
	var change string
	for i := 0; i+1 < len(args); i++ {
		if args[i] == "-c" {
			change = args[i+1]
		}
	}
	var out []depot.Record
	for _, r := range s.opened[st.Workspace] {
		if change != "" && r["change"] != change {
			continue
		}
		out = append(out, copyRecord(r))
	}
	return out
}

func (s *Server) reconcileFiles(st depot.Settings) []depot.Record {
	var out []depot.Record
	for _, r := range s.reconcile[st.Workspace] {
		out = append(out, copyRecord(r))
	}
	return out
}

func (s *Server) change(st depot.Settings, cmd string, args []string, input string) ([]depot.Record, error) {
	if len(args) > 0 && args[0] == "-i" {
		spec := depot.ParseSpec(input)
		id := s.nextChange
		s.nextChange++
		spec["Change"] = fmt.Sprintf("%d", id)
		spec["Status"] = "pending"
		if spec["User"] == "" {
			spec["User"] = st.User
		}
		if spec["Client"] == "" {
			spec["Client"] = st.Workspace
		}
		s.changes[id] = spec
		return []depot.Record{depot.MessageRecord(fmt.Sprintf("Change %d created.", id))}, nil
	}

	if len(args) >= 2 && args[0] == "-o" {
		var id int
		if _, err := fmt.Sscanf(args[1], "%d", &id); err != nil {
			return nil, &depot.CommandError{Command: cmd, Message: fmt.Sprintf("Change %s unknown.", args[1])}
		}
		r, ok := s.changes[id]
		if !ok {
			return nil, &depot.CommandError{Command: cmd, Message: fmt.Sprintf("Change %d unknown.", id)}
		}
		return []depot.Record{copyRecord(r)}, nil
	}

	r := depot.Record{
		"Change":      "new",
		"Client":      st.Workspace,
		"User":        st.User,
		"Status":      "new",
		"Description": "<enter description here>",
	}
	for i, o := range s.opened[st.Workspace] {
		if o["change"] == "default" {
			r[fmt.Sprintf("Files%d", i)] = o["depotFile"] + "\t# " + o["action"]
		}
	}
	return []depot.Record{r}, nil
}

func (s *Server) reopen(st depot.Settings, cmd string, args []string) ([]depot.Record, error) {
	var change string
	var preview bool
	var paths []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-c":
			if i+1 < len(args) {
				change = args[i+1]
				i++
			}
		case "-n":
			preview = true
		default:
			paths = append(paths, args[i])
		}
	}
	if change == "" {
		return nil, &depot.CommandError{Command: cmd, Message: "Usage: reopen [-c changelist#] files..."}
	}

	var out []depot.Record
	for _, r := range s.opened[st.Workspace] {
		for _, pth := range paths {
			if r["clientFile"] != pth && r["depotFile"] != pth {
				continue
			}
			if !preview {
				r["change"] = change
			}
			out = append(out, depot.Record{"depotFile": r["depotFile"], "action": r["action"], "change": change})
		}
	}
	if len(out) == 0 {
		return nil, &depot.CommandError{Command: cmd, Message: strings.Join(paths, " ") + " - file(s) not opened on this client."}
	}
	return out, nil
}

func (s *Server) fstat(st depot.Settings, cmd string, args []string) ([]depot.Record, error) {
	var out []depot.Record
	for _, pth := range args {
		for _, f := range s.sortedFiles() {
			if !matches(f, pth) {
				continue
			}
			r := depot.Record{
				"depotFile":  f.depotPath,
				"clientFile": f.clientPath,
				"headRev":    fmt.Sprintf("%d", f.headRev),
				"haveRev":    fmt.Sprintf("%d", s.have[st.Workspace][f.depotPath]),
			}
			for _, o := range s.opened[st.Workspace] {
				if o["depotFile"] == f.depotPath {
					r["action"] = o["action"]
					r["change"] = o["change"]
				}
			}
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nil, &depot.CommandError{Command: cmd, Message: strings.Join(args, " ") + " - no such file(s)."}
	}
	return out, nil
}

func (s *Server) submit(st depot.Settings, cmd string, args []string, input string) ([]depot.Record, error) {
	var preview bool
	for _, a := range args {
		if a == "-n" {
			preview = true
		}
	}
	spec := depot.ParseSpec(input)
	var id int
	if _, err := fmt.Sscanf(spec["Change"], "%d", &id); err != nil {
		return nil, &depot.CommandError{Command: cmd, Message: "Error in change specification.\nMissing or bad change number."}
	}
	change, ok := s.changes[id]
	if !ok {
		return nil, &depot.CommandError{Command: cmd, Message: fmt.Sprintf("Change %d unknown.", id)}
	}

	changeID := fmt.Sprintf("%d", id)
	out := []depot.Record{{"change": changeID, "locked": "0"}}
	var remaining []depot.Record
	var submitted int
	for _, o := range s.opened[st.Workspace] {
		if o["change"] != changeID {
			remaining = append(remaining, o)
			continue
		}
		submitted++
		f := s.files[o["depotFile"]]
		rev := 1
		if f != nil {
			rev = f.headRev + 1
		}
		out = append(out, depot.Record{"depotFile": o["depotFile"], "action": o["action"], "rev": fmt.Sprintf("%d", rev)})
		if preview {
			remaining = append(remaining, o)
			continue
		}
		if f == nil {
			f = &file{depotPath: o["depotFile"], clientPath: o["clientFile"]}
			s.files[f.depotPath] = f
		}
		f.headRev = rev
		if s.have[st.Workspace] == nil {
			s.have[st.Workspace] = make(map[string]int)
		}
		s.have[st.Workspace][f.depotPath] = rev
	}
	if submitted == 0 {
		return nil, &depot.CommandError{Command: cmd, Message: "No files to submit."}
	}
	if !preview {
		s.opened[st.Workspace] = remaining
		change["Status"] = "submitted"
		out = append(out, depot.Record{"submittedChange": changeID})
	}
	return out, nil
}

func (s *Server) describe(args []string) []depot.Record {
	var out []depot.Record
	for _, a := range args {
		if strings.HasPrefix(a, "-") {
			continue
		}
		var id int
		if _, err := fmt.Sscanf(a, "%d", &id); err != nil {
			continue
		}
		c, ok := s.changes[id]
		if !ok {
			continue
		}
		out = append(out, depot.Record{
			"change": c["Change"],
			"user":   c["User"],
			"client": c["Client"],
			"status": c["Status"],
			"desc":   c["Description"],
		})
	}
	return out
}

func copyRecord(r depot.Record) depot.Record {
	out := make(depot.Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
