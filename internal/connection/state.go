package connection

import "time"

// State is a step of the connection state machine.
type State int

const (
	Disconnected State = iota
	ServerResolved
	TransportConnected
	TrustEvaluated
	UserBound
	LoginRequired
	LoggedIn
	WorkspaceBound
	Failed
)

var stateNames = [...]string{
	Disconnected:       "disconnected",
	ServerResolved:     "server-resolved",
	TransportConnected: "transport-connected",
	TrustEvaluated:     "trust-evaluated",
	UserBound:          "user-bound",
	LoginRequired:      "login-required",
	LoggedIn:           "logged-in",
	WorkspaceBound:     "workspace-bound",
	Failed:             "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// EntityContext scopes server resolution.
type EntityContext struct {
	Project string
	Region  string
}

// TrustRecord is the trust state of one server.
type TrustRecord struct {
	Server      string
	Fingerprint string
	Established bool
}

// Workspace is a client workspace bound to a user.
type Workspace struct {
	Name     string
	Owner    string
	Root     string
	Host     string
	Template string // set when this session created it
}

// Ticket is the login session on the server.
type Ticket struct {
	Expires time.Time
}

// Connection is a live, logged-in binding to one server.
type Connection struct {
	Server    string
	Trust     TrustRecord
	User      string
	Workspace Workspace
	Ticket    Ticket
}

// Options control Manager.Connect.
type Options struct {
	User     string // empty: ask the pipeline runtime
	Password string
	// Workspace to bind. Empty resolves (and if needed creates) the
	// per-user workspace.
	Workspace        string
	AllowInteractive bool
}
