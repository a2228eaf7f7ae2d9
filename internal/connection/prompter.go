package connection

import "context"

// Outcome is how the user answered a prompt.
type Outcome int

const (
	Accepted Outcome = iota
	Cancelled
	// ShowDetails asks for the full connection form instead.
	ShowDetails
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Cancelled:
		return "cancelled"
	case ShowDetails:
		return "show-details"
	}
	return "unknown"
}

// PasswordRequest asks for a user's password. PrevError is the depot's
// reason the last attempt failed, empty on the first prompt.
type PasswordRequest struct {
	Server    string
	User      string
	PrevError string
}

// TrustRequest asks whether to trust a server fingerprint. When Changed is
// set the server key differs from the trusted one and the prompt must
// default to rejecting it.
type TrustRequest struct {
	Server      string
	Fingerprint string
	Changed     bool
}

// WorkspaceRequest asks the user to pick a workspace.
type WorkspaceRequest struct {
	Server     string
	User       string
	Candidates []Workspace
	Suggested  string
}

// Prompter collects interactive input. Calls block until the user answers.
type Prompter interface {
	AskPassword(ctx context.Context, req PasswordRequest) (string, Outcome, error)
	AskTrust(ctx context.Context, req TrustRequest) (Outcome, error)
	ChooseWorkspace(ctx context.Context, req WorkspaceRequest) (string, Outcome, error)
}

// Headless is a Prompter for batch use. Every prompt is refused.
type Headless struct{}

// AskPassword implements Prompter.
func (Headless) AskPassword(ctx context.Context, req PasswordRequest) (string, Outcome, error) {
	return "", Cancelled, ErrInteractionRequired
}

// AskTrust implements Prompter.
func (Headless) AskTrust(ctx context.Context, req TrustRequest) (Outcome, error) {
	return Cancelled, ErrInteractionRequired
}

// ChooseWorkspace implements Prompter.
func (Headless) ChooseWorkspace(ctx context.Context, req WorkspaceRequest) (string, Outcome, error) {
	return "", Cancelled, ErrInteractionRequired
}
