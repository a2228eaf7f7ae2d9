package connection

import (
	"errors"
	"fmt"

	"github.com/fruitsalade/depotsync/internal/config"
)

var (
	// ErrCancelled means the user dismissed a prompt.
	ErrCancelled = errors.New("connection: cancelled by user")
	// ErrInteractionRequired means input was needed but no prompter could
	// ask for it.
	ErrInteractionRequired = errors.New("connection: interaction required")
	// ErrNotConnected is returned by operations that need a live connection.
	ErrNotConnected = errors.New("connection: not connected")

	errShowDetails = errors.New("connection: details requested")
)

// ConfigError names a missing setting such as the server address.
type ConfigError = config.ConfigError

// TrustError means an encrypted server could not be trusted.
type TrustError struct {
	Server      string
	Fingerprint string
	Changed     bool
	Err         error
}

func (e *TrustError) Error() string {
	if e.Changed {
		return fmt.Sprintf("connection: server %s identification has changed (fingerprint %s): %v", e.Server, e.Fingerprint, e.Err)
	}
	return fmt.Sprintf("connection: server %s is not trusted: %v", e.Server, e.Err)
}

func (e *TrustError) Unwrap() error {
	return e.Err
}

// AuthError is a failed login. Message is the depot's own text.
type AuthError struct {
	User    string
	Server  string
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("connection: failed to log in user %q on %s: %s", e.User, e.Server, e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// WorkspaceError is a missing, misowned or uncreatable workspace. Admin is
// set when only an administrator can fix it.
type WorkspaceError struct {
	Workspace string
	User      string
	Reason    string
	Admin     bool
	Err       error
}

func (e *WorkspaceError) Error() string {
	msg := fmt.Sprintf("connection: workspace %q: %s", e.Workspace, e.Reason)
	if e.Admin {
		msg += " (contact your admin)"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *WorkspaceError) Unwrap() error {
	return e.Err
}

// IsCancelled reports whether err came from the user dismissing a prompt.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
