package depot

import (
	"errors"
	"fmt"
	"strings"
)

// CommandError is a depot-side failure. Message is the server's own text.
type CommandError struct {
	Command string
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("depot: %s: %s", e.Command, e.Message)
}

// TransportError is a network-level failure reaching the server. It is never
// retried automatically and is never turned into an interactive prompt.
type TransportError struct {
	Server string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("depot: connect to %s: %v", e.Server, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is, or wraps, a TransportError.
func IsTransport(err error) bool {
	var t *TransportError
	return errors.As(err, &t)
}

// ServerMessage returns the depot's text for err, or err.Error() if err did
// not come from the server.
func ServerMessage(err error) string {
	var c *CommandError
	if errors.As(err, &c) {
		return c.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

var transportMarkers = []string{
	"TCP connect to",
	"Connect to server failed",
	"TCP receive failed",
	"TCP send failed",
	"Partner exited unexpectedly",
}

// looksLikeTransport classifies command line client stderr.
func looksLikeTransport(text string) bool {
	for _, m := range transportMarkers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}
