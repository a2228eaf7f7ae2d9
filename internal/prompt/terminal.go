// Package prompt asks connection questions on a terminal.
package prompt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/fruitsalade/depotsync/internal/connection"
)

// Terminal implements connection.Prompter on a TTY. Passwords are read
// without echo.
type Terminal struct {
	In  io.Reader
	Out io.Writer
	// Fd is the terminal passwords are read from.
	Fd int
	// ReadPassword reads a line without echo. Defaults to term.ReadPassword.
	ReadPassword func(fd int) ([]byte, error)

	once   sync.Once
	reader *bufio.Reader
}

// NewTerminal returns a prompter on the process's stdin and stderr.
func NewTerminal() *Terminal {
	return &Terminal{In: os.Stdin, Out: os.Stderr, Fd: int(os.Stdin.Fd())}
}

// IsTerminal reports whether stdin is an interactive terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func (t *Terminal) line() (string, error) {
	t.once.Do(func() { t.reader = bufio.NewReader(t.In) })
	s, err := t.reader.ReadString('\n')
	if err != nil && (err != io.EOF || s == "") {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

func (t *Terminal) password() (string, error) {
	read := t.ReadPassword
	if read == nil {
		read = term.ReadPassword
	}
	b, err := read(t.Fd)
	fmt.Fprintln(t.Out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}

// AskPassword implements connection.Prompter. An empty answer cancels and
// "?" asks for the connection details.
func (t *Terminal) AskPassword(ctx context.Context, req connection.PasswordRequest) (string, connection.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return "", connection.Cancelled, err
	}
	if req.PrevError != "" {
		fmt.Fprintln(t.Out, req.PrevError)
	}
	fmt.Fprintf(t.Out, "Password for %s on %s (empty to cancel, ? for details): ", req.User, req.Server)
	pw, err := t.password()
	if err != nil {
		return "", connection.Cancelled, err
	}
	switch pw {
	case "":
		return "", connection.Cancelled, nil
	case "?":
		return "", connection.ShowDetails, nil
	}
	return pw, connection.Accepted, nil
}

// AskTrust implements connection.Prompter. A changed fingerprint is only
// accepted when the user types "yes" in full.
func (t *Terminal) AskTrust(ctx context.Context, req connection.TrustRequest) (connection.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return connection.Cancelled, err
	}

	if req.Changed {
		fmt.Fprintf(t.Out, "WARNING: the identity of %s has changed.\n", req.Server)
		fmt.Fprintln(t.Out, "Someone could be intercepting your connection. Check with your admin before continuing.")
		fmt.Fprintf(t.Out, "New fingerprint: %s\n", req.Fingerprint)
		fmt.Fprint(t.Out, "Type 'yes' to replace the trusted fingerprint: ")
		answer, err := t.line()
		if err != nil {
			return connection.Cancelled, err
		}
		if answer == "yes" {
			return connection.Accepted, nil
		}
		return connection.Cancelled, nil
	}

	fmt.Fprintf(t.Out, "The fingerprint of %s is not known.\nFingerprint: %s\n", req.Server, req.Fingerprint)
	fmt.Fprint(t.Out, "Trust this server? [y/N/d=details] ")
	answer, err := t.line()
	if err != nil {
		return connection.Cancelled, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return connection.Accepted, nil
	case "d", "details":
		return connection.ShowDetails, nil
	}
	return connection.Cancelled, nil
}

// ChooseWorkspace implements connection.Prompter. The answer is a number
// from the list, a workspace name, or empty for the suggestion.
func (t *Terminal) ChooseWorkspace(ctx context.Context, req connection.WorkspaceRequest) (string, connection.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return "", connection.Cancelled, err
	}

	fmt.Fprintf(t.Out, "Workspaces for %s on %s:\n", req.User, req.Server)
	for i, ws := range req.Candidates {
		fmt.Fprintf(t.Out, "  %d) %s\t%s\n", i+1, ws.Name, ws.Root)
	}
	if req.Suggested != "" {
		fmt.Fprintf(t.Out, "Workspace [%s] (q to cancel): ", req.Suggested)
	} else {
		fmt.Fprint(t.Out, "Workspace (q to cancel): ")
	}

	answer, err := t.line()
	if err != nil {
		return "", connection.Cancelled, err
	}
	switch {
	case answer == "q":
		return "", connection.Cancelled, nil
	case answer == "":
		if req.Suggested == "" {
			return "", connection.Cancelled, nil
		}
		return req.Suggested, connection.Accepted, nil
	}
	if n, err := strconv.Atoi(answer); err == nil {
		if n < 1 || n > len(req.Candidates) {
			return "", connection.Cancelled, fmt.Errorf("no workspace numbered %d", n)
		}
		return req.Candidates[n-1].Name, connection.Accepted, nil
	}
	return answer, connection.Accepted, nil
}
