package prompt

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/fruitsalade/depotsync/internal/connection"
)

func newTerminal(input string, passwords ...string) (*Terminal, *bytes.Buffer) {
	out := &bytes.Buffer{}
	t := &Terminal{
		In:  strings.NewReader(input),
		Out: out,
		ReadPassword: func(int) ([]byte, error) {
			if len(passwords) == 0 {
				return nil, nil
			}
			pw := passwords[0]
			passwords = passwords[1:]
			return []byte(pw), nil
		},
	}
	return t, out
}

func TestAskPassword(t *testing.T) {
	ctx := context.Background()
	term, out := newTerminal("", "secret", "", "?")
	req := connection.PasswordRequest{Server: "ssl:depot:1666", User: "alice", PrevError: "Log-in failed: Password invalid."}

	pw, outcome, err := term.AskPassword(ctx, req)
	if err != nil || outcome != connection.Accepted || pw != "secret" {
		t.Fatalf("AskPassword = %q, %v, %v", pw, outcome, err)
	}
	if !strings.Contains(out.String(), "Log-in failed: Password invalid.") {
		t.Errorf("previous error not shown: %q", out.String())
	}

	if _, outcome, _ := term.AskPassword(ctx, req); outcome != connection.Cancelled {
		t.Errorf("empty password outcome = %v, want cancelled", outcome)
	}
	if _, outcome, _ := term.AskPassword(ctx, req); outcome != connection.ShowDetails {
		t.Errorf("? outcome = %v, want show-details", outcome)
	}
}

func TestAskTrust(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		changed bool
		want    connection.Outcome
	}{
		{"accept new", "y\n", false, connection.Accepted},
		{"default rejects new", "\n", false, connection.Cancelled},
		{"details", "d\n", false, connection.ShowDetails},
		{"changed needs yes", "y\n", true, connection.Cancelled},
		{"changed typed yes", "yes\n", true, connection.Accepted},
		{"changed default rejects", "\n", true, connection.Cancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			term, _ := newTerminal(tt.input)
			got, err := term.AskTrust(context.Background(), connection.TrustRequest{
				Server:      "ssl:depot:1666",
				Fingerprint: "AA:BB",
				Changed:     tt.changed,
			})
			if err != nil {
				t.Fatalf("AskTrust: %v", err)
			}
			if got != tt.want {
				t.Errorf("outcome = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChooseWorkspace(t *testing.T) {
	req := connection.WorkspaceRequest{
		Server:     "depot:1666",
		User:       "alice",
		Candidates: []connection.Workspace{{Name: "alice_a"}, {Name: "alice_b"}},
		Suggested:  "sgtk_demo_alice_ws01",
	}
	tests := []struct {
		input   string
		want    string
		outcome connection.Outcome
	}{
		{"\n", "sgtk_demo_alice_ws01", connection.Accepted},
		{"2\n", "alice_b", connection.Accepted},
		{"custom_ws\n", "custom_ws", connection.Accepted},
		{"q\n", "", connection.Cancelled},
	}
	for _, tt := range tests {
		term, _ := newTerminal(tt.input)
		got, outcome, err := term.ChooseWorkspace(context.Background(), req)
		if err != nil {
			t.Fatalf("ChooseWorkspace(%q): %v", tt.input, err)
		}
		if got != tt.want || outcome != tt.outcome {
			t.Errorf("ChooseWorkspace(%q) = %q, %v; want %q, %v", tt.input, got, outcome, tt.want, tt.outcome)
		}
	}

	term, _ := newTerminal("7\n")
	if _, _, err := term.ChooseWorkspace(context.Background(), req); err == nil {
		t.Error("out of range choice should fail")
	}
}
