package connection

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/fruitsalade/depotsync/internal/depot"
	"github.com/fruitsalade/depotsync/internal/logging"
	"github.com/fruitsalade/depotsync/internal/metrics"
)

const (
	trustedPrefix = "Trust already established."
	changedBanner = "******* WARNING P4PORT IDENTIFICATION HAS CHANGED! *******"
)

var (
	unknownFingerprintRe = regexp.MustCompile(`That fingerprint is (([A-F0-9]{2}:)+[A-F0-9]{2})`)
	changedFingerprintRe = regexp.MustCompile(`(?s).*The fingerprint for the mismatched key sent to your client is\s*\n(([A-F0-9]{2}:)+[A-F0-9]{2})`)
)

// Encrypted reports whether server is reached over ssl and therefore needs
// a trusted fingerprint.
func Encrypted(server string) bool {
	return strings.HasPrefix(strings.ToLower(server), "ssl:")
}

// trustStatus is what the server said about its fingerprint.
type trustStatus struct {
	trusted     bool
	fingerprint string
	changed     bool
}

// queryTrust asks the client whether server's fingerprint is trusted.
func queryTrust(ctx context.Context, c depot.Client) (trustStatus, error) {
	recs, err := c.Run(ctx, "trust")
	if err != nil {
		if depot.IsTransport(err) {
			return trustStatus{}, err
		}
		msg := depot.ServerMessage(err)
		if strings.HasPrefix(strings.TrimSpace(msg), changedBanner) {
			if m := changedFingerprintRe.FindStringSubmatch(msg); m != nil {
				return trustStatus{fingerprint: m[1], changed: true}, nil
			}
		}
		return trustStatus{}, err
	}

	for _, msg := range depot.Messages(recs) {
		if strings.HasPrefix(msg, trustedPrefix) {
			return trustStatus{trusted: true}, nil
		}
		if m := unknownFingerprintRe.FindStringSubmatch(msg); m != nil {
			return trustStatus{fingerprint: m[1]}, nil
		}
	}
	return trustStatus{}, &depot.CommandError{Command: "trust", Message: strings.Join(depot.Messages(recs), "\n")}
}

// ensureTrust makes sure the connection to server is trusted. The returned
// bool is set when the user asked for connection details instead of
// answering. Unencrypted servers are trusted without asking the server.
func (m *Manager) ensureTrust(ctx context.Context, c depot.Client, server string, interactive bool) (TrustRecord, bool, error) {
	rec := TrustRecord{Server: server}
	if !Encrypted(server) {
		rec.Established = true
		metrics.RecordTrustDecision("unencrypted")
		return rec, false, nil
	}

	status, err := queryTrust(ctx, c)
	if err != nil {
		return rec, false, err
	}
	if status.trusted {
		rec.Established = true
		metrics.RecordTrustDecision("known")
		return rec, false, nil
	}
	rec.Fingerprint = status.fingerprint

	if !interactive {
		metrics.RecordTrustDecision("refused")
		return rec, false, &TrustError{
			Server:      server,
			Fingerprint: status.fingerprint,
			Changed:     status.changed,
			Err:         ErrInteractionRequired,
		}
	}

	outcome, err := m.cfg.Prompter.AskTrust(ctx, TrustRequest{
		Server:      server,
		Fingerprint: status.fingerprint,
		Changed:     status.changed,
	})
	if err != nil {
		return rec, false, &TrustError{Server: server, Fingerprint: status.fingerprint, Changed: status.changed, Err: err}
	}
	switch outcome {
	case ShowDetails:
		metrics.RecordTrustDecision("details")
		return rec, true, nil
	case Cancelled:
		logging.Warn("server fingerprint rejected",
			zap.String("server", server),
			zap.String("fingerprint", status.fingerprint),
			zap.Bool("changed", status.changed))
		metrics.RecordTrustDecision("rejected")
		return rec, false, nil
	}

	args := []string{"-i", status.fingerprint}
	if status.changed {
		args = []string{"-f", "-i", status.fingerprint}
	}
	if _, err := c.Run(ctx, "trust", args...); err != nil {
		return rec, false, &TrustError{Server: server, Fingerprint: status.fingerprint, Changed: status.changed, Err: err}
	}

	verify, err := queryTrust(ctx, c)
	if err != nil {
		return rec, false, err
	}
	if !verify.trusted {
		return rec, false, &TrustError{
			Server:      server,
			Fingerprint: status.fingerprint,
			Changed:     status.changed,
			Err:         &depot.CommandError{Command: "trust", Message: "fingerprint not accepted"},
		}
	}

	logging.Info("trusted server fingerprint",
		zap.String("server", server),
		zap.String("fingerprint", status.fingerprint))
	metrics.RecordTrustDecision("accepted")
	rec.Established = true
	return rec, false, nil
}

// EnsureTrust evaluates trust for the server of the current connection
// attempt. See ensureTrust.
func (m *Manager) EnsureTrust(ctx context.Context, allowInteractive bool) (trusted, needsDetails bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	client, err := m.commandClient()
	if err != nil {
		return false, false, err
	}
	rec, details, err := m.ensureTrust(ctx, client, m.serverAddress(), allowInteractive && m.cfg.Prompter != nil)
	return rec.Established, details, err
}
