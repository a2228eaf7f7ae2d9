package connection

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/depotsync/internal/depot"
	"github.com/fruitsalade/depotsync/internal/logging"
	"github.com/fruitsalade/depotsync/internal/metrics"
)

// ticketStatus runs "login -s" and reports whether the current ticket
// outlives the configured minimum. No records, an error, or every record
// expiring too soon all mean a login is required.
func (m *Manager) ticketStatus(ctx context.Context, c depot.Client) (Ticket, bool, error) {
	recs, err := c.Run(ctx, "login", "-s")
	if err != nil {
		if depot.IsTransport(err) {
			return Ticket{}, false, err
		}
		return Ticket{}, false, nil
	}

	minSecs := int64(m.cfg.MinTicketLifetime / time.Second)
	var best int64 = -1
	for _, r := range depot.Tagged(recs) {
		if secs := r.Int("TicketExpiration", -1); secs > best {
			best = secs
		}
	}
	if best < minSecs {
		return Ticket{}, false, nil
	}
	return Ticket{Expires: m.now().Add(time.Duration(best) * time.Second)}, true, nil
}

// login makes sure user holds a valid ticket on server. A supplied password
// (or the cached digest) is tried first; after that the user is prompted
// until they succeed or give up.
func (m *Manager) login(ctx context.Context, server, user, password string, interactive bool) (Ticket, error) {
	client, _ := m.current()
	ticket, ok, err := m.ticketStatus(ctx, client)
	if err != nil {
		return Ticket{}, err
	}
	if ok {
		m.setState(LoggedIn)
		return ticket, nil
	}
	m.setState(LoginRequired)

	var (
		prevError string
		lastErr   error
		prompted  bool
		useDigest = password == "" && m.cachedDigest(user) != ""
	)
	for {
		if password != "" || useDigest {
			err := m.attemptLogin(ctx, password)
			useDigest = false
			password = ""
			if err == nil {
				metrics.RecordLoginAttempt(true)
				logging.Info("logged in to depot", zap.String("server", server), zap.String("user", user))
				m.setState(LoggedIn)
				return m.ticketAfterLogin(ctx), nil
			}
			if depot.IsTransport(err) {
				return Ticket{}, err
			}
			metrics.RecordLoginAttempt(false)
			logging.Warn("depot login failed",
				zap.String("server", server),
				zap.String("user", user),
				zap.String("reason", depot.ServerMessage(err)))
			lastErr = err
			if prompted {
				prevError = "Log-in failed: " + depot.ServerMessage(err)
			}
		}

		if !interactive {
			authErr := &AuthError{User: user, Server: server, Message: "password required", Err: ErrInteractionRequired}
			if lastErr != nil {
				authErr.Message = depot.ServerMessage(lastErr)
				authErr.Err = lastErr
			}
			return Ticket{}, authErr
		}

		pw, outcome, err := m.cfg.Prompter.AskPassword(ctx, PasswordRequest{
			Server:    server,
			User:      user,
			PrevError: prevError,
		})
		prompted = true
		if err != nil {
			return Ticket{}, &AuthError{User: user, Server: server, Message: err.Error(), Err: err}
		}
		switch outcome {
		case ShowDetails:
			return Ticket{}, errShowDetails
		case Cancelled:
			return Ticket{}, ErrCancelled
		}
		password = pw
		if password == "" {
			prevError = "Log-in failed: password is empty"
		}
	}
}

// attemptLogin runs one login. A non-empty password is fed on stdin and its
// digest cached for the rest of the session; otherwise the cached digest
// is used.
func (m *Manager) attemptLogin(ctx context.Context, password string) error {
	client, settings := m.current()
	if password == "" {
		_, err := client.Run(ctx, "login")
		return err
	}

	if _, err := client.RunInput(ctx, password+"\n", "login"); err != nil {
		return err
	}
	m.digest = depot.PasswordDigest(password)
	m.digestUser = settings.User
	settings.PasswordDigest = m.digest
	_, err := m.rebind(ctx, settings)
	return err
}

func (m *Manager) ticketAfterLogin(ctx context.Context) Ticket {
	client, _ := m.current()
	ticket, ok, err := m.ticketStatus(ctx, client)
	if err != nil || !ok {
		return Ticket{}
	}
	return ticket
}

// Login makes sure user is logged in on the current server, prompting when
// allowInteractive is set. It reports whether a valid ticket is held.
func (m *Manager) Login(ctx context.Context, user, password string, allowInteractive bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.commandClient(); err != nil {
		return false, err
	}
	if _, err := m.login(ctx, m.serverAddress(), user, password, allowInteractive && m.cfg.Prompter != nil); err != nil {
		return false, err
	}
	return true, nil
}
