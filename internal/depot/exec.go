package depot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/depotsync/internal/logging"
	"github.com/fruitsalade/depotsync/internal/metrics"
)

// Warnings the command line client prints for paths with nothing in the
// depot. They carry no records, the same as an empty result.
var emptyResultWarnings = []string{
	"no such file(s)",
	"file(s) not in client view",
	"not in client view",
}

// ExecConnector opens ExecClients for the p4 binary at Bin.
type ExecConnector struct {
	Bin string
}

// Connect checks the server answers `info` and returns a client bound to s.
// Any reply from the server counts; trust and login are checked later.
func (c ExecConnector) Connect(ctx context.Context, s Settings) (Client, error) {
	client := NewExecClient(c.Bin, s)
	if _, err := client.Run(ctx, "info"); err != nil && IsTransport(err) {
		return nil, err
	}
	return client, nil
}

// ExecClient runs the p4 command line client in tagged mode. Each command is
// a separate process, so concurrent use is safe.
type ExecClient struct {
	bin      string
	settings Settings
}

// NewExecClient returns a client for bin bound to s.
func NewExecClient(bin string, s Settings) *ExecClient {
	if bin == "" {
		bin = "p4"
	}
	return &ExecClient{bin: bin, settings: s}
}

// Bind implements Binder.
func (c *ExecClient) Bind(s Settings) Client {
	return NewExecClient(c.bin, s)
}

// Settings returns the connection settings of the client.
func (c *ExecClient) Settings() Settings {
	return c.settings
}

func (c *ExecClient) globalArgs() []string {
	args := []string{"-ztag"}
	if c.settings.Port != "" {
		args = append(args, "-p", c.settings.Port)
	}
	if c.settings.User != "" {
		args = append(args, "-u", c.settings.User)
	}
	if c.settings.Workspace != "" {
		args = append(args, "-c", c.settings.Workspace)
	}
	if c.settings.Host != "" {
		args = append(args, "-H", c.settings.Host)
	}
	return args
}

func (c *ExecClient) command(ctx context.Context, cmd string, args []string) *exec.Cmd {
	full := append(c.globalArgs(), cmd)
	full = append(full, args...)
	ec := exec.CommandContext(ctx, c.bin, full...)
	ec.Env = os.Environ()
	if c.settings.PasswordDigest != "" {
		ec.Env = append(ec.Env, "P4PASSWD="+c.settings.PasswordDigest)
	}
	return ec
}

// Run executes cmd and returns its records.
func (c *ExecClient) Run(ctx context.Context, cmd string, args ...string) ([]Record, error) {
	return c.run(ctx, nil, "", cmd, args)
}

// RunInput executes cmd with input on stdin.
func (c *ExecClient) RunInput(ctx context.Context, input string, cmd string, args ...string) ([]Record, error) {
	return c.run(ctx, nil, input, cmd, args)
}

// RunWithProgress executes cmd and reports transfer progress to p from the
// fileSize/totalFileSize fields of each record as it arrives.
func (c *ExecClient) RunWithProgress(ctx context.Context, p Progress, cmd string, args ...string) ([]Record, error) {
	return c.run(ctx, p, "", cmd, args)
}

func (c *ExecClient) run(ctx context.Context, p Progress, input, cmd string, args []string) ([]Record, error) {
	start := time.Now()
	defer func() { metrics.RecordCommand(cmd, time.Since(start)) }()

	ec := c.command(ctx, cmd, args)
	if input != "" {
		ec.Stdin = strings.NewReader(input)
	}
	var stderr bytes.Buffer
	ec.Stderr = &stderr

	stdout, err := ec.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("depot: %s: %w", cmd, err)
	}

	logging.Debug("depot command",
		zap.String("cmd", cmd),
		zap.Strings("args", args),
		zap.String("port", c.settings.Port),
		zap.String("workspace", c.settings.Workspace),
	)

	if err := ec.Start(); err != nil {
		return nil, &TransportError{Server: c.settings.Port, Err: err}
	}

	var recs []Record
	var sent int64
	if p != nil {
		p.Init(cmd)
		p.SetDescription(strings.Join(args, " "), "bytes")
	}
	readErr := readTagged(stdout, func(r Record) {
		recs = append(recs, r)
		if p == nil || r.IsMessage() {
			return
		}
		if total := r.Int("totalFileSize", -1); total >= 0 {
			p.SetTotal(total)
		}
		if size := r.Int("fileSize", -1); size > 0 {
			sent += size
			p.Update(sent)
			metrics.AddTransferBytes(size)
		}
	})
	if readErr != nil {
		_, _ = io.Copy(io.Discard, stdout)
	}
	waitErr := ec.Wait()

	recs, err = c.classify(cmd, recs, stderr.String(), waitErr)
	if p != nil {
		p.Done(err != nil)
	}
	return recs, err
}

func (c *ExecClient) classify(cmd string, recs []Record, stderr string, waitErr error) ([]Record, error) {
	text := strings.TrimSpace(stderr)

	if waitErr != nil {
		if looksLikeTransport(text) {
			metrics.RecordCommandError(cmd, "transport")
			return recs, &TransportError{Server: c.settings.Port, Err: errors.New(text)}
		}
		if text == "" {
			text = waitErr.Error()
		}
		metrics.RecordCommandError(cmd, "command")
		return recs, &CommandError{Command: cmd, Message: text}
	}

	// Warnings on a successful exit are informational records.
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isEmptyResultWarning(line) {
			continue
		}
		recs = append(recs, MessageRecord(line))
	}
	return recs, nil
}

func isEmptyResultWarning(line string) bool {
	for _, w := range emptyResultWarnings {
		if strings.HasSuffix(strings.TrimSuffix(line, "."), w) {
			return true
		}
	}
	return false
}
