// Package depot is the command boundary to a Perforce-style depot server.
//
// Commands go through Client.Run and come back as tagged records. The wire
// protocol is never spoken directly; ExecClient drives the p4 command line
// client in tagged mode and tests use the in-memory server in depottest.
package depot

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// messageKey holds the text of an informational record. Tagged fields never
// start with an underscore, so it cannot collide.
const messageKey = "_message"

// Record is one result of a depot command: either a set of tagged fields
// or a single informational message.
type Record map[string]string

// MessageRecord builds an informational record.
func MessageRecord(text string) Record {
	return Record{messageKey: text}
}

// Message returns the informational text of r, if r is a message record.
func (r Record) Message() (string, bool) {
	if len(r) != 1 {
		return "", false
	}
	msg, ok := r[messageKey]
	return msg, ok
}

// IsMessage reports whether r is informational text rather than tagged data.
func (r Record) IsMessage() bool {
	_, ok := r.Message()
	return ok
}

// Int returns a numeric field, or fallback when missing or malformed.
func (r Record) Int(key string, fallback int64) int64 {
	v, ok := r[key]
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

// List gathers an indexed field (View0, View1, ...) in index order.
func (r Record) List(key string) []string {
	type entry struct {
		idx int
		val string
	}
	var entries []entry
	for k, v := range r {
		if !strings.HasPrefix(k, key) {
			continue
		}
		idx, err := strconv.Atoi(k[len(key):])
		if err != nil {
			continue
		}
		entries = append(entries, entry{idx, v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].idx < entries[j].idx })

	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.val
	}
	return out
}

// Messages returns the informational records of recs in order.
func Messages(recs []Record) []string {
	var out []string
	for _, r := range recs {
		if msg, ok := r.Message(); ok {
			out = append(out, msg)
		}
	}
	return out
}

// Tagged returns only the tagged-data records of recs.
func Tagged(recs []Record) []Record {
	out := make([]Record, 0, len(recs))
	for _, r := range recs {
		if !r.IsMessage() {
			out = append(out, r)
		}
	}
	return out
}

// Client runs depot commands against one logical connection. Implementations
// must be safe for concurrent use.
type Client interface {
	Run(ctx context.Context, cmd string, args ...string) ([]Record, error)

	// RunInput feeds input (a spec form or password) to the command's stdin.
	RunInput(ctx context.Context, input string, cmd string, args ...string) ([]Record, error)
}

// Progress receives transfer callbacks while a long command runs. The order
// is Init, SetDescription, any number of SetTotal/Update, then Done.
type Progress interface {
	Init(kind string)
	SetDescription(desc, unit string)
	SetTotal(total int64)
	Update(position int64)
	Done(failed bool)
}

// ProgressClient is implemented by clients that can report transfer progress.
type ProgressClient interface {
	Client
	RunWithProgress(ctx context.Context, p Progress, cmd string, args ...string) ([]Record, error)
}

// Settings identify the server, user and workspace a client talks as.
type Settings struct {
	Port      string
	User      string
	Workspace string
	Host      string

	// PasswordDigest is the upper-case MD5 hex of the password, handed to
	// the command line client as P4PASSWD. Never logged.
	PasswordDigest string
}

// Connector opens clients. Connect verifies the server is reachable and
// returns a TransportError when it is not.
type Connector interface {
	Connect(ctx context.Context, s Settings) (Client, error)
}

// Binder is implemented by clients that can be re-bound to new settings
// without dialling the server again.
type Binder interface {
	Bind(s Settings) Client
}

// PasswordDigest returns the upper-case MD5 hex of password, the form the
// server accepts as P4PASSWD.
func PasswordDigest(password string) string {
	sum := md5.Sum([]byte(password))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}
