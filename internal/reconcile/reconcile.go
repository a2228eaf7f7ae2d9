// Package reconcile compares a local tree with the depot: files opened in
// the workspace plus what `reconcile -n` would add, edit, delete or move.
package reconcile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/fruitsalade/depotsync/internal/depot"
	"github.com/fruitsalade/depotsync/internal/logging"
)

// Action is the bucket a scanned file falls into.
type Action int

const (
	Add Action = iota
	Edit
	Delete
	Move
	Open
)

// Actions lists every bucket in display order.
var Actions = []Action{Add, Edit, Delete, Move, Open}

func (a Action) String() string {
	switch a {
	case Add:
		return "add"
	case Edit:
		return "edit"
	case Delete:
		return "delete"
	case Move:
		return "move"
	case Open:
		return "open"
	}
	return "unknown"
}

// ParseAction maps a depot action such as "move/add" onto its bucket.
func ParseAction(s string) (Action, bool) {
	head, _, _ := strings.Cut(s, "/")
	for _, a := range Actions {
		if a.String() == head {
			return a, true
		}
	}
	return 0, false
}

// Result holds the records of one scan, bucketed by action.
type Result struct {
	Workspace string
	Root      string
	buckets   map[Action][]depot.Record
}

func newResult(workspace, root string) *Result {
	return &Result{Workspace: workspace, Root: root, buckets: make(map[Action][]depot.Record)}
}

// Records returns the raw records for a.
func (r *Result) Records(a Action) []depot.Record {
	return r.buckets[a]
}

// Files returns the local paths for a.
func (r *Result) Files(a Action) []string {
	recs := r.buckets[a]
	out := make([]string, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec["clientFile"])
	}
	return out
}

// Len is the number of records across all buckets.
func (r *Result) Len() int {
	n := 0
	for _, recs := range r.buckets {
		n += len(recs)
	}
	return n
}

// Scan reports the state of root. When change is set, opened files are
// limited to that changelist; otherwise to files under root. Only files
// opened in the current workspace are kept, with their client paths mapped
// to local paths.
func Scan(ctx context.Context, client depot.Client, root, change string) (*Result, error) {
	spec, err := client.Run(ctx, "client", "-o")
	if err != nil {
		return nil, fmt.Errorf("reconcile: read workspace: %w", err)
	}
	files := depot.Tagged(spec)
	if len(files) == 0 {
		return nil, fmt.Errorf("reconcile: read workspace: empty spec")
	}
	workspace, wsRoot := files[0]["Client"], files[0]["Root"]
	res := newResult(workspace, root)
	log := logging.WithContext(ctx).With(zap.String("workspace", workspace), zap.String("root", root))
	log.Debug("reconcile scan started")

	dir := isDir(root)
	var openedArgs []string
	switch {
	case change != "":
		openedArgs = []string{"-c", change}
	case root == "":
		openedArgs = nil
	case dir:
		openedArgs = []string{filepath.Join(root, "...")}
	default:
		openedArgs = []string{filepath.Join(filepath.Dir(root), "...")}
	}
	opened, err := client.Run(ctx, "opened", openedArgs...)
	if err != nil {
		return nil, fmt.Errorf("reconcile: opened files: %w", err)
	}
	prefix := "//" + workspace + "/"
	for _, rec := range depot.Tagged(opened) {
		if rec["client"] != workspace {
			continue
		}
		if cf := rec["clientFile"]; strings.HasPrefix(cf, prefix) {
			rec["clientFile"] = filepath.Join(wsRoot, filepath.FromSlash(strings.TrimPrefix(cf, prefix)))
		}
		res.buckets[Open] = append(res.buckets[Open], rec)
	}

	if root == "" {
		return res, nil
	}
	target := root
	if dir {
		target = filepath.Join(root, "...")
	}
	recs, err := client.Run(ctx, "reconcile", "-m", "-n", target)
	if err != nil {
		return nil, fmt.Errorf("reconcile: scan %s: %w", root, err)
	}
	for _, rec := range depot.Tagged(recs) {
		a, ok := ParseAction(rec["action"])
		if !ok {
			log.Debug("reconcile record without known action", zap.String("action", rec["action"]))
			continue
		}
		res.buckets[a] = append(res.buckets[a], rec)
	}
	log.Debug("reconcile scan finished", zap.Int("records", res.Len()))
	return res, nil
}

func isDir(path string) bool {
	if path == "" {
		return false
	}
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
