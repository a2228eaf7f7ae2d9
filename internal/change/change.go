// Package change creates, fills and submits numbered changelists.
package change

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/fruitsalade/depotsync/internal/depot"
	"github.com/fruitsalade/depotsync/internal/logging"
)

// ErrNoChange is returned when the server did not report a new change.
var ErrNoChange = errors.New("change: server did not create a change")

var createdRe = regexp.MustCompile(`^Change (\d+) created`)

// Create opens a new, empty pending changelist and returns its number.
func Create(ctx context.Context, client depot.Client, description string) (string, error) {
	form, err := client.Run(ctx, "change", "-o")
	if err != nil {
		return "", fmt.Errorf("change: fetch form: %w", err)
	}
	specs := depot.Tagged(form)
	if len(specs) == 0 {
		return "", fmt.Errorf("change: fetch form: empty spec")
	}
	spec := specs[0]
	spec["Description"] = description
	// the form lists the whole default changelist
	for k := range spec {
		if strings.HasPrefix(k, "Files") {
			delete(spec, k)
		}
	}

	recs, err := client.RunInput(ctx, depot.FormatSpec(spec), "change", "-i")
	if err != nil {
		return "", fmt.Errorf("change: save: %w", err)
	}
	for _, msg := range depot.Messages(recs) {
		if m := createdRe.FindStringSubmatch(msg); m != nil {
			logging.WithContext(ctx).Info("change created", zap.String("change", m[1]))
			return m[1], nil
		}
	}
	return "", fmt.Errorf("%w: %v", ErrNoChange, depot.Messages(recs))
}

// Reopen moves opened files into change. paths may be local or depot
// paths. dryRun previews the move.
func Reopen(ctx context.Context, client depot.Client, change string, paths []string, dryRun bool) ([]depot.Record, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	args := []string{"-c", change}
	if dryRun {
		args = append(args, "-n")
	}
	args = append(args, paths...)
	recs, err := client.Run(ctx, "reopen", args...)
	if err != nil {
		return nil, fmt.Errorf("change: reopen into %s: %w", change, err)
	}
	return depot.Tagged(recs), nil
}

// FindContaining returns the change path is opened in, or "" when it is
// not opened.
func FindContaining(ctx context.Context, client depot.Client, path string) (string, error) {
	recs, err := client.Run(ctx, "fstat", path)
	if err != nil {
		return "", fmt.Errorf("change: stat %s: %w", path, err)
	}
	files := depot.Tagged(recs)
	if len(files) == 0 {
		return "", nil
	}
	return files[0]["change"], nil
}

// SubmitResult is what a submit reported.
type SubmitResult struct {
	Change string
	// Submitted is the final change number; empty for a dry run.
	Submitted string
	Files     []depot.Record
}

// Submit submits change. dryRun reports what would be submitted.
func Submit(ctx context.Context, client depot.Client, change string, dryRun bool) (*SubmitResult, error) {
	form, err := client.Run(ctx, "change", "-o", change)
	if err != nil {
		return nil, fmt.Errorf("change: fetch %s: %w", change, err)
	}
	specs := depot.Tagged(form)
	if len(specs) == 0 {
		return nil, fmt.Errorf("change: fetch %s: empty spec", change)
	}

	args := []string{"-i"}
	if dryRun {
		args = append([]string{"-n"}, args...)
	}
	recs, err := client.RunInput(ctx, depot.FormatSpec(specs[0]), "submit", args...)
	if err != nil {
		return nil, fmt.Errorf("change: submit %s: %w", change, err)
	}

	res := &SubmitResult{Change: change}
	for _, r := range depot.Tagged(recs) {
		switch {
		case r["submittedChange"] != "":
			res.Submitted = r["submittedChange"]
		case r["depotFile"] != "":
			res.Files = append(res.Files, r)
		}
	}
	logging.WithContext(ctx).Debug("submit finished",
		zap.String("change", change),
		zap.Bool("dry_run", dryRun),
		zap.Int("files", len(res.Files)),
	)
	return res, nil
}

// Describe returns the details of each change. Unknown changes map to nil.
func Describe(ctx context.Context, client depot.Client, ids []string) (map[string]depot.Record, error) {
	out := make(map[string]depot.Record, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	recs, err := client.Run(ctx, "describe", append([]string{"-s"}, ids...)...)
	if err != nil {
		return nil, fmt.Errorf("change: describe: %w", err)
	}
	found := make(map[string]depot.Record)
	for _, r := range depot.Tagged(recs) {
		if id := r["change"]; id != "" {
			found[id] = r
		}
	}
	for _, id := range ids {
		out[id] = found[id]
	}
	return out, nil
}
