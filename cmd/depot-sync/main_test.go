package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fruitsalade/depotsync/internal/syncer"
)

const testManifest = `entities:
  - type: Asset
    id: 1
    code: hero
  - type: Asset
    id: 2
    code: chair
`

func TestParseManifest(t *testing.T) {
	refs, err := parseManifest([]byte(testManifest))
	if err != nil {
		t.Fatalf("parseManifest: %v", err)
	}
	if len(refs) != 2 || refs[0].Code != "hero" || refs[1].ID != 2 {
		t.Errorf("refs = %+v", refs)
	}

	bad := []string{
		"entities:\n  - id: 3\n",
		"entities:\n  - type: Shot\n",
		"entities:\n  - type: Shot\n    colour: red\n",
		"entities: [",
	}
	for _, in := range bad {
		if _, err := parseManifest([]byte(in)); err == nil {
			t.Errorf("parseManifest(%q) succeeded", in)
		}
	}

	if refs, err := parseManifest(nil); err != nil || len(refs) != 0 {
		t.Errorf("empty manifest = %v, %v", refs, err)
	}
}

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "projects", "demo")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	manifest := filepath.Join(dir, "entities.yaml")
	if err := os.WriteFile(manifest, []byte(testManifest), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PIPELINE_PROJECT", "demo")
	t.Setenv("PIPELINE_PROJECT_ROOT", root)
	t.Setenv("PIPELINE_USER", "alice")
	t.Setenv("DEPOT_HOST", "ws01")
	t.Setenv("PREFS_PATH", filepath.Join(dir, ".p4syncpref"))
	t.Setenv("LOG_FILE", filepath.Join(dir, "depot-sync.log"))
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("SYNC_WORKERS", "4")
	t.Setenv("METADATA_DATABASE_URL", "")
	t.Setenv("PREFS_S3_BUCKET", "")
	return manifest
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestFakeSync(t *testing.T) {
	manifest := setupEnv(t)

	out, err := run(t, "--fake", "--headless", "-m", manifest, "status")
	if err != nil {
		t.Fatalf("status: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Asset:hero") || !strings.Contains(out, "needs_sync") {
		t.Errorf("status output:\n%s", out)
	}
	if !strings.Contains(out, "8 file(s) to sync") {
		t.Errorf("status summary:\n%s", out)
	}

	if out, err := run(t, "--headless", "filter", "hide", "ext", "abc"); err != nil {
		t.Fatalf("filter hide: %v\n%s", err, out)
	}

	out, err = run(t, "--fake", "--headless", "-m", manifest, "sync")
	if err != nil {
		t.Fatalf("sync: %v\n%s", err, out)
	}
	if !strings.Contains(out, "0 file(s) to sync, 2 hidden by filters, 6 synced") {
		t.Errorf("sync output:\n%s", out)
	}
	if strings.Contains(out, ".abc#") {
		t.Errorf("hidden files transferred:\n%s", out)
	}

	out, err = run(t, "--headless", "filter", "list")
	if err != nil {
		t.Fatalf("filter list: %v", err)
	}
	if !strings.Contains(out, "abc") || !strings.Contains(out, "false") {
		t.Errorf("filter list:\n%s", out)
	}
}

func TestStatusNeedsManifest(t *testing.T) {
	setupEnv(t)
	cmd, get := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--fake", "--headless", "status"})
	if err := cmd.Execute(); err != errNoManifest {
		t.Fatalf("err = %v, want errNoManifest", err)
	}

	a := get()
	if a == nil {
		t.Fatal("app was not built")
	}
	if a.closers != nil {
		t.Error("app not closed after a failing command")
	}
	err := a.pool.Submit(context.Background(), func() {})
	if !errors.Is(err, syncer.ErrPoolStopped) {
		t.Errorf("Submit after failed command = %v, want ErrPoolStopped", err)
	}
}
