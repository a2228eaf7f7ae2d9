package depottest

import (
	"context"
	"testing"

	"github.com/fruitsalade/depotsync/internal/depot"
)

func TestPathArgumentsRecurseOnlyWithWildcard(t *testing.T) {
	ctx := context.Background()
	srv := New()
	srv.AddClient("ws", "alice", "/work", "", "//demo/... //ws/...")
	srv.AddFile("//demo/assets/hero/hero.ma", "/work/assets/hero/hero.ma", 2, 100)
	srv.AddFile("//demo/assets/hero/rig/hero.mb", "/work/assets/hero/rig/hero.mb", 1, 100)
	srv.AddFile("//demo/assets/heron/heron.ma", "/work/assets/heron/heron.ma", 1, 100)

	c, err := srv.Connect(ctx, depot.Settings{Port: "tcp:depot:1666", User: "alice", Workspace: "ws"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	tests := []struct {
		arg  string
		want int
	}{
		{"/work/assets/hero#head", 0},
		{"/work/assets/hero/...#head", 2},
		{"//demo/assets/hero/...", 2},
		{"/work/assets/hero/hero.ma#head", 1},
		{"//demo/assets/hero/rig/hero.mb", 1},
		{"//demo/...", 3},
	}
	for _, tt := range tests {
		recs, err := c.Run(ctx, "sync", "-n", tt.arg)
		if err != nil {
			t.Fatalf("sync -n %s: %v", tt.arg, err)
		}
		if got := len(depot.Tagged(recs)); got != tt.want {
			t.Errorf("sync -n %s: %d files, want %d", tt.arg, got, tt.want)
		}
	}

	if _, err := c.Run(ctx, "fstat", "//demo/assets/hero"); err == nil {
		t.Error("fstat of a bare directory matched files")
	}
}
