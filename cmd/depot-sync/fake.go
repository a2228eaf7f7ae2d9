package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/depotsync/internal/config"
	"github.com/fruitsalade/depotsync/internal/depot/depottest"
	"github.com/fruitsalade/depotsync/internal/logging"
	"github.com/fruitsalade/depotsync/internal/pipeline"
)

const fakePort = "tcp:fake-depot:1666"

// fakeFiles is the layout seeded under every manifest entity.
var fakeFiles = []struct {
	dir  string
	ext  string
	size int64
}{
	{"model", "ma", 2 << 20},
	{"rig", "mb", 6 << 20},
	{"fx", "abc", 48 << 20},
	{"textures", "exr", 12 << 20},
}

// seedFakeDepot builds an in-memory depot holding the project master
// workspace and a few files for each entity, none of them synced yet.
func seedFakeDepot(ctx context.Context, cfg *config.Config, user string, refs []pipeline.EntityRef, resolver pipeline.Resolver) (*depottest.Server, error) {
	srv := depottest.New()
	srv.Latency = 20 * time.Millisecond

	if err := srv.AddUser(user, "fake"); err != nil {
		return nil, err
	}
	srv.SetTicket(user, srv.TicketLifetime)

	depotRoot := "//" + cfg.Project
	master := "sgtk_" + cfg.Project + "_master"
	srv.AddClient(master, "admin", filepath.Dir(cfg.ProjectRoot), "",
		depotRoot+"/... //"+master+"/"+filepath.Base(cfg.ProjectRoot)+"/...")

	n := 0
	for _, ref := range refs {
		root, err := resolver.ResolveRoot(ctx, ref)
		if err != nil {
			// left unseeded; status reports the same error
			continue
		}
		rel, err := filepath.Rel(cfg.ProjectRoot, root)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		for i, f := range fakeFiles {
			name := fmt.Sprintf("%s_%s.%s", ref.Name(), f.dir, f.ext)
			local := filepath.Join(root, f.dir, name)
			depotPath := depotRoot + "/" + filepath.ToSlash(filepath.Join(rel, f.dir, name))
			srv.AddFile(depotPath, local, i+1, f.size)
			n++
		}
	}
	logging.Info("fake depot seeded", zap.Int("files", n), zap.String("workspace_template", master))
	return srv, nil
}
