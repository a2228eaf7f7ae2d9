// depot-sync brings the depot files of pipeline entities into the local
// project tree.
//
// Commands:
//   - connect: resolve, trust, log in and bind the workspace
//   - status: classify entities and list the files that need a transfer
//   - sync: transfer every visible pending file
//   - filter: show or change the persisted facet filters
//   - reconcile: compare a local tree with the depot, optionally submit
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fruitsalade/depotsync/internal/connection"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, connection.ErrCancelled):
		return 130
	case errors.Is(err, connection.ErrInteractionRequired):
		return 3
	case errors.Is(err, errTransfersFailed):
		return 2
	}
	return 1
}
