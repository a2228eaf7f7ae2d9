package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/fruitsalade/depotsync/internal/progress"
	"github.com/fruitsalade/depotsync/internal/syncer"
)

var errTransfersFailed = errors.New("one or more transfers failed")

func newSyncCmd(get func() *app) *cobra.Command {
	var dryRun, showProgress bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Transfer every visible file the manifest entities need",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			ctx := cmd.Context()
			if err := a.gather(ctx); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if dryRun {
				a.printItems(out)
				a.printSummary(out)
				return nil
			}

			start := time.Now()
			a.model.Sync(ctx, a.orch, transferPrinter(out, showProgress))
			a.printSummary(out)
			fmt.Fprintf(out, "finished in %s\n", time.Since(start).Round(time.Millisecond))

			if a.model.Counts()[syncer.Failed] > 0 {
				return errTransfersFailed
			}
			return ctx.Err()
		},
	}
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "only list what would be transferred")
	cmd.Flags().BoolVar(&showProgress, "progress", false, "print transfer progress")
	return cmd
}

func transferPrinter(w io.Writer, showProgress bool) func(syncer.Event) {
	return func(ev syncer.Event) {
		switch e := ev.(type) {
		case syncer.TransferCompleted:
			if e.OK {
				fmt.Fprintf(w, "synced  %s#%d (%s)\n", e.Item.DepotPath, e.Item.Revision, e.Duration.Round(time.Millisecond))
			} else {
				fmt.Fprintf(w, "FAILED  %s: %v\n", e.Item.DepotPath, e.Err)
			}
		case syncer.ProgressEvent:
			if !showProgress || e.Progress.Done {
				return
			}
			fmt.Fprintf(w, "        %s %5.1f%% %s eta %s\n",
				e.Item.DepotPath, e.Progress.Percent,
				progress.HumanRate(e.Progress.Rate), e.Progress.ETA.Round(time.Second))
		}
	}
}
