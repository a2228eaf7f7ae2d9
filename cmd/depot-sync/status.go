package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fruitsalade/depotsync/internal/syncer"
)

func newStatusCmd(get func() *app) *cobra.Command {
	var files bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show which manifest entities need syncing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			if err := a.gather(cmd.Context()); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			a.printEntities(out)
			if files {
				a.printItems(out)
			}
			a.printSummary(out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&files, "files", false, "list every file that needs a transfer")
	return cmd
}

// gather connects and classifies the manifest entities into the model.
func (a *app) gather(ctx context.Context) error {
	refs, err := a.entities()
	if err != nil {
		return err
	}
	if _, err := a.connect(ctx); err != nil {
		return err
	}
	a.model.Gather(ctx, a.orch, refs)
	return nil
}

func (a *app) printEntities(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTITY\tSTATUS\tFILES\tROOT")
	hideSynced := a.index.HideSynced()
	for _, st := range a.model.Entities() {
		if hideSynced && st.Status == syncer.AlreadySynced {
			continue
		}
		status := st.Status.String()
		if st.Err != nil {
			status += ": " + st.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", st.Entity.Ref, status, st.Count, st.Entity.Root)
	}
	tw.Flush()
}

func (a *app) printItems(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nFILE\tREV\tSTEP\tTYPE\tSTATUS")
	for _, it := range a.model.Items() {
		status := it.Status.String()
		if !a.index.Visible(it.Tags) {
			status += " (hidden)"
		}
		fmt.Fprintf(tw, "%s\t#%d\t%s\t%s\t%s\n", it.DepotPath, it.Revision, it.Tags.Step, it.Tags.Type, status)
	}
	tw.Flush()
}

func (a *app) printSummary(w io.Writer) {
	counts := a.model.Counts()
	pending := a.model.ToSyncCount()
	hidden := counts[syncer.Ready] - pending
	fmt.Fprintf(w, "\n%d file(s) to sync", pending)
	if hidden > 0 {
		fmt.Fprintf(w, ", %d hidden by filters", hidden)
	}
	if n := counts[syncer.Synced]; n > 0 {
		fmt.Fprintf(w, ", %d synced", n)
	}
	if n := counts[syncer.Failed]; n > 0 {
		fmt.Fprintf(w, ", %d failed", n)
	}
	fmt.Fprintln(w)
}
