package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fruitsalade/depotsync/internal/filter"
)

func newFilterCmd(get func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Show or change the persisted facet filters",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List facet values and whether they are shown",
		Long: `List the facet values known from the preference file. With --manifest the
entities are gathered first so every value present in the depot is listed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			if len(a.refs) > 0 {
				if err := a.gather(cmd.Context()); err != nil {
					return err
				}
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FACET\tVALUE\tSHOWN")
			for _, name := range filter.Names {
				for _, f := range a.index.Values(name) {
					fmt.Fprintf(tw, "%s\t%s\t%t\n", f.Name, f.Value, f.Visible)
				}
			}
			fmt.Fprintf(tw, "\nhide synced entities: %t\n", a.index.HideSynced())
			return tw.Flush()
		},
	}

	setVisible := func(visible bool) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a := get()
			facet, value := args[0], args[1]
			a.index.Discover(facet, value)
			return a.index.SetVisible(cmd.Context(), facet, value, visible)
		}
	}
	hide := &cobra.Command{
		Use:   "hide FACET VALUE",
		Short: "Hide files whose facet has VALUE (facets: step, type, ext)",
		Args:  cobra.ExactArgs(2),
		RunE:  setVisible(false),
	}
	show := &cobra.Command{
		Use:   "show FACET VALUE",
		Short: "Show files whose facet has VALUE again",
		Args:  cobra.ExactArgs(2),
		RunE:  setVisible(true),
	}
	hideSynced := &cobra.Command{
		Use:   "hide-synced true|false",
		Short: "Hide entities that are already synced from status output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.ParseBool(args[0])
			if err != nil {
				return fmt.Errorf("hide-synced: %w", err)
			}
			return get().index.SetHideSynced(cmd.Context(), v)
		},
	}

	cmd.AddCommand(list, hide, show, hideSynced)
	return cmd
}
