package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newConnectCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Connect to the project's depot and bind the workspace",
		Long: `Resolve the depot server for the project, establish trust, log in and
bind (creating it from the project template if needed) the per-user
workspace sgtk_<project>_<user>_<host>.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			conn, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "server:    %s\n", conn.Server)
			fmt.Fprintf(out, "user:      %s\n", conn.User)
			fmt.Fprintf(out, "workspace: %s\n", conn.Workspace.Name)
			fmt.Fprintf(out, "root:      %s\n", conn.Workspace.Root)
			if conn.Trust.Fingerprint != "" {
				fmt.Fprintf(out, "trust:     %s\n", conn.Trust.Fingerprint)
			}
			if !conn.Ticket.Expires.IsZero() {
				fmt.Fprintf(out, "ticket:    expires in %s\n", time.Until(conn.Ticket.Expires).Round(time.Minute))
			}
			return nil
		},
	}
}
