package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fruitsalade/depotsync/internal/change"
	"github.com/fruitsalade/depotsync/internal/reconcile"
)

func newReconcileCmd(get func() *app) *cobra.Command {
	var changeID, submit string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "reconcile [PATH]",
		Short: "Compare a local tree with the depot",
		Long: `List the files opened in the workspace and the files reconcile would add,
edit, delete or move under PATH (default: the project root).

With --submit the opened files are moved into a new changelist with the
given description and submitted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			ctx := cmd.Context()
			root := a.cfg.ProjectRoot
			if len(args) == 1 {
				abs, err := filepath.Abs(args[0])
				if err != nil {
					return err
				}
				root = abs
			}
			if changeID != "" && len(args) == 0 {
				root = ""
			}

			if _, err := a.connect(ctx); err != nil {
				return err
			}
			client, err := a.manager.Client()
			if err != nil {
				return err
			}

			res, err := reconcile.Scan(ctx, client, root, changeID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, act := range reconcile.Actions {
				files := res.Files(act)
				if len(files) == 0 {
					continue
				}
				fmt.Fprintf(out, "%s (%d)\n", act, len(files))
				for _, f := range files {
					fmt.Fprintf(out, "  %s\n", f)
				}
			}
			if res.Len() == 0 {
				fmt.Fprintln(out, "nothing to reconcile")
			}

			if submit == "" {
				return nil
			}
			opened := res.Files(reconcile.Open)
			if len(opened) == 0 {
				return fmt.Errorf("submit: no opened files")
			}
			id := changeID
			if id == "" {
				if dryRun {
					fmt.Fprintf(out, "a new change would submit %d file(s)\n", len(opened))
					return nil
				}
				if id, err = change.Create(ctx, client, submit); err != nil {
					return err
				}
				if _, err := change.Reopen(ctx, client, id, opened, false); err != nil {
					return err
				}
			}
			sub, err := change.Submit(ctx, client, id, dryRun)
			if err != nil {
				return err
			}
			if dryRun {
				fmt.Fprintf(out, "change %s would submit %d file(s)\n", id, len(sub.Files))
				return nil
			}
			details, err := change.Describe(ctx, client, []string{sub.Submitted})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "submitted change %s (%d file(s)) by %s\n", sub.Submitted, len(sub.Files), details[sub.Submitted]["user"])
			return nil
		},
	}
	cmd.Flags().StringVarP(&changeID, "change", "c", "", "limit opened files to this changelist")
	cmd.Flags().StringVar(&submit, "submit", "", "submit the opened files with this description")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "preview the submit")
	return cmd
}
