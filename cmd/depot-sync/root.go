package main

import (
	"os"

	"github.com/spf13/cobra"
)

type globalFlags struct {
	manifest    string
	project     string
	user        string
	headless    bool
	workers     int
	fake        bool
	events      bool
	metricsAddr string
}

func newRootCmd() *cobra.Command {
	root, _ := buildRootCmd()
	return root
}

// buildRootCmd also returns the getter for the app the commands share, so
// callers can inspect it after Execute returns.
func buildRootCmd() (*cobra.Command, func() *app) {
	g := &globalFlags{}
	var a *app

	root := &cobra.Command{
		Use:           "depot-sync",
		Short:         "Sync pipeline entities from the depot",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			a, err = newApp(cmd.Context(), g, cmd.OutOrStdout())
			return err
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&g.manifest, "manifest", "m", "", "YAML file listing the entities to sync")
	pf.StringVar(&g.project, "project", "", "pipeline project (overrides PIPELINE_PROJECT)")
	pf.StringVarP(&g.user, "user", "u", "", "depot user (overrides the pipeline identity)")
	pf.BoolVar(&g.headless, "headless", false, "never prompt; fail when input would be needed")
	pf.IntVarP(&g.workers, "workers", "w", 0, "worker pool size (default SYNC_WORKERS, at most 24)")
	pf.BoolVar(&g.fake, "fake", false, "run against an in-memory depot seeded from the manifest")
	pf.BoolVar(&g.events, "events", false, "stream sync events as JSON lines on stderr")
	pf.StringVar(&g.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")

	get := func() *app { return a }
	root.AddCommand(
		newConnectCmd(get),
		newStatusCmd(get),
		newSyncCmd(get),
		newFilterCmd(get),
		newReconcileCmd(get),
	)
	// cobra skips post-run hooks when RunE fails, so each command closes
	// the app itself.
	closeAfter(root, func() {
		if a != nil {
			a.Close()
		}
	})
	root.SetErr(os.Stderr)
	return root, get
}

func closeAfter(cmd *cobra.Command, closeApp func()) {
	if run := cmd.RunE; run != nil {
		cmd.RunE = func(cmd *cobra.Command, args []string) error {
			defer closeApp()
			return run(cmd, args)
		}
	}
	for _, sub := range cmd.Commands() {
		closeAfter(sub, closeApp)
	}
}
