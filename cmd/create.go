package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"vmtunnel/internal/core"
	"vmtunnel/internal/tunnel"
)

func NewCreateCommand() *cobra.Command {
	var project, zone string
	var localPort, remotePort int
	var timeout time.Duration
	var showWindow bool

	createCmd := &cobra.Command{
		Use:   "create <instance>",
		Short: "Open a forwarding tunnel to an instance",
		Long: `Open a forwarding tunnel to an instance and print its local endpoint.

If an active tunnel to the same instance already exists it is reused instead
of spawning a second one.`,
		Aliases: []string{"connect", "up"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, cleanup, err := newManager()
			if err != nil {
				return err
			}
			defer cleanup()

			opts := tunnel.CreateOptions{
				Target: tunnel.Target{
					Project:  project,
					Zone:     zone,
					Instance: args[0],
				},
				LocalPort:  localPort,
				RemotePort: remotePort,
				Timeout:    timeout,
				ShowWindow: showWindow,
			}
			if opts.RemotePort == 0 {
				opts.RemotePort = core.Config.Defaults.RemotePort
			}
			if opts.Timeout == 0 {
				opts.Timeout = core.Config.Defaults.Timeout
			}
			if !cmd.Flags().Changed("show-window") {
				opts.ShowWindow = core.Config.Defaults.ShowWindow
			}

			rec, err := manager.Create(opts)
			if err != nil {
				return err
			}

			fmt.Printf("Tunnel ready on localhost:%d -> %s:%d (PID %d)\n",
				rec.LocalPort, rec.Target.Instance, rec.RemotePort, rec.ID)
			return nil
		},
	}

	createCmd.Flags().StringVarP(&project, "project", "p", "", "project of the instance (required)")
	createCmd.Flags().StringVarP(&zone, "zone", "z", "", "zone of the instance (required)")
	createCmd.Flags().IntVarP(&localPort, "local-port", "l", 0, "local port to bind (0 picks a free port)")
	createCmd.Flags().IntVarP(&remotePort, "remote-port", "r", 0, "remote port to forward to")
	createCmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "how long to wait for the tunnel to become ready")
	createCmd.Flags().BoolVar(&showWindow, "show-window", false, "run the tunnel with a visible console for debugging")
	createCmd.MarkFlagRequired("project")
	createCmd.MarkFlagRequired("zone")

	return createCmd
}
