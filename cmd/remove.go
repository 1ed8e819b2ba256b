package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"vmtunnel/internal/tunnel"
)

func NewRemoveCommand() *cobra.Command {
	var project, zone, instance string
	var id int
	var all bool

	removeCmd := &cobra.Command{
		Use:     "remove",
		Short:   "Tear down tunnels and their persisted records",
		Aliases: []string{"rm", "down", "stop"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, cleanup, err := newManager()
			if err != nil {
				return err
			}
			defer cleanup()

			errs := manager.Remove(tunnel.Selector{
				ID:       id,
				Project:  project,
				Zone:     zone,
				Instance: instance,
				All:      all,
			})
			for _, err := range errs {
				slog.Error(err.Error())
			}
			if len(errs) > 0 {
				return fmt.Errorf("%d tunnel(s) could not be fully removed", len(errs))
			}
			return nil
		},
	}

	removeCmd.Flags().IntVar(&id, "id", 0, "tunnel id to remove")
	removeCmd.Flags().StringVarP(&project, "project", "p", "", "remove tunnels to this project")
	removeCmd.Flags().StringVarP(&zone, "zone", "z", "", "remove tunnels to this zone")
	removeCmd.Flags().StringVar(&instance, "instance", "", "remove tunnels to this instance")
	removeCmd.Flags().BoolVar(&all, "all", false, "remove every known tunnel")

	return removeCmd
}
