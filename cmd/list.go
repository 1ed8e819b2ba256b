package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"vmtunnel/internal/tunnel"
)

func NewListCommand() *cobra.Command {
	var project, zone, instance, status string
	var id int

	listCmd := &cobra.Command{
		Use:     "list",
		Short:   "Shows all currently known tunnels",
		Aliases: []string{"ls", "status"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, cleanup, err := newManager()
			if err != nil {
				return err
			}
			defer cleanup()

			records := manager.List(tunnel.Filter{
				ID:       id,
				Project:  project,
				Zone:     zone,
				Instance: instance,
				Status:   tunnel.Status(status),
			})

			infos := make([]tunnel.Info, 0, len(records))
			for _, rec := range records {
				infos = append(infos, rec.Info())
			}

			format, _ := cmd.Flags().GetString("format")
			switch format {
			case "text":
				if len(infos) == 0 {
					fmt.Println("No tunnels found.")
					return nil
				}
				fmt.Println("Tunnels:")
				for _, info := range infos {
					fmt.Println(formatTunnelLine(info))
				}
			case "json":
				jsonBytes, _ := json.Marshal(infos)
				fmt.Println(string(jsonBytes))
			default:
				slog.Error("unknown format")
				os.Exit(1)
			}
			return nil
		},
	}

	listCmd.Flags().StringP("format", "F", "text", "Format to use (text/json)")
	listCmd.Flags().StringVarP(&project, "project", "p", "", "only tunnels to this project")
	listCmd.Flags().StringVarP(&zone, "zone", "z", "", "only tunnels to this zone")
	listCmd.Flags().StringVar(&instance, "instance", "", "only tunnels to this instance")
	listCmd.Flags().StringVar(&status, "status", "", "only tunnels with this status (active/stopped/error)")
	listCmd.Flags().IntVar(&id, "id", 0, "only the tunnel with this id")

	return listCmd
}

func formatTunnelLine(info tunnel.Info) string {
	age := ""
	if created, err := time.Parse(time.RFC3339, info.Created); err == nil {
		age = fmt.Sprintf(", Age: %s", time.Since(created).Round(time.Second))
	}
	return fmt.Sprintf("  - %s/%s/%s localhost:%d -> :%d (PID: %d, %s%s)",
		info.Project, info.Zone, info.Instance,
		info.LocalPort, info.RemotePort, info.ID, info.Status, age)
}
