package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"vmtunnel/internal/tunnel"
)

func NewWatchCommand() *cobra.Command {
	var reapInterval time.Duration

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the tunnel registry reconciled until interrupted",
		Long: `Watch the tunnel state directory and reconcile the registry whenever record
files change on disk, pruning records whose processes have died. Also runs a
periodic reaper pass in case no filesystem event fires.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, cleanup, err := newManager()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return manager.Watch(ctx, reapInterval)
		},
	}

	watchCmd.Flags().DurationVar(&reapInterval, "reap-interval", tunnel.DefaultReapInterval,
		"how often to run a full reconcile pass")

	return watchCmd
}
