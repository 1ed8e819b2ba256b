package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"vmtunnel/internal/core"
)

func NewRootCommand() *cobra.Command {
	var configPath string
	var verbose int

	homeDir, _ := os.UserHomeDir()

	rootCmd := &cobra.Command{
		Use:   "vmtunnel",
		Short: "vmtunnel - IAP tunnel manager for compute instances",
		Long: `vmtunnel opens forwarding tunnels to compute instances through the gcloud
IAP tunneling subprocess, and keeps track of them across shell restarts.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(verbose)

			cfg, err := core.LoadConfig(configPath)
			if err != nil {
				return err
			}
			core.Config = cfg
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(
		&configPath, "config-path", fmt.Sprintf("%s/%s", homeDir, core.BaseDirName),
		"config path",
	)
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "more output, repeat for even more")

	rootCmd.AddCommand(
		NewCreateCommand(),
		NewListCommand(),
		NewRemoveCommand(),
		NewWatchCommand(),
		NewVersionCommand(),
	)

	return rootCmd
}

// setupLogging installs a tint slog handler on stderr. Color is disabled when
// stderr is not a terminal so piped output stays clean.
func setupLogging(verbose int) {
	level := slog.LevelWarn
	switch {
	case verbose >= 2:
		level = slog.LevelDebug
	case verbose == 1:
		level = slog.LevelInfo
	}

	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
		NoColor:    !term.IsTerminal(int(os.Stderr.Fd())),
	})
	slog.SetDefault(slog.New(handler))
}
