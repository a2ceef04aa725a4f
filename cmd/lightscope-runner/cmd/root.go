package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/thelightscope/lightscope-updater/internal/config"
	"github.com/thelightscope/lightscope-updater/internal/service/runner"
	"github.com/thelightscope/lightscope-updater/internal/version"
)

var (
	// configPath stores the path to the configuration YAML file.
	configPath string
	// pollInterval overrides the configured update poll interval.
	pollInterval time.Duration
	// noUpdates supervises the core without ever self-updating.
	noUpdates bool

	// rootCmd represents the base command for the long-running runner.
	rootCmd = &cobra.Command{
		Use:   "lightscope-runner",
		Short: "Supervise the LightScope core and poll for signed updates",
		Long: `Long-running agent-side daemon.

Keeps the monitored core process alive, touches a heartbeat file for external
liveness checks, and periodically runs a full update cycle: manifest fetch,
version comparison, download, hash and signature verification, backup, atomic
swap and core restart. Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &runner.Options{
				ConfigPath:   configPath,
				PollInterval: pollInterval,
				NoUpdates:    noUpdates,
			}

			return runner.Run(ctx, options)
		},
	}
)

// Execute runs the lightscope-runner CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().DurationVar(&pollInterval, "poll-interval", 0, "override the update poll interval from the config")
	rootCmd.Flags().BoolVar(&noUpdates, "no-updates", false, "supervise the core without self-updating")
}
