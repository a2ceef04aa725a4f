package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/thelightscope/lightscope-updater/internal/config"
	"github.com/thelightscope/lightscope-updater/internal/service/updater"
	"github.com/thelightscope/lightscope-updater/internal/version"
)

var (
	// configPath stores the path to the configuration YAML file.
	configPath string
	// checkOnly reports whether an update exists without applying it.
	checkOnly bool

	// rootCmd represents the base command for one update cycle.
	rootCmd = &cobra.Command{
		Use:   "lightscope-updater",
		Short: "Check for, verify and apply a signed LightScope release",
		Long: `Runs one update cycle against the distribution endpoints.

Fetches the version manifest over encrypted transport, compares the advertised
version against the installed one, downloads the candidate artifact with its
detached signature, verifies the content hash and the signature against the
locally pinned public key, backs up the active artifact and swaps the verified
bytes into place atomically. On success the service manager is signaled to
restart the core.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &updater.Options{
				ConfigPath: configPath,
				CheckOnly:  checkOnly,
			}

			return updater.Run(ctx, options)
		},
	}
)

// Execute runs the lightscope-updater CLI. The exit code distinguishes the
// update outcomes (see updater.ExitCode) so schedulers can alert on
// integrity failures without parsing logs.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(updater.ExitCode(err))
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().BoolVar(&checkOnly, "check-only", false, "only report whether an update is available")
}
