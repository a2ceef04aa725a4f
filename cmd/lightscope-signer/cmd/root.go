package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/thelightscope/lightscope-updater/internal/config"
	"github.com/thelightscope/lightscope-updater/internal/domain/release"
	"github.com/thelightscope/lightscope-updater/internal/service/signer"
	"github.com/thelightscope/lightscope-updater/internal/version"
)

var (
	// opts collects the signer inputs from flags.
	opts = &signer.Options{}

	// rootCmd represents the base command for staging a signed release.
	rootCmd = &cobra.Command{
		Use:   "lightscope-signer",
		Short: "Sign a LightScope core release and stage it for distribution",
		Long: `Operator-side release tool.

Signs the core artifact with the private release key, builds the version
manifest and stages artifact, detached signature, manifest and public key in
an upload directory matching the distribution endpoint layout. With
--generate-keys it creates a fresh RSA-4096 signing identity instead.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return signer.Run(ctx, opts)
		},
	}
)

// Execute runs the lightscope-signer CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVar(&opts.CoreFile, "core-file", release.ArtifactFilename, "path to the core artifact to sign")
	rootCmd.Flags().StringVar(&opts.PrivateKeyPath, "private-key", signer.DefaultPrivateKeyFilename, "path to the private signing key")
	rootCmd.Flags().StringVar(&opts.PublicKeyPath, "public-key", config.DefaultPublicKeyFilename, "path to the distributable public key")
	rootCmd.Flags().StringVar(&opts.OutputDir, "output-dir", signer.DefaultOutputDir, "staging directory for distribution files")
	rootCmd.Flags().StringVar(&opts.BaseURL, "base-url", signer.DefaultBaseURL, "distribution base URL written into the manifest")
	rootCmd.Flags().StringVar(&opts.Version, "version", "", "override the version extracted from the artifact")
	rootCmd.Flags().BoolVar(&opts.SelfVerify, "verify", false, "verify the signature after signing")
	rootCmd.Flags().BoolVar(&opts.GenerateKeys, "generate-keys", false, "generate a new key pair and exit")
}
