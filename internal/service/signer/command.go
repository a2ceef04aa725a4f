package signer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/thelightscope/lightscope-updater/internal/domain/release"
	"github.com/thelightscope/lightscope-updater/internal/keystore"
	"github.com/thelightscope/lightscope-updater/internal/logger"
	"github.com/thelightscope/lightscope-updater/internal/service/updater"
	"github.com/thelightscope/lightscope-updater/internal/signing"
)

// Options contains inputs for the signer entry point.
type Options struct {
	// CoreFile is the path to the artifact being released.
	CoreFile string
	// PrivateKeyPath locates the operator's signing key.
	PrivateKeyPath string
	// PublicKeyPath locates the distributable public key.
	PublicKeyPath string
	// OutputDir is the staging directory for the distribution files.
	OutputDir string
	// BaseURL is the distribution base URL written into the manifest.
	BaseURL string
	// Version overrides the version extracted from the artifact.
	Version string
	// SelfVerify re-checks the fresh signature before publishing.
	SelfVerify bool
	// GenerateKeys creates a new keypair instead of signing.
	GenerateKeys bool
}

// signer stages one release for distribution.
// It is unexported; callers should use Run, which encapsulates setup and validation.
type signer struct {
	opts     *Options
	artifact []byte
	version  string
}

var (
	// errUpdateRunning refuses to stage a release while a client-side update
	// cycle is active in the same directory.
	errUpdateRunning = errors.New("an update cycle is running now")
	// errSelfVerification indicates the fresh signature failed its re-check.
	errSelfVerification = errors.New("self-verification of fresh signature failed")
)

// Defaults mirror the release tooling conventions.
const (
	DefaultPrivateKeyFilename = "lightscope-private.pem"
	DefaultOutputDir          = "upload"
	DefaultBaseURL            = "https://thelightscope.com/latest"
)

// Run executes the signing workflow.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "lightscope-signer")

	if opts.GenerateKeys {
		return generateKeys(ctx, opts)
	}

	s, err := newSigner(ctx, opts)
	if err != nil {
		return fmt.Errorf("initialize signer: %w", err)
	}

	if err = s.Run(ctx); err != nil {
		return fmt.Errorf("signer failed: %w", err)
	}

	logger.Info(ctx, "Signer completed successfully")

	return nil
}

// generateKeys creates and persists a fresh signing identity.
func generateKeys(ctx context.Context, opts *Options) error {
	logger.Info(ctx, "Generating new RSA signing keypair")

	keyPair, err := keystore.Generate()
	if err != nil {
		return err
	}

	if err = keyPair.Save(opts.PrivateKeyPath, opts.PublicKeyPath); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Keypair saved",
		"private_key", opts.PrivateKeyPath,
		"public_key", opts.PublicKeyPath)

	return nil
}

// newSigner loads the artifact and resolves its version.
func newSigner(ctx context.Context, opts *Options) (*signer, error) {
	if updater.IsUpdateRunningNow(ctx) {
		return nil, errUpdateRunning
	}

	artifact, err := os.ReadFile(filepath.Clean(opts.CoreFile))
	if err != nil {
		return nil, fmt.Errorf("read core file: %w", err)
	}

	version := opts.Version
	if version == "" {
		version, err = release.ExtractVersion(artifact)
		if err != nil {
			return nil, fmt.Errorf("extract version from %s: %w", opts.CoreFile, err)
		}
	}

	return &signer{
		opts:     opts,
		artifact: artifact,
		version:  version,
	}, nil
}

// Run stages the signed release into the output directory.
func (s *signer) Run(ctx context.Context) error {
	logger.InfoKV(ctx, "Signing release", "version", s.version)

	privateKey, err := keystore.LoadPrivateKey(s.opts.PrivateKeyPath)
	if err != nil {
		return err
	}

	signature, err := signing.Sign(s.artifact, privateKey)
	if err != nil {
		return err
	}

	if s.opts.SelfVerify {
		if !signing.Verify(s.artifact, signature, &privateKey.PublicKey) {
			return errSelfVerification
		}

		logger.Info(ctx, "Fresh signature verified against the signing key")
	}

	manifest, err := release.BuildManifest(s.version, s.artifact, s.opts.BaseURL)
	if err != nil {
		return err
	}

	if err = s.stage(ctx, signature, manifest); err != nil {
		return err
	}

	s.printNextSteps(ctx, manifest)

	return nil
}

// stage recreates the output directory and writes the distribution files:
// artifact copy, detached signature, public key copy and manifest.
func (s *signer) stage(ctx context.Context, signature []byte, manifest *release.Manifest) error {
	outputDir := s.opts.OutputDir

	// Recreate to guarantee a clean staging state.
	if err := os.RemoveAll(outputDir); err != nil {
		return fmt.Errorf("clean output dir: %w", err)
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	artifactPath := filepath.Join(outputDir, release.ArtifactFilename)
	if err := os.WriteFile(artifactPath, s.artifact, updater.DefaultFileMode); err != nil {
		return fmt.Errorf("stage artifact: %w", err)
	}

	signaturePath := artifactPath + release.SignatureSuffix
	if err := os.WriteFile(signaturePath, signature, 0o644); err != nil {
		return fmt.Errorf("stage signature: %w", err)
	}

	publicPEM, err := os.ReadFile(filepath.Clean(s.opts.PublicKeyPath))
	if err != nil {
		return fmt.Errorf("read public key: %w", err)
	}

	publicKeyPath := filepath.Join(outputDir, filepath.Base(s.opts.PublicKeyPath))
	if err = os.WriteFile(publicKeyPath, publicPEM, keystore.PublicKeyPermissions); err != nil {
		return fmt.Errorf("stage public key: %w", err)
	}

	manifestBytes, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	manifestPath := filepath.Join(outputDir, release.VersionEndpoint)
	if err = os.WriteFile(manifestPath, manifestBytes, 0o644); err != nil {
		return fmt.Errorf("stage manifest: %w", err)
	}

	logger.InfoKV(ctx, "Release staged",
		"dir", outputDir,
		"version", s.version,
		"sha256", manifest.SHA256)

	return nil
}

// printNextSteps logs human-readable guidance for publishing the staged files.
func (s *signer) printNextSteps(ctx context.Context, manifest *release.Manifest) {
	var builder strings.Builder

	builder.WriteString("Upload the following files so they are served from ")
	builder.WriteString(s.opts.BaseURL)
	builder.WriteString(":\n")
	builder.WriteString(release.ArtifactFilename)
	builder.WriteString(",\n")
	builder.WriteString(release.ArtifactFilename + release.SignatureSuffix)
	builder.WriteString(",\n")
	builder.WriteString(release.VersionEndpoint)
	builder.WriteString(" (the manifest),\n")
	builder.WriteString(filepath.Base(s.opts.PublicKeyPath))
	builder.WriteString(" (as the ")
	builder.WriteString(release.PublicKeyEndpoint)
	builder.WriteString(" endpoint)\n\nClients at or above runner version ")
	builder.WriteString(manifest.MinimumRunnerVersion)
	builder.WriteString(" will pick up ")
	builder.WriteString(manifest.Version)
	builder.WriteString(" on their next poll.")

	logger.Info(ctx, builder.String())
}
