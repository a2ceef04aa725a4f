package updater

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/thelightscope/lightscope-updater/internal/config"
	"github.com/thelightscope/lightscope-updater/internal/domain/release"
	"github.com/thelightscope/lightscope-updater/internal/keystore"
	"github.com/thelightscope/lightscope-updater/internal/logger"
	"github.com/thelightscope/lightscope-updater/internal/repository/state"
	"github.com/thelightscope/lightscope-updater/internal/service/common"
	"github.com/thelightscope/lightscope-updater/internal/service/supervisor"
	"github.com/thelightscope/lightscope-updater/internal/signing"

	// Ensure SHA256 is linked in for go-update checksum validation.
	_ "crypto/sha256"
)

var (
	// ErrVerificationFailed indicates the downloaded bytes did not match the
	// manifest hash or the detached signature. The candidate is discarded
	// and the installed state is left untouched.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrRollbackFailed indicates the post-swap integrity check failed AND
	// the backup could not be restored. The running service continues on its
	// in-memory state but can no longer self-update; operator intervention
	// is required.
	ErrRollbackFailed = errors.New("rollback from backup failed")

	// ErrUpdateRolledBack indicates the swap failed its post-write integrity
	// check and the previous artifact was restored from backup.
	ErrUpdateRolledBack = errors.New("update failed, previous version restored")

	// ErrCheckFailed indicates the version endpoint could not be fetched or
	// parsed. Transient; the caller retries on the next scheduled poll.
	ErrCheckFailed = errors.New("update check failed")

	// errUpdateAlreadyRunning guards against concurrent cycles.
	errUpdateAlreadyRunning = errors.New("an update cycle is already running")
)

// Service coordinates version checking and update application.
// A single Service instance serializes its cycles; the on-disk marker
// extends the mutual exclusion across processes.
type Service struct {
	cfg       *config.Config
	client    *common.Client
	states    state.Repository
	sup       *supervisor.Supervisor
	verifyKey *rsa.PublicKey

	// mu serializes update cycles within this process. Update frequency is
	// hourly at most, so one coarse lock is all the coordination needed.
	mu sync.Mutex
}

// NewService wires an update service from its collaborators. The public key
// is loaded once from the locally pinned file; a missing or unreadable key
// disables the update subsystem without affecting the monitored service.
func NewService(
	cfg *config.Config,
	client *common.Client,
	states state.Repository,
	sup *supervisor.Supervisor,
) (*Service, error) {
	verifyKey, err := keystore.LoadPublicKey(cfg.PublicKeyFile)
	if err != nil {
		return nil, fmt.Errorf("load pinned public key: %w", err)
	}

	return &Service{
		cfg:       cfg,
		client:    client,
		states:    states,
		sup:       sup,
		verifyKey: verifyKey,
	}, nil
}

// CheckForUpdate polls the version endpoint and compares the advertised
// version against the installed one. Failures are reported as CheckFailed
// and are non-fatal: no state is persisted and the caller retries on the
// next scheduled poll.
func (s *Service) CheckForUpdate(ctx context.Context) release.CheckResult {
	current, err := s.currentVersion(ctx)
	if err != nil {
		return release.CheckResult{Status: release.CheckFailed, Reason: err}
	}

	manifestURL := s.cfg.UpdateURL + "/" + release.VersionEndpoint

	manifest, err := s.client.FetchManifest(ctx, manifestURL)
	if err != nil {
		return release.CheckResult{Status: release.CheckFailed, Reason: err}
	}

	// A client with no detectable version takes whatever the server offers.
	if current == "" {
		logger.InfoKV(ctx, "No local version detected, update needed",
			"remote", manifest.Version)

		return release.CheckResult{Status: release.CheckUpdateAvailable, Manifest: manifest}
	}

	comparison, err := release.CompareVersions(manifest.Version, current)
	if err != nil {
		return release.CheckResult{Status: release.CheckFailed, Reason: err}
	}

	if comparison > 0 {
		logger.InfoKV(ctx, "Update available",
			"local", current, "remote", manifest.Version)

		return release.CheckResult{Status: release.CheckUpdateAvailable, Manifest: manifest}
	}

	logger.InfoKV(ctx, "Already running latest version", "version", current)

	return release.CheckResult{Status: release.CheckUpToDate, Manifest: manifest}
}

// Apply executes one update cycle for the provided manifest:
// download, verify, back up, atomically swap, persist state, signal restart.
// Verification strictly precedes any write to the active artifact path.
func (s *Service) Apply(ctx context.Context, manifest *release.Manifest) (release.UpdateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if IsUpdateRunningNow(ctx) {
		return release.UpdateFailed, errUpdateAlreadyRunning
	}

	if err := createMarker(); err != nil {
		return release.UpdateFailed, fmt.Errorf("create update marker: %w", err)
	}

	defer removeMarker()

	// Idempotence: applying the installed version is a no-op.
	current, err := s.currentVersion(ctx)
	if err == nil && current != "" {
		if comparison, cmpErr := release.CompareVersions(manifest.Version, current); cmpErr == nil && comparison == 0 {
			logger.InfoKV(ctx, "Manifest version already installed", "version", current)

			return release.AlreadyUpToDate, nil
		}
	}

	artifact, signature, err := s.download(ctx, manifest)
	if err != nil {
		return release.UpdateFailed, err
	}

	if err = s.verifyCandidate(ctx, manifest, artifact, signature); err != nil {
		return release.UpdateFailed, err
	}

	if err = s.backupCurrent(ctx); err != nil {
		return release.UpdateFailed, fmt.Errorf("back up current artifact: %w", err)
	}

	if err = s.swap(ctx, manifest, artifact); err != nil {
		return s.rollback(ctx, err)
	}

	if err = s.recheckInstalled(manifest); err != nil {
		return s.rollback(ctx, err)
	}

	if err = s.persistState(ctx, manifest); err != nil {
		return release.UpdateFailed, fmt.Errorf("persist installed state: %w", err)
	}

	logger.InfoKV(ctx, "Update installed", "version", manifest.Version)

	if err = s.sup.Restart(ctx); err != nil {
		// The new artifact is installed and verified; a restart failure is
		// surfaced but does not undo the update.
		return release.UpdateApplied, fmt.Errorf("signal restart: %w", err)
	}

	return release.UpdateApplied, nil
}

// RunOnce performs a full check-then-apply cycle, the unit the runner loop
// and the one-shot CLI share.
func (s *Service) RunOnce(ctx context.Context) (release.UpdateResult, error) {
	result := s.CheckForUpdate(ctx)

	switch result.Status {
	case release.CheckFailed:
		return release.UpdateFailed, fmt.Errorf("%w: %w", ErrCheckFailed, result.Reason)
	case release.CheckUpToDate:
		return release.AlreadyUpToDate, nil
	case release.CheckUpdateAvailable:
		return s.Apply(ctx, result.Manifest)
	default:
		return release.UpdateFailed, fmt.Errorf("unexpected check status %v", result.Status)
	}
}

// currentVersion resolves the installed version from the state record,
// falling back to the version marker embedded in the active artifact for
// installs that predate the state file. An empty result means "unknown".
func (s *Service) currentVersion(ctx context.Context) (string, error) {
	installed, err := s.states.Load(ctx)
	if err == nil && installed.CurrentVersion != "" {
		return installed.CurrentVersion, nil
	}

	if err != nil && !errors.Is(err, state.ErrNotFound) {
		return "", fmt.Errorf("load installed state: %w", err)
	}

	contents, err := os.ReadFile(s.cfg.ArtifactFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// First install; nothing on disk yet.
			return "", nil
		}

		return "", fmt.Errorf("read active artifact: %w", err)
	}

	version, err := release.ExtractVersion(contents)
	if err != nil {
		logger.WarnKV(ctx, "Active artifact carries no version marker",
			"path", s.cfg.ArtifactFile)

		return "", nil
	}

	return version, nil
}

// download fetches the candidate artifact and its detached signature.
// Transport security is enforced by the client before any bytes move.
func (s *Service) download(ctx context.Context, manifest *release.Manifest) (artifact, signature []byte, err error) {
	logger.InfoKV(ctx, "Downloading candidate artifact",
		"version", manifest.Version, "url", manifest.DownloadURL)

	artifact, err = s.client.FetchBytes(ctx, manifest.DownloadURL)
	if err != nil {
		return nil, nil, fmt.Errorf("download artifact: %w", err)
	}

	signature, err = s.client.FetchBytes(ctx, manifest.SignatureURL)
	if err != nil {
		return nil, nil, fmt.Errorf("download signature: %w", err)
	}

	return artifact, signature, nil
}

// verifyCandidate checks the manifest content hash and the detached
// signature over the downloaded bytes. Both must pass before anything is
// written near the active artifact path.
func (s *Service) verifyCandidate(
	ctx context.Context,
	manifest *release.Manifest,
	artifact, signature []byte,
) error {
	digest := signing.Digest(artifact)
	if digest != strings.ToLower(manifest.SHA256) {
		logger.ErrorKV(ctx, "Content hash mismatch, rejecting candidate",
			"version", manifest.Version,
			"manifest_sha256", manifest.SHA256,
			"actual_sha256", digest)

		return fmt.Errorf("%w: content hash mismatch", ErrVerificationFailed)
	}

	if !signing.Verify(artifact, signature, s.verifyKey) {
		logger.ErrorKV(ctx, "Signature invalid, rejecting candidate",
			"version", manifest.Version)

		return fmt.Errorf("%w: signature invalid", ErrVerificationFailed)
	}

	logger.InfoKV(ctx, "Candidate verified", "version", manifest.Version, "sha256", digest)

	return nil
}

// backupCurrent copies the active artifact into the single backup slot.
// Only the most recent backup is retained.
func (s *Service) backupCurrent(ctx context.Context) error {
	contents, err := os.ReadFile(s.cfg.ArtifactFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// First install; nothing to back up.
			return nil
		}

		return err
	}

	if err = os.WriteFile(s.cfg.BackupFile, contents, DefaultFileMode); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Backed up current artifact", "path", s.cfg.BackupFile)

	return nil
}

// swap atomically replaces the active artifact with the verified candidate.
// go-update writes to a temporary file in the same directory and renames it
// into place, so a crash mid-write cannot leave a half-written artifact.
func (s *Service) swap(ctx context.Context, manifest *release.Manifest, artifact []byte) error {
	checksum, err := hex.DecodeString(strings.ToLower(manifest.SHA256))
	if err != nil {
		return fmt.Errorf("%w: manifest hash is not hex", ErrVerificationFailed)
	}

	// Ensure the target exists so go-update can stat it on first install.
	if _, err = os.Stat(s.cfg.ArtifactFile); err != nil && errors.Is(err, os.ErrNotExist) {
		if err = os.WriteFile(s.cfg.ArtifactFile, nil, DefaultFileMode); err != nil {
			return err
		}
	}

	options := goupdate.Options{
		TargetPath: s.cfg.ArtifactFile,
		TargetMode: DefaultFileMode,
		Checksum:   checksum,
		Hash:       crypto.SHA256,
	}

	if err = goupdate.Apply(bytes.NewReader(artifact), options); err != nil {
		return fmt.Errorf("apply update: %w", err)
	}

	// go-update keeps the displaced file next to the target; the backup
	// slot already holds the previous version, so drop the stray copy.
	oldFileName := s.cfg.ArtifactFile + ".old"
	if _, err = os.Stat(oldFileName); err == nil {
		_ = os.Remove(oldFileName)
	}

	logger.InfoKV(ctx, "Swapped active artifact", "path", s.cfg.ArtifactFile)

	return nil
}

// recheckInstalled re-hashes the installed file and compares it to the
// manifest hash, catching a swap that failed partway.
func (s *Service) recheckInstalled(manifest *release.Manifest) error {
	installed, err := os.ReadFile(s.cfg.ArtifactFile)
	if err != nil {
		return fmt.Errorf("re-read installed artifact: %w", err)
	}

	if signing.Digest(installed) != strings.ToLower(manifest.SHA256) {
		return fmt.Errorf("%w: installed artifact hash mismatch", ErrVerificationFailed)
	}

	return nil
}

// rollback restores the previous artifact from the backup slot after a
// failed swap. A failed rollback is fatal to the update subsystem and is
// surfaced loudly for operator intervention.
func (s *Service) rollback(ctx context.Context, cause error) (release.UpdateResult, error) {
	logger.ErrorKV(ctx, "Swap failed, restoring previous artifact from backup",
		"error", cause, "backup", s.cfg.BackupFile)

	backup, err := os.ReadFile(s.cfg.BackupFile)
	if err != nil {
		return release.UpdateFailed, fmt.Errorf("%w: read backup: %w", ErrRollbackFailed, err)
	}

	if err = atomicWrite(s.cfg.ArtifactFile, backup, DefaultFileMode); err != nil {
		return release.UpdateFailed, fmt.Errorf("%w: restore backup: %w", ErrRollbackFailed, err)
	}

	logger.Info(ctx, "Previous artifact restored from backup")

	return release.UpdateFailedRolledBack, fmt.Errorf("%w: %w", ErrUpdateRolledBack, cause)
}

// persistState records the new version as installed.
func (s *Service) persistState(ctx context.Context, manifest *release.Manifest) error {
	return s.states.Save(ctx, &release.InstalledState{
		CurrentVersion: manifest.Version,
		ArtifactPath:   s.cfg.ArtifactFile,
		BackupPath:     s.cfg.BackupFile,
		UpdatedAt:      time.Now().UTC(),
	})
}

// atomicWrite writes bytes to a temporary file in the target's directory and
// renames it into place.
func atomicWrite(path string, contents []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-")
	if err != nil {
		return err
	}

	tmpName := tmp.Name()

	if _, err = io.Copy(tmp, bytes.NewReader(contents)); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return err
	}

	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmpName)

		return err
	}

	if err = os.Chmod(tmpName, mode); err != nil {
		_ = os.Remove(tmpName)

		return err
	}

	return os.Rename(tmpName, path)
}
