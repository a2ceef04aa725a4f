package updater

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thelightscope/lightscope-updater/internal/config"
	"github.com/thelightscope/lightscope-updater/internal/domain/release"
	"github.com/thelightscope/lightscope-updater/internal/keystore"
	"github.com/thelightscope/lightscope-updater/internal/repository/state"
	"github.com/thelightscope/lightscope-updater/internal/service/common"
	"github.com/thelightscope/lightscope-updater/internal/service/supervisor"
	"github.com/thelightscope/lightscope-updater/internal/signing"
)

//nolint:gochecknoglobals // Key generation is expensive; share across tests.
var (
	signingKeyOnce sync.Once
	signingKey     *rsa.PrivateKey
)

// testSigningKey returns a shared RSA key for release signing in tests.
func testSigningKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()

	signingKeyOnce.Do(func() {
		var err error

		signingKey, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("generate signing key: %v", err)
		}
	})

	return signingKey
}

// distribution bundles one fake release hosted by a TLS test server.
type distribution struct {
	server   *httptest.Server
	manifest *release.Manifest
}

// serveRelease signs the artifact and serves manifest, artifact and
// signature endpoints over TLS, mirroring the production layout.
func serveRelease(t *testing.T, version string, artifact []byte, key *rsa.PrivateKey) *distribution {
	t.Helper()

	signature, err := signing.Sign(artifact, key)
	require.NoError(t, err)

	mux := http.NewServeMux()
	ts := httptest.NewTLSServer(mux)
	t.Cleanup(ts.Close)

	manifest, err := release.BuildManifest(version, artifact, ts.URL)
	require.NoError(t, err)

	manifestBytes, err := json.Marshal(manifest)
	require.NoError(t, err)

	mux.HandleFunc("/"+release.VersionEndpoint, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(manifestBytes)
	})
	mux.HandleFunc("/"+release.ArtifactFilename, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(artifact)
	})
	mux.HandleFunc("/"+release.ArtifactFilename+release.SignatureSuffix, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(signature)
	})

	return &distribution{server: ts, manifest: manifest}
}

// newTestService builds a Service rooted in a fresh temp dir with a pinned
// public key matching the test signing key. The restart command drops a
// marker file so tests can observe the supervisor signal.
func newTestService(t *testing.T, dist *distribution) (*Service, *config.Config, string) {
	t.Helper()

	dir := t.TempDir()
	chdir(t, dir)

	key := testSigningKey(t)

	publicPEM, err := keystore.EncodePublicKey(&key.PublicKey)
	require.NoError(t, err)

	publicKeyPath := filepath.Join(dir, "public.pem")
	require.NoError(t, os.WriteFile(publicKeyPath, publicPEM, 0o644))

	restartMarker := filepath.Join(dir, "restart-requested")

	cfg := &config.Config{
		UpdateURL:      dist.server.URL,
		ArtifactFile:   filepath.Join(dir, "lightscope_core.py"),
		BackupFile:     filepath.Join(dir, "lightscope_core.py.bak"),
		PublicKeyFile:  publicKeyPath,
		StateFile:      filepath.Join(dir, "state.json"),
		Timeout:        10 * time.Second,
		PollInterval:   time.Hour,
		RestartCommand: []string{"sh", "-c", "touch " + restartMarker},
	}

	client := common.NewClient(
		common.WithHTTPClient(dist.server.Client()),
		common.WithCallTimeout(cfg.Timeout),
	)
	states := state.NewFileRepository(cfg.StateFile)
	sup := supervisor.New(cfg.RestartCommand, nil, "")

	service, err := NewService(cfg, client, states, sup)
	require.NoError(t, err)

	return service, cfg, restartMarker
}

// TestApply_EndToEnd installs a fresh release and verifies state, backup and
// the restart signal.
func TestApply_EndToEnd(t *testing.T) {
	oldArtifact := []byte("ls_version = \"0.0.101\"\n# previous core\n")
	newArtifact := []byte("ls_version = \"0.0.102\"\n# shiny new core\n")

	dist := serveRelease(t, "0.0.102", newArtifact, testSigningKey(t))
	service, cfg, restartMarker := newTestService(t, dist)

	require.NoError(t, os.WriteFile(cfg.ArtifactFile, oldArtifact, 0o755))

	result, err := service.Apply(context.Background(), dist.manifest)
	require.NoError(t, err)
	require.Equal(t, release.UpdateApplied, result)

	// Active artifact holds the new bytes.
	installed, err := os.ReadFile(cfg.ArtifactFile)
	require.NoError(t, err)
	require.Equal(t, newArtifact, installed)

	// Backup slot holds the previous version, byte for byte.
	backup, err := os.ReadFile(cfg.BackupFile)
	require.NoError(t, err)
	require.Equal(t, signing.Digest(oldArtifact), signing.Digest(backup))

	// Installed state records the new version.
	installedState, err := state.NewFileRepository(cfg.StateFile).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "0.0.102", installedState.CurrentVersion)

	// The supervisor was signaled.
	_, err = os.Stat(restartMarker)
	require.NoError(t, err)
}

// TestApply_AlreadyUpToDate verifies applying the installed version twice is a no-op.
func TestApply_AlreadyUpToDate(t *testing.T) {
	artifact := []byte("ls_version = \"0.0.102\"\n")

	dist := serveRelease(t, "0.0.102", artifact, testSigningKey(t))
	service, cfg, restartMarker := newTestService(t, dist)

	require.NoError(t, os.WriteFile(cfg.ArtifactFile, artifact, 0o755))

	result, err := service.Apply(context.Background(), dist.manifest)
	require.NoError(t, err)
	require.Equal(t, release.AlreadyUpToDate, result)

	// Nothing was backed up, restarted or persisted.
	_, err = os.Stat(cfg.BackupFile)
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = os.Stat(restartMarker)
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = state.NewFileRepository(cfg.StateFile).Load(context.Background())
	require.ErrorIs(t, err, state.ErrNotFound)
}

// TestApply_HashMismatch rejects a manifest whose hash does not match the
// downloaded bytes and leaves the installed state unchanged.
func TestApply_HashMismatch(t *testing.T) {
	oldArtifact := []byte("ls_version = \"0.0.101\"\n")
	newArtifact := []byte("ls_version = \"0.0.102\"\n")

	dist := serveRelease(t, "0.0.102", newArtifact, testSigningKey(t))
	service, cfg, restartMarker := newTestService(t, dist)

	require.NoError(t, os.WriteFile(cfg.ArtifactFile, oldArtifact, 0o755))

	// Advertise a hash that cannot match the served bytes.
	tampered := *dist.manifest
	tampered.SHA256 = signing.Digest([]byte("different bytes entirely"))

	result, err := service.Apply(context.Background(), &tampered)
	require.ErrorIs(t, err, ErrVerificationFailed)
	require.Equal(t, release.UpdateFailed, result)

	// Old version is still active and nothing else happened.
	installed, err := os.ReadFile(cfg.ArtifactFile)
	require.NoError(t, err)
	require.Equal(t, oldArtifact, installed)

	_, err = os.Stat(restartMarker)
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestApply_BadSignature rejects an artifact signed by a different identity.
func TestApply_BadSignature(t *testing.T) {
	newArtifact := []byte("ls_version = \"0.0.102\"\n")

	rogueKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	// Server signs with a rogue key; the pinned public key will not match.
	dist := serveRelease(t, "0.0.102", newArtifact, rogueKey)
	service, cfg, _ := newTestService(t, dist)

	require.NoError(t, os.WriteFile(cfg.ArtifactFile, []byte("ls_version = \"0.0.101\"\n"), 0o755))

	result, err := service.Apply(context.Background(), dist.manifest)
	require.ErrorIs(t, err, ErrVerificationFailed)
	require.Equal(t, release.UpdateFailed, result)
}

// TestApply_InsecureManifestURL ensures plaintext download URLs abort the
// cycle before any bytes are written.
func TestApply_InsecureManifestURL(t *testing.T) {
	newArtifact := []byte("ls_version = \"0.0.102\"\n")

	dist := serveRelease(t, "0.0.102", newArtifact, testSigningKey(t))
	service, cfg, _ := newTestService(t, dist)

	require.NoError(t, os.WriteFile(cfg.ArtifactFile, []byte("ls_version = \"0.0.101\"\n"), 0o755))

	insecure := *dist.manifest
	insecure.DownloadURL = "http://thelightscope.com/latest/lightscope_core.py"

	result, err := service.Apply(context.Background(), &insecure)
	require.ErrorIs(t, err, common.ErrInsecureTransport)
	require.Equal(t, release.UpdateFailed, result)
}

// TestRollback restores the previous artifact from the backup slot.
func TestRollback(t *testing.T) {
	artifact := []byte("ls_version = \"0.0.102\"\n")
	dist := serveRelease(t, "0.0.102", artifact, testSigningKey(t))
	service, cfg, _ := newTestService(t, dist)

	oldArtifact := []byte("ls_version = \"0.0.101\"\n")
	require.NoError(t, os.WriteFile(cfg.BackupFile, oldArtifact, 0o755))
	require.NoError(t, os.WriteFile(cfg.ArtifactFile, []byte("half-written garbage"), 0o755))

	result, err := service.rollback(context.Background(), ErrVerificationFailed)
	require.ErrorIs(t, err, ErrUpdateRolledBack)
	require.Equal(t, release.UpdateFailedRolledBack, result)

	restored, err := os.ReadFile(cfg.ArtifactFile)
	require.NoError(t, err)
	require.Equal(t, signing.Digest(oldArtifact), signing.Digest(restored))
}

// TestRollback_MissingBackup is fatal to the update subsystem and surfaced loudly.
func TestRollback_MissingBackup(t *testing.T) {
	artifact := []byte("ls_version = \"0.0.102\"\n")
	dist := serveRelease(t, "0.0.102", artifact, testSigningKey(t))
	service, _, _ := newTestService(t, dist)

	result, err := service.rollback(context.Background(), ErrVerificationFailed)
	require.ErrorIs(t, err, ErrRollbackFailed)
	require.Equal(t, release.UpdateFailed, result)
}

// TestCheckForUpdate covers the three checker outcomes.
func TestCheckForUpdate(t *testing.T) {
	newArtifact := []byte("ls_version = \"0.0.102\"\n")

	dist := serveRelease(t, "0.0.102", newArtifact, testSigningKey(t))
	service, cfg, _ := newTestService(t, dist)

	// Older local version: update available.
	require.NoError(t, os.WriteFile(cfg.ArtifactFile, []byte("ls_version = \"0.0.101\"\n"), 0o755))

	result := service.CheckForUpdate(context.Background())
	require.Equal(t, release.CheckUpdateAvailable, result.Status)
	require.NotNil(t, result.Manifest)
	require.Equal(t, "0.0.102", result.Manifest.Version)

	// Same version: up to date.
	require.NoError(t, os.WriteFile(cfg.ArtifactFile, newArtifact, 0o755))

	result = service.CheckForUpdate(context.Background())
	require.Equal(t, release.CheckUpToDate, result.Status)

	// Newer local version than remote: still up to date, never a downgrade.
	require.NoError(t, os.WriteFile(cfg.ArtifactFile, []byte("ls_version = \"0.0.103\"\n"), 0o755))

	result = service.CheckForUpdate(context.Background())
	require.Equal(t, release.CheckUpToDate, result.Status)

	// Unreachable endpoint: CheckFailed, non-fatal.
	dist.server.Close()

	result = service.CheckForUpdate(context.Background())
	require.Equal(t, release.CheckFailed, result.Status)
	require.Error(t, result.Reason)
}

// TestCheckForUpdate_NumericOrdering ensures 0.0.9 < 0.0.10 style comparisons.
func TestCheckForUpdate_NumericOrdering(t *testing.T) {
	newArtifact := []byte("ls_version = \"0.0.10\"\n")

	dist := serveRelease(t, "0.0.10", newArtifact, testSigningKey(t))
	service, cfg, _ := newTestService(t, dist)

	// Lexicographically "0.0.9" > "0.0.10"; numerically it is older.
	require.NoError(t, os.WriteFile(cfg.ArtifactFile, []byte("ls_version = \"0.0.9\"\n"), 0o755))

	result := service.CheckForUpdate(context.Background())
	require.Equal(t, release.CheckUpdateAvailable, result.Status)
}

// TestRunOnce_FreshInstall drives a full cycle on a host with no artifact yet.
func TestRunOnce_FreshInstall(t *testing.T) {
	newArtifact := []byte("ls_version = \"0.0.102\"\n")

	dist := serveRelease(t, "0.0.102", newArtifact, testSigningKey(t))
	service, cfg, _ := newTestService(t, dist)

	result, err := service.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, release.UpdateApplied, result)

	installed, err := os.ReadFile(cfg.ArtifactFile)
	require.NoError(t, err)
	require.Equal(t, newArtifact, installed)
}

// TestNewService_MissingKey disables the update subsystem when the pinned
// key cannot be loaded.
func TestNewService_MissingKey(t *testing.T) {
	artifact := []byte("ls_version = \"0.0.102\"\n")
	dist := serveRelease(t, "0.0.102", artifact, testSigningKey(t))

	dir := t.TempDir()
	cfg := &config.Config{
		UpdateURL:     dist.server.URL,
		ArtifactFile:  filepath.Join(dir, "core.py"),
		BackupFile:    filepath.Join(dir, "core.py.bak"),
		PublicKeyFile: filepath.Join(dir, "missing.pem"),
		StateFile:     filepath.Join(dir, "state.json"),
		Timeout:       time.Second,
	}

	_, err := NewService(cfg,
		common.NewClient(),
		state.NewFileRepository(cfg.StateFile),
		supervisor.New(nil, nil, ""))
	require.ErrorIs(t, err, keystore.ErrKeyLoad)
}
