package release

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"path"

	goversion "github.com/hashicorp/go-version"
)

// ArtifactFilename is the canonical name of the distributed core artifact.
const ArtifactFilename = "lightscope_core.py"

// Well-known endpoint names under the distribution base URL.
const (
	// VersionEndpoint serves the manifest JSON.
	VersionEndpoint = "version"
	// SignatureSuffix is appended to the artifact name for its detached signature.
	SignatureSuffix = ".sig"
	// PublicKeyEndpoint serves the distributable public key.
	PublicKeyEndpoint = "public-key"
)

var (
	// errManifestIncomplete is returned when required manifest fields are missing.
	errManifestIncomplete = errors.New("manifest is incomplete")
	// errVersionMalformed is returned when a version string cannot be parsed.
	errVersionMalformed = errors.New("malformed version")
)

// Manifest describes one published release: enough for a client to decide
// whether an update is needed without downloading the full payload.
// The JSON field names are the wire contract of the version endpoint.
type Manifest struct {
	// Version is the dotted release version of the artifact.
	Version string `json:"version"`
	// SHA256 is the lowercase hex content hash of the artifact bytes.
	SHA256 string `json:"sha256"`
	// Filename is the artifact's canonical file name.
	Filename string `json:"filename"`
	// DownloadURL points at the artifact bytes.
	DownloadURL string `json:"download_url"`
	// SignatureURL points at the detached signature over the artifact.
	SignatureURL string `json:"signature_url"`
	// PublicKeyURL points at the distributable public key (bundled at
	// install time; never re-fetched for verification).
	PublicKeyURL string `json:"public_key_url"`
	// VersionURL points back at the manifest itself.
	VersionURL string `json:"version_url"`
	// ReleaseNotes is a human-readable release summary.
	ReleaseNotes string `json:"release_notes"`
	// MinimumRunnerVersion is the oldest runner this release supports.
	MinimumRunnerVersion string `json:"minimum_runner_version"`
}

// BuildManifest computes the content hash of the artifact and packages it
// with version metadata and the endpoint URLs derived from baseURL.
func BuildManifest(version string, artifact []byte, baseURL string) (*Manifest, error) {
	if _, err := goversion.NewVersion(version); err != nil {
		return nil, fmt.Errorf("%w: %q", errVersionMalformed, version)
	}

	digest := sha256.Sum256(artifact)

	m := &Manifest{
		Version:              version,
		SHA256:               hex.EncodeToString(digest[:]),
		Filename:             ArtifactFilename,
		DownloadURL:          joinURL(baseURL, ArtifactFilename),
		SignatureURL:         joinURL(baseURL, ArtifactFilename+SignatureSuffix),
		PublicKeyURL:         joinURL(baseURL, PublicKeyEndpoint),
		VersionURL:           joinURL(baseURL, VersionEndpoint),
		ReleaseNotes:         fmt.Sprintf("LightScope version %s", version),
		MinimumRunnerVersion: "1.0.0",
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return m, nil
}

// Validate rejects manifests missing the fields the updater depends on.
func (m *Manifest) Validate() error {
	if m.Version == "" {
		return fmt.Errorf("%w: version is empty", errManifestIncomplete)
	}

	if m.SHA256 == "" {
		return fmt.Errorf("%w: content hash is empty", errManifestIncomplete)
	}

	if m.DownloadURL == "" {
		return fmt.Errorf("%w: download URL is empty", errManifestIncomplete)
	}

	if m.SignatureURL == "" {
		return fmt.Errorf("%w: signature URL is empty", errManifestIncomplete)
	}

	return nil
}

// joinURL appends a single path element to a base URL,
// normalizing duplicate slashes.
func joinURL(base, element string) string {
	parsed, err := url.Parse(base)
	if err != nil {
		// Fall back to naive join; Validate and the transport layer will
		// reject unusable URLs downstream.
		return base + "/" + element
	}

	parsed.Path = path.Join(parsed.Path, element)

	return parsed.String()
}

// CompareVersions orders two dotted version strings numerically per
// component, so "0.0.9" sorts before "0.0.10". The result follows the
// usual contract: negative when a < b, zero when equal, positive when a > b.
func CompareVersions(a, b string) (int, error) {
	left, err := goversion.NewVersion(a)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", errVersionMalformed, a)
	}

	right, err := goversion.NewVersion(b)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", errVersionMalformed, b)
	}

	return left.Compare(right), nil
}
