package signing

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrSigning indicates the signing backend rejected the key or input.
var ErrSigning = errors.New("signing failed")

// pssOptions matches the release tooling contract: PSS with MGF1 over
// SHA-256 and the maximum salt length the key allows.
//
//nolint:gochecknoglobals // Shared immutable signature scheme parameters.
var pssOptions = &rsa.PSSOptions{
	SaltLength: rsa.PSSSaltLengthAuto,
	Hash:       crypto.SHA256,
}

// Sign produces a detached RSA-PSS signature over the exact artifact bytes.
// PSS is salted, so two signatures over the same input differ; both verify.
func Sign(artifact []byte, key *rsa.PrivateKey) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: private key is not set", ErrSigning)
	}

	digest := sha256.Sum256(artifact)

	signature, err := rsa.SignPSS(rand.Reader, key, crypto.SHA256, digest[:], pssOptions)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigning, err)
	}

	return signature, nil
}

// Verify reports whether signature is a valid detached signature over
// exactly the artifact bytes under the provided public key. Every failure
// mode (tampered bytes, truncated download, wrong key, malformed signature)
// yields false; nothing escapes to the caller.
func Verify(artifact, signature []byte, key *rsa.PublicKey) bool {
	if key == nil || len(signature) == 0 {
		return false
	}

	digest := sha256.Sum256(artifact)

	return rsa.VerifyPSS(key, crypto.SHA256, digest[:], signature, pssOptions) == nil
}

// Digest returns the lowercase hex SHA-256 content hash used in manifests.
func Digest(artifact []byte) string {
	digest := sha256.Sum256(artifact)

	return hex.EncodeToString(digest[:])
}
