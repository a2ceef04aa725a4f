package keystore

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// KeySize is the RSA modulus size used for release signing keys.
	KeySize = 4096

	// PrivateKeyPermissions restricts the private key to the operator.
	PrivateKeyPermissions os.FileMode = 0o600

	// PublicKeyPermissions allows the public key to be freely distributed.
	PublicKeyPermissions os.FileMode = 0o644

	privateKeyPEMType = "PRIVATE KEY"
	publicKeyPEMType  = "PUBLIC KEY"
)

var (
	// ErrKeyGeneration indicates the underlying cryptographic backend failed
	// to produce a keypair.
	ErrKeyGeneration = errors.New("key generation failed")

	// ErrKeyLoad indicates a key file is missing or not a valid key encoding.
	ErrKeyLoad = errors.New("key load failed")
)

// KeyPair holds the asymmetric release-signing identity.
// The private half never leaves the signing host.
type KeyPair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// Generate creates a new RSA-4096 signing keypair.
func Generate() (*KeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, KeySize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyGeneration, err)
	}

	return &KeyPair{
		Private: key,
		Public:  &key.PublicKey,
	}, nil
}

// Save persists the keypair as PEM files: the private key in PKCS#8 form
// readable only by the operator, the public key in PKIX form world-readable.
func (kp *KeyPair) Save(privatePath, publicPath string) error {
	privateDER, err := x509.MarshalPKCS8PrivateKey(kp.Private)
	if err != nil {
		return fmt.Errorf("encode private key: %w", err)
	}

	privatePEM := pem.EncodeToMemory(&pem.Block{
		Type:  privateKeyPEMType,
		Bytes: privateDER,
	})

	if err = os.WriteFile(filepath.Clean(privatePath), privatePEM, PrivateKeyPermissions); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}

	publicPEM, err := EncodePublicKey(kp.Public)
	if err != nil {
		return err
	}

	if err = os.WriteFile(filepath.Clean(publicPath), publicPEM, PublicKeyPermissions); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}

	return nil
}

// EncodePublicKey renders an RSA public key as PKIX PEM bytes.
func EncodePublicKey(key *rsa.PublicKey) ([]byte, error) {
	publicDER, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, fmt.Errorf("encode public key: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{
		Type:  publicKeyPEMType,
		Bytes: publicDER,
	}), nil
}

// LoadPrivateKey reads a PKCS#8 PEM private key from disk.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyLoad, err)
	}

	block, _ := pem.Decode(contents)
	if block == nil {
		return nil, fmt.Errorf("%w: %s is not PEM encoded", ErrKeyLoad, path)
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyLoad, err)
	}

	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s does not contain an RSA private key", ErrKeyLoad, path)
	}

	return key, nil
}

// LoadPublicKey reads a PKIX PEM public key from disk.
// Callers pin the result locally; it is never re-fetched during verification.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyLoad, err)
	}

	return ParsePublicKey(contents)
}

// ParsePublicKey decodes a PKIX PEM public key from raw bytes.
func ParsePublicKey(contents []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(contents)
	if block == nil {
		return nil, fmt.Errorf("%w: input is not PEM encoded", ErrKeyLoad)
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyLoad, err)
	}

	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: input does not contain an RSA public key", ErrKeyLoad)
	}

	return key, nil
}
