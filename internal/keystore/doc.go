// Package keystore manages the RSA release-signing identity.
//
// It generates RSA-4096 keypairs and persists them as PEM files with
// different exposure: the PKCS#8 private key is written operator-only,
// the PKIX public key world-readable for bundling with every install.
package keystore
