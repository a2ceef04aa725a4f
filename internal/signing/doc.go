// Package signing implements detached artifact signatures and content hashes.
//
// Signatures are RSA-PSS over a SHA-256 digest of the full artifact, bound
// 1:1 to the bytes they were produced for: mutating a single byte of either
// artifact or signature makes Verify return false. Verification never
// panics or returns a partial result, so callers can treat any non-true
// outcome uniformly as "do not install".
package signing
