// Package updater downloads and applies signed releases.
//
// One cycle fetches the remote manifest, compares versions numerically,
// downloads the candidate artifact with its detached signature over
// encrypted transport, verifies both the content hash and the signature
// against the locally pinned public key, backs up the active artifact, and
// swaps the verified bytes into place atomically. A post-swap integrity
// check triggers restore from the backup slot. Unverified bytes never reach
// the active artifact path, even transiently.
package updater
