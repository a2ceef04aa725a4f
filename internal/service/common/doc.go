// Package common holds helpers shared by several services.
//
// It provides the HTTPS client used against the update distribution
// endpoints (manifest, artifact, signature) with encrypted-transport
// enforcement, per-call timeouts and bounded retries, plus a utility to
// detect the current system actor (hostname/username) for audit logging.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
