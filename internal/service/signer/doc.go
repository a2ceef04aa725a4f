// Package signer stages signed releases for distribution.
//
// It is the offline, operator-side half of the pipeline: it generates the
// signing identity, produces a detached signature over the core artifact,
// builds the version manifest and lays the files out in an upload directory
// matching the distribution endpoint layout.
package signer
