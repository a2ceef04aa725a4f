// Package release contains core domain types for the update pipeline.
//
// It defines the Manifest wire record published alongside every artifact,
// the InstalledState record describing what a client currently runs, the
// check/apply result taxonomy, and numeric dotted-version ordering.
package release
