// Package state implements persistence for the InstalledState record.
//
// The FileRepository stores and loads the state as JSON on disk and exposes
// a Repository interface so the updater service can be tested against an
// injected implementation instead of the real install tree.
package state
