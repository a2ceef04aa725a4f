package release

import "time"

// InstalledState records what the client is currently running.
// Only the updater mutates it, exactly once per successful update cycle.
type InstalledState struct {
	// CurrentVersion is the dotted version of the active artifact.
	CurrentVersion string
	// ArtifactPath is the location of the active artifact.
	ArtifactPath string
	// BackupPath is the location of the most recent backup artifact.
	// Once the updater has swapped at least once, a backup always exists
	// here; that is what makes rollback possible.
	BackupPath string
	// UpdatedAt is when the state last changed.
	UpdatedAt time.Time
}

// Clone returns a copy of the state to avoid leaking internal references.
func (s *InstalledState) Clone() *InstalledState {
	if s == nil {
		return nil
	}

	cloned := *s

	return &cloned
}
