package release

// CheckStatus is the outcome of one poll of the version endpoint.
type CheckStatus int

const (
	// CheckUpToDate means the remote version is not newer than the local one.
	CheckUpToDate CheckStatus = iota
	// CheckUpdateAvailable means the remote version is newer and the
	// accompanying manifest describes how to fetch it.
	CheckUpdateAvailable
	// CheckFailed means the endpoint could not be fetched or parsed.
	// It is non-fatal: the caller keeps the current version and retries
	// on the next scheduled poll.
	CheckFailed
)

// String renders the status for logs and CLI output.
func (s CheckStatus) String() string {
	switch s {
	case CheckUpToDate:
		return "UpToDate"
	case CheckUpdateAvailable:
		return "UpdateAvailable"
	case CheckFailed:
		return "CheckFailed"
	default:
		return "Unknown"
	}
}

// CheckResult carries the status plus the manifest when one was obtained.
type CheckResult struct {
	// Status is the poll outcome.
	Status CheckStatus
	// Manifest is set when Status is CheckUpdateAvailable or CheckUpToDate.
	Manifest *Manifest
	// Reason explains a CheckFailed outcome.
	Reason error
}

// UpdateResult is the outcome of one apply attempt.
type UpdateResult int

const (
	// UpdateApplied means the new artifact is verified, installed and active.
	UpdateApplied UpdateResult = iota
	// AlreadyUpToDate means the manifest's version is already installed;
	// the apply was a no-op.
	AlreadyUpToDate
	// UpdateFailedRolledBack means the swap failed its post-write integrity
	// check and the previous artifact was restored from the backup slot.
	UpdateFailedRolledBack
	// UpdateFailed means the cycle aborted before touching the active
	// artifact; the installed state is unchanged.
	UpdateFailed
)

// String renders the result for logs and CLI output.
func (r UpdateResult) String() string {
	switch r {
	case UpdateApplied:
		return "UpdateApplied"
	case AlreadyUpToDate:
		return "AlreadyUpToDate"
	case UpdateFailedRolledBack:
		return "UpdateFailedRolledBack"
	case UpdateFailed:
		return "UpdateFailed"
	default:
		return "Unknown"
	}
}
