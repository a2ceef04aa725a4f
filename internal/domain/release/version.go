package release

import (
	"errors"
	"regexp"
)

// errVersionNotFound is returned when an artifact carries no version marker.
var errVersionNotFound = errors.New("version marker not found in artifact")

// versionMarkerPattern matches the `ls_version = "x.y.z"` assignment the
// core artifact carries near its top.
//
//nolint:gochecknoglobals // Compiled once; the pattern is immutable.
var versionMarkerPattern = regexp.MustCompile(`ls_version\s*=\s*["']([^"']+)["']`)

// ExtractVersion pulls the embedded version string out of artifact bytes.
// The artifact is otherwise treated as opaque; this marker is the only
// structure the pipeline assumes about its contents.
func ExtractVersion(artifact []byte) (string, error) {
	match := versionMarkerPattern.FindSubmatch(artifact)
	if match == nil {
		return "", errVersionNotFound
	}

	return string(match[1]), nil
}
