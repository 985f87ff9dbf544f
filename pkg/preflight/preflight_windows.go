//go:build windows

package preflight

import (
	"path/filepath"
	"strings"
)

// isUnsafeRoot checks if the given path is empty, a drive root or a bare drive letter (e.g., "C:").
func isUnsafeRoot(path string) bool {
	if path == "" || path == "." || path == string(filepath.Separator) {
		return true
	}
	if vol := filepath.VolumeName(path); vol != "" && filepath.Clean(path) == filepath.Clean(vol+string(filepath.Separator)) {
		return true
	}

	// A bare drive letter like "C:" is also unsafe because it's ambiguous.
	// filepath.Clean("C:") produces "C:.", so we must also check for that pattern.
	// A UNC path like `\\server\share` is safe because its volume name contains a separator.
	vol := filepath.VolumeName(path)
	isBareDrive := vol != "" && path == vol && !strings.Contains(vol, string(filepath.Separator))
	isCleanedBareDrive := vol != "" && path == vol+"."
	return isBareDrive || isCleanedBareDrive
}

// samePath compares case-insensitively, as NTFS does by default.
func samePath(a, b string) bool {
	return strings.EqualFold(filepath.Clean(a), filepath.Clean(b))
}
