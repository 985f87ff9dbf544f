//go:build !windows

package preflight

import "path/filepath"

// isUnsafeRoot rejects "/" and the empty path.
func isUnsafeRoot(path string) bool {
	return path == "" || filepath.Clean(path) == "/"
}

func samePath(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}
