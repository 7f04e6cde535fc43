package utils

import "path/filepath"

// ResolvePath resolves a path against a base directory. Absolute paths and
// the empty string are returned unchanged.
func ResolvePath(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
