//go:build !windows

package preflight

// checkVolumeExists is a no-op on Unix; there are no drive letters.
func checkVolumeExists(path string) error {
	return nil
}

// isUnsafeRoot reports whether path is the filesystem root or the current directory.
func isUnsafeRoot(path string) bool {
	return path == "" || path == "." || path == "/"
}
