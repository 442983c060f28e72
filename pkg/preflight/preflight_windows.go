//go:build windows

package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/windows"
)

// checkVolumeExists verifies that the drive or network share root for a given
// path exists. For "Z:\backup" it checks that drive Z is present.
func checkVolumeExists(path string) error {
	volume := filepath.VolumeName(path)
	if volume == "" {
		return nil
	}

	if len(volume) == 2 && volume[1] == ':' {
		letter := strings.ToUpper(volume)[0]
		if letter < 'A' || letter > 'Z' {
			return fmt.Errorf("invalid drive letter: %s", volume)
		}
		drives, err := windows.GetLogicalDrives()
		if err != nil {
			return fmt.Errorf("failed to list logical drives: %w", err)
		}
		if drives&(uint32(1)<<(letter-'A')) == 0 {
			return fmt.Errorf("volume root does not exist: %s\\. Ensure the drive is connected", volume)
		}
		return nil
	}

	// Network share.
	checkVol := filepath.Clean(volume + string(filepath.Separator))
	if _, err := os.Stat(checkVol); os.IsNotExist(err) {
		return fmt.Errorf("volume root does not exist: %s. Ensure the share is reachable", checkVol)
	}
	return nil
}

// isUnsafeRoot checks if the given path is the current directory or a bare drive letter (e.g., "C:").
func isUnsafeRoot(path string) bool {
	if path == "" || path == "." || path == string(filepath.Separator) {
		return true
	}

	// filepath.Clean("C:") produces "C:.", so both forms count as bare.
	// A UNC path like `\\server\share` is safe because its volume name contains a separator.
	vol := filepath.VolumeName(path)
	isBareDrive := vol != "" && path == vol && !strings.Contains(vol, string(filepath.Separator))
	isCleanedBareDrive := vol != "" && path == vol+"."
	return isBareDrive || isCleanedBareDrive
}
