// Package preflight provides validation that runs before tasks are started.
// The checks are stateless and idempotent with one exception: the writable
// check creates the data directory. They exist to fail a run early with a
// readable error instead of failing every item of every task.
package preflight

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulschiretz/pgl-appsave/pkg/buildinfo"
	"github.com/paulschiretz/pgl-appsave/pkg/plog"
	"github.com/paulschiretz/pgl-appsave/pkg/util"
)

// Run executes the checks enabled in p. dataDir is the base directory holding
// all backup sets; backupSetDirs are the per-plugin set directories a restore reads.
func Run(p *Plan, dataDir string, backupSetDirs []string) error {
	if p.DataDirAccessible {
		if err := CheckDataDirAccessible(dataDir); err != nil {
			return err
		}
	}
	if p.DataDirWritable {
		if p.DryRun {
			plog.Debug("[DRY RUN] Skipping data directory write check", "path", dataDir)
		} else if err := CheckDataDirWritable(dataDir); err != nil {
			return err
		}
	}
	if p.BackupSetReadable {
		for _, dir := range backupSetDirs {
			if err := CheckBackupSetReadable(dir); err != nil {
				return err
			}
		}
	}
	return nil
}

// CheckDataDirAccessible ensures the data directory is usable, or can be created.
//
// The checks include:
//  1. The path is not an ambiguous root such as "." or a bare drive letter.
//  2. On Windows, the drive or network share (e.g., "Z:", "\\Server\Share") exists.
//  3. If the path exists, it is a directory.
//  4. If the path does not exist, its deepest existing ancestor is a readable directory.
func CheckDataDirAccessible(dataDir string) error {
	if isUnsafeRoot(dataDir) {
		return fmt.Errorf("data directory %q is not allowed, use a dedicated folder", dataDir)
	}
	if err := checkVolumeExists(dataDir); err != nil {
		return err
	}

	info, err := os.Stat(dataDir)
	if os.IsNotExist(err) {
		ancestor := dataDir
		for {
			parent := filepath.Dir(ancestor)
			if parent == ancestor {
				break // Hit root
			}
			ancestor = parent
			if _, err := os.Stat(ancestor); err == nil {
				break
			}
		}
		if _, err := os.ReadDir(ancestor); err != nil {
			return fmt.Errorf("cannot access ancestor directory %s: %w", ancestor, err)
		}
		return nil
	} else if err != nil {
		return fmt.Errorf("cannot access data directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("data directory exists but is not a directory: %s", dataDir)
	}
	return nil
}

// CheckDataDirWritable creates the data directory if needed and verifies a
// file can be written into it.
func CheckDataDirWritable(dataDir string) error {
	if info, err := os.Stat(dataDir); err == nil && !info.IsDir() {
		return fmt.Errorf("data directory exists but is not a directory: %s", dataDir)
	}
	if err := os.MkdirAll(dataDir, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}

	tempFile := filepath.Join(dataDir, buildinfo.MetaPrefix+"-writetest.tmp")
	f, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("data directory %s is not writable: %w", dataDir, err)
	}
	f.Close()
	_ = os.Remove(tempFile)
	return nil
}

// CheckBackupSetReadable validates that a backup set directory exists and can be listed.
func CheckBackupSetReadable(setDir string) error {
	info, err := os.Stat(setDir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("backup set %s does not exist", setDir)
		}
		return fmt.Errorf("cannot stat backup set %s: %w", setDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("backup set %s is not a directory", setDir)
	}
	if _, err := os.ReadDir(setDir); err != nil {
		return fmt.Errorf("backup set %s is not readable: %w", setDir, err)
	}
	return nil
}
