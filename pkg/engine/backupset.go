package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/paulschiretz/pgl-appsave/pkg/metafile"
	"github.com/paulschiretz/pgl-appsave/pkg/pathcompression"
	"github.com/paulschiretz/pgl-appsave/pkg/planner"
	"github.com/paulschiretz/pgl-appsave/pkg/plog"
)

// Layout of a backup set below the data directory:
//
//	<base>/<pluginID>/.pgl-appsave.meta.json
//	<base>/<pluginID>/content/            uncompressed items
//	<base>/<pluginID>/content.<format>    compressed items
const contentDirName = "content"

var archiveFormats = []pathcompression.Format{pathcompression.TarZst, pathcompression.TarGz, pathcompression.Zip}

// SetDir is the backup set directory of a plugin.
func SetDir(base, pluginID string) string {
	return filepath.Join(base, pluginID)
}

// ContentDir is where the items of a set live while uncompressed. It is the
// BackupPath of every task of the plugin.
func ContentDir(setDir string) string {
	return filepath.Join(setDir, contentDirName)
}

// ArchivePath is the compressed content of a set in the given format.
func ArchivePath(setDir string, format pathcompression.Format) string {
	return filepath.Join(setDir, contentDirName+format.Extension())
}

// BackupSet is a set directory together with its metadata.
type BackupSet struct {
	Dir  string
	Meta metafile.MetafileContent
}

// ListBackupSets scans base for backup sets. Directories without a metafile
// are not sets and are ignored; unreadable metafiles are logged and skipped.
func ListBackupSets(ctx context.Context, base string, order planner.SortOrder) ([]BackupSet, error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			plog.Debug("Data directory does not exist yet, no backup sets.", "path", base)
			return []BackupSet{}, nil
		}
		return nil, fmt.Errorf("failed to read data directory %s: %w", base, err)
	}

	sets := make([]BackupSet, 0, len(entries))
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(base, entry.Name())
		meta, err := metafile.Read(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				plog.Warn("Skipping backup set; cannot read metadata", "directory", entry.Name(), "reason", err)
			}
			continue
		}
		sets = append(sets, BackupSet{Dir: dir, Meta: meta})
	}

	sort.SliceStable(sets, func(i, j int) bool {
		if order == planner.Asc {
			return sets[i].Meta.TimestampUTC.Before(sets[j].Meta.TimestampUTC)
		}
		return sets[i].Meta.TimestampUTC.After(sets[j].Meta.TimestampUTC)
	})
	return sets, nil
}
