// Package metafile reads and writes the descriptor file of a backup set,
// stored next to the set's content as <plugin dir>/.pgl-appsave.meta.json.
package metafile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/paulschiretz/pgl-appsave/pkg/buildinfo"
	"github.com/paulschiretz/pgl-appsave/pkg/util"
)

// MetaFileName is the name of the backup set metadata file.
const MetaFileName = buildinfo.MetaPrefix + ".meta.json"

// MetafileContent holds the contents of the metadata file.
type MetafileContent struct {
	Version      string    `json:"version"`
	UUID         string    `json:"uuid"` // id of the task that wrote the set
	PluginID     string    `json:"pluginId"`
	PluginName   string    `json:"pluginName"`
	InstallDir   string    `json:"installDir,omitempty"`
	TimestampUTC time.Time `json:"timestampUTC"`
	Success      bool      `json:"success"`
	ItemCount    int       `json:"itemCount"`
	SizeBytes    int64     `json:"sizeBytes"`

	IsCompressed      bool   `json:"isCompressed,omitempty"`
	CompressionFormat string `json:"compressionFormat,omitempty"`
}

// Write creates or replaces the metafile in dirPath.
func Write(dirPath string, content *MetafileContent) error {
	metaFilePath := filepath.Join(dirPath, MetaFileName)
	jsonData, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal meta data: %w", err)
	}

	// Group-writable: the metafile is part of the backup data, not of the tool's own state.
	if err := os.WriteFile(metaFilePath, jsonData, util.UserGroupWritableFilePerms); err != nil {
		return fmt.Errorf("could not write meta file %s: %w", metaFilePath, err)
	}
	return nil
}

// Read opens and parses the metafile in dirPath. A missing file returns an
// error for which os.IsNotExist is true.
func Read(dirPath string) (MetafileContent, error) {
	metaFilePath := filepath.Join(dirPath, MetaFileName)
	metaFile, err := os.Open(metaFilePath)
	if err != nil {
		return MetafileContent{}, err
	}
	defer metaFile.Close()

	var content MetafileContent
	if err := json.NewDecoder(metaFile).Decode(&content); err != nil {
		return MetafileContent{}, fmt.Errorf("could not parse metafile %s: %w. It may be corrupt", metaFilePath, err)
	}
	return content, nil
}
