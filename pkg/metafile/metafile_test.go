package metafile

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestWriteAndReadMetafile(t *testing.T) {
	tempDir := t.TempDir()

	testContent := MetafileContent{
		Version:           "1.0.0",
		UUID:              "test-uuid-1234",
		PluginID:          "vscode",
		PluginName:        "Visual Studio Code",
		InstallDir:        `C:\Program Files\Microsoft VS Code`,
		TimestampUTC:      time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC),
		Success:           true,
		ItemCount:         4,
		SizeBytes:         2048,
		IsCompressed:      true,
		CompressionFormat: "tar.zst",
	}

	if err := Write(tempDir, &testContent); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	metaFilePath := filepath.Join(tempDir, ".pgl-appsave.meta.json")
	if _, err := os.Stat(metaFilePath); os.IsNotExist(err) {
		t.Fatalf("Metafile was not created at %s", metaFilePath)
	}

	readContent, err := Read(tempDir)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if !reflect.DeepEqual(readContent, testContent) {
		t.Errorf("Expected %+v, got %+v", testContent, readContent)
	}
}

func TestReadNonExistentMetafile(t *testing.T) {
	_, err := Read(t.TempDir())
	if err == nil {
		t.Fatal("Expected an error when reading a non-existent metafile, but got nil")
	}
	if !os.IsNotExist(err) {
		t.Errorf("Expected os.IsNotExist error, got %v", err)
	}
}

func TestReadCorruptMetafile(t *testing.T) {
	tempDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tempDir, MetaFileName), []byte("{invalid json"), 0644); err != nil {
		t.Fatalf("Failed to write corrupt metafile: %v", err)
	}

	_, err := Read(tempDir)
	if err == nil {
		t.Fatal("Expected an error when reading a corrupt metafile, but got nil")
	}
	if !strings.Contains(err.Error(), "could not parse metafile") {
		t.Errorf("Expected error about parsing metafile, got %v", err)
	}
}
