// Package software is the installed-software discovery collaborator. It only
// produces snapshots; matching plugins against them lives in package detect.
package software

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/paulschiretz/pgl-appsave/pkg/hints"
)

// ErrUnsupported is returned by sources that cannot run on this platform.
var ErrUnsupported = hints.New("software discovery is not supported on this platform")

// Software is one installed program as reported by the discovery source.
type Software struct {
	Name               string `json:"name"`
	NameWithoutVersion string `json:"nameWithoutVersion"`
	InstallDir         string `json:"installDir"`
	RegistryDir        string `json:"registryDir,omitempty"`
	Version            string `json:"version,omitempty"`
	Publisher          string `json:"publisher,omitempty"`
	DisplayIcon        string `json:"displayIcon,omitempty"`
}

// Source lists the installed software.
type Source interface {
	List(ctx context.Context) ([]Software, error)
}

// versionSuffix matches trailing version noise such as " 2.44.0", " (64-bit)",
// " v1.2", " - 3.1 (x64)". Stripping is repeated until nothing matches.
var versionSuffix = regexp.MustCompile(`(?i)\s+(?:-\s*)?(?:\(\s*(?:x64|x86|64-bit|32-bit|64 bit|32 bit)\s*\)|\(?v?\d+(?:\.\d+)+[a-z0-9.-]*\)?|\(?v\d+\)?)$`)

// StripVersion removes trailing version and architecture suffixes from a display name.
func StripVersion(name string) string {
	stripped := strings.TrimSpace(name)
	for {
		next := strings.TrimSpace(versionSuffix.ReplaceAllString(stripped, ""))
		if next == stripped || next == "" {
			return stripped
		}
		stripped = next
	}
}

// Normalize fills derived fields that a source left empty.
func Normalize(list []Software) []Software {
	out := make([]Software, len(list))
	for i, s := range list {
		s.Name = strings.TrimSpace(s.Name)
		if s.NameWithoutVersion == "" {
			s.NameWithoutVersion = StripVersion(s.Name)
		}
		out[i] = s
	}
	return out
}

// SortByName orders a snapshot by display name. Detection is first-match, so a
// stable order keeps results reproducible between runs.
func SortByName(list []Software) {
	sort.SliceStable(list, func(i, j int) bool {
		return strings.ToLower(list[i].Name) < strings.ToLower(list[j].Name)
	})
}

// FileSource reads a JSON snapshot, a list of Software records. It is the
// discovery source on platforms without an uninstall registry and in tests.
type FileSource struct {
	Path string
}

// NewFileSource creates a FileSource for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

// List reads the snapshot. A missing file yields an empty list.
func (s *FileSource) List(ctx context.Context) ([]Software, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("could not read software snapshot %s: %w", s.Path, err)
	}

	var list []Software
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("could not parse software snapshot %s: %w", s.Path, err)
	}
	return Normalize(list), nil
}

// WriteSnapshot stores list as a JSON snapshot readable by FileSource.
func WriteSnapshot(path string, list []Software) error {
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal software snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("could not write software snapshot %s: %w", path, err)
	}
	return nil
}

// MultiSource concatenates the lists of several sources. Sources returning
// ErrUnsupported are skipped.
type MultiSource []Source

// List implements Source.
func (m MultiSource) List(ctx context.Context) ([]Software, error) {
	var all []Software
	for _, src := range m {
		list, err := src.List(ctx)
		if err != nil {
			if hints.IsHint(err) {
				continue
			}
			return nil, err
		}
		all = append(all, list...)
	}
	return all, nil
}
