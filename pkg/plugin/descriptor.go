// Package plugin holds the declarative plugin descriptors: what to back up for
// one piece of software, and how to find where it is installed.
package plugin

import (
	"regexp"
	"sort"
)

// BackupItemConfig is one declared backup/restore unit.
type BackupItemConfig struct {
	Kind               ItemKind `json:"kind"`
	SourcePath         string   `json:"sourcePath"`
	TargetRelativePath string   `json:"targetRelativePath"`
	Excludes           []string `json:"excludePatterns,omitempty"`
	SkipIfMissing      bool     `json:"skipIfMissing,omitempty"`

	// ExcludePatterns are the compiled Excludes. They are matched against
	// forward-slash paths relative to the copied directory.
	ExcludePatterns []*regexp.Regexp `json:"-"`
}

// BackupConfigGroup is a named, ordered list of items, e.g. "Settings".
type BackupConfigGroup struct {
	Name  string             `json:"name"`
	Items []BackupItemConfig `json:"items"`
}

// Detection describes how DetectionMatcher binds a plugin to an install directory.
type Detection struct {
	Strategy Strategy `json:"strategy"`
	// Name is matched against installed display names. Defaults to the plugin name.
	Name string `json:"name,omitempty"`
	// Paths are checked in order for path-exists; placeholders are resolved first.
	Paths []string `json:"paths,omitempty"`
	// Contains is the install-location substring for install-location-contains.
	Contains string `json:"contains,omitempty"`
}

// Descriptor is a loaded and validated plugin.
type Descriptor struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Kind      Kind                `json:"kind"`
	Detection Detection           `json:"detection"`
	Groups    []BackupConfigGroup `json:"groups"`

	// TotalItemCount is computed once at load time and is the progress
	// denominator of every task created from this descriptor.
	TotalItemCount int `json:"totalItemCount"`

	// Path is the file the descriptor was loaded from.
	Path string `json:"-"`
}

// Finalize computes the derived fields. The loader calls it exactly once.
func (d *Descriptor) Finalize() {
	total := 0
	for _, g := range d.Groups {
		total += len(g.Items)
	}
	d.TotalItemCount = total
}

// Group returns the group with the given name.
func (d *Descriptor) Group(name string) (*BackupConfigGroup, bool) {
	for i := range d.Groups {
		if d.Groups[i].Name == name {
			return &d.Groups[i], true
		}
	}
	return nil, false
}

// Index maps descriptors by id.
func Index(descs []*Descriptor) map[string]*Descriptor {
	m := make(map[string]*Descriptor, len(descs))
	for _, d := range descs {
		m[d.ID] = d
	}
	return m
}

// SortByName orders descriptors by display name, then id.
func SortByName(descs []*Descriptor) {
	sort.SliceStable(descs, func(i, j int) bool {
		if descs[i].Name != descs[j].Name {
			return descs[i].Name < descs[j].Name
		}
		return descs[i].ID < descs[j].ID
	})
}
