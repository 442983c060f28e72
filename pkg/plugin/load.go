package plugin

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Ids name the backup set directory of a plugin.
var validID = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9._-]*$`)

// Supported descriptor file extensions.
var descriptorExts = map[string]bool{".json": true, ".yaml": true, ".yml": true}

// rawDescriptor mirrors the file format. Enum values stay strings here so
// that every validation failure can be reported as a ConfigError with a field path.
type rawDescriptor struct {
	ID        string       `json:"id" yaml:"id"`
	Name      string       `json:"name" yaml:"name"`
	Kind      string       `json:"kind" yaml:"kind"`
	Detection rawDetection `json:"detection" yaml:"detection"`
	Groups    []rawGroup   `json:"groups" yaml:"groups"`
}

type rawDetection struct {
	Strategy string   `json:"strategy" yaml:"strategy"`
	Name     string   `json:"name" yaml:"name"`
	Paths    []string `json:"paths" yaml:"paths"`
	Contains string   `json:"contains" yaml:"contains"`
}

type rawGroup struct {
	Name  string    `json:"name" yaml:"name"`
	Items []rawItem `json:"items" yaml:"items"`
}

type rawItem struct {
	Kind               string   `json:"kind" yaml:"kind"`
	SourcePath         string   `json:"sourcePath" yaml:"sourcePath"`
	TargetRelativePath string   `json:"targetRelativePath" yaml:"targetRelativePath"`
	ExcludePatterns    []string `json:"excludePatterns" yaml:"excludePatterns"`
	SkipIfMissing      bool     `json:"skipIfMissing" yaml:"skipIfMissing"`
}

// IsDescriptorFile reports whether name has a descriptor extension.
func IsDescriptorFile(name string) bool {
	return descriptorExts[strings.ToLower(filepath.Ext(name))]
}

// Load reads and validates a single descriptor file.
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read plugin descriptor %s: %w", path, err)
	}
	return Decode(data, path)
}

// Decode parses descriptor data. The format is chosen by the extension of path.
func Decode(data []byte, path string) (*Descriptor, error) {
	var raw rawDescriptor
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&raw); err != nil {
			return nil, &ConfigError{Path: path, Reason: err.Error()}
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return nil, &ConfigError{Path: path, Reason: err.Error()}
		}
	default:
		return nil, &ConfigError{Path: path, Reason: "unsupported file extension, use .json, .yaml or .yml"}
	}
	return build(&raw, path)
}

// LoadDir loads every descriptor in dir, sorted by file name. Broken files do not
// stop the others from loading; their ConfigErrors are joined into the returned error.
func LoadDir(dir string) ([]*Descriptor, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("could not read plugin directory %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !IsDescriptorFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var descs []*Descriptor
	var errs []error
	seen := make(map[string]string)
	for _, name := range names {
		path := filepath.Join(dir, name)
		d, err := Load(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if first, ok := seen[d.ID]; ok {
			errs = append(errs, &ConfigError{Path: path, Field: "id", Reason: fmt.Sprintf("duplicate id %q, already defined in %s", d.ID, first)})
			continue
		}
		seen[d.ID] = path
		descs = append(descs, d)
	}
	return descs, errors.Join(errs...)
}

func build(raw *rawDescriptor, path string) (*Descriptor, error) {
	fail := func(field, format string, args ...any) error {
		return &ConfigError{Path: path, Field: field, Reason: fmt.Sprintf(format, args...)}
	}

	d := &Descriptor{
		ID:   strings.TrimSpace(raw.ID),
		Name: strings.TrimSpace(raw.Name),
		Path: path,
	}
	if d.ID == "" {
		return nil, fail("id", "must not be empty")
	}
	if !validID.MatchString(d.ID) {
		return nil, fail("id", "%q may only contain letters, digits, '.', '_' and '-'", d.ID)
	}
	if d.Name == "" {
		return nil, fail("name", "must not be empty")
	}

	kind, err := ParseKind(raw.Kind)
	if err != nil {
		return nil, fail("kind", "%v", err)
	}
	d.Kind = kind

	detection, err := buildDetection(kind, d.Name, raw.Detection)
	if err != nil {
		return nil, fail("detection", "%v", err)
	}
	d.Detection = detection

	if len(raw.Groups) == 0 {
		return nil, fail("groups", "must contain at least one group")
	}

	groupNames := make(map[string]bool, len(raw.Groups))
	for gi, rg := range raw.Groups {
		gField := fmt.Sprintf("groups[%d]", gi)
		name := strings.TrimSpace(rg.Name)
		if name == "" {
			return nil, fail(gField+".name", "must not be empty")
		}
		if groupNames[name] {
			return nil, fail(gField+".name", "duplicate group name %q", name)
		}
		groupNames[name] = true

		if len(rg.Items) == 0 {
			return nil, fail(gField+".items", "must contain at least one item")
		}

		group := BackupConfigGroup{Name: name, Items: make([]BackupItemConfig, 0, len(rg.Items))}
		for ii, ri := range rg.Items {
			iField := fmt.Sprintf("%s.items[%d]", gField, ii)
			item, err := buildItem(ri)
			if err != nil {
				var fe *fieldErr
				if errors.As(err, &fe) {
					return nil, fail(iField+"."+fe.field, "%s", fe.reason)
				}
				return nil, fail(iField, "%v", err)
			}
			group.Items = append(group.Items, item)
		}
		d.Groups = append(d.Groups, group)
	}

	d.Finalize()
	return d, nil
}

type fieldErr struct {
	field  string
	reason string
}

func (e *fieldErr) Error() string { return e.field + ": " + e.reason }

func buildItem(ri rawItem) (BackupItemConfig, error) {
	kind, err := ParseItemKind(ri.Kind)
	if err != nil {
		return BackupItemConfig{}, &fieldErr{field: "kind", reason: err.Error()}
	}
	if strings.TrimSpace(ri.SourcePath) == "" {
		return BackupItemConfig{}, &fieldErr{field: "sourcePath", reason: "must not be empty"}
	}
	if strings.TrimSpace(ri.TargetRelativePath) == "" {
		return BackupItemConfig{}, &fieldErr{field: "targetRelativePath", reason: "must not be empty"}
	}
	if len(ri.ExcludePatterns) > 0 && kind != Directory {
		return BackupItemConfig{}, &fieldErr{field: "excludePatterns", reason: "only directory items can have exclude patterns"}
	}

	item := BackupItemConfig{
		Kind:               kind,
		SourcePath:         ri.SourcePath,
		TargetRelativePath: ri.TargetRelativePath,
		Excludes:           ri.ExcludePatterns,
		SkipIfMissing:      ri.SkipIfMissing,
	}
	for i, pattern := range ri.ExcludePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return BackupItemConfig{}, &fieldErr{field: fmt.Sprintf("excludePatterns[%d]", i), reason: err.Error()}
		}
		item.ExcludePatterns = append(item.ExcludePatterns, re)
	}
	return item, nil
}

func buildDetection(kind Kind, pluginName string, rd rawDetection) (Detection, error) {
	det := Detection{
		Name:     strings.TrimSpace(rd.Name),
		Paths:    rd.Paths,
		Contains: strings.TrimSpace(rd.Contains),
	}
	if det.Name == "" {
		det.Name = pluginName
	}

	if rd.Strategy == "" {
		switch kind {
		case Installer:
			det.Strategy = ByName
		case Portable:
			det.Strategy = PathExists
		}
	} else {
		s, err := ParseStrategy(rd.Strategy)
		if err != nil {
			return Detection{}, err
		}
		det.Strategy = s
	}

	if kind == Custom {
		if rd.Strategy != "" {
			return Detection{}, fmt.Errorf("custom plugins are never detected and must not declare a strategy")
		}
		return det, nil
	}

	switch det.Strategy {
	case PathExists:
		if len(det.Paths) == 0 {
			return Detection{}, fmt.Errorf("strategy %s requires at least one path", det.Strategy)
		}
	case InstallLocationContains:
		if det.Contains == "" {
			return Detection{}, fmt.Errorf("strategy %s requires a 'contains' value", det.Strategy)
		}
	}
	return det, nil
}
