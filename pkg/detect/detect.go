// Package detect binds plugins to install directories using a snapshot of the
// installed software. Apart from the stat calls of the path-exists strategy it
// performs no I/O.
package detect

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-appsave/pkg/pathresolve"
	"github.com/paulschiretz/pgl-appsave/pkg/plugin"
	"github.com/paulschiretz/pgl-appsave/pkg/software"
)

// Result is a successful detection.
type Result struct {
	// Software is the matched installed entry. Nil for path-exists matches.
	Software   *software.Software
	InstallDir string
}

// ValidatedDescriptor is a descriptor plus its binding. Values are never
// mutated; re-detection produces fresh ones.
type ValidatedDescriptor struct {
	*plugin.Descriptor
	// SoftInstallDir is empty when the plugin is unbound.
	SoftInstallDir string
	DisplayName    string
	DisplayIcon    string
}

// Bound reports whether an install directory is known.
func (v ValidatedDescriptor) Bound() bool {
	return v.SoftInstallDir != ""
}

// Detect runs the descriptor's detection strategy. Custom plugins are never detected.
func Detect(desc *plugin.Descriptor, installed []software.Software, env map[string]string) (Result, bool) {
	if desc == nil || desc.Kind == plugin.Custom {
		return Result{}, false
	}

	switch desc.Detection.Strategy {
	case plugin.ByName:
		return byName(desc.Detection.Name, installed)
	case plugin.PathExists:
		return pathExists(desc.Detection.Paths, env)
	case plugin.InstallLocationContains:
		return installLocationContains(desc.Detection.Contains, installed)
	}
	return Result{}, false
}

// NormalizeName is the comparison form of a display name: version suffix
// stripped, trimmed and case-folded.
func NormalizeName(name string) string {
	return strings.ToLower(software.StripVersion(name))
}

// byName returns the first entry whose version-less name matches. Duplicates
// are not disambiguated.
func byName(name string, installed []software.Software) (Result, bool) {
	want := NormalizeName(name)
	if want == "" {
		return Result{}, false
	}
	for i := range installed {
		candidate := installed[i].NameWithoutVersion
		if candidate == "" {
			candidate = installed[i].Name
		}
		if NormalizeName(candidate) == want {
			sw := installed[i]
			return Result{Software: &sw, InstallDir: sw.InstallDir}, true
		}
	}
	return Result{}, false
}

func pathExists(paths []string, env map[string]string) (Result, bool) {
	for _, p := range paths {
		resolved := pathresolve.Resolve(p, env, "")
		if len(pathresolve.Unresolved(resolved)) > 0 {
			continue
		}
		if _, err := os.Stat(resolved); err == nil {
			return Result{InstallDir: filepath.Clean(resolved)}, true
		}
	}
	return Result{}, false
}

func installLocationContains(substr string, installed []software.Software) (Result, bool) {
	needle := strings.ToLower(strings.TrimSpace(substr))
	if needle == "" {
		return Result{}, false
	}
	for i := range installed {
		if installed[i].InstallDir == "" {
			continue
		}
		if strings.Contains(strings.ToLower(installed[i].InstallDir), needle) {
			sw := installed[i]
			return Result{Software: &sw, InstallDir: sw.InstallDir}, true
		}
	}
	return Result{}, false
}

// Validate produces the ValidatedDescriptor for one plugin. customDirs supplies
// install directories for custom plugins, keyed by plugin id.
func Validate(desc *plugin.Descriptor, installed []software.Software, env map[string]string, customDirs map[string]string) ValidatedDescriptor {
	v := ValidatedDescriptor{Descriptor: desc, DisplayName: desc.Name}

	if desc.Kind == plugin.Custom {
		v.SoftInstallDir = customDirs[desc.ID]
		return v
	}

	res, ok := Detect(desc, installed, env)
	if !ok {
		return v
	}
	v.SoftInstallDir = res.InstallDir
	if res.Software != nil && desc.Kind == plugin.Installer {
		v.DisplayName = res.Software.Name
		v.DisplayIcon = res.Software.DisplayIcon
	}
	return v
}

// ValidateAll validates every descriptor against the same snapshot.
func ValidateAll(descs []*plugin.Descriptor, installed []software.Software, env map[string]string, customDirs map[string]string) []ValidatedDescriptor {
	out := make([]ValidatedDescriptor, 0, len(descs))
	for _, d := range descs {
		out = append(out, Validate(d, installed, env, customDirs))
	}
	return out
}
