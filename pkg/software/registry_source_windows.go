//go:build windows

package software

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/sys/windows/registry"
)

type uninstallRoot struct {
	root     registry.Key
	rootName string
	path     string
}

var uninstallRoots = []uninstallRoot{
	{registry.LOCAL_MACHINE, "HKEY_LOCAL_MACHINE", `SOFTWARE\Microsoft\Windows\CurrentVersion\Uninstall`},
	{registry.LOCAL_MACHINE, "HKEY_LOCAL_MACHINE", `SOFTWARE\WOW6432Node\Microsoft\Windows\CurrentVersion\Uninstall`},
	{registry.CURRENT_USER, "HKEY_CURRENT_USER", `SOFTWARE\Microsoft\Windows\CurrentVersion\Uninstall`},
}

// RegistrySource enumerates the Windows Uninstall keys.
type RegistrySource struct{}

// NewRegistrySource creates a RegistrySource.
func NewRegistrySource() *RegistrySource {
	return &RegistrySource{}
}

// List implements Source. Entries without a display name or marked as system
// components are skipped.
func (s *RegistrySource) List(ctx context.Context) ([]Software, error) {
	var list []Software
	for _, ur := range uninstallRoots {
		k, err := registry.OpenKey(ur.root, ur.path, registry.ENUMERATE_SUB_KEYS|registry.QUERY_VALUE)
		if err != nil {
			if errors.Is(err, registry.ErrNotExist) {
				continue
			}
			return nil, err
		}
		names, err := k.ReadSubKeyNames(-1)
		k.Close()
		if err != nil {
			return nil, err
		}

		for _, name := range names {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			if sw, ok := readEntry(ur, name); ok {
				list = append(list, sw)
			}
		}
	}
	list = Normalize(list)
	SortByName(list)
	return list, nil
}

func readEntry(ur uninstallRoot, name string) (Software, bool) {
	k, err := registry.OpenKey(ur.root, ur.path+`\`+name, registry.QUERY_VALUE)
	if err != nil {
		return Software{}, false
	}
	defer k.Close()

	if v, _, err := k.GetIntegerValue("SystemComponent"); err == nil && v == 1 {
		return Software{}, false
	}
	displayName := stringValue(k, "DisplayName")
	if displayName == "" {
		return Software{}, false
	}

	icon := stringValue(k, "DisplayIcon")
	// DisplayIcon is often "path,index"; keep the path.
	if i := strings.LastIndex(icon, ","); i > 0 {
		icon = icon[:i]
	}

	return Software{
		Name:        displayName,
		InstallDir:  strings.TrimRight(strings.Trim(stringValue(k, "InstallLocation"), `"`), `\`),
		RegistryDir: ur.rootName + `\` + ur.path + `\` + name,
		Version:     stringValue(k, "DisplayVersion"),
		Publisher:   stringValue(k, "Publisher"),
		DisplayIcon: strings.Trim(icon, `"`),
	}, true
}

func stringValue(k registry.Key, name string) string {
	v, _, err := k.GetStringValue(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(v)
}
