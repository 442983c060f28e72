// Package registry is the OS registry collaborator: export a key subtree to a
// .reg file, import a .reg file, list the values of a key.
//
// Native talks to the Windows registry (reg.exe for export/import, the
// registry API for listing). Memory is a portable in-process registry that
// speaks the same .reg format.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrUnsupported is returned by Native on platforms without a registry.
var ErrUnsupported = errors.New("registry operations are only supported on windows")

// ErrKeyNotFound wraps os.ErrNotExist so skip-if-missing handling treats a
// missing key like a missing file.
var ErrKeyNotFound = fmt.Errorf("registry key not found: %w", os.ErrNotExist)

// Registry is the primitive consumed by the item operator.
type Registry interface {
	// ExportKey writes the subtree at keyPath to destFile and returns the file size.
	ExportKey(ctx context.Context, keyPath, destFile string) (int64, error)
	// ImportKey applies srcFile and returns its size. Key locations come from the file.
	ImportKey(ctx context.Context, srcFile string) (int64, error)
	// ListValues returns the values directly under keyPath, or nil if the key does not exist.
	ListValues(ctx context.Context, keyPath string) (map[string]string, error)
}

var rootAliases = map[string]string{
	"HKCU":                "HKEY_CURRENT_USER",
	"HKEY_CURRENT_USER":   "HKEY_CURRENT_USER",
	"HKLM":                "HKEY_LOCAL_MACHINE",
	"HKEY_LOCAL_MACHINE":  "HKEY_LOCAL_MACHINE",
	"HKCR":                "HKEY_CLASSES_ROOT",
	"HKEY_CLASSES_ROOT":   "HKEY_CLASSES_ROOT",
	"HKU":                 "HKEY_USERS",
	"HKEY_USERS":          "HKEY_USERS",
	"HKCC":                "HKEY_CURRENT_CONFIG",
	"HKEY_CURRENT_CONFIG": "HKEY_CURRENT_CONFIG",
}

// SplitKeyPath splits a key path into its long root name and the subkey path.
// Forward slashes are accepted as separators.
func SplitKeyPath(keyPath string) (root, sub string, err error) {
	p := strings.Trim(strings.ReplaceAll(strings.TrimSpace(keyPath), "/", `\`), `\`)
	head, rest, _ := strings.Cut(p, `\`)
	long, ok := rootAliases[strings.ToUpper(head)]
	if !ok {
		return "", "", fmt.Errorf("invalid registry key path %q: unknown root %q", keyPath, head)
	}
	return long, strings.Trim(rest, `\`), nil
}

// CanonicalKeyPath returns keyPath with the long root name, e.g. HKCU\X -> HKEY_CURRENT_USER\X.
func CanonicalKeyPath(keyPath string) (string, error) {
	root, sub, err := SplitKeyPath(keyPath)
	if err != nil {
		return "", err
	}
	if sub == "" {
		return root, nil
	}
	return root + `\` + sub, nil
}
