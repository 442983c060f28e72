//go:build windows

package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/windows"
	winreg "golang.org/x/sys/windows/registry"
)

var rootKeys = map[string]winreg.Key{
	"HKEY_CURRENT_USER":   winreg.CURRENT_USER,
	"HKEY_LOCAL_MACHINE":  winreg.LOCAL_MACHINE,
	"HKEY_CLASSES_ROOT":   winreg.CLASSES_ROOT,
	"HKEY_USERS":          winreg.USERS,
	"HKEY_CURRENT_CONFIG": winreg.CURRENT_CONFIG,
}

func (n *Native) run(ctx context.Context, arg ...string) error {
	cmd := n.commandContext(ctx, "reg", arg...)
	cmd.SysProcAttr = &windows.SysProcAttr{CreationFlags: windows.CREATE_NO_WINDOW}
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("reg %s failed: %w: %s", arg[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

// ExportKey runs `reg export <key> <file> /y`.
func (n *Native) ExportKey(ctx context.Context, keyPath, destFile string) (int64, error) {
	canonical, err := CanonicalKeyPath(keyPath)
	if err != nil {
		return 0, err
	}
	if !n.keyExists(canonical) {
		return 0, fmt.Errorf("%w: %s", ErrKeyNotFound, keyPath)
	}
	if err := os.MkdirAll(filepath.Dir(destFile), 0755); err != nil {
		return 0, fmt.Errorf("could not create export directory: %w", err)
	}
	if err := n.run(ctx, "export", canonical, destFile, "/y"); err != nil {
		return 0, err
	}
	info, err := os.Stat(destFile)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ImportKey runs `reg import <file>`.
func (n *Native) ImportKey(ctx context.Context, srcFile string) (int64, error) {
	info, err := os.Stat(srcFile)
	if err != nil {
		return 0, err
	}
	if err := n.run(ctx, "import", srcFile); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (n *Native) keyExists(canonical string) bool {
	root, sub, _ := strings.Cut(canonical, `\`)
	k, err := winreg.OpenKey(rootKeys[root], sub, winreg.QUERY_VALUE)
	if err != nil {
		return false
	}
	k.Close()
	return true
}

// ListValues reads the values directly under keyPath.
func (n *Native) ListValues(ctx context.Context, keyPath string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	root, sub, err := SplitKeyPath(keyPath)
	if err != nil {
		return nil, err
	}
	k, err := winreg.OpenKey(rootKeys[root], sub, winreg.QUERY_VALUE)
	if err != nil {
		if errors.Is(err, winreg.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer k.Close()

	names, err := k.ReadValueNames(-1)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(names))
	for _, name := range names {
		_, typ, err := k.GetValue(name, nil)
		if err != nil {
			continue
		}
		switch typ {
		case winreg.SZ, winreg.EXPAND_SZ:
			out[name], _, _ = k.GetStringValue(name)
		case winreg.DWORD, winreg.QWORD:
			v, _, _ := k.GetIntegerValue(name)
			out[name] = strconv.FormatUint(v, 10)
		case winreg.MULTI_SZ:
			v, _, _ := k.GetStringsValue(name)
			out[name] = strings.Join(v, "\n")
		default:
			v, _, _ := k.GetBinaryValue(name)
			out[name] = BinaryValue(ValueType(typ), v).Render()
		}
	}
	return out, nil
}

// Default returns the host registry.
func Default() Registry {
	return NewNative(exec.CommandContext)
}
