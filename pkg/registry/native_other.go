//go:build !windows

package registry

import (
	"context"
	"os/exec"
)

func (n *Native) ExportKey(ctx context.Context, keyPath, destFile string) (int64, error) {
	return 0, ErrUnsupported
}

func (n *Native) ImportKey(ctx context.Context, srcFile string) (int64, error) {
	return 0, ErrUnsupported
}

func (n *Native) ListValues(ctx context.Context, keyPath string) (map[string]string, error) {
	return nil, ErrUnsupported
}

// Default returns the host registry.
func Default() Registry {
	return NewNative(exec.CommandContext)
}
