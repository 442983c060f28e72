//go:build !windows

package software

import "context"

// RegistrySource enumerates the Windows Uninstall keys. On this platform it
// always reports ErrUnsupported.
type RegistrySource struct{}

// NewRegistrySource creates a RegistrySource.
func NewRegistrySource() *RegistrySource {
	return &RegistrySource{}
}

// List implements Source.
func (s *RegistrySource) List(ctx context.Context) ([]Software, error) {
	return nil, ErrUnsupported
}
