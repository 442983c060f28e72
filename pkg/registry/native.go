package registry

import (
	"context"
	"os/exec"
)

// Native is the host registry.
type Native struct {
	// commandContext allows mocking os/exec for testing reg.exe invocations.
	commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

// NewNative creates a Native registry. commandContext is normally exec.CommandContext.
func NewNative(commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd) *Native {
	if commandContext == nil {
		commandContext = exec.CommandContext
	}
	return &Native{commandContext: commandContext}
}
