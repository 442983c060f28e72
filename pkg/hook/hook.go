package hook

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"

	"github.com/paulschiretz/pgl-appsave/pkg/hints"
	"github.com/paulschiretz/pgl-appsave/pkg/plog"
)

var ErrNothingToExecute = hints.New("nothing to execute")
var ErrDisabled = hints.New("hook execution is disabled")

// Environment variables exported to hook commands.
const (
	EnvTaskID     = "PGL_APPSAVE_TASK_ID"
	EnvPluginID   = "PGL_APPSAVE_PLUGIN_ID"
	EnvExecType   = "PGL_APPSAVE_EXEC_TYPE"
	EnvBackupPath = "PGL_APPSAVE_BACKUP_PATH"
	EnvInstallDir = "PGL_APPSAVE_INSTALL_DIR"
)

// Phase selects which command list of a Plan runs.
type Phase string

const (
	Pre  Phase = "Pre"
	Post Phase = "Post"
)

type HookExecutor struct {
	// commandContext allows mocking os/exec for testing hooks.
	commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

// NewHookExecutor creates a new HookExecutor. A nil commandContext uses exec.CommandContext.
func NewHookExecutor(commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd) *HookExecutor {
	if commandContext == nil {
		commandContext = exec.CommandContext
	}
	return &HookExecutor{
		commandContext: commandContext,
	}
}

// RunPreHook runs the pre commands of p. hookName is the engine phase, e.g. "Backup".
func (e *HookExecutor) RunPreHook(ctx context.Context, hookName string, p *Plan) error {
	return e.run(ctx, Pre, hookName, p)
}

// RunPostHook runs the post commands of p.
func (e *HookExecutor) RunPostHook(ctx context.Context, hookName string, p *Plan) error {
	return e.run(ctx, Post, hookName, p)
}

func (e *HookExecutor) run(ctx context.Context, phase Phase, hookName string, p *Plan) error {
	if !p.Enabled {
		return ErrDisabled
	}

	commands := p.PreCommands
	if phase == Post {
		commands = p.PostCommands
	}
	if len(commands) == 0 {
		return ErrNothingToExecute
	}

	plog.Info(fmt.Sprintf("Running %s-%s hook commands", phase, hookName), "plugin", p.Env[EnvPluginID])

	for _, hookCommand := range commands {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if p.DryRun {
			plog.Info("[DRY RUN] Executing command", "command", hookCommand)
			continue
		}
		plog.Info("Executing command", "command", hookCommand)

		cmd := e.createCommand(ctx, hookCommand)
		cmd.Env = withEnv(cmd.Env, p.Env)

		// Pipe output to our logger for visibility
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			// A killed process reports its own error; prefer the cancellation.
			if ctx.Err() == context.Canceled {
				return context.Canceled
			}
			if p.FailFast {
				return fmt.Errorf("command '%s' failed: %w", hookCommand, err)
			}
			plog.Warn("Hook command failed", "command", hookCommand, "error", err)
		}
	}
	return nil
}

// withEnv appends extra to base, falling back to the process environment when base is nil.
func withEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	if base == nil {
		base = os.Environ()
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		base = append(base, k+"="+extra[k])
	}
	return base
}
