package cmd

import (
	"context"

	"github.com/paulschiretz/pgl-appsave/pkg/flagparse"
	"github.com/paulschiretz/pgl-appsave/pkg/task"
)

// RunRestore handles the logic for the restore command.
func RunRestore(ctx context.Context, flagMap map[string]interface{}) error {
	return runTasks(ctx, flagparse.Restore, task.Restore, flagMap)
}
