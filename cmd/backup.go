package cmd

import (
	"context"
	"time"

	"github.com/paulschiretz/pgl-appsave/pkg/buildinfo"
	"github.com/paulschiretz/pgl-appsave/pkg/flagparse"
	"github.com/paulschiretz/pgl-appsave/pkg/planner"
	"github.com/paulschiretz/pgl-appsave/pkg/plog"
	"github.com/paulschiretz/pgl-appsave/pkg/task"
)

// RunBackup handles the logic for the backup command.
func RunBackup(ctx context.Context, flagMap map[string]interface{}) error {
	return runTasks(ctx, flagparse.Backup, task.Backup, flagMap)
}

// runTasks executes a manual backup or restore run over the selected plugins.
func runTasks(ctx context.Context, command flagparse.Command, execType task.ExecType, flagMap map[string]interface{}) error {
	runConfig, err := loadRunConfig(command, flagMap)
	if err != nil {
		return err
	}

	// Log the Summary
	runConfig.LogSummary()

	// Get the Plan
	taskPlan, err := planner.GenerateTaskPlan(runConfig, execType, task.Manual)
	if err != nil {
		return err
	}

	runner, closeRunner, err := newRunner(taskPlan)
	if err != nil {
		return err
	}
	defer closeRunner()

	// Execute the plan
	startTime := time.Now()
	tasks, err := runner.Execute(ctx, taskPlan)
	duration := time.Since(startTime).Round(time.Millisecond)
	if err != nil {
		return err // The error will be logged with full details by main()
	}
	if err := reportTasks(tasks); err != nil {
		return err
	}
	plog.Info(buildinfo.Name+" "+command.String()+" finished.", "tasks", len(tasks), "duration", duration)
	return nil
}
