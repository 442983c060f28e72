package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/paulschiretz/pgl-appsave/pkg/buildinfo"
	"github.com/paulschiretz/pgl-appsave/pkg/engine"
	"github.com/paulschiretz/pgl-appsave/pkg/flagparse"
	"github.com/paulschiretz/pgl-appsave/pkg/hook"
	"github.com/paulschiretz/pgl-appsave/pkg/planner"
	"github.com/paulschiretz/pgl-appsave/pkg/plog"
	"github.com/paulschiretz/pgl-appsave/pkg/registry"
	"github.com/paulschiretz/pgl-appsave/pkg/task"
)

// RunResume handles the logic for the resume command.
func RunResume(ctx context.Context, flagMap map[string]interface{}) error {
	taskID, ok := flagMap["task-id"].(string)
	if !ok || taskID == "" {
		return fmt.Errorf("the -task-id flag is required to run resume")
	}
	full, _ := flagMap["full"].(bool)

	runConfig, err := loadRunConfig(flagparse.Resume, flagMap)
	if err != nil {
		return err
	}
	runConfig.LogSummary()

	listPlan, err := planner.GenerateListPlan(runConfig)
	if err != nil {
		return err
	}
	store, err := openHistory(listPlan.Paths)
	if err != nil {
		return err
	}
	defer store.Close()

	stored, err := store.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to load task %s: %w", taskID, err)
	}

	// The resumed task keeps its original direction and trigger.
	taskPlan, err := planner.GenerateTaskPlan(runConfig, stored.ExecType, stored.RunType)
	if err != nil {
		return err
	}

	var recorder engine.HistoryStore
	if !taskPlan.DryRun {
		recorder = store
	}
	runner := engine.NewRunner(
		newSoftwareSource(taskPlan.Paths.SoftwareFile),
		registry.Default(),
		hook.NewHookExecutor(nil),
		recorder,
	)

	startTime := time.Now()
	resumed, err := runner.ExecuteResume(ctx, taskPlan, stored, full)
	duration := time.Since(startTime).Round(time.Millisecond)
	if err != nil {
		return err
	}
	if err := reportTasks([]*task.ExecutionTask{resumed}); err != nil {
		return err
	}
	plog.Info(buildinfo.Name+" resume finished.", "id", resumed.ID, "state", resumed.State, "duration", duration)
	return nil
}
