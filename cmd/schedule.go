package cmd

import (
	"context"
	"fmt"

	"github.com/paulschiretz/pgl-appsave/pkg/buildinfo"
	"github.com/paulschiretz/pgl-appsave/pkg/engine"
	"github.com/paulschiretz/pgl-appsave/pkg/flagparse"
	"github.com/paulschiretz/pgl-appsave/pkg/hook"
	"github.com/paulschiretz/pgl-appsave/pkg/planner"
	"github.com/paulschiretz/pgl-appsave/pkg/plog"
	"github.com/paulschiretz/pgl-appsave/pkg/registry"
	"github.com/paulschiretz/pgl-appsave/pkg/scheduler"
)

// RunSchedule handles the logic for the schedule command. It runs the
// configured schedules as auto tasks until ctx is cancelled.
func RunSchedule(ctx context.Context, flagMap map[string]any) error {
	runConfig, err := loadRunConfig(flagparse.Schedule, flagMap)
	if err != nil {
		return err
	}
	runConfig.LogSummary()

	schedulePlans, err := planner.GenerateSchedulePlans(runConfig)
	if err != nil {
		return err
	}
	if len(schedulePlans) == 0 {
		return fmt.Errorf("no schedules configured in %s", runConfig.Base)
	}

	// All schedules record into the same history.
	var store engine.HistoryStore
	if !runConfig.Runtime.DryRun {
		h, err := openHistory(schedulePlans[0].Plan.Paths)
		if err != nil {
			return err
		}
		defer h.Close()
		store = h
	}

	s := scheduler.New()
	for _, sp := range schedulePlans {
		taskPlan := sp.Plan
		runner := engine.NewRunner(
			newSoftwareSource(taskPlan.Paths.SoftwareFile),
			registry.Default(),
			hook.NewHookExecutor(nil),
			store,
		)
		err := s.Add(ctx, scheduler.Job{
			Name: sp.Name,
			Spec: sp.Spec,
			Run: func(ctx context.Context) error {
				tasks, err := runner.Execute(ctx, taskPlan)
				if err != nil {
					return err
				}
				return reportTasks(tasks)
			},
		})
		if err != nil {
			return err
		}
	}

	plog.Info(buildinfo.Name+" scheduler started.", "schedules", len(schedulePlans))
	if err := s.Run(ctx); err != nil {
		return err
	}
	plog.Info(buildinfo.Name + " scheduler stopped.")
	return nil
}
