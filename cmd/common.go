package cmd

import (
	"fmt"

	"github.com/paulschiretz/pgl-appsave/pkg/config"
	"github.com/paulschiretz/pgl-appsave/pkg/engine"
	"github.com/paulschiretz/pgl-appsave/pkg/flagparse"
	"github.com/paulschiretz/pgl-appsave/pkg/history"
	"github.com/paulschiretz/pgl-appsave/pkg/hook"
	"github.com/paulschiretz/pgl-appsave/pkg/planner"
	"github.com/paulschiretz/pgl-appsave/pkg/plog"
	"github.com/paulschiretz/pgl-appsave/pkg/registry"
	"github.com/paulschiretz/pgl-appsave/pkg/software"
	"github.com/paulschiretz/pgl-appsave/pkg/task"
)

// loadRunConfig loads the configuration from the -base directory, merges the
// flags over it and validates the result.
func loadRunConfig(command flagparse.Command, flagMap map[string]interface{}) (config.Config, error) {
	base, ok := flagMap["base"].(string)
	if !ok || base == "" {
		return config.Config{}, fmt.Errorf("the -base flag is required to run %s", command)
	}

	// Load config from the base directory, or use defaults if not found.
	loadedConfig, err := config.Load(base)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load configuration from base: %w", err)
	}

	// Merge the flag values over the loaded config to get the final run config.
	runConfig := config.MergeConfigWithFlags(command, loadedConfig, flagMap)

	// CRITICAL: Validate the config for the run
	if err := runConfig.Validate(); err != nil {
		return config.Config{}, err
	}

	// Set the global log level based on the final configuration.
	plog.SetLevel(plog.LevelFromString(runConfig.LogLevel))
	return runConfig, nil
}

// newSoftwareSource combines the system's uninstall entries with the
// optional JSON snapshot.
func newSoftwareSource(softwareFile string) software.Source {
	sources := software.MultiSource{software.NewRegistrySource()}
	if softwareFile != "" {
		sources = append(sources, software.NewFileSource(softwareFile))
	}
	return sources
}

// openHistory opens the task history of a run.
func openHistory(paths planner.Paths) (*history.Store, error) {
	store, err := history.Open(paths.HistoryFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open task history: %w", err)
	}
	return store, nil
}

// newRunner wires the engine for a plan. The returned close function
// releases the history store. Dry runs are not recorded.
func newRunner(p *planner.TaskPlan) (*engine.Runner, func(), error) {
	var store engine.HistoryStore
	closeFn := func() {}
	if !p.DryRun {
		h, err := openHistory(p.Paths)
		if err != nil {
			return nil, nil, err
		}
		store = h
		closeFn = func() {
			if err := h.Close(); err != nil {
				plog.Warn("Failed to close task history", "error", err)
			}
		}
	}

	runner := engine.NewRunner(
		newSoftwareSource(p.Paths.SoftwareFile),
		registry.Default(),
		hook.NewHookExecutor(nil),
		store,
	)
	return runner, closeFn, nil
}

// reportTasks logs the outcome of every task and turns failures into an error.
// Stopped tasks are not failures; they can be resumed.
func reportTasks(tasks []*task.ExecutionTask) error {
	failed, stopped := 0, 0
	for _, t := range tasks {
		switch {
		case t.State == task.Stopped:
			stopped++
			plog.Warn("Task stopped", "plugin", t.PluginID, "id", t.ID, "progress", fmt.Sprintf("%d/%d", t.CurrentProgress, t.TotalProgress))
		case !t.Success:
			failed++
			plog.Warn("Task failed", "plugin", t.PluginID, "id", t.ID, "message", t.Message)
		default:
			plog.Info("Task succeeded", "plugin", t.PluginID, "id", t.ID, "items", t.CurrentProgress)
		}
	}
	if stopped > 0 {
		plog.Info(fmt.Sprintf("%d task(s) were interrupted. Continue them with the resume command and their task id.", stopped))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tasks failed", failed, len(tasks))
	}
	return nil
}
