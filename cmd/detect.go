package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/paulschiretz/pgl-appsave/pkg/buildinfo"
	"github.com/paulschiretz/pgl-appsave/pkg/detect"
	"github.com/paulschiretz/pgl-appsave/pkg/flagparse"
	"github.com/paulschiretz/pgl-appsave/pkg/planner"
	"github.com/paulschiretz/pgl-appsave/pkg/plog"
	"github.com/paulschiretz/pgl-appsave/pkg/software"
	"github.com/paulschiretz/pgl-appsave/pkg/task"
)

// RunDetect handles the logic for the detect command. It lists every plugin
// with its binding and can save the installed-software snapshot it used.
func RunDetect(ctx context.Context, flagMap map[string]any) error {
	runConfig, err := loadRunConfig(flagparse.Detect, flagMap)
	if err != nil {
		return err
	}

	// Detection only needs the paths and install dirs of a run.
	taskPlan, err := planner.GenerateTaskPlan(runConfig, task.Backup, task.Manual)
	if err != nil {
		return err
	}

	runner, closeRunner, err := newRunner(&planner.TaskPlan{DryRun: true, Paths: taskPlan.Paths})
	if err != nil {
		return err
	}
	defer closeRunner()

	startTime := time.Now()
	discovery, err := runner.Discover(ctx, taskPlan.Paths.PluginDir, taskPlan.InstallDirs, taskPlan.FailFast)
	if err != nil {
		return err
	}
	writeDiscovery(os.Stdout, discovery.Plugins)

	if snapshot, ok := flagMap["save-snapshot"].(string); ok && snapshot != "" {
		path, err := runConfig.ResolvePath(snapshot)
		if err != nil {
			return fmt.Errorf("invalid snapshot path: %w", err)
		}
		if taskPlan.DryRun {
			plog.Info("[DRY RUN] Would save software snapshot", "path", path, "entries", len(discovery.Installed))
		} else {
			if err := software.WriteSnapshot(path, discovery.Installed); err != nil {
				return fmt.Errorf("failed to save software snapshot: %w", err)
			}
			plog.Info("Saved software snapshot", "path", path, "entries", len(discovery.Installed))
		}
	}

	duration := time.Since(startTime).Round(time.Millisecond)
	plog.Info(buildinfo.Name+" detect finished successfully.", "plugins", len(discovery.Plugins), "installed", len(discovery.Installed), "duration", duration)
	return nil
}

func writeDiscovery(w io.Writer, plugins []detect.ValidatedDescriptor) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PLUGIN\tNAME\tKIND\tITEMS\tINSTALL DIR")
	for _, p := range plugins {
		dir := p.SoftInstallDir
		if !p.Bound() {
			dir = "not installed"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", p.ID, p.Name, p.Kind, p.TotalItemCount, dir)
	}
	tw.Flush()
}
