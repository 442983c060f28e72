package planner

import (
	"fmt"
	"time"

	"github.com/paulschiretz/pgl-appsave/pkg/config"
	"github.com/paulschiretz/pgl-appsave/pkg/hook"
	"github.com/paulschiretz/pgl-appsave/pkg/pathcompression"
	"github.com/paulschiretz/pgl-appsave/pkg/preflight"
	"github.com/paulschiretz/pgl-appsave/pkg/task"
)

// Paths holds the absolute locations a run reads from and writes to.
type Paths struct {
	Base         string
	PluginDir    string
	SoftwareFile string
	HistoryFile  string
}

type BatchPlan struct {
	Workers      int
	BufferSizeKB int
	RetryCount   int
	RetryWait    time.Duration
}

type CompressPlan struct {
	Enabled bool
	Format  pathcompression.Format
	Level   pathcompression.Level
}

// TaskPlan drives one backup or restore run over a set of plugins.
type TaskPlan struct {
	ExecType task.ExecType
	RunType  task.RunType

	// Plugins restricts the run to these ids. Empty means every eligible plugin.
	Plugins     []string
	InstallDirs map[string]string
	EventsPath  string

	DryRun   bool
	FailFast bool
	Metrics  bool

	Paths       Paths
	Batch       BatchPlan
	Preflight   *preflight.Plan
	Hooks       *hook.Plan
	Compression *CompressPlan
}

type ListPlan struct {
	Paths Paths
	Sort  SortOrder
}

// SchedulePlan is a named cron entry and the plan it runs.
type SchedulePlan struct {
	Name string
	Spec string
	Plan *TaskPlan
}

func resolvePaths(cfg config.Config) (Paths, error) {
	var p Paths
	var err error
	p.Base = cfg.Base
	if p.PluginDir, err = cfg.ResolvePath(cfg.PluginDir); err != nil {
		return Paths{}, fmt.Errorf("invalid plugin dir: %w", err)
	}
	if p.SoftwareFile, err = cfg.ResolvePath(cfg.SoftwareFile); err != nil {
		return Paths{}, fmt.Errorf("invalid software file: %w", err)
	}
	if p.HistoryFile, err = cfg.ResolvePath(cfg.HistoryFile); err != nil {
		return Paths{}, fmt.Errorf("invalid history file: %w", err)
	}
	return p, nil
}

// GenerateTaskPlan builds the plan of a backup or restore run from a validated config.
func GenerateTaskPlan(cfg config.Config, execType task.ExecType, runType task.RunType) (*TaskPlan, error) {

	// Global Flags
	dryRun := cfg.Runtime.DryRun
	failFast := cfg.Engine.FailFast
	metrics := cfg.Engine.Metrics

	paths, err := resolvePaths(cfg)
	if err != nil {
		return nil, err
	}

	compressionFormat, err := pathcompression.ParseFormat(cfg.Compression.Format)
	if err != nil {
		return nil, err
	}
	compressionLevel, err := pathcompression.ParseLevel(cfg.Compression.Level)
	if err != nil {
		return nil, err
	}

	installDirs := make(map[string]string, len(cfg.InstallDirs))
	for id, dir := range cfg.InstallDirs {
		abs, err := cfg.ResolvePath(dir)
		if err != nil {
			return nil, fmt.Errorf("invalid install dir for %s: %w", id, err)
		}
		installDirs[id] = abs
	}

	p := &TaskPlan{
		ExecType:    execType,
		RunType:     runType,
		Plugins:     cfg.Runtime.Plugins,
		InstallDirs: installDirs,
		EventsPath:  cfg.Runtime.EventsPath,

		DryRun:   dryRun,
		FailFast: failFast,
		Metrics:  metrics,

		Paths: paths,
		Batch: BatchPlan{
			Workers:      cfg.Engine.BatchWorkers,
			BufferSizeKB: cfg.Engine.BufferSizeKB,
			RetryCount:   cfg.Engine.RetryCount,
			RetryWait:    time.Duration(cfg.Engine.RetryWaitSeconds) * time.Second,
		},
	}

	switch execType {
	case task.Backup:
		p.Preflight = &preflight.Plan{
			DataDirAccessible: true,
			DataDirWritable:   true,
			DryRun:            dryRun,
		}
		p.Hooks = &hook.Plan{
			Enabled:      true,
			PreCommands:  cfg.Hooks.PreBackup,
			PostCommands: cfg.Hooks.PostBackup,
			DryRun:       dryRun,
			FailFast:     failFast,
		}
		p.Compression = &CompressPlan{
			Enabled: cfg.Compression.Enabled,
			Format:  compressionFormat,
			Level:   compressionLevel,
		}
	case task.Restore:
		p.Preflight = &preflight.Plan{
			DataDirAccessible: true,
			BackupSetReadable: true,
			DryRun:            dryRun,
		}
		p.Hooks = &hook.Plan{
			Enabled:      true,
			PreCommands:  cfg.Hooks.PreRestore,
			PostCommands: cfg.Hooks.PostRestore,
			DryRun:       dryRun,
			FailFast:     failFast,
		}
		// Restores follow the metafile of each backup set.
		p.Compression = &CompressPlan{Enabled: false}
	default:
		return nil, fmt.Errorf("unsupported exec type: %s", execType)
	}
	return p, nil
}

// GenerateListPlan builds the plan for listing backup sets.
func GenerateListPlan(cfg config.Config) (*ListPlan, error) {
	paths, err := resolvePaths(cfg)
	if err != nil {
		return nil, err
	}
	order := Desc
	if cfg.Runtime.ListSort != "" {
		if order, err = ParseSortOrder(cfg.Runtime.ListSort); err != nil {
			return nil, err
		}
	}
	return &ListPlan{Paths: paths, Sort: order}, nil
}

// GenerateSchedulePlans builds one auto-run plan per configured schedule.
func GenerateSchedulePlans(cfg config.Config) ([]SchedulePlan, error) {
	plans := make([]SchedulePlan, 0, len(cfg.Schedules))
	for _, s := range cfg.Schedules {
		execType, err := task.ParseExecType(s.ExecType)
		if err != nil {
			return nil, fmt.Errorf("schedule %q: %w", s.Name, err)
		}
		scheduled := cfg
		scheduled.Runtime.Plugins = s.Plugins
		// Scheduled runs report through logs and history only.
		scheduled.Runtime.EventsPath = ""
		p, err := GenerateTaskPlan(scheduled, execType, task.Auto)
		if err != nil {
			return nil, fmt.Errorf("schedule %q: %w", s.Name, err)
		}
		plans = append(plans, SchedulePlan{Name: s.Name, Spec: s.Spec, Plan: p})
	}
	return plans, nil
}
