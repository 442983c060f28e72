// Package engine runs a TaskPlan end to end: plugin discovery, preflight,
// hooks, the concurrent batch of tasks, backup set metadata and compression,
// task history and metrics.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/paulschiretz/pgl-appsave/pkg/coordinator"
	"github.com/paulschiretz/pgl-appsave/pkg/detect"
	"github.com/paulschiretz/pgl-appsave/pkg/filecopy"
	"github.com/paulschiretz/pgl-appsave/pkg/hints"
	"github.com/paulschiretz/pgl-appsave/pkg/hook"
	"github.com/paulschiretz/pgl-appsave/pkg/lockfile"
	"github.com/paulschiretz/pgl-appsave/pkg/metafile"
	"github.com/paulschiretz/pgl-appsave/pkg/operator"
	"github.com/paulschiretz/pgl-appsave/pkg/pathcompression"
	"github.com/paulschiretz/pgl-appsave/pkg/pathresolve"
	"github.com/paulschiretz/pgl-appsave/pkg/planner"
	"github.com/paulschiretz/pgl-appsave/pkg/plog"
	"github.com/paulschiretz/pgl-appsave/pkg/plugin"
	"github.com/paulschiretz/pgl-appsave/pkg/pool"
	"github.com/paulschiretz/pgl-appsave/pkg/preflight"
	"github.com/paulschiretz/pgl-appsave/pkg/registry"
	"github.com/paulschiretz/pgl-appsave/pkg/runner"
	"github.com/paulschiretz/pgl-appsave/pkg/software"
	"github.com/paulschiretz/pgl-appsave/pkg/task"
	"github.com/paulschiretz/pgl-appsave/pkg/taskmetrics"
	"github.com/paulschiretz/pgl-appsave/pkg/util"
)

// HookRunner runs the pre and post commands of a hook plan.
type HookRunner interface {
	RunPreHook(ctx context.Context, hookName string, p *hook.Plan) error
	RunPostHook(ctx context.Context, hookName string, p *hook.Plan) error
}

// HistoryStore persists finished and stopped tasks.
type HistoryStore interface {
	Save(ctx context.Context, t *task.ExecutionTask) error
}

// Runner executes task plans. It is safe to run several plans at once as long
// as they do not touch the same backup sets.
type Runner struct {
	source   software.Source
	registry registry.Registry
	hooks    HookRunner
	history  HistoryStore
	cancels  *coordinator.Registry
	environ  func() map[string]string
}

// NewRunner creates a Runner. A nil history disables task persistence.
func NewRunner(source software.Source, reg registry.Registry, hooks HookRunner, history HistoryStore) *Runner {
	return &Runner{
		source:   source,
		registry: reg,
		hooks:    hooks,
		history:  history,
		cancels:  coordinator.NewRegistry(),
		environ:  pathresolve.Environ,
	}
}

// Stop cancels a running task of this Runner.
func (r *Runner) Stop(id string) error {
	return r.cancels.Cancel(id)
}

// Running lists the ids of the tasks currently executing.
func (r *Runner) Running() []string {
	return r.cancels.Running()
}

// Discovery is the outcome of matching the plugin directory against the
// installed software.
type Discovery struct {
	Plugins   []detect.ValidatedDescriptor
	Installed []software.Software
}

// Discover loads the plugin descriptors and binds them to install directories.
// Broken descriptors are skipped with a warning unless failFast is set.
func (r *Runner) Discover(ctx context.Context, pluginDir string, installDirs map[string]string, failFast bool) (*Discovery, error) {
	descs, err := plugin.LoadDir(pluginDir)
	if err != nil {
		if failFast || descs == nil {
			return nil, fmt.Errorf("failed to load plugins: %w", err)
		}
		plog.Warn("Some plugins could not be loaded, skipping them", "error", err)
	}

	installed, err := r.source.List(ctx)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			return nil, err
		case hints.IsHint(err):
			plog.Debug("Software discovery unavailable", "reason", err)
		case failFast:
			return nil, fmt.Errorf("software discovery failed: %w", err)
		default:
			plog.Warn("Software discovery failed, continuing without installed software", "error", err)
		}
		installed = nil
	}

	plugins := detect.ValidateAll(descs, installed, r.environ(), installDirs)
	plog.Debug("Discovered plugins", "plugins", len(plugins), "installed", len(installed))
	return &Discovery{Plugins: plugins, Installed: installed}, nil
}

// job is one plugin of a run together with everything its task needs.
type job struct {
	desc       *plugin.Descriptor
	installDir string
	setDir     string
	meta       *metafile.MetafileContent
	task       *task.ExecutionTask
	hooks      *hook.Plan
	extracted  bool
}

// Execute runs p over every selected plugin and returns the final tasks in
// plugin order. Tasks that ran are returned even when err is not nil.
func (r *Runner) Execute(ctx context.Context, p *planner.TaskPlan) ([]*task.ExecutionTask, error) {
	// Check for cancellation at the very beginning.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	discovery, err := r.Discover(ctx, p.Paths.PluginDir, p.InstallDirs, p.FailFast)
	if err != nil {
		return nil, err
	}

	var jobs []*job
	switch p.ExecType {
	case task.Backup:
		jobs, err = selectBackupJobs(p, discovery.Plugins)
	case task.Restore:
		jobs, err = selectRestoreJobs(p, discovery.Plugins)
	default:
		err = fmt.Errorf("unsupported exec type: %s", p.ExecType)
	}
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		plog.Info("Nothing to do, no eligible plugins", "type", p.ExecType)
		return nil, nil
	}

	if err := r.preflight(p, jobs); err != nil {
		return nil, err
	}
	return r.run(ctx, p, jobs)
}

// ExecuteResume reruns a task loaded from history. A partial resume keeps the
// recorded items of a stopped task; full starts the task over.
func (r *Runner) ExecuteResume(ctx context.Context, p *planner.TaskPlan, stored *task.ExecutionTask, full bool) (*task.ExecutionTask, error) {
	if stored.ExecType != p.ExecType {
		return nil, fmt.Errorf("task %s is a %s task, plan is for %s", stored.ID, stored.ExecType, p.ExecType)
	}
	resumed, err := coordinator.Resume(stored, full)
	if err != nil {
		return nil, err
	}

	descs, err := plugin.LoadDir(p.Paths.PluginDir)
	if err != nil && p.FailFast {
		return nil, fmt.Errorf("failed to load plugins: %w", err)
	}
	desc, ok := plugin.Index(descs)[stored.PluginID]
	if !ok {
		return nil, fmt.Errorf("plugin %q of task %s is no longer available", stored.PluginID, stored.ID)
	}
	if err := task.CheckResults(resumed.TaskResults, desc.Groups); err != nil {
		if !full {
			return nil, fmt.Errorf("plugin %q changed since task %s was recorded, use a full restart: %w", stored.PluginID, stored.ID, err)
		}
		plog.Warn("Plugin changed since the task was recorded, rebuilding its results", "id", stored.ID, "plugin", stored.PluginID, "reason", err)
		resumed.TaskResults = task.NewResults(desc.Groups)
		resumed.TotalProgress = desc.TotalItemCount
		resumed.CurrentProgress = 0
	}

	j := &job{
		desc:       desc,
		installDir: resumed.InstallDir,
		setDir:     filepath.Dir(resumed.BackupPath),
		task:       resumed,
	}
	if p.ExecType == task.Restore {
		meta, err := metafile.Read(j.setDir)
		if err != nil {
			return nil, fmt.Errorf("cannot read backup set of task %s: %w", stored.ID, err)
		}
		j.meta = &meta
	}
	if err := r.preflight(p, []*job{j}); err != nil {
		return nil, err
	}

	plog.Info("Resuming task", "id", resumed.ID, "plugin", resumed.PluginID, "full", full, "progress", fmt.Sprintf("%d/%d", resumed.CurrentProgress, resumed.TotalProgress))
	tasks, err := r.run(ctx, p, []*job{j})
	if len(tasks) == 0 {
		return nil, err
	}
	return tasks[0], err
}

func (r *Runner) preflight(p *planner.TaskPlan, jobs []*job) error {
	if p.Preflight == nil {
		return nil
	}
	var setDirs []string
	if p.ExecType == task.Restore {
		for _, j := range jobs {
			setDirs = append(setDirs, j.setDir)
		}
	}
	if err := preflight.Run(p.Preflight, p.Paths.Base, setDirs); err != nil {
		return fmt.Errorf("preflight failed: %w", err)
	}
	return nil
}

// selectBackupJobs picks the bound plugins. Explicitly requested plugins that
// are not installed are reported; unknown ids are an error.
func selectBackupJobs(p *planner.TaskPlan, plugins []detect.ValidatedDescriptor) ([]*job, error) {
	wanted, err := requested(p.Plugins, plugins)
	if err != nil {
		return nil, err
	}

	var jobs []*job
	for _, v := range plugins {
		if wanted != nil && !wanted[v.ID] {
			continue
		}
		if !v.Bound() {
			if wanted != nil {
				plog.Warn("Plugin is not installed, skipping", "plugin", v.ID)
			} else {
				plog.Debug("Plugin is not installed, skipping", "plugin", v.ID)
			}
			continue
		}
		jobs = append(jobs, &job{
			desc:       v.Descriptor,
			installDir: v.SoftInstallDir,
			setDir:     SetDir(p.Paths.Base, v.ID),
		})
	}
	return jobs, nil
}

// selectRestoreJobs picks the plugins that have a backup set. A plugin that
// is no longer detected restores into the install directory recorded in its set.
func selectRestoreJobs(p *planner.TaskPlan, plugins []detect.ValidatedDescriptor) ([]*job, error) {
	wanted, err := requested(p.Plugins, plugins)
	if err != nil {
		return nil, err
	}

	var jobs []*job
	for _, v := range plugins {
		if wanted != nil && !wanted[v.ID] {
			continue
		}
		setDir := SetDir(p.Paths.Base, v.ID)
		meta, err := metafile.Read(setDir)
		if err != nil {
			switch {
			case os.IsNotExist(err) && wanted != nil:
				plog.Warn("Plugin has no backup set, skipping", "plugin", v.ID)
			case os.IsNotExist(err):
				plog.Debug("Plugin has no backup set, skipping", "plugin", v.ID)
			case p.FailFast:
				return nil, fmt.Errorf("cannot read backup set of %s: %w", v.ID, err)
			default:
				plog.Warn("Skipping backup set; cannot read metadata", "plugin", v.ID, "reason", err)
			}
			continue
		}
		if !meta.Success {
			plog.Warn("Backup set is incomplete, restoring what it holds", "plugin", v.ID, "backup_time", meta.TimestampUTC)
		}

		installDir := v.SoftInstallDir
		if installDir == "" {
			installDir = meta.InstallDir
		}
		jobs = append(jobs, &job{
			desc:       v.Descriptor,
			installDir: installDir,
			setDir:     setDir,
			meta:       &meta,
		})
	}
	return jobs, nil
}

// requested turns the plugin filter into a set. A nil set selects everything.
func requested(ids []string, plugins []detect.ValidatedDescriptor) (map[string]bool, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !slices.ContainsFunc(plugins, func(v detect.ValidatedDescriptor) bool { return v.ID == id }) {
			return nil, fmt.Errorf("unknown plugin: %q", id)
		}
		wanted[id] = true
	}
	return wanted, nil
}

// run executes the prepared jobs as one batch. Preparation and finishing are
// sequential; only the task bodies run concurrently.
func (r *Runner) run(ctx context.Context, p *planner.TaskPlan, jobs []*job) ([]*task.ExecutionTask, error) {
	env := r.environ()
	ioBufferPool := pool.NewFixedBufferKB(p.Batch.BufferSizeKB)
	copier := filecopy.NewCopier(ioBufferPool, p.Batch.RetryCount, p.Batch.RetryWait)
	coord := coordinator.New(runner.New(operator.New(copier, r.registry, p.DryRun)), r.cancels)
	compressor := pathcompression.NewPathCompressor(ioBufferPool, p.DryRun)

	var m taskmetrics.Metrics
	if p.Metrics {
		m = &taskmetrics.TaskMetrics{}
	} else {
		m = &taskmetrics.NoopMetrics{}
	}
	m.StartTimer()

	events, closeEvents, err := openEventStream(p.EventsPath)
	if err != nil {
		return nil, err
	}
	defer closeEvents()

	for _, j := range jobs {
		if j.task == nil {
			j.task = coordinator.NewTask(j.desc, p.ExecType, p.RunType, ContentDir(j.setDir), j.installDir)
		}
		j.hooks = hookPlan(p, j)
	}

	// --- Pre hooks ---
	for _, j := range jobs {
		if err := r.runPreHook(ctx, p.ExecType, j); err != nil {
			return nil, err
		}
	}

	// --- Lock backup sets ---
	if !p.DryRun {
		locked, release, err := lockSets(ctx, p, jobs)
		if err != nil {
			return nil, err
		}
		defer release()
		jobs = locked
	}
	defer cleanupExtracted(jobs)

	// --- Restore: extract compressed sets ---
	ready := make([]*job, 0, len(jobs))
	for _, j := range jobs {
		if err := r.extract(ctx, p, compressor, j); err != nil {
			if p.FailFast || errors.Is(err, context.Canceled) {
				return nil, err
			}
			plog.Warn("Skipping plugin; cannot extract backup set", "plugin", j.desc.ID, "error", err)
			continue
		}
		ready = append(ready, j)
	}

	reqs := make([]coordinator.Request, len(ready))
	for i, j := range ready {
		sink := task.MultiSink{task.LogSink{PluginID: j.desc.ID}}
		if events != nil {
			sink = append(sink, events.Sink(j.task.ID))
		}
		reqs[i] = coordinator.Request{Task: j.task, Groups: j.desc.Groups, Env: env, Sink: sink}
	}

	plog.Info(fmt.Sprintf("Starting %s", p.ExecType), "plugins", len(reqs), "workers", p.Batch.Workers, "dry_run", p.DryRun)
	results, batchErr := coord.ExecuteBatch(ctx, reqs, p.Batch.Workers)

	// --- Finish: metadata, compression, post hooks, history ---
	tasks := make([]*task.ExecutionTask, 0, len(results))
	var finishErr error
	for i, t := range results {
		if t == nil {
			continue
		}
		j := ready[i]
		if err := r.finish(ctx, p, compressor, j, t); err != nil && finishErr == nil {
			finishErr = err
		}
		m.RecordTask(t)
		tasks = append(tasks, t)
	}
	m.LogSummary(fmt.Sprintf("%s summary", hookName(p.ExecType)))

	if batchErr != nil {
		return tasks, fmt.Errorf("%s batch failed: %w", p.ExecType, batchErr)
	}
	return tasks, finishErr
}

// lockSets takes the lock of every job's backup set. A set locked by another
// run drops its job, or aborts the run under FailFast.
func lockSets(ctx context.Context, p *planner.TaskPlan, jobs []*job) ([]*job, func(), error) {
	var locks []*lockfile.Lock
	release := func() {
		for _, l := range locks {
			l.Release()
		}
	}

	locked := make([]*job, 0, len(jobs))
	for _, j := range jobs {
		err := os.MkdirAll(j.setDir, util.UserWritableDirPerms)
		var l *lockfile.Lock
		if err == nil {
			l, err = lockfile.Acquire(ctx, j.setDir, fmt.Sprintf("%s %s", p.ExecType, j.task.ID))
		}
		if err != nil {
			if p.FailFast || errors.Is(err, context.Canceled) {
				release()
				return nil, nil, fmt.Errorf("failed to lock backup set of %s: %w", j.desc.ID, err)
			}
			plog.Warn("Skipping plugin; backup set is locked", "plugin", j.desc.ID, "reason", err)
			continue
		}
		locks = append(locks, l)
		locked = append(locked, j)
	}
	return locked, release, nil
}

func (r *Runner) runPreHook(ctx context.Context, execType task.ExecType, j *job) error {
	if r.hooks == nil || j.hooks == nil {
		return nil
	}
	name := hookName(execType)
	if err := r.hooks.RunPreHook(ctx, name, j.hooks); err != nil && !hints.IsHint(err) {
		// Pre hook failures are fatal for the whole run.
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("pre-%s hook canceled for %s: %w", execType, j.desc.ID, err)
		}
		return fmt.Errorf("pre-%s hook failed for %s: %w", execType, j.desc.ID, err)
	}
	return nil
}

func (r *Runner) runPostHook(ctx context.Context, execType task.ExecType, j *job) {
	if r.hooks == nil || j.hooks == nil {
		return
	}
	if err := r.hooks.RunPostHook(ctx, hookName(execType), j.hooks); err != nil && !hints.IsHint(err) {
		if errors.Is(err, context.Canceled) {
			plog.Info(fmt.Sprintf("post-%s hooks skipped due to cancellation.", execType), "plugin", j.desc.ID)
			return
		}
		plog.Warn(fmt.Sprintf("post-%s hook failed", execType), "plugin", j.desc.ID, "error", err)
	}
}

// extract unpacks a compressed backup set into its content directory before a restore.
func (r *Runner) extract(ctx context.Context, p *planner.TaskPlan, compressor *pathcompression.PathCompressor, j *job) error {
	if p.ExecType != task.Restore || j.meta == nil || !j.meta.IsCompressed {
		return nil
	}
	format, err := pathcompression.ParseFormat(j.meta.CompressionFormat)
	if err != nil {
		return fmt.Errorf("backup set of %s: %w", j.desc.ID, err)
	}
	if err := compressor.Extract(ctx, ArchivePath(j.setDir, format), ContentDir(j.setDir), format); err != nil {
		return fmt.Errorf("failed to extract backup set of %s: %w", j.desc.ID, err)
	}
	j.extracted = !p.DryRun
	return nil
}

// cleanupExtracted removes content directories that only existed for a restore.
func cleanupExtracted(jobs []*job) {
	for _, j := range jobs {
		if !j.extracted {
			continue
		}
		if err := os.RemoveAll(ContentDir(j.setDir)); err != nil {
			plog.Warn("Failed to remove extracted backup set", "plugin", j.desc.ID, "error", err)
		}
	}
}

// finish runs the per-plugin steps after its task left the running state.
func (r *Runner) finish(ctx context.Context, p *planner.TaskPlan, compressor *pathcompression.PathCompressor, j *job, t *task.ExecutionTask) error {
	if t.State == task.Pending {
		// Never started, e.g. rejected by the coordinator.
		return nil
	}

	var err error
	if p.ExecType == task.Backup {
		err = r.finishBackupSet(ctx, p, compressor, j, t)
	}

	r.runPostHook(ctx, p.ExecType, j)

	if r.history != nil {
		// Stopped tasks are recorded as well, so they can be resumed.
		if saveErr := r.history.Save(context.WithoutCancel(ctx), t); saveErr != nil {
			plog.Warn("Failed to record task in history", "id", t.ID, "plugin", t.PluginID, "error", saveErr)
		}
	}
	return err
}

// finishBackupSet writes the metafile of a backup set and compresses its
// content. Compression only runs for successful tasks; a failed compression
// leaves the set uncompressed.
func (r *Runner) finishBackupSet(ctx context.Context, p *planner.TaskPlan, compressor *pathcompression.PathCompressor, j *job, t *task.ExecutionTask) error {
	if p.DryRun {
		plog.Info("[DRY RUN] Would write backup set metadata", "plugin", t.PluginID, "path", j.setDir)
		return nil
	}
	meta := &metafile.MetafileContent{
		Version:      metafileVersion,
		UUID:         t.ID,
		PluginID:     t.PluginID,
		PluginName:   t.PluginName,
		InstallDir:   t.InstallDir,
		TimestampUTC: t.StartedAt,
		Success:      t.Success,
		ItemCount:    task.FinishedItems(t.TaskResults),
		SizeBytes:    task.TotalBytes(t.TaskResults),
	}
	if err := os.MkdirAll(j.setDir, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("could not create backup set directory %s: %w", j.setDir, err)
	}

	var compressErr error
	switch {
	case p.Compression != nil && p.Compression.Enabled && t.Success:
		compressErr = r.compress(ctx, compressor, p.Compression, j.setDir)
		if errors.Is(compressErr, errNothingToCompress) {
			plog.Debug("Backup set has no content, nothing to compress", "plugin", t.PluginID)
			removeStaleArchives(j.setDir)
			compressErr = nil
		} else if compressErr == nil {
			meta.IsCompressed = true
			meta.CompressionFormat = p.Compression.Format.String()
		}
	case p.Compression == nil || !p.Compression.Enabled:
		removeStaleArchives(j.setDir)
	}

	if err := metafile.Write(j.setDir, meta); err != nil {
		return err
	}
	if compressErr != nil {
		if p.FailFast {
			return fmt.Errorf("error during compress of %s: %w", t.PluginID, compressErr)
		}
		plog.Warn("Error during compress, leaving backup set uncompressed", "plugin", t.PluginID, "error", compressErr)
	}
	return nil
}

func (r *Runner) compress(ctx context.Context, compressor *pathcompression.PathCompressor, cp *planner.CompressPlan, setDir string) error {
	contentDir := ContentDir(setDir)
	if _, err := os.Stat(contentDir); err != nil {
		if os.IsNotExist(err) {
			return errNothingToCompress
		}
		return err
	}
	if err := compressor.Compress(ctx, contentDir, ArchivePath(setDir, cp.Format), cp.Format, cp.Level); err != nil {
		return err
	}
	for _, f := range archiveFormats {
		if f != cp.Format {
			os.Remove(ArchivePath(setDir, f))
		}
	}
	if err := os.RemoveAll(contentDir); err != nil {
		return fmt.Errorf("failed to remove compressed content: %w", err)
	}
	return nil
}

func removeStaleArchives(setDir string) {
	for _, f := range archiveFormats {
		archive := ArchivePath(setDir, f)
		if err := os.Remove(archive); err == nil {
			plog.Debug("Removed stale archive", "path", archive)
		}
	}
}

var errNothingToCompress = hints.New("nothing to compress")

// metafileVersion is bumped when the backup set layout changes.
const metafileVersion = "1"

func hookPlan(p *planner.TaskPlan, j *job) *hook.Plan {
	if p.Hooks == nil {
		return nil
	}
	hp := *p.Hooks
	hp.Env = map[string]string{
		hook.EnvTaskID:     j.task.ID,
		hook.EnvPluginID:   j.desc.ID,
		hook.EnvExecType:   p.ExecType.String(),
		hook.EnvBackupPath: j.task.BackupPath,
		hook.EnvInstallDir: j.installDir,
	}
	return &hp
}

// hookName is the engine phase in the form hook log lines use, e.g. "Backup".
func hookName(execType task.ExecType) string {
	if execType == task.Restore {
		return "Restore"
	}
	return "Backup"
}

// openEventStream opens the JSON event destination of a run. "-" is stdout.
func openEventStream(path string) (*coordinator.EventStream, func(), error) {
	switch path {
	case "":
		return nil, func() {}, nil
	case "-":
		return coordinator.NewEventStream(os.Stdout), func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, util.UserWritableFilePerms)
	if err != nil {
		return nil, nil, fmt.Errorf("could not open event stream %s: %w", path, err)
	}
	return coordinator.NewEventStream(f), func() {
		if err := f.Close(); err != nil {
			plog.Warn("Failed to close event stream", "path", path, "error", err)
		}
	}, nil
}
