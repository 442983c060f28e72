// Package coordinator owns the ExecutionTask state machine
// (pending -> running -> finished | stopped) and the cancellation registry.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/paulschiretz/pgl-appsave/pkg/plog"
	"github.com/paulschiretz/pgl-appsave/pkg/plugin"
	"github.com/paulschiretz/pgl-appsave/pkg/runner"
	"github.com/paulschiretz/pgl-appsave/pkg/task"
)

// Runner executes the groups of one task.
type Runner interface {
	RunGroups(ctx context.Context, p *runner.Plan, sink task.ProgressSink) ([]task.TaskResult, error)
}

// Request is one task together with what is needed to run it.
type Request struct {
	Task   *task.ExecutionTask
	Groups []plugin.BackupConfigGroup
	Env    map[string]string
	Sink   task.ProgressSink
}

// Coordinator drives tasks through a Runner.
type Coordinator struct {
	runner   Runner
	registry *Registry
	now      func() time.Time
}

// New creates a Coordinator.
func New(r Runner, reg *Registry) *Coordinator {
	return &Coordinator{runner: r, registry: reg, now: time.Now}
}

// NewTask creates a pending task for desc with a full result skeleton.
func NewTask(desc *plugin.Descriptor, execType task.ExecType, runType task.RunType, backupPath, installDir string) *task.ExecutionTask {
	return &task.ExecutionTask{
		ID:            uuid.NewString(),
		PluginID:      desc.ID,
		PluginName:    desc.Name,
		RunType:       runType,
		ExecType:      execType,
		State:         task.Pending,
		BackupPath:    backupPath,
		InstallDir:    installDir,
		TotalProgress: desc.TotalItemCount,
		TaskResults:   task.NewResults(desc.Groups),
		CreatedAt:     time.Now().UTC(),
	}
}

// Start runs a pending task until it finishes or is cancelled, updating
// req.Task in place. A cancellation is not an error: the task ends in
// the stopped state with message "cancelled".
func (c *Coordinator) Start(ctx context.Context, req Request) error {
	t := req.Task
	if t.State != task.Pending {
		return fmt.Errorf("task %s cannot start from state %s", t.ID, t.State)
	}
	if err := task.CheckResults(t.TaskResults, req.Groups); err != nil {
		return fmt.Errorf("task %s cannot start: %w", t.ID, err)
	}

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := c.registry.Register(t.ID, cancel); err != nil {
		return err
	}
	defer c.registry.Unregister(t.ID)

	sink := req.Sink
	if sink == nil {
		sink = task.NoopSink{}
	}
	stateSink, _ := sink.(task.StateSink)

	t.State = task.Running
	t.StartedAt = c.now().UTC()
	t.FinishedAt = time.Time{}
	t.Success = false
	t.Message = ""
	t.CurrentProgress = task.FinishedItems(t.TaskResults)
	if stateSink != nil {
		stateSink.TaskState(t)
	}
	plog.Info("Starting task", "id", t.ID, "plugin", t.PluginID, "type", t.ExecType, "run", t.RunType)

	progress := task.MultiSink{
		task.SinkFuncs{OnProgress: func(_ string, current, _ int) { t.CurrentProgress = current }},
		sink,
	}
	results, err := c.runner.RunGroups(taskCtx, &runner.Plan{
		Groups:     req.Groups,
		ExecType:   t.ExecType,
		Env:        req.Env,
		InstallDir: t.InstallDir,
		DataDir:    t.BackupPath,
		Results:    t.TaskResults,
	}, progress)
	if results != nil {
		t.TaskResults = results
	}
	t.CurrentProgress = task.FinishedItems(t.TaskResults)

	switch {
	case task.IsCancelled(err):
		t.State = task.Stopped
		t.Success = false
		t.Message = task.ErrCancelled.Error()
		plog.Warn("Task stopped", "id", t.ID, "plugin", t.PluginID, "progress", fmt.Sprintf("%d/%d", t.CurrentProgress, t.TotalProgress))
		err = nil
	case err != nil:
		t.State = task.Finished
		t.Success = false
		t.Message = err.Error()
		t.FinishedAt = c.now().UTC()
		plog.Error("Task failed", "id", t.ID, "plugin", t.PluginID, "error", err)
	default:
		t.State = task.Finished
		t.Success, t.Message = summarize(t.TaskResults)
		t.FinishedAt = c.now().UTC()
		if t.Success {
			plog.Info("Task finished", "id", t.ID, "plugin", t.PluginID, "message", t.Message)
		} else {
			plog.Warn("Task finished with failures", "id", t.ID, "plugin", t.PluginID, "message", t.Message)
		}
	}
	if stateSink != nil {
		stateSink.TaskState(t)
	}
	return err
}

// summarize is the AND of all group successes plus the first failing group's message.
func summarize(results []task.TaskResult) (bool, string) {
	for _, r := range results {
		if !r.Success {
			return false, r.Message
		}
	}
	return true, fmt.Sprintf("all %d groups completed", len(results))
}

// Execute runs req to completion or cancellation and returns a copy of the final task.
func (c *Coordinator) Execute(ctx context.Context, req Request) (*task.ExecutionTask, error) {
	err := c.Start(ctx, req)
	return req.Task.Clone(), err
}

// Stop cancels a running task. Unknown or finished ids return task.ErrTaskNotFound.
func (c *Coordinator) Stop(id string) error {
	return c.registry.Cancel(id)
}

// ExecuteBatch runs independent tasks concurrently, at most workers at a
// time. The returned slice is index-aligned with reqs.
func (c *Coordinator) ExecuteBatch(ctx context.Context, reqs []Request, workers int) ([]*task.ExecutionTask, error) {
	if workers < 1 {
		workers = 1
	}
	out := make([]*task.ExecutionTask, len(reqs))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			res, err := c.Execute(ctx, req)
			out[i] = res
			return err
		})
	}
	return out, g.Wait()
}

// Resume prepares a copy of t for another Start. A partial resume keeps every
// recorded item, failures included, and only clears what never finished; a
// group with unfinished items is reopened even if it aborted earlier. A full
// resume clears everything. Only stopped tasks can be partially resumed.
func Resume(t *task.ExecutionTask, full bool) (*task.ExecutionTask, error) {
	switch {
	case t.State == task.Running:
		return nil, fmt.Errorf("task %s is still running", t.ID)
	case !full && t.State != task.Stopped:
		return nil, fmt.Errorf("task %s is %s, only stopped tasks can be resumed; use a full restart", t.ID, t.State)
	}

	c := t.Clone()
	for gi := range c.TaskResults {
		g := &c.TaskResults[gi]
		for ii := range g.Items {
			if full || !g.Items[ii].Finished {
				g.Items[ii].Reset()
				g.Finished = false
			}
		}
		if full {
			g.Finished = false
		}
		if !g.Finished {
			g.Success = false
			g.Message = ""
		}
	}
	c.State = task.Pending
	c.Success = false
	c.Message = ""
	c.StartedAt = time.Time{}
	c.FinishedAt = time.Time{}
	c.CurrentProgress = task.FinishedItems(c.TaskResults)
	return c, nil
}
