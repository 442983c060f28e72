// Package runner drives the groups of one plugin through the item operator,
// strictly in declaration order, recording a result for every item it reaches.
package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/paulschiretz/pgl-appsave/pkg/hints"
	"github.com/paulschiretz/pgl-appsave/pkg/operator"
	"github.com/paulschiretz/pgl-appsave/pkg/pathresolve"
	"github.com/paulschiretz/pgl-appsave/pkg/plog"
	"github.com/paulschiretz/pgl-appsave/pkg/plugin"
	"github.com/paulschiretz/pgl-appsave/pkg/task"
)

// Operator applies a single item.
type Operator interface {
	Apply(ctx context.Context, execType task.ExecType, src, dst string, item plugin.BackupItemConfig) (operator.Outcome, error)
}

// Plan is everything one RunGroups call needs.
type Plan struct {
	Groups     []plugin.BackupConfigGroup
	ExecType   task.ExecType
	Env        map[string]string
	InstallDir string
	DataDir    string

	// Results is the snapshot to continue from. Finished groups are skipped
	// and finished items inside an unfinished group are kept. Nil starts fresh.
	Results []task.TaskResult
}

// ConfigRunner executes a Plan.
type ConfigRunner struct {
	operator Operator
}

// New creates a ConfigRunner.
func New(op Operator) *ConfigRunner {
	return &ConfigRunner{operator: op}
}

// TotalItems is the progress denominator of groups.
func TotalItems(groups []plugin.BackupConfigGroup) int {
	n := 0
	for _, g := range groups {
		n += len(g.Items)
	}
	return n
}

// RunGroups processes every group in order and returns the result list.
//
// A failing item aborts its own group, unless it is skip-if-missing in which
// case it is recorded as skipped. Processing always continues with the next
// group. A cancellation returns task.ErrCancelled together with the results
// recorded up to that point. A snapshot that does not fit the groups is
// rejected with task.ErrResultsMismatch before anything runs.
func (r *ConfigRunner) RunGroups(ctx context.Context, p *Plan, sink task.ProgressSink) ([]task.TaskResult, error) {
	if sink == nil {
		sink = task.NoopSink{}
	}
	results := task.NewResults(p.Groups)
	if p.Results != nil {
		if err := task.CheckResults(p.Results, p.Groups); err != nil {
			return nil, err
		}
		results = task.CloneResults(p.Results)
	}

	total := TotalItems(p.Groups)
	current := task.FinishedItems(results)
	verb := "Backing up"
	if p.ExecType == task.Restore {
		verb = "Restoring"
	}

	for gi, group := range p.Groups {
		res := &results[gi]
		if res.Finished {
			plog.Debug("Group already finished, skipping", "group", group.Name)
			continue
		}
		res.Success = true
		res.Message = ""
		sink.Progress(fmt.Sprintf("%s %s", verb, group.Name), current, total)

		for ii, item := range group.Items {
			itemRes := &res.Items[ii]
			if itemRes.Finished {
				if !itemRes.Success {
					res.Success = false
					if res.Message == "" {
						res.Message = fmt.Sprintf("group %q failed at %s: %s", group.Name, item.SourcePath, itemRes.Message)
					}
				}
				continue
			}

			select {
			case <-ctx.Done():
				return results, task.ErrCancelled
			default:
			}

			src, dst := r.paths(p, item)
			out, err := r.operator.Apply(ctx, p.ExecType, src, dst, item)
			if errors.Is(err, task.ErrCancelled) {
				return results, task.ErrCancelled
			}

			itemRes.Finished = true
			aborted := false
			switch {
			case err == nil:
				itemRes.Success = true
				itemRes.SizeBytes = out.SizeBytes
			case item.SkipIfMissing:
				itemRes.Success = true
				itemRes.Skipped = true
				itemRes.Message = hints.Newf("skipped: %w", err).Error()
			default:
				itemRes.Success = false
				itemRes.Message = err.Error()
				res.Success = false
				res.Message = fmt.Sprintf("group %q failed at %s: %v", group.Name, item.SourcePath, err)
				aborted = true
			}
			current++
			sink.ItemFinished(group.Name, *itemRes)
			sink.Progress(fmt.Sprintf("%s: %s", group.Name, item.SourcePath), current, total)

			if aborted {
				break
			}
		}

		res.Finished = true
		sink.Progress(fmt.Sprintf("%s finished", group.Name), current, total)
	}
	return results, nil
}

// paths resolves an item into (source, destination) for the run direction.
// Backups read the live location and write under DataDir; restores do the reverse.
func (r *ConfigRunner) paths(p *Plan, item plugin.BackupItemConfig) (string, string) {
	live := pathresolve.Resolve(item.SourcePath, p.Env, p.InstallDir)
	stored := filepath.Join(p.DataDir, filepath.FromSlash(pathresolve.Resolve(item.TargetRelativePath, p.Env, p.InstallDir)))
	if p.ExecType == task.Restore {
		return stored, live
	}
	return live, stored
}
