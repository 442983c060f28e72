// Package task holds the ExecutionTask model shared by the runner, the
// coordinator and the history store, plus the progress sink contract.
package task

import (
	"fmt"
	"time"

	"github.com/paulschiretz/pgl-appsave/pkg/plugin"
)

// TaskItemResult mirrors a BackupItemConfig and records its outcome.
type TaskItemResult struct {
	Kind               plugin.ItemKind `json:"kind"`
	SourcePath         string          `json:"sourcePath"`
	TargetRelativePath string          `json:"targetRelativePath"`
	SkipIfMissing      bool            `json:"skipIfMissing,omitempty"`

	Finished  bool   `json:"finished"`
	Success   bool   `json:"success"`
	Skipped   bool   `json:"skipped,omitempty"`
	Message   string `json:"message,omitempty"`
	SizeBytes int64  `json:"sizeBytes"`
}

// Reset clears the outcome fields.
func (r *TaskItemResult) Reset() {
	r.Finished = false
	r.Success = false
	r.Skipped = false
	r.Message = ""
	r.SizeBytes = 0
}

// TaskResult is the outcome of one BackupConfigGroup.
type TaskResult struct {
	GroupName string           `json:"groupName"`
	Finished  bool             `json:"finished"`
	Success   bool             `json:"success"`
	Message   string           `json:"message,omitempty"`
	Items     []TaskItemResult `json:"items"`
}

// ExecutionTask is one backup or restore run of a plugin.
type ExecutionTask struct {
	ID         string   `json:"id"`
	PluginID   string   `json:"pluginId"`
	PluginName string   `json:"pluginName"`
	RunType    RunType  `json:"runType"`
	ExecType   ExecType `json:"execType"`
	State      State    `json:"state"`
	BackupPath string   `json:"backupPath"`
	InstallDir string   `json:"installDir"`

	// TotalProgress is fixed at creation to the plugin's TotalItemCount.
	CurrentProgress int `json:"currentProgress"`
	TotalProgress   int `json:"totalProgress"`

	Success     bool         `json:"success"`
	Message     string       `json:"message,omitempty"`
	TaskResults []TaskResult `json:"taskResults"`

	CreatedAt  time.Time `json:"createdAt"`
	StartedAt  time.Time `json:"startedAt,omitzero"`
	FinishedAt time.Time `json:"finishedAt,omitzero"`
}

// NewResults builds the result skeleton of a descriptor: one unfinished
// TaskResult per group, one unfinished TaskItemResult per item.
func NewResults(groups []plugin.BackupConfigGroup) []TaskResult {
	results := make([]TaskResult, len(groups))
	for gi, g := range groups {
		items := make([]TaskItemResult, len(g.Items))
		for ii, it := range g.Items {
			items[ii] = TaskItemResult{
				Kind:               it.Kind,
				SourcePath:         it.SourcePath,
				TargetRelativePath: it.TargetRelativePath,
				SkipIfMissing:      it.SkipIfMissing,
			}
		}
		results[gi] = TaskResult{GroupName: g.Name, Items: items}
	}
	return results
}

// CheckResults reports whether results were built for groups: same group
// names in the same order and the same item sources per group.
func CheckResults(results []TaskResult, groups []plugin.BackupConfigGroup) error {
	if len(results) != len(groups) {
		return fmt.Errorf("%w: %d recorded groups, plugin has %d", ErrResultsMismatch, len(results), len(groups))
	}
	for gi, g := range groups {
		r := results[gi]
		if r.GroupName != g.Name {
			return fmt.Errorf("%w: group %d is %q, plugin has %q", ErrResultsMismatch, gi, r.GroupName, g.Name)
		}
		if len(r.Items) != len(g.Items) {
			return fmt.Errorf("%w: group %q has %d recorded items, plugin has %d", ErrResultsMismatch, g.Name, len(r.Items), len(g.Items))
		}
		for ii, it := range g.Items {
			if r.Items[ii].SourcePath != it.SourcePath {
				return fmt.Errorf("%w: group %q item %d is %q, plugin has %q", ErrResultsMismatch, g.Name, ii, r.Items[ii].SourcePath, it.SourcePath)
			}
		}
	}
	return nil
}

// CloneResults deep-copies a result list.
func CloneResults(in []TaskResult) []TaskResult {
	if in == nil {
		return nil
	}
	out := make([]TaskResult, len(in))
	for i, r := range in {
		r.Items = append([]TaskItemResult(nil), r.Items...)
		out[i] = r
	}
	return out
}

// FinishedItems counts recorded items across all groups.
func FinishedItems(results []TaskResult) int {
	n := 0
	for _, r := range results {
		for _, it := range r.Items {
			if it.Finished {
				n++
			}
		}
	}
	return n
}

// TotalBytes sums SizeBytes across all recorded items.
func TotalBytes(results []TaskResult) int64 {
	var n int64
	for _, r := range results {
		for _, it := range r.Items {
			n += it.SizeBytes
		}
	}
	return n
}

// Clone returns a deep copy safe to hand to another goroutine.
func (t *ExecutionTask) Clone() *ExecutionTask {
	c := *t
	c.TaskResults = CloneResults(t.TaskResults)
	return &c
}

// IsTerminal reports whether the task reached finished.
func (t *ExecutionTask) IsTerminal() bool {
	return t.State == Finished
}
