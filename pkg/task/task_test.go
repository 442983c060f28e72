package task

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/paulschiretz/pgl-appsave/pkg/plog"
	"github.com/paulschiretz/pgl-appsave/pkg/plugin"
)

func sampleGroups() []plugin.BackupConfigGroup {
	return []plugin.BackupConfigGroup{
		{Name: "Settings", Items: []plugin.BackupItemConfig{
			{Kind: plugin.File, SourcePath: "%APPDATA%/a.json", TargetRelativePath: "a.json", SkipIfMissing: true},
			{Kind: plugin.Directory, SourcePath: "%installDir%/conf", TargetRelativePath: "conf"},
		}},
		{Name: "Registry", Items: []plugin.BackupItemConfig{
			{Kind: plugin.Registry, SourcePath: `HKCU\Software\Test`, TargetRelativePath: "Settings.reg"},
		}},
	}
}

func TestNewResultsMirrorsGroups(t *testing.T) {
	results := NewResults(sampleGroups())
	if len(results) != 2 {
		t.Fatalf("expected 2 group results, got %d", len(results))
	}
	if results[0].GroupName != "Settings" || len(results[0].Items) != 2 {
		t.Errorf("unexpected first group: %+v", results[0])
	}
	first := results[0].Items[0]
	if first.Kind != plugin.File || first.TargetRelativePath != "a.json" || !first.SkipIfMissing {
		t.Errorf("item config not mirrored: %+v", first)
	}
	if first.Finished || results[0].Finished {
		t.Error("skeleton results must start unfinished")
	}
	if FinishedItems(results) != 0 {
		t.Errorf("expected 0 finished items, got %d", FinishedItems(results))
	}
}

func TestCloneResultsIsDeep(t *testing.T) {
	results := NewResults(sampleGroups())
	clone := CloneResults(results)
	clone[0].Items[0].Finished = true
	clone[0].Items[0].SizeBytes = 42
	if results[0].Items[0].Finished {
		t.Error("mutating a clone must not change the original")
	}
	if FinishedItems(clone) != 1 || TotalBytes(clone) != 42 {
		t.Errorf("unexpected counts on clone: %d items, %d bytes", FinishedItems(clone), TotalBytes(clone))
	}
	if CloneResults(nil) != nil {
		t.Error("CloneResults(nil) should be nil")
	}

	task := &ExecutionTask{ID: "x", TaskResults: results}
	tc := task.Clone()
	tc.TaskResults[1].Items[0].Message = "changed"
	if task.TaskResults[1].Items[0].Message != "" {
		t.Error("ExecutionTask.Clone must deep-copy results")
	}
}

func TestItemReset(t *testing.T) {
	it := TaskItemResult{Kind: plugin.File, SourcePath: "s", Finished: true, Success: true, Skipped: true, Message: "m", SizeBytes: 3}
	it.Reset()
	if it.Finished || it.Success || it.Skipped || it.Message != "" || it.SizeBytes != 0 {
		t.Errorf("Reset left outcome fields set: %+v", it)
	}
	if it.SourcePath != "s" || it.Kind != plugin.File {
		t.Error("Reset must keep the mirrored item config")
	}
}

func TestExecutionTaskJSONShape(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	in := &ExecutionTask{
		ID: "id-1", PluginID: "git", PluginName: "Git",
		RunType: Auto, ExecType: Restore, State: Stopped,
		BackupPath: "/data/git/content", TotalProgress: 3, CurrentProgress: 1,
		Message: "cancelled", TaskResults: NewResults(sampleGroups()), CreatedAt: created,
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	for _, want := range []string{`"runType":"auto"`, `"execType":"restore"`, `"state":"stopped"`, `"kind":"registry"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("expected %s in %s", want, data)
		}
	}
	if strings.Contains(string(data), "finishedAt") {
		t.Error("zero FinishedAt should be omitted")
	}

	var out ExecutionTask
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if out.State != Stopped || out.ExecType != Restore || len(out.TaskResults) != 2 || !out.CreatedAt.Equal(created) {
		t.Errorf("round trip lost data: %+v", out)
	}

	if err := json.Unmarshal([]byte(`{"state":"paused"}`), &out); err == nil {
		t.Error("expected unknown state to be rejected")
	}
}

func TestParseEnums(t *testing.T) {
	if _, err := ParseExecType("sync"); err == nil {
		t.Error("expected error for unknown exec type")
	}
	if r, err := ParseRunType("manual"); err != nil || r != Manual {
		t.Errorf("ParseRunType = %v, %v", r, err)
	}
	if s, err := ParseState("finished"); err != nil || s != Finished {
		t.Errorf("ParseState = %v, %v", s, err)
	}
}

func TestOperationError(t *testing.T) {
	base := os.ErrNotExist
	err := fmt.Errorf("item failed: %w", &OperationError{Op: "copy", Path: "/x", Err: base})
	var opErr *OperationError
	if !errors.As(err, &opErr) || opErr.Op != "copy" {
		t.Fatalf("expected OperationError in chain, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Error("OperationError must unwrap to the underlying error")
	}
	if IsCancelled(err) {
		t.Error("operation errors are not cancellations")
	}
	if !IsCancelled(fmt.Errorf("wrapped: %w", ErrCancelled)) {
		t.Error("expected wrapped ErrCancelled to be detected")
	}
}

func TestSinks(t *testing.T) {
	var progress []int
	var items []string
	funcs := SinkFuncs{
		OnProgress:     func(label string, current, total int) { progress = append(progress, current) },
		OnItemFinished: func(group string, item TaskItemResult) { items = append(items, group+":"+item.SourcePath) },
	}
	multi := MultiSink{funcs, NoopSink{}, SinkFuncs{}}
	multi.Progress("a", 1, 2)
	multi.ItemFinished("g", TaskItemResult{SourcePath: "s"})
	if len(progress) != 1 || progress[0] != 1 || len(items) != 1 || items[0] != "g:s" {
		t.Errorf("unexpected fan-out: %v %v", progress, items)
	}

	var logBuf bytes.Buffer
	plog.SetOutput(&logBuf)
	plog.SetLevel(plog.LevelNotice)
	t.Cleanup(func() {
		plog.SetOutput(os.Stderr)
		plog.SetLevel(plog.LevelInfo)
	})
	ls := LogSink{PluginID: "git"}
	ls.ItemFinished("g", TaskItemResult{SourcePath: "ok", Finished: true, Success: true})
	ls.ItemFinished("g", TaskItemResult{SourcePath: "skip", Finished: true, Success: true, Skipped: true})
	ls.ItemFinished("g", TaskItemResult{SourcePath: "bad", Finished: true, Message: "boom"})
	out := logBuf.String()
	for _, want := range []string{"msg=DONE", "msg=SKIPPED", "msg=FAILED", "error=boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in log output: %s", want, out)
		}
	}
}
