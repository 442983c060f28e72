package taskmetrics

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/paulschiretz/pgl-appsave/pkg/plog"
	"github.com/paulschiretz/pgl-appsave/pkg/task"
)

func sampleTask(state task.State, success bool) *task.ExecutionTask {
	return &task.ExecutionTask{
		State:   state,
		Success: success,
		TaskResults: []task.TaskResult{
			{GroupName: "A", Finished: true, Success: false, Items: []task.TaskItemResult{
				{Finished: true, Success: false},
				{Finished: false},
			}},
			{GroupName: "B", Finished: true, Success: true, Items: []task.TaskItemResult{
				{Finished: true, Success: true, SizeBytes: 1024},
				{Finished: true, Success: true, Skipped: true},
			}},
		},
	}
}

func TestTaskMetrics_RecordTask(t *testing.T) {
	m := &TaskMetrics{}
	m.RecordTask(sampleTask(task.Finished, false))
	m.RecordTask(sampleTask(task.Finished, true))
	m.RecordTask(sampleTask(task.Stopped, false))

	checks := []struct {
		name string
		got  int64
		want int64
	}{
		{"TasksFinished", m.TasksFinished.Load(), 1},
		{"TasksFailed", m.TasksFailed.Load(), 1},
		{"TasksStopped", m.TasksStopped.Load(), 1},
		{"GroupsFailed", m.GroupsFailed.Load(), 3},
		{"ItemsSucceeded", m.ItemsSucceeded.Load(), 3},
		{"ItemsSkipped", m.ItemsSkipped.Load(), 3},
		{"ItemsFailed", m.ItemsFailed.Load(), 3},
		{"BytesProcessed", m.BytesProcessed.Load(), 3072},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("expected %s to be %d, got %d", c.name, c.want, c.got)
		}
	}
}

func TestTaskMetrics_LogSummary(t *testing.T) {
	var logBuf bytes.Buffer
	plog.SetOutput(&logBuf)
	t.Cleanup(func() { plog.SetOutput(os.Stderr) })

	m := &TaskMetrics{}
	m.StartTimer()
	m.RecordTask(sampleTask(task.Finished, true))
	m.LogSummary("Backup summary")

	output := logBuf.String()
	for _, want := range []string{`msg="Backup summary"`, "tasks_finished=1", "items_skipped=1", `bytes="1.0 KiB"`, "duration="} {
		if !strings.Contains(output, want) {
			t.Errorf("expected log output to contain %q. Got: %s", want, output)
		}
	}
}

func TestNoopMetrics(t *testing.T) {
	m := &NoopMetrics{}
	m.StartTimer()
	m.RecordTask(sampleTask(task.Finished, true))
	m.LogSummary("ignored")
}
