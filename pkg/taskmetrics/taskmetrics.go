// Package taskmetrics counts the outcomes of a batch of tasks.
package taskmetrics

import (
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/paulschiretz/pgl-appsave/pkg/plog"
	"github.com/paulschiretz/pgl-appsave/pkg/task"
)

// Metrics defines the interface for collecting and reporting task statistics.
type Metrics interface {
	RecordTask(t *task.ExecutionTask)
	StartTimer()
	LogSummary(msg string)
}

// TaskMetrics holds atomic counters so tasks of one batch can record concurrently.
type TaskMetrics struct {
	TasksFinished  atomic.Int64
	TasksFailed    atomic.Int64
	TasksStopped   atomic.Int64
	GroupsFailed   atomic.Int64
	ItemsSucceeded atomic.Int64
	ItemsSkipped   atomic.Int64
	ItemsFailed    atomic.Int64
	BytesProcessed atomic.Int64

	startTime time.Time
}

// RecordTask adds the outcome of a task that has left the running state.
func (m *TaskMetrics) RecordTask(t *task.ExecutionTask) {
	switch {
	case t.State == task.Stopped:
		m.TasksStopped.Add(1)
	case t.Success:
		m.TasksFinished.Add(1)
	default:
		m.TasksFailed.Add(1)
	}

	for _, g := range t.TaskResults {
		if g.Finished && !g.Success {
			m.GroupsFailed.Add(1)
		}
		for _, it := range g.Items {
			switch {
			case !it.Finished:
			case it.Skipped:
				m.ItemsSkipped.Add(1)
			case it.Success:
				m.ItemsSucceeded.Add(1)
			default:
				m.ItemsFailed.Add(1)
			}
			m.BytesProcessed.Add(it.SizeBytes)
		}
	}
}

// StartTimer marks the beginning of the measured run.
func (m *TaskMetrics) StartTimer() {
	m.startTime = time.Now()
}

// LogSummary prints the counters with a custom message.
func (m *TaskMetrics) LogSummary(msg string) {
	duration := time.Duration(0)
	if !m.startTime.IsZero() {
		duration = time.Since(m.startTime)
	}

	plog.Info(msg,
		"tasks_finished", m.TasksFinished.Load(),
		"tasks_failed", m.TasksFailed.Load(),
		"tasks_stopped", m.TasksStopped.Load(),
		"groups_failed", m.GroupsFailed.Load(),
		"items_succeeded", m.ItemsSucceeded.Load(),
		"items_skipped", m.ItemsSkipped.Load(),
		"items_failed", m.ItemsFailed.Load(),
		"bytes", humanize.IBytes(uint64(m.BytesProcessed.Load())),
		"duration", duration.Round(time.Millisecond),
	)
}

// NoopMetrics performs no operations. It is used when metrics are disabled.
type NoopMetrics struct{}

func (m *NoopMetrics) RecordTask(t *task.ExecutionTask) {}
func (m *NoopMetrics) StartTimer()                      {}
func (m *NoopMetrics) LogSummary(msg string)            {}

var _ Metrics = (*TaskMetrics)(nil)
var _ Metrics = (*NoopMetrics)(nil)
