package task

import (
	"fmt"

	"github.com/paulschiretz/pgl-appsave/pkg/plog"
)

// ProgressSink receives live progress. Progress fires after every item and at
// every group boundary; ItemFinished fires exactly once per recorded item.
type ProgressSink interface {
	Progress(label string, current, total int)
	ItemFinished(groupName string, item TaskItemResult)
}

// StateSink is implemented by sinks that also want task state transitions.
type StateSink interface {
	TaskState(t *ExecutionTask)
}

// SinkFuncs adapts plain functions to a ProgressSink. Nil funcs are ignored.
type SinkFuncs struct {
	OnProgress     func(label string, current, total int)
	OnItemFinished func(groupName string, item TaskItemResult)
}

func (f SinkFuncs) Progress(label string, current, total int) {
	if f.OnProgress != nil {
		f.OnProgress(label, current, total)
	}
}

func (f SinkFuncs) ItemFinished(groupName string, item TaskItemResult) {
	if f.OnItemFinished != nil {
		f.OnItemFinished(groupName, item)
	}
}

// NoopSink discards all events.
type NoopSink struct{}

func (NoopSink) Progress(string, int, int)           {}
func (NoopSink) ItemFinished(string, TaskItemResult) {}

// MultiSink fans events out to several sinks in order.
type MultiSink []ProgressSink

func (m MultiSink) Progress(label string, current, total int) {
	for _, s := range m {
		s.Progress(label, current, total)
	}
}

func (m MultiSink) ItemFinished(groupName string, item TaskItemResult) {
	for _, s := range m {
		s.ItemFinished(groupName, item)
	}
}

// TaskState forwards state transitions to members that implement StateSink.
func (m MultiSink) TaskState(t *ExecutionTask) {
	for _, s := range m {
		if ss, ok := s.(StateSink); ok {
			ss.TaskState(t)
		}
	}
}

// LogSink renders events through plog for the command line.
type LogSink struct {
	PluginID string
}

func (s LogSink) Progress(label string, current, total int) {
	plog.Debug("PROGRESS", "plugin", s.PluginID, "label", label, "progress", fmt.Sprintf("%d/%d", current, total))
}

func (s LogSink) ItemFinished(groupName string, item TaskItemResult) {
	switch {
	case item.Skipped:
		plog.Info("SKIPPED", "plugin", s.PluginID, "group", groupName, "source", item.SourcePath, "reason", item.Message)
	case item.Success:
		plog.Notice("DONE", "plugin", s.PluginID, "group", groupName, "source", item.SourcePath, "bytes", item.SizeBytes)
	default:
		plog.Warn("FAILED", "plugin", s.PluginID, "group", groupName, "source", item.SourcePath, "error", item.Message)
	}
}

var (
	_ ProgressSink = SinkFuncs{}
	_ ProgressSink = NoopSink{}
	_ ProgressSink = MultiSink{}
	_ ProgressSink = LogSink{}
	_ StateSink    = MultiSink{}
)
