package coordinator

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/paulschiretz/pgl-appsave/pkg/plog"
	"github.com/paulschiretz/pgl-appsave/pkg/task"
)

// Event types written by JSONEventSink.
const (
	EventProgress     = "progress"
	EventItemFinished = "itemFinished"
	EventState        = "state"
)

// Event is one line of the newline-delimited event stream.
type Event struct {
	Type    string               `json:"type"`
	TaskID  string               `json:"taskId"`
	Time    time.Time            `json:"time"`
	Label   string               `json:"label,omitempty"`
	Current int                  `json:"current"`
	Total   int                  `json:"total"`
	Group   string               `json:"group,omitempty"`
	Item    *task.TaskItemResult `json:"item,omitempty"`
	State   task.State           `json:"state,omitempty"`
	Success bool                 `json:"success,omitempty"`
	Message string               `json:"message,omitempty"`
}

// EventStream serializes events of any number of tasks onto one writer.
type EventStream struct {
	mu  sync.Mutex
	enc *json.Encoder
	now func() time.Time
}

// NewEventStream writes one JSON object per line to w.
func NewEventStream(w io.Writer) *EventStream {
	return &EventStream{enc: json.NewEncoder(w), now: time.Now}
}

func (s *EventStream) write(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.Time = s.now().UTC()
	if err := s.enc.Encode(ev); err != nil {
		plog.Warn("Failed to write event", "type", ev.Type, "task", ev.TaskID, "error", err)
	}
}

// Sink returns the ProgressSink for one task.
func (s *EventStream) Sink(taskID string) *JSONEventSink {
	return &JSONEventSink{stream: s, taskID: taskID}
}

// JSONEventSink is the out-of-process progress channel of one task.
type JSONEventSink struct {
	stream *EventStream
	taskID string
	total  int
}

func (j *JSONEventSink) Progress(label string, current, total int) {
	j.total = total
	j.stream.write(Event{Type: EventProgress, TaskID: j.taskID, Label: label, Current: current, Total: total})
}

func (j *JSONEventSink) ItemFinished(groupName string, item task.TaskItemResult) {
	j.stream.write(Event{Type: EventItemFinished, TaskID: j.taskID, Group: groupName, Item: &item, Total: j.total})
}

func (j *JSONEventSink) TaskState(t *task.ExecutionTask) {
	j.stream.write(Event{
		Type:    EventState,
		TaskID:  j.taskID,
		Current: t.CurrentProgress,
		Total:   t.TotalProgress,
		State:   t.State,
		Success: t.Success,
		Message: t.Message,
	})
}

var (
	_ task.ProgressSink = (*JSONEventSink)(nil)
	_ task.StateSink    = (*JSONEventSink)(nil)
)
