package task

import (
	"encoding/json"
	"fmt"

	"github.com/paulschiretz/pgl-appsave/pkg/util"
)

// ExecType is the direction of a run.
type ExecType string

const (
	Backup  ExecType = "backup"
	Restore ExecType = "restore"
)

var execTypeToString = map[ExecType]string{
	Backup:  "backup",
	Restore: "restore",
}

var stringToExecType map[string]ExecType

// RunType says who started a run.
type RunType string

const (
	Manual RunType = "manual"
	Auto   RunType = "auto"
)

var runTypeToString = map[RunType]string{
	Manual: "manual",
	Auto:   "auto",
}

var stringToRunType map[string]RunType

// State is the lifecycle state of an ExecutionTask.
//
//	pending -> running -> finished
//	                   -> stopped -> (resume) pending
type State string

const (
	Pending  State = "pending"
	Running  State = "running"
	Stopped  State = "stopped"
	Finished State = "finished"
)

var stateToString = map[State]string{
	Pending:  "pending",
	Running:  "running",
	Stopped:  "stopped",
	Finished: "finished",
}

var stringToState map[string]State

func init() {
	stringToExecType = util.InvertMap(execTypeToString)
	stringToRunType = util.InvertMap(runTypeToString)
	stringToState = util.InvertMap(stateToString)
}

func (e ExecType) String() string {
	if str, ok := execTypeToString[e]; ok {
		return str
	}
	return fmt.Sprintf("unknown_exec_type(%s)", string(e))
}

// ParseExecType parses an execution type.
func ParseExecType(s string) (ExecType, error) {
	if e, ok := stringToExecType[s]; ok {
		return e, nil
	}
	return "", fmt.Errorf("invalid exec type: %q. Must be 'backup' or 'restore'", s)
}

// MarshalJSON implements the json.Marshaler interface for ExecType.
func (e ExecType) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for ExecType.
func (e *ExecType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("exec type should be a string, got %s", data)
	}
	parsed, err := ParseExecType(s)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

func (r RunType) String() string {
	if str, ok := runTypeToString[r]; ok {
		return str
	}
	return fmt.Sprintf("unknown_run_type(%s)", string(r))
}

// ParseRunType parses a run type.
func ParseRunType(s string) (RunType, error) {
	if r, ok := stringToRunType[s]; ok {
		return r, nil
	}
	return "", fmt.Errorf("invalid run type: %q. Must be 'manual' or 'auto'", s)
}

// MarshalJSON implements the json.Marshaler interface for RunType.
func (r RunType) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for RunType.
func (r *RunType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("run type should be a string, got %s", data)
	}
	parsed, err := ParseRunType(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func (s State) String() string {
	if str, ok := stateToString[s]; ok {
		return str
	}
	return fmt.Sprintf("unknown_state(%s)", string(s))
}

// ParseState parses a task state.
func ParseState(s string) (State, error) {
	if st, ok := stringToState[s]; ok {
		return st, nil
	}
	return "", fmt.Errorf("invalid task state: %q. Must be 'pending', 'running', 'stopped', or 'finished'", s)
}

// MarshalJSON implements the json.Marshaler interface for State.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for State.
func (s *State) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("task state should be a string, got %s", data)
	}
	parsed, err := ParseState(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
