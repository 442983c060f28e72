package flagparse

import (
	"fmt"

	"github.com/paulschiretz/pgl-appsave/pkg/util"
)

// Command defines the command to execute.
type Command int

const (
	None Command = iota
	Backup
	Restore
	Resume
	List
	Detect
	History
	Schedule
	Init
	Version
)

var commandToString = map[Command]string{
	None:     "none",
	Backup:   "backup",
	Restore:  "restore",
	Resume:   "resume",
	List:     "list",
	Detect:   "detect",
	History:  "history",
	Schedule: "schedule",
	Init:     "init",
	Version:  "version",
}

var stringToCommand map[string]Command

func init() {
	stringToCommand = util.InvertMap(commandToString)
}

func (c Command) String() string {
	if str, ok := commandToString[c]; ok {
		return str
	}
	return fmt.Sprintf("unknown_command(%d)", c)
}

func ParseCommand(s string) (Command, error) {
	if command, ok := stringToCommand[s]; ok && command != None {
		return command, nil
	}
	return None, fmt.Errorf("invalid command: %q. Must be 'backup', 'restore', 'resume', 'list', 'detect', 'history', 'schedule', 'init', or 'version'", s)
}
