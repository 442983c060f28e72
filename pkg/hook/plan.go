package hook

// Plan holds the hook commands for one engine phase (backup or restore) of a
// single plugin. Env is exported to every command on top of the process
// environment.
type Plan struct {
	Enabled bool

	PreCommands  []string
	PostCommands []string
	Env          map[string]string

	// Global Flags
	DryRun   bool
	FailFast bool
}
