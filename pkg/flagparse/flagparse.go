package flagparse

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-appsave/pkg/buildinfo"
)

// cliFlags holds pointers to all possible command-line flags.
// Fields are pointers so we can distinguish between "not registered for this command" (nil)
// and "registered but not set by user" (non-nil pointer to zero value).
type cliFlags struct {
	// Global
	LogLevel *string
	DryRun   *bool
	Metrics  *bool
	Base     *string

	// Plugin selection and discovery
	Plugins      *string
	PluginDir    *string
	SoftwareFile *string
	InstallDirs  *string

	// Engine
	FailFast         *bool
	BatchWorkers     *int
	BufferSizeKB     *int
	RetryCount       *int
	RetryWaitSeconds *int
	Events           *string

	// Backup specific
	PreBackupHooks     *string
	PostBackupHooks    *string
	CompressionEnabled *bool
	CompressionFormat  *string
	CompressionLevel   *string

	// Restore specific
	PreRestoreHooks  *string
	PostRestoreHooks *string

	// Resume / History
	TaskID *string
	Full   *bool
	Plugin *string
	State  *string
	Limit  *int
	Sort   *string

	// Detect specific
	SaveSnapshot *string

	// Init specific
	Force   *bool
	Default *bool
}

func registerGlobalFlags(fs *flag.FlagSet, f *cliFlags) {
	f.LogLevel = fs.String("log-level", "info", "Set the logging level: 'debug', 'notice', 'info', 'warn', 'error'.")
	f.Base = fs.String("base", "", "Base data directory holding the configuration, plugins and backup sets. (Required)")
}

func registerDiscoveryFlags(fs *flag.FlagSet, f *cliFlags) {
	f.PluginDir = fs.String("plugin-dir", "", "Directory with plugin descriptor files (.json, .yaml), relative to -base if not absolute.")
	f.SoftwareFile = fs.String("software-file", "", "JSON snapshot of installed software, used in addition to the system's uninstall entries.")
	f.InstallDirs = fs.String("install-dirs", "", "Comma-separated id=path list binding custom plugins to install directories.")
}

func registerEngineFlags(fs *flag.FlagSet, f *cliFlags) {
	f.DryRun = fs.Bool("dry-run", false, "Show what would be done without making any changes.")
	f.Metrics = fs.Bool("metrics", false, "Log a metrics summary after the run.")
	f.FailFast = fs.Bool("fail-fast", false, "Abort the run when a hook or a post-processing step fails.")
	f.BatchWorkers = fs.Int("batch-workers", 0, "Number of plugins processed concurrently.")
	f.BufferSizeKB = fs.Int("buffer-size-kb", 0, "Size of the I/O buffer in kilobytes for file copies and compression.")
	f.RetryCount = fs.Int("retry-count", 0, "Number of retries for failed file copies.")
	f.RetryWaitSeconds = fs.Int("retry-wait", 0, "Seconds to wait between retries.")
	f.Events = fs.String("events", "", "Write newline-delimited JSON progress events to this file ('-' for stdout).")
}

func registerCompressionFlags(fs *flag.FlagSet, f *cliFlags) {
	f.CompressionEnabled = fs.Bool("compression", false, "Compress each backup set into a single archive.")
	f.CompressionFormat = fs.String("compression-format", "", "Compression format: 'zip', 'tar.gz', or 'tar.zst'.")
	f.CompressionLevel = fs.String("compression-level", "", "Compression level: 'default', 'fastest', 'better', 'best'.")
}

func registerBackupFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Plugins = fs.String("plugins", "", "Comma-separated plugin ids to back up. Defaults to every detected plugin.")
	registerDiscoveryFlags(fs, f)
	registerEngineFlags(fs, f)
	registerCompressionFlags(fs, f)
	f.PreBackupHooks = fs.String("pre-backup-hooks", "", "Comma-separated list of commands to run before each plugin backup.")
	f.PostBackupHooks = fs.String("post-backup-hooks", "", "Comma-separated list of commands to run after each plugin backup.")
}

func registerRestoreFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Plugins = fs.String("plugins", "", "Comma-separated plugin ids to restore. Defaults to every plugin with a backup set.")
	registerDiscoveryFlags(fs, f)
	registerEngineFlags(fs, f)
	f.PreRestoreHooks = fs.String("pre-restore-hooks", "", "Comma-separated list of commands to run before each plugin restore.")
	f.PostRestoreHooks = fs.String("post-restore-hooks", "", "Comma-separated list of commands to run after each plugin restore.")
}

func registerResumeFlags(fs *flag.FlagSet, f *cliFlags) {
	f.TaskID = fs.String("task-id", "", "Id of the stopped task to resume. (Required)")
	f.Full = fs.Bool("full", false, "Rerun every item instead of only the unfinished ones.")
	registerDiscoveryFlags(fs, f)
	registerEngineFlags(fs, f)
}

func registerListFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Sort = fs.String("sort", "desc", "Sort order of backup sets by time: 'desc' (newest first) or 'asc'.")
}

func registerDetectFlags(fs *flag.FlagSet, f *cliFlags) {
	registerDiscoveryFlags(fs, f)
	f.SaveSnapshot = fs.String("save-snapshot", "", "Write the discovered software list to this JSON file, usable as -software-file.")
}

func registerHistoryFlags(fs *flag.FlagSet, f *cliFlags) {
	f.TaskID = fs.String("task-id", "", "Show the full record of a single task.")
	f.Plugin = fs.String("plugin", "", "Only show tasks of this plugin id.")
	f.State = fs.String("state", "", "Only show tasks in this state: 'pending', 'running', 'stopped', 'finished'.")
	f.Limit = fs.Int("limit", 20, "Maximum number of tasks to show (0 = all).")
}

func registerScheduleFlags(fs *flag.FlagSet, f *cliFlags) {
	registerDiscoveryFlags(fs, f)
	registerEngineFlags(fs, f)
}

func registerInitFlags(fs *flag.FlagSet, f *cliFlags) {
	// Init supports the persisted settings (to generate config) plus 'force' and 'default'.
	f.Force = fs.Bool("force", false, "Bypass confirmation prompts.")
	f.Default = fs.Bool("default", false, "Overwrite existing configuration with defaults.")
	registerDiscoveryFlags(fs, f)
	f.Metrics = fs.Bool("metrics", false, "Log a metrics summary after the run.")
	f.FailFast = fs.Bool("fail-fast", false, "Abort the run when a hook or a post-processing step fails.")
	f.BatchWorkers = fs.Int("batch-workers", 0, "Number of plugins processed concurrently.")
	f.BufferSizeKB = fs.Int("buffer-size-kb", 0, "Size of the I/O buffer in kilobytes for file copies and compression.")
	f.RetryCount = fs.Int("retry-count", 0, "Number of retries for failed file copies.")
	f.RetryWaitSeconds = fs.Int("retry-wait", 0, "Seconds to wait between retries.")
	registerCompressionFlags(fs, f)
	f.PreBackupHooks = fs.String("pre-backup-hooks", "", "Comma-separated list of commands to run before each plugin backup.")
	f.PostBackupHooks = fs.String("post-backup-hooks", "", "Comma-separated list of commands to run after each plugin backup.")
	f.PreRestoreHooks = fs.String("pre-restore-hooks", "", "Comma-separated list of commands to run before each plugin restore.")
	f.PostRestoreHooks = fs.String("post-restore-hooks", "", "Comma-separated list of commands to run after each plugin restore.")
}

var commandDescriptions = map[Command]string{
	Backup:   "Back up the settings of the selected plugins into the base directory.",
	Restore:  "Restore the settings of the selected plugins from the base directory.",
	Resume:   "Resume a stopped task from the history.",
	List:     "List the backup sets stored in the base directory.",
	Detect:   "Show every plugin and the install directory it is bound to.",
	History:  "Show past tasks.",
	Schedule: "Run the configured schedules until interrupted.",
	Init:     "Initialize a new base directory with a configuration file.",
}

var commandRegistrars = map[Command][]func(*flag.FlagSet, *cliFlags){
	Backup:   {registerBackupFlags},
	Restore:  {registerRestoreFlags},
	Resume:   {registerResumeFlags},
	List:     {registerListFlags},
	Detect:   {registerDetectFlags},
	History:  {registerHistoryFlags},
	Schedule: {registerScheduleFlags},
	Init:     {registerInitFlags},
}

// Parse parses the provided arguments (usually os.Args[1:]) and returns the action and config map.
func Parse(args []string) (Command, map[string]interface{}, error) {
	// If no arguments provided, print help and exit.
	if len(args) == 0 {
		fs := flag.NewFlagSet("main", flag.ContinueOnError)
		printTopLevelUsage(fs)
		return None, nil, nil
	}

	cmdStr := strings.ToLower(args[0])

	if cmdStr == "help" || cmdStr == "-h" || cmdStr == "-help" || cmdStr == "--help" {
		fs := flag.NewFlagSet("main", flag.ContinueOnError)
		printTopLevelUsage(fs)
		return None, nil, nil
	}

	command, err := ParseCommand(cmdStr)
	if err != nil {
		return None, nil, err
	}
	if command == Version {
		return command, nil, nil
	}

	registrars, ok := commandRegistrars[command]
	if !ok {
		return None, nil, fmt.Errorf("unknown command: %s", args[0])
	}

	f := &cliFlags{}
	fs := flag.NewFlagSet(command.String(), flag.ContinueOnError)
	registerGlobalFlags(fs, f)
	for _, register := range registrars {
		register(fs, f)
	}

	// Custom usage for the subcommand
	fs.Usage = func() {
		printSubcommandUsage(command, commandDescriptions[command], fs)
	}

	if err := fs.Parse(args[1:]); err != nil {
		return command, nil, err
	}
	if fs.NArg() > 0 {
		return command, nil, fmt.Errorf("unexpected arguments for %s: %v", command, fs.Args())
	}

	flagMap, err := flagsToMap(fs, f)
	return command, flagMap, err
}

func flagsToMap(fs *flag.FlagSet, f *cliFlags) (map[string]interface{}, error) {
	// Create a map of the flags that were explicitly set by the user, along with their values.
	// This map is used to selectively override the base configuration.
	usedFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { usedFlags[f.Name] = true })

	flagMap := make(map[string]any)

	addIfUsed(flagMap, usedFlags, "log-level", f.LogLevel)
	addIfUsed(flagMap, usedFlags, "dry-run", f.DryRun)
	addIfUsed(flagMap, usedFlags, "metrics", f.Metrics)
	addIfUsed(flagMap, usedFlags, "base", f.Base)

	addIfUsed(flagMap, usedFlags, "plugin-dir", f.PluginDir)
	addIfUsed(flagMap, usedFlags, "software-file", f.SoftwareFile)

	addIfUsed(flagMap, usedFlags, "fail-fast", f.FailFast)
	addIfUsed(flagMap, usedFlags, "batch-workers", f.BatchWorkers)
	addIfUsed(flagMap, usedFlags, "buffer-size-kb", f.BufferSizeKB)
	addIfUsed(flagMap, usedFlags, "retry-count", f.RetryCount)
	addIfUsed(flagMap, usedFlags, "retry-wait", f.RetryWaitSeconds)
	addIfUsed(flagMap, usedFlags, "events", f.Events)

	addIfUsed(flagMap, usedFlags, "compression", f.CompressionEnabled)
	addIfUsed(flagMap, usedFlags, "compression-format", f.CompressionFormat)
	addIfUsed(flagMap, usedFlags, "compression-level", f.CompressionLevel)

	addIfUsed(flagMap, usedFlags, "task-id", f.TaskID)
	addIfUsed(flagMap, usedFlags, "full", f.Full)
	addIfUsed(flagMap, usedFlags, "plugin", f.Plugin)
	addIfUsed(flagMap, usedFlags, "state", f.State)
	addIfUsed(flagMap, usedFlags, "limit", f.Limit)
	addIfUsed(flagMap, usedFlags, "sort", f.Sort)
	addIfUsed(flagMap, usedFlags, "save-snapshot", f.SaveSnapshot)

	addIfUsed(flagMap, usedFlags, "force", f.Force)
	addIfUsed(flagMap, usedFlags, "default", f.Default)

	// Handle flags that require parsing/validation.
	addParsedIfUsed(flagMap, usedFlags, "plugins", f.Plugins, ParseExcludeList)
	addParsedIfUsed(flagMap, usedFlags, "pre-backup-hooks", f.PreBackupHooks, ParseCmdList)
	addParsedIfUsed(flagMap, usedFlags, "post-backup-hooks", f.PostBackupHooks, ParseCmdList)
	addParsedIfUsed(flagMap, usedFlags, "pre-restore-hooks", f.PreRestoreHooks, ParseCmdList)
	addParsedIfUsed(flagMap, usedFlags, "post-restore-hooks", f.PostRestoreHooks, ParseCmdList)

	if f.InstallDirs != nil && usedFlags["install-dirs"] {
		dirs, err := ParseKeyValueList(*f.InstallDirs)
		if err != nil {
			return nil, fmt.Errorf("invalid -install-dirs: %w", err)
		}
		flagMap["install-dirs"] = dirs
	}

	return flagMap, nil
}

// addIfUsed adds the value of ptr to flagMap if ptr is not nil and the flag was set.
func addIfUsed[T any](flagMap map[string]interface{}, usedFlags map[string]bool, name string, ptr *T) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = *ptr
	}
}

// addParsedIfUsed adds the parsed value of ptr to flagMap if ptr is not nil and the flag was set.
func addParsedIfUsed(flagMap map[string]interface{}, usedFlags map[string]bool, name string, ptr *string, parser func(string) []string) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = parser(*ptr)
	}
}

// printTopLevelUsage prints the main help message.
func printTopLevelUsage(fs *flag.FlagSet) {

	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "Plugin-driven backup and restore of application settings.\n\n")
	fmt.Fprintf(fs.Output(), "Usage: %s <command> [flags]\n\n", execName)
	fmt.Fprintf(fs.Output(), "Commands:\n")
	fmt.Fprintf(fs.Output(), "  backup      Back up application settings\n")
	fmt.Fprintf(fs.Output(), "  restore     Restore application settings\n")
	fmt.Fprintf(fs.Output(), "  resume      Resume a stopped task\n")
	fmt.Fprintf(fs.Output(), "  list        List backup sets\n")
	fmt.Fprintf(fs.Output(), "  detect      Show plugin detection results\n")
	fmt.Fprintf(fs.Output(), "  history     Show past tasks\n")
	fmt.Fprintf(fs.Output(), "  schedule    Run configured schedules\n")
	fmt.Fprintf(fs.Output(), "  init        Initialize a new configuration\n")
	fmt.Fprintf(fs.Output(), "  version     Print the application version\n")
	fmt.Fprintf(fs.Output(), "\nRun '%s <command> -help' for more information on a command.\n", execName)
}

// printSubcommandUsage prints the help message for a specific subcommand.
func printSubcommandUsage(command Command, desc string, fs *flag.FlagSet) {

	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "Plugin-driven backup and restore of application settings.\n\n")
	fmt.Fprintf(fs.Output(), "Usage of the %s command: %s %s [flags]\n\n", command, execName, command)
	fmt.Fprintf(fs.Output(), "%s\n\n", desc)
	fmt.Fprintf(fs.Output(), "Flags:\n")
	fs.PrintDefaults()
}

// ParseKeyValueList parses a comma-separated list of key=value pairs. Values
// may be quoted to contain commas; backslashes are kept for Windows paths.
func ParseKeyValueList(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, item := range parseListInternal(s, false, false) {
		key, value, ok := strings.Cut(item, "=")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if !ok || key == "" || value == "" {
			return nil, fmt.Errorf("expected key=value, got %q", item)
		}
		out[key] = value
	}
	return out, nil
}

// ParseCmdList parses a comma-separated list of shell-like commands.
// It preserves quotes and handles backslash escapes so they can be interpreted by the shell.
func ParseCmdList(s string) []string {
	return parseListInternal(s, true, true)
}

// ParseExcludeList parses a comma-separated list of file or directory patterns.
// It removes quotes, as they are only used for grouping items with spaces.
// It treats backslashes as literal characters for Windows path compatibility.
func ParseExcludeList(s string) []string {
	return parseListInternal(s, false, false)
}

// parseListInternal is the core implementation for parsing a comma-separated list. It supports
// both single (') and double (") quotes to allow items to contain commas or spaces.
// - `keepQuotes`: Preserves quote characters in the output.
// - `handleEscapes`: Treats backslashes as escape characters.
func parseListInternal(s string, keepQuotes, handleEscapes bool) []string {
	var list []string
	var current strings.Builder
	var quoteChar rune

	// Helper to add the current buffered item to the list after trimming whitespace.
	appendItem := func() {
		trimmed := strings.TrimSpace(current.String())
		if trimmed != "" {
			list = append(list, trimmed)
		}
		current.Reset()
	}

	var isEscaped bool
	for _, r := range s {
		if isEscaped {
			current.WriteRune(r)
			isEscaped = false
			continue
		}

		switch {
		case r == '\\' && handleEscapes:
			isEscaped = true
			// For commands, we also keep the backslash for the shell to interpret.
			current.WriteRune(r)
		case r == '\'' || r == '"':
			if quoteChar == 0 { // Start of a new quoted section.
				quoteChar = r
				if keepQuotes {
					current.WriteRune(r)
				}
			} else if quoteChar == r { // End of the current quoted section.
				quoteChar = 0
				if keepQuotes {
					current.WriteRune(r)
				}
			} else { // A different quote character inside an existing quoted section.
				current.WriteRune(r) // Treat it as a literal character.
			}
		case r == ',' && quoteChar == 0: // Comma outside of any quotes.
			appendItem()
		default:
			current.WriteRune(r)
		}
	}
	appendItem() // Add the final item after the loop finishes.
	return list
}
