package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/paulschiretz/pgl-appsave/pkg/buildinfo"
	"github.com/paulschiretz/pgl-appsave/pkg/flagparse"
	"github.com/paulschiretz/pgl-appsave/pkg/pathcompression"
	"github.com/paulschiretz/pgl-appsave/pkg/plog"
	"github.com/paulschiretz/pgl-appsave/pkg/scheduler"
	"github.com/paulschiretz/pgl-appsave/pkg/task"
	"github.com/paulschiretz/pgl-appsave/pkg/util"
)

// ConfigFileName is the name of the configuration file.
const ConfigFileName = "pgl-appsave.config.json"

type HooksConfig struct {
	// Note: omitempty is intentionally not used so that the hook fields
	// appear in the generated config file for better discoverability.
	// SECURITY: These commands are executed as provided. Ensure they are from a trusted source.
	PreBackup   []string `json:"preBackup"`
	PostBackup  []string `json:"postBackup"`
	PreRestore  []string `json:"preRestore"`
	PostRestore []string `json:"postRestore"`
}

type EngineConfig struct {
	Metrics          bool `json:"metrics"`
	FailFast         bool `json:"failFast"`
	BatchWorkers     int  `json:"batchWorkers"`
	BufferSizeKB     int  `json:"bufferSizeKB" comment:"Size of the I/O buffer in kilobytes for file copies and compression. Default is 256 (256KB)."`
	RetryCount       int  `json:"retryCount"`
	RetryWaitSeconds int  `json:"retryWaitSeconds"`
}

type CompressionConfig struct {
	Enabled bool   `json:"enabled"`
	Format  string `json:"format"`
	Level   string `json:"level"`
}

// ScheduleConfig is one named cron entry. An empty Plugins list means every
// bound plugin.
type ScheduleConfig struct {
	Name     string   `json:"name"`
	Spec     string   `json:"spec"`
	ExecType string   `json:"execType"`
	Plugins  []string `json:"plugins"`
}

type RuntimeConfig struct {
	DryRun     bool
	Plugins    []string
	EventsPath string
	ListSort   string
}

type Config struct {
	Version      string            `json:"version"`
	Base         string            `json:"-"` // Never added to config file
	Runtime      RuntimeConfig     `json:"-"` // Never added to config file
	LogLevel     string            `json:"logLevel"`
	PluginDir    string            `json:"pluginDir"`
	SoftwareFile string            `json:"softwareFile"`
	HistoryFile  string            `json:"historyFile"`
	Engine       EngineConfig      `json:"engine"`
	Compression  CompressionConfig `json:"compression"`
	Hooks        HooksConfig       `json:"hooks"`
	InstallDirs  map[string]string `json:"installDirs"`
	Schedules    []ScheduleConfig  `json:"schedules"`
}

// NewDefault creates and returns a Config struct with sensible default values.
func NewDefault() Config {
	return Config{
		Version:      buildinfo.Version,
		Base:         "",     // Intentionally empty to force user configuration.
		LogLevel:     "info", // Default log level.
		PluginDir:    "plugins",
		SoftwareFile: "", // Only the system's uninstall entries are used.
		HistoryFile:  buildinfo.MetaPrefix + ".history.db",
		Engine: EngineConfig{
			FailFast:         false,
			Metrics:          true,
			BatchWorkers:     2,   // Plugins processed in parallel.
			BufferSizeKB:     256, // Default to 256KB buffer. Keep it between 64KB-4MB
			RetryCount:       3,
			RetryWaitSeconds: 2,
		},
		Compression: CompressionConfig{
			Enabled: false,
			Format:  pathcompression.TarZst.String(),
			Level:   pathcompression.Default.String(),
		},
		Hooks: HooksConfig{
			PreBackup:   []string{},
			PostBackup:  []string{},
			PreRestore:  []string{},
			PostRestore: []string{},
		},
		InstallDirs: map[string]string{},
		Schedules:   []ScheduleConfig{},
		Runtime: RuntimeConfig{
			ListSort: "desc",
		},
	}
}

// Load attempts to load a configuration from "pgl-appsave.config.json" in base.
// If the file doesn't exist, it returns the default config without an error.
// If the file exists but fails to parse, it returns an error and a zero-value config.
func Load(base string) (Config, error) {
	absBasePath, err := filepath.Abs(base)
	if err != nil {
		return Config{}, fmt.Errorf("could not determine absolute path for load directory %s: %w", base, err)
	}

	configPath := filepath.Join(absBasePath, ConfigFileName)

	file, err := os.Open(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := NewDefault()
			cfg.Base = absBasePath
			return cfg, nil // Config file doesn't exist, which is a normal case.
		}
		return Config{}, fmt.Errorf("error opening config file %s: %w", configPath, err)
	}
	defer file.Close()

	plog.Info("Loading configuration", "path", configPath)
	// Start with default values, then overwrite with the file's content.
	// This makes the config loading resilient to missing fields in the JSON file.
	config := NewDefault()
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&config); err != nil {
		return Config{}, fmt.Errorf("error parsing config file %s: %w", configPath, err)
	}
	config.Base = absBasePath

	// NOTE: if config.Version differs from the app version a migration step goes here.
	config.Version = buildinfo.Version
	return config, nil
}

// Generate creates or overwrites the config file in the base directory.
func Generate(configToGenerate Config) error {
	if err := os.MkdirAll(configToGenerate.Base, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create base directory: %w", err)
	}
	configPath := filepath.Join(configToGenerate.Base, ConfigFileName)
	jsonData, err := json.MarshalIndent(configToGenerate, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal default config to JSON: %w", err)
	}

	if err := os.WriteFile(configPath, jsonData, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	plog.Info("Successfully saved config file", "path", configPath)
	return nil
}

// Validate checks the configuration for logical errors and inconsistencies.
// It also expands and cleans the base path.
func (c *Config) Validate() error {
	if c.Base == "" {
		return fmt.Errorf("base path cannot be empty")
	}
	base, err := util.ExpandedAbsPath(c.Base)
	if err != nil {
		return fmt.Errorf("could not expand base path: %w", err)
	}
	c.Base = base

	if !plog.IsValidLevel(c.LogLevel) {
		return fmt.Errorf("invalid log level: %q. Must be 'debug', 'notice', 'info', 'warn', or 'error'", c.LogLevel)
	}
	if strings.TrimSpace(c.PluginDir) == "" {
		return fmt.Errorf("pluginDir cannot be empty")
	}
	if strings.TrimSpace(c.HistoryFile) == "" {
		return fmt.Errorf("historyFile cannot be empty")
	}

	if c.Engine.BatchWorkers < 1 {
		return fmt.Errorf("engine.batchWorkers must be at least 1")
	}
	if c.Engine.BufferSizeKB <= 0 {
		return fmt.Errorf("engine.bufferSizeKB must be greater than 0")
	}
	if c.Engine.RetryCount < 0 {
		return fmt.Errorf("engine.retryCount cannot be negative")
	}
	if c.Engine.RetryWaitSeconds < 0 {
		return fmt.Errorf("engine.retryWaitSeconds cannot be negative")
	}

	if _, err := pathcompression.ParseFormat(c.Compression.Format); err != nil {
		return fmt.Errorf("compression.format: %w", err)
	}
	if _, err := pathcompression.ParseLevel(c.Compression.Level); err != nil {
		return fmt.Errorf("compression.level: %w", err)
	}

	for id, dir := range c.InstallDirs {
		if strings.TrimSpace(id) == "" || strings.TrimSpace(dir) == "" {
			return fmt.Errorf("installDirs entries need a plugin id and a path, got %q=%q", id, dir)
		}
	}

	names := make(map[string]bool, len(c.Schedules))
	for i, s := range c.Schedules {
		if s.Name == "" {
			return fmt.Errorf("schedules[%d].name cannot be empty", i)
		}
		if names[s.Name] {
			return fmt.Errorf("duplicate schedule name %q", s.Name)
		}
		names[s.Name] = true
		if err := scheduler.Validate(s.Spec); err != nil {
			return fmt.Errorf("schedule %q: %w", s.Name, err)
		}
		if _, err := task.ParseExecType(s.ExecType); err != nil {
			return fmt.Errorf("schedule %q: %w", s.Name, err)
		}
	}
	return nil
}

// ResolvePath makes a configured path absolute. Relative paths are taken
// relative to the base directory and a leading "~" is expanded.
func (c *Config) ResolvePath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	expanded, err := util.ExpandPath(p)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(expanded) {
		return filepath.Clean(expanded), nil
	}
	return filepath.Join(c.Base, expanded), nil
}

// LogSummary prints a user-friendly summary of the configuration.
func (c *Config) LogSummary() {
	logArgs := []interface{}{
		"log_level", c.LogLevel,
		"base", c.Base,
		"plugin_dir", c.PluginDir,
		"dry_run", c.Runtime.DryRun,
		"batch_workers", c.Engine.BatchWorkers,
		"metrics", c.Engine.Metrics,
		"fail_fast", c.Engine.FailFast,
		"buffer_size_kb", c.Engine.BufferSizeKB,
		"retries", fmt.Sprintf("%d (wait %ds)", c.Engine.RetryCount, c.Engine.RetryWaitSeconds),
	}
	if c.SoftwareFile != "" {
		logArgs = append(logArgs, "software_file", c.SoftwareFile)
	}
	if len(c.Runtime.Plugins) > 0 {
		logArgs = append(logArgs, "plugins", strings.Join(c.Runtime.Plugins, ", "))
	}
	if c.Compression.Enabled {
		logArgs = append(logArgs, "compression", fmt.Sprintf("enabled (f:%s l:%s)", c.Compression.Format, c.Compression.Level))
	}
	if len(c.InstallDirs) > 0 {
		ids := make([]string, 0, len(c.InstallDirs))
		for id := range c.InstallDirs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		logArgs = append(logArgs, "custom_plugins", strings.Join(ids, ", "))
	}
	if len(c.Hooks.PreBackup) > 0 {
		logArgs = append(logArgs, "pre_backup_hooks", strings.Join(c.Hooks.PreBackup, "; "))
	}
	if len(c.Hooks.PostBackup) > 0 {
		logArgs = append(logArgs, "post_backup_hooks", strings.Join(c.Hooks.PostBackup, "; "))
	}
	if len(c.Hooks.PreRestore) > 0 {
		logArgs = append(logArgs, "pre_restore_hooks", strings.Join(c.Hooks.PreRestore, "; "))
	}
	if len(c.Hooks.PostRestore) > 0 {
		logArgs = append(logArgs, "post_restore_hooks", strings.Join(c.Hooks.PostRestore, "; "))
	}
	if len(c.Schedules) > 0 {
		logArgs = append(logArgs, "schedules", len(c.Schedules))
	}
	plog.Info("Configuration loaded", logArgs...)
}

// MergeConfigWithFlags overlays the configuration values from flags on top of a base
// configuration. It iterates over the setFlags map, which contains only the flags
// explicitly provided by the user on the command line.
func MergeConfigWithFlags(command flagparse.Command, base Config, setFlags map[string]any) Config {
	merged := base

	for name, value := range setFlags {
		switch name {
		case "base":
			merged.Base = value.(string)
		case "log-level":
			merged.LogLevel = value.(string)
		case "dry-run":
			merged.Runtime.DryRun = value.(bool)
		case "plugins":
			merged.Runtime.Plugins = value.([]string)
		case "events":
			merged.Runtime.EventsPath = value.(string)
		case "sort":
			merged.Runtime.ListSort = value.(string)
		case "metrics":
			merged.Engine.Metrics = value.(bool)
		case "fail-fast":
			merged.Engine.FailFast = value.(bool)
		case "batch-workers":
			merged.Engine.BatchWorkers = value.(int)
		case "buffer-size-kb":
			merged.Engine.BufferSizeKB = value.(int)
		case "retry-count":
			merged.Engine.RetryCount = value.(int)
		case "retry-wait":
			merged.Engine.RetryWaitSeconds = value.(int)
		case "plugin-dir":
			merged.PluginDir = value.(string)
		case "software-file":
			merged.SoftwareFile = value.(string)
		case "install-dirs":
			// Flag bindings extend the configured ones.
			dirs := make(map[string]string, len(base.InstallDirs))
			for id, dir := range base.InstallDirs {
				dirs[id] = dir
			}
			for id, dir := range value.(map[string]string) {
				dirs[id] = dir
			}
			merged.InstallDirs = dirs
		case "compression":
			merged.Compression.Enabled = value.(bool)
		case "compression-format":
			merged.Compression.Format = value.(string)
		case "compression-level":
			merged.Compression.Level = value.(string)
		case "pre-backup-hooks":
			merged.Hooks.PreBackup = value.([]string)
		case "post-backup-hooks":
			merged.Hooks.PostBackup = value.([]string)
		case "pre-restore-hooks":
			merged.Hooks.PreRestore = value.([]string)
		case "post-restore-hooks":
			merged.Hooks.PostRestore = value.([]string)
		default:
			plog.Debug("unhandled flag in MergeConfigWithFlags", "flag", name, "command", command)
		}
	}
	return merged
}
