package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-appsave/pkg/buildinfo"
	"github.com/paulschiretz/pgl-appsave/pkg/config"
	"github.com/paulschiretz/pgl-appsave/pkg/flagparse"
	"github.com/paulschiretz/pgl-appsave/pkg/plog"
	"github.com/paulschiretz/pgl-appsave/pkg/preflight"
	"github.com/paulschiretz/pgl-appsave/pkg/util"
)

// RunInit handles the logic for the 'init' command.
func RunInit(ctx context.Context, flagMap map[string]interface{}) error {
	// For init, the base flag is mandatory to know where to look/write.
	base, ok := flagMap["base"].(string)
	if !ok || base == "" {
		return fmt.Errorf("the -base flag is required for the init operation")
	}

	// Build absolute base path
	absBasePath, err := util.ExpandedAbsPath(base)
	if err != nil {
		return fmt.Errorf("could not determine absolute base path for %s: %w", base, err)
	}

	var baseConfig config.Config

	// Check if init-default is set
	initDefault := false
	if v, ok := flagMap["default"]; ok {
		initDefault = v.(bool)
	}

	if initDefault {
		// Check for force flag to bypass confirmation
		force := false
		if f, ok := flagMap["force"]; ok {
			force = f.(bool)
		}

		if !force {
			absConfigFilePath := filepath.Join(absBasePath, config.ConfigFileName)
			if _, err := os.Stat(absConfigFilePath); err == nil {
				fmt.Printf("WARNING: Configuration file already exists at %s.\n", absConfigFilePath)
				fmt.Printf("Using -default will overwrite it with default values. All custom settings will be lost.\n")
				if !PromptForConfirmation("Are you sure you want to continue?", false) {
					plog.Info(buildinfo.Name + " init-default operation canceled.")
					return nil
				}
			}
		}
		baseConfig = config.NewDefault()
	} else {
		// Try to load existing config to preserve settings.
		// If it fails (e.g. corrupt JSON), we fall back to defaults.
		// Note: config.Load returns NewDefault() if the file simply doesn't exist.
		baseConfig, err = config.Load(absBasePath)
		if err != nil {
			plog.Warn("Could not load existing configuration, starting with defaults.", "reason", err)
			baseConfig = config.NewDefault()
		}
	}
	baseConfig.Base = absBasePath

	// Create a config from base merged with user flags.
	runConfig := config.MergeConfigWithFlags(flagparse.Init, baseConfig, flagMap)

	// CRITICAL: Validate the config for the run
	if err := runConfig.Validate(); err != nil {
		return err
	}
	plog.SetLevel(plog.LevelFromString(runConfig.LogLevel))

	startTime := time.Now()

	pluginDir, err := runConfig.ResolvePath(runConfig.PluginDir)
	if err != nil {
		return fmt.Errorf("invalid plugin dir: %w", err)
	}

	if runConfig.Runtime.DryRun {
		plog.Info("[DRY RUN] Would initialize base directory", "base", runConfig.Base, "pluginDir", pluginDir)
		plog.Info("[DRY RUN] Initialization complete. No changes made.")
		return nil
	}

	// 1. Preflight Checks
	// Ensure the base directory exists (or can be created) and is writable.
	if err := preflight.CheckDataDirWritable(runConfig.Base); err != nil {
		return fmt.Errorf("initialization preflight failed: %w", err)
	}

	// 2. Generate Config
	if err := config.Generate(runConfig); err != nil {
		return fmt.Errorf("failed to generate config file: %w", err)
	}

	// 3. Plugin directory
	if err := os.MkdirAll(pluginDir, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create plugin directory %s: %w", pluginDir, err)
	}

	duration := time.Since(startTime).Round(time.Millisecond)
	plog.Info(buildinfo.Name+" base successfully initialized.", "base", runConfig.Base, "pluginDir", pluginDir, "duration", duration)
	return nil
}

// PromptForConfirmation prompts the user for a yes/no response.
func PromptForConfirmation(prompt string, defaultYes bool) bool {
	suffix := "[y/N]"
	if defaultYes {
		suffix = "[Y/n]"
	}
	fmt.Printf("%s %s: ", prompt, suffix)

	var response string
	_, _ = fmt.Scanln(&response)
	response = strings.ToLower(strings.TrimSpace(response))

	if response == "" {
		return defaultYes
	}
	return response == "y" || response == "yes"
}
