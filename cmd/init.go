package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-roundtrip/pkg/buildinfo"
	"github.com/paulschiretz/pgl-roundtrip/pkg/config"
	"github.com/paulschiretz/pgl-roundtrip/pkg/filelock"
	"github.com/paulschiretz/pgl-roundtrip/pkg/flagparse"
	"github.com/paulschiretz/pgl-roundtrip/pkg/plog"
	"github.com/paulschiretz/pgl-roundtrip/pkg/util"
)

// RunInit handles the logic for the 'init' command.
func RunInit(ctx context.Context, flagMap map[string]interface{}) error {
	dir := "."
	if d, ok := flagMap["config"].(string); ok && d != "" {
		dir = d
	}

	// Build absolute config path
	absConfigDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("could not determine absolute config path for %s: %w", dir, err)
	}

	var baseConfig config.Config

	// Check if default is set
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
			absConfigFilePath := filepath.Join(absConfigDir, config.ConfigFileName)
			if _, err := os.Stat(absConfigFilePath); err == nil {
				fmt.Printf("WARNING: Configuration file already exists at %s.\n", absConfigFilePath)
				fmt.Printf("Using -default will overwrite it with default values. All custom settings will be lost.\n")
				if !PromptForConfirmation("Are you sure you want to continue?", false) {
					plog.Info(buildinfo.Name + " init operation canceled.")
					return nil
				}
			}
		}
		baseConfig = config.NewDefault()
	} else {
		// Try to load existing config to preserve settings.
		// If it fails (e.g. corrupt JSON), we fall back to defaults.
		// Note: config.Load returns NewDefault() if the file simply doesn't exist.
		baseConfig, err = config.Load(absConfigDir)
		if err != nil {
			plog.Warn("Could not load existing configuration, starting with defaults.", "reason", err)
			baseConfig = config.NewDefault()
		}
	}

	// Create a config from base merged with user flags.
	runConfig := config.MergeConfigWithFlags(flagparse.Init, baseConfig, flagMap)
	runConfig.Runtime.ConfigDir = absConfigDir

	// Ensure source and target are set (either from existing config or flags).
	if runConfig.Source == "" || runConfig.Target == "" {
		return fmt.Errorf("the -source and -target flags are required for the init operation (unless updating an existing config)")
	}

	// CRITICAL: Validate the config before writing it
	if err := runConfig.Validate(config.ValidationOptions{RequireSource: true, RequireTarget: true}); err != nil {
		return err
	}

	startTime := time.Now()

	if runConfig.Runtime.DryRun {
		plog.Info("[DRY RUN] Initialization complete. No changes made.", "path", filepath.Join(absConfigDir, config.ConfigFileName))
		return nil
	}

	if err := os.MkdirAll(absConfigDir, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", absConfigDir, err)
	}

	// Ensure exclusive access to the config file.
	lock, err := filelock.Acquire(ctx, filelock.PathFor(filepath.Join(absConfigDir, config.ConfigFileName)), filelock.Owner{Source: absConfigDir}, lockHeartbeat)
	if err != nil {
		return fmt.Errorf("failed to acquire lock on config directory: %w", err)
	}
	defer lock.Release()

	if err := config.Generate(runConfig); err != nil {
		return fmt.Errorf("failed to generate config file: %w", err)
	}

	duration := time.Since(startTime).Round(time.Millisecond)
	plog.Info(buildinfo.Name+" configuration successfully written.", "duration", duration)
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
