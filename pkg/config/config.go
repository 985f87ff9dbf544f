package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-roundtrip/pkg/buildinfo"
	"github.com/paulschiretz/pgl-roundtrip/pkg/flagparse"
	"github.com/paulschiretz/pgl-roundtrip/pkg/plog"
	"github.com/paulschiretz/pgl-roundtrip/pkg/util"
)

// ConfigFileName is the name of the configuration file.
const ConfigFileName = "pgl-roundtrip.config.json"

// Generation mode names. The planner owns the typed enum; the config only
// stores the string so the JSON file stays readable.
const (
	GenerationNone       = "none"
	GenerationOnce       = "once"
	GenerationEveryTrial = "every-trial"
)

type RemoteConfig struct {
	Host string `json:"host"`
	// User owns the remote directory. It goes into the user@host:path spec
	// and runs the ssh cleanup commands. Empty means the local user.
	User      string `json:"user,omitempty"`
	SSHBinary string `json:"sshBinary"`
}

type ToolConfig struct {
	Path string `json:"path"`
	// RemoteDir is where the tool lives on the remote host (-c).
	RemoteDir  string `json:"remoteDir,omitempty"`
	Verbose    bool   `json:"verbose"`
	Logging    bool   `json:"logging"`
	Encryption bool   `json:"encryption"`
}

type GenerationConfig struct {
	Mode          string `json:"mode"`
	Profile       string `json:"profile"`
	Seed          uint64 `json:"seed,omitempty"`
	Workers       int    `json:"workers"`
	ChunkSizeKB   int    `json:"chunkSizeKB"`
	MemoryLimitMB int    `json:"memoryLimitMB"`
}

type WatchConfig struct {
	MaxPolls           int `json:"maxPolls"`
	PollIntervalMs     int `json:"pollIntervalMs"`
	HardTimeoutSeconds int `json:"hardTimeoutSeconds"` // 0 disables the hard timeout
	// SettleMs pauses after each transfer leg before the next step.
	SettleMs int `json:"settleMs"`
}

type CompareConfig struct {
	Strategy string `json:"strategy"`
}

type EvidenceConfig struct {
	Enabled   bool   `json:"enabled"`
	Dir       string `json:"dir,omitempty"`
	Level     string `json:"level"`
	MaxSizeMB int    `json:"maxSizeMB"` // 0 means unlimited
}

type LogsConfig struct {
	Rotate   bool `json:"rotate"`
	Compress bool `json:"compress"`
}

type ReportConfig struct {
	Path string `json:"path,omitempty"`
}

type HooksConfig struct {
	PreRun  []string `json:"preRun"`
	PostRun []string `json:"postRun"`
}

type EngineConfig struct {
	FailFast bool `json:"failFast"`
	Metrics  bool `json:"metrics"`
	// Cleanup wipes mirror, remote and regenerated data after every trip.
	Cleanup bool `json:"cleanup"`
}

type RuntimeConfig struct {
	DryRun    bool
	ConfigDir string
	// Clean wipes the source before a standalone generation.
	Clean bool
}

type Config struct {
	Version    string           `json:"version"`
	Source     string           `json:"source"`
	Target     string           `json:"target"`
	Trips      int              `json:"trips"`
	LocalUser  string           `json:"localUser"`
	LogLevel   string           `json:"logLevel"`
	Runtime    RuntimeConfig    `json:"-"` // Never added to config file
	Remote     RemoteConfig     `json:"remote"`
	Tool       ToolConfig       `json:"tool"`
	Generation GenerationConfig `json:"generation"`
	Watch      WatchConfig      `json:"watch"`
	Compare    CompareConfig    `json:"compare"`
	Evidence   EvidenceConfig   `json:"evidence"`
	Logs       LogsConfig       `json:"logs"`
	Report     ReportConfig     `json:"report"`
	Hooks      HooksConfig      `json:"hooks"`
	Engine     EngineConfig     `json:"engine"`
}

// NewDefault creates and returns a Config struct with sensible default values.
func NewDefault() Config {
	return Config{
		Version:  buildinfo.Version,
		Source:   "", // Intentionally empty to force user configuration.
		Target:   "", // Intentionally empty to force user configuration.
		Trips:     1,
		LocalUser: util.CurrentUsername(),
		LogLevel:  "info",
		Runtime: RuntimeConfig{
			DryRun:    false,
			ConfigDir: ".",
		},
		Remote: RemoteConfig{
			Host:      "localhost",
			SSHBinary: "ssh",
		},
		Tool: ToolConfig{
			Path: "parcel",
		},
		Generation: GenerationConfig{
			Mode:          GenerationNone,
			Profile:       "small",
			Workers:       4,
			ChunkSizeKB:   4096,
			MemoryLimitMB: 256, // Caps whole-file buffers across all workers.
		},
		Watch: WatchConfig{
			MaxPolls:           3,
			PollIntervalMs:     1000,
			HardTimeoutSeconds: 0,
			SettleMs:           1000,
		},
		Compare: CompareConfig{
			Strategy: "positional",
		},
		Evidence: EvidenceConfig{
			Enabled:   false,
			Level:     "default",
			MaxSizeMB: 1024,
		},
		Logs: LogsConfig{
			Rotate:   true,
			Compress: true,
		},
		Hooks: HooksConfig{
			PreRun:  []string{},
			PostRun: []string{},
		},
		Engine: EngineConfig{
			FailFast: false,
			Metrics:  true,
		},
	}
}

// Load attempts to load a configuration from "pgl-roundtrip.config.json" in dir.
// If the file doesn't exist, it returns the default config without an error.
// If the file exists but fails to parse, it returns an error and a zero-value config.
func Load(dir string) (Config, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return Config{}, fmt.Errorf("could not determine absolute path for config directory %s: %w", dir, err)
	}

	configPath := filepath.Join(absDir, ConfigFileName)

	file, err := os.Open(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := NewDefault()
			cfg.Runtime.ConfigDir = absDir
			return cfg, nil
		}
		return Config{}, fmt.Errorf("error opening config file %s: %w", configPath, err)
	}
	defer file.Close()

	plog.Info("Loading configuration", "path", configPath)
	// Start with default values so missing fields in the file keep their defaults.
	config := NewDefault()
	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&config); err != nil {
		return Config{}, fmt.Errorf("error parsing config file %s: %w", configPath, err)
	}
	config.Runtime.ConfigDir = absDir

	if config.Version != buildinfo.Version {
		config.Version = buildinfo.Version
	}
	return config, nil
}

// Generate writes the config into its ConfigDir.
func Generate(configToGenerate Config) error {
	configPath := filepath.Join(configToGenerate.Runtime.ConfigDir, ConfigFileName)
	jsonData, err := json.MarshalIndent(configToGenerate, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config to JSON: %w", err)
	}

	if err := os.WriteFile(configPath, jsonData, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	plog.Info("Successfully saved config file", "path", configPath)
	return nil
}

// ValidationOptions selects the path checks a command needs.
type ValidationOptions struct {
	RequireSource bool
	RequireTarget bool
}

// Validate checks the config and canonicalizes the paths in place.
func (c *Config) Validate(opts ValidationOptions) error {
	if opts.RequireSource && c.Source == "" {
		return fmt.Errorf("source path cannot be empty")
	}
	if opts.RequireTarget && c.Target == "" {
		return fmt.Errorf("target path cannot be empty")
	}

	var err error
	if c.Source != "" {
		c.Source, err = util.ExpandPath(c.Source)
		if err != nil {
			return fmt.Errorf("could not expand source path: %w", err)
		}
		c.Source, err = filepath.Abs(c.Source)
		if err != nil {
			return fmt.Errorf("could not determine absolute source path: %w", err)
		}
	}
	// The target lives on the remote host and is passed through as written,
	// minus any trailing separator.
	if c.Target != "" && c.Target != "/" {
		c.Target = strings.TrimRight(c.Target, `/\`)
	}

	if c.Trips < 1 {
		return fmt.Errorf("trips must be at least 1")
	}
	if strings.TrimSpace(c.Remote.Host) == "" {
		return fmt.Errorf("remote.host cannot be empty")
	}
	if c.Tool.Path == "" {
		return fmt.Errorf("tool.path cannot be empty")
	}
	switch c.Generation.Mode {
	case GenerationNone, GenerationOnce, GenerationEveryTrial:
	default:
		return fmt.Errorf("invalid generation.mode %q. Must be '%s', '%s' or '%s'", c.Generation.Mode, GenerationNone, GenerationOnce, GenerationEveryTrial)
	}
	if c.Generation.Workers < 1 {
		return fmt.Errorf("generation.workers must be at least 1")
	}
	if c.Generation.ChunkSizeKB <= 0 {
		return fmt.Errorf("generation.chunkSizeKB must be greater than 0")
	}
	if c.Generation.MemoryLimitMB < 0 {
		return fmt.Errorf("generation.memoryLimitMB cannot be negative")
	}
	if c.Watch.MaxPolls < 0 {
		return fmt.Errorf("watch.maxPolls cannot be negative")
	}
	if c.Watch.PollIntervalMs <= 0 {
		return fmt.Errorf("watch.pollIntervalMs must be greater than 0")
	}
	if c.Watch.HardTimeoutSeconds < 0 {
		return fmt.Errorf("watch.hardTimeoutSeconds cannot be negative")
	}
	if c.Watch.SettleMs < 0 {
		return fmt.Errorf("watch.settleMs cannot be negative")
	}
	if c.Evidence.MaxSizeMB < 0 {
		return fmt.Errorf("evidence.maxSizeMB cannot be negative")
	}
	return nil
}

// RemoteUser is the account on the remote host.
func (c *Config) RemoteUser() string {
	if c.Remote.User != "" {
		return c.Remote.User
	}
	return c.LocalUser
}

// LogSummary prints a user-friendly summary of the configuration.
func (c *Config) LogSummary() {
	logArgs := []interface{}{
		"log_level", c.LogLevel,
		"source", c.Source,
		"target", c.Target,
		"remote", c.RemoteUser() + "@" + c.Remote.Host,
		"trips", c.Trips,
		"tool", c.Tool.Path,
		"generation", c.Generation.Mode,
		"compare", c.Compare.Strategy,
		"dry_run", c.Runtime.DryRun,
		"metrics", c.Engine.Metrics,
	}
	if c.Generation.Mode != GenerationNone {
		logArgs = append(logArgs, "profile", fmt.Sprintf("%s (w:%d)", c.Generation.Profile, c.Generation.Workers))
	}

	var toolOpts []string
	if c.Tool.Verbose {
		toolOpts = append(toolOpts, "verbose")
	}
	if c.Tool.Logging {
		toolOpts = append(toolOpts, "logging")
	}
	if c.Tool.Encryption {
		toolOpts = append(toolOpts, "crypto")
	}
	if len(toolOpts) > 0 {
		logArgs = append(logArgs, "tool_options", strings.Join(toolOpts, ","))
	}

	watchSummary := fmt.Sprintf("p:%d i:%dms", c.Watch.MaxPolls, c.Watch.PollIntervalMs)
	if c.Watch.HardTimeoutSeconds > 0 {
		watchSummary += fmt.Sprintf(" t:%ds", c.Watch.HardTimeoutSeconds)
	}
	logArgs = append(logArgs, "watch", watchSummary)

	if c.Evidence.Enabled {
		logArgs = append(logArgs, "evidence", fmt.Sprintf("enabled (l:%s)", c.Evidence.Level))
	}
	if c.Engine.FailFast {
		logArgs = append(logArgs, "fail_fast", true)
	}
	if c.Engine.Cleanup {
		logArgs = append(logArgs, "cleanup", true)
	}
	if c.Report.Path != "" {
		logArgs = append(logArgs, "report", c.Report.Path)
	}
	if len(c.Hooks.PreRun) > 0 {
		logArgs = append(logArgs, "pre_run_hooks", strings.Join(c.Hooks.PreRun, "; "))
	}
	if len(c.Hooks.PostRun) > 0 {
		logArgs = append(logArgs, "post_run_hooks", strings.Join(c.Hooks.PostRun, "; "))
	}

	plog.Info("Configuration loaded", logArgs...)
}

// MergeConfigWithFlags overlays the explicitly set flags on base.
func MergeConfigWithFlags(command flagparse.Command, base Config, setFlags map[string]any) Config {
	merged := base

	for name, value := range setFlags {
		switch name {
		case "source":
			merged.Source = value.(string)
		case "target":
			merged.Target = value.(string)
		case "log-level":
			merged.LogLevel = value.(string)
		case "dry-run":
			merged.Runtime.DryRun = value.(bool)
		case "metrics":
			merged.Engine.Metrics = value.(bool)
		case "config":
			merged.Runtime.ConfigDir = value.(string)
		case "remotehost":
			merged.Remote.Host = value.(string)
		case "user":
			merged.LocalUser = value.(string)
		case "remote-user":
			merged.Remote.User = value.(string)
		case "trips":
			merged.Trips = value.(int)
		case "crypto":
			merged.Tool.Encryption = value.(bool)
		case "logging":
			merged.Tool.Logging = value.(bool)
		case "verbose":
			merged.Tool.Verbose = value.(bool)
		case "tool":
			merged.Tool.Path = value.(string)
		case "tool-dir":
			merged.Tool.RemoteDir = value.(string)
		case "max-polls":
			merged.Watch.MaxPolls = value.(int)
		case "poll-interval":
			merged.Watch.PollIntervalMs = int(value.(time.Duration) / time.Millisecond)
		case "hard-timeout":
			merged.Watch.HardTimeoutSeconds = int(math.Ceil(value.(time.Duration).Seconds()))
		case "settle":
			merged.Watch.SettleMs = int(value.(time.Duration) / time.Millisecond)
		case "fail-fast":
			merged.Engine.FailFast = value.(bool)
		case "cleanup":
			merged.Engine.Cleanup = value.(bool)
		case "keep-failures":
			merged.Evidence.Enabled = value.(bool)
		case "evidence-dir":
			merged.Evidence.Dir = value.(string)
		case "report":
			merged.Report.Path = value.(string)
		case "rotate-logs":
			merged.Logs.Rotate = value.(bool)
		case "size":
			merged.Generation.Profile = value.(string)
		case "seed":
			merged.Generation.Seed = value.(uint64)
		case "workers":
			merged.Generation.Workers = value.(int)
		case "compare":
			merged.Compare.Strategy = value.(string)
		case "pre-run-hooks":
			merged.Hooks.PreRun = value.([]string)
		case "post-run-hooks":
			merged.Hooks.PostRun = value.([]string)
		case "clean":
			merged.Runtime.Clean = value.(bool)
		case "generation", "gendata", "genloop":
			// Resolved below in a fixed order.
		default:
			plog.Debug("unhandled flag in MergeConfigWithFlags", "flag", name)
		}
	}

	// Standalone generation always generates; the mode only shapes trips.
	if command == flagparse.Gendata {
		return merged
	}

	// -genloop beats -gendata beats -generation, independent of flag order.
	if v, ok := setFlags["generation"]; ok {
		merged.Generation.Mode = v.(string)
	}
	if v, ok := setFlags["gendata"]; ok {
		merged.Generation.Mode = toggleMode(merged.Generation.Mode, GenerationOnce, v.(bool))
	}
	if v, ok := setFlags["genloop"]; ok {
		merged.Generation.Mode = toggleMode(merged.Generation.Mode, GenerationEveryTrial, v.(bool))
	}
	return merged
}

// toggleMode switches to mode when on, and back to none when an explicit off
// targets the mode currently set.
func toggleMode(current, mode string, on bool) string {
	if on {
		return mode
	}
	if current == mode {
		return GenerationNone
	}
	return current
}
