package flagparse

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-roundtrip/pkg/buildinfo"
)

// cliFlags holds pointers to all possible command-line flags.
// Fields are pointers so we can distinguish between "not registered for this command" (nil)
// and "registered but not set by user" (non-nil pointer to zero value).
type cliFlags struct {
	// Global
	LogLevel  *string
	DryRun    *bool
	Metrics   *bool
	ConfigDir *string

	// Shared: Run / Gendata / Compare / Init
	Source *string
	Target *string

	// Shared: Run / Init
	RemoteHost   *string
	User         *string
	RemoteUser   *string
	Trips        *int
	Crypto       *bool
	Logging      *bool
	Verbose      *bool
	Gendata      *bool
	Genloop      *bool
	Generation   *string
	Tool         *string
	ToolDir      *string
	MaxPolls     *int
	PollInterval *time.Duration
	HardTimeout  *time.Duration
	Settle       *time.Duration
	FailFast     *bool
	Cleanup      *bool
	KeepFailures *bool
	EvidenceDir  *string
	Report       *string
	RotateLogs   *bool
	PreRunHooks  *string
	PostRunHooks *string

	// Shared: Run / Gendata / Init
	Size    *string
	Seed    *uint64
	Workers *int

	// Shared: Run / Compare / Init
	Strategy *string

	// Gendata specific
	Clean *bool

	// Init specific
	Force   *bool
	Default *bool
}

func registerGlobalFlags(fs *flag.FlagSet, f *cliFlags) {
	f.LogLevel = fs.String("log-level", "info", "Set the logging level: 'debug', 'notice', 'info', 'warn', 'error'.")
	f.DryRun = fs.Bool("dry-run", false, "Show what would be done without making any changes.")
	f.Metrics = fs.Bool("metrics", false, "Enable detailed file and process counting metrics.")
	f.ConfigDir = fs.String("config", ".", "Directory holding the configuration file.")
}

func registerTripFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Source = fs.String("source", "", "Local directory holding the test data. (Required)")
	f.Target = fs.String("target", "", "Directory on the remote host to transfer into. (Required)")
	f.RemoteHost = fs.String("remotehost", "localhost", "Remote host to transfer to and from.")
	f.User = fs.String("user", "", "Local user name. Defaults to the current user.")
	f.RemoteUser = fs.String("remote-user", "", "Account on the remote host. Defaults to -user.")
	f.Trips = fs.Int("trips", 1, "Number of round trips to run.")
	f.Crypto = fs.Bool("crypto", false, "Ask the transfer tool to encrypt traffic.")
	f.Logging = fs.Bool("logging", false, "Ask the transfer tool to write debug logs.")
	f.Verbose = fs.Bool("verbose", false, "Ask the transfer tool for verbose output.")
	f.Gendata = fs.Bool("gendata", false, "Generate test data once before the first trip.")
	f.Genloop = fs.Bool("genloop", false, "Generate fresh test data for every trip and clean up afterwards.")
	f.Generation = fs.String("generation", "", "Data generation mode: 'none', 'once', or 'every-trial'.")
	f.Tool = fs.String("tool", "", "Path to the transfer tool binary.")
	f.ToolDir = fs.String("tool-dir", "", "Directory of the transfer tool on the remote host (passed as -c).")
	f.MaxPolls = fs.Int("max-polls", 3, "Polls to wait for the transfer tool before force-killing it.")
	f.PollInterval = fs.Duration("poll-interval", time.Second, "Interval between process table polls.")
	f.HardTimeout = fs.Duration("hard-timeout", 0, "Abort the run when a transfer outlives this duration (0=disabled).")
	f.Settle = fs.Duration("settle", time.Second, "Pause after each transfer leg.")
	f.FailFast = fs.Bool("fail-fast", false, "Stop after the first failed trip.")
	f.Cleanup = fs.Bool("cleanup", false, "Wipe mirror, remote and regenerated data after every trip.")
	f.KeepFailures = fs.Bool("keep-failures", false, "Archive source and mirror of failed trips.")
	f.EvidenceDir = fs.String("evidence-dir", "", "Directory for failure archives.")
	f.Report = fs.String("report", "", "Write a JSON report of the run to this file.")
	f.RotateLogs = fs.Bool("rotate-logs", true, "Back up the transfer tool logs after the run when -logging is set.")
	f.PreRunHooks = fs.String("pre-run-hooks", "", "Comma-separated list of commands to run before the first trip.")
	f.PostRunHooks = fs.String("post-run-hooks", "", "Comma-separated list of commands to run after the last trip.")
}

func registerGenerationFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Size = fs.String("size", "", "Test data profile: 'unit', 'small', 'medium', 'large', or 'huge'.")
	f.Seed = fs.Uint64("seed", 0, "Seed for the test data layout (0=random).")
	f.Workers = fs.Int("workers", 0, "Number of worker goroutines writing test files.")
}

func registerCompareFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Strategy = fs.String("compare", "", "Tree comparison strategy: 'positional' or 'by-name'.")
}

func registerRunFlags(fs *flag.FlagSet, f *cliFlags) {
	registerTripFlags(fs, f)
	registerGenerationFlags(fs, f)
	registerCompareFlags(fs, f)
}

func registerGendataFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Source = fs.String("source", "", "Directory to generate the test data in. (Required)")
	f.Clean = fs.Bool("clean", false, "Remove the directory contents before generating.")
	registerGenerationFlags(fs, f)
}

func registerCompareCommandFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Source = fs.String("source", "", "First directory to compare. (Required)")
	f.Target = fs.String("target", "", "Second directory to compare. (Required)")
	registerCompareFlags(fs, f)
}

func registerInitFlags(fs *flag.FlagSet, f *cliFlags) {
	// Init supports all run flags (to generate config) plus 'force' and 'default'.
	registerRunFlags(fs, f)
	f.Force = fs.Bool("force", false, "Bypass confirmation prompts.")
	f.Default = fs.Bool("default", false, "Overwrite existing configuration with defaults.")
}

// Parse parses the provided arguments (usually os.Args[1:]) and returns the command and flag map.
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

	var register func(*flag.FlagSet, *cliFlags)
	var desc string
	switch command {
	case Run:
		register, desc = registerRunFlags, "Run round trips through the transfer tool and verify the result."
	case Gendata:
		register, desc = registerGendataFlags, "Generate a random test data tree."
	case Compare:
		register, desc = registerCompareCommandFlags, "Compare two directory trees."
	case Init:
		register, desc = registerInitFlags, "Write a configuration file."
	case Version:
		return command, nil, nil
	default:
		return None, nil, fmt.Errorf("unknown command: %s", args[0])
	}

	f := &cliFlags{}
	fs := flag.NewFlagSet(command.String(), flag.ContinueOnError)
	registerGlobalFlags(fs, f)
	register(fs, f)

	fs.Usage = func() {
		printSubcommandUsage(command, desc, fs)
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
	addIfUsed(flagMap, usedFlags, "config", f.ConfigDir)

	addIfUsed(flagMap, usedFlags, "source", f.Source)
	addIfUsed(flagMap, usedFlags, "target", f.Target)
	addIfUsed(flagMap, usedFlags, "remotehost", f.RemoteHost)
	addIfUsed(flagMap, usedFlags, "user", f.User)
	addIfUsed(flagMap, usedFlags, "remote-user", f.RemoteUser)
	addIfUsed(flagMap, usedFlags, "trips", f.Trips)
	addIfUsed(flagMap, usedFlags, "crypto", f.Crypto)
	addIfUsed(flagMap, usedFlags, "logging", f.Logging)
	addIfUsed(flagMap, usedFlags, "verbose", f.Verbose)
	addIfUsed(flagMap, usedFlags, "gendata", f.Gendata)
	addIfUsed(flagMap, usedFlags, "genloop", f.Genloop)
	addIfUsed(flagMap, usedFlags, "generation", f.Generation)
	addIfUsed(flagMap, usedFlags, "tool", f.Tool)
	addIfUsed(flagMap, usedFlags, "tool-dir", f.ToolDir)
	addIfUsed(flagMap, usedFlags, "max-polls", f.MaxPolls)
	addIfUsed(flagMap, usedFlags, "poll-interval", f.PollInterval)
	addIfUsed(flagMap, usedFlags, "hard-timeout", f.HardTimeout)
	addIfUsed(flagMap, usedFlags, "settle", f.Settle)
	addIfUsed(flagMap, usedFlags, "fail-fast", f.FailFast)
	addIfUsed(flagMap, usedFlags, "cleanup", f.Cleanup)
	addIfUsed(flagMap, usedFlags, "keep-failures", f.KeepFailures)
	addIfUsed(flagMap, usedFlags, "evidence-dir", f.EvidenceDir)
	addIfUsed(flagMap, usedFlags, "report", f.Report)
	addIfUsed(flagMap, usedFlags, "rotate-logs", f.RotateLogs)

	addIfUsed(flagMap, usedFlags, "size", f.Size)
	addIfUsed(flagMap, usedFlags, "seed", f.Seed)
	addIfUsed(flagMap, usedFlags, "workers", f.Workers)
	addIfUsed(flagMap, usedFlags, "compare", f.Strategy)

	addIfUsed(flagMap, usedFlags, "clean", f.Clean)
	addIfUsed(flagMap, usedFlags, "force", f.Force)
	addIfUsed(flagMap, usedFlags, "default", f.Default)

	// Handle flags that require parsing/validation.
	addParsedIfUsed(flagMap, usedFlags, "pre-run-hooks", f.PreRunHooks, ParseCmdList)
	addParsedIfUsed(flagMap, usedFlags, "post-run-hooks", f.PostRunHooks, ParseCmdList)

	if used := usedFlags["trips"]; used && *f.Trips < 1 {
		return nil, fmt.Errorf("-trips must be at least 1, got %d", *f.Trips)
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
	fmt.Fprintf(fs.Output(), "A round-trip verification harness for file transfer tools.\n\n")
	fmt.Fprintf(fs.Output(), "Usage: %s <command> [flags]\n\n", execName)
	fmt.Fprintf(fs.Output(), "Commands:\n")
	fmt.Fprintf(fs.Output(), "  run         Run round trips and verify the mirrored data\n")
	fmt.Fprintf(fs.Output(), "  gendata     Generate a random test data tree\n")
	fmt.Fprintf(fs.Output(), "  compare     Compare two directory trees\n")
	fmt.Fprintf(fs.Output(), "  init        Initialize a new configuration\n")
	fmt.Fprintf(fs.Output(), "  version     Print the application version\n")
	fmt.Fprintf(fs.Output(), "\nRun '%s <command> -help' for more information on a command.\n", execName)
}

// printSubcommandUsage prints the help message for a specific subcommand.
func printSubcommandUsage(command Command, desc string, fs *flag.FlagSet) {

	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "A round-trip verification harness for file transfer tools.\n\n")
	fmt.Fprintf(fs.Output(), "Usage of the %s command: %s %s [flags]\n\n", command, execName, command)
	fmt.Fprintf(fs.Output(), "%s\n\n", desc)
	fmt.Fprintf(fs.Output(), "Flags:\n")
	fs.PrintDefaults()
}

// ParseCmdList parses a comma-separated list of shell-like commands.
// It preserves quotes and handles backslash escapes so they can be interpreted by the shell.
func ParseCmdList(s string) []string {
	return parseListInternal(s, true, true)
}

// parseListInternal is the core implementation for parsing a comma-separated list. It supports
// both single (') and double (") quotes to allow items to contain commas or spaces.
// - `keepQuotes`: Preserves quote characters in the output.
// - `handleEscapes`: Treats backslashes as escape characters.
func parseListInternal(s string, keepQuotes, handleEscapes bool) []string {
	var list []string
	var current strings.Builder
	var quoteChar rune

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
			// Keep the backslash for the shell to interpret.
			current.WriteRune(r)
		case r == '\'' || r == '"':
			if quoteChar == 0 {
				quoteChar = r
				if keepQuotes {
					current.WriteRune(r)
				}
			} else if quoteChar == r {
				quoteChar = 0
				if keepQuotes {
					current.WriteRune(r)
				}
			} else {
				current.WriteRune(r)
			}
		case r == ',' && quoteChar == 0:
			appendItem()
		default:
			current.WriteRune(r)
		}
	}
	appendItem()
	return list
}
