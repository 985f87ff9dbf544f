package planner

import (
	"path"
	"path/filepath"
	"time"

	"github.com/paulschiretz/pgl-roundtrip/pkg/config"
	"github.com/paulschiretz/pgl-roundtrip/pkg/evidence"
	"github.com/paulschiretz/pgl-roundtrip/pkg/hook"
	"github.com/paulschiretz/pgl-roundtrip/pkg/logrotate"
	"github.com/paulschiretz/pgl-roundtrip/pkg/preflight"
	"github.com/paulschiretz/pgl-roundtrip/pkg/procwatch"
	"github.com/paulschiretz/pgl-roundtrip/pkg/remote"
	"github.com/paulschiretz/pgl-roundtrip/pkg/report"
	"github.com/paulschiretz/pgl-roundtrip/pkg/transfer"
	"github.com/paulschiretz/pgl-roundtrip/pkg/treecompare"
	"github.com/paulschiretz/pgl-roundtrip/pkg/treegen"
)

// TripPlan is the immutable description of a round-trip run.
type TripPlan struct {
	// RunID names the run in the lock, evidence archives and report.
	RunID  string
	Source string
	// Target is the directory on the remote host.
	Target     string
	Host       string
	RemoteUser string
	LocalUser  string
	Trips      int
	// LocalOnly is set when Host is this machine.
	LocalOnly bool

	Generation GenerationMode
	// Cleanup wipes mirror, remote and regenerated data after every trip.
	Cleanup bool
	// Settle pauses after each transfer leg.
	Settle time.Duration

	DryRun   bool
	FailFast bool
	Metrics  bool

	// MaxPolls is the poll budget handed to the watcher after each leg.
	MaxPolls   int
	Options    transfer.Options
	Compare    treecompare.Strategy
	ReportPath string

	Preflight *preflight.Plan
	Tree      *treegen.Plan
	Watch     *procwatch.Plan
	Transfer  *transfer.Plan
	Remote    *remote.Plan
	Hooks     *hook.Plan
	Logs      *logrotate.Plan
	Evidence  *evidence.Plan
}

// RemoteSpec is the user@host:path address of the remote directory.
func (p *TripPlan) RemoteSpec() string {
	return transfer.AddressSpec(p.RemoteUser, p.Host, p.Target)
}

// DataPlan describes a standalone generation.
type DataPlan struct {
	Root    string
	Clean   bool
	DryRun  bool
	Metrics bool
	Tree    *treegen.Plan
}

// ComparePlan describes a standalone comparison.
type ComparePlan struct {
	DirA     string
	DirB     string
	Strategy treecompare.Strategy
	Metrics  bool
}

func GenerateTripPlan(cfg config.Config) (*TripPlan, error) {

	// Global Flags
	dryRun := cfg.Runtime.DryRun
	failFast := cfg.Engine.FailFast
	metrics := cfg.Engine.Metrics

	mode, err := ParseGenerationMode(cfg.Generation.Mode)
	if err != nil {
		return nil, err
	}

	strategy, err := treecompare.ParseStrategy(cfg.Compare.Strategy)
	if err != nil {
		return nil, err
	}

	treePlan, err := generateTreePlan(cfg)
	if err != nil {
		return nil, err
	}

	remoteToolPath := ""
	if cfg.Tool.RemoteDir != "" {
		remoteToolPath = path.Join(cfg.Tool.RemoteDir, transfer.ProcessName(cfg.Tool.Path))
	}

	evidenceDir := cfg.Evidence.Dir
	if evidenceDir == "" {
		evidenceDir = filepath.Join(cfg.Runtime.ConfigDir, "evidence")
	}

	remoteUser := cfg.RemoteUser()
	toolWorkDir := filepath.Dir(cfg.Tool.Path)

	return &TripPlan{
		RunID:      report.NewRunID(),
		Source:     cfg.Source,
		Target:     cfg.Target,
		Host:       cfg.Remote.Host,
		RemoteUser: remoteUser,
		LocalUser:  cfg.LocalUser,
		Trips:      cfg.Trips,
		LocalOnly:  preflight.IsLocalHost(cfg.Remote.Host),

		Generation: mode,
		Cleanup:    cfg.Engine.Cleanup,
		Settle:     time.Duration(cfg.Watch.SettleMs) * time.Millisecond,

		DryRun:   dryRun,
		FailFast: failFast,
		Metrics:  metrics,

		MaxPolls: cfg.Watch.MaxPolls,
		Options: transfer.Options{
			Verbose:        cfg.Tool.Verbose,
			Logging:        cfg.Tool.Logging,
			Encryption:     cfg.Tool.Encryption,
			RemoteToolPath: remoteToolPath,
		},
		Compare:    strategy,
		ReportPath: cfg.Report.Path,

		Preflight: &preflight.Plan{
			SourceAccessible:    mode == GenerateNone,
			SourceCreatable:     mode != GenerateNone,
			SourceNotRoot:       true,
			LocalTargetDistinct: true,
			ToolAvailable:       true,
			DryRun:              dryRun,
		},
		Tree: treePlan,
		Watch: &procwatch.Plan{
			Interval:    time.Duration(cfg.Watch.PollIntervalMs) * time.Millisecond,
			HardTimeout: time.Duration(cfg.Watch.HardTimeoutSeconds) * time.Second,
		},
		Transfer: &transfer.Plan{
			Tool:     cfg.Tool.Path,
			WorkDir:  toolWorkDir,
			MaxPolls: cfg.Watch.MaxPolls,
			DryRun:   dryRun,
		},
		Remote: &remote.Plan{
			User:      remoteUser,
			Host:      cfg.Remote.Host,
			SSHBinary: cfg.Remote.SSHBinary,
			DryRun:    dryRun,
		},
		Hooks: &hook.Plan{
			Enabled:         len(cfg.Hooks.PreRun) > 0 || len(cfg.Hooks.PostRun) > 0,
			PreRunCommands:  cfg.Hooks.PreRun,
			PostRunCommands: cfg.Hooks.PostRun,
			DryRun:          dryRun,
			FailFast:        failFast,
		},
		Logs: &logrotate.Plan{
			// Only a run that asked the tool for logs leaves logs to rotate.
			Enabled:   cfg.Tool.Logging && cfg.Logs.Rotate,
			LocalDir:  toolWorkDir,
			RemoteDir: cfg.Tool.RemoteDir,
			Compress:  cfg.Logs.Compress,
			DryRun:    dryRun,
		},
		Evidence: &evidence.Plan{
			Enabled:  cfg.Evidence.Enabled && !dryRun,
			Dir:      evidenceDir,
			Level:    cfg.Evidence.Level,
			MaxBytes: int64(cfg.Evidence.MaxSizeMB) * 1024 * 1024,
		},
	}, nil
}

func GenerateDataPlan(cfg config.Config) (*DataPlan, error) {
	treePlan, err := generateTreePlan(cfg)
	if err != nil {
		return nil, err
	}
	return &DataPlan{
		Root:    cfg.Source,
		Clean:   cfg.Runtime.Clean,
		DryRun:  cfg.Runtime.DryRun,
		Metrics: cfg.Engine.Metrics,
		Tree:    treePlan,
	}, nil
}

func GenerateComparePlan(cfg config.Config) (*ComparePlan, error) {
	strategy, err := treecompare.ParseStrategy(cfg.Compare.Strategy)
	if err != nil {
		return nil, err
	}
	return &ComparePlan{
		DirA:     cfg.Source,
		DirB:     cfg.Target,
		Strategy: strategy,
		Metrics:  cfg.Engine.Metrics,
	}, nil
}

// generateTreePlan resolves the size profile and applies the performance settings.
func generateTreePlan(cfg config.Config) (*treegen.Plan, error) {
	p, err := treegen.Profile(cfg.Generation.Profile)
	if err != nil {
		return nil, err
	}
	p.Workers = cfg.Generation.Workers
	p.ChunkSize = int64(cfg.Generation.ChunkSizeKB) * 1024
	p.MemoryLimit = int64(cfg.Generation.MemoryLimitMB) * 1024 * 1024
	p.Seed = cfg.Generation.Seed
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p = p.WithDefaults()
	return &p, nil
}
