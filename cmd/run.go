package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/paulschiretz/pgl-roundtrip/pkg/buildinfo"
	"github.com/paulschiretz/pgl-roundtrip/pkg/config"
	"github.com/paulschiretz/pgl-roundtrip/pkg/engine"
	"github.com/paulschiretz/pgl-roundtrip/pkg/evidence"
	"github.com/paulschiretz/pgl-roundtrip/pkg/flagparse"
	"github.com/paulschiretz/pgl-roundtrip/pkg/hook"
	"github.com/paulschiretz/pgl-roundtrip/pkg/logrotate"
	"github.com/paulschiretz/pgl-roundtrip/pkg/metrics"
	"github.com/paulschiretz/pgl-roundtrip/pkg/planner"
	"github.com/paulschiretz/pgl-roundtrip/pkg/plog"
	"github.com/paulschiretz/pgl-roundtrip/pkg/preflight"
	"github.com/paulschiretz/pgl-roundtrip/pkg/procwatch"
	"github.com/paulschiretz/pgl-roundtrip/pkg/remote"
	"github.com/paulschiretz/pgl-roundtrip/pkg/report"
	"github.com/paulschiretz/pgl-roundtrip/pkg/transfer"
	"github.com/paulschiretz/pgl-roundtrip/pkg/treecompare"
	"github.com/paulschiretz/pgl-roundtrip/pkg/treegen"
)

// ErrTripsFailed is returned when at least one round trip did not verify.
var ErrTripsFailed = errors.New("round trip verification failed")

const progressInterval = 30 * time.Second

// RunTrips handles the logic for the 'run' command.
func RunTrips(ctx context.Context, flagMap map[string]interface{}) error {
	runConfig, err := loadConfig(flagparse.Run, flagMap)
	if err != nil {
		return err
	}

	// CRITICAL: Validate the config for the run
	if err := runConfig.Validate(config.ValidationOptions{RequireSource: true, RequireTarget: true}); err != nil {
		return err
	}

	// Set the global log level based on the final configuration.
	plog.SetLevel(plog.LevelFromString(runConfig.LogLevel))

	// Log the Summary
	runConfig.LogSummary()

	// Get the Plan
	tripPlan, err := planner.GenerateTripPlan(runConfig)
	if err != nil {
		return err
	}

	m := newMetrics(tripPlan.Metrics)

	// Create the runner and feed it with our leaf workers
	runner, err := newTripRunner(tripPlan, m)
	if err != nil {
		return err
	}

	// With info logging off the glyphs can stream as trips finish.
	stream := plog.LevelFromString(runConfig.LogLevel) >= plog.LevelWarn
	if stream {
		fmt.Print("Results: ")
		runner.SetOutput(os.Stdout)
	}

	// Execute the plan
	startTime := time.Now()
	m.StartProgress("Run progress", progressInterval)
	results, runErr := runner.Run(ctx, tripPlan)
	m.StopProgress()
	duration := time.Since(startTime).Round(time.Millisecond)

	if stream {
		fmt.Println()
	}
	if err := printResults(os.Stdout, results, !stream); err != nil {
		plog.Warn("Could not print results", "error", err)
	}

	if tripPlan.ReportPath != "" {
		doc := newDocument(tripPlan, runner.Mirror(), startTime, results, runErr)
		if err := report.WriteJSON(tripPlan.ReportPath, doc); err != nil {
			plog.Warn("Could not write report", "path", tripPlan.ReportPath, "error", err)
		} else {
			plog.Info("Report written", "path", tripPlan.ReportPath)
		}
	}
	m.LogSummary("Run summary")

	if runErr != nil {
		return runErr // The error will be logged with full details by main()
	}
	if s := report.Summarize(results); s.Failed > 0 {
		return fmt.Errorf("%w: %d of %d trips failed", ErrTripsFailed, s.Failed, s.Trips)
	}
	plog.Info(buildinfo.Name+" finished successfully.", "duration", duration)
	return nil
}

// newTripRunner builds the production collaborators for p.
func newTripRunner(p *planner.TripPlan, m metrics.Metrics) (*engine.Runner, error) {
	archiver, err := evidence.NewArchiver(*p.Evidence)
	if err != nil {
		return nil, err
	}

	watcher := procwatch.New(procwatch.NewLister(), *p.Watch, m)
	remoteExecutor := remote.NewExecutor(*p.Remote, nil)

	// The remote log of a local-only run sits on this machine and is
	// rotated by hand; there is no ssh to rename it through.
	var renamer logrotate.Renamer
	if !p.LocalOnly {
		renamer = remoteExecutor
	}

	return engine.NewRunner(
		preflight.NewValidator(),
		treegen.New(m),
		treecompare.New(p.Compare, m),
		transfer.NewInvoker(*p.Transfer, watcher, m, nil),
		watcher,
		remoteExecutor,
		hook.NewHookExecutor(nil),
		logrotate.New(*p.Logs, renamer),
		archiver,
	), nil
}

// printResults writes the glyph line, unless it was streamed, and the results table.
func printResults(w io.Writer, results []report.TrialResult, brief bool) error {
	if len(results) == 0 {
		return nil
	}
	if brief {
		if err := report.Brief(w, results); err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return report.WriteTable(w, results)
}

func newDocument(p *planner.TripPlan, mirror string, started time.Time, results []report.TrialResult, runErr error) *report.Document {
	doc := &report.Document{
		Version:     buildinfo.Version,
		RunID:       p.RunID,
		StartedUTC:  started.UTC(),
		FinishedUTC: time.Now().UTC(),
		Source:      p.Source,
		Mirror:      mirror,
		Remote:      p.RemoteSpec(),
		Generation:  p.Generation.String(),
		Compare:     p.Compare.String(),
		Results:     results,
	}
	if runErr != nil {
		doc.Interrupted = errors.Is(runErr, context.Canceled)
		doc.ErrorMessage = runErr.Error()
	}
	return doc
}

// loadConfig reads the config from the -config directory, or uses defaults
// if none is found, and merges the flags over it.
func loadConfig(command flagparse.Command, flagMap map[string]interface{}) (config.Config, error) {
	dir := "."
	if d, ok := flagMap["config"].(string); ok && d != "" {
		dir = d
	}
	loadedConfig, err := config.Load(dir)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load configuration: %w", err)
	}
	merged := config.MergeConfigWithFlags(command, loadedConfig, flagMap)
	// Keep the absolute directory resolved by Load.
	merged.Runtime.ConfigDir = loadedConfig.Runtime.ConfigDir
	return merged, nil
}

func newMetrics(enabled bool) metrics.Metrics {
	if enabled {
		return &metrics.RunMetrics{}
	}
	return &metrics.NoopMetrics{}
}
