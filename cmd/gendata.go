package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/paulschiretz/pgl-roundtrip/pkg/buildinfo"
	"github.com/paulschiretz/pgl-roundtrip/pkg/config"
	"github.com/paulschiretz/pgl-roundtrip/pkg/filelock"
	"github.com/paulschiretz/pgl-roundtrip/pkg/flagparse"
	"github.com/paulschiretz/pgl-roundtrip/pkg/planner"
	"github.com/paulschiretz/pgl-roundtrip/pkg/plog"
	"github.com/paulschiretz/pgl-roundtrip/pkg/preflight"
	"github.com/paulschiretz/pgl-roundtrip/pkg/treegen"
	"github.com/paulschiretz/pgl-roundtrip/pkg/util"
)

const lockHeartbeat = 30 * time.Second

// RunGendata handles the logic for the 'gendata' command.
func RunGendata(ctx context.Context, flagMap map[string]interface{}) error {
	runConfig, err := loadConfig(flagparse.Gendata, flagMap)
	if err != nil {
		return err
	}
	if err := runConfig.Validate(config.ValidationOptions{RequireSource: true}); err != nil {
		return err
	}
	plog.SetLevel(plog.LevelFromString(runConfig.LogLevel))

	dataPlan, err := planner.GenerateDataPlan(runConfig)
	if err != nil {
		return err
	}

	validator := preflight.NewValidator()
	if err := validator.Run(ctx, dataPlan.Root, "", "", "", &preflight.Plan{
		SourceCreatable: true,
		SourceNotRoot:   true,
		DryRun:          dataPlan.DryRun,
	}); err != nil {
		return fmt.Errorf("generation preflight failed: %w", err)
	}

	if dataPlan.DryRun {
		plog.Info("[DRY RUN] Generate test data", "root", dataPlan.Root, "clean", dataPlan.Clean,
			"subfolders", dataPlan.Tree.Subfolders,
			"files", fmt.Sprintf("%d-%d", dataPlan.Tree.MinFiles, dataPlan.Tree.MaxFiles),
			"size", fmt.Sprintf("%s-%s", util.ByteCountIEC(dataPlan.Tree.MinSize), util.ByteCountIEC(dataPlan.Tree.MaxSize)))
		return nil
	}

	// A running trip owns its source; do not generate underneath it.
	lock, err := filelock.Acquire(ctx, filelock.PathFor(dataPlan.Root), filelock.Owner{Source: dataPlan.Root}, lockHeartbeat)
	if err != nil {
		var lockErr *filelock.ErrLockActive
		if errors.As(err, &lockErr) {
			return fmt.Errorf("source is busy: %w", lockErr)
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Release()

	if dataPlan.Clean {
		plog.Info("Removing existing test data", "root", dataPlan.Root)
		if err := treegen.Wipe(dataPlan.Root); err != nil {
			return err
		}
	}

	m := newMetrics(dataPlan.Metrics)
	startTime := time.Now()
	tree, err := treegen.New(m).Generate(ctx, dataPlan.Root, dataPlan.Tree)
	if err != nil {
		return fmt.Errorf("could not generate test data: %w", err)
	}
	m.LogSummary("Generation summary")

	plog.Info(buildinfo.Name+" generated test data.",
		"root", tree.Root,
		"subfolders", len(tree.Subfolders),
		"files", len(tree.Files),
		"size", util.ByteCountIEC(tree.TotalBytes()),
		"duration", time.Since(startTime).Round(time.Millisecond))
	return nil
}
