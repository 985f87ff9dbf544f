package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/paulschiretz/pgl-roundtrip/pkg/config"
	"github.com/paulschiretz/pgl-roundtrip/pkg/flagparse"
	"github.com/paulschiretz/pgl-roundtrip/pkg/planner"
	"github.com/paulschiretz/pgl-roundtrip/pkg/plog"
	"github.com/paulschiretz/pgl-roundtrip/pkg/treecompare"
)

// ErrTreesDiffer is returned by RunCompare when the trees are not equivalent.
var ErrTreesDiffer = errors.New("directory trees differ")

// RunCompare handles the logic for the 'compare' command.
func RunCompare(ctx context.Context, flagMap map[string]interface{}) error {
	runConfig, err := loadConfig(flagparse.Compare, flagMap)
	if err != nil {
		return err
	}
	if err := runConfig.Validate(config.ValidationOptions{RequireSource: true, RequireTarget: true}); err != nil {
		return err
	}
	plog.SetLevel(plog.LevelFromString(runConfig.LogLevel))

	// Both sides are local here.
	if runConfig.Target, err = filepath.Abs(runConfig.Target); err != nil {
		return fmt.Errorf("could not determine absolute target path: %w", err)
	}

	comparePlan, err := planner.GenerateComparePlan(runConfig)
	if err != nil {
		return err
	}

	m := newMetrics(comparePlan.Metrics)
	res := treecompare.New(comparePlan.Strategy, m).CompareDetailed(comparePlan.DirA, comparePlan.DirB)
	m.LogSummary("Compare summary")

	if !res.Equal {
		if res.Empty {
			return fmt.Errorf("%w: a top-level directory is empty or unreadable", ErrTreesDiffer)
		}
		return fmt.Errorf("%w: %d mismatches in %d compared files (%s)", ErrTreesDiffer, res.Mismatches, res.FilesCompared, comparePlan.Strategy)
	}
	plog.Info("Directory trees are equivalent", "a", comparePlan.DirA, "b", comparePlan.DirB, "files", res.FilesCompared, "strategy", comparePlan.Strategy)
	return nil
}
