// Package preflight provides the checks that run before a round trip begins.
// None of them touch the filesystem beyond stat and lookup calls, so a
// rejected run leaves no trace.
package preflight

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-roundtrip/pkg/plog"
)

// Validator runs the checks selected by a Plan.
type Validator struct {
	// lookPath allows mocking exec.LookPath in tests.
	lookPath func(file string) (string, error)
	hostname func() (string, error)
}

// NewValidator creates a Validator that resolves binaries through PATH.
func NewValidator() *Validator {
	return &Validator{lookPath: exec.LookPath, hostname: os.Hostname}
}

// Run executes the enabled checks in order and returns the first failure.
func (v *Validator) Run(ctx context.Context, source, target, host, tool string, p *Plan) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if p.SourceNotRoot && isUnsafeRoot(source) {
		return fmt.Errorf("refusing to use %q as source: it is a filesystem root", source)
	}

	if p.SourceAccessible {
		if err := CheckSourceAccessible(source); err != nil {
			return err
		}
	} else if p.SourceCreatable {
		if err := CheckSourceCreatable(source); err != nil {
			return err
		}
	}

	if p.LocalTargetDistinct && v.IsLocalHost(host) {
		if err := CheckLocalTargetDistinct(source, target); err != nil {
			return err
		}
	}

	if p.ToolAvailable {
		resolved, err := v.lookPath(tool)
		if err != nil {
			if p.DryRun {
				plog.Warn("[DRY RUN] Transfer tool not found", "tool", tool, "error", err)
				return nil
			}
			return fmt.Errorf("transfer tool %q not found: %w", tool, err)
		}
		plog.Debug("Transfer tool resolved", "path", resolved)
	}
	return nil
}

// IsLocalHost reports whether host names this machine.
func (v *Validator) IsLocalHost(host string) bool {
	return isLocalHost(host, v.hostname)
}

// IsLocalHost reports whether host names this machine.
func IsLocalHost(host string) bool {
	return isLocalHost(host, os.Hostname)
}

func isLocalHost(host string, hostname func() (string, error)) bool {
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "", "localhost", "127.0.0.1", "::1", "[::1]":
		return true
	}
	if hostname != nil {
		if name, err := hostname(); err == nil && strings.EqualFold(name, host) {
			return true
		}
	}
	return false
}

// CheckSourceAccessible validates that the source path exists and is a directory.
func CheckSourceAccessible(srcPath string) error {
	srcInfo, err := os.Stat(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("source directory %s does not exist", srcPath)
		}
		return fmt.Errorf("cannot stat source directory %s: %w", srcPath, err)
	}

	if !srcInfo.IsDir() {
		return fmt.Errorf("source path %s is not a directory", srcPath)
	}
	return nil
}

// CheckSourceCreatable accepts an existing source directory, or a missing
// one whose parent exists so the generator's MkdirAll cannot fail on a typo
// several levels up.
func CheckSourceCreatable(srcPath string) error {
	info, err := os.Stat(srcPath)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("source path exists but is not a directory: %s", srcPath)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("cannot access source path: %w", err)
	}

	parentDir := filepath.Dir(srcPath)
	parentInfo, err := os.Stat(parentDir)
	if os.IsNotExist(err) {
		return fmt.Errorf("source path and its parent directory do not exist: %s", parentDir)
	} else if err != nil {
		return fmt.Errorf("cannot access parent directory %s: %w", parentDir, err)
	}
	if !parentInfo.IsDir() {
		return fmt.Errorf("parent of source path is not a directory: %s", parentDir)
	}
	return nil
}

// CheckLocalTargetDistinct rejects a target that is the source or nested
// with it. Both are local paths in a local-only run, and the target is wiped
// before and after every trip.
func CheckLocalTargetDistinct(source, target string) error {
	absSource, err := filepath.Abs(source)
	if err != nil {
		return fmt.Errorf("could not determine absolute source path: %w", err)
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return fmt.Errorf("could not determine absolute target path: %w", err)
	}
	if samePath(absSource, absTarget) {
		return fmt.Errorf("source and target are the same directory on a local-only run: %s", absSource)
	}
	if isNested(absSource, absTarget) || isNested(absTarget, absSource) {
		return fmt.Errorf("source %s and target %s are nested on a local-only run", absSource, absTarget)
	}
	return nil
}

// isNested reports whether child lies strictly below parent.
func isNested(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
