// Package transfer invokes the external transfer tool for one leg of a round
// trip. The tool is a black box: its exit status is logged but never trusted,
// the outcome is judged later by comparing trees.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-roundtrip/pkg/metrics"
	"github.com/paulschiretz/pgl-roundtrip/pkg/plog"
)

// Options are the pass-through flags of the transfer tool. Unset options add
// nothing to the command line; the tool has no explicit "off" flags.
type Options struct {
	Verbose    bool
	Logging    bool
	Encryption bool
	// RemoteToolPath tells the tool where its binary lives on the far side.
	RemoteToolPath string
}

// Args renders the options in the order the tool documents them.
func (o Options) Args() []string {
	var args []string
	if o.Verbose {
		args = append(args, "-v")
	}
	if o.Logging {
		args = append(args, "-b")
	}
	if o.Encryption {
		args = append(args, "-n")
	}
	if o.RemoteToolPath != "" {
		args = append(args, "-c", o.RemoteToolPath)
	}
	return args
}

// AddressSpec formats a remote location as user@host:path.
func AddressSpec(user, host, path string) string {
	if user == "" {
		return host + ":" + path
	}
	return fmt.Sprintf("%s@%s:%s", user, host, path)
}

// Waiter blocks until the tool has left the process table.
type Waiter interface {
	WaitForExit(ctx context.Context, name string, maxPolls int) error
}

// Plan configures an Invoker.
type Plan struct {
	// Tool is the path to the transfer tool binary.
	Tool string
	// WorkDir is the directory the tool is started from. Empty means the
	// directory containing Tool.
	WorkDir  string
	MaxPolls int
	DryRun   bool
}

// Invoker runs the tool and waits for it to go away.
type Invoker struct {
	plan    Plan
	waiter  Waiter
	metrics metrics.Metrics
	// commandContext allows mocking os/exec for testing.
	commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

// NewInvoker creates an Invoker. A nil commandContext uses exec.CommandContext.
func NewInvoker(p Plan, waiter Waiter, m metrics.Metrics, commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd) *Invoker {
	if commandContext == nil {
		commandContext = exec.CommandContext
	}
	if m == nil {
		m = &metrics.NoopMetrics{}
	}
	if p.WorkDir == "" {
		p.WorkDir = filepath.Dir(p.Tool)
	}
	return &Invoker{plan: p, waiter: waiter, metrics: m, commandContext: commandContext}
}

// ProcessName is the name the watcher looks for in the process table.
func (i *Invoker) ProcessName() string {
	return ProcessName(i.plan.Tool)
}

// ProcessName derives the process table name from a tool path.
func ProcessName(tool string) string {
	return strings.TrimSuffix(filepath.Base(tool), ".exe")
}

// Invoke copies srcSpec to destSpec. It returns once the tool has exited or
// been killed. Only a tool that cannot be started or a failed wait is an error.
func (i *Invoker) Invoke(ctx context.Context, opts Options, destSpec, srcSpec string) error {
	args := append(opts.Args(), srcSpec, destSpec)

	if i.plan.DryRun {
		plog.Info("[DRY RUN] Transfer", "tool", i.plan.Tool, "args", args)
		return nil
	}
	plog.Notice("Transfer", "src", srcSpec, "dest", destSpec)
	plog.Debug("Transfer command", "tool", i.plan.Tool, "args", args, "dir", i.plan.WorkDir)

	cmd := i.createCommand(ctx, i.plan.Tool, args...)
	cmd.Dir = i.plan.WorkDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	start := time.Now()
	i.metrics.AddTransfers(1)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return fmt.Errorf("could not start transfer tool %s: %w", i.plan.Tool, err)
		}
		plog.Debug("Transfer tool exited with non-zero status", "code", exitErr.ExitCode())
	}

	if err := i.waiter.WaitForExit(ctx, i.ProcessName(), i.plan.MaxPolls); err != nil {
		return err
	}
	plog.Debug("Transfer finished", "src", srcSpec, "dest", destSpec, "duration", time.Since(start).Round(time.Millisecond))
	return nil
}
