// Package hook runs user shell commands before and after a harness run, for
// example to start the transfer tool's daemon on the remote side or to ship
// the report somewhere. Run details are exported to the commands as
// PGL_ROUNDTRIP_* environment variables.
package hook

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"

	"github.com/paulschiretz/pgl-roundtrip/pkg/hints"
	"github.com/paulschiretz/pgl-roundtrip/pkg/plog"
)

var ErrNothingToExecute = hints.New("nothing to execute")
var ErrDisabled = hints.New("hook execution is disabled")

// EnvPrefix is prepended to every variable in Env.
const EnvPrefix = "PGL_ROUNDTRIP_"

// Env holds the run details passed to hook commands, keyed without EnvPrefix.
type Env map[string]string

// Environ renders e as sorted KEY=value pairs.
func (e Env) Environ() []string {
	out := make([]string, 0, len(e))
	for k, v := range e {
		out = append(out, EnvPrefix+k+"="+v)
	}
	sort.Strings(out)
	return out
}

type HookExecutor struct {
	// commandContext allows mocking os/exec for testing hooks.
	commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

func NewHookExecutor(commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd) *HookExecutor {
	if commandContext == nil {
		commandContext = exec.CommandContext
	}
	return &HookExecutor{
		commandContext: commandContext,
	}
}

// RunPreRun runs the pre-run commands in order.
func (e *HookExecutor) RunPreRun(ctx context.Context, p *Plan, env Env) error {
	return e.run(ctx, "pre-run", p, p.PreRunCommands, env)
}

// RunPostRun runs the post-run commands in order.
func (e *HookExecutor) RunPostRun(ctx context.Context, p *Plan, env Env) error {
	return e.run(ctx, "post-run", p, p.PostRunCommands, env)
}

func (e *HookExecutor) run(ctx context.Context, stage string, p *Plan, commands []string, env Env) error {
	if !p.Enabled {
		return ErrDisabled
	}
	if len(commands) == 0 {
		return ErrNothingToExecute
	}

	plog.Info(fmt.Sprintf("Running %s hook commands", stage))

	for _, hookCommand := range commands {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if p.DryRun {
			plog.Info("[DRY RUN] Executing command", "command", hookCommand)
			continue
		}
		plog.Info("Executing command", "command", hookCommand)

		cmd := e.createCommand(ctx, hookCommand)
		if cmd.Env == nil {
			cmd.Env = os.Environ()
		}
		cmd.Env = append(cmd.Env, env.Environ()...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			// A canceled context makes cmd.Run fail too; report the cancellation.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if p.FailFast {
				return fmt.Errorf("command '%s' failed: %w", hookCommand, err)
			}
			plog.Warn("Hook command failed", "command", hookCommand, "error", err)
		}
	}
	return nil
}
