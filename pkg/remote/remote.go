// Package remote runs shell commands on the far side of a round trip over ssh.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/paulschiretz/pgl-roundtrip/pkg/plog"
)

// Plan identifies the remote account.
type Plan struct {
	User string
	Host string
	// SSHBinary defaults to "ssh".
	SSHBinary string
	DryRun    bool
}

// Executor runs commands as Plan.User on Plan.Host.
type Executor struct {
	plan Plan
	// commandContext allows mocking os/exec in tests.
	commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

// NewExecutor creates an Executor. A nil commandContext uses exec.CommandContext.
func NewExecutor(p Plan, commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd) *Executor {
	if p.SSHBinary == "" {
		p.SSHBinary = "ssh"
	}
	if commandContext == nil {
		commandContext = exec.CommandContext
	}
	return &Executor{plan: p, commandContext: commandContext}
}

// Destination returns the user@host part of an ssh invocation.
func (e *Executor) Destination() string {
	if e.plan.User == "" {
		return e.plan.Host
	}
	return e.plan.User + "@" + e.plan.Host
}

// Args returns the ssh argument vector for command.
func (e *Executor) Args(command string) []string {
	return []string{"-A", "-o", "IdentitiesOnly yes", e.Destination(), command}
}

// Exec runs command on the remote host and waits for it.
func (e *Executor) Exec(ctx context.Context, command string) error {
	if e.plan.DryRun {
		plog.Info("[DRY RUN] Remote command", "host", e.Destination(), "command", command)
		return nil
	}
	plog.Debug("Remote command", "host", e.Destination(), "command", command)

	cmd := e.createCommand(ctx, e.plan.SSHBinary, e.Args(command)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("remote command %q on %s failed: %w: %s", command, e.Destination(), err, msg)
		}
		return fmt.Errorf("remote command %q on %s failed: %w", command, e.Destination(), err)
	}
	return nil
}

// WipeDir removes the contents of dir on the remote host, dot-files included.
// dir itself is kept and a missing dir is not an error.
func (e *Executor) WipeDir(ctx context.Context, dir string) error {
	clean := strings.TrimRight(dir, "/")
	if clean == "" || clean == "~" || clean == "." {
		return fmt.Errorf("refusing to wipe remote directory %q", dir)
	}
	plog.Notice("Wiping remote directory", "host", e.Destination(), "dir", clean)
	q := Quote(clean)
	return e.Exec(ctx, fmt.Sprintf("if [ -d %s ]; then find %s -mindepth 1 -delete; fi", q, q))
}

// KillAll terminates every remote process named name. A killall that finds
// nothing to kill (exit status 1) is not an error. Any other status, such as
// ssh's 255 for an unreachable host, is returned.
func (e *Executor) KillAll(ctx context.Context, name string) error {
	err := e.Exec(ctx, "killall "+Quote(name))
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		plog.Debug("Remote killall matched nothing", "name", name)
		return nil
	}
	return err
}

// Rename moves from to to on the remote host. A missing source is not an error.
func (e *Executor) Rename(ctx context.Context, from, to string) error {
	return e.Exec(ctx, fmt.Sprintf("if [ -e %s ]; then mv %s %s; fi", Quote(from), Quote(from), Quote(to)))
}

// Quote wraps s in single quotes for a POSIX shell.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
