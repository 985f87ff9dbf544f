//go:build !windows

package remote

import (
	"context"
	"os/exec"

	"golang.org/x/sys/unix"
)

// createCommand puts ssh in its own process group so a canceled context takes
// down the whole session.
func (e *Executor) createCommand(ctx context.Context, name string, arg ...string) *exec.Cmd {
	cmd := e.commandContext(ctx, name, arg...)
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}
	return cmd
}
