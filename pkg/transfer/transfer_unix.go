//go:build !windows

package transfer

import (
	"context"
	"os/exec"

	"golang.org/x/sys/unix"
)

// createCommand starts the tool in its own process group so canceling the
// context also reaches the helpers it forks.
func (i *Invoker) createCommand(ctx context.Context, name string, arg ...string) *exec.Cmd {
	cmd := i.commandContext(ctx, name, arg...)
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}
	return cmd
}
