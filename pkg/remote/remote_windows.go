//go:build windows

package remote

import (
	"context"
	"os/exec"

	"golang.org/x/sys/windows"
)

func (e *Executor) createCommand(ctx context.Context, name string, arg ...string) *exec.Cmd {
	cmd := e.commandContext(ctx, name, arg...)
	cmd.SysProcAttr = &windows.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
	return cmd
}
