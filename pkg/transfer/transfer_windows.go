//go:build windows

package transfer

import (
	"context"
	"os/exec"

	"golang.org/x/sys/windows"
)

func (i *Invoker) createCommand(ctx context.Context, name string, arg ...string) *exec.Cmd {
	cmd := i.commandContext(ctx, name, arg...)
	cmd.SysProcAttr = &windows.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
	return cmd
}
