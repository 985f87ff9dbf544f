//go:build !linux && !windows

package procwatch

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// psLister parses `ps -axo pid=,command=` on systems without procfs.
type psLister struct {
	selfPID int
}

// NewLister returns the process table of the local machine.
func NewLister() Lister {
	return &psLister{selfPID: os.Getpid()}
}

func (l *psLister) List(ctx context.Context, name string) ([]int, error) {
	out, err := exec.CommandContext(ctx, "ps", "-axo", "pid=,command=").Output()
	if err != nil {
		return nil, err
	}
	return parsePS(out, name), nil
}

func (l *psLister) KillAll(ctx context.Context, name string) error {
	pids, err := l.List(ctx, name)
	if err != nil {
		return err
	}
	var errs []error
	for _, pid := range pids {
		if pid == l.selfPID {
			continue
		}
		if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func parsePS(out []byte, name string) []int {
	var pids []int
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.SplitN(strings.TrimSpace(scanner.Text()), " ", 2)
		if len(fields) != 2 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		if strings.Contains(fields[1], name) {
			pids = append(pids, pid)
		}
	}
	return pids
}
