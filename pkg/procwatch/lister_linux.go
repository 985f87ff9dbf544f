//go:build linux

package procwatch

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// procLister reads the process table from procfs.
type procLister struct {
	root    string
	selfPID int
}

// NewLister returns the process table of the local machine.
func NewLister() Lister {
	return &procLister{root: "/proc", selfPID: os.Getpid()}
}

func (l *procLister) List(ctx context.Context, name string) ([]int, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, err
	}

	var pids []int
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || !entry.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(l.root, entry.Name(), "cmdline"))
		if err != nil {
			// The process exited between ReadDir and here.
			continue
		}
		cmdline := string(bytes.TrimRight(bytes.ReplaceAll(raw, []byte{0}, []byte{' '}), " "))
		if cmdline != "" && strings.Contains(cmdline, name) {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}

func (l *procLister) KillAll(ctx context.Context, name string) error {
	pids, err := l.List(ctx, name)
	if err != nil {
		return err
	}
	return killPIDs(pids, l.selfPID)
}

func killPIDs(pids []int, self int) error {
	var errs []error
	for _, pid := range pids {
		if pid == self {
			continue
		}
		if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
