//go:build windows

package procwatch

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/sys/windows"
)

// tasklistLister matches image names reported by tasklist.
type tasklistLister struct {
	selfPID int
}

// NewLister returns the process table of the local machine.
func NewLister() Lister {
	return &tasklistLister{selfPID: os.Getpid()}
}

func (l *tasklistLister) List(ctx context.Context, name string) ([]int, error) {
	out, err := exec.CommandContext(ctx, "tasklist", "/FO", "CSV", "/NH").Output()
	if err != nil {
		return nil, err
	}
	records, err := csv.NewReader(bytes.NewReader(out)).ReadAll()
	if err != nil {
		return nil, err
	}
	var pids []int
	for _, rec := range records {
		if len(rec) < 2 || !strings.Contains(strings.ToLower(rec[0]), strings.ToLower(name)) {
			continue
		}
		if pid, err := strconv.Atoi(rec[1]); err == nil {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}

func (l *tasklistLister) KillAll(ctx context.Context, name string) error {
	pids, err := l.List(ctx, name)
	if err != nil {
		return err
	}
	var errs []error
	for _, pid := range pids {
		if pid == l.selfPID {
			continue
		}
		h, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(pid))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := windows.TerminateProcess(h, 1); err != nil {
			errs = append(errs, err)
		}
		windows.CloseHandle(h)
	}
	return errors.Join(errs...)
}
