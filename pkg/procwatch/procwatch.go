// Package procwatch waits for an external tool to leave the process table.
//
// Completion is detected by polling, not by waiting on a process handle: the
// tool may fork helpers or be started by a shell, so the only reliable signal
// is that nothing matching its name is running anymore. A tool that lingers
// for too many polls is killed and the wait continues.
package procwatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/paulschiretz/pgl-roundtrip/pkg/metrics"
	"github.com/paulschiretz/pgl-roundtrip/pkg/plog"
)

// ErrLivenessTimeout is returned when the hard timeout elapses while matching
// processes are still running.
var ErrLivenessTimeout = errors.New("transfer tool did not exit before the hard timeout")

// Lister queries and signals the process table.
type Lister interface {
	// List returns the PIDs of processes whose command line contains name.
	List(ctx context.Context, name string) ([]int, error)
	// KillAll force-terminates every process matching name.
	KillAll(ctx context.Context, name string) error
}

// Plan configures the polling loop.
type Plan struct {
	// Interval is the sleep between two polls.
	Interval time.Duration
	// HardTimeout bounds a single WaitForExit call. Zero disables it.
	HardTimeout time.Duration
}

const DefaultInterval = time.Second

// Watcher runs the poll-then-kill loop.
type Watcher struct {
	lister  Lister
	plan    Plan
	selfPID int
	metrics metrics.Metrics
}

// New creates a Watcher. A nil m disables metrics.
func New(lister Lister, p Plan, m metrics.Metrics) *Watcher {
	if m == nil {
		m = &metrics.NoopMetrics{}
	}
	if p.Interval <= 0 {
		p.Interval = DefaultInterval
	}
	return &Watcher{
		lister:  lister,
		plan:    p,
		selfPID: os.Getpid(),
		metrics: m,
	}
}

// WaitForExit blocks until no process matching name is running.
//
// Each poll that still finds matches increments a counter. Once the counter
// exceeds maxPolls, all matches are killed once and the counter starts over,
// so a stubborn tool is killed exactly once per maxPolls+1 sleeps. The caller's
// own process is never counted as a match.
func (w *Watcher) WaitForExit(ctx context.Context, name string, maxPolls int) error {
	var deadline time.Time
	if w.plan.HardTimeout > 0 {
		deadline = time.Now().Add(w.plan.HardTimeout)
	}

	pids, err := w.list(ctx, name)
	if err != nil {
		return err
	}

	polls := 0
	for len(pids) > 0 {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return fmt.Errorf("%w: %s still running as %v after %s", ErrLivenessTimeout, name, pids, w.plan.HardTimeout)
		}

		if polls > maxPolls {
			plog.Notice("Killing lingering processes", "name", name, "pids", pids, "polls", polls)
			w.metrics.AddKills(1)
			if err := w.lister.KillAll(ctx, name); err != nil {
				// An ineffective kill is retried after the next maxPolls.
				plog.Warn("Kill failed", "name", name, "error", err)
			}
			polls = 0
		} else {
			if err := sleep(ctx, w.plan.Interval); err != nil {
				return err
			}
			polls++
			w.metrics.AddPolls(1)
		}

		if pids, err = w.list(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// list queries the lister and drops our own PID.
func (w *Watcher) list(ctx context.Context, name string) ([]int, error) {
	pids, err := w.lister.List(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("could not list processes matching %q: %w", name, err)
	}
	out := pids[:0]
	for _, pid := range pids {
		if pid != w.selfPID {
			out = append(out, pid)
		}
	}
	return out, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
