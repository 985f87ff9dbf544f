// Package filelock serializes harness runs that share a source tree.
//
// Two runs against the same source would wipe and regenerate each other's
// data mid-transfer. The lock lives next to the source, never inside it, so
// the transfer tool does not carry it to the remote side. A background
// heartbeat keeps the lock fresh; a lock nobody refreshed for StaleAfter is
// taken over.
package filelock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/paulschiretz/pgl-roundtrip/pkg/plog"
	"github.com/paulschiretz/pgl-roundtrip/pkg/util"
)

// StaleAfter is the age after which an unrefreshed lock is considered abandoned.
const StaleAfter = 3 * time.Minute

const acquireAttempts = 3

// Owner is what a lock file records about the run holding it.
type Owner struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	RunID      string    `json:"runID"`
	Source     string    `json:"source"`
	LastUpdate time.Time `json:"lastUpdate"`
}

// ErrLockActive reports a live lock held by someone else.
type ErrLockActive struct {
	Owner Owner
	Age   time.Duration
}

func (e *ErrLockActive) Error() string {
	return fmt.Sprintf("source %s is in use by run %s (pid %d on %s), last heartbeat %s ago",
		e.Owner.Source, e.Owner.RunID, e.Owner.PID, e.Owner.Hostname, e.Age.Truncate(time.Second))
}

// PathFor returns the lock file guarding source.
func PathFor(source string) string {
	clean := filepath.Clean(source)
	return filepath.Join(filepath.Dir(clean), "."+filepath.Base(clean)+".pgl-roundtrip.lock")
}

// Lock is a held lock. Release it when the run ends.
type Lock struct {
	path  string
	owner Owner

	stop     chan struct{}
	stopped  chan struct{}
	mu       sync.Mutex
	released bool
}

// Acquire takes the lock at path for owner, replacing a stale one.
func Acquire(ctx context.Context, path string, owner Owner, heartbeat time.Duration) (*Lock, error) {
	if owner.PID == 0 {
		owner.PID = os.Getpid()
	}
	if owner.Hostname == "" {
		owner.Hostname, _ = os.Hostname()
	}

	for attempt := 0; attempt < acquireAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		l, err := create(path, owner)
		if err == nil {
			l.startHeartbeat(heartbeat)
			plog.Debug("Lock acquired", "path", path)
			return l, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("could not create lock file %s: %w", path, err)
		}

		held, err := readOwner(path)
		if err != nil {
			// The holder may be rewriting the file or just released it.
			time.Sleep(100 * time.Millisecond)
			continue
		}
		age := time.Since(held.LastUpdate)
		if age < StaleAfter {
			return nil, &ErrLockActive{Owner: held, Age: age}
		}

		plog.Warn("Taking over stale lock", "path", path, "pid", held.PID, "run", held.RunID, "age", age.Truncate(time.Second))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("could not remove stale lock %s: %w", path, err)
		}
	}
	return nil, fmt.Errorf("could not acquire lock %s after %d attempts", path, acquireAttempts)
}

// create makes the lock file exclusively and writes the first heartbeat.
func create(path string, owner Owner) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, util.UserWritableFilePerms)
	if err != nil {
		return nil, err
	}
	f.Close()

	l := &Lock{path: path, owner: owner}
	if err := l.touch(); err != nil {
		os.Remove(path)
		return nil, err
	}
	return l, nil
}

func (l *Lock) startHeartbeat(interval time.Duration) {
	l.stop = make(chan struct{})
	l.stopped = make(chan struct{})
	go func() {
		defer close(l.stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-l.stop:
				return
			case <-ticker.C:
				if err := l.touch(); err != nil {
					plog.Warn("Lock heartbeat failed", "path", l.path, "error", err)
				}
			}
		}
	}()
}

// touch rewrites the owner record with a fresh timestamp.
func (l *Lock) touch() error {
	l.owner.LastUpdate = time.Now()
	data, err := json.MarshalIndent(l.owner, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(l.path, data, util.UserWritableFilePerms)
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.path
}

// Release stops the heartbeat and removes the lock file. It is safe to call
// more than once.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	l.released = true

	close(l.stop)
	<-l.stopped

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		plog.Warn("Could not remove lock file", "path", l.path, "error", err)
		return
	}
	plog.Debug("Lock released", "path", l.path)
}

// readOwner parses a lock file, retrying briefly while a heartbeat is
// mid-write and the file is empty or truncated.
func readOwner(path string) (Owner, error) {
	var lastErr error
	for i := 0; i < 3; i++ {
		data, err := os.ReadFile(path)
		if err != nil {
			return Owner{}, err
		}
		if len(data) == 0 {
			lastErr = errors.New("lock file is empty")
		} else {
			var o Owner
			if lastErr = json.Unmarshal(data, &o); lastErr == nil {
				return o, nil
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	return Owner{}, fmt.Errorf("could not read lock owner: %w", lastErr)
}
