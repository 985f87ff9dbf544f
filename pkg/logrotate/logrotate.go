// Package logrotate moves the transfer tool's debug logs aside once a run has
// finished, so the next run starts with fresh logs and the finished run's logs
// are kept under a timestamped name.
package logrotate

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/klauspost/pgzip"

	"github.com/paulschiretz/pgl-roundtrip/pkg/hints"
	"github.com/paulschiretz/pgl-roundtrip/pkg/plog"
	"github.com/paulschiretz/pgl-roundtrip/pkg/util"
)

// Log file names written by the transfer tool when logging is on.
const (
	LocalLogName  = "debug-master.log"
	RemoteLogName = "debug-minion.log"
)

const timestampFormat = "20060102-150405"

// ErrNothingToRotate is returned when the log file does not exist.
var ErrNothingToRotate = hints.New("no log file to rotate")

// Renamer renames a file on the remote host.
type Renamer interface {
	Rename(ctx context.Context, from, to string) error
}

// Plan configures rotation.
type Plan struct {
	Enabled bool
	// LocalDir holds LocalLogName, usually the tool's directory.
	LocalDir string
	// RemoteDir holds RemoteLogName on the remote host.
	RemoteDir string
	// Compress gzips rotated local logs.
	Compress bool
	DryRun   bool
}

// BackupName prefixes name with the rotation timestamp.
func BackupName(name string, now time.Time) string {
	return now.UTC().Format(timestampFormat) + "-" + name
}

// Rotator rotates the local and remote tool logs.
type Rotator struct {
	plan   Plan
	remote Renamer
}

// New creates a Rotator. remote may be nil for local-only runs.
func New(p Plan, remote Renamer) *Rotator {
	return &Rotator{plan: p, remote: remote}
}

// Rotate moves both logs aside. A missing log is skipped.
func (r *Rotator) Rotate(ctx context.Context, now time.Time) error {
	if !r.plan.Enabled {
		return hints.New("log rotation is disabled")
	}

	if _, err := r.RotateLocal(now); err != nil && !hints.IsHint(err) {
		return err
	}
	if r.remote != nil && r.plan.RemoteDir != "" {
		if err := r.RotateRemote(ctx, now); err != nil {
			return err
		}
	}
	return nil
}

// RotateLocal renames the local log and optionally compresses it. It returns
// the path of the rotated file.
func (r *Rotator) RotateLocal(now time.Time) (string, error) {
	src := filepath.Join(r.plan.LocalDir, LocalLogName)
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return "", ErrNothingToRotate
	}
	dst := filepath.Join(r.plan.LocalDir, BackupName(LocalLogName, now))

	if r.plan.DryRun {
		plog.Info("[DRY RUN] Rotate log", "from", src, "to", dst)
		return dst, nil
	}
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("could not rotate %s: %w", src, err)
	}
	plog.Notice("Rotated log", "from", src, "to", dst)

	if !r.plan.Compress {
		return dst, nil
	}
	gz, err := compressFile(dst)
	if err != nil {
		return dst, err
	}
	return gz, nil
}

// RotateRemote renames the remote log via the remote executor.
func (r *Rotator) RotateRemote(ctx context.Context, now time.Time) error {
	src := path.Join(r.plan.RemoteDir, RemoteLogName)
	dst := path.Join(r.plan.RemoteDir, BackupName(RemoteLogName, now))
	if r.plan.DryRun {
		plog.Info("[DRY RUN] Rotate remote log", "from", src, "to", dst)
		return nil
	}
	if err := r.remote.Rename(ctx, src, dst); err != nil {
		return fmt.Errorf("could not rotate remote log: %w", err)
	}
	return nil
}

// compressFile writes src.gz next to src and removes src.
func compressFile(src string) (_ string, retErr error) {
	dst := src + ".gz"
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, util.UserWritableFilePerms)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := out.Close(); err != nil && retErr == nil {
			retErr = err
		}
		if retErr != nil {
			os.Remove(dst)
		}
	}()

	bw := bufio.NewWriter(out)
	zw := pgzip.NewWriter(bw)
	zw.Name = filepath.Base(src)
	if _, err := io.Copy(zw, in); err != nil {
		return "", fmt.Errorf("could not compress %s: %w", src, err)
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	if err := bw.Flush(); err != nil {
		return "", err
	}

	in.Close()
	if err := os.Remove(src); err != nil {
		return "", fmt.Errorf("could not remove %s after compression: %w", src, err)
	}
	return dst, nil
}
