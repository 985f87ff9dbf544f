// Package evidence preserves the trees of a failed trial as a tar.zst archive,
// so a mismatch can be inspected after the run has wiped its working dirs.
package evidence

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/paulschiretz/pgl-roundtrip/pkg/hints"
	"github.com/paulschiretz/pgl-roundtrip/pkg/plog"
	"github.com/paulschiretz/pgl-roundtrip/pkg/pool"
	"github.com/paulschiretz/pgl-roundtrip/pkg/util"
)

// ErrTooLarge is returned when the trees exceed Plan.MaxBytes. Nothing is written.
var ErrTooLarge = hints.New("trees exceed the evidence size limit")

const ioBufferSize = 1024 * 1024

// Plan configures archiving.
type Plan struct {
	Enabled bool
	// Dir receives the archives.
	Dir string
	// Level is one of zstd's level names: fastest, default, better, best.
	Level string
	// MaxBytes skips archiving when the uncompressed trees are larger. Zero means no limit.
	MaxBytes int64
}

// Tree is one directory to archive, stored under Name inside the archive.
type Tree struct {
	Name string
	Path string
}

// Archiver writes evidence archives.
type Archiver struct {
	plan    Plan
	level   zstd.EncoderLevel
	buffers *pool.FixedBufferPool
}

// NewArchiver validates the plan and creates an Archiver.
func NewArchiver(p Plan) (*Archiver, error) {
	lvl := zstd.SpeedDefault
	if p.Level != "" {
		ok, l := zstd.EncoderLevelFromString(p.Level)
		if !ok {
			return nil, fmt.Errorf("invalid evidence compression level %q", p.Level)
		}
		lvl = l
	}
	return &Archiver{plan: p, level: lvl, buffers: pool.NewFixedBuffer(ioBufferSize)}, nil
}

// FileName is the archive name used for trial index.
func FileName(runID string, index int) string {
	return fmt.Sprintf("trial-%03d-%s.tar.zst", index, runID)
}

// Save archives trees into Plan.Dir/name and returns the archive path. The
// archive is written to a temp file and renamed into place.
func (a *Archiver) Save(ctx context.Context, name string, trees ...Tree) (_ string, retErr error) {
	if !a.plan.Enabled {
		return "", hints.New("evidence archiving is disabled")
	}

	if a.plan.MaxBytes > 0 {
		var total int64
		for _, t := range trees {
			n, err := treeSize(t.Path)
			if err != nil {
				return "", err
			}
			total += n
		}
		if total > a.plan.MaxBytes {
			return "", hints.Newf("%w: %s > %s", ErrTooLarge, util.ByteCountIEC(total), util.ByteCountIEC(a.plan.MaxBytes))
		}
	}

	if err := os.MkdirAll(a.plan.Dir, util.UserWritableDirPerms); err != nil {
		return "", fmt.Errorf("could not create evidence directory %s: %w", a.plan.Dir, err)
	}
	finalPath := filepath.Join(a.plan.Dir, name)

	tmp, err := os.CreateTemp(a.plan.Dir, "pgl-roundtrip-*.tmp")
	if err != nil {
		return "", fmt.Errorf("could not create temp archive: %w", err)
	}
	defer func() {
		if retErr != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err := a.write(ctx, tmp, trees); err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("could not close temp archive: %w", err)
	}
	if err := os.Rename(tmp.Name(), finalPath); err != nil {
		return "", fmt.Errorf("could not move archive into place: %w", err)
	}
	plog.Info("Saved failure evidence", "archive", finalPath)
	return finalPath, nil
}

func (a *Archiver) write(ctx context.Context, w io.Writer, trees []Tree) (retErr error) {
	bw := bufio.NewWriterSize(w, ioBufferSize)
	zw, err := zstd.NewWriter(bw, zstd.WithEncoderLevel(a.level))
	if err != nil {
		return fmt.Errorf("could not create zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	defer func() {
		if err := tw.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("tar writer close failed: %w", err)
		}
		if err := zw.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("zstd writer close failed: %w", err)
		}
		if err := bw.Flush(); err != nil && retErr == nil {
			retErr = fmt.Errorf("buffer flush failed: %w", err)
		}
	}()

	bufPtr := a.buffers.Get()
	defer a.buffers.Put(bufPtr)

	for _, t := range trees {
		if err := a.addTree(ctx, tw, t, *bufPtr); err != nil {
			return err
		}
	}
	return nil
}

func (a *Archiver) addTree(ctx context.Context, tw *tar.Writer, t Tree, buf []byte) error {
	return filepath.WalkDir(t.Path, func(absPath string, d os.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			return walkErr
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !d.IsDir() && !info.Mode().IsRegular() {
			plog.Debug("Skipping non-regular file", "path", absPath)
			return nil
		}

		rel, err := filepath.Rel(t.Path, absPath)
		if err != nil {
			return err
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return fmt.Errorf("could not create tar header for %s: %w", absPath, err)
		}
		header.Name = path.Join(t.Name, filepath.ToSlash(rel))
		if d.IsDir() {
			header.Name += "/"
		}
		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("could not write tar header for %s: %w", absPath, err)
		}
		if d.IsDir() {
			return nil
		}

		f, err := os.Open(absPath)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.CopyBuffer(tw, f, buf); err != nil {
			return fmt.Errorf("could not archive %s: %w", absPath, err)
		}
		return nil
	})
}

func treeSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}
