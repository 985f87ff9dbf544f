// Package loopback is a stand-in for the transfer tool. It accepts the same
// command line, treats user@host:path as a local path and copies the source
// tree into the destination. It lets a round trip run end to end on one
// machine without a real transfer tool or ssh.
package loopback

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-roundtrip/pkg/plog"
	"github.com/paulschiretz/pgl-roundtrip/pkg/pool"
	"github.com/paulschiretz/pgl-roundtrip/pkg/util"
)

const ioBufferSize = 1024 * 1024

// Args is a parsed transfer tool command line.
type Args struct {
	Verbose        bool
	Logging        bool
	Encryption     bool
	RemoteToolPath string
	Src            string
	Dest           string
}

// ParseArgs parses `[-v] [-b] [-n] [-c path] src dest`.
func ParseArgs(name string, arguments []string) (Args, error) {
	var a Args
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.BoolVar(&a.Verbose, "v", false, "verbose output")
	fs.BoolVar(&a.Logging, "b", false, "write a debug log")
	fs.BoolVar(&a.Encryption, "n", false, "encrypt the transfer (accepted and ignored)")
	fs.StringVar(&a.RemoteToolPath, "c", "", "path to the tool on the remote side (accepted and ignored)")
	if err := fs.Parse(arguments); err != nil {
		return a, err
	}
	if fs.NArg() != 2 {
		return a, fmt.Errorf("expected <src> <dest>, got %d positional arguments", fs.NArg())
	}
	a.Src, a.Dest = LocalPath(fs.Arg(0)), LocalPath(fs.Arg(1))
	return a, nil
}

// LocalPath strips a user@host: prefix. Plain paths are returned unchanged.
func LocalPath(spec string) string {
	at := strings.Index(spec, "@")
	if at < 0 {
		return spec
	}
	colon := strings.Index(spec[at:], ":")
	if colon < 0 {
		return spec
	}
	return spec[at+colon+1:]
}

// Copier copies trees file by file, each file through a temp file and rename.
type Copier struct {
	buffers *pool.FixedBufferPool
}

func NewCopier() *Copier {
	return &Copier{buffers: pool.NewFixedBuffer(ioBufferSize)}
}

// CopyTree copies the contents of src into dest, creating dest if needed.
// Existing files in dest with the same relative path are replaced.
func (c *Copier) CopyTree(ctx context.Context, src, dest string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("source %s: %w", src, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source %s is not a directory", src)
	}
	if err := os.MkdirAll(dest, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("could not create destination %s: %w", dest, err)
	}

	return filepath.WalkDir(src, func(absSrc string, d os.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, absSrc)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		absDest := filepath.Join(dest, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}

		if d.IsDir() {
			if err := os.MkdirAll(absDest, util.WithUserWritePermission(info.Mode().Perm())); err != nil {
				return fmt.Errorf("could not create directory %s: %w", absDest, err)
			}
			return nil
		}
		if !info.Mode().IsRegular() {
			plog.Debug("Skipping non-regular file", "path", absSrc)
			return nil
		}
		return c.copyFile(absSrc, absDest, info)
	})
}

// copyFile writes to a temp file next to dest and renames it into place.
func (c *Copier) copyFile(src, dest string, info os.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("could not open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.CreateTemp(filepath.Dir(dest), "pgl-loopcopy-*.tmp")
	if err != nil {
		return fmt.Errorf("could not create temp file next to %s: %w", dest, err)
	}
	tempPath := out.Name()
	defer func() {
		if tempPath != "" {
			os.Remove(tempPath)
		}
	}()

	bufPtr := c.buffers.Get()
	defer c.buffers.Put(bufPtr)

	if _, err := io.CopyBuffer(out, in, *bufPtr); err != nil {
		out.Close()
		return fmt.Errorf("could not copy %s: %w", src, err)
	}
	if err := out.Chmod(info.Mode().Perm()); err != nil {
		out.Close()
		return fmt.Errorf("could not set permissions on %s: %w", tempPath, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("could not close %s: %w", tempPath, err)
	}
	if err := os.Chtimes(tempPath, info.ModTime(), info.ModTime()); err != nil {
		return fmt.Errorf("could not set timestamps on %s: %w", tempPath, err)
	}
	if err := os.Rename(tempPath, dest); err != nil {
		return err
	}
	tempPath = ""
	return nil
}

// LogName is the debug log the tool writes into its working directory.
const LogName = "debug-master.log"

// Run executes one invocation: parse, copy and optionally log.
func Run(ctx context.Context, name string, arguments []string, stdout io.Writer) error {
	a, err := ParseArgs(name, arguments)
	if err != nil {
		return err
	}
	start := time.Now()
	copyErr := NewCopier().CopyTree(ctx, a.Src, a.Dest)

	if a.Verbose {
		fmt.Fprintf(stdout, "%s -> %s (%s)\n", a.Src, a.Dest, time.Since(start).Round(time.Millisecond))
	}
	if a.Logging {
		if err := appendLog(a, start, copyErr); err != nil {
			return errors.Join(copyErr, err)
		}
	}
	return copyErr
}

func appendLog(a Args, start time.Time, copyErr error) error {
	f, err := os.OpenFile(LogName, os.O_WRONLY|os.O_CREATE|os.O_APPEND, util.UserWritableFilePerms)
	if err != nil {
		return err
	}
	defer f.Close()
	status := "ok"
	if copyErr != nil {
		status = copyErr.Error()
	}
	_, err = fmt.Fprintf(f, "%s copy %s -> %s: %s\n", start.UTC().Format(time.RFC3339), a.Src, a.Dest, status)
	return err
}
