// Package treegen materializes randomized test trees.
//
// A tree is a root directory with a fixed number of direct subfolders named
// parcel000, parcel001, ... and a random number of files named
// parcelTest001.dat, parcelTest002.dat, ... scattered uniformly over the root
// and its subfolders. File content is pseudo-random and only has to be hard to
// compress, not secure.
package treegen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/paulschiretz/pgl-roundtrip/pkg/limiter"
	"github.com/paulschiretz/pgl-roundtrip/pkg/metrics"
	"github.com/paulschiretz/pgl-roundtrip/pkg/plog"
	"github.com/paulschiretz/pgl-roundtrip/pkg/pool"
	"github.com/paulschiretz/pgl-roundtrip/pkg/util"
)

// File is one generated file.
type File struct {
	Path string
	Size int64
}

// Tree describes what Generate wrote.
type Tree struct {
	Root       string
	Subfolders []string
	Files      []File
}

// TotalBytes is the sum of all file sizes.
func (t Tree) TotalBytes() int64 {
	var n int64
	for _, f := range t.Files {
		n += f.Size
	}
	return n
}

// Generator writes trees. A Generator may be reused across calls.
type Generator struct {
	metrics metrics.Metrics
}

// New creates a Generator. A nil m disables metrics.
func New(m metrics.Metrics) *Generator {
	if m == nil {
		m = &metrics.NoopMetrics{}
	}
	return &Generator{metrics: m}
}

// SubfolderName returns the name of the i-th subfolder (0-based).
func SubfolderName(i int) string {
	return fmt.Sprintf("parcel%03d", i)
}

// FileName returns the name of the i-th file (1-based).
func FileName(i int) string {
	return fmt.Sprintf("parcelTest%03d.dat", i)
}

// fileJob is a fully drawn file, ready to be written.
type fileJob struct {
	File
	seed uint64
}

// Generate builds a tree under root. It is not idempotent: calling it again on
// the same root without a Wipe leaves the existing files in place, overwriting
// only those whose path is drawn again.
func (g *Generator) Generate(ctx context.Context, root string, plan *Plan) (Tree, error) {
	if err := plan.Validate(); err != nil {
		return Tree{}, err
	}
	// The caller's plan is shared between trials and stays untouched.
	resolved := plan.WithDefaults()
	p := &resolved

	tree := Tree{Root: root}
	if err := makeWorldWritableDir(root); err != nil {
		return tree, err
	}

	locations := []string{root}
	for i := 0; i < p.Subfolders; i++ {
		dir := filepath.Join(root, SubfolderName(i))
		if err := makeWorldWritableDir(dir); err != nil {
			return tree, err
		}
		tree.Subfolders = append(tree.Subfolders, dir)
		locations = append(locations, dir)
	}

	// All draws happen here, in order, so a seed fully determines the tree
	// regardless of how the writes below get scheduled.
	seed := p.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	count := p.MinFiles + rng.IntN(p.MaxFiles-p.MinFiles+1)
	jobs := make([]fileJob, 0, count)
	for i := 1; i <= count; i++ {
		loc := locations[rng.IntN(len(locations))]
		size := p.MinSize + rng.Int64N(p.MaxSize-p.MinSize+1)
		jobs = append(jobs, fileJob{
			File: File{Path: filepath.Join(loc, FileName(i)), Size: size},
			seed: rng.Uint64(),
		})
	}

	plog.Debug("Generating tree", "root", root, "subfolders", p.Subfolders, "files", count, "seed", seed)

	buffers := pool.NewFixedBuffer(p.ChunkSize)
	budget := limiter.NewWriteBudget(p.MemoryLimit, p.ChunkSize)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.Workers)
	for _, job := range jobs {
		group.Go(func() error {
			if err := writeFile(groupCtx, job, buffers, budget); err != nil {
				return fmt.Errorf("write %s: %w", job.Path, err)
			}
			g.metrics.AddFilesGenerated(1)
			g.metrics.AddBytesGenerated(job.Size)
			plog.Notice("Generated file", "path", job.Path, "size", util.ByteCountIEC(job.Size))
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return tree, err
	}
	whole, streamed := budget.Counts()
	plog.Debug("Tree generated", "root", root, "whole_files", whole, "streamed_files", streamed)

	for _, job := range jobs {
		tree.Files = append(tree.Files, job.File)
	}
	return tree, nil
}

func makeWorldWritableDir(dir string) error {
	if err := os.MkdirAll(dir, util.WorldWritableDirPerms); err != nil {
		return fmt.Errorf("could not create directory %s: %w", dir, err)
	}
	// MkdirAll is subject to the umask.
	if err := os.Chmod(dir, util.WorldWritableDirPerms); err != nil {
		return fmt.Errorf("could not set permissions on %s: %w", dir, err)
	}
	return nil
}

// writeFile writes job.Size pseudo-random bytes. Files the budget admits are
// filled in one allocation, everything else is streamed through pooled buffers.
func writeFile(ctx context.Context, job fileJob, buffers *pool.FixedBufferPool, budget *limiter.WriteBudget) (retErr error) {
	f, err := os.OpenFile(job.Path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, util.WorldWritableFilePerms)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && retErr == nil {
			retErr = closeErr
		}
		if retErr != nil {
			os.Remove(job.Path)
		}
	}()

	src := rand.NewChaCha8(seedBytes(job.seed))

	if budget.ReserveFile(job.Size) {
		defer budget.ReleaseFile(job.Size)
		buf := make([]byte, job.Size)
		src.Read(buf)
		if _, err := f.Write(buf); err != nil {
			return err
		}
	} else {
		bufPtr := buffers.Get()
		defer buffers.Put(bufPtr)
		if err := streamRandom(ctx, f, src, job.Size, *bufPtr); err != nil {
			return err
		}
	}

	return os.Chmod(job.Path, util.WorldWritableFilePerms)
}

// streamRandom writes n bytes from src to w in len(buf) sized chunks.
func streamRandom(ctx context.Context, w io.Writer, src io.Reader, n int64, buf []byte) error {
	for n > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		chunk := buf
		if int64(len(chunk)) > n {
			chunk = chunk[:n]
		}
		if _, err := io.ReadFull(src, chunk); err != nil {
			return err
		}
		if _, err := w.Write(chunk); err != nil {
			return err
		}
		n -= int64(len(chunk))
	}
	return nil
}

func seedBytes(seed uint64) [32]byte {
	var b [32]byte
	for i := 0; i < 4; i++ {
		v := seed + uint64(i)*0x9e3779b97f4a7c15
		for j := 0; j < 8; j++ {
			b[i*8+j] = byte(v >> (8 * j))
		}
	}
	return b
}

// Wipe removes everything inside dir but keeps dir. A missing dir is not an error.
func Wipe(dir string) error {
	if err := util.RemoveDirContents(dir); err != nil {
		return fmt.Errorf("wipe %s: %w", dir, err)
	}
	return nil
}

// ErrEmptyTree is returned by Describe for a root without any files.
var ErrEmptyTree = errors.New("tree contains no files")

// Describe walks an existing tree and reports its files, in walk order.
func Describe(root string) (Tree, error) {
	tree := Tree{Root: root}
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if d.IsDir() {
			if filepath.Dir(path) == root {
				tree.Subfolders = append(tree.Subfolders, path)
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		tree.Files = append(tree.Files, File{Path: path, Size: info.Size()})
		return nil
	})
	if err != nil {
		return tree, err
	}
	if len(tree.Files) == 0 {
		return tree, ErrEmptyTree
	}
	return tree, nil
}
