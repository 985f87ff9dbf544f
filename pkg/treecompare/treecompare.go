// Package treecompare decides whether two directory trees hold the same files
// with the same content. It reports equality only; it never produces a diff.
package treecompare

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/paulschiretz/pgl-roundtrip/pkg/metrics"
	"github.com/paulschiretz/pgl-roundtrip/pkg/plog"
	"github.com/paulschiretz/pgl-roundtrip/pkg/pool"
)

const compareBufferSize = 1024 * 1024

// Result is the outcome of a detailed comparison.
type Result struct {
	Equal bool
	// Mismatches counts every failed pairing at any depth.
	Mismatches int
	// FilesCompared counts file pairs that were checked, equal or not.
	FilesCompared int
	// Empty is set when either top-level listing had no entries.
	Empty bool
}

// Comparator compares directory trees with a fixed strategy.
type Comparator struct {
	strategy Strategy
	buffers  *pool.FixedBufferPool
	metrics  metrics.Metrics
}

// New creates a Comparator. A nil m disables metrics.
func New(strategy Strategy, m metrics.Metrics) *Comparator {
	if m == nil {
		m = &metrics.NoopMetrics{}
	}
	return &Comparator{
		strategy: strategy,
		buffers:  pool.NewFixedBuffer(compareBufferSize),
		metrics:  m,
	}
}

// Compare reports whether dirA and dirB are equivalent using positional pairing.
func Compare(dirA, dirB string) bool {
	return New(Positional, nil).Compare(dirA, dirB)
}

// Compare reports whether dirA and dirB are equivalent.
func (c *Comparator) Compare(dirA, dirB string) bool {
	return c.CompareDetailed(dirA, dirB).Equal
}

// CompareDetailed compares dirA and dirB and reports how many pairings failed.
// An empty listing on either side at the top level is a failure, so an aborted
// transfer into an empty directory never passes.
func (c *Comparator) CompareDetailed(dirA, dirB string) Result {
	var res Result

	entriesA, errA := readSorted(dirA)
	entriesB, errB := readSorted(dirB)
	if errA != nil || errB != nil {
		plog.Warn("Cannot list directories for comparison", "a", dirA, "b", dirB, "error", errors.Join(errA, errB))
		res.Mismatches++
		return res
	}
	if len(entriesA) == 0 || len(entriesB) == 0 {
		plog.Debug("Top-level listing is empty", "a", dirA, "entries_a", len(entriesA), "b", dirB, "entries_b", len(entriesB))
		res.Empty = true
		return res
	}

	c.compareEntries(dirA, dirB, entriesA, entriesB, &res)
	res.Equal = res.Mismatches == 0
	return res
}

func (c *Comparator) compareDirs(dirA, dirB string, res *Result) {
	entriesA, errA := readSorted(dirA)
	entriesB, errB := readSorted(dirB)
	if errA != nil || errB != nil {
		plog.Warn("Cannot list directories for comparison", "a", dirA, "b", dirB, "error", errors.Join(errA, errB))
		res.Mismatches++
		return
	}
	c.compareEntries(dirA, dirB, entriesA, entriesB, res)
}

func (c *Comparator) compareEntries(dirA, dirB string, entriesA, entriesB []os.DirEntry, res *Result) {
	switch c.strategy {
	case ByName:
		c.pairByName(dirA, dirB, entriesA, entriesB, res)
	default:
		c.pairByPosition(dirA, dirB, entriesA, entriesB, res)
	}
}

// pairByPosition zips the two sorted listings. Every entry beyond the shorter
// listing counts as one mismatch, so a partial transfer never compares equal.
func (c *Comparator) pairByPosition(dirA, dirB string, entriesA, entriesB []os.DirEntry, res *Result) {
	n := min(len(entriesA), len(entriesB))
	if extra := max(len(entriesA), len(entriesB)) - n; extra > 0 {
		plog.Notice("Listing lengths differ", "a", dirA, "entries_a", len(entriesA), "b", dirB, "entries_b", len(entriesB))
		res.Mismatches += extra
	}
	for i := 0; i < n; i++ {
		c.comparePair(filepath.Join(dirA, entriesA[i].Name()), filepath.Join(dirB, entriesB[i].Name()), entriesA[i], entriesB[i], res)
	}
}

func (c *Comparator) pairByName(dirA, dirB string, entriesA, entriesB []os.DirEntry, res *Result) {
	byName := make(map[string]os.DirEntry, len(entriesB))
	for _, e := range entriesB {
		byName[e.Name()] = e
	}
	for _, a := range entriesA {
		b, ok := byName[a.Name()]
		if !ok {
			plog.Notice("Entry missing on one side", "path", filepath.Join(dirA, a.Name()))
			res.Mismatches++
			continue
		}
		delete(byName, a.Name())
		c.comparePair(filepath.Join(dirA, a.Name()), filepath.Join(dirB, b.Name()), a, b, res)
	}
	for name := range byName {
		plog.Notice("Entry missing on one side", "path", filepath.Join(dirB, name))
		res.Mismatches++
	}
}

func (c *Comparator) comparePair(pathA, pathB string, a, b os.DirEntry, res *Result) {
	if a.IsDir() && b.IsDir() {
		c.compareDirs(pathA, pathB, res)
		return
	}
	if a.IsDir() != b.IsDir() {
		plog.Notice("Entry type differs", "a", pathA, "b", pathB)
		res.Mismatches++
		return
	}

	res.FilesCompared++
	c.metrics.AddFilesCompared(1)
	equal, err := c.sameFile(pathA, pathB)
	if err != nil {
		plog.Warn("Cannot compare files", "a", pathA, "b", pathB, "error", err)
		res.Mismatches++
		return
	}
	if !equal {
		plog.Notice("File differs", "a", pathA, "b", pathB)
		res.Mismatches++
	}
}

// sameFile checks size first and only reads content when the sizes agree.
func (c *Comparator) sameFile(pathA, pathB string) (bool, error) {
	infoA, err := os.Stat(pathA)
	if err != nil {
		return false, err
	}
	infoB, err := os.Stat(pathB)
	if err != nil {
		return false, err
	}
	if infoA.Size() != infoB.Size() {
		return false, nil
	}

	fa, err := os.Open(pathA)
	if err != nil {
		return false, err
	}
	defer fa.Close()
	fb, err := os.Open(pathB)
	if err != nil {
		return false, err
	}
	defer fb.Close()

	bufA := c.buffers.Get()
	defer c.buffers.Put(bufA)
	bufB := c.buffers.Get()
	defer c.buffers.Put(bufB)

	for {
		na, errA := io.ReadFull(fa, *bufA)
		nb, errB := io.ReadFull(fb, *bufB)
		c.metrics.AddBytesCompared(int64(na))
		if na != nb || !bytes.Equal((*bufA)[:na], (*bufB)[:nb]) {
			return false, nil
		}
		doneA := errA == io.EOF || errA == io.ErrUnexpectedEOF
		doneB := errB == io.EOF || errB == io.ErrUnexpectedEOF
		if errA != nil && !doneA {
			return false, errA
		}
		if errB != nil && !doneB {
			return false, errB
		}
		if doneA || doneB {
			return doneA == doneB, nil
		}
	}
}

func readSorted(dir string) ([]os.DirEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}
