package treegen

import (
	"fmt"
	"sort"
	"strings"
)

// Plan describes the shape of a generated tree.
type Plan struct {
	Subfolders int
	MinFiles   int
	MaxFiles   int
	MinSize    int64
	MaxSize    int64

	// Workers bounds the number of files written concurrently.
	Workers int
	// ChunkSize is both the streaming buffer size and the threshold above
	// which a file is never materialized in memory as a whole.
	ChunkSize int64
	// MemoryLimit caps the bytes held by whole-file writes across all workers.
	MemoryLimit int64
	// Seed makes the tree reproducible. Zero picks a random seed.
	Seed uint64
}

const (
	defaultWorkers     = 4
	defaultChunkSize   = 4 * 1024 * 1024
	defaultMemoryLimit = 256 * 1024 * 1024
)

// profiles are the named tree shapes known to the data maker.
var profiles = map[string]Plan{
	"unit":   {Subfolders: 2, MinFiles: 8, MaxFiles: 8, MinSize: 512000, MaxSize: 1048576},
	"small":  {Subfolders: 2, MinFiles: 8, MaxFiles: 16, MinSize: 512000, MaxSize: 10485760},
	"medium": {Subfolders: 2, MinFiles: 8, MaxFiles: 16, MinSize: 128000000, MaxSize: 512857600},
	"large":  {Subfolders: 2, MinFiles: 8, MaxFiles: 16, MinSize: 1073741824, MaxSize: 5368709120},
	"huge":   {Subfolders: 0, MinFiles: 1, MaxFiles: 1, MinSize: 5737418240, MaxSize: 5737418240},
}

// Profile returns a copy of the named profile with generation defaults applied.
func Profile(name string) (Plan, error) {
	p, ok := profiles[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Plan{}, fmt.Errorf("unknown size profile %q (valid: %s)", name, strings.Join(ProfileNames(), ", "))
	}
	p.Workers = defaultWorkers
	p.ChunkSize = defaultChunkSize
	p.MemoryLimit = defaultMemoryLimit
	return p, nil
}

// ProfileNames returns the known profile names in sorted order.
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks the ranges. It never modifies p.
func (p Plan) Validate() error {
	if p.Subfolders < 0 {
		return fmt.Errorf("subfolder count cannot be negative: %d", p.Subfolders)
	}
	if p.MinFiles < 0 || p.MinFiles > p.MaxFiles {
		return fmt.Errorf("invalid file count range [%d, %d]", p.MinFiles, p.MaxFiles)
	}
	if p.MinSize < 0 || p.MinSize > p.MaxSize {
		return fmt.Errorf("invalid file size range [%d, %d]", p.MinSize, p.MaxSize)
	}
	return nil
}

// WithDefaults returns a copy of p with unset worker and buffer settings filled in.
func (p Plan) WithDefaults() Plan {
	if p.Workers <= 0 {
		p.Workers = defaultWorkers
	}
	if p.ChunkSize <= 0 {
		p.ChunkSize = defaultChunkSize
	}
	if p.MemoryLimit <= 0 {
		p.MemoryLimit = defaultMemoryLimit
	}
	return p
}
