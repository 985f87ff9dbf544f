// Package limiter caps how much file content the generator may hold in memory
// at once across its concurrent writers.
package limiter

import (
	"sync"
)

// WriteBudget decides which generated files are filled in a single buffer.
// A file qualifies when it is no larger than the whole-file threshold and its
// size still fits in the shared byte budget. Everything else is streamed.
type WriteBudget struct {
	mu        sync.Mutex
	available int64
	capacity  int64
	maxFile   int64

	whole    int
	streamed int
}

// NewWriteBudget creates a budget of limit bytes for files up to maxFile bytes.
func NewWriteBudget(limit, maxFile int64) *WriteBudget {
	return &WriteBudget{
		available: limit,
		capacity:  limit,
		maxFile:   maxFile,
	}
}

// ReserveFile reserves size bytes for a whole-file write without blocking. On
// false the caller streams the file and must not call ReleaseFile.
func (b *WriteBudget) ReserveFile(size int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if size > b.maxFile || size > b.available {
		b.streamed++
		return false
	}
	b.available -= size
	b.whole++
	return true
}

// ReleaseFile returns the bytes of a finished whole-file write. The budget
// never grows past its capacity.
func (b *WriteBudget) ReleaseFile(size int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.available = min(b.available+size, b.capacity)
}

// Available returns the number of bytes currently unreserved.
func (b *WriteBudget) Available() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.available
}

// Counts returns how many files were written whole and how many were streamed.
func (b *WriteBudget) Counts() (whole, streamed int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.whole, b.streamed
}
