// Package pool hands out reusable fixed-size byte buffers. Test files can be
// tens of gigabytes, so every large read or write goes through a buffer from
// here instead of allocating one per file.
package pool

import "sync"

// FixedBufferPool caches byte slices of one size. It is safe for concurrent use.
type FixedBufferPool struct {
	size int64
	pool sync.Pool
}

// NewFixedBuffer creates a pool whose buffers are exactly size bytes long.
func NewFixedBuffer(size int64) *FixedBufferPool {
	if size <= 0 {
		panic("buffer size must be positive")
	}
	return &FixedBufferPool{
		size: size,
		pool: sync.Pool{
			New: func() any {
				b := make([]byte, int(size))
				return &b
			},
		},
	}
}

// Size returns the length of every buffer handed out by the pool.
func (fp *FixedBufferPool) Size() int64 {
	return fp.size
}

// Get returns a buffer with len == cap == Size().
func (fp *FixedBufferPool) Get() *[]byte {
	b := fp.pool.Get().(*[]byte)
	*b = (*b)[:fp.size]
	return b
}

// Put returns a buffer to the pool. Buffers of a foreign size are dropped.
func (fp *FixedBufferPool) Put(b *[]byte) {
	if b == nil || int64(cap(*b)) != fp.size {
		return
	}
	*b = (*b)[:fp.size]
	fp.pool.Put(b)
}
