// Package pool holds reusable I/O buffers for file copies and archive streams.
//
// sync.Pool caches allocated but unused objects for later reuse. Items are
// dropped on garbage collection, which makes it a good fit for short-lived
// copy buffers and a bad fit for long-lived resources.
package pool

import (
	"fmt"
	"sync"
)

// FixedBufferPool hands out byte slices of one fixed size.
type FixedBufferPool struct {
	size int64
	pool sync.Pool
}

// NewFixedBuffer creates a pool of size-byte buffers. Size must be positive.
func NewFixedBuffer(size int64) *FixedBufferPool {
	if size <= 0 {
		panic(fmt.Sprintf("buffer size %d must be positive", size))
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

// NewFixedBufferKB is a convenience for config values expressed in kilobytes.
func NewFixedBufferKB(sizeKB int) *FixedBufferPool {
	return NewFixedBuffer(int64(sizeKB) * 1024)
}

// Size returns the length of the buffers handed out by the pool.
func (fp *FixedBufferPool) Size() int64 {
	return fp.size
}

// Get returns a buffer with len == cap == Size().
func (fp *FixedBufferPool) Get() *[]byte {
	b := fp.pool.Get().(*[]byte)
	*b = (*b)[:cap(*b)]
	return b
}

// Put returns a buffer to the pool. Foreign-sized buffers are dropped.
func (fp *FixedBufferPool) Put(b *[]byte) {
	if b == nil || int64(cap(*b)) != fp.size {
		return
	}
	*b = (*b)[:fp.size]
	fp.pool.Put(b)
}
