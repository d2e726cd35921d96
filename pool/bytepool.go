// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>

package pool

import (
	"sync/atomic"

	"github.com/momentics/hioload-probe/api"
)

var _ api.BytePool = (*BytePool)(nil)

// BytePool hands out fixed-size byte slices.
type BytePool struct {
	size  int
	pool  *SyncPool[*[]byte]
	gets  atomic.Int64
	puts  atomic.Int64
	drops atomic.Int64
}

// NewBytePool creates a pool of size-byte buffers.
func NewBytePool(size int) *BytePool {
	b := &BytePool{size: size}
	b.pool = NewSyncPool(func() *[]byte {
		buf := make([]byte, size)
		return &buf
	}, b.admit)
	return b
}

// admit re-extends a returned buffer to full size. Buffers too small for
// the pool are left to the GC.
func (b *BytePool) admit(buf *[]byte) (*[]byte, bool) {
	if cap(*buf) < b.size {
		b.drops.Add(1)
		return nil, false
	}
	b.puts.Add(1)
	*buf = (*buf)[:b.size]
	return buf, true
}

// Size returns the length of every buffer the pool hands out.
func (b *BytePool) Size() int { return b.size }

// GetBuffer returns a buffer of exactly Size bytes. Its contents are
// whatever the previous user left.
func (b *BytePool) GetBuffer() []byte {
	b.gets.Add(1)
	return (*b.pool.Get())[:b.size]
}

// PutBuffer hands buf back for reuse.
func (b *BytePool) PutBuffer(buf []byte) { b.pool.Put(&buf) }

// Stats reports gets, puts and dropped returns since creation.
func (b *BytePool) Stats() (gets, puts, drops int64) {
	return b.gets.Load(), b.puts.Load(), b.drops.Load()
}
