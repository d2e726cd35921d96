// File: api/pool.go
// Author: momentics <momentics@gmail.com>
//
// Buffer pooling contract for bulk receive buffers.

package api

// BytePool provides reusable fixed-size []byte buffers.
type BytePool interface {
	// GetBuffer returns a buffer of exactly Size bytes.
	GetBuffer() []byte

	// PutBuffer returns a buffer to the pool.
	PutBuffer(buf []byte)

	// Size is the length of every buffer handed out.
	Size() int
}
