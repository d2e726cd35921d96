package pool

import (
	"sync"

	"github.com/momentics/hioload-probe/api"
)

var bulk = sync.OnceValue(func() *BytePool {
	return NewBytePool(api.DefaultBulkBufferSize)
})

// Bulk returns the process-wide pool of bulk transfer buffers.
func Bulk() *BytePool { return bulk() }
