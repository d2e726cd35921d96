// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package pool

import "sync"

// Recycler is the contract the receive path relies on: Get never returns a
// zero value and Put may silently discard what it is given.
type Recycler[T any] interface {
	Get() T
	Put(T)
}

// SyncPool is a typed sync.Pool with an admission check on Put.
type SyncPool[T any] struct {
	pool  sync.Pool
	admit func(T) (T, bool)
}

var _ Recycler[*[]byte] = (*SyncPool[*[]byte])(nil)

// NewSyncPool builds values with fresh on a miss. admit, when non-nil,
// normalizes a returned value or rejects it by reporting false.
func NewSyncPool[T any](fresh func() T, admit func(T) (T, bool)) *SyncPool[T] {
	sp := &SyncPool[T]{admit: admit}
	sp.pool.New = func() any { return fresh() }
	return sp
}

func (sp *SyncPool[T]) Get() T { return sp.pool.Get().(T) }

func (sp *SyncPool[T]) Put(v T) {
	if sp.admit != nil {
		var ok bool
		if v, ok = sp.admit(v); !ok {
			return
		}
	}
	sp.pool.Put(v)
}
