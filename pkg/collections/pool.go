// Package collections provides pooled buffers for the batch read path.
package collections

import (
	"sync"
)

// SlicePool is a generic pool for slices of any type.
type SlicePool[T any] struct {
	pool       sync.Pool
	initialCap int
}

// NewSlicePool creates a new slice pool with the given initial capacity.
func NewSlicePool[T any](initialCap int) *SlicePool[T] {
	if initialCap <= 0 {
		initialCap = 256
	}
	return &SlicePool[T]{
		initialCap: initialCap,
		pool: sync.Pool{
			New: func() interface{} {
				s := make([]T, 0, initialCap)
				return &s
			},
		},
	}
}

// Get gets an empty slice from the pool.
func (p *SlicePool[T]) Get() *[]T {
	return p.pool.Get().(*[]T)
}

// GetLen gets a slice of length n, growing the pooled one when needed.
func (p *SlicePool[T]) GetLen(n int) *[]T {
	s := p.Get()
	if cap(*s) < n {
		*s = make([]T, n)
	} else {
		*s = (*s)[:n]
	}
	return s
}

// Put returns a slice to the pool after clearing it.
func (p *SlicePool[T]) Put(s *[]T) {
	*s = (*s)[:0]
	p.pool.Put(s)
}

// ByteSlicePool holds prefetch windows.
var ByteSlicePool = NewSlicePool[byte](64 * 1024)

// GetBytes gets a byte slice of length n from the pool.
func GetBytes(n int) *[]byte {
	return ByteSlicePool.GetLen(n)
}

// PutBytes returns a byte slice to the pool.
func PutBytes(s *[]byte) {
	ByteSlicePool.Put(s)
}

// Uint64SlicePool holds sorted offset lists.
var Uint64SlicePool = NewSlicePool[uint64](1024)

// GetUint64Slice gets a slice from the pool.
func GetUint64Slice() *[]uint64 {
	return Uint64SlicePool.Get()
}

// PutUint64Slice returns a slice to the pool after clearing it.
func PutUint64Slice(s *[]uint64) {
	Uint64SlicePool.Put(s)
}
