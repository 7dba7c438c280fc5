package device

import (
	"sync"
)

// BufferPool recycles element buffers between packing operations to reduce
// allocator churn on hot request paths. Buffers handed out by Get are zeroed
// and sized exactly; Put accepts any buffer and keeps its capacity for reuse.
type BufferPool[T any] struct {
	pool sync.Pool
}

func NewBufferPool[T any]() *BufferPool[T] {
	return &BufferPool[T]{
		pool: sync.Pool{
			New: func() interface{} {
				return new([]T)
			},
		},
	}
}

// Get returns a zeroed buffer of length n.
func (p *BufferPool[T]) Get(n int) []T {
	box := p.pool.Get().(*[]T)
	buf := *box
	*box = nil

	if cap(buf) < n {
		poolMisses.Inc()
		buf = make([]T, n)
	} else {
		poolHits.Inc()
		buf = buf[:n]
		var zero T
		for i := range buf {
			buf[i] = zero
		}
	}
	return buf
}

// Put returns a buffer to the pool. The caller must not use buf afterwards.
func (p *BufferPool[T]) Put(buf []T) {
	if cap(buf) == 0 {
		return
	}
	box := new([]T)
	*box = buf[:0]
	p.pool.Put(box)
	pooledElems.Add(float64(cap(buf)))
}
