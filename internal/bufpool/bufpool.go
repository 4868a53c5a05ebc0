// Package bufpool provides the bounded byte-buffer pools called for by the
// spec's §5 Resource discipline: a handful of 4 MiB buffers used by the
// Firehose write pipeline instead of a fresh allocation per chunk, plus a
// 16 MiB class that no code in this module takes buffers from.
package bufpool

import "sync"

const (
	// Size4MiB is the USB-3-optimal chunk size used by the write pipeline.
	Size4MiB = 4 << 20
	// Size16MiB is the buffer size of the larger pool class.
	Size16MiB = 16 << 20

	cap4MiB  = 4
	cap16MiB = 2
)

// Pool hands out and reclaims fixed-size byte slices, capped at a maximum
// number of outstanding buffers; returns beyond the cap are dropped back to
// the allocator instead of retained.
type Pool struct {
	size int
	cap  int

	mu    sync.Mutex
	avail int
	pool  sync.Pool
}

func newPool(size, cap int) *Pool {
	p := &Pool{size: size, cap: cap, avail: cap}
	p.pool.New = func() interface{} {
		return make([]byte, size)
	}
	return p
}

// Get returns a buffer of exactly p.size bytes.
func (p *Pool) Get() []byte {
	p.mu.Lock()
	if p.avail > 0 {
		p.avail--
	}
	p.mu.Unlock()
	return p.pool.Get().([]byte)[:p.size]
}

// Put returns buf to the pool if the pool has not exceeded its cap; beyond
// that it is left for the garbage collector.
func (p *Pool) Put(buf []byte) {
	if cap(buf) < p.size {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.avail >= p.cap {
		return
	}
	p.avail++
	p.pool.Put(buf[:p.size])
}

var (
	fourMiB  = newPool(Size4MiB, cap4MiB)
	sixteenMiB = newPool(Size16MiB, cap16MiB)
)

// Get4MiB returns a pooled 4 MiB buffer, used by the write pipeline's
// double-buffering scheme.
func Get4MiB() []byte { return fourMiB.Get() }

// Put4MiB returns a 4 MiB buffer obtained from Get4MiB.
func Put4MiB(b []byte) { fourMiB.Put(b) }

// Get16MiB returns a pooled 16 MiB buffer. The Firehose read path does not
// use it.
func Get16MiB() []byte { return sixteenMiB.Get() }

// Put16MiB returns a 16 MiB buffer obtained from Get16MiB.
func Put16MiB(b []byte) { sixteenMiB.Put(b) }
