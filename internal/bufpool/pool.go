package bufpool

import (
	"sync"
	"sync/atomic"
)

// Pool hands out fixed-size chunk buffers and tracks how many are checked out,
// so callers can assert every transfer path returns what it took.
type Pool struct {
	pool        sync.Pool
	size        int
	outstanding atomic.Int64
}

// New creates a pool whose buffers are exactly size bytes long.
func New(size int) *Pool {
	if size <= 0 {
		panic("bufpool: size must be positive")
	}
	p := &Pool{size: size}
	p.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return p
}

// Get returns a buffer of exactly Size bytes.
func (p *Pool) Get() []byte {
	bp := p.pool.Get().(*[]byte)
	p.outstanding.Add(1)
	buf := *bp
	if cap(buf) < p.size {
		return make([]byte, p.size)
	}
	return buf[:p.size]
}

// Put returns buf to the pool. Buffers smaller than Size are dropped but still
// count as returned.
func (p *Pool) Put(buf []byte) {
	p.outstanding.Add(-1)
	if cap(buf) < p.size {
		return
	}
	buf = buf[:p.size]
	p.pool.Put(&buf)
}

// Size is the length of every buffer handed out.
func (p *Pool) Size() int {
	return p.size
}

// Outstanding is the number of buffers taken with Get and not yet Put back.
func (p *Pool) Outstanding() int64 {
	return p.outstanding.Load()
}
