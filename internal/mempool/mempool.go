// Package mempool implements the memory-block pool collaborator: a
// bounded allocator for write-pipeline chunk buffers, reusing
// recently-freed blocks instead of allocating fresh ones on every
// write the way a naive copy path would. Adapted from the
// sync.Pool-backed datagram buffer reuse idiom used for per-packet
// allocation avoidance in a high-rate network send path.
package mempool

import (
	"errors"
	"sync"
)

// ErrBlockTooLarge is returned by NewBlock when size exceeds the
// pool's configured maximum.
var ErrBlockTooLarge = errors.New("mempool: block exceeds max block size")

// block is the concrete handle returned to callers as a Block. The
// free callback a user block was created with is the caller's
// responsibility to invoke (the write pipeline does so once a whole
// write completes); the pool only needs to know not to recycle the
// buffer.
type block struct {
	data []byte
	pool *Pool
	user bool
}

// Pool is a bounded, reusing allocator. The zero value is not usable;
// construct with New.
type Pool struct {
	maxBlockSize int
	free         sync.Pool
}

// New creates a Pool whose blocks are capped at maxBlockSize bytes.
func New(maxBlockSize int) *Pool {
	p := &Pool{maxBlockSize: maxBlockSize}
	p.free.New = func() any {
		return make([]byte, 0, maxBlockSize)
	}
	return p
}

func (p *Pool) MaxBlockSize() int { return p.maxBlockSize }

// NewBlock allocates (or reuses) a pool-owned buffer of size bytes.
func (p *Pool) NewBlock(size int) (any, error) {
	if size > p.maxBlockSize {
		return nil, ErrBlockTooLarge
	}
	buf := p.free.Get().([]byte)
	if cap(buf) < size {
		buf = make([]byte, size)
	} else {
		buf = buf[:size]
	}
	return &block{data: buf, pool: p}, nil
}

// NewUserBlock wraps a caller-owned buffer without copying. freeCb is
// not stored or invoked by the pool; invoking it is the caller's job.
func (p *Pool) NewUserBlock(data []byte, freeCb func()) (any, error) {
	return &block{data: data, pool: p, user: true}, nil
}

// Acquire returns the block's backing bytes.
func (p *Pool) Acquire(b any) ([]byte, error) {
	blk, ok := b.(*block)
	if !ok {
		return nil, errors.New("mempool: not a block from this pool")
	}
	return blk.data, nil
}

// Release is a no-op placeholder for implementations that need an
// explicit unmap step (e.g. real shared memory); this in-process pool
// has nothing to unmap.
func (p *Pool) Release(any) {}

// Unref returns a pool-owned block's buffer to the free list. A user
// block is left alone: its buffer is not recycled and no callback runs.
func (p *Pool) Unref(b any) {
	blk, ok := b.(*block)
	if !ok {
		return
	}
	if blk.user {
		return
	}
	p.free.Put(blk.data[:0])
}
