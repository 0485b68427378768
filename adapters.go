package soundstream

import (
	"time"

	"soundstream/internal/eventloop"
	"soundstream/internal/mempool"
	"soundstream/internal/recordqueue"
	"soundstream/internal/smoother"
)

// defaultMaxBlockSize mirrors the legacy default maxlength (4 MiB)
// scaled down to a sane single-block cap for the in-process pool.
const defaultMaxBlockSize = 64 * 1024

// NewDefaultMemPool returns the in-process MemPool implementation
// (internal/mempool), suitable when the transport has no real shared
// memory segment to hand out.
func NewDefaultMemPool() MemPool { return &poolAdapter{p: mempool.New(defaultMaxBlockSize)} }

type poolAdapter struct{ p *mempool.Pool }

func (a *poolAdapter) NewBlock(size int) (Block, error)              { return a.p.NewBlock(size) }
func (a *poolAdapter) NewUserBlock(data []byte, cb func()) (Block, error) {
	return a.p.NewUserBlock(data, cb)
}
func (a *poolAdapter) Acquire(b Block) ([]byte, error) { return a.p.Acquire(b) }
func (a *poolAdapter) Release(b Block)                 { a.p.Release(b) }
func (a *poolAdapter) Unref(b Block)                   { a.p.Unref(b) }
func (a *poolAdapter) MaxBlockSize() int               { return a.p.MaxBlockSize() }

// NewDefaultEventLoop returns the real-timer EventLoop implementation
// (internal/eventloop).
func NewDefaultEventLoop() EventLoop { return &eventLoopAdapter{l: eventloop.New()} }

type eventLoopAdapter struct{ l *eventloop.Loop }

func (a *eventLoopAdapter) TimeNew(at time.Time, cb func()) TimerHandle {
	return a.l.TimeNew(at, cb)
}
func (a *eventLoopAdapter) TimeRestart(h TimerHandle, at time.Time) { a.l.TimeRestart(h, at) }
func (a *eventLoopAdapter) TimeFree(h TimerHandle)                  { a.l.TimeFree(h) }

// recordQueueAdapter satisfies RecordQueue by pairing the byte queue
// with a MemPool so Peek can hand back a pool-backed MemChunk.
type recordQueueAdapter struct {
	q    *recordqueue.Queue
	pool MemPool
}

func newDefaultRecordQueueWithPool(pool MemPool) RecordQueue {
	return &recordQueueAdapter{q: recordqueue.New(), pool: pool}
}

func (a *recordQueueAdapter) Push(data []byte) { a.q.Push(data) }

func (a *recordQueueAdapter) Peek() (MemChunk, bool) {
	data, ok := a.q.Peek()
	if !ok {
		return MemChunk{}, false
	}
	b, err := a.pool.NewUserBlock(data, nil)
	if err != nil {
		return MemChunk{}, false
	}
	return MemChunk{Block: b, Length: uint32(len(data))}, true
}

func (a *recordQueueAdapter) Drop(n int) { a.q.Drop(n) }
func (a *recordQueueAdapter) Length() int { return a.q.Length() }
func (a *recordQueueAdapter) Free()      { a.q.Reset() }

// defaultRecordQueue is used by connect.go when a stream doesn't
// already have a RecordQueue assigned — it borrows the stream's own
// MemPool.
func (s *Stream) defaultRecordQueue() RecordQueue {
	return newDefaultRecordQueueWithPool(s.pool)
}

// newDefaultSmoother constructs the standard monotonic smoother:
// 1s adjust time, 5s history, 4-sample minimum before extrapolating.
func newDefaultSmoother() Smoother {
	return &smootherAdapter{s: smoother.New(1_000_000, 5_000_000, 4)}
}

type smootherAdapter struct{ s *smoother.Smoother }

func (a *smootherAdapter) Put(u, y uint64)     { a.s.Put(u, y) }
func (a *smootherAdapter) Get(t uint64) uint64 { return a.s.Get(t) }
func (a *smootherAdapter) Pause(t uint64)      { a.s.Pause(t) }
func (a *smootherAdapter) Resume(t uint64)     { a.s.Resume(t) }
func (a *smootherAdapter) SetTimeOffset(t uint64) { a.s.SetTimeOffset(t) }
