package soundstream

import "time"

// MemChunk is a reference-counted view into a pool-owned or
// user-owned block of sample data.
type MemChunk struct {
	Block  Block
	Index  uint32
	Length uint32
}

// Block is an opaque handle returned by a MemPool.
type Block interface{}

// ReplyHandler is invoked when a registered reply tag comes back from
// the server, or with ok=false if the registration is torn down
// (stream unlink, transport error) without a reply ever arriving.
type ReplyHandler func(tag uint32, payload []byte, ok bool)

// Transport is the framed command/reply/event channel to the server.
// Implementations live outside this package (internal/wtransport,
// internal/wstransport); the stream engine only depends on this
// contract.
type Transport interface {
	// SendCommand serializes and sends a tagged command, returning the
	// tag assigned to it (used to correlate the reply).
	SendCommand(payload []byte) (tag uint32, err error)

	// SendPayload sends a data chunk addressed to channel at the given
	// seek offset/mode.
	SendPayload(channel uint32, offset int64, seek SeekMode, chunk MemChunk) error

	// RegisterReply arranges for handler to be invoked when a reply for
	// tag arrives, or when the registration is dropped.
	RegisterReply(tag uint32, timeout time.Duration, handler ReplyHandler)

	// UnregisterRepliesFor cancels every reply registration tagged to
	// streamID, invoking each handler with ok=false.
	UnregisterRepliesFor(streamID uint32)

	// ShmEnabled reports whether the transport can wrap user-owned
	// buffers instead of copying into a pool block.
	ShmEnabled() bool
}

// tagUnregisterer is an optional Transport extension for
// implementations that key pending replies purely by command tag
// (internal/wtransport, internal/wstransport). unlinkLocked prefers it
// over UnregisterRepliesFor so it cancels exactly the tags this stream
// issued, instead of relying on streamID-keyed bookkeeping the
// transport may not actually have.
type tagUnregisterer interface {
	UnregisterTags(tags []uint32)
}

// MemPool is the shared memory / block allocator collaborator.
type MemPool interface {
	NewBlock(size int) (Block, error)
	NewUserBlock(data []byte, freeCb func()) (Block, error)
	Acquire(b Block) ([]byte, error)
	Release(b Block)
	Unref(b Block)
	MaxBlockSize() int
}

// RecordQueue is the local overflow byte queue feeding the read
// pipeline.
type RecordQueue interface {
	Push(data []byte)
	Peek() (MemChunk, bool)
	Drop(n int)
	Length() int
	Free()
}

// Smoother maps monotonic wall-clock time to a smoothed play-time
// estimate.
type Smoother interface {
	Put(u, y uint64)
	Get(t uint64) uint64
	Pause(t uint64)
	Resume(t uint64)
	SetTimeOffset(t uint64)
}

// TimerHandle is an opaque handle to a scheduled EventLoop timer.
type TimerHandle interface{}

// EventLoop abstracts the single timer the auto-timing scheduler
// needs.
type EventLoop interface {
	TimeNew(at time.Time, cb func()) TimerHandle
	TimeRestart(h TimerHandle, at time.Time)
	TimeFree(h TimerHandle)
}
