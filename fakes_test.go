package soundstream

import (
	"sync"
	"time"
)

// fakeBlock is a test-only Block: a plain byte slice plus an optional
// free callback the test can assert was (or wasn't) invoked.
type fakeBlock struct {
	data   []byte
	freeCb func()
}

// fakeMemPool is a minimal MemPool for tests: no real reuse, just
// enough bookkeeping to exercise the write/read pipelines.
type fakeMemPool struct {
	maxBlockSize int
}

func newFakeMemPool(maxBlockSize int) *fakeMemPool { return &fakeMemPool{maxBlockSize: maxBlockSize} }

func (p *fakeMemPool) NewBlock(size int) (Block, error) {
	return &fakeBlock{data: make([]byte, size)}, nil
}
func (p *fakeMemPool) NewUserBlock(data []byte, freeCb func()) (Block, error) {
	return &fakeBlock{data: data, freeCb: freeCb}, nil
}
func (p *fakeMemPool) Acquire(b Block) ([]byte, error) { return b.(*fakeBlock).data, nil }
func (p *fakeMemPool) Release(Block)                   {}
func (p *fakeMemPool) Unref(Block)                     {}
func (p *fakeMemPool) MaxBlockSize() int               { return p.maxBlockSize }

// sentPayload records one SendPayload call.
type sentPayload struct {
	channel uint32
	offset  int64
	seek    SeekMode
	data    []byte
}

// fakeTransport is a test-only Transport: it records every command
// and payload sent and lets the test fire replies on demand, keyed by
// the tag it assigned when the command was sent.
type fakeTransport struct {
	mu       sync.Mutex
	nextTag  uint32
	commands [][]byte
	payloads []sentPayload
	replies  map[uint32]ReplyHandler
	shm      bool

	unregistered []uint32
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{replies: make(map[uint32]ReplyHandler)}
}

func (t *fakeTransport) SendCommand(payload []byte) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tag := t.nextTag
	t.nextTag++
	t.commands = append(t.commands, payload)
	return tag, nil
}

func (t *fakeTransport) SendPayload(channel uint32, offset int64, seek SeekMode, chunk MemChunk) error {
	b := chunk.Block.(*fakeBlock)
	data := append([]byte(nil), b.data[chunk.Index:chunk.Index+chunk.Length]...)
	t.mu.Lock()
	t.payloads = append(t.payloads, sentPayload{channel: channel, offset: offset, seek: seek, data: data})
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) RegisterReply(tag uint32, timeout time.Duration, handler ReplyHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replies[tag] = handler
}

// UnregisterRepliesFor drops every pending reply registration without
// invoking the handlers, approximating a per-stream cancel. Real
// transports key replies purely by tag (see internal/wtransport) and
// treat this as a no-op; the fake can afford to be precise since tests
// run a single stream at a time.
func (t *fakeTransport) UnregisterRepliesFor(streamID uint32) {
	t.mu.Lock()
	t.unregistered = append(t.unregistered, streamID)
	t.replies = make(map[uint32]ReplyHandler)
	t.mu.Unlock()
}

func (t *fakeTransport) ShmEnabled() bool { return t.shm }

func (t *fakeTransport) fireReply(tag uint32, payload []byte, ok bool) {
	t.mu.Lock()
	h, found := t.replies[tag]
	delete(t.replies, tag)
	t.mu.Unlock()
	if found {
		h(tag, payload, ok)
	}
}

func (t *fakeTransport) setNextTag(tag uint32) {
	t.mu.Lock()
	t.nextTag = tag
	t.mu.Unlock()
}

// fakeEventLoop never actually fires its timers: it only counts
// TimeNew calls, so a test that sets FlagAutoTimingUpdate can assert
// how often the scheduler created a timer.
type fakeEventLoop struct {
	mu       sync.Mutex
	newCalls int
}

func (l *fakeEventLoop) TimeNew(at time.Time, cb func()) TimerHandle {
	l.mu.Lock()
	l.newCalls++
	l.mu.Unlock()
	return new(int)
}
func (l *fakeEventLoop) TimeRestart(TimerHandle, time.Time) {}
func (l *fakeEventLoop) TimeFree(TimerHandle)                {}
