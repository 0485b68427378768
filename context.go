package soundstream

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Context is the minimal parent connection object a Stream is bound
// to: a tag counter for outbound commands, per-direction channel
// lookup tables, and the live stream list. Authentication, transport
// setup, and sample-format/property-list validation helpers are
// external collaborators and out of scope here — Context only holds
// what the stream engine itself needs to stay internally consistent.
type Context struct {
	SessionID uuid.UUID

	Transport Transport
	Pool      MemPool
	EventLoop EventLoop

	// ProtocolVersion gates which wire fields are sent/parsed. The
	// stream engine treats this as read-only.
	ProtocolVersion uint32

	tag uint32

	mu             sync.Mutex
	streams        []*Stream
	playbackByChan map[uint32]*Stream
	recordByChan   map[uint32]*Stream

	failed  bool
	failErr error
}

// NewContext constructs a Context bound to the given collaborators.
func NewContext(t Transport, pool MemPool, el EventLoop, protocolVersion uint32) *Context {
	return &Context{
		SessionID:       uuid.New(),
		Transport:       t,
		Pool:            pool,
		EventLoop:       el,
		ProtocolVersion: protocolVersion,
		playbackByChan:  make(map[uint32]*Stream),
		recordByChan:    make(map[uint32]*Stream),
	}
}

// nextTag returns the next command tag, monotonically increasing.
func (c *Context) nextTag() uint32 { return atomic.AddUint32(&c.tag, 1) - 1 }

func (c *Context) addStream(s *Stream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streams = append(c.streams, s)
}

func (c *Context) removeStream(s *Stream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, st := range c.streams {
		if st == s {
			c.streams = append(c.streams[:i], c.streams[i+1:]...)
			break
		}
	}
}

// registerStream records s in the per-direction channel table once
// its server-assigned channel id is known.
func (c *Context) registerStream(s *Stream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch s.direction {
	case DirectionRecord:
		c.recordByChan[s.channelID] = s
	default:
		c.playbackByChan[s.channelID] = s
	}
}

func (c *Context) unregisterStream(s *Stream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch s.direction {
	case DirectionRecord:
		delete(c.recordByChan, s.channelID)
	default:
		delete(c.playbackByChan, s.channelID)
	}
}

// StreamByChannel looks up a ready stream by its server-assigned
// channel id and direction, for dispatching events/replies.
func (c *Context) StreamByChannel(dir Direction, channel uint32) (*Stream, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var m map[uint32]*Stream
	if dir == DirectionRecord {
		m = c.recordByChan
	} else {
		m = c.playbackByChan
	}
	s, ok := m[channel]
	return s, ok
}

// Fail marks the context itself as protocol-failed: a malformed or
// version-mismatched server message invalidates the whole connection,
// not just the stream that happened to receive it. Every live stream
// transitions to StateFailed, and any later NewStream/connect call is
// rejected immediately. Only the first call has effect.
func (c *Context) Fail(err error) {
	c.mu.Lock()
	if c.failed {
		c.mu.Unlock()
		return
	}
	c.failed = true
	c.failErr = err
	streams := append([]*Stream(nil), c.streams...)
	c.mu.Unlock()

	for _, s := range streams {
		s.mu.Lock()
		s.setState(StateFailed)
		s.mu.Unlock()
	}
}

// Failed reports whether the context has been marked failed by a
// protocol error, and the error that caused it.
func (c *Context) Failed() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed, c.failErr
}

// Streams returns a snapshot of the currently live stream list.
func (c *Context) Streams() []*Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Stream, len(c.streams))
	copy(out, c.streams)
	return out
}
