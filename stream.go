package soundstream

import (
	"sync"
	"time"
)

// StateCallback is invoked whenever a stream's lifecycle state
// changes, including into the terminal states.
type StateCallback func(s *Stream)

// WriteCallback is invoked when the server grants new write credit.
type WriteCallback func(s *Stream, nbytes int)

// ReadCallback is invoked when new data is available to peek.
type ReadCallback func(s *Stream)

// EventCallback covers the simple server-initiated notifications that
// carry no extra payload beyond "it happened": overflow, underflow,
// suspended, started.
type EventCallback func(s *Stream)

// MovedCallback is invoked when the server moves the stream to a
// different device.
type MovedCallback func(s *Stream)

// Stream is a client-side handle to a playback, record, or upload
// channel on a remote sound server. It is not safe for concurrent use
// from multiple goroutines beyond what its single driving event loop
// goroutine performs; callers interact with it only from within
// callbacks or immediately after a call into it returns, matching the
// single-threaded cooperative model the wire protocol assumes.
type Stream struct {
	mu sync.Mutex

	context   *Context
	transport Transport
	pool      MemPool
	eventLoop EventLoop

	direction  Direction
	sampleSpec SampleSpec
	channelMap ChannelMap
	bufferAttr BufferAttr
	flags      Flags
	propList   PropList

	channelID    uint32
	channelValid bool
	streamIndex  uint32
	syncID       uint32

	deviceName  string
	deviceIndex uint32
	suspended   bool

	directOnInput    uint32
	hasDirectOnInput bool

	syncStream *Stream

	state  State
	corked bool

	requestedBytes int

	timing TimingSnapshot

	corrections      [correctionRingSize]correction
	currentCorrIndex int

	readIndexNotBefore  uint32
	writeIndexNotBefore uint32

	recordQueue RecordQueue
	peekChunk   MemChunk
	peeking     bool

	smoother Smoother

	previousTime uint64

	autoTimingRequested bool
	autoTimingHandle    TimerHandle

	ops []*Operation

	// issuedTags records command tags still outstanding on this stream,
	// so unlinkLocked can cancel exactly those via UnregisterTags on a
	// tag-aware transport.
	issuedTags []uint32

	stateCb   StateCallback
	writeCb   WriteCallback
	readCb    ReadCallback
	movedCb   MovedCallback
	suspCb    EventCallback
	startedCb EventCallback
	overCb    EventCallback
	underCb   EventCallback

	unlinked bool
}

// State returns the stream's current lifecycle state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Stream) SetStateCallback(cb StateCallback)   { s.mu.Lock(); s.stateCb = cb; s.mu.Unlock() }
func (s *Stream) SetWriteCallback(cb WriteCallback)    { s.mu.Lock(); s.writeCb = cb; s.mu.Unlock() }
func (s *Stream) SetReadCallback(cb ReadCallback)      { s.mu.Lock(); s.readCb = cb; s.mu.Unlock() }
func (s *Stream) SetMovedCallback(cb MovedCallback)    { s.mu.Lock(); s.movedCb = cb; s.mu.Unlock() }
func (s *Stream) SetSuspendedCallback(cb EventCallback) { s.mu.Lock(); s.suspCb = cb; s.mu.Unlock() }
func (s *Stream) SetStartedCallback(cb EventCallback)  { s.mu.Lock(); s.startedCb = cb; s.mu.Unlock() }
func (s *Stream) SetOverflowCallback(cb EventCallback) { s.mu.Lock(); s.overCb = cb; s.mu.Unlock() }
func (s *Stream) SetUnderflowCallback(cb EventCallback) { s.mu.Lock(); s.underCb = cb; s.mu.Unlock() }

// Corked reports whether the stream is client-paused.
func (s *Stream) Corked() bool { s.mu.Lock(); defer s.mu.Unlock(); return s.corked }

// Suspended reports whether the server has suspended the stream's
// device.
func (s *Stream) Suspended() bool { s.mu.Lock(); defer s.mu.Unlock(); return s.suspended }

// DeviceIndex returns the server-assigned index of the bound device.
func (s *Stream) DeviceIndex() uint32 { s.mu.Lock(); defer s.mu.Unlock(); return s.deviceIndex }

// DeviceName returns the name of the bound device.
func (s *Stream) DeviceName() string { s.mu.Lock(); defer s.mu.Unlock(); return s.deviceName }

// BufferAttr returns the negotiated buffer attributes.
func (s *Stream) BufferAttr() BufferAttr { s.mu.Lock(); defer s.mu.Unlock(); return s.bufferAttr }

// TimingInfo returns the last-processed latency snapshot.
func (s *Stream) TimingInfo() TimingSnapshot { s.mu.Lock(); defer s.mu.Unlock(); return s.timing }

// setState transitions the stream to st, invoking the state callback
// and — for terminal states — unlinking afterward. The caller must
// already hold s.mu; setState releases and reacquires it around the
// callback to honor the reentry discipline (a callback that drops the
// stream's last reference must not observe it freed mid-call).
func (s *Stream) setState(st State) {
	if s.state.Terminal() {
		return
	}
	prev := s.state
	s.state = st
	debugf(streamLog, "channel=%d %s -> %s", s.channelID, prev, st)
	cb := s.stateCb
	s.mu.Unlock()
	if cb != nil {
		cb(s)
	}
	s.mu.Lock()
	if st.Terminal() {
		s.unlinkLocked()
	}
}

// unlinkLocked cancels every pending operation, drops pending
// replies, clears the channel-table registration, and clears
// callbacks so no further notification can reach the application.
// Caller must hold s.mu.
func (s *Stream) unlinkLocked() {
	if s.unlinked {
		return
	}
	s.unlinked = true

	for _, op := range s.ops {
		op.cancelLocked()
	}
	s.ops = nil

	if s.transport != nil {
		if ut, ok := s.transport.(tagUnregisterer); ok {
			ut.UnregisterTags(s.issuedTags)
		} else {
			s.transport.UnregisterRepliesFor(s.channelID)
		}
	}
	s.issuedTags = nil

	if s.channelValid && s.context != nil {
		s.context.unregisterStream(s)
	}
	s.channelValid = false

	if s.context != nil {
		s.context.removeStream(s)
	}

	if s.recordQueue != nil {
		s.recordQueue.Free()
	}
	if s.peeking && s.pool != nil {
		s.pool.Release(s.peekChunk.Block)
		s.pool.Unref(s.peekChunk.Block)
	}
	s.peeking = false

	if s.autoTimingHandle != nil && s.eventLoop != nil {
		s.eventLoop.TimeFree(s.autoTimingHandle)
		s.autoTimingHandle = nil
	}

	s.stateCb = nil
	s.writeCb = nil
	s.readCb = nil
	s.movedCb = nil
	s.suspCb = nil
	s.startedCb = nil
	s.overCb = nil
	s.underCb = nil
}

// addOperation registers op as pending against the stream so it is
// cancelled on unlink.
func (s *Stream) addOperation(op *Operation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, op)
}

// removeOperation drops op from the pending list once it has
// completed or been cancelled individually.
func (s *Stream) removeOperation(op *Operation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, o := range s.ops {
		if o == op {
			s.ops = append(s.ops[:i], s.ops[i+1:]...)
			break
		}
	}
}

// trackTag records tag as issued by this stream.
func (s *Stream) trackTag(tag uint32) {
	s.mu.Lock()
	s.issuedTags = append(s.issuedTags, tag)
	s.mu.Unlock()
}

// untrackTag drops tag once its reply has resolved, whichever way.
func (s *Stream) untrackTag(tag uint32) {
	s.mu.Lock()
	for i, t := range s.issuedTags {
		if t == tag {
			s.issuedTags = append(s.issuedTags[:i], s.issuedTags[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
}

// trackingReply wraps handler so tag is tracked for the duration of
// its round trip and dropped from bookkeeping as soon as it resolves.
func (s *Stream) trackingReply(tag uint32, handler ReplyHandler) ReplyHandler {
	s.trackTag(tag)
	return func(t uint32, payload []byte, ok bool) {
		s.untrackTag(tag)
		handler(t, payload, ok)
	}
}

// requireReady returns a bad-state error if the stream is not ready.
func (s *Stream) requireReady(op string) error {
	if s.state != StateReady {
		return newErr(op, KindBadState, nil)
	}
	return nil
}

func now() time.Time { return time.Now() }

func nowUsec() uint64 { return uint64(time.Now().UnixMicro()) }
