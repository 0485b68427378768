// Package wtransport implements soundstream.Transport over
// WebTransport (HTTP/3 datagrams + bidirectional streams via
// quic-go), reusing this client family's usual transport shape: a
// single long-lived session, a reader goroutine dispatching framed
// messages by tag, and a keepalive ping loop that disconnects on
// timeout. Datagrams carry best-effort REQUEST/credit events; the
// reliable stream carries commands, their replies, and sample data.
package wtransport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"

	"soundstream"
)

const (
	pingInterval = 10 * time.Second
	pongTimeout  = 30 * time.Second
)

// Transport is a WebTransport-backed soundstream.Transport.
type Transport struct {
	sess *webtransport.Session
	ctrl webtransport.Stream
	pool soundstream.MemPool

	mu       sync.Mutex
	nextTag  uint32
	pending  map[uint32]pendingReply
	lastPong time.Time

	onEvent func(kind, channel uint32, payload []byte)

	closed chan struct{}
}

type pendingReply struct {
	handler soundstream.ReplyHandler
	timer   *time.Timer
}

// Dial opens a WebTransport session to addr (an https:// URL) and
// starts its background reader/keepalive goroutines. pool is used to
// acquire bytes for outbound SendPayload chunks.
func Dial(ctx context.Context, addr string, pool soundstream.MemPool) (*Transport, error) {
	t := &Transport{
		pool:    pool,
		nextTag: 1, // tag 0 is reserved for data and event frames
		pending: make(map[uint32]pendingReply),
		closed:  make(chan struct{}),
	}

	d := webtransport.Dialer{RoundTripper: &http3.RoundTripper{}}
	_, sess, err := d.Dial(ctx, addr, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("wtransport: dial: %w", err)
	}
	t.sess = sess

	ctrl, err := sess.OpenStreamSync(ctx)
	if err != nil {
		sess.CloseWithError(0, "control stream failed")
		return nil, fmt.Errorf("wtransport: open control stream: %w", err)
	}
	t.ctrl = ctrl
	t.lastPong = time.Now()

	go t.readControlLoop()
	go t.readDatagramLoop()
	go t.pingLoop()

	return t, nil
}

// SendCommand writes a length-prefixed, tagged command frame on the
// reliable control stream and returns the tag it was assigned.
func (t *Transport) SendCommand(payload []byte) (uint32, error) {
	t.mu.Lock()
	tag := t.nextTag
	t.nextTag++
	t.mu.Unlock()

	if _, err := t.ctrl.Write(encodeFrame(tag, payload)); err != nil {
		return 0, fmt.Errorf("wtransport: send command: %w", err)
	}
	return tag, nil
}

// SendPayload writes a data chunk addressed to channel at the given
// seek offset/mode, framed with tag 0 (data frames are never replied
// to directly).
func (t *Transport) SendPayload(channel uint32, offset int64, seek soundstream.SeekMode, chunk soundstream.MemChunk) error {
	data, err := t.pool.Acquire(chunk.Block)
	if err != nil {
		return fmt.Errorf("wtransport: acquire chunk: %w", err)
	}
	data = data[chunk.Index : chunk.Index+chunk.Length]

	hdr := make([]byte, 0, 17)
	var tmp4 [4]byte
	binary.BigEndian.PutUint32(tmp4[:], channel)
	hdr = append(hdr, tmp4[:]...)
	var tmp8 [8]byte
	binary.BigEndian.PutUint64(tmp8[:], uint64(offset))
	hdr = append(hdr, tmp8[:]...)
	hdr = append(hdr, byte(seek))
	hdr = append(hdr, data...)

	_, err = t.ctrl.Write(encodeFrame(0, hdr))
	t.pool.Release(chunk.Block)
	return err
}

// RegisterReply arranges for handler to be invoked when a reply
// tagged tag arrives, or after timeout (if nonzero) elapses first
// without one.
func (t *Transport) RegisterReply(tag uint32, timeout time.Duration, handler soundstream.ReplyHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pr := pendingReply{handler: handler}
	if timeout > 0 {
		pr.timer = time.AfterFunc(timeout, func() { t.fireTimeout(tag) })
	}
	t.pending[tag] = pr
}

func (t *Transport) fireTimeout(tag uint32) {
	t.mu.Lock()
	p, ok := t.pending[tag]
	if ok {
		delete(t.pending, tag)
	}
	t.mu.Unlock()
	if ok {
		p.handler(tag, nil, false)
	}
}

// UnregisterRepliesFor is a no-op: this transport keys replies on the
// command tag rather than the stream's channel id, so it cannot find a
// stream's registrations by streamID. It exists to satisfy
// soundstream.Transport; UnregisterTags is the cancel path that works.
func (t *Transport) UnregisterRepliesFor(streamID uint32) { _ = streamID }

// UnregisterTags cancels a specific set of outstanding reply
// registrations, e.g. all tags a stream issued before it unlinked.
func (t *Transport) UnregisterTags(tags []uint32) {
	t.mu.Lock()
	var drop []pendingReply
	for _, tag := range tags {
		if p, ok := t.pending[tag]; ok {
			drop = append(drop, p)
			delete(t.pending, tag)
		}
	}
	t.mu.Unlock()
	for _, p := range drop {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.handler(0, nil, false)
	}
}

// ShmEnabled reports whether this transport can wrap caller buffers
// without copying. WebTransport has no shared-memory segment, so this
// is always false; the write pipeline falls back to the copy path.
func (t *Transport) ShmEnabled() bool { return false }

// SetOnEvent registers the callback fired for server-initiated
// events (kill/move/suspend/started/overflow/underflow/request)
// received on the control stream.
func (t *Transport) SetOnEvent(fn func(kind, channel uint32, payload []byte)) {
	t.mu.Lock()
	t.onEvent = fn
	t.mu.Unlock()
}

// Close tears the session down.
func (t *Transport) Close() error {
	select {
	case <-t.closed:
		return nil
	default:
		close(t.closed)
	}
	return t.sess.CloseWithError(0, "client closing")
}

func (t *Transport) readControlLoop() {
	for {
		tag, payload, err := readFrame(t.ctrl)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("[wtransport] control read error: %v", err)
			}
			return
		}
		if tag == 0 {
			t.dispatchEvent(payload)
			continue
		}
		t.mu.Lock()
		p, ok := t.pending[tag]
		if ok {
			delete(t.pending, tag)
		}
		t.mu.Unlock()
		if ok {
			if p.timer != nil {
				p.timer.Stop()
			}
			p.handler(tag, payload, true)
		}
	}
}

func (t *Transport) dispatchEvent(payload []byte) {
	if len(payload) < 8 {
		return
	}
	kind := binary.BigEndian.Uint32(payload[0:4])
	channel := binary.BigEndian.Uint32(payload[4:8])
	t.mu.Lock()
	cb := t.onEvent
	t.mu.Unlock()
	if cb != nil {
		cb(kind, channel, payload[8:])
	}
}

func (t *Transport) readDatagramLoop() {
	for {
		dg, err := t.sess.ReceiveDatagram(context.Background())
		if err != nil {
			return
		}
		t.mu.Lock()
		t.lastPong = time.Now()
		t.mu.Unlock()
		if len(dg) < 8 {
			continue
		}
		kind := binary.BigEndian.Uint32(dg[0:4])
		channel := binary.BigEndian.Uint32(dg[4:8])
		t.mu.Lock()
		cb := t.onEvent
		t.mu.Unlock()
		if cb != nil {
			cb(kind, channel, dg[8:])
		}
	}
}

func (t *Transport) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.closed:
			return
		case <-ticker.C:
			t.mu.Lock()
			stale := time.Since(t.lastPong) > pongTimeout
			t.mu.Unlock()
			if stale {
				log.Printf("[wtransport] keepalive timeout, closing session")
				t.Close()
				return
			}
			if err := t.sess.SendDatagram([]byte{0}); err != nil {
				log.Printf("[wtransport] ping failed: %v", err)
			}
		}
	}
}

// encodeFrame prepends a (length, tag) header to payload.
func encodeFrame(tag uint32, payload []byte) []byte {
	frame := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(payload))+4)
	binary.BigEndian.PutUint32(frame[4:8], tag)
	copy(frame[8:], payload)
	return frame
}

// readFrame reads one (length, tag, payload) frame from r.
func readFrame(r io.Reader) (uint32, []byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n < 4 {
		return 0, nil, fmt.Errorf("wtransport: malformed frame length %d", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	tag := binary.BigEndian.Uint32(body[0:4])
	return tag, body[4:], nil
}
