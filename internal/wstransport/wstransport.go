// Package wstransport implements soundstream.Transport over a plain
// websocket connection, for deployments where QUIC/UDP egress is
// blocked. The framing and dispatch shape mirrors internal/wtransport:
// a single reader goroutine dispatching tagged frames, a ping/pong
// keepalive, and tag-keyed reply registration.
package wstransport

import (
	"encoding/binary"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"soundstream"
)

const (
	pingInterval = 10 * time.Second
	pongTimeout  = 30 * time.Second
	writeTimeout = 5 * time.Second
)

// Transport is a gorilla/websocket-backed soundstream.Transport.
type Transport struct {
	conn *websocket.Conn
	pool soundstream.MemPool

	writeMu sync.Mutex

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

// Dial opens a websocket connection to addr (a ws:// or wss:// URL)
// and starts its background reader/keepalive goroutines. pool is used
// to acquire bytes for outbound SendPayload chunks.
func Dial(addr string, pool soundstream.MemPool) (*Transport, error) {
	conn, _, err := websocket.DefaultDialer.Dial(addr, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("wstransport: dial: %w", err)
	}

	t := &Transport{
		conn:    conn,
		pool:    pool,
		nextTag: 1, // tag 0 is reserved for data and event frames
		pending: make(map[uint32]pendingReply),
		closed:  make(chan struct{}),
	}
	t.lastPong = time.Now()

	conn.SetPongHandler(func(string) error {
		t.mu.Lock()
		t.lastPong = time.Now()
		t.mu.Unlock()
		return nil
	})

	go t.readLoop()
	go t.pingLoop()

	return t, nil
}

// SendCommand writes a length-prefixed, tagged command frame as a
// binary websocket message and returns the tag it was assigned.
func (t *Transport) SendCommand(payload []byte) (uint32, error) {
	t.mu.Lock()
	tag := t.nextTag
	t.nextTag++
	t.mu.Unlock()

	if err := t.writeBinary(encodeFrame(tag, payload)); err != nil {
		return 0, fmt.Errorf("wstransport: send command: %w", err)
	}
	return tag, nil
}

// SendPayload writes a data chunk addressed to channel at the given
// seek offset/mode, framed with tag 0.
func (t *Transport) SendPayload(channel uint32, offset int64, seek soundstream.SeekMode, chunk soundstream.MemChunk) error {
	data, err := t.pool.Acquire(chunk.Block)
	if err != nil {
		return fmt.Errorf("wstransport: acquire chunk: %w", err)
	}
	data = data[chunk.Index : chunk.Index+chunk.Length]

	hdr := make([]byte, 0, 13+len(data))
	var tmp4 [4]byte
	binary.BigEndian.PutUint32(tmp4[:], channel)
	hdr = append(hdr, tmp4[:]...)
	var tmp8 [8]byte
	binary.BigEndian.PutUint64(tmp8[:], uint64(offset))
	hdr = append(hdr, tmp8[:]...)
	hdr = append(hdr, byte(seek))
	hdr = append(hdr, data...)

	err = t.writeBinary(encodeFrame(0, hdr))
	t.pool.Release(chunk.Block)
	return err
}

func (t *Transport) writeBinary(b []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return t.conn.WriteMessage(websocket.BinaryMessage, b)
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

// UnregisterRepliesFor is a no-op. As in wtransport, this transport
// keys replies on command tag rather than channel id; see
// UnregisterTags for the real cancel-by-tag path.
func (t *Transport) UnregisterRepliesFor(streamID uint32) { _ = streamID }

// UnregisterTags cancels a specific set of outstanding reply
// registrations.
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

// ShmEnabled is always false: websockets have no shared-memory path.
func (t *Transport) ShmEnabled() bool { return false }

// SetOnEvent registers the callback fired for server-initiated
// events received on the connection.
func (t *Transport) SetOnEvent(fn func(kind, channel uint32, payload []byte)) {
	t.mu.Lock()
	t.onEvent = fn
	t.mu.Unlock()
}

// Close tears the connection down.
func (t *Transport) Close() error {
	select {
	case <-t.closed:
		return nil
	default:
		close(t.closed)
	}
	t.writeMu.Lock()
	t.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.writeMu.Unlock()
	return t.conn.Close()
}

func (t *Transport) readLoop() {
	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			log.Printf("[wstransport] read error: %v", err)
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		tag, payload, err := decodeFrame(data)
		if err != nil {
			log.Printf("[wstransport] malformed frame: %v", err)
			continue
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
				log.Printf("[wstransport] keepalive timeout, closing connection")
				t.Close()
				return
			}
			t.writeMu.Lock()
			t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := t.conn.WriteMessage(websocket.PingMessage, nil)
			t.writeMu.Unlock()
			if err != nil {
				log.Printf("[wstransport] ping failed: %v", err)
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

// decodeFrame parses one (length, tag, payload) frame from a complete
// websocket message.
func decodeFrame(data []byte) (uint32, []byte, error) {
	if len(data) < 8 {
		return 0, nil, fmt.Errorf("wstransport: frame too short")
	}
	n := binary.BigEndian.Uint32(data[0:4])
	if int(n) != len(data)-4 {
		return 0, nil, fmt.Errorf("wstransport: frame length mismatch")
	}
	tag := binary.BigEndian.Uint32(data[4:8])
	return tag, data[8:], nil
}
