// Package recordqueue implements the local overflow byte queue that
// sits between the transport's incoming record-stream payloads and
// the application's Peek/Drop calls. Adapted from the ring-buffer-
// with-length-accounting idiom of a per-sender jitter buffer, but
// byte-oriented rather than frame-oriented and with a single
// consumer instead of one ring per sender.
package recordqueue

// chunk is one inbound payload, queued whole; Drop may consume it
// partially, in which case it is resliced rather than removed.
type chunk struct {
	data []byte
}

// Queue is not safe for concurrent use; the stream engine serializes
// access to it under its own mutex.
type Queue struct {
	chunks []chunk
	length int
}

// New returns an empty Queue.
func New() *Queue { return &Queue{} }

// Push appends newly received bytes to the tail of the queue.
func (q *Queue) Push(data []byte) {
	if len(data) == 0 {
		return
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	q.chunks = append(q.chunks, chunk{data: cp})
	q.length += len(cp)
}

// Peek returns the bytes at the head of the queue without consuming
// them, or ok=false if the queue is empty.
func (q *Queue) Peek() ([]byte, bool) {
	if len(q.chunks) == 0 {
		return nil, false
	}
	return q.chunks[0].data, true
}

// Drop removes n bytes from the head of the queue.
func (q *Queue) Drop(n int) {
	for n > 0 && len(q.chunks) > 0 {
		head := &q.chunks[0]
		if len(head.data) <= n {
			n -= len(head.data)
			q.length -= len(head.data)
			q.chunks = q.chunks[1:]
			continue
		}
		head.data = head.data[n:]
		q.length -= n
		n = 0
	}
}

// Length returns the total number of bytes currently queued.
func (q *Queue) Length() int { return q.length }

// Reset discards all queued data.
func (q *Queue) Reset() {
	q.chunks = nil
	q.length = 0
}
