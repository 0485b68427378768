package soundstream

import (
	"bytes"
	"testing"
)

// TestPeekIdempotence checks the peek-idempotence property: repeated
// Peek calls without an intervening Drop return the same data, and
// only Drop advances the queue.
func TestPeekIdempotence(t *testing.T) {
	ctx, _, _ := newTestContext(13)
	s := newReadyStream(ctx, DirectionRecord)

	s.recordQueue.Push([]byte("hello"))
	s.recordQueue.Push([]byte("world"))

	first, err := s.Peek()
	if err != nil {
		t.Fatalf("first Peek: %v", err)
	}
	if !bytes.Equal(first, []byte("hello")) {
		t.Fatalf("first Peek = %q, want %q", first, "hello")
	}

	second, err := s.Peek()
	if err != nil {
		t.Fatalf("second Peek: %v", err)
	}
	if !bytes.Equal(second, []byte("hello")) {
		t.Fatalf("second Peek (no Drop in between) = %q, want unchanged %q", second, "hello")
	}

	if err := s.Drop(); err != nil {
		t.Fatalf("Drop: %v", err)
	}

	third, err := s.Peek()
	if err != nil {
		t.Fatalf("third Peek: %v", err)
	}
	if !bytes.Equal(third, []byte("world")) {
		t.Fatalf("Peek after Drop = %q, want %q", third, "world")
	}
}

// TestPeekNoDataReturnsEmpty checks that Peek on an empty queue
// reports no data rather than an error, and Drop without a pending
// peek reports KindNoData.
func TestPeekNoDataReturnsEmpty(t *testing.T) {
	ctx, _, _ := newTestContext(13)
	s := newReadyStream(ctx, DirectionRecord)

	data, err := s.Peek()
	if err != nil {
		t.Fatalf("Peek on empty queue: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("Peek on empty queue = %v, want empty", data)
	}

	if err := s.Drop(); !IsKind(err, KindNoData) {
		t.Fatalf("Drop with nothing peeked: %v, want KindNoData", err)
	}
}

// TestReadIndexAdvancesOnDrop checks that Drop advances the read index
// by the dropped chunk's length when the timing snapshot is valid and
// uncorrupted.
func TestReadIndexAdvancesOnDrop(t *testing.T) {
	ctx, _, _ := newTestContext(13)
	s := newReadyStream(ctx, DirectionRecord)
	s.timing.Valid = true
	s.timing.ReadIndex = 1000

	s.recordQueue.Push([]byte("abcde"))
	if _, err := s.Peek(); err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if err := s.Drop(); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if s.timing.ReadIndex != 1005 {
		t.Fatalf("read_index = %d, want 1005", s.timing.ReadIndex)
	}
}
