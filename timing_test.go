package soundstream

import "testing"

// latencyReplyPayload builds a GET_*_LATENCY reply payload matching
// parseLatencyReply's field order.
func latencyReplyPayload(sinkUsec, sourceUsec uint64, playing bool, local, remote uint64, writeIndex, readIndex int64, version uint32, dir Direction) []byte {
	b := newTagBuilder().AddU64(sinkUsec).AddU64(sourceUsec).AddBool(playing).
		AddU64(local).AddU64(remote).AddS64(writeIndex).AddS64(readIndex)
	if version >= 13 && dir != DirectionRecord {
		b.AddU64(0).AddU64(0)
	}
	return b.Bytes()
}

// TestAbsoluteSeekCorrection is the absolute-seek scenario: a latency
// query reserves a ring slot at tag=10, an absolute write(offset=1000,
// len=500) lands in that same slot, and the reply (reporting
// write_index=0) must be corrected to 1500, not left at the server's
// stale value.
func TestAbsoluteSeekCorrection(t *testing.T) {
	ctx, transport, _ := newTestContext(13)
	s := newReadyStream(ctx, DirectionPlayback)

	transport.setNextTag(10)
	if err := s.requestLatencyUpdate(); err != nil {
		t.Fatalf("requestLatencyUpdate: %v", err)
	}

	if err := s.Write(make([]byte, 500), nil, 1000, SeekAbsolute); err != nil {
		t.Fatalf("Write: %v", err)
	}

	reply := latencyReplyPayload(0, 0, true, 0, 0, 0, 0, 13, DirectionPlayback)
	transport.fireReply(10, reply, true)

	s.mu.Lock()
	wi, corrupt := s.timing.WriteIndex, s.timing.WriteIndexCorrupt
	s.mu.Unlock()

	if corrupt {
		t.Fatal("write index marked corrupt, want clean correction")
	}
	if wi != 1500 {
		t.Fatalf("write_index = %d, want 1500", wi)
	}
}

// TestCorruptingSeek is the relative-on-read scenario: that seek mode
// has no meaning for a playback write and must corrupt the write index
// rather than silently accumulate.
func TestCorruptingSeek(t *testing.T) {
	ctx, transport, _ := newTestContext(13)
	s := newReadyStream(ctx, DirectionPlayback)

	transport.setNextTag(10)
	if err := s.requestLatencyUpdate(); err != nil {
		t.Fatalf("requestLatencyUpdate: %v", err)
	}

	if err := s.Write(make([]byte, 100), nil, 200, SeekRelativeOnRead); err != nil {
		t.Fatalf("Write: %v", err)
	}

	reply := latencyReplyPayload(0, 0, true, 0, 0, 9000, 0, 13, DirectionPlayback)
	transport.fireReply(10, reply, true)

	s.mu.Lock()
	corrupt := s.timing.WriteIndexCorrupt
	s.mu.Unlock()

	if !corrupt {
		t.Fatal("write index should be marked corrupt after a relative-on-read write")
	}
}

// TestBarrierInvalidation is the cork-invalidation scenario: Cork
// stamps a barrier tag (here forced to 20), and any latency reply
// whose tag predates the barrier must be treated as corrupt even
// though its contents look fine.
func TestBarrierInvalidation(t *testing.T) {
	ctx, transport, _ := newTestContext(13)
	s := newReadyStream(ctx, DirectionPlayback)

	ctx.tag = 20
	if _, err := s.Cork(true); err != nil {
		t.Fatalf("Cork: %v", err)
	}
	s.mu.Lock()
	barrier := s.writeIndexNotBefore
	s.mu.Unlock()
	if barrier != 20 {
		t.Fatalf("writeIndexNotBefore = %d, want 20", barrier)
	}

	transport.setNextTag(15)
	if err := s.requestLatencyUpdate(); err != nil {
		t.Fatalf("requestLatencyUpdate: %v", err)
	}
	reply := latencyReplyPayload(0, 0, true, 0, 0, 1234, 0, 13, DirectionPlayback)
	transport.fireReply(15, reply, true)

	s.mu.Lock()
	corrupt := s.timing.WriteIndexCorrupt
	s.mu.Unlock()
	if !corrupt {
		t.Fatal("reply predating the invalidation barrier must be corrupt")
	}
}

// TestMonotonicClamp is the two-successive-reads scenario: a raw
// estimate that drops from 500ms to 490ms must be clamped back up to
// 500ms rather than reported as going backward.
func TestMonotonicClamp(t *testing.T) {
	ctx, _, _ := newTestContext(13)
	s := newReadyStream(ctx, DirectionPlayback)
	s.timing.Valid = true

	s.previousTime = 500_000
	s.timing.ReadIndex = int64(s.sampleSpec.UsecToBytes(500_000))
	s.corked = true // calc_time skips the transport/sink adjustment entirely

	first, err := s.GetTime()
	if err != nil {
		t.Fatalf("GetTime: %v", err)
	}
	if first != 500_000 {
		t.Fatalf("first read = %d, want 500000", first)
	}

	s.timing.ReadIndex = int64(s.sampleSpec.UsecToBytes(490_000))
	second, err := s.GetTime()
	if err != nil {
		t.Fatalf("GetTime: %v", err)
	}
	if second != 500_000 {
		t.Fatalf("second read = %d, want clamped to 500000", second)
	}
}

// TestMonotonicityProperty is the general form of the clamp above:
// across an arbitrary sequence of raw readings, GetTime never reports
// a value smaller than one it already returned, unless FlagNotMonotonic
// is set.
func TestMonotonicityProperty(t *testing.T) {
	ctx, _, _ := newTestContext(13)
	s := newReadyStream(ctx, DirectionPlayback)
	s.timing.Valid = true
	s.corked = true

	raw := []uint64{100_000, 300_000, 150_000, 900_000, 200_000, 905_000}
	var lastReported uint64
	for _, usec := range raw {
		s.timing.ReadIndex = int64(s.sampleSpec.UsecToBytes(usec))
		got, err := s.GetTime()
		if err != nil {
			t.Fatalf("GetTime: %v", err)
		}
		if got < lastReported {
			t.Fatalf("GetTime went backward: %d < %d", got, lastReported)
		}
		lastReported = got
	}
}

// TestCorrectionRingOrder checks that the reply to the oldest
// outstanding query applies every later correction in issue (tag)
// order: three queries (tags 1, 2, 3) reserve consecutive ring slots,
// each followed by a 100-byte relative write, and the reply for tag 1
// must reflect all three relative seeks summed.
func TestCorrectionRingOrder(t *testing.T) {
	ctx, transport, _ := newTestContext(13)
	s := newReadyStream(ctx, DirectionPlayback)

	for i, tag := range []uint32{1, 2, 3} {
		transport.setNextTag(tag)
		if err := s.requestLatencyUpdate(); err != nil {
			t.Fatalf("requestLatencyUpdate %d: %v", i, err)
		}
		if err := s.Write(make([]byte, 100), nil, 0, SeekRelative); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}

	reply := latencyReplyPayload(0, 0, true, 0, 0, 0, 0, 13, DirectionPlayback)
	transport.fireReply(1, reply, true)

	s.mu.Lock()
	wi, corrupt := s.timing.WriteIndex, s.timing.WriteIndexCorrupt
	s.mu.Unlock()

	if corrupt {
		t.Fatal("write index unexpectedly corrupt")
	}
	if wi != 300 {
		t.Fatalf("write_index = %d, want 300 (three 100-byte relative writes)", wi)
	}
}
