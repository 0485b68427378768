package soundstream

import "testing"

// TestConnectPlaybackCreditAndCallback covers the basic connect
// handshake: a CREATE_PLAYBACK_STREAM reply granting channel=7,
// requested_bytes=4096 should bring the stream to ready and fire the
// write callback with the granted credit.
func TestConnectPlaybackCreditAndCallback(t *testing.T) {
	ctx, transport, pool := newTestContext(8)
	_ = pool

	spec := SampleSpec{Format: SampleS16LE, Rate: 44100, Channels: 2}
	cm := ChannelMap{ChannelFrontLeft, ChannelFrontRight}
	s, err := NewStream(ctx, DirectionPlayback, spec, cm, 0, PropList{"application.name": "test"})
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}

	var gotLen int
	var callbackFired bool
	s.SetWriteCallback(func(_ *Stream, n int) {
		callbackFired = true
		gotLen = n
	})

	if err := s.ConnectPlayback(BufferAttr{}); err != nil {
		t.Fatalf("ConnectPlayback: %v", err)
	}
	if len(transport.commands) != 1 {
		t.Fatalf("expected 1 command sent, got %d", len(transport.commands))
	}

	reply := newTagBuilder().AddU32(7).AddU32(0).AddU32(4096).Bytes()
	transport.fireReply(0, reply, true)

	if s.State() != StateReady {
		t.Fatalf("state = %s, want ready", s.State())
	}
	if !callbackFired {
		t.Fatal("write callback was not invoked")
	}
	if gotLen != 4096 {
		t.Fatalf("write callback len = %d, want 4096", gotLen)
	}
}

// TestConnectPlaybackFailedReplyFailsStream ensures a rejected
// CREATE_PLAYBACK_STREAM reply transitions the stream to failed rather
// than leaving it stuck creating.
func TestConnectPlaybackFailedReplyFailsStream(t *testing.T) {
	ctx, transport, _ := newTestContext(8)
	spec := SampleSpec{Format: SampleS16LE, Rate: 44100, Channels: 1}
	s, err := NewStream(ctx, DirectionPlayback, spec, nil, 0, nil)
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	if err := s.ConnectPlayback(BufferAttr{}); err != nil {
		t.Fatalf("ConnectPlayback: %v", err)
	}
	transport.fireReply(0, nil, false)
	if s.State() != StateFailed {
		t.Fatalf("state = %s, want failed", s.State())
	}
}

// TestUnlinkCascade is the KILLED-event scenario: two pending
// operations and a pending reply registration must all be torn down
// without firing their callbacks, and the channel-table slot must be
// cleared.
func TestUnlinkCascade(t *testing.T) {
	ctx, transport, _ := newTestContext(13)
	s := newReadyStream(ctx, DirectionPlayback)

	var aCalled, bCalled bool
	opA := newOperation(s, func(bool) { aCalled = true })
	opB := newOperation(s, func(bool) { bCalled = true })

	replyFired := false
	transport.RegisterReply(42, 0, func(uint32, []byte, bool) { replyFired = true })

	s.HandleKilled()

	if s.State() != StateFailed {
		t.Fatalf("state = %s, want failed", s.State())
	}
	if opA.State() != OperationCancelled {
		t.Errorf("operation A state = %v, want cancelled", opA.State())
	}
	if opB.State() != OperationCancelled {
		t.Errorf("operation B state = %v, want cancelled", opB.State())
	}
	if aCalled || bCalled {
		t.Error("cancelled operation callbacks must not fire")
	}

	transport.fireReply(42, []byte{}, true)
	if replyFired {
		t.Error("reply registered before unlink must be dropped, not fired")
	}

	if len(transport.unregistered) != 1 || transport.unregistered[0] != s.channelID {
		t.Errorf("UnregisterRepliesFor not called for channel %d: %v", s.channelID, transport.unregistered)
	}
	if _, ok := ctx.StreamByChannel(DirectionPlayback, 7); ok {
		t.Error("channel table slot should be cleared after unlink")
	}
}

// TestUnlinkCompletenessAnyState checks the unlink-completeness
// property across every terminal transition: however a stream enters
// a terminal state, every pending operation is cancelled and the
// channel slot is cleared.
func TestUnlinkCompletenessAnyState(t *testing.T) {
	transitions := []func(s *Stream){
		func(s *Stream) { s.HandleKilled() },
		func(s *Stream) { s.mu.Lock(); s.setState(StateTerminated); s.mu.Unlock() },
	}

	for i, transition := range transitions {
		ctx, _, _ := newTestContext(13)
		s := newReadyStream(ctx, DirectionRecord)
		var called bool
		op := newOperation(s, func(bool) { called = true })

		transition(s)

		if op.State() != OperationCancelled {
			t.Errorf("case %d: operation state = %v, want cancelled", i, op.State())
		}
		if called {
			t.Errorf("case %d: cancelled operation callback fired", i)
		}
		if _, ok := ctx.StreamByChannel(DirectionRecord, 7); ok {
			t.Errorf("case %d: channel slot not cleared", i)
		}
	}
}
