package soundstream

import "testing"

// TestAutoTimingSchedulesOnce checks that the auto-timing scheduler
// creates its timer once and thereafter reuses it via TimeRestart
// rather than leaking a new timer on every refresh.
func TestAutoTimingSchedulesOnce(t *testing.T) {
	transport := newFakeTransport()
	pool := newFakeMemPool(1 << 20)
	loop := &fakeEventLoop{}
	ctx := NewContext(transport, pool, loop, 13)

	s := newReadyStream(ctx, DirectionPlayback)
	s.flags = FlagAutoTimingUpdate
	s.eventLoop = loop

	s.RequestAutoTimingUpdate(true)
	transport.fireReply(0, latencyReplyPayload(0, 0, true, 0, 0, 0, 0, 13, DirectionPlayback), true)

	loop.mu.Lock()
	firstCount := loop.newCalls
	loop.mu.Unlock()
	if firstCount != 1 {
		t.Fatalf("TimeNew calls after first schedule = %d, want 1", firstCount)
	}

	transport.setNextTag(1)
	s.RequestAutoTimingUpdate(true)
	transport.fireReply(1, latencyReplyPayload(0, 0, true, 0, 0, 0, 0, 13, DirectionPlayback), true)

	loop.mu.Lock()
	secondCount := loop.newCalls
	loop.mu.Unlock()
	if secondCount != 1 {
		t.Fatalf("TimeNew calls after second schedule = %d, want 1 (should reuse via TimeRestart)", secondCount)
	}
}
