package soundstream

// newTestContext builds a Context wired to fresh fakes, with no event
// loop: tests keep FlagAutoTimingUpdate unset, so the auto-timing
// scheduler never touches it.
func newTestContext(protocolVersion uint32) (*Context, *fakeTransport, *fakeMemPool) {
	transport := newFakeTransport()
	pool := newFakeMemPool(1 << 20)
	ctx := NewContext(transport, pool, nil, protocolVersion)
	return ctx, transport, pool
}

// newReadyStream builds a Stream already in StateReady with channel id
// 7, bypassing the connect handshake — used by tests that exercise
// write/timing/control logic directly rather than the handshake
// itself.
func newReadyStream(ctx *Context, dir Direction) *Stream {
	spec := SampleSpec{Format: SampleS16LE, Rate: 48000, Channels: 2}
	s := &Stream{
		context:      ctx,
		transport:    ctx.Transport,
		pool:         ctx.Pool,
		eventLoop:    ctx.EventLoop,
		direction:    dir,
		sampleSpec:   spec,
		channelMap:   ChannelMap{ChannelFrontLeft, ChannelFrontRight},
		bufferAttr:   BufferAttr{MaxLength: 4 * 1024 * 1024, TLength: 65536, MinReq: 13107, Prebuf: 65536, FragSize: 65536},
		propList:     PropList{},
		state:        StateReady,
		channelID:    7,
		channelValid: true,
	}
	if dir == DirectionRecord {
		s.recordQueue = newDefaultRecordQueueWithPool(ctx.Pool)
	}
	ctx.registerStream(s)
	ctx.addStream(s)
	return s
}
