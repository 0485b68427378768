package soundstream

// ConnectOption configures a Stream at connect time.
type ConnectOption func(*Stream)

// WithSyncStream makes the new playback stream start atomically
// together with other, a sibling playback stream that must already be
// connected. (SUPPLEMENTED FEATURE, see SPEC_FULL.md.)
func WithSyncStream(other *Stream) ConnectOption {
	return func(s *Stream) { s.syncStream = other }
}

// WithDevice requests a specific device by name instead of letting
// the server choose.
func WithDevice(name string) ConnectOption {
	return func(s *Stream) { s.deviceName = name }
}

// NewStream allocates an unconnected Stream bound to ctx. Call
// ConnectPlayback or ConnectRecord to start the create handshake.
func NewStream(ctx *Context, dir Direction, spec SampleSpec, cm ChannelMap, flags Flags, props PropList) (*Stream, error) {
	if failed, ferr := ctx.Failed(); failed {
		return nil, newErr("new_stream", KindProtocol, ferr)
	}
	if err := validateSampleSpec(spec, ctx.ProtocolVersion); err != nil {
		return nil, err
	}
	if len(cm) != 0 && len(cm) != int(spec.Channels) {
		return nil, newErr("new_stream", KindInvalidArgument, nil)
	}
	if dir == DirectionRecord && flags.has(FlagStartMuted) {
		return nil, newErr("new_stream", KindInvalidArgument, nil)
	}
	if dir != DirectionRecord && flags.has(FlagPeakDetect) {
		return nil, newErr("new_stream", KindInvalidArgument, nil)
	}
	if flags.has(FlagVariableRate) && ctx.ProtocolVersion < 12 {
		return nil, newErr("new_stream", KindNotSupported, nil)
	}
	if flags.has(FlagPeakDetect) && ctx.ProtocolVersion < 13 {
		return nil, newErr("new_stream", KindNotSupported, nil)
	}

	s := &Stream{
		context:    ctx,
		transport:  ctx.Transport,
		pool:       ctx.Pool,
		eventLoop:  ctx.EventLoop,
		direction:  dir,
		sampleSpec: spec,
		channelMap: cm,
		flags:      flags,
		propList:   props.Clone(),
		state:      StateUnconnected,
		corked:     flags.has(FlagStartCorked),
	}
	return s, nil
}

// validateSampleSpec rejects formats the negotiated protocol version
// cannot carry. S32 formats require version >= 12 — the corrected
// reading of the Open Question in DESIGN.md (the original guard used
// || where && was intended, which let S32 through unconditionally).
func validateSampleSpec(spec SampleSpec, version uint32) error {
	if spec.Channels == 0 || spec.Rate == 0 {
		return newErr("new_stream", KindInvalidArgument, nil)
	}
	if spec.Format.isS32() && version < 12 {
		return newErr("new_stream", KindNotSupported, nil)
	}
	return nil
}

// automaticBufferAttr fills in zero-valued buffer-attr fields with
// legacy (protocol < 13) conservative defaults. The corrected guard
// is "apply the default iff the field is exactly zero" — see
// DESIGN.md's Open Question decisions.
func automaticBufferAttr(attr BufferAttr, dir Direction, spec SampleSpec) BufferAttr {
	const defaultTlengthMsec = 250

	if attr.MaxLength == 0 {
		attr.MaxLength = 4 * 1024 * 1024
	}
	if dir != DirectionRecord {
		if attr.TLength == 0 {
			attr.TLength = uint32(spec.UsecToBytes(defaultTlengthMsec * 1000))
		}
		if attr.MinReq == 0 {
			attr.MinReq = attr.TLength / 5
		}
		if attr.Prebuf == 0 {
			attr.Prebuf = attr.TLength
		}
	} else {
		if attr.FragSize == 0 {
			attr.FragSize = uint32(spec.UsecToBytes(defaultTlengthMsec * 1000))
		}
	}
	return attr
}

// ConnectPlayback begins the connect handshake for a playback stream.
func (s *Stream) ConnectPlayback(attr BufferAttr, opts ...ConnectOption) error {
	return s.connect(DirectionPlayback, attr, opts)
}

// ConnectRecord begins the connect handshake for a record stream.
func (s *Stream) ConnectRecord(attr BufferAttr, opts ...ConnectOption) error {
	return s.connect(DirectionRecord, attr, opts)
}

func (s *Stream) connect(dir Direction, attr BufferAttr, opts []ConnectOption) error {
	if failed, ferr := s.context.Failed(); failed {
		return newErr("connect", KindProtocol, ferr)
	}
	s.mu.Lock()
	if s.state != StateUnconnected {
		s.mu.Unlock()
		return newErr("connect", KindBadState, nil)
	}
	if s.direction != dir {
		s.mu.Unlock()
		return newErr("connect", KindInvalidArgument, nil)
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.syncStream != nil {
		s.syncID = s.syncStream.syncID
	}
	s.bufferAttr = automaticBufferAttr(attr, dir, s.sampleSpec)
	if dir == DirectionRecord && s.recordQueue == nil {
		s.recordQueue = s.defaultRecordQueue()
	}
	if s.flags.has(FlagInterpolateTiming) {
		sm := newDefaultSmoother()
		sm.Pause(nowUsec())
		s.smoother = sm
	}
	s.state = StateCreating
	tag := s.context.nextTag()
	payload := s.buildCreateStream(tag)
	s.mu.Unlock()

	sentTag, err := s.transport.SendCommand(payload)
	if err != nil {
		s.mu.Lock()
		s.setState(StateFailed)
		s.mu.Unlock()
		return newErr("connect", KindProtocol, err)
	}

	s.transport.RegisterReply(sentTag, 0, s.trackingReply(sentTag, func(_ uint32, payload []byte, ok bool) {
		s.handleCreateStreamReply(payload, ok)
	}))
	return nil
}

func (s *Stream) handleCreateStreamReply(payload []byte, ok bool) {
	s.mu.Lock()
	if s.state != StateCreating {
		s.mu.Unlock()
		return
	}
	if !ok {
		s.setState(StateFailed)
		s.mu.Unlock()
		return
	}

	reply, err := parseCreateStreamReply(payload, s.direction, s.context.ProtocolVersion)
	if err != nil {
		debugf(wireLog, "malformed create-stream reply: %v", err)
		s.setState(StateFailed)
		s.mu.Unlock()
		s.context.Fail(newErr("connect", KindProtocol, err))
		return
	}

	s.channelID = reply.channelID
	s.streamIndex = reply.streamIndex
	s.channelValid = true
	if s.direction != DirectionRecord {
		s.requestedBytes = reply.requestedBytes
	}
	if reply.maxLength != 0 {
		s.bufferAttr.MaxLength = reply.maxLength
	}
	switch s.direction {
	case DirectionRecord:
		if reply.fragsize != 0 {
			s.bufferAttr.FragSize = reply.fragsize
		}
	default:
		if reply.tlength != 0 {
			s.bufferAttr.TLength = reply.tlength
		}
		if reply.prebuf != 0 {
			s.bufferAttr.Prebuf = reply.prebuf
		}
		if reply.minreq != 0 {
			s.bufferAttr.MinReq = reply.minreq
		}
	}
	if len(reply.channelMap) != 0 {
		s.sampleSpec = reply.sampleSpec
		s.channelMap = reply.channelMap
		s.deviceIndex = reply.deviceIndex
		s.deviceName = reply.deviceName
		s.suspended = reply.suspended
	}

	s.context.registerStream(s)
	s.context.addStream(s)

	s.setState(StateReady)

	autoTiming := s.flags.has(FlagAutoTimingUpdate)
	credit := s.requestedBytes
	cb := s.writeCb
	s.mu.Unlock()

	if autoTiming {
		s.RequestAutoTimingUpdate(true)
	}
	if s.direction != DirectionRecord && credit > 0 && cb != nil {
		cb(s, credit)
	}
}

// Disconnect tears the stream down cleanly: sends DISCONNECT and
// transitions to terminated on success, failed on error.
func (s *Stream) Disconnect() error {
	s.mu.Lock()
	if err := s.requireReady("disconnect"); err != nil {
		s.mu.Unlock()
		return err
	}
	channel := s.channelID
	s.mu.Unlock()

	payload := s.buildSimpleCommand(channel, 0)
	tag, err := s.transport.SendCommand(payload)
	if err != nil {
		s.mu.Lock()
		s.setState(StateFailed)
		s.mu.Unlock()
		return newErr("disconnect", KindProtocol, err)
	}
	s.transport.RegisterReply(tag, 0, s.trackingReply(tag, func(_ uint32, _ []byte, ok bool) {
		s.mu.Lock()
		if ok {
			s.setState(StateTerminated)
		} else {
			s.setState(StateFailed)
		}
		s.mu.Unlock()
	}))
	return nil
}
