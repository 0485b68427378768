package soundstream

// Cork pauses (corked=true) or resumes (corked=false) sample flow.
// The local corked flag is updated immediately, before the server
// acknowledges; the smoother is paused/resumed to match and, for
// playback, the write index is invalidated since in-flight writes
// made while (un)corking may race the server's own state change.
func (s *Stream) Cork(corked bool) (*Operation, error) {
	s.mu.Lock()
	if err := s.requireReady("cork"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.corked = corked
	channel := s.channelID
	s.mu.Unlock()

	op, tag, err := s.sendSimpleCommand("cork", channel, opCork(corked))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	x := nowUsec()
	if s.timing.Valid {
		x -= s.timing.TransportUsec
	}
	paused := s.corked || s.suspended
	sm := s.smoother
	s.mu.Unlock()
	if sm != nil {
		if paused {
			sm.Pause(x)
		} else {
			sm.Resume(x)
		}
	}

	if s.direction == DirectionPlayback {
		s.invalidateIndexes(false, true)
	}
	_ = tag
	return op, nil
}

// Flush discards any data buffered for this stream, server-side.
func (s *Stream) Flush() (*Operation, error) {
	return s.flushOrSimple("flush", opFlush)
}

// Prebuf re-enters the server's pre-buffering phase; playback only,
// and only meaningful when Prebuf buffer attr > 0.
func (s *Stream) Prebuf() (*Operation, error) {
	s.mu.Lock()
	if err := s.requireReady("prebuf"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if s.direction != DirectionPlayback || s.bufferAttr.Prebuf == 0 {
		s.mu.Unlock()
		return nil, newErr("prebuf", KindBadState, nil)
	}
	channel := s.channelID
	s.mu.Unlock()

	op, _, err := s.sendSimpleCommand("prebuf", channel, opPrebuf)
	if err != nil {
		return nil, err
	}
	s.invalidateIndexes(true, false)
	return op, nil
}

// Trigger forces playback to start immediately, bypassing prebuf.
func (s *Stream) Trigger() (*Operation, error) {
	s.mu.Lock()
	if err := s.requireReady("trigger"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if s.direction != DirectionPlayback || s.bufferAttr.Prebuf == 0 {
		s.mu.Unlock()
		return nil, newErr("trigger", KindBadState, nil)
	}
	channel := s.channelID
	s.mu.Unlock()

	op, _, err := s.sendSimpleCommand("trigger", channel, opTrigger)
	if err != nil {
		return nil, err
	}
	s.invalidateIndexes(true, false)
	return op, nil
}

// Drain waits for the server to finish playing everything already
// written. Playback only.
func (s *Stream) Drain() (*Operation, error) {
	s.mu.Lock()
	if err := s.requireReady("drain"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if s.direction != DirectionPlayback {
		s.mu.Unlock()
		return nil, newErr("drain", KindBadState, nil)
	}
	channel := s.channelID
	s.mu.Unlock()

	op, _, err := s.sendSimpleCommand("drain", channel, opDrain)
	return op, err
}

func (s *Stream) flushOrSimple(name string, code opcode) (*Operation, error) {
	s.mu.Lock()
	if err := s.requireReady(name); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	channel := s.channelID
	dir := s.direction
	s.mu.Unlock()

	op, _, err := s.sendSimpleCommand(name, channel, code)
	if err != nil {
		return nil, err
	}

	if dir != DirectionRecord {
		s.mu.Lock()
		c := &s.corrections[s.currentCorrIndex]
		if c.valid {
			c.corrupt = true
		}
		if s.timing.Valid {
			s.timing.WriteIndexCorrupt = true
		}
		prebuf := s.bufferAttr.Prebuf
		sm := s.smoother
		s.mu.Unlock()

		if prebuf > 0 {
			s.invalidateIndexes(false, true)
		} else {
			s.RequestAutoTimingUpdate(true)
		}
		if sm != nil {
			x := nowUsec()
			sm.Pause(x)
		}
	} else {
		s.invalidateIndexes(true, false)
	}
	return op, nil
}

// SetName sets the stream's display name. Version >= 13 servers route
// this through a proplist update; older ones use a direct rename
// command.
func (s *Stream) SetName(name string) (*Operation, error) {
	s.mu.Lock()
	if err := s.requireReady("set_name"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	version := s.context.ProtocolVersion
	s.mu.Unlock()

	if version >= 13 {
		return s.ProplistUpdate(PropListUpdateReplace, PropList{"media.name": name})
	}
	channel := s.channelID
	payload := newTagBuilder().AddU32(channel).AddString(name).Bytes()
	return s.sendAckCommand("set_name", payload)
}

// SetBufferAttr renegotiates buffer attributes; the reply (handled
// internally) updates the locally cached BufferAttr on success.
func (s *Stream) SetBufferAttr(attr BufferAttr) (*Operation, error) {
	s.mu.Lock()
	if err := s.requireReady("set_buffer_attr"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	channel := s.channelID
	s.mu.Unlock()

	payload := s.buildSetBufferAttr(channel, attr)
	op := newOperation(s, nil)
	tag, err := s.transport.SendCommand(payload)
	if err != nil {
		op.Cancel()
		return nil, newErr("set_buffer_attr", KindProtocol, err)
	}
	s.transport.RegisterReply(tag, 0, s.trackingReply(tag, func(_ uint32, payload []byte, ok bool) {
		if !ok {
			op.complete(false)
			return
		}
		newAttr, perr := parseBufferAttrReply(payload, s.direction)
		if perr != nil {
			op.complete(false)
			s.context.Fail(newErr("set_buffer_attr", KindProtocol, perr))
			return
		}
		s.mu.Lock()
		s.bufferAttr = newAttr
		s.mu.Unlock()
		op.complete(true)
	}))
	return op, nil
}

// UpdateSampleRate requests a new playback/record rate. Requires the
// VARIABLE_RATE flag and protocol version >= 12.
func (s *Stream) UpdateSampleRate(rate uint32) (*Operation, error) {
	s.mu.Lock()
	if err := s.requireReady("update_sample_rate"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if !s.flags.has(FlagVariableRate) {
		s.mu.Unlock()
		return nil, newErr("update_sample_rate", KindNotSupported, nil)
	}
	if s.context.ProtocolVersion < 12 {
		s.mu.Unlock()
		return nil, newErr("update_sample_rate", KindNotSupported, nil)
	}
	channel := s.channelID
	s.mu.Unlock()

	payload := s.buildUpdateRate(channel, rate)
	op := newOperation(s, nil)
	tag, err := s.transport.SendCommand(payload)
	if err != nil {
		op.Cancel()
		return nil, newErr("update_sample_rate", KindProtocol, err)
	}
	s.transport.RegisterReply(tag, 0, s.trackingReply(tag, func(_ uint32, _ []byte, ok bool) {
		if ok {
			s.mu.Lock()
			s.sampleSpec.Rate = rate
			s.mu.Unlock()
		}
		op.complete(ok)
	}))
	return op, nil
}

// ProplistUpdate adds or replaces property-list entries server-side.
// The local copy is not updated — the server is authoritative.
func (s *Stream) ProplistUpdate(mode PropListUpdateMode, props PropList) (*Operation, error) {
	s.mu.Lock()
	if err := s.requireReady("proplist_update"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if s.context.ProtocolVersion < 13 {
		s.mu.Unlock()
		return nil, newErr("proplist_update", KindNotSupported, nil)
	}
	channel := s.channelID
	s.mu.Unlock()

	payload := s.buildProplistUpdate(channel, mode, props)
	return s.sendAckCommand("proplist_update", payload)
}

// ProplistRemove removes property-list entries server-side.
func (s *Stream) ProplistRemove(keys []string) (*Operation, error) {
	s.mu.Lock()
	if err := s.requireReady("proplist_remove"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if s.context.ProtocolVersion < 13 {
		s.mu.Unlock()
		return nil, newErr("proplist_remove", KindNotSupported, nil)
	}
	channel := s.channelID
	s.mu.Unlock()

	payload := s.buildProplistRemove(channel, keys)
	return s.sendAckCommand("proplist_remove", payload)
}

// SetMonitorStream binds a record stream to monitor the sink-input of
// a specific playback stream (direct-on-input). Version >= 13 only,
// and only while still unconnected — it is a connect-time parameter
// server-side.
func (s *Stream) SetMonitorStream(sinkInputIndex uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUnconnected {
		return newErr("set_monitor_stream", KindBadState, nil)
	}
	if s.direction != DirectionRecord {
		return newErr("set_monitor_stream", KindBadState, nil)
	}
	if s.context.ProtocolVersion < 13 {
		return newErr("set_monitor_stream", KindNotSupported, nil)
	}
	s.directOnInput = sinkInputIndex
	s.hasDirectOnInput = true
	return nil
}

// sendSimpleCommand sends a channel-only command and returns an
// operation completed by its reply.
func (s *Stream) sendSimpleCommand(name string, channel uint32, code opcode) (*Operation, uint32, error) {
	payload := s.buildSimpleCommand(channel, code)
	return s.sendAckCommandWithPayload(name, payload)
}

func (s *Stream) sendAckCommand(name string, payload []byte) (*Operation, error) {
	op, _, err := s.sendAckCommandWithPayload(name, payload)
	return op, err
}

func (s *Stream) sendAckCommandWithPayload(name string, payload []byte) (*Operation, uint32, error) {
	op := newOperation(s, nil)
	tag, err := s.transport.SendCommand(payload)
	if err != nil {
		op.Cancel()
		return nil, 0, newErr(name, KindProtocol, err)
	}
	s.transport.RegisterReply(tag, 0, s.trackingReply(tag, func(_ uint32, _ []byte, ok bool) {
		op.complete(ok)
	}))
	return op, tag, nil
}
