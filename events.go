package soundstream

// MovedInfo carries the fields a MOVED event updates.
type MovedInfo struct {
	DeviceName     string
	DeviceIndex    uint32
	Suspended      bool
	BufferAttr     BufferAttr
	ConfiguredUsec uint64
	HaveConfigured bool
}

// HandleKilled processes a server *_KILLED event: the stream is torn
// down immediately.
func (s *Stream) HandleKilled() {
	s.mu.Lock()
	s.setState(StateFailed)
	s.mu.Unlock()
}

// HandleMoved processes a server *_MOVED event.
func (s *Stream) HandleMoved(info MovedInfo) {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return
	}
	s.deviceName = info.DeviceName
	s.deviceIndex = info.DeviceIndex
	s.suspended = info.Suspended
	if s.context.ProtocolVersion >= 13 {
		s.bufferAttr = info.BufferAttr
	}
	cb := s.movedCb
	s.mu.Unlock()

	s.RequestAutoTimingUpdate(true)
	if cb != nil {
		cb(s)
	}
}

// HandleSuspended processes a server *_SUSPENDED event.
func (s *Stream) HandleSuspended(suspended bool) {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return
	}
	s.suspended = suspended
	paused := suspended || s.corked
	x := nowUsec()
	if s.timing.Valid {
		x -= s.timing.TransportUsec
	}
	sm := s.smoother
	cb := s.suspCb
	s.mu.Unlock()

	if sm != nil {
		if paused {
			sm.Pause(x)
		} else {
			sm.Resume(x)
		}
	}
	s.RequestAutoTimingUpdate(true)
	if cb != nil {
		cb(s)
	}
}

// HandleStarted processes a server STARTED event (playback,
// version >= 13).
func (s *Stream) HandleStarted() {
	s.mu.Lock()
	if s.state != StateReady || s.direction == DirectionRecord {
		s.mu.Unlock()
		return
	}
	cb := s.startedCb
	s.mu.Unlock()

	s.RequestAutoTimingUpdate(true)
	if cb != nil {
		cb(s)
	}
}

// HandleRequest processes a server REQUEST event (credit grant).
func (s *Stream) HandleRequest(nbytes int) { s.handleRequest(nbytes) }

// HandleOverflow processes a server OVERFLOW event.
func (s *Stream) HandleOverflow() { s.handleOverUnder(true) }

// HandleUnderflow processes a server UNDERFLOW event.
func (s *Stream) HandleUnderflow() { s.handleOverUnder(false) }

func (s *Stream) handleOverUnder(overflow bool) {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return
	}
	prebuf := s.bufferAttr.Prebuf
	sm := s.smoother
	var cb EventCallback
	if overflow {
		cb = s.overCb
	} else {
		cb = s.underCb
	}
	s.mu.Unlock()

	if s.direction != DirectionRecord && prebuf > 0 && sm != nil {
		sm.Pause(nowUsec())
	}
	s.RequestAutoTimingUpdate(true)
	if cb != nil {
		cb(s)
	}
}
