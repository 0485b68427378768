package soundstream

import "time"

func usecToTime(usec uint64) time.Time {
	return time.UnixMicro(int64(usec))
}

// latencyReply is the parsed payload of a GET_*_LATENCY reply, in the
// field order the wire protocol defines (§6).
type latencyReply struct {
	sinkUsec    uint64
	sourceUsec  uint64
	playing     bool
	local       uint64 // client_timeval echoed back by the server
	remote      uint64 // server's own clock at reply time
	writeIndex  int64
	readIndex   int64
	underrunFor uint64 // version >= 13, playback only
	playingFor  uint64 // version >= 13, playback only
	haveSince   bool
}

// requestLatencyUpdate reserves the next correction-ring slot and
// sends a GET_*_LATENCY query, associating the reply with that slot.
// It fails with KindInternal if the ring has no free slot, meaning
// queries are outstanding faster than replies are arriving.
func (s *Stream) requestLatencyUpdate() error {
	s.mu.Lock()
	if err := s.requireReady("update_timing_info"); err != nil {
		s.mu.Unlock()
		return err
	}
	cidx := (s.currentCorrIndex + 1) % correctionRingSize
	if s.corrections[cidx].valid {
		s.mu.Unlock()
		return newErr("update_timing_info", KindInternal, nil)
	}
	clientTime := nowUsec()
	s.mu.Unlock()

	payload := s.buildLatencyQuery(clientTime)
	tag, err := s.transport.SendCommand(payload)
	if err != nil {
		return newErr("update_timing_info", KindProtocol, err)
	}

	s.mu.Lock()
	s.currentCorrIndex = cidx
	s.corrections[cidx] = correction{tag: tag, valid: true}
	s.autoTimingRequested = true
	s.mu.Unlock()

	s.transport.RegisterReply(tag, 0, s.trackingReply(tag, func(_ uint32, payload []byte, ok bool) {
		if !ok {
			return
		}
		reply, err := parseLatencyReply(payload, s.direction, s.context.ProtocolVersion)
		if err != nil {
			s.context.Fail(newErr("update_timing_info", KindProtocol, err))
			return
		}
		s.handleLatencyReply(tag, clientTime, reply)
	}))
	return nil
}

// handleLatencyReply applies one GET_*_LATENCY reply: the clock-sync
// heuristic, the write/read-index correction ring walk, and the
// smoother feed.
func (s *Stream) handleLatencyReply(tag uint32, clientTime uint64, r latencyReply) {
	s.mu.Lock()

	s.autoTimingRequested = false
	if s.state != StateReady {
		s.mu.Unlock()
		return
	}

	t := &s.timing
	t.Valid = false
	t.WriteIndexCorrupt = false
	t.ReadIndexCorrupt = false

	now := nowUsec()

	// Clock-sync heuristic (§4.1).
	if clientTime <= r.remote && r.remote <= now {
		if s.direction == DirectionRecord {
			t.TransportUsec = now - r.remote
		} else {
			t.TransportUsec = r.remote - clientTime
		}
		t.Timestamp = usecToTime(r.remote)
		t.SynchronizedClocks = true
	} else {
		t.TransportUsec = (now - clientTime) / 2
		t.Timestamp = usecToTime(clientTime + t.TransportUsec)
		t.SynchronizedClocks = false
	}

	t.SinkUsec = r.sinkUsec
	t.SourceUsec = r.sourceUsec
	t.Playing = r.playing
	t.WriteIndex = r.writeIndex
	t.ReadIndex = r.readIndex
	if r.haveSince {
		if r.playing {
			t.SinceUnderrun = r.playingFor
		} else {
			t.SinceUnderrun = r.underrunFor
		}
	}

	t.WriteIndexCorrupt = wrapsBefore(tag, s.writeIndexNotBefore)
	t.ReadIndexCorrupt = wrapsBefore(tag, s.readIndexNotBefore)

	if s.direction != DirectionRecord {
		s.applyWriteCorrections(tag)
	} else if !t.ReadIndexCorrupt {
		t.ReadIndex -= int64(s.recordQueueLen())
	}

	// Invalidate every slot whose tag <= the reply's tag.
	for i := range s.corrections {
		if s.corrections[i].valid && s.corrections[i].tag <= tag {
			s.corrections[i].valid = false
		}
	}

	t.Valid = true
	debugf(timingLog, "channel=%d write_index=%d read_index=%d corrupt(w=%v,r=%v)",
		s.channelID, t.WriteIndex, t.ReadIndex, t.WriteIndexCorrupt, t.ReadIndexCorrupt)

	if s.smoother != nil {
		s.feedSmootherLocked(now)
	}

	s.mu.Unlock()
	s.scheduleAutoTiming()
}

// applyWriteCorrections walks the correction ring in issue order
// starting after the slot that was current when the query for tag was
// sent, skipping entries older than a running ctag (initially tag).
// Caller holds s.mu.
func (s *Stream) applyWriteCorrections(tag uint32) {
	t := &s.timing
	ctag := tag
	for i := 1; i <= correctionRingSize; i++ {
		idx := (s.currentCorrIndex + i) % correctionRingSize
		c := &s.corrections[idx]
		if !c.valid || c.tag < ctag {
			continue
		}
		switch {
		case c.corrupt:
			t.WriteIndex = 0
			t.WriteIndexCorrupt = true
		case c.absolute:
			t.WriteIndex = c.value
			t.WriteIndexCorrupt = false
		case !t.WriteIndexCorrupt:
			t.WriteIndex += c.value
		}
		ctag = c.tag + 1
	}
}

// feedSmootherLocked pauses/resumes and feeds the smoother per the
// monotonic-smoother rules in §4.1. Caller holds s.mu.
func (s *Stream) feedSmootherLocked(now uint64) {
	t := &s.timing
	x := now - t.TransportUsec

	if s.direction != DirectionRecord && s.context.ProtocolVersion >= 13 {
		sinceUnderrunUsec := s.sampleSpec.BytesToUsec(t.SinceUnderrun)
		if sinceUnderrunUsec < t.SinkUsec {
			x += t.SinkUsec - sinceUnderrunUsec
		}
	}

	if !t.Playing {
		s.smoother.Pause(x)
	}

	corrupt := t.WriteIndexCorrupt
	if s.direction == DirectionRecord {
		corrupt = t.ReadIndexCorrupt
	}
	if !corrupt {
		s.smoother.Put(now, s.calcTimeLocked(true))
	}

	if t.Playing {
		s.smoother.Resume(x)
	}
}

// calcTimeLocked computes the current play/capture time estimate from
// the raw snapshot, per §4.1's calc_time. Caller holds s.mu.
func (s *Stream) calcTimeLocked(ignoreTransport bool) uint64 {
	t := &s.timing
	var usec uint64

	if s.direction != DirectionRecord {
		idx := t.ReadIndex
		if idx < 0 {
			idx = 0
		}
		usec = s.sampleSpec.BytesToUsec(uint64(idx))
		if !s.corked && !s.suspended {
			if !ignoreTransport {
				usec += t.TransportUsec
			}
			usec = satSub(usec, t.SinkUsec)
		}
	} else {
		idx := t.WriteIndex
		if idx < 0 {
			idx = 0
		}
		usec = s.sampleSpec.BytesToUsec(uint64(idx))
		if !s.corked && !s.suspended {
			if !ignoreTransport {
				usec += t.TransportUsec
			}
			usec += t.SourceUsec
			usec = satSub(usec, t.SinkUsec)
		}
	}
	return usec
}

// GetTime returns the current estimate of stream position, using the
// smoother if one is configured, else calc_time directly. Unless
// FlagNotMonotonic is set, the result is clamped to never go backward
// across calls.
func (s *Stream) GetTime() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireReady("get_time"); err != nil {
		return 0, err
	}
	if !s.timing.Valid {
		return 0, newErr("get_time", KindNoData, nil)
	}
	return s.getTimeLocked()
}

// GetLatency returns the estimated latency between the current
// playback/capture position and the time just queried, plus whether
// the result is reported as a negative magnitude (record streams can
// run ahead of the server-reported index).
func (s *Stream) GetLatency() (usec uint64, negative bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireReady("get_latency"); err != nil {
		return 0, false, err
	}
	if !s.timing.Valid {
		return 0, false, newErr("get_latency", KindNoData, nil)
	}

	current, cerr := s.getTimeLocked()
	if cerr != nil {
		return 0, false, cerr
	}

	var idx int64
	if s.direction != DirectionRecord {
		idx = s.timing.WriteIndex
	} else {
		idx = s.timing.ReadIndex
	}
	if idx < 0 {
		idx = 0
	}
	byteTime := s.sampleSpec.BytesToUsec(uint64(idx))

	if s.direction != DirectionRecord {
		return timeCounterDiff(byteTime, current, false)
	}
	return timeCounterDiff(current, byteTime, true)
}

// getTimeLocked is GetTime's body without re-acquiring the mutex, for
// use from GetLatency which already holds it.
func (s *Stream) getTimeLocked() (uint64, error) {
	var usec uint64
	if s.smoother != nil {
		usec = s.smoother.Get(nowUsec())
	} else {
		usec = s.calcTimeLocked(false)
	}
	if !s.flags.has(FlagNotMonotonic) {
		if usec < s.previousTime {
			usec = s.previousTime
		}
		s.previousTime = usec
	}
	return usec, nil
}

// timeCounterDiff computes a >= b ? a-b : (report 0, or for record
// streams running ahead, the magnitude with negative=true). Per
// spec §4.1's "Latency query".
func timeCounterDiff(a, b uint64, record bool) (diff uint64, negative bool, err error) {
	if a >= b {
		return a - b, false, nil
	}
	if record {
		return b - a, true, nil
	}
	return 0, false, nil
}

// satSub subtracts b from a, floored at zero.
func satSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// wrapsBefore reports whether tag is older than barrier, accounting
// for uint32 wraparound the way sequence-number comparisons must.
func wrapsBefore(tag, barrier uint32) bool {
	return int32(tag-barrier) < 0
}

// invalidateIndexes marks the read and/or write index as no-longer-
// trustworthy as of the next command tag: any latency reply whose tag
// predates this moment will be treated as corrupt. It then forces an
// auto-timing refresh. Caller must NOT hold s.mu.
func (s *Stream) invalidateIndexes(invalidateRead, invalidateWrite bool) {
	s.mu.Lock()
	barrier := s.context.nextTag()
	if invalidateRead {
		s.readIndexNotBefore = barrier
		if s.timing.Valid {
			s.timing.ReadIndexCorrupt = true
		}
	}
	if invalidateWrite {
		s.writeIndexNotBefore = barrier
		if s.timing.Valid {
			s.timing.WriteIndexCorrupt = true
		}
	}
	s.mu.Unlock()
	s.RequestAutoTimingUpdate(true)
}

func (s *Stream) recordQueueLen() int {
	if s.recordQueue == nil {
		return 0
	}
	return s.recordQueue.Length()
}
