package soundstream

import "time"

// autoTimingInterval is how often the scheduler refreshes the latency
// snapshot while FlagAutoTimingUpdate is set.
const autoTimingInterval = 333 * time.Millisecond

// RequestAutoTimingUpdate issues a latency query if the
// AUTO_TIMING_UPDATE flag is set and the stream is ready. If force is
// false and a query is already outstanding, this is a no-op; force
// always issues one unless the ring is exhausted. Either way, the
// reschedule timer is restarted for now+333ms.
func (s *Stream) RequestAutoTimingUpdate(force bool) {
	s.mu.Lock()
	if s.state != StateReady || !s.flags.has(FlagAutoTimingUpdate) {
		s.mu.Unlock()
		return
	}
	already := s.autoTimingRequested
	s.mu.Unlock()

	if force || !already {
		if err := s.requestLatencyUpdate(); err != nil {
			debugf(autoTimingLog, "update request failed: %v", err)
		}
	}
	s.scheduleAutoTiming()
}

// scheduleAutoTiming (re)arms the single-shot auto-timing timer for
// now+333ms, creating it on first use.
func (s *Stream) scheduleAutoTiming() {
	s.mu.Lock()
	if s.eventLoop == nil || !s.flags.has(FlagAutoTimingUpdate) {
		s.mu.Unlock()
		return
	}
	at := time.Now().Add(autoTimingInterval)
	if s.autoTimingHandle == nil {
		s.mu.Unlock()
		handle := s.eventLoop.TimeNew(at, func() { s.RequestAutoTimingUpdate(false) })
		s.mu.Lock()
		s.autoTimingHandle = handle
		s.mu.Unlock()
		return
	}
	handle := s.autoTimingHandle
	s.mu.Unlock()
	s.eventLoop.TimeRestart(handle, at)
}
