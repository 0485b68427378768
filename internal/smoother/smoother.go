// Package smoother implements a monotonic mapping from real
// (monotonic microsecond) time to an estimated sample-time value, fed
// by noisy periodic samples and able to be paused/resumed without
// producing a discontinuity.
//
// It keeps a short ring of recent (x, y) observations and, while
// running, linearly extrapolates from the last two observations at
// the rate they imply; while paused it reports a frozen value. This
// mirrors the role pa_smoother plays in the client: absorbing jitter
// in when latency replies arrive while still producing a time value
// that moves forward at a believable, steady rate between them.
package smoother

const (
	ringSize = 8 // must be power of 2
	ringMask = ringSize - 1
)

type point struct {
	x, y uint64
	set  bool
}

// Smoother is not safe for concurrent use; callers serialize access
// (the stream engine drives it from its single event-loop goroutine).
type Smoother struct {
	adjustTime  uint64
	historyTime uint64
	minHistory  int

	ring    [ringSize]point
	head    int
	count   int
	history int

	paused    bool
	pausedAt  uint64
	timeOffset uint64
}

// New creates a Smoother. adjustTime and historyTime are in
// microseconds; minHistory is the minimum number of observations
// required before extrapolation is trusted (before that, Get returns
// the latest observation's y value directly).
func New(adjustTime, historyTime uint64, minHistory int) *Smoother {
	return &Smoother{
		adjustTime:  adjustTime,
		historyTime: historyTime,
		minHistory:  minHistory,
	}
}

// SetTimeOffset shifts all future x values fed via Put and all Get
// queries by t microseconds.
func (s *Smoother) SetTimeOffset(t uint64) { s.timeOffset = t }

// Put records an observation: at monotonic time u, the true value was
// y.
func (s *Smoother) Put(u, y uint64) {
	u += s.timeOffset
	idx := s.head & ringMask
	s.ring[idx] = point{x: u, y: y, set: true}
	s.head++
	if s.count < ringSize {
		s.count++
	}
	s.history++
	s.trim(u)
}

// trim drops observations older than historyTime behind the newest.
func (s *Smoother) trim(now uint64) {
	if s.historyTime == 0 {
		return
	}
	for i := 0; i < s.count; i++ {
		idx := (s.head - 1 - i) & ringMask
		p := &s.ring[idx]
		if p.set && now > p.x && now-p.x > s.historyTime {
			p.set = false
		}
	}
}

// last returns the most recently Put observation, if any.
func (s *Smoother) last() (point, bool) {
	if s.count == 0 {
		return point{}, false
	}
	idx := (s.head - 1) & ringMask
	p := s.ring[idx]
	return p, p.set
}

// prev returns the second-most-recent valid observation, if any.
func (s *Smoother) prev() (point, bool) {
	for i := 1; i < s.count; i++ {
		idx := (s.head - 1 - i) & ringMask
		p := s.ring[idx]
		if p.set {
			return p, true
		}
	}
	return point{}, false
}

// Get returns the smoothed value at monotonic time t.
func (s *Smoother) Get(t uint64) uint64 {
	if s.paused {
		return s.pausedAt
	}
	t += s.timeOffset

	last, ok := last2(s)
	if !ok {
		l, ok2 := s.last()
		if !ok2 {
			return t
		}
		return l.y
	}

	if s.history < s.minHistory {
		return last.y
	}

	prev, _ := s.prev()
	if t <= prev.x || last.x <= prev.x {
		return last.y
	}
	rate := float64(last.y-prev.y) / float64(last.x-prev.x)
	elapsed := float64(t) - float64(last.x)
	return uint64(float64(last.y) + rate*elapsed)
}

func last2(s *Smoother) (point, bool) {
	l, ok := s.last()
	if !ok {
		return point{}, false
	}
	_, ok2 := s.prev()
	if !ok2 {
		return point{}, false
	}
	return l, true
}

// Pause freezes the smoother's output at its current value as of
// monotonic time t.
func (s *Smoother) Pause(t uint64) {
	if s.paused {
		return
	}
	s.pausedAt = s.Get(t)
	s.paused = true
}

// Resume unfreezes the smoother, continuing extrapolation from
// monotonic time t.
func (s *Smoother) Resume(t uint64) {
	if !s.paused {
		return
	}
	s.paused = false
	s.Put(t, s.pausedAt)
}
