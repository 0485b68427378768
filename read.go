package soundstream

// Peek returns the currently peeked chunk for a record stream,
// dequeuing one from the local queue if none is outstanding. At most
// one chunk may be peeked at a time; repeated calls without an
// intervening Drop return the same data. A nil/zero-length result
// means no data is currently available.
func (s *Stream) Peek() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireReady("peek"); err != nil {
		return nil, err
	}
	if s.direction != DirectionRecord {
		return nil, newErr("peek", KindBadState, nil)
	}

	if s.peeking {
		buf, err := s.pool.Acquire(s.peekChunk.Block)
		if err != nil {
			return nil, newErr("peek", KindInternal, err)
		}
		return buf[s.peekChunk.Index : s.peekChunk.Index+s.peekChunk.Length], nil
	}

	chunk, ok := s.recordQueue.Peek()
	if !ok {
		return nil, nil
	}
	s.peekChunk = chunk
	s.peeking = true

	buf, err := s.pool.Acquire(chunk.Block)
	if err != nil {
		return nil, newErr("peek", KindInternal, err)
	}
	return buf[chunk.Index : chunk.Index+chunk.Length], nil
}

// Drop releases the currently peeked chunk, advancing the local
// queue and (if the timing snapshot is valid and uncorrupted)
// correcting the read index for the bytes consumed.
func (s *Stream) Drop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireReady("drop"); err != nil {
		return err
	}
	if s.direction != DirectionRecord {
		return newErr("drop", KindBadState, nil)
	}
	if !s.peeking {
		return newErr("drop", KindNoData, nil)
	}

	n := int(s.peekChunk.Length)
	s.recordQueue.Drop(n)

	if s.timing.Valid && !s.timing.ReadIndexCorrupt {
		s.timing.ReadIndex += int64(n)
	}

	s.pool.Release(s.peekChunk.Block)
	s.pool.Unref(s.peekChunk.Block)
	s.peekChunk = MemChunk{}
	s.peeking = false
	return nil
}

// ReadableSize returns the number of bytes currently queued locally
// for a record stream.
func (s *Stream) ReadableSize() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireReady("readable_size"); err != nil {
		return 0, err
	}
	if s.direction != DirectionRecord {
		return 0, newErr("readable_size", KindBadState, nil)
	}
	return s.recordQueue.Length(), nil
}

// handleIncomingData is called by the transport when a data payload
// addressed to this (record) stream's channel arrives.
func (s *Stream) handleIncomingData(data []byte) {
	s.mu.Lock()
	s.recordQueue.Push(data)
	cb := s.readCb
	s.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}
