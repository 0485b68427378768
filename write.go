package soundstream

// Write sends data to a playback or upload stream, chunked against
// the memory pool's max block size, and reduces the requestedBytes
// credit by len(data), floored at zero (WritableSize reports what
// remains). freeCb, if non-nil, is invoked once
// the whole write completes if (and only if) the transport used
// shared memory to send it — otherwise the data was already copied
// and freeCb is never called (the caller's buffer was never
// referenced).
func (s *Stream) Write(data []byte, freeCb func(), offset int64, seek SeekMode) error {
	s.mu.Lock()
	if err := s.requireReady("write"); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.direction != DirectionPlayback && s.direction != DirectionUpload {
		s.mu.Unlock()
		return newErr("write", KindBadState, nil)
	}
	if seek < SeekRelative || seek > SeekRelativeEnd {
		s.mu.Unlock()
		return newErr("write", KindInvalidArgument, nil)
	}
	if s.direction == DirectionUpload && (seek != SeekRelative || offset != 0) {
		s.mu.Unlock()
		return newErr("write", KindInvalidArgument, nil)
	}
	maxBlock := s.pool.MaxBlockSize()
	shm := s.transport.ShmEnabled()
	channel := s.channelID
	s.mu.Unlock()

	if len(data) == 0 {
		return nil
	}

	usedShm := false
	remaining := data
	first := true
	curOffset := offset
	curSeek := seek

	for len(remaining) > 0 {
		n := len(remaining)
		if n > maxBlock {
			n = maxBlock
		}
		piece := remaining[:n]
		remaining = remaining[n:]

		var chunk MemChunk
		if freeCb != nil && shm {
			b, err := s.pool.NewUserBlock(piece, freeCb)
			if err != nil {
				return newErr("write", KindInternal, err)
			}
			chunk = MemChunk{Block: b, Length: uint32(n)}
			usedShm = true
		} else {
			b, err := s.pool.NewBlock(n)
			if err != nil {
				return newErr("write", KindInternal, err)
			}
			buf, err := s.pool.Acquire(b)
			if err != nil {
				return newErr("write", KindInternal, err)
			}
			copy(buf, piece)
			s.pool.Release(b)
			chunk = MemChunk{Block: b, Length: uint32(n)}
		}

		if err := s.transport.SendPayload(channel, curOffset, curSeek, chunk); err != nil {
			return newErr("write", KindProtocol, err)
		}
		s.pool.Unref(chunk.Block)

		if first {
			first = false
			curSeek = SeekRelative
			curOffset = 0
		}
	}

	if freeCb != nil && usedShm {
		freeCb()
	}

	s.mu.Lock()
	s.requestedBytes -= len(data)
	if s.requestedBytes < 0 {
		s.requestedBytes = 0
	}
	if s.direction == DirectionPlayback {
		s.applySeekBookkeepingLocked(offset, seek, int64(len(data)))
	}
	needRefresh := !s.timing.Valid || s.timing.WriteIndexCorrupt
	s.mu.Unlock()

	if needRefresh {
		s.RequestAutoTimingUpdate(true)
	}
	return nil
}

// applySeekBookkeepingLocked updates the current write-correction slot
// and (if the snapshot is valid) the live write_index, per the rules
// in §4.1. Caller holds s.mu.
func (s *Stream) applySeekBookkeepingLocked(offset int64, seek SeekMode, length int64) {
	c := &s.corrections[s.currentCorrIndex]
	if !c.valid {
		return
	}
	switch seek {
	case SeekAbsolute:
		c.absolute = true
		c.corrupt = false
		c.value = offset + length
	case SeekRelative:
		if !c.corrupt {
			c.value += offset + length
		}
	default:
		c.corrupt = true
	}

	if s.timing.Valid {
		switch seek {
		case SeekAbsolute:
			s.timing.WriteIndex = offset + length
			s.timing.WriteIndexCorrupt = false
		case SeekRelative:
			if !s.timing.WriteIndexCorrupt {
				s.timing.WriteIndex += offset + length
			}
		default:
			s.timing.WriteIndexCorrupt = true
		}
	}
}

// WritableSize returns how many bytes the server has invited the
// client to write right now.
func (s *Stream) WritableSize() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireReady("writable_size"); err != nil {
		return 0, err
	}
	if s.direction != DirectionPlayback && s.direction != DirectionUpload {
		return 0, newErr("writable_size", KindBadState, nil)
	}
	return s.requestedBytes, nil
}

// handleRequest processes a server REQUEST event: the server has
// granted nbytes more write credit.
func (s *Stream) handleRequest(nbytes int) {
	s.mu.Lock()
	s.requestedBytes += nbytes
	cb := s.writeCb
	credit := s.requestedBytes
	s.mu.Unlock()

	if credit > 0 && cb != nil {
		cb(s, credit)
	}
}
