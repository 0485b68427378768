package soundstream

import (
	"encoding/binary"
	"errors"
)

// opcode identifies a command on the wire. The concrete numeric
// values are an implementation-internal enumeration: what matters for
// bit-exact compatibility is the *field order* within each command's
// payload (§6), which the build* functions below encode byte-for-byte
// in the order the spec prescribes.
type opcode uint32

const (
	cmdCreatePlaybackStream opcode = iota
	cmdCreateRecordStream
	cmdGetPlaybackLatency
	cmdGetRecordLatency
	opCork0
	opCork1
	opFlush
	opPrebuf
	opTrigger
	opDrain
	opSetName
	opSetBufferAttr
	opUpdateRate
	opProplistUpdate
	opProplistRemove
)

func opCork(corked bool) opcode {
	if corked {
		return opCork1
	}
	return opCork0
}

// errShortBuffer is returned by TagParser reads that run past the end
// of the payload — a malformed or truncated server message.
var errShortBuffer = errors.New("soundstream: short wire payload")

// errTrailingBytes is returned when a reply leaves bytes unconsumed
// after every field this parser expects has been read — a malformed
// message or one built for a newer protocol version than negotiated.
var errTrailingBytes = errors.New("soundstream: trailing bytes in wire payload")

// TagBuilder assembles a big-endian command payload. Each field is
// written as its raw value (strings length-prefixed); no per-field
// type marker is written.
type TagBuilder struct {
	buf []byte
}

func newTagBuilder() *TagBuilder { return &TagBuilder{} }

func (b *TagBuilder) Bytes() []byte { return b.buf }

func (b *TagBuilder) AddU32(v uint32) *TagBuilder {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
	return b
}

func (b *TagBuilder) AddU64(v uint64) *TagBuilder {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
	return b
}

func (b *TagBuilder) AddS64(v int64) *TagBuilder { return b.AddU64(uint64(v)) }

func (b *TagBuilder) AddBool(v bool) *TagBuilder {
	if v {
		b.buf = append(b.buf, 1)
	} else {
		b.buf = append(b.buf, 0)
	}
	return b
}

func (b *TagBuilder) AddByte(v byte) *TagBuilder {
	b.buf = append(b.buf, v)
	return b
}

func (b *TagBuilder) AddString(s string) *TagBuilder {
	if s == "" {
		return b.AddU32(0)
	}
	b.AddU32(uint32(len(s)))
	b.buf = append(b.buf, []byte(s)...)
	return b
}

func (b *TagBuilder) AddSampleSpec(s SampleSpec) *TagBuilder {
	return b.AddByte(byte(s.Format)).AddByte(s.Channels).AddU32(s.Rate)
}

func (b *TagBuilder) AddChannelMap(m ChannelMap) *TagBuilder {
	b.AddByte(byte(len(m)))
	for _, p := range m {
		b.AddByte(byte(p))
	}
	return b
}

func (b *TagBuilder) AddCVolume(channels uint8) *TagBuilder {
	// No-op full-volume default; stream-level volume control sits
	// outside this spec's scope (server-side mixing is a Non-goal) but
	// the field is mandatory on the wire for playback streams.
	b.AddByte(channels)
	for i := uint8(0); i < channels; i++ {
		b.AddU32(0x10000)
	}
	return b
}

func (b *TagBuilder) AddPropList(p PropList) *TagBuilder {
	b.AddU32(uint32(len(p)))
	for k, v := range p {
		b.AddString(k)
		b.AddString(v)
	}
	return b
}

// TagParser reads a big-endian reply payload in the same untagged
// layout and order TagBuilder writes it.
type TagParser struct {
	buf []byte
	pos int
}

func newTagParser(buf []byte) *TagParser { return &TagParser{buf: buf} }

func (p *TagParser) ReadU32() (uint32, error) {
	if p.pos+4 > len(p.buf) {
		return 0, errShortBuffer
	}
	v := binary.BigEndian.Uint32(p.buf[p.pos:])
	p.pos += 4
	return v, nil
}

func (p *TagParser) ReadU64() (uint64, error) {
	if p.pos+8 > len(p.buf) {
		return 0, errShortBuffer
	}
	v := binary.BigEndian.Uint64(p.buf[p.pos:])
	p.pos += 8
	return v, nil
}

func (p *TagParser) ReadS64() (int64, error) {
	v, err := p.ReadU64()
	return int64(v), err
}

func (p *TagParser) ReadBool() (bool, error) {
	if p.pos+1 > len(p.buf) {
		return false, errShortBuffer
	}
	v := p.buf[p.pos] != 0
	p.pos++
	return v, nil
}

func (p *TagParser) ReadByte() (byte, error) {
	if p.pos+1 > len(p.buf) {
		return 0, errShortBuffer
	}
	v := p.buf[p.pos]
	p.pos++
	return v, nil
}

// requireEOF reports errTrailingBytes if bytes remain unconsumed.
func (p *TagParser) requireEOF() error {
	if p.pos != len(p.buf) {
		return errTrailingBytes
	}
	return nil
}

func (p *TagParser) ReadString() (string, error) {
	n, err := p.ReadU32()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	if p.pos+int(n) > len(p.buf) {
		return "", errShortBuffer
	}
	s := string(p.buf[p.pos : p.pos+int(n)])
	p.pos += int(n)
	return s, nil
}

// deviceIndexInvalid is the wire sentinel for "no specific device
// requested, let the server pick".
const deviceIndexInvalid = 0xFFFFFFFF

// buildCreateStream encodes the CREATE_*_STREAM command per §6's
// field order, version-gating the appended fields the same way the
// server does.
func (s *Stream) buildCreateStream(tag uint32) []byte {
	b := newTagBuilder()
	b.AddU32(tag)

	b.AddSampleSpec(s.sampleSpec)
	b.AddChannelMap(s.channelMap)
	b.AddU32(deviceIndexInvalid)
	b.AddString(s.deviceName)
	b.AddU32(s.bufferAttr.MaxLength)
	b.AddBool(s.corked)

	if s.direction == DirectionPlayback || s.direction == DirectionUpload {
		b.AddU32(s.bufferAttr.TLength)
		b.AddU32(s.bufferAttr.Prebuf)
		b.AddU32(s.bufferAttr.MinReq)
		b.AddU32(s.syncID)
		b.AddCVolume(s.sampleSpec.Channels)
	} else {
		b.AddU32(s.bufferAttr.FragSize)
	}

	version := s.context.ProtocolVersion
	if version >= 12 {
		b.AddBool(s.flags.has(FlagNoRemapChannels))
		b.AddBool(s.flags.has(FlagNoRemixChannels))
		b.AddBool(s.flags.has(FlagFixFormat))
		b.AddBool(s.flags.has(FlagFixRate))
		b.AddBool(s.flags.has(FlagFixChannels))
		b.AddBool(s.flags.has(FlagDontMove))
		b.AddBool(s.flags.has(FlagVariableRate))
	}
	if version >= 13 {
		if s.direction == DirectionRecord {
			b.AddBool(s.flags.has(FlagPeakDetect))
		} else {
			b.AddBool(s.flags.has(FlagStartMuted))
		}
		b.AddBool(s.flags.has(FlagAdjustLatency))
		b.AddPropList(s.propList)
		if s.direction == DirectionRecord {
			b.AddBool(s.hasDirectOnInput)
			if s.hasDirectOnInput {
				b.AddU32(s.directOnInput)
			}
		}
	}
	if version >= 21 && s.direction != DirectionRecord {
		// Format negotiation stub (SUPPLEMENTED FEATURES): a single PCM
		// format_info entry describing the negotiated sample spec.
		b.AddU32(1)
		b.AddByte(byte(s.sampleSpec.Format))
	}
	return b.Bytes()
}

// buildLatencyQuery encodes a GET_*_LATENCY query: (channel,
// client_timeval).
func (s *Stream) buildLatencyQuery(clientTime uint64) []byte {
	b := newTagBuilder()
	b.AddU32(s.channelID)
	b.AddU64(clientTime)
	return b.Bytes()
}

// parseLatencyReply decodes a GET_*_LATENCY reply per §6's field
// order.
func parseLatencyReply(payload []byte, dir Direction, version uint32) (latencyReply, error) {
	p := newTagParser(payload)
	var r latencyReply
	var err error
	if r.sinkUsec, err = p.ReadU64(); err != nil {
		return r, err
	}
	if r.sourceUsec, err = p.ReadU64(); err != nil {
		return r, err
	}
	if r.playing, err = p.ReadBool(); err != nil {
		return r, err
	}
	if r.local, err = p.ReadU64(); err != nil {
		return r, err
	}
	if r.remote, err = p.ReadU64(); err != nil {
		return r, err
	}
	if r.writeIndex, err = p.ReadS64(); err != nil {
		return r, err
	}
	if r.readIndex, err = p.ReadS64(); err != nil {
		return r, err
	}
	if version >= 13 && dir != DirectionRecord {
		if r.underrunFor, err = p.ReadU64(); err != nil {
			return r, err
		}
		if r.playingFor, err = p.ReadU64(); err != nil {
			return r, err
		}
		r.haveSince = true
	}
	if err := p.requireEOF(); err != nil {
		return r, err
	}
	return r, nil
}

func (s *Stream) buildSimpleCommand(channel uint32, code opcode) []byte {
	b := newTagBuilder()
	_ = code
	b.AddU32(channel)
	return b.Bytes()
}

func (s *Stream) buildSetBufferAttr(channel uint32, attr BufferAttr) []byte {
	b := newTagBuilder()
	b.AddU32(channel)
	b.AddU32(attr.MaxLength)
	if s.direction == DirectionRecord {
		b.AddU32(attr.FragSize)
	} else {
		b.AddU32(attr.TLength)
		b.AddU32(attr.Prebuf)
		b.AddU32(attr.MinReq)
	}
	if s.context.ProtocolVersion >= 13 {
		b.AddBool(s.flags.has(FlagAdjustLatency))
	}
	return b.Bytes()
}

func parseBufferAttrReply(payload []byte, dir Direction) (BufferAttr, error) {
	p := newTagParser(payload)
	var attr BufferAttr
	var err error
	if attr.MaxLength, err = p.ReadU32(); err != nil {
		return attr, err
	}
	if dir == DirectionRecord {
		attr.FragSize, err = p.ReadU32()
	} else {
		if attr.TLength, err = p.ReadU32(); err != nil {
			return attr, err
		}
		if attr.Prebuf, err = p.ReadU32(); err != nil {
			return attr, err
		}
		attr.MinReq, err = p.ReadU32()
	}
	if err != nil {
		return attr, err
	}
	if err := p.requireEOF(); err != nil {
		return attr, err
	}
	return attr, nil
}

func (s *Stream) buildUpdateRate(channel, rate uint32) []byte {
	b := newTagBuilder()
	b.AddU32(channel)
	b.AddU32(rate)
	return b.Bytes()
}

func (s *Stream) buildProplistUpdate(channel uint32, mode PropListUpdateMode, props PropList) []byte {
	b := newTagBuilder()
	b.AddU32(channel)
	b.AddU32(uint32(mode))
	b.AddPropList(props)
	return b.Bytes()
}

func (s *Stream) buildProplistRemove(channel uint32, keys []string) []byte {
	b := newTagBuilder()
	b.AddU32(channel)
	b.AddU32(uint32(len(keys)))
	for _, k := range keys {
		b.AddString(k)
	}
	return b.Bytes()
}

// createStreamReply is the parsed CREATE_*_STREAM reply (§4.2's
// "ready" transition fields).
type createStreamReply struct {
	channelID      uint32
	streamIndex    uint32
	requestedBytes int
	maxLength      uint32
	tlength        uint32
	prebuf         uint32
	minreq         uint32
	fragsize       uint32
	sampleSpec     SampleSpec
	channelMap     ChannelMap
	deviceIndex    uint32
	deviceName     string
	suspended      bool
	configuredUsec uint64
	haveConfigured bool
}

func parseCreateStreamReply(payload []byte, dir Direction, version uint32) (createStreamReply, error) {
	p := newTagParser(payload)
	var r createStreamReply
	var err error
	if r.channelID, err = p.ReadU32(); err != nil {
		return r, err
	}
	if r.streamIndex, err = p.ReadU32(); err != nil {
		return r, err
	}
	var requested uint32
	if dir != DirectionRecord {
		if requested, err = p.ReadU32(); err != nil {
			return r, err
		}
		r.requestedBytes = int(requested)
	}

	if version >= 9 {
		if r.maxLength, err = p.ReadU32(); err != nil {
			return r, err
		}
		if dir != DirectionRecord {
			if r.tlength, err = p.ReadU32(); err != nil {
				return r, err
			}
			if r.prebuf, err = p.ReadU32(); err != nil {
				return r, err
			}
			if r.minreq, err = p.ReadU32(); err != nil {
				return r, err
			}
		} else {
			if r.fragsize, err = p.ReadU32(); err != nil {
				return r, err
			}
		}
	}

	if version >= 12 {
		fmtByte, e := p.ReadByte()
		if e != nil {
			return r, e
		}
		r.sampleSpec.Format = SampleFormat(fmtByte)
		if r.sampleSpec.Channels, err = p.ReadByte(); err != nil {
			return r, err
		}
		if r.sampleSpec.Rate, err = p.ReadU32(); err != nil {
			return r, err
		}
		nchan, e := p.ReadByte()
		if e != nil {
			return r, e
		}
		r.channelMap = make(ChannelMap, nchan)
		for i := range r.channelMap {
			pb, e := p.ReadByte()
			if e != nil {
				return r, e
			}
			r.channelMap[i] = ChannelPosition(pb)
		}
		if r.deviceIndex, err = p.ReadU32(); err != nil {
			return r, err
		}
		if r.deviceName, err = p.ReadString(); err != nil {
			return r, err
		}
		if r.suspended, err = p.ReadBool(); err != nil {
			return r, err
		}
	}

	if version >= 13 {
		if r.configuredUsec, err = p.ReadU64(); err != nil {
			return r, err
		}
		r.haveConfigured = true
	}

	if err := p.requireEOF(); err != nil {
		return r, err
	}
	return r, nil
}
