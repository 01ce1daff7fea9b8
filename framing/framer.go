// Copyright (c) 2013, Daniel Morsing
// For more information, see the LICENSE file

package framing

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const frameHeaderLen = 8

// controlBit is set in the first bit of a frame's wire header when the
// frame is a control frame; clear when it's a data frame.
const controlBit = 1 << 31

// Framer adapts the raw byte stream of one session to the Frame model.
// It is fed bytes as they arrive and produces complete, parsed frames; any
// malformed input is surfaced as an *Error and never as a partial frame.
//
// A Framer is owned exclusively by the session loop (§3 Ownership); it is
// not safe for concurrent use.
type Framer struct {
	version int
	buf     []byte
	err     error
	queue   []Frame
}

// NewFramer returns a Framer for the given protocol version (2 or 3).
func NewFramer(version int) *Framer {
	return &Framer{version: version}
}

// Feed appends newly read bytes to the Framer's internal buffer and parses
// as many complete frames out of it as it can. Parsed frames are
// retrievable with NextFrame, in arrival order.
//
// Feed never returns a partial frame: if the buffer doesn't yet hold a
// complete frame, it simply returns nil and waits for more bytes. Once
// Feed returns a non-nil error, the Framer is permanently broken and every
// subsequent call returns the same error without consuming input.
func (f *Framer) Feed(data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.buf = append(f.buf, data...)
	for {
		frame, n, err := f.parseOne(f.buf)
		if err != nil {
			f.err = err
			return err
		}
		if n == 0 {
			// need more bytes
			return nil
		}
		f.buf = f.buf[n:]
		f.queue = append(f.queue, frame)
	}
}

// NextFrame pops the next parsed frame, if any.
func (f *Framer) NextFrame() (Frame, bool) {
	if len(f.queue) == 0 {
		return nil, false
	}
	frame := f.queue[0]
	f.queue = f.queue[1:]
	return frame, true
}

// Err returns the sticky parse error, if the Framer has seen malformed
// input.
func (f *Framer) Err() error { return f.err }

// parseOne attempts to parse a single frame off the front of buf. It
// returns (nil, 0, nil) if buf doesn't yet hold a complete frame.
func (f *Framer) parseOne(buf []byte) (Frame, int, error) {
	if len(buf) < frameHeaderLen {
		return nil, 0, nil
	}
	word0 := binary.BigEndian.Uint32(buf[0:4])
	flags := buf[4]
	length := int(buf[5])<<16 | int(buf[6])<<8 | int(buf[7])
	total := frameHeaderLen + length
	if len(buf) < total {
		return nil, 0, nil
	}
	payload := buf[frameHeaderLen:total]

	if word0&controlBit == 0 {
		streamID := StreamId(word0 &^ controlBit)
		frame := &DataFrame{
			StreamId: streamID,
			Flags:    DataFlags(flags),
			Data:     append([]byte(nil), payload...),
		}
		return frame, total, nil
	}

	version := int((word0 >> 16) & 0x7fff)
	if version != f.version {
		return nil, 0, &Error{Code: ErrBadVersion}
	}
	ftype := frameType(word0 & 0xffff)
	frame, err := f.decodeControlFrame(ftype, ControlFlags(flags), payload)
	if err != nil {
		return nil, 0, err
	}
	return frame, total, nil
}

func (f *Framer) decodeControlFrame(t frameType, flags ControlFlags, payload []byte) (Frame, error) {
	switch t {
	case typeSynStream:
		return f.decodeSynStream(flags, payload)
	case typeSynReply:
		return f.decodeSynReply(flags, payload)
	case typeHeaders:
		return f.decodeHeadersFrame(flags, payload)
	case typeRstStream:
		return decodeRstStream(payload)
	case typeSettings:
		return decodeSettings(payload)
	case typePing:
		return decodePing(payload)
	case typeGoAway:
		return f.decodeGoAway(payload)
	case typeWindow:
		return decodeWindowUpdate(payload)
	default:
		return nil, &Error{Code: ErrUnknownFrameType}
	}
}

func (f *Framer) decodeSynStream(flags ControlFlags, payload []byte) (Frame, error) {
	if len(payload) < 9 {
		return nil, &Error{Code: ErrReservedBit, cause: errors.New("short SYN_STREAM")}
	}
	streamID := StreamId(binary.BigEndian.Uint32(payload[0:4]) &^ controlBit)
	assocID := StreamId(binary.BigEndian.Uint32(payload[4:8]) &^ controlBit)
	priByte := payload[8]
	rest := payload[9:]
	var pri Priority
	if f.version == 2 {
		pri = Priority(priByte >> 6)
	} else {
		pri = Priority(priByte >> 5)
		if len(rest) < 1 {
			return nil, &Error{Code: ErrReservedBit, cause: errors.New("missing credential slot")}
		}
		rest = rest[1:] // credential slot, unused by this core
	}
	hdrs, err := decodeHeaders(rest)
	if err != nil {
		return nil, err
	}
	return &SynStreamFrame{
		Flags:        flags,
		StreamId:     streamID,
		AssociatedId: assocID,
		Priority:     pri,
		Headers:      hdrs,
	}, nil
}

func (f *Framer) decodeSynReply(flags ControlFlags, payload []byte) (Frame, error) {
	if len(payload) < 4 {
		return nil, &Error{Code: ErrReservedBit, cause: errors.New("short SYN_REPLY")}
	}
	streamID := StreamId(binary.BigEndian.Uint32(payload[0:4]) &^ controlBit)
	rest := payload[4:]
	if f.version == 2 {
		if len(rest) < 2 {
			return nil, &Error{Code: ErrReservedBit, cause: errors.New("short SYN_REPLY")}
		}
		rest = rest[2:]
	}
	hdrs, err := decodeHeaders(rest)
	if err != nil {
		return nil, err
	}
	return &SynReplyFrame{Flags: flags, StreamId: streamID, Headers: hdrs}, nil
}

func (f *Framer) decodeHeadersFrame(flags ControlFlags, payload []byte) (Frame, error) {
	if len(payload) < 4 {
		return nil, &Error{Code: ErrReservedBit, cause: errors.New("short HEADERS")}
	}
	streamID := StreamId(binary.BigEndian.Uint32(payload[0:4]) &^ controlBit)
	rest := payload[4:]
	if f.version == 2 {
		if len(rest) < 2 {
			return nil, &Error{Code: ErrReservedBit, cause: errors.New("short HEADERS")}
		}
		rest = rest[2:]
	}
	hdrs, err := decodeHeaders(rest)
	if err != nil {
		return nil, err
	}
	return &HeadersFrame{Flags: flags, StreamId: streamID, Headers: hdrs}, nil
}

func decodeRstStream(payload []byte) (Frame, error) {
	if len(payload) != 8 {
		return nil, &Error{Code: ErrReservedBit, cause: errors.New("bad RST_STREAM length")}
	}
	streamID := StreamId(binary.BigEndian.Uint32(payload[0:4]) &^ controlBit)
	status := RstStreamStatus(binary.BigEndian.Uint32(payload[4:8]))
	return &RstStreamFrame{StreamId: streamID, Status: status}, nil
}

func decodeSettings(payload []byte) (Frame, error) {
	if len(payload) < 4 {
		return nil, &Error{Code: ErrReservedBit, cause: errors.New("short SETTINGS")}
	}
	count := binary.BigEndian.Uint32(payload[0:4])
	payload = payload[4:]
	if uint32(len(payload)) != count*8 {
		return nil, &Error{Code: ErrReservedBit, cause: errors.New("bad SETTINGS entry count")}
	}
	entries := make([]SettingsFlagIdValue, count)
	for i := range entries {
		off := i * 8
		word := binary.BigEndian.Uint32(payload[off : off+4])
		value := binary.BigEndian.Uint32(payload[off+4 : off+8])
		entries[i] = SettingsFlagIdValue{
			Flags: uint8(word >> 24),
			Id:    SettingsId(word & 0xffffff),
			Value: value,
		}
	}
	return &SettingsFrame{FlagIdValues: entries}, nil
}

func decodePing(payload []byte) (Frame, error) {
	if len(payload) != 4 {
		return nil, &Error{Code: ErrReservedBit, cause: errors.New("bad PING length")}
	}
	return &PingFrame{Id: binary.BigEndian.Uint32(payload)}, nil
}

func (f *Framer) decodeGoAway(payload []byte) (Frame, error) {
	if len(payload) < 4 {
		return nil, &Error{Code: ErrReservedBit, cause: errors.New("bad GOAWAY length")}
	}
	lastGood := StreamId(binary.BigEndian.Uint32(payload[0:4]) &^ controlBit)
	status := GoAwayOK
	if f.version >= 3 {
		if len(payload) < 8 {
			return nil, &Error{Code: ErrReservedBit, cause: errors.New("bad GOAWAY length")}
		}
		status = GoAwayStatus(binary.BigEndian.Uint32(payload[4:8]))
	}
	return &GoAwayFrame{LastGoodStreamId: lastGood, Status: status}, nil
}

func decodeWindowUpdate(payload []byte) (Frame, error) {
	if len(payload) != 8 {
		return nil, &Error{Code: ErrReservedBit, cause: errors.New("bad WINDOW_UPDATE length")}
	}
	streamID := StreamId(binary.BigEndian.Uint32(payload[0:4]) &^ controlBit)
	delta := binary.BigEndian.Uint32(payload[4:8]) &^ controlBit
	return &WindowUpdateFrame{StreamId: streamID, DeltaWindowSize: delta}, nil
}
