// Copyright (c) 2013, Daniel Morsing
// For more information, see the LICENSE file

package framing

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Encode serializes a frame to its wire representation for this Framer's
// protocol version. Encoding is infallible given well-formed inputs; the
// only errors that can occur come from the header compressor.
func (f *Framer) Encode(frame Frame) ([]byte, error) {
	switch fr := frame.(type) {
	case *DataFrame:
		return encodeDataFrame(fr), nil
	case *SynStreamFrame:
		return f.encodeSynStream(fr)
	case *SynReplyFrame:
		return f.encodeSynReply(fr)
	case *HeadersFrame:
		return f.encodeHeadersFrame(fr)
	case *RstStreamFrame:
		return f.encodeRstStream(fr), nil
	case *SettingsFrame:
		return f.encodeSettings(fr), nil
	case *PingFrame:
		return f.encodePing(fr), nil
	case *GoAwayFrame:
		return f.encodeGoAway(fr), nil
	case *WindowUpdateFrame:
		return f.encodeWindowUpdate(fr), nil
	default:
		return nil, errors.Errorf("framing: cannot encode frame of type %T", frame)
	}
}

func controlHeader(t frameType, version int, flags ControlFlags, payloadLen int) []byte {
	var hdr [frameHeaderLen]byte
	word0 := controlBit | uint32(version&0x7fff)<<16 | uint32(t)
	binary.BigEndian.PutUint32(hdr[0:4], word0)
	hdr[4] = byte(flags)
	hdr[5] = byte(payloadLen >> 16)
	hdr[6] = byte(payloadLen >> 8)
	hdr[7] = byte(payloadLen)
	return hdr[:]
}

func encodeDataFrame(fr *DataFrame) []byte {
	var hdr [frameHeaderLen]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(fr.StreamId)&^controlBit)
	hdr[4] = byte(fr.Flags)
	n := len(fr.Data)
	hdr[5] = byte(n >> 16)
	hdr[6] = byte(n >> 8)
	hdr[7] = byte(n)
	out := make([]byte, 0, frameHeaderLen+n)
	out = append(out, hdr[:]...)
	out = append(out, fr.Data...)
	return out
}

func (f *Framer) encodeSynStream(fr *SynStreamFrame) ([]byte, error) {
	hdrBlock, err := encodeHeaders(fr.Headers)
	if err != nil {
		return nil, err
	}
	var payload bytes.Buffer
	var ids [8]byte
	binary.BigEndian.PutUint32(ids[0:4], uint32(fr.StreamId)&^controlBit)
	binary.BigEndian.PutUint32(ids[4:8], uint32(fr.AssociatedId)&^controlBit)
	payload.Write(ids[:])
	if f.version == 2 {
		payload.WriteByte(byte(fr.Priority) << 6)
	} else {
		payload.WriteByte(byte(fr.Priority) << 5)
		payload.WriteByte(0) // credential slot, unused
	}
	payload.Write(hdrBlock)
	return append(controlHeader(typeSynStream, f.version, fr.Flags, payload.Len()), payload.Bytes()...), nil
}

func (f *Framer) encodeSynReply(fr *SynReplyFrame) ([]byte, error) {
	hdrBlock, err := encodeHeaders(fr.Headers)
	if err != nil {
		return nil, err
	}
	var payload bytes.Buffer
	var id [4]byte
	binary.BigEndian.PutUint32(id[:], uint32(fr.StreamId)&^controlBit)
	payload.Write(id[:])
	if f.version == 2 {
		payload.Write([]byte{0, 0})
	}
	payload.Write(hdrBlock)
	return append(controlHeader(typeSynReply, f.version, fr.Flags, payload.Len()), payload.Bytes()...), nil
}

func (f *Framer) encodeHeadersFrame(fr *HeadersFrame) ([]byte, error) {
	hdrBlock, err := encodeHeaders(fr.Headers)
	if err != nil {
		return nil, err
	}
	var payload bytes.Buffer
	var id [4]byte
	binary.BigEndian.PutUint32(id[:], uint32(fr.StreamId)&^controlBit)
	payload.Write(id[:])
	if f.version == 2 {
		payload.Write([]byte{0, 0})
	}
	payload.Write(hdrBlock)
	return append(controlHeader(typeHeaders, f.version, fr.Flags, payload.Len()), payload.Bytes()...), nil
}

func (f *Framer) encodeRstStream(fr *RstStreamFrame) []byte {
	var payload [8]byte
	binary.BigEndian.PutUint32(payload[0:4], uint32(fr.StreamId)&^controlBit)
	binary.BigEndian.PutUint32(payload[4:8], uint32(fr.Status))
	return append(controlHeader(typeRstStream, f.version, 0, len(payload)), payload[:]...)
}

func (f *Framer) encodeSettings(fr *SettingsFrame) []byte {
	payload := make([]byte, 4+8*len(fr.FlagIdValues))
	binary.BigEndian.PutUint32(payload[0:4], uint32(len(fr.FlagIdValues)))
	for i, e := range fr.FlagIdValues {
		off := 4 + i*8
		word := uint32(e.Flags)<<24 | uint32(e.Id)&0xffffff
		binary.BigEndian.PutUint32(payload[off:off+4], word)
		binary.BigEndian.PutUint32(payload[off+4:off+8], e.Value)
	}
	return append(controlHeader(typeSettings, f.version, 0, len(payload)), payload...)
}

func (f *Framer) encodePing(fr *PingFrame) []byte {
	var payload [4]byte
	binary.BigEndian.PutUint32(payload[:], fr.Id)
	return append(controlHeader(typePing, f.version, 0, len(payload)), payload[:]...)
}

func (f *Framer) encodeGoAway(fr *GoAwayFrame) []byte {
	var payload []byte
	if f.version == 2 {
		payload = make([]byte, 4)
		binary.BigEndian.PutUint32(payload[0:4], uint32(fr.LastGoodStreamId)&^controlBit)
	} else {
		payload = make([]byte, 8)
		binary.BigEndian.PutUint32(payload[0:4], uint32(fr.LastGoodStreamId)&^controlBit)
		binary.BigEndian.PutUint32(payload[4:8], uint32(fr.Status))
	}
	return append(controlHeader(typeGoAway, f.version, 0, len(payload)), payload...)
}

func (f *Framer) encodeWindowUpdate(fr *WindowUpdateFrame) []byte {
	var payload [8]byte
	binary.BigEndian.PutUint32(payload[0:4], uint32(fr.StreamId)&^controlBit)
	binary.BigEndian.PutUint32(payload[4:8], fr.DeltaWindowSize&^controlBit)
	return append(controlHeader(typeWindow, f.version, 0, len(payload)), payload[:]...)
}
