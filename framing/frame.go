// Copyright (c) 2013, Daniel Morsing
// For more information, see the LICENSE file

// Package framing implements the wire format for the framed,
// multiplexed HTTP-alternative protocol (SPDY v2 and v3): encoding and
// decoding of control and data frames, and the zlib-with-fixed-dictionary
// compression used for header blocks.
//
// The rest of the session engine never looks at raw bytes; it only ever
// sees the Frame values produced here.
package framing

// StreamId identifies one multiplexed stream within a session. Client
// streams are odd, server-initiated (pushed) streams are even.
type StreamId uint32

// Priority orders stream output; 0 is the highest priority.
type Priority uint8

// Frame is implemented by every control and data frame this package knows
// how to encode and decode.
type Frame interface {
	// frameType identifies the concrete wire type, used by the encoder.
	frameType() frameType
}

type frameType uint16

const (
	typeSynStream frameType = 1
	typeSynReply  frameType = 2
	typeRstStream frameType = 3
	typeSettings  frameType = 4
	typePing      frameType = 6
	typeGoAway    frameType = 7
	typeHeaders   frameType = 8
	typeWindow    frameType = 9
	typeData      frameType = 0xffff // sentinel, data frames have no type field on the wire
)

// ControlFlags are the flag bits shared by SYN_STREAM, SYN_REPLY and
// HEADERS frames.
type ControlFlags uint8

const (
	FlagFin            ControlFlags = 0x01
	FlagUnidirectional ControlFlags = 0x02
)

// validControlFlagsMask is the set of flag bitmasks this core accepts on an
// incoming SYN_STREAM; anything else is a protocol violation.
const validControlFlagsMask = FlagFin | FlagUnidirectional

// DataFlags are the flag bits on a DATA frame.
type DataFlags uint8

const DataFlagFin DataFlags = 0x01

// SynStreamFrame opens a new stream: a client request, or (v3 only) a
// server push.
type SynStreamFrame struct {
	Flags        ControlFlags
	StreamId     StreamId
	AssociatedId StreamId
	Priority     Priority
	Headers      Headers
}

func (*SynStreamFrame) frameType() frameType { return typeSynStream }

// SynReplyFrame carries the response headers for a stream.
type SynReplyFrame struct {
	Flags    ControlFlags
	StreamId StreamId
	Headers  Headers
}

func (*SynReplyFrame) frameType() frameType { return typeSynReply }

// HeadersFrame carries an additional header block for a stream.
type HeadersFrame struct {
	Flags    ControlFlags
	StreamId StreamId
	Headers  Headers
}

func (*HeadersFrame) frameType() frameType { return typeHeaders }

// RstStreamStatus is the machine-readable reason carried by a RST_STREAM
// frame.
type RstStreamStatus uint32

const (
	RstProtocolError        RstStreamStatus = 1
	RstInvalidStream        RstStreamStatus = 2
	RstRefusedStream        RstStreamStatus = 3
	RstUnsupportedVersion   RstStreamStatus = 4
	RstCancel               RstStreamStatus = 5
	RstInternalError        RstStreamStatus = 6
	RstFlowControlError     RstStreamStatus = 7
	RstStreamInUse          RstStreamStatus = 8
	RstStreamAlreadyClosed  RstStreamStatus = 9
)

// RstStreamFrame aborts a single stream without tearing down the session.
type RstStreamFrame struct {
	StreamId StreamId
	Status   RstStreamStatus
}

func (*RstStreamFrame) frameType() frameType { return typeRstStream }

// SettingsId names a single tunable in a SETTINGS frame.
type SettingsId uint32

const (
	SettingsUploadBandwidth             SettingsId = 1
	SettingsDownloadBandwidth           SettingsId = 2
	SettingsRoundTripTime               SettingsId = 3
	SettingsMaxConcurrentStreams        SettingsId = 4
	SettingsCurrentCwnd                 SettingsId = 5
	SettingsDownloadRetransRate         SettingsId = 6
	SettingsInitialWindowSize           SettingsId = 7
	SettingsClientCertificateVectorSize SettingsId = 8
)

// SettingsFlagIdValue is one (id, value) pair within a SETTINGS frame.
type SettingsFlagIdValue struct {
	Flags uint8
	Id    SettingsId
	Value uint32
}

// SettingsFrame announces or updates session-wide tunables.
type SettingsFrame struct {
	FlagIdValues []SettingsFlagIdValue
}

func (*SettingsFrame) frameType() frameType { return typeSettings }

// PingFrame is an end-to-end liveness probe; the id distinguishes ping from
// pong and matches request to reply.
type PingFrame struct {
	Id uint32
}

func (*PingFrame) frameType() frameType { return typePing }

// GoAwayStatus explains why a session is shutting down.
type GoAwayStatus uint32

const (
	GoAwayOK             GoAwayStatus = 0
	GoAwayProtocolError  GoAwayStatus = 1
	GoAwayInternalError  GoAwayStatus = 11
)

// GoAwayFrame announces that the session is shutting down and the highest
// client stream id the server accepted.
type GoAwayFrame struct {
	LastGoodStreamId StreamId
	Status           GoAwayStatus
}

func (*GoAwayFrame) frameType() frameType { return typeGoAway }

// WindowUpdateFrame grants additional send-window bytes on a stream (v3
// only).
type WindowUpdateFrame struct {
	StreamId        StreamId
	DeltaWindowSize uint32
}

func (*WindowUpdateFrame) frameType() frameType { return typeWindow }

// DataFrame carries a stream's payload bytes. It is the only frame kind
// that isn't a control frame, and therefore has no type field on the wire.
type DataFrame struct {
	StreamId StreamId
	Flags    DataFlags
	Data     []byte
}

func (*DataFrame) frameType() frameType { return typeData }
