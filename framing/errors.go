// Copyright (c) 2013, Daniel Morsing
// For more information, see the LICENSE file

package framing

import "fmt"

// ErrorCode distinguishes the ways a byte stream can fail to parse as a
// well-formed frame.
type ErrorCode int

const (
	// ErrTruncated means the buffer does not yet hold a complete frame.
	// It is not a parse error, and Feed never returns it: Feed returns nil
	// when it needs more bytes.
	ErrTruncated ErrorCode = iota
	// ErrBadCompression means a header block's zlib stream was corrupt.
	ErrBadCompression
	// ErrReservedBit means a reserved wire bit was set to something other
	// than its required value.
	ErrReservedBit
	// ErrUnknownFrameType means the control frame type field did not name
	// a known frame kind.
	ErrUnknownFrameType
	// ErrBadVersion means the control frame's version field didn't match
	// the version this Framer was constructed for.
	ErrBadVersion
)

// Error reports a malformed frame. Once a Framer has produced one, the
// Framer is permanently broken: no further frames will be attempted.
type Error struct {
	Code  ErrorCode
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("framing: %s: %v", e.Code, e.cause)
	}
	return fmt.Sprintf("framing: %s", e.Code)
}

func (e *Error) Cause() error { return e.cause }

func (c ErrorCode) String() string {
	switch c {
	case ErrTruncated:
		return "truncated frame"
	case ErrBadCompression:
		return "bad header compression"
	case ErrReservedBit:
		return "reserved bit set incorrectly"
	case ErrUnknownFrameType:
		return "unknown frame type"
	case ErrBadVersion:
		return "unsupported protocol version"
	default:
		return "unknown framing error"
	}
}
