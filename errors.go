// Copyright (c) 2013, Daniel Morsing
// For more information, see the LICENSE file

package spdy

import (
	"github.com/pkg/errors"

	"github.com/yitian134/mod-spdy/framing"
)

// ErrorKind is the taxonomy of session-observable failures: §7 Error
// handling design.
type ErrorKind int

const (
	// ErrKindTransportClosed: non-fatal, loop ends without GOAWAY on the
	// affected direction.
	ErrKindTransportClosed ErrorKind = iota
	// ErrKindTransportError: treated like TransportClosed for outputs; no
	// retries.
	ErrKindTransportError
	// ErrKindParseError: malformed frame. GOAWAY(PROTOCOL_ERROR), drain,
	// close.
	ErrKindParseError
	// ErrKindProtocolViolation: duplicate/zero stream id, bad flags, a v2
	// window-size SETTINGS, an out-of-range v3 window. GOAWAY(PROTOCOL_ERROR).
	ErrKindProtocolViolation
	// ErrKindPerStreamViolation: unknown or half-closed target stream.
	// RST_STREAM on that stream only; session continues.
	ErrKindPerStreamViolation
	// ErrKindFlowControlViolation: a WINDOW_UPDATE delta pushed a stream's
	// send window past the 31-bit range. RST_STREAM(FLOW_CONTROL_ERROR) on
	// that stream only; session continues.
	ErrKindFlowControlViolation
	// ErrKindTaskFailure: a worker aborted abnormally. RST_STREAM(INTERNAL_ERROR);
	// session continues, the same as any other per-stream violation.
	ErrKindTaskFailure
	// ErrKindAbort: a local decision to tear down. Stop executor, emit
	// GOAWAY if possible, close.
	ErrKindAbort
)

// SessionGoAwayStatus reports the GOAWAY status this error kind implies
// at the session level, if any. TransportClosed/TransportError and every
// per-stream kind (PerStreamViolation, FlowControlViolation, TaskFailure)
// never by themselves trigger a GOAWAY — the session continues.
func (k ErrorKind) SessionGoAwayStatus() (framing.GoAwayStatus, bool) {
	switch k {
	case ErrKindParseError, ErrKindProtocolViolation:
		return framing.GoAwayProtocolError, true
	case ErrKindAbort:
		return framing.GoAwayInternalError, true
	default:
		return framing.GoAwayOK, false
	}
}

// RstStatus maps a per-stream error kind to the RST_STREAM status it is
// reported with.
func (k ErrorKind) RstStatus() framing.RstStreamStatus {
	switch k {
	case ErrKindPerStreamViolation:
		return framing.RstInvalidStream
	case ErrKindFlowControlViolation:
		return framing.RstFlowControlError
	case ErrKindTaskFailure:
		return framing.RstInternalError
	default:
		return framing.RstInternalError
	}
}

// classifyFramerErr maps a *framing.Error from the Framer adapter (component A)
// to its error kind; every framing parse failure — bad compression,
// reserved bit, unknown type, bad version, truncated — surfaces as the
// same ParseError taxonomy entry, matching SendGoawayForBadSynStreamCompression's
// treatment of garbage and corrupted-compression input identically.
func classifyFramerErr(err error) ErrorKind {
	if err == nil {
		return ErrKindTransportError
	}
	cause := errors.Cause(err)
	if _, ok := cause.(*framing.Error); ok {
		return ErrKindParseError
	}
	return ErrKindParseError
}
