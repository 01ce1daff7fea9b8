// Copyright (c) 2013, Daniel Morsing
// For more information, see the LICENSE file

package spdy

import (
	"math"
	"sync"

	"github.com/pkg/errors"

	"github.com/yitian134/mod-spdy/framing"
)

// Sentinel errors returned by a Stream's worker-facing output methods.
var (
	// ErrStreamReset is returned from any output method once the stream
	// has been reset; the worker should stop producing output.
	ErrStreamReset = errors.New("spdy: stream has been reset")
	// ErrSendHalfClosed is returned when output is attempted after a
	// data frame with FIN was already accepted: the stream is
	// FIN-ordered, so no further output is ever accepted.
	ErrSendHalfClosed = errors.New("spdy: stream's send half is already closed")
	// ErrNotServerPush is returned from SendOutputSynStream on a stream
	// that wasn't created as a server push.
	ErrNotServerPush = errors.New("spdy: SendOutputSynStream on a non-push stream")
)

// maxDataFrameSize bounds how many payload bytes a single outgoing DATA
// frame carries, independent of flow control.
const maxDataFrameSize = 1 << 14

// PopStatus is the outcome of Stream.PopOutput.
type PopStatus int

const (
	// PopNone means the stream has nothing queued to send right now.
	PopNone PopStatus = iota
	// PopFrame means a frame was returned.
	PopFrame
	// PopWindowBlocked means the stream has data queued but its send
	// window is exhausted; it is skipped, not removed, by the scheduler.
	PopWindowBlocked
)

type outputKind int

const (
	itemSynReply outputKind = iota
	itemSynStream
	itemHeaders
	itemData
)

type outputItem struct {
	kind    outputKind
	headers framing.Headers
	data    []byte
	fin     bool
}

// Stream is the per-stream state shared between the session loop (reader
// side) and the stream's worker task (writer side). The input/output
// queues, send window and reset flag are the only fields touched from
// both sides, and are guarded by mu; the session loop never holds mu for
// longer than it takes to push or pop one frame.
//
// This replaces the teacher's channel-ferried responseWriter/rwWriter
// pair with an explicit queue the worker polls or blocks on, so the same
// Stream can serve arbitrary worker tasks, not just an http.Handler.
type Stream struct {
	id           framing.StreamId
	associatedID framing.StreamId
	priority     framing.Priority
	version      int
	isServerPush bool
	flowControl  bool // true under protocol version 3

	mu   sync.Mutex
	cond *sync.Cond

	inputQueue  []framing.Frame
	outputQueue []outputItem

	sendWindow int64

	recvHalfClosed bool
	sendHalfClosed bool

	reset          bool
	resetStatus    framing.RstStreamStatus
	needsRstNotify bool

	lastServiced uint64 // scheduler round-robin tiebreak, owned by the scheduler
}

// NewStream constructs a Stream. initialWindow and flowControl come from
// the session's current settings at the moment the stream is created;
// later SETTINGS changes are applied via AdjustInitialWindow.
func NewStream(id, associatedID framing.StreamId, priority framing.Priority, isServerPush, flowControl bool, initialWindow uint32, version int) *Stream {
	s := &Stream{
		id:           id,
		associatedID: associatedID,
		priority:     priority,
		version:      version,
		isServerPush: isServerPush,
		flowControl:  flowControl,
		sendWindow:   int64(initialWindow),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *Stream) StreamID() framing.StreamId          { return s.id }
func (s *Stream) AssociatedStreamID() framing.StreamId { return s.associatedID }
func (s *Stream) Priority() framing.Priority           { return s.priority }
func (s *Stream) Version() int                         { return s.version }
func (s *Stream) IsServerPush() bool                   { return s.isServerPush }

// PushInput delivers one incoming frame — the initiating SYN_STREAM, or a
// later DATA/HEADERS frame — to the stream's input queue, waking any
// worker blocked in GetInputFrame.
func (s *Stream) PushInput(frame framing.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reset {
		return
	}
	if frameHasFin(frame) {
		s.recvHalfClosed = true
	}
	s.inputQueue = append(s.inputQueue, frame)
	s.cond.Broadcast()
}

func frameHasFin(frame framing.Frame) bool {
	switch fr := frame.(type) {
	case *framing.DataFrame:
		return fr.Flags&framing.DataFlagFin != 0
	case *framing.HeadersFrame:
		return fr.Flags&framing.FlagFin != 0
	case *framing.SynStreamFrame:
		return fr.Flags&framing.FlagFin != 0
	}
	return false
}

// GetInputFrame is called from the stream's worker task. If block is true
// and no frame is queued, it waits until one arrives, the stream is
// reset, or there is nothing left to ever arrive. It returns (frame,
// true) on success and (nil, false) once there is nothing left to read.
func (s *Stream) GetInputFrame(block bool) (framing.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if len(s.inputQueue) > 0 {
			f := s.inputQueue[0]
			s.inputQueue = s.inputQueue[1:]
			return f, true
		}
		if s.reset || s.recvHalfClosed || !block {
			return nil, false
		}
		s.cond.Wait()
	}
}

// IsAborted reports whether the stream has been reset, for workers that
// want to bail out of a long-running Run without waiting on input.
func (s *Stream) IsAborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reset
}

// SendOutputSynReply is the worker-facing call that queues the response
// headers for a normal (non-push) stream.
func (s *Stream) SendOutputSynReply(headers framing.Headers, fin bool) error {
	return s.enqueueOutput(outputItem{kind: itemSynReply, headers: headers, fin: fin})
}

// SendOutputSynStream is the worker-facing call that queues the
// SYN_STREAM for a server push; it is only valid on a push stream.
func (s *Stream) SendOutputSynStream(headers framing.Headers, fin bool) error {
	if !s.isServerPush {
		return ErrNotServerPush
	}
	return s.enqueueOutput(outputItem{kind: itemSynStream, headers: headers, fin: fin})
}

// SendOutputHeaders queues an additional header block.
func (s *Stream) SendOutputHeaders(headers framing.Headers, fin bool) error {
	return s.enqueueOutput(outputItem{kind: itemHeaders, headers: headers, fin: fin})
}

// SendOutputDataFrame queues payload bytes. Once fin is true, no further
// output is ever accepted on this stream.
func (s *Stream) SendOutputDataFrame(data []byte, fin bool) error {
	return s.enqueueOutput(outputItem{kind: itemData, data: append([]byte(nil), data...), fin: fin})
}

func (s *Stream) enqueueOutput(item outputItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reset {
		return ErrStreamReset
	}
	if s.sendHalfClosed {
		return ErrSendHalfClosed
	}
	s.outputQueue = append(s.outputQueue, item)
	if item.fin {
		s.sendHalfClosed = true
	}
	s.cond.Broadcast()
	return nil
}

// PopOutput is called from the session loop's output scheduler. maxBytes
// caps how many payload bytes a single popped DATA frame may carry.
func (s *Stream) PopOutput(maxBytes int) (framing.Frame, PopStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.outputQueue) == 0 {
		return nil, PopNone
	}
	item := &s.outputQueue[0]
	switch item.kind {
	case itemSynReply:
		s.outputQueue = s.outputQueue[1:]
		return &framing.SynReplyFrame{StreamId: s.id, Flags: finFlags(item.fin), Headers: item.headers}, PopFrame
	case itemSynStream:
		s.outputQueue = s.outputQueue[1:]
		return &framing.SynStreamFrame{
			StreamId:     s.id,
			AssociatedId: s.associatedID,
			Priority:     s.priority,
			Flags:        finFlags(item.fin) | framing.FlagUnidirectional,
			Headers:      item.headers,
		}, PopFrame
	case itemHeaders:
		s.outputQueue = s.outputQueue[1:]
		return &framing.HeadersFrame{StreamId: s.id, Flags: finFlags(item.fin), Headers: item.headers}, PopFrame
	case itemData:
		return s.popDataLocked(item, maxBytes)
	}
	return nil, PopNone
}

func (s *Stream) popDataLocked(item *outputItem, maxBytes int) (framing.Frame, PopStatus) {
	if len(item.data) == 0 {
		s.outputQueue = s.outputQueue[1:]
		return &framing.DataFrame{StreamId: s.id, Flags: dataFinFlags(item.fin)}, PopFrame
	}
	chunk := len(item.data)
	if chunk > maxBytes {
		chunk = maxBytes
	}
	if s.flowControl {
		if s.sendWindow <= 0 {
			return nil, PopWindowBlocked
		}
		if int64(chunk) > s.sendWindow {
			chunk = int(s.sendWindow)
		}
	}
	data := item.data[:chunk]
	remaining := item.data[chunk:]
	fin := item.fin && len(remaining) == 0
	if len(remaining) == 0 {
		s.outputQueue = s.outputQueue[1:]
	} else {
		item.data = remaining
	}
	if s.flowControl {
		s.sendWindow -= int64(chunk)
	}
	return &framing.DataFrame{StreamId: s.id, Flags: dataFinFlags(fin), Data: data}, PopFrame
}

func finFlags(fin bool) framing.ControlFlags {
	if fin {
		return framing.FlagFin
	}
	return 0
}

func dataFinFlags(fin bool) framing.DataFlags {
	if fin {
		return framing.DataFlagFin
	}
	return 0
}

// HasSendableOutput reports whether the stream has at least one byte that
// can actually be sent right now given flow control; a window-blocked
// stream does not count, which is what lets the session loop park on
// input instead of busy-looping while every stream is blocked.
func (s *Stream) HasSendableOutput() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reset || len(s.outputQueue) == 0 {
		return false
	}
	item := &s.outputQueue[0]
	if item.kind != itemData || len(item.data) == 0 {
		return true
	}
	if !s.flowControl {
		return true
	}
	return s.sendWindow > 0
}

// HasQueuedOutput reports whether anything at all is queued, blocked or
// not; used by the session loop to decide whether a stream is done draining.
func (s *Stream) HasQueuedOutput() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outputQueue) > 0
}

// ApplyWindowUpdate adds delta to the stream's send window in response to
// a WINDOW_UPDATE frame. It returns an error if the resulting window
// would overflow the 31-bit range, in which case the caller must reset
// the stream with FLOW_CONTROL_ERROR.
func (s *Stream) ApplyWindowUpdate(delta uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	newWindow := s.sendWindow + int64(delta)
	if newWindow > int64(math.MaxInt32) {
		return errors.New("spdy: window update overflows 31-bit send window")
	}
	s.sendWindow = newWindow
	s.cond.Broadcast()
	return nil
}

// AdjustInitialWindow shifts the stream's send window by delta in
// response to a SETTINGS_INITIAL_WINDOW_SIZE change: every currently open
// stream's window moves by the same amount the session-wide initial
// window moved.
func (s *Stream) AdjustInitialWindow(delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendWindow += delta
	s.cond.Broadcast()
}

// IsClosed reports whether the stream is fully done: reset, or both
// halves closed with nothing left to flush.
func (s *Stream) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reset {
		return true
	}
	return s.recvHalfClosed && s.sendHalfClosed && len(s.outputQueue) == 0
}

// Abort marks the stream reset, discards its queues, and wakes any
// blocked caller on either side.
func (s *Stream) Abort(status framing.RstStreamStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reset {
		return
	}
	s.reset = true
	s.resetStatus = status
	s.inputQueue = nil
	s.outputQueue = nil
	s.cond.Broadcast()
}

// AbortAndNotify is Abort plus a flag for the session loop: it is used
// when the stream is reset from outside the session goroutine (a worker
// task failing abnormally) and the peer has not yet been told, unlike a
// protocol violation the session loop catches itself and RSTs inline.
// TakePendingRst delivers the notification on the session's own turn, so
// the wire write stays owned by the single session goroutine.
func (s *Stream) AbortAndNotify(status framing.RstStreamStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reset {
		return
	}
	s.reset = true
	s.resetStatus = status
	s.needsRstNotify = true
	s.inputQueue = nil
	s.outputQueue = nil
	s.cond.Broadcast()
}

// TakePendingRst reports and clears a pending AbortAndNotify
// notification, if any.
func (s *Stream) TakePendingRst() (framing.RstStreamStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.needsRstNotify {
		return 0, false
	}
	s.needsRstNotify = false
	return s.resetStatus, true
}

// IsReset reports whether the stream has been reset, and why.
func (s *Stream) IsReset() (bool, framing.RstStreamStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reset, s.resetStatus
}

// RecvHalfClosed reports whether the client has sent its FIN.
func (s *Stream) RecvHalfClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recvHalfClosed
}
