// Copyright (c) 2013, Daniel Morsing
// For more information, see the LICENSE file

package spdy

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/yitian134/mod-spdy/framing"
)

// State is one of the session's lifecycle states: §4.E.
type State int

const (
	Startup State = iota
	Running
	Draining
	Closed
)

func (st State) String() string {
	switch st {
	case Startup:
		return "Startup"
	case Running:
		return "Running"
	case Draining:
		return "Draining"
	case Closed:
		return "Closed"
	default:
		return "unknown"
	}
}

// validSynStreamFlags is the only bitmask a SYN_STREAM's flags byte may
// carry; anything else is a protocol violation (SUPPLEMENTED FEATURES #1).
const validSynStreamFlags = framing.FlagFin | framing.FlagUnidirectional

// Session is the top-level state machine driving one connection: §4.E.
// It replaces the teacher's channel-select session.serve loop (session.go's
// serve/dispatch) with a single-goroutine, synchronous Run method, since
// every external dependency (SessionIO, Executor) is now its own
// capability interface rather than a hand-rolled channel protocol.
type Session struct {
	version     int
	config      *Config
	registry    *streamRegistry
	scheduler   *scheduler
	framer      *framing.Framer
	io          SessionIO
	taskFactory StreamTaskFactory
	executor    Executor
	log         *zap.SugaredLogger

	state             State
	initialSendWindow uint32
	goAwaySent        bool
	framesSeen        int

	doneCh chan struct{}
}

// NewSession constructs a Session for one accepted connection. version
// must be 2 or 3.
func NewSession(version int, config *Config, io SessionIO, taskFactory StreamTaskFactory, executor Executor, log *zap.SugaredLogger) *Session {
	registry := newStreamRegistry(config.MaxConcurrentStreams)
	return &Session{
		version:           version,
		config:            config,
		registry:          registry,
		scheduler:         newScheduler(registry),
		framer:            framing.NewFramer(version),
		io:                io,
		taskFactory:       taskFactory,
		executor:          executor,
		log:               log,
		initialSendWindow: 64 << 10,
		doneCh:            make(chan struct{}),
	}
}

// State reports the session's current lifecycle state.
func (s *Session) State() State { return s.state }

// Done is closed once Run has returned.
func (s *Session) Done() <-chan struct{} { return s.doneCh }

// Run drives the session loop to completion: Startup, then Running and
// Draining iterations, until Closed. It returns once the session is
// fully shut down; the caller is expected to run it on its own goroutine.
func (s *Session) Run() {
	defer close(s.doneCh)
	defer s.executor.Stop()

	if !s.emitStartupSettings() {
		s.state = Closed
		return
	}
	s.state = Running

	for s.state != Closed {
		s.runIteration()
	}
}

// emitStartupSettings sends the server's SETTINGS frame directly,
// bypassing the scheduler: it must be the first frame on the wire,
// unconditionally (§8 invariant).
func (s *Session) emitStartupSettings() bool {
	settings := &framing.SettingsFrame{FlagIdValues: []framing.SettingsFlagIdValue{
		{Id: framing.SettingsMaxConcurrentStreams, Value: s.config.MaxConcurrentStreams},
	}}
	raw, err := s.framer.Encode(settings)
	if err != nil {
		s.log.Errorw("failed to encode startup SETTINGS", "err", err)
		return false
	}
	return s.io.SendFrameRaw(raw) == WriteSuccess
}

// runIteration is one pass of the Running/Draining loop: §4.E step 2-5.
func (s *Session) runIteration() {
	if s.io.IsConnectionAborted() {
		s.state = Closed
		return
	}

	block := s.registry.Count() == 0 && !s.scheduler.HasPendingWork()
	switch s.io.ProcessAvailableInput(block, s.framer) {
	case ReadConnectionClosed:
		s.onReadClosed()
		if s.state == Closed {
			return
		}
	case ReadError:
		s.state = Closed
		return
	}

	for {
		frame, ok := s.framer.NextFrame()
		if !ok {
			break
		}
		s.framesSeen++
		s.handleFrame(frame)
	}

	if s.framer.Err() != nil {
		s.goAwayForKind(classifyFramerErr(s.framer.Err()))
	}

	for _, str := range s.registry.Snapshot() {
		if status, ok := str.TakePendingRst(); ok {
			s.sendRstRaw(str.id, status)
		}
	}

	s.registry.RemoveClosed()

	if frame, ok := s.scheduler.Next(maxDataFrameSize); ok {
		raw, err := s.framer.Encode(frame)
		if err != nil {
			s.log.Errorw("failed to encode outgoing frame", "err", err, "frame", fmt.Sprintf("%T", frame))
			s.state = Closed
			return
		}
		switch s.io.SendFrameRaw(raw) {
		case WriteConnectionClosed, WriteError:
			s.state = Closed
			return
		}
	}

	if s.state == Draining {
		// Drained once every live stream has finished producing output and
		// all of it is written; an open client half does not hold it open.
		drained := !s.scheduler.HasPendingWork()
		for _, str := range s.registry.Snapshot() {
			str.mu.Lock()
			producing := !str.reset && !str.sendHalfClosed
			str.mu.Unlock()
			if producing || str.HasQueuedOutput() {
				drained = false
			}
		}
		switch {
		case drained && !s.goAwaySent:
			s.goAway(framing.GoAwayOK)
		case drained && s.goAwaySent:
			s.state = Closed
		}
	}
}

// onReadClosed handles a ReadConnectionClosed outcome. A connection that
// closes before this session ever did anything ends quietly, with no
// GOAWAY — there is nothing to announce to a peer that is already gone.
// Once any frame has been processed, the same event instead reads as the
// peer being done, and the session drains gracefully with a final
// GOAWAY(OK), matching the two contrasting scenarios in §8 (1 vs 2).
func (s *Session) onReadClosed() {
	if s.framesSeen == 0 {
		s.state = Closed
		return
	}
	if s.state == Running {
		s.state = Draining
	}
}

// goAway queues a GOAWAY frame with absolute priority, at most once per
// session, and moves a still-Running session into Draining. Emitting the
// frame itself is gated on Config.SendGoawayOnShutdown (§6 Configuration):
// when disabled, the session still transitions to Draining/Closed on
// schedule, it just never announces why to a peer that asked not to be
// told.
func (s *Session) goAway(status framing.GoAwayStatus) {
	if s.goAwaySent {
		return
	}
	s.goAwaySent = true
	if s.config.SendGoawayOnShutdown {
		s.scheduler.QueueControl(&framing.GoAwayFrame{
			LastGoodStreamId: s.registry.LastClientStreamID(),
			Status:           status,
		})
	}
	if s.state == Running {
		s.state = Draining
	}
}

// goAwayForKind routes a classified error through the SessionGoAwayStatus
// mapping (§7 Error handling design, component H); kinds with no
// session-level GOAWAY (PerStreamViolation, FlowControlViolation,
// TaskFailure, TransportClosed, TransportError) are no-ops here.
func (s *Session) goAwayForKind(kind ErrorKind) {
	if status, ok := kind.SessionGoAwayStatus(); ok {
		s.goAway(status)
	}
}

// sendRstRaw queues an RST_STREAM with absolute priority, independent of
// whether the stream is still registered.
func (s *Session) sendRstRaw(id framing.StreamId, status framing.RstStreamStatus) {
	s.scheduler.QueueControl(&framing.RstStreamFrame{StreamId: id, Status: status})
}

// resetStream aborts a live stream's worker and tells the peer why.
func (s *Session) resetStream(str *Stream, status framing.RstStreamStatus) {
	str.Abort(status)
	s.sendRstRaw(str.id, status)
}

func (s *Session) handleFrame(f framing.Frame) {
	switch fr := f.(type) {
	case *framing.PingFrame:
		s.handlePing(fr)
	case *framing.SettingsFrame:
		s.handleSettings(fr)
	case *framing.WindowUpdateFrame:
		s.handleWindowUpdate(fr)
	case *framing.SynStreamFrame:
		s.handleSynStream(fr)
	case *framing.DataFrame:
		s.handleData(fr)
	case *framing.HeadersFrame:
		s.handleHeaders(fr)
	case *framing.GoAwayFrame:
		s.handleClientGoAway(fr)
	case *framing.RstStreamFrame:
		s.handleRstStream(fr)
	default:
		s.log.Warnw("unhandled frame type", "type", fmt.Sprintf("%T", fr))
	}
}

// handlePing always replies with the same id; this core never originates
// pings of its own (§6).
func (s *Session) handlePing(ping *framing.PingFrame) {
	s.scheduler.QueueControl(&framing.PingFrame{Id: ping.Id})
}

// handleSettings applies SETTINGS_INITIAL_WINDOW_SIZE, the only setting
// this core tracks; every other id is accepted and ignored. On v2 the
// setting itself is a protocol violation; on v3, out-of-range values are.
func (s *Session) handleSettings(settings *framing.SettingsFrame) {
	for _, fv := range settings.FlagIdValues {
		if fv.Id != framing.SettingsInitialWindowSize {
			continue
		}
		if s.version == 2 {
			s.goAwayForKind(ErrKindProtocolViolation)
			return
		}
		if fv.Value == 0 || fv.Value > 0x7fffffff {
			s.goAwayForKind(ErrKindProtocolViolation)
			return
		}
		delta := int64(fv.Value) - int64(s.initialSendWindow)
		s.initialSendWindow = fv.Value
		for _, str := range s.registry.Snapshot() {
			str.AdjustInitialWindow(delta)
		}
	}
}

// handleWindowUpdate applies an inbound WINDOW_UPDATE to the named
// stream's send window. Unknown/closed streams are silently ignored.
func (s *Session) handleWindowUpdate(upd *framing.WindowUpdateFrame) {
	str, ok := s.registry.Get(upd.StreamId)
	if !ok {
		return
	}
	if err := str.ApplyWindowUpdate(upd.DeltaWindowSize); err != nil {
		s.resetStream(str, ErrKindFlowControlViolation.RstStatus())
	}
}

// handleSynStream validates and, if accepted, registers a new stream and
// dispatches its worker task: §4.E step 3 SYN_STREAM bullet.
func (s *Session) handleSynStream(syn *framing.SynStreamFrame) {
	if s.state != Running {
		// RstRefusedStream has no ErrorKind of its own: it means "this
		// session is already shutting down", not a protocol or per-stream
		// violation, so it deliberately bypasses the taxonomy rather than
		// being forced into ErrKindPerStreamViolation's RstInvalidStream.
		s.sendRstRaw(syn.StreamId, framing.RstRefusedStream)
		return
	}
	if syn.Flags & ^validSynStreamFlags != 0 {
		s.goAwayForKind(ErrKindProtocolViolation)
		return
	}
	if syn.StreamId == 0 {
		s.goAwayForKind(ErrKindProtocolViolation)
		return
	}

	str, rerr := s.registry.Add(syn.StreamId, syn.Priority, s.version == 3, s.initialSendWindow, s.version)
	switch rerr {
	case registryOK:
	case registryErrRefused:
		// same deliberate bypass as the Running check above: the registry
		// is simply full, not violating the protocol.
		s.sendRstRaw(syn.StreamId, framing.RstRefusedStream)
		return
	default: // registryErrInvalidID or registryErrDuplicateID
		s.goAwayForKind(ErrKindProtocolViolation)
		return
	}

	if !hasRequiredHeaders(syn.Headers, s.version) {
		s.registry.Remove(str.id)
		s.goAwayForKind(ErrKindProtocolViolation)
		return
	}

	str.PushInput(syn)
	task := s.taskFactory.NewStreamTask(str)
	s.executor.AddTask(str, task, syn.Priority)
}

// requiredHeaderNames names AddRequiredHeaders' header set per protocol
// version (SUPPLEMENTED FEATURES #3): v2 uses unprefixed names, v3 uses
// the colon-prefixed convention.
func requiredHeaderNames(version int) []string {
	if version == 2 {
		return []string{"host", "method", "scheme", "url", "version"}
	}
	return []string{":host", ":method", ":scheme", ":path", ":version"}
}

func hasRequiredHeaders(h framing.Headers, version int) bool {
	for _, name := range requiredHeaderNames(version) {
		if _, ok := h[name]; !ok {
			return false
		}
	}
	return true
}

// handleData routes an inbound DATA frame to its stream, or RSTs an
// unknown or already half-closed target (§7 per-stream violation).
func (s *Session) handleData(data *framing.DataFrame) {
	str, ok := s.registry.Get(data.StreamId)
	if !ok || str.RecvHalfClosed() {
		s.sendRstRaw(data.StreamId, ErrKindPerStreamViolation.RstStatus())
		return
	}
	str.PushInput(data)
}

// handleHeaders routes an inbound HEADERS frame the same way handleData
// routes DATA.
func (s *Session) handleHeaders(hdrs *framing.HeadersFrame) {
	str, ok := s.registry.Get(hdrs.StreamId)
	if !ok || str.RecvHalfClosed() {
		s.sendRstRaw(hdrs.StreamId, ErrKindPerStreamViolation.RstStatus())
		return
	}
	str.PushInput(hdrs)
}

// handleClientGoAway moves a Running session into Draining; the
// session's own GOAWAY(OK) follows once everything already in flight has
// drained (§9 Open Question resolution: GOAWAY never drops queued output).
func (s *Session) handleClientGoAway(_ *framing.GoAwayFrame) {
	if s.state == Running {
		s.state = Draining
	}
}

// handleRstStream aborts the named stream's worker immediately.
func (s *Session) handleRstStream(rst *framing.RstStreamFrame) {
	str, ok := s.registry.Get(rst.StreamId)
	if !ok {
		return
	}
	str.Abort(rst.Status)
	s.registry.Remove(str.id)
}
