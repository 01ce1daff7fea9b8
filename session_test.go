// Copyright (c) 2013, Daniel Morsing
// For more information, see the LICENSE file

package spdy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yitian134/mod-spdy/framing"
)

// fakeSessionIO is a scriptable SessionIO test double: it feeds one queued
// chunk per ProcessAvailableInput call, then reports the connection closed,
// and records every frame the session sends, mirroring mod_spdy's approach
// of driving a session off a small scripted transport instead of a live
// socket (original_source/'s spdy_session_test.cc).
type fakeSessionIO struct {
	version int
	chunks  [][]byte
	idx     int

	sent        []framing.Frame
	writeStatus WriteStatus
	aborted     bool
}

func newFakeSessionIO(version int, frames ...framing.Frame) *fakeSessionIO {
	f := &fakeSessionIO{version: version, writeStatus: WriteSuccess}
	enc := framing.NewFramer(version)
	for _, fr := range frames {
		raw, err := enc.Encode(fr)
		if err != nil {
			panic(err)
		}
		f.chunks = append(f.chunks, raw)
	}
	return f
}

func newFakeSessionIORawChunks(version int, chunks ...[]byte) *fakeSessionIO {
	return &fakeSessionIO{version: version, chunks: chunks, writeStatus: WriteSuccess}
}

func (f *fakeSessionIO) ProcessAvailableInput(block bool, framer *framing.Framer) ReadStatus {
	if f.idx < len(f.chunks) {
		chunk := f.chunks[f.idx]
		f.idx++
		framer.Feed(chunk)
		return ReadSuccess
	}
	return ReadConnectionClosed
}

func (f *fakeSessionIO) SendFrameRaw(raw []byte) WriteStatus {
	if f.writeStatus != WriteSuccess {
		return f.writeStatus
	}
	dec := framing.NewFramer(f.version)
	if err := dec.Feed(raw); err == nil {
		if frame, ok := dec.NextFrame(); ok {
			f.sent = append(f.sent, frame)
		}
	}
	return WriteSuccess
}

func (f *fakeSessionIO) IsConnectionAborted() bool { return f.aborted }

func v3Headers() framing.Headers {
	return framing.Headers{
		":host":    {"example.com"},
		":method":  {"GET"},
		":scheme":  {"https"},
		":path":    {"/"},
		":version": {"HTTP/1.1"},
	}
}

type echoTaskFactory struct{}

func (echoTaskFactory) NewStreamTask(str *Stream) Task { return &echoTask{str: str} }

type echoTask struct{ str *Stream }

func (e *echoTask) Run() {
	e.str.GetInputFrame(true)
	e.str.SendOutputSynReply(framing.Headers{":status": {"200 OK"}}, false)
	e.str.SendOutputDataFrame([]byte("ok"), true)
}
func (e *echoTask) Cancel() {}

func noopFactory() StreamTaskFactory {
	return StreamTaskFactoryFunc(func(str *Stream) Task { return echoTaskFactory{}.NewStreamTask(str) })
}

func TestSessionEmptyInputCleanShutdown(t *testing.T) {
	io := newFakeSessionIO(3)
	sess := NewSession(3, DefaultConfig(), io, noopFactory(), NewInlineExecutor(true), NewDevelopmentLogger())
	sess.Run()

	assert.Equal(t, Closed, sess.State())
	for _, fr := range io.sent {
		_, isGoAway := fr.(*framing.GoAwayFrame)
		assert.False(t, isGoAway, "a connection that never sent anything gets no GOAWAY")
	}
}

func TestSessionSinglePing(t *testing.T) {
	io := newFakeSessionIO(3, &framing.PingFrame{Id: 42})
	sess := NewSession(3, DefaultConfig(), io, noopFactory(), NewInlineExecutor(true), NewDevelopmentLogger())
	sess.Run()

	assert.Equal(t, Closed, sess.State())
	var gotPing, gotGoAway bool
	for _, fr := range io.sent {
		switch f := fr.(type) {
		case *framing.PingFrame:
			if f.Id == 42 {
				gotPing = true
			}
		case *framing.GoAwayFrame:
			if f.Status == framing.GoAwayOK {
				gotGoAway = true
			}
		}
	}
	assert.True(t, gotPing, "ping must be echoed back with the same id")
	assert.True(t, gotGoAway, "a session that processed at least one frame drains with GOAWAY(OK)")
}

func TestSessionSingleStreamRunsTaskAndSendsReply(t *testing.T) {
	syn := &framing.SynStreamFrame{StreamId: 1, Flags: framing.FlagFin, Headers: v3Headers()}
	io := newFakeSessionIO(3, syn)
	sess := NewSession(3, DefaultConfig(), io, noopFactory(), NewInlineExecutor(true), NewDevelopmentLogger())
	sess.Run()

	assert.Equal(t, Closed, sess.State())
	var gotReply, gotData bool
	for _, fr := range io.sent {
		switch f := fr.(type) {
		case *framing.SynReplyFrame:
			if f.StreamId == 1 {
				gotReply = true
			}
		case *framing.DataFrame:
			if f.StreamId == 1 && string(f.Data) == "ok" && f.Flags&framing.DataFlagFin != 0 {
				gotData = true
			}
		}
	}
	assert.True(t, gotReply)
	assert.True(t, gotData)
}

func TestSessionShutsDownIfSendFrameRawFails(t *testing.T) {
	syn := &framing.SynStreamFrame{StreamId: 1, Flags: framing.FlagFin, Headers: v3Headers()}
	io := newFakeSessionIO(3, syn)
	io.writeStatus = WriteError
	sess := NewSession(3, DefaultConfig(), io, noopFactory(), NewInlineExecutor(true), NewDevelopmentLogger())
	sess.Run()
	assert.Equal(t, Closed, sess.State())
}

func TestSessionGoAwayForGarbageInput(t *testing.T) {
	// a control-frame header claiming a type this core doesn't know.
	garbage := []byte{0x80, 0x03, 0x00, 0x63, 0x00, 0x00, 0x00, 0x00}
	io := newFakeSessionIORawChunks(3, garbage)
	sess := NewSession(3, DefaultConfig(), io, noopFactory(), NewInlineExecutor(true), NewDevelopmentLogger())
	sess.Run()

	assert.Equal(t, Closed, sess.State())
	var gotGoAway bool
	for _, fr := range io.sent {
		if g, ok := fr.(*framing.GoAwayFrame); ok && g.Status == framing.GoAwayProtocolError {
			gotGoAway = true
		}
	}
	assert.True(t, gotGoAway)
}

func TestSessionGoAwayForDuplicateStreamId(t *testing.T) {
	syn1 := &framing.SynStreamFrame{StreamId: 1, Headers: v3Headers()}
	syn2 := &framing.SynStreamFrame{StreamId: 1, Headers: v3Headers()}
	io := newFakeSessionIO(3, syn1, syn2)
	sess := NewSession(3, DefaultConfig(), io, noopFactory(), NewInlineExecutor(true), NewDevelopmentLogger())
	sess.Run()

	var gotGoAway bool
	for _, fr := range io.sent {
		if g, ok := fr.(*framing.GoAwayFrame); ok && g.Status == framing.GoAwayProtocolError {
			gotGoAway = true
		}
	}
	assert.True(t, gotGoAway)
}

func TestSessionGoAwayForSynStreamIdZero(t *testing.T) {
	syn := &framing.SynStreamFrame{StreamId: 0, Headers: v3Headers()}
	io := newFakeSessionIO(3, syn)
	sess := NewSession(3, DefaultConfig(), io, noopFactory(), NewInlineExecutor(true), NewDevelopmentLogger())
	sess.Run()

	var gotGoAway bool
	for _, fr := range io.sent {
		if g, ok := fr.(*framing.GoAwayFrame); ok && g.Status == framing.GoAwayProtocolError {
			gotGoAway = true
		}
	}
	require.True(t, gotGoAway)
}

func TestSessionGoAwayForSynStreamWithInvalidFlags(t *testing.T) {
	syn := &framing.SynStreamFrame{StreamId: 1, Flags: 0x04, Headers: v3Headers()}
	io := newFakeSessionIO(3, syn)
	sess := NewSession(3, DefaultConfig(), io, noopFactory(), NewInlineExecutor(true), NewDevelopmentLogger())
	sess.Run()

	var gotGoAway bool
	for _, fr := range io.sent {
		if g, ok := fr.(*framing.GoAwayFrame); ok && g.Status == framing.GoAwayProtocolError {
			gotGoAway = true
		}
	}
	assert.True(t, gotGoAway)
}

func TestSessionGoAwayForSynStreamWithMissingRequiredHeaders(t *testing.T) {
	syn := &framing.SynStreamFrame{StreamId: 1, Headers: framing.Headers{
		":host":   {"example.com"},
		":method": {"GET"},
		// :scheme, :path and :version are deliberately missing.
	}}
	io := newFakeSessionIO(3, syn)
	sess := NewSession(3, DefaultConfig(), io, noopFactory(), NewInlineExecutor(true), NewDevelopmentLogger())
	sess.Run()

	assert.Equal(t, Closed, sess.State())
	var gotGoAway bool
	for _, fr := range io.sent {
		if g, ok := fr.(*framing.GoAwayFrame); ok && g.Status == framing.GoAwayProtocolError {
			gotGoAway = true
		}
	}
	assert.True(t, gotGoAway, "a SYN_STREAM missing required headers never passed admission, so it is a SYN_STREAM validation failure (GOAWAY), not a per-stream violation on an already-live stream")
}

func TestSessionV2RejectsInitialWindowSizeSetting(t *testing.T) {
	settings := &framing.SettingsFrame{FlagIdValues: []framing.SettingsFlagIdValue{
		{Id: framing.SettingsInitialWindowSize, Value: 1024},
	}}
	io := newFakeSessionIO(2, settings)
	sess := NewSession(2, DefaultConfig(), io, noopFactory(), NewInlineExecutor(true), NewDevelopmentLogger())
	sess.Run()

	// a v2 GOAWAY carries no status on the wire, so the rejection is seen
	// as a GOAWAY plus an unchanged initial send window.
	var gotGoAway bool
	for _, fr := range io.sent {
		if _, ok := fr.(*framing.GoAwayFrame); ok {
			gotGoAway = true
		}
	}
	assert.True(t, gotGoAway, "v2 must not accept SETTINGS_INITIAL_WINDOW_SIZE")
	assert.Equal(t, uint32(64<<10), sess.initialSendWindow, "v2 must not apply SETTINGS_INITIAL_WINDOW_SIZE")
}

func TestSessionV3RejectsOutOfRangeInitialWindowSize(t *testing.T) {
	settings := &framing.SettingsFrame{FlagIdValues: []framing.SettingsFlagIdValue{
		{Id: framing.SettingsInitialWindowSize, Value: 0},
	}}
	io := newFakeSessionIO(3, settings)
	sess := NewSession(3, DefaultConfig(), io, noopFactory(), NewInlineExecutor(true), NewDevelopmentLogger())
	sess.Run()

	var gotGoAway bool
	for _, fr := range io.sent {
		if g, ok := fr.(*framing.GoAwayFrame); ok && g.Status == framing.GoAwayProtocolError {
			gotGoAway = true
		}
	}
	assert.True(t, gotGoAway)
}

type panickingTaskFactory struct{}

func (panickingTaskFactory) NewStreamTask(str *Stream) Task { return &panickingStreamTask{} }

type panickingStreamTask struct{}

func (p *panickingStreamTask) Run()    { panic("worker exploded") }
func (p *panickingStreamTask) Cancel() {}

func TestSessionPanickingTaskGetsRstInternalErrorNotDeadlock(t *testing.T) {
	syn := &framing.SynStreamFrame{StreamId: 1, Flags: framing.FlagFin, Headers: v3Headers()}
	io := newFakeSessionIO(3, syn)
	sess := NewSession(3, DefaultConfig(), io, panickingTaskFactory{}, NewInlineExecutor(true), NewDevelopmentLogger())
	sess.Run()

	assert.Equal(t, Closed, sess.State())
	var gotRst bool
	for _, fr := range io.sent {
		if r, ok := fr.(*framing.RstStreamFrame); ok && r.StreamId == 1 && r.Status == framing.RstInternalError {
			gotRst = true
		}
	}
	assert.True(t, gotRst, "a panicking worker task must leave the session able to RST and prune its stream, not hang it open forever")
}

func TestSessionSendGoawayOnShutdownFalseSuppressesGoAway(t *testing.T) {
	io := newFakeSessionIO(3, &framing.PingFrame{Id: 42})
	cfg := DefaultConfig()
	cfg.SendGoawayOnShutdown = false
	sess := NewSession(3, cfg, io, noopFactory(), NewInlineExecutor(true), NewDevelopmentLogger())
	sess.Run()

	assert.Equal(t, Closed, sess.State(), "the draining timeline itself is unaffected by the flag")
	for _, fr := range io.sent {
		_, isGoAway := fr.(*framing.GoAwayFrame)
		assert.False(t, isGoAway, "send_goaway_on_shutdown=false must suppress the GOAWAY frame entirely")
	}
}

func TestSessionV3RejectsInitialWindowSizeAboveRange(t *testing.T) {
	settings := &framing.SettingsFrame{FlagIdValues: []framing.SettingsFlagIdValue{
		{Id: framing.SettingsInitialWindowSize, Value: 0x80000000},
	}}
	io := newFakeSessionIO(3, settings)
	sess := NewSession(3, DefaultConfig(), io, noopFactory(), NewInlineExecutor(true), NewDevelopmentLogger())
	sess.Run()

	var gotGoAway bool
	for _, fr := range io.sent {
		if g, ok := fr.(*framing.GoAwayFrame); ok && g.Status == framing.GoAwayProtocolError {
			gotGoAway = true
		}
	}
	assert.True(t, gotGoAway, "v3's SETTINGS_INITIAL_WINDOW_SIZE upper bound is 2^31-1; one past it must be rejected the same as zero")
}

func TestSessionWindowUpdateOverflowResetsStreamOnly(t *testing.T) {
	syn := &framing.SynStreamFrame{StreamId: 1, Headers: v3Headers()}
	upd := &framing.WindowUpdateFrame{StreamId: 1, DeltaWindowSize: 0x7fffffff}
	io := newFakeSessionIO(3, syn, upd)
	sess := NewSession(3, DefaultConfig(), io, noopFactory(), NewInlineExecutor(true), NewDevelopmentLogger())
	sess.Run()

	var gotRst bool
	for _, fr := range io.sent {
		if r, ok := fr.(*framing.RstStreamFrame); ok && r.StreamId == 1 && r.Status == framing.RstFlowControlError {
			gotRst = true
		}
	}
	assert.True(t, gotRst, "an overflowing WINDOW_UPDATE resets only the offending stream")
	assert.Equal(t, Closed, sess.State(), "the session itself drains normally once the reset stream is gone")
}
