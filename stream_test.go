// Copyright (c) 2013, Daniel Morsing
// For more information, see the LICENSE file

package spdy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yitian134/mod-spdy/framing"
)

func TestStreamPushAndGetInputFrame(t *testing.T) {
	str := NewStream(1, 0, 0, false, false, 0, 3)

	_, ok := str.GetInputFrame(false)
	assert.False(t, ok, "no input queued yet")

	data := &framing.DataFrame{StreamId: 1, Data: []byte("hi")}
	str.PushInput(data)

	got, ok := str.GetInputFrame(false)
	require.True(t, ok)
	assert.Equal(t, data, got)
}

func TestStreamPushInputSetsRecvHalfClosedOnFin(t *testing.T) {
	str := NewStream(1, 0, 0, false, false, 0, 3)
	str.PushInput(&framing.DataFrame{StreamId: 1, Flags: framing.DataFlagFin})
	assert.True(t, str.RecvHalfClosed())
}

func TestSendOutputAfterFinIsRejected(t *testing.T) {
	str := NewStream(1, 0, 0, false, false, 0, 3)
	require.NoError(t, str.SendOutputDataFrame([]byte("a"), true))
	err := str.SendOutputDataFrame([]byte("b"), false)
	assert.ErrorIs(t, err, ErrSendHalfClosed)
}

func TestSendOutputAfterResetIsRejected(t *testing.T) {
	str := NewStream(1, 0, 0, false, false, 0, 3)
	str.Abort(framing.RstCancel)
	err := str.SendOutputDataFrame([]byte("a"), false)
	assert.ErrorIs(t, err, ErrStreamReset)
}

func TestSendOutputSynStreamRequiresServerPush(t *testing.T) {
	str := NewStream(1, 0, 0, false, false, 0, 3)
	err := str.SendOutputSynStream(framing.Headers{}, false)
	assert.ErrorIs(t, err, ErrNotServerPush)

	push := NewStream(2, 1, 0, true, false, 0, 3)
	assert.NoError(t, push.SendOutputSynStream(framing.Headers{}, false))
}

func TestPopOutputFragmentsDataByWindow(t *testing.T) {
	// SUPPLEMENTED FEATURES #6: "foobar"+"quux"(FIN), window=3 ->
	// "foo","bar","quu","x"(FIN).
	str := NewStream(1, 0, 0, false, true, 3, 3)
	require.NoError(t, str.SendOutputDataFrame([]byte("foobar"), false))
	require.NoError(t, str.SendOutputDataFrame([]byte("quux"), true))

	var got []string
	for i := 0; i < 10; i++ {
		frame, status := str.PopOutput(1 << 14)
		if status == PopWindowBlocked {
			str.ApplyWindowUpdate(3)
			continue
		}
		if status == PopNone {
			break
		}
		d := frame.(*framing.DataFrame)
		got = append(got, string(d.Data))
		if d.Flags&framing.DataFlagFin != 0 {
			break
		}
	}
	assert.Equal(t, []string{"foo", "bar", "quu", "x"}, got)
}

func TestPopOutputWindowBlockedWithoutFlowControlNeverBlocks(t *testing.T) {
	str := NewStream(1, 0, 0, false, false, 0, 3) // v2-style, flowControl=false
	require.NoError(t, str.SendOutputDataFrame([]byte("abc"), true))
	frame, status := str.PopOutput(1 << 14)
	require.Equal(t, PopFrame, status)
	d := frame.(*framing.DataFrame)
	assert.Equal(t, []byte("abc"), d.Data)
	assert.NotZero(t, d.Flags&framing.DataFlagFin)
}

func TestEmptyFinDataFrameBypassesWindowCheck(t *testing.T) {
	str := NewStream(1, 0, 0, false, true, 0, 3) // zero window
	require.NoError(t, str.SendOutputDataFrame(nil, true))
	frame, status := str.PopOutput(1 << 14)
	require.Equal(t, PopFrame, status)
	d := frame.(*framing.DataFrame)
	assert.Empty(t, d.Data)
	assert.NotZero(t, d.Flags&framing.DataFlagFin)
}

func TestApplyWindowUpdateOverflowRejected(t *testing.T) {
	str := NewStream(1, 0, 0, false, true, 0, 3)
	err := str.ApplyWindowUpdate(0x80000000)
	assert.Error(t, err)
}

func TestIsClosedRequiresBothHalvesAndDrainedOutput(t *testing.T) {
	str := NewStream(1, 0, 0, false, false, 0, 3)
	assert.False(t, str.IsClosed())

	str.PushInput(&framing.DataFrame{StreamId: 1, Flags: framing.DataFlagFin})
	assert.False(t, str.IsClosed(), "recv half closed, send half still open")

	require.NoError(t, str.SendOutputDataFrame(nil, true))
	assert.False(t, str.IsClosed(), "FIN item still queued, not yet popped")

	_, status := str.PopOutput(1 << 14)
	require.Equal(t, PopFrame, status)
	assert.True(t, str.IsClosed())
}

func TestAbortDiscardsQueuesAndWakesBlockedReader(t *testing.T) {
	str := NewStream(1, 0, 0, false, false, 0, 3)
	done := make(chan struct{})
	go func() {
		_, ok := str.GetInputFrame(true)
		assert.False(t, ok)
		close(done)
	}()
	str.Abort(framing.RstCancel)
	<-done

	reset, status := str.IsReset()
	assert.True(t, reset)
	assert.Equal(t, framing.RstCancel, status)
}
