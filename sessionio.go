// Copyright (c) 2013, Daniel Morsing
// For more information, see the LICENSE file

package spdy

import (
	"bufio"
	"io"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/yitian134/mod-spdy/framing"
)

// ReadStatus is the outcome of one SessionIO.ProcessAvailableInput call.
type ReadStatus int

const (
	ReadSuccess ReadStatus = iota
	ReadConnectionClosed
	ReadError
)

// WriteStatus is the outcome of one SessionIO.SendFrameRaw call.
type WriteStatus int

const (
	WriteSuccess WriteStatus = iota
	WriteConnectionClosed
	WriteError
)

// SessionIO abstracts the byte transport underneath a Session. The
// session loop is its sole caller; it is never used concurrently with
// itself.
type SessionIO interface {
	// ProcessAvailableInput reads whatever bytes are available and feeds
	// them to framer. If block is true and nothing is available yet, it
	// waits; if false, it returns ReadSuccess immediately when there is
	// nothing to read right now.
	ProcessAvailableInput(block bool, framer *framing.Framer) ReadStatus
	// SendFrameRaw writes one already-encoded frame's bytes to the
	// transport and flushes them.
	SendFrameRaw(raw []byte) WriteStatus
	// IsConnectionAborted reports whether the transport has been
	// externally aborted, independent of any read/write outcome.
	IsConnectionAborted() bool
}

// connSessionIO is the production SessionIO, backed by a net.Conn. It
// replaces the teacher's session.readFrames goroutine (which fed a
// framech channel read directly by the session select loop) with a
// background reader that feeds a channel pair, so ProcessAvailableInput
// can implement both the blocking and non-blocking cases §4.E step 2
// requires from a single net.Conn, which is blocking by default.
type connSessionIO struct {
	conn         net.Conn
	bw           *bufio.Writer
	writeTimeout time.Duration
	log          *zap.SugaredLogger

	readCh  chan []byte
	errCh   chan error
	abortCh chan struct{}
	aborted int32 // atomic bool
}

// newConnSessionIO wraps conn, starting a background reader immediately.
func newConnSessionIO(conn net.Conn, readTimeout, writeTimeout time.Duration, log *zap.SugaredLogger) *connSessionIO {
	io_ := &connSessionIO{
		conn:         conn,
		bw:           bufio.NewWriter(conn),
		writeTimeout: writeTimeout,
		log:          log,
		readCh:       make(chan []byte),
		errCh:        make(chan error, 1),
		abortCh:      make(chan struct{}),
	}
	go io_.readLoop(readTimeout)
	return io_
}

func (io_ *connSessionIO) readLoop(readTimeout time.Duration) {
	buf := make([]byte, 4096)
	for {
		if readTimeout != 0 {
			io_.conn.SetReadDeadline(time.Now().Add(readTimeout))
		}
		n, err := io_.conn.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case io_.readCh <- chunk:
			case <-io_.abortCh:
				return
			}
		}
		if err == nil {
			continue
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			// idle timeout, not a protocol-level condition: keep reading.
			continue
		}
		select {
		case io_.errCh <- err:
		case <-io_.abortCh:
		}
		return
	}
}

// ProcessAvailableInput implements SessionIO.
func (io_ *connSessionIO) ProcessAvailableInput(block bool, framer *framing.Framer) ReadStatus {
	if block {
		select {
		case chunk := <-io_.readCh:
			framer.Feed(chunk)
			return ReadSuccess
		case err := <-io_.errCh:
			return io_.classifyRead(err)
		case <-io_.abortCh:
			return ReadConnectionClosed
		}
	}
	select {
	case chunk := <-io_.readCh:
		framer.Feed(chunk)
		return ReadSuccess
	case err := <-io_.errCh:
		return io_.classifyRead(err)
	case <-io_.abortCh:
		return ReadConnectionClosed
	default:
		return ReadSuccess
	}
}

func (io_ *connSessionIO) classifyRead(err error) ReadStatus {
	if err == io.EOF {
		return ReadConnectionClosed
	}
	if ne, ok := err.(net.Error); ok && !ne.Temporary() {
		return ReadConnectionClosed
	}
	io_.log.Debugw("session transport read failed", "err", err)
	return ReadError
}

// SendFrameRaw implements SessionIO.
func (io_ *connSessionIO) SendFrameRaw(raw []byte) WriteStatus {
	if io_.writeTimeout != 0 {
		io_.conn.SetWriteDeadline(time.Now().Add(io_.writeTimeout))
	}
	if _, err := io_.bw.Write(raw); err != nil {
		return io_.classifyWrite(err)
	}
	if err := io_.bw.Flush(); err != nil {
		return io_.classifyWrite(err)
	}
	return WriteSuccess
}

func (io_ *connSessionIO) classifyWrite(err error) WriteStatus {
	if ne, ok := err.(net.Error); ok && !ne.Temporary() {
		return WriteConnectionClosed
	}
	io_.log.Debugw("session transport write failed", "err", err)
	return WriteError
}

// IsConnectionAborted implements SessionIO.
func (io_ *connSessionIO) IsConnectionAborted() bool {
	return atomic.LoadInt32(&io_.aborted) != 0
}

// Abort marks the transport aborted and wakes any blocked read.
func (io_ *connSessionIO) Abort() {
	if atomic.CompareAndSwapInt32(&io_.aborted, 0, 1) {
		close(io_.abortCh)
	}
}

// Close aborts and closes the underlying connection.
func (io_ *connSessionIO) Close() error {
	io_.Abort()
	return io_.conn.Close()
}
