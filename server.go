// Copyright (c) 2013, Daniel Morsing
// For more information, see the LICENSE file

// Package spdy implements the server side of a multiplexed, framed
// HTTP-alternative protocol corresponding to SPDY v2 and v3: a Session
// per connection mediates between the wire, a pool of per-stream worker
// tasks, and the client.
//
// SPDY is normally deployed on the HTTPS port with the protocol
// negotiated over TLS via NPN. To fall back to plain HTTP/1.1 when the
// client doesn't speak SPDY, Server starts an HTTPS listener and forwards
// non-SPDY connections to FallbackHandler. Disable the fallback by
// providing a TLSConfig whose NextProtos omits "http/1.1".
package spdy

import (
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Server defines the parameters for running a SPDY server.
type Server struct {
	Addr string // TCP address to listen on. ":https" if empty.

	// TaskFactory produces the per-stream worker task for every accepted
	// SYN_STREAM. If nil, Handler must be set instead and an
	// HTTPTaskFactory wrapping it is used.
	TaskFactory StreamTaskFactory

	// Handler serves SPDY streams the same way it would serve HTTP/1.1
	// requests, via HTTPTaskFactory. Ignored if TaskFactory is set.
	Handler http.Handler

	// Config holds the session-construction options (§6); DefaultConfig()
	// is used if nil.
	Config *Config

	// FallbackHandler serves connections that negotiate http/1.1 instead
	// of a SPDY protocol. If nil, the HTTPS fallback is effectively
	// disabled: such connections are simply dropped.
	FallbackHandler http.Handler

	ReadTimeout  time.Duration // Maximum duration before timing out on reads.
	WriteTimeout time.Duration // Maximum duration before timing out on writes.

	// Workers is the number of worker goroutines in each session's
	// ThreadPoolExecutor. Defaults to 8 if zero.
	Workers int

	// TLSConfig is the optional TLS config used for ListenAndServeTLS.
	TLSConfig *tls.Config

	// Log receives structured events from the server and every session it
	// accepts. Defaults to NewProductionLogger() if nil.
	Log *zap.SugaredLogger
}

// ListenAndServeTLS listens on srv.Addr and calls Serve to handle incoming
// connections. certFile and keyFile must be filenames to a valid
// certificate and key pair.
func (srv *Server) ListenAndServeTLS(certFile, keyFile string) error {
	config := &tls.Config{}
	if srv.TLSConfig == nil {
		srv.TLSConfig = config
	} else {
		config = srv.TLSConfig
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return errors.Wrap(err, "spdy: load TLS key pair")
	}
	config.Certificates = []tls.Certificate{cert}

	spdyAvail, httpAvail := srv.validateNPN(config)
	if !spdyAvail {
		return errors.New("spdy: server configured without any spdy/* protocol in NextProtos")
	}

	l, err := srv.negotiateListen(srv.addr(), httpAvail)
	if err != nil {
		return err
	}
	return srv.Serve(l)
}

// validateNPN validates NextProtos and reports which protocol families
// are available. If NextProtos is unset, both SPDY (v2 and v3) and
// http/1.1 are made available.
func (srv *Server) validateNPN(config *tls.Config) (spdyAvail, httpAvail bool) {
	np := config.NextProtos
	if np == nil {
		config.NextProtos = []string{"spdy/3", "spdy/2", "http/1.1"}
		return true, true
	}
	for _, v := range np {
		switch v {
		case "spdy/3", "spdy/2":
			spdyAvail = true
		case "http/1.1":
			httpAvail = true
		}
	}
	return
}

// ListenAndServe listens and serves on srv.Addr without TLS. Since SPDY
// relies on TLS for protocol negotiation, this assumes version 3 for
// every connection; it exists for local testing, matching the teacher's
// method of the same name.
func (srv *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", srv.addr())
	if err != nil {
		return errors.Wrap(err, "spdy: listen")
	}
	return srv.Serve(l)
}

// Serve serves connections off the provided listener. It is the
// listener's responsibility to negotiate the protocol used; Serve reads
// back a negotiated version from *versionedConn when present, and
// otherwise assumes version 3.
func (srv *Server) Serve(l net.Listener) error {
	for {
		c, err := l.Accept()
		if err != nil {
			srv.log().Errorw("accept failed", "err", err)
			continue
		}
		version := 3
		if vc, ok := c.(*versionedConn); ok {
			version = vc.version
			c = vc.Conn
		}
		go srv.serveConn(c, version)
	}
}

func (srv *Server) serveConn(c net.Conn, version int) {
	cfg := srv.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logger := srv.log()

	sio := newConnSessionIO(c, srv.ReadTimeout, srv.WriteTimeout, logger)
	defer sio.Close()

	executor := NewThreadPoolExecutor(srv.workers(), logger)
	sess := NewSession(version, cfg, sio, srv.taskFactory(), executor, logger)
	sess.Run()
}

func (srv *Server) taskFactory() StreamTaskFactory {
	if srv.TaskFactory != nil {
		return srv.TaskFactory
	}
	return &HTTPTaskFactory{Handler: srv.Handler}
}

func (srv *Server) workers() int {
	if srv.Workers > 0 {
		return srv.Workers
	}
	return 8
}

func (srv *Server) log() *zap.SugaredLogger {
	if srv.Log != nil {
		return srv.Log
	}
	return NewProductionLogger()
}

func (srv *Server) addr() string {
	if srv.Addr != "" {
		return srv.Addr
	}
	return ":https"
}

// versionedConn tags a negotiated connection with which SPDY wire version
// it agreed to speak.
type versionedConn struct {
	net.Conn
	version int
}

// negotiateListen creates a listener that negotiates SPDY connections via
// NPN. If http is available, non-SPDY connections are forwarded to the
// fallback HTTP server.
func (srv *Server) negotiateListen(addr string, httpAvail bool) (net.Listener, error) {
	l, err := tls.Listen("tcp", addr, srv.TLSConfig)
	if err != nil {
		return nil, errors.Wrap(err, "spdy: tls listen")
	}
	ngl := &negotiateListen{Listener: l, log: srv.log()}
	if httpAvail && srv.FallbackHandler != nil {
		ch, fwl := newForwardListen(ngl)
		ngl.httpch = ch
		go srv.startHTTPFallback(fwl)
	}
	return ngl, nil
}

// negotiateListen is a listener that negotiates SPDY connections and
// forwards non-SPDY ones to the fallback server.
type negotiateListen struct {
	net.Listener
	httpch chan net.Conn
	log    *zap.SugaredLogger
}

func (nl *negotiateListen) Accept() (net.Conn, error) {
	for {
		c, err := nl.Listener.Accept()
		if err != nil {
			return nil, err
		}
		ctls, ok := c.(*tls.Conn)
		if !ok {
			return c, nil
		}
		if err := ctls.Handshake(); err != nil {
			nl.log.Warnw("tls handshake failed", "err", err)
			ctls.Close()
			continue
		}
		switch ctls.ConnectionState().NegotiatedProtocol {
		case "spdy/3":
			return &versionedConn{Conn: ctls, version: 3}, nil
		case "spdy/2":
			return &versionedConn{Conn: ctls, version: 2}, nil
		case "http/1.1", "":
			if nl.httpch != nil {
				nl.httpch <- c
				continue
			}
			fallthrough
		default:
			c.Close()
		}
	}
}

// forwardListen provides a listener interface for the fallback HTTP
// server; connections arrive via a channel fed by negotiateListen.
type forwardListen struct {
	ch chan net.Conn
	l  net.Listener
}

func (f *forwardListen) Accept() (net.Conn, error) {
	c, ok := <-f.ch
	if !ok {
		return nil, io.EOF
	}
	return c, nil
}

func (f *forwardListen) Close() error   { close(f.ch); return nil }
func (f *forwardListen) Addr() net.Addr { return f.l.Addr() }

func newForwardListen(l net.Listener) (chan net.Conn, *forwardListen) {
	ch := make(chan net.Conn)
	return ch, &forwardListen{ch: ch, l: l}
}

func (srv *Server) startHTTPFallback(l net.Listener) error {
	httpServer := http.Server{
		Handler:      srv.FallbackHandler,
		ReadTimeout:  srv.ReadTimeout,
		WriteTimeout: srv.WriteTimeout,
		TLSConfig:    srv.TLSConfig,
	}
	return httpServer.Serve(l)
}
