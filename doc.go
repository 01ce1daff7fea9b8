// Copyright (c) 2013, Daniel Morsing
// For more information, see the LICENSE file

package spdy

/*
 Internals documentation

 Each accepted connection gets one Session, running its Run loop on its
 own goroutine. Unlike an older design built from three cooperating
 goroutines (session, stream, outFramer) ferrying events over a web of
 channels, the whole read/dispatch/write cycle for a connection now lives
 in one synchronous loop; the only goroutines besides it are the
 SessionIO's background reader and the Executor's worker pool, both of
 which are capability interfaces the Session talks to rather than things
 it manages by hand.

 Session (session.go):

 Run alternates between reading whatever is available off the wire,
 dispatching every frame that parsed out of it, and writing the next frame
 the scheduler picks. It owns the registry of live streams and the
 session's own lifecycle (Startup, Running, Draining, Closed). Protocol
 violations at the session level — a duplicate or zero stream id, bad
 SYN_STREAM flags, a v2 peer trying to set the initial window, a SETTINGS
 value outside the 31-bit range — end the session with
 GOAWAY(PROTOCOL_ERROR). A violation scoped to one stream instead gets an
 RST_STREAM and the session carries on.

 Stream (stream.go):

 A Stream is the state shared between the session loop and that stream's
 worker task: an input queue the session pushes onto and the worker reads
 from, an output queue the worker pushes onto and the session's scheduler
 pops from, and the send-window accounting used when flow control is
 active (protocol version 3). Both queues and the reset flag are guarded
 by the same mutex; a sync.Cond lets a worker block on GetInputFrame
 without the session loop ever blocking in return.

 StreamTaskFactory / Executor (executor.go):

 When a SYN_STREAM is accepted, the session asks its StreamTaskFactory for
 a Task bound to the new Stream and hands it to the Executor. The
 production Executor is a bounded worker pool: an unbounded
 goroutine-per-stream design would let an adversarial client force
 unbounded goroutine growth just by opening streams. Tests use
 InlineExecutor instead, which runs tasks synchronously so a stream's
 whole worker lifecycle can be driven deterministically from the test
 body.

 scheduler (scheduler.go):

 The scheduler picks what the session writes next: session-originated
 control frames (SETTINGS, PING replies, GOAWAY, RST_STREAM) always win
 over stream data, and among streams with sendable output the
 highest-priority one goes first, with same-priority streams serviced
 round-robin so no single stream can starve its siblings.

 SessionIO (sessionio.go):

 SessionIO is the session's only way to touch the transport. The
 production implementation runs a background reader goroutine that feeds
 chunks to a channel pair, which lets ProcessAvailableInput support both
 the blocking read the session wants when it has nothing else to do and
 the non-blocking poll it wants otherwise, off a net.Conn that is neither
 by default.
*/
