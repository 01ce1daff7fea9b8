// Copyright (c) 2013, Daniel Morsing
// For more information, see the LICENSE file

package spdy

import (
	"sync"

	"github.com/yitian134/mod-spdy/framing"
)

// streamRegistry owns the session's live stream set. It is grounded on
// the teacher's session.streams map and lastClientStream bookkeeping
// (session.go's handleReq), generalized into its own type so the
// uniqueness and monotonicity invariants can be tested without a running
// session.
type streamRegistry struct {
	mu sync.Mutex

	streams map[framing.StreamId]*Stream

	lastClientStream framing.StreamId
	lastPushStream   framing.StreamId

	maxConcurrentStreams uint32
}

func newStreamRegistry(maxConcurrentStreams uint32) *streamRegistry {
	return &streamRegistry{
		streams:              make(map[framing.StreamId]*Stream),
		maxConcurrentStreams: maxConcurrentStreams,
	}
}

// registryError names why Add rejected a new client stream id.
type registryError int

const (
	registryOK registryError = iota
	// registryErrInvalidID: zero id, or not greater than the highest id
	// this session has already accepted from the client.
	registryErrInvalidID
	// registryErrDuplicateID: a stream with this id is still live.
	registryErrDuplicateID
	// registryErrRefused: the session is already at maxConcurrentStreams.
	registryErrRefused
)

// Add validates and registers a new client-initiated stream id, then
// constructs and stores its Stream. It enforces: the id is nonzero,
// strictly greater than every id previously accepted from the client
// (monotonicity), and not already live (uniqueness).
func (r *streamRegistry) Add(id framing.StreamId, priority framing.Priority, flowControl bool, initialWindow uint32, version int) (*Stream, registryError) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id == 0 {
		return nil, registryErrInvalidID
	}
	if _, live := r.streams[id]; live {
		return nil, registryErrDuplicateID
	}
	if id <= r.lastClientStream {
		return nil, registryErrInvalidID
	}
	if uint32(len(r.streams)) >= r.maxConcurrentStreams {
		return nil, registryErrRefused
	}

	r.lastClientStream = id
	str := NewStream(id, 0, priority, false, flowControl, initialWindow, version)
	r.streams[id] = str
	return str, registryOK
}

// AddPush registers a server-initiated (pushed) stream. Push stream ids
// are even and are allocated by the server itself, so there is no client
// input to validate beyond the association target existing.
func (r *streamRegistry) AddPush(associatedID framing.StreamId, priority framing.Priority, flowControl bool, initialWindow uint32, version int) (*Stream, registryError) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, live := r.streams[associatedID]; !live {
		return nil, registryErrInvalidID
	}

	r.lastPushStream += 2
	id := r.lastPushStream
	str := NewStream(id, associatedID, priority, true, flowControl, initialWindow, version)
	r.streams[id] = str
	return str, registryOK
}

func (r *streamRegistry) Get(id framing.StreamId) (*Stream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	str, ok := r.streams[id]
	return str, ok
}

// Remove drops a stream from the live set, e.g. once it has been
// destroyed or reset. It is idempotent.
func (r *streamRegistry) Remove(id framing.StreamId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, id)
}

// Count returns the number of currently live streams.
func (r *streamRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

// LastClientStreamID returns the highest stream id accepted from the
// client so far, for use in the LastGoodStreamId field of a GOAWAY.
func (r *streamRegistry) LastClientStreamID() framing.StreamId {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastClientStream
}

// Snapshot returns every currently live stream, for operations that must
// act on all of them (e.g. broadcasting a reset, or scanning for
// sendable output).
func (r *streamRegistry) Snapshot() []*Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Stream, 0, len(r.streams))
	for _, str := range r.streams {
		out = append(out, str)
	}
	return out
}

// RemoveClosed prunes every stream that has finished (IsClosed), and
// returns how many were removed.
func (r *streamRegistry) RemoveClosed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, str := range r.streams {
		if str.IsClosed() {
			delete(r.streams, id)
			n++
		}
	}
	return n
}
