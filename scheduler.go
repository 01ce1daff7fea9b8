// Copyright (c) 2013, Daniel Morsing
// For more information, see the LICENSE file

package spdy

import (
	"sort"
	"sync"

	"github.com/yitian134/mod-spdy/framing"
)

// scheduler picks the next frame the session loop should write to the
// wire. It generalizes the teacher's outFramer: the teacher's heap of
// frameRq requests arbitrated a mutex over one shared connection writer;
// this scheduler instead merges two sources purely by priority, for a
// single-writer session loop to pull from directly.
//
//   - controlQueue carries session-originated control frames (SETTINGS,
//     PING replies, GOAWAY, session-level RST_STREAM, WINDOW_UPDATE) and
//     always wins over stream data: a session that is shutting down must
//     be able to get its GOAWAY out even while streams are backed up.
//   - Otherwise, the highest-priority (lowest Priority value) stream with
//     sendable output wins; streams tied on priority are serviced
//     round-robin via each Stream's lastServiced counter, so one
//     high-volume stream can't starve its same-priority siblings.
//   - A stream whose head-of-queue DATA item is window-blocked is skipped
//     for this pick, not removed from rotation: once its window reopens
//     it resumes competing exactly where round-robin left it.
type scheduler struct {
	mu           sync.Mutex
	controlQueue []framing.Frame
	registry     *streamRegistry
	counter      uint64
}

func newScheduler(registry *streamRegistry) *scheduler {
	return &scheduler{registry: registry}
}

// QueueControl enqueues a session-originated control frame with absolute
// priority over any stream's data.
func (sch *scheduler) QueueControl(f framing.Frame) {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	sch.controlQueue = append(sch.controlQueue, f)
}

// HasPendingControl reports whether a control frame is queued.
func (sch *scheduler) HasPendingControl() bool {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	return len(sch.controlQueue) > 0
}

// HasPendingWork reports whether the scheduler has anything it could
// write right now: a queued control frame, or a stream with sendable
// (non-window-blocked) output. The session loop uses this to decide
// whether its next read may block, and whether Draining is done.
func (sch *scheduler) HasPendingWork() bool {
	if sch.HasPendingControl() {
		return true
	}
	for _, str := range sch.registry.Snapshot() {
		if str.HasSendableOutput() {
			return true
		}
	}
	return false
}

// Next returns the next frame to write, or (nil, false) if nothing is
// currently sendable. maxDataBytes caps a popped DATA frame's payload.
func (sch *scheduler) Next(maxDataBytes int) (framing.Frame, bool) {
	sch.mu.Lock()
	if len(sch.controlQueue) > 0 {
		f := sch.controlQueue[0]
		sch.controlQueue = sch.controlQueue[1:]
		sch.mu.Unlock()
		return f, true
	}
	sch.mu.Unlock()

	streams := sch.registry.Snapshot()
	sendable := streams[:0:0]
	for _, str := range streams {
		if str.HasSendableOutput() {
			sendable = append(sendable, str)
		}
	}
	if len(sendable) == 0 {
		return nil, false
	}
	sort.Slice(sendable, func(i, j int) bool {
		if sendable[i].priority != sendable[j].priority {
			return sendable[i].priority < sendable[j].priority
		}
		return sendable[i].lastServiced < sendable[j].lastServiced
	})

	for _, str := range sendable {
		frame, status := str.PopOutput(maxDataBytes)
		if status != PopFrame {
			// lost the race with the worker goroutine that queued this
			// (e.g. a concurrent Abort); try the next candidate.
			continue
		}
		sch.mu.Lock()
		sch.counter++
		str.lastServiced = sch.counter
		sch.mu.Unlock()
		return frame, true
	}
	return nil, false
}
