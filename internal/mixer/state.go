/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mixer

import (
	"github.com/friendsincode/melisma/internal/fade"
	"github.com/friendsincode/melisma/internal/queue"
	"github.com/friendsincode/melisma/internal/ringbuf"
)

// StreamState tracks one passage's progress through the mixer.
type StreamState int

const (
	// StatePending: decoder running, no frames yet.
	StatePending StreamState = iota
	// StatePrebuffering: below the minimum buffer threshold.
	StatePrebuffering
	// StateReady: enough buffered to begin.
	StateReady
	// StatePlaying: contributing frames to the output.
	StatePlaying
	// StateFadingOut: inside the fade-out region.
	StateFadingOut
	// StateDraining: decoder complete, buffer emptying.
	StateDraining
	// StateRetired: fully consumed.
	StateRetired
)

func (s StreamState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StatePrebuffering:
		return "prebuffering"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StateFadingOut:
		return "fading_out"
	case StateDraining:
		return "draining"
	case StateRetired:
		return "retired"
	default:
		return "unknown"
	}
}

// stream is the mixer-side view of one passage: its queue entry, its ring
// buffer and its fade envelope, plus the playback position within it.
type stream struct {
	entry queue.Entry
	buf   *ringbuf.Buffer
	fader *fade.Fader
	state StreamState

	// position is frames emitted from this passage so far.
	position int64

	// leadOutFrame is the crossfade trigger; negative until the passage
	// end is known.
	leadOutFrame int64

	// crossfadeTicks is the clamped effective crossfade time used when the
	// trigger was computed.
	crossfadeTicks int64
}

// refreshState advances the pre-playback part of the state machine from the
// buffer's fill level. Frame-driven: called once per produce chunk.
func (s *stream) refreshState(minBufferFrames int64) {
	if s.state == StatePending && (s.buf.Occupied() > 0 || s.buf.IsComplete()) {
		s.state = StatePrebuffering
	}
	if s.state == StatePrebuffering && (int64(s.buf.Occupied()) >= minBufferFrames || s.buf.IsComplete()) {
		s.state = StateReady
	}
}

// playable reports whether the stream may contribute non-silent output.
func (s *stream) playable() bool {
	switch s.state {
	case StateReady, StatePlaying, StateFadingOut, StateDraining:
		return true
	default:
		return false
	}
}
