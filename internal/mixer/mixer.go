/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package mixer locates the current and next passage ring buffers, applies
// their fade envelopes, overlaps them through the crossfade window and emits
// exactly the number of frames the output driver asks for.
//
// Produce runs on the realtime audio thread. Everything it touches is either
// owned by the mixer, atomic, or guarded by a mutex it only ever TryLocks: a
// contended lock yields one chunk of silence instead of a blocked callback.
package mixer

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/friendsincode/melisma/internal/fade"
	"github.com/friendsincode/melisma/internal/queue"
	"github.com/friendsincode/melisma/internal/ringbuf"
	"github.com/friendsincode/melisma/internal/timing"
)

// TransitionKind tags a state change recorded by the audio thread.
type TransitionKind uint8

const (
	// TransitionStarted: a passage produced its first audible frame.
	TransitionStarted TransitionKind = iota
	// TransitionCompleted: a passage drained and retired.
	TransitionCompleted
	// TransitionFailed: a passage's buffer entered the failed state.
	TransitionFailed
)

// Transition is a fixed-size record of a passage state change. The audio
// thread hands these to the engine through a buffered channel with a
// non-blocking send; the engine turns them into bus events.
type Transition struct {
	Kind         TransitionKind
	QueueEntryID uuid.UUID
}

// Snapshot is an atomic view of mixer progress for observables.
type Snapshot struct {
	CurrentEntryID   *uuid.UUID
	CurrentState     StreamState
	CurrentPosition  int64 // frames into the current passage
	NextEntryID      *uuid.UUID
	NextState        StreamState
	Underruns        uint64
	CurrentBufferFill int
	NextBufferFill    int
}

// AdvanceFunc is the signature of a callback taking the queue entry id of a
// retired passage. The mixer never calls one: retirements reach the engine
// through the Transitions channel, and the engine advances the queue.
type AdvanceFunc func(retired uuid.UUID)

// Mixer mixes the current and next passage into the output stream.
type Mixer struct {
	sampleRate uint32

	mu      sync.Mutex
	current *stream
	next    *stream

	minBufferFrames int64
	crossfadeTicks  int64 // global crossfade time

	volumeBits atomic.Uint64 // math.Float64bits of the volume scalar
	underruns  atomic.Uint64

	transitions chan Transition

	scratchA []float32
	scratchB []float32
}

// maxChunkFrames bounds the per-callback scratch buffers. Host periods are
// far below this; a larger request is filled in slices.
const maxChunkFrames = 8192

// New creates a mixer for the working sample rate.
func New(sampleRate uint32, minBufferFrames int64, crossfadeTicks int64) *Mixer {
	m := &Mixer{
		sampleRate:      sampleRate,
		minBufferFrames: minBufferFrames,
		crossfadeTicks:  crossfadeTicks,
		transitions:     make(chan Transition, 64),
		scratchA:        make([]float32, maxChunkFrames*2),
		scratchB:        make([]float32, maxChunkFrames*2),
	}
	m.SetVolume(1.0)
	return m
}

// Transitions returns the channel the engine drains for passage events.
func (m *Mixer) Transitions() <-chan Transition { return m.transitions }

// SetVolume stores the output volume scalar, clamped to [0,1].
func (m *Mixer) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	m.volumeBits.Store(floatBits(v))
}

// Volume returns the current volume scalar.
func (m *Mixer) Volume() float64 {
	return bitsFloat(m.volumeBits.Load())
}

// Underruns returns the cumulative count of zero-filled frames.
func (m *Mixer) Underruns() uint64 { return m.underruns.Load() }

// SetCrossfadeTicks updates the global crossfade time.
func (m *Mixer) SetCrossfadeTicks(ticks int64) {
	m.mu.Lock()
	m.crossfadeTicks = ticks
	if m.current != nil {
		m.current.leadOutFrame = -1 // recompute on next produce
	}
	m.mu.Unlock()
}

// SetCurrent installs the stream for the passage now playing. Re-installing
// the stream already playing is a no-op (apart from refreshing its entry),
// so queue churn never disturbs a passage in flight.
func (m *Mixer) SetCurrent(entry queue.Entry, buf *ringbuf.Buffer, fader *fade.Fader) {
	m.mu.Lock()
	if m.current != nil && m.current.entry.QueueEntryID == entry.QueueEntryID && m.current.buf == buf {
		m.current.entry = entry
		m.current.leadOutFrame = -1
		m.mu.Unlock()
		return
	}
	// The entry may still be held as next (skip promoted it before the
	// audio thread did); move the existing stream so position survives
	// and the passage is never mixed against itself.
	if m.next != nil && m.next.entry.QueueEntryID == entry.QueueEntryID && m.next.buf == buf {
		m.current = m.next
		m.current.entry = entry
		m.current.leadOutFrame = -1
		m.next = nil
		m.mu.Unlock()
		return
	}
	m.current = &stream{entry: entry, buf: buf, fader: fader, state: StatePending, leadOutFrame: -1}
	m.mu.Unlock()
}

// SetNext installs the pre-buffered next stream, or clears it with nil.
// Like SetCurrent, re-installing the same stream only refreshes its entry.
// The current stream's crossfade trigger is invalidated either way: the
// effective crossfade time is clamped against the next passage's duration,
// so a next attached (or replaced) after the trigger was resolved must
// force a recompute.
func (m *Mixer) SetNext(entry *queue.Entry, buf *ringbuf.Buffer, fader *fade.Fader) {
	m.mu.Lock()
	if m.current != nil {
		m.current.leadOutFrame = -1
	}
	if entry == nil {
		m.next = nil
		m.mu.Unlock()
		return
	}
	if m.next != nil && m.next.entry.QueueEntryID == entry.QueueEntryID && m.next.buf == buf {
		m.next.entry = *entry
		m.next.leadOutFrame = -1
		m.mu.Unlock()
		return
	}
	m.next = &stream{entry: *entry, buf: buf, fader: fader, state: StatePending, leadOutFrame: -1}
	m.mu.Unlock()
}

// ClearCurrent drops the current stream immediately (skip); the former next
// is promoted on the following produce cycle.
func (m *Mixer) ClearCurrent() {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
}

// Clear drops both streams (clear queue, stop).
func (m *Mixer) Clear() {
	m.mu.Lock()
	m.current = nil
	m.next = nil
	m.mu.Unlock()
}

// NotifyDiscoveredEnd invalidates the crossfade trigger for the entry so it
// is recomputed with the discovered endpoint. The engine calls this together
// with Fader.SetDiscoveredEnd, before the mixer can read into the fade-out
// region (publication happens while the region is still below the high
// watermark of undecoded audio).
func (m *Mixer) NotifyDiscoveredEnd(id uuid.UUID) {
	m.mu.Lock()
	if m.current != nil && m.current.entry.QueueEntryID == id {
		m.current.leadOutFrame = -1
	}
	if m.next != nil && m.next.entry.QueueEntryID == id {
		m.next.leadOutFrame = -1
	}
	m.mu.Unlock()
}

// SeekCurrent rebinds the current stream to a fresh buffer/fader pair after
// a seek, preserving the entry but resetting position to positionFrames.
func (m *Mixer) SeekCurrent(entry queue.Entry, buf *ringbuf.Buffer, fader *fade.Fader, positionFrames int64) {
	m.mu.Lock()
	m.current = &stream{
		entry:        entry,
		buf:          buf,
		fader:        fader,
		state:        StatePending,
		position:     positionFrames,
		leadOutFrame: -1,
	}
	m.mu.Unlock()
}

// Position returns the current passage playback position in frames.
func (m *Mixer) Position() (uuid.UUID, int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return uuid.UUID{}, 0, false
	}
	return m.current.entry.QueueEntryID, m.current.position, true
}

// State returns an observability snapshot.
func (m *Mixer) State() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{Underruns: m.underruns.Load()}
	if m.current != nil {
		id := m.current.entry.QueueEntryID
		snap.CurrentEntryID = &id
		snap.CurrentState = m.current.state
		snap.CurrentPosition = m.current.position
		snap.CurrentBufferFill = m.current.buf.Occupied()
	}
	if m.next != nil {
		id := m.next.entry.QueueEntryID
		snap.NextEntryID = &id
		snap.NextState = m.next.state
		snap.NextBufferFill = m.next.buf.Occupied()
	}
	return snap
}

// Produce fills dst (interleaved stereo) with exactly len(dst)/2 frames.
// Runs on the audio thread: no allocation, no blocking. When the state lock
// is contended by a control operation the whole chunk is silence.
func (m *Mixer) Produce(dst []float32) {
	frames := len(dst) / 2
	if frames == 0 {
		return
	}

	if !m.mu.TryLock() {
		zero(dst)
		return
	}

	for off := 0; off < frames; {
		n := frames - off
		if n > maxChunkFrames {
			n = maxChunkFrames
		}
		m.produceChunk(dst[off*2 : (off+n)*2])
		off += n
	}

	m.mu.Unlock()

	// Volume and saturation are the final stage.
	vol := float32(bitsFloat(m.volumeBits.Load()))
	for i := range dst {
		v := dst[i] * vol
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		dst[i] = v
	}
}

// produceChunk fills one bounded chunk. Lock held.
func (m *Mixer) produceChunk(dst []float32) {
	frames := int64(len(dst) / 2)

	// A vanished current (skip, clear) promotes next immediately; the
	// incoming passage plays fade-in only.
	if m.current == nil && m.next != nil {
		m.current = m.next
		m.next = nil
	}

	cur := m.current
	if cur == nil {
		zero(dst)
		return
	}

	if cur.buf.IsFailed() {
		// Failed decode: treat as immediately complete.
		m.retireCurrent(TransitionFailed)
		zero(dst)
		return
	}

	cur.refreshState(m.minBufferFrames)
	if !cur.playable() {
		// Startup gate: silence before the threshold is not an underrun.
		zero(dst)
		return
	}

	m.refreshLeadOut(cur)

	crossfading := false
	if cur.leadOutFrame >= 0 && cur.position >= cur.leadOutFrame && m.next != nil {
		m.next.refreshState(m.minBufferFrames)
		if m.next.playable() {
			crossfading = true
		}
	}

	// Pull the current stream through its fader.
	a := m.scratchA[:frames*2]
	m.pullFaded(cur, a)

	if !crossfading {
		copy(dst, a)
	} else {
		nxt := m.next
		b := m.scratchB[:frames*2]
		m.pullFaded(nxt, b)
		for i := range a {
			dst[i] = a[i] + b[i]
		}
		if nxt.state == StateReady {
			nxt.state = StatePlaying
			m.emit(Transition{Kind: TransitionStarted, QueueEntryID: nxt.entry.QueueEntryID})
		}
	}

	if cur.state == StateReady {
		cur.state = StatePlaying
		m.emit(Transition{Kind: TransitionStarted, QueueEntryID: cur.entry.QueueEntryID})
	}
	if cur.fader.CurrentFrame() >= cur.fader.FadeOutStart() && cur.state == StatePlaying {
		cur.state = StateFadingOut
	}
	if cur.buf.IsComplete() && cur.state == StateFadingOut {
		cur.state = StateDraining
	}

	// Retirement: the passage retires as soon as its buffer is drained; the
	// fader's fade-out progress is not consulted.
	if cur.buf.IsDrained() {
		m.retireCurrent(TransitionCompleted)
	}
}

// pullFaded pulls frames through the stream's fader, zero-filling and
// counting an underrun for any missing remainder.
func (m *Mixer) pullFaded(s *stream, dst []float32) {
	got := s.buf.Pull(dst)
	missing := len(dst)/2 - got
	if missing > 0 {
		zero(dst[got*2:])
		// Missing frames after completion are just the end of the
		// passage, not an underrun.
		if !s.buf.IsComplete() {
			m.underruns.Add(uint64(missing))
		}
	}
	s.fader.ProcessChunk(dst[:got*2])
	s.position += int64(got)

	// Advance the fader over the zero-filled gap too, so the envelope
	// stays aligned with wall-clock playback position.
	if missing > 0 && !s.buf.IsComplete() {
		s.fader.ProcessChunk(dst[got*2:])
		s.position += int64(missing)
	}
}

// retireCurrent finishes the current passage and promotes next. Lock held.
func (m *Mixer) retireCurrent(kind TransitionKind) {
	cur := m.current
	cur.state = StateRetired
	m.emit(Transition{Kind: kind, QueueEntryID: cur.entry.QueueEntryID})

	m.current = m.next
	m.next = nil
}

// refreshLeadOut computes the crossfade trigger once the passage end is
// known. Pure integer math; safe on the audio thread. Lock held.
func (m *Mixer) refreshLeadOut(s *stream) {
	if s.leadOutFrame >= 0 {
		return
	}

	end, known := s.entry.EffectiveEnd()
	if !known {
		if endTick, ok := s.buf.DiscoveredEndTick(); ok {
			end, known = endTick, true
		}
	}
	if !known {
		return
	}

	p := s.entry.Passage
	remaining := end - p.StartTick

	effective := m.crossfadeTicks
	if half := remaining / 2; effective > half {
		effective = half
	}
	if m.next != nil {
		if nextEnd, ok := m.next.entry.EffectiveEnd(); ok {
			nextTotal := nextEnd - m.next.entry.Passage.StartTick
			if half := nextTotal / 2; effective > half {
				effective = half
			}
		}
	}
	if effective < 0 {
		effective = 0
	}
	s.crossfadeTicks = effective

	leadOutTick := end - effective
	if p.LeadOutTick != nil {
		leadOutTick = *p.LeadOutTick
	}
	if leadOutTick < p.LeadInTick {
		leadOutTick = p.LeadInTick
	}

	s.leadOutFrame = timing.TicksToSamples(leadOutTick-p.StartTick, m.sampleRate)
}

// emit hands a transition to the engine without blocking; a full channel
// drops the record (delivery is best-effort by contract).
func (m *Mixer) emit(t Transition) {
	select {
	case m.transitions <- t:
	default:
	}
}

func zero(s []float32) {
	for i := range s {
		s[i] = 0
	}
}
