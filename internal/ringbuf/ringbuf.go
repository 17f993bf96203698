/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package ringbuf implements the bounded single-producer/single-consumer PCM
// FIFO that sits between a decoder worker and the audio thread. One decoder
// goroutine writes, the audio callback reads; nothing else may touch the
// sample storage. All coordination is through atomics, so neither side ever
// takes a lock or allocates.
package ringbuf

import (
	"sync/atomic"
)

const channels = 2

// Stats is a snapshot of a buffer's lifetime accounting.
type Stats struct {
	FramesWritten uint64
	FramesRead    uint64
	ShortReads    uint64
}

// Buffer is a bounded SPSC FIFO of interleaved stereo float32 frames.
//
// The write cursor is owned by the producer and the read cursor by the
// consumer; each side only ever stores its own cursor and loads the other's,
// which keeps Push and Pull wait-free.
type Buffer struct {
	data     []float32
	capacity uint64 // frames

	writePos atomic.Uint64 // frames ever written (producer owned)
	readPos  atomic.Uint64 // frames ever read (consumer owned)

	highWatermark uint64
	lowWatermark  uint64

	completed atomic.Bool
	failed    atomic.Bool

	discoveredEndTick atomic.Int64 // -1 until the decoder reports EOF

	shortReads atomic.Uint64
}

// New allocates a buffer holding capacityFrames stereo frames. Watermarks
// default to 90% (high) and 50% (low) of capacity.
func New(capacityFrames int) *Buffer {
	if capacityFrames < 1 {
		capacityFrames = 1
	}
	b := &Buffer{
		data:          make([]float32, capacityFrames*channels),
		capacity:      uint64(capacityFrames),
		highWatermark: uint64(capacityFrames) * 9 / 10,
		lowWatermark:  uint64(capacityFrames) / 2,
	}
	b.discoveredEndTick.Store(-1)
	return b
}

// SetWatermarks overrides the hysteresis thresholds. Must be called before
// the producer starts.
func (b *Buffer) SetWatermarks(low, high int) {
	if high > int(b.capacity) {
		high = int(b.capacity)
	}
	if low > high {
		low = high
	}
	if low < 0 {
		low = 0
	}
	b.lowWatermark = uint64(low)
	b.highWatermark = uint64(high)
}

// Capacity returns the buffer capacity in frames.
func (b *Buffer) Capacity() int { return int(b.capacity) }

// Occupied returns the number of frames currently buffered. The value may be
// stale by one concurrent push or pull, which both sides tolerate.
func (b *Buffer) Occupied() int {
	return int(b.writePos.Load() - b.readPos.Load())
}

// AboveHighWatermark reports whether the producer should stop pushing.
func (b *Buffer) AboveHighWatermark() bool {
	return uint64(b.Occupied()) >= b.highWatermark
}

// BelowLowWatermark reports whether a paused producer may resume.
func (b *Buffer) BelowLowWatermark() bool {
	return uint64(b.Occupied()) < b.lowWatermark
}

// Push appends up to len(samples)/2 frames and returns the number of frames
// accepted, which is less than requested when the buffer is near capacity.
// Never blocks, never allocates. Producer only.
func (b *Buffer) Push(samples []float32) int {
	frames := uint64(len(samples) / channels)
	if frames == 0 {
		return 0
	}

	w := b.writePos.Load()
	r := b.readPos.Load()
	free := b.capacity - (w - r)
	if frames > free {
		frames = free
	}
	if frames == 0 {
		return 0
	}

	for i := uint64(0); i < frames; i++ {
		pos := ((w + i) % b.capacity) * channels
		b.data[pos] = samples[i*channels]
		b.data[pos+1] = samples[i*channels+1]
	}

	b.writePos.Store(w + frames)
	return int(frames)
}

// Pull copies up to len(dst)/2 frames into dst and returns the number of
// frames delivered. A short read leaves the remainder of dst untouched; the
// caller zero-fills and accounts the underrun. Never blocks. Consumer only.
func (b *Buffer) Pull(dst []float32) int {
	frames := uint64(len(dst) / channels)
	if frames == 0 {
		return 0
	}

	w := b.writePos.Load()
	r := b.readPos.Load()
	avail := w - r
	short := frames > avail
	if short {
		frames = avail
	}

	for i := uint64(0); i < frames; i++ {
		pos := ((r + i) % b.capacity) * channels
		dst[i*channels] = b.data[pos]
		dst[i*channels+1] = b.data[pos+1]
	}

	b.readPos.Store(r + frames)
	if short && !b.completed.Load() {
		b.shortReads.Add(1)
	}
	return int(frames)
}

// MarkComplete records that the producer has decoded the whole passage.
// Called exactly once by the decoder.
func (b *Buffer) MarkComplete() {
	b.completed.Store(true)
}

// IsComplete reports whether the producer has finished.
func (b *Buffer) IsComplete() bool {
	return b.completed.Load()
}

// MarkFailed transitions the buffer to its terminal failed state. The mixer
// treats a failed buffer as immediately complete silence.
func (b *Buffer) MarkFailed() {
	b.failed.Store(true)
	b.completed.Store(true)
}

// IsFailed reports whether the producer aborted.
func (b *Buffer) IsFailed() bool {
	return b.failed.Load()
}

// IsDrained reports whether the passage is fully decoded and fully consumed.
// Once true it holds forever: the producer has stopped and reads only ever
// remove frames.
func (b *Buffer) IsDrained() bool {
	return b.completed.Load() && b.Occupied() == 0
}

// SetDiscoveredEndTick publishes the decoder-discovered passage end. Must be
// stored before MarkComplete so the consumer observes the endpoint no later
// than completion.
func (b *Buffer) SetDiscoveredEndTick(tick int64) {
	b.discoveredEndTick.Store(tick)
}

// DiscoveredEndTick returns the decoder-discovered end, or false when the
// decoder has not reported one.
func (b *Buffer) DiscoveredEndTick() (int64, bool) {
	v := b.discoveredEndTick.Load()
	return v, v >= 0
}

// Snapshot returns lifetime counters for diagnostics.
func (b *Buffer) Snapshot() Stats {
	return Stats{
		FramesWritten: b.writePos.Load(),
		FramesRead:    b.readPos.Load(),
		ShortReads:    b.shortReads.Load(),
	}
}
