/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package fade applies fade-in and fade-out volume envelopes to decoded audio
// chunks. A Fader is created per passage when that passage's decode is
// scheduled and keeps its frame position across chunks so the envelope stays
// sample-accurate regardless of chunk size.
package fade

import (
	"github.com/friendsincode/melisma/internal/passage"
	"github.com/friendsincode/melisma/internal/timing"
)

// Fader holds the fade state for one passage at the working sample rate.
type Fader struct {
	fadeInFrames  int64
	fadeInCurve   passage.Curve
	fadeOutStart  int64
	fadeOutFrames int64
	fadeOutCurve  passage.Curve

	totalFrames  int64
	currentFrame int64

	passThrough bool
}

// New builds a fader from the passage timing envelope. When the passage end
// was undefined at enqueue, discoveredEndTick (from the decoder) supplies the
// endpoint; fade-out placement is derived from whichever end is known before
// the first chunk is processed.
//
// A fader whose fade-in and fade-out durations are both zero is in
// pass-through mode: chunks flow through untouched, bit for bit.
func New(p passage.Passage, sampleRate uint32, discoveredEndTick *int64) *Fader {
	fadeInTicks := p.FadeInTick - p.StartTick
	if fadeInTicks < 0 {
		fadeInTicks = 0
	}
	fadeInFrames := timing.TicksToSamples(fadeInTicks, sampleRate)

	end, known := p.EffectiveEnd(discoveredEndTick)
	if !known {
		// No defined or discovered endpoint yet. Run without a fade-out;
		// SetDiscoveredEnd installs it when the decoder reports EOF.
		f := &Fader{
			fadeInFrames: fadeInFrames,
			fadeInCurve:  p.FadeInCurve,
			fadeOutCurve: p.FadeOutCurve,
			fadeOutStart: int64(^uint64(0) >> 1),
		}
		f.passThrough = fadeInFrames == 0
		return f
	}

	totalFrames := timing.TicksToSamples(end-p.StartTick, sampleRate)

	fadeOutTick := end
	if p.FadeOutTick != nil && *p.FadeOutTick < end {
		fadeOutTick = *p.FadeOutTick
	}
	fadeOutStart := timing.TicksToSamples(fadeOutTick-p.StartTick, sampleRate)
	fadeOutFrames := totalFrames - fadeOutStart
	if fadeOutFrames < 0 {
		fadeOutFrames = 0
	}

	return &Fader{
		fadeInFrames:  fadeInFrames,
		fadeInCurve:   p.FadeInCurve,
		fadeOutStart:  fadeOutStart,
		fadeOutFrames: fadeOutFrames,
		fadeOutCurve:  p.FadeOutCurve,
		totalFrames:   totalFrames,
		passThrough:   fadeInFrames == 0 && fadeOutFrames == 0,
	}
}

// SetDiscoveredEnd installs the fade-out region once the decoder has
// discovered the passage end. The publication must land before the mixer
// reads any frame inside the fade-out region; the engine calls this from the
// same update that stores the endpoint on the queue entry.
func (f *Fader) SetDiscoveredEnd(p passage.Passage, sampleRate uint32, endTick int64, crossfadeTicks int64) {
	totalFrames := timing.TicksToSamples(endTick-p.StartTick, sampleRate)

	fadeOutTick := endTick - crossfadeTicks
	if p.FadeOutTick != nil && *p.FadeOutTick < endTick {
		fadeOutTick = *p.FadeOutTick
	}
	if fadeOutTick < p.StartTick {
		fadeOutTick = p.StartTick
	}

	f.totalFrames = totalFrames
	f.fadeOutStart = timing.TicksToSamples(fadeOutTick-p.StartTick, sampleRate)
	f.fadeOutFrames = totalFrames - f.fadeOutStart
	if f.fadeOutFrames < 0 {
		f.fadeOutFrames = 0
	}
	f.passThrough = f.fadeInFrames == 0 && f.fadeOutFrames == 0
}

// ProcessChunk applies the envelope in place to interleaved stereo samples
// and advances the frame position. In pass-through mode the samples are
// returned untouched.
func (f *Fader) ProcessChunk(samples []float32) {
	frameCount := int64(len(samples) / 2)

	if f.passThrough {
		f.currentFrame += frameCount
		return
	}

	for i := int64(0); i < frameCount; i++ {
		abs := f.currentFrame + i
		mult := 1.0

		if abs < f.fadeInFrames && f.fadeInFrames > 0 {
			mult *= f.fadeInCurve.FadeIn(float64(abs) / float64(f.fadeInFrames))
		}

		if abs >= f.fadeOutStart && f.fadeOutFrames > 0 {
			u := float64(abs-f.fadeOutStart) / float64(f.fadeOutFrames)
			if u > 1 {
				u = 1
			}
			mult *= f.fadeOutCurve.FadeOut(u)
		}

		samples[i*2] *= float32(mult)
		samples[i*2+1] *= float32(mult)
	}

	f.currentFrame += frameCount
}

// Multiplier returns the envelope value at an absolute frame position
// without consuming anything. Used by tests and diagnostics.
func (f *Fader) Multiplier(frame int64) float64 {
	if f.passThrough {
		return 1.0
	}
	mult := 1.0
	if frame < f.fadeInFrames && f.fadeInFrames > 0 {
		mult *= f.fadeInCurve.FadeIn(float64(frame) / float64(f.fadeInFrames))
	}
	if frame >= f.fadeOutStart && f.fadeOutFrames > 0 {
		u := float64(frame-f.fadeOutStart) / float64(f.fadeOutFrames)
		if u > 1 {
			u = 1
		}
		mult *= f.fadeOutCurve.FadeOut(u)
	}
	return mult
}

// Skip fast-forwards the envelope position without processing samples. Used
// after a seek so the envelope stays aligned with the passage timeline.
func (f *Fader) Skip(frames int64) {
	if frames < 0 {
		frames = 0
	}
	f.currentFrame = frames
}

// PassThrough reports whether the fader is a no-op.
func (f *Fader) PassThrough() bool { return f.passThrough }

// CurrentFrame returns the number of frames processed so far.
func (f *Fader) CurrentFrame() int64 { return f.currentFrame }

// FadeOutStart returns the frame at which the fade-out region begins.
func (f *Fader) FadeOutStart() int64 { return f.fadeOutStart }

// FadeOutDone reports whether the envelope has fully closed.
func (f *Fader) FadeOutDone() bool {
	if f.fadeOutFrames == 0 {
		return f.totalFrames > 0 && f.currentFrame >= f.totalFrames
	}
	return f.currentFrame >= f.fadeOutStart+f.fadeOutFrames
}
