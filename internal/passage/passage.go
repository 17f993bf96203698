/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package passage

import (
	"github.com/google/uuid"
)

// Passage is a time-bounded window into an audio file together with its fade
// and crossfade envelope. All times are ticks relative to the start of the
// audio file. A Passage is immutable once enqueued; per-queue-entry overrides
// are applied before it reaches the playback pipeline.
type Passage struct {
	// PassageID is nil for ephemeral (ad-hoc) passages.
	PassageID *uuid.UUID

	FilePath string

	StartTick int64

	// EndTick is nil when the end of the passage is the end of the file,
	// to be discovered by the decoder.
	EndTick *int64

	LeadInTick  int64
	LeadOutTick *int64

	FadeInTick  int64
	FadeOutTick *int64

	FadeInCurve  Curve
	FadeOutCurve Curve
}

// Ephemeral builds an ad-hoc passage for a file with no stored timing. Every
// optional point is unset and the decoder discovers the end.
func Ephemeral(filePath string) Passage {
	return Passage{
		FilePath:     filePath,
		FadeInCurve:  CurveExponential,
		FadeOutCurve: CurveLogarithmic,
	}
}

// Duration returns the passage duration in ticks, or 0 when the end is not
// yet known.
func (p Passage) Duration() int64 {
	if p.EndTick == nil {
		return 0
	}
	return *p.EndTick - p.StartTick
}

// IsEphemeral reports whether the passage has no persistent identity.
func (p Passage) IsEphemeral() bool {
	return p.PassageID == nil
}

// EffectiveEnd returns the passage end, preferring the stored end over the
// decoder-discovered one. Returns 0 and false when neither is known.
func (p Passage) EffectiveEnd(discoveredEnd *int64) (int64, bool) {
	if p.EndTick != nil {
		return *p.EndTick, true
	}
	if discoveredEnd != nil {
		return *discoveredEnd, true
	}
	return 0, false
}
