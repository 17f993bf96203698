/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package passage

import (
	"github.com/rs/zerolog"
)

// Correction records one field the validator had to clamp.
type Correction struct {
	Field string
	Was   int64
	Now   int64
}

// Validate normalizes a passage's timing envelope in place and returns the
// corrections it applied. It never rejects: values outside the legal ordering
// are clamped into range and each clamp is logged as a diagnostic.
//
// Clamping order: start<end, fade_in within [start,end], lead_in within
// [start,end], lead_out within [start,end] and >= lead_in, fade_out within
// [start,end] and >= fade_in. Applying Validate to an already valid passage
// changes nothing, so the operation is idempotent.
func Validate(p *Passage, logger zerolog.Logger) []Correction {
	var corrections []Correction

	clamp := func(field string, v, lo, hi int64) int64 {
		if hi < lo {
			hi = lo
		}
		clamped := v
		if clamped < lo {
			clamped = lo
		}
		if clamped > hi {
			clamped = hi
		}
		if clamped != v {
			corrections = append(corrections, Correction{Field: field, Was: v, Now: clamped})
			logger.Warn().
				Str("field", field).
				Int64("was", v).
				Int64("now", clamped).
				Str("file", p.FilePath).
				Msg("passage timing clamped")
		}
		return clamped
	}

	if p.StartTick < 0 {
		corrections = append(corrections, Correction{Field: "start_time", Was: p.StartTick, Now: 0})
		logger.Warn().
			Int64("was", p.StartTick).
			Str("file", p.FilePath).
			Msg("negative passage start clamped to zero")
		p.StartTick = 0
	}

	// With no known end the envelope upper bound is open; only the lower
	// bounds can be enforced until the decoder discovers the endpoint.
	end := int64(0)
	hasEnd := p.EndTick != nil
	if hasEnd {
		end = *p.EndTick
		if end <= p.StartTick {
			was := end
			end = p.StartTick + 1
			*p.EndTick = end
			corrections = append(corrections, Correction{Field: "end_time", Was: was, Now: end})
			logger.Warn().
				Int64("was", was).
				Int64("now", end).
				Str("file", p.FilePath).
				Msg("passage end clamped past start")
		}
	}

	upper := func(v int64) int64 {
		if hasEnd && v > end {
			return end
		}
		return v
	}

	p.FadeInTick = clamp("fade_in_point", p.FadeInTick, p.StartTick, upper(p.FadeInTick))
	p.LeadInTick = clamp("lead_in_point", p.LeadInTick, p.StartTick, upper(p.LeadInTick))

	if p.LeadOutTick != nil {
		v := clamp("lead_out_point", *p.LeadOutTick, p.LeadInTick, upper(*p.LeadOutTick))
		*p.LeadOutTick = v
	}

	if p.FadeOutTick != nil {
		v := clamp("fade_out_point", *p.FadeOutTick, p.FadeInTick, upper(*p.FadeOutTick))
		*p.FadeOutTick = v
	}

	if p.FadeInCurve == "" {
		p.FadeInCurve = CurveExponential
	}
	if p.FadeOutCurve == "" {
		p.FadeOutCurve = CurveLogarithmic
	}

	return corrections
}
