/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package passage

import "math"

// Curve selects the shape of a volume fade.
type Curve string

const (
	CurveLinear      Curve = "linear"
	CurveExponential Curve = "exponential"
	CurveLogarithmic Curve = "logarithmic"
	CurveSCurve      Curve = "s_curve"
)

// ParseCurve maps a stored curve name to a Curve, falling back to the given
// default for unknown or empty names.
func ParseCurve(name string, fallback Curve) Curve {
	switch Curve(name) {
	case CurveLinear, CurveExponential, CurveLogarithmic, CurveSCurve:
		return Curve(name)
	default:
		return fallback
	}
}

// FadeIn evaluates the fade-in multiplier for progress u in [0,1].
//
// Linear rises at a constant rate, Exponential starts slow (u squared),
// Logarithmic starts fast (square root), SCurve is the smoothstep cubic.
func (c Curve) FadeIn(u float64) float64 {
	if u <= 0 {
		return 0
	}
	if u >= 1 {
		return 1
	}

	switch c {
	case CurveLinear:
		return u
	case CurveExponential:
		return u * u
	case CurveLogarithmic:
		return math.Sqrt(u)
	case CurveSCurve:
		return u * u * (3 - 2*u)
	default:
		return u
	}
}

// FadeOut evaluates the fade-out multiplier for progress u in [0,1]. It is
// the complement of the fade-in shape, so a linear out falls at a constant
// rate and the pair sums to 1 at every point.
func (c Curve) FadeOut(u float64) float64 {
	return 1 - c.FadeIn(u)
}
