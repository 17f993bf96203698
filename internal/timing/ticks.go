/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package timing

import (
	"math/bits"
	"time"
)

// The tick is the sample-rate-independent time unit shared by every playback
// component. 28_224_000 is the least common multiple of the common audio
// sample rates, so one sample period is a whole number of ticks at 44.1k,
// 48k, 88.2k, 96k, 176.4k and 192k.
const (
	TicksPerSecond      int64 = 28_224_000
	TicksPerMillisecond int64 = 28_224
)

// TicksToMs converts ticks to whole milliseconds, truncating.
func TicksToMs(ticks int64) int64 {
	return ticks / TicksPerMillisecond
}

// MsToTicks converts milliseconds to ticks.
func MsToTicks(ms int64) int64 {
	return ms * TicksPerMillisecond
}

// TicksToDuration converts ticks to a time.Duration.
func TicksToDuration(ticks int64) time.Duration {
	return time.Duration(TicksToMs(ticks)) * time.Millisecond
}

// TicksToSamples converts a tick count to a frame count at the given sample
// rate, rounding half to even. The intermediate product ticks*rate can exceed
// 64 bits for large tick values, so the multiplication and division run
// through a 128-bit intermediate.
//
// Negative ticks have no meaning on the playback timeline and map to 0.
func TicksToSamples(ticks int64, sampleRate uint32) int64 {
	if ticks <= 0 || sampleRate == 0 {
		return 0
	}

	hi, lo := bits.Mul64(uint64(ticks), uint64(sampleRate))
	quo, rem := bits.Div64(hi, lo, uint64(TicksPerSecond))

	// Round half to even so repeated conversions do not drift in one
	// direction across chunk boundaries.
	half := uint64(TicksPerSecond) / 2
	switch {
	case rem > half:
		quo++
	case rem == half && quo%2 == 1:
		quo++
	}
	return int64(quo)
}

// SamplesToTicks converts a frame count at the given sample rate back to
// ticks, truncating toward zero. Because TicksPerSecond is a multiple of
// every supported rate, the division is exact for frame counts produced by
// TicksToSamples.
func SamplesToTicks(samples int64, sampleRate uint32) int64 {
	if samples <= 0 || sampleRate == 0 {
		return 0
	}

	hi, lo := bits.Mul64(uint64(samples), uint64(TicksPerSecond))
	quo, _ := bits.Div64(hi, lo, uint64(sampleRate))
	return int64(quo)
}

// SecondsToTicks converts fractional seconds to ticks, truncating.
func SecondsToTicks(seconds float64) int64 {
	if seconds <= 0 {
		return 0
	}
	return int64(seconds * float64(TicksPerSecond))
}
