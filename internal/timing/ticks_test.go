package timing

import (
	"testing"

	"pgregory.net/rapid"
)

func TestTickConstants(t *testing.T) {
	if TicksPerSecond != 28_224_000 {
		t.Fatalf("unexpected tick rate: %d", TicksPerSecond)
	}
	if TicksPerMillisecond*1000 != TicksPerSecond {
		t.Fatalf("ms rate does not divide second rate")
	}

	// The tick rate must divide evenly at every supported rate.
	for _, rate := range []int64{44100, 48000, 88200, 96000, 176400, 192000} {
		if TicksPerSecond%rate != 0 {
			t.Fatalf("tick rate is not a multiple of %d", rate)
		}
	}
}

func TestTicksToSamplesExactSecond(t *testing.T) {
	if got := TicksToSamples(TicksPerSecond, 44100); got != 44100 {
		t.Fatalf("one second at 44100 = %d samples", got)
	}
	if got := TicksToSamples(10*TicksPerSecond, 48000); got != 480000 {
		t.Fatalf("ten seconds at 48000 = %d samples", got)
	}
}

func TestTicksToSamplesNegativeAndZero(t *testing.T) {
	if got := TicksToSamples(-5, 44100); got != 0 {
		t.Fatalf("negative ticks should map to 0, got %d", got)
	}
	if got := TicksToSamples(0, 44100); got != 0 {
		t.Fatalf("zero ticks should map to 0, got %d", got)
	}
	if got := TicksToSamples(100, 0); got != 0 {
		t.Fatalf("zero rate should map to 0, got %d", got)
	}
}

func TestTicksToSamplesNoOverflowAtMaxTick(t *testing.T) {
	const maxTick = int64(^uint64(0) >> 1)
	got := TicksToSamples(maxTick, 192000)
	if got <= 0 {
		t.Fatalf("large tick conversion underflowed: %d", got)
	}
}

func TestMsConversions(t *testing.T) {
	if got := MsToTicks(1000); got != TicksPerSecond {
		t.Fatalf("1000ms = %d ticks", got)
	}
	if got := TicksToMs(TicksPerSecond); got != 1000 {
		t.Fatalf("one second = %dms", got)
	}
}

func TestRoundTripProperty(t *testing.T) {
	rates := []uint32{44100, 48000, 88200, 96000, 176400, 192000}

	rapid.Check(t, func(rt *rapid.T) {
		ticks := rapid.Int64Range(0, TicksPerSecond*3600).Draw(rt, "ticks")
		rate := rapid.SampledFrom(rates).Draw(rt, "rate")

		samples := TicksToSamples(ticks, rate)
		back := SamplesToTicks(samples, rate)

		// Round trip error must stay under one sample period.
		epsilon := TicksPerSecond / int64(rate)
		diff := ticks - back
		if diff < 0 {
			diff = -diff
		}
		if diff >= epsilon {
			rt.Fatalf("round trip drifted: ticks=%d back=%d diff=%d epsilon=%d", ticks, back, diff, epsilon)
		}
	})
}

func TestRoundHalfToEven(t *testing.T) {
	// 320 ticks at 44100 Hz is exactly 0.5 samples; banker's rounding
	// keeps it at 0. Three halves round up to 2.
	if got := TicksToSamples(320, 44100); got != 0 {
		t.Fatalf("half sample should round to even 0, got %d", got)
	}
	if got := TicksToSamples(960, 44100); got != 2 {
		t.Fatalf("three half samples should round to even 2, got %d", got)
	}
}
