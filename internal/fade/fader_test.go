package fade

import (
	"math"
	"testing"

	"pgregory.net/rapid"

	"github.com/friendsincode/melisma/internal/passage"
	"github.com/friendsincode/melisma/internal/timing"
)

const rate = 44100

func tick(v int64) *int64 { return &v }

// testPassage builds a passage with the given fade durations, all times in
// milliseconds.
func testPassage(fadeInMs, fadeOutMs, totalMs int64) passage.Passage {
	endTick := timing.MsToTicks(totalMs)
	p := passage.Passage{
		FilePath:     "test.mp3",
		StartTick:    0,
		EndTick:      tick(endTick),
		FadeInTick:   timing.MsToTicks(fadeInMs),
		FadeOutTick:  tick(endTick - timing.MsToTicks(fadeOutMs)),
		FadeInCurve:  passage.CurveLinear,
		FadeOutCurve: passage.CurveLinear,
	}
	return p
}

func TestPassThroughModeZeroDurationFades(t *testing.T) {
	f := New(testPassage(0, 0, 5000), rate, nil)
	if !f.PassThrough() {
		t.Fatal("expected pass-through mode")
	}
}

func TestPassThroughIsBitExact(t *testing.T) {
	f := New(testPassage(0, 0, 5000), rate, nil)

	samples := []float32{0.5, -0.5, 0.8, -0.8}
	want := []float32{0.5, -0.5, 0.8, -0.8}
	f.ProcessChunk(samples)

	for i := range samples {
		if samples[i] != want[i] {
			t.Fatalf("sample %d changed: %f != %f", i, samples[i], want[i])
		}
	}
	if f.CurrentFrame() != 2 {
		t.Fatalf("position = %d, want 2", f.CurrentFrame())
	}
}

func TestFadeInLinearRamp(t *testing.T) {
	f := New(testPassage(1000, 0, 5000), rate, nil)

	chunk := make([]float32, 4410*2) // 100ms
	for i := range chunk {
		chunk[i] = 1.0
	}
	f.ProcessChunk(chunk)

	if chunk[0] > 0.01 {
		t.Fatalf("first sample should be near silent, got %f", chunk[0])
	}
	last := chunk[len(chunk)-1]
	if last < 0.05 || last > 0.15 {
		t.Fatalf("10%% into a 1s fade should be ~0.1, got %f", last)
	}
}

func TestFadeInMonotonicAndReachesUnity(t *testing.T) {
	f := New(testPassage(1000, 0, 5000), rate, nil)
	fadeInFrames := int64(44100)

	prev := -1.0
	for _, frame := range []int64{0, 1000, 10000, 25000, 44099} {
		m := f.Multiplier(frame)
		if m < prev {
			t.Fatalf("multiplier decreased during fade-in at frame %d", frame)
		}
		prev = m
	}
	if got := f.Multiplier(fadeInFrames); got != 1.0 {
		t.Fatalf("multiplier at end of fade-in = %f", got)
	}
}

func TestFadeOutAppliesAtEnd(t *testing.T) {
	f := New(testPassage(0, 1000, 5000), rate, nil)

	// Halfway through the fade-out (4.5s of 5s, fade starts at 4s).
	f.Skip(int64(44100 * 4.5))
	chunk := make([]float32, 4410*2)
	for i := range chunk {
		chunk[i] = 1.0
	}
	f.ProcessChunk(chunk)

	if chunk[0] < 0.4 || chunk[0] > 0.6 {
		t.Fatalf("midpoint of fade-out should be ~0.5, got %f", chunk[0])
	}
	if chunk[len(chunk)-1] >= chunk[0] {
		t.Fatal("fade-out should decrease across the chunk")
	}
}

func TestChunkBoundariesKeepPosition(t *testing.T) {
	f := New(testPassage(1000, 1000, 5000), rate, nil)

	chunk := make([]float32, 4410*2)
	for i := 0; i < 3; i++ {
		f.ProcessChunk(chunk)
	}
	if f.CurrentFrame() != 13230 {
		t.Fatalf("position = %d, want 13230", f.CurrentFrame())
	}
}

func TestDiscoveredEndInstallsFadeOut(t *testing.T) {
	p := testPassage(0, 1000, 5000)
	p.EndTick = nil
	p.FadeOutTick = nil

	f := New(p, rate, nil)
	if f.FadeOutDone() {
		t.Fatal("fade-out cannot be done with no endpoint")
	}

	// The decoder discovers a 6 second endpoint; a 1 second crossfade
	// region becomes the fade-out.
	f.SetDiscoveredEnd(p, rate, timing.MsToTicks(6000), timing.MsToTicks(1000))

	if got := f.FadeOutStart(); got != int64(44100*5) {
		t.Fatalf("fade-out start = %d, want %d", got, int64(44100*5))
	}
	if m := f.Multiplier(int64(44100*5.5)); m < 0.4 || m > 0.6 {
		t.Fatalf("fade-out midpoint multiplier = %f", m)
	}
}

func TestPassThroughProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := New(testPassage(0, 0, 10000), rate, nil)

		n := rapid.IntRange(1, 512).Draw(rt, "frames")
		samples := make([]float32, n*2)
		want := make([]float32, n*2)
		for i := range samples {
			v := float32(rapid.Float64Range(-1, 1).Draw(rt, "v"))
			samples[i] = v
			want[i] = v
		}

		f.ProcessChunk(samples)
		for i := range samples {
			if samples[i] != want[i] {
				rt.Fatalf("pass-through modified sample %d", i)
			}
		}
		if f.CurrentFrame() != int64(n) {
			rt.Fatalf("position %d != %d", f.CurrentFrame(), n)
		}
	})
}

func TestFadeEnvelopeWithinUnitRange(t *testing.T) {
	f := New(testPassage(500, 500, 2000), rate, nil)
	for frame := int64(0); frame < 44100*2; frame += 441 {
		m := f.Multiplier(frame)
		if m < 0 || m > 1 || math.IsNaN(m) {
			t.Fatalf("multiplier %f out of range at frame %d", m, frame)
		}
	}
}
