package mixer

import (
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/friendsincode/melisma/internal/fade"
	"github.com/friendsincode/melisma/internal/passage"
	"github.com/friendsincode/melisma/internal/queue"
	"github.com/friendsincode/melisma/internal/ringbuf"
	"github.com/friendsincode/melisma/internal/timing"
)

const rate = 44100

func tick(v int64) *int64 { return &v }

// makeStream builds a queue entry with a fully decoded buffer of constant
// samples. fadeOutMs/fadeInMs of zero leaves the fader in pass-through.
func makeStream(t *testing.T, durationMs, fadeInMs, fadeOutMs int64, value float32) (queue.Entry, *ringbuf.Buffer, *fade.Fader) {
	t.Helper()

	endTick := timing.MsToTicks(durationMs)
	p := passage.Passage{
		FilePath:     "test.wav",
		StartTick:    0,
		EndTick:      tick(endTick),
		FadeInTick:   timing.MsToTicks(fadeInMs),
		FadeInCurve:  passage.CurveLinear,
		FadeOutCurve: passage.CurveLinear,
	}
	if fadeOutMs > 0 {
		p.FadeOutTick = tick(endTick - timing.MsToTicks(fadeOutMs))
	}

	entry := queue.Entry{QueueEntryID: uuid.New(), Passage: p}

	frames := timing.TicksToSamples(endTick, rate)
	buf := ringbuf.New(int(frames) + 16)
	chunk := make([]float32, 2048*2)
	for i := range chunk {
		chunk[i] = value
	}
	remaining := frames
	for remaining > 0 {
		n := int64(2048)
		if n > remaining {
			n = remaining
		}
		buf.Push(chunk[:n*2])
		remaining -= n
	}
	buf.MarkComplete()

	fader := fade.New(p, rate, nil)
	return entry, buf, fader
}

func produceFrames(m *Mixer, frames int) []float32 {
	dst := make([]float32, frames*2)
	m.Produce(dst)
	return dst
}

func TestProduceSilenceWhenIdle(t *testing.T) {
	m := New(rate, 64, timing.MsToTicks(1000))

	dst := produceFrames(m, 512)
	for i, v := range dst {
		if v != 0 {
			t.Fatalf("sample %d = %f, want silence", i, v)
		}
	}
	if m.Underruns() != 0 {
		t.Fatalf("idle mixer counted %d underruns", m.Underruns())
	}
}

func TestProduceFillsExactFrameCount(t *testing.T) {
	m := New(rate, 64, timing.MsToTicks(1000))
	entry, buf, fader := makeStream(t, 1000, 0, 0, 0.25)
	m.SetCurrent(entry, buf, fader)

	dst := produceFrames(m, 1000)
	if len(dst) != 2000 {
		t.Fatalf("len(dst) = %d", len(dst))
	}
	for i, v := range dst {
		if v != 0.25 {
			t.Fatalf("sample %d = %f", i, v)
		}
	}
}

func TestPrebufferGateHoldsSilence(t *testing.T) {
	m := New(rate, 4410, timing.MsToTicks(1000)) // 100ms threshold

	p := passage.Passage{FilePath: "x.wav", StartTick: 0, EndTick: tick(timing.MsToTicks(1000))}
	entry := queue.Entry{QueueEntryID: uuid.New(), Passage: p}
	buf := ringbuf.New(44100)
	fader := fade.New(p, rate, nil)
	m.SetCurrent(entry, buf, fader)

	// Only 10ms buffered: below the threshold and not complete.
	small := make([]float32, 441*2)
	for i := range small {
		small[i] = 0.5
	}
	buf.Push(small)

	dst := produceFrames(m, 256)
	for i, v := range dst {
		if v != 0 {
			t.Fatalf("prebuffering should emit silence, sample %d = %f", i, v)
		}
	}
	if m.Underruns() != 0 {
		t.Fatal("startup gate must not count underruns")
	}

	// Crossing the threshold releases playback.
	big := make([]float32, 4410*2)
	for i := range big {
		big[i] = 0.5
	}
	buf.Push(big)

	dst = produceFrames(m, 256)
	if dst[0] != 0.5 {
		t.Fatalf("expected audio after threshold, got %f", dst[0])
	}
}

func TestCompletedShortPassageBypassesThreshold(t *testing.T) {
	m := New(rate, 44100, timing.MsToTicks(1000)) // 1s threshold

	p := passage.Passage{FilePath: "x.wav", StartTick: 0, EndTick: tick(timing.MsToTicks(50))}
	entry := queue.Entry{QueueEntryID: uuid.New(), Passage: p}
	buf := ringbuf.New(8192)
	chunk := make([]float32, 2205*2)
	for i := range chunk {
		chunk[i] = 0.5
	}
	buf.Push(chunk)
	buf.MarkComplete()

	m.SetCurrent(entry, buf, fade.New(p, rate, nil))

	dst := produceFrames(m, 64)
	if dst[0] != 0.5 {
		t.Fatalf("completed passage should play below threshold, got %f", dst[0])
	}
}

func TestUnderrunCountsMissingFrames(t *testing.T) {
	m := New(rate, 64, timing.MsToTicks(1000))

	p := passage.Passage{FilePath: "x.wav", StartTick: 0, EndTick: tick(timing.MsToTicks(10000))}
	entry := queue.Entry{QueueEntryID: uuid.New(), Passage: p}
	buf := ringbuf.New(44100)
	fader := fade.New(p, rate, nil)
	m.SetCurrent(entry, buf, fader)

	chunk := make([]float32, 100*2)
	for i := range chunk {
		chunk[i] = 0.5
	}
	buf.Push(chunk)

	dst := produceFrames(m, 256)

	if m.Underruns() != 156 {
		t.Fatalf("underruns = %d, want 156", m.Underruns())
	}
	for i := 100 * 2; i < len(dst); i++ {
		if dst[i] != 0 {
			t.Fatalf("missing remainder not zero-filled at %d", i)
		}
	}
}

func TestVolumeScalingAndClipping(t *testing.T) {
	m := New(rate, 64, timing.MsToTicks(1000))
	entry, buf, fader := makeStream(t, 500, 0, 0, 0.8)
	m.SetCurrent(entry, buf, fader)

	m.SetVolume(0.5)
	dst := produceFrames(m, 128)
	if math.Abs(float64(dst[0])-0.4) > 1e-6 {
		t.Fatalf("volume scaling: %f", dst[0])
	}

	if m.Volume() != 0.5 {
		t.Fatalf("volume getter = %f", m.Volume())
	}

	m.SetVolume(7) // clamped to 1
	if m.Volume() != 1 {
		t.Fatalf("volume not clamped: %f", m.Volume())
	}
}

func TestCrossfadeLinearSumIsConstant(t *testing.T) {
	crossfade := timing.MsToTicks(1000)
	m := New(rate, 64, crossfade)

	current, curBuf, curFader := makeStream(t, 2000, 0, 1000, 1.0)
	next, nextBuf, nextFader := makeStream(t, 2000, 1000, 0, 1.0)

	m.SetCurrent(current, curBuf, curFader)
	m.SetNext(&next, nextBuf, nextFader)

	// First second: current alone at full level.
	dst := produceFrames(m, rate)
	if math.Abs(float64(dst[0])-1.0) > 1e-3 {
		t.Fatalf("pre-crossfade level = %f", dst[0])
	}
	if math.Abs(float64(dst[len(dst)-2])-1.0) > 1e-3 {
		t.Fatalf("level decayed before the trigger: %f", dst[len(dst)-2])
	}

	// Second second: the crossfade window. With complementary linear
	// curves the mixed level stays at unity for every sample.
	dst = produceFrames(m, rate)
	for i := 0; i < rate; i += 1000 {
		v := float64(dst[i*2])
		if math.Abs(v-1.0) > 2e-3 {
			t.Fatalf("crossfade sum at frame %d = %f", i, v)
		}
	}

	// The retired passage was replaced by the incoming one.
	snap := m.State()
	if snap.CurrentEntryID == nil || *snap.CurrentEntryID != next.QueueEntryID {
		t.Fatal("next passage should be current after the crossfade")
	}
}

func TestLateNextReclampsCrossfadeTrigger(t *testing.T) {
	crossfade := timing.MsToTicks(1000)
	m := New(rate, 64, crossfade)

	// Current plays alone first, so its trigger resolves with no next to
	// clamp against: lead-out at end minus the full global crossfade (1s
	// into a 2s passage).
	current, curBuf, curFader := makeStream(t, 2000, 0, 0, 0.3)
	m.SetCurrent(current, curBuf, curFader)
	produceFrames(m, rate) // 1s: trigger resolved, position at the old trigger

	// A short 400ms passage arrives. The effective crossfade must
	// re-clamp to half its duration (200ms), moving the trigger to 1.8s.
	next, nextBuf, nextFader := makeStream(t, 400, 0, 0, 0.7)
	m.SetNext(&next, nextBuf, nextFader)

	// 1.0s..1.7s: still the current passage alone.
	dst := produceFrames(m, rate*7/10)
	for i := 0; i < len(dst); i += 2000 {
		if dst[i] != 0.3 {
			t.Fatalf("next audible before the re-clamped trigger at frame %d: %f", i/2, dst[i])
		}
	}

	// 1.7s..1.9s: the trigger sits at 1.8s but is checked only at chunk
	// starts, so the first 8192-frame chunk of this call plays the current
	// stream alone and the remaining frames mix both pass-through streams
	// (0.3 + 0.7).
	dst = produceFrames(m, rate/5)
	early := float64(dst[100*2])
	late := float64(dst[(rate/5-100)*2])
	if math.Abs(early-0.3) > 1e-3 {
		t.Fatalf("before trigger = %f, want 0.3", early)
	}
	if math.Abs(late-1.0) > 1e-3 {
		t.Fatalf("after trigger = %f, want 1.0", late)
	}
}

func TestTransitionsEmitted(t *testing.T) {
	m := New(rate, 64, timing.MsToTicks(10))
	entry, buf, fader := makeStream(t, 50, 0, 0, 0.5)
	m.SetCurrent(entry, buf, fader)

	total := int(timing.TicksToSamples(timing.MsToTicks(50), rate))
	produceFrames(m, total+64)

	var started, completed bool
	for len(m.Transitions()) > 0 {
		tr := <-m.Transitions()
		switch tr.Kind {
		case TransitionStarted:
			if tr.QueueEntryID == entry.QueueEntryID {
				started = true
			}
		case TransitionCompleted:
			if tr.QueueEntryID == entry.QueueEntryID {
				completed = true
			}
		}
	}
	if !started || !completed {
		t.Fatalf("transitions missing: started=%v completed=%v", started, completed)
	}
}

func TestFailedBufferRetiresAsSilence(t *testing.T) {
	m := New(rate, 64, timing.MsToTicks(1000))

	p := passage.Passage{FilePath: "x.wav", StartTick: 0, EndTick: tick(timing.MsToTicks(1000))}
	entry := queue.Entry{QueueEntryID: uuid.New(), Passage: p}
	buf := ringbuf.New(1024)
	buf.MarkFailed()
	m.SetCurrent(entry, buf, fade.New(p, rate, nil))

	dst := produceFrames(m, 128)
	for _, v := range dst {
		if v != 0 {
			t.Fatal("failed buffer should be silent")
		}
	}

	var failed bool
	for len(m.Transitions()) > 0 {
		if tr := <-m.Transitions(); tr.Kind == TransitionFailed {
			failed = true
		}
	}
	if !failed {
		t.Fatal("failed transition not emitted")
	}
}

func TestNextPromotedWhenCurrentSkipped(t *testing.T) {
	m := New(rate, 64, timing.MsToTicks(1000))
	current, curBuf, curFader := makeStream(t, 1000, 0, 0, 0.3)
	next, nextBuf, nextFader := makeStream(t, 1000, 0, 0, 0.7)

	m.SetCurrent(current, curBuf, curFader)
	m.SetNext(&next, nextBuf, nextFader)

	produceFrames(m, 128)
	m.ClearCurrent()

	dst := produceFrames(m, 128)
	if dst[0] != 0.7 {
		t.Fatalf("promoted next should be audible, got %f", dst[0])
	}
}

func TestPauseResumeLosesNoFrames(t *testing.T) {
	m := New(rate, 64, timing.MsToTicks(1000))

	// Buffer with a ramp so positions are identifiable.
	p := passage.Passage{FilePath: "x.wav", StartTick: 0, EndTick: tick(timing.MsToTicks(1000))}
	entry := queue.Entry{QueueEntryID: uuid.New(), Passage: p}
	frames := int(timing.TicksToSamples(timing.MsToTicks(1000), rate))
	buf := ringbuf.New(frames + 16)
	ramp := make([]float32, frames*2)
	for i := 0; i < frames; i++ {
		ramp[i*2] = float32(i) * 1e-5
		ramp[i*2+1] = float32(i) * 1e-5
	}
	buf.Push(ramp)
	buf.MarkComplete()
	m.SetCurrent(entry, buf, fade.New(p, rate, nil))

	produceFrames(m, 1000)

	// The driver emits silence while paused without calling Produce; on
	// resume the very next frame continues the sequence.
	dst := produceFrames(m, 10)
	if math.Abs(float64(dst[0])-0.01) > 1e-6 {
		t.Fatalf("resume frame = %f, want 0.01", dst[0])
	}
}
