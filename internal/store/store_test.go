package store

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/melisma/internal/passage"
	"github.com/friendsincode/melisma/internal/queue"
	"github.com/friendsincode/melisma/internal/timing"
)

func testDB(t *testing.T) *Settings {
	t.Helper()
	db, err := Connect(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	return NewSettings(db)
}

func TestVolumeDefaultAndClamp(t *testing.T) {
	s := testDB(t)

	vol, err := s.Volume()
	if err != nil {
		t.Fatalf("volume: %v", err)
	}
	if vol != 0.5 {
		t.Fatalf("default volume = %f", vol)
	}

	if err := s.SetVolume(1.7); err != nil {
		t.Fatalf("set volume: %v", err)
	}
	vol, _ = s.Volume()
	if vol != 1.0 {
		t.Fatalf("volume not clamped: %f", vol)
	}

	if err := s.SetVolume(0.25); err != nil {
		t.Fatalf("set volume: %v", err)
	}
	vol, _ = s.Volume()
	if vol != 0.25 {
		t.Fatalf("volume = %f", vol)
	}
}

func TestCrossfadeDefaults(t *testing.T) {
	s := testDB(t)

	ticks, err := s.CrossfadeTimeTicks()
	if err != nil {
		t.Fatalf("crossfade: %v", err)
	}
	if ticks != 2*timing.TicksPerSecond {
		t.Fatalf("default crossfade = %d ticks", ticks)
	}

	curve, err := s.FadeCurve()
	if err != nil {
		t.Fatalf("curve: %v", err)
	}
	if curve != passage.CurveExponential {
		t.Fatalf("default curve = %s", curve)
	}
}

func TestPositionCheckpointRoundTrip(t *testing.T) {
	s := testDB(t)

	if _, ok, _ := s.LastPosition(); ok {
		t.Fatal("fresh database should have no position")
	}

	if err := s.SavePosition(123456789); err != nil {
		t.Fatalf("save: %v", err)
	}
	pos, ok, err := s.LastPosition()
	if err != nil || !ok || pos != 123456789 {
		t.Fatalf("restore: pos=%d ok=%v err=%v", pos, ok, err)
	}
}

func TestLastQueueEntryRoundTrip(t *testing.T) {
	s := testDB(t)

	id := uuid.New()
	if err := s.SaveLastQueueEntry(&id); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.LastQueueEntry()
	if err != nil || got == nil || *got != id {
		t.Fatalf("restore: got=%v err=%v", got, err)
	}

	if err := s.SaveLastQueueEntry(nil); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, err = s.LastQueueEntry()
	if err != nil || got != nil {
		t.Fatalf("cleared pointer still present: %v", got)
	}
}

func TestAudioDeviceDefault(t *testing.T) {
	s := testDB(t)

	device, err := s.AudioDevice()
	if err != nil || device != "default" {
		t.Fatalf("device=%q err=%v", device, err)
	}

	if err := s.SetAudioDevice("hw:1,0"); err != nil {
		t.Fatalf("set: %v", err)
	}
	device, _ = s.AudioDevice()
	if device != "hw:1,0" {
		t.Fatalf("device = %q", device)
	}
}

func TestQueuePersistenceRoundTrip(t *testing.T) {
	db, err := Connect(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	qs := NewQueueStore(db, zerolog.Nop())

	end := timing.MsToTicks(5000)
	p := passage.Ephemeral("/music/a.mp3")
	p.EndTick = &end
	p.FadeInCurve = passage.CurveLinear

	e1 := queue.Entry{QueueEntryID: uuid.New(), Passage: p, PlayOrder: qs.NextPlayOrder()}
	e2 := queue.Entry{QueueEntryID: uuid.New(), Passage: passage.Ephemeral("/music/b.flac"), PlayOrder: qs.NextPlayOrder()}

	qs.QueueEntryAdded(e1)
	qs.QueueEntryAdded(e2)

	loaded, err := qs.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d entries", len(loaded))
	}
	if loaded[0].QueueEntryID != e1.QueueEntryID || loaded[1].QueueEntryID != e2.QueueEntryID {
		t.Fatal("order not preserved")
	}
	if loaded[0].Passage.EndTick == nil || *loaded[0].Passage.EndTick != end {
		t.Fatal("timing not preserved")
	}
	if loaded[0].Passage.FadeInCurve != passage.CurveLinear {
		t.Fatalf("curve not preserved: %s", loaded[0].Passage.FadeInCurve)
	}

	qs.QueueEntryRemoved(e1.QueueEntryID)
	loaded, _ = qs.Load()
	if len(loaded) != 1 || loaded[0].QueueEntryID != e2.QueueEntryID {
		t.Fatal("remove not persisted")
	}

	qs.QueueCleared()
	loaded, _ = qs.Load()
	if len(loaded) != 0 {
		t.Fatal("clear not persisted")
	}
}

func TestQueueAdvanceDropsConsumedRows(t *testing.T) {
	db, err := Connect(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	qs := NewQueueStore(db, zerolog.Nop())

	e1 := queue.Entry{QueueEntryID: uuid.New(), Passage: passage.Ephemeral("/m/a.mp3"), PlayOrder: qs.NextPlayOrder()}
	e2 := queue.Entry{QueueEntryID: uuid.New(), Passage: passage.Ephemeral("/m/b.mp3"), PlayOrder: qs.NextPlayOrder()}
	qs.QueueEntryAdded(e1)
	qs.QueueEntryAdded(e2)

	qs.QueueAdvanced(&e2)

	loaded, _ := qs.Load()
	if len(loaded) != 1 || loaded[0].QueueEntryID != e2.QueueEntryID {
		t.Fatalf("advance should drop consumed rows, got %d", len(loaded))
	}

	qs.QueueAdvanced(nil)
	loaded, _ = qs.Load()
	if len(loaded) != 0 {
		t.Fatal("draining advance should empty the table")
	}
}
