/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package engine wires the playback core together: the queue manager feeds
// the decoder pool, decoders fill per-passage ring buffers, the mixer pulls
// them through their faders into the output driver. The engine is the only
// surface the HTTP layer talks to.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/melisma/internal/decode"
	"github.com/friendsincode/melisma/internal/events"
	"github.com/friendsincode/melisma/internal/fade"
	"github.com/friendsincode/melisma/internal/mixer"
	"github.com/friendsincode/melisma/internal/output"
	"github.com/friendsincode/melisma/internal/passage"
	"github.com/friendsincode/melisma/internal/queue"
	"github.com/friendsincode/melisma/internal/ringbuf"
	"github.com/friendsincode/melisma/internal/songtimeline"
	"github.com/friendsincode/melisma/internal/store"
	"github.com/friendsincode/melisma/internal/timing"
)

// WorkingSampleRate is the internal rate all decoded audio is mixed at.
const WorkingSampleRate uint32 = 44100

// Control-plane errors surfaced to the HTTP layer.
var (
	ErrNoCurrentPassage = errors.New("no current passage")
	ErrEntryNotFound    = errors.New("queue entry not found")
	ErrEmptyQueue       = errors.New("queue is empty")
	ErrFileNotOpenable  = errors.New("file not openable")
)

// positionCheckpointInterval is how often the playback position is persisted.
const positionCheckpointInterval = 5 * time.Second

// entryRuntime is the live decode state for a queue entry.
type entryRuntime struct {
	buf    *ringbuf.Buffer
	fader  *fade.Fader
	cancel context.CancelFunc
}

// Options configures engine construction.
type Options struct {
	DecoderWorkers int
	BufferSeconds  int
	MediaRoot      string
	DeviceID       string
}

// Engine is the playback core facade.
type Engine struct {
	logger   zerolog.Logger
	bus      *events.Bus
	settings *store.Settings
	qstore   *store.QueueStore

	qm     *queue.Manager
	pool   *decode.Pool
	mix    *mixer.Mixer
	driver *output.Driver

	bufferFrames int
	mediaRoot    string

	mu        sync.Mutex
	runtimes  map[uuid.UUID]*entryRuntime
	timelines map[uuid.UUID]*songtimeline.Timeline

	positionIntervalMs int

	runCancel context.CancelFunc
	runDone   chan struct{}
}

// New builds the engine, restoring persisted settings and queue.
func New(settings *store.Settings, qstore *store.QueueStore, bus *events.Bus, opts Options, logger zerolog.Logger) (*Engine, error) {
	logger = logger.With().Str("component", "engine").Logger()

	minBufferMs, err := settings.MinimumBufferMs()
	if err != nil {
		return nil, fmt.Errorf("load minimum buffer threshold: %w", err)
	}
	crossfadeTicks, err := settings.CrossfadeTimeTicks()
	if err != nil {
		return nil, fmt.Errorf("load crossfade time: %w", err)
	}
	volume, err := settings.Volume()
	if err != nil {
		return nil, fmt.Errorf("load volume: %w", err)
	}
	intervalMs, err := settings.MixerCheckIntervalMs()
	if err != nil {
		return nil, fmt.Errorf("load mixer interval: %w", err)
	}

	minBufferFrames := timing.TicksToSamples(timing.MsToTicks(int64(minBufferMs)), WorkingSampleRate)

	mix := mixer.New(WorkingSampleRate, minBufferFrames, crossfadeTicks)
	mix.SetVolume(volume)

	deviceID := opts.DeviceID
	if deviceID == "" {
		deviceID, err = settings.AudioDevice()
		if err != nil {
			return nil, fmt.Errorf("load audio device: %w", err)
		}
	}

	driver, err := output.NewDriver(mix, WorkingSampleRate, deviceID, logger)
	if err != nil {
		return nil, err
	}

	bufferSeconds := opts.BufferSeconds
	if bufferSeconds < 1 {
		bufferSeconds = 15
	}

	e := &Engine{
		logger:             logger,
		bus:                bus,
		settings:           settings,
		qstore:             qstore,
		qm:                 queue.NewManager(qstore),
		pool:               decode.NewPool(opts.DecoderWorkers, WorkingSampleRate, logger),
		mix:                mix,
		driver:             driver,
		bufferFrames:       bufferSeconds * int(WorkingSampleRate),
		mediaRoot:          opts.MediaRoot,
		runtimes:           make(map[uuid.UUID]*entryRuntime),
		timelines:          make(map[uuid.UUID]*songtimeline.Timeline),
		positionIntervalMs: intervalMs,
	}

	if err := e.restoreQueue(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.runCancel = cancel
	e.runDone = make(chan struct{})
	go e.run(ctx)

	return e, nil
}

// restoreQueue seeds the queue manager from the persisted queue and starts
// decoders for the restored current and next entries.
func (e *Engine) restoreQueue() error {
	entries, err := e.qstore.Load()
	if err != nil {
		return fmt.Errorf("load persisted queue: %w", err)
	}
	for i := range entries {
		e.validateEntry(&entries[i])
	}
	e.qm.Bootstrap(entries)
	if len(entries) > 0 {
		e.logger.Info().Int("entries", len(entries)).Msg("queue restored")
		e.refreshDecoders()
	}
	return nil
}

// Close shuts the engine down, checkpointing position.
func (e *Engine) Close() {
	e.checkpointPosition()
	e.runCancel()
	<-e.runDone
	e.driver.Close()
	e.pool.Shutdown()
}

// validateEntry normalizes the entry's passage and publishes corrections.
func (e *Engine) validateEntry(entry *queue.Entry) {
	corrections := passage.Validate(&entry.Passage, e.logger)
	for _, c := range corrections {
		e.bus.Publish(events.EventTimingCorrected, events.Payload{
			"queue_entry_id": entry.QueueEntryID.String(),
			"field":          c.Field,
			"was":            c.Was,
			"now":            c.Now,
		})
	}
}

// EnqueueRequest carries optional timing overrides for an enqueue.
type EnqueueRequest struct {
	FilePath     string
	StartTick    *int64
	EndTick      *int64
	LeadInTick   *int64
	LeadOutTick  *int64
	FadeInTick   *int64
	FadeOutTick  *int64
	FadeInCurve  string
	FadeOutCurve string
	PassageID    *uuid.UUID

	// Songs optionally describes the song timeline within the passage.
	Songs []songtimeline.Entry
}

// Enqueue validates the file and appends a queue entry. Returns the new
// queue entry id.
func (e *Engine) Enqueue(req EnqueueRequest) (uuid.UUID, error) {
	path := req.FilePath
	if e.mediaRoot != "" && !strings.HasPrefix(filepath.Clean(path), e.mediaRoot) {
		return uuid.UUID{}, fmt.Errorf("%w: outside media root", ErrFileNotOpenable)
	}
	if !decode.SupportedExtension(path) {
		return uuid.UUID{}, fmt.Errorf("%w: unsupported format %s", ErrFileNotOpenable, filepath.Ext(path))
	}
	if _, err := os.Stat(path); err != nil {
		return uuid.UUID{}, fmt.Errorf("%w: %v", ErrFileNotOpenable, err)
	}

	p := passage.Ephemeral(path)
	p.PassageID = req.PassageID
	if req.StartTick != nil {
		p.StartTick = *req.StartTick
	}
	p.EndTick = req.EndTick
	if req.LeadInTick != nil {
		p.LeadInTick = *req.LeadInTick
	}
	p.LeadOutTick = req.LeadOutTick
	if req.FadeInTick != nil {
		p.FadeInTick = *req.FadeInTick
	}
	p.FadeOutTick = req.FadeOutTick
	p.FadeInCurve = passage.ParseCurve(req.FadeInCurve, passage.CurveExponential)
	p.FadeOutCurve = passage.ParseCurve(req.FadeOutCurve, passage.CurveLogarithmic)

	entry := queue.Entry{
		QueueEntryID: uuid.New(),
		Passage:      p,
		PlayOrder:    e.qstore.NextPlayOrder(),
	}
	e.validateEntry(&entry)

	e.qm.Enqueue(entry)

	if len(req.Songs) > 0 {
		e.mu.Lock()
		e.timelines[entry.QueueEntryID] = songtimeline.New(req.Songs)
		e.mu.Unlock()
	}

	e.refreshDecoders()
	e.publishQueueChanged()

	e.logger.Info().
		Str("queue_entry", entry.QueueEntryID.String()).
		Str("file", path).
		Msg("passage enqueued")
	return entry.QueueEntryID, nil
}

// Remove deletes a queue entry. Removing the current passage skips.
func (e *Engine) Remove(id uuid.UUID) bool {
	current := e.qm.Current()
	removingCurrent := current != nil && current.QueueEntryID == id

	if removingCurrent {
		e.mix.ClearCurrent()
	}

	if !e.qm.Remove(id) {
		return false
	}

	e.releaseRuntime(id)
	e.refreshDecoders()
	e.publishQueueChanged()
	return true
}

// Clear empties the queue and stops the mixer streams.
func (e *Engine) Clear() {
	e.mix.Clear()
	e.qm.Clear()

	e.mu.Lock()
	for id, rt := range e.runtimes {
		rt.cancel()
		delete(e.runtimes, id)
	}
	e.timelines = make(map[uuid.UUID]*songtimeline.Timeline)
	e.mu.Unlock()

	e.publishQueueChanged()
}

// Play starts (or resumes) the output stream.
func (e *Engine) Play() error {
	if err := e.driver.Start(); err != nil {
		return err
	}
	e.checkpointPosition()
	e.bus.Publish(events.EventPlaybackStateChange, events.Payload{"state": "playing"})
	return nil
}

// Pause silences the output without losing position.
func (e *Engine) Pause() {
	e.driver.Pause()
	e.checkpointPosition()
	e.bus.Publish(events.EventPlaybackStateChange, events.Payload{"state": "paused"})
}

// SkipNext abandons the current passage and promotes the next.
func (e *Engine) SkipNext() error {
	current := e.qm.Current()
	if current == nil {
		return ErrEmptyQueue
	}

	e.mix.ClearCurrent()
	e.qm.Advance()
	e.releaseRuntime(current.QueueEntryID)
	e.refreshDecoders()
	e.publishQueueChanged()
	return nil
}

// SkipPrevious restarts the current passage from its beginning. There is no
// played-entry history to step back through.
func (e *Engine) SkipPrevious() error {
	current := e.qm.Current()
	if current == nil {
		return ErrEmptyQueue
	}
	return e.Seek(current.Passage.StartTick)
}

// Seek repositions playback within the current passage. The decode restarts
// at the target tick into a fresh buffer; the fade envelope fast-forwards so
// fades stay anchored to the passage timeline.
func (e *Engine) Seek(positionTick int64) error {
	current := e.qm.Current()
	if current == nil {
		return ErrNoCurrentPassage
	}

	p := current.Passage
	if positionTick < p.StartTick {
		positionTick = p.StartTick
	}
	if end, ok := current.EffectiveEnd(); ok && positionTick > end {
		positionTick = end
	}

	e.releaseRuntime(current.QueueEntryID)

	buf := ringbuf.New(e.bufferFrames)
	fader := fade.New(p, WorkingSampleRate, current.DiscoveredEndTick)
	offset := timing.TicksToSamples(positionTick-p.StartTick, WorkingSampleRate)
	fader.Skip(offset)

	seekPassage := p
	seekPassage.StartTick = positionTick

	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.runtimes[current.QueueEntryID] = &entryRuntime{buf: buf, fader: fader, cancel: cancel}
	e.mu.Unlock()

	e.mix.SeekCurrent(*current, buf, fader, offset)

	e.pool.Submit(decode.Request{
		QueueEntryID:    current.QueueEntryID,
		Passage:         seekPassage,
		Buffer:          buf,
		Priority:        decode.PriorityImmediate,
		Ctx:             ctx,
		OnDiscoveredEnd: e.onDiscoveredEnd,
	})
	return nil
}

// SetVolume updates the output volume and persists it.
func (e *Engine) SetVolume(v float64) error {
	e.mix.SetVolume(v)
	if err := e.settings.SetVolume(v); err != nil {
		return err
	}
	e.bus.Publish(events.EventVolumeChanged, events.Payload{"volume": e.mix.Volume()})
	return nil
}

// Volume returns the current volume scalar.
func (e *Engine) Volume() float64 { return e.mix.Volume() }

// SetDevice switches the output device and persists the choice.
func (e *Engine) SetDevice(id string) error {
	if err := e.driver.SetDevice(id); err != nil {
		return err
	}
	if err := e.settings.SetAudioDevice(id); err != nil {
		return err
	}
	e.bus.Publish(events.EventDeviceChanged, events.Payload{"device_id": id})
	return nil
}

// Devices enumerates output devices.
func (e *Engine) Devices() ([]output.DeviceInfo, error) {
	return e.driver.Devices()
}

// refreshDecoders makes sure the current and next entries have buffers and
// decoders, and that the mixer sees them.
func (e *Engine) refreshDecoders() {
	if current := e.qm.Current(); current != nil {
		rt := e.ensureRuntime(*current, decode.PriorityImmediate)
		e.mix.SetCurrent(*current, rt.buf, rt.fader)
	}

	next := e.qm.Next()
	if next != nil {
		rt := e.ensureRuntime(*next, decode.PriorityNext)
		e.mix.SetNext(next, rt.buf, rt.fader)
	} else {
		e.mix.SetNext(nil, nil, nil)
	}

	// Warm one queued entry ahead of need.
	if queued := e.qm.Queued(); len(queued) > 0 {
		e.ensureRuntime(queued[0], decode.PriorityPrefetch)
	}
}

// ensureRuntime returns the entry's runtime, creating buffer, fader and
// decode request on first sight.
func (e *Engine) ensureRuntime(entry queue.Entry, priority decode.Priority) *entryRuntime {
	e.mu.Lock()
	if rt, ok := e.runtimes[entry.QueueEntryID]; ok {
		e.mu.Unlock()
		return rt
	}

	buf := ringbuf.New(e.bufferFrames)
	fader := fade.New(entry.Passage, WorkingSampleRate, entry.DiscoveredEndTick)
	ctx, cancel := context.WithCancel(context.Background())
	rt := &entryRuntime{buf: buf, fader: fader, cancel: cancel}
	e.runtimes[entry.QueueEntryID] = rt
	e.mu.Unlock()

	e.pool.Submit(decode.Request{
		QueueEntryID:    entry.QueueEntryID,
		Passage:         entry.Passage,
		Buffer:          buf,
		Priority:        priority,
		Ctx:             ctx,
		OnDiscoveredEnd: e.onDiscoveredEnd,
	})
	return rt
}

// releaseRuntime cancels the entry's decoder and forgets its buffer.
func (e *Engine) releaseRuntime(id uuid.UUID) {
	e.mu.Lock()
	if rt, ok := e.runtimes[id]; ok {
		rt.cancel()
		delete(e.runtimes, id)
	}
	delete(e.timelines, id)
	e.mu.Unlock()
}

// onDiscoveredEnd propagates a decoder-discovered endpoint to the queue
// entry, the fader and the mixer before the mixer can read into the
// fade-out region.
func (e *Engine) onDiscoveredEnd(id uuid.UUID, endTick int64) {
	e.qm.SetDiscoveredEndpoint(id, endTick)

	crossfadeTicks, err := e.settings.CrossfadeTimeTicks()
	if err != nil {
		crossfadeTicks = 2 * timing.TicksPerSecond
	}

	var entry *queue.Entry
	if cur := e.qm.Current(); cur != nil && cur.QueueEntryID == id {
		entry = cur
	} else if nxt := e.qm.Next(); nxt != nil && nxt.QueueEntryID == id {
		entry = nxt
	}

	e.mu.Lock()
	rt, ok := e.runtimes[id]
	e.mu.Unlock()
	if ok && entry != nil {
		rt.fader.SetDiscoveredEnd(entry.Passage, WorkingSampleRate, endTick, crossfadeTicks)
	}

	e.mix.NotifyDiscoveredEnd(id)
}

// run is the engine's event loop: it drains mixer transitions and emits
// position updates, underrun deltas and persistence checkpoints.
func (e *Engine) run(ctx context.Context) {
	defer close(e.runDone)

	interval := time.Duration(e.positionIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	positionTicker := time.NewTicker(interval)
	defer positionTicker.Stop()

	checkpointTicker := time.NewTicker(positionCheckpointInterval)
	defer checkpointTicker.Stop()

	var lastUnderruns uint64

	for {
		select {
		case <-ctx.Done():
			return

		case t := <-e.mix.Transitions():
			e.handleTransition(t)

		case <-positionTicker.C:
			e.publishPosition()
			if u := e.mix.Underruns(); u != lastUnderruns {
				e.bus.Publish(events.EventUnderrun, events.Payload{
					"total_frames": u,
					"new_frames":   u - lastUnderruns,
				})
				lastUnderruns = u
			}

		case <-checkpointTicker.C:
			e.checkpointPosition()
		}
	}
}

// handleTransition mirrors a mixer passage transition onto the queue.
func (e *Engine) handleTransition(t mixer.Transition) {
	switch t.Kind {
	case mixer.TransitionStarted:
		e.bus.Publish(events.EventPassageStarted, events.Payload{
			"queue_entry_id": t.QueueEntryID.String(),
		})

	case mixer.TransitionCompleted, mixer.TransitionFailed:
		eventType := events.EventPassageCompleted
		if t.Kind == mixer.TransitionFailed {
			eventType = events.EventPassageFailed
		}
		e.bus.Publish(eventType, events.Payload{
			"queue_entry_id": t.QueueEntryID.String(),
		})

		// The mixer already promoted its next stream; advance the queue
		// to match, release the retired buffer and start the decoder for
		// the incoming next.
		current := e.qm.Current()
		if current != nil && current.QueueEntryID == t.QueueEntryID {
			e.qm.Advance()
		}
		e.releaseRuntime(t.QueueEntryID)

		if next := e.qm.Next(); next != nil {
			rt := e.ensureRuntime(*next, decode.PriorityNext)
			e.mix.SetNext(next, rt.buf, rt.fader)
		} else {
			e.mix.SetNext(nil, nil, nil)
		}
		if queued := e.qm.Queued(); len(queued) > 0 {
			e.ensureRuntime(queued[0], decode.PriorityPrefetch)
		}

		if cur := e.qm.Current(); cur != nil {
			id := cur.QueueEntryID
			_ = e.settings.SaveLastQueueEntry(&id)
		} else {
			_ = e.settings.SaveLastQueueEntry(nil)
		}
		e.publishQueueChanged()
	}
}

// publishPosition emits a PositionUpdate and checks the song timeline.
func (e *Engine) publishPosition() {
	id, frames, ok := e.mix.Position()
	if !ok {
		return
	}

	current := e.qm.Current()
	if current == nil || current.QueueEntryID != id {
		return
	}

	positionTick := current.Passage.StartTick + timing.SamplesToTicks(frames, WorkingSampleRate)

	e.bus.Publish(events.EventPositionUpdate, events.Payload{
		"queue_entry_id": id.String(),
		"position_ticks": positionTick,
		"position_ms":    timing.TicksToMs(positionTick),
	})

	e.mu.Lock()
	timeline := e.timelines[id]
	e.mu.Unlock()
	if timeline != nil {
		if crossed, songID := timeline.CheckBoundary(positionTick); crossed {
			payload := events.Payload{
				"queue_entry_id": id.String(),
				"position_ticks": positionTick,
			}
			if songID != nil {
				payload["song_id"] = songID.String()
			}
			e.bus.Publish(events.EventSongBoundaryCrossed, payload)
		}
	}
}

// checkpointPosition persists position and queue pointer.
func (e *Engine) checkpointPosition() {
	id, frames, ok := e.mix.Position()
	if !ok {
		return
	}
	current := e.qm.Current()
	if current == nil || current.QueueEntryID != id {
		return
	}
	positionTick := current.Passage.StartTick + timing.SamplesToTicks(frames, WorkingSampleRate)
	if err := e.settings.SavePosition(positionTick); err != nil {
		e.logger.Warn().Err(err).Msg("position checkpoint failed")
	}
	entryID := current.QueueEntryID
	_ = e.settings.SaveLastQueueEntry(&entryID)
}

func (e *Engine) publishQueueChanged() {
	e.bus.Publish(events.EventQueueChanged, events.Payload{"length": e.qm.Len()})
}
