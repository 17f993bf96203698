/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"github.com/google/uuid"

	"github.com/friendsincode/melisma/internal/queue"
	"github.com/friendsincode/melisma/internal/timing"
)

// QueueEntryView is the external shape of a queue entry.
type QueueEntryView struct {
	QueueEntryID string `json:"queue_entry_id"`
	FilePath     string `json:"file_path"`
	Slot         string `json:"slot"`
	StartTick    int64  `json:"start_ticks"`
	EndTick      *int64 `json:"end_ticks,omitempty"`
	PlayOrder    int64  `json:"play_order"`
}

// StateView summarizes playback for the control surface.
type StateView struct {
	DeviceState    string  `json:"device_state"`
	Playing        bool    `json:"playing"`
	Volume         float64 `json:"volume"`
	QueueLength    int     `json:"queue_length"`
	CurrentEntryID string  `json:"current_entry_id,omitempty"`
	CurrentState   string  `json:"current_state,omitempty"`
	Underruns      uint64  `json:"underruns"`
	FramesOutput   uint64  `json:"frames_output"`
}

// PositionView reports the position within the current passage.
type PositionView struct {
	QueueEntryID  string `json:"queue_entry_id"`
	PositionTicks int64  `json:"position_ticks"`
	PositionMs    int64  `json:"position_ms"`
}

// BufferView reports one ring buffer's fill state.
type BufferView struct {
	QueueEntryID   string `json:"queue_entry_id"`
	Slot           string `json:"slot"`
	State          string `json:"state"`
	OccupiedFrames int    `json:"occupied_frames"`
	CapacityFrames int    `json:"capacity_frames"`
	Completed      bool   `json:"completed"`
}

// Queue returns the ordered queue snapshot.
func (e *Engine) Queue() []QueueEntryView {
	var out []QueueEntryView

	add := func(entry *queue.Entry, slot string) {
		if entry == nil {
			return
		}
		out = append(out, QueueEntryView{
			QueueEntryID: entry.QueueEntryID.String(),
			FilePath:     entry.Passage.FilePath,
			Slot:         slot,
			StartTick:    entry.Passage.StartTick,
			EndTick:      entry.Passage.EndTick,
			PlayOrder:    entry.PlayOrder,
		})
	}

	add(e.qm.Current(), "current")
	add(e.qm.Next(), "next")
	for _, entry := range e.qm.Queued() {
		q := entry
		add(&q, "queued")
	}
	return out
}

// State returns the playback state snapshot.
func (e *Engine) State() StateView {
	snap := e.mix.State()
	view := StateView{
		DeviceState:  e.driver.State().String(),
		Playing:      e.driver.IsPlaying(),
		Volume:       e.mix.Volume(),
		QueueLength:  e.qm.Len(),
		Underruns:    snap.Underruns,
		FramesOutput: e.driver.FramesOutput(),
	}
	if snap.CurrentEntryID != nil {
		view.CurrentEntryID = snap.CurrentEntryID.String()
		view.CurrentState = snap.CurrentState.String()
	}
	return view
}

// Position returns the current passage position, or false when idle.
func (e *Engine) Position() (PositionView, bool) {
	id, frames, ok := e.mix.Position()
	if !ok {
		return PositionView{}, false
	}
	current := e.qm.Current()
	if current == nil || current.QueueEntryID != id {
		return PositionView{}, false
	}
	tick := current.Passage.StartTick + timing.SamplesToTicks(frames, WorkingSampleRate)
	return PositionView{
		QueueEntryID:  id.String(),
		PositionTicks: tick,
		PositionMs:    timing.TicksToMs(tick),
	}, true
}

// Buffers returns the fill state of the active ring buffers.
func (e *Engine) Buffers() []BufferView {
	var out []BufferView
	snap := e.mix.State()

	appendBuf := func(id string, slot, state string) {
		uid, err := uuid.Parse(id)
		if err != nil {
			return
		}
		e.mu.Lock()
		rt, ok := e.runtimes[uid]
		e.mu.Unlock()
		if !ok {
			return
		}
		out = append(out, BufferView{
			QueueEntryID:   id,
			Slot:           slot,
			State:          state,
			OccupiedFrames: rt.buf.Occupied(),
			CapacityFrames: rt.buf.Capacity(),
			Completed:      rt.buf.IsComplete(),
		})
	}

	if snap.CurrentEntryID != nil {
		appendBuf(snap.CurrentEntryID.String(), "current", snap.CurrentState.String())
	}
	if snap.NextEntryID != nil {
		appendBuf(snap.NextEntryID.String(), "next", snap.NextState.String())
	}
	return out
}
